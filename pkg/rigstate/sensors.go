// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package rigstate

import (
	"encoding/json"
	"math"
	"sync"

	"github.com/fxamacker/cbor/v2"
)

// Defaults used by the embedded controller firmware
const (
	// DefaultFaultThreshold is the number of failed readings tolerated before
	// a sensor is pinned to Fault until the next restart.
	DefaultFaultThreshold = 5

	// DefaultPressureTolerance is the allowed disagreement between the two
	// sensors of a pair, in milli-psi.
	DefaultPressureTolerance = 300
)

// Status classifies a pressure reading
type Status uint8

const (
	StatusValid Status = iota
	StatusError
	StatusFault
)

// String returns the wire name of the status
func (s Status) String() string {
	switch s {
	case StatusValid:
		return "VALID"
	case StatusError:
		return "ERR"
	case StatusFault:
		return "FAULT"
	default:
		return "UNKNOWN"
	}
}

// PressureReading is the latest validated state of one sensor pair.
// Value is only meaningful when Status is StatusValid.
type PressureReading struct {
	Status Status
	Value  float64
}

// Valid returns a valid reading with the given averaged value
func Valid(v float64) PressureReading {
	return PressureReading{Status: StatusValid, Value: v}
}

// wire returns the value published to clients: the number for a valid
// reading, otherwise "ERR" or "FAULT"
func (r PressureReading) wire() any {
	if r.Status == StatusValid {
		return r.Value
	}
	return r.Status.String()
}

// MarshalJSON renders valid readings as numbers and the rest as status strings
func (r PressureReading) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.wire())
}

// MarshalCBOR renders the same shape as MarshalJSON
func (r PressureReading) MarshalCBOR() ([]byte, error) {
	return cbor.Marshal(r.wire())
}

// SensorStore holds the latest reading and the cumulative fault count of
// every pressure sensor. Counter and reading for a sensor always change
// together under one lock.
type SensorStore struct {
	mu        sync.RWMutex
	threshold int
	tolerance float64
	readings  map[string]PressureReading
	faults    map[string]int
}

// NewSensorStore creates a store. A non-positive threshold or a negative
// tolerance selects the default. A tolerance of zero demands exact agreement.
func NewSensorStore(threshold int, tolerance float64) *SensorStore {
	if threshold <= 0 {
		threshold = DefaultFaultThreshold
	}
	if tolerance < 0 {
		tolerance = DefaultPressureTolerance
	}
	return &SensorStore{
		threshold: threshold,
		tolerance: tolerance,
		readings:  make(map[string]PressureReading),
		faults:    make(map[string]int),
	}
}

// Ingest applies one pressure signal and returns the stored classification.
//
// A sensor whose fault count already exceeds the threshold stays Fault and
// its count is not touched. Otherwise the fault flag or a disagreement larger
// than the tolerance is an Error, which increments the count; crossing the
// threshold on that increment escalates straight to Fault.
func (s *SensorStore) Ingest(id string, fault bool, p1, p2 float64) PressureReading {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.faults[id] > s.threshold {
		s.readings[id] = PressureReading{Status: StatusFault}
		return s.readings[id]
	}

	reading := classify(fault, p1, p2, s.tolerance)

	if reading.Status == StatusError {
		s.faults[id]++
		if s.faults[id] > s.threshold {
			reading = PressureReading{Status: StatusFault}
		}
	}

	s.readings[id] = reading
	return reading
}

func classify(fault bool, p1, p2, tolerance float64) PressureReading {
	if fault {
		return PressureReading{Status: StatusError}
	}
	if math.Abs(p1-p2) > tolerance {
		return PressureReading{Status: StatusError}
	}
	return Valid((p1 + p2) / 2)
}

// Reading returns the latest reading for one sensor
func (s *SensorStore) Reading(id string) (PressureReading, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.readings[id]
	return r, ok
}

// Snapshot returns a copy of all readings keyed by raw sensor id
func (s *SensorStore) Snapshot() map[string]PressureReading {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]PressureReading, len(s.readings))
	for id, r := range s.readings {
		out[id] = r
	}
	return out
}

// FaultCount returns the cumulative fault count of one sensor
func (s *SensorStore) FaultCount(id string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.faults[id]
}

// FaultCounts returns a copy of all non-zero fault counts
func (s *SensorStore) FaultCounts() map[string]int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]int, len(s.faults))
	for id, n := range s.faults {
		out[id] = n
	}
	return out
}

// Threshold returns the configured fault threshold
func (s *SensorStore) Threshold() int {
	return s.threshold
}
