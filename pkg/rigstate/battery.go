// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package rigstate

import "sync"

// BatteryReading is the last reported charge of a device.
// Value is kept exactly as the controller sent it.
type BatteryReading struct {
	Value    string `json:"value" cbor:"value"`
	Charging bool   `json:"charging" cbor:"charging"`
}

// BatteryStore holds the latest battery reading per device (last write wins)
type BatteryStore struct {
	mu       sync.RWMutex
	readings map[string]BatteryReading
}

// NewBatteryStore creates an empty store
func NewBatteryStore() *BatteryStore {
	return &BatteryStore{readings: make(map[string]BatteryReading)}
}

// Ingest overwrites the reading for a device
func (s *BatteryStore) Ingest(id, value string, charging bool) {
	s.mu.Lock()
	s.readings[id] = BatteryReading{Value: value, Charging: charging}
	s.mu.Unlock()
}

// Snapshot returns a copy of all readings keyed by raw device id
func (s *BatteryStore) Snapshot() map[string]BatteryReading {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]BatteryReading, len(s.readings))
	for id, r := range s.readings {
		out[id] = r
	}
	return out
}
