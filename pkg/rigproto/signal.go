// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package rigproto

// Signal is one decoded line of the controller protocol.
// The set of implementations is closed: Pressure, Battery, Ack, Nack and
// Unrecognized.
type Signal interface {
	Kind() Kind
	Raw() string
	signal()
}

// Pressure is a reading from a redundant sensor pair on a WPSU
type Pressure struct {
	SensorID string
	Fault    bool
	P1       float64
	P2       float64
	raw      string
}

// Battery is a charge report from a battery-powered device
type Battery struct {
	DeviceID string
	Value    string // verbatim, known to be numeric
	Charging bool
	raw      string
}

// Ack acknowledges a previously sent command
type Ack struct {
	Payload string
	raw     string
}

// Nack rejects a previously sent command
type Nack struct {
	Payload string
	raw     string
}

// Unrecognized is any line that could not be decoded.
// Reason wraps ErrUnknownKind or ErrMalformed.
type Unrecognized struct {
	Reason error
	raw    string
}

func (s Pressure) Kind() Kind     { return KindPressure }
func (s Battery) Kind() Kind      { return KindBattery }
func (s Ack) Kind() Kind          { return KindAck }
func (s Nack) Kind() Kind         { return KindNack }
func (s Unrecognized) Kind() Kind { return KindUnknown }

func (s Pressure) Raw() string     { return s.raw }
func (s Battery) Raw() string      { return s.raw }
func (s Ack) Raw() string          { return s.raw }
func (s Nack) Raw() string         { return s.raw }
func (s Unrecognized) Raw() string { return s.raw }

func (Pressure) signal()     {}
func (Battery) signal()      {}
func (Ack) signal()          {}
func (Nack) signal()         {}
func (Unrecognized) signal() {}
