// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package rigproto

// Line Framing
const (
	FieldSeparator = "_"
	LineTerminator = '\n'
)

// Signal Words (first field of every line)
const (
	WordPressure = "pressure"
	WordBattery  = "battery"
	WordAck      = "ack"
	WordNack     = "nack"
)

// Field counts including the signal word
const (
	pressureFields = 5
	batteryFields  = 5
)

// Kind identifies the decoded signal variant
type Kind uint8

const (
	KindUnknown Kind = iota
	KindPressure
	KindBattery
	KindAck
	KindNack
)

// String returns the signal word for the kind
func (k Kind) String() string {
	switch k {
	case KindPressure:
		return "PRESSURE"
	case KindBattery:
		return "BATTERY"
	case KindAck:
		return "ACK"
	case KindNack:
		return "NACK"
	default:
		return "UNRECOGNIZED"
	}
}

// MarshalText renders the kind by name in text encodings
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}
