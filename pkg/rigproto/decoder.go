// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package rigproto

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// TrimLine strips the line terminator (and a carriage return, if the
// controller sends CRLF) from a raw line
func TrimLine(line string) string {
	return strings.TrimRight(line, "\r\n")
}

// Decode classifies a single protocol line.
// Decoding never fails: anything that is not a well-formed signal comes back
// as Unrecognized with the reason attached.
func Decode(line string) Signal {
	line = TrimLine(line)

	word, rest, found := strings.Cut(line, FieldSeparator)

	switch word {
	case WordPressure:
		return decodePressure(line)

	case WordBattery:
		return decodeBattery(line)

	case WordAck:
		if !found {
			return malformed(line, "ack without payload separator")
		}
		return Ack{Payload: rest, raw: line}

	case WordNack:
		if !found {
			return malformed(line, "nack without payload separator")
		}
		return Nack{Payload: rest, raw: line}

	default:
		return Unrecognized{
			Reason: fmt.Errorf("%w: %q", ErrUnknownKind, word),
			raw:    line,
		}
	}
}

// pressure_<sensorId>_<faultFlag>_<p1>_<p2>
func decodePressure(line string) Signal {
	fields := strings.Split(line, FieldSeparator)
	if len(fields) != pressureFields {
		return malformed(line, fmt.Sprintf("pressure expects %d fields, got %d", pressureFields, len(fields)))
	}
	if fields[1] == "" {
		return malformed(line, "empty sensor id")
	}

	fault, err := parseFlag(fields[2])
	if err != nil {
		return malformed(line, fmt.Sprintf("fault flag: %v", err))
	}
	p1, err := parseNumber(fields[3])
	if err != nil {
		return malformed(line, fmt.Sprintf("p1: %v", err))
	}
	p2, err := parseNumber(fields[4])
	if err != nil {
		return malformed(line, fmt.Sprintf("p2: %v", err))
	}

	return Pressure{
		SensorID: fields[1],
		Fault:    fault,
		P1:       p1,
		P2:       p2,
		raw:      line,
	}
}

// battery_<deviceId>_<value>_<reserved>_<chargingFlag>
func decodeBattery(line string) Signal {
	fields := strings.Split(line, FieldSeparator)
	if len(fields) != batteryFields {
		return malformed(line, fmt.Sprintf("battery expects %d fields, got %d", batteryFields, len(fields)))
	}
	if fields[1] == "" {
		return malformed(line, "empty device id")
	}
	if _, err := parseNumber(fields[2]); err != nil {
		return malformed(line, fmt.Sprintf("value: %v", err))
	}

	charging, err := parseFlag(fields[4])
	if err != nil {
		return malformed(line, fmt.Sprintf("charging flag: %v", err))
	}

	return Battery{
		DeviceID: fields[1],
		Value:    fields[2],
		Charging: charging,
		raw:      line,
	}
}

// parseFlag accepts any integer; non-zero is true
func parseFlag(s string) (bool, error) {
	n, err := strconv.Atoi(s)
	if err != nil {
		return false, fmt.Errorf("not an integer: %q", s)
	}
	return n != 0, nil
}

func parseNumber(s string) (float64, error) {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("not a number: %q", s)
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("not finite: %q", s)
	}
	return v, nil
}

func malformed(line, detail string) Unrecognized {
	return Unrecognized{
		Reason: fmt.Errorf("%w: %s", ErrMalformed, detail),
		raw:    line,
	}
}
