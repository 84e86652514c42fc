// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package rigproto

import (
	"fmt"
	"time"
)

// FormatSignal formats a decoded signal into a human-readable line
func FormatSignal(s Signal, at time.Time) string {
	timestamp := at.Format("15:04:05.000")
	result := fmt.Sprintf("[%s] %-12s ", timestamp, s.Kind())

	switch sig := s.(type) {
	case Pressure:
		fault := "ok"
		if sig.Fault {
			fault = "FAULT"
		}
		result += fmt.Sprintf("sensor=%s flag=%s p1=%g p2=%g delta=%g",
			sig.SensorID, fault, sig.P1, sig.P2, absDiff(sig.P1, sig.P2))

	case Battery:
		charging := "no"
		if sig.Charging {
			charging = "yes"
		}
		result += fmt.Sprintf("device=%s value=%s charging=%s", sig.DeviceID, sig.Value, charging)

	case Ack:
		result += fmt.Sprintf("payload=%q", sig.Payload)

	case Nack:
		result += fmt.Sprintf("payload=%q", sig.Payload)

	case Unrecognized:
		result += fmt.Sprintf("%q (%v)", sig.Raw(), sig.Reason)
	}

	return result + "\n"
}

func absDiff(a, b float64) float64 {
	if a > b {
		return a - b
	}
	return b - a
}
