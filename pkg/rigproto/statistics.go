// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package rigproto

import (
	"fmt"
	"time"
)

// Statistics tracks line counts and link error rates.
// It is not safe for concurrent use; owners must guard it.
type Statistics struct {
	StartTime      time.Time
	LastUpdateTime time.Time

	// Counters
	TotalLines   uint64
	Pressure     uint64
	Battery      uint64
	Acks         uint64
	Nacks        uint64
	Unrecognized uint64
	ReadErrors   uint64
	Reconnects   uint64

	// Rates (calculated)
	LineRate  float64 // lines/sec
	ErrorRate float64 // errors/sec
}

// NewStatistics creates a new statistics tracker
func NewStatistics() *Statistics {
	now := time.Now()
	return &Statistics{
		StartTime:      now,
		LastUpdateTime: now,
	}
}

// Update counts one decoded line
func (s *Statistics) Update(sig Signal) {
	s.TotalLines++

	switch sig.Kind() {
	case KindPressure:
		s.Pressure++
	case KindBattery:
		s.Battery++
	case KindAck:
		s.Acks++
	case KindNack:
		s.Nacks++
	default:
		s.Unrecognized++
	}

	s.LastUpdateTime = time.Now()
}

// CalculateRates calculates line and error rates
func (s *Statistics) CalculateRates() {
	elapsed := time.Since(s.StartTime).Seconds()
	if elapsed > 0 {
		s.LineRate = float64(s.TotalLines) / elapsed
		s.ErrorRate = float64(s.Unrecognized+s.ReadErrors) / elapsed
	}
}

// String returns a formatted statistics summary
func (s *Statistics) String() string {
	s.CalculateRates()

	var recognizedPercent, unrecognizedPercent float64
	if s.TotalLines > 0 {
		recognized := s.TotalLines - s.Unrecognized
		recognizedPercent = float64(recognized) * 100.0 / float64(s.TotalLines)
		unrecognizedPercent = float64(s.Unrecognized) * 100.0 / float64(s.TotalLines)
	}

	elapsed := time.Since(s.StartTime)

	result := fmt.Sprintf("=== Statistics (%.0f seconds) ===\n", elapsed.Seconds())
	result += fmt.Sprintf("Total Lines:     %8d\n", s.TotalLines)
	result += fmt.Sprintf("Recognized:      %8d (%.1f%%)\n", s.TotalLines-s.Unrecognized, recognizedPercent)
	result += fmt.Sprintf("  Pressure:         %5d\n", s.Pressure)
	result += fmt.Sprintf("  Battery:          %5d\n", s.Battery)
	if s.Acks > 0 || s.Nacks > 0 {
		result += fmt.Sprintf("  Ack/Nack:         %5d/%d\n", s.Acks, s.Nacks)
	}
	if s.Unrecognized > 0 {
		result += fmt.Sprintf("Unrecognized:    %8d (%.1f%%)\n", s.Unrecognized, unrecognizedPercent)
	}
	if s.ReadErrors > 0 {
		result += fmt.Sprintf("Read Errors:     %8d\n", s.ReadErrors)
	}
	if s.Reconnects > 0 {
		result += fmt.Sprintf("Reconnects:      %8d\n", s.Reconnects)
	}

	result += fmt.Sprintf("Line Rate:       %8.1f lines/sec\n", s.LineRate)
	result += fmt.Sprintf("Error Rate:      %8.1f errors/sec\n", s.ErrorRate)
	result += "================================\n"

	return result
}
