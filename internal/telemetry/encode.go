// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package telemetry exports device manager state to an MQTT broker and an
// InfluxDB bucket.
package telemetry

import (
	"encoding/json"
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/via-fydp/Basestation-SW/internal/config"
)

// Encoder serializes a payload
type Encoder func(v any) ([]byte, error)

// NewEncoder returns the encoder for a configured encoding name
func NewEncoder(encoding string) (Encoder, error) {
	switch encoding {
	case config.EncodingJSON, "":
		return json.Marshal, nil
	case config.EncodingCBOR:
		em, err := cbor.EncOptions{
			Time:          cbor.TimeRFC3339Nano,
			TextMarshaler: cbor.TextMarshalerTextString,
		}.EncMode()
		if err != nil {
			return nil, fmt.Errorf("cbor encoder: %w", err)
		}
		return em.Marshal, nil
	default:
		return nil, fmt.Errorf("unsupported encoding %q", encoding)
	}
}
