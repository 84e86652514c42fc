// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package rigproto

import "errors"

var (
	// ErrUnknownKind is the reason for a line whose signal word is not recognized.
	ErrUnknownKind = errors.New("rigproto: unknown signal kind")

	// ErrMalformed is the reason for a known signal with bad arity or field values.
	ErrMalformed = errors.New("rigproto: malformed signal")
)
