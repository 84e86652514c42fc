// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad
//
// Basestation - Pneumatic Test Rig Link Service
//
// Keeps the serial or WebSocket link to the rig controller alive, tracks
// pressure sensor faults and battery levels, and relays operator commands.

package main

import (
	"os"

	"github.com/via-fydp/Basestation-SW/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
