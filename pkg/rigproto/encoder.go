// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package rigproto

// EncodeCommand returns the wire form of a control command: the literal
// payload followed by the line terminator. No other framing is applied.
func EncodeCommand(cmd string) []byte {
	out := make([]byte, 0, len(cmd)+1)
	out = append(out, cmd...)
	return append(out, LineTerminator)
}
