// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/via-fydp/Basestation-SW/pkg/link"
	"github.com/via-fydp/Basestation-SW/pkg/rigproto"
)

var (
	probeTimeout int
	probeFake    bool
)

var probeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Test connection by waiting for a recognized controller line",
	Long: `Wait for a recognized controller line on the connection until timeout.

This command connects to a serial port or WebSocket and waits for any line
that decodes as a pressure, battery, ack or nack signal. Unrecognized lines
are counted and ignored.

Exit codes:
  0 - Signal received before timeout
  1 - Timeout reached without receiving a recognized signal
  2 - Connection error`,
	RunE: runProbe,
}

func init() {
	rootCmd.AddCommand(probeCmd)
	probeCmd.Flags().IntVar(&probeTimeout, "timeout", 10, "Timeout in seconds to wait for a signal")
	probeCmd.Flags().BoolVar(&probeFake, "fake", false, "Use a simulated controller")
}

// waitForSignal reads lines from port until one decodes as a known signal.
// It returns the signal and the number of unrecognized lines skipped.
func waitForSignal(ctx context.Context, port link.Port) (rigproto.Signal, int, error) {
	lines := link.NewLineReader(port)
	skipped := 0

	for {
		if err := ctx.Err(); err != nil {
			return nil, skipped, err
		}

		line, err := lines.ReadLine()
		if err != nil {
			if err := recoverRead(port, lines, err); err != nil {
				return nil, skipped, err
			}
			continue
		}

		text := rigproto.TrimLine(line)
		if text == "" {
			continue
		}
		sig := rigproto.Decode(text)
		if _, ok := sig.(rigproto.Unrecognized); ok {
			skipped++
			continue
		}
		return sig, skipped, nil
	}
}

func runProbe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		os.Exit(2)
	}

	dial, err := NewDialer(cfg.Link, probeFake)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}

	timeout := time.Duration(probeTimeout) * time.Second
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	port, connInfo, err := dial(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}
	defer port.Close()

	if err := port.SetReadTimeout(cfg.Link.ReadTimeout); err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}

	fmt.Printf("Basestation - Probe\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Timeout: %d seconds\n", probeTimeout)
	fmt.Printf("Waiting for a recognized signal...\n\n")

	sig, skipped, err := waitForSignal(ctx, port)
	switch {
	case err == nil:
		fmt.Print(rigproto.FormatSignal(sig, time.Now()))
		if skipped > 0 {
			fmt.Printf("(skipped %d unrecognized lines)\n", skipped)
		}
		fmt.Printf("\nSUCCESS: %s signal received\n", sig.Kind())
		os.Exit(0)
	case ctx.Err() != nil:
		fmt.Printf("TIMEOUT: No recognized signal received within %d seconds", probeTimeout)
		if skipped > 0 {
			fmt.Printf(" (%d unrecognized lines)", skipped)
		}
		fmt.Println()
		os.Exit(1)
	default:
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}
	return nil
}
