// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"os"
	"sync/atomic"
	"time"

	"github.com/spf13/cobra"

	"github.com/via-fydp/Basestation-SW/pkg/link"
	"github.com/via-fydp/Basestation-SW/pkg/rigstate"
)

var (
	soakDuration int
	soakFake     bool
)

var soakCmd = &cobra.Command{
	Use:   "soak",
	Short: "Test link stability over a period of time",
	Long: `Hold the link to the controller open and report on its stability.

Lines are counted but not decoded. Every drop and reconnect is reported as it
happens. The test passes when the link came up and never dropped.

Exit codes:
  0 - Link stayed up for the whole test
  1 - Link never came up, or dropped at least once`,
	RunE: runSoak,
}

func init() {
	rootCmd.AddCommand(soakCmd)
	soakCmd.Flags().IntVar(&soakDuration, "duration", 30, "Test duration in seconds")
	soakCmd.Flags().BoolVar(&soakFake, "fake", false, "Use a simulated controller")
}

// lineCounter counts lines and bytes without decoding them
type lineCounter struct {
	lines atomic.Uint64
	bytes atomic.Uint64
}

func (c *lineCounter) HandleLine(line string) {
	c.lines.Add(1)
	c.bytes.Add(uint64(len(line)) + 1)
}

// soakResult tracks link transitions during a soak test
type soakResult struct {
	connects atomic.Uint64
	drops    atomic.Uint64
}

func (r *soakResult) observe(s link.State) {
	now := time.Now().Format("15:04:05.000")
	switch s {
	case link.StateConnected:
		r.connects.Add(1)
		fmt.Printf("[%s] Connected\n", now)
	case link.StateDisconnected:
		if r.connects.Load() > r.drops.Load() {
			r.drops.Add(1)
			fmt.Printf("[%s] Link dropped\n", now)
		}
	}
}

// passed reports whether the link came up and stayed up
func (r *soakResult) passed() bool {
	return r.connects.Load() > 0 && r.drops.Load() == 0
}

func runSoak(cmd *cobra.Command, args []string) error {
	cfg, log, err := setup(cmd, "none")
	if err != nil {
		return err
	}
	defer log.Close()

	dial, err := NewDialer(cfg.Link, soakFake)
	if err != nil {
		return err
	}

	counter := &lineCounter{}
	result := &soakResult{}
	session := link.NewSession(cfg.Manager().Link, dial, counter, rigstate.NewCommandQueue(), log)

	fmt.Printf("Link Stability Test\n")
	fmt.Printf("Connection: %s\n", connectionInfo(cfg.Link, soakFake))
	fmt.Printf("Duration: %d seconds\n\n", soakDuration)

	deadline := time.Now().Add(time.Duration(soakDuration) * time.Second)
	ctx, cancel := context.WithDeadline(context.Background(), deadline)
	defer cancel()

	// Only transitions during the test window count as drops
	session.OnStateChange(func(s link.State) {
		if ctx.Err() == nil {
			result.observe(s)
		}
	})

	done := make(chan error, 1)
	go func() {
		done <- session.Run(ctx)
	}()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	var runErr error
loop:
	for {
		select {
		case runErr = <-done:
			break loop
		case <-ticker.C:
			fmt.Printf("[%s] %s, %d lines (%.0fs remaining)\n",
				time.Now().Format("15:04:05.000"), session.State(), counter.lines.Load(), time.Until(deadline).Seconds())
		}
	}

	fmt.Printf("\n--- Test Results ---\n")
	fmt.Printf("Duration: %d seconds\n", soakDuration)
	fmt.Printf("Lines received: %d\n", counter.lines.Load())
	fmt.Printf("Bytes received: %d\n", counter.bytes.Load())
	fmt.Printf("Drops: %d\n", result.drops.Load())
	fmt.Printf("Read errors: %d\n", session.ReadErrors())

	if runErr != nil {
		return runErr
	}

	if !result.passed() {
		fmt.Printf("Result: FAILED (link unstable)\n")
		os.Exit(1)
	}
	fmt.Printf("Result: PASSED (link stable)\n")
	return nil
}
