// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/via-fydp/Basestation-SW/pkg/link"
	"github.com/via-fydp/Basestation-SW/pkg/rigproto"
	"github.com/via-fydp/Basestation-SW/pkg/rigstate"
)

var (
	rawLogFake          bool
	rawLogStatsInterval int
)

var rawLogCmd = &cobra.Command{
	Use:   "raw_log",
	Short: "Display decoded controller lines as they arrive",
	Long: `Continuously decode and display controller lines as they arrive.

Each line is shown with a timestamp, its kind and its decoded fields.
Unrecognized lines are shown verbatim with the reason they were rejected.
The link reconnects on its own when the controller goes away.

Supports both serial and WebSocket connections.`,
	RunE: runRawLog,
}

func init() {
	rootCmd.AddCommand(rawLogCmd)
	rawLogCmd.Flags().BoolVar(&rawLogFake, "fake", false, "Use a simulated controller")
	rawLogCmd.Flags().IntVar(&rawLogStatsInterval, "stats-interval", 0, "Statistics display interval in seconds (0 = off)")
}

// linePrinter prints every line it receives and keeps statistics
type linePrinter struct {
	mu    sync.Mutex
	out   io.Writer
	stats *rigproto.Statistics
}

func newLinePrinter(out io.Writer) *linePrinter {
	return &linePrinter{out: out, stats: rigproto.NewStatistics()}
}

func (p *linePrinter) HandleLine(line string) {
	text := rigproto.TrimLine(line)
	if text == "" {
		return
	}
	sig := rigproto.Decode(text)

	p.mu.Lock()
	defer p.mu.Unlock()
	p.stats.Update(sig)
	fmt.Fprint(p.out, rigproto.FormatSignal(sig, time.Now()))
}

func (p *linePrinter) printStats(session *link.Session) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stats.ReadErrors = session.ReadErrors()
	p.stats.Reconnects = session.Reconnects()
	fmt.Fprintf(p.out, "\n%s\n", p.stats)
}

func runRawLog(cmd *cobra.Command, args []string) error {
	cfg, log, err := setup(cmd, "")
	if err != nil {
		return err
	}
	defer log.Close()

	dial, err := NewDialer(cfg.Link, rawLogFake)
	if err != nil {
		return err
	}

	printer := newLinePrinter(os.Stdout)
	session := link.NewSession(cfg.Manager().Link, dial, printer, rigstate.NewCommandQueue(), log.With("component", "link"))

	fmt.Printf("Basestation - Raw Line Log\n")
	fmt.Printf("Connection: %s\n", connectionInfo(cfg.Link, rawLogFake))
	fmt.Printf("Press Ctrl+C to exit\n\n")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if rawLogStatsInterval > 0 {
		go func() {
			ticker := time.NewTicker(time.Duration(rawLogStatsInterval) * time.Second)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					printer.printStats(session)
				}
			}
		}()
	}

	err = session.Run(ctx)
	printer.printStats(session)
	return err
}
