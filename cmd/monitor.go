// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/via-fydp/Basestation-SW/pkg/link"
)

var monitorFake bool

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Interactive sensor monitor and command console",
	Long: `Interactive terminal view of the test rig.

Shows every pressure sensor with its reading and fault count, battery levels,
the link state and the most recent controller lines. Commands typed into the
command box are queued and sent to the controller in order.

Keys:
  Tab        switch between sensor list and command box
  Enter      queue the typed command
  q, Ctrl+C  quit

Logs go only to logging.file while the monitor is open.`,
	RunE: runMonitor,
}

func init() {
	rootCmd.AddCommand(monitorCmd)
	monitorCmd.Flags().BoolVar(&monitorFake, "fake", false, "Use a simulated controller")
}

func runMonitor(cmd *cobra.Command, args []string) error {
	cfg, log, err := setup(cmd, "none")
	if err != nil {
		return err
	}
	defer log.Close()

	mgr, err := newManager(cfg, log, monitorFake)
	if err != nil {
		return err
	}

	m := initialMonitorModel(mgr, connectionInfo(cfg.Link, monitorFake))
	p := tea.NewProgram(m, tea.WithAltScreen())

	mgr.OnStateChange(func(s link.State) {
		p.Send(linkStateMsg{state: s})
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- mgr.Run(ctx)
	}()

	_, tuiErr := p.Run()
	cancel()
	runErr := <-done

	if tuiErr != nil {
		return fmt.Errorf("TUI error: %v", tuiErr)
	}
	return runErr
}
