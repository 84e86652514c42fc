// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/via-fydp/Basestation-SW/internal/telemetry"
	"github.com/via-fydp/Basestation-SW/pkg/link"
)

var runFake bool

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the basestation service",
	Long: `Run the basestation as a long-lived service.

The link to the controller is kept alive and re-established after failures.
When enabled in the configuration, snapshots are published to MQTT (and
commands accepted from the command topic) and every reading is written to
InfluxDB. Stops cleanly on SIGINT or SIGTERM.`,
	RunE: runService,
}

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().BoolVar(&runFake, "fake", false, "Use a simulated controller")
}

func runService(cmd *cobra.Command, args []string) error {
	cfg, log, err := setup(cmd, "")
	if err != nil {
		return err
	}
	defer log.Close()

	mgr, err := newManager(cfg, log, runFake)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.InfluxDB.Enabled {
		recorder, err := telemetry.ConnectInflux(ctx, cfg.InfluxDB, log.With("component", "influxdb"))
		if err != nil {
			return err
		}
		defer recorder.Close()
		mgr.AddSink(recorder)
	}

	var publisher *telemetry.Publisher
	if cfg.MQTT.Enabled {
		publisher, err = telemetry.ConnectMQTT(cfg.MQTT, mgr, log.With("component", "mqtt"))
		if err != nil {
			return err
		}
		defer publisher.Close()
	}

	mgr.OnStateChange(func(s link.State) {
		log.Info("link state changed", "state", s)
	})

	log.Info("basestation starting", "connection", connectionInfo(cfg.Link, runFake))
	start := time.Now()

	var wg sync.WaitGroup
	errc := make(chan error, 2)

	wg.Add(1)
	go func() {
		defer wg.Done()
		errc <- mgr.Run(ctx)
	}()

	if publisher != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errc <- publisher.Run(ctx)
		}()
	}

	wg.Wait()
	close(errc)

	var errs []error
	for err := range errc {
		if err != nil {
			errs = append(errs, err)
		}
	}

	stats := mgr.Stats()
	log.Info("basestation stopped",
		"uptime", time.Since(start).Round(time.Second),
		"lines", stats.TotalLines,
		"unrecognized", stats.Unrecognized,
		"reconnects", stats.Reconnects)

	return errors.Join(errs...)
}
