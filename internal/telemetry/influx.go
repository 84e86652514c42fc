// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package telemetry

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/via-fydp/Basestation-SW/internal/config"
	"github.com/via-fydp/Basestation-SW/pkg/devicemgr"
	"github.com/via-fydp/Basestation-SW/pkg/rigstate"
)

const defaultPingTimeout = 10 * time.Second

// ErrInfluxUnavailable is returned when the InfluxDB server fails its ping
var ErrInfluxUnavailable = errors.New("influxdb: connection failed")

// Recorder writes pressure and battery samples to InfluxDB.
// It implements devicemgr.Sink; writes are batched and never block.
type Recorder struct {
	client   influxdb2.Client
	writeAPI api.WriteAPI
	log      Logger
}

// ConnectInflux pings the server and opens a batching write API
func ConnectInflux(ctx context.Context, cfg config.InfluxDBConfig, log Logger) (*Recorder, error) {
	opts := influxdb2.DefaultOptions()
	if cfg.BatchSize > 0 {
		opts.SetBatchSize(uint(cfg.BatchSize))
	}
	if cfg.FlushInterval > 0 {
		opts.SetFlushInterval(uint(cfg.FlushInterval / time.Millisecond))
	}

	client := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token, opts)

	pingCtx, cancel := context.WithTimeout(ctx, defaultPingTimeout)
	defer cancel()

	healthy, err := client.Ping(pingCtx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: ping failed: %w", ErrInfluxUnavailable, err)
	}
	if !healthy {
		client.Close()
		return nil, fmt.Errorf("%w: server not healthy", ErrInfluxUnavailable)
	}

	r := &Recorder{
		client:   client,
		writeAPI: client.WriteAPI(cfg.Org, cfg.Bucket),
		log:      log,
	}
	go r.handleWriteErrors(r.writeAPI.Errors())

	return r, nil
}

func (r *Recorder) handleWriteErrors(errorsCh <-chan error) {
	for err := range errorsCh {
		r.log.Warn("influxdb write failed", "error", err)
	}
}

// RecordPressure implements devicemgr.Sink
func (r *Recorder) RecordPressure(s devicemgr.PressureSample) {
	r.writeAPI.WritePoint(pressurePoint(s))
}

// RecordBattery implements devicemgr.Sink
func (r *Recorder) RecordBattery(s devicemgr.BatterySample) {
	r.writeAPI.WritePoint(batteryPoint(s))
}

// Close flushes pending points and closes the client
func (r *Recorder) Close() error {
	r.writeAPI.Flush()
	r.client.Close()
	return nil
}

func pressurePoint(s devicemgr.PressureSample) *write.Point {
	fields := map[string]interface{}{
		"valid": s.Reading.Status == rigstate.StatusValid,
	}
	if s.Reading.Status == rigstate.StatusValid {
		fields["value"] = s.Reading.Value
	}

	return write.NewPoint(
		"pressure",
		map[string]string{
			"sensor_id": s.SensorID,
			"label":     s.Label,
			"status":    s.Reading.Status.String(),
		},
		fields,
		s.At,
	)
}

func batteryPoint(s devicemgr.BatterySample) *write.Point {
	fields := map[string]interface{}{
		"charging": s.Reading.Charging,
	}
	if v, err := strconv.ParseFloat(s.Reading.Value, 64); err == nil {
		fields["value"] = v
	}

	return write.NewPoint(
		"battery",
		map[string]string{
			"device_id": s.DeviceID,
			"label":     s.Label,
		},
		fields,
		s.At,
	)
}
