// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package devicemgr is the device manager service: it owns the link session
// and the rig state it feeds, and serves label-translated snapshots and
// command submission to its callers.
package devicemgr

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/via-fydp/Basestation-SW/pkg/labels"
	"github.com/via-fydp/Basestation-SW/pkg/link"
	"github.com/via-fydp/Basestation-SW/pkg/rigproto"
	"github.com/via-fydp/Basestation-SW/pkg/rigstate"
)

var (
	ErrNoRegistry = errors.New("devicemgr: label registry is required")
	ErrNoDialer   = errors.New("devicemgr: dialer is required")
)

// Logger is the logging surface the manager needs; *slog.Logger satisfies it
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Config holds the rig-state and link settings
type Config struct {
	Link              link.Config
	FaultThreshold    int
	PressureTolerance float64
	HistoryCapacity   int
}

// DefaultConfig returns the stock settings
func DefaultConfig() Config {
	return Config{
		Link:              link.DefaultConfig(),
		FaultThreshold:    rigstate.DefaultFaultThreshold,
		PressureTolerance: rigstate.DefaultPressureTolerance,
		HistoryCapacity:   rigstate.DefaultHistoryCapacity,
	}
}

// PressureSample is one sensor update delivered to sinks
type PressureSample struct {
	SensorID string
	Label    string
	Reading  rigstate.PressureReading
	At       time.Time
}

// BatterySample is one battery update delivered to sinks
type BatterySample struct {
	DeviceID string
	Label    string
	Reading  rigstate.BatteryReading
	At       time.Time
}

// Sink receives every store update. Calls happen on the reader goroutine
// and must not block.
type Sink interface {
	RecordPressure(s PressureSample)
	RecordBattery(s BatterySample)
}

// Manager is the device manager service
type Manager struct {
	log     Logger
	labels  *labels.Registry
	sensors *rigstate.SensorStore
	battery *rigstate.BatteryStore
	history *rigstate.History
	queue   *rigstate.CommandQueue
	session *link.Session

	statsMu sync.Mutex
	stats   *rigproto.Statistics

	sinks []Sink
}

// New creates a manager. The session is not started until Run.
func New(cfg Config, reg *labels.Registry, dial link.Dialer, log Logger) (*Manager, error) {
	if reg == nil {
		return nil, ErrNoRegistry
	}
	if dial == nil {
		return nil, ErrNoDialer
	}
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	m := &Manager{
		log:     log,
		labels:  reg,
		sensors: rigstate.NewSensorStore(cfg.FaultThreshold, cfg.PressureTolerance),
		battery: rigstate.NewBatteryStore(),
		history: rigstate.NewHistory(cfg.HistoryCapacity),
		queue:   rigstate.NewCommandQueue(),
		stats:   rigproto.NewStatistics(),
	}
	m.session = link.NewSession(cfg.Link, dial, m, m.queue, log)
	return m, nil
}

// AddSink registers a sink. It must be called before Run.
func (m *Manager) AddSink(s Sink) {
	m.sinks = append(m.sinks, s)
}

// OnStateChange registers a link state callback. It must be called before Run.
func (m *Manager) OnStateChange(fn func(link.State)) {
	m.session.OnStateChange(fn)
}

// Run serves the link until ctx is cancelled, then discards unsent commands
func (m *Manager) Run(ctx context.Context) error {
	err := m.session.Run(ctx)
	if n := m.queue.Discard(); n > 0 {
		m.log.Warn("discarded unsent commands", "count", n)
	}
	return err
}

// HandleLine decodes one line from the controller and routes it
func (m *Manager) HandleLine(line string) {
	text := rigproto.TrimLine(line)
	if text == "" {
		return
	}

	sig := rigproto.Decode(text)
	at := time.Now()

	m.history.Append(rigstate.Entry{Text: text, Kind: sig.Kind(), At: at})

	m.statsMu.Lock()
	m.stats.Update(sig)
	m.statsMu.Unlock()

	switch s := sig.(type) {
	case rigproto.Pressure:
		prev, _ := m.sensors.Reading(s.SensorID)
		r := m.sensors.Ingest(s.SensorID, s.Fault, s.P1, s.P2)
		if r.Status == rigstate.StatusFault && prev.Status != rigstate.StatusFault {
			m.log.Warn("sensor marked faulted", "sensor", s.SensorID, "label", m.labels.Translate(s.SensorID))
		}
		sample := PressureSample{SensorID: s.SensorID, Label: m.labels.Translate(s.SensorID), Reading: r, At: at}
		for _, sink := range m.sinks {
			sink.RecordPressure(sample)
		}
	case rigproto.Battery:
		m.battery.Ingest(s.DeviceID, s.Value, s.Charging)
		sample := BatterySample{
			DeviceID: s.DeviceID,
			Label:    m.labels.Translate(s.DeviceID),
			Reading:  rigstate.BatteryReading{Value: s.Value, Charging: s.Charging},
			At:       at,
		}
		for _, sink := range m.sinks {
			sink.RecordBattery(sample)
		}
	case rigproto.Ack:
		m.log.Debug("command acknowledged", "payload", s.Payload)
	case rigproto.Nack:
		m.log.Debug("command rejected", "payload", s.Payload)
	case rigproto.Unrecognized:
		m.log.Error("unrecognized line", "line", text, "error", s.Reason)
	}
}

// ReadSensors returns the latest pressure readings keyed by label
func (m *Manager) ReadSensors() map[string]rigstate.PressureReading {
	return translate(m.labels, m.sensors.Snapshot())
}

// ReadBattery returns the latest battery readings keyed by label
func (m *Manager) ReadBattery() map[string]rigstate.BatteryReading {
	return translate(m.labels, m.battery.Snapshot())
}

// FaultCounts returns cumulative sensor fault counts keyed by label
func (m *Manager) FaultCounts() map[string]int {
	return translate(m.labels, m.sensors.FaultCounts())
}

// ReadHistory returns the recent raw lines, oldest first
func (m *Manager) ReadHistory() []rigstate.Entry {
	return m.history.Snapshot()
}

// EnqueueCommand queues a command for transmission whatever the link state
func (m *Manager) EnqueueCommand(cmd string) error {
	return m.queue.Enqueue(cmd)
}

// QueuedCommands returns the number of commands waiting to be sent
func (m *Manager) QueuedCommands() int {
	return m.queue.Len()
}

// SetLabel assigns a label to a device id
func (m *Manager) SetLabel(id, label string) error {
	return m.labels.Set(id, label)
}

// RenameLabel renames a label; see labels.Registry.Rename for the miss case
func (m *Manager) RenameLabel(oldLabel, newLabel string) (bool, error) {
	return m.labels.Rename(oldLabel, newLabel)
}

// ClearLabel removes one label, or all of them for labels.ClearAll
func (m *Manager) ClearLabel(label string) error {
	return m.labels.Clear(label)
}

// Labels returns a copy of the id to label map
func (m *Manager) Labels() map[string]string {
	return m.labels.All()
}

// LinkState returns the link connection state
func (m *Manager) LinkState() link.State {
	return m.session.State()
}

// Stats returns a copy of the line statistics with link counters filled in
func (m *Manager) Stats() rigproto.Statistics {
	m.statsMu.Lock()
	stats := *m.stats
	m.statsMu.Unlock()

	stats.ReadErrors = m.session.ReadErrors()
	stats.Reconnects = m.session.Reconnects()
	stats.CalculateRates()
	return stats
}

// LinkStatus describes the link for publishers
type LinkStatus struct {
	State          link.State `json:"state" cbor:"state"`
	SessionID      string     `json:"session_id" cbor:"session_id"`
	Reconnects     uint64     `json:"reconnects" cbor:"reconnects"`
	ReadErrors     uint64     `json:"read_errors" cbor:"read_errors"`
	QueuedCommands int        `json:"queued_commands" cbor:"queued_commands"`
	Lines          uint64     `json:"lines" cbor:"lines"`
	Unrecognized   uint64     `json:"unrecognized" cbor:"unrecognized"`
}

// Snapshot is every query result captured together
type Snapshot struct {
	At          time.Time                           `json:"at" cbor:"at"`
	Link        LinkStatus                          `json:"link" cbor:"link"`
	Sensors     map[string]rigstate.PressureReading `json:"sensors" cbor:"sensors"`
	FaultCounts map[string]int                      `json:"fault_counts" cbor:"fault_counts"`
	Battery     map[string]rigstate.BatteryReading  `json:"battery" cbor:"battery"`
	History     []rigstate.Entry                    `json:"history" cbor:"history"`
}

// Link returns the current link status
func (m *Manager) Link() LinkStatus {
	stats := m.Stats()
	return LinkStatus{
		State:          m.session.State(),
		SessionID:      m.session.SessionID(),
		Reconnects:     stats.Reconnects,
		ReadErrors:     stats.ReadErrors,
		QueuedCommands: m.queue.Len(),
		Lines:          stats.TotalLines,
		Unrecognized:   stats.Unrecognized,
	}
}

// Snapshot captures all query results. Each part is consistent on its own.
func (m *Manager) Snapshot() Snapshot {
	return Snapshot{
		At:          time.Now(),
		Link:        m.Link(),
		Sensors:     m.ReadSensors(),
		FaultCounts: m.FaultCounts(),
		Battery:     m.ReadBattery(),
		History:     m.ReadHistory(),
	}
}

// translate rekeys a raw-id map by label. Ids are visited in sorted order,
// so when two ids share a label the later id wins.
func translate[V any](reg *labels.Registry, in map[string]V) map[string]V {
	ids := make([]string, 0, len(in))
	for id := range in {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	out := make(map[string]V, len(in))
	for _, id := range ids {
		out[reg.Translate(id)] = in[id]
	}
	return out
}
