// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "basestation.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Sensors.FaultThreshold != 5 {
		t.Errorf("FaultThreshold = %d, want 5", cfg.Sensors.FaultThreshold)
	}
	if cfg.Sensors.PressureTolerance != 300 {
		t.Errorf("PressureTolerance = %v, want 300", cfg.Sensors.PressureTolerance)
	}
	if cfg.History.Capacity != 50 {
		t.Errorf("History.Capacity = %d, want 50", cfg.History.Capacity)
	}
	if cfg.Link.WriteInterval != 200*time.Millisecond {
		t.Errorf("WriteInterval = %v, want 200ms", cfg.Link.WriteInterval)
	}
	if cfg.Link.ReconnectBackoff != 2*time.Second {
		t.Errorf("ReconnectBackoff = %v, want 2s", cfg.Link.ReconnectBackoff)
	}
}

func TestLoad_ValidConfig(t *testing.T) {
	path := writeConfig(t, `
link:
  port: /dev/ttyACM0
  baud: 9600
  write_interval: 100ms
  reconnect_backoff: 1s
  max_reconnect_backoff: 30s
sensors:
  fault_threshold: 3
  pressure_tolerance: 3
history:
  capacity: 10
mqtt:
  enabled: true
  encoding: cbor
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Link.Port != "/dev/ttyACM0" || cfg.Link.Baud != 9600 {
		t.Errorf("Link = %+v", cfg.Link)
	}
	if cfg.Link.WriteInterval != 100*time.Millisecond {
		t.Errorf("WriteInterval = %v, want 100ms", cfg.Link.WriteInterval)
	}
	if cfg.Link.MaxReconnectBackoff != 30*time.Second {
		t.Errorf("MaxReconnectBackoff = %v, want 30s", cfg.Link.MaxReconnectBackoff)
	}
	if cfg.Sensors.PressureTolerance != 3 {
		t.Errorf("PressureTolerance = %v, want 3", cfg.Sensors.PressureTolerance)
	}
	// Untouched fields keep their defaults
	if cfg.MQTT.Broker.Port != 1883 || cfg.MQTT.TopicPrefix != "basestation" {
		t.Errorf("MQTT defaults lost: %+v", cfg.MQTT)
	}

	mc := cfg.Manager()
	if mc.FaultThreshold != 3 || mc.HistoryCapacity != 10 || mc.Link.WriteInterval != 100*time.Millisecond {
		t.Errorf("Manager() = %+v", mc)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load("/nonexistent/path/basestation.yaml"); err == nil {
		t.Error("Load() expected error for missing file, got nil")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := writeConfig(t, "link: [port: ")
	if _, err := Load(path); err == nil {
		t.Error("Load() expected error for invalid YAML, got nil")
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("BASESTATION_LINK_PORT", "/dev/ttyUSB1")
	t.Setenv("BASESTATION_LINK_BAUD", "57600")
	t.Setenv("BASESTATION_LABELS_PATH", "/tmp/labels.json")
	t.Setenv("BASESTATION_LOG_LEVEL", "debug")
	t.Setenv("BASESTATION_MQTT_HOST", "broker.local")
	t.Setenv("BASESTATION_INFLUXDB_TOKEN", "secret")

	path := writeConfig(t, "link:\n  port: /dev/ttyACM0\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Link.Port != "/dev/ttyUSB1" {
		t.Errorf("Link.Port = %q, want env override", cfg.Link.Port)
	}
	if cfg.Link.Baud != 57600 {
		t.Errorf("Link.Baud = %d, want 57600", cfg.Link.Baud)
	}
	if cfg.Labels.Path != "/tmp/labels.json" {
		t.Errorf("Labels.Path = %q", cfg.Labels.Path)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q", cfg.Logging.Level)
	}
	if cfg.MQTT.Broker.Host != "broker.local" {
		t.Errorf("MQTT.Broker.Host = %q", cfg.MQTT.Broker.Host)
	}
	if cfg.InfluxDB.Token != "secret" {
		t.Errorf("InfluxDB.Token = %q", cfg.InfluxDB.Token)
	}
}

func TestLoad_BadBaudEnv(t *testing.T) {
	t.Setenv("BASESTATION_LINK_BAUD", "fast")
	if _, err := Load(""); err == nil {
		t.Error("Load() expected error for non-numeric baud")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"defaults", func(c *Config) {}, ""},
		{"port and url", func(c *Config) { c.Link.Port = "/dev/x"; c.Link.URL = "ws://x" }, "mutually exclusive"},
		{"zero threshold", func(c *Config) { c.Sensors.FaultThreshold = 0 }, "sensors.fault_threshold"},
		{"zero tolerance", func(c *Config) { c.Sensors.PressureTolerance = 0 }, ""},
		{"negative tolerance", func(c *Config) { c.Sensors.PressureTolerance = -1 }, "sensors.pressure_tolerance"},
		{"zero capacity", func(c *Config) { c.History.Capacity = 0 }, "history.capacity"},
		{"backoff order", func(c *Config) { c.Link.MaxReconnectBackoff = time.Millisecond }, "max_reconnect_backoff"},
		{"bad format", func(c *Config) { c.Logging.Format = "xml" }, "logging.format"},
		{"mqtt qos", func(c *Config) { c.MQTT.Enabled = true; c.MQTT.QoS = 3 }, "mqtt.qos"},
		{"mqtt encoding", func(c *Config) { c.MQTT.Enabled = true; c.MQTT.Encoding = "xml" }, "mqtt.encoding"},
		{"mqtt disabled skips checks", func(c *Config) { c.MQTT.QoS = 3 }, ""},
		{"influx org", func(c *Config) { c.InfluxDB.Enabled = true }, "influxdb.org"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()

			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() = %v, want nil", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() = %v, want error containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestValidate_CollectsAllErrors(t *testing.T) {
	cfg := Default()
	cfg.Sensors.FaultThreshold = 0
	cfg.History.Capacity = 0

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate() expected error")
	}
	for _, want := range []string{"sensors.fault_threshold", "history.capacity"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q missing %q", err, want)
		}
	}
}
