// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package config loads the basestation configuration.
//
// Loading order:
//  1. Default values
//  2. YAML file values (when a path is given)
//  3. Environment variables (BASESTATION_SECTION_KEY)
//
// Command-line flags are applied by the caller after Load.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/via-fydp/Basestation-SW/pkg/devicemgr"
	"github.com/via-fydp/Basestation-SW/pkg/link"
	"github.com/via-fydp/Basestation-SW/pkg/rigstate"
)

// Config is the root configuration structure
type Config struct {
	Link     LinkConfig     `yaml:"link"`
	Sensors  SensorsConfig  `yaml:"sensors"`
	History  HistoryConfig  `yaml:"history"`
	Labels   LabelsConfig   `yaml:"labels"`
	Logging  LoggingConfig  `yaml:"logging"`
	MQTT     MQTTConfig     `yaml:"mqtt"`
	InfluxDB InfluxDBConfig `yaml:"influxdb"`
}

// LinkConfig selects the controller transport and tunes the session
type LinkConfig struct {
	Port        string `yaml:"port"`
	Baud        int    `yaml:"baud"`
	URL         string `yaml:"url"`
	Username    string `yaml:"username"`
	NoSSLVerify bool   `yaml:"no_ssl_verify"`

	ReadTimeout         time.Duration `yaml:"read_timeout"`
	Probe               bool          `yaml:"probe"`
	ProbeTimeout        time.Duration `yaml:"probe_timeout"`
	WriteInterval       time.Duration `yaml:"write_interval"`
	ReconnectBackoff    time.Duration `yaml:"reconnect_backoff"`
	MaxReconnectBackoff time.Duration `yaml:"max_reconnect_backoff"`
	// DeadLinkTimeout below zero disables dead-link detection
	DeadLinkTimeout time.Duration `yaml:"dead_link_timeout"`
	MaxReadErrors   int           `yaml:"max_read_errors"`
}

// SensorsConfig contains the redundant-pair fault rules
type SensorsConfig struct {
	FaultThreshold    int     `yaml:"fault_threshold"`
	PressureTolerance float64 `yaml:"pressure_tolerance"`
}

// HistoryConfig sizes the raw signal history
type HistoryConfig struct {
	Capacity int `yaml:"capacity"`
}

// LabelsConfig locates the label file. Empty means next to the executable.
type LabelsConfig struct {
	Path string `yaml:"path"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
	File   string `yaml:"file"`
}

// MQTTConfig contains the snapshot publisher settings
type MQTTConfig struct {
	Enabled         bool             `yaml:"enabled"`
	Broker          MQTTBrokerConfig `yaml:"broker"`
	Auth            MQTTAuthConfig   `yaml:"auth"`
	QoS             int              `yaml:"qos"`
	TopicPrefix     string           `yaml:"topic_prefix"`
	PublishInterval time.Duration    `yaml:"publish_interval"`
	Encoding        string           `yaml:"encoding"`
}

// MQTTBrokerConfig contains MQTT broker connection details
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// InfluxDBConfig contains the time-series recorder settings
type InfluxDBConfig struct {
	Enabled       bool          `yaml:"enabled"`
	URL           string        `yaml:"url"`
	Token         string        `yaml:"token"`
	Org           string        `yaml:"org"`
	Bucket        string        `yaml:"bucket"`
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
}

// Encodings accepted for MQTT payloads
const (
	EncodingJSON = "json"
	EncodingCBOR = "cbor"
)

// Load builds the configuration from defaults, the YAML file at path (if
// path is not empty) and environment overrides, then validates it.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Default returns a Config with the stock settings
func Default() *Config {
	return &Config{
		Link: LinkConfig{
			Baud:                115200,
			ReadTimeout:         link.DefaultReadTimeout,
			Probe:               true,
			ProbeTimeout:        link.DefaultProbeTimeout,
			WriteInterval:       link.DefaultWriteInterval,
			ReconnectBackoff:    link.DefaultReconnectBackoff,
			MaxReconnectBackoff: link.DefaultReconnectBackoff,
			DeadLinkTimeout:     link.DefaultDeadLinkTimeout,
			MaxReadErrors:       link.DefaultMaxReadErrors,
		},
		Sensors: SensorsConfig{
			FaultThreshold:    rigstate.DefaultFaultThreshold,
			PressureTolerance: rigstate.DefaultPressureTolerance,
		},
		History: HistoryConfig{
			Capacity: rigstate.DefaultHistoryCapacity,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "basestation",
			},
			QoS:             1,
			TopicPrefix:     "basestation",
			PublishInterval: time.Second,
			Encoding:        EncodingJSON,
		},
		InfluxDB: InfluxDBConfig{
			URL:           "http://localhost:8086",
			Bucket:        "basestation",
			BatchSize:     100,
			FlushInterval: time.Second,
		},
	}
}

// applyEnvOverrides applies BASESTATION_* environment variables
func applyEnvOverrides(cfg *Config) error {
	// Link
	if v := os.Getenv("BASESTATION_LINK_PORT"); v != "" {
		cfg.Link.Port = v
	}
	if v := os.Getenv("BASESTATION_LINK_URL"); v != "" {
		cfg.Link.URL = v
	}
	if v := os.Getenv("BASESTATION_LINK_BAUD"); v != "" {
		baud, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("BASESTATION_LINK_BAUD: %w", err)
		}
		cfg.Link.Baud = baud
	}

	// Labels
	if v := os.Getenv("BASESTATION_LABELS_PATH"); v != "" {
		cfg.Labels.Path = v
	}

	// Logging
	if v := os.Getenv("BASESTATION_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	// MQTT
	if v := os.Getenv("BASESTATION_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("BASESTATION_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("BASESTATION_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// InfluxDB
	if v := os.Getenv("BASESTATION_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	return nil
}

// Validate checks the configuration and reports every problem at once
func (c *Config) Validate() error {
	var errs []string

	if c.Link.Port != "" && c.Link.URL != "" {
		errs = append(errs, "link.port and link.url are mutually exclusive")
	}
	if c.Link.Baud <= 0 {
		errs = append(errs, "link.baud must be positive")
	}
	if c.Link.ReadTimeout <= 0 {
		errs = append(errs, "link.read_timeout must be positive")
	}
	if c.Link.WriteInterval <= 0 {
		errs = append(errs, "link.write_interval must be positive")
	}
	if c.Link.ReconnectBackoff <= 0 {
		errs = append(errs, "link.reconnect_backoff must be positive")
	}
	if c.Link.MaxReconnectBackoff != 0 && c.Link.MaxReconnectBackoff < c.Link.ReconnectBackoff {
		errs = append(errs, "link.max_reconnect_backoff must not be below link.reconnect_backoff")
	}
	if c.Link.MaxReadErrors < 0 {
		errs = append(errs, "link.max_read_errors must not be negative")
	}

	if c.Sensors.FaultThreshold < 1 {
		errs = append(errs, "sensors.fault_threshold must be at least 1")
	}
	if c.Sensors.PressureTolerance < 0 {
		errs = append(errs, "sensors.pressure_tolerance must not be negative")
	}
	if c.History.Capacity < 1 {
		errs = append(errs, "history.capacity must be at least 1")
	}

	switch strings.ToLower(c.Logging.Format) {
	case "json", "text":
	default:
		errs = append(errs, "logging.format must be json or text")
	}

	if c.MQTT.Enabled {
		if c.MQTT.Broker.Host == "" {
			errs = append(errs, "mqtt.broker.host is required")
		}
		if c.MQTT.Broker.Port < 1 || c.MQTT.Broker.Port > 65535 {
			errs = append(errs, "mqtt.broker.port must be between 1 and 65535")
		}
		if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
			errs = append(errs, "mqtt.qos must be 0, 1, or 2")
		}
		if c.MQTT.TopicPrefix == "" {
			errs = append(errs, "mqtt.topic_prefix is required")
		}
		if c.MQTT.PublishInterval <= 0 {
			errs = append(errs, "mqtt.publish_interval must be positive")
		}
		if c.MQTT.Encoding != EncodingJSON && c.MQTT.Encoding != EncodingCBOR {
			errs = append(errs, "mqtt.encoding must be json or cbor")
		}
	}

	if c.InfluxDB.Enabled {
		if c.InfluxDB.URL == "" {
			errs = append(errs, "influxdb.url is required")
		}
		if c.InfluxDB.Org == "" {
			errs = append(errs, "influxdb.org is required")
		}
		if c.InfluxDB.Bucket == "" {
			errs = append(errs, "influxdb.bucket is required")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}
	return nil
}

// Manager converts the link, sensor and history sections into the device
// manager configuration.
func (c *Config) Manager() devicemgr.Config {
	return devicemgr.Config{
		Link: link.Config{
			ReadTimeout:         c.Link.ReadTimeout,
			Probe:               c.Link.Probe,
			ProbeTimeout:        c.Link.ProbeTimeout,
			WriteInterval:       c.Link.WriteInterval,
			ReconnectBackoff:    c.Link.ReconnectBackoff,
			MaxReconnectBackoff: c.Link.MaxReconnectBackoff,
			DeadLinkTimeout:     c.Link.DeadLinkTimeout,
			MaxReadErrors:       c.Link.MaxReadErrors,
		},
		FaultThreshold:    c.Sensors.FaultThreshold,
		PressureTolerance: c.Sensors.PressureTolerance,
		HistoryCapacity:   c.History.Capacity,
	}
}
