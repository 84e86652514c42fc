// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package telemetry

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"strings"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/via-fydp/Basestation-SW/internal/config"
	"github.com/via-fydp/Basestation-SW/pkg/devicemgr"
)

const (
	defaultConnectTimeout    = 10 * time.Second
	defaultPublishTimeout    = 5 * time.Second
	defaultKeepAlive         = 30 * time.Second
	defaultDisconnectQuiesce = 250 // milliseconds
)

var (
	// ErrConnectionFailed is returned when the broker cannot be reached
	ErrConnectionFailed = errors.New("mqtt: connection failed")

	// ErrPublishFailed wraps publish timeouts and broker errors
	ErrPublishFailed = errors.New("mqtt: publish failed")

	// ErrNotConnected is returned when publishing while disconnected
	ErrNotConnected = errors.New("mqtt: not connected")
)

// Logger is the logging surface telemetry needs
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Source is the device manager surface the publisher reads and feeds
type Source interface {
	Snapshot() devicemgr.Snapshot
	EnqueueCommand(cmd string) error
}

// Topics builds topic names under a prefix
type Topics struct {
	Prefix string
}

func (t Topics) Sensors() string     { return t.Prefix + "/sensors" }
func (t Topics) FaultCounts() string { return t.Prefix + "/fault_counts" }
func (t Topics) Battery() string     { return t.Prefix + "/battery" }
func (t Topics) Link() string        { return t.Prefix + "/link" }
func (t Topics) History() string     { return t.Prefix + "/history" }
func (t Topics) Status() string      { return t.Prefix + "/status" }
func (t Topics) Command() string     { return t.Prefix + "/command" }

// Publisher periodically publishes retained snapshots and forwards command
// messages to the device manager.
type Publisher struct {
	client pahomqtt.Client
	cfg    config.MQTTConfig
	topics Topics
	encode Encoder
	src    Source
	log    Logger
}

// ConnectMQTT connects to the broker and subscribes to the command topic
func ConnectMQTT(cfg config.MQTTConfig, src Source, log Logger) (*Publisher, error) {
	encode, err := NewEncoder(cfg.Encoding)
	if err != nil {
		return nil, err
	}

	p := &Publisher{
		cfg:    cfg,
		topics: Topics{Prefix: cfg.TopicPrefix},
		encode: encode,
		src:    src,
		log:    log,
	}

	opts := buildClientOptions(cfg)
	opts.SetWill(p.topics.Status(), statusPayload("offline", cfg.Broker.ClientID, "unexpected_disconnect"), 1, true)

	// Subscriptions do not survive a clean-session reconnect
	opts.SetOnConnectHandler(func(c pahomqtt.Client) {
		c.Publish(p.topics.Status(), byte(cfg.QoS), true, statusPayload("online", cfg.Broker.ClientID, ""))
		c.Subscribe(p.topics.Command(), byte(cfg.QoS), p.onCommand)
		log.Info("mqtt connected", "broker", cfg.Broker.Host)
	})
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		log.Warn("mqtt connection lost", "error", err)
	})

	p.client = pahomqtt.NewClient(opts)
	if err := p.connect(defaultConnectTimeout); err != nil {
		return nil, err
	}
	return p, nil
}

// connect waits for the first connection. On failure the client is
// disconnected so its background connect retry stops.
func (p *Publisher) connect(timeout time.Duration) error {
	token := p.client.Connect()
	if !token.WaitTimeout(timeout) {
		p.client.Disconnect(0)
		return fmt.Errorf("%w: timeout after %v", ErrConnectionFailed, timeout)
	}
	if err := token.Error(); err != nil {
		p.client.Disconnect(0)
		return fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}
	return nil
}

func buildClientOptions(cfg config.MQTTConfig) *pahomqtt.ClientOptions {
	opts := pahomqtt.NewClientOptions()

	scheme := "tcp"
	if cfg.Broker.TLS {
		scheme = "ssl"
	}
	opts.AddBroker(fmt.Sprintf("%s://%s:%d", scheme, cfg.Broker.Host, cfg.Broker.Port))
	opts.SetClientID(cfg.Broker.ClientID)

	if cfg.Auth.Username != "" {
		opts.SetUsername(cfg.Auth.Username)
		opts.SetPassword(cfg.Auth.Password)
	}

	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(time.Second)
	opts.SetMaxReconnectInterval(time.Minute)
	opts.SetConnectTimeout(defaultConnectTimeout)
	opts.SetKeepAlive(defaultKeepAlive)

	if cfg.Broker.TLS {
		opts.SetTLSConfig(&tls.Config{MinVersion: tls.VersionTLS12})
	}

	return opts
}

func statusPayload(status, clientID, reason string) string {
	ts := time.Now().UTC().Format(time.RFC3339)
	if reason == "" {
		return fmt.Sprintf(`{"status":%q,"client_id":%q,"timestamp":%q}`, status, clientID, ts)
	}
	return fmt.Sprintf(`{"status":%q,"client_id":%q,"reason":%q,"timestamp":%q}`, status, clientID, reason, ts)
}

// Run publishes a snapshot every publish interval until ctx is cancelled
func (p *Publisher) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.cfg.PublishInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := p.PublishSnapshot(); err != nil && !errors.Is(err, ErrNotConnected) {
				p.log.Warn("snapshot publish failed", "error", err)
			}
		}
	}
}

// PublishSnapshot publishes every part of the current snapshot as a retained
// message on its own topic.
func (p *Publisher) PublishSnapshot() error {
	if !p.client.IsConnected() {
		return ErrNotConnected
	}

	snap := p.src.Snapshot()
	parts := []struct {
		topic string
		value any
	}{
		{p.topics.Sensors(), snap.Sensors},
		{p.topics.FaultCounts(), snap.FaultCounts},
		{p.topics.Battery(), snap.Battery},
		{p.topics.Link(), snap.Link},
		{p.topics.History(), snap.History},
	}

	var errs []error
	for _, part := range parts {
		if err := p.publish(part.topic, part.value); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", part.topic, err))
		}
	}
	return errors.Join(errs...)
}

func (p *Publisher) publish(topic string, v any) error {
	payload, err := p.encode(v)
	if err != nil {
		return err
	}

	token := p.client.Publish(topic, byte(p.cfg.QoS), true, payload)
	if !token.WaitTimeout(defaultPublishTimeout) {
		return fmt.Errorf("%w: timeout after %v", ErrPublishFailed, defaultPublishTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}
	return nil
}

func (p *Publisher) onCommand(_ pahomqtt.Client, msg pahomqtt.Message) {
	if err := p.handleCommand(msg.Payload()); err != nil {
		p.log.Warn("mqtt command rejected", "topic", msg.Topic(), "error", err)
	}
}

// handleCommand queues one command per non-empty payload line. Commands are
// passed on verbatim apart from a trailing carriage return.
func (p *Publisher) handleCommand(payload []byte) error {
	var errs []error
	for _, line := range strings.Split(string(payload), "\n") {
		cmd := strings.TrimSuffix(line, "\r")
		if cmd == "" {
			continue
		}
		if err := p.src.EnqueueCommand(cmd); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close publishes a graceful offline status and disconnects
func (p *Publisher) Close() error {
	if p.client == nil {
		return nil
	}

	if p.client.IsConnected() {
		token := p.client.Publish(p.topics.Status(), byte(p.cfg.QoS), true, statusPayload("offline", p.cfg.Broker.ClientID, "shutdown"))
		token.WaitTimeout(defaultPublishTimeout)
	}

	p.client.Disconnect(defaultDisconnectQuiesce)
	return nil
}
