// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/via-fydp/Basestation-SW/internal/config"
	"github.com/via-fydp/Basestation-SW/internal/logging"
	"github.com/via-fydp/Basestation-SW/pkg/devicemgr"
	"github.com/via-fydp/Basestation-SW/pkg/labels"
	"github.com/via-fydp/Basestation-SW/pkg/link"
)

// fakeInterval is how often the fake port repeats its line
const fakeInterval = time.Second

// readErrorDelay is the pause after a transient read error
const readErrorDelay = 10 * time.Millisecond

// GetPassword retrieves password from environment or prompts user
func GetPassword() (string, error) {
	// First check environment variable
	if pw := os.Getenv("BASESTATION_PASSWORD"); pw != "" {
		return pw, nil
	}

	// Prompt user for password (hide input)
	fmt.Fprint(os.Stderr, "Password: ")

	// Read password without echo
	passwordBytes, err := term.ReadPassword(int(syscall.Stdin))
	if err != nil {
		// Fallback to regular input if terminal functions fail
		reader := bufio.NewReader(os.Stdin)
		password, err := reader.ReadString('\n')
		if err != nil {
			return "", fmt.Errorf("failed to read password: %w", err)
		}
		fmt.Fprintln(os.Stderr) // newline after password
		return strings.TrimSpace(password), nil
	}

	fmt.Fprintln(os.Stderr) // newline after password
	return string(passwordBytes), nil
}

// loadConfig loads the configuration and applies explicitly set flags
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	flags := cmd.Flags()
	if flags.Changed("port") {
		cfg.Link.Port = portName
		cfg.Link.URL = ""
	}
	if flags.Changed("baud") {
		cfg.Link.Baud = baudRate
	}
	if flags.Changed("url") {
		cfg.Link.URL = wsURL
		cfg.Link.Port = ""
	}
	if flags.Changed("username") {
		cfg.Link.Username = wsUsername
	}
	if flags.Changed("no-ssl-verify") {
		cfg.Link.NoSSLVerify = wsNoSSLVerify
	}
	if flags.Changed("labels") {
		cfg.Labels.Path = labelsPath
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// setup loads configuration and builds the logger. A non-empty output
// overrides logging.output.
func setup(cmd *cobra.Command, output string) (*config.Config, *logging.Logger, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, nil, err
	}

	logCfg := cfg.Logging
	if output != "" {
		logCfg.Output = output
	}
	log, err := logging.New(logCfg, version)
	if err != nil {
		return nil, nil, err
	}
	return cfg, log, nil
}

// NewDialer builds the dialer for the configured transport.
// The WebSocket password is asked for once, not on every reconnect.
func NewDialer(cfg config.LinkConfig, fake bool) (link.Dialer, error) {
	if fake {
		return link.FakeDialer(link.FakeLine, fakeInterval), nil
	}

	if cfg.URL != "" {
		password := ""
		if cfg.Username != "" {
			var err error
			password, err = GetPassword()
			if err != nil {
				return nil, err
			}
		}

		return func(ctx context.Context) (link.Port, string, error) {
			port, err := link.OpenWebSocket(ctx, cfg.URL, cfg.Username, password, cfg.NoSSLVerify)
			if err != nil {
				return nil, "", err
			}
			return port, fmt.Sprintf("WebSocket: %s", cfg.URL), nil
		}, nil
	}

	if cfg.Port != "" {
		return func(ctx context.Context) (link.Port, string, error) {
			port, err := link.OpenSerial(cfg.Port, cfg.Baud)
			if err != nil {
				return nil, "", err
			}
			return port, fmt.Sprintf("Serial: %s @ %d baud", cfg.Port, cfg.Baud), nil
		}, nil
	}

	return nil, fmt.Errorf("either --port or --url must be specified")
}

// connectionInfo describes the configured transport for banners
func connectionInfo(cfg config.LinkConfig, fake bool) string {
	switch {
	case fake:
		return "Fake: " + link.FakeLine
	case cfg.URL != "":
		return fmt.Sprintf("WebSocket: %s", cfg.URL)
	default:
		return fmt.Sprintf("Serial: %s @ %d baud", cfg.Port, cfg.Baud)
	}
}

// openLabels opens the label registry. A corrupt file is logged and
// replaced by an empty registry.
func openLabels(cfg *config.Config, log *logging.Logger) (*labels.Registry, error) {
	path := cfg.Labels.Path
	if path == "" {
		var err error
		path, err = labels.DefaultPath()
		if err != nil {
			return nil, err
		}
	}

	reg, err := labels.Open(path)
	if errors.Is(err, labels.ErrCorrupt) {
		log.Warn("label file unreadable, starting with no labels", "path", path, "error", err)
		return reg, nil
	}
	return reg, err
}

// newManager wires a device manager from configuration
func newManager(cfg *config.Config, log *logging.Logger, fake bool) (*devicemgr.Manager, error) {
	dial, err := NewDialer(cfg.Link, fake)
	if err != nil {
		return nil, err
	}

	reg, err := openLabels(cfg, log)
	if err != nil {
		return nil, err
	}

	return devicemgr.New(cfg.Manager(), reg, dial, log.With("component", "devicemgr"))
}

// recoverRead handles a failed ReadLine the way the link session does.
// Disconnects are returned; a transient error resets the input and pauses;
// timeouts and overlong lines are skipped.
func recoverRead(port link.Port, lines *link.LineReader, err error) error {
	if errors.Is(err, link.ErrLineTooLong) {
		return nil
	}

	switch link.Classify(err) {
	case link.ClassDisconnected:
		return err
	case link.ClassTransient:
		port.ResetInputBuffer()
		lines.Reset()
		time.Sleep(readErrorDelay)
	}
	return nil
}
