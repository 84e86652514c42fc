// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package link

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/via-fydp/Basestation-SW/pkg/rigproto"
)

// State is the session connection state
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "DISCONNECTED"
	case StateConnecting:
		return "CONNECTING"
	case StateConnected:
		return "CONNECTED"
	default:
		return fmt.Sprintf("STATE(%d)", int32(s))
	}
}

// MarshalText renders the state name in JSON and CBOR payloads
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

var (
	// ErrProbeTimeout means the controller sent nothing during the probe
	ErrProbeTimeout = errors.New("link: probe timed out")

	// ErrDeadLink means no bytes arrived for DeadLinkTimeout
	ErrDeadLink = errors.New("link: no data received")

	// ErrTooManyReadErrors means MaxReadErrors consecutive transient errors
	ErrTooManyReadErrors = errors.New("link: too many consecutive read errors")
)

// Dialer opens a port and describes it for logs
type Dialer func(ctx context.Context) (Port, string, error)

// Handler receives every line read from the controller
type Handler interface {
	HandleLine(line string)
}

// Queue supplies outbound commands
type Queue interface {
	Drain() []string
	Requeue(cmds []string)
}

// Logger is the logging surface the session needs; *slog.Logger satisfies it
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Config tunes connection behaviour. Zero values take the defaults.
type Config struct {
	ReadTimeout         time.Duration
	Probe               bool
	ProbeTimeout        time.Duration
	WriteInterval       time.Duration
	ReconnectBackoff    time.Duration
	MaxReconnectBackoff time.Duration
	// DeadLinkTimeout below zero disables dead-link detection
	DeadLinkTimeout time.Duration
	MaxReadErrors   int
}

// Defaults
const (
	DefaultReadTimeout      = time.Second
	DefaultProbeTimeout     = 5 * time.Second
	DefaultWriteInterval    = 200 * time.Millisecond
	DefaultReconnectBackoff = 2 * time.Second
	DefaultDeadLinkTimeout  = 30 * time.Second
	DefaultMaxReadErrors    = 5
)

// DefaultConfig returns the default session configuration
func DefaultConfig() Config {
	return Config{
		ReadTimeout:         DefaultReadTimeout,
		Probe:               true,
		ProbeTimeout:        DefaultProbeTimeout,
		WriteInterval:       DefaultWriteInterval,
		ReconnectBackoff:    DefaultReconnectBackoff,
		MaxReconnectBackoff: DefaultReconnectBackoff,
		DeadLinkTimeout:     DefaultDeadLinkTimeout,
		MaxReadErrors:       DefaultMaxReadErrors,
	}
}

func (c Config) withDefaults() Config {
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = DefaultReadTimeout
	}
	if c.ProbeTimeout <= 0 {
		c.ProbeTimeout = DefaultProbeTimeout
	}
	if c.WriteInterval <= 0 {
		c.WriteInterval = DefaultWriteInterval
	}
	if c.ReconnectBackoff <= 0 {
		c.ReconnectBackoff = DefaultReconnectBackoff
	}
	if c.MaxReconnectBackoff < c.ReconnectBackoff {
		c.MaxReconnectBackoff = c.ReconnectBackoff
	}
	if c.DeadLinkTimeout == 0 {
		c.DeadLinkTimeout = DefaultDeadLinkTimeout
	}
	if c.MaxReadErrors <= 0 {
		c.MaxReadErrors = DefaultMaxReadErrors
	}
	return c
}

// Session keeps one controller connection alive, reconnecting after failures
type Session struct {
	cfg     Config
	dial    Dialer
	handler Handler
	queue   Queue
	log     Logger

	state       atomic.Int32
	connections atomic.Uint64
	readErrors  atomic.Uint64

	mu            sync.RWMutex
	sessionID     string
	onStateChange func(State)

	writeMu sync.Mutex
}

// NewSession creates a session. A nil logger discards output.
func NewSession(cfg Config, dial Dialer, handler Handler, queue Queue, log Logger) *Session {
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Session{
		cfg:     cfg.withDefaults(),
		dial:    dial,
		handler: handler,
		queue:   queue,
		log:     log,
	}
}

// OnStateChange registers fn to be called on every state transition.
// fn runs on the session goroutine and must not block.
func (s *Session) OnStateChange(fn func(State)) {
	s.mu.Lock()
	s.onStateChange = fn
	s.mu.Unlock()
}

// State returns the current connection state
func (s *Session) State() State {
	return State(s.state.Load())
}

// SessionID returns the id of the current or most recent connection
func (s *Session) SessionID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sessionID
}

// Reconnects counts connections established after the first one
func (s *Session) Reconnects() uint64 {
	if n := s.connections.Load(); n > 1 {
		return n - 1
	}
	return 0
}

// ReadErrors counts transient read errors across all connections
func (s *Session) ReadErrors() uint64 {
	return s.readErrors.Load()
}

func (s *Session) setState(st State) {
	if State(s.state.Swap(int32(st))) == st {
		return
	}
	s.mu.RLock()
	fn := s.onStateChange
	s.mu.RUnlock()
	if fn != nil {
		fn(st)
	}
}

// Run connects and serves until ctx is cancelled.
// It returns ctx.Err() only when ctx was already done on entry.
func (s *Session) Run(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	defer s.setState(StateDisconnected)

	backoff := s.cfg.ReconnectBackoff
	for {
		established, err := s.connect(ctx)
		if ctx.Err() != nil {
			return nil
		}

		if established {
			backoff = s.cfg.ReconnectBackoff
			s.log.Warn("connection lost", "session", s.SessionID(), "error", err, "retry_in", backoff)
		} else {
			s.log.Warn("connection failed", "error", err, "retry_in", backoff)
		}

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}

		if !established {
			backoff = min(backoff*2, s.cfg.MaxReconnectBackoff)
		}
	}
}

// connect runs one connection attempt to completion
func (s *Session) connect(ctx context.Context) (established bool, err error) {
	s.setState(StateConnecting)

	port, info, err := s.dial(ctx)
	if err != nil {
		s.setState(StateDisconnected)
		return false, fmt.Errorf("open: %w", err)
	}

	id := uuid.NewString()
	lines := NewLineReader(port)

	var probed string
	var haveProbe bool
	if s.cfg.Probe {
		probed, err = s.probe(ctx, port, lines)
		if err != nil {
			port.Close()
			s.setState(StateDisconnected)
			return false, fmt.Errorf("probe %s: %w", info, err)
		}
		haveProbe = true
	}

	if err := port.SetReadTimeout(s.cfg.ReadTimeout); err != nil {
		port.Close()
		s.setState(StateDisconnected)
		return false, fmt.Errorf("set read timeout: %w", err)
	}

	s.mu.Lock()
	s.sessionID = id
	s.mu.Unlock()
	s.connections.Add(1)
	s.setState(StateConnected)
	s.log.Info("connected", "session", id, "port", info)

	if haveProbe {
		s.handler.HandleLine(probed)
	}

	err = s.serve(ctx, port, lines)
	s.setState(StateDisconnected)
	return true, err
}

// probe waits for one non-empty line from the controller
func (s *Session) probe(ctx context.Context, port Port, lines *LineReader) (string, error) {
	if err := port.SetReadTimeout(min(s.cfg.ReadTimeout, s.cfg.ProbeTimeout)); err != nil {
		return "", err
	}

	deadline := time.Now().Add(s.cfg.ProbeTimeout)
	for ctx.Err() == nil {
		line, err := lines.ReadLine()
		if err == nil {
			if rigproto.TrimLine(line) != "" {
				return line, nil
			}
			continue
		}

		switch {
		case errors.Is(err, ErrLineTooLong):
			s.log.Warn("dropped overlong line during probe", "limit", MaxLineLength)
		case Classify(err) == ClassDisconnected:
			return "", err
		case Classify(err) == ClassTransient:
			port.ResetInputBuffer()
			lines.Reset()
		}

		if time.Now().After(deadline) {
			return "", ErrProbeTimeout
		}
	}
	return "", ctx.Err()
}

// serve runs the reader and writer until either fails or ctx ends
func (s *Session) serve(ctx context.Context, port Port, lines *LineReader) error {
	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	errc := make(chan error, 2)
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		errc <- s.readLoop(connCtx, port, lines)
	}()
	go func() {
		defer wg.Done()
		errc <- s.writeLoop(connCtx, port)
	}()

	var err error
	select {
	case err = <-errc:
	case <-ctx.Done():
	}

	cancel()
	port.Close()
	wg.Wait()
	return err
}

func (s *Session) readLoop(ctx context.Context, port Port, lines *LineReader) error {
	consecutive := 0
	for {
		if ctx.Err() != nil {
			return nil
		}

		line, err := lines.ReadLine()
		if err == nil {
			consecutive = 0
			s.handler.HandleLine(line)
			continue
		}
		if ctx.Err() != nil {
			return nil
		}
		if errors.Is(err, ErrLineTooLong) {
			s.log.Warn("dropped overlong line", "session", s.SessionID(), "limit", MaxLineLength)
			continue
		}

		switch Classify(err) {
		case ClassTimeout:
			if s.cfg.DeadLinkTimeout > 0 && time.Since(lines.LastData()) > s.cfg.DeadLinkTimeout {
				return ErrDeadLink
			}
		case ClassDisconnected:
			return err
		case ClassTransient:
			s.readErrors.Add(1)
			consecutive++
			s.log.Warn("read error", "session", s.SessionID(), "error", err, "consecutive", consecutive)
			if consecutive >= s.cfg.MaxReadErrors {
				return fmt.Errorf("%w: %w", ErrTooManyReadErrors, err)
			}
			if resetErr := port.ResetInputBuffer(); resetErr != nil {
				s.log.Warn("input buffer reset failed", "error", resetErr)
			}
			lines.Reset()
			time.Sleep(10 * time.Millisecond)
		}
	}
}

func (s *Session) writeLoop(ctx context.Context, port Port) error {
	ticker := time.NewTicker(s.cfg.WriteInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		cmds := s.queue.Drain()
		if len(cmds) == 0 {
			continue
		}

		s.writeMu.Lock()
		sent, err := WriteCommands(port, cmds)
		s.writeMu.Unlock()

		if err != nil {
			s.queue.Requeue(cmds[sent:])
			return fmt.Errorf("write %q: %w", cmds[sent], err)
		}
		s.log.Debug("commands sent", "session", s.SessionID(), "count", sent)
	}
}

// WriteCommands writes each command with its line terminator in order.
// It returns how many were written completely.
func WriteCommands(w io.Writer, cmds []string) (int, error) {
	for i, cmd := range cmds {
		frame := rigproto.EncodeCommand(cmd)
		n, err := w.Write(frame)
		if err == nil && n < len(frame) {
			err = io.ErrShortWrite
		}
		if err != nil {
			return i, err
		}
	}
	return len(cmds), nil
}
