// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package link owns the byte transport to the rig controller: serial and
// WebSocket ports, newline framing, and the reconnecting session that runs
// the reader and writer loops.
package link

import (
	"context"
	"crypto/tls"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.bug.st/serial"
)

// Port is a byte transport to the controller.
// Read returns (0, nil) when the read timeout elapses without data.
type Port interface {
	io.ReadWriteCloser
	SetReadTimeout(t time.Duration) error
	ResetInputBuffer() error
}

// ErrConnectionClosed is returned when reading from a closed port
var ErrConnectionClosed = errors.New("link: connection closed")

// OpenSerial opens a serial port at 8N1
func OpenSerial(name string, baudRate int) (Port, error) {
	mode := &serial.Mode{
		BaudRate: baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}

	port, err := serial.Open(name, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", name, err)
	}

	return port, nil
}

// WebSocketPort adapts a WebSocket bridge connection to Port.
// Frames are pumped into a channel so a read timeout never poisons the
// underlying connection.
type WebSocketPort struct {
	conn *websocket.Conn

	frames chan []byte
	done   chan struct{}
	once   sync.Once

	mu      sync.Mutex
	timeout time.Duration
	buf     []byte
	err     error
}

func newWebSocketPort(conn *websocket.Conn) *WebSocketPort {
	w := &WebSocketPort{
		conn:   conn,
		frames: make(chan []byte, 64),
		done:   make(chan struct{}),
	}
	go w.pump()
	return w
}

// pump reads frames until the connection fails
func (w *WebSocketPort) pump() {
	defer close(w.frames)
	for {
		messageType, data, err := w.conn.ReadMessage()
		if err != nil {
			w.mu.Lock()
			w.err = err
			w.mu.Unlock()
			return
		}

		// Bridges forward controller output as either frame type
		if messageType != websocket.TextMessage && messageType != websocket.BinaryMessage {
			continue
		}

		select {
		case w.frames <- data:
		case <-w.done:
			return
		}
	}
}

func (w *WebSocketPort) Read(p []byte) (int, error) {
	w.mu.Lock()
	if len(w.buf) > 0 {
		n := copy(p, w.buf)
		w.buf = w.buf[n:]
		w.mu.Unlock()
		return n, nil
	}
	timeout := w.timeout
	w.mu.Unlock()

	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	select {
	case data, ok := <-w.frames:
		if !ok {
			return 0, w.closeErr()
		}
		w.mu.Lock()
		n := copy(p, data)
		w.buf = append(w.buf[:0], data[n:]...)
		w.mu.Unlock()
		return n, nil
	case <-expired:
		return 0, nil
	case <-w.done:
		return 0, ErrConnectionClosed
	}
}

func (w *WebSocketPort) closeErr() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err == nil {
		return ErrConnectionClosed
	}
	return fmt.Errorf("%w: %w", ErrConnectionClosed, w.err)
}

func (w *WebSocketPort) Write(p []byte) (int, error) {
	err := w.conn.WriteMessage(websocket.TextMessage, p)
	if err != nil {
		return 0, err
	}
	return len(p), nil
}

// SetReadTimeout sets how long Read waits for a frame; zero waits forever
func (w *WebSocketPort) SetReadTimeout(t time.Duration) error {
	w.mu.Lock()
	w.timeout = t
	w.mu.Unlock()
	return nil
}

// ResetInputBuffer drops buffered and queued frames
func (w *WebSocketPort) ResetInputBuffer() error {
	w.mu.Lock()
	w.buf = w.buf[:0]
	w.mu.Unlock()

	for {
		select {
		case _, ok := <-w.frames:
			if !ok {
				return nil
			}
		default:
			return nil
		}
	}
}

func (w *WebSocketPort) Close() error {
	var err error
	w.once.Do(func() {
		close(w.done)
		err = w.conn.Close()
	})
	return err
}

// OpenWebSocket connects to a serial-over-WebSocket bridge with HTTP Basic auth
func OpenWebSocket(ctx context.Context, wsURL, username, password string, skipSSLVerify bool) (Port, error) {
	u, err := url.Parse(wsURL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}

	switch u.Scheme {
	case "ws", "wss":
	default:
		return nil, fmt.Errorf("unsupported URL scheme: %s (use ws:// or wss://)", u.Scheme)
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}

	if u.Scheme == "wss" {
		dialer.TLSClientConfig = &tls.Config{
			InsecureSkipVerify: skipSSLVerify,
		}
	}

	headers := http.Header{}
	if username != "" && password != "" {
		credentials := base64.StdEncoding.EncodeToString([]byte(username + ":" + password))
		headers.Set("Authorization", "Basic "+credentials)
	}

	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	conn, resp, err := dialer.DialContext(ctx, wsURL, headers)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("WebSocket connection failed (HTTP %d): %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("WebSocket connection failed: %w", err)
	}

	return newWebSocketPort(conn), nil
}
