// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package link

import (
	"context"
	"strings"
	"sync"
	"time"
)

// FakeLine is the pressure line the fake port repeats
const FakeLine = "pressure_1038401923_0_112_112"

// FakePort is an in-memory Port that emits one line at a fixed interval and
// records everything written to it. It stands in for the controller when no
// board is attached.
type FakePort struct {
	line     string
	interval time.Duration

	mu      sync.Mutex
	timeout time.Duration
	pending []byte
	next    time.Time
	written strings.Builder

	closeOnce sync.Once
	closed    chan struct{}
}

// NewFakePort creates a fake port emitting line every interval
func NewFakePort(line string, interval time.Duration) *FakePort {
	return &FakePort{
		line:     line,
		interval: interval,
		next:     time.Now(),
		closed:   make(chan struct{}),
	}
}

// FakeDialer returns a Dialer that opens a fresh FakePort on every call
func FakeDialer(line string, interval time.Duration) Dialer {
	return func(ctx context.Context) (Port, string, error) {
		return NewFakePort(line, interval), "Fake: " + line, nil
	}
}

func (f *FakePort) Read(p []byte) (int, error) {
	select {
	case <-f.closed:
		return 0, ErrConnectionClosed
	default:
	}

	f.mu.Lock()
	if len(f.pending) == 0 {
		wait := time.Until(f.next)
		timeout := f.timeout
		f.mu.Unlock()

		if wait > 0 {
			if timeout > 0 && timeout < wait {
				if !f.sleep(timeout) {
					return 0, ErrConnectionClosed
				}
				return 0, nil
			}
			if !f.sleep(wait) {
				return 0, ErrConnectionClosed
			}
		}

		f.mu.Lock()
		f.pending = append(f.pending, f.line...)
		f.pending = append(f.pending, '\n')
		f.next = time.Now().Add(f.interval)
	}
	n := copy(p, f.pending)
	f.pending = f.pending[n:]
	f.mu.Unlock()
	return n, nil
}

// sleep waits for d; false means the port was closed meanwhile
func (f *FakePort) sleep(d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-f.closed:
		return false
	}
}

func (f *FakePort) Write(p []byte) (int, error) {
	select {
	case <-f.closed:
		return 0, ErrConnectionClosed
	default:
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.written.Write(p)
	return len(p), nil
}

func (f *FakePort) SetReadTimeout(t time.Duration) error {
	f.mu.Lock()
	f.timeout = t
	f.mu.Unlock()
	return nil
}

func (f *FakePort) ResetInputBuffer() error {
	f.mu.Lock()
	f.pending = f.pending[:0]
	f.mu.Unlock()
	return nil
}

func (f *FakePort) Close() error {
	f.closeOnce.Do(func() { close(f.closed) })
	return nil
}

// Written returns the commands written so far, one per line
func (f *FakePort) Written() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := strings.Split(f.written.String(), "\n")
	return out[:len(out)-1]
}
