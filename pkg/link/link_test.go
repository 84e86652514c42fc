// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package link

import (
	"context"
	"errors"
	"io"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.bug.st/serial"

	"github.com/via-fydp/Basestation-SW/pkg/rigstate"
)

// ============================================================
// Test fakes
// ============================================================

type readResult struct {
	data string
	err  error
}

// scriptPort replays scripted reads and records writes
type scriptPort struct {
	reads chan readResult

	mu         sync.Mutex
	timeout    time.Duration
	written    strings.Builder
	writes     int
	failWrite  int
	resets     int
	closeCount int

	once   sync.Once
	closed chan struct{}
}

func newScriptPort(reads ...readResult) *scriptPort {
	p := &scriptPort{
		reads:  make(chan readResult, len(reads)+1),
		closed: make(chan struct{}),
	}
	for _, r := range reads {
		p.reads <- r
	}
	return p
}

func (p *scriptPort) Read(b []byte) (int, error) {
	p.mu.Lock()
	timeout := p.timeout
	p.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case r := <-p.reads:
		if r.err != nil {
			return 0, r.err
		}
		return copy(b, r.data), nil
	case <-timer.C:
		return 0, nil
	case <-p.closed:
		return 0, ErrConnectionClosed
	}
}

func (p *scriptPort) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.writes++
	if p.failWrite > 0 && p.writes == p.failWrite {
		return 0, errors.New("write failed")
	}
	p.written.Write(b)
	return len(b), nil
}

func (p *scriptPort) SetReadTimeout(t time.Duration) error {
	p.mu.Lock()
	p.timeout = t
	p.mu.Unlock()
	return nil
}

func (p *scriptPort) ResetInputBuffer() error {
	p.mu.Lock()
	p.resets++
	p.mu.Unlock()
	return nil
}

func (p *scriptPort) Close() error {
	p.mu.Lock()
	p.closeCount++
	p.mu.Unlock()
	p.once.Do(func() { close(p.closed) })
	return nil
}

func (p *scriptPort) isClosed() bool {
	select {
	case <-p.closed:
		return true
	default:
		return false
	}
}

func (p *scriptPort) writtenString() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.written.String()
}

func (p *scriptPort) resetCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.resets
}

// portDialer hands out ports in order, then fails
type portDialer struct {
	mu    sync.Mutex
	ports []*scriptPort
	dials int
}

func (d *portDialer) dial(ctx context.Context) (Port, string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++
	if len(d.ports) == 0 {
		return nil, "", errors.New("no port")
	}
	p := d.ports[0]
	d.ports = d.ports[1:]
	return p, "script", nil
}

func (d *portDialer) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

type lineCollector struct {
	mu    sync.Mutex
	lines []string
}

func (c *lineCollector) HandleLine(line string) {
	c.mu.Lock()
	c.lines = append(c.lines, line)
	c.mu.Unlock()
}

func (c *lineCollector) all() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.lines...)
}

func fastConfig() Config {
	return Config{
		ReadTimeout:      5 * time.Millisecond,
		ProbeTimeout:     50 * time.Millisecond,
		WriteInterval:    5 * time.Millisecond,
		ReconnectBackoff: 5 * time.Millisecond,
		DeadLinkTimeout:  -1,
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// startSession runs s in the background and returns a stop func that
// cancels it and waits for Run to return.
func startSession(t *testing.T, s *Session) func() {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	return func() {
		cancel()
		select {
		case err := <-done:
			if err != nil {
				t.Errorf("Run returned %v", err)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("Run did not return after cancel")
		}
	}
}

func equalLines(a, b []string) bool {
	return strings.Join(a, "|") == strings.Join(b, "|")
}

// ============================================================
// LineReader Tests
// ============================================================

type chunkReader struct {
	chunks []string
}

func (r *chunkReader) Read(p []byte) (int, error) {
	if len(r.chunks) == 0 {
		return 0, nil
	}
	n := copy(p, r.chunks[0])
	r.chunks[0] = r.chunks[0][n:]
	if r.chunks[0] == "" {
		r.chunks = r.chunks[1:]
	}
	return n, nil
}

func TestLineReader_SplitsAcrossChunks(t *testing.T) {
	lr := NewLineReader(&chunkReader{chunks: []string{"press", "ure_a_0_1_1\nbat", "tery_b_0_3.7_1\r\n"}})

	want := []string{"pressure_a_0_1_1", "battery_b_0_3.7_1\r"}
	for _, w := range want {
		line, err := lr.ReadLine()
		if err != nil {
			t.Fatalf("ReadLine: %v", err)
		}
		if line != w {
			t.Errorf("Expected %q, got %q", w, line)
		}
	}

	if _, err := lr.ReadLine(); !errors.Is(err, ErrReadTimeout) {
		t.Errorf("Expected ErrReadTimeout on an idle port, got %v", err)
	}
}

func TestLineReader_DropsOverlongLine(t *testing.T) {
	long := strings.Repeat("x", MaxLineLength+10)
	lr := NewLineReader(&chunkReader{chunks: []string{long, "tail\nnext\n"}})

	var gotTooLong bool
	for i := 0; i < 100; i++ {
		line, err := lr.ReadLine()
		if errors.Is(err, ErrLineTooLong) {
			gotTooLong = true
			continue
		}
		if err != nil {
			t.Fatalf("ReadLine: %v", err)
		}
		if line != "next" {
			t.Errorf("Expected tail of the long line to be dropped, got %q", line)
		}
		break
	}
	if !gotTooLong {
		t.Error("Expected ErrLineTooLong")
	}
}

func TestLineReader_PassesTransportError(t *testing.T) {
	lr := NewLineReader(iotestErrReader{io.EOF})
	if _, err := lr.ReadLine(); !errors.Is(err, io.EOF) {
		t.Errorf("Expected io.EOF, got %v", err)
	}
}

type iotestErrReader struct{ err error }

func (r iotestErrReader) Read([]byte) (int, error) { return 0, r.err }

// ============================================================
// Classification Tests
// ============================================================

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorClass
	}{
		{"timeout", ErrReadTimeout, ClassTimeout},
		{"eof", io.EOF, ClassDisconnected},
		{"closed port", ErrConnectionClosed, ClassDisconnected},
		{"os closed", os.ErrClosed, ClassDisconnected},
		{"serial busy", &serial.PortError{}, ClassTransient},
		{"websocket close", &websocket.CloseError{Code: websocket.CloseGoingAway}, ClassDisconnected},
		{"line too long", ErrLineTooLong, ClassTransient},
		{"other", errors.New("framing error"), ClassTransient},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.err); got != tt.want {
				t.Errorf("Classify(%v) = %v, expected %v", tt.err, got, tt.want)
			}
		})
	}
}

// ============================================================
// Session Tests
// ============================================================

func TestSession_ProbedLineIsDispatched(t *testing.T) {
	port := newScriptPort(readResult{data: "\n"}, readResult{data: "pressure_a_0_1_1\n"}, readResult{data: "ack_x\n"})
	d := &portDialer{ports: []*scriptPort{port}}
	h := &lineCollector{}

	cfg := fastConfig()
	cfg.Probe = true
	s := NewSession(cfg, d.dial, h, rigstate.NewCommandQueue(), nil)
	stop := startSession(t, s)

	waitFor(t, "two lines", func() bool { return len(h.all()) == 2 })
	stop()

	if want := []string{"pressure_a_0_1_1", "ack_x"}; !equalLines(h.all(), want) {
		t.Errorf("Expected %v, got %v", want, h.all())
	}
	if s.SessionID() == "" {
		t.Error("Expected a session id after connecting")
	}
}

func TestSession_ReconnectsAfterDisconnect(t *testing.T) {
	first := newScriptPort(readResult{data: "one\n"}, readResult{err: io.EOF})
	second := newScriptPort(readResult{data: "two\n"})
	d := &portDialer{ports: []*scriptPort{first, second}}
	h := &lineCollector{}

	s := NewSession(fastConfig(), d.dial, h, rigstate.NewCommandQueue(), nil)
	stop := startSession(t, s)

	waitFor(t, "line from second port", func() bool { return len(h.all()) == 2 })
	stop()

	if !equalLines(h.all(), []string{"one", "two"}) {
		t.Errorf("Unexpected lines %v", h.all())
	}
	if !first.isClosed() {
		t.Error("Lost port should be closed")
	}
	if d.count() != 2 {
		t.Errorf("Expected 2 dials, got %d", d.count())
	}
	if s.Reconnects() != 1 {
		t.Errorf("Expected 1 reconnect, got %d", s.Reconnects())
	}
}

func TestSession_WritesQueueInOrder(t *testing.T) {
	port := newScriptPort()
	d := &portDialer{ports: []*scriptPort{port}}
	q := rigstate.NewCommandQueue()
	for _, cmd := range []string{"A", "B", "C"} {
		q.Enqueue(cmd)
	}

	s := NewSession(fastConfig(), d.dial, &lineCollector{}, q, nil)
	stop := startSession(t, s)

	waitFor(t, "three writes", func() bool { return port.writtenString() == "A\nB\nC\n" })
	q.Enqueue("D")
	waitFor(t, "fourth write", func() bool { return port.writtenString() == "A\nB\nC\nD\n" })
	stop()
}

func TestSession_FailedWriteRequeuesRemainder(t *testing.T) {
	first := newScriptPort()
	first.failWrite = 2
	second := newScriptPort()
	d := &portDialer{ports: []*scriptPort{first, second}}
	q := rigstate.NewCommandQueue()
	for _, cmd := range []string{"A", "B", "C"} {
		q.Enqueue(cmd)
	}

	s := NewSession(fastConfig(), d.dial, &lineCollector{}, q, nil)
	stop := startSession(t, s)

	waitFor(t, "retry on second port", func() bool { return second.writtenString() == "B\nC\n" })
	stop()

	if got := first.writtenString(); got != "A\n" {
		t.Errorf("First port should only hold A, got %q", got)
	}
}

func TestSession_TransientErrorResetsInput(t *testing.T) {
	port := newScriptPort(readResult{err: errors.New("framing error")}, readResult{data: "ok\n"})
	d := &portDialer{ports: []*scriptPort{port}}
	h := &lineCollector{}

	s := NewSession(fastConfig(), d.dial, h, rigstate.NewCommandQueue(), nil)
	stop := startSession(t, s)

	waitFor(t, "line after error", func() bool { return len(h.all()) == 1 })
	stop()

	if port.resetCount() != 1 {
		t.Errorf("Expected one input reset, got %d", port.resetCount())
	}
	if d.count() != 1 {
		t.Errorf("Transient error should not reconnect, got %d dials", d.count())
	}
	if s.ReadErrors() != 1 {
		t.Errorf("Expected 1 read error, got %d", s.ReadErrors())
	}
}

func TestSession_OverlongLineIsDroppedWhole(t *testing.T) {
	var reads []readResult
	for i := 0; i < 20; i++ {
		reads = append(reads, readResult{data: strings.Repeat("x", 256)})
	}
	reads = append(reads, readResult{data: "tail\n"}, readResult{data: "pressure_a_0_1_1\n"})
	port := newScriptPort(reads...)
	d := &portDialer{ports: []*scriptPort{port}}
	h := &lineCollector{}

	cfg := fastConfig()
	cfg.MaxReadErrors = 1
	s := NewSession(cfg, d.dial, h, rigstate.NewCommandQueue(), nil)
	stop := startSession(t, s)

	waitFor(t, "line after overlong line", func() bool { return len(h.all()) >= 1 })
	stop()

	if want := []string{"pressure_a_0_1_1"}; !equalLines(h.all(), want) {
		t.Errorf("Expected %v, got %d lines", want, len(h.all()))
	}
	if s.ReadErrors() != 0 {
		t.Errorf("Overlong line should not count as a read error, got %d", s.ReadErrors())
	}
	if port.resetCount() != 0 {
		t.Errorf("Overlong line should not reset input, got %d resets", port.resetCount())
	}
	if d.count() != 1 {
		t.Errorf("Overlong line should not reconnect, got %d dials", d.count())
	}
}

func TestSession_TooManyReadErrorsReconnects(t *testing.T) {
	bad := errors.New("framing error")
	first := newScriptPort(readResult{err: bad}, readResult{err: bad})
	second := newScriptPort(readResult{data: "ok\n"})
	d := &portDialer{ports: []*scriptPort{first, second}}
	h := &lineCollector{}

	cfg := fastConfig()
	cfg.MaxReadErrors = 2
	s := NewSession(cfg, d.dial, h, rigstate.NewCommandQueue(), nil)
	stop := startSession(t, s)

	waitFor(t, "line from second port", func() bool { return len(h.all()) == 1 })
	stop()

	if d.count() != 2 {
		t.Errorf("Expected reconnect, got %d dials", d.count())
	}
}

func TestSession_ProbeTimeoutRetries(t *testing.T) {
	silent := newScriptPort()
	live := newScriptPort(readResult{data: "pressure_a_0_1_1\n"})
	d := &portDialer{ports: []*scriptPort{silent, live}}
	h := &lineCollector{}

	cfg := fastConfig()
	cfg.Probe = true
	cfg.ProbeTimeout = 20 * time.Millisecond
	s := NewSession(cfg, d.dial, h, rigstate.NewCommandQueue(), nil)
	stop := startSession(t, s)

	waitFor(t, "probe on second port", func() bool { return len(h.all()) == 1 })
	stop()

	if !silent.isClosed() {
		t.Error("Port that failed the probe should be closed")
	}
	if s.Reconnects() != 0 {
		t.Errorf("Failed probe is not a connection, got %d reconnects", s.Reconnects())
	}
}

func TestSession_DeadLinkReconnects(t *testing.T) {
	silent := newScriptPort()
	live := newScriptPort()
	d := &portDialer{ports: []*scriptPort{silent, live}}

	cfg := fastConfig()
	cfg.DeadLinkTimeout = 20 * time.Millisecond
	s := NewSession(cfg, d.dial, &lineCollector{}, rigstate.NewCommandQueue(), nil)
	stop := startSession(t, s)

	waitFor(t, "second dial", func() bool { return d.count() >= 2 })
	stop()

	if !silent.isClosed() {
		t.Error("Dead port should be closed")
	}
}

func TestSession_ShutdownClosesPort(t *testing.T) {
	port := newScriptPort()
	d := &portDialer{ports: []*scriptPort{port}}

	var mu sync.Mutex
	var states []State

	s := NewSession(fastConfig(), d.dial, &lineCollector{}, rigstate.NewCommandQueue(), nil)
	s.OnStateChange(func(st State) {
		mu.Lock()
		states = append(states, st)
		mu.Unlock()
	})
	stop := startSession(t, s)

	waitFor(t, "connected", func() bool { return s.State() == StateConnected })
	stop()

	if !port.isClosed() {
		t.Error("Port should be closed on shutdown")
	}
	if s.State() != StateDisconnected {
		t.Errorf("Expected DISCONNECTED, got %v", s.State())
	}

	mu.Lock()
	defer mu.Unlock()
	want := []State{StateConnecting, StateConnected, StateDisconnected}
	if len(states) != len(want) {
		t.Fatalf("Expected transitions %v, got %v", want, states)
	}
	for i := range want {
		if states[i] != want[i] {
			t.Errorf("Transition %d: expected %v, got %v", i, want[i], states[i])
		}
	}
}

func TestSession_RunWithCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	d := &portDialer{}
	s := NewSession(fastConfig(), d.dial, &lineCollector{}, rigstate.NewCommandQueue(), nil)
	if err := s.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
	if d.count() != 0 {
		t.Error("Should not dial with a cancelled context")
	}
}

func TestSession_DialFailureBacksOff(t *testing.T) {
	d := &portDialer{}
	cfg := fastConfig()
	cfg.ReconnectBackoff = 20 * time.Millisecond
	s := NewSession(cfg, d.dial, &lineCollector{}, rigstate.NewCommandQueue(), nil)
	stop := startSession(t, s)

	time.Sleep(70 * time.Millisecond)
	stop()

	// Roughly one attempt per backoff period, never a tight loop
	if n := d.count(); n < 2 || n > 6 {
		t.Errorf("Expected a handful of dial attempts, got %d", n)
	}
}

// ============================================================
// Writer and fake port Tests
// ============================================================

type shortWriter struct{}

func (shortWriter) Write(p []byte) (int, error) { return len(p) - 1, nil }

func TestWriteCommands(t *testing.T) {
	var sb strings.Builder
	n, err := WriteCommands(&sb, []string{"open_1", "close_2"})
	if err != nil || n != 2 {
		t.Fatalf("WriteCommands = %d, %v", n, err)
	}
	if sb.String() != "open_1\nclose_2\n" {
		t.Errorf("Unexpected output %q", sb.String())
	}

	n, err = WriteCommands(shortWriter{}, []string{"x"})
	if !errors.Is(err, io.ErrShortWrite) || n != 0 {
		t.Errorf("Expected short write at 0, got %d, %v", n, err)
	}
}

func TestFakePort(t *testing.T) {
	fake := NewFakePort(FakeLine, time.Hour)
	fake.SetReadTimeout(10 * time.Millisecond)
	lr := NewLineReader(fake)

	line, err := lr.ReadLine()
	if err != nil || line != FakeLine {
		t.Fatalf("Expected %q, got %q (%v)", FakeLine, line, err)
	}
	if _, err := lr.ReadLine(); !errors.Is(err, ErrReadTimeout) {
		t.Errorf("Expected timeout before the next line, got %v", err)
	}

	WriteCommands(fake, []string{"a", "b"})
	if got := fake.Written(); !equalLines(got, []string{"a", "b"}) {
		t.Errorf("Written() = %v", got)
	}

	fake.Close()
	if _, err := lr.ReadLine(); Classify(err) != ClassDisconnected {
		t.Errorf("Expected disconnect after Close, got %v", err)
	}
}
