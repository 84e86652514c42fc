// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package link

import (
	"bytes"
	"errors"
	"io"
	"net"
	"os"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"go.bug.st/serial"
)

// MaxLineLength bounds a line without a terminator
const MaxLineLength = 4096

var (
	// ErrReadTimeout means no complete line arrived within the read timeout
	ErrReadTimeout = errors.New("link: read timeout")

	// ErrLineTooLong means MaxLineLength bytes arrived without a newline.
	// The partial line is dropped up to the next newline.
	ErrLineTooLong = errors.New("link: line too long")
)

// LineReader splits a Port's byte stream into newline-terminated lines
type LineReader struct {
	r          io.Reader
	chunk      []byte
	pending    []byte
	discarding bool
	lastData   time.Time
}

// NewLineReader creates a line reader over r
func NewLineReader(r io.Reader) *LineReader {
	return &LineReader{
		r:        r,
		chunk:    make([]byte, 256),
		lastData: time.Now(),
	}
}

// ReadLine returns the next line without its '\n'.
// It performs at most one underlying Read when no buffered line is ready.
func (lr *LineReader) ReadLine() (string, error) {
	for {
		if line, ok := lr.next(); ok {
			return line, nil
		}

		if len(lr.pending) > MaxLineLength {
			lr.pending = lr.pending[:0]
			lr.discarding = true
			return "", ErrLineTooLong
		}

		n, err := lr.r.Read(lr.chunk)
		if n > 0 {
			lr.lastData = time.Now()
			lr.pending = append(lr.pending, lr.chunk[:n]...)
		}
		if err != nil {
			return "", err
		}
		if n == 0 {
			return "", ErrReadTimeout
		}
	}
}

func (lr *LineReader) next() (string, bool) {
	for {
		i := bytes.IndexByte(lr.pending, '\n')
		if i < 0 {
			if lr.discarding {
				lr.pending = lr.pending[:0]
			}
			return "", false
		}

		line := string(lr.pending[:i])
		lr.pending = append(lr.pending[:0], lr.pending[i+1:]...)

		if lr.discarding {
			lr.discarding = false
			continue
		}
		return line, true
	}
}

// LastData returns when bytes last arrived (or when the reader was created)
func (lr *LineReader) LastData() time.Time {
	return lr.lastData
}

// Reset drops any partially received line
func (lr *LineReader) Reset() {
	lr.pending = lr.pending[:0]
	lr.discarding = false
}

// ErrorClass is how a read error affects the connection
type ErrorClass int

const (
	// ClassTimeout is a quiet link; the connection stays up
	ClassTimeout ErrorClass = iota
	// ClassTransient is a read error on a live port; the input buffer is reset
	ClassTransient
	// ClassDisconnected ends the connection
	ClassDisconnected
)

func (c ErrorClass) String() string {
	switch c {
	case ClassTimeout:
		return "timeout"
	case ClassTransient:
		return "transient"
	case ClassDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// Classify maps a transport error to its ErrorClass
func Classify(err error) ErrorClass {
	if errors.Is(err, ErrReadTimeout) {
		return ClassTimeout
	}

	if errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, ErrConnectionClosed) ||
		errors.Is(err, os.ErrClosed) ||
		errors.Is(err, net.ErrClosed) ||
		errors.Is(err, syscall.EIO) {
		return ClassDisconnected
	}

	var portErr *serial.PortError
	if errors.As(err, &portErr) {
		switch portErr.Code() {
		case serial.PortClosed, serial.PortNotFound, serial.InvalidSerialPort:
			return ClassDisconnected
		}
		return ClassTransient
	}

	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		return ClassDisconnected
	}

	return ClassTransient
}
