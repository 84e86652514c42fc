// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package rigstate

import (
	"errors"
	"strings"
	"sync"
)

var (
	// ErrEmptyCommand is returned when enqueueing an empty command.
	ErrEmptyCommand = errors.New("rigstate: command is empty")

	// ErrMultilineCommand is returned when a command contains a line
	// terminator, which would split it into several frames on the wire.
	ErrMultilineCommand = errors.New("rigstate: command contains a newline")
)

// CommandQueue is a strict FIFO of control commands awaiting transmission.
// There is no de-duplication and no priority.
type CommandQueue struct {
	mu    sync.Mutex
	items []string
}

// NewCommandQueue creates an empty queue
func NewCommandQueue() *CommandQueue {
	return &CommandQueue{}
}

// Enqueue appends a command to the tail of the queue
func (q *CommandQueue) Enqueue(cmd string) error {
	if cmd == "" {
		return ErrEmptyCommand
	}
	if strings.ContainsAny(cmd, "\r\n") {
		return ErrMultilineCommand
	}

	q.mu.Lock()
	q.items = append(q.items, cmd)
	q.mu.Unlock()
	return nil
}

// Drain removes and returns every queued command in enqueue order
func (q *CommandQueue) Drain() []string {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return nil
	}
	out := q.items
	q.items = nil
	return out
}

// Requeue puts unsent commands back at the head of the queue, ahead of
// anything enqueued since they were drained, preserving their order
func (q *CommandQueue) Requeue(cmds []string) {
	if len(cmds) == 0 {
		return
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	items := make([]string, 0, len(cmds)+len(q.items))
	items = append(items, cmds...)
	q.items = append(items, q.items...)
}

// Discard drops all queued commands and returns how many were dropped
func (q *CommandQueue) Discard() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := len(q.items)
	q.items = nil
	return n
}

// Len returns the number of queued commands
func (q *CommandQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
