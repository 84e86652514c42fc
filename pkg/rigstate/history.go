// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package rigstate

import (
	"sync"
	"time"

	"github.com/via-fydp/Basestation-SW/pkg/rigproto"
)

// DefaultHistoryCapacity is the number of raw signals kept for diagnostics
const DefaultHistoryCapacity = 50

// Entry is one raw line received from the controller
type Entry struct {
	Text string        `json:"text" cbor:"text"`
	Kind rigproto.Kind `json:"kind" cbor:"kind"`
	At   time.Time     `json:"at" cbor:"at"`
}

// History is a fixed-capacity FIFO of the most recent raw signals.
// When full, the oldest entry is evicted before a new one is stored.
type History struct {
	mu      sync.RWMutex
	entries []Entry
	head    int // index of the oldest entry
	count   int
}

// NewHistory creates a ring holding at most capacity entries.
// Non-positive capacities select DefaultHistoryCapacity.
func NewHistory(capacity int) *History {
	if capacity <= 0 {
		capacity = DefaultHistoryCapacity
	}
	return &History{entries: make([]Entry, capacity)}
}

// Append stores an entry, evicting the oldest one when the ring is full
func (h *History) Append(e Entry) {
	h.mu.Lock()
	defer h.mu.Unlock()

	capacity := len(h.entries)
	if h.count < capacity {
		h.entries[(h.head+h.count)%capacity] = e
		h.count++
		return
	}

	// Full: overwrite the oldest slot and advance
	h.entries[h.head] = e
	h.head = (h.head + 1) % capacity
}

// Snapshot returns a copy of the stored entries, oldest first
func (h *History) Snapshot() []Entry {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]Entry, h.count)
	for i := 0; i < h.count; i++ {
		out[i] = h.entries[(h.head+i)%len(h.entries)]
	}
	return out
}

// Len returns the number of stored entries
func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.count
}

// Cap returns the ring capacity
func (h *History) Cap() int {
	return len(h.entries)
}
