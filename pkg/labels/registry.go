// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package labels keeps the persisted mapping from controller device ids to
// human-assigned labels.
package labels

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

// DefaultFileName is the label file name next to the installed binary
const DefaultFileName = "device_config.json"

// ClearAll is the label value that clears every entry
const ClearAll = "all"

var (
	// ErrPersist wraps failures writing the label file. The in-memory change
	// has been applied but may not survive a restart.
	ErrPersist = errors.New("labels: persist failed")

	// ErrCorrupt is returned by Open (alongside a usable empty registry)
	// when the existing file cannot be parsed.
	ErrCorrupt = errors.New("labels: label file is corrupt")
)

// fileFormat is the on-disk layout, compatible with device_config.json
type fileFormat struct {
	Devices map[string]string `json:"devices"`
}

// Registry maps device ids to labels and writes the whole map to its file
// after every mutation.
type Registry struct {
	mu      sync.RWMutex
	path    string
	devices map[string]string
}

// Open loads the registry from path.
// A missing file yields an empty registry. A corrupt file also yields an
// empty registry, returned together with an error wrapping ErrCorrupt so the
// caller can log it and continue.
func Open(path string) (*Registry, error) {
	r := &Registry{
		path:    path,
		devices: make(map[string]string),
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return r, nil
	}
	if err != nil {
		return r, fmt.Errorf("%w: %w", ErrCorrupt, err)
	}

	var f fileFormat
	if err := json.Unmarshal(data, &f); err != nil {
		return r, fmt.Errorf("%w: %s: %w", ErrCorrupt, path, err)
	}
	for id, label := range f.Devices {
		r.devices[id] = label
	}
	return r, nil
}

// DefaultPath returns the label file location next to the running executable
func DefaultPath() (string, error) {
	exe, err := os.Executable()
	if err != nil {
		return "", fmt.Errorf("locating executable: %w", err)
	}
	return filepath.Join(filepath.Dir(exe), DefaultFileName), nil
}

// Path returns the backing file path
func (r *Registry) Path() string {
	return r.path
}

// Set assigns label to id, replacing any previous label
func (r *Registry) Set(id, label string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.devices[id] = label
	return r.save()
}

// Rename replaces the label oldLabel with newLabel on the first matching
// device and reports renamed=true.
//
// When no device carries oldLabel, oldLabel is taken as an id and labelled
// newLabel, and renamed is false.
func (r *Registry) Rename(oldLabel, newLabel string) (renamed bool, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if id, ok := r.findLocked(oldLabel); ok {
		r.devices[id] = newLabel
		renamed = true
	} else {
		r.devices[oldLabel] = newLabel
	}

	return renamed, r.save()
}

// Clear removes the first device carrying label, or every entry when label
// is ClearAll. The file is rewritten even when nothing matched.
func (r *Registry) Clear(label string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if label == ClearAll {
		r.devices = make(map[string]string)
	} else if id, ok := r.findLocked(label); ok {
		delete(r.devices, id)
	}

	return r.save()
}

// Label returns the label assigned to id
func (r *Registry) Label(id string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	label, ok := r.devices[id]
	return label, ok
}

// Translate returns the label for id, or id itself when it has none
func (r *Registry) Translate(id string) string {
	if label, ok := r.Label(id); ok {
		return label
	}
	return id
}

// All returns a copy of the id to label map
func (r *Registry) All() map[string]string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]string, len(r.devices))
	for id, label := range r.devices {
		out[id] = label
	}
	return out
}

// findLocked returns the first id (in sorted order) whose label matches
func (r *Registry) findLocked(label string) (string, bool) {
	ids := make([]string, 0, len(r.devices))
	for id := range r.devices {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		if r.devices[id] == label {
			return id, true
		}
	}
	return "", false
}

// save writes the whole map to a temp file and renames it over the target
func (r *Registry) save() error {
	data, err := json.MarshalIndent(fileFormat{Devices: r.devices}, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: %w", ErrPersist, err)
	}

	if dir := filepath.Dir(r.path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("%w: %w", ErrPersist, err)
		}
	}

	tmp := r.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("%w: %w", ErrPersist, err)
	}
	if err := os.Rename(tmp, r.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("%w: %w", ErrPersist, err)
	}
	return nil
}
