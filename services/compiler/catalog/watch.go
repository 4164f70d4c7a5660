// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package catalog

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// reloadDebounce coalesces bursts of write events from editors that save
// files in multiple syscalls.
const reloadDebounce = 250 * time.Millisecond

// Watcher reloads the catalog when its backing file changes.
//
// # Description
//
// Watches the catalog YAML file and swaps in a freshly loaded catalog on
// write. A reload that fails to parse or validate keeps the previous
// catalog in place, so a half-saved file never breaks lookups.
//
// # Thread Safety
//
// Current is safe for concurrent use. Start should only be called once.
type Watcher struct {
	path     string
	watcher  *fsnotify.Watcher
	callback func(*Catalog)

	mu      sync.RWMutex
	current *Catalog
}

// NewWatcher creates a watcher over the given catalog file.
//
// The initial catalog is loaded eagerly so Current never returns nil. The
// optional callback runs after every successful swap.
func NewWatcher(path string, callback func(*Catalog)) (*Watcher, error) {
	initial, err := LoadFile(path)
	if err != nil {
		return nil, err
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{
		path:     path,
		watcher:  fsw,
		callback: callback,
		current:  initial,
	}, nil
}

// Current returns the most recently loaded catalog.
func (w *Watcher) Current() *Catalog {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current
}

// Search delegates to the current catalog, so a *Watcher can stand anywhere
// a static catalog searcher is expected.
func (w *Watcher) Search(ctx context.Context, query string, limit int) ([]Hit, error) {
	return w.Current().Search(ctx, query, limit)
}

// Lookup delegates to the current catalog.
func (w *Watcher) Lookup(nodeType string) *Entry {
	return w.Current().Lookup(nodeType)
}

// Start begins watching the catalog file. Blocks until the context is
// cancelled. Should be run in a goroutine.
func (w *Watcher) Start(ctx context.Context) {
	if err := w.watcher.Add(w.path); err != nil {
		slog.Warn("Failed to watch catalog file",
			"path", w.path,
			"error", err)
		return
	}
	slog.Debug("Started watching catalog file", "path", w.path)

	var debounce *time.Timer
	var debounceC <-chan time.Time

	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if debounce == nil {
				debounce = time.NewTimer(reloadDebounce)
			} else {
				debounce.Reset(reloadDebounce)
			}
			debounceC = debounce.C

		case <-debounceC:
			debounceC = nil
			w.reload()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			slog.Warn("Catalog watcher error", "error", err)

		case <-ctx.Done():
			slog.Debug("Catalog watcher stopping")
			return
		}
	}
}

// reload loads the file and swaps the current catalog on success.
func (w *Watcher) reload() {
	next, err := LoadFile(w.path)
	if err != nil {
		slog.Warn("Catalog reload failed, keeping previous catalog",
			"path", w.path,
			"error", err)
		return
	}

	w.mu.Lock()
	w.current = next
	w.mu.Unlock()

	slog.Info("Catalog reloaded",
		"path", w.path,
		"version", next.Version(),
		"node_types", next.Len())

	if w.callback != nil {
		w.callback(next)
	}
}

// Stop stops the watcher. Safe to call multiple times.
func (w *Watcher) Stop() error {
	return w.watcher.Close()
}
