// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package depgraph

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce is how long the watcher waits for changes to settle.
const DefaultDebounce = 250 * time.Millisecond

// WatcherOptions configures a Watcher.
type WatcherOptions struct {
	// Debounce is the quiet period before a rescan. Default: 250ms.
	Debounce time.Duration

	// OnScan is called after every rescan, from the watcher goroutine.
	// May be nil.
	OnScan func(*Graph, error)
}

// WatcherOption is a functional option for configuring Watcher.
type WatcherOption func(*WatcherOptions)

// WithDebounce sets the debounce window.
func WithDebounce(d time.Duration) WatcherOption {
	return func(o *WatcherOptions) {
		o.Debounce = d
	}
}

// WithOnScan sets the rescan callback.
func WithOnScan(fn func(*Graph, error)) WatcherOption {
	return func(o *WatcherOptions) {
		o.OnScan = fn
	}
}

// Watcher keeps an Analyzer's graph current as source files change.
//
// # Description
//
// Watches root recursively (minus the analyzer's skip dirs). Creating,
// writing, removing or renaming a supported source file, or creating a
// directory, schedules a full rescan once events have been quiet for the
// debounce window. New directories are added to the watch set as they
// appear.
//
// # Thread Safety
//
// Run must be called once. The analyzer it feeds is safe to query from
// other goroutines while Run is active.
type Watcher struct {
	analyzer *Analyzer
	root     string
	opts     WatcherOptions
	watcher  *fsnotify.Watcher
	logger   *slog.Logger
}

// NewWatcher creates a watcher for root that rescans into a.
//
// # Outputs
//
//   - *Watcher: Ready for Run.
//   - error: ErrRootNotFound, or the fsnotify setup error.
func NewWatcher(a *Analyzer, root string, opts ...WatcherOption) (*Watcher, error) {
	options := WatcherOptions{Debounce: DefaultDebounce}
	for _, opt := range opts {
		opt(&options)
	}
	if options.Debounce <= 0 {
		options.Debounce = DefaultDebounce
	}

	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrRootNotFound, root)
	}
	if info, err := os.Stat(absRoot); err != nil || !info.IsDir() {
		return nil, fmt.Errorf("%w: %s", ErrRootNotFound, root)
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating fsnotify watcher: %w", err)
	}
	return &Watcher{
		analyzer: a,
		root:     absRoot,
		opts:     options,
		watcher:  fw,
		logger:   a.logger.With("component", "depgraph.Watcher"),
	}, nil
}

// Run scans once, then rescans on changes until ctx is done.
//
// # Outputs
//
//   - error: The initial scan error, or nil when ctx ends.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.watcher.Close()

	if err := w.addRecursive(w.root); err != nil {
		return fmt.Errorf("watching %s: %w", w.root, err)
	}
	g, err := w.analyzer.Scan(ctx, w.root)
	w.notify(g, err)
	if err != nil {
		return err
	}

	var timer *time.Timer
	var timerC <-chan time.Time
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if !w.relevant(event) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.opts.Debounce)
				timerC = timer.C
			} else {
				timer.Reset(w.opts.Debounce)
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("File watch error", "error", err)

		case <-timerC:
			timer = nil
			timerC = nil
			g, err := w.analyzer.Scan(ctx, w.root)
			if err != nil && errors.Is(err, context.Canceled) {
				return nil
			}
			if err != nil {
				w.logger.Warn("Rescan failed", "error", err)
			}
			w.notify(g, err)
		}
	}
}

func (w *Watcher) notify(g *Graph, err error) {
	if w.opts.OnScan != nil {
		w.opts.OnScan(g, err)
	}
}

// relevant reports whether event should trigger a rescan, adding newly
// created directories to the watch set on the way.
func (w *Watcher) relevant(event fsnotify.Event) bool {
	if w.underSkipped(event.Name) {
		return false
	}
	if event.Has(fsnotify.Create) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if w.analyzer.skipped(info.Name()) {
				return false
			}
			if err := w.addRecursive(event.Name); err != nil {
				w.logger.Debug("Could not watch new directory", "dir", event.Name, "error", err)
			}
			return true
		}
	}
	if _, ok := LanguageFor(event.Name); !ok {
		// A removed or renamed directory takes its sources with it.
		return event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename)
	}
	return event.Has(fsnotify.Create) || event.Has(fsnotify.Write) ||
		event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename)
}

// underSkipped reports whether p lies inside a skipped directory.
func (w *Watcher) underSkipped(p string) bool {
	rel, err := filepath.Rel(w.root, p)
	if err != nil {
		return false
	}
	dir := filepath.Dir(rel)
	for dir != "." && dir != string(filepath.Separator) && dir != "" {
		if w.analyzer.skipped(filepath.Base(dir)) {
			return true
		}
		dir = filepath.Dir(dir)
	}
	return false
}

// addRecursive watches dir and its subdirectories.
func (w *Watcher) addRecursive(dir string) error {
	return filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if p == dir {
				return err
			}
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if p != w.root && w.analyzer.skipped(d.Name()) {
			return filepath.SkipDir
		}
		return w.watcher.Add(p)
	})
}
