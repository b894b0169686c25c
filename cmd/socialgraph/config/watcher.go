// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce is how long the watcher waits after the last event
// before reloading.
const DefaultDebounce = 250 * time.Millisecond

// ChangeHandler receives a reloaded, validated config.
type ChangeHandler func(cfg *Config)

// Watcher reloads the config file when it changes on disk.
//
// # Description
//
// Watches the file's directory rather than the file itself, so editors that
// save by rename-and-replace keep triggering reloads. Bursts of events are
// debounced. A file that fails to parse or validate is logged and skipped;
// the previous config stays in effect.
//
// # Thread Safety
//
// Run must be called once. The handler is called from Run's goroutine.
type Watcher struct {
	path     string
	debounce time.Duration
	onChange ChangeHandler
	logger   *slog.Logger
}

// NewWatcher creates a watcher for path. A debounce <= 0 uses
// DefaultDebounce; a nil logger discards output.
func NewWatcher(path string, debounce time.Duration, onChange ChangeHandler, logger *slog.Logger) *Watcher {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	return &Watcher{
		path:     filepath.Clean(abs),
		debounce: debounce,
		onChange: onChange,
		logger:   logger.With(slog.String("component", "config_watcher")),
	}
}

// Run watches until ctx is cancelled. It returns nil on cancellation.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer fw.Close()

	if err := fw.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(w.path), err)
	}
	w.logger.Info("watching config", slog.String("path", w.path))

	var (
		timer   *time.Timer
		pending <-chan time.Time
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if !w.relevant(event) {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.NewTimer(w.debounce)
			pending = timer.C

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watch error", slog.String("error", err.Error()))

		case <-pending:
			pending = nil
			w.reload()
		}
	}
}

func (w *Watcher) relevant(event fsnotify.Event) bool {
	if filepath.Clean(event.Name) != w.path {
		return false
	}
	return event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename)
}

func (w *Watcher) reload() {
	cfg, err := ReadFile(w.path)
	if err != nil {
		w.logger.Warn("config reload failed", slog.String("error", err.Error()))
		return
	}
	ApplyEnv(cfg, os.LookupEnv)
	if err := cfg.Validate(); err != nil {
		w.logger.Warn("reloaded config is invalid", slog.String("error", err.Error()))
		return
	}
	w.logger.Info("config reloaded", slog.String("path", w.path))
	if w.onChange != nil {
		w.onChange(cfg)
	}
}
