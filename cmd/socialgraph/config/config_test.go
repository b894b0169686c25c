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
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func envMap(m map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := m[key]
		return v, ok
	}
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{EnvStore, EnvNeo4jURI, EnvNeo4jAuth, EnvNeo4jDatabase, EnvLogLevel} {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}
}

func TestDefaultConfig_IsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, BackendBadger, cfg.Store.Backend)
	assert.Equal(t, CurrentConfigVersion, cfg.Meta.Version)
	assert.Equal(t, "none", cfg.Telemetry.TraceExporter)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown backend", func(c *Config) { c.Store.Backend = "sqlite" }},
		{"badger without path", func(c *Config) { c.Store.Path = "" }},
		{"neo4j without uri", func(c *Config) { c.Store.Backend = BackendNeo4j; c.Neo4j.URI = "" }},
		{"port out of range", func(c *Config) { c.Server.Port = 70000 }},
		{"negative rate", func(c *Config) { c.Server.RateLimit = -1 }},
		{"bad log level", func(c *Config) { c.Log.Level = "loud" }},
		{"bad exporter", func(c *Config) { c.Telemetry.TraceExporter = "zipkin" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
		})
	}

	t.Run("in-memory badger needs no path", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Store.Path = ""
		cfg.Store.InMemory = true
		assert.NoError(t, cfg.Validate())
	})
}

func TestApplyEnv(t *testing.T) {
	cfg := DefaultConfig()
	ApplyEnv(&cfg, envMap(map[string]string{
		EnvStore:         " Neo4j ",
		EnvNeo4jURI:      "bolt://db:7687",
		EnvNeo4jAuth:     "none",
		EnvNeo4jDatabase: "people",
		EnvLogLevel:      "DEBUG",
	}))

	assert.Equal(t, BackendNeo4j, cfg.Store.Backend)
	assert.Equal(t, "bolt://db:7687", cfg.Neo4j.URI)
	assert.Equal(t, "none", cfg.Neo4j.Auth)
	assert.Equal(t, "people", cfg.Neo4j.Database)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.NoError(t, cfg.Validate())
}

func TestApplyEnv_EmptyValuesKeepFile(t *testing.T) {
	cfg := DefaultConfig()
	ApplyEnv(&cfg, envMap(map[string]string{EnvStore: "", EnvLogLevel: ""}))
	assert.Equal(t, BackendBadger, cfg.Store.Backend)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestCreateDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "deep", "nested", "socialgraph.yaml")
	require.NoError(t, createDefault(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var cfg Config
	require.NoError(t, yaml.Unmarshal(data, &cfg))
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoad_FirstRunCreatesDefault(t *testing.T) {
	clearEnv(t)
	home := t.TempDir()
	t.Setenv("HOME", home)

	cfg, path, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, ".socialgraph", "socialgraph.yaml"), path)
	assert.FileExists(t, path)
	assert.Equal(t, DefaultConfig(), *cfg)
}

func TestLoad_PartialFileKeepsDefaults(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "sg.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: 9000\nlog:\n  level: warn\n"), 0644))

	cfg, got, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, path, got)
	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, DefaultConfig().Store, cfg.Store)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	clearEnv(t)
	t.Setenv(EnvLogLevel, "error")
	path := filepath.Join(t.TempDir(), "sg.yaml")
	require.NoError(t, os.WriteFile(path, []byte("log:\n  level: debug\n"), 0644))

	cfg, _, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "error", cfg.Log.Level)
}

func TestLoad_Errors(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()

	_, _, err := Load(filepath.Join(dir, "missing.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)

	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("server: [1, 2"), 0644))
	_, _, err = Load(bad)
	assert.Error(t, err)

	invalid := filepath.Join(dir, "invalid.yaml")
	require.NoError(t, os.WriteFile(invalid, []byte("store:\n  backend: sqlite\n"), 0644))
	_, _, err = Load(invalid)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestExpandPath(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	assert.Equal(t, filepath.Join(home, "data"), ExpandPath("~/data"))
	assert.Equal(t, home, ExpandPath("~"))
	assert.Equal(t, "/var/lib/sg", ExpandPath("/var/lib/sg"))
	assert.Equal(t, "~other/x", ExpandPath("~other/x"))
}

func TestWatcher_ReloadsOnWrite(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "sg.yaml")
	require.NoError(t, os.WriteFile(path, []byte("log:\n  level: info\n"), 0644))

	changes := make(chan *Config, 8)
	w := NewWatcher(path, 20*time.Millisecond, func(cfg *Config) { changes <- cfg }, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	// Keep writing until the watch is established and a reload lands.
	deadline := time.After(5 * time.Second)
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	var got *Config
	for got == nil {
		select {
		case got = <-changes:
		case <-ticker.C:
			require.NoError(t, os.WriteFile(path, []byte("log:\n  level: debug\n"), 0644))
		case <-deadline:
			t.Fatal("no reload within 5s")
		}
	}
	assert.Equal(t, "debug", got.Log.Level)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestWatcher_SkipsInvalidFile(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "sg.yaml")
	require.NoError(t, os.WriteFile(path, []byte("store:\n  backend: sqlite\n"), 0644))

	called := false
	w := NewWatcher(path, 0, func(*Config) { called = true }, nil)
	w.reload()
	assert.False(t, called)
	assert.Equal(t, DefaultDebounce, w.debounce)
}

func TestWatcher_Relevant(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sg.yaml")
	w := NewWatcher(path, 0, nil, nil)

	assert.True(t, w.relevant(fsnotify.Event{Name: path, Op: fsnotify.Write}))
	assert.True(t, w.relevant(fsnotify.Event{Name: path, Op: fsnotify.Create}))
	assert.False(t, w.relevant(fsnotify.Event{Name: path, Op: fsnotify.Chmod}))
	assert.False(t, w.relevant(fsnotify.Event{Name: filepath.Join(dir, "other.yaml"), Op: fsnotify.Write}))
}
