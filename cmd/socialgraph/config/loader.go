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
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Environment variables that override the file.
const (
	EnvStore         = "SOCIALGRAPH_STORE"
	EnvNeo4jURI      = "NEO4J_URI"
	EnvNeo4jAuth     = "NEO4J_AUTH"
	EnvNeo4jDatabase = "NEO4J_DATABASE"
	EnvLogLevel      = "LOG_LEVEL"
)

// DefaultPath returns ~/.socialgraph/socialgraph.yaml.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not find the user's home directory: %w", err)
	}
	return filepath.Join(home, ".socialgraph", "socialgraph.yaml"), nil
}

// Load reads the config file, applies environment overrides and validates
// the result.
//
// Description:
//
//	An empty path means DefaultPath, which is created with DefaultConfig on
//	first run. An explicit path must exist. Fields missing from the file keep
//	their defaults.
//
// Inputs:
//
//	path - Config file path, or "" for the default location.
//
// Outputs:
//
//	*Config - The loaded configuration.
//	string - The path actually read.
//	error - Read, parse or ErrInvalidConfig errors.
func Load(path string) (*Config, string, error) {
	if path == "" {
		def, err := DefaultPath()
		if err != nil {
			return nil, "", err
		}
		path = def
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			if err := createDefault(path); err != nil {
				return nil, "", err
			}
		}
	}

	cfg, err := ReadFile(path)
	if err != nil {
		return nil, "", err
	}
	ApplyEnv(cfg, os.LookupEnv)
	if err := cfg.Validate(); err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

// ReadFile decodes path over DefaultConfig without env overrides or
// validation.
func ReadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read the config file: %w", err)
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return &cfg, nil
}

// ApplyEnv overrides cfg from the environment. lookup is os.LookupEnv
// outside tests.
func ApplyEnv(cfg *Config, lookup func(string) (string, bool)) {
	if v, ok := lookup(EnvStore); ok && v != "" {
		cfg.Store.Backend = strings.ToLower(strings.TrimSpace(v))
	}
	if v, ok := lookup(EnvNeo4jURI); ok && v != "" {
		cfg.Neo4j.URI = v
	}
	if v, ok := lookup(EnvNeo4jAuth); ok {
		cfg.Neo4j.Auth = v
	}
	if v, ok := lookup(EnvNeo4jDatabase); ok {
		cfg.Neo4j.Database = v
	}
	if v, ok := lookup(EnvLogLevel); ok && v != "" {
		cfg.Log.Level = strings.ToLower(strings.TrimSpace(v))
	}
}

// ExpandPath expands a leading ~ to the user's home directory.
func ExpandPath(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[1:])
		}
	}
	return path
}

func createDefault(path string) error {
	fmt.Fprintf(os.Stderr, " First run detected, creating the config at %s\n", path)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create the config directory: %w", err)
	}
	data, err := yaml.Marshal(DefaultConfig())
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
