// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package neo4j

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// ErrInvalidAuth is returned when NEO4J_AUTH is not "user/password" or
// "none".
var ErrInvalidAuth = errors.New("invalid neo4j auth")

// Config holds connection settings for the Neo4j store.
type Config struct {
	// URI is the Bolt or Neo4j URI, e.g. "neo4j://localhost:7687".
	URI string

	// Username and Password authenticate with basic auth. An empty
	// Username connects without authentication.
	Username string
	Password string

	// Database selects a database on multi-database servers.
	// Empty uses the server default.
	Database string

	// MaxConnectionPoolSize caps open connections. 0 keeps the driver default.
	MaxConnectionPoolSize int

	// ConnectTimeout bounds socket connection setup.
	ConnectTimeout time.Duration

	// Logger receives store events. If nil, logging is disabled.
	Logger *slog.Logger
}

// DefaultConfig returns settings for a local Neo4j started with docker
// defaults.
func DefaultConfig() Config {
	return Config{
		URI:            "neo4j://localhost:7687",
		Username:       "neo4j",
		ConnectTimeout: 5 * time.Second,
	}
}

// WithAuth returns c with credentials taken from a NEO4J_AUTH style value.
//
// Description:
//
//	auth uses the format of the official Neo4j container image:
//	"user/password", or "none" to connect without authentication.
//
// Outputs:
//
//	Config - c with Username and Password set.
//	error - ErrInvalidAuth if auth is malformed.
func (c Config) WithAuth(auth string) (Config, error) {
	user, pass, err := ParseAuth(auth)
	if err != nil {
		return Config{}, err
	}
	c.Username, c.Password = user, pass
	return c, nil
}

// ParseAuth splits a NEO4J_AUTH value into username and password.
// "none" yields empty credentials. The password may contain '/'.
func ParseAuth(auth string) (username, password string, err error) {
	auth = strings.TrimSpace(auth)
	if strings.EqualFold(auth, "none") {
		return "", "", nil
	}
	user, pass, ok := strings.Cut(auth, "/")
	if !ok || user == "" {
		return "", "", fmt.Errorf("%w: expected user/password or none", ErrInvalidAuth)
	}
	return user, pass, nil
}
