// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/AleutianAI/socialgraph/cmd/socialgraph/config"
	"github.com/AleutianAI/socialgraph/pkg/logging"
	"github.com/AleutianAI/socialgraph/services/graph"
	"github.com/AleutianAI/socialgraph/services/graph/migrations"
	"github.com/AleutianAI/socialgraph/services/graph/storage"
	badgerstore "github.com/AleutianAI/socialgraph/services/graph/storage/badger"
	neo4jstore "github.com/AleutianAI/socialgraph/services/graph/storage/neo4j"
)

// app bundles what every command needs: config, logger, store and the
// graph service built on them.
type app struct {
	cfg *config.Config
	// fileCfg is cfg as read from the file and environment, before any
	// command-line override. Config reloads are compared against it.
	fileCfg config.Config
	cfgPath string
	// levelPinned is set when --log-level fixed the level for this run.
	levelPinned bool
	log         *logging.Logger
	store       storage.Store
	svc         *graph.Service
}

// loadConfig reads the config from file and environment.
func loadConfig(opts *globalOptions) (*config.Config, string, error) {
	cfg, path, err := config.Load(opts.configPath)
	if err != nil {
		return nil, "", fmt.Errorf("load config: %w", err)
	}
	return cfg, path, nil
}

// applyGlobalFlags applies the --log-level override onto cfg.
func applyGlobalFlags(cfg *config.Config, opts *globalOptions) error {
	if opts.logLevel == "" {
		return nil
	}
	if _, err := logging.ParseLevel(opts.logLevel); err != nil {
		return err
	}
	cfg.Log.Level = opts.logLevel
	return nil
}

func newLogger(cfg *config.Config) *logging.Logger {
	level, _ := logging.ParseLevel(cfg.Log.Level)
	return logging.New(logging.Config{
		Level:   level,
		LogDir:  cfg.Log.Dir,
		Service: "socialgraph",
		JSON:    cfg.Log.JSON,
	})
}

// openApp loads config, opens the configured store and builds the service.
//
// Outputs:
//
//	*app - Ready to use. Caller must call close().
//	error - Config, logging or store errors.
func openApp(ctx context.Context, opts *globalOptions) (*app, error) {
	cfg, path, err := loadConfig(opts)
	if err != nil {
		return nil, err
	}
	fileCfg := *cfg
	if err := applyGlobalFlags(cfg, opts); err != nil {
		return nil, err
	}
	log := newLogger(cfg)

	store, err := openStore(ctx, cfg, log.Slog())
	if err != nil {
		_ = log.Close()
		return nil, err
	}

	runner := migrations.NewRunner(store, migrations.Default(), log.Slog())
	return &app{
		cfg:         cfg,
		fileCfg:     fileCfg,
		cfgPath:     path,
		levelPinned: opts.logLevel != "",
		log:         log,
		store:       store,
		svc:         graph.NewService(store, runner, log.Slog()),
	}, nil
}

func (a *app) close() error {
	return errors.Join(a.store.Close(), a.log.Close())
}

// openStore opens the backend named by cfg.Store.Backend.
func openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (storage.Store, error) {
	switch cfg.Store.Backend {
	case config.BackendNeo4j:
		ncfg, err := neo4jConfig(cfg, logger)
		if err != nil {
			return nil, err
		}
		store, err := neo4jstore.Open(ctx, ncfg)
		if err != nil {
			return nil, fmt.Errorf("open neo4j store: %w", err)
		}
		return store, nil

	case config.BackendBadger, "":
		bcfg := badgerstore.DefaultConfig(config.ExpandPath(cfg.Store.Path))
		bcfg.InMemory = cfg.Store.InMemory
		bcfg.SyncWrites = cfg.Store.SyncWrites
		bcfg.GCInterval = cfg.Store.GCInterval
		bcfg.Logger = logger.With(slog.String("store", "badger"))
		store, err := badgerstore.Open(bcfg)
		if err != nil {
			return nil, fmt.Errorf("open badger store at %s: %w", bcfg.Path, err)
		}
		return store, nil
	}
	return nil, fmt.Errorf("unknown store backend %q: %w", cfg.Store.Backend, config.ErrInvalidConfig)
}

// neo4jConfig overlays the neo4j section of cfg on the driver defaults.
// Zero values keep the default.
func neo4jConfig(cfg *config.Config, logger *slog.Logger) (neo4jstore.Config, error) {
	ncfg, err := neo4jstore.DefaultConfig().WithAuth(cfg.Neo4j.Auth)
	if err != nil {
		return neo4jstore.Config{}, err
	}
	if cfg.Neo4j.URI != "" {
		ncfg.URI = cfg.Neo4j.URI
	}
	if cfg.Neo4j.ConnectTimeout > 0 {
		ncfg.ConnectTimeout = cfg.Neo4j.ConnectTimeout
	}
	ncfg.Database = cfg.Neo4j.Database
	ncfg.MaxConnectionPoolSize = cfg.Neo4j.MaxConnectionPoolSize
	ncfg.Logger = logger.With(slog.String("store", "neo4j"))
	return ncfg, nil
}
