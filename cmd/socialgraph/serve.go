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
	"net/http"
	"os"
	"os/signal"
	"reflect"
	"syscall"
	"time"

	"github.com/AleutianAI/socialgraph/cmd/socialgraph/config"
	"github.com/AleutianAI/socialgraph/pkg/logging"
	"github.com/AleutianAI/socialgraph/services/graph"
	"github.com/AleutianAI/socialgraph/services/graph/telemetry"
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	"golang.org/x/sync/errgroup"
)

const serviceName = "socialgraph"

func newServeCmd(opts *globalOptions) *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the graph HTTP API",
		Long: `Serve the HTTP API together with the background verifier and a config
watcher. SIGINT or SIGTERM shuts everything down gracefully.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return withApp(cmd, opts, func(a *app) error {
				if cmd.Flags().Changed("port") {
					a.cfg.Server.Port = port
				}
				return serve(ctx, a)
			})
		},
	}
	cmd.Flags().IntVar(&port, "port", 0, "Listen port (overrides server.port)")
	return cmd
}

// serve runs until ctx is cancelled or a component fails.
func serve(ctx context.Context, a *app) error {
	log := a.log.Slog()

	shutdownTelemetry, err := telemetry.Init(ctx, telemetryConfig(a.cfg))
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(sctx); err != nil {
			log.Warn("telemetry shutdown failed", slog.String("error", err.Error()))
		}
	}()

	httpMetrics, err := telemetry.NewHTTPMetrics(otel.Meter(serviceName + ".http"))
	if err != nil {
		return err
	}

	var verifier *graph.Verifier
	if a.cfg.Server.VerifyInterval > 0 {
		verifier = graph.NewVerifier(a.svc, a.cfg.Server.VerifyInterval, log)
	}

	gin.SetMode(gin.ReleaseMode)
	router := newRouter(a.svc, verifier, a.cfg.Server, httpMetrics)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info("graph API listening",
			slog.String("addr", srv.Addr),
			slog.String("store", a.cfg.Store.Backend),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		timeout := a.cfg.Server.ShutdownTimeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		sctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		log.Info("shutting down")
		return srv.Shutdown(sctx)
	})

	if verifier != nil {
		g.Go(func() error { return verifier.Run(gctx) })
	}

	if a.cfgPath != "" {
		watcher := config.NewWatcher(a.cfgPath, 0, newReloader(a).apply, log)
		g.Go(func() error { return watcher.Run(gctx) })
	}

	return g.Wait()
}

// telemetryConfig maps the telemetry section of cfg onto telemetry.Config.
func telemetryConfig(cfg *config.Config) telemetry.Config {
	tcfg := telemetry.DefaultConfig()
	tcfg.ServiceName = serviceName
	tcfg.StoreBackend = cfg.Store.Backend
	tcfg.Traces = telemetry.Exporter(cfg.Telemetry.TraceExporter)
	tcfg.Metrics = telemetry.Exporter(cfg.Telemetry.MetricExporter)
	tcfg.SampleRatio = cfg.Telemetry.SampleRatio
	if cfg.Telemetry.OTLPEndpoint != "" {
		tcfg.OTLPEndpoint = cfg.Telemetry.OTLPEndpoint
	}
	return tcfg
}

// newRouter builds the engine: health, readiness and metrics at the root,
// the rate-limited graph API under /v1.
func newRouter(svc *graph.Service, verifier *graph.Verifier, cfg config.ServerConfig, m *telemetry.HTTPMetrics) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), telemetry.TracingMiddleware(serviceName))
	if m != nil {
		router.Use(telemetry.MetricsMiddleware(m))
	}

	handlers := graph.NewHandlers(svc)
	if verifier != nil {
		handlers = handlers.WithVerifier(verifier)
	}

	graph.RegisterHealthRoutes(router, handlers)
	if h := telemetry.MetricsHandler(); h != nil {
		router.GET("/metrics", gin.WrapH(h))
	}

	v1 := router.Group("/v1", graph.RateLimitMiddleware(cfg.RateLimit, cfg.RateBurst))
	graph.RegisterRoutes(v1, handlers)
	return router
}

// reloader applies config file changes to a running server.
//
// Description:
//
//	Reloaded configs are compared with the previous file config, never
//	with the running config, so command-line overrides such as --port do
//	not look like file changes. A level given with --log-level stays in
//	force until restart.
type reloader struct {
	log         *logging.Logger
	last        config.Config
	levelPinned bool
}

func newReloader(a *app) *reloader {
	return &reloader{log: a.log, last: a.fileCfg, levelPinned: a.levelPinned}
}

// apply is the config.ChangeHandler for the serve watcher.
func (r *reloader) apply(next *config.Config) {
	if next.Log.Level != r.last.Log.Level {
		if r.levelPinned {
			r.log.Info("log level is set by --log-level; ignoring config change",
				slog.String("config_level", next.Log.Level))
		} else if level, err := logging.ParseLevel(next.Log.Level); err == nil {
			r.log.SetLevel(level)
			r.log.Info("log level changed", slog.String("level", level.String()))
		}
	}
	if !reflect.DeepEqual(r.last.Store, next.Store) ||
		!reflect.DeepEqual(r.last.Neo4j, next.Neo4j) ||
		!reflect.DeepEqual(r.last.Server, next.Server) {
		r.log.Warn("store and server settings changed in the config file; restart to apply them")
	}
	r.last = *next
}
