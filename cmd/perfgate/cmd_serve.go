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
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/AleutianAI/perfgate/cmd/perfgate/config"
	"github.com/AleutianAI/perfgate/services/perfgate"
	"github.com/AleutianAI/perfgate/services/perfgate/telemetry"
)

const telemetryFlushTimeout = 5 * time.Second

var (
	serveAddr  string
	serveDebug bool

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Run the perfgate HTTP API",
		Long: `Serves the evaluation and baseline API under /v1/perfgate and
Prometheus metrics under /metrics. With server.auth enabled every API
endpoint except health and readiness needs "Authorization: Bearer <token>".
SIGINT or SIGTERM drains in-flight requests before exiting.`,
		Args: cobra.NoArgs,
		RunE: runServe,
	}
)

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address, overrides server.address")
	serveCmd.Flags().BoolVar(&serveDebug, "debug", false, "Enable gin debug mode and request logging")
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	logger := appLogger.Slog()

	serverCfg := appConfig.Server
	if serveAddr != "" {
		serverCfg.Address = serveAddr
	}
	if serveDebug {
		serverCfg.Debug = true
	}
	if serverCfg.Debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	shutdownTelemetry, err := telemetry.Init(ctx, appConfig.Telemetry)
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), telemetryFlushTimeout)
		defer cancel()
		if err := shutdownTelemetry(flushCtx); err != nil {
			logger.Warn("telemetry shutdown failed", slog.String("error", err.Error()))
		}
	}()

	a, err := newApp(appConfig, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	if appConfig.Sources.WatchProfiles {
		if err := a.profiles.Watch(ctx); err != nil {
			return err
		}
		logger.Info("watching profile directory", slog.String("dir", appConfig.Sources.ProfilesDir))
	}

	access := accessExtensions(serverCfg, logger)
	defer func() {
		if err := access.AuditLogger.Flush(context.Background()); err != nil {
			logger.Warn("audit flush failed", slog.String("error", err.Error()))
		}
	}()
	if serverCfg.Auth.Enabled {
		logger.Info("api authentication enabled", slog.Int("tokens", len(serverCfg.Auth.Tokens)))
	}

	handlers := perfgate.NewHandlers(a.svc, perfgate.WithExtensions(access))
	router := perfgate.NewRouter(handlers, perfgate.RouterConfig{
		ServiceName: appConfig.Telemetry.ServiceName,
		RateLimit:   serverCfg.RateLimit,
		RateBurst:   serverCfg.RateBurst,
		Debug:       serverCfg.Debug,
	})

	return serveHTTP(ctx, &http.Server{
		Addr:         serverCfg.Address,
		Handler:      router,
		ReadTimeout:  serverCfg.ReadTimeout,
		WriteTimeout: serverCfg.WriteTimeout,
	}, serverCfg, logger)
}

// serveHTTP runs srv until ctx is done, then shuts it down gracefully.
func serveHTTP(ctx context.Context, srv *http.Server, cfg config.ServerConfig, logger *slog.Logger) error {
	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting perfgate server",
			slog.String("address", srv.Addr),
			slog.String("version", perfgate.ServiceVersion),
		)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down perfgate server")
	timeout := cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = config.DefaultConfig().Server.ShutdownTimeout
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown: %w", err)
	}
	return nil
}
