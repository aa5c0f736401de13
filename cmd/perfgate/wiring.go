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
	"errors"
	"fmt"
	"log/slog"

	"github.com/AleutianAI/perfgate/cmd/perfgate/config"
	"github.com/AleutianAI/perfgate/pkg/extensions"
	"github.com/AleutianAI/perfgate/services/perfgate"
	"github.com/AleutianAI/perfgate/services/perfgate/baseline"
	"github.com/AleutianAI/perfgate/services/perfgate/eval"
	"github.com/AleutianAI/perfgate/services/perfgate/metrics"
	"github.com/AleutianAI/perfgate/services/perfgate/metrics/influx"
	"github.com/AleutianAI/perfgate/services/perfgate/profile"
	"github.com/AleutianAI/perfgate/services/perfgate/rules"
	"github.com/AleutianAI/perfgate/services/perfgate/scope"
	"github.com/AleutianAI/perfgate/services/perfgate/storage/badger"
)

// app holds a wired Service and everything that must be closed after it.
type app struct {
	svc      *perfgate.Service
	profiles *profile.DirSource
	closers  []func() error
}

// newApp builds the Service from configuration.
//
// Description:
//
//	Loads profiles from the profile directory, rules from the rules file,
//	and opens the metrics source and baseline store named by cfg. Anything
//	opened before a failure is closed again.
//
// Outputs:
//   - *app: The wired application. Call Close when done.
//   - error: Non-nil if any input cannot be loaded or opened.
func newApp(cfg config.Config, logger *slog.Logger) (_ *app, err error) {
	a := &app{}
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()

	registry := scope.NewRegistry()
	a.profiles, err = profile.NewDirSource(cfg.Sources.ProfilesDir,
		profile.WithRegistry(registry),
		profile.WithLogger(logger),
	)
	if err != nil {
		return nil, fmt.Errorf("load profiles: %w", err)
	}
	a.closers = append(a.closers, a.profiles.Close)

	ruleList, err := rules.LoadFile(cfg.Sources.RulesFile, rules.BuiltinChecks())
	if err != nil {
		return nil, fmt.Errorf("load rules: %w", err)
	}
	ruleSource, err := rules.NewMemorySource(ruleList...)
	if err != nil {
		return nil, fmt.Errorf("load rules: %w", err)
	}

	metricSource, err := a.openMetrics(cfg.Sources.Metrics, logger)
	if err != nil {
		return nil, err
	}

	store, err := a.openStore(cfg.Storage, cfg.Logging.Level == "debug", logger)
	if err != nil {
		return nil, err
	}

	minConfidence, err := baseline.NewConfidenceLevel(cfg.Evaluation.MinConfidence)
	if err != nil {
		return nil, err
	}
	policy := (&perfgate.PolicyRequest{
		Mode:   cfg.Evaluation.PartialMetrics,
		Except: cfg.Evaluation.PolicyExceptions,
	}).Policy()

	a.svc, err = perfgate.NewService(a.profiles, metricSource, ruleSource,
		perfgate.WithRegistry(registry),
		perfgate.WithStore(store),
		perfgate.WithEngine(eval.NewEngine(eval.WithDefaultPolicy(policy))),
		perfgate.WithComparator(baseline.NewComparator(baseline.WithMinConfidence(minConfidence))),
		perfgate.WithGate(cfg.Gate),
		perfgate.WithBatchConcurrency(cfg.Evaluation.BatchConcurrency),
		perfgate.WithLogger(logger),
	)
	if err != nil {
		return nil, err
	}
	return a, nil
}

func (a *app) openMetrics(cfg config.MetricsSourceConfig, logger *slog.Logger) (metrics.Source, error) {
	switch cfg.Type {
	case "influx":
		src, err := newInfluxSource(cfg.Influx, logger)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func() error {
			src.Close()
			return nil
		})
		return src, nil
	default:
		src, err := metrics.LoadFile(cfg.File)
		if err != nil {
			return nil, fmt.Errorf("load metrics: %w", err)
		}
		return src, nil
	}
}

func newInfluxSource(cfg config.InfluxConfig, logger *slog.Logger) (*influx.Source, error) {
	src, err := influx.NewSource(influx.Config{
		URL:      cfg.URL,
		Token:    cfg.Token,
		Org:      cfg.Org,
		Bucket:   cfg.Bucket,
		Lookback: cfg.Lookback,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("open influx metrics: %w", err)
	}
	return src, nil
}

func (a *app) openStore(cfg config.StorageConfig, verbose bool, logger *slog.Logger) (baseline.Store, error) {
	if cfg.Backend == "memory" {
		return baseline.NewMemoryStore(baseline.WithMemoryTTL(cfg.BaselineTTL)), nil
	}

	dbCfg := badger.DefaultConfig()
	dbCfg.Path = cfg.Path
	dbCfg.SyncWrites = cfg.SyncWrites
	dbCfg.GCInterval = cfg.GCInterval
	if verbose {
		dbCfg.Logger = logger
	}
	db, err := badger.Open(dbCfg)
	if err != nil {
		return nil, fmt.Errorf("open baseline store: %w", err)
	}
	a.closers = append(a.closers, db.Close)

	return baseline.NewBadgerStore(db,
		baseline.WithTTL(cfg.BaselineTTL),
		baseline.WithStoreLogger(logger),
	)
}

// Close releases every resource in reverse order of acquisition.
// accessExtensions builds the HTTP access hooks. Without auth every caller
// is the local admin; without audit_log nothing is recorded.
func accessExtensions(cfg config.ServerConfig, logger *slog.Logger) extensions.ServiceOptions {
	opts := extensions.DefaultOptions()
	if cfg.Auth.Enabled {
		tokens := make(map[string]extensions.AuthInfo, len(cfg.Auth.Tokens))
		for _, t := range cfg.Auth.Tokens {
			tokens[t.Token] = extensions.AuthInfo{UserID: t.User, Roles: t.Roles}
		}
		opts = opts.
			WithAuth(extensions.NewTokenAuthProvider(tokens)).
			WithAuthz(extensions.NewRoleAuthzProvider(extensions.DefaultRoleRules()))
	}
	if cfg.AuditLog {
		opts = opts.WithAudit(extensions.NewSlogAuditLogger(logger.With(slog.String("component", "audit"))))
	}
	return opts
}

func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
