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
	"fmt"
	"log/slog"
	"sort"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/perfgate/pkg/ux"
	"github.com/AleutianAI/perfgate/pkg/validation"
	"github.com/AleutianAI/perfgate/services/perfgate/metrics"
)

var (
	importExecutions []string

	metricsCmd = &cobra.Command{
		Use:   "metrics",
		Short: "Inspect and import execution metrics",
	}

	metricsListCmd = &cobra.Command{
		Use:   "list",
		Short: "List the executions and metric keys of the metrics file",
		Args:  cobra.NoArgs,
		RunE:  runMetricsList,
	}

	metricsImportCmd = &cobra.Command{
		Use:   "import <metrics.yaml>",
		Short: "Write executions from a metrics file to InfluxDB",
		Long: `Reads a metrics YAML file and writes every execution (or only those
named with --execution) to the InfluxDB bucket configured under
sources.metrics.influx.`,
		Args: cobra.ExactArgs(1),
		RunE: runMetricsImport,
	}
)

func init() {
	metricsImportCmd.Flags().StringArrayVarP(&importExecutions, "execution", "e", nil, "Only import this execution (repeatable)")
	metricsCmd.AddCommand(metricsListCmd, metricsImportCmd)
}

// metricsWriter is the write side of the InfluxDB source.
type metricsWriter interface {
	Write(ctx context.Context, executionID string, set metrics.Set) error
}

func runMetricsList(cmd *cobra.Command, _ []string) error {
	if appConfig.Sources.Metrics.Type != "file" {
		return fmt.Errorf("metrics list reads the metrics file; sources.metrics.type is %q", appConfig.Sources.Metrics.Type)
	}
	src, err := metrics.LoadFile(appConfig.Sources.Metrics.File)
	if err != nil {
		return err
	}
	for _, id := range src.Executions() {
		set, err := src.Metrics(cmd.Context(), id)
		if err != nil {
			return err
		}
		ux.Title(cmd.OutOrStdout(), id)
		for _, key := range sortedFlatKeys(set) {
			ux.Bullet(cmd.OutOrStdout(), key)
		}
	}
	return nil
}

func runMetricsImport(cmd *cobra.Command, args []string) error {
	src, err := metrics.LoadFile(args[0])
	if err != nil {
		return err
	}
	sink, err := newInfluxSource(appConfig.Sources.Metrics.Influx, appLogger.Slog())
	if err != nil {
		return err
	}
	defer sink.Close()

	n, err := importMetrics(cmd.Context(), src, sink, importExecutions)
	if err != nil {
		return err
	}
	ux.Field(cmd.OutOrStdout(), "Imported executions", fmt.Sprint(n))
	return nil
}

// importMetrics copies the selected executions (all when only is empty)
// from src to sink and returns how many were written.
func importMetrics(ctx context.Context, src *metrics.MemorySource, sink metricsWriter, only []string) (int, error) {
	ids := only
	if len(ids) == 0 {
		ids = src.Executions()
	}
	if err := validation.ValidateIdentifiers(ids); err != nil {
		return 0, err
	}
	for i, id := range ids {
		set, err := src.Metrics(ctx, id)
		if err != nil {
			return i, err
		}
		if err := sink.Write(ctx, id, set); err != nil {
			return i, fmt.Errorf("write %s: %w", id, err)
		}
		slog.Info("imported execution metrics", slog.String("execution_id", id), slog.Int("metrics", len(set)))
	}
	return len(ids), nil
}

func sortedFlatKeys(set metrics.Set) []string {
	flat := set.Flatten()
	keys := make([]string, 0, len(flat))
	for k := range flat {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
