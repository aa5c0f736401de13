// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package influx reads and writes execution metrics in InfluxDB.
//
// Layout:
//
//	perf_aggregates  tags: execution_id, metric, unit, status
//	                 fields: one per aggregation (p50, p95, mean, ...), sample_count
//	perf_samples     tags: execution_id, metric, status
//	                 fields: duration_ns
package influx

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/AleutianAI/perfgate/pkg/validation"
	"github.com/AleutianAI/perfgate/services/perfgate/metrics"
)

const (
	measurementAggregates = "perf_aggregates"
	measurementSamples    = "perf_samples"

	fieldSampleCount = "sample_count"
	fieldDurationNs  = "duration_ns"
)

// Config holds connection settings.
type Config struct {
	URL    string
	Token  string
	Org    string
	Bucket string

	// Lookback bounds the query range. Default: 30 days.
	Lookback time.Duration
}

// Source implements metrics.Source on top of InfluxDB.
//
// Thread Safety: Safe for concurrent use; the underlying client is.
type Source struct {
	client   influxdb2.Client
	queryAPI api.QueryAPI
	writeAPI api.WriteAPIBlocking
	bucket   string
	lookback time.Duration
	logger   *slog.Logger
}

// NewSource connects to InfluxDB.
//
// Outputs:
//   - *Source: The source. Call Close when done.
//   - error: Non-nil if required settings are missing.
func NewSource(cfg Config, logger *slog.Logger) (*Source, error) {
	if cfg.URL == "" || cfg.Org == "" || cfg.Bucket == "" {
		return nil, fmt.Errorf("influx: url, org and bucket are required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	lookback := cfg.Lookback
	if lookback <= 0 {
		lookback = 30 * 24 * time.Hour
	}
	client := influxdb2.NewClient(cfg.URL, cfg.Token)
	return &Source{
		client:   client,
		queryAPI: client.QueryAPI(cfg.Org),
		writeAPI: client.WriteAPIBlocking(cfg.Org, cfg.Bucket),
		bucket:   cfg.Bucket,
		lookback: lookback,
		logger:   logger,
	}, nil
}

// Close releases the client.
func (s *Source) Close() {
	s.client.Close()
}

// Metrics implements metrics.Source.
func (s *Source) Metrics(ctx context.Context, executionID string) (metrics.Set, error) {
	if err := validation.ValidateIdentifier(executionID); err != nil {
		return nil, err
	}
	var rows []row
	for _, q := range []string{
		aggregateQuery(s.bucket, s.lookback, executionID),
		sampleQuery(s.bucket, s.lookback, executionID),
	} {
		result, err := s.queryAPI.Query(ctx, q)
		if err != nil {
			return nil, fmt.Errorf("influx query failed: %w", err)
		}
		for result.Next() {
			rec := result.Record()
			rows = append(rows, row{
				measurement: rec.Measurement(),
				time:        rec.Time(),
				values:      rec.Values(),
			})
		}
		if result.Err() != nil {
			return nil, fmt.Errorf("error reading influx results: %w", result.Err())
		}
	}

	set := decodeRows(rows)
	if len(set) == 0 {
		return nil, fmt.Errorf("%w: %s", metrics.ErrExecutionNotFound, executionID)
	}
	s.logger.Debug("metrics fetched from influx",
		slog.String("execution_id", executionID),
		slog.Int("metrics", len(set)),
	)
	return set, nil
}

// Write stores every metric of an execution.
func (s *Source) Write(ctx context.Context, executionID string, set metrics.Set) error {
	if err := validation.ValidateIdentifier(executionID); err != nil {
		return err
	}
	points := encodePoints(executionID, set)
	if err := s.writeAPI.WritePoint(ctx, points...); err != nil {
		return fmt.Errorf("influx write failed: %w", err)
	}
	return nil
}

// -----------------------------------------------------------------------------
// Flux
// -----------------------------------------------------------------------------

func escapeFlux(s string) string {
	return strings.ReplaceAll(strings.ReplaceAll(s, `\`, `\\`), `"`, `\"`)
}

func aggregateQuery(bucket string, lookback time.Duration, executionID string) string {
	return fmt.Sprintf(`
		from(bucket: "%s")
		  |> range(start: -%s)
		  |> filter(fn: (r) => r._measurement == "%s")
		  |> filter(fn: (r) => r.execution_id == "%s")
		  |> pivot(rowKey:["_time", "metric"], columnKey: ["_field"], valueColumn: "_value")
		  |> sort(columns: ["_time"], desc: false)
	`, escapeFlux(bucket), fluxDuration(lookback), measurementAggregates, escapeFlux(executionID))
}

func sampleQuery(bucket string, lookback time.Duration, executionID string) string {
	return fmt.Sprintf(`
		from(bucket: "%s")
		  |> range(start: -%s)
		  |> filter(fn: (r) => r._measurement == "%s")
		  |> filter(fn: (r) => r.execution_id == "%s")
		  |> filter(fn: (r) => r._field == "%s")
		  |> sort(columns: ["_time"], desc: false)
	`, escapeFlux(bucket), fluxDuration(lookback), measurementSamples, escapeFlux(executionID), fieldDurationNs)
}

// fluxDuration renders d in whole hours, the coarsest unit Flux accepts here.
func fluxDuration(d time.Duration) string {
	h := int64(d / time.Hour)
	if h < 1 {
		h = 1
	}
	return fmt.Sprintf("%dh", h)
}

// -----------------------------------------------------------------------------
// Decoding
// -----------------------------------------------------------------------------

type row struct {
	measurement string
	time        time.Time
	values      map[string]interface{}
}

// reservedColumns are pivot/annotation columns that are not aggregations.
var reservedColumns = map[string]bool{
	"result": true, "table": true, "_start": true, "_stop": true, "_time": true,
	"_measurement": true, "_field": true, "_value": true,
	"execution_id": true, "metric": true, "unit": true, "status": true,
	fieldSampleCount: true,
}

func decodeRows(rows []row) metrics.Set {
	byName := make(map[string]*metrics.Metric)
	var order []string
	get := func(name string) *metrics.Metric {
		m, ok := byName[name]
		if !ok {
			m = &metrics.Metric{Name: name, Aggregations: make(map[string]float64)}
			byName[name] = m
			order = append(order, name)
		}
		return m
	}

	for _, r := range rows {
		name, _ := r.values["metric"].(string)
		if name == "" {
			continue
		}
		m := get(name)
		switch r.measurement {
		case measurementAggregates:
			if unit, ok := r.values["unit"].(string); ok {
				m.Unit = unit
			}
			if status, ok := r.values["status"].(string); ok {
				m.Status = metrics.ParseStatus(status)
			}
			if r.time.After(m.ComputedAt) {
				m.ComputedAt = r.time.UTC()
			}
			if n, ok := toFloat(r.values[fieldSampleCount]); ok {
				m.SampleCount = int(n)
			}
			for k, v := range r.values {
				if reservedColumns[k] {
					continue
				}
				if f, ok := toFloat(v); ok {
					m.Aggregations[k] = f
				}
			}
		case measurementSamples:
			ns, ok := toFloat(r.values["_value"])
			if !ok {
				continue
			}
			status, _ := r.values["status"].(string)
			m.Samples = append(m.Samples, metrics.Sample{
				Timestamp: r.time.UTC(),
				Duration:  time.Duration(int64(ns)),
				Status:    status,
			})
		}
	}

	sort.Strings(order)
	set := make(metrics.Set, 0, len(order))
	for _, name := range order {
		m := byName[name]
		if m.SampleCount == 0 {
			m.SampleCount = len(m.Samples)
		}
		set = append(set, *m)
	}
	return set
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	default:
		return 0, false
	}
}

func encodePoints(executionID string, set metrics.Set) []*write.Point {
	var points []*write.Point
	for _, m := range set {
		ts := m.ComputedAt
		if ts.IsZero() {
			ts = time.Now().UTC()
		}
		p := influxdb2.NewPointWithMeasurement(measurementAggregates).
			AddTag("execution_id", executionID).
			AddTag("metric", m.Name).
			AddTag("unit", m.Unit).
			AddTag("status", m.Status.String()).
			AddField(fieldSampleCount, int64(m.SampleCount)).
			SetTime(ts)
		for _, agg := range m.AggregationNames() {
			p.AddField(agg, m.Aggregations[agg])
		}
		points = append(points, p)

		for _, s := range m.Samples {
			points = append(points, influxdb2.NewPointWithMeasurement(measurementSamples).
				AddTag("execution_id", executionID).
				AddTag("metric", m.Name).
				AddTag("status", s.Status).
				AddField(fieldDurationNs, int64(s.Duration)).
				SetTime(s.Timestamp))
		}
	}
	return points
}
