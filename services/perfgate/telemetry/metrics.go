// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "perfgate"

var (
	// evaluationsTotal counts evaluations by overall outcome.
	evaluationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "evaluation",
		Name:      "total",
		Help:      "Evaluations by outcome",
	}, []string{"outcome"})

	// evaluationDuration measures end-to-end evaluation latency.
	evaluationDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "evaluation",
		Name:      "duration_seconds",
		Help:      "Evaluation latency in seconds",
		Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
	})

	// violationsTotal counts violations by severity. System violations are
	// labelled "system".
	violationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "evaluation",
		Name:      "violations_total",
		Help:      "Rule violations by severity",
	}, []string{"severity"})

	// completenessRatio tracks the distribution of metric completeness.
	completenessRatio = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "evaluation",
		Name:      "completeness_ratio",
		Help:      "Fraction of expected metrics present per evaluation",
		Buckets:   []float64{0.1, 0.25, 0.5, 0.75, 0.9, 1},
	})

	// comparisonsTotal counts baseline comparisons by overall outcome.
	comparisonsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "baseline",
		Name:      "comparisons_total",
		Help:      "Baseline comparisons by outcome",
	}, []string{"outcome"})

	// storeOpsTotal counts baseline store operations by op and status
	// (ok, not_found, error).
	storeOpsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "baseline",
		Name:      "store_operations_total",
		Help:      "Baseline store operations by op and status",
	}, []string{"op", "status"})

	// httpRequestsTotal counts API requests by route and status code.
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "HTTP requests by route and status",
	}, []string{"route", "status"})

	// rateLimitedTotal counts requests rejected by the limiter.
	rateLimitedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "rate_limited_total",
		Help:      "HTTP requests rejected by the rate limiter",
	})
)

// RecordEvaluation records one finished evaluation.
func RecordEvaluation(outcome string, d time.Duration, completeness float64, violationsBySeverity map[string]int) {
	evaluationsTotal.WithLabelValues(outcome).Inc()
	evaluationDuration.Observe(d.Seconds())
	completenessRatio.Observe(completeness)
	for severity, n := range violationsBySeverity {
		violationsTotal.WithLabelValues(severity).Add(float64(n))
	}
}

// RecordComparison records one baseline comparison.
func RecordComparison(outcome string) {
	comparisonsTotal.WithLabelValues(outcome).Inc()
}

// RecordStoreOp records one baseline store call.
func RecordStoreOp(op, status string) {
	storeOpsTotal.WithLabelValues(op, status).Inc()
}

// RecordHTTPRequest records one API request.
func RecordHTTPRequest(route string, status int) {
	httpRequestsTotal.WithLabelValues(route, statusClass(status)).Inc()
}

// RecordRateLimited records one rejected request.
func RecordRateLimited() {
	rateLimitedTotal.Inc()
}

func statusClass(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
