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
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/AleutianAI/perfgate/pkg/ux"
	"github.com/AleutianAI/perfgate/services/perfgate"
	"github.com/AleutianAI/perfgate/services/perfgate/baseline"
	"github.com/AleutianAI/perfgate/services/perfgate/eval"
)

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'g', -1, 64)
}

func renderEvaluation(w io.Writer, res *eval.EvaluationResult) {
	ux.Title(w, "Evaluation "+res.Metadata.ExecutionID)
	ux.Field(w, "Outcome", ux.Decision(res.Outcome.String()))
	if res.Metadata.ProfileID != "" {
		ux.Field(w, "Profile", res.Metadata.ProfileID)
	}
	ux.Field(w, "Rules", fmt.Sprintf("%d evaluated, %d skipped", res.Metadata.RulesEvaluated, res.Metadata.RulesSkipped))
	ux.Field(w, "Completeness", fmt.Sprintf("%d/%d metrics (%.0f%%)",
		res.Completeness.MetricsProvided, res.Completeness.MetricsExpected, res.Completeness.Ratio*100))
	if len(res.Completeness.MissingMetrics) > 0 {
		ux.Field(w, "Missing", strings.Join(res.Completeness.MissingMetrics, ", "))
	}
	ux.Field(w, "Policy", res.Metadata.Policy)
	ux.Field(w, "Fingerprint", res.Fingerprint)

	if len(res.Violations) == 0 {
		return
	}
	rows := make([][]string, 0, len(res.Violations))
	for _, v := range res.Violations {
		actual := "-"
		if v.Actual != nil {
			actual = formatFloat(*v.Actual)
		}
		rows = append(rows, []string{v.RuleID, v.Metric, v.Expected, actual, v.Severity.String(), v.Message})
	}
	fmt.Fprintln(w, ux.Table([]string{"Rule", "Metric", "Expected", "Actual", "Severity", "Message"}, rows, -1))
}

func renderBatch(w io.Writer, results []perfgate.BatchResult) {
	rows := make([][]string, 0, len(results))
	for _, r := range results {
		switch {
		case r.Err != nil:
			rows = append(rows, []string{r.ExecutionID, "ERROR", r.Err.Error()})
		default:
			rows = append(rows, []string{r.ExecutionID, r.Result.Outcome.String(),
				fmt.Sprintf("%d violations", len(r.Result.Violations))})
		}
	}
	fmt.Fprintln(w, ux.Table([]string{"Execution", "Outcome", "Detail"}, rows, 1))
}

func renderResolve(w io.Writer, resp perfgate.ResolveResponse) {
	rows := make([][]string, 0, len(resp.Entries))
	for _, e := range resp.Entries {
		rows = append(rows, []string{e.Key, e.Type, fmt.Sprint(e.Value), e.Scope, strings.Join(e.Candidates, " > ")})
	}
	fmt.Fprintln(w, ux.Table([]string{"Key", "Type", "Value", "Scope", "Applied"}, rows, -1))
	ux.Field(w, "Resolved at", resp.ResolvedAt.Format(time.RFC3339))
}

func renderBaseline(w io.Writer, b *baseline.Baseline) {
	ux.Title(w, "Baseline "+b.ID())
	ux.Field(w, "Execution", b.ExecutionID())
	ux.Field(w, "Created", b.CreatedAt().Format(time.RFC3339))
	if b.Description() != "" {
		ux.Field(w, "Description", b.Description())
	}
	tolerances := b.Tolerances()
	rows := make([][]string, 0, len(b.Metrics()))
	for _, m := range b.Metrics() {
		tol := "-"
		if t, ok := tolerances.For(m.Type); ok {
			tol = t.String()
		}
		rows = append(rows, []string{m.Type, formatFloat(m.Value), tol})
	}
	fmt.Fprintln(w, ux.Table([]string{"Metric", "Value", "Tolerance"}, rows, -1))
}

func renderBaselineList(w io.Writer, list []*baseline.Baseline) {
	rows := make([][]string, 0, len(list))
	for _, b := range list {
		rows = append(rows, []string{b.ID(), b.ExecutionID(), b.CreatedAt().Format(time.RFC3339),
			strconv.Itoa(len(b.Metrics())), b.Description()})
	}
	fmt.Fprintln(w, ux.Table([]string{"ID", "Execution", "Created", "Metrics", "Description"}, rows, -1))
}

func renderComparison(w io.Writer, res *baseline.ComparisonResult) {
	ux.Title(w, "Comparison against "+res.BaselineID)
	ux.Field(w, "Outcome", ux.Decision(res.Outcome.String()))
	ux.Field(w, "Confidence", fmt.Sprintf("%.2f", res.Confidence))
	rows := make([][]string, 0, len(res.Metrics))
	for _, m := range res.Metrics {
		change := "-"
		if m.ChangePercent != nil {
			change = fmt.Sprintf("%+.1f%%", *m.ChangePercent)
		}
		rows = append(rows, []string{m.MetricName, formatFloat(m.BaselineValue), formatFloat(m.CurrentValue),
			change, m.Outcome.String()})
	}
	fmt.Fprintln(w, ux.Table([]string{"Metric", "Baseline", "Current", "Change", "Outcome"}, rows, 4))
	if len(res.MissingMetrics) > 0 {
		ux.Field(w, "Missing", strings.Join(res.MissingMetrics, ", "))
	}
}
