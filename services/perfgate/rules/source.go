// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package rules

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/perfgate/services/perfgate/profile"
)

// Source exposes a rule set.
type Source interface {
	Rules(ctx context.Context) ([]Rule, error)
}

// MemorySource is a fixed rule set.
type MemorySource struct {
	rules []Rule
}

// NewMemorySource validates and wraps rules.
//
// Outputs:
//   - *MemorySource: The source.
//   - error: Non-nil on a malformed rule or duplicate rule id.
func NewMemorySource(rules ...Rule) (*MemorySource, error) {
	seen := make(map[string]bool, len(rules))
	for _, r := range rules {
		if r == nil {
			return nil, fmt.Errorf("%w: nil rule", ErrMalformedRule)
		}
		if err := r.Validate(); err != nil {
			return nil, err
		}
		id := r.Info().ID
		if seen[id] {
			return nil, fmt.Errorf("%w: duplicate rule id %q", ErrMalformedRule, id)
		}
		seen[id] = true
	}
	cp := make([]Rule, len(rules))
	copy(cp, rules)
	return &MemorySource{rules: cp}, nil
}

// Rules implements Source.
func (s *MemorySource) Rules(_ context.Context) ([]Rule, error) {
	cp := make([]Rule, len(s.rules))
	copy(cp, s.rules)
	return cp, nil
}

// RequiredMetrics returns the distinct metric names any rule reads, sorted.
func RequiredMetrics(rules []Rule) []string {
	seen := make(map[string]bool)
	var names []string
	for _, r := range rules {
		if r == nil {
			continue
		}
		for _, n := range r.RequiredMetrics() {
			key := strings.ToLower(n)
			if n == "" || seen[key] {
				continue
			}
			seen[key] = true
			names = append(names, n)
		}
	}
	sort.Strings(names)
	return names
}

// -----------------------------------------------------------------------------
// YAML
// -----------------------------------------------------------------------------

// fileDocument is a rule YAML file.
//
//	rules:
//	  - id: p95-latency
//	    name: P95 latency under 200ms
//	    type: threshold
//	    metric: response_time
//	    aggregation: p95
//	    operator: "<"
//	    value: 200
//	    severity: critical
//	    param: latency.p95.max
//	  - id: error-rate-band
//	    type: range
//	    metric: error_rate
//	    aggregation: mean
//	    min: 0
//	    max: 0.01
//	  - id: complete
//	    type: custom
//	    check: status_complete
//	    metrics: [response_time, throughput]
type fileDocument struct {
	Rules []fileRule `yaml:"rules"`
}

type fileRule struct {
	ID          string   `yaml:"id"`
	Name        string   `yaml:"name"`
	Type        string   `yaml:"type"`
	Severity    string   `yaml:"severity"`
	Metric      string   `yaml:"metric"`
	Metrics     []string `yaml:"metrics"`
	Aggregation string   `yaml:"aggregation"`
	Operator    string   `yaml:"operator"`
	Value       *float64 `yaml:"value"`
	Min         *float64 `yaml:"min"`
	Max         *float64 `yaml:"max"`
	Param       string   `yaml:"param"`
	Check       string   `yaml:"check"`
	Description string   `yaml:"description"`
}

// ParseYAML decodes rules.
//
// Inputs:
//   - data: YAML document.
//   - checks: Named checks available to custom rules. Nil means BuiltinChecks.
//
// Outputs:
//   - []Rule: Rules in document order, all validated.
//   - error: Non-nil on malformed YAML, unknown types, operators, severities
//     or checks, missing values, or duplicate ids.
func ParseYAML(data []byte, checks Checks) ([]Rule, error) {
	if checks == nil {
		checks = BuiltinChecks()
	}
	var doc fileDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse rules yaml: %w", err)
	}

	out := make([]Rule, 0, len(doc.Rules))
	for i, fr := range doc.Rules {
		r, err := decodeRule(fr, checks)
		if err != nil {
			return nil, fmt.Errorf("rule[%d] %q: %w", i, fr.ID, err)
		}
		out = append(out, r)
	}
	if _, err := NewMemorySource(out...); err != nil {
		return nil, err
	}
	return out, nil
}

// LoadFile reads rules from a YAML file.
func LoadFile(path string, checks Checks) ([]Rule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rules file: %w", err)
	}
	rules, err := ParseYAML(data, checks)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return rules, nil
}

func decodeRule(fr fileRule, checks Checks) (Rule, error) {
	sev, err := ParseSeverity(fr.Severity)
	if err != nil {
		return nil, err
	}
	name := fr.Name
	if name == "" {
		name = fr.ID
	}
	meta := Meta{ID: strings.TrimSpace(fr.ID), Name: name, Severity: sev}

	var r Rule
	switch strings.ToLower(strings.TrimSpace(fr.Type)) {
	case "threshold", "":
		op, err := ParseOperator(fr.Operator)
		if err != nil {
			return nil, err
		}
		if fr.Value == nil {
			return nil, fmt.Errorf("%w: threshold needs value", ErrMalformedRule)
		}
		r = Threshold{
			Meta:        meta,
			Metric:      fr.Metric,
			Aggregation: fr.Aggregation,
			Operator:    op,
			Value:       *fr.Value,
			ParamKey:    profile.ConfigKey(fr.Param),
		}

	case "range":
		if fr.Min == nil || fr.Max == nil {
			return nil, fmt.Errorf("%w: range needs min and max", ErrMalformedRule)
		}
		r = Range{
			Meta:        meta,
			Metric:      fr.Metric,
			Aggregation: fr.Aggregation,
			Min:         *fr.Min,
			Max:         *fr.Max,
			ParamKey:    profile.ConfigKey(fr.Param),
		}

	case "custom":
		check, ok := checks[fr.Check]
		if !ok {
			return nil, fmt.Errorf("%w: unknown check %q (have %s)", ErrMalformedRule, fr.Check, strings.Join(checks.Names(), ", "))
		}
		ms := fr.Metrics
		if len(ms) == 0 && fr.Metric != "" {
			ms = []string{fr.Metric}
		}
		desc := fr.Description
		if desc == "" {
			desc = fr.Check
		}
		r = Custom{Meta: meta, Metrics: ms, Description: desc, Check: check}

	default:
		return nil, fmt.Errorf("%w: unknown rule type %q", ErrMalformedRule, fr.Type)
	}

	if err := r.Validate(); err != nil {
		return nil, err
	}
	return r, nil
}
