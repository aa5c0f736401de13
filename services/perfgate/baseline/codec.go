// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package baseline

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// ErrMalformedBaseline is returned when stored bytes are not a valid
// baseline document.
var ErrMalformedBaseline = errors.New("malformed baseline document")

//go:embed schema.json
var schemaJSON []byte

const schemaURL = "https://perfgate.aleutian.ai/schemas/baseline.json"

var (
	schemaOnce sync.Once
	schema     *jsonschema.Schema
	schemaErr  error
)

func compiledSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		compiler.AssertFormat = true
		if err := compiler.AddResource(schemaURL, bytes.NewReader(schemaJSON)); err != nil {
			schemaErr = fmt.Errorf("add schema resource: %w", err)
			return
		}
		schema, schemaErr = compiler.Compile(schemaURL)
		if schemaErr != nil {
			schemaErr = fmt.Errorf("compile schema: %w", schemaErr)
		}
	})
	return schema, schemaErr
}

// ToleranceDTO is the serialized form of a Tolerance.
type ToleranceDTO struct {
	MetricName string  `json:"metricName"`
	Type       string  `json:"type"`
	Amount     float64 `json:"amount"`
}

// MetricDTO is the serialized form of a Metric.
type MetricDTO struct {
	MetricType string  `json:"metricType"`
	Value      float64 `json:"value"`
	Unit       string  `json:"unit,omitempty"`
}

// ToleranceConfigDTO is the serialized form of a ToleranceConfiguration.
type ToleranceConfigDTO struct {
	Tolerances []ToleranceDTO `json:"tolerances"`
}

// DTO is the persisted JSON shape of a Baseline.
type DTO struct {
	ID              string             `json:"id"`
	CreatedAt       time.Time          `json:"createdAt"`
	ExecutionID     string             `json:"executionId,omitempty"`
	Description     string             `json:"description,omitempty"`
	Metrics         []MetricDTO        `json:"metrics"`
	ToleranceConfig ToleranceConfigDTO `json:"toleranceConfig"`
}

func toleranceDTO(t Tolerance) ToleranceDTO {
	return ToleranceDTO{MetricName: t.MetricName, Type: t.Type.String(), Amount: t.Amount}
}

// ToDTO converts a baseline to its serialized shape.
func ToDTO(b *Baseline) DTO {
	dto := DTO{
		ID:          b.id,
		CreatedAt:   b.createdAt,
		ExecutionID: b.executionID,
		Description: b.description,
		Metrics:     make([]MetricDTO, 0, len(b.metrics)),
		ToleranceConfig: ToleranceConfigDTO{
			Tolerances: make([]ToleranceDTO, 0, b.tolerances.Len()),
		},
	}
	for _, m := range b.metrics {
		dto.Metrics = append(dto.Metrics, MetricDTO{MetricType: m.Type, Value: m.Value, Unit: m.Unit})
	}
	for _, t := range b.tolerances.All() {
		dto.ToleranceConfig.Tolerances = append(dto.ToleranceConfig.Tolerances, toleranceDTO(t))
	}
	return dto
}

// FromDTO rebuilds a baseline, enforcing every invariant.
func FromDTO(dto DTO) (*Baseline, error) {
	ts := make([]Tolerance, 0, len(dto.ToleranceConfig.Tolerances))
	for _, t := range dto.ToleranceConfig.Tolerances {
		typ, err := ParseToleranceType(t.Type)
		if err != nil {
			return nil, err
		}
		tol, err := NewTolerance(t.MetricName, typ, t.Amount)
		if err != nil {
			return nil, err
		}
		ts = append(ts, tol)
	}
	cfg, err := NewToleranceConfiguration(ts...)
	if err != nil {
		return nil, err
	}
	ms := make([]Metric, 0, len(dto.Metrics))
	for _, m := range dto.Metrics {
		ms = append(ms, Metric{Type: m.MetricType, Value: m.Value, Unit: m.Unit})
	}
	return New(ms, cfg,
		WithID(dto.ID),
		WithCreatedAt(dto.CreatedAt),
		WithExecutionID(dto.ExecutionID),
		WithDescription(dto.Description),
	)
}

// Marshal encodes a baseline as JSON.
func Marshal(b *Baseline) ([]byte, error) {
	data, err := json.Marshal(ToDTO(b))
	if err != nil {
		return nil, fmt.Errorf("marshal baseline %s: %w", b.id, err)
	}
	return data, nil
}

// Unmarshal decodes and validates a baseline document.
//
// Description:
//
//	The document is checked against the embedded JSON Schema before
//	decoding, then the domain invariants are enforced by FromDTO.
//
// Outputs:
//   - *Baseline: The baseline.
//   - error: ErrMalformedBaseline wrapping the schema or decode failure,
//     or a domain validation error.
func Unmarshal(data []byte) (*Baseline, error) {
	sch, err := compiledSchema()
	if err != nil {
		return nil, err
	}
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedBaseline, err)
	}
	if err := sch.Validate(raw); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedBaseline, err)
	}
	var dto DTO
	if err := json.Unmarshal(data, &dto); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedBaseline, err)
	}
	return FromDTO(dto)
}
