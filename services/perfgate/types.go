// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package perfgate

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/AleutianAI/perfgate/services/perfgate/baseline"
	"github.com/AleutianAI/perfgate/services/perfgate/eval"
	"github.com/AleutianAI/perfgate/services/perfgate/profile"
	"github.com/AleutianAI/perfgate/services/perfgate/rules"
)

// =============================================================================
// Shared Validator Instance
// =============================================================================

// requestValidate validates API request bodies.
var requestValidate *validator.Validate

func init() {
	requestValidate = validator.New()
	_ = requestValidate.RegisterValidation("tolerance_type", validateToleranceType)
}

// validateToleranceType accepts the names baseline.ParseToleranceType accepts.
func validateToleranceType(fl validator.FieldLevel) bool {
	_, err := baseline.ParseToleranceType(fl.Field().String())
	return err == nil
}

// =============================================================================
// Requests
// =============================================================================

// PolicyRequest selects a partial-metric policy.
//
//   - Mode "deny": partial data is rejected except for the Except rule ids.
//   - Mode "allow": partial data is tolerated except for the Except rule ids.
type PolicyRequest struct {
	Mode   string   `json:"mode" validate:"required,oneof=allow deny"`
	Except []string `json:"except,omitempty" validate:"max=256,dive,required,max=256"`
}

// Policy converts the request to a rules.PartialMetricPolicy.
func (p *PolicyRequest) Policy() rules.PartialMetricPolicy {
	if p == nil {
		return nil
	}
	if p.Mode == "allow" {
		return rules.AllowPartial(p.Except...)
	}
	return rules.DenyPartial(p.Except...)
}

// EvaluateRequest is the body of POST /v1/perfgate/evaluate.
type EvaluateRequest struct {
	ExecutionID string         `json:"execution_id" validate:"required,max=256"`
	ProfileID   string         `json:"profile_id,omitempty" validate:"max=256"`
	Scopes      []string       `json:"scopes,omitempty" validate:"max=32,dive,required,max=512"`
	Policy      *PolicyRequest `json:"partial_metric_policy,omitempty"`
}

// Validate validates the request fields.
func (r *EvaluateRequest) Validate() error {
	return requestValidate.Struct(r)
}

// Input converts the request to an EvaluateInput.
func (r *EvaluateRequest) Input() EvaluateInput {
	return EvaluateInput{
		ExecutionID: r.ExecutionID,
		ProfileID:   r.ProfileID,
		Scopes:      r.Scopes,
		Policy:      r.Policy.Policy(),
	}
}

// BatchEvaluateRequest is the body of POST /v1/perfgate/evaluate/batch.
type BatchEvaluateRequest struct {
	Evaluations []EvaluateRequest `json:"evaluations" validate:"required,min=1,max=100,dive"`
}

// Validate validates the request fields.
func (r *BatchEvaluateRequest) Validate() error {
	return requestValidate.Struct(r)
}

// ToleranceOverride sets the tolerance for one metric key.
type ToleranceOverride struct {
	Metric string  `json:"metric" validate:"required,max=256"`
	Type   string  `json:"type" validate:"required,tolerance_type"`
	Amount float64 `json:"amount" validate:"gte=0"`
}

// CreateBaselineRequest is the body of POST /v1/perfgate/baselines.
type CreateBaselineRequest struct {
	ExecutionID   string              `json:"execution_id" validate:"required,max=256"`
	Description   string              `json:"description,omitempty" validate:"max=1024"`
	ToleranceType string              `json:"tolerance_type" validate:"required,tolerance_type"`
	Amount        float64             `json:"amount" validate:"gte=0"`
	Overrides     []ToleranceOverride `json:"overrides,omitempty" validate:"max=256,dive"`
}

// Validate validates the request fields.
func (r *CreateBaselineRequest) Validate() error {
	return requestValidate.Struct(r)
}

// Input converts the request to a CreateBaselineInput.
//
// Outputs:
//   - CreateBaselineInput: The input.
//   - error: baseline.ErrInvalidTolerance for a bad override.
func (r *CreateBaselineRequest) Input() (CreateBaselineInput, error) {
	typ, err := baseline.ParseToleranceType(r.ToleranceType)
	if err != nil {
		return CreateBaselineInput{}, err
	}
	in := CreateBaselineInput{
		ExecutionID:   r.ExecutionID,
		Description:   r.Description,
		ToleranceType: typ,
		Amount:        r.Amount,
	}
	for _, o := range r.Overrides {
		otyp, err := baseline.ParseToleranceType(o.Type)
		if err != nil {
			return CreateBaselineInput{}, err
		}
		t, err := baseline.NewTolerance(o.Metric, otyp, o.Amount)
		if err != nil {
			return CreateBaselineInput{}, fmt.Errorf("override %s: %w", o.Metric, err)
		}
		in.Overrides = append(in.Overrides, t)
	}
	return in, nil
}

// CompareRequest is the body of POST /v1/perfgate/baselines/:id/compare
// and POST /v1/perfgate/baselines/:id/gate.
type CompareRequest struct {
	ExecutionID string `json:"execution_id" validate:"required,max=256"`
}

// Validate validates the request fields.
func (r *CompareRequest) Validate() error {
	return requestValidate.Struct(r)
}

// =============================================================================
// Responses
// =============================================================================

// BatchItem is one entry of a BatchEvaluateResponse.
type BatchItem struct {
	ExecutionID string                 `json:"execution_id"`
	Result      *eval.EvaluationResult `json:"result,omitempty"`
	Error       string                 `json:"error,omitempty"`
}

// BatchEvaluateResponse is returned by POST /v1/perfgate/evaluate/batch.
type BatchEvaluateResponse struct {
	Results []BatchItem `json:"results"`
	Failed  int         `json:"failed"`
}

// ListBaselinesResponse is returned by GET /v1/perfgate/baselines.
type ListBaselinesResponse struct {
	Baselines []baseline.DTO `json:"baselines"`
	Count     int            `json:"count"`
}

// ConfigEntry is one resolved configuration key.
type ConfigEntry struct {
	Key   string `json:"key"`
	Type  string `json:"type"`
	Value any    `json:"value"`

	// Scope is the id of the scope whose profile won the key.
	Scope string `json:"scope"`

	// Candidates lists every applicable scope that defined the key, in
	// application order. The last entry is Scope.
	Candidates []string `json:"candidates"`
}

// ResolveResponse is returned by GET /v1/perfgate/configuration.
type ResolveResponse struct {
	Entries    []ConfigEntry `json:"entries"`
	ResolvedAt time.Time     `json:"resolved_at"`
}

// NewResolveResponse renders a resolved configuration, keys sorted.
func NewResolveResponse(cfg profile.ResolvedConfiguration) ResolveResponse {
	resp := ResolveResponse{
		Entries:    make([]ConfigEntry, 0, cfg.Len()),
		ResolvedAt: cfg.ResolvedAt(),
	}
	for _, key := range cfg.Keys() {
		v, _ := cfg.Get(key)
		entry := ConfigEntry{
			Key:        key.String(),
			Type:       v.Type().String(),
			Value:      v.Raw(),
			Candidates: make([]string, 0),
		}
		if winner, ok := cfg.Winner(key); ok {
			entry.Scope = winner.ID()
		}
		for _, s := range cfg.AuditTrail(key) {
			entry.Candidates = append(entry.Candidates, s.ID())
		}
		resp.Entries = append(resp.Entries, entry)
	}
	return resp
}

// ProfilesResponse is returned by GET /v1/perfgate/profiles.
type ProfilesResponse struct {
	Profiles []string `json:"profiles"`
}

// HealthResponse is returned by the health endpoint.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
}

// ReadyResponse is returned by the readiness endpoint.
type ReadyResponse struct {
	Ready         bool `json:"ready"`
	Profiles      int  `json:"profiles"`
	BaselineStore bool `json:"baseline_store"`
}

// ErrorResponse is returned for every failed request.
type ErrorResponse struct {
	// Error is the error message.
	Error string `json:"error"`

	// Code is a stable machine-readable error code.
	Code string `json:"code,omitempty"`

	// Details provides additional error context (optional).
	Details string `json:"details,omitempty"`
}

// validationDetails flattens validator errors to "Field: tag" pairs.
func validationDetails(err error) string {
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		parts = append(parts, fmt.Sprintf("%s: %s", fe.Namespace(), fe.Tag()))
	}
	return strings.Join(parts, "; ")
}
