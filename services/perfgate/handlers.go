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
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/AleutianAI/perfgate/pkg/extensions"
	"github.com/AleutianAI/perfgate/services/perfgate/baseline"
	"github.com/AleutianAI/perfgate/services/perfgate/metrics"
	"github.com/AleutianAI/perfgate/services/perfgate/profile"
	"github.com/AleutianAI/perfgate/services/perfgate/telemetry"
)

// ServiceVersion is the perfgate API version.
const ServiceVersion = "1.0.0"

// maxListLimit caps the limit query parameter of GET /baselines.
const maxListLimit = 500

// Handlers contains the HTTP handlers for perfgate.
type Handlers struct {
	svc    *Service
	logger *slog.Logger
	ext    extensions.ServiceOptions
}

// HandlerOption configures Handlers.
type HandlerOption func(*Handlers)

// WithExtensions installs authentication, authorization and audit hooks.
// Nil fields keep their no-op defaults.
func WithExtensions(opts extensions.ServiceOptions) HandlerOption {
	return func(h *Handlers) {
		h.ext = opts.Normalize()
	}
}

// NewHandlers creates handlers for the given service.
func NewHandlers(svc *Service, opts ...HandlerOption) *Handlers {
	h := &Handlers{svc: svc, logger: svc.logger, ext: extensions.DefaultOptions()}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// HandleEvaluate handles POST /v1/perfgate/evaluate.
//
// Description:
//
//	Evaluates one execution. The evaluation outcome, including FAIL, is
//	returned with 200 OK; error statuses mean no decision was made.
//
// Request Body:
//
//	EvaluateRequest
//
// Response:
//
//	200 OK: eval.EvaluationResult
//	400 Bad Request: Validation error or malformed scope
//	404 Not Found: Unknown execution or profile
//	422 Unprocessable Entity: Invalid or conflicting profiles
func (h *Handlers) HandleEvaluate(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := h.logger.With("request_id", requestID, "handler", "HandleEvaluate")

	var req EvaluateRequest
	if !bindAndValidate(c, logger, &req) {
		return
	}

	result, err := h.svc.Evaluate(c.Request.Context(), req.Input())
	if err != nil {
		writeError(c, logger, err, "EVALUATION_FAILED")
		return
	}
	respond(c, http.StatusOK, result)
}

// HandleEvaluateBatch handles POST /v1/perfgate/evaluate/batch.
//
// Description:
//
//	Evaluates up to MaxBatchSize executions concurrently. Per-entry
//	failures are reported inline; the request itself succeeds.
//
// Request Body:
//
//	BatchEvaluateRequest
//
// Response:
//
//	200 OK: BatchEvaluateResponse
//	400 Bad Request: Validation error
func (h *Handlers) HandleEvaluateBatch(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := h.logger.With("request_id", requestID, "handler", "HandleEvaluateBatch")

	var req BatchEvaluateRequest
	if !bindAndValidate(c, logger, &req) {
		return
	}

	inputs := make([]EvaluateInput, len(req.Evaluations))
	for i := range req.Evaluations {
		inputs[i] = req.Evaluations[i].Input()
	}
	results, err := h.svc.EvaluateBatch(c.Request.Context(), inputs)
	if err != nil {
		writeError(c, logger, err, "BATCH_FAILED")
		return
	}

	resp := BatchEvaluateResponse{Results: make([]BatchItem, len(results))}
	for i, r := range results {
		item := BatchItem{ExecutionID: r.ExecutionID, Result: r.Result}
		if r.Err != nil {
			item.Error = r.Err.Error()
			resp.Failed++
		}
		resp.Results[i] = item
	}
	logger.Info("Batch evaluated", "entries", len(results), "failed", resp.Failed)
	respond(c, http.StatusOK, resp)
}

// HandleResolve handles GET /v1/perfgate/configuration.
//
// Description:
//
//	Resolves every profile for the requested scopes and returns the merged
//	configuration with the winning scope of each key.
//
// Query Parameters:
//
//	scope: Scope text, repeatable (e.g. ?scope=api:checkout&scope=env:prod)
//
// Response:
//
//	200 OK: ResolveResponse
//	400 Bad Request: Malformed scope
//	422 Unprocessable Entity: Invalid or conflicting profiles
func (h *Handlers) HandleResolve(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := h.logger.With("request_id", requestID, "handler", "HandleResolve")

	cfg, err := h.svc.Resolve(c.Request.Context(), c.QueryArray("scope"))
	if err != nil {
		writeError(c, logger, err, "RESOLVE_FAILED")
		return
	}
	respond(c, http.StatusOK, NewResolveResponse(cfg))
}

// HandleListProfiles handles GET /v1/perfgate/profiles.
//
// Response:
//
//	200 OK: ProfilesResponse
func (h *Handlers) HandleListProfiles(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := h.logger.With("request_id", requestID, "handler", "HandleListProfiles")

	ids, err := h.svc.ListProfiles(c.Request.Context())
	if err != nil {
		writeError(c, logger, err, "LIST_PROFILES_FAILED")
		return
	}
	respond(c, http.StatusOK, ProfilesResponse{Profiles: ids})
}

// HandleCreateBaseline handles POST /v1/perfgate/baselines.
//
// Description:
//
//	Captures every aggregation of an execution as a new baseline.
//
// Request Body:
//
//	CreateBaselineRequest
//
// Response:
//
//	201 Created: baseline.DTO
//	400 Bad Request: Validation error or invalid tolerance
//	404 Not Found: Unknown execution
//	503 Service Unavailable: Baseline store not configured or failing
func (h *Handlers) HandleCreateBaseline(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := h.logger.With("request_id", requestID, "handler", "HandleCreateBaseline")

	var req CreateBaselineRequest
	if !bindAndValidate(c, logger, &req) {
		return
	}
	in, err := req.Input()
	if err != nil {
		writeError(c, logger, err, "INVALID_TOLERANCE")
		return
	}

	b, err := h.svc.CreateBaseline(c.Request.Context(), in)
	if err != nil {
		writeError(c, logger, err, "CREATE_BASELINE_FAILED")
		return
	}
	h.audit(c, extensions.AuditEvent{
		EventType:    extensions.EventBaselineCreated,
		Action:       extensions.ActionCreate,
		ResourceType: "baseline",
		ResourceID:   b.ID(),
		Outcome:      "success",
		Metadata: map[string]any{
			"execution_id": b.ExecutionID(),
			"metrics":      len(b.Metrics()),
		},
	})
	c.Header("Location", c.FullPath()+"/"+b.ID())
	respond(c, http.StatusCreated, baseline.ToDTO(b))
}

// HandleGetBaseline handles GET /v1/perfgate/baselines/:id.
//
// Response:
//
//	200 OK: baseline.DTO
//	404 Not Found: Unknown or expired baseline
func (h *Handlers) HandleGetBaseline(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := h.logger.With("request_id", requestID, "handler", "HandleGetBaseline")

	b, err := h.svc.GetBaseline(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, logger, err, "GET_BASELINE_FAILED")
		return
	}
	respond(c, http.StatusOK, baseline.ToDTO(b))
}

// HandleListBaselines handles GET /v1/perfgate/baselines.
//
// Query Parameters:
//
//	limit: Maximum number of baselines (optional, default 20, max 500)
//
// Response:
//
//	200 OK: ListBaselinesResponse, newest first
//	400 Bad Request: Invalid limit
func (h *Handlers) HandleListBaselines(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := h.logger.With("request_id", requestID, "handler", "HandleListBaselines")

	limit := DefaultListLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxListLimit {
			respond(c, http.StatusBadRequest, ErrorResponse{
				Error: "limit must be an integer between 1 and 500",
				Code:  "INVALID_REQUEST",
			})
			return
		}
		limit = n
	}

	list, err := h.svc.ListBaselines(c.Request.Context(), limit)
	if err != nil {
		writeError(c, logger, err, "LIST_BASELINES_FAILED")
		return
	}
	resp := ListBaselinesResponse{Baselines: make([]baseline.DTO, 0, len(list))}
	for _, b := range list {
		resp.Baselines = append(resp.Baselines, baseline.ToDTO(b))
	}
	resp.Count = len(resp.Baselines)
	respond(c, http.StatusOK, resp)
}

// HandleCompare handles POST /v1/perfgate/baselines/:id/compare.
//
// Request Body:
//
//	CompareRequest
//
// Response:
//
//	200 OK: baseline.ComparisonResult
//	404 Not Found: Unknown baseline or execution
func (h *Handlers) HandleCompare(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := h.logger.With("request_id", requestID, "handler", "HandleCompare")

	var req CompareRequest
	if !bindAndValidate(c, logger, &req) {
		return
	}
	result, err := h.svc.CompareToBaseline(c.Request.Context(), c.Param("id"), req.ExecutionID)
	if err != nil {
		writeError(c, logger, err, "COMPARE_FAILED")
		return
	}
	respond(c, http.StatusOK, result)
}

// HandleGate handles POST /v1/perfgate/baselines/:id/gate.
//
// Description:
//
//	Compares the execution to the baseline and applies the gate policy.
//	A failing gate is still 200 OK with pass=false.
//
// Request Body:
//
//	CompareRequest
//
// Response:
//
//	200 OK: GateDecision
//	404 Not Found: Unknown execution
func (h *Handlers) HandleGate(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := h.logger.With("request_id", requestID, "handler", "HandleGate")

	var req CompareRequest
	if !bindAndValidate(c, logger, &req) {
		return
	}
	decision, err := h.svc.CheckRegression(c.Request.Context(), c.Param("id"), req.ExecutionID)
	if err != nil {
		writeError(c, logger, err, "GATE_FAILED")
		return
	}
	result := "pass"
	if !decision.Pass {
		result = "fail"
	}
	h.audit(c, extensions.AuditEvent{
		EventType:    extensions.EventGateDecision,
		Action:       extensions.ActionRead,
		ResourceType: "baseline",
		ResourceID:   c.Param("id"),
		Outcome:      result,
		Metadata: map[string]any{
			"execution_id": req.ExecutionID,
			"regressions":  len(decision.Regressions),
		},
	})
	respond(c, http.StatusOK, decision)
}

// HandleHealth handles GET /v1/perfgate/health.
func (h *Handlers) HandleHealth(c *gin.Context) {
	respond(c, http.StatusOK, HealthResponse{
		Status:  "healthy",
		Version: ServiceVersion,
	})
}

// HandleReady handles GET /v1/perfgate/ready.
//
// Description:
//
//	Reports ready once the profile source can be listed.
//
// Response:
//
//	200 OK: ReadyResponse (Ready=true)
//	503 Service Unavailable: ReadyResponse (Ready=false)
func (h *Handlers) HandleReady(c *gin.Context) {
	ids, err := h.svc.ListProfiles(c.Request.Context())
	resp := ReadyResponse{
		Ready:         err == nil,
		Profiles:      len(ids),
		BaselineStore: h.svc.store != nil,
	}
	if err != nil {
		c.Header("Retry-After", "30")
		respond(c, http.StatusServiceUnavailable, resp)
		return
	}
	respond(c, http.StatusOK, resp)
}

// -----------------------------------------------------------------------------
// Helpers
// -----------------------------------------------------------------------------

type validatable interface {
	Validate() error
}

// bindAndValidate decodes the JSON body into req and validates it. It
// writes a 400 response and returns false on failure.
func bindAndValidate(c *gin.Context, logger *slog.Logger, req validatable) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		logger.Warn("Invalid request body", "error", err)
		respond(c, http.StatusBadRequest, ErrorResponse{
			Error: "Invalid request body",
			Code:  "INVALID_REQUEST",
		})
		return false
	}
	if err := req.Validate(); err != nil {
		logger.Warn("Request validation failed", "error", err)
		respond(c, http.StatusBadRequest, ErrorResponse{
			Error:   "Request validation failed",
			Code:    "VALIDATION_FAILED",
			Details: validationDetails(err),
		})
		return false
	}
	return true
}

// writeError maps a service error to an HTTP status and error code.
func writeError(c *gin.Context, logger *slog.Logger, err error, defaultCode string) {
	statusCode, errCode := classifyError(err, defaultCode)
	if statusCode >= http.StatusInternalServerError {
		logger.Error("Request failed", "error", err, "code", errCode)
	} else {
		logger.Warn("Request rejected", "error", err, "code", errCode)
	}
	respond(c, statusCode, ErrorResponse{
		Error: err.Error(),
		Code:  errCode,
	})
}

func classifyError(err error, defaultCode string) (int, string) {
	switch {
	// Storage failures may wrap domain sentinels from decoding a stored
	// record; they are still the server's fault.
	case errors.Is(err, baseline.ErrRepository):
		return http.StatusServiceUnavailable, "REPOSITORY_ERROR"
	case errors.Is(err, ErrBatchTooLarge):
		return http.StatusBadRequest, "BATCH_TOO_LARGE"
	case errors.Is(err, ErrInvalidInput):
		return http.StatusBadRequest, "INVALID_REQUEST"
	case errors.Is(err, baseline.ErrInvalidTolerance):
		return http.StatusBadRequest, "INVALID_TOLERANCE"
	case errors.Is(err, baseline.ErrInvalidBaseline):
		return http.StatusBadRequest, "INVALID_BASELINE"
	case errors.Is(err, profile.ErrProfileNotFound):
		return http.StatusNotFound, "PROFILE_NOT_FOUND"
	case errors.Is(err, metrics.ErrExecutionNotFound):
		return http.StatusNotFound, "EXECUTION_NOT_FOUND"
	case errors.Is(err, baseline.ErrBaselineNotFound):
		return http.StatusNotFound, "BASELINE_NOT_FOUND"
	case errors.Is(err, baseline.ErrBaselineExists):
		return http.StatusConflict, "BASELINE_EXISTS"
	case errors.Is(err, profile.ErrConfigurationConflict):
		return http.StatusUnprocessableEntity, "CONFIGURATION_CONFLICT"
	case errors.Is(err, profile.ErrInvalidProfile):
		return http.StatusUnprocessableEntity, "INVALID_PROFILE"
	case errors.Is(err, ErrNoBaselineStore):
		return http.StatusServiceUnavailable, "STORE_UNAVAILABLE"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "TIMEOUT"
	default:
		return http.StatusInternalServerError, defaultCode
	}
}

// respond writes a JSON body and records the request.
func respond(c *gin.Context, status int, body any) {
	route := c.FullPath()
	if route == "" {
		route = "unmatched"
	}
	telemetry.RecordHTTPRequest(route, status)
	c.JSON(status, body)
}

// getOrCreateRequestID extracts or generates a request ID.
func getOrCreateRequestID(c *gin.Context) string {
	requestID := c.GetHeader("X-Request-ID")
	if requestID == "" {
		requestID = uuid.NewString()
	}
	c.Header("X-Request-ID", requestID)
	return requestID
}
