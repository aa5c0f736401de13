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
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/AleutianAI/perfgate/services/perfgate/baseline"
	"github.com/AleutianAI/perfgate/services/perfgate/metrics"
	"github.com/AleutianAI/perfgate/services/perfgate/profile"
)

func init() {
	// Set Gin to test mode to reduce noise
	gin.SetMode(gin.TestMode)
}

func setupTestRouter(svc *Service) *gin.Engine {
	router := gin.New()
	handlers := NewHandlers(svc)
	v1 := router.Group("/v1")
	RegisterRoutes(v1, handlers)
	return router
}

func doRequest(router http.Handler, method, path, body string) *httptest.ResponseRecorder {
	req, _ := http.NewRequest(method, path, bytes.NewReader([]byte(body)))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), v); err != nil {
		t.Fatalf("failed to unmarshal response %q: %v", w.Body.String(), err)
	}
}

func TestHandlers_HandleHealth(t *testing.T) {
	router := setupTestRouter(newTestService(t))

	w := doRequest(router, "GET", "/v1/perfgate/health", "")
	if w.Code != http.StatusOK {
		t.Errorf("expected status %d, got %d", http.StatusOK, w.Code)
	}

	var resp HealthResponse
	decode(t, w, &resp)
	if resp.Status != "healthy" {
		t.Errorf("expected status 'healthy', got %q", resp.Status)
	}
	if resp.Version != ServiceVersion {
		t.Errorf("expected version %q, got %q", ServiceVersion, resp.Version)
	}
}

func TestHandlers_HandleReady(t *testing.T) {
	router := setupTestRouter(newTestService(t))

	w := doRequest(router, "GET", "/v1/perfgate/ready", "")
	if w.Code != http.StatusOK {
		t.Errorf("expected status %d, got %d", http.StatusOK, w.Code)
	}

	var resp ReadyResponse
	decode(t, w, &resp)
	if !resp.Ready || resp.Profiles != 2 || !resp.BaselineStore {
		t.Errorf("unexpected readiness %+v", resp)
	}
}

type failingProfiles struct{ *profile.MemorySource }

func (failingProfiles) List(context.Context) ([]string, error) {
	return nil, errors.New("profile directory unavailable")
}

func TestHandlers_HandleReady_NotReady(t *testing.T) {
	profiles, metricSource, ruleSource := testSources(t)
	svc, err := NewService(failingProfiles{profiles}, metricSource, ruleSource)
	if err != nil {
		t.Fatal(err)
	}
	router := setupTestRouter(svc)

	w := doRequest(router, "GET", "/v1/perfgate/ready", "")
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("expected status %d, got %d", http.StatusServiceUnavailable, w.Code)
	}
	if w.Header().Get("Retry-After") == "" {
		t.Error("expected Retry-After header")
	}
	var resp ReadyResponse
	decode(t, w, &resp)
	if resp.Ready || resp.BaselineStore {
		t.Errorf("unexpected readiness %+v", resp)
	}
}

func TestHandlers_RequestID(t *testing.T) {
	router := setupTestRouter(newTestService(t))

	w := doRequest(router, "GET", "/v1/perfgate/health", "")
	if w.Header().Get("X-Request-ID") == "" {
		t.Error("expected a generated X-Request-ID")
	}

	req, _ := http.NewRequest("GET", "/v1/perfgate/health", nil)
	req.Header.Set("X-Request-ID", "req-123")
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if got := w.Header().Get("X-Request-ID"); got != "req-123" {
		t.Errorf("expected X-Request-ID to be echoed, got %q", got)
	}
}

func TestHandlers_HandleEvaluate(t *testing.T) {
	router := setupTestRouter(newTestService(t))

	tests := []struct {
		name        string
		body        string
		wantStatus  int
		wantOutcome string
		wantCode    string
	}{
		{
			name:        "critical violation",
			body:        `{"execution_id": "exec-slow"}`,
			wantStatus:  http.StatusOK,
			wantOutcome: "FAIL",
		},
		{
			name:        "scoped pass",
			body:        `{"execution_id": "exec-slow", "scopes": ["api:checkout"]}`,
			wantStatus:  http.StatusOK,
			wantOutcome: "PASS",
		},
		{
			name:        "allow partial policy",
			body:        `{"execution_id": "exec-fast", "partial_metric_policy": {"mode": "allow"}}`,
			wantStatus:  http.StatusOK,
			wantOutcome: "PASS",
		},
		{
			name:       "malformed json",
			body:       `{"execution_id":`,
			wantStatus: http.StatusBadRequest,
			wantCode:   "INVALID_REQUEST",
		},
		{
			name:       "missing execution id",
			body:       `{}`,
			wantStatus: http.StatusBadRequest,
			wantCode:   "VALIDATION_FAILED",
		},
		{
			name:       "bad policy mode",
			body:       `{"execution_id": "exec-fast", "partial_metric_policy": {"mode": "maybe"}}`,
			wantStatus: http.StatusBadRequest,
			wantCode:   "VALIDATION_FAILED",
		},
		{
			name:       "unknown scope factory",
			body:       `{"execution_id": "exec-fast", "scopes": ["region:eu"]}`,
			wantStatus: http.StatusBadRequest,
			wantCode:   "INVALID_REQUEST",
		},
		{
			name:       "unknown execution",
			body:       `{"execution_id": "nope"}`,
			wantStatus: http.StatusNotFound,
			wantCode:   "EXECUTION_NOT_FOUND",
		},
		{
			name:       "unknown profile",
			body:       `{"execution_id": "exec-fast", "profile_id": "ghost"}`,
			wantStatus: http.StatusNotFound,
			wantCode:   "PROFILE_NOT_FOUND",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doRequest(router, "POST", "/v1/perfgate/evaluate", tt.body)
			if w.Code != tt.wantStatus {
				t.Fatalf("expected status %d, got %d: %s", tt.wantStatus, w.Code, w.Body.String())
			}
			if tt.wantCode != "" {
				var resp ErrorResponse
				decode(t, w, &resp)
				if resp.Code != tt.wantCode {
					t.Errorf("expected code %q, got %q", tt.wantCode, resp.Code)
				}
				return
			}
			var resp map[string]any
			decode(t, w, &resp)
			if resp["outcome"] != tt.wantOutcome {
				t.Errorf("expected outcome %q, got %v", tt.wantOutcome, resp["outcome"])
			}
			if _, ok := resp["dataFingerprint"]; !ok {
				t.Error("expected dataFingerprint in response")
			}
		})
	}
}

func TestHandlers_HandleEvaluateBatch(t *testing.T) {
	router := setupTestRouter(newTestService(t))

	body := `{"evaluations": [{"execution_id": "exec-fast"}, {"execution_id": "nope"}, {"execution_id": "exec-slow"}]}`
	w := doRequest(router, "POST", "/v1/perfgate/evaluate/batch", body)
	if w.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d: %s", http.StatusOK, w.Code, w.Body.String())
	}

	var resp struct {
		Results []struct {
			ExecutionID string         `json:"execution_id"`
			Result      map[string]any `json:"result"`
			Error       string         `json:"error"`
		} `json:"results"`
		Failed int `json:"failed"`
	}
	decode(t, w, &resp)

	if len(resp.Results) != 3 || resp.Failed != 1 {
		t.Fatalf("unexpected batch response %+v", resp)
	}
	if resp.Results[0].Result["outcome"] != "PASS" || resp.Results[2].Result["outcome"] != "FAIL" {
		t.Errorf("unexpected outcomes %+v", resp.Results)
	}
	if !strings.Contains(resp.Results[1].Error, "execution not found") {
		t.Errorf("expected inline error, got %q", resp.Results[1].Error)
	}

	w = doRequest(router, "POST", "/v1/perfgate/evaluate/batch", `{"evaluations": []}`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected status %d for empty batch, got %d", http.StatusBadRequest, w.Code)
	}
}

func TestHandlers_HandleResolve(t *testing.T) {
	router := setupTestRouter(newTestService(t))

	w := doRequest(router, "GET", "/v1/perfgate/configuration?scope=api:checkout", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d: %s", http.StatusOK, w.Code, w.Body.String())
	}

	var resp ResolveResponse
	decode(t, w, &resp)
	if len(resp.Entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(resp.Entries))
	}
	e := resp.Entries[0]
	if e.Key != "latency.p95.max" || e.Scope != "api:checkout" || e.Value != float64(300) {
		t.Errorf("unexpected entry %+v", e)
	}
	if len(e.Candidates) != 2 || e.Candidates[1] != "api:checkout" {
		t.Errorf("unexpected candidates %v", e.Candidates)
	}

	w = doRequest(router, "GET", "/v1/perfgate/configuration?scope=api:a%2Benv:b%2Btag:c", "")
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected status %d for nested composite, got %d", http.StatusBadRequest, w.Code)
	}
}

func TestHandlers_HandleListProfiles(t *testing.T) {
	router := setupTestRouter(newTestService(t))

	w := doRequest(router, "GET", "/v1/perfgate/profiles", "")
	var resp ProfilesResponse
	decode(t, w, &resp)
	if len(resp.Profiles) != 2 || resp.Profiles[0] != "api-checkout" {
		t.Errorf("unexpected profiles %v", resp.Profiles)
	}
}

func TestHandlers_BaselineLifecycle(t *testing.T) {
	router := setupTestRouter(newTestService(t))

	w := doRequest(router, "POST", "/v1/perfgate/baselines",
		`{"execution_id": "exec-fast", "tolerance_type": "relative", "amount": 10, "description": "v1"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("expected status %d, got %d: %s", http.StatusCreated, w.Code, w.Body.String())
	}
	var created baseline.DTO
	decode(t, w, &created)
	if created.ID == "" || created.ExecutionID != "exec-fast" || len(created.Metrics) != 1 {
		t.Fatalf("unexpected baseline %+v", created)
	}
	if loc := w.Header().Get("Location"); loc != "/v1/perfgate/baselines/"+created.ID {
		t.Errorf("unexpected Location %q", loc)
	}

	w = doRequest(router, "GET", "/v1/perfgate/baselines/"+created.ID, "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, w.Code)
	}
	var fetched baseline.DTO
	decode(t, w, &fetched)
	if fetched.ID != created.ID || !fetched.CreatedAt.Equal(created.CreatedAt) {
		t.Errorf("fetched %+v, created %+v", fetched, created)
	}

	w = doRequest(router, "GET", "/v1/perfgate/baselines?limit=5", "")
	var list ListBaselinesResponse
	decode(t, w, &list)
	if list.Count != 1 || list.Baselines[0].ID != created.ID {
		t.Errorf("unexpected list %+v", list)
	}

	w = doRequest(router, "POST", "/v1/perfgate/baselines/"+created.ID+"/compare", `{"execution_id": "exec-regressed"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d: %s", http.StatusOK, w.Code, w.Body.String())
	}
	var cmp map[string]any
	decode(t, w, &cmp)
	if cmp["outcome"] != "REGRESSION" || cmp["baselineId"] != created.ID {
		t.Errorf("unexpected comparison %v", cmp)
	}

	w = doRequest(router, "POST", "/v1/perfgate/baselines/"+created.ID+"/gate", `{"execution_id": "exec-regressed"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d: %s", http.StatusOK, w.Code, w.Body.String())
	}
	var decision map[string]any
	decode(t, w, &decision)
	if decision["pass"] != false {
		t.Errorf("expected failing gate, got %v", decision["pass"])
	}
	if report, _ := decision["report"].(string); !strings.Contains(report, "**Status: FAIL**") {
		t.Errorf("unexpected report %q", report)
	}
}

func TestHandlers_BaselineErrors(t *testing.T) {
	router := setupTestRouter(newTestService(t))

	tests := []struct {
		name       string
		method     string
		path       string
		body       string
		wantStatus int
		wantCode   string
	}{
		{"unknown tolerance type", "POST", "/v1/perfgate/baselines", `{"execution_id": "exec-fast", "tolerance_type": "fuzzy", "amount": 1}`, http.StatusBadRequest, "VALIDATION_FAILED"},
		{"relative over 100", "POST", "/v1/perfgate/baselines", `{"execution_id": "exec-fast", "tolerance_type": "relative", "amount": 150}`, http.StatusBadRequest, "INVALID_TOLERANCE"},
		{"unknown execution", "POST", "/v1/perfgate/baselines", `{"execution_id": "nope", "tolerance_type": "absolute", "amount": 1}`, http.StatusNotFound, "EXECUTION_NOT_FOUND"},
		{"unknown override metric", "POST", "/v1/perfgate/baselines", `{"execution_id": "exec-fast", "tolerance_type": "absolute", "amount": 1, "overrides": [{"metric": "cpu.max", "type": "absolute", "amount": 2}]}`, http.StatusBadRequest, "INVALID_REQUEST"},
		{"missing baseline", "GET", "/v1/perfgate/baselines/missing", "", http.StatusNotFound, "BASELINE_NOT_FOUND"},
		{"unsafe baseline id", "GET", "/v1/perfgate/baselines/a..b", "", http.StatusBadRequest, "INVALID_REQUEST"},
		{"bad limit", "GET", "/v1/perfgate/baselines?limit=0", "", http.StatusBadRequest, "INVALID_REQUEST"},
		{"non-numeric limit", "GET", "/v1/perfgate/baselines?limit=ten", "", http.StatusBadRequest, "INVALID_REQUEST"},
		{"compare missing baseline", "POST", "/v1/perfgate/baselines/missing/compare", `{"execution_id": "exec-fast"}`, http.StatusNotFound, "BASELINE_NOT_FOUND"},
		{"compare without execution", "POST", "/v1/perfgate/baselines/missing/compare", `{}`, http.StatusBadRequest, "VALIDATION_FAILED"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doRequest(router, tt.method, tt.path, tt.body)
			if w.Code != tt.wantStatus {
				t.Fatalf("expected status %d, got %d: %s", tt.wantStatus, w.Code, w.Body.String())
			}
			var resp ErrorResponse
			decode(t, w, &resp)
			if resp.Code != tt.wantCode {
				t.Errorf("expected code %q, got %q", tt.wantCode, resp.Code)
			}
		})
	}
}

// undecodableStore fails reads the way a store holding a stored record
// that no longer satisfies baseline invariants does.
type undecodableStore struct {
	*baseline.MemoryStore
}

func (undecodableStore) GetByID(_ context.Context, id string) (*baseline.Baseline, error) {
	return nil, &baseline.RepositoryError{Op: "get", Err: fmt.Errorf("%w: no tolerance for metric %s", baseline.ErrInvalidBaseline, id)}
}

func TestHandlers_UndecodableBaselineIsServerError(t *testing.T) {
	svc := newTestService(t, WithStore(undecodableStore{baseline.NewMemoryStore()}))
	router := setupTestRouter(svc)

	for _, req := range []struct{ method, path, body string }{
		{"GET", "/v1/perfgate/baselines/stored", ""},
		{"POST", "/v1/perfgate/baselines/stored/compare", `{"execution_id": "exec-fast"}`},
	} {
		w := doRequest(router, req.method, req.path, req.body)
		if w.Code != http.StatusServiceUnavailable {
			t.Fatalf("%s %s: expected status %d, got %d: %s", req.method, req.path, http.StatusServiceUnavailable, w.Code, w.Body.String())
		}
		var resp ErrorResponse
		decode(t, w, &resp)
		if resp.Code != "REPOSITORY_ERROR" {
			t.Errorf("%s %s: expected code REPOSITORY_ERROR, got %q", req.method, req.path, resp.Code)
		}
	}
}

func TestHandlers_NoStore(t *testing.T) {
	profiles, metricSource, ruleSource := testSources(t)
	svc, err := NewService(profiles, metricSource, ruleSource)
	if err != nil {
		t.Fatal(err)
	}
	router := setupTestRouter(svc)

	w := doRequest(router, "GET", "/v1/perfgate/baselines", "")
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("expected status %d, got %d", http.StatusServiceUnavailable, w.Code)
	}
}

func TestClassifyError(t *testing.T) {
	tests := []struct {
		err        error
		wantStatus int
		wantCode   string
	}{
		{fmt.Errorf("wrap: %w", ErrBatchTooLarge), http.StatusBadRequest, "BATCH_TOO_LARGE"},
		{fmt.Errorf("wrap: %w", profile.ErrConfigurationConflict), http.StatusUnprocessableEntity, "CONFIGURATION_CONFLICT"},
		{fmt.Errorf("wrap: %w", profile.ErrInvalidProfile), http.StatusUnprocessableEntity, "INVALID_PROFILE"},
		{&baseline.RepositoryError{Op: "get", Err: errors.New("disk")}, http.StatusServiceUnavailable, "REPOSITORY_ERROR"},
		{&baseline.RepositoryError{Op: "get", Err: fmt.Errorf("%w: unnamed metric", baseline.ErrInvalidBaseline)}, http.StatusServiceUnavailable, "REPOSITORY_ERROR"},
		{fmt.Errorf("get baseline: %w", &baseline.RepositoryError{Op: "list", Err: baseline.ErrInvalidTolerance}), http.StatusServiceUnavailable, "REPOSITORY_ERROR"},
		{fmt.Errorf("wrap: %w", baseline.ErrInvalidBaseline), http.StatusBadRequest, "INVALID_BASELINE"},
		{fmt.Errorf("wrap: %w", baseline.ErrBaselineExists), http.StatusConflict, "BASELINE_EXISTS"},
		{fmt.Errorf("wrap: %w", metrics.ErrExecutionNotFound), http.StatusNotFound, "EXECUTION_NOT_FOUND"},
		{errors.New("boom"), http.StatusInternalServerError, "DEFAULT"},
	}
	for _, tt := range tests {
		t.Run(tt.wantCode, func(t *testing.T) {
			status, code := classifyError(tt.err, "DEFAULT")
			if status != tt.wantStatus || code != tt.wantCode {
				t.Errorf("classifyError(%v) = %d %q, want %d %q", tt.err, status, code, tt.wantStatus, tt.wantCode)
			}
		})
	}
}

func TestRateLimitMiddleware(t *testing.T) {
	router := gin.New()
	router.Use(RateLimitMiddleware(rate.NewLimiter(rate.Limit(0.001), 2)))
	router.GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })

	codes := make([]int, 3)
	for i := range codes {
		codes[i] = doRequest(router, "GET", "/ping", "").Code
	}
	want := []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}
	for i := range want {
		if codes[i] != want[i] {
			t.Errorf("request %d: expected status %d, got %d", i, want[i], codes[i])
		}
	}
}

func TestNewRouter(t *testing.T) {
	router := NewRouter(NewHandlers(newTestService(t)), RouterConfig{RateLimit: 1000, RateBurst: 100})

	w := doRequest(router, "GET", "/v1/perfgate/health", "")
	if w.Code != http.StatusOK {
		t.Errorf("expected status %d, got %d", http.StatusOK, w.Code)
	}

	w = doRequest(router, "GET", "/metrics", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, w.Code)
	}
	if !strings.Contains(w.Body.String(), "perfgate_http_requests_total") {
		t.Error("expected perfgate collectors in /metrics output")
	}
}
