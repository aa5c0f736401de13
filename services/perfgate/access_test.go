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
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/perfgate/pkg/extensions"
	"github.com/AleutianAI/perfgate/services/perfgate/baseline"
)

func setupSecuredRouter(t *testing.T) (*gin.Engine, *extensions.MemoryAuditLogger) {
	t.Helper()
	audit := extensions.NewMemoryAuditLogger(100)
	opts := extensions.DefaultOptions().
		WithAuth(extensions.NewTokenAuthProvider(map[string]extensions.AuthInfo{
			"tok-writer": {UserID: "ci", Roles: []string{extensions.RoleWriter}},
			"tok-reader": {UserID: "dashboard", Roles: []string{extensions.RoleReader}},
		})).
		WithAuthz(extensions.NewRoleAuthzProvider(extensions.DefaultRoleRules())).
		WithAudit(audit)

	router := gin.New()
	RegisterRoutes(router.Group("/v1"), NewHandlers(newTestService(t), WithExtensions(opts)))
	return router, audit
}

func doAuthRequest(router http.Handler, method, path, token, body string) *httptest.ResponseRecorder {
	req, _ := http.NewRequest(method, path, bytes.NewReader([]byte(body)))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestAuthenticate(t *testing.T) {
	router, audit := setupSecuredRouter(t)

	tests := []struct {
		name       string
		token      string
		wantStatus int
	}{
		{"no token", "", http.StatusUnauthorized},
		{"unknown token", "tok-nope", http.StatusUnauthorized},
		{"reader token", "tok-reader", http.StatusOK},
		{"writer token", "tok-writer", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doAuthRequest(router, "GET", "/v1/perfgate/profiles", tt.token, "")
			if w.Code != tt.wantStatus {
				t.Fatalf("expected status %d, got %d: %s", tt.wantStatus, w.Code, w.Body.String())
			}
			if tt.wantStatus == http.StatusUnauthorized {
				var resp ErrorResponse
				decode(t, w, &resp)
				if resp.Code != "UNAUTHORIZED" {
					t.Errorf("expected code UNAUTHORIZED, got %s", resp.Code)
				}
				if w.Header().Get("WWW-Authenticate") == "" {
					t.Error("expected WWW-Authenticate header")
				}
			}
		})
	}

	failed, _ := audit.Query(context.Background(), extensions.AuditFilter{EventTypes: []string{extensions.EventAuthFailed}})
	if len(failed) != 2 {
		t.Errorf("expected 2 auth.failed events, got %d", len(failed))
	}
}

func TestAuthenticate_HealthIsPublic(t *testing.T) {
	router, _ := setupSecuredRouter(t)

	for _, path := range []string{"/v1/perfgate/health", "/v1/perfgate/ready"} {
		w := doAuthRequest(router, "GET", path, "", "")
		if w.Code != http.StatusOK {
			t.Errorf("%s: expected status %d, got %d", path, http.StatusOK, w.Code)
		}
	}
}

func TestRequire_BaselineCreation(t *testing.T) {
	router, audit := setupSecuredRouter(t)
	body := `{"execution_id": "exec-fast", "tolerance_type": "relative", "amount": 10}`

	w := doAuthRequest(router, "POST", "/v1/perfgate/baselines", "tok-reader", body)
	if w.Code != http.StatusForbidden {
		t.Fatalf("reader: expected status %d, got %d: %s", http.StatusForbidden, w.Code, w.Body.String())
	}
	var denied ErrorResponse
	decode(t, w, &denied)
	if denied.Code != "FORBIDDEN" {
		t.Errorf("expected code FORBIDDEN, got %s", denied.Code)
	}

	w = doAuthRequest(router, "POST", "/v1/perfgate/baselines", "tok-writer", body)
	if w.Code != http.StatusCreated {
		t.Fatalf("writer: expected status %d, got %d: %s", http.StatusCreated, w.Code, w.Body.String())
	}
	var created baseline.DTO
	decode(t, w, &created)

	// Readers may still use the baseline.
	w = doAuthRequest(router, "POST", "/v1/perfgate/baselines/"+created.ID+"/gate", "tok-reader", `{"execution_id": "exec-regressed"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("gate: expected status %d, got %d: %s", http.StatusOK, w.Code, w.Body.String())
	}

	ctx := context.Background()
	deniedEvents, _ := audit.Query(ctx, extensions.AuditFilter{EventTypes: []string{extensions.EventAuthzDenied}})
	if len(deniedEvents) != 1 || deniedEvents[0].UserID != "dashboard" {
		t.Errorf("unexpected authz.denied events %+v", deniedEvents)
	}

	createdEvents, _ := audit.Query(ctx, extensions.AuditFilter{EventTypes: []string{extensions.EventBaselineCreated}})
	if len(createdEvents) != 1 {
		t.Fatalf("expected 1 baseline.created event, got %d", len(createdEvents))
	}
	if e := createdEvents[0]; e.UserID != "ci" || e.ResourceID != created.ID || e.Metadata["execution_id"] != "exec-fast" {
		t.Errorf("unexpected baseline.created event %+v", e)
	}

	gateEvents, _ := audit.Query(ctx, extensions.AuditFilter{
		EventTypes: []string{extensions.EventGateDecision},
		ResourceID: created.ID,
	})
	if len(gateEvents) != 1 || gateEvents[0].Outcome != "fail" || gateEvents[0].UserID != "dashboard" {
		t.Errorf("unexpected gate.decision events %+v", gateEvents)
	}
}

func TestBearerToken(t *testing.T) {
	tests := []struct {
		header string
		want   string
	}{
		{"Bearer abc", "abc"},
		{"bearer abc ", "abc"},
		{"Basic abc", ""},
		{"Bearer", ""},
		{"", ""},
	}
	for _, tt := range tests {
		if got := bearerToken(tt.header); got != tt.want {
			t.Errorf("bearerToken(%q) = %q, want %q", tt.header, got, tt.want)
		}
	}
}
