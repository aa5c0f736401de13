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
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/perfgate/pkg/extensions"
)

// authInfoKey is the gin context key holding the caller's AuthInfo.
const authInfoKey = "perfgate.auth"

// Authenticate validates the bearer token of every request.
//
// Description:
//
//	Extracts "Authorization: Bearer <token>" and validates it with the
//	configured AuthProvider. The identity is stored on the gin context for
//	Require and audit events. Failures answer 401 and are audited.
func (h *Handlers) Authenticate() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c.GetHeader("Authorization"))
		info, err := h.ext.AuthProvider.Validate(c.Request.Context(), token)
		if err != nil {
			h.logger.Warn("Authentication failed",
				slog.String("path", c.Request.URL.Path),
				slog.String("error", err.Error()),
			)
			h.audit(c, extensions.AuditEvent{
				EventType: extensions.EventAuthFailed,
				UserID:    "anonymous",
				Action:    c.Request.Method,
				Outcome:   "denied",
				Metadata:  map[string]any{"path": c.Request.URL.Path},
			})
			c.Header("WWW-Authenticate", `Bearer realm="perfgate"`)
			abort(c, http.StatusUnauthorized, ErrorResponse{
				Error: "authentication required",
				Code:  "UNAUTHORIZED",
			})
			return
		}
		c.Set(authInfoKey, info)
		c.Next()
	}
}

// Require checks that the caller may perform action on resourceType.
// It must run after Authenticate.
func (h *Handlers) Require(action, resourceType string) gin.HandlerFunc {
	return func(c *gin.Context) {
		info := authInfo(c)
		err := h.ext.AuthzProvider.Authorize(c.Request.Context(), extensions.AuthzRequest{
			User:         info,
			Action:       action,
			ResourceType: resourceType,
			ResourceID:   c.Param("id"),
		})
		if err != nil {
			h.logger.Warn("Authorization denied",
				slog.String("path", c.Request.URL.Path),
				slog.String("action", action),
				slog.String("error", err.Error()),
			)
			h.audit(c, extensions.AuditEvent{
				EventType:    extensions.EventAuthzDenied,
				Action:       action,
				ResourceType: resourceType,
				ResourceID:   c.Param("id"),
				Outcome:      "denied",
			})
			abort(c, http.StatusForbidden, ErrorResponse{
				Error: "permission denied",
				Code:  "FORBIDDEN",
			})
			return
		}
		c.Next()
	}
}

// audit records event with the caller filled in. Audit failures are logged
// and never fail the request.
func (h *Handlers) audit(c *gin.Context, event extensions.AuditEvent) {
	if event.UserID == "" {
		event.UserID = "anonymous"
		if info := authInfo(c); info != nil {
			event.UserID = info.UserID
		}
	}
	if err := h.ext.AuditLogger.Log(c.Request.Context(), event); err != nil {
		h.logger.Error("Audit logging failed",
			slog.String("event_type", event.EventType),
			slog.String("error", err.Error()),
		)
	}
}

func authInfo(c *gin.Context) *extensions.AuthInfo {
	v, ok := c.Get(authInfoKey)
	if !ok {
		return nil
	}
	info, _ := v.(*extensions.AuthInfo)
	return info
}

func bearerToken(header string) string {
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

// abort writes body and stops the handler chain.
func abort(c *gin.Context, status int, body ErrorResponse) {
	respond(c, status, body)
	c.Abort()
}
