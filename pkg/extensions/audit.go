// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package extensions

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Audit event types emitted by the perfgate API.
const (
	EventAuthFailed      = "auth.failed"
	EventAuthzDenied     = "authz.denied"
	EventBaselineCreated = "baseline.created"
	EventGateDecision    = "gate.decision"
)

// AuditEvent represents a security-relevant event.
//
// Example:
//
//	event := AuditEvent{
//	    EventType:    extensions.EventBaselineCreated,
//	    UserID:       authInfo.UserID,
//	    Action:       extensions.ActionCreate,
//	    ResourceType: "baseline",
//	    ResourceID:   b.ID(),
//	    Outcome:      "success",
//	    Metadata: map[string]any{
//	        "execution_id": b.ExecutionID(),
//	    },
//	}
type AuditEvent struct {
	// EventType categorizes the event for filtering and alerting.
	// Format: "category.action" (e.g., "auth.failed", "gate.decision")
	EventType string

	// Timestamp is when the event occurred (always use UTC).
	// If zero, implementations set it to time.Now().UTC().
	Timestamp time.Time

	// UserID identifies who performed the action.
	// "anonymous" if authentication failed.
	UserID string

	// Action describes what operation was attempted.
	Action string

	// ResourceType is the category of resource involved.
	ResourceType string

	// ResourceID is the specific resource instance (optional).
	ResourceID string

	// Outcome indicates the result of the action.
	// Values: "success", "denied", "pass", "fail"
	Outcome string

	// Metadata holds additional event-specific data.
	Metadata map[string]any
}

// AuditFilter defines criteria for querying audit events.
//
// All fields are optional; only non-zero values are used as filters.
// Multiple fields are combined with AND logic.
type AuditFilter struct {
	// EventTypes limits results to specific event types.
	EventTypes []string

	// UserID limits results to events from a specific user.
	UserID string

	// StartTime is the earliest event timestamp to include (inclusive).
	StartTime time.Time

	// EndTime is the latest event timestamp to include (exclusive).
	EndTime time.Time

	// ResourceID limits results to events involving a specific resource.
	ResourceID string

	// Limit is the maximum number of events to return. Zero means no limit.
	Limit int
}

func (f AuditFilter) matches(e AuditEvent) bool {
	if len(f.EventTypes) > 0 {
		found := false
		for _, t := range f.EventTypes {
			if t == e.EventType {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.UserID != "" && f.UserID != e.UserID {
		return false
	}
	if f.ResourceID != "" && f.ResourceID != e.ResourceID {
		return false
	}
	if !f.StartTime.IsZero() && e.Timestamp.Before(f.StartTime) {
		return false
	}
	if !f.EndTime.IsZero() && !e.Timestamp.Before(f.EndTime) {
		return false
	}
	return true
}

// AuditLogger records security-relevant events.
//
// Implementations must be safe for concurrent use by multiple goroutines.
// Log is called on the request path and must return quickly.
type AuditLogger interface {
	// Log records a security-relevant event.
	//
	// Implementations should:
	//   1. Set Timestamp if zero
	//   2. Persist or transmit the event
	//   3. Return quickly
	Log(ctx context.Context, event AuditEvent) error

	// Flush ensures all buffered events are persisted.
	//
	// Call this before shutdown to prevent event loss.
	Flush(ctx context.Context) error
}

// NopAuditLogger is the default audit logger.
//
// It discards all events without recording them.
//
// Thread-safe: This implementation has no mutable state.
type NopAuditLogger struct{}

// Log discards the event without recording it.
func (l *NopAuditLogger) Log(_ context.Context, _ AuditEvent) error {
	return nil
}

// Flush is a no-op since nothing is buffered.
func (l *NopAuditLogger) Flush(_ context.Context) error {
	return nil
}

// SlogAuditLogger writes each event as one structured log record.
//
// Records carry audit=true so log pipelines can route them separately.
//
// Thread-safe: slog.Logger is safe for concurrent use.
type SlogAuditLogger struct {
	logger *slog.Logger
	now    func() time.Time
}

// NewSlogAuditLogger creates an audit logger writing to logger. A nil
// logger uses slog.Default().
func NewSlogAuditLogger(logger *slog.Logger) *SlogAuditLogger {
	if logger == nil {
		logger = slog.Default()
	}
	return &SlogAuditLogger{logger: logger, now: time.Now}
}

// Log implements AuditLogger.
func (l *SlogAuditLogger) Log(ctx context.Context, event AuditEvent) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = l.now().UTC()
	}
	attrs := []slog.Attr{
		slog.Bool("audit", true),
		slog.String("event_type", event.EventType),
		slog.Time("event_time", event.Timestamp),
		slog.String("user_id", event.UserID),
		slog.String("action", event.Action),
		slog.String("resource_type", event.ResourceType),
		slog.String("outcome", event.Outcome),
	}
	if event.ResourceID != "" {
		attrs = append(attrs, slog.String("resource_id", event.ResourceID))
	}
	if len(event.Metadata) > 0 {
		meta := make([]any, 0, len(event.Metadata))
		for k, v := range event.Metadata {
			meta = append(meta, slog.Any(k, v))
		}
		attrs = append(attrs, slog.Group("metadata", meta...))
	}
	l.logger.LogAttrs(ctx, slog.LevelInfo, "audit event", attrs...)
	return nil
}

// Flush is a no-op; records are handed to the slog handler synchronously.
func (l *SlogAuditLogger) Flush(_ context.Context) error {
	return nil
}

// DefaultMemoryAuditCapacity bounds a MemoryAuditLogger created with a
// non-positive capacity.
const DefaultMemoryAuditCapacity = 1000

// MemoryAuditLogger keeps the most recent events in memory.
//
// When full, the oldest event is dropped.
//
// Thread-safe: All methods hold mu.
type MemoryAuditLogger struct {
	mu       sync.Mutex
	events   []AuditEvent
	capacity int
}

// NewMemoryAuditLogger creates a logger holding at most capacity events.
func NewMemoryAuditLogger(capacity int) *MemoryAuditLogger {
	if capacity <= 0 {
		capacity = DefaultMemoryAuditCapacity
	}
	return &MemoryAuditLogger{capacity: capacity}
}

// Log implements AuditLogger.
func (l *MemoryAuditLogger) Log(_ context.Context, event AuditEvent) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.events) == l.capacity {
		copy(l.events, l.events[1:])
		l.events = l.events[:len(l.events)-1]
	}
	l.events = append(l.events, event)
	return nil
}

// Flush is a no-op.
func (l *MemoryAuditLogger) Flush(_ context.Context) error {
	return nil
}

// Query returns the events matching filter, newest first.
func (l *MemoryAuditLogger) Query(_ context.Context, filter AuditFilter) ([]AuditEvent, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := []AuditEvent{}
	for i := len(l.events) - 1; i >= 0; i-- {
		if !filter.matches(l.events[i]) {
			continue
		}
		out = append(out, l.events[i])
		if filter.Limit > 0 && len(out) == filter.Limit {
			break
		}
	}
	return out, nil
}

// Compile-time interface compliance checks.
var (
	_ AuditLogger = (*NopAuditLogger)(nil)
	_ AuditLogger = (*SlogAuditLogger)(nil)
	_ AuditLogger = (*MemoryAuditLogger)(nil)
)
