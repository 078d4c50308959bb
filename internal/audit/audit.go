// Package audit records upstream and parse failures for later review.
// Recording is strictly fire-and-forget: a sink that cannot accept an
// event logs the loss and the calling flow continues unchanged.
package audit

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Event kinds
const (
	KindUpstreamFailure = "upstream_failure"
	KindParseError      = "parse_error"
)

// rawLimit bounds how much raw model output an event carries
const rawLimit = 2000

// Event is one recorded failure
type Event struct {
	ID        uuid.UUID `json:"id"`
	Kind      string    `json:"kind"`
	Op        string    `json:"op"` // e.g. "generate_task", "grade_submission"
	UserID    uuid.UUID `json:"user_id,omitempty"`
	Detail    string    `json:"detail"`
	Raw       string    `json:"raw,omitempty"` // truncated model payload
	CreatedAt time.Time `json:"created_at"`
}

// NewEvent creates a populated event with the raw payload truncated
func NewEvent(kind, op string, userID uuid.UUID, detail, raw string) *Event {
	if len(raw) > rawLimit {
		raw = raw[:rawLimit]
	}
	return &Event{
		ID:        uuid.New(),
		Kind:      kind,
		Op:        op,
		UserID:    userID,
		Detail:    detail,
		Raw:       raw,
		CreatedAt: time.Now(),
	}
}

// Sink accepts failure events. Implementations must never block the
// caller on delivery problems or return them as errors.
type Sink interface {
	RecordUpstreamFailure(ctx context.Context, op string, userID uuid.UUID, detail, raw string)
	RecordParseError(ctx context.Context, op string, userID uuid.UUID, detail, raw string)
}

// LogSink writes events to the process log. It is the fallback sink
// when no queue is configured.
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink creates a log-backed sink
func NewLogSink(logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSink{logger: logger}
}

func (s *LogSink) RecordUpstreamFailure(ctx context.Context, op string, userID uuid.UUID, detail, raw string) {
	e := NewEvent(KindUpstreamFailure, op, userID, detail, raw)
	s.logger.WarnContext(ctx, "upstream failure",
		"event_id", e.ID,
		"op", e.Op,
		"user_id", e.UserID,
		"detail", e.Detail,
	)
}

func (s *LogSink) RecordParseError(ctx context.Context, op string, userID uuid.UUID, detail, raw string) {
	e := NewEvent(KindParseError, op, userID, detail, raw)
	s.logger.WarnContext(ctx, "parse error",
		"event_id", e.ID,
		"op", e.Op,
		"user_id", e.UserID,
		"detail", e.Detail,
	)
}

// NopSink discards all events. Used in tests.
type NopSink struct{}

func (NopSink) RecordUpstreamFailure(context.Context, string, uuid.UUID, string, string) {}
func (NopSink) RecordParseError(context.Context, string, uuid.UUID, string, string)      {}
