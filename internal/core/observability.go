package core

import (
	"context"
	"time"

	"graphversioner/pkg/domain"
)

// Clock supplies the current time for transitions without an explicit
// timestamp.
type Clock interface {
	Now() time.Time
}

// ClockFunc adapts a function to Clock. A nil ClockFunc reports the system
// time. Results are always UTC.
type ClockFunc func() time.Time

// Now implements Clock.
func (f ClockFunc) Now() time.Time {
	if f == nil {
		return time.Now().UTC()
	}
	return f().UTC()
}

// Logger is the structured logging surface the service writes to. It is
// satisfied by *slog.Logger.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// MetricsRecorder observes the outcome and latency of service operations.
type MetricsRecorder interface {
	Observe(ctx context.Context, operation string, success bool, duration time.Duration)
}

type noopMetricsRecorder struct{}

func (noopMetricsRecorder) Observe(context.Context, string, bool, time.Duration) {}

// TraceSpan is ended once per operation with its final error.
type TraceSpan interface {
	End(err error)
}

// Tracer opens a span around each service operation.
type Tracer interface {
	Start(ctx context.Context, operation string) (context.Context, TraceSpan)
}

type noopTracer struct{}

func (noopTracer) Start(ctx context.Context, _ string) (context.Context, TraceSpan) {
	return ctx, noopSpan{}
}

type noopSpan struct{}

func (noopSpan) End(error) {}

// AuditStatus records whether an audited operation succeeded.
type AuditStatus string

// Audit statuses.
const (
	AuditStatusSuccess AuditStatus = "success"
	AuditStatusError   AuditStatus = "error"
)

// AuditEntry describes one mutating service call.
type AuditEntry struct {
	Operation string        `json:"operation"`
	Action    domain.Action `json:"action"`
	EntityID  domain.NodeID `json:"entity_id"`
	// StateID is the state the operation created or retagged, when any.
	StateID   *domain.NodeID `json:"state_id,omitempty"`
	Status    AuditStatus    `json:"status"`
	Error     string         `json:"error,omitempty"`
	Duration  time.Duration  `json:"duration"`
	Timestamp time.Time      `json:"timestamp"`
}

// AuditRecorder receives an entry for every mutating operation.
type AuditRecorder interface {
	Record(ctx context.Context, entry AuditEntry)
}

type noopAuditRecorder struct{}

func (noopAuditRecorder) Record(context.Context, AuditEntry) {}

// Operation names reported to loggers, metrics, tracers and auditors.
const (
	OpCreateEntity    = "create_entity"
	OpInit            = "init"
	OpUpdate          = "update"
	OpPatch           = "patch"
	OpRetag           = "retag"
	OpCurrentState    = "current_state"
	OpHistory         = "history"
	OpIntervals       = "intervals"
	OpArchiveSnapshot = "archive_snapshot"
	OpRestoreSnapshot = "restore_snapshot"
)

var auditActions = map[string]domain.Action{
	OpCreateEntity:    domain.ActionCreate,
	OpInit:            domain.ActionCreate,
	OpUpdate:          domain.ActionUpdate,
	OpPatch:           domain.ActionUpdate,
	OpRetag:           domain.ActionUpdate,
	OpRestoreSnapshot: domain.ActionUpdate,
}
