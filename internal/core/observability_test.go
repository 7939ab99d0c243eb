package core

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"graphversioner/internal/infra/persistence/memory"
	"graphversioner/pkg/domain"
)

type logEntry struct {
	level string
	msg   string
	args  []any
}

type captureLogger struct {
	mu      sync.Mutex
	entries []logEntry
}

func (c *captureLogger) log(level, msg string, args []any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = append(c.entries, logEntry{level: level, msg: msg, args: args})
}

func (c *captureLogger) Debug(msg string, args ...any) { c.log("debug", msg, args) }
func (c *captureLogger) Info(msg string, args ...any)  { c.log("info", msg, args) }
func (c *captureLogger) Warn(msg string, args ...any)  { c.log("warn", msg, args) }
func (c *captureLogger) Error(msg string, args ...any) { c.log("error", msg, args) }

func (c *captureLogger) has(level, msg string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, e := range c.entries {
		if e.level == level && e.msg == msg {
			return true
		}
	}
	return false
}

type captureAuditRecorder struct {
	entries []AuditEntry
}

func (c *captureAuditRecorder) Record(_ context.Context, entry AuditEntry) {
	c.entries = append(c.entries, entry)
}

func (c *captureAuditRecorder) has(op string, status AuditStatus, predicate func(AuditEntry) bool) bool {
	for _, entry := range c.entries {
		if entry.Operation == op && entry.Status == status {
			if predicate == nil || predicate(entry) {
				return true
			}
		}
	}
	return false
}

type metricsCall struct {
	op      string
	success bool
}

type captureMetricsRecorder struct {
	calls []metricsCall
}

func (c *captureMetricsRecorder) Observe(_ context.Context, op string, success bool, _ time.Duration) {
	c.calls = append(c.calls, metricsCall{op: op, success: success})
}

func (c *captureMetricsRecorder) has(op string, success bool) bool {
	for _, call := range c.calls {
		if call.op == op && call.success == success {
			return true
		}
	}
	return false
}

type spanRecord struct {
	op  string
	err error
}

type captureTracer struct {
	ended []spanRecord
}

func (c *captureTracer) Start(ctx context.Context, op string) (context.Context, TraceSpan) {
	return ctx, &captureSpan{tracer: c, op: op}
}

func (c *captureTracer) has(op string, success bool) bool {
	for _, r := range c.ended {
		if r.op == op && (r.err == nil) == success {
			return true
		}
	}
	return false
}

type captureSpan struct {
	tracer *captureTracer
	op     string
}

func (s *captureSpan) End(err error) {
	s.tracer.ended = append(s.tracer.ended, spanRecord{op: s.op, err: err})
}

func TestServiceObservability(t *testing.T) {
	ctx := context.Background()
	audit := &captureAuditRecorder{}
	metrics := &captureMetricsRecorder{}
	tracer := &captureTracer{}
	logger := &captureLogger{}
	svc := NewInMemoryService(nil,
		WithAuditRecorder(audit),
		WithMetricsRecorder(metrics),
		WithTracer(tracer),
		WithLogger(logger),
	)

	seed := seedEntity(t, svc)
	if !audit.has(OpInit, AuditStatusSuccess, func(e AuditEntry) bool {
		return e.EntityID == seed.EntityID && e.StateID != nil && *e.StateID == seed.StateID && e.Action == domain.ActionCreate
	}) {
		t.Fatalf("expected init audit entry, got %+v", audit.entries)
	}

	out, _, err := svc.Update(ctx, UpdateRequest{Entity: seed.EntityID, ContextLabel: "active", Timestamp: ts(t1)})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if !audit.has(OpUpdate, AuditStatusSuccess, func(e AuditEntry) bool {
		return e.StateID != nil && *e.StateID == out.StateID && e.Action == domain.ActionUpdate
	}) {
		t.Fatalf("expected update audit entry")
	}
	if !metrics.has(OpUpdate, true) || !tracer.has(OpUpdate, true) {
		t.Fatalf("expected successful update metrics and span")
	}
	if !logger.has("info", "state transition") {
		t.Fatalf("expected transition log, got %+v", logger.entries)
	}

	if _, _, err := svc.Update(ctx, UpdateRequest{Entity: 99, ContextLabel: "active"}); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if !audit.has(OpUpdate, AuditStatusError, func(e AuditEntry) bool { return e.EntityID == 99 && e.StateID == nil && e.Error != "" }) {
		t.Fatalf("expected failed update audit entry")
	}
	if !metrics.has(OpUpdate, false) || !tracer.has(OpUpdate, false) {
		t.Fatalf("expected failed update metrics and span")
	}
	if !logger.has("warn", "operation rejected") {
		t.Fatalf("expected rejected operation warning")
	}

	if _, err := svc.History(ctx, seed.EntityID); err != nil {
		t.Fatalf("history: %v", err)
	}
	if !metrics.has(OpHistory, true) || !tracer.has(OpHistory, true) {
		t.Fatalf("reads should be instrumented")
	}
	for _, e := range audit.entries {
		if e.Operation == OpHistory {
			t.Fatalf("reads must not be audited")
		}
	}
}

func TestServiceLogsIntegrityFailuresAsErrors(t *testing.T) {
	logger := &captureLogger{}
	store := memory.NewStore(NewDefaultRulesEngine())
	store.ImportState(domain.Snapshot{
		Nodes: []domain.Node{
			{ID: 0, Labels: entityLabel()},
			{ID: 1, Labels: stateLabel()},
			{ID: 2, Labels: stateLabel()},
		},
		Edges: []domain.Edge{
			{ID: 0, From: 0, To: 1, Type: domain.EdgeCurrent, Properties: date(t0)},
			{ID: 1, From: 0, To: 2, Type: domain.EdgeCurrent, Properties: date(t0)},
		},
		NextNodeID: 3,
		NextEdgeID: 2,
	})
	svc := NewService(store, WithLogger(logger))
	if _, _, err := svc.CurrentState(context.Background(), 0); !errors.Is(err, domain.ErrIntegrityViolation) {
		t.Fatalf("expected integrity violation, got %v", err)
	}
	if !logger.has("error", "operation failed") {
		t.Fatalf("expected error log, got %+v", logger.entries)
	}
}

func TestClockFunc(t *testing.T) {
	if got := ClockFunc(nil).Now(); got.IsZero() || got.Location() != time.UTC {
		t.Fatalf("nil ClockFunc should report UTC now, got %s", got)
	}
	local := time.Date(2024, 7, 4, 12, 0, 0, 0, time.FixedZone("offset", -5*3600))
	if got := ClockFunc(func() time.Time { return local }).Now(); !got.Equal(local) || got.Location() != time.UTC {
		t.Fatalf("expected %s in UTC, got %s", local, got)
	}
}

func TestServiceClockStampsTransitions(t *testing.T) {
	fixed := time.UnixMilli(t1)
	svc := NewInMemoryService(nil, WithClock(ClockFunc(func() time.Time { return fixed })))
	seed := seedEntity(t, svc)
	out, _, err := svc.Update(context.Background(), UpdateRequest{Entity: seed.EntityID, ContextLabel: "active"})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if out.Timestamp != t1 {
		t.Fatalf("expected clock timestamp %d, got %d", t1, out.Timestamp)
	}
}

type nowFuncStore struct {
	*memory.Store
	now func() time.Time
}

func (s nowFuncStore) NowFunc() func() time.Time { return s.now }

func TestSelectNowFuncPrefersStoreProvider(t *testing.T) {
	storeTime := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	clockTime := time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := ClockFunc(func() time.Time { return clockTime })

	store := nowFuncStore{Store: memory.NewStore(nil), now: func() time.Time { return storeTime }}
	if got := selectNowFunc(store, clock)(); !got.Equal(storeTime) {
		t.Fatalf("expected store time, got %s", got)
	}
	if got := selectNowFunc(nowFuncStore{Store: memory.NewStore(nil)}, clock)(); !got.Equal(clockTime) {
		t.Fatalf("nil store func should fall back to clock, got %s", got)
	}
	if got := selectNowFunc(memory.NewStore(nil), nil)(); got.Location() != time.UTC {
		t.Fatalf("default now should be UTC")
	}
}

func TestExtractRulesEngine(t *testing.T) {
	engine := NewDefaultRulesEngine()
	svc := NewService(memory.NewStore(engine))
	if svc.RulesEngine() != engine {
		t.Fatalf("expected store engine")
	}
}

func TestPrometheusMetricsRecorder(t *testing.T) {
	reg := prometheus.NewRegistry()
	recorder := NewPrometheusMetricsRecorder(reg)
	svc := NewInMemoryService(nil, WithMetricsRecorder(recorder))
	seed := seedEntity(t, svc)
	_, _, _ = svc.Update(context.Background(), UpdateRequest{Entity: seed.EntityID, ContextLabel: ""})

	if got := promtestutil.ToFloat64(recorder.operations.WithLabelValues(OpInit, "success")); got != 1 {
		t.Fatalf("expected one successful init, got %v", got)
	}
	if got := promtestutil.ToFloat64(recorder.operations.WithLabelValues(OpUpdate, "error")); got != 1 {
		t.Fatalf("expected one failed update, got %v", got)
	}
	recorder.Observe(context.Background(), "", true, time.Millisecond)
	if n := promtestutil.CollectAndCount(recorder.durations); n != 2 {
		t.Fatalf("expected two duration series, got %d", n)
	}
}

func TestOTelTracer(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })

	svc := NewInMemoryService(nil, WithTracer(NewOTelTracer(provider)))
	seed := seedEntity(t, svc)
	_, _, _ = svc.Retag(context.Background(), RetagRequest{Entity: seed.EntityID})

	spans := recorder.Ended()
	if len(spans) != 2 {
		t.Fatalf("expected two spans, got %d", len(spans))
	}
	if spans[0].Name() != "graphversioner."+OpInit || spans[0].Status().Code != codes.Ok {
		t.Fatalf("unexpected init span %s %v", spans[0].Name(), spans[0].Status())
	}
	retag := spans[1]
	if retag.Name() != "graphversioner."+OpRetag || retag.Status().Code != codes.Error {
		t.Fatalf("unexpected retag span %s %v", retag.Name(), retag.Status())
	}
	var sawAttr bool
	for _, kv := range retag.Attributes() {
		if kv.Key == attribute.Key("graphversioner.operation") && kv.Value.AsString() == OpRetag {
			sawAttr = true
		}
	}
	if !sawAttr {
		t.Fatalf("expected operation attribute on span")
	}
	if len(retag.Events()) == 0 {
		t.Fatalf("expected recorded error event")
	}
}
