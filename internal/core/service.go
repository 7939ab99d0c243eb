package core

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"graphversioner/internal/infra/persistence/memory"
	"graphversioner/pkg/domain"
)

// Service exposes the versioning operations over a persistent graph store.
// Every mutation runs in one store transaction under the entity's lock.
type Service struct {
	store       PersistentStore
	transitions TransitionEngine
	locks       *EntityLocks

	clock   Clock
	now     func() time.Time
	logger  Logger
	metrics MetricsRecorder
	tracer  Tracer
	audit   AuditRecorder
	locker  domain.DistributedLocker
	lockTTL time.Duration
}

// Option customizes a Service.
type Option func(*Service)

// WithClock sets the clock used when a request carries no timestamp.
func WithClock(clock Clock) Option {
	return func(s *Service) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// WithLogger sets the service logger.
func WithLogger(logger Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetricsRecorder sets the operation metrics sink.
func WithMetricsRecorder(recorder MetricsRecorder) Option {
	return func(s *Service) {
		if recorder != nil {
			s.metrics = recorder
		}
	}
}

// WithTracer sets the operation tracer.
func WithTracer(tracer Tracer) Option {
	return func(s *Service) {
		if tracer != nil {
			s.tracer = tracer
		}
	}
}

// WithAuditRecorder sets the audit sink for mutating operations.
func WithAuditRecorder(recorder AuditRecorder) Option {
	return func(s *Service) {
		if recorder != nil {
			s.audit = recorder
		}
	}
}

// WithDistributedLocker serializes entity transitions across processes in
// addition to the in-process lock. ttl <= 0 selects DefaultLockTTL.
func WithDistributedLocker(locker domain.DistributedLocker, ttl time.Duration) Option {
	return func(s *Service) {
		s.locker = locker
		s.lockTTL = ttl
	}
}

// NewService constructs a service backed by the supplied store.
func NewService(store PersistentStore, opts ...Option) *Service {
	s := &Service{
		store:       store,
		transitions: NewTransitionEngine(),
		logger:      noopLogger{},
		metrics:     noopMetricsRecorder{},
		tracer:      noopTracer{},
		audit:       noopAuditRecorder{},
	}
	for _, opt := range opts {
		opt(s)
	}
	s.now = selectNowFunc(store, s.clock)
	s.locks = NewEntityLocks(s.locker, s.lockTTL, s.logger)
	return s
}

// NewInMemoryService creates a service over a fresh in-memory store. A nil
// engine selects NewDefaultRulesEngine.
func NewInMemoryService(engine *RulesEngine, opts ...Option) *Service {
	if engine == nil {
		engine = NewDefaultRulesEngine()
	}
	return NewService(memory.NewStore(engine), opts...)
}

// Store returns the underlying storage implementation.
func (s *Service) Store() PersistentStore {
	return s.store
}

type nowFuncProvider interface {
	NowFunc() func() time.Time
}

type rulesEngineProvider interface {
	RulesEngine() *RulesEngine
}

func selectNowFunc(store PersistentStore, clock Clock) func() time.Time {
	if p, ok := store.(nowFuncProvider); ok {
		if fn := p.NowFunc(); fn != nil {
			return func() time.Time { return fn().UTC() }
		}
	}
	if clock != nil {
		return clock.Now
	}
	return func() time.Time { return time.Now().UTC() }
}

func extractRulesEngine(store PersistentStore) *RulesEngine {
	if p, ok := store.(rulesEngineProvider); ok {
		return p.RulesEngine()
	}
	return nil
}

// RulesEngine returns the engine evaluated on every commit, when the store
// exposes one.
func (s *Service) RulesEngine() *RulesEngine {
	return extractRulesEngine(s.store)
}

func (s *Service) nowMillis() int64 {
	return s.now().UnixMilli()
}

// instrument reports fn's outcome to the tracer, metrics and logger.
func (s *Service) instrument(ctx context.Context, op string, fn func(context.Context) error) (time.Duration, error) {
	start := time.Now()
	ctx, span := s.tracer.Start(ctx, op)
	err := fn(ctx)
	duration := time.Since(start)
	span.End(err)
	s.metrics.Observe(ctx, op, err == nil, duration)
	switch {
	case err == nil:
		s.logger.Debug("operation completed", "operation", op, "duration", duration)
	case errors.Is(err, domain.ErrNotFound), errors.Is(err, domain.ErrInvalidArgument):
		s.logger.Warn("operation rejected", "operation", op, "err", err)
	default:
		s.logger.Error("operation failed", "operation", op, "err", err)
	}
	return duration, err
}

// run executes fn in one store transaction, under lockKey when non-empty.
func (s *Service) run(ctx context.Context, op, lockKey string, fn func(Transaction) error) (Result, time.Duration, error) {
	var res Result
	exec := func(ctx context.Context) error {
		var err error
		res, err = s.store.RunInTransaction(ctx, fn)
		return err
	}
	duration, err := s.instrument(ctx, op, func(ctx context.Context) error {
		if lockKey == "" {
			return exec(ctx)
		}
		return s.locks.WithLock(ctx, lockKey, exec)
	})
	for _, v := range res.Violations {
		if v.Severity != domain.SeverityBlock {
			s.logger.Warn("rule violation", "operation", op, "rule", v.Rule, "node", v.NodeID, "message", v.Message)
		}
	}
	return res, duration, err
}

// read runs fn against a consistent view of the store.
func (s *Service) read(ctx context.Context, op string, fn func(TransactionView) error) error {
	_, err := s.instrument(ctx, op, func(ctx context.Context) error {
		return s.store.View(ctx, fn)
	})
	return err
}

func (s *Service) recordAudit(ctx context.Context, op string, entity domain.NodeID, state *domain.NodeID, duration time.Duration, err error) {
	action, ok := auditActions[op]
	if !ok {
		return
	}
	entry := AuditEntry{
		Operation: op,
		Action:    action,
		EntityID:  entity,
		StateID:   state,
		Status:    AuditStatusSuccess,
		Duration:  duration,
		Timestamp: s.now(),
	}
	if err != nil {
		entry.Status = AuditStatusError
		entry.Error = err.Error()
		entry.StateID = nil
	}
	s.audit.Record(ctx, entry)
}

// CreateEntity persists an entity with no state.
func (s *Service) CreateEntity(ctx context.Context, req CreateEntityRequest) (domain.NodeID, Result, error) {
	var id domain.NodeID
	res, dur, err := s.run(ctx, OpCreateEntity, "", func(tx Transaction) error {
		var err error
		id, err = s.transitions.CreateEntity(tx, req)
		return err
	})
	s.recordAudit(ctx, OpCreateEntity, id, nil, dur, err)
	if err != nil {
		return 0, res, err
	}
	s.logger.Info("entity created", "entity", id)
	return id, res, nil
}

// Init creates an entity with its first state and opens its status interval.
func (s *Service) Init(ctx context.Context, req InitRequest) (InitResult, Result, error) {
	var out InitResult
	res, dur, err := s.run(ctx, OpInit, "", func(tx Transaction) error {
		var err error
		out, err = s.transitions.Init(tx, req, s.nowMillis())
		return err
	})
	s.recordAudit(ctx, OpInit, out.EntityID, &out.StateID, dur, err)
	if err != nil {
		return InitResult{}, res, err
	}
	s.logger.Info("entity initialized", "entity", out.EntityID, "state", out.StateID, "timestamp", out.Timestamp)
	return out, res, nil
}

// Update records a new state for req.Entity whose properties are exactly
// req.Properties, makes it current and closes the superseded state's open
// status interval.
func (s *Service) Update(ctx context.Context, req UpdateRequest) (UpdateResult, Result, error) {
	return s.transition(ctx, OpUpdate, req, PatchReplace)
}

// Patch is Update with the new state's properties derived by overlaying
// req.Properties onto the current state's properties.
func (s *Service) Patch(ctx context.Context, req UpdateRequest) (UpdateResult, Result, error) {
	return s.transition(ctx, OpPatch, req, PatchMerge)
}

func (s *Service) transition(ctx context.Context, op string, req UpdateRequest, mode PatchMode) (UpdateResult, Result, error) {
	var out UpdateResult
	res, dur, err := s.run(ctx, op, EntityKey(req.Entity), func(tx Transaction) error {
		var err error
		out, err = s.transitions.Apply(tx, req, mode, s.nowMillis())
		return err
	})
	s.recordAudit(ctx, op, req.Entity, &out.StateID, dur, err)
	if err != nil {
		return UpdateResult{}, res, err
	}
	s.logger.Info("state transition", "operation", op, "entity", req.Entity, "state", out.StateID, "timestamp", out.Timestamp)
	return out, res, nil
}

// Retag closes the open status interval of the entity's current state and
// opens a new one with req.ContextLabel.
func (s *Service) Retag(ctx context.Context, req RetagRequest) (RetagResult, Result, error) {
	var out RetagResult
	res, dur, err := s.run(ctx, OpRetag, EntityKey(req.Entity), func(tx Transaction) error {
		var err error
		out, err = s.transitions.Retag(tx, req, s.nowMillis())
		return err
	})
	s.recordAudit(ctx, OpRetag, req.Entity, &out.StateID, dur, err)
	if err != nil {
		return RetagResult{}, res, err
	}
	return out, res, nil
}

// CurrentState returns the state the entity's CURRENT pointer references.
// ok is false when the entity has no state yet.
func (s *Service) CurrentState(ctx context.Context, entity domain.NodeID) (CurrentState, bool, error) {
	var (
		out CurrentState
		ok  bool
	)
	err := s.read(ctx, OpCurrentState, func(view TransactionView) error {
		pointer, found, err := currentPointer(view, entity)
		if err != nil || !found {
			return err
		}
		state, exists := view.FindNode(pointer.To)
		if !exists {
			return domain.NotFoundError{Kind: "state", ID: int64(pointer.To)}
		}
		out.State = state
		out.Since, _ = pointer.Int64(domain.PropDate)
		ok = true
		return nil
	})
	return out, ok, err
}

// HistoryEntry is one state in an entity's history with the time it became
// current.
type HistoryEntry struct {
	State domain.Node `json:"state"`
	Since int64       `json:"since"`
}

// History walks the PREVIOUS chain from the current state, newest first.
func (s *Service) History(ctx context.Context, entity domain.NodeID) ([]HistoryEntry, error) {
	var out []HistoryEntry
	err := s.read(ctx, OpHistory, func(view TransactionView) error {
		pointer, found, err := currentPointer(view, entity)
		if err != nil || !found {
			return err
		}
		since, _ := pointer.Int64(domain.PropDate)
		seen := make(map[domain.NodeID]struct{})
		cursor := pointer.To
		for {
			if _, loop := seen[cursor]; loop {
				return domain.IntegrityError{Rule: ruleLinearHistory, Message: fmt.Sprintf("history of entity %d revisits state %d", entity, cursor)}
			}
			seen[cursor] = struct{}{}
			state, ok := view.FindNode(cursor)
			if !ok {
				return domain.NotFoundError{Kind: "state", ID: int64(cursor)}
			}
			out = append(out, HistoryEntry{State: state, Since: since})
			prev := view.OutgoingEdges(cursor, domain.EdgePrevious)
			if len(prev) == 0 {
				return nil
			}
			since, _ = prev[0].Int64(domain.PropDate)
			cursor = prev[0].To
		}
	})
	return out, err
}

// Intervals returns every status interval of the entity ordered by start.
func (s *Service) Intervals(ctx context.Context, entity domain.NodeID) ([]Interval, error) {
	var out []Interval
	err := s.read(ctx, OpIntervals, func(view TransactionView) error {
		if err := requireEntity(view, entity); err != nil {
			return err
		}
		for _, e := range view.OutgoingEdges(entity, domain.EdgeHasStatus) {
			if iv, ok := decodeInterval(e); ok {
				out = append(out, iv)
			}
		}
		sort.SliceStable(out, func(i, j int) bool {
			if out[i].Start != out[j].Start {
				return out[i].Start < out[j].Start
			}
			return out[i].EdgeID < out[j].EdgeID
		})
		return nil
	})
	return out, err
}

func currentPointer(view TransactionView, entity domain.NodeID) (domain.Edge, bool, error) {
	if err := requireEntity(view, entity); err != nil {
		return domain.Edge{}, false, err
	}
	pointers := view.OutgoingEdges(entity, domain.EdgeCurrent)
	switch len(pointers) {
	case 0:
		return domain.Edge{}, false, nil
	case 1:
		return pointers[0], true, nil
	default:
		return domain.Edge{}, false, domain.IntegrityError{
			Rule:    ruleSingleCurrentPointer,
			Message: fmt.Sprintf("entity %d has %d CURRENT pointers", entity, len(pointers)),
		}
	}
}
