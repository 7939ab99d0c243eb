package core

import (
	"fmt"
	"strings"

	"graphversioner/pkg/domain"
)

// TransitionEngine applies one state transition inside a caller-provided
// transaction: it creates the new state, advances the history chain and closes
// the status interval on the superseded state.
type TransitionEngine struct {
	chain     ChainManager
	intervals IntervalTracker
}

// NewTransitionEngine constructs an engine over the default chain manager and
// interval tracker.
func NewTransitionEngine() TransitionEngine {
	return TransitionEngine{}
}

// Apply runs the transition described by req. now supplies the effective
// timestamp when req.Timestamp is nil.
func (e TransitionEngine) Apply(tx domain.Transaction, req UpdateRequest, mode PatchMode, now int64) (UpdateResult, error) {
	if err := requireEntity(tx, req.Entity); err != nil {
		return UpdateResult{}, err
	}
	if strings.TrimSpace(req.ContextLabel) == "" {
		return UpdateResult{}, domain.ArgumentError{Field: "contextLabel", Message: "must not be blank"}
	}
	labels, err := stateLabels(req.AdditionalLabel)
	if err != nil {
		return UpdateResult{}, err
	}
	if err := req.Properties.Validate(); err != nil {
		return UpdateResult{}, err
	}

	current, hasCurrent, err := e.chain.Current(tx, req.Entity)
	if err != nil {
		return UpdateResult{}, err
	}

	ts := now
	if req.Timestamp != nil {
		ts = *req.Timestamp
	}
	if err := e.checkTimestamp(tx, req.Entity, ts); err != nil {
		return UpdateResult{}, err
	}

	props := req.Properties.Clone()
	if mode == PatchMerge && hasCurrent {
		old, ok := tx.FindNode(current.To)
		if !ok {
			return UpdateResult{}, domain.NotFoundError{Kind: "state", ID: int64(current.To)}
		}
		props = old.Properties.Merge(req.Properties)
	}

	stateID, err := tx.CreateNode(labels, props)
	if err != nil {
		return UpdateResult{}, fmt.Errorf("create state: %w", err)
	}
	step, err := e.chain.AdvanceChain(tx, req.Entity, stateID, ts)
	if err != nil {
		return UpdateResult{}, err
	}

	result := UpdateResult{StateID: stateID, Timestamp: ts}
	if step.HadPrevious {
		prev := step.Previous
		result.PreviousStateID = &prev
		closed, err := e.intervals.CloseOpenInterval(tx, req.Entity, step.Previous, ts)
		if err != nil {
			return UpdateResult{}, err
		}
		result.ClosedInterval = closed
	}
	return result, nil
}

// Retag closes the open interval on the entity's current state and opens a
// new one carrying req.ContextLabel. No state is created.
func (e TransitionEngine) Retag(tx domain.Transaction, req RetagRequest, now int64) (RetagResult, error) {
	if err := requireEntity(tx, req.Entity); err != nil {
		return RetagResult{}, err
	}
	if strings.TrimSpace(req.ContextLabel) == "" {
		return RetagResult{}, domain.ArgumentError{Field: "contextLabel", Message: "must not be blank"}
	}
	current, ok, err := e.chain.Current(tx, req.Entity)
	if err != nil {
		return RetagResult{}, err
	}
	if !ok {
		return RetagResult{}, domain.NotFoundError{Kind: "current state of entity", ID: int64(req.Entity)}
	}
	state := current.To
	ts := now
	if req.Timestamp != nil {
		ts = *req.Timestamp
	}
	if err := e.checkTimestamp(tx, req.Entity, ts); err != nil {
		return RetagResult{}, err
	}
	closed, err := e.intervals.CloseOpenInterval(tx, req.Entity, state, ts)
	if err != nil {
		return RetagResult{}, err
	}
	intervalID, err := e.intervals.OpenInterval(tx, req.Entity, state, ts, req.ContextLabel)
	if err != nil {
		return RetagResult{}, err
	}
	return RetagResult{StateID: state, IntervalID: intervalID, ClosedPrevious: closed, Timestamp: ts}, nil
}

// Init creates an entity with its first state, points CURRENT at it and opens
// a status interval.
func (e TransitionEngine) Init(tx domain.Transaction, req InitRequest, now int64) (InitResult, error) {
	entityLabels, err := entityLabels(req.EntityLabels)
	if err != nil {
		return InitResult{}, err
	}
	labels, err := stateLabels(req.AdditionalLabel)
	if err != nil {
		return InitResult{}, err
	}
	if err := req.EntityProperties.Validate(); err != nil {
		return InitResult{}, err
	}
	if err := req.StateProperties.Validate(); err != nil {
		return InitResult{}, err
	}
	ts := now
	if req.Timestamp != nil {
		ts = *req.Timestamp
	}

	entityID, err := tx.CreateNode(entityLabels, req.EntityProperties)
	if err != nil {
		return InitResult{}, fmt.Errorf("create entity: %w", err)
	}
	stateID, err := tx.CreateNode(labels, req.StateProperties)
	if err != nil {
		return InitResult{}, fmt.Errorf("create state: %w", err)
	}
	if _, err := e.chain.AdvanceChain(tx, entityID, stateID, ts); err != nil {
		return InitResult{}, err
	}
	intervalID, err := e.intervals.OpenInterval(tx, entityID, stateID, ts, strings.TrimSpace(req.ContextLabel))
	if err != nil {
		return InitResult{}, err
	}
	return InitResult{EntityID: entityID, StateID: stateID, IntervalID: intervalID, Timestamp: ts}, nil
}

// CreateEntity creates an entity without any state.
func (e TransitionEngine) CreateEntity(tx domain.Transaction, req CreateEntityRequest) (domain.NodeID, error) {
	labels, err := entityLabels(req.Labels)
	if err != nil {
		return 0, err
	}
	if err := req.Properties.Validate(); err != nil {
		return 0, err
	}
	id, err := tx.CreateNode(labels, req.Properties)
	if err != nil {
		return 0, fmt.Errorf("create entity: %w", err)
	}
	return id, nil
}

// latestRecorded returns the latest time already written for entity: its
// CURRENT date and every interval start and end. ok is false when nothing has
// been recorded yet.
func (e TransitionEngine) latestRecorded(view domain.TransactionView, entity domain.NodeID) (latest int64, ok bool) {
	consider := func(v int64) {
		if !ok || v > latest {
			latest, ok = v, true
		}
	}
	for _, pointer := range view.OutgoingEdges(entity, domain.EdgeCurrent) {
		if v, has := pointer.Int64(domain.PropDate); has {
			consider(v)
		}
	}
	for _, interval := range view.OutgoingEdges(entity, domain.EdgeHasStatus) {
		if v, has := interval.Int64(domain.PropStartDate); has {
			consider(v)
		}
		if v, has := interval.Int64(domain.PropEndDate); has {
			consider(v)
		}
	}
	return latest, ok
}

// checkTimestamp rejects a transition time earlier than anything already
// recorded for entity. Equal times are accepted.
func (e TransitionEngine) checkTimestamp(view domain.TransactionView, entity domain.NodeID, ts int64) error {
	latest, ok := e.latestRecorded(view, entity)
	if ok && ts < latest {
		return domain.ArgumentError{
			Field:   "timestamp",
			Message: fmt.Sprintf("%d precedes %d, the latest time recorded for entity %d", ts, latest, entity),
		}
	}
	return nil
}

func requireEntity(view domain.TransactionView, id domain.NodeID) error {
	node, ok := view.FindNode(id)
	if !ok || !node.HasLabel(domain.LabelEntity) {
		return domain.NotFoundError{Kind: "entity", ID: int64(id)}
	}
	return nil
}

func stateLabels(additional string) ([]domain.Label, error) {
	labels := []domain.Label{domain.LabelState}
	additional = strings.TrimSpace(additional)
	if additional == "" {
		return labels, nil
	}
	switch domain.Label(additional) {
	case domain.LabelEntity:
		return nil, domain.ArgumentError{Field: "additionalLabel", Message: "a state cannot carry the Entity label"}
	case domain.LabelState:
		return nil, domain.ArgumentError{Field: "additionalLabel", Message: "State is implied and cannot be added"}
	}
	return append(labels, domain.Label(additional)), nil
}

func entityLabels(extra []domain.Label) ([]domain.Label, error) {
	labels := []domain.Label{domain.LabelEntity}
	for _, l := range extra {
		if l == domain.LabelState {
			return nil, domain.ArgumentError{Field: "labels", Message: "an entity cannot carry the State label"}
		}
		labels = append(labels, l)
	}
	return domain.NormalizeLabels(labels), nil
}
