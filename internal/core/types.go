package core

import "graphversioner/pkg/domain"

type (
	// Transaction aliases domain.Transaction.
	Transaction = domain.Transaction
	// TransactionView aliases domain.TransactionView.
	TransactionView = domain.TransactionView
	// PersistentStore aliases domain.PersistentStore.
	PersistentStore = domain.PersistentStore
	// RulesEngine aliases domain.RulesEngine.
	RulesEngine = domain.RulesEngine
	// Result aliases domain.Result.
	Result = domain.Result
)

// PatchMode selects how a transition derives the new state's properties.
type PatchMode int

const (
	// PatchReplace uses the patch as the complete property set.
	PatchReplace PatchMode = iota
	// PatchMerge overlays the patch onto the previous state's properties.
	PatchMerge
)

// UpdateRequest describes one state transition.
type UpdateRequest struct {
	Entity       domain.NodeID
	ContextLabel string
	Properties   domain.PropertySet
	// AdditionalLabel, when non-empty, classifies the new state.
	AdditionalLabel string
	// Timestamp in epoch milliseconds. Nil means the service clock.
	Timestamp *int64
}

// UpdateResult reports the outcome of a transition.
type UpdateResult struct {
	StateID domain.NodeID `json:"state_id"`
	// PreviousStateID is nil on an entity's first transition.
	PreviousStateID *domain.NodeID `json:"previous_state_id,omitempty"`
	Timestamp       int64          `json:"timestamp"`
	ClosedInterval  bool           `json:"closed_interval"`
}

// CreateEntityRequest describes a bare entity with no state.
type CreateEntityRequest struct {
	Labels     []domain.Label
	Properties domain.PropertySet
}

// InitRequest creates an entity together with its first state.
type InitRequest struct {
	EntityLabels     []domain.Label
	EntityProperties domain.PropertySet
	StateProperties  domain.PropertySet
	ContextLabel     string
	AdditionalLabel  string
	Timestamp        *int64
}

// InitResult identifies the records created by Init.
type InitResult struct {
	EntityID   domain.NodeID `json:"entity_id"`
	StateID    domain.NodeID `json:"state_id"`
	IntervalID domain.EdgeID `json:"interval_id"`
	Timestamp  int64         `json:"timestamp"`
}

// RetagRequest moves the entity's current state into a new status context.
type RetagRequest struct {
	Entity       domain.NodeID
	ContextLabel string
	Timestamp    *int64
}

// RetagResult reports the interval opened by Retag.
type RetagResult struct {
	StateID        domain.NodeID `json:"state_id"`
	IntervalID     domain.EdgeID `json:"interval_id"`
	ClosedPrevious bool          `json:"closed_previous"`
	Timestamp      int64         `json:"timestamp"`
}

// CurrentState is the state an entity's CURRENT pointer references.
type CurrentState struct {
	State domain.Node `json:"state"`
	Since int64       `json:"since"`
}

// Interval is a decoded HAS_STATUS edge.
type Interval struct {
	EdgeID  domain.EdgeID `json:"edge_id"`
	StateID domain.NodeID `json:"state_id"`
	Start   int64         `json:"start"`
	// End is nil while the interval is open.
	End     *int64 `json:"end,omitempty"`
	Context string `json:"context,omitempty"`
}

// Open reports whether the interval has no end.
func (i Interval) Open() bool { return i.End == nil }
