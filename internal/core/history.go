package core

import (
	"fmt"

	"graphversioner/pkg/domain"
)

// ChainManager maintains the reverse-chronological chain of states behind an
// entity and the single CURRENT pointer at its head.
type ChainManager struct{}

// ChainStep reports what AdvanceChain changed.
type ChainStep struct {
	// Previous is the state that was current before the step. Zero when
	// HadPrevious is false.
	Previous    domain.NodeID
	HadPrevious bool
	PointerID   domain.EdgeID
	// HistoryID is the PREVIOUS edge from the new state to Previous.
	HistoryID domain.EdgeID
}

// Current resolves the CURRENT pointer leaving entity.
func (ChainManager) Current(tx domain.Transaction, entity domain.NodeID) (domain.Edge, bool, error) {
	return tx.FindOutgoingEdge(entity, domain.EdgeCurrent)
}

// AdvanceChain links newState behind the entity's current state and moves the
// CURRENT pointer onto newState stamped with ts. With no current state only
// the pointer is created.
func (m ChainManager) AdvanceChain(tx domain.Transaction, entity, newState domain.NodeID, ts int64) (ChainStep, error) {
	current, ok, err := m.Current(tx, entity)
	if err != nil {
		return ChainStep{}, err
	}
	if existing := tx.OutgoingEdges(newState, domain.EdgePrevious); len(existing) > 0 {
		return ChainStep{}, domain.IntegrityError{
			Rule:    ruleLinearHistory,
			Message: fmt.Sprintf("state %d already links to state %d", newState, existing[0].To),
		}
	}

	var step ChainStep
	if ok {
		old := current.To
		if old == newState {
			return ChainStep{}, domain.IntegrityError{
				Rule:    ruleLinearHistory,
				Message: fmt.Sprintf("state %d is already current on entity %d", newState, entity),
			}
		}
		if succ := tx.IncomingEdges(old, domain.EdgePrevious); len(succ) > 0 {
			return ChainStep{}, domain.IntegrityError{
				Rule:    ruleLinearHistory,
				Message: fmt.Sprintf("state %d already has successor %d", old, succ[0].From),
			}
		}
		props := domain.PropertySet{}
		if since, ok := current.Properties[domain.PropDate]; ok {
			props[domain.PropDate] = since
		}
		historyID, err := tx.CreateEdge(newState, old, domain.EdgePrevious, props)
		if err != nil {
			return ChainStep{}, fmt.Errorf("link history: %w", err)
		}
		if err := tx.DeleteEdge(current.ID); err != nil {
			return ChainStep{}, fmt.Errorf("remove current pointer: %w", err)
		}
		step.Previous = old
		step.HadPrevious = true
		step.HistoryID = historyID
	}

	pointerID, err := tx.CreateEdge(entity, newState, domain.EdgeCurrent, domain.PropertySet{domain.PropDate: domain.Int(ts)})
	if err != nil {
		return ChainStep{}, fmt.Errorf("set current pointer: %w", err)
	}
	step.PointerID = pointerID
	return step, nil
}
