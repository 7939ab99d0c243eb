package core

import (
	"fmt"

	"graphversioner/pkg/domain"
)

// IntervalTracker opens and closes HAS_STATUS intervals between an entity and
// one of its states. An interval is open while it carries no endDate.
type IntervalTracker struct{}

// OpenIntervals returns the open HAS_STATUS edges from entity to state.
func (IntervalTracker) OpenIntervals(view domain.TransactionView, entity, state domain.NodeID) []domain.Edge {
	var open []domain.Edge
	for _, e := range view.OutgoingEdges(entity, domain.EdgeHasStatus) {
		if e.To != state {
			continue
		}
		if _, closed := e.Properties[domain.PropEndDate]; closed {
			continue
		}
		open = append(open, e)
	}
	return open
}

// CloseOpenInterval stamps endDate on the open interval from entity to state.
// It reports false without error when no interval is open.
func (t IntervalTracker) CloseOpenInterval(tx domain.Transaction, entity, state domain.NodeID, end int64) (bool, error) {
	open := t.OpenIntervals(tx, entity, state)
	switch len(open) {
	case 0:
		return false, nil
	case 1:
	default:
		return false, domain.IntegrityError{
			Rule:    ruleStatusInterval,
			Message: fmt.Sprintf("entity %d has %d open intervals on state %d", entity, len(open), state),
		}
	}
	interval := open[0]
	if start, ok := interval.Int64(domain.PropStartDate); ok && end < start {
		return false, domain.IntegrityError{
			Rule:    ruleStatusInterval,
			Message: fmt.Sprintf("interval %d would end at %d before its start %d", interval.ID, end, start),
		}
	}
	if err := tx.SetEdgeProperty(interval.ID, domain.PropEndDate, domain.Int(end)); err != nil {
		return false, fmt.Errorf("close interval %d: %w", interval.ID, err)
	}
	return true, nil
}

// OpenInterval starts a new interval from entity to state at start. The
// context, when non-empty, is recorded on the edge.
func (t IntervalTracker) OpenInterval(tx domain.Transaction, entity, state domain.NodeID, start int64, context string) (domain.EdgeID, error) {
	if open := t.OpenIntervals(tx, entity, state); len(open) > 0 {
		return 0, domain.IntegrityError{
			Rule:    ruleStatusInterval,
			Message: fmt.Sprintf("entity %d already has open interval %d on state %d", entity, open[0].ID, state),
		}
	}
	props := domain.PropertySet{domain.PropStartDate: domain.Int(start)}
	if context != "" {
		props[domain.PropContext] = domain.String(context)
	}
	id, err := tx.CreateEdge(entity, state, domain.EdgeHasStatus, props)
	if err != nil {
		return 0, fmt.Errorf("open interval: %w", err)
	}
	return id, nil
}
