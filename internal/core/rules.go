package core

import (
	"context"
	"fmt"

	"graphversioner/pkg/domain"
)

const (
	ruleSingleCurrentPointer = "single_current_pointer"
	ruleLinearHistory        = "linear_history"
	ruleStatusInterval       = "status_interval"
)

// NewRulesEngine constructs an engine with no rules.
func NewRulesEngine() *RulesEngine {
	return domain.NewRulesEngine()
}

// NewDefaultRulesEngine builds a rules engine with the graph invariants every
// versioned entity must satisfy at commit.
func NewDefaultRulesEngine() *RulesEngine {
	engine := domain.NewRulesEngine()
	engine.Register(SingleCurrentPointerRule())
	engine.Register(LinearHistoryRule())
	engine.Register(StatusIntervalRule())
	return engine
}

func blockingViolation(rule string, node domain.NodeID, format string, args ...any) domain.Violation {
	return domain.Violation{
		Rule:     rule,
		Severity: domain.SeverityBlock,
		Message:  fmt.Sprintf(format, args...),
		NodeID:   node,
	}
}

// SingleCurrentPointerRule blocks commits leaving an entity with more than one
// CURRENT edge, or a CURRENT edge that does not target the head State of a
// history chain.
func SingleCurrentPointerRule() domain.Rule { return singleCurrentPointerRule{} }

type singleCurrentPointerRule struct{}

func (singleCurrentPointerRule) Name() string { return ruleSingleCurrentPointer }

func (singleCurrentPointerRule) Evaluate(_ context.Context, view domain.TransactionView, changes []domain.Change) (domain.Result, error) {
	res := domain.Result{}
	for _, id := range domain.TouchedNodes(changes) {
		node, ok := view.FindNode(id)
		if !ok {
			continue
		}
		pointers := view.OutgoingEdges(id, domain.EdgeCurrent)
		if len(pointers) == 0 {
			continue
		}
		if !node.HasLabel(domain.LabelEntity) {
			res.Violations = append(res.Violations, blockingViolation(ruleSingleCurrentPointer, id, "node %d holds a CURRENT pointer but is not an entity", id))
			continue
		}
		if len(pointers) > 1 {
			res.Violations = append(res.Violations, blockingViolation(ruleSingleCurrentPointer, id, "entity %d has %d CURRENT pointers", id, len(pointers)))
		}
		for _, p := range pointers {
			target, ok := view.FindNode(p.To)
			if !ok || !target.HasLabel(domain.LabelState) {
				res.Violations = append(res.Violations, blockingViolation(ruleSingleCurrentPointer, id, "entity %d CURRENT pointer targets non-state node %d", id, p.To))
			} else if succ := view.IncomingEdges(p.To, domain.EdgePrevious); len(succ) > 0 {
				res.Violations = append(res.Violations, blockingViolation(ruleSingleCurrentPointer, id, "entity %d CURRENT pointer targets state %d which has successor %d", id, p.To, succ[0].From))
			}
			if _, ok := p.Int64(domain.PropDate); !ok {
				res.Violations = append(res.Violations, blockingViolation(ruleSingleCurrentPointer, id, "entity %d CURRENT pointer %d has no integer date", id, p.ID))
			}
		}
	}
	return res, nil
}

// LinearHistoryRule blocks commits that fork or loop a PREVIOUS chain: every
// state has at most one predecessor and one successor and no chain revisits a
// state.
func LinearHistoryRule() domain.Rule { return linearHistoryRule{} }

type linearHistoryRule struct{}

func (linearHistoryRule) Name() string { return ruleLinearHistory }

func (linearHistoryRule) Evaluate(_ context.Context, view domain.TransactionView, changes []domain.Change) (domain.Result, error) {
	res := domain.Result{}
	for _, id := range domain.TouchedNodes(changes) {
		if _, ok := view.FindNode(id); !ok {
			continue
		}
		out := view.OutgoingEdges(id, domain.EdgePrevious)
		in := view.IncomingEdges(id, domain.EdgePrevious)
		if len(out) > 1 {
			res.Violations = append(res.Violations, blockingViolation(ruleLinearHistory, id, "state %d has %d predecessors", id, len(out)))
		}
		if len(in) > 1 {
			res.Violations = append(res.Violations, blockingViolation(ruleLinearHistory, id, "state %d has %d successors", id, len(in)))
		}
		if len(out) == 0 {
			continue
		}
		seen := map[domain.NodeID]struct{}{id: {}}
		cursor := out[0].To
		for {
			if _, loop := seen[cursor]; loop {
				res.Violations = append(res.Violations, blockingViolation(ruleLinearHistory, id, "history chain from state %d revisits state %d", id, cursor))
				break
			}
			seen[cursor] = struct{}{}
			next := view.OutgoingEdges(cursor, domain.EdgePrevious)
			if len(next) == 0 {
				break
			}
			cursor = next[0].To
		}
	}
	return res, nil
}

// StatusIntervalRule blocks commits that leave an entity with more than one
// open interval per state, an interval ending before it starts, or
// overlapping intervals. An open interval runs until further notice.
func StatusIntervalRule() domain.Rule { return statusIntervalRule{} }

type statusIntervalRule struct{}

func (statusIntervalRule) Name() string { return ruleStatusInterval }

func (statusIntervalRule) Evaluate(_ context.Context, view domain.TransactionView, changes []domain.Change) (domain.Result, error) {
	res := domain.Result{}
	for _, id := range domain.TouchedNodes(changes) {
		edges := view.OutgoingEdges(id, domain.EdgeHasStatus)
		if len(edges) == 0 {
			continue
		}
		open := make(map[domain.NodeID]int)
		var closed, running []Interval
		for _, e := range edges {
			iv, ok := decodeInterval(e)
			if !ok {
				res.Violations = append(res.Violations, blockingViolation(ruleStatusInterval, id, "interval %d has no integer startDate", e.ID))
				continue
			}
			if iv.Open() {
				open[iv.StateID]++
				running = append(running, iv)
				continue
			}
			if *iv.End < iv.Start {
				res.Violations = append(res.Violations, blockingViolation(ruleStatusInterval, id, "interval %d ends at %d before its start %d", iv.EdgeID, *iv.End, iv.Start))
				continue
			}
			closed = append(closed, iv)
		}
		for state, n := range open {
			if n > 1 {
				res.Violations = append(res.Violations, blockingViolation(ruleStatusInterval, id, "entity %d has %d open intervals on state %d", id, n, state))
			}
		}
		for i := 0; i < len(closed); i++ {
			for j := i + 1; j < len(closed); j++ {
				a, b := closed[i], closed[j]
				if a.Start < *b.End && b.Start < *a.End {
					res.Violations = append(res.Violations, blockingViolation(ruleStatusInterval, id, "entity %d intervals %d and %d overlap", id, a.EdgeID, b.EdgeID))
				}
			}
		}
		for _, r := range running {
			for _, c := range closed {
				if r.Start < *c.End {
					res.Violations = append(res.Violations, blockingViolation(ruleStatusInterval, id, "entity %d open interval %d starts at %d inside interval %d", id, r.EdgeID, r.Start, c.EdgeID))
				}
			}
		}
	}
	return res, nil
}

// decodeInterval reads a HAS_STATUS edge. ok is false when startDate is
// missing or not an integer.
func decodeInterval(e domain.Edge) (Interval, bool) {
	start, ok := e.Int64(domain.PropStartDate)
	if !ok {
		return Interval{}, false
	}
	iv := Interval{EdgeID: e.ID, StateID: e.To, Start: start}
	if end, ok := e.Int64(domain.PropEndDate); ok {
		iv.End = &end
	}
	if v, ok := e.Properties[domain.PropContext]; ok {
		iv.Context, _ = v.AsString()
	}
	return iv, true
}
