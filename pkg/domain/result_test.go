package domain

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestResultMergeAndBlocking(t *testing.T) {
	var result Result
	result.Merge(Result{Violations: []Violation{{Rule: "warn", Severity: SeverityWarn}}})
	if result.HasBlocking() {
		t.Fatalf("expected no blocking violations")
	}
	result.Merge(Result{Violations: []Violation{{Rule: "block", Severity: SeverityBlock, Message: "two current pointers"}}})
	if !result.HasBlocking() {
		t.Fatalf("expected blocking violation")
	}
	err := RuleViolationError{Result: result}
	if err.Error() != "transaction blocked by rules: block: two current pointers" {
		t.Fatalf("unexpected error string %q", err.Error())
	}
	if !errors.Is(err, ErrIntegrityViolation) {
		t.Fatalf("expected rule violation to match ErrIntegrityViolation")
	}
}

func TestResultMergeEmptyInput(t *testing.T) {
	original := Result{Violations: []Violation{{Rule: "existing", Severity: SeverityWarn}}}
	original.Merge(Result{})
	if len(original.Violations) != 1 || original.Violations[0].Rule != "existing" {
		t.Fatalf("expected original violations to remain, got %+v", original.Violations)
	}
}

func TestRulesEngineEvaluate(t *testing.T) {
	engine := NewRulesEngine()
	engine.Register(staticRule{"warn"})
	res, err := engine.Evaluate(context.Background(), emptyView{}, nil)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if len(res.Violations) != 1 {
		t.Fatalf("expected violation")
	}
	if names := engine.Rules(); len(names) != 1 || names[0] != "warn" {
		t.Fatalf("unexpected rule names %v", names)
	}
}

func TestRulesEngineEvaluateError(t *testing.T) {
	engine := NewRulesEngine()
	engine.Register(errorRule{})
	if _, err := engine.Evaluate(context.Background(), emptyView{}, nil); err == nil {
		t.Fatalf("expected evaluation error")
	}
}

func TestTouchedNodesCollectsEndpoints(t *testing.T) {
	changes := []Change{
		{Kind: ChangeNode, Action: ActionCreate, After: Node{ID: 2}},
		{Kind: ChangeEdge, Action: ActionCreate, After: Edge{ID: 1, From: 0, To: 2, Type: EdgeCurrent}},
		{Kind: ChangeEdge, Action: ActionDelete, Before: Edge{ID: 0, From: 0, To: 1, Type: EdgeCurrent}},
	}
	got := TouchedNodes(changes)
	want := []NodeID{2, 0, 1}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}
}

type staticRule struct{ name string }

func (r staticRule) Name() string { return r.name }

func (r staticRule) Evaluate(context.Context, TransactionView, []Change) (Result, error) {
	return Result{Violations: []Violation{{Rule: r.name, Severity: SeverityWarn}}}, nil
}

type errorRule struct{}

func (errorRule) Name() string { return "error" }

func (errorRule) Evaluate(context.Context, TransactionView, []Change) (Result, error) {
	return Result{}, fmt.Errorf("boom")
}

type emptyView struct{}

func (emptyView) FindNode(NodeID) (Node, bool) { return Node{}, false }
func (emptyView) FindEdge(EdgeID) (Edge, bool) { return Edge{}, false }
func (emptyView) ListNodes() []Node { return nil }
func (emptyView) ListEdges() []Edge { return nil }
func (emptyView) OutgoingEdges(NodeID, EdgeType) []Edge { return nil }
func (emptyView) IncomingEdges(NodeID, EdgeType) []Edge { return nil }
