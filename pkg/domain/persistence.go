package domain

import "context"

// TransactionView provides read-only access to graph state for rules and
// read helpers.
type TransactionView interface {
	FindNode(id NodeID) (Node, bool)
	FindEdge(id EdgeID) (Edge, bool)
	ListNodes() []Node
	ListEdges() []Edge
	OutgoingEdges(node NodeID, typ EdgeType) []Edge
	IncomingEdges(node NodeID, typ EdgeType) []Edge
}

// Transaction exposes the minimal graph mutation surface that a persistence
// implementation must support within an atomic scope. Every call made through
// one Transaction commits or rolls back together.
type Transaction interface {
	TransactionView
	Snapshot() TransactionView
	CreateNode(labels []Label, props PropertySet) (NodeID, error)
	CreateEdge(from, to NodeID, typ EdgeType, props PropertySet) (EdgeID, error)
	DeleteEdge(id EdgeID) error
	SetEdgeProperty(id EdgeID, key string, value Value) error
	// FindOutgoingEdge returns the single edge of typ leaving node. It fails
	// with an integrity violation when more than one such edge exists.
	FindOutgoingEdge(node NodeID, typ EdgeType) (Edge, bool, error)
}

// Snapshot is a serializable point-in-time copy of a graph store.
type Snapshot struct {
	Nodes      []Node `json:"nodes"`
	Edges      []Edge `json:"edges"`
	NextNodeID NodeID `json:"next_node_id"`
	NextEdgeID EdgeID `json:"next_edge_id"`
}

// PersistentStore is a minimal abstraction over durable backends.
type PersistentStore interface {
	RunInTransaction(ctx context.Context, fn func(Transaction) error) (Result, error)
	View(ctx context.Context, fn func(TransactionView) error) error
	ExportState() Snapshot
	ImportState(Snapshot)
	RulesEngine() *RulesEngine
}
