// Package memory provides an in-memory implementation of the graph store used
// for tests, ephemeral environments and as the working set of the snapshotting
// backends.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"graphversioner/pkg/domain"
)

// Compile-time contract assertion ensuring memory.Store adheres to the domain persistence interface.
var _ domain.PersistentStore = (*Store)(nil)

type (
	// Change aliases domain.Change captured in transactions.
	Change = domain.Change
	// Result aliases domain.Result summarizing rule evaluation.
	Result = domain.Result
	// RulesEngine aliases domain.RulesEngine used to evaluate rules.
	RulesEngine = domain.RulesEngine
	// Transaction aliases domain.Transaction representing a mutable unit of work.
	Transaction = domain.Transaction
	// TransactionView aliases domain.TransactionView providing read-only state.
	TransactionView = domain.TransactionView
	// Snapshot aliases domain.Snapshot.
	Snapshot = domain.Snapshot
)

type graphState struct {
	nodes    map[domain.NodeID]domain.Node
	edges    map[domain.EdgeID]domain.Edge
	outgoing map[domain.NodeID][]domain.EdgeID
	incoming map[domain.NodeID][]domain.EdgeID
	nextNode domain.NodeID
	nextEdge domain.EdgeID
}

func newGraphState() graphState {
	return graphState{
		nodes:    make(map[domain.NodeID]domain.Node),
		edges:    make(map[domain.EdgeID]domain.Edge),
		outgoing: make(map[domain.NodeID][]domain.EdgeID),
		incoming: make(map[domain.NodeID][]domain.EdgeID),
	}
}

func (s graphState) clone() graphState {
	out := graphState{
		nodes:    make(map[domain.NodeID]domain.Node, len(s.nodes)),
		edges:    make(map[domain.EdgeID]domain.Edge, len(s.edges)),
		outgoing: make(map[domain.NodeID][]domain.EdgeID, len(s.outgoing)),
		incoming: make(map[domain.NodeID][]domain.EdgeID, len(s.incoming)),
		nextNode: s.nextNode,
		nextEdge: s.nextEdge,
	}
	for k, v := range s.nodes {
		out.nodes[k] = v.Clone()
	}
	for k, v := range s.edges {
		out.edges[k] = v.Clone()
	}
	for k, v := range s.outgoing {
		out.outgoing[k] = append([]domain.EdgeID(nil), v...)
	}
	for k, v := range s.incoming {
		out.incoming[k] = append([]domain.EdgeID(nil), v...)
	}
	return out
}

func (s *graphState) link(e domain.Edge) {
	s.edges[e.ID] = e
	s.outgoing[e.From] = append(s.outgoing[e.From], e.ID)
	s.incoming[e.To] = append(s.incoming[e.To], e.ID)
}

func (s *graphState) unlink(e domain.Edge) {
	delete(s.edges, e.ID)
	s.outgoing[e.From] = removeEdgeID(s.outgoing[e.From], e.ID)
	s.incoming[e.To] = removeEdgeID(s.incoming[e.To], e.ID)
}

func removeEdgeID(ids []domain.EdgeID, id domain.EdgeID) []domain.EdgeID {
	out := ids[:0]
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func snapshotFromGraphState(state graphState) Snapshot {
	snap := Snapshot{
		Nodes:      make([]domain.Node, 0, len(state.nodes)),
		Edges:      make([]domain.Edge, 0, len(state.edges)),
		NextNodeID: state.nextNode,
		NextEdgeID: state.nextEdge,
	}
	for _, n := range state.nodes {
		snap.Nodes = append(snap.Nodes, n.Clone())
	}
	for _, e := range state.edges {
		snap.Edges = append(snap.Edges, e.Clone())
	}
	sort.Slice(snap.Nodes, func(i, j int) bool { return snap.Nodes[i].ID < snap.Nodes[j].ID })
	sort.Slice(snap.Edges, func(i, j int) bool { return snap.Edges[i].ID < snap.Edges[j].ID })
	return snap
}

// graphStateFromSnapshot rebuilds adjacency indexes and repairs id counters
// that lag behind the highest stored id. Edges whose endpoints are missing are
// dropped.
func graphStateFromSnapshot(snap Snapshot) graphState {
	state := newGraphState()
	state.nextNode = snap.NextNodeID
	state.nextEdge = snap.NextEdgeID
	for _, n := range snap.Nodes {
		n = n.Clone()
		n.Labels = domain.NormalizeLabels(n.Labels)
		state.nodes[n.ID] = n
		if n.ID >= state.nextNode {
			state.nextNode = n.ID + 1
		}
	}
	edges := append([]domain.Edge(nil), snap.Edges...)
	sort.Slice(edges, func(i, j int) bool { return edges[i].ID < edges[j].ID })
	for _, e := range edges {
		if e.ID >= state.nextEdge {
			state.nextEdge = e.ID + 1
		}
		if _, ok := state.nodes[e.From]; !ok {
			continue
		}
		if _, ok := state.nodes[e.To]; !ok {
			continue
		}
		state.link(e.Clone())
	}
	return state
}

// Backend is durable storage behind a Store. Versions count committed saves;
// zero means nothing has been saved yet.
type Backend interface {
	// Version reports the stored version without reading the graph.
	Version(ctx context.Context) (int64, error)
	// Load returns the stored graph and its version.
	Load(ctx context.Context) (Snapshot, int64, error)
	// Save writes snapshot when the stored version still equals expected and
	// returns the new version. A moved version yields ErrVersionConflict.
	Save(ctx context.Context, snapshot Snapshot, expected int64) (int64, error)
}

// ErrVersionConflict reports that another writer saved to the backend since
// the store last loaded it.
var ErrVersionConflict = errors.New("backend version conflict")

// maxCommitAttempts bounds how often a transaction is replayed after a
// version conflict.
const maxCommitAttempts = 3

// Store provides an in-memory transactional graph store. With a Backend it is
// the working set of a durable store: every transaction reloads a stale graph
// first and is saved before it becomes visible.
type Store struct {
	mu      sync.RWMutex
	state   graphState
	engine  *RulesEngine
	backend Backend
	version int64
}

// NewStore constructs an in-memory store backed by the provided rules engine.
func NewStore(engine *RulesEngine) *Store {
	if engine == nil {
		engine = domain.NewRulesEngine()
	}
	return &Store{
		state:  newGraphState(),
		engine: engine,
	}
}

// NewDurableStore constructs a store over backend and hydrates it from the
// graph the backend already holds.
func NewDurableStore(ctx context.Context, engine *RulesEngine, backend Backend) (*Store, error) {
	s := NewStore(engine)
	s.backend = backend
	snapshot, version, err := backend.Load(ctx)
	if err != nil {
		return nil, err
	}
	s.state = graphStateFromSnapshot(snapshot)
	s.version = version
	return s, nil
}

// ExportState clones the current store state for external persistence.
func (s *Store) ExportState() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return snapshotFromGraphState(s.state)
}

// ImportState replaces the store state with the provided snapshot. It does
// not write through to a backend; use Restore for that.
func (s *Store) ImportState(snapshot Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = graphStateFromSnapshot(snapshot)
}

// Restore replaces the graph with snapshot, saving it to the backend first
// when one is attached.
func (s *Store) Restore(ctx context.Context, snapshot Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.backend != nil {
		current, err := s.backend.Version(ctx)
		if err != nil {
			return fmt.Errorf("read version: %w", err)
		}
		version, err := s.backend.Save(ctx, snapshot, current)
		if err != nil {
			return fmt.Errorf("persist: %w", err)
		}
		s.version = version
	}
	s.state = graphStateFromSnapshot(snapshot)
	return nil
}

// RulesEngine exposes the currently configured engine.
func (s *Store) RulesEngine() *RulesEngine {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.engine
}

// RunInTransaction executes fn within a transactional copy of the store state.
// The copy replaces committed state only when fn succeeds, no blocking rule
// violation is reported and, with a backend, the save succeeds. A save that
// loses to another writer reloads and replays fn.
func (s *Store) RunInTransaction(ctx context.Context, fn func(tx Transaction) error) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for attempt := 1; ; attempt++ {
		res, err := s.runLocked(ctx, fn)
		if !errors.Is(err, ErrVersionConflict) || attempt == maxCommitAttempts {
			return res, err
		}
	}
}

func (s *Store) runLocked(ctx context.Context, fn func(tx Transaction) error) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	if err := s.refresh(ctx); err != nil {
		return Result{}, err
	}
	tx := &transaction{state: s.state.clone()}
	if err := fn(tx); err != nil {
		return Result{}, err
	}

	var result Result
	if s.engine != nil {
		res, err := s.engine.Evaluate(ctx, tx.Snapshot(), tx.changes)
		if err != nil {
			return Result{}, err
		}
		result = res
		if res.HasBlocking() {
			return res, domain.RuleViolationError{Result: res}
		}
	}

	if s.backend != nil {
		version, err := s.backend.Save(ctx, snapshotFromGraphState(tx.state), s.version)
		if err != nil {
			return result, fmt.Errorf("persist: %w", err)
		}
		s.version = version
	}
	s.state = tx.state
	return result, nil
}

// refresh reloads the graph when the backend moved past the loaded version.
// The caller holds s.mu for writing.
func (s *Store) refresh(ctx context.Context) error {
	if s.backend == nil {
		return nil
	}
	current, err := s.backend.Version(ctx)
	if err != nil {
		return fmt.Errorf("read version: %w", err)
	}
	if current == s.version {
		return nil
	}
	snapshot, version, err := s.backend.Load(ctx)
	if err != nil {
		return err
	}
	s.state = graphStateFromSnapshot(snapshot)
	s.version = version
	return nil
}

// View executes fn against a read-only snapshot of the store state.
func (s *Store) View(ctx context.Context, fn func(TransactionView) error) error {
	if s.backend != nil {
		s.mu.Lock()
		err := s.refresh(ctx)
		s.mu.Unlock()
		if err != nil {
			return err
		}
	}
	s.mu.RLock()
	snapshot := s.state.clone()
	s.mu.RUnlock()
	return fn(view{state: &snapshot})
}

// view exposes a read-only window over a graph state.
type view struct {
	state *graphState
}

// FindNode retrieves a node by id.
func (v view) FindNode(id domain.NodeID) (domain.Node, bool) {
	n, ok := v.state.nodes[id]
	if !ok {
		return domain.Node{}, false
	}
	return n.Clone(), true
}

// FindEdge retrieves an edge by id.
func (v view) FindEdge(id domain.EdgeID) (domain.Edge, bool) {
	e, ok := v.state.edges[id]
	if !ok {
		return domain.Edge{}, false
	}
	return e.Clone(), true
}

// ListNodes returns every node ordered by id.
func (v view) ListNodes() []domain.Node {
	out := make([]domain.Node, 0, len(v.state.nodes))
	for _, n := range v.state.nodes {
		out = append(out, n.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ListEdges returns every edge ordered by id.
func (v view) ListEdges() []domain.Edge {
	out := make([]domain.Edge, 0, len(v.state.edges))
	for _, e := range v.state.edges {
		out = append(out, e.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// OutgoingEdges returns edges leaving node in creation order. An empty typ
// matches every type.
func (v view) OutgoingEdges(node domain.NodeID, typ domain.EdgeType) []domain.Edge {
	return v.collect(v.state.outgoing[node], typ)
}

// IncomingEdges returns edges entering node in creation order. An empty typ
// matches every type.
func (v view) IncomingEdges(node domain.NodeID, typ domain.EdgeType) []domain.Edge {
	return v.collect(v.state.incoming[node], typ)
}

func (v view) collect(ids []domain.EdgeID, typ domain.EdgeType) []domain.Edge {
	var out []domain.Edge
	for _, id := range ids {
		e := v.state.edges[id]
		if typ != "" && e.Type != typ {
			continue
		}
		out = append(out, e.Clone())
	}
	return out
}

// transaction represents a mutation set applied to a private copy of the store state.
type transaction struct {
	state   graphState
	changes []Change
}

func (tx *transaction) reader() view {
	return view{state: &tx.state}
}

func (tx *transaction) recordChange(change Change) {
	tx.changes = append(tx.changes, change)
}

// Snapshot returns a read-only view over the transactional state.
func (tx *transaction) Snapshot() TransactionView {
	return tx.reader()
}

// FindNode looks a node up within the transaction scope.
func (tx *transaction) FindNode(id domain.NodeID) (domain.Node, bool) {
	return tx.reader().FindNode(id)
}

// FindEdge looks an edge up within the transaction scope.
func (tx *transaction) FindEdge(id domain.EdgeID) (domain.Edge, bool) {
	return tx.reader().FindEdge(id)
}

// ListNodes returns every node visible to the transaction.
func (tx *transaction) ListNodes() []domain.Node { return tx.reader().ListNodes() }

// ListEdges returns every edge visible to the transaction.
func (tx *transaction) ListEdges() []domain.Edge { return tx.reader().ListEdges() }

// OutgoingEdges returns edges leaving node within the transaction scope.
func (tx *transaction) OutgoingEdges(node domain.NodeID, typ domain.EdgeType) []domain.Edge {
	return tx.reader().OutgoingEdges(node, typ)
}

// IncomingEdges returns edges entering node within the transaction scope.
func (tx *transaction) IncomingEdges(node domain.NodeID, typ domain.EdgeType) []domain.Edge {
	return tx.reader().IncomingEdges(node, typ)
}

// FindOutgoingEdge returns the single edge of typ leaving node.
func (tx *transaction) FindOutgoingEdge(node domain.NodeID, typ domain.EdgeType) (domain.Edge, bool, error) {
	edges := tx.OutgoingEdges(node, typ)
	switch len(edges) {
	case 0:
		return domain.Edge{}, false, nil
	case 1:
		return edges[0], true, nil
	default:
		return domain.Edge{}, false, domain.IntegrityError{
			Rule:    "single_edge",
			Message: fmt.Sprintf("node %d has %d outgoing %s edges", node, len(edges), typ),
		}
	}
}

// CreateNode stores a new node and returns its id.
func (tx *transaction) CreateNode(labels []domain.Label, props domain.PropertySet) (domain.NodeID, error) {
	labels = domain.NormalizeLabels(labels)
	if len(labels) == 0 {
		return 0, domain.ArgumentError{Field: "labels", Message: "node requires at least one label"}
	}
	if err := props.Validate(); err != nil {
		return 0, err
	}
	n := domain.Node{ID: tx.state.nextNode, Labels: labels, Properties: props.Clone()}
	tx.state.nextNode++
	tx.state.nodes[n.ID] = n
	tx.recordChange(Change{Kind: domain.ChangeNode, Action: domain.ActionCreate, After: n.Clone()})
	return n.ID, nil
}

// CreateEdge stores a typed edge between two existing nodes.
func (tx *transaction) CreateEdge(from, to domain.NodeID, typ domain.EdgeType, props domain.PropertySet) (domain.EdgeID, error) {
	if strings.TrimSpace(string(typ)) == "" {
		return 0, domain.ArgumentError{Field: "type", Message: "edge type must not be empty"}
	}
	for _, id := range []domain.NodeID{from, to} {
		if _, ok := tx.state.nodes[id]; !ok {
			return 0, domain.NotFoundError{Kind: "node", ID: int64(id)}
		}
	}
	if err := props.Validate(); err != nil {
		return 0, err
	}
	e := domain.Edge{ID: tx.state.nextEdge, From: from, To: to, Type: typ, Properties: props.Clone()}
	tx.state.nextEdge++
	tx.state.link(e)
	tx.recordChange(Change{Kind: domain.ChangeEdge, Action: domain.ActionCreate, After: e.Clone()})
	return e.ID, nil
}

// DeleteEdge removes an edge from the transaction state.
func (tx *transaction) DeleteEdge(id domain.EdgeID) error {
	current, ok := tx.state.edges[id]
	if !ok {
		return domain.NotFoundError{Kind: "edge", ID: int64(id)}
	}
	tx.state.unlink(current)
	tx.recordChange(Change{Kind: domain.ChangeEdge, Action: domain.ActionDelete, Before: current.Clone()})
	return nil
}

// SetEdgeProperty writes a single property on an existing edge.
func (tx *transaction) SetEdgeProperty(id domain.EdgeID, key string, value domain.Value) error {
	current, ok := tx.state.edges[id]
	if !ok {
		return domain.NotFoundError{Kind: "edge", ID: int64(id)}
	}
	if strings.TrimSpace(key) == "" {
		return domain.ArgumentError{Field: "key", Message: "property key must not be empty"}
	}
	if !value.Valid() {
		return domain.ArgumentError{Field: "properties." + key, Message: "invalid property value"}
	}
	before := current.Clone()
	current = current.Clone()
	current.Properties[key] = value
	tx.state.edges[id] = current
	tx.recordChange(Change{Kind: domain.ChangeEdge, Action: domain.ActionUpdate, Before: before, After: current.Clone()})
	return nil
}

// Read helpers ---------------------------------------------------------------

// GetNode retrieves a node by id from committed state.
func (s *Store) GetNode(id domain.NodeID) (domain.Node, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return view{state: &s.state}.FindNode(id)
}

// GetEdge retrieves an edge by id from committed state.
func (s *Store) GetEdge(id domain.EdgeID) (domain.Edge, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return view{state: &s.state}.FindEdge(id)
}

// ListNodes returns all committed nodes ordered by id.
func (s *Store) ListNodes() []domain.Node {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return view{state: &s.state}.ListNodes()
}

// ListEdges returns all committed edges ordered by id.
func (s *Store) ListEdges() []domain.Edge {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return view{state: &s.state}.ListEdges()
}
