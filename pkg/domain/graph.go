// Package domain defines the graph records, property values, error kinds, and
// rule evaluation primitives shared by the versioning engine and its stores.
package domain

import "sort"

// NodeID identifies a node inside a store. Ids are assigned sequentially from
// zero and never reused.
type NodeID int64

// EdgeID identifies an edge inside a store. Edge ids use their own sequence.
type EdgeID int64

// Label classifies a node.
type Label string

// Labels carried by the nodes the versioning engine manages.
const (
	// LabelEntity marks a long-lived identity node.
	LabelEntity Label = "Entity"
	// LabelState marks an immutable snapshot of an entity's data.
	LabelState Label = "State"
)

// EdgeType names the relation an edge represents.
type EdgeType string

// Relations maintained by the versioning engine.
const (
	// EdgeCurrent points from an entity to its present state.
	EdgeCurrent EdgeType = "CURRENT"
	// EdgePrevious links a state to its immediate predecessor.
	EdgePrevious EdgeType = "PREVIOUS"
	// EdgeHasStatus records a status interval from an entity to a state.
	EdgeHasStatus EdgeType = "HAS_STATUS"
)

// Property keys written on edges.
const (
	PropDate      = "date"
	PropStartDate = "startDate"
	PropEndDate   = "endDate"
	PropContext   = "context"
)

// Node is a labelled record with a property payload.
type Node struct {
	ID         NodeID      `json:"id"`
	Labels     []Label     `json:"labels"`
	Properties PropertySet `json:"properties"`
}

// HasLabel reports whether the node carries label.
func (n Node) HasLabel(label Label) bool {
	for _, l := range n.Labels {
		if l == label {
			return true
		}
	}
	return false
}

// Clone returns a deep copy of the node.
func (n Node) Clone() Node {
	cp := n
	cp.Labels = append([]Label(nil), n.Labels...)
	cp.Properties = n.Properties.Clone()
	return cp
}

// Edge is a typed, directed relation between two nodes.
type Edge struct {
	ID         EdgeID      `json:"id"`
	From       NodeID      `json:"from"`
	To         NodeID      `json:"to"`
	Type       EdgeType    `json:"type"`
	Properties PropertySet `json:"properties"`
}

// Clone returns a deep copy of the edge.
func (e Edge) Clone() Edge {
	cp := e
	cp.Properties = e.Properties.Clone()
	return cp
}

// Int64 returns the integer property stored under key.
func (e Edge) Int64(key string) (int64, bool) {
	v, ok := e.Properties[key]
	if !ok {
		return 0, false
	}
	return v.AsInt()
}

// NormalizeLabels removes blanks and duplicates and sorts the result so label
// sets compare and serialize deterministically.
func NormalizeLabels(labels []Label) []Label {
	seen := make(map[Label]struct{}, len(labels))
	out := make([]Label, 0, len(labels))
	for _, l := range labels {
		if l == "" {
			continue
		}
		if _, dup := seen[l]; dup {
			continue
		}
		seen[l] = struct{}{}
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
