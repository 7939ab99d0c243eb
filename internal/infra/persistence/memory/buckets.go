package memory

import (
	"encoding/json"
	"fmt"

	"graphversioner/pkg/domain"
)

// Bucket names used by the snapshotting backends. Each bucket holds one JSON
// document so a backend can persist a snapshot as a handful of key/value rows.
const (
	BucketNodes    = "nodes"
	BucketEdges    = "edges"
	BucketCounters = "counters"
)

// Buckets lists every bucket in persistence order.
var Buckets = []string{BucketNodes, BucketEdges, BucketCounters}

type counters struct {
	NextNodeID domain.NodeID `json:"next_node_id"`
	NextEdgeID domain.EdgeID `json:"next_edge_id"`
}

// EncodeBuckets splits a snapshot into its bucket payloads.
func EncodeBuckets(snapshot Snapshot) (map[string][]byte, error) {
	out := make(map[string][]byte, len(Buckets))
	for _, bucket := range Buckets {
		var (
			data []byte
			err  error
		)
		switch bucket {
		case BucketNodes:
			data, err = json.Marshal(nonNilNodes(snapshot.Nodes))
		case BucketEdges:
			data, err = json.Marshal(nonNilEdges(snapshot.Edges))
		case BucketCounters:
			data, err = json.Marshal(counters{NextNodeID: snapshot.NextNodeID, NextEdgeID: snapshot.NextEdgeID})
		}
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", bucket, err)
		}
		out[bucket] = data
	}
	return out, nil
}

// DecodeBuckets reassembles a snapshot from bucket payloads. Unknown buckets
// and empty payloads are ignored.
func DecodeBuckets(payloads map[string][]byte) (Snapshot, error) {
	var snapshot Snapshot
	for bucket, payload := range payloads {
		if len(payload) == 0 {
			continue
		}
		var err error
		switch bucket {
		case BucketNodes:
			err = json.Unmarshal(payload, &snapshot.Nodes)
		case BucketEdges:
			err = json.Unmarshal(payload, &snapshot.Edges)
		case BucketCounters:
			var c counters
			err = json.Unmarshal(payload, &c)
			snapshot.NextNodeID = c.NextNodeID
			snapshot.NextEdgeID = c.NextEdgeID
		default:
			continue
		}
		if err != nil {
			return Snapshot{}, fmt.Errorf("decode %s: %w", bucket, err)
		}
	}
	return snapshot, nil
}

func nonNilNodes(nodes []domain.Node) []domain.Node {
	if nodes == nil {
		return []domain.Node{}
	}
	return nodes
}

func nonNilEdges(edges []domain.Edge) []domain.Edge {
	if edges == nil {
		return []domain.Edge{}
	}
	return edges
}
