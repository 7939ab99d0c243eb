package core

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/google/uuid"

	"graphversioner/internal/blob"
	"graphversioner/internal/infra/persistence/memory"
	"graphversioner/pkg/domain"
)

// ArchiveFormatVersion tags archives written by ArchiveSnapshot.
const ArchiveFormatVersion = 1

// ArchivePrefix is where generated archive keys live.
const ArchivePrefix = "snapshots/"

// Archive is the JSON document stored per snapshot.
type Archive struct {
	Version   int             `json:"version"`
	CreatedAt time.Time       `json:"created_at"`
	Snapshot  domain.Snapshot `json:"snapshot"`
}

// Restorer is implemented by durable stores that write an imported snapshot
// through to their backend.
type Restorer interface {
	Restore(ctx context.Context, snapshot domain.Snapshot) error
}

// ArchiveSnapshot writes the current graph to store under key. An empty key
// generates one under ArchivePrefix.
func (s *Service) ArchiveSnapshot(ctx context.Context, store blob.Store, key string) (blob.Info, error) {
	if key == "" {
		key = ArchivePrefix + uuid.NewString() + ".json"
	}
	var info blob.Info
	_, err := s.instrument(ctx, OpArchiveSnapshot, func(ctx context.Context) error {
		doc := Archive{Version: ArchiveFormatVersion, CreatedAt: s.now(), Snapshot: s.store.ExportState()}
		payload, err := json.Marshal(doc)
		if err != nil {
			return fmt.Errorf("encode archive: %w", err)
		}
		info, err = store.Put(ctx, key, bytes.NewReader(payload), blob.PutOptions{
			ContentType: "application/json",
			Metadata: map[string]string{
				"format-version": strconv.Itoa(ArchiveFormatVersion),
				"nodes":          strconv.Itoa(len(doc.Snapshot.Nodes)),
				"edges":          strconv.Itoa(len(doc.Snapshot.Edges)),
			},
		})
		if err != nil {
			return fmt.Errorf("store archive %s: %w", key, err)
		}
		return nil
	})
	if err != nil {
		return blob.Info{}, err
	}
	s.logger.Info("snapshot archived", "key", info.Key, "driver", store.Driver(), "size", info.Size)
	return info, nil
}

// RestoreSnapshot replaces the graph with the archive at key after checking
// it satisfies every invariant the rules engine enforces.
func (s *Service) RestoreSnapshot(ctx context.Context, store blob.Store, key string) (domain.Snapshot, error) {
	var snap domain.Snapshot
	dur, err := s.instrument(ctx, OpRestoreSnapshot, func(ctx context.Context) error {
		_, rc, err := store.Get(ctx, key)
		if err != nil {
			return fmt.Errorf("load archive %s: %w", key, err)
		}
		defer func() { _ = rc.Close() }()
		doc, err := DecodeArchive(rc)
		if err != nil {
			return err
		}
		engine := s.RulesEngine()
		if engine == nil {
			engine = NewDefaultRulesEngine()
		}
		if err := ValidateSnapshot(ctx, doc.Snapshot, engine); err != nil {
			return err
		}
		if r, ok := s.store.(Restorer); ok {
			if err := r.Restore(ctx, doc.Snapshot); err != nil {
				return fmt.Errorf("restore: %w", err)
			}
		} else {
			s.store.ImportState(doc.Snapshot)
		}
		snap = doc.Snapshot
		return nil
	})
	s.recordAudit(ctx, OpRestoreSnapshot, 0, nil, dur, err)
	if err != nil {
		return domain.Snapshot{}, err
	}
	s.logger.Info("snapshot restored", "key", key, "nodes", len(snap.Nodes), "edges", len(snap.Edges))
	return snap, nil
}

// DecodeArchive parses an archive document and checks its version.
func DecodeArchive(r io.Reader) (Archive, error) {
	var doc Archive
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&doc); err != nil {
		return Archive{}, domain.ArgumentError{Field: "archive", Message: err.Error()}
	}
	if doc.Version != ArchiveFormatVersion {
		return Archive{}, domain.ArgumentError{Field: "archive.version", Message: fmt.Sprintf("unsupported version %d", doc.Version)}
	}
	return doc, nil
}

// ValidateSnapshot rejects snapshots with duplicate ids, dangling edges or
// counters behind the highest id, then evaluates engine over the whole graph.
func ValidateSnapshot(ctx context.Context, snap domain.Snapshot, engine *RulesEngine) error {
	nodes := make(map[domain.NodeID]struct{}, len(snap.Nodes))
	changes := make([]domain.Change, 0, len(snap.Nodes)+len(snap.Edges))
	for _, n := range snap.Nodes {
		if _, dup := nodes[n.ID]; dup {
			return domain.IntegrityError{Rule: "snapshot", Message: fmt.Sprintf("duplicate node id %d", n.ID)}
		}
		if n.ID < 0 || n.ID >= snap.NextNodeID {
			return domain.IntegrityError{Rule: "snapshot", Message: fmt.Sprintf("node id %d outside [0,%d)", n.ID, snap.NextNodeID)}
		}
		if len(n.Labels) == 0 {
			return domain.IntegrityError{Rule: "snapshot", Message: fmt.Sprintf("node %d has no labels", n.ID)}
		}
		nodes[n.ID] = struct{}{}
		changes = append(changes, domain.Change{Kind: domain.ChangeNode, Action: domain.ActionCreate, After: n})
	}
	edges := make(map[domain.EdgeID]struct{}, len(snap.Edges))
	for _, e := range snap.Edges {
		if _, dup := edges[e.ID]; dup {
			return domain.IntegrityError{Rule: "snapshot", Message: fmt.Sprintf("duplicate edge id %d", e.ID)}
		}
		if e.ID < 0 || e.ID >= snap.NextEdgeID {
			return domain.IntegrityError{Rule: "snapshot", Message: fmt.Sprintf("edge id %d outside [0,%d)", e.ID, snap.NextEdgeID)}
		}
		_, fromOK := nodes[e.From]
		_, toOK := nodes[e.To]
		if !fromOK || !toOK {
			return domain.IntegrityError{Rule: "snapshot", Message: fmt.Sprintf("edge %d references a missing node", e.ID)}
		}
		edges[e.ID] = struct{}{}
		changes = append(changes, domain.Change{Kind: domain.ChangeEdge, Action: domain.ActionCreate, After: e})
	}
	if engine == nil {
		return nil
	}
	staging := memory.NewStore(nil)
	staging.ImportState(snap)
	return staging.View(ctx, func(view TransactionView) error {
		res, err := engine.Evaluate(ctx, view, changes)
		if err != nil {
			return err
		}
		if res.HasBlocking() {
			return domain.RuleViolationError{Result: res}
		}
		return nil
	})
}
