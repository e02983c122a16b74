package engine

import (
	"fmt"
	"sync"
	"time"

	"github.com/seantiz/weft/internal/model"
	"github.com/seantiz/weft/internal/node"
)

// NodeRecord is the lifecycle state of one node within a run.
type NodeRecord struct {
	NodeID     string      `json:"node_id"`
	Type       string      `json:"type"`
	Status     string      `json:"status"`
	Result     node.Result `json:"result"`
	Error      string      `json:"error,omitempty"`
	StartedAt  time.Time   `json:"started_at,omitempty"`
	FinishedAt time.Time   `json:"finished_at,omitempty"`
}

type nodeEntry struct {
	mu  sync.Mutex
	rec NodeRecord
}

// StateStore tracks the status of every node in a run. The key set is fixed
// when the store is created, so the map itself is read-only and each entry
// carries its own lock.
type StateStore struct {
	entries map[string]*nodeEntry
}

func newStateStore(nodes []model.Node) *StateStore {
	s := &StateStore{entries: make(map[string]*nodeEntry, len(nodes))}
	for _, n := range nodes {
		s.entries[n.ID] = &nodeEntry{rec: NodeRecord{
			NodeID: n.ID,
			Type:   n.Type,
			Status: model.NodeStatusPending,
		}}
	}
	return s
}

// Get returns a copy of the record for id.
func (s *StateStore) Get(id string) (NodeRecord, bool) {
	e, ok := s.entries[id]
	if !ok {
		return NodeRecord{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.rec, true
}

// Snapshot returns a copy of every record keyed by node id.
func (s *StateStore) Snapshot() map[string]NodeRecord {
	out := make(map[string]NodeRecord, len(s.entries))
	for id, e := range s.entries {
		e.mu.Lock()
		out[id] = e.rec
		e.mu.Unlock()
	}
	return out
}

// transition moves id to status to and applies update under the entry lock.
func (s *StateStore) transition(id, to string, update func(*NodeRecord)) error {
	e, ok := s.entries[id]
	if !ok {
		return fmt.Errorf("unknown node %q", id)
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if !model.ValidNodeTransition(e.rec.Status, to) {
		return fmt.Errorf("node %q: invalid transition %s -> %s", id, e.rec.Status, to)
	}
	e.rec.Status = to
	if update != nil {
		update(&e.rec)
	}
	return nil
}

func (s *StateStore) markRunning(id string, at time.Time) error {
	return s.transition(id, model.NodeStatusRunning, func(r *NodeRecord) {
		r.StartedAt = at
	})
}

func (s *StateStore) markCompleted(id string, res node.Result, at time.Time) error {
	return s.transition(id, model.NodeStatusCompleted, func(r *NodeRecord) {
		r.Result = res
		r.FinishedAt = at
	})
}

func (s *StateStore) markSkipped(id string, at time.Time) error {
	return s.transition(id, model.NodeStatusSkipped, func(r *NodeRecord) {
		r.Result = node.Result{Success: true}
		r.FinishedAt = at
	})
}

func (s *StateStore) markFailed(id string, cause error, at time.Time) error {
	return s.transition(id, model.NodeStatusFailed, func(r *NodeRecord) {
		r.Error = cause.Error()
		r.FinishedAt = at
	})
}
