package model

import (
	"time"

	"github.com/oklog/ulid/v2"
)

// Run status constants.
const (
	StatusPending   = "pending"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusCanceled  = "canceled"
)

// Node status constants. Completed, skipped and failed are terminal.
const (
	NodeStatusPending   = "pending"
	NodeStatusRunning   = "running"
	NodeStatusCompleted = "completed"
	NodeStatusSkipped   = "skipped"
	NodeStatusFailed    = "failed"
)

// Event kinds emitted over a run's lifetime.
const (
	EventRunStarted    = "run_started"
	EventRunCompleted  = "run_completed"
	EventRunFailed     = "run_failed"
	EventNodeStarted   = "node_started"
	EventNodeCompleted = "node_completed"
	EventNodeSkipped   = "node_skipped"
	EventNodeFailed    = "node_failed"
)

// validTransitions maps each run status to the set of statuses it may transition to.
var validTransitions = map[string]map[string]bool{
	StatusPending: {
		StatusRunning:  true,
		StatusFailed:   true,
		StatusCanceled: true,
	},
	StatusRunning: {
		StatusCompleted: true,
		StatusFailed:    true,
		StatusCanceled:  true,
	},
}

var validNodeTransitions = map[string]map[string]bool{
	NodeStatusPending: {
		NodeStatusRunning: true,
		NodeStatusSkipped: true,
		NodeStatusFailed:  true,
	},
	NodeStatusRunning: {
		NodeStatusCompleted: true,
		NodeStatusFailed:    true,
	},
}

// ValidTransition reports whether a run may move from one status to another.
func ValidTransition(from, to string) bool {
	targets, ok := validTransitions[from]
	if !ok {
		return false
	}
	return targets[to]
}

// ValidNodeTransition reports whether a node may move from one status to
// another within a single run.
func ValidNodeTransition(from, to string) bool {
	targets, ok := validNodeTransitions[from]
	if !ok {
		return false
	}
	return targets[to]
}

// IsTerminalNodeStatus reports whether status is completed, skipped or failed.
func IsTerminalNodeStatus(status string) bool {
	return status == NodeStatusCompleted || status == NodeStatusSkipped || status == NodeStatusFailed
}

// IsTerminalStatus reports whether a run status is final.
func IsTerminalStatus(status string) bool {
	return status == StatusCompleted || status == StatusFailed || status == StatusCanceled
}

// Run is one execution of a graph against a set of inputs.
type Run struct {
	ID         string         `json:"id"`
	Status     string         `json:"status"`
	Graph      Graph          `json:"graph"`
	Inputs     map[string]any `json:"inputs,omitempty"`
	Outputs    map[string]any `json:"outputs,omitempty"`
	Context    map[string]any `json:"context,omitempty"`
	Error      string         `json:"error,omitempty"`
	FailedNode string         `json:"failed_node,omitempty"`
	TimeoutS   *int           `json:"timeout_s,omitempty"`
	DurationMS *int           `json:"duration_ms,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
	StartedAt  *time.Time     `json:"started_at,omitempty"`
	FinishedAt *time.Time     `json:"finished_at,omitempty"`
	Nodes      []NodeState    `json:"nodes,omitempty"`
}

// NodeState is the persisted lifecycle record of one node within a run.
type NodeState struct {
	RunID          string         `json:"run_id"`
	NodeID         string         `json:"node_id"`
	Type           string         `json:"type"`
	Status         string         `json:"status"`
	Outputs        map[string]any `json:"outputs,omitempty"`
	SelectedHandle string         `json:"selected_handle,omitempty"`
	Error          string         `json:"error,omitempty"`
	StartedAt      *time.Time     `json:"started_at,omitempty"`
	FinishedAt     *time.Time     `json:"finished_at,omitempty"`
}

// Event is a single lifecycle notification recorded for a run.
type Event struct {
	ID        string         `json:"id"`
	RunID     string         `json:"run_id"`
	Seq       int            `json:"seq"`
	Kind      string         `json:"kind"`
	NodeID    string         `json:"node_id,omitempty"`
	NodeType  string         `json:"node_type,omitempty"`
	Outputs   map[string]any `json:"outputs,omitempty"`
	Error     string         `json:"error,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// NewID returns a ULID for a new run. ULIDs sort by creation time.
func NewID() string {
	return ulid.Make().String()
}
