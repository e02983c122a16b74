package store

import (
	"context"
	"errors"

	"github.com/seantiz/weft/internal/model"
)

// ErrInvalidTransition is returned when a run status transition is not allowed.
var ErrInvalidTransition = errors.New("invalid status transition")

// ErrNotFound is returned when a run is not found.
var ErrNotFound = errors.New("run not found")

// RunStats holds aggregate execution statistics.
type RunStats struct {
	Total             int            `json:"total"`
	CountByStatus     map[string]int `json:"count_by_status"`
	NodeCountByStatus map[string]int `json:"node_count_by_status"`
	AvgDurationMS     float64        `json:"avg_duration_ms"`
}

// Store defines the persistence operations for runs, their node states and
// their lifecycle events.
type Store interface {
	CreateRun(ctx context.Context, r *model.Run) error
	GetRun(ctx context.Context, id string) (*model.Run, error)
	ListRuns(ctx context.Context, limit, offset int) ([]*model.Run, int, error)
	UpdateRunStatus(ctx context.Context, id, status string) error
	UpdateRun(ctx context.Context, r *model.Run) error
	GetRunStats(ctx context.Context) (*RunStats, error)
	UpsertNodeState(ctx context.Context, ns *model.NodeState) error
	GetNodeStates(ctx context.Context, runID string) ([]model.NodeState, error)
	InsertEvent(ctx context.Context, ev *model.Event) error
	GetEvents(ctx context.Context, runID string) ([]model.Event, error)
	Ping(ctx context.Context) error
	Close() error
}
