package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/seantiz/weft/internal/model"

	_ "modernc.org/sqlite"
)

const createRunsTable = `
CREATE TABLE IF NOT EXISTS runs (
    id          TEXT PRIMARY KEY,
    status      TEXT NOT NULL,
    graph       TEXT NOT NULL,
    inputs      TEXT,
    outputs     TEXT,
    context     TEXT,
    error       TEXT NOT NULL DEFAULT '',
    failed_node TEXT NOT NULL DEFAULT '',
    timeout_s   INTEGER,
    duration_ms INTEGER,
    created_at  DATETIME NOT NULL,
    started_at  DATETIME,
    finished_at DATETIME
)`

const createNodeStatesTable = `
CREATE TABLE IF NOT EXISTS node_states (
    run_id          TEXT NOT NULL REFERENCES runs(id),
    node_id         TEXT NOT NULL,
    type            TEXT NOT NULL,
    status          TEXT NOT NULL,
    outputs         TEXT,
    selected_handle TEXT NOT NULL DEFAULT '',
    error           TEXT NOT NULL DEFAULT '',
    started_at      DATETIME,
    finished_at     DATETIME,
    PRIMARY KEY (run_id, node_id)
)`

const createRunEventsTable = `
CREATE TABLE IF NOT EXISTS run_events (
    id         TEXT PRIMARY KEY,
    run_id     TEXT NOT NULL REFERENCES runs(id),
    seq        INTEGER NOT NULL,
    kind       TEXT NOT NULL,
    node_id    TEXT NOT NULL DEFAULT '',
    node_type  TEXT NOT NULL DEFAULT '',
    outputs    TEXT,
    error      TEXT NOT NULL DEFAULT '',
    created_at DATETIME NOT NULL
)`

const createRunEventsIndex = `
CREATE INDEX IF NOT EXISTS idx_run_events_run_seq ON run_events (run_id, seq)`

const runColumns = `id, status, graph, inputs, outputs, context, error, failed_node,
	timeout_s, duration_ms, created_at, started_at, finished_at`

// Compile-time interface satisfaction check.
var _ Store = (*SQLiteStore)(nil)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens the SQLite database at dbPath and runs migrations.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Every connection to ":memory:" is a separate database.
	if dbPath == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	for _, stmt := range []string{createRunsTable, createNodeStatesTable, createRunEventsTable, createRunEventsIndex} {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("migrate: %w", err)
		}
	}

	return &SQLiteStore{db: db}, nil
}

// Ping checks that the database is reachable.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// CreateRun inserts a new run record.
func (s *SQLiteStore) CreateRun(ctx context.Context, r *model.Run) error {
	graph, err := json.Marshal(r.Graph)
	if err != nil {
		return fmt.Errorf("encode graph: %w", err)
	}
	inputs, err := encodeMap(r.Inputs)
	if err != nil {
		return fmt.Errorf("encode inputs: %w", err)
	}
	outputs, err := encodeMap(r.Outputs)
	if err != nil {
		return fmt.Errorf("encode outputs: %w", err)
	}
	runCtx, err := encodeMap(r.Context)
	if err != nil {
		return fmt.Errorf("encode context: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO runs (`+runColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.Status, string(graph), inputs, outputs, runCtx, r.Error, r.FailedNode,
		r.TimeoutS, r.DurationMS, r.CreatedAt, r.StartedAt, r.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// GetRun retrieves a run by ID. Node states are not loaded.
func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*model.Run, error) {
	r, err := scanRun(s.db.QueryRowContext(ctx,
		`SELECT `+runColumns+` FROM runs WHERE id = ?`, id,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}
	return r, nil
}

// ListRuns returns a paginated list of runs ordered by created_at DESC,
// along with the total count of all runs.
func (s *SQLiteStore) ListRuns(ctx context.Context, limit, offset int) ([]*model.Run, int, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, 0, fmt.Errorf("begin read tx: %w", err)
	}
	defer tx.Rollback()

	var total int
	if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM runs").Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count runs: %w", err)
	}

	rows, err := tx.QueryContext(ctx,
		`SELECT `+runColumns+` FROM runs ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`,
		limit, offset,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []*model.Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate runs: %w", err)
	}

	return runs, total, nil
}

// UpdateRunStatus moves a run to status. Moving to running sets started_at;
// moving to a terminal status sets finished_at.
func (s *SQLiteStore) UpdateRunStatus(ctx context.Context, id, status string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := checkTransition(ctx, tx, id, status); err != nil {
		return err
	}

	now := time.Now().UTC()
	switch {
	case status == model.StatusRunning:
		_, err = tx.ExecContext(ctx,
			"UPDATE runs SET status = ?, started_at = ? WHERE id = ?", status, now, id)
	case model.IsTerminalStatus(status):
		_, err = tx.ExecContext(ctx,
			"UPDATE runs SET status = ?, finished_at = ? WHERE id = ?", status, now, id)
	default:
		_, err = tx.ExecContext(ctx,
			"UPDATE runs SET status = ? WHERE id = ?", status, id)
	}
	if err != nil {
		return fmt.Errorf("update run status: %w", err)
	}

	return tx.Commit()
}

// UpdateRun writes every mutable field of r. A status change must be a
// valid transition.
func (s *SQLiteStore) UpdateRun(ctx context.Context, r *model.Run) error {
	outputs, err := encodeMap(r.Outputs)
	if err != nil {
		return fmt.Errorf("encode outputs: %w", err)
	}
	runCtx, err := encodeMap(r.Context)
	if err != nil {
		return fmt.Errorf("encode context: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := checkTransition(ctx, tx, r.ID, r.Status); err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE runs SET status = ?, outputs = ?, context = ?, error = ?, failed_node = ?,
			duration_ms = ?, started_at = ?, finished_at = ?
		WHERE id = ?`,
		r.Status, outputs, runCtx, r.Error, r.FailedNode,
		r.DurationMS, r.StartedAt, r.FinishedAt, r.ID,
	)
	if err != nil {
		return fmt.Errorf("update run: %w", err)
	}

	return tx.Commit()
}

// checkTransition returns ErrNotFound or ErrInvalidTransition when run id
// cannot move to status. Writing the current status again is allowed.
func checkTransition(ctx context.Context, tx *sql.Tx, id, status string) error {
	var current string
	err := tx.QueryRowContext(ctx, "SELECT status FROM runs WHERE id = ?", id).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("read run status: %w", err)
	}
	if current != status && !model.ValidTransition(current, status) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current, status)
	}
	return nil
}

// GetRunStats returns aggregate counts over all runs and node states.
func (s *SQLiteStore) GetRunStats(ctx context.Context) (*RunStats, error) {
	stats := &RunStats{
		CountByStatus:     make(map[string]int),
		NodeCountByStatus: make(map[string]int),
	}

	if err := countBy(ctx, s.db, "SELECT status, COUNT(*) FROM runs GROUP BY status", stats.CountByStatus); err != nil {
		return nil, fmt.Errorf("count runs by status: %w", err)
	}
	for _, n := range stats.CountByStatus {
		stats.Total += n
	}

	if err := countBy(ctx, s.db, "SELECT status, COUNT(*) FROM node_states GROUP BY status", stats.NodeCountByStatus); err != nil {
		return nil, fmt.Errorf("count nodes by status: %w", err)
	}

	var avg sql.NullFloat64
	if err := s.db.QueryRowContext(ctx,
		"SELECT AVG(duration_ms) FROM runs WHERE duration_ms IS NOT NULL",
	).Scan(&avg); err != nil {
		return nil, fmt.Errorf("average duration: %w", err)
	}
	if avg.Valid {
		stats.AvgDurationMS = avg.Float64
	}

	return stats, nil
}

func countBy(ctx context.Context, db *sql.DB, query string, into map[string]int) error {
	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var key string
		var n int
		if err := rows.Scan(&key, &n); err != nil {
			return err
		}
		into[key] = n
	}
	return rows.Err()
}

// UpsertNodeState inserts or replaces the state row of one node. Timestamps
// already recorded are kept when ns leaves them unset.
func (s *SQLiteStore) UpsertNodeState(ctx context.Context, ns *model.NodeState) error {
	outputs, err := encodeMap(ns.Outputs)
	if err != nil {
		return fmt.Errorf("encode outputs: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO node_states (
			run_id, node_id, type, status, outputs, selected_handle, error, started_at, finished_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (run_id, node_id) DO UPDATE SET
			type = excluded.type,
			status = excluded.status,
			outputs = COALESCE(excluded.outputs, node_states.outputs),
			selected_handle = excluded.selected_handle,
			error = excluded.error,
			started_at = COALESCE(excluded.started_at, node_states.started_at),
			finished_at = COALESCE(excluded.finished_at, node_states.finished_at)`,
		ns.RunID, ns.NodeID, ns.Type, ns.Status, outputs, ns.SelectedHandle, ns.Error,
		ns.StartedAt, ns.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert node state: %w", err)
	}
	return nil
}

// GetNodeStates returns the node states of a run ordered by node id.
func (s *SQLiteStore) GetNodeStates(ctx context.Context, runID string) ([]model.NodeState, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id, node_id, type, status, outputs, selected_handle, error, started_at, finished_at
		FROM node_states WHERE run_id = ? ORDER BY node_id`, runID,
	)
	if err != nil {
		return nil, fmt.Errorf("get node states: %w", err)
	}
	defer rows.Close()

	states := []model.NodeState{}
	for rows.Next() {
		var ns model.NodeState
		var outputs sql.NullString
		if err := rows.Scan(
			&ns.RunID, &ns.NodeID, &ns.Type, &ns.Status, &outputs, &ns.SelectedHandle, &ns.Error,
			&ns.StartedAt, &ns.FinishedAt,
		); err != nil {
			return nil, fmt.Errorf("scan node state: %w", err)
		}
		if ns.Outputs, err = decodeMap(outputs); err != nil {
			return nil, fmt.Errorf("decode node outputs: %w", err)
		}
		states = append(states, ns)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate node states: %w", err)
	}

	return states, nil
}

// InsertEvent stores a single lifecycle event.
func (s *SQLiteStore) InsertEvent(ctx context.Context, ev *model.Event) error {
	outputs, err := encodeMap(ev.Outputs)
	if err != nil {
		return fmt.Errorf("encode outputs: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO run_events (id, run_id, seq, kind, node_id, node_type, outputs, error, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.ID, ev.RunID, ev.Seq, ev.Kind, ev.NodeID, ev.NodeType, outputs, ev.Error, ev.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

// GetEvents returns all events for a run ordered by sequence number.
func (s *SQLiteStore) GetEvents(ctx context.Context, runID string) ([]model.Event, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, run_id, seq, kind, node_id, node_type, outputs, error, created_at
		FROM run_events WHERE run_id = ? ORDER BY seq ASC`, runID,
	)
	if err != nil {
		return nil, fmt.Errorf("get events: %w", err)
	}
	defer rows.Close()

	events := []model.Event{}
	for rows.Next() {
		var ev model.Event
		var outputs sql.NullString
		if err := rows.Scan(
			&ev.ID, &ev.RunID, &ev.Seq, &ev.Kind, &ev.NodeID, &ev.NodeType, &outputs, &ev.Error, &ev.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		if ev.Outputs, err = decodeMap(outputs); err != nil {
			return nil, fmt.Errorf("decode event outputs: %w", err)
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}

	return events, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(sc scanner) (*model.Run, error) {
	r := &model.Run{}
	var graph string
	var inputs, outputs, runCtx sql.NullString
	if err := sc.Scan(
		&r.ID, &r.Status, &graph, &inputs, &outputs, &runCtx, &r.Error, &r.FailedNode,
		&r.TimeoutS, &r.DurationMS, &r.CreatedAt, &r.StartedAt, &r.FinishedAt,
	); err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(graph), &r.Graph); err != nil {
		return nil, fmt.Errorf("decode graph: %w", err)
	}
	var err error
	if r.Inputs, err = decodeMap(inputs); err != nil {
		return nil, fmt.Errorf("decode inputs: %w", err)
	}
	if r.Outputs, err = decodeMap(outputs); err != nil {
		return nil, fmt.Errorf("decode outputs: %w", err)
	}
	if r.Context, err = decodeMap(runCtx); err != nil {
		return nil, fmt.Errorf("decode context: %w", err)
	}
	return r, nil
}

// encodeMap stores nil maps as NULL.
func encodeMap(m map[string]any) (sql.NullString, error) {
	if m == nil {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

func decodeMap(s sql.NullString) (map[string]any, error) {
	if !s.Valid {
		return nil, nil
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(s.String), &m); err != nil {
		return nil, err
	}
	return m, nil
}
