package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/seantiz/weft/internal/definition"
	"github.com/seantiz/weft/internal/model"
	"github.com/seantiz/weft/internal/store"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
	maxBodySize      = 1 << 20 // 1 MB
)

// createRunRequest is the JSON body for POST /v1/runs and /v1/runs/async.
// The graph is given either inline as JSON or as a definition document in
// one of the formats understood by the definition package.
type createRunRequest struct {
	Graph      *model.Graph   `json:"graph"`
	Definition string         `json:"definition"`
	Format     string         `json:"format"`
	Inputs     map[string]any `json:"inputs"`
	TimeoutS   *int           `json:"timeout_s"`
}

// listRunsResponse wraps the paginated list response.
type listRunsResponse struct {
	Runs   []*model.Run `json:"runs"`
	Total  int          `json:"total"`
	Limit  int          `json:"limit"`
	Offset int          `json:"offset"`
}

type runNodesResponse struct {
	RunID string            `json:"run_id"`
	Nodes []model.NodeState `json:"nodes"`
}

// decodeRun reads a createRunRequest and builds a pending run from it. On
// failure it writes the error response and returns nil.
func (s *Server) decodeRun(w http.ResponseWriter, r *http.Request) *model.Run {
	var req createRunRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return nil
	}

	var g model.Graph
	switch {
	case req.Graph != nil && req.Definition != "":
		s.writeError(w, http.StatusBadRequest, "graph and definition are mutually exclusive")
		return nil
	case req.Graph != nil:
		g = *req.Graph
	case req.Definition != "":
		format := definition.Format(req.Format)
		if format == "" {
			format = definition.FormatYAML
		}
		parsed, err := definition.Parse([]byte(req.Definition), "request", format)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, err.Error())
			return nil
		}
		g = parsed
	default:
		s.writeError(w, http.StatusBadRequest, "graph or definition is required")
		return nil
	}

	if req.TimeoutS != nil && *req.TimeoutS < 0 {
		s.writeError(w, http.StatusBadRequest, "timeout_s must not be negative")
		return nil
	}

	return &model.Run{
		ID:        model.NewID(),
		Status:    model.StatusPending,
		Graph:     g,
		Inputs:    req.Inputs,
		TimeoutS:  req.TimeoutS,
		CreatedAt: time.Now().UTC(),
	}
}

func (s *Server) handleCreateRun(w http.ResponseWriter, r *http.Request) {
	run := s.decodeRun(w, r)
	if run == nil {
		return
	}

	// A synchronous run may outlive the server's default write timeout.
	rc := http.NewResponseController(w)
	if err := rc.SetWriteDeadline(time.Time{}); err != nil {
		s.logger.Error("clear write deadline for sync run", "error", err)
	}

	got, err := s.engine.Execute(r.Context(), run)
	if err != nil {
		s.writeRunError(w, err, "execute run")
		return
	}

	s.writeJSON(w, http.StatusOK, got)
}

func (s *Server) handleAsyncRun(w http.ResponseWriter, r *http.Request) {
	run := s.decodeRun(w, r)
	if run == nil {
		return
	}

	if err := s.engine.Submit(r.Context(), run); err != nil {
		s.writeRunError(w, err, "submit run")
		return
	}

	s.writeJSON(w, http.StatusAccepted, run)
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	run, err := s.engine.Get(r.Context(), id)
	if err != nil {
		s.writeRunError(w, err, "get run")
		return
	}

	s.writeJSON(w, http.StatusOK, run)
}

func (s *Server) handleGetRunNodes(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	run, err := s.engine.Get(r.Context(), id)
	if err != nil {
		s.writeRunError(w, err, "get run nodes")
		return
	}

	nodes := run.Nodes
	if nodes == nil {
		nodes = []model.NodeState{}
	}
	s.writeJSON(w, http.StatusOK, runNodesResponse{RunID: id, Nodes: nodes})
}

// runNodeResponse pairs a node's definition with its state in one run.
type runNodeResponse struct {
	RunID string          `json:"run_id"`
	Node  model.Node      `json:"node"`
	State model.NodeState `json:"state"`
}

func (s *Server) handleGetRunNode(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	nodeID := chi.URLParam(r, "nodeID")

	run, err := s.engine.Get(r.Context(), id)
	if err != nil {
		s.writeRunError(w, err, "get run node")
		return
	}

	n, ok := run.Graph.Node(nodeID)
	if !ok {
		s.writeError(w, http.StatusNotFound, "node not found")
		return
	}

	// Nodes the run never reached have no stored row yet.
	state := model.NodeState{RunID: id, NodeID: n.ID, Type: n.Type, Status: model.NodeStatusPending}
	for _, ns := range run.Nodes {
		if ns.NodeID == nodeID {
			state = ns
			break
		}
	}
	s.writeJSON(w, http.StatusOK, runNodeResponse{RunID: id, Node: n, State: state})
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	limit := parseIntQuery(r, "limit", defaultListLimit)
	offset := parseIntQuery(r, "offset", 0)

	if limit <= 0 || limit > maxListLimit {
		limit = defaultListLimit
	}
	if offset < 0 {
		offset = 0
	}

	runs, total, err := s.store.ListRuns(r.Context(), limit, offset)
	if err != nil {
		s.logger.Error("list runs", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to list runs")
		return
	}

	if runs == nil {
		runs = []*model.Run{}
	}

	s.writeJSON(w, http.StatusOK, listRunsResponse{
		Runs:   runs,
		Total:  total,
		Limit:  limit,
		Offset: offset,
	})
}

// handleCancelRun cancels a run. A run that was still executing unwinds in
// the background, so the response is 202 until it reaches a terminal status.
func (s *Server) handleCancelRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := s.engine.Cancel(r.Context(), id); err != nil {
		s.writeRunError(w, err, "cancel run")
		return
	}

	run, err := s.engine.Get(r.Context(), id)
	if err != nil {
		s.writeRunError(w, err, "get canceled run")
		return
	}

	status := http.StatusOK
	if !model.IsTerminalStatus(run.Status) {
		status = http.StatusAccepted
	}
	s.writeJSON(w, status, run)
}

// writeRunError maps engine and store errors onto HTTP status codes.
func (s *Server) writeRunError(w http.ResponseWriter, err error, action string) {
	var defErr *model.DefinitionError
	switch {
	case errors.As(err, &defErr):
		s.writeError(w, http.StatusBadRequest, defErr.Error())
	case errors.Is(err, store.ErrNotFound):
		s.writeError(w, http.StatusNotFound, "run not found")
	case errors.Is(err, store.ErrInvalidTransition):
		s.writeError(w, http.StatusConflict, err.Error())
	default:
		s.logger.Error(action, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to "+action)
	}
}

// writeJSON writes a JSON response with the given status code.
func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("encode response", "error", err)
	}
}

// writeError writes a JSON error response.
func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

// parseIntQuery parses an integer query parameter with a default value.
func parseIntQuery(r *http.Request, key string, defaultVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return defaultVal
	}
	return v
}
