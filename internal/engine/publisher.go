package engine

import "log/slog"

// Publisher is notified of run and node lifecycle transitions. Calls are
// fire-and-forget: the engine never inspects a result and a panicking
// publisher is logged and otherwise ignored.
type Publisher interface {
	RunStarted(runID string)
	NodeStarted(runID, nodeID, nodeType string)
	NodeCompleted(runID, nodeID string, outputs map[string]any)
	NodeSkipped(runID, nodeID string)
	NodeFailed(runID, nodeID string, err error)
	RunCompleted(runID string)
	RunFailed(runID string, err error)
}

// NopPublisher discards every notification.
type NopPublisher struct{}

func (NopPublisher) RunStarted(string)                            {}
func (NopPublisher) NodeStarted(string, string, string)           {}
func (NopPublisher) NodeCompleted(string, string, map[string]any) {}
func (NopPublisher) NodeSkipped(string, string)                   {}
func (NopPublisher) NodeFailed(string, string, error)             {}
func (NopPublisher) RunCompleted(string)                          {}
func (NopPublisher) RunFailed(string, error)                      {}

// Publishers fans every notification out to each publisher in order.
type Publishers []Publisher

func (ps Publishers) RunStarted(runID string) {
	for _, p := range ps {
		p.RunStarted(runID)
	}
}

func (ps Publishers) NodeStarted(runID, nodeID, nodeType string) {
	for _, p := range ps {
		p.NodeStarted(runID, nodeID, nodeType)
	}
}

func (ps Publishers) NodeCompleted(runID, nodeID string, outputs map[string]any) {
	for _, p := range ps {
		p.NodeCompleted(runID, nodeID, outputs)
	}
}

func (ps Publishers) NodeSkipped(runID, nodeID string) {
	for _, p := range ps {
		p.NodeSkipped(runID, nodeID)
	}
}

func (ps Publishers) NodeFailed(runID, nodeID string, err error) {
	for _, p := range ps {
		p.NodeFailed(runID, nodeID, err)
	}
}

func (ps Publishers) RunCompleted(runID string) {
	for _, p := range ps {
		p.RunCompleted(runID)
	}
}

func (ps Publishers) RunFailed(runID string, err error) {
	for _, p := range ps {
		p.RunFailed(runID, err)
	}
}

// safePublisher shields the engine from a misbehaving publisher.
type safePublisher struct {
	next   Publisher
	logger *slog.Logger
}

func (s safePublisher) guard(event, runID string) {
	if r := recover(); r != nil {
		s.logger.Error("event publisher panicked", "event", event, "run_id", runID, "panic", r)
	}
}

func (s safePublisher) RunStarted(runID string) {
	defer s.guard("run_started", runID)
	s.next.RunStarted(runID)
}

func (s safePublisher) NodeStarted(runID, nodeID, nodeType string) {
	defer s.guard("node_started", runID)
	s.next.NodeStarted(runID, nodeID, nodeType)
}

func (s safePublisher) NodeCompleted(runID, nodeID string, outputs map[string]any) {
	defer s.guard("node_completed", runID)
	s.next.NodeCompleted(runID, nodeID, outputs)
}

func (s safePublisher) NodeSkipped(runID, nodeID string) {
	defer s.guard("node_skipped", runID)
	s.next.NodeSkipped(runID, nodeID)
}

func (s safePublisher) NodeFailed(runID, nodeID string, err error) {
	defer s.guard("node_failed", runID)
	s.next.NodeFailed(runID, nodeID, err)
}

func (s safePublisher) RunCompleted(runID string) {
	defer s.guard("run_completed", runID)
	s.next.RunCompleted(runID)
}

func (s safePublisher) RunFailed(runID string, err error) {
	defer s.guard("run_failed", runID)
	s.next.RunFailed(runID, err)
}
