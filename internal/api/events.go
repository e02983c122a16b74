package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/seantiz/weft/internal/model"
)

// eventHistoryResponse is the JSON response for GET /v1/runs/{id}/events/history.
type eventHistoryResponse struct {
	RunID  string        `json:"run_id"`
	Events []model.Event `json:"events"`
}

// handleStreamEvents streams a run's lifecycle events as server-sent events.
// Events already recorded are replayed first, so a client that connects
// mid-run sees the full history followed by live events. The stream ends
// with a "done" event once the run finishes.
func (s *Server) handleStreamEvents(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	// Verify the run exists.
	if _, err := s.store.GetRun(r.Context(), id); err != nil {
		s.writeRunError(w, err, "get run for events")
		return
	}

	// Subscribe before reading history so no event falls between the two.
	// Subscribe on a finished run returns a closed channel.
	ch, unsub := s.engine.Broker().Subscribe(id)
	defer unsub()

	history, err := s.store.GetEvents(r.Context(), id)
	if err != nil {
		s.logger.Error("get events for stream", "run_id", id, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get events")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	// Disable write timeout for long-lived SSE connections.
	rc := http.NewResponseController(w)
	if err := rc.SetWriteDeadline(time.Time{}); err != nil {
		s.logger.Error("set write deadline for SSE", "error", err)
	}

	w.WriteHeader(http.StatusOK)
	flusher, canFlush := w.(http.Flusher)

	sseStreams.Inc()
	defer sseStreams.Dec()

	lastSeq := -1
	for _, ev := range history {
		if err := writeSSEJSON(w, ev); err != nil {
			return
		}
		lastSeq = ev.Seq
	}
	if canFlush {
		flusher.Flush()
	}

	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				_ = s.writeDone(w, r, id)
				if canFlush {
					flusher.Flush()
				}
				return
			}
			if ev.Seq <= lastSeq {
				continue
			}
			lastSeq = ev.Seq
			if err := writeSSEJSON(w, ev); err != nil {
				return // Write failed (e.g. client gone).
			}
			if canFlush {
				flusher.Flush()
			}
		case <-r.Context().Done():
			return // Client disconnected.
		case <-s.stopping:
			return
		}
	}
}

// writeDone sends the terminal "done" event carrying the run's final status.
func (s *Server) writeDone(w http.ResponseWriter, r *http.Request, id string) error {
	status := ""
	if run, err := s.store.GetRun(r.Context(), id); err == nil {
		status = run.Status
	}
	data, err := json.Marshal(map[string]string{"run_id": id, "status": status})
	if err != nil {
		return err
	}
	return writeSSEEvent(w, "done", "", string(data))
}

func (s *Server) handleGetEventHistory(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if _, err := s.store.GetRun(r.Context(), id); err != nil {
		s.writeRunError(w, err, "get run for event history")
		return
	}

	events, err := s.store.GetEvents(r.Context(), id)
	if err != nil {
		s.logger.Error("get events", "run_id", id, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get events")
		return
	}
	if events == nil {
		events = []model.Event{}
	}

	s.writeJSON(w, http.StatusOK, eventHistoryResponse{RunID: id, Events: events})
}

// writeSSEJSON writes ev as a named SSE event whose data is the JSON encoding
// of the event. JSON output never contains raw newlines, so a single data
// line suffices.
func writeSSEJSON(w http.ResponseWriter, ev model.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return writeSSEEvent(w, ev.Kind, fmt.Sprint(ev.Seq), string(data))
}

// writeSSEEvent writes a named SSE event (id, event and data fields). An
// empty id is omitted.
func writeSSEEvent(w http.ResponseWriter, eventType, id, data string) error {
	if id != "" {
		if _, err := fmt.Fprintf(w, "id: %s\n", id); err != nil {
			return err
		}
	}
	if _, err := fmt.Fprintf(w, "event: %s\n", eventType); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
		return err
	}
	return nil
}
