package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/dmreiter/foreman/internal/model"
	"github.com/dmreiter/foreman/internal/tracker"
)

type statusEventData struct {
	ID     string           `json:"id"`
	Status model.TaskStatus `json:"status"`
}

type progressEventData struct {
	ID       string `json:"id"`
	Progress int    `json:"progress"`
}

type resultEventData struct {
	ID      string           `json:"id"`
	Code    model.ResultCode `json:"result_code"`
	Message string           `json:"message"`
}

type exceptionEventData struct {
	ID    string `json:"id"`
	Error string `json:"error"`
}

func (s *Server) handleStreamEvents(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	// Verify the command exists before touching the broker, so requests for
	// unknown ids never materialize topics.
	if _, ok := s.manager.Record(id); !ok {
		s.writeError(w, http.StatusNotFound, "command not found")
		return
	}

	// Subscribe before the snapshot read below so that no update can fall
	// between the snapshot and the live stream. An update caught by both
	// shows up as a repeated state frame, never as a gap. A command that
	// finished between the existence check and this call has a closed topic,
	// which yields an immediately closed channel and a clean "done" below.
	ch, unsub := s.manager.Broker().Subscribe(id)
	defer unsub()

	rec, ok := s.manager.Record(id)
	if !ok {
		// Purged between the existence check and the subscription.
		s.writeError(w, http.StatusNotFound, "command not found")
		return
	}

	// Set SSE headers.
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

	// Replay the current record state so subscribers joining mid-run see
	// where the command stands before the incremental events arrive.
	snapshot := tracker.Event{ID: rec.ID, Status: &rec.Status, Progress: rec.Progress, Result: rec.Result, Err: rec.Err}
	if err := writeCommandEvent(w, snapshot); err != nil {
		return
	}
	if canFlush {
		flusher.Flush()
	}

	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				// Command finished; send explicit done event before closing.
				_ = writeSSEEvent(w, "done", "stream complete")
				if canFlush {
					flusher.Flush()
				}
				return
			}
			if err := writeCommandEvent(w, ev); err != nil {
				return // Write failed (e.g. client gone).
			}
			if canFlush {
				flusher.Flush()
			}
		case <-r.Context().Done():
			return // Client disconnected.
		}
	}
}

// writeCommandEvent writes one SSE frame per populated field of ev, keeping
// the event vocabulary to status, progress, result and exception.
func writeCommandEvent(w http.ResponseWriter, ev tracker.Event) error {
	if ev.Status != nil {
		if err := writeSSEJSON(w, "status", statusEventData{ID: ev.ID, Status: *ev.Status}); err != nil {
			return err
		}
	}
	if ev.Progress != nil {
		if err := writeSSEJSON(w, "progress", progressEventData{ID: ev.ID, Progress: *ev.Progress}); err != nil {
			return err
		}
	}
	if ev.Result != nil {
		if err := writeSSEJSON(w, "result", resultEventData{ID: ev.ID, Code: ev.Result.Code, Message: ev.Result.Message}); err != nil {
			return err
		}
	}
	if ev.Err != nil {
		if err := writeSSEJSON(w, "exception", exceptionEventData{ID: ev.ID, Error: ev.Err.Error()}); err != nil {
			return err
		}
	}
	return nil
}

// writeSSEJSON writes a named SSE event with a JSON payload. json.Marshal
// never emits newlines, so the payload always fits a single data line.
func writeSSEJSON(w http.ResponseWriter, eventType string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return writeSSEEvent(w, eventType, string(data))
}

// writeSSEEvent writes a named SSE event (event: <type>\ndata: <data>\n\n).
func writeSSEEvent(w http.ResponseWriter, eventType, data string) error {
	if _, err := fmt.Fprintf(w, "event: %s\n", eventType); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
		return err
	}
	return nil
}
