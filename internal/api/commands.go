package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/dmreiter/foreman/internal/model"
)

const maxBodySize = 1 << 20 // 1 MB

// submitCommandRequest is the JSON body for POST /v1/commands.
type submitCommandRequest struct {
	Type   string         `json:"type"`
	Params map[string]any `json:"params"`
}

// submitCommandResponse acknowledges a submission with the issued command id
// and the admission status. Result is set when the command already reached a
// terminal status during submission: a rejection, or any outcome of the
// synchronous zero-capacity mode.
type submitCommandResponse struct {
	CommandID string               `json:"command_id"`
	Status    model.TaskStatus     `json:"status"`
	Result    *model.CommandResult `json:"result,omitempty"`
}

// listCommandsResponse wraps the command listing.
type listCommandsResponse struct {
	Commands []model.CommandRecord `json:"commands"`
	Total    int                   `json:"total"`
}

func (s *Server) handleSubmitCommand(w http.ResponseWriter, r *http.Request) {
	var req submitCommandRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if req.Type == "" {
		s.writeError(w, http.StatusBadRequest, "type is required")
		return
	}

	t, err := s.registry.Build(req.Type, req.Params)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	id, status := s.manager.Enqueue(t)

	resp := submitCommandResponse{CommandID: id, Status: status}
	if status.Terminal() {
		if rec, ok := s.manager.Record(id); ok {
			resp.Result = rec.Result
		}
	}
	s.writeJSON(w, http.StatusAccepted, resp)
}

func (s *Server) handleGetCommand(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	rec, ok := s.manager.Record(id)
	if !ok {
		s.writeError(w, http.StatusNotFound, "command not found")
		return
	}

	s.writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleListCommands(w http.ResponseWriter, r *http.Request) {
	records := s.manager.Records()

	if f := r.URL.Query().Get("status"); f != "" {
		st := model.TaskStatus(f)
		if !st.Valid() {
			s.writeError(w, http.StatusBadRequest, "unknown status filter")
			return
		}
		filtered := records[:0]
		for _, rec := range records {
			if rec.Status == st {
				filtered = append(filtered, rec)
			}
		}
		records = filtered
	}

	s.writeJSON(w, http.StatusOK, listCommandsResponse{
		Commands: records,
		Total:    len(records),
	})
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
