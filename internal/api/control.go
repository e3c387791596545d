package api

import (
	"net/http"

	"github.com/dmreiter/foreman/internal/tracker"
)

// controlResponse acknowledges a queue control action.
type controlResponse struct {
	Status string `json:"status"`
}

// queueResponse is the JSON response for GET /v1/queue.
type queueResponse struct {
	Commands []tracker.QueueEntry `json:"commands"`
	Depth    int                  `json:"depth"`
	Workers  int                  `json:"workers"`
}

func (s *Server) handleGetQueue(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, queueResponse{
		Commands: s.manager.CommandsInQueue(),
		Depth:    s.manager.QueueDepth(),
		Workers:  s.manager.Workers(),
	})
}

func (s *Server) handleAbortTasks(w http.ResponseWriter, _ *http.Request) {
	s.manager.AbortTasks()
	s.writeJSON(w, http.StatusOK, controlResponse{Status: "aborting"})
}

func (s *Server) handleStopTasks(w http.ResponseWriter, _ *http.Request) {
	s.manager.StopTasks()
	s.writeJSON(w, http.StatusOK, controlResponse{Status: "stopping"})
}

func (s *Server) handleResumeTasks(w http.ResponseWriter, _ *http.Request) {
	s.manager.ResumeTasks()
	s.writeJSON(w, http.StatusOK, controlResponse{Status: "resumed"})
}
