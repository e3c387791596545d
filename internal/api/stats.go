package api

import (
	"net/http"
)

// statsResponse is the JSON response for GET /v1/stats.
type statsResponse struct {
	Total      int            `json:"total"`
	ByStatus   map[string]int `json:"by_status"`
	QueueDepth int            `json:"queue_depth"`
	Workers    int            `json:"workers"`
}

func (s *Server) handleGetStats(w http.ResponseWriter, _ *http.Request) {
	stats := s.manager.Stats()

	s.writeJSON(w, http.StatusOK, statsResponse{
		Total:      stats.Total,
		ByStatus:   stats.CountByStatus,
		QueueDepth: stats.QueueDepth,
		Workers:    stats.Workers,
	})
}
