package api

import "net/http"

// taskTypesResponse lists the registered task types.
type taskTypesResponse struct {
	Types []string `json:"types"`
}

func (s *Server) handleListTaskTypes(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, taskTypesResponse{Types: s.registry.Types()})
}
