package api

import (
	"net/http"
	"time"
)

type healthResponse struct {
	Status    string         `json:"status"`
	Timestamp string         `json:"timestamp"`
	Services  healthServices `json:"services"`
}

type healthServices struct {
	Backend  string `json:"backend"`
	Database string `json:"database"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	backend := "anonymous"
	if s.deps.Backend != nil && s.deps.Backend.Authenticated() {
		backend = "authenticated"
	}

	dbStatus := "disabled"
	if s.deps.DB != nil {
		dbStatus = "connected"
		if err := s.deps.DB.Ping(r.Context()); err != nil {
			dbStatus = "disconnected"
		}
	}

	writeJSON(w, http.StatusOK, healthResponse{
		Status:    "ok",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Services:  healthServices{Backend: backend, Database: dbStatus},
	})
}
