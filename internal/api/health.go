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
	Database   string `json:"database"`
	Driver     string `json:"driver,omitempty"`
	PricesSeen bool   `json:"pricesSeen"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	dbStatus := "connected"
	if s.deps.Ping == nil || s.deps.Ping(r.Context()) != nil {
		dbStatus = "disconnected"
	}
	seen := s.deps.Prices != nil && s.deps.Prices.Get().Known()

	writeJSON(w, http.StatusOK, healthResponse{
		Status:    "ok",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Services:  healthServices{Database: dbStatus, Driver: s.deps.DBDriver, PricesSeen: seen},
	})
}
