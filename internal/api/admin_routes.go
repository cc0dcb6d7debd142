package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/kjannette/tulipbot/internal/settlement"
)

type cycleJSON struct {
	ID        string `json:"id"`
	StartedAt int64  `json:"startedAt"`
	Planned   int    `json:"planned"`
	Succeeded int    `json:"succeeded"`
	Failed    int    `json:"failed"`
	Unsettled int    `json:"unsettled"`
	Credited  int    `json:"credited"`
}

func (s *Server) handleRunCycle(w http.ResponseWriter, r *http.Request) {
	if s.deps.Cycles == nil {
		writeError(w, http.StatusServiceUnavailable, "settlement not running")
		return
	}
	report, err := s.deps.Cycles.RunNow(r.Context())
	if errors.Is(err, settlement.ErrCycleInProgress) {
		writeError(w, http.StatusConflict, "a cycle is already running")
		return
	}
	if err != nil {
		slog.Error("manual cycle", "component", "api", "err", err)
		writeError(w, http.StatusInternalServerError, "cycle failed")
		return
	}
	writeJSON(w, http.StatusOK, cycleJSON{
		ID:        report.ID,
		StartedAt: report.StartedAt.UnixMilli(),
		Planned:   len(report.Planned),
		Succeeded: len(report.Succeeded),
		Failed:    len(report.Failed),
		Unsettled: len(report.Unsettled),
		Credited:  report.Credited,
	})
}

type remindRequest struct {
	Message string `json:"message"`
}

func (s *Server) handleRemind(w http.ResponseWriter, r *http.Request) {
	if s.deps.Remind == nil {
		writeError(w, http.StatusServiceUnavailable, "reminders not configured")
		return
	}
	var req remindRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
	}
	sent, err := s.deps.Remind(r.Context(), req.Message)
	if err != nil {
		slog.Error("remind holders", "component", "api", "err", err)
		writeError(w, http.StatusInternalServerError, "reminders failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"sent": sent})
}
