package api

import (
	"log/slog"
	"net/http"

	"github.com/kjannette/tulipbot/internal/models"
	"github.com/kjannette/tulipbot/internal/repository"
)

type priceJSON struct {
	ID    int64 `json:"id"`
	Red   int   `json:"red"`
	White int   `json:"white"`
	Blue  int   `json:"blue"`
	Time  int64 `json:"time"`
}

func toPriceJSON(s models.PriceSample) priceJSON {
	return priceJSON{ID: s.ID, Red: s.Red, White: s.White, Blue: s.Blue, Time: s.Time.UnixMilli()}
}

func (s *Server) handlePrices(w http.ResponseWriter, r *http.Request) {
	order := repository.ParseOrder(r.URL.Query().Get("order"))
	samples, err := s.deps.History.List(r.Context(), order, parseLimit(r))
	if err != nil {
		slog.Error("fetch price history", "component", "api", "err", err)
		writeError(w, http.StatusInternalServerError, "failed to fetch prices")
		return
	}

	out := make([]priceJSON, len(samples))
	for i, p := range samples {
		out[i] = toPriceJSON(p)
	}
	writeJSON(w, http.StatusOK, out)
}

type currentJSON struct {
	Red   int  `json:"red"`
	White int  `json:"white"`
	Blue  int  `json:"blue"`
	Known bool `json:"known"`
}

func (s *Server) handleCurrentPrices(w http.ResponseWriter, r *http.Request) {
	p := s.deps.Prices.Get()
	writeJSON(w, http.StatusOK, currentJSON{Red: p.Red, White: p.White, Blue: p.Blue, Known: p.Known()})
}
