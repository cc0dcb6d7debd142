package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/kjannette/tulipbot/internal/metrics"
	"github.com/kjannette/tulipbot/internal/models"
	"github.com/kjannette/tulipbot/internal/repository"
	"github.com/kjannette/tulipbot/internal/settlement"
)

const maxQueryLimit = 10000

type PriceReader interface {
	Get() models.Prices
}

// CycleTrigger runs a settlement cycle on demand.
type CycleTrigger interface {
	RunNow(ctx context.Context) (*settlement.CycleReport, error)
}

// Reminder kmails every holder and returns how many were reached.
type Reminder func(ctx context.Context, text string) (int, error)

type Deps struct {
	History  repository.PriceHistory
	Prices   PriceReader
	Hub      *PriceHub
	Ping     func(ctx context.Context) error
	Cycles   CycleTrigger
	Remind   Reminder
	DBDriver string
}

type Server struct {
	deps       Deps
	apiKey     string
	httpServer *http.Server
}

func NewServer(deps Deps, port int, apiKey, corsOrigin string) *Server {
	s := &Server{deps: deps, apiKey: apiKey}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(metrics.Middleware)
	r.Use(func(next http.Handler) http.Handler { return corsMiddleware(next, corsOrigin) })
	r.Use(s.authMiddleware)

	// Health check and metrics (no auth required)
	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", metrics.Handler())

	r.Get("/prices", s.handlePrices)
	r.Get("/prices/current", s.handleCurrentPrices)
	if deps.Hub != nil {
		r.Get("/ws", deps.Hub.HandleWS)
	}

	r.Route("/admin", func(r chi.Router) {
		r.Use(s.requireKey)
		r.Post("/cycle", s.handleRunCycle)
		r.Post("/remind", s.handleRemind)
	})

	s.httpServer = &http.Server{
		Addr:        fmt.Sprintf(":%d", port),
		Handler:     r,
		ReadTimeout: 10 * time.Second,
	}
	return s
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

func (s *Server) Start() error {
	slog.Info("REST API server started", "component", "api", "addr", "http://localhost"+s.httpServer.Addr)
	if s.apiKey != "" {
		slog.Info("authentication enabled (Bearer token)", "component", "api")
	} else {
		slog.Info("authentication disabled, admin routes off (no API_KEY configured)", "component", "api")
	}
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// --- middleware ---

func isPublic(path string) bool {
	return path == "/health" || path == "/metrics"
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.apiKey == "" || isPublic(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		auth := r.Header.Get("Authorization")
		if auth == "" {
			writeError(w, http.StatusUnauthorized, "missing Authorization header")
			return
		}

		token := strings.TrimPrefix(auth, "Bearer ")
		if token == auth || token != s.apiKey {
			writeError(w, http.StatusUnauthorized, "invalid API key")
			return
		}

		next.ServeHTTP(w, r)
	})
}

// requireKey keeps mutating routes closed when no API key is configured.
func (s *Server) requireKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.apiKey == "" {
			writeError(w, http.StatusForbidden, "admin routes need API_KEY")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func corsMiddleware(next http.Handler, allowOrigin string) http.Handler {
	if allowOrigin == "" {
		allowOrigin = "*"
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", allowOrigin)
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// --- validation helpers ---

// parseLimit returns 0 (no limit) unless a positive integer is given.
func parseLimit(r *http.Request) int {
	v := r.URL.Query().Get("limit")
	if v == "" {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 0
	}
	if n > maxQueryLimit {
		return maxQueryLimit
	}
	return n
}

// --- response helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
