// Package api provides the HTTP server for the tally daemon: account,
// provider and task surfaces over the engine, plus health and metrics.
package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tally-network/tally/internal/app/engine"
	"github.com/tally-network/tally/internal/domain"
	"github.com/tally-network/tally/internal/health"
	"github.com/tally-network/tally/internal/infra/audit"
)

// Server is the tally HTTP API server.
type Server struct {
	engine  *engine.Engine
	trail   *audit.Trail
	checker *health.Checker

	version        string
	nodeID         string
	metricsEnabled bool
	corsEnabled    bool
}

// NewServer creates a new API server over the engine.
func NewServer(e *engine.Engine, trail *audit.Trail, checker *health.Checker, version, nodeID string) *Server {
	return &Server{
		engine:  e,
		trail:   trail,
		checker: checker,
		version: version,
		nodeID:  nodeID,
	}
}

// EnableMetrics enables the /metrics Prometheus endpoint.
func (s *Server) EnableMetrics() { s.metricsEnabled = true }

// EnableCORS enables permissive CORS headers for local development.
func (s *Server) EnableCORS() { s.corsEnabled = true }

// Handler returns the chi router with all routes mounted.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(time.Minute))
	if s.corsEnabled {
		r.Use(corsMiddleware)
	}

	r.Get("/health", s.handleHealth)
	r.Get("/api/status", s.handleStatus)
	r.Get("/api/version", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{
			"version": s.version,
			"node_id": s.nodeID,
		})
	})

	r.Route("/v1", func(r chi.Router) {
		r.Route("/accounts/{id}", func(r chi.Router) {
			r.Get("/", s.handleGetAccount)
			r.Post("/deposit", s.handleDeposit)
		})

		r.Route("/providers", func(r chi.Router) {
			r.Post("/", s.handleRegisterProvider)
			r.Get("/", s.handleListProviders)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetProvider)
				r.Post("/topup", s.handleTopUp)
				r.Post("/withdrawals", s.handleInitiateWithdrawal)
				r.Post("/withdrawals/complete", s.handleCompleteWithdrawal)
				r.Post("/active", s.handleSetActive)
			})
		})

		r.Route("/tasks", func(r chi.Router) {
			r.Post("/", s.handleRequestTask)
			r.Get("/", s.handleListTasks)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetTask)
				r.Post("/submissions", s.handleSubmitResult)
				r.Post("/cancel", s.handleCancelTask)
				r.Post("/finalize", s.handleFinalizeTask)
			})
		})

		r.Get("/audit", s.handleAudit)
		r.Get("/params", s.handleParams)
	})

	if s.metricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	statuses := s.checker.Statuses()
	code := http.StatusOK
	status := "ok"
	if !s.checker.IsHealthy() {
		code = http.StatusServiceUnavailable
		status = "degraded"
	}
	writeJSON(w, code, map[string]interface{}{
		"status": status,
		"checks": statuses,
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	stats, err := s.engine.Stats()
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "running",
		"version": s.version,
		"node_id": s.nodeID,
		"stats":   stats,
	})
}

// ─── Response Helpers ───────────────────────────────────────────────────────

// classStatus maps a domain error class onto an HTTP status code.
func classStatus(class domain.ErrorClass) int {
	switch class {
	case domain.ClassValidation:
		return http.StatusBadRequest
	case domain.ClassNotFound:
		return http.StatusNotFound
	case domain.ClassState:
		return http.StatusConflict
	case domain.ClassFunds:
		return http.StatusPaymentRequired
	case domain.ClassLocked:
		return http.StatusLocked
	default:
		return http.StatusInternalServerError
	}
}

// writeDomainError renders a domain error with its mapped status code.
func writeDomainError(w http.ResponseWriter, err error) {
	class := domain.Classify(err)
	writeJSON(w, classStatus(class), map[string]interface{}{
		"error": map[string]interface{}{
			"message": err.Error(),
			"class":   string(class),
		},
	})
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response with an explicit status.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]interface{}{
		"error": map[string]interface{}{
			"message": msg,
			"class":   "request",
		},
	})
}

// corsMiddleware adds CORS headers for local development.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}
