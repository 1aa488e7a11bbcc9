package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"Buildwatch/internal/analytics"
	"Buildwatch/internal/config"
	"Buildwatch/internal/metrics"
	"Buildwatch/internal/middleware"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Server struct {
	config     *config.Config
	tracker    *analytics.Tracker
	metrics    *metrics.Metrics
	logger     *slog.Logger
	httpServer *http.Server
}

// New creates a new API server
func New(
	cfg *config.Config,
	tracker *analytics.Tracker,
	met *metrics.Metrics,
	logger *slog.Logger,
) *Server {
	return &Server{
		config:  cfg,
		tracker: tracker,
		metrics: met,
		logger:  logger.With("component", "api-server"),
	}
}

// Handler builds the request router
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/ready", s.handleReadiness)
	mux.Handle("/metrics", promhttp.HandlerFor(s.metrics.Registry(), promhttp.HandlerOpts{}))

	mux.HandleFunc("/api/v1/status", s.authMiddleware(s.handleStatus))
	mux.HandleFunc("/api/v1/runs", s.authMiddleware(s.handleRuns))

	return middleware.Logging(s.logger, mux)
}

// Start starts the HTTP server and shuts it down when ctx is done
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.config.Server.Address, s.config.Server.Port)
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  s.config.Server.ReadTimeout,
		WriteTimeout: s.config.Server.WriteTimeout,
	}

	s.logger.Info("starting API server", "address", addr)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("server shutdown error", "error", err)
		}
	}()

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", err)
	}

	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
		"time":   time.Now().Format(time.RFC3339),
	})
}

// handleReadiness reports ready once the most recent cycle completed without error
func (s *Server) handleReadiness(w http.ResponseWriter, r *http.Request) {
	last, ok := s.tracker.Last()
	if !ok {
		s.writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "not ready",
			"error":  "no detection cycle has completed yet",
		})
		return
	}
	if last.Error != "" {
		s.writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "not ready",
			"error":  last.Error,
		})
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]string{
		"status": "ready",
		"time":   time.Now().Format(time.RFC3339),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	response := map[string]interface{}{
		"timestamp":      time.Now().Format(time.RFC3339),
		"project":        s.config.CircleCI.ProjectSlug(),
		"window_seconds": s.config.Thresholds.WindowSeconds,
		"max_per_actor":  s.config.Thresholds.MaxPerActor,
		"max_global":     s.config.Thresholds.MaxGlobal,
		"interval":       s.config.Watch.Interval.String(),
		"dry_run":        s.config.DryRun,
	}
	if last, ok := s.tracker.Last(); ok {
		response["last_run"] = last
	}

	s.writeJSON(w, http.StatusOK, response)
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			s.writeError(w, http.StatusBadRequest, "limit must be a non-negative integer", err)
			return
		}
		limit = n
	}

	runs := s.tracker.GetHistory(limit)
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"timestamp": time.Now().Format(time.RFC3339),
		"count":     len(runs),
		"runs":      runs,
	})
}

func (s *Server) authMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.config.Server.EnableAuth {
			next(w, r)
			return
		}

		apiKey := r.Header.Get("X-API-Key")
		if apiKey == "" {
			apiKey = r.Header.Get("Authorization")
			if len(apiKey) > 7 && apiKey[:7] == "Bearer " {
				apiKey = apiKey[7:]
			}
		}

		if apiKey != s.config.Server.APIKey {
			s.writeError(w, http.StatusUnauthorized, "unauthorized", nil)
			return
		}

		next(w, r)
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error("failed to encode JSON", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, statusCode int, message string, err error) {
	response := map[string]string{
		"error": message,
	}
	if err != nil {
		response["details"] = err.Error()
	}
	s.writeJSON(w, statusCode, response)
}
