package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ChuLiYu/isp-scheduler/internal/logging"
)

// HTTP serves /healthz, /status and /metrics.
type HTTP struct {
	router chi.Router
	src    StatusSource
	ready  atomic.Bool
	log    *slog.Logger
}

// NewHTTP builds the router. gatherer may be nil to leave out /metrics.
func NewHTTP(src StatusSource, gatherer prometheus.Gatherer, logger *slog.Logger) *HTTP {
	h := &HTTP{
		router: chi.NewRouter(),
		src:    src,
		log:    logging.For(logger, logging.ComponentServer),
	}

	r := h.router
	r.Use(middleware.Recoverer)
	r.Use(loggingMiddleware(h.log))

	r.Get("/healthz", h.handleHealth)
	r.Get("/status", h.handleStatus)
	if gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}
	return h
}

// SetReady controls whether /healthz reports healthy.
func (h *HTTP) SetReady(ready bool) { h.ready.Store(ready) }

func (h *HTTP) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.router.ServeHTTP(w, r)
}

type healthResponse struct {
	Status string `json:"status"`
}

func (h *HTTP) handleHealth(w http.ResponseWriter, r *http.Request) {
	if !h.ready.Load() {
		respondJSON(w, http.StatusServiceUnavailable, healthResponse{Status: "starting"})
		return
	}
	respondJSON(w, http.StatusOK, healthResponse{Status: "healthy"})
}

func (h *HTTP) handleStatus(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.src.Status().AsMap())
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// loggingMiddleware logs HTTP requests at DEBUG level.
func loggingMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			logger.Debug("request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"duration", time.Since(start).String(),
			)
		})
	}
}
