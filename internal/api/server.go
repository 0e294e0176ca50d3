// Package api exposes the host's observability surface over HTTP:
// Prometheus metrics, a JSON snapshot of connected viewers, and a
// liveness probe. It is read-only; stream control stays on the UDP
// protocol.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lancast/lancast/internal/metrics"
	"github.com/lancast/lancast/internal/session"
)

// ClientSource is the view of session.Host the API reads.
type ClientSource interface {
	Clients() []session.ClientRecord
	ClientCount() int
}

// Handler serves the host status endpoints.
type Handler struct {
	host    ClientSource
	log     *slog.Logger
	metrics *metrics.Metrics
}

// NewHandler returns a Handler reading from the given host. m may be
// nil to run without a /metrics endpoint body (the route still answers
// with an empty registry).
func NewHandler(host ClientSource, log *slog.Logger, m *metrics.Metrics) *Handler {
	return &Handler{host: host, log: log, metrics: m}
}

// Router builds the chi router with all routes mounted.
func (h *Handler) Router() chi.Router {
	r := chi.NewRouter()
	r.Get("/healthz", h.Healthz)
	r.Get("/api/clients", h.GetClients)
	if h.metrics != nil {
		r.Get("/metrics", func(w http.ResponseWriter, req *http.Request) {
			promhttp.HandlerFor(h.metrics.Registry(), promhttp.HandlerOpts{}).ServeHTTP(w, req)
		})
	}
	return r
}

// clientJSON is the wire shape of one viewer in /api/clients.
type clientJSON struct {
	Addr     string    `json:"addr"`
	RTTMs    float64   `json:"rtt_ms"`
	RTTValid bool      `json:"rtt_valid"`
	LastSeen time.Time `json:"last_seen"`
}

// Healthz handles GET /healthz.
func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

// GetClients handles GET /api/clients with a snapshot of the viewer
// table.
func (h *Handler) GetClients(w http.ResponseWriter, r *http.Request) {
	records := h.host.Clients()
	out := make([]clientJSON, 0, len(records))
	for _, c := range records {
		out = append(out, clientJSON{
			Addr:     c.Addr.String(),
			RTTMs:    float64(c.RTT) / float64(time.Millisecond),
			RTTValid: c.RTTValid,
			LastSeen: c.LastSeen,
		})
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(out); err != nil {
		h.log.Debug("encoding client snapshot", "error", err)
	}
}

// Serve runs an HTTP server for the handler until the listener fails.
// Callers shut it down through the returned server.
func (h *Handler) Serve(addr string) *http.Server {
	srv := &http.Server{Addr: addr, Handler: h.Router()}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			h.log.Error("api server error", "error", err)
		}
	}()
	h.log.Info("api server listening", "addr", addr)
	return srv
}
