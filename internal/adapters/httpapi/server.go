// Package httpapi exposes the runtime's metrics, health and topology over HTTP.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ghalamif/AegisCDSS/internal/adapters/observability"
	"github.com/ghalamif/AegisCDSS/internal/app/dfcn"
	"github.com/ghalamif/AegisCDSS/internal/domain"
	"github.com/ghalamif/AegisCDSS/internal/ports"
)

const requestTimeout = 10 * time.Second

// ActorInfo is the /actors view of one actor.
type ActorInfo struct {
	ID       string            `json:"id"`
	Type     string            `json:"type"`
	Inputs   []string          `json:"inputs"`
	Outputs  []string          `json:"outputs"`
	Rules    string            `json:"rules"`
	Running  bool              `json:"running"`
	Arrivals map[string]uint64 `json:"arrivals"`
}

// Source is what the router reads from the runtime.
type Source interface {
	Topology() *dfcn.Graph
	ActorInfo() []ActorInfo
	// Health returns nil while the runtime accepts updates.
	Health() error
	Publish(channel string, p domain.Payload) error
}

type publishRequest struct {
	Value  any       `json:"value"`
	TS     time.Time `json:"ts"`
	Source string    `json:"source"`
}

type handlers struct {
	src Source
}

// NewRouter mounts the runtime endpoints. gatherer may be nil to omit /metrics.
func NewRouter(src Source, gatherer prometheus.Gatherer) http.Handler {
	h := &handlers{src: src}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(requestTimeout))

	if gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}
	r.Get("/healthz", h.health)
	r.Get("/topology", h.topology)
	r.Route("/actors", func(r chi.Router) {
		r.Get("/", h.listActors)
		r.Get("/{actorID}", h.getActor)
	})
	r.Post("/channels/{channel}", h.publish)
	return r
}

func (h *handlers) health(w http.ResponseWriter, _ *http.Request) {
	if err := h.src.Health(); err != nil {
		respondError(w, http.StatusServiceUnavailable, "unhealthy", err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *handlers) topology(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, h.src.Topology())
}

func (h *handlers) listActors(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, h.src.ActorInfo())
}

func (h *handlers) getActor(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "actorID")
	for _, a := range h.src.ActorInfo() {
		if a.ID == id {
			respondJSON(w, http.StatusOK, a)
			return
		}
	}
	respondError(w, http.StatusNotFound, "actor not found", nil)
}

// publish injects a manual observation, e.g. a nurse-entered value.
func (h *handlers) publish(w http.ResponseWriter, r *http.Request) {
	var req publishRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if req.Value == nil {
		respondError(w, http.StatusBadRequest, "value is required", nil)
		return
	}
	if req.Source == "" {
		req.Source = "http"
	}
	p := domain.Payload{Value: req.Value, Timestamp: req.TS, Source: req.Source}
	if err := h.src.Publish(chi.URLParam(r, "channel"), p); err != nil {
		respondError(w, http.StatusServiceUnavailable, "publish failed", err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string, err error) {
	resp := map[string]string{"error": message}
	if err != nil {
		resp["details"] = err.Error()
	}
	respondJSON(w, status, resp)
}

// Server runs the router until its context ends.
type Server struct {
	srv *http.Server
	obs ports.Observability
}

func NewServer(addr string, handler http.Handler, obs ports.Observability) *Server {
	if obs == nil {
		obs = observability.Nop{}
	}
	return &Server{
		srv: &http.Server{
			Addr:              addr,
			Handler:           handler,
			ReadHeaderTimeout: 5 * time.Second,
		},
		obs: obs,
	}
}

// Run serves until ctx is cancelled and then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.obs.LogInfo("http_server_listening", ports.Field{Key: "addr", Value: s.srv.Addr})
		errCh <- s.srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
