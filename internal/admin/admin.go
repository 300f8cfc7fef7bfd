// Package admin serves the server's HTTP side door: Prometheus metrics, a
// JSON view of the session table and a websocket feed of live events.
package admin

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/juanpablocruz/uap/pkg/session"
)

// Source exposes the session table to the admin handlers.
type Source interface {
	Snapshot() []session.Info
	Stats() session.Stats
}

type sessionsResponse struct {
	Stats    session.Stats  `json:"stats"`
	Sessions []session.Info `json:"sessions"`
}

// NewRouter wires the admin endpoints. hub may be nil to disable /events.
func NewRouter(src Source, g prometheus.Gatherer, hub *Hub) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{}))
	r.Get("/sessions", func(w http.ResponseWriter, _ *http.Request) {
		sessions := src.Snapshot()
		if sessions == nil {
			sessions = []session.Info{}
		}
		writeJSON(w, http.StatusOK, sessionsResponse{Stats: src.Stats(), Sessions: sessions})
	})
	r.Get("/sessions/{id}", func(w http.ResponseWriter, req *http.Request) {
		id, err := strconv.ParseInt(chi.URLParam(req, "id"), 10, 32)
		if err != nil {
			http.Error(w, "bad session id", http.StatusBadRequest)
			return
		}
		for _, s := range src.Snapshot() {
			if s.ID == int32(id) {
				writeJSON(w, http.StatusOK, s)
				return
			}
		}
		http.NotFound(w, req)
	})
	if hub != nil {
		r.Get("/events", hub.HandleWebSocket)
	}
	return r
}

// Serve runs an HTTP server on addr until ctx is done.
func Serve(ctx context.Context, addr string, h http.Handler, log *slog.Logger) error {
	srv := &http.Server{Addr: addr, Handler: h, ReadHeaderTimeout: 5 * time.Second}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	log.Info("admin_listening", "addr", addr)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		sctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		err := srv.Shutdown(sctx)
		if e := <-errCh; !errors.Is(e, http.ErrServerClosed) && err == nil {
			err = e
		}
		return err
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
