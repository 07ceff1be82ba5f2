// Package api exposes the run to the surrounding CLI/GUI while it is
// in flight: a report snapshot, a live event stream, health and
// Prometheus metrics.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"danmuget/internal/report"
)

// NewRouter builds the status router for one run.
func NewRouter(builder *report.Builder, hub *Hub, logger *slog.Logger) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Get("/report", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, builder.Snapshot())
	})

	r.Get("/events", func(w http.ResponseWriter, req *http.Request) {
		serveEvents(w, req, hub, logger)
	})

	r.Handle("/metrics", promhttp.Handler())

	return r
}

// serveEvents streams task events as server-sent events until the run
// ends or the client disconnects.
func serveEvents(w http.ResponseWriter, req *http.Request, hub *Hub, logger *slog.Logger) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	events, cancel := hub.Subscribe()
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case event, open := <-events:
			if !open {
				return
			}
			data, err := json.Marshal(event)
			if err != nil {
				logger.Error("failed to encode event", "error", err)
				continue
			}
			if _, err := w.Write(append(append([]byte("data: "), data...), '\n', '\n')); err != nil {
				return
			}
			flusher.Flush()
		case <-req.Context().Done():
			return
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
