package connector

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/flowbroker/connector/config"
)

// ManagementServer exposes the connector-level management surface:
// GET /apps, GET /apps/{name}, POST /apps, DELETE
// /apps/{name}, with any other path under /apps/{name}/... proxied to that
// app's own HandleManagementRequest.
type ManagementServer struct {
	c    *Connector
	http *http.Server
}

// NewManagementServer builds (but does not start) the management HTTP
// server on the given port.
func NewManagementServer(c *Connector, port int) *ManagementServer {
	mux := http.NewServeMux()
	s := &ManagementServer{c: c}
	mux.HandleFunc("/apps", s.handleApps)
	mux.HandleFunc("/apps/", s.handleApp)
	s.http = &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux}
	return s
}

// Serve starts the HTTP server; it returns once the server is closed via
// Shutdown (or fails to bind).
func (s *ManagementServer) Serve() error {
	err := s.http.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown gracefully stops the HTTP server within ctx's deadline.
func (s *ManagementServer) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *ManagementServer) handleApps(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		var statuses []map[string]any
		for _, a := range s.c.GetApps() {
			statuses = append(statuses, map[string]any{"name": a.Name, "status": string(a.Status())})
		}
		writeJSON(w, http.StatusOK, statuses)
	case http.MethodPost:
		body, err := io.ReadAll(r.Body)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}
		var cfg config.AppConfig
		if err := json.Unmarshal(body, &cfg); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}
		ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
		defer cancel()
		if err := s.c.AddApp(ctx, cfg); err != nil {
			writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusCreated, map[string]string{"name": cfg.Name, "status": "starting"})
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (s *ManagementServer) handleApp(w http.ResponseWriter, r *http.Request) {
	pathParts := strings.Split(strings.TrimPrefix(r.URL.Path, "/apps/"), "/")
	if len(pathParts) == 0 || pathParts[0] == "" {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	name := pathParts[0]
	rest := pathParts[1:]

	if r.Method == http.MethodDelete && len(rest) == 0 {
		ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
		defer cancel()
		if err := s.c.RemoveApp(ctx, name, 10*time.Second); err != nil {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
			return
		}
		w.WriteHeader(http.StatusNoContent)
		return
	}

	a, ok := s.c.GetApp(name)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "app not found"})
		return
	}

	body, _ := io.ReadAll(r.Body)
	result, err := a.HandleManagementRequest(r.Context(), r.Method, rest, body)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// MetricsServer serves the connector's Prometheus registry over /metrics.
type MetricsServer struct {
	http *http.Server
}

// NewMetricsServer builds (but does not start) the metrics HTTP server.
func NewMetricsServer(c *Connector, port int) *MetricsServer {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(c.metr.Gatherer(), promhttp.HandlerOpts{}))
	return &MetricsServer{http: &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux}}
}

func (s *MetricsServer) Serve() error {
	err := s.http.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (s *MetricsServer) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}
