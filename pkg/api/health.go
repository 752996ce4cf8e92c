// Package api implements the router's control surface: an HTTP+JSON status
// endpoint, liveness/readiness probes, a prometheus /metrics endpoint, and
// a grpc_health_v1 health service so any RPC-aware supervisor can watch
// liveness alongside the bespoke GUI.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/tidewater/serialrouter/pkg/engine"
	"github.com/tidewater/serialrouter/pkg/metrics"
)

// Version is overridable at link time (-ldflags "-X ...Version=...").
var Version = "dev"

// Server is the HTTP half of the control surface.
type Server struct {
	eng *engine.Engine
	mux *http.ServeMux
}

// NewServer builds the HTTP mux for /status, /health, /ready, /metrics. A
// nil eng is accepted so liveness still answers before Start() has run.
func NewServer(eng *engine.Engine) *Server {
	metrics.SetVersion(Version)
	metrics.RegisterComponent("engine", false, "not started")
	s := &Server{eng: eng, mux: http.NewServeMux()}
	s.mux.HandleFunc("/status", s.statusHandler)
	s.mux.HandleFunc("/health", s.healthHandler)
	s.mux.HandleFunc("/ready", s.readyHandler)
	s.mux.Handle("/metrics", metrics.Handler())
	return s
}

// Start blocks serving HTTP on addr.
func (s *Server) Start(addr string) error {
	srv := &http.Server{
		Addr:         addr,
		Handler:      s.mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return srv.ListenAndServe()
}

// GetHandler exposes the mux directly, for tests driving it with
// httptest.NewServer without going through Start.
func (s *Server) GetHandler() http.Handler {
	return s.mux
}

// HealthResponse is the /health liveness response.
type HealthResponse struct {
	Status     string            `json:"status"`
	Timestamp  time.Time         `json:"timestamp"`
	Version    string            `json:"version,omitempty"`
	Components map[string]string `json:"components,omitempty"`
}

// ReadyResponse is the /ready readiness response.
type ReadyResponse struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Checks    map[string]string `json:"checks"`
	Message   string            `json:"message,omitempty"`
}

// statusHandler serves the full EngineStatus snapshot.
func (s *Server) statusHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.eng == nil {
		http.Error(w, "engine not initialized", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(s.eng.Status())
}

// healthHandler is a simple liveness check: returns 200 if the process is
// alive, regardless of engine state.
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	response := HealthResponse{
		Status:     "healthy",
		Timestamp:  time.Now(),
		Version:    Version,
		Components: metrics.GetHealth().Components,
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(response)
}

// readyHandler reports whether the engine is running with all three ports
// connected and every handler heartbeat fresh. The grpc health service
// checks only the first two conditions and does not look at heartbeats.
func (s *Server) readyHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	checks := make(map[string]string)
	ready := true
	var message string

	if s.eng == nil || !s.eng.Running() {
		checks["engine"] = "not running"
		ready = false
		message = "engine not started"
		metrics.UpdateComponent("engine", false, "not running")
	} else {
		checks["engine"] = "running"
		metrics.UpdateComponent("engine", true, "running")
		status := s.eng.Status()
		for port, ps := range status.PerPort {
			if ps.Connected {
				checks[port] = "connected"
			} else {
				checks[port] = "disconnected"
				ready = false
				if message == "" {
					message = fmt.Sprintf("%s disconnected", port)
				}
			}
		}

		ctx, cancel := context.WithTimeout(r.Context(), 500*time.Millisecond)
		defer cancel()
		for owner, checker := range s.eng.HeartbeatCheckers() {
			res := checker.Check(ctx)
			if res.Healthy {
				checks[owner] = "alive"
				continue
			}
			checks[owner] = "stale: " + res.Message
			ready = false
			if message == "" {
				message = res.Message
			}
		}
	}

	statusStr := "ready"
	statusCode := http.StatusOK
	if !ready {
		statusStr = "not ready"
		statusCode = http.StatusServiceUnavailable
	}

	response := ReadyResponse{
		Status:    statusStr,
		Timestamp: time.Now(),
		Checks:    checks,
		Message:   message,
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(response)
}
