package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/cuemby/posyncd/pkg/metrics"
)

// HealthServer provides HTTP health check endpoints over the engine's
// status surface.
type HealthServer struct {
	status metrics.StatusSource
	mux    *http.ServeMux
}

// NewHealthServer creates a new health check HTTP server. status may
// be nil, in which case readiness always reports not-ready.
func NewHealthServer(status metrics.StatusSource) *HealthServer {
	mux := http.NewServeMux()
	hs := &HealthServer{status: status, mux: mux}

	mux.HandleFunc("/health", hs.healthHandler)
	mux.HandleFunc("/ready", hs.readyHandler)
	mux.Handle("/metrics", metrics.Handler())

	return hs
}

// Start starts the health check HTTP server.
func (hs *HealthServer) Start(addr string) error {
	server := &http.Server{
		Addr:         addr,
		Handler:      hs.mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return server.ListenAndServe()
}

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// ReadyResponse represents the readiness check response.
type ReadyResponse struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Checks    map[string]string `json:"checks"`
	Message   string            `json:"message,omitempty"`
}

// healthHandler is a simple liveness check: 200 if the process is
// alive.
func (hs *HealthServer) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(HealthResponse{Status: "healthy", Timestamp: time.Now()})
}

// readyHandler reports not ready only when no engine status source is
// wired; otherwise it reports ready, listing network state and the
// outbox and dead-letter depths as informational checks that do not
// affect readiness.
func (hs *HealthServer) readyHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	checks := make(map[string]string)
	ready := true
	var message string

	if hs.status == nil {
		checks["engine"] = "not initialized"
		ready = false
		message = "engine not initialized"
	} else {
		if hs.status.IsOnline() {
			checks["network"] = "online"
		} else {
			checks["network"] = "offline"
		}
		checks["outbox_depth"] = strconv.Itoa(hs.status.MainQueueLength())
		checks["dead_letter_depth"] = strconv.Itoa(hs.status.DeadLetterQueueLength())
	}

	status := "ready"
	statusCode := http.StatusOK
	if !ready {
		status = "not ready"
		statusCode = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(ReadyResponse{
		Status: status, Timestamp: time.Now(), Checks: checks, Message: message,
	})
}

// GetHandler returns the HTTP handler for embedding in other servers.
func (hs *HealthServer) GetHandler() http.Handler {
	return hs.mux
}
