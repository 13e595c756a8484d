package orchestrator

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"
)

// Pinger checks connectivity of the step feed.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthServer provides HTTP health check endpoints for the consolidator.
type HealthServer struct {
	addr         string
	consolidator *Consolidator
	feed         Pinger
	server       *http.Server
}

// NewHealthServer creates a new health check server. feed may be nil.
func NewHealthServer(addr string, consolidator *Consolidator, feed Pinger) *HealthServer {
	return &HealthServer{
		addr:         addr,
		consolidator: consolidator,
		feed:         feed,
	}
}

// Start starts the HTTP health check server.
func (h *HealthServer) Start() error {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", h.healthCheckHandler)

	h.server = &http.Server{
		Addr:         h.addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}

	// Start server in background
	go func() {
		if err := h.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("[Health] Server error: %v", err)
		}
	}()

	return nil
}

// Shutdown gracefully shuts down the health check server.
func (h *HealthServer) Shutdown(ctx context.Context) error {
	if h.server == nil {
		return nil
	}
	return h.server.Shutdown(ctx)
}

// healthCheckHandler handles GET /healthz requests.
// Returns 200 OK if the last consolidation pass succeeded and the feed (when
// configured) is reachable, 503 Service Unavailable otherwise.
func (h *HealthServer) healthCheckHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	response := HealthResponse{Status: "healthy"}

	if h.consolidator != nil {
		last, err := h.consolidator.LastPass()
		if !last.IsZero() {
			response.LastPass = last.UTC().Format(time.RFC3339)
		}
		if err != nil {
			response.Status = "unhealthy"
			response.Error = err.Error()
		}
	}

	if h.feed != nil {
		// Check Redis connectivity with timeout
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := h.feed.Ping(ctx); err != nil {
			response.Status = "unhealthy"
			response.Redis = "disconnected"
			response.Error = err.Error()
		} else {
			response.Redis = "connected"
		}
	}

	status := http.StatusOK
	if response.Status != "healthy" {
		status = http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(response)
}

// HealthResponse is the JSON response structure for health checks.
type HealthResponse struct {
	Status   string `json:"status"`
	LastPass string `json:"last_pass,omitempty"`
	Redis    string `json:"redis,omitempty"`
	Error    string `json:"error,omitempty"`
}
