package supervisor

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// pinger is the subset of the Redis client used for health checks
type pinger interface {
	Ping(ctx context.Context) *redis.StatusCmd
}

// HealthServer provides HTTP health check endpoints
type HealthServer struct {
	port       int
	supervisor *Supervisor
	redis      pinger
	logger     *zap.Logger
	server     *http.Server
}

// NewHealthServer creates a new health server. redisClient may be nil.
func NewHealthServer(port int, sup *Supervisor, redisClient *redis.Client, logger *zap.Logger) *HealthServer {
	hs := &HealthServer{
		port:       port,
		supervisor: sup,
		logger:     logger,
	}
	if redisClient != nil {
		hs.redis = redisClient
	}
	return hs
}

// Handler returns the health routes
func (hs *HealthServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", hs.handleHealth)
	mux.HandleFunc("/ready", hs.handleReady)
	return mux
}

// Start starts the health check server
func (hs *HealthServer) Start() error {
	hs.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", hs.port),
		Handler:           hs.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	hs.logger.Info("starting health server", zap.Int("port", hs.port))

	go func() {
		if err := hs.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			hs.logger.Error("health server error", zap.Error(err))
		}
	}()

	return nil
}

// Stop stops the health check server
func (hs *HealthServer) Stop() error {
	if hs.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	hs.logger.Info("stopping health server")
	return hs.server.Shutdown(ctx)
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status  string            `json:"status"`
	Uptime  string            `json:"uptime,omitempty"`
	Checks  map[string]string `json:"checks,omitempty"`
	Workers []WorkerHealth    `json:"workers,omitempty"`
}

// WorkerHealth is the health view of one registry entry
type WorkerHealth struct {
	Name       string `json:"name"`
	InstanceID string `json:"instance_id"`
	Mode       string `json:"mode"`
	Alive      bool   `json:"alive"`
	State      string `json:"state"`
	Frames     string `json:"frames"`
	Rejected   uint64 `json:"rejected"`
	Failed     uint64 `json:"callback_failures"`
	Rebuilds   uint64 `json:"rebuilds"`
	Started    string `json:"started"`
	LastError  string `json:"last_error,omitempty"`
}

// Workers returns the health view of every registered worker
func (s *Supervisor) Workers() []WorkerHealth {
	entries := s.registry.Entries()
	out := make([]WorkerHealth, 0, len(entries))
	for _, e := range entries {
		stats := e.Worker.Stats()
		wh := WorkerHealth{
			Name:       e.Name,
			InstanceID: e.Worker.ID(),
			Mode:       string(e.Worker.Mode()),
			Alive:      e.Worker.Alive(),
			State:      e.Worker.State().String(),
			Frames:     humanize.Comma(int64(stats.Frames)),
			Rejected:   stats.Dispatch.Rejected,
			Failed:     stats.Dispatch.Failed,
			Rebuilds:   e.Rebuilds,
			Started:    humanize.Time(stats.StartedAt),
		}
		if err := e.Worker.Err(); err != nil {
			wh.LastError = err.Error()
		} else if e.LastError != nil {
			wh.LastError = e.LastError.Error()
		}
		out = append(out, wh)
	}
	return out
}

// handleHealth handles the /health endpoint
func (hs *HealthServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	healthy := true
	checks := make(map[string]string)

	if hs.redis != nil {
		if err := hs.redis.Ping(ctx).Err(); err != nil {
			checks["redis"] = fmt.Sprintf("unhealthy: %v", err)
			healthy = false
		} else {
			checks["redis"] = "healthy"
		}
	}

	workers := hs.supervisor.Workers()
	dead := 0
	for _, wh := range workers {
		if !wh.Alive {
			dead++
		}
	}
	checks["workers"] = fmt.Sprintf("%d/%d alive", len(workers)-dead, len(workers))
	if dead > 0 {
		healthy = false
	}

	status, code := "healthy", http.StatusOK
	if !healthy {
		status, code = "unhealthy", http.StatusServiceUnavailable
	}

	hs.respondJSON(w, code, HealthResponse{
		Status:  status,
		Uptime:  strings.TrimSpace(humanize.RelTime(hs.supervisor.StartedAt(), time.Now(), "", "")),
		Checks:  checks,
		Workers: workers,
	})
}

// handleReady handles the /ready endpoint
func (hs *HealthServer) handleReady(w http.ResponseWriter, r *http.Request) {
	if !hs.supervisor.Running() {
		hs.respondJSON(w, http.StatusServiceUnavailable, HealthResponse{
			Status: "not ready",
		})
		return
	}

	hs.respondJSON(w, http.StatusOK, HealthResponse{
		Status: "ready",
	})
}

// respondJSON writes a JSON response
func (hs *HealthServer) respondJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		hs.logger.Error("failed to encode response", zap.Error(err))
	}
}
