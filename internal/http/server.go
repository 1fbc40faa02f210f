// Package http serves the operator-facing admin API: liveness, readiness,
// job status and manual job triggers.
package http

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"fintrack/internal/middleware/ratelimit"
	"fintrack/internal/middleware/security"
	"fintrack/internal/middleware/trace"
	"fintrack/internal/scheduler"
	"fintrack/internal/worker"
)

// Pinger is satisfied by every ledger store.
type Pinger interface {
	Ping(ctx context.Context) error
}

// JobRunner is the scheduler surface the admin API needs.
type JobRunner interface {
	Status() []scheduler.JobStatus
	Trigger(name string) error
	IsRunning() bool
}

// Deps are the components the admin API reports on. Pool may be nil when
// the process only publishes work.
type Deps struct {
	Store Pinger
	Jobs  JobRunner
	Pool  func() worker.Stats
}

// Config holds configuration for the admin server
type Config struct {
	// TriggerLimit bounds manual job triggers per client IP per TriggerWindow (default: 10)
	TriggerLimit  int
	TriggerWindow time.Duration

	// ReadyTimeout bounds the store ping in /readyz (default: 5s)
	ReadyTimeout time.Duration
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		TriggerLimit:  10,
		TriggerWindow: time.Minute,
		ReadyTimeout:  5 * time.Second,
	}
}

// Server wraps http.Server with the admin routes.
type Server struct {
	http.Server
	deps    Deps
	config  Config
	started time.Time

	detector *security.Detector
	limiter  *ratelimit.Limiter
	tracer   *trace.Middleware
}

// NewServer configures routes and middleware, returning a ready-to-run server.
func NewServer(addr string, deps Deps, config Config) *Server {
	def := DefaultConfig()
	if config.TriggerLimit <= 0 {
		config.TriggerLimit = def.TriggerLimit
	}
	if config.TriggerWindow <= 0 {
		config.TriggerWindow = def.TriggerWindow
	}
	if config.ReadyTimeout <= 0 {
		config.ReadyTimeout = def.ReadyTimeout
	}

	s := &Server{
		deps:     deps,
		config:   config,
		started:  time.Now(),
		detector: security.NewDetector(),
		limiter: ratelimit.NewLimiter(ratelimit.Config{
			Limit:  config.TriggerLimit,
			Window: config.TriggerWindow,
		}),
	}
	s.tracer = trace.NewMiddleware(s.detector.ExtractClientIP)

	limited := s.limiter.Middleware(s.detector.ExtractClientIP, nil)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /readyz", s.handleReady)
	mux.HandleFunc("GET /metrics", s.handleMetrics)
	mux.HandleFunc("GET /jobs", s.handleJobs)
	mux.Handle("POST /jobs/{name}/run", limited(http.HandlerFunc(s.handleRunJob)))

	headers := security.NewHeadersMiddleware(security.DefaultHeadersConfig())
	s.Server = http.Server{
		Addr:              addr,
		Handler:           s.tracer.Middleware(headers.Middleware(s.withDetection(mux))),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

// withDetection logs requests that look like scans. They are still served.
func (s *Server) withDetection(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.detector.DetectSuspiciousRequest(r) {
			trace.Logger(r.Context()).WarnContext(r.Context(), "Suspicious request",
				"client_ip", s.detector.ExtractClientIP(r),
				"user_agent", r.Header.Get("User-Agent"))
		}
		next.ServeHTTP(w, r)
	})
}

// Shutdown stops the server and its background cleanup.
func (s *Server) Shutdown(ctx context.Context) error {
	s.limiter.Stop()
	return s.Server.Shutdown(ctx)
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.DebugContext(r.Context(), "Failed writing response", "error", err)
	}
}

func writeError(w http.ResponseWriter, r *http.Request, status int, msg string) {
	writeJSON(w, r, status, map[string]string{
		"error":     msg,
		"requestId": trace.GetRequestID(r.Context()),
	})
}
