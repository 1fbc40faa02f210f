package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"fintrack/internal/scheduler"
	"fintrack/internal/worker"
)

// handleHealth performs basic liveness check
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": time.Now().Format(time.RFC3339),
		"uptime":    time.Since(s.started).Round(time.Second).String(),
	})
}

// handleReady performs readiness check with dependency verification
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), s.config.ReadyTimeout)
	defer cancel()

	status := "ready"
	httpStatus := http.StatusOK
	checks := make(map[string]string)

	switch {
	case s.deps.Store == nil:
		checks["store"] = "not_configured"
		status, httpStatus = "not_ready", http.StatusServiceUnavailable
	default:
		if err := s.deps.Store.Ping(ctx); err != nil {
			checks["store"] = fmt.Sprintf("failed: %v", err)
			status, httpStatus = "not_ready", http.StatusServiceUnavailable
		} else {
			checks["store"] = "ok"
		}
	}

	switch {
	case s.deps.Jobs == nil:
		checks["scheduler"] = "not_configured"
	case !s.deps.Jobs.IsRunning():
		checks["scheduler"] = "stopped"
		status, httpStatus = "not_ready", http.StatusServiceUnavailable
	default:
		checks["scheduler"] = "ok"
	}

	writeJSON(w, r, httpStatus, map[string]any{
		"status":    status,
		"timestamp": time.Now().Format(time.RFC3339),
		"checks":    checks,
	})
}

type jobsResponse struct {
	Jobs []scheduler.JobStatus `json:"jobs"`
	Pool *worker.Stats         `json:"pool,omitempty"`
}

// handleJobs lists every registered job with its last outcome and next
// firing, plus worker pool counters when this process consumes work.
func (s *Server) handleJobs(w http.ResponseWriter, r *http.Request) {
	resp := jobsResponse{Jobs: []scheduler.JobStatus{}}
	if s.deps.Jobs != nil {
		resp.Jobs = s.deps.Jobs.Status()
	}
	if s.deps.Pool != nil {
		stats := s.deps.Pool()
		resp.Pool = &stats
	}
	writeJSON(w, r, http.StatusOK, resp)
}

// handleRunJob fires a job immediately. The run happens in the background;
// its outcome shows up in GET /jobs.
func (s *Server) handleRunJob(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if s.deps.Jobs == nil {
		writeError(w, r, http.StatusServiceUnavailable, "no scheduler in this process")
		return
	}

	err := s.deps.Jobs.Trigger(name)
	switch {
	case err == nil:
		writeJSON(w, r, http.StatusAccepted, map[string]string{"job": name, "status": "triggered"})
	case errors.Is(err, scheduler.ErrUnknownJob):
		writeError(w, r, http.StatusNotFound, err.Error())
	case errors.Is(err, scheduler.ErrJobRunning):
		writeError(w, r, http.StatusConflict, err.Error())
	case errors.Is(err, scheduler.ErrNotRunning):
		writeError(w, r, http.StatusServiceUnavailable, err.Error())
	default:
		writeError(w, r, http.StatusInternalServerError, err.Error())
	}
}

// handleMetrics exposes counters in the Prometheus text format.
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)

	traceMetrics := s.tracer.GetMetrics()
	limitMetrics := s.limiter.GetMetrics()
	detection := s.detector.GetMetrics()

	metric(w, "http_requests_total", "counter", "Total number of HTTP requests", traceMetrics.TotalRequests)
	metric(w, "http_response_time_avg_microseconds", "gauge", "Average response time", traceMetrics.AverageResponseTime)
	metric(w, "rate_limit_denied_total", "counter", "Requests rejected by the trigger rate limit", limitMetrics.Denied)
	metric(w, "suspicious_requests_total", "counter", "Total suspicious requests detected", detection.SuspiciousRequests)

	if s.deps.Pool != nil {
		p := s.deps.Pool()
		fmt.Fprintf(w, "# HELP worker_deliveries_total Work item deliveries by outcome\n")
		fmt.Fprintf(w, "# TYPE worker_deliveries_total counter\n")
		fmt.Fprintf(w, "worker_deliveries_total{outcome=\"processed\"} %d\n", p.Processed)
		fmt.Fprintf(w, "worker_deliveries_total{outcome=\"retried\"} %d\n", p.Retried)
		fmt.Fprintf(w, "worker_deliveries_total{outcome=\"deferred\"} %d\n", p.Deferred)
		fmt.Fprintf(w, "worker_deliveries_total{outcome=\"rejected\"} %d\n", p.Rejected)
		fmt.Fprintf(w, "worker_deliveries_total{outcome=\"failed\"} %d\n\n", p.Failed)
	}

	if s.deps.Jobs != nil {
		fmt.Fprintf(w, "# HELP job_runs_total Completed runs per job\n")
		fmt.Fprintf(w, "# TYPE job_runs_total counter\n")
		for _, j := range s.deps.Jobs.Status() {
			fmt.Fprintf(w, "job_runs_total{job=%q} %d\n", j.Name, j.Runs)
		}
		fmt.Fprintln(w)
	}

	metric(w, "uptime_seconds", "gauge", "Application uptime in seconds", int64(time.Since(s.started).Seconds()))
}

func metric(w http.ResponseWriter, name, kind, help string, v int64) {
	fmt.Fprintf(w, "# HELP %s %s\n", name, help)
	fmt.Fprintf(w, "# TYPE %s %s\n", name, kind)
	fmt.Fprintf(w, "%s %d\n\n", name, v)
}
