// Package ratelimit is a keyed fixed-window limiter. The worker pool keys it
// by user id to throttle processing; the admin server keys it by client IP.
package ratelimit

import (
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"
)

// Limiter admits at most Limit events per key in each Window.
type Limiter struct {
	mu           sync.Mutex
	windows      map[string]*window
	stopCleanup  chan struct{}
	shutdownOnce sync.Once
	denied       atomic.Int64
	now          func() time.Time

	// Configuration
	limit           int
	period          time.Duration
	cleanupInterval time.Duration
}

type window struct {
	start time.Time
	count int
}

// Config holds rate limiter configuration
type Config struct {
	Limit           int
	Window          time.Duration
	CleanupInterval time.Duration
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		Limit:           10,
		Window:          time.Minute,
		CleanupInterval: 5 * time.Minute,
	}
}

// NewLimiter creates a new rate limiter and starts its cleanup loop.
func NewLimiter(config Config) *Limiter {
	def := DefaultConfig()
	if config.Limit <= 0 {
		config.Limit = def.Limit
	}
	if config.Window <= 0 {
		config.Window = def.Window
	}
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = def.CleanupInterval
	}

	rl := &Limiter{
		windows:         make(map[string]*window),
		stopCleanup:     make(chan struct{}),
		now:             time.Now,
		limit:           config.Limit,
		period:          config.Window,
		cleanupInterval: config.CleanupInterval,
	}
	go rl.startCleanup()
	return rl
}

// Reserve consumes one slot for key and returns 0, or, when the current
// window is full, returns how long until it reopens without consuming.
func (rl *Limiter) Reserve(key string) time.Duration {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	w, exists := rl.windows[key]
	if !exists || now.Sub(w.start) >= rl.period {
		rl.windows[key] = &window{start: now, count: 1}
		return 0
	}

	if w.count < rl.limit {
		w.count++
		return 0
	}

	rl.denied.Add(1)
	return w.start.Add(rl.period).Sub(now)
}

// Allow reports whether an event for key fits in the current window.
func (rl *Limiter) Allow(key string) bool {
	return rl.Reserve(key) == 0
}

// startCleanup runs periodic cleanup to remove expired windows
func (rl *Limiter) startCleanup() {
	ticker := time.NewTicker(rl.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.cleanupStaleEntries()
		case <-rl.stopCleanup:
			return
		}
	}
}

func (rl *Limiter) cleanupStaleEntries() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	for key, w := range rl.windows {
		if now.Sub(w.start) >= rl.period {
			delete(rl.windows, key)
		}
	}
}

// ActiveKeys returns the number of currently tracked keys
func (rl *Limiter) ActiveKeys() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.windows)
}

// Stop gracefully shuts down the rate limiter cleanup goroutine
func (rl *Limiter) Stop() {
	rl.shutdownOnce.Do(func() {
		close(rl.stopCleanup)
	})
}

// Metrics for monitoring rate limit pressure
type Metrics struct {
	Denied     int64 `json:"denied"`
	ActiveKeys int64 `json:"activeKeys"`
}

func (rl *Limiter) GetMetrics() Metrics {
	return Metrics{
		Denied:     rl.denied.Load(),
		ActiveKeys: int64(rl.ActiveKeys()),
	}
}

// Middleware creates HTTP middleware for rate limiting
func (rl *Limiter) Middleware(extractKey func(*http.Request) string, onLimit func(http.ResponseWriter, *http.Request)) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			wait := rl.Reserve(extractKey(r))
			if wait > 0 {
				if onLimit != nil {
					onLimit(w, r)
				} else {
					w.Header().Set("Retry-After", strconv.Itoa(int(wait.Round(time.Second)/time.Second)+1))
					http.Error(w, "Rate limit exceeded. Please try again later.", http.StatusTooManyRequests)
				}
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
