package middleware

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
)

const checkTimeout = 2 * time.Second

// HealthChecker reports whether one dependency is usable.
type HealthChecker interface {
	Check(ctx context.Context) error
}

// CheckerFunc adapts a function to HealthChecker.
type CheckerFunc func(ctx context.Context) error

func (f CheckerFunc) Check(ctx context.Context) error { return f(ctx) }

// Pinger is anything that can report reachability, such as a run ledger.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingChecker checks a Pinger.
type PingChecker struct {
	Target Pinger
}

func (p *PingChecker) Check(ctx context.Context) error {
	return p.Target.Ping(ctx)
}

// DirChecker reports whether Path is an existing, readable directory.
type DirChecker struct {
	Path string
}

func (d *DirChecker) Check(context.Context) error {
	info, err := os.Stat(d.Path)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", d.Path)
	}
	f, err := os.Open(d.Path)
	if err != nil {
		return err
	}
	return f.Close()
}

// CommandChecker reports whether the fitting worker command resolves on PATH.
type CommandChecker struct {
	Command string
}

func (c *CommandChecker) Check(context.Context) error {
	_, err := exec.LookPath(c.Command)
	return err
}

type HealthStatus struct {
	Status    string                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Checks    map[string]CheckStatus `json:"checks"`
}

type CheckStatus struct {
	Status    string `json:"status"`
	Message   string `json:"message,omitempty"`
	ElapsedMS int64  `json:"elapsed_ms"`
}

// HealthHandler runs every checker concurrently, each under its own
// timeout, and answers 503 when any of them fails.
func HealthHandler(checkers map[string]HealthChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		health := HealthStatus{
			Status:    "healthy",
			Timestamp: time.Now().UTC(),
			Checks:    make(map[string]CheckStatus, len(checkers)),
		}

		var mu sync.Mutex
		g, ctx := errgroup.WithContext(r.Context())
		for name, checker := range checkers {
			g.Go(func() error {
				cctx, cancel := context.WithTimeout(ctx, checkTimeout)
				defer cancel()
				start := time.Now()
				err := checker.Check(cctx)
				st := CheckStatus{Status: "healthy", ElapsedMS: time.Since(start).Milliseconds()}
				if err != nil {
					st.Status, st.Message = "unhealthy", err.Error()
				}
				mu.Lock()
				health.Checks[name] = st
				if err != nil {
					health.Status = "unhealthy"
				}
				mu.Unlock()
				// a failed check must not cancel its siblings
				return nil
			})
		}
		_ = g.Wait()

		statusCode := http.StatusOK
		if health.Status == "unhealthy" {
			statusCode = http.StatusServiceUnavailable
		}
		writeJSON(w, statusCode, health)
	}
}

// Readiness flips to not-ready once shutdown starts so load balancers stop
// sending new fits while running ones finish.
type Readiness struct {
	draining atomic.Bool
}

func (rd *Readiness) Drain() { rd.draining.Store(true) }

func (rd *Readiness) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	if rd.draining.Load() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "draining", "timestamp": time.Now().UTC()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ready", "timestamp": time.Now().UTC()})
}

// LivenessHandler answers as long as the process serves HTTP.
func LivenessHandler(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
