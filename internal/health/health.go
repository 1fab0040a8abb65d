// Package health reports the state of a running henkan conversion server:
// whether its socket is listening, its history store answers and its
// dictionary is loaded.
package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
)

// Status is the health of one component or of the whole server.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
	StatusUnknown   Status = "unknown"
)

// DefaultTimeout bounds a single check.
const DefaultTimeout = 2 * time.Second

// Result is the outcome of a check.
type Result struct {
	Status      Status         `json:"status"`
	Message     string         `json:"message,omitempty"`
	Details     map[string]any `json:"details,omitempty"`
	Error       string         `json:"error,omitempty"`
	LastChecked time.Time      `json:"last_checked"`
	Duration    time.Duration  `json:"duration_ns"`
}

// Check performs one health check.
type Check func(ctx context.Context) Result

type component struct {
	name     string
	critical bool
	check    Check
	timeout  time.Duration
}

// Checker runs registered checks and serves them over HTTP.
type Checker struct {
	mu         sync.RWMutex
	components map[string]*component
	results    map[string]Result
	ready      bool
	started    time.Time
	now        func() time.Time
}

// NewChecker creates an empty checker. The server is not ready until
// SetReady(true) is called.
func NewChecker() *Checker {
	return &Checker{
		components: make(map[string]*component),
		results:    make(map[string]Result),
		started:    time.Now(),
		now:        time.Now,
	}
}

// Register adds a check. A failing critical check makes the server unhealthy;
// a failing non-critical one only degrades it.
func (c *Checker) Register(name string, critical bool, check Check) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.components[name] = &component{name: name, critical: critical, check: check, timeout: DefaultTimeout}
	c.results[name] = Result{Status: StatusUnknown}
}

// SetReady marks the server ready to accept sessions.
func (c *Checker) SetReady(ready bool) {
	c.mu.Lock()
	c.ready = ready
	c.mu.Unlock()
}

// IsReady reports readiness.
func (c *Checker) IsReady() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.ready
}

// Run executes every check concurrently and returns the results.
func (c *Checker) Run(ctx context.Context) map[string]Result {
	c.mu.RLock()
	comps := make([]*component, 0, len(c.components))
	for _, comp := range c.components {
		comps = append(comps, comp)
	}
	c.mu.RUnlock()

	out := make(map[string]Result, len(comps))
	var mu sync.Mutex
	var wg sync.WaitGroup
	for _, comp := range comps {
		wg.Add(1)
		go func(comp *component) {
			defer wg.Done()
			res := c.runOne(ctx, comp)
			mu.Lock()
			out[comp.name] = res
			mu.Unlock()
		}(comp)
	}
	wg.Wait()

	c.mu.Lock()
	for name, res := range out {
		c.results[name] = res
	}
	c.mu.Unlock()
	return out
}

func (c *Checker) runOne(ctx context.Context, comp *component) Result {
	ctx, cancel := context.WithTimeout(ctx, comp.timeout)
	defer cancel()

	start := c.now()
	done := make(chan Result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- Result{Status: StatusUnhealthy, Message: "check panicked", Error: fmt.Sprint(r)}
			}
		}()
		done <- comp.check(ctx)
	}()

	var res Result
	select {
	case res = <-done:
	case <-ctx.Done():
		res = Result{Status: StatusUnhealthy, Message: "check timed out", Error: ctx.Err().Error()}
	}
	res.LastChecked = start
	res.Duration = c.now().Sub(start)
	return res
}

// Overall aggregates the last results.
func (c *Checker) Overall() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()

	status := StatusHealthy
	for name, res := range c.results {
		comp := c.components[name]
		switch res.Status {
		case StatusUnhealthy:
			if comp.critical {
				return StatusUnhealthy
			}
			status = StatusDegraded
		case StatusDegraded:
			status = StatusDegraded
		case StatusUnknown:
			if comp.critical && status == StatusHealthy {
				status = StatusUnknown
			}
		}
	}
	return status
}

// Response is the body of the health endpoint.
type Response struct {
	Status     Status            `json:"status"`
	Ready      bool              `json:"ready"`
	Uptime     string            `json:"uptime"`
	Components map[string]Result `json:"components,omitempty"`
	Extra      map[string]any    `json:"extra,omitempty"`
	Timestamp  time.Time         `json:"timestamp"`
}

// Report runs the checks and builds a response.
func (c *Checker) Report(ctx context.Context) Response {
	components := c.Run(ctx)
	return Response{
		Status:     c.Overall(),
		Ready:      c.IsReady(),
		Uptime:     c.now().Sub(c.started).Round(time.Second).String(),
		Components: components,
		Timestamp:  c.now(),
	}
}

// Names lists the registered checks in order.
func (c *Checker) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.components))
	for name := range c.components {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Routes mounts /healthz, /livez and /readyz. extra, when set, is merged
// into the /healthz body.
func (c *Checker) Routes(r chi.Router, extra func() map[string]any) {
	r.Get("/livez", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "alive", "timestamp": c.now()})
	})

	r.Get("/readyz", func(w http.ResponseWriter, req *http.Request) {
		if !c.IsReady() {
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "not ready"})
			return
		}
		c.Run(req.Context())
		status := c.Overall()
		code := http.StatusOK
		if status == StatusUnhealthy {
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, code, map[string]any{"status": status, "ready": true})
	})

	r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		resp := c.Report(req.Context())
		if extra != nil {
			resp.Extra = extra()
		}
		code := http.StatusOK
		if resp.Status == StatusUnhealthy || resp.Status == StatusUnknown {
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, code, resp)
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// PingCheck reports a dependency reachable through ping, such as the
// history database.
func PingCheck(ping func(ctx context.Context) error) Check {
	return func(ctx context.Context) Result {
		if err := ping(ctx); err != nil {
			return Result{Status: StatusUnhealthy, Message: "ping failed", Error: err.Error()}
		}
		return Result{Status: StatusHealthy}
	}
}

// SocketCheck reports whether the IPC socket file exists.
func SocketCheck(path string) Check {
	return func(context.Context) Result {
		info, err := os.Stat(path)
		if err != nil {
			return Result{Status: StatusUnhealthy, Message: "socket missing", Error: err.Error()}
		}
		if info.Mode()&os.ModeSocket == 0 {
			return Result{Status: StatusUnhealthy, Message: "not a socket", Details: map[string]any{"path": path}}
		}
		return Result{Status: StatusHealthy, Details: map[string]any{"path": path}}
	}
}

// CountCheck degrades when count returns fewer than min items. It is used
// for the dictionary size.
func CountCheck(count func() int, min int) Check {
	return func(context.Context) Result {
		n := count()
		res := Result{Status: StatusHealthy, Details: map[string]any{"count": n}}
		if n < min {
			res.Status = StatusDegraded
			res.Message = fmt.Sprintf("only %d entries", n)
		}
		return res
	}
}
