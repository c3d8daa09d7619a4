// Package health serves the liveness and readiness probes of the Health
// Guide listener.
//
//   - GET /healthz always answers 200 and, when an [InfoFunc] is set,
//     includes a snapshot such as the current call phase.
//   - GET /readyz answers 200 only when every [Checker] passes. Checks run
//     concurrently, each under its own timeout.
//
// Both respond with {"status": "ok"|"fail", "checks": {...}, "info": {...}}.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"
)

// DefaultCheckTimeout bounds a single readiness check.
const DefaultCheckTimeout = 5 * time.Second

// Checker is a named readiness probe. Check returns nil when the dependency
// is usable and must honour ctx cancellation.
type Checker struct {
	Name  string
	Check func(ctx context.Context) error
}

// InfoFunc returns informational key/value pairs for /healthz.
type InfoFunc func() map[string]string

type result struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
	Info   map[string]string `json:"info,omitempty"`
}

// Option configures a [Handler].
type Option func(*Handler)

// WithTimeout overrides [DefaultCheckTimeout].
func WithTimeout(d time.Duration) Option {
	return func(h *Handler) {
		if d > 0 {
			h.timeout = d
		}
	}
}

// WithInfo attaches an [InfoFunc] to /healthz.
func WithInfo(f InfoFunc) Option {
	return func(h *Handler) { h.info = f }
}

// Handler serves the probe endpoints. The checker list is fixed at
// construction; it is safe for concurrent use.
type Handler struct {
	checkers []Checker
	timeout  time.Duration
	info     InfoFunc
}

// New creates a [Handler] evaluating checkers on each /readyz request.
func New(checkers []Checker, opts ...Option) *Handler {
	h := &Handler{
		checkers: append([]Checker(nil), checkers...),
		timeout:  DefaultCheckTimeout,
	}
	for _, o := range opts {
		o(h)
	}
	return h
}

// Healthz is the liveness probe.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	res := result{Status: "ok"}
	if h.info != nil {
		res.Info = h.info()
	}
	writeJSON(w, http.StatusOK, res)
}

// Readyz is the readiness probe.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	errs := make([]error, len(h.checkers))
	var wg sync.WaitGroup
	for i, c := range h.checkers {
		wg.Go(func() {
			ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
			defer cancel()
			errs[i] = c.Check(ctx)
		})
	}
	wg.Wait()

	res := result{Status: "ok", Checks: make(map[string]string, len(h.checkers))}
	status := http.StatusOK
	for i, c := range h.checkers {
		if errs[i] != nil {
			res.Checks[c.Name] = "fail: " + errs[i].Error()
			res.Status = "fail"
			status = http.StatusServiceUnavailable
			continue
		}
		res.Checks[c.Name] = "ok"
	}
	writeJSON(w, status, res)
}

// Register adds the /healthz and /readyz routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"status":"fail"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(append(body, '\n'))
}
