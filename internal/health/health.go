// Package health serves tourbot's liveness and readiness endpoints.
//
// /healthz answers 200 while the process is up and reports live counters
// (such as active playback sessions). /readyz runs every [Checker] and
// answers 503 when one of them fails. A check may instead report
// [Degraded]: the bot can still play, for example with one search backend
// tripped, so /readyz stays 200 with status "degraded".
package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// checkTimeout bounds a single readiness check.
const checkTimeout = 5 * time.Second

// Response statuses.
const (
	StatusOK       = "ok"
	StatusDegraded = "degraded"
	StatusFail     = "fail"
)

// Checker is a named readiness check. Check returns nil when healthy, an
// error wrapped with [Degraded] when playback still works with reduced
// capacity, and any other error when the bot cannot serve.
type Checker struct {
	Name  string
	Check func(ctx context.Context) error
}

// degradedError marks a check failure that does not make the bot unready.
type degradedError struct{ err error }

func (e *degradedError) Error() string { return e.err.Error() }
func (e *degradedError) Unwrap() error { return e.err }

// Degraded wraps err so that /readyz reports it without failing.
func Degraded(err error) error {
	if err == nil {
		return nil
	}
	return &degradedError{err: err}
}

// IsDegraded reports whether err was wrapped with [Degraded].
func IsDegraded(err error) bool {
	var d *degradedError
	return errors.As(err, &d)
}

type response struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
	Info   map[string]any    `json:"info,omitempty"`
}

// Handler serves /healthz and /readyz.
type Handler struct {
	checkers []Checker
	info     func() map[string]any
}

// Option configures a [Handler].
type Option func(*Handler)

// WithInfo adds the map returned by fn to every /healthz response.
func WithInfo(fn func() map[string]any) Option {
	return func(h *Handler) { h.info = fn }
}

// New creates a [Handler] that evaluates checkers on each /readyz request.
func New(checkers []Checker, opts ...Option) *Handler {
	h := &Handler{checkers: append([]Checker(nil), checkers...)}
	for _, o := range opts {
		o(h)
	}
	return h
}

// Healthz always answers 200.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	res := response{Status: StatusOK}
	if h.info != nil {
		res.Info = h.info()
	}
	writeJSON(w, http.StatusOK, res)
}

// Readyz runs the checkers concurrently, each bounded by [checkTimeout] and
// the request context. Every result is reported; one failing check does not
// cancel the others.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	var (
		mu     sync.Mutex
		checks = make(map[string]string, len(h.checkers))
		status = StatusOK
	)

	var g errgroup.Group
	for _, c := range h.checkers {
		g.Go(func() error {
			ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
			defer cancel()
			err := c.Check(ctx)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				checks[c.Name] = StatusOK
			case IsDegraded(err):
				checks[c.Name] = StatusDegraded + ": " + err.Error()
				if status == StatusOK {
					status = StatusDegraded
				}
			default:
				checks[c.Name] = StatusFail + ": " + err.Error()
				status = StatusFail
			}
			return nil
		})
	}
	_ = g.Wait()

	code := http.StatusOK
	if status == StatusFail {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, response{Status: status, Checks: checks})
}

// Register adds /healthz and /readyz to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
