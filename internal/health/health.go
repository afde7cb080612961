// Package health answers Kubernetes-style probes for the Hearthline server.
//
//   - GET /healthz — liveness; a process that can still serve HTTP is alive.
//   - GET /readyz  — readiness; 200 only when every registered [Checker]
//     passes. The server registers checks for the live provider wiring, the
//     lead sink, and the leads database (see checkers.go).
//
// Responses are JSON: a top-level "status" of "ok" or "fail", and a "checks"
// map with each named checker's outcome.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"
)

// checkTimeout bounds one readiness check.
const checkTimeout = 5 * time.Second

// Checker probes one dependency.
type Checker struct {
	// Name keys the check in the JSON response, e.g. "leads_db".
	Name string

	// Check returns nil when the dependency is usable. It must respect
	// context cancellation: a database ping belongs here, a full query
	// does not.
	Check func(ctx context.Context) error
}

// result is the JSON response body for both probe endpoints.
type result struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Handler serves the probe endpoints. The checker list is fixed at
// construction; Handler itself is stateless and safe for concurrent use.
type Handler struct {
	checkers []Checker
}

// New creates a [Handler] over the given checkers.
func New(checkers ...Checker) *Handler {
	c := make([]Checker, len(checkers))
	copy(c, checkers)
	return &Handler{checkers: c}
}

// Healthz is the liveness probe. It always answers 200.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, result{Status: "ok"})
}

// Readyz runs every checker and reports per-check outcomes. Checks run
// concurrently, each under its own [checkTimeout] derived from the request
// context; the slowest dependency bounds the whole response, not the sum.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	outcomes := make([]error, len(h.checkers))

	var wg sync.WaitGroup
	for i, c := range h.checkers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
			defer cancel()
			outcomes[i] = c.Check(ctx)
		}()
	}
	wg.Wait()

	res := result{
		Status: "ok",
		Checks: make(map[string]string, len(h.checkers)),
	}
	status := http.StatusOK
	for i, c := range h.checkers {
		if err := outcomes[i]; err != nil {
			res.Checks[c.Name] = "fail: " + err.Error()
			res.Status = "fail"
			status = http.StatusServiceUnavailable
		} else {
			res.Checks[c.Name] = "ok"
		}
	}

	writeJSON(w, status, res)
}

// Register adds the /healthz and /readyz routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
}

// writeJSON encodes v with the given status code. The status line is already
// out by the time encoding can fail, so a failure can only truncate the body.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
