// Package health probes the bot's hard dependencies.
//
// A [Handler] runs named [Checker] probes (Postgres, the Redis broker, the
// embedding backend) and exposes the results on /healthz and /readyz for the
// orchestrator, and through [Handler.Check] for the /status admin command.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

// checkTimeout bounds a single probe.
const checkTimeout = 5 * time.Second

// Checker is one named dependency probe. Check returns nil when the
// dependency is usable.
type Checker struct {
	// Name keys the probe in JSON responses and /status output.
	Name string

	// Check must respect ctx cancellation.
	Check func(ctx context.Context) error
}

// report is the wire shape of /healthz and /readyz responses.
type report struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Handler serves liveness and readiness. The checker list is fixed at
// construction, so the zero-coordination struct is concurrency safe.
type Handler struct {
	checkers []Checker
}

// New creates a Handler evaluating checkers in order on every /readyz hit.
func New(checkers ...Checker) *Handler {
	c := make([]Checker, len(checkers))
	copy(c, checkers)
	return &Handler{checkers: c}
}

// Check runs every probe under its own timeout and returns the per-name
// outcome, nil for healthy.
func (h *Handler) Check(ctx context.Context) map[string]error {
	out := make(map[string]error, len(h.checkers))
	for _, c := range h.checkers {
		cctx, cancel := context.WithTimeout(ctx, checkTimeout)
		out[c.Name] = c.Check(cctx)
		cancel()
	}
	return out
}

// Healthz reports liveness: a process answering HTTP is alive.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	respond(w, http.StatusOK, report{Status: "ok"})
}

// Readyz reports readiness: 200 only when every probe passes, 503 with the
// failing probes named otherwise.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	rep := report{Status: "ok", Checks: make(map[string]string, len(h.checkers))}
	status := http.StatusOK

	for name, err := range h.Check(r.Context()) {
		if err != nil {
			rep.Checks[name] = "fail: " + err.Error()
			rep.Status = "fail"
			status = http.StatusServiceUnavailable
		} else {
			rep.Checks[name] = "ok"
		}
	}
	respond(w, status, rep)
}

// Register mounts both probes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
}

func respond(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"status":"error"}`, http.StatusInternalServerError)
	}
}
