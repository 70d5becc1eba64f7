// Package health wires liveness and readiness checks via the teacher's
// troian/healthcheck handler (cmd/volantmq/main.go registers the same
// handler as an HTTP mux and exposes AddLivenessCheck/AddReadinessCheck),
// adapted here to a fixed pair of checks an outlet or resolver process
// cares about: its send buffer isn't stuck, and its TCP acceptors are
// still bound.
package health

import (
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/troian/healthcheck"
)

var (
	errNotListening = errors.New("health: acceptor is not listening")
	errPumpStalled  = errors.New("health: sample pump has stalled")
)

// Handler wraps a troian/healthcheck.Handler with named registration
// helpers for this system's two standing checks.
type Handler struct {
	mu sync.Mutex
	h  healthcheck.Handler
}

// New builds a Handler with no checks registered yet.
func New() *Handler {
	return &Handler{h: healthcheck.NewHandler()}
}

// ServeHTTP mounts /live and /ready per the underlying handler's routes.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.h.ServeHTTP(w, r)
}

// AddLivenessCheck registers a named liveness probe.
func (h *Handler) AddLivenessCheck(name string, check healthcheck.Check) {
	h.mu.Lock()
	defer h.mu.Unlock()
	_ = h.h.AddLivenessCheck(name, check)
}

// AddReadinessCheck registers a named readiness probe.
func (h *Handler) AddReadinessCheck(name string, check healthcheck.Check) {
	h.mu.Lock()
	defer h.mu.Unlock()
	_ = h.h.AddReadinessCheck(name, check)
}

// AcceptorBound returns a readiness check that fails once the given
// "still listening" predicate turns false, for a server's TCP acceptors.
func AcceptorBound(stillListening func() bool) healthcheck.Check {
	return func() error {
		if !stillListening() {
			return errNotListening
		}
		return nil
	}
}

// PumpNotStalled returns a liveness check that fails if no sample has
// been pumped in longer than maxSilence; zero lastPumpedAt (process just
// started) is treated as healthy.
func PumpNotStalled(maxSilence time.Duration, lastPumpedAt func() time.Time) healthcheck.Check {
	return func() error {
		t := lastPumpedAt()
		if t.IsZero() {
			return nil
		}
		if time.Since(t) > maxSilence {
			return errPumpStalled
		}
		return nil
	}
}

