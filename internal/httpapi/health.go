// v2
// internal/httpapi/health.go
package httpapi

import "sync/atomic"

// HealthState backs the /health/ready probe. Liveness holds whenever the
// process answers; readiness flips on only after the datastore and router
// are wired, and off again when shutdown begins so load balancers drain
// before the listener closes.
type HealthState struct {
	ready atomic.Bool
}

// NewHealthState starts not-ready; app.Run flips it once the listener is up.
func NewHealthState() *HealthState {
	return &HealthState{}
}

// SetReady records a lifecycle transition.
func (h *HealthState) SetReady(value bool) {
	h.ready.Store(value)
}

// Ready reports whether the service should receive traffic.
func (h *HealthState) Ready() bool {
	return h.ready.Load()
}
