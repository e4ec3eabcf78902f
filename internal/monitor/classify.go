// v0
// internal/monitor/classify.go
package monitor

import (
	"math"
	"time"
)

// Reason explains why a reading was, or was not, persisted.
type Reason string

const (
	// ReasonSpike marks a reading whose deviation from the previous one met
	// or exceeded the configured threshold.
	ReasonSpike Reason = "spike_detected"
	// ReasonInterval marks a reading persisted because the configured
	// interval elapsed since the last write, or because nothing was ever
	// written for the source.
	ReasonInterval Reason = "interval_elapsed"
	// ReasonNone marks a reading that was broadcast but not persisted.
	ReasonNone Reason = "none"
)

// Observation is the subset of per-source state the classifier needs.
type Observation struct {
	LastTemperature *float64
	LastPersistedAt *time.Time
	Threshold       float64
	Interval        time.Duration
}

// Decision is the classifier verdict for one reading.
type Decision struct {
	Persist bool
	Reason  Reason
}

// Classify decides whether a reading must be persisted. The spike rule is
// evaluated first and wins when both rules would fire. The first reading for
// a source has no baseline, so it can never be a spike, but an absent
// last-persisted timestamp makes it always eligible for the interval rule.
func Classify(obs Observation, r Reading, now time.Time) Decision {
	if obs.LastTemperature != nil && math.Abs(r.Temperature-*obs.LastTemperature) >= obs.Threshold {
		return Decision{Persist: true, Reason: ReasonSpike}
	}
	if obs.LastPersistedAt == nil || now.Sub(*obs.LastPersistedAt) >= obs.Interval {
		return Decision{Persist: true, Reason: ReasonInterval}
	}
	return Decision{Persist: false, Reason: ReasonNone}
}
