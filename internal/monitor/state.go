// v1
// internal/monitor/state.go
package monitor

import (
	"sync"
	"time"

	"moldsense/internal/apperr"
)

// Defaults applied to a source the first time it is seen. Values match the
// embedded client's factory settings: a 5 degree spike threshold and a
// 30 minute persistence interval.
const (
	DefaultThresholdDegrees = 5.0
	DefaultPersistInterval  = 30 * time.Minute
)

// Reading is a single temperature/humidity observation. It is transient:
// readings update per-source state and may become a persisted log entry, but
// are never stored as-is.
type Reading struct {
	Temperature float64
	Humidity    float64
	ObservedAt  time.Time
}

// sourceState is the mutable per-source record. The embedded mutex serializes
// the full ingestion pipeline for one source, so two concurrent ingests for
// the same source can never observe the same stale baseline.
type sourceState struct {
	mu sync.Mutex

	lastTemperature *float64
	lastHumidity    *float64
	lastPersistedAt *time.Time

	thresholdDegrees float64
	persistInterval  time.Duration
}

// StateView is the read-only snapshot returned to callers. Derived fields are
// computed at snapshot time.
type StateView struct {
	SourceID         string     `json:"sourceId"`
	LastTemperature  *float64   `json:"lastTemperature"`
	LastHumidity     *float64   `json:"lastHumidity"`
	LastPersistedAt  *time.Time `json:"lastPersistedAt"`
	ThresholdDegrees float64    `json:"threshold"`
	SaveIntervalMs   int64      `json:"saveIntervalMs"`

	// LastPersistedAtFormatted is the RFC3339 rendering of LastPersistedAt,
	// empty when the source has never persisted.
	LastPersistedAtFormatted string `json:"lastSavedAtFormatted"`
	// NextPersistInSeconds is the remaining time before the interval rule
	// fires again; zero when never persisted or already due.
	NextPersistInSeconds float64 `json:"nextSaveInSeconds"`
}

// StateStore owns one sourceState per source identity. States are created
// lazily on first access and live for the process lifetime; reset clears
// observation fields but never removes the entry. It is safe for concurrent
// use by multiple goroutines.
type StateStore struct {
	mu     sync.RWMutex
	states map[string]*sourceState

	defaultThreshold float64
	defaultInterval  time.Duration
}

// NewStateStore builds an empty store using the package defaults for newly
// seen sources.
func NewStateStore() *StateStore {
	return NewStateStoreWithDefaults(DefaultThresholdDegrees, DefaultPersistInterval)
}

// NewStateStoreWithDefaults builds an empty store with deployment-specific
// defaults for newly seen sources. Non-positive values fall back to the
// package defaults.
func NewStateStoreWithDefaults(threshold float64, interval time.Duration) *StateStore {
	if threshold <= 0 {
		threshold = DefaultThresholdDegrees
	}
	if interval <= 0 {
		interval = DefaultPersistInterval
	}
	return &StateStore{
		states:           make(map[string]*sourceState),
		defaultThreshold: threshold,
		defaultInterval:  interval,
	}
}

// getOrCreate returns the state record for sourceID, initializing one with
// the default threshold and interval when the source has never been seen.
func (s *StateStore) getOrCreate(sourceID string) *sourceState {
	s.mu.RLock()
	st, ok := s.states[sourceID]
	s.mu.RUnlock()
	if ok {
		return st
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok = s.states[sourceID]; ok {
		return st
	}
	st = &sourceState{
		thresholdDegrees: s.defaultThreshold,
		persistInterval:  s.defaultInterval,
	}
	s.states[sourceID] = st
	return st
}

// SetThreshold updates the spike threshold for the source. Non-positive
// values are rejected with InvalidConfig and leave the prior value untouched.
func (s *StateStore) SetThreshold(sourceID string, degrees float64) error {
	if degrees <= 0 {
		return apperr.Newf(apperr.KindInvalidConfig, "threshold must be a positive number, got %v", degrees)
	}
	st := s.getOrCreate(sourceID)
	st.mu.Lock()
	st.thresholdDegrees = degrees
	st.mu.Unlock()
	return nil
}

// SetInterval updates the persistence interval for the source. The input unit
// is minutes; the value is stored as a duration. Non-positive values are
// rejected with InvalidConfig and leave the prior value untouched.
func (s *StateStore) SetInterval(sourceID string, minutes float64) error {
	if minutes <= 0 {
		return apperr.Newf(apperr.KindInvalidConfig, "saveIntervalMinutes must be a positive number, got %v", minutes)
	}
	st := s.getOrCreate(sourceID)
	st.mu.Lock()
	st.persistInterval = time.Duration(minutes * float64(time.Minute))
	st.mu.Unlock()
	return nil
}

// Reset clears the observation fields for the source so the next reading
// behaves like the first one ever seen. The configured threshold and interval
// are preserved.
func (s *StateStore) Reset(sourceID string) StateView {
	st := s.getOrCreate(sourceID)
	st.mu.Lock()
	st.lastTemperature = nil
	st.lastHumidity = nil
	st.lastPersistedAt = nil
	view := st.view(sourceID, time.Now().UTC())
	st.mu.Unlock()
	return view
}

// Snapshot returns the current view of the source, including derived fields.
func (s *StateStore) Snapshot(sourceID string) StateView {
	st := s.getOrCreate(sourceID)
	st.mu.Lock()
	view := st.view(sourceID, time.Now().UTC())
	st.mu.Unlock()
	return view
}

// view builds a StateView at the supplied instant. Callers must hold st.mu.
func (st *sourceState) view(sourceID string, now time.Time) StateView {
	v := StateView{
		SourceID:         sourceID,
		ThresholdDegrees: st.thresholdDegrees,
		SaveIntervalMs:   st.persistInterval.Milliseconds(),
	}
	if st.lastTemperature != nil {
		t := *st.lastTemperature
		v.LastTemperature = &t
	}
	if st.lastHumidity != nil {
		h := *st.lastHumidity
		v.LastHumidity = &h
	}
	if st.lastPersistedAt != nil {
		at := *st.lastPersistedAt
		v.LastPersistedAt = &at
		v.LastPersistedAtFormatted = at.UTC().Format(time.RFC3339)
		if remaining := st.persistInterval - now.Sub(at); remaining > 0 {
			v.NextPersistInSeconds = remaining.Seconds()
		}
	}
	return v
}

// observation captures the fields of a source state the classifier reads.
// Callers must hold the source mutex while building one.
func (st *sourceState) observation() Observation {
	return Observation{
		LastTemperature: st.lastTemperature,
		LastPersistedAt: st.lastPersistedAt,
		Threshold:       st.thresholdDegrees,
		Interval:        st.persistInterval,
	}
}
