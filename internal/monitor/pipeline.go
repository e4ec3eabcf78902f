// v2
// internal/monitor/pipeline.go
package monitor

import (
	"context"
	"io"
	"log/slog"
	"time"

	"moldsense/internal/apperr"
	"moldsense/internal/metrics"
)

// LiveUpdate is the self-describing payload pushed to live subscribers on
// every ingested reading, independent of the persistence decision.
type LiveUpdate struct {
	Type     string `json:"type"`
	SourceID string `json:"sourceId"`
	Data     any    `json:"data"`
}

// UpdateTypeReading labels live updates carrying a fresh reading.
const UpdateTypeReading = "TEMPERATURE_UPDATE"

// readingPayload is the Data carried by an UpdateTypeReading live update.
type readingPayload struct {
	Temperature float64 `json:"temperature"`
	Humidity    float64 `json:"humidity"`
	Timestamp   string  `json:"timestamp"`
}

// Broadcaster is the live notification sink injected into the pipeline. The
// transport (WebSocket hub, Kafka stream, a combination) is a strategy;
// implementations deliver at most once per subscriber, isolate per-subscriber
// failures, and report how many subscribers the update reached.
type Broadcaster interface {
	Broadcast(ctx context.Context, update LiveUpdate) int
}

// LogEntry is the persisted form of a reading, as reported back to callers.
type LogEntry struct {
	ID          string    `json:"id"`
	SourceID    string    `json:"sourceId"`
	Temperature float64   `json:"temperature"`
	Humidity    float64   `json:"humidity"`
	Timestamp   time.Time `json:"timestamp"`
}

// EntryWriter is the persistence collaborator consumed by the pipeline.
type EntryWriter interface {
	CreateLogEntry(ctx context.Context, sourceID string, r Reading) (LogEntry, error)
}

// Outcome is the structured result of one ingested reading.
type Outcome struct {
	BroadcastCount int       `json:"broadcasted"`
	Persisted      bool      `json:"logSaved"`
	PersistReason  Reason    `json:"saveReason"`
	Entry          *LogEntry `json:"log,omitempty"`
	State          StateView `json:"currentState"`
}

// Pipeline orchestrates ingestion: broadcast first, then classify, then
// conditionally persist, then update per-source observation state. The whole
// sequence runs under the per-source mutex so concurrent ingests for one
// source serialize instead of racing on the spike baseline.
type Pipeline struct {
	states *StateStore
	sink   Broadcaster
	writer EntryWriter
	log    *slog.Logger
}

// NewPipeline wires an ingestion pipeline. The sink and writer must not be
// nil; a nil logger discards output.
func NewPipeline(states *StateStore, sink Broadcaster, writer EntryWriter, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Pipeline{
		states: states,
		sink:   sink,
		writer: writer,
		log:    logger.With(slog.String("component", "ingest_pipeline")),
	}
}

// States exposes the underlying store for the config and query surfaces.
func (p *Pipeline) States() *StateStore {
	return p.states
}

// Ingest processes one reading for the source. Broadcast is unconditional
// and happens before the persistence decision, so live viewers see the
// reading even when the later write fails. A failed write surfaces as a
// persistence error and leaves the observation fields untouched, keeping
// "last observed" consistent with "last successfully recorded".
func (p *Pipeline) Ingest(ctx context.Context, sourceID string, r Reading) (Outcome, error) {
	start := time.Now()
	if r.ObservedAt.IsZero() {
		r.ObservedAt = start.UTC()
	}

	st := p.states.getOrCreate(sourceID)
	st.mu.Lock()
	defer st.mu.Unlock()

	delivered := p.sink.Broadcast(ctx, LiveUpdate{
		Type:     UpdateTypeReading,
		SourceID: sourceID,
		Data: readingPayload{
			Temperature: r.Temperature,
			Humidity:    r.Humidity,
			Timestamp:   r.ObservedAt.UTC().Format(time.RFC3339),
		},
	})

	now := time.Now().UTC()
	decision := Classify(st.observation(), r, now)

	var entry *LogEntry
	if decision.Persist {
		created, err := p.writer.CreateLogEntry(ctx, sourceID, r)
		if err != nil {
			metrics.IncPersistenceError()
			p.log.Error("log_write_failed",
				slog.String("source", sourceID),
				slog.String("reason", string(decision.Reason)),
				slog.Any("err", err),
			)
			return Outcome{}, apperr.Wrap(err, apperr.KindPersistence, "failed to persist reading")
		}
		entry = &created
		persistedAt := time.Now().UTC()
		st.lastPersistedAt = &persistedAt

		if decision.Reason == ReasonSpike && st.lastTemperature != nil {
			p.log.Info("temperature_spike",
				slog.String("source", sourceID),
				slog.Float64("from", *st.lastTemperature),
				slog.Float64("to", r.Temperature),
				slog.Float64("threshold", st.thresholdDegrees),
			)
		}
	}

	temp, hum := r.Temperature, r.Humidity
	st.lastTemperature = &temp
	st.lastHumidity = &hum

	metrics.ObserveIngest(string(decision.Reason), time.Since(start))
	return Outcome{
		BroadcastCount: delivered,
		Persisted:      decision.Persist,
		PersistReason:  decision.Reason,
		Entry:          entry,
		State:          st.view(sourceID, time.Now().UTC()),
	}, nil
}
