// v1
// internal/monitor/pipeline_test.go
package monitor

import (
	"context"
	"errors"
	"testing"
	"time"
)

type recordingSink struct {
	updates []LiveUpdate
	count   int
}

func (s *recordingSink) Broadcast(_ context.Context, u LiveUpdate) int {
	s.updates = append(s.updates, u)
	return s.count
}

type recordingWriter struct {
	entries []LogEntry
	err     error
}

func (w *recordingWriter) CreateLogEntry(_ context.Context, sourceID string, r Reading) (LogEntry, error) {
	if w.err != nil {
		return LogEntry{}, w.err
	}
	entry := LogEntry{
		ID:          "e1",
		SourceID:    sourceID,
		Temperature: r.Temperature,
		Humidity:    r.Humidity,
		Timestamp:   r.ObservedAt,
	}
	w.entries = append(w.entries, entry)
	return entry, nil
}

func newTestPipeline(sink *recordingSink, writer *recordingWriter) *Pipeline {
	return NewPipeline(NewStateStore(), sink, writer, nil)
}

func TestIngestBroadcastsEveryReading(t *testing.T) {
	sink := &recordingSink{count: 2}
	writer := &recordingWriter{}
	p := newTestPipeline(sink, writer)
	ctx := context.Background()

	temps := []float64{25, 25.1, 25.2}
	for _, temp := range temps {
		out, err := p.Ingest(ctx, "s", Reading{Temperature: temp, Humidity: 50})
		if err != nil {
			t.Fatalf("Ingest(%v): %v", temp, err)
		}
		if out.BroadcastCount != 2 {
			t.Fatalf("broadcasted = %d", out.BroadcastCount)
		}
	}
	if len(sink.updates) != len(temps) {
		t.Fatalf("broadcast %d updates, want %d", len(sink.updates), len(temps))
	}
	// Only the first reading was persisted, the rest were quiet.
	if len(writer.entries) != 1 {
		t.Fatalf("persisted %d entries, want 1", len(writer.entries))
	}
}

func TestIngestSpikePersistsImmediately(t *testing.T) {
	sink := &recordingSink{count: 1}
	writer := &recordingWriter{}
	p := newTestPipeline(sink, writer)
	ctx := context.Background()

	if _, err := p.Ingest(ctx, "s", Reading{Temperature: 25, Humidity: 50}); err != nil {
		t.Fatalf("first ingest: %v", err)
	}
	out, err := p.Ingest(ctx, "s", Reading{Temperature: 31, Humidity: 50})
	if err != nil {
		t.Fatalf("spike ingest: %v", err)
	}
	if !out.Persisted || out.PersistReason != ReasonSpike {
		t.Fatalf("spike outcome: %+v", out)
	}
	if out.Entry == nil || out.Entry.Temperature != 31 {
		t.Fatalf("spike entry missing: %+v", out.Entry)
	}
}

func TestIngestPersistenceFailureLeavesStateUntouched(t *testing.T) {
	sink := &recordingSink{count: 1}
	writer := &recordingWriter{err: errors.New("disk full")}
	p := newTestPipeline(sink, writer)
	ctx := context.Background()

	_, err := p.Ingest(ctx, "s", Reading{Temperature: 25, Humidity: 50})
	if err == nil {
		t.Fatalf("expected persistence error")
	}
	// Broadcast still happened before the failed write.
	if len(sink.updates) != 1 {
		t.Fatalf("broadcasts = %d, want 1", len(sink.updates))
	}

	state := p.States().Snapshot("s")
	if state.LastTemperature != nil || state.LastPersistedAt != nil {
		t.Fatalf("state updated after failed write: %+v", state)
	}

	// After the store recovers, the reading is still treated as the first.
	writer.err = nil
	out, err := p.Ingest(ctx, "s", Reading{Temperature: 25, Humidity: 50})
	if err != nil {
		t.Fatalf("recovered ingest: %v", err)
	}
	if !out.Persisted || out.PersistReason != ReasonInterval {
		t.Fatalf("recovered outcome: %+v", out)
	}
}

func TestIngestUpdatesStateView(t *testing.T) {
	sink := &recordingSink{count: 1}
	p := newTestPipeline(sink, &recordingWriter{})

	out, err := p.Ingest(context.Background(), "s", Reading{Temperature: 25.5, Humidity: 62})
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	st := out.State
	if st.LastTemperature == nil || *st.LastTemperature != 25.5 {
		t.Fatalf("lastTemperature = %v", st.LastTemperature)
	}
	if st.LastHumidity == nil || *st.LastHumidity != 62 {
		t.Fatalf("lastHumidity = %v", st.LastHumidity)
	}
	if st.LastPersistedAt == nil {
		t.Fatalf("lastPersistedAt not set after persisted reading")
	}
	if st.LastPersistedAtFormatted == "" {
		t.Fatalf("lastSavedAtFormatted empty")
	}
	if _, err := time.Parse(time.RFC3339, st.LastPersistedAtFormatted); err != nil {
		t.Fatalf("lastSavedAtFormatted not RFC3339: %v", err)
	}
	if st.NextPersistInSeconds <= 0 || st.NextPersistInSeconds > 30*60 {
		t.Fatalf("nextSaveInSeconds = %v", st.NextPersistInSeconds)
	}
}

func TestIngestSourcesAreIndependent(t *testing.T) {
	sink := &recordingSink{count: 1}
	writer := &recordingWriter{}
	p := newTestPipeline(sink, writer)
	ctx := context.Background()

	if _, err := p.Ingest(ctx, "a", Reading{Temperature: 20, Humidity: 50}); err != nil {
		t.Fatalf("ingest a: %v", err)
	}
	// A first reading for b is never a spike even though it is far from a's.
	out, err := p.Ingest(ctx, "b", Reading{Temperature: 40, Humidity: 50})
	if err != nil {
		t.Fatalf("ingest b: %v", err)
	}
	if out.PersistReason != ReasonInterval {
		t.Fatalf("cross-source baseline leak: %+v", out)
	}
}
