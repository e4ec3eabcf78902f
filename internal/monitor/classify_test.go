// v1
// internal/monitor/classify_test.go
package monitor

import (
	"testing"
	"time"
)

func floatPtr(v float64) *float64    { return &v }
func timePtr(t time.Time) *time.Time { return &t }

func TestClassifyFirstReadingIsInterval(t *testing.T) {
	obs := Observation{Threshold: 5, Interval: 30 * time.Minute}
	d := Classify(obs, Reading{Temperature: 25}, time.Now())
	if !d.Persist || d.Reason != ReasonInterval {
		t.Fatalf("first reading: %+v", d)
	}
}

func TestClassifySpikeExactlyAtThreshold(t *testing.T) {
	now := time.Now()
	obs := Observation{
		LastTemperature: floatPtr(25),
		LastPersistedAt: timePtr(now.Add(-time.Minute)),
		Threshold:       5,
		Interval:        30 * time.Minute,
	}

	d := Classify(obs, Reading{Temperature: 30}, now)
	if !d.Persist || d.Reason != ReasonSpike {
		t.Fatalf("delta == threshold should spike: %+v", d)
	}

	d = Classify(obs, Reading{Temperature: 20}, now)
	if !d.Persist || d.Reason != ReasonSpike {
		t.Fatalf("negative delta should spike: %+v", d)
	}

	d = Classify(obs, Reading{Temperature: 29.9}, now)
	if d.Persist {
		t.Fatalf("delta below threshold persisted: %+v", d)
	}
}

func TestClassifySpikeWinsOverInterval(t *testing.T) {
	now := time.Now()
	obs := Observation{
		LastTemperature: floatPtr(25),
		LastPersistedAt: timePtr(now.Add(-2 * time.Hour)),
		Threshold:       5,
		Interval:        30 * time.Minute,
	}
	d := Classify(obs, Reading{Temperature: 35}, now)
	if d.Reason != ReasonSpike {
		t.Fatalf("both rules due, reason = %q, want spike", d.Reason)
	}
}

func TestClassifyIntervalElapsed(t *testing.T) {
	now := time.Now()
	obs := Observation{
		LastTemperature: floatPtr(25),
		LastPersistedAt: timePtr(now.Add(-31 * time.Minute)),
		Threshold:       5,
		Interval:        30 * time.Minute,
	}
	d := Classify(obs, Reading{Temperature: 25.5}, now)
	if !d.Persist || d.Reason != ReasonInterval {
		t.Fatalf("elapsed interval: %+v", d)
	}
}

func TestClassifyWithinIntervalNoSpike(t *testing.T) {
	now := time.Now()
	obs := Observation{
		LastTemperature: floatPtr(25),
		LastPersistedAt: timePtr(now.Add(-time.Minute)),
		Threshold:       5,
		Interval:        30 * time.Minute,
	}
	d := Classify(obs, Reading{Temperature: 26}, now)
	if d.Persist || d.Reason != ReasonNone {
		t.Fatalf("quiet reading persisted: %+v", d)
	}
}

// The canonical sequence: 28 (first, interval), 28.5 (quiet), 40 (spike),
// 40.2 (quiet).
func TestClassifySequence(t *testing.T) {
	now := time.Now()
	obs := Observation{Threshold: 5, Interval: 30 * time.Minute}
	temps := []float64{28, 28.5, 40, 40.2}
	want := []Reason{ReasonInterval, ReasonNone, ReasonSpike, ReasonNone}

	for i, temp := range temps {
		d := Classify(obs, Reading{Temperature: temp}, now)
		if d.Reason != want[i] {
			t.Fatalf("reading %d (%v): reason = %q, want %q", i, temp, d.Reason, want[i])
		}
		obs.LastTemperature = floatPtr(temp)
		if d.Persist {
			obs.LastPersistedAt = timePtr(now)
		}
	}
}
