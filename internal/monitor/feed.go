// v1
// internal/monitor/feed.go
package monitor

import (
	"context"
	"math"
	"math/rand"
	"time"
)

// BatchItem is the per-reading result of a batch replay. Exactly one of
// Outcome and Err is set.
type BatchItem struct {
	Index   int      `json:"index"`
	Reading Reading  `json:"-"`
	Outcome *Outcome `json:"outcome,omitempty"`
	Err     error    `json:"-"`
}

// RunBatch replays readings through the pipeline in order, pausing pace
// between items to emulate a real-time stream. A failed item is captured in
// its slot and the replay continues; callers inspect per-item errors. Output
// order always matches input order. The context cancels the remaining items.
func (p *Pipeline) RunBatch(ctx context.Context, sourceID string, readings []Reading, pace time.Duration) []BatchItem {
	items := make([]BatchItem, 0, len(readings))
	for i, r := range readings {
		if i > 0 && pace > 0 {
			select {
			case <-ctx.Done():
				items = append(items, BatchItem{Index: i, Reading: r, Err: ctx.Err()})
				continue
			case <-time.After(pace):
			}
		}
		out, err := p.Ingest(ctx, sourceID, r)
		item := BatchItem{Index: i, Reading: r}
		if err != nil {
			item.Err = err
		} else {
			item.Outcome = &out
		}
		items = append(items, item)
	}
	return items
}

// SimulationSpec describes a synthetic feed: count readings jittered around
// the baselines, optionally with one forced spike at the midpoint.
type SimulationSpec struct {
	Count           int
	BaseTemperature float64
	BaseHumidity    float64
	IncludeSpike    bool
}

// SimulationItem reports one synthetic reading and its ingestion result.
type SimulationItem struct {
	Index       int      `json:"index"`
	Temperature float64  `json:"temperature"`
	Humidity    float64  `json:"humidity"`
	Outcome     *Outcome `json:"outcome,omitempty"`
	Error       string   `json:"error,omitempty"`
}

// SimulationSummary aggregates a simulation run.
type SimulationSummary struct {
	TotalProcessed int `json:"totalProcessed"`
	TotalSaved     int `json:"totalSaved"`
	SpikeDetected  int `json:"spikeDetected"`
}

// Simulate generates spec.Count readings with ±1°C and ±2% jitter around the
// baselines, rounded to one decimal. When IncludeSpike is set, the reading at
// index count/2 is forced to +10°C and +15% so it lands above any sane
// threshold. Each reading runs through the pipeline with pace between items.
func (p *Pipeline) Simulate(ctx context.Context, sourceID string, spec SimulationSpec, pace time.Duration) ([]SimulationItem, SimulationSummary) {
	items := make([]SimulationItem, 0, spec.Count)
	summary := SimulationSummary{}

	for i := 0; i < spec.Count; i++ {
		if i > 0 && pace > 0 {
			select {
			case <-ctx.Done():
				items = append(items, SimulationItem{Index: i, Error: ctx.Err().Error()})
				continue
			case <-time.After(pace):
			}
		}

		temp := spec.BaseTemperature + (rand.Float64()*2 - 1)
		hum := spec.BaseHumidity + (rand.Float64()*4 - 2)
		if spec.IncludeSpike && i == spec.Count/2 {
			temp = spec.BaseTemperature + 10
			hum = spec.BaseHumidity + 15
		}
		temp = roundTenth(temp)
		hum = roundTenth(hum)

		item := SimulationItem{Index: i, Temperature: temp, Humidity: hum}
		out, err := p.Ingest(ctx, sourceID, Reading{Temperature: temp, Humidity: hum})
		if err != nil {
			item.Error = err.Error()
		} else {
			item.Outcome = &out
			if out.Persisted {
				summary.TotalSaved++
				if out.PersistReason == ReasonSpike {
					summary.SpikeDetected++
				}
			}
		}
		summary.TotalProcessed++
		items = append(items, item)
	}

	return items, summary
}

func roundTenth(v float64) float64 {
	return math.Round(v*10) / 10
}
