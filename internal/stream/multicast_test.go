// v2
// internal/stream/multicast_test.go

package stream

import (
	"context"
	"testing"

	"moldsense/internal/monitor"
)

type countingSink struct {
	n     int
	calls int
}

func (c *countingSink) Broadcast(context.Context, monitor.LiveUpdate) int {
	c.calls++
	return c.n
}

func TestMulticastReportsPrimaryCount(t *testing.T) {
	hub := &countingSink{n: 3}
	mirror := &countingSink{n: 1}
	m := Multicast{hub, mirror}

	got := m.Broadcast(context.Background(), monitor.LiveUpdate{Type: "TEMPERATURE_UPDATE"})
	if got != 3 {
		t.Fatalf("Broadcast = %d, want primary count 3", got)
	}
	if hub.calls != 1 || mirror.calls != 1 {
		t.Fatalf("calls hub=%d mirror=%d, want 1 each", hub.calls, mirror.calls)
	}
}

func TestMulticastEmpty(t *testing.T) {
	if got := (Multicast{}).Broadcast(context.Background(), monitor.LiveUpdate{}); got != 0 {
		t.Fatalf("empty multicast = %d, want 0", got)
	}
}
