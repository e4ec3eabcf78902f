// v2
// internal/stream/multicast.go

package stream

import (
	"context"

	"moldsense/internal/monitor"
)

// Multicast fans one broadcast out to several sinks. The reported delivery
// count is the first sink's, which by convention is the WebSocket hub; mirror
// sinks contribute durability, not subscriber counts.
type Multicast []monitor.Broadcaster

func (m Multicast) Broadcast(ctx context.Context, update monitor.LiveUpdate) int {
	primary := 0
	for i, sink := range m {
		n := sink.Broadcast(ctx, update)
		if i == 0 {
			primary = n
		}
	}
	return primary
}
