package bridge

import "sync/atomic"

// stats counts pipeline outcomes. All failures in this system are
// observable only through logs and these counters; there is no interactive
// failure surface.
type stats struct {
	received        atomic.Uint64
	decodeErrors    atomic.Uint64
	forwarded       atomic.Uint64
	forwardFailures atomic.Uint64
}

// StatsSnapshot is a point-in-time view of the bridge counters, served by
// the status endpoint.
type StatsSnapshot struct {
	Received        uint64 `json:"received"`
	DecodeErrors    uint64 `json:"decode_errors"`
	Dropped         uint64 `json:"dropped"`
	Forwarded       uint64 `json:"forwarded"`
	ForwardFailures uint64 `json:"forward_failures"`
	QueueLen        int    `json:"queue_len"`
}

// Stats returns the current counter values.
func (b *Bridge) Stats() StatsSnapshot {
	return StatsSnapshot{
		Received:        b.stats.received.Load(),
		DecodeErrors:    b.stats.decodeErrors.Load(),
		Dropped:         b.queue.Dropped(),
		Forwarded:       b.stats.forwarded.Load(),
		ForwardFailures: b.stats.forwardFailures.Load(),
		QueueLen:        b.queue.Len(),
	}
}
