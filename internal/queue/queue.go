// Package queue provides the bounded FIFO connecting the broker callback to
// the worker.
//
// The producer side runs on the MQTT client's delivery goroutine and must
// never stall message reception, so Offer is strictly non-blocking: when the
// queue is full the envelope is dropped and counted. Dropped means lost —
// there is no retry or secondary buffer.
package queue

import (
	"context"
	"sync/atomic"

	"github.com/proyecto-redes/puente/internal/message"
)

// Queue is a fixed-capacity FIFO of envelopes.
type Queue struct {
	ch      chan *message.Envelope
	dropped atomic.Uint64
}

// New creates a queue with the given capacity.
func New(capacity int) *Queue {
	return &Queue{ch: make(chan *message.Envelope, capacity)}
}

// Offer enqueues the envelope without blocking. It returns false and
// increments the drop counter when the queue is full.
func (q *Queue) Offer(env *message.Envelope) bool {
	select {
	case q.ch <- env:
		return true
	default:
		q.dropped.Add(1)
		return false
	}
}

// Take blocks until an envelope is available or ctx is cancelled. The
// second return value is false on cancellation, signalling the consumer
// to exit.
func (q *Queue) Take(ctx context.Context) (*message.Envelope, bool) {
	select {
	case env := <-q.ch:
		return env, true
	case <-ctx.Done():
		return nil, false
	}
}

// Dropped returns the number of envelopes rejected by Offer.
func (q *Queue) Dropped() uint64 { return q.dropped.Load() }

// Len returns the number of envelopes currently queued.
func (q *Queue) Len() int { return len(q.ch) }
