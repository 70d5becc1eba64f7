// Package sendbuffer provides the concrete realization of the "send
// buffer" external collaborator named in the specification: a
// multi-producer/multi-consumer sample queue with push_sample, new_consumer
// and a blocking pop_sample, grounded on the teacher's buffer package's
// ring-discipline but adapted to a discrete-sample queue (one bounded Go
// channel per consumer) rather than a byte-level SPSC ring, since outlet
// samples are discrete values, not a byte stream.
package sendbuffer

import (
	"context"
	"sync"
)

// Sample is one timestamped, fixed-shape value vector pushed by an outlet.
// Pushthrough forces the session pump to flush its current chunk
// immediately rather than batching it.
type Sample struct {
	Values      []float64
	Strings     []string
	Timestamp   float64
	Pushthrough bool
}

// Buffer fans every pushed sample out to all currently registered
// consumers. It is safe for concurrent use by one producer and many
// consumers (NewConsumer/PopSample may be called from any goroutine).
type Buffer struct {
	mu        sync.RWMutex
	consumers map[*Consumer]struct{}
}

// New returns an empty send buffer.
func New() *Buffer {
	return &Buffer{consumers: make(map[*Consumer]struct{})}
}

// PushSample fans s out to every live consumer's queue. A consumer whose
// queue is full drops the oldest buffered sample to make room, so one slow
// inlet cannot block the outlet (backpressure is bounded, not blocking, at
// this layer; per-session backpressure happens at the TCP write instead).
func (b *Buffer) PushSample(s Sample) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for c := range b.consumers {
		c.push(s)
	}
}

// NewConsumer registers a new bounded consumer queue of depth n and returns
// it; the session pump reads from it via PopSample.
func (b *Buffer) NewConsumer(n int) *Consumer {
	if n <= 0 {
		n = 1
	}
	c := &Consumer{ch: make(chan Sample, n), wake: make(chan struct{}, 1)}
	b.mu.Lock()
	b.consumers[c] = struct{}{}
	b.mu.Unlock()
	return c
}

// Remove unregisters a consumer, e.g. when its owning session terminates.
func (b *Buffer) Remove(c *Consumer) {
	b.mu.Lock()
	delete(b.consumers, c)
	b.mu.Unlock()
}

// WakeAll pushes a nil wakeup ping to every consumer so a session pump
// blocked in PopSample advances and can observe that its server reference
// expired (spec 4.6 shutdown sequence).
func (b *Buffer) WakeAll() {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for c := range b.consumers {
		select {
		case c.wake <- struct{}{}:
		default:
		}
	}
}

// Consumer is a per-session queue of samples pending delivery.
type Consumer struct {
	ch   chan Sample
	wake chan struct{}
}

func (c *Consumer) push(s Sample) {
	for {
		select {
		case c.ch <- s:
			return
		default:
		}
		// queue full: drop the oldest to make room for the newest sample.
		select {
		case <-c.ch:
		default:
			return
		}
	}
}

// PopSample blocks until a sample or wakeup ping is available or ctx is
// done. A returned (Sample{}, true, nil) is a wakeup ping and should be
// ignored by the caller other than re-checking liveness, matching the
// spec's "nil sample is a wakeup ping" rule.
func (c *Consumer) PopSample(ctx context.Context) (Sample, bool, error) {
	select {
	case s := <-c.ch:
		return s, false, nil
	case <-c.wake:
		return Sample{}, true, nil
	case <-ctx.Done():
		return Sample{}, false, ctx.Err()
	}
}
