package backpressure

import (
	"sync"
	"time"
)

// Batcher coalesces items up to MaxBatchSize or MaxBatchInterval,
// whichever comes first, then calls Flush with the accumulated items.
// Same size/timeout trigger pair as the batchSize/batchTimeout fields in
// internal/shared/kafka/consumer.go, generalized from Kafka records to
// arbitrary publish items.
type Batcher struct {
	maxSize  int
	interval time.Duration
	flush    func(items []any)

	mu      sync.Mutex
	items   []any
	timer   *time.Timer
	closed  bool
}

// NewBatcher constructs a Batcher. maxSize <= 1 disables batching:
// every Add flushes immediately.
func NewBatcher(maxSize int, interval time.Duration, flush func(items []any)) *Batcher {
	if interval <= 0 {
		interval = 10 * time.Millisecond
	}
	return &Batcher{maxSize: maxSize, interval: interval, flush: flush}
}

// Add appends item to the pending batch, flushing synchronously if the
// batch has reached maxSize.
func (b *Batcher) Add(item any) {
	if b.maxSize <= 1 {
		b.flush([]any{item})
		return
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		b.flush([]any{item})
		return
	}

	b.items = append(b.items, item)
	if b.timer == nil {
		b.timer = time.AfterFunc(b.interval, b.flushOnTimer)
	}
	var toFlush []any
	if len(b.items) >= b.maxSize {
		toFlush = b.takeLocked()
	}
	b.mu.Unlock()

	if toFlush != nil {
		b.flush(toFlush)
	}
}

func (b *Batcher) flushOnTimer() {
	b.mu.Lock()
	items := b.takeLocked()
	b.mu.Unlock()
	if items != nil {
		b.flush(items)
	}
}

// takeLocked stops the pending timer and detaches the buffered items.
// Must be called with mu held.
func (b *Batcher) takeLocked() []any {
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	if len(b.items) == 0 {
		return nil
	}
	items := b.items
	b.items = nil
	return items
}

// Close flushes any pending items and stops accepting new batching.
func (b *Batcher) Close() {
	b.mu.Lock()
	b.closed = true
	items := b.takeLocked()
	b.mu.Unlock()
	if items != nil {
		b.flush(items)
	}
}
