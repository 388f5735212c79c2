package dispatch

import (
	"sync"
	"sync/atomic"

	kit "hooklog/internal/transport"
)

// DropCounter counts records rejected since the last drain.
type DropCounter struct {
	n atomic.Int64
}

func (c *DropCounter) Increment() { c.n.Add(1) }

// TakeAndReset returns the current count and zeroes it in one atomic step,
// so increments racing with the drain are carried into the next cycle.
func (c *DropCounter) TakeAndReset() int64 { return c.n.Swap(0) }

func (c *DropCounter) Load() int64 { return c.n.Load() }

// intake is the bounded producer-side queue.
//
// The channel is never closed: producers hold the read lock while offering,
// and close only flips a flag under the write lock, so the consumer can keep
// draining after intake stops.
type intake struct {
	mu     sync.RWMutex
	closed bool
	ch     chan kit.Record
	drops  *DropCounter
}

func newIntake(capacity int, drops *DropCounter) *intake {
	return &intake{ch: make(chan kit.Record, capacity), drops: drops}
}

// offer never blocks.
func (q *intake) offer(r kit.Record) bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		q.drops.Increment()
		return false
	}
	select {
	case q.ch <- r:
		return true
	default:
		q.drops.Increment()
		return false
	}
}

func (q *intake) close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
}

func (q *intake) isClosed() bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.closed
}

// drain appends everything currently queued to buf without waiting for new
// arrivals.
func (q *intake) drain(buf []kit.Record) []kit.Record {
	for {
		select {
		case r := <-q.ch:
			buf = append(buf, r)
		default:
			return buf
		}
	}
}

func (q *intake) len() int { return len(q.ch) }
