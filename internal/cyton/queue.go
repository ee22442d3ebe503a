package cyton

import (
	"sync/atomic"
	"time"

	"github.com/banshee-data/cyton.report/internal/monitoring"
)

// DefaultDrainTimeout is how long readings left in the queue after the loop
// stops wait for a receiver before they are dropped.
const DefaultDrainTimeout = time.Second

// readingQueue hands readings from the acquisition loop to the consumer
// without ever blocking the loop on a slow consumer. With capacity 0 the
// queue is unbounded; otherwise readings arriving at a full queue are
// dropped and counted.
type readingQueue struct {
	in           chan Reading
	out          chan Reading
	capacity     int
	drainTimeout time.Duration
	dropped      *atomic.Uint64
}

func newReadingQueue(capacity int, drainTimeout time.Duration, dropped *atomic.Uint64) *readingQueue {
	if drainTimeout <= 0 {
		drainTimeout = DefaultDrainTimeout
	}
	q := &readingQueue{
		in:           make(chan Reading),
		out:          make(chan Reading),
		capacity:     capacity,
		drainTimeout: drainTimeout,
		dropped:      dropped,
	}
	go q.run()
	return q
}

// push enqueues r. It returns once the queue goroutine has taken r.
func (q *readingQueue) push(r Reading) {
	q.in <- r
}

// close stops accepting readings. Pending readings are still delivered and
// the output channel is closed after the last one, or once no receiver has
// taken a reading for drainTimeout.
func (q *readingQueue) close() {
	close(q.in)
}

func (q *readingQueue) run() {
	defer close(q.out)

	var (
		pending []Reading
		in      = q.in
		idle    *time.Timer
		expired <-chan time.Time
	)
	defer func() {
		if idle != nil {
			idle.Stop()
		}
	}()

	for in != nil || len(pending) > 0 {
		var out chan Reading
		var next Reading
		if len(pending) > 0 {
			out = q.out
			next = pending[0]
		}

		select {
		case r, ok := <-in:
			if !ok {
				in = nil
				idle = time.NewTimer(q.drainTimeout)
				expired = idle.C
				continue
			}
			if q.capacity > 0 && len(pending) >= q.capacity {
				q.dropped.Add(1)
				continue
			}
			pending = append(pending, r)
		case out <- next:
			pending = pending[1:]
			if len(pending) == 0 {
				pending = nil
			}
			if idle != nil {
				idle.Reset(q.drainTimeout)
			}
		case <-expired:
			q.dropped.Add(uint64(len(pending)))
			monitoring.Logf("no receiver for %d pending readings after %s, dropping them", len(pending), q.drainTimeout)
			return
		}
	}
}
