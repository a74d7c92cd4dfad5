package hub

import (
	"sync"

	"github.com/jonboulle/clockwork"
	"github.com/noctonic/dirstream/internal/domain"
	"github.com/noctonic/dirstream/internal/metrics"
)

// queue is a bounded ring buffer of records with drop-oldest overflow.
//
// Dropped records are not simply discarded: their sequence numbers accumulate
// into a single pending gap range that pop emits before the surviving
// records. The gap therefore always precedes, in sequence order, everything
// still buffered, which preserves per-subscriber ordering while bounding
// memory to capacity+1 logical entries.
//
// The hub actor is the only pusher and the owning session is the only
// popper, so a plain mutex is enough.
type queue struct {
	mu       sync.Mutex
	buf      []domain.Record
	head     int
	count    int
	capacity int

	// Pending gap range, inclusive. gapTo == 0 means no gap pending.
	gapFrom uint64
	gapTo   uint64

	closed bool
	ready  chan struct{}
	clock  clockwork.Clock
}

func newQueue(capacity int, clock clockwork.Clock) *queue {
	return &queue{
		buf:      make([]domain.Record, capacity),
		capacity: capacity,
		ready:    make(chan struct{}, 1),
		clock:    clock,
	}
}

// push appends a record, evicting the oldest into the pending gap if the
// buffer is full. Push to a closed queue is a silent no-op.
func (q *queue) push(rec domain.Record) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}

	if q.count == q.capacity {
		evicted := q.buf[q.head]
		q.head = (q.head + 1) % q.capacity
		q.count--

		if q.gapTo == 0 {
			q.gapFrom = evicted.Seq
		}
		q.gapTo = evicted.Seq
		metrics.HubDroppedTotal.Inc()
	}

	q.buf[(q.head+q.count)%q.capacity] = rec
	q.count++
	q.mu.Unlock()

	q.signal()
}

// setGap installs a pending gap covering [from, to], used for resumption.
func (q *queue) setGap(from, to uint64) {
	q.mu.Lock()
	if !q.closed {
		q.gapFrom = from
		q.gapTo = to
	}
	q.mu.Unlock()

	q.signal()
}

// pop returns the next record in sequence order. A pending gap is emitted
// first, as a synthetic gap record, since it covers sequences older than
// anything still buffered.
func (q *queue) pop() (domain.Record, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.gapTo != 0 {
		rec := domain.GapRecord(q.gapFrom, q.gapTo, q.clock.Now())
		q.gapFrom, q.gapTo = 0, 0
		metrics.HubGapMarkersTotal.Inc()
		return rec, true
	}

	if q.count == 0 {
		return domain.Record{}, false
	}

	rec := q.buf[q.head]
	q.buf[q.head] = domain.Record{}
	q.head = (q.head + 1) % q.capacity
	q.count--
	return rec, true
}

// close marks the queue closed and wakes the reader so it can drain and exit.
// Buffered records remain poppable after close.
func (q *queue) close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()

	q.signal()
}

// drained reports whether the queue is closed and fully consumed.
func (q *queue) drained() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed && q.count == 0 && q.gapTo == 0
}

func (q *queue) isClosed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

func (q *queue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := q.count
	if q.gapTo != 0 {
		n++
	}
	return n
}

func (q *queue) signal() {
	select {
	case q.ready <- struct{}{}:
	default:
	}
}
