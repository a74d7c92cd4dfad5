package hub

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/noctonic/dirstream/internal/domain"
	"github.com/noctonic/dirstream/internal/metrics"
)

const (
	commandTimeout = 5 * time.Second
	stopTimeout    = 10 * time.Second
	cmdBuffer      = 256
)

// --- Command types ---

type hubCmd interface{ hubCmd() }

type cmdRegister struct {
	lastSeq    uint64
	pathFilter string
	replyCh    chan *Subscriber
}

func (cmdRegister) hubCmd() {}

type cmdUnregister struct {
	id uuid.UUID
}

func (cmdUnregister) hubCmd() {}

type cmdPublish struct {
	change domain.Change
}

func (cmdPublish) hubCmd() {}

type cmdSubscriberCount struct {
	replyCh chan int
}

func (cmdSubscriberCount) hubCmd() {}

type cmdCurrentSeq struct {
	replyCh chan uint64
}

func (cmdCurrentSeq) hubCmd() {}

type cmdStop struct{}

func (cmdStop) hubCmd() {}

// --- Subscriber ---

// Subscriber is the hub-side registration for one stream session. The
// session owns it exclusively: it reads the queue and eventually calls
// Hub.Unregister with its ID. The hub only keeps enough to route into it.
type Subscriber struct {
	ID             uuid.UUID
	ConnectedSince time.Time

	queue         *queue
	pathFilter    string
	lastDelivered atomic.Uint64
}

// Ready is signaled whenever records become available or the queue closes.
func (s *Subscriber) Ready() <-chan struct{} { return s.queue.ready }

// TryNext pops the next record without blocking.
func (s *Subscriber) TryNext() (domain.Record, bool) { return s.queue.pop() }

// Done reports whether the subscriber is closed and fully drained.
func (s *Subscriber) Done() bool { return s.queue.drained() }

// Closed reports whether the hub has closed this subscriber's queue.
func (s *Subscriber) Closed() bool { return s.queue.isClosed() }

// MarkDelivered records the highest sequence number written to the client.
func (s *Subscriber) MarkDelivered(seq uint64) { s.lastDelivered.Store(seq) }

// LastDelivered returns the highest sequence number written to the client.
func (s *Subscriber) LastDelivered() uint64 { return s.lastDelivered.Load() }

// wants reports whether a change record passes the subscriber's path filter.
// Synthetic kinds (gap, closing) are always delivered.
func (s *Subscriber) wants(rec domain.Record) bool {
	if s.pathFilter == "" {
		return true
	}
	switch rec.Kind {
	case domain.KindGap, domain.KindClosing:
		return true
	case domain.KindRenamed:
		return underFilter(rec.Path, s.pathFilter) ||
			underFilter(rec.OldPath, s.pathFilter)
	default:
		return underFilter(rec.Path, s.pathFilter)
	}
}

// underFilter reports whether path is the filtered path itself or lives
// below it. A filter may name a single file, not just a directory.
func underFilter(path, filter string) bool {
	return path == filter ||
		strings.HasPrefix(path, filter+string(filepath.Separator))
}

// --- Hub ---

// Hub is the single authority for subscriber registration and event
// ordering. One goroutine owns all state; the exported methods are the only
// mutation surface.
type Hub struct {
	cmdCh    chan hubCmd
	clock    clockwork.Clock
	queueCap int

	subscribers map[uuid.UUID]*Subscriber
	seq         uint64 // last assigned sequence number

	done chan struct{}
}

// New creates a hub with the given per-subscriber queue capacity and starts
// its actor goroutine.
func New(queueCap int, clock clockwork.Clock) *Hub {
	h := &Hub{
		cmdCh:       make(chan hubCmd, cmdBuffer),
		clock:       clock,
		queueCap:    queueCap,
		subscribers: make(map[uuid.UUID]*Subscriber),
		done:        make(chan struct{}),
	}
	go h.run()
	return h
}

func (h *Hub) run() {
	defer close(h.done)

	for cmd := range h.cmdCh {
		switch c := cmd.(type) {
		case cmdRegister:
			c.replyCh <- h.handleRegister(c)
		case cmdUnregister:
			h.handleUnregister(c.id)
		case cmdPublish:
			h.handlePublish(c.change)
		case cmdSubscriberCount:
			c.replyCh <- len(h.subscribers)
		case cmdCurrentSeq:
			c.replyCh <- h.seq
		case cmdStop:
			h.handleStop()
			return
		}
	}
}

func (h *Hub) handleRegister(c cmdRegister) *Subscriber {
	sub := &Subscriber{
		ID:             uuid.New(),
		ConnectedSince: h.clock.Now(),
		queue:          newQueue(h.queueCap, h.clock),
		pathFilter:     strings.TrimSuffix(c.pathFilter, string(filepath.Separator)),
	}

	// Resumption: the hub keeps no history, so everything between the
	// presented sequence and the current counter becomes one gap marker.
	if c.lastSeq > 0 && c.lastSeq < h.seq {
		sub.queue.setGap(c.lastSeq+1, h.seq)
	}

	h.subscribers[sub.ID] = sub
	metrics.HubSubscribers.Set(float64(len(h.subscribers)))
	slog.Debug("Subscriber registered",
		"subscriber_id", sub.ID.String(),
		"last_seq", c.lastSeq,
		"path_filter", c.pathFilter,
		"total_subscribers", len(h.subscribers),
	)
	return sub
}

func (h *Hub) handleUnregister(id uuid.UUID) {
	sub, exists := h.subscribers[id]
	if !exists {
		return
	}

	// Close before removal so no publish can target a removed subscriber
	// with an open queue.
	sub.queue.close()
	delete(h.subscribers, id)
	metrics.HubSubscribers.Set(float64(len(h.subscribers)))
	slog.Debug("Subscriber unregistered",
		"subscriber_id", id.String(),
		"last_delivered", sub.LastDelivered(),
		"remaining_subscribers", len(h.subscribers),
	)
}

func (h *Hub) handlePublish(change domain.Change) {
	h.seq++
	rec := domain.Record{
		Seq:     h.seq,
		Kind:    change.Kind,
		Path:    change.Path,
		OldPath: change.OldPath,
		Time:    change.Time,
	}
	metrics.HubPublishedTotal.Inc()

	for _, sub := range h.subscribers {
		if sub.wants(rec) {
			sub.queue.push(rec)
		}
	}
}

func (h *Hub) handleStop() {
	// Terminal notice: one final closing record, in sequence, to every
	// subscriber, then close all queues so sessions drain and exit.
	h.seq++
	closing := domain.Record{
		Seq:  h.seq,
		Kind: domain.KindClosing,
		Time: h.clock.Now(),
	}
	for id, sub := range h.subscribers {
		sub.queue.push(closing)
		sub.queue.close()
		delete(h.subscribers, id)
	}
	metrics.HubSubscribers.Set(0)
	slog.Info("Hub stopped", "last_seq", h.seq)
}

// --- Public API ---

// Register creates a new subscriber. lastSeq is the sequence number the
// client last saw (0 for a fresh client); if records have been published
// since, the subscriber starts with a gap marker covering the missed range.
// pathFilter, when non-empty, restricts delivery to records for that exact
// path or anything below it.
func (h *Hub) Register(lastSeq uint64, pathFilter string) (*Subscriber, error) {
	replyCh := make(chan *Subscriber, 1)
	select {
	case h.cmdCh <- cmdRegister{lastSeq: lastSeq, pathFilter: pathFilter, replyCh: replyCh}:
	case <-h.done:
		return nil, fmt.Errorf("hub stopped")
	}

	timer := h.clock.NewTimer(commandTimeout)
	defer timer.Stop()

	select {
	case sub := <-replyCh:
		return sub, nil
	case <-timer.Chan():
		return nil, fmt.Errorf("register timed out after %v", commandTimeout)
	}
}

// Unregister removes a subscriber and closes its queue. Idempotent; safe to
// call concurrently with in-flight publishes.
func (h *Hub) Unregister(id uuid.UUID) {
	select {
	case h.cmdCh <- cmdUnregister{id: id}:
	case <-h.done:
	}
}

// Publish assigns the next sequence number to the change and enqueues the
// resulting record onto every registered subscriber's queue. Fire-and-forget
// from the caller's perspective: the actor does no blocking work.
func (h *Hub) Publish(change domain.Change) {
	select {
	case h.cmdCh <- cmdPublish{change: change}:
	case <-h.done:
	}
}

// SubscriberCount returns the number of registered subscribers, or -1 if
// the hub did not respond within the command timeout.
func (h *Hub) SubscriberCount() int {
	replyCh := make(chan int, 1)
	select {
	case h.cmdCh <- cmdSubscriberCount{replyCh: replyCh}:
	case <-h.done:
		return 0
	}

	timer := h.clock.NewTimer(commandTimeout)
	defer timer.Stop()

	select {
	case count := <-replyCh:
		return count
	case <-timer.Chan():
		slog.Warn("SubscriberCount timed out", "timeout", commandTimeout)
		return -1
	}
}

// CurrentSeq returns the last assigned sequence number.
func (h *Hub) CurrentSeq() uint64 {
	replyCh := make(chan uint64, 1)
	select {
	case h.cmdCh <- cmdCurrentSeq{replyCh: replyCh}:
	case <-h.done:
		return 0
	}
	select {
	case seq := <-replyCh:
		return seq
	case <-h.done:
		return 0
	}
}

// Stop publishes a final closing record to all subscribers, closes their
// queues, and shuts down the actor. Blocks until the goroutine has exited
// or the stop timeout is reached.
func (h *Hub) Stop() {
	select {
	case h.cmdCh <- cmdStop{}:
	case <-h.done:
		return
	}

	timer := h.clock.NewTimer(stopTimeout)
	defer timer.Stop()

	select {
	case <-h.done:
	case <-timer.Chan():
		slog.Warn("Hub stop timeout exceeded", "timeout", stopTimeout)
	}
}
