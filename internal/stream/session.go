package stream

import (
	"context"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/noctonic/dirstream/internal/domain"
	"github.com/noctonic/dirstream/internal/hub"
	"github.com/noctonic/dirstream/internal/metrics"
)

// RecordWriter is the transport side of a session. Implementations write
// frames to one client connection and are not safe for concurrent use; the
// session is the only writer.
type RecordWriter interface {
	// WriteAck sends the connection-open acknowledgment. It must flush, so
	// a liveness probe succeeds without waiting for a filesystem event.
	WriteAck() error
	WriteRecord(rec domain.Record) error
	WriteHeartbeat() error
}

// Session drains one subscriber's queue onto one connection.
type Session struct {
	hub       *hub.Hub
	sub       *hub.Subscriber
	writer    RecordWriter
	clock     clockwork.Clock
	heartbeat time.Duration
	transport string
}

// New registers a subscriber with the hub and wraps it in a session.
// lastSeq and pathFilter follow hub.Register semantics.
func New(h *hub.Hub, writer RecordWriter, clock clockwork.Clock, heartbeat time.Duration, transport string, lastSeq uint64, pathFilter string) (*Session, error) {
	sub, err := h.Register(lastSeq, pathFilter)
	if err != nil {
		return nil, err
	}
	return &Session{
		hub:       h,
		sub:       sub,
		writer:    writer,
		clock:     clock,
		heartbeat: heartbeat,
		transport: transport,
	}, nil
}

// Run blocks until the client disconnects, a write fails, or the hub closes
// the subscriber. Every exit path unregisters from the hub; this is the only
// way a subscriber's lifetime ends.
func (s *Session) Run(ctx context.Context) error {
	defer s.hub.Unregister(s.sub.ID)

	start := s.clock.Now()
	metrics.StreamConnectionsTotal.WithLabelValues(s.transport).Inc()
	metrics.StreamConnectionsCurrent.WithLabelValues(s.transport).Inc()
	defer func() {
		metrics.StreamConnectionsCurrent.WithLabelValues(s.transport).Dec()
		metrics.StreamConnectionDuration.Observe(s.clock.Since(start).Seconds())
		slog.Debug("Stream session ended",
			"transport", s.transport,
			"subscriber_id", s.sub.ID.String(),
			"last_delivered", s.sub.LastDelivered(),
			"duration", s.clock.Since(start),
		)
	}()

	if err := s.writer.WriteAck(); err != nil {
		return err
	}

	ticker := s.clock.NewTicker(s.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.Chan():
			if err := s.writer.WriteHeartbeat(); err != nil {
				return err
			}
			metrics.StreamHeartbeatsTotal.Inc()
		case <-s.sub.Ready():
			if err := s.drain(); err != nil {
				return err
			}
			if s.sub.Done() {
				return nil
			}
			// Records count as liveness; push the next heartbeat out.
			ticker.Reset(s.heartbeat)
		}
	}
}

func (s *Session) drain() error {
	for {
		rec, ok := s.sub.TryNext()
		if !ok {
			return nil
		}
		if err := s.writer.WriteRecord(rec); err != nil {
			return err
		}
		s.sub.MarkDelivered(rec.Seq)
		metrics.StreamRecordsWrittenTotal.WithLabelValues(s.transport).Inc()
	}
}
