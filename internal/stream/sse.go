package stream

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"github.com/noctonic/dirstream/internal/domain"
)

// Flusher is the subset of http.Flusher the SSE writer needs.
type Flusher interface {
	Flush()
}

// SSEWriter frames records as text/event-stream events. Each event carries
// the sequence number in the id field (so Last-Event-ID resumption works),
// the record kind as the event name, and a JSON payload in data.
type SSEWriter struct {
	w     io.Writer
	flush Flusher
}

// NewSSEWriter wraps an HTTP response writer and its flusher.
func NewSSEWriter(w io.Writer, flush Flusher) *SSEWriter {
	return &SSEWriter{w: w, flush: flush}
}

func (s *SSEWriter) WriteAck() error {
	// A comment frame: first bytes on the wire without consuming an event
	// name, which is all the liveness probe needs.
	if _, err := io.WriteString(s.w, ": ok\n\n"); err != nil {
		return err
	}
	s.flush.Flush()
	return nil
}

func (s *SSEWriter) WriteRecord(rec domain.Record) error {
	payload, err := marshalPayload(rec)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(s.w, "id: %s\nevent: %s\ndata: %s\n\n",
		strconv.FormatUint(rec.Seq, 10), rec.Kind, payload)
	if err != nil {
		return err
	}
	s.flush.Flush()
	return nil
}

func (s *SSEWriter) WriteHeartbeat() error {
	if _, err := io.WriteString(s.w, "event: heartbeat\ndata: {}\n\n"); err != nil {
		return err
	}
	s.flush.Flush()
	return nil
}

// ssePayload is the data field schema. Only the fields relevant to the
// record kind are populated.
type ssePayload struct {
	Path    string `json:"path,omitempty"`
	OldPath string `json:"old_path,omitempty"`
	From    uint64 `json:"from,omitempty"`
	To      uint64 `json:"to,omitempty"`
}

func marshalPayload(rec domain.Record) ([]byte, error) {
	var p ssePayload
	switch rec.Kind {
	case domain.KindGap:
		p.From = rec.GapFrom
		p.To = rec.GapTo
	case domain.KindRenamed:
		p.Path = rec.Path
		p.OldPath = rec.OldPath
	default:
		p.Path = rec.Path
	}
	return json.Marshal(p)
}
