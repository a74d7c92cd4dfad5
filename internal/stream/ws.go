package stream

import (
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/noctonic/dirstream/internal/domain"
)

const wsWriteDeadline = 5 * time.Second

// WSWriter frames records as JSON text messages over a WebSocket. The ack
// is a small JSON object, records are serialized whole, and heartbeats use
// ping control frames so idle intermediaries keep the connection open.
type WSWriter struct {
	conn  *websocket.Conn
	clock clockwork.Clock
}

// NewWSWriter wraps an upgraded WebSocket connection.
func NewWSWriter(conn *websocket.Conn, clock clockwork.Clock) *WSWriter {
	return &WSWriter{conn: conn, clock: clock}
}

func (w *WSWriter) WriteAck() error {
	return w.writeJSON(map[string]string{"kind": "ack"})
}

func (w *WSWriter) WriteRecord(rec domain.Record) error {
	return w.writeJSON(rec)
}

func (w *WSWriter) WriteHeartbeat() error {
	w.setDeadline()
	return w.conn.WriteMessage(websocket.PingMessage, nil)
}

func (w *WSWriter) writeJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	w.setDeadline()
	return w.conn.WriteMessage(websocket.TextMessage, data)
}

func (w *WSWriter) setDeadline() {
	_ = w.conn.SetWriteDeadline(w.clock.Now().Add(wsWriteDeadline))
}
