package server

import (
	"context"
	"log/slog"
	"net/http"
	"path/filepath"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/noctonic/dirstream/internal/metrics"
	"github.com/noctonic/dirstream/internal/stream"
)

const wsPongDeadline = 60 * time.Second

func (s *Server) handleSSE(c echo.Context) error {
	ip := c.RealIP()
	ok, reason := s.limits.Acquire(ip)
	if !ok {
		metrics.StreamRejectionsTotal.WithLabelValues(string(reason)).Inc()
		return c.JSON(http.StatusServiceUnavailable, map[string]string{
			"error":  "connection limit reached",
			"reason": string(reason),
		})
	}
	defer s.limits.Release(ip)

	res := c.Response()
	writer := stream.NewSSEWriter(res, res)

	// Register before committing the response; a failed registration (hub
	// stopped mid-shutdown) must still surface as an error status.
	session, err := stream.New(
		s.hub, writer, s.clock, s.config.HeartbeatInterval,
		"sse", s.lastEventID(c), s.pathFilter(c),
	)
	if err != nil {
		return err
	}

	res.Header().Set(echo.HeaderContentType, "text/event-stream")
	res.Header().Set("Cache-Control", "no-cache")
	res.Header().Set("Connection", "keep-alive")
	res.Header().Set("X-Accel-Buffering", "no")
	res.WriteHeader(http.StatusOK)

	// Connection errors end this session only; nothing to surface.
	if err := session.Run(c.Request().Context()); err != nil {
		slog.DebugContext(c.Request().Context(), "SSE session closed", "error", err)
	}
	return nil
}

func (s *Server) handleWS(c echo.Context) error {
	ip := c.RealIP()
	ok, reason := s.limits.Acquire(ip)
	if !ok {
		metrics.StreamRejectionsTotal.WithLabelValues(string(reason)).Inc()
		return c.JSON(http.StatusServiceUnavailable, map[string]string{
			"error":  "connection limit reached",
			"reason": string(reason),
		})
	}
	defer s.limits.Release(ip)

	conn, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}
	defer func() { _ = conn.Close() }()

	// Read pump: the session only writes, so a reader goroutine is needed
	// to notice peer disconnects and answer pings with pongs.
	ctx, cancel := context.WithCancel(c.Request().Context())
	defer cancel()

	_ = conn.SetReadDeadline(s.clock.Now().Add(wsPongDeadline))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(s.clock.Now().Add(wsPongDeadline))
	})
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	writer := stream.NewWSWriter(conn, s.clock)
	session, err := stream.New(
		s.hub, writer, s.clock, s.config.HeartbeatInterval,
		"ws", s.lastEventID(c), s.pathFilter(c),
	)
	if err != nil {
		return err
	}

	if err := session.Run(ctx); err != nil {
		slog.DebugContext(c.Request().Context(), "WebSocket session closed", "error", err)
	}
	return nil
}

// lastEventID extracts the resumption token: the Last-Event-ID header set
// by EventSource reconnects, or a last_event_id query parameter for clients
// that cannot set headers. Unparseable values mean a fresh subscription.
func (s *Server) lastEventID(c echo.Context) uint64 {
	raw := c.Request().Header.Get("Last-Event-ID")
	if raw == "" {
		raw = c.QueryParam("last_event_id")
	}
	if raw == "" {
		return 0
	}
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		slog.Debug("Ignoring unparseable Last-Event-ID", "value", raw)
		return 0
	}
	return id
}

// pathFilter normalizes the optional ?path= filter, which may name a single
// file or a subtree. Relative values are anchored at the watch root.
func (s *Server) pathFilter(c echo.Context) string {
	raw := c.QueryParam("path")
	if raw == "" {
		return ""
	}
	if !filepath.IsAbs(raw) {
		raw = filepath.Join(s.config.WatchDir, raw)
	}
	return filepath.Clean(raw)
}
