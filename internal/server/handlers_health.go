package server

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/noctonic/dirstream/internal/platform/version"
)

var startTime = time.Now()

func (s *Server) handleLiveness(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"status": "ok",
		"uptime": time.Since(startTime).Seconds(),
	})
}

func (s *Server) handleReadiness(c echo.Context) error {
	checks := []struct {
		name string
		fn   func() bool
	}{
		{"watcher", s.checkWatcher},
		{"hub", s.checkHub},
	}

	for _, check := range checks {
		if !check.fn() {
			return c.JSON(http.StatusServiceUnavailable, map[string]any{
				"status":       "unhealthy",
				"failed_check": check.name,
			})
		}
	}

	return c.JSON(http.StatusOK, map[string]any{
		"status":      "ready",
		"connections": s.limits.Current(),
		"last_seq":    s.hub.CurrentSeq(),
	})
}

func (s *Server) checkWatcher() bool {
	if s.watcherAlive == nil {
		return true
	}
	return s.watcherAlive()
}

func (s *Server) checkHub() bool {
	return s.hub.SubscriberCount() >= 0
}

func (s *Server) handleVersion(c echo.Context) error {
	return c.JSON(http.StatusOK, version.Get())
}
