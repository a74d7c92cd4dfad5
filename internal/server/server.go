package server

import (
	"context"
	"fmt"
	"net"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/noctonic/dirstream/internal/catalog"
	"github.com/noctonic/dirstream/internal/config"
	"github.com/noctonic/dirstream/internal/hub"
	"github.com/noctonic/dirstream/internal/platform/correlation"
)

type Server struct {
	echo     *echo.Echo
	config   *config.Config
	hub      *hub.Hub
	catalog  *catalog.Catalog
	clock    clockwork.Clock
	limits   *ConnectionLimits
	upgrader websocket.Upgrader

	// watcherAlive reports whether the filesystem watch is still held;
	// readiness fails once the watch is lost.
	watcherAlive func() bool
}

func NewServer(cfg *config.Config, h *hub.Hub, cat *catalog.Catalog, clock clockwork.Clock, watcherAlive func() bool) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(correlationMiddleware)

	srv := &Server{
		echo:    e,
		config:  cfg,
		hub:     h,
		catalog: cat,
		clock:   clock,
		limits: NewConnectionLimits(
			cfg.MaxConnections,
			cfg.MaxConnectionsPerIP,
			cfg.ConnectionRate,
			cfg.ConnectionBurst,
		),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		watcherAlive: watcherAlive,
	}

	srv.registerRoutes()
	return srv
}

// correlationMiddleware propagates or assigns a correlation ID per request
// so stream session logs can be tied back to their connection.
func correlationMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		if id := c.Request().Header.Get(correlation.HeaderName); id != "" {
			ctx = correlation.WithID(ctx, id)
		}
		ctx = correlation.Ensure(ctx)

		id, _ := correlation.ID(ctx)
		c.SetRequest(c.Request().WithContext(ctx))
		c.Response().Header().Set(correlation.HeaderName, id)
		return next(c)
	}
}

func (s *Server) Start() error {
	addr := net.JoinHostPort(s.config.Host, s.config.Port)
	return s.echo.Start(addr)
}

func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.echo.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	return nil
}
