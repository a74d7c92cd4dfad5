package server

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

func (s *Server) handleFiles(c echo.Context) error {
	entries := s.catalog.List()
	return c.JSON(http.StatusOK, map[string]any{
		"root":  s.catalog.Root(),
		"count": len(entries),
		"files": entries,
	})
}
