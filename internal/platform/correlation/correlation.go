// Package correlation threads a per-request correlation ID through contexts
// and injects it into slog output.
package correlation

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
)

type contextKey struct{}

// HeaderName is the HTTP header used to propagate correlation IDs from
// clients and proxies. A missing or empty header gets a fresh ID.
const HeaderName = "X-Correlation-ID"

// attrKey is the slog attribute name added by Handler.
const attrKey = "correlation_id"

// NewID generates an 8-character hex correlation ID (4 random bytes).
func NewID() string {
	b := make([]byte, 4)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

// WithID returns a new context carrying the given correlation ID.
func WithID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, contextKey{}, id)
}

// Ensure returns ctx unchanged if it already carries a correlation ID,
// otherwise a child context with a freshly generated one.
func Ensure(ctx context.Context) context.Context {
	if _, ok := ID(ctx); ok {
		return ctx
	}
	return WithID(ctx, NewID())
}

// ID extracts the correlation ID from ctx, returning ("", false) if not present.
func ID(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(contextKey{}).(string)
	return id, ok && id != ""
}

// Handler wraps an existing slog.Handler to automatically inject a
// correlation_id attribute when the context carries one.
type Handler struct {
	inner slog.Handler
}

// NewHandler creates a correlation-aware handler wrapping the given handler.
func NewHandler(inner slog.Handler) *Handler {
	return &Handler{inner: inner}
}

func (h *Handler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *Handler) Handle(ctx context.Context, r slog.Record) error {
	if id, ok := ID(ctx); ok {
		r.AddAttrs(slog.String(attrKey, id))
	}
	if err := h.inner.Handle(ctx, r); err != nil {
		return fmt.Errorf("correlation handler: %w", err)
	}
	return nil
}

func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &Handler{inner: h.inner.WithAttrs(attrs)}
}

func (h *Handler) WithGroup(name string) slog.Handler {
	return &Handler{inner: h.inner.WithGroup(name)}
}
