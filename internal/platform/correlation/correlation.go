// Package correlation tags log records with an id that follows one unit of
// work: an API request, a simulator tick or a viewer connection.
package correlation

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
)

// Key is the log attribute name carrying the correlation ID.
const Key = "correlation_id"

// Header is read from and echoed on HTTP requests.
const Header = "X-Request-ID"

const (
	ScopeRequest = "req"
	ScopeTick    = "tick"
	ScopeViewer  = "viewer"
)

const maxInboundLen = 64

type contextKey struct{}

// NewID returns scope, a dash and 8 random hex characters, e.g. "tick-3f9a01bc".
func NewID(scope string) string {
	b := make([]byte, 4)
	_, _ = rand.Read(b)
	return scope + "-" + hex.EncodeToString(b)
}

func WithID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, contextKey{}, id)
}

// WithNewID attaches a fresh scoped ID and returns it alongside the context.
func WithNewID(ctx context.Context, scope string) (context.Context, string) {
	id := NewID(scope)
	return WithID(ctx, id), id
}

func ID(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(contextKey{}).(string)
	return id, ok && id != ""
}

// Accept reports whether an inbound request id can be reused as is. Anything
// long or outside [A-Za-z0-9._-] is replaced to keep log lines clean.
func Accept(id string) bool {
	if id == "" || len(id) > maxInboundLen {
		return false
	}
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '-', r == '_', r == '.':
		default:
			return false
		}
	}
	return true
}

// Handler injects Key into every record whose context carries an ID.
type Handler struct {
	inner slog.Handler
}

func NewHandler(inner slog.Handler) *Handler {
	return &Handler{inner: inner}
}

func (h *Handler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *Handler) Handle(ctx context.Context, r slog.Record) error {
	if id, ok := ID(ctx); ok {
		r.AddAttrs(slog.String(Key, id))
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
