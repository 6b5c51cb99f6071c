// Package websocket upgrades dashboard viewers and hands their connections to
// the broadcast registry.
package websocket

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/pscheid92/plantpulse/internal/broadcast"
	"github.com/pscheid92/plantpulse/internal/platform/correlation"
)

const readLimit = 4096

type viewerRegistry interface {
	Register(ctx context.Context, conn *websocket.Conn) error
	Unregister(conn *websocket.Conn)
}

// Handler upgrades GET /ws. Inbound messages are read and discarded; the read
// loop only serves to notice the viewer going away.
type Handler struct {
	upgrader websocket.Upgrader
	registry viewerRegistry
}

func NewHandler(registry viewerRegistry, checkOrigin func(r *http.Request) bool) *Handler {
	return &Handler{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     checkOrigin,
		},
		registry: registry,
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied with an HTTP error.
		slog.Debug("WebSocket upgrade failed", "error", err, "remote_addr", r.RemoteAddr)
		return
	}

	ctx, id := correlation.WithNewID(r.Context(), correlation.ScopeViewer)
	if err := h.registry.Register(ctx, conn); err != nil {
		_ = conn.Close()
		level := slog.LevelError
		if errors.Is(err, broadcast.ErrCapacity) {
			level = slog.LevelWarn
		}
		slog.Log(ctx, level, "Viewer rejected", "error", err, "remote_addr", r.RemoteAddr)
		return
	}
	slog.InfoContext(ctx, "Viewer connected", "viewer_id", id, "remote_addr", r.RemoteAddr)

	conn.SetReadLimit(readLimit)
	for {
		if _, _, err := conn.NextReader(); err != nil {
			break
		}
	}

	h.registry.Unregister(conn)
	slog.InfoContext(ctx, "Viewer disconnected", "viewer_id", id)
}
