package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

const wsWriteTimeout = 5 * time.Second

// handleEvents streams bus events as JSON text messages until the client
// goes away.
func handleEvents(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		// Subscribe before the upgrade so nothing published after the
		// handshake is missed.
		events, unsubscribe := deps.Bus.Subscribe(64)
		defer unsubscribe()

		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: deps.OriginPatterns})
		if err != nil {
			slog.Warn("event socket upgrade failed", "error", err)
			return
		}
		defer conn.CloseNow()

		// The client never sends; CloseRead handles control frames and
		// cancels ctx once the peer disconnects.
		ctx := conn.CloseRead(r.Context())

		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-events:
				if !ok {
					return
				}
				if err := writeWithTimeout(ctx, conn, ev); err != nil {
					slog.Debug("event socket write failed", "error", err)
					return
				}
			}
		}
	}
}

func writeWithTimeout(ctx context.Context, conn *websocket.Conn, v any) error {
	ctx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	return wsjson.Write(ctx, conn, v)
}
