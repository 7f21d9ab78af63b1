package channel

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/clawinfra/teleclaw/internal/wire"
	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

// HandlerFunc processes one decoded request and must always produce a reply.
type HandlerFunc func(ctx context.Context, req *wire.Request) *wire.Response

// NewHandler adapts fn into the reply side of the channel: it accepts the
// WebSocket upgrade and then answers one frame at a time until the peer goes
// away. Per-frame failures are converted into error replies; only a dead
// connection ends the loop, and that never propagates beyond the handler.
func NewHandler(fn HandlerFunc, logger *slog.Logger) http.Handler {
	logger = logger.With("component", "channel")
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			logger.Warn("websocket accept failed", "remote", r.RemoteAddr, "error", err)
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "session ended") //nolint:errcheck

		logger.Info("client connected", "remote", r.RemoteAddr)
		serveConn(r.Context(), conn, fn, logger)
		logger.Info("client disconnected", "remote", r.RemoteAddr)
	})
}

func serveConn(ctx context.Context, conn *websocket.Conn, fn HandlerFunc, logger *slog.Logger) {
	for {
		var f frame
		if err := wsjson.Read(ctx, conn, &f); err != nil {
			// Peer closed or the server is shutting down.
			logger.Debug("read loop ended", "error", err)
			return
		}

		resp := handleFrame(ctx, f, fn, logger)
		body, err := json.Marshal(resp)
		if err != nil {
			// An illegal response shape is a handler bug; answer with a
			// plain error document rather than dropping the exchange.
			logger.Error("encode reply failed", "error", err)
			body, _ = json.Marshal(wire.Errorf("encode reply: %v", err))
		}
		if err := wsjson.Write(ctx, conn, frame{ID: f.ID, Body: body}); err != nil {
			logger.Warn("reply send failed", "error", err)
			return
		}
	}
}

// handleFrame decodes and dispatches one request, recovering from handler
// panics so a single bad exchange cannot take the serve loop down.
func handleFrame(ctx context.Context, f frame, fn HandlerFunc, logger *slog.Logger) (resp *wire.Response) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("request handler panicked", "panic", r)
			resp = wire.Errorf("internal error: %v", r)
		}
	}()

	var req wire.Request
	if err := json.Unmarshal(f.Body, &req); err != nil {
		logger.Warn("malformed request", "error", err)
		return wire.Errorf("malformed request: %v", err)
	}
	return fn(ctx, &req)
}
