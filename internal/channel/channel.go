// Package channel implements the point-to-point reply-pattern channel between
// the inference client and server: one JSON document per WebSocket message,
// strict request/reply alternation from the caller's point of view.
//
// Each request frame carries a transport-level id. A timed-out request is
// logically abandoned; its reply, if it ever arrives, is discarded by id on a
// later exchange, so a fresh send is always valid after a timeout. Only a
// broken connection (write or read failure) forces a redial, which happens
// transparently on the next exchange.
package channel

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"sync"

	"github.com/clawinfra/teleclaw/internal/wire"
	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"
)

// frame is the transport envelope around one wire document.
type frame struct {
	ID   string          `json:"id"`
	Body json.RawMessage `json:"body"`
}

// Conn is the client side of the channel. It connects lazily: construction
// performs no network I/O, and a dead connection is re-established on the
// next Exchange. Not safe for concurrent Exchange calls; the channel contract
// allows at most one outstanding request.
type Conn struct {
	url    string
	logger *slog.Logger

	mu     sync.Mutex
	ws     *websocket.Conn
	frames chan frame // delivered by the reader goroutine
	errs   chan error // terminal reader error, capacity 1
	closed bool
}

// Dial prepares a channel to the given host:port endpoint. It fails only when
// the endpoint cannot form a valid transport address; an unreachable peer is
// reported by Exchange instead.
func Dial(addr string, logger *slog.Logger) (*Conn, error) {
	if _, _, err := net.SplitHostPort(addr); err != nil {
		return nil, fmt.Errorf("channel: bad endpoint %q: %w", addr, err)
	}
	return &Conn{
		url:    "ws://" + addr + "/infer",
		logger: logger.With("component", "channel"),
	}, nil
}

// Exchange sends one request and waits for its reply until ctx expires.
// A timeout leaves the connection usable; any transport error tears it down
// so the next call redials.
func (c *Conn) Exchange(ctx context.Context, req *wire.Request) (*wire.Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, fmt.Errorf("channel: closed")
	}
	if err := c.ensureConnected(ctx); err != nil {
		return nil, err
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("channel: encode request: %w", err)
	}
	id := uuid.NewString()

	if err := wsjson.Write(ctx, c.ws, frame{ID: id, Body: body}); err != nil {
		c.teardown()
		return nil, fmt.Errorf("channel: send: %w", err)
	}

	for {
		select {
		case f, ok := <-c.frames:
			if !ok {
				c.teardown()
				return nil, fmt.Errorf("channel: connection lost")
			}
			if f.ID != id {
				// Reply to a previously abandoned request.
				c.logger.Debug("discarding stale reply", "id", f.ID)
				continue
			}
			var resp wire.Response
			if err := json.Unmarshal(f.Body, &resp); err != nil {
				return nil, fmt.Errorf("channel: decode reply: %w", err)
			}
			return &resp, nil
		case err := <-c.errs:
			c.teardown()
			return nil, fmt.Errorf("channel: receive: %w", err)
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Close releases the connection. Idempotent and never returns an error.
func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	c.teardown()
	return nil
}

// ensureConnected dials and starts the reader goroutine if needed.
// Caller holds c.mu.
func (c *Conn) ensureConnected(ctx context.Context) error {
	if c.ws != nil {
		return nil
	}
	ws, _, err := websocket.Dial(ctx, c.url, nil)
	if err != nil {
		return fmt.Errorf("channel: dial %s: %w", c.url, err)
	}
	c.ws = ws
	c.frames = make(chan frame, 4)
	c.errs = make(chan error, 1)
	go c.readLoop(ws, c.frames, c.errs)
	return nil
}

// readLoop delivers inbound frames until the connection dies. Reads run
// against the background context so a per-request timeout does not tear the
// connection down.
func (c *Conn) readLoop(ws *websocket.Conn, frames chan<- frame, errs chan<- error) {
	for {
		var f frame
		if err := wsjson.Read(context.Background(), ws, &f); err != nil {
			errs <- err
			close(frames)
			return
		}
		select {
		case frames <- f:
		default:
			// Nobody is waiting and the buffer is full of abandoned
			// replies already; dropping one more is safe.
		}
	}
}

// teardown drops the current connection. Caller holds c.mu.
func (c *Conn) teardown() {
	if c.ws != nil {
		_ = c.ws.Close(websocket.StatusNormalClosure, "")
		c.ws = nil
		c.frames = nil
		c.errs = nil
	}
}
