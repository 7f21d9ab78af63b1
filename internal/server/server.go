// Package server hosts a policy behind the inference channel. It owns the
// listener lifecycle and the strict sequential ordering guarantee: one policy
// invocation at a time, across every connected client, in arrival order.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/clawinfra/teleclaw/internal/channel"
	"github.com/clawinfra/teleclaw/internal/config"
	"github.com/clawinfra/teleclaw/internal/policy"
	"github.com/clawinfra/teleclaw/internal/robot"
	"github.com/clawinfra/teleclaw/internal/wire"
)

const statsInterval = time.Minute

// Server serves one policy over the inference channel. Create with New and
// drive with Run; the zero value is not usable.
type Server struct {
	cfg    config.ServerConfig
	pol    policy.Policy
	logger *slog.Logger

	// mu serializes policy invocations across all connections. The policy
	// may be stateful and never sees concurrent calls.
	mu      sync.Mutex
	started time.Time

	served atomic.Int64
	failed atomic.Int64

	boundAddr atomic.Value // string, set once Run binds the listener
}

// New creates an inference server for the given policy.
func New(cfg config.ServerConfig, pol policy.Policy, logger *slog.Logger) *Server {
	return &Server{
		cfg:    cfg,
		pol:    pol,
		logger: logger.With("component", "server"),
	}
}

// Run binds the configured address and serves until ctx is cancelled. A bind
// failure is returned immediately; cancellation shuts the listener down
// gracefully and returns nil.
func (s *Server) Run(ctx context.Context) error {
	if s.cfg.ResetAtStartup {
		if r, ok := s.pol.(policy.Resetter); ok {
			r.Reset()
			s.logger.Info("policy reset", "policy", s.pol.Name())
		} else {
			s.logger.Warn("resetAtStartup set but policy cannot reset", "policy", s.pol.Name())
		}
	}

	ln, err := net.Listen("tcp", s.cfg.Addr())
	if err != nil {
		return fmt.Errorf("bind %s: %w", s.cfg.Addr(), err)
	}

	mux := http.NewServeMux()
	mux.Handle("/infer", channel.NewHandler(s.handle, s.logger))
	mux.HandleFunc("/stats", s.handleStats)

	httpServer := &http.Server{Handler: mux}
	s.started = time.Now()
	s.boundAddr.Store(ln.Addr().String())
	s.logger.Info("inference server listening", "addr", ln.Addr().String(), "policy", s.pol.Name())

	errCh := make(chan error, 1)
	go func() {
		if err := httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	ticker := time.NewTicker(statsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.logger.Info("serving stats",
				"served", s.served.Load(),
				"errors", s.failed.Load(),
				"uptime", time.Since(s.started).Round(time.Second),
			)
		case <-ctx.Done():
			s.logger.Info("shutting down inference server",
				"served", s.served.Load(),
				"errors", s.failed.Load(),
			)
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return httpServer.Shutdown(shutdownCtx)
		case err := <-errCh:
			return fmt.Errorf("serve: %w", err)
		}
	}
}

// BoundAddr returns the listener's host:port once Run has bound it, or ""
// before that. With port 0 in the config this is the only way to learn the
// assigned port.
func (s *Server) BoundAddr() string {
	if v := s.boundAddr.Load(); v != nil {
		return v.(string)
	}
	return ""
}

// handle resolves one decoded request to one reply. Policy errors become
// error replies; the channel layer converts panics the same way, so a broken
// request can never take the serve loop down.
func (s *Server) handle(ctx context.Context, req *wire.Request) *wire.Response {
	s.mu.Lock()
	defer s.mu.Unlock()

	obs := robot.ObservationFromRequest(req)
	start := time.Now()
	action, err := s.pol.SelectAction(ctx, obs)
	if err != nil {
		s.failed.Add(1)
		s.logger.Error("policy invocation failed",
			"policy", s.pol.Name(),
			"channels", len(obs.Channels),
			"task", obs.Task,
			"error", err,
		)
		return wire.Errorf("policy: %v", err)
	}

	s.served.Add(1)
	s.logger.Debug("action selected",
		"policy", s.pol.Name(),
		"size", action.Len(),
		"elapsed", time.Since(start).Round(time.Microsecond),
	)
	return wire.Success(action)
}

// handleStats reports serving counters as JSON.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	stats := map[string]any{
		"policy":         s.pol.Name(),
		"served":         s.served.Load(),
		"errors":         s.failed.Load(),
		"uptime_seconds": time.Since(s.started).Seconds(),
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(stats); err != nil {
		s.logger.Error("failed to encode JSON", "error", err)
	}
}
