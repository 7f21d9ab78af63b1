// Package client implements the control-loop side of remote inference: one
// bounded request/reply exchange per tick, retry with exponential backoff and
// jitter, and guaranteed degradation to a safe zero action. Infer never
// fails — the control loop must receive an action every tick no matter what
// the network or the server is doing.
package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/clawinfra/teleclaw/internal/channel"
	"github.com/clawinfra/teleclaw/internal/config"
	"github.com/clawinfra/teleclaw/internal/robot"
	"github.com/clawinfra/teleclaw/internal/telemetry"
	"github.com/clawinfra/teleclaw/internal/wire"
)

// Recorder receives one journal entry per Infer call. telemetry.Store
// satisfies it; a nil recorder disables journaling.
type Recorder interface {
	Record(e telemetry.Exchange)
}

// Client sends observations to the inference server and turns replies into
// actions. One instance supports one in-flight request; Infer must not be
// called concurrently.
type Client struct {
	cfg       config.ClientConfig
	conn      *channel.Conn
	channels  []string // ordered command channels; sizes the zero fallback
	robotType string
	logger    *slog.Logger

	rec  Recorder
	tick int64
}

// New prepares a client for the configured endpoint. The robot profile is
// optional and client-side only: it supplies the ordered command-channel
// list (which sizes the zero fallback) and the robot type tag attached to
// requests. With a nil profile the fallback action is empty. Only transport
// construction errors are returned.
func New(cfg config.ClientConfig, profile *robot.Profile, logger *slog.Logger) (*Client, error) {
	conn, err := channel.Dial(cfg.Endpoint(), logger)
	if err != nil {
		return nil, fmt.Errorf("client: %w", err)
	}
	c := &Client{
		cfg:    cfg,
		conn:   conn,
		logger: logger.With("component", "client", "endpoint", cfg.Endpoint()),
	}
	if profile != nil {
		c.channels = make([]string, len(profile.CommandChannels))
		copy(c.channels, profile.CommandChannels)
		c.robotType = profile.Type
	}
	return c, nil
}

// SetRecorder attaches a telemetry recorder. Call before the control loop
// starts; not safe to swap mid-flight.
func (c *Client) SetRecorder(r Recorder) { c.rec = r }

// Infer resolves one observation to one action. It retries timeouts and
// server-reported errors up to the configured budget and then degrades to
// the zero fallback. It never returns an error: every failure mode resolves
// to a usable action.
func (c *Client) Infer(ctx context.Context, obs robot.Observation) robot.Action {
	start := time.Now()
	c.tick++

	req := obs.ToRequest()
	if req.Task == "" && c.cfg.TextPrompt != "" {
		req.Task = c.cfg.TextPrompt
	}
	if req.RobotType == "" {
		req.RobotType = c.robotType
	}

	timeout := time.Duration(c.cfg.TimeoutMs) * time.Millisecond
	var lastErr error
	status := "error"

	for attempt := 1; attempt <= c.cfg.MaxRetries; attempt++ {
		action, err := c.attempt(ctx, req, timeout)
		if err == nil {
			c.record(telemetry.Exchange{
				Tick: c.tick, Status: "success", Attempts: attempt,
				LatencyMs: time.Since(start).Milliseconds(),
			})
			return action
		}

		lastErr = err
		status = classify(err)
		c.logger.Warn("inference attempt failed",
			"attempt", attempt,
			"max_retries", c.cfg.MaxRetries,
			"cause", err,
			"elapsed", time.Since(start).Round(time.Millisecond),
		)

		if attempt == c.cfg.MaxRetries {
			break
		}
		if !c.backoff(ctx, attempt) {
			// Caller cancelled; stop retrying and fall back.
			break
		}
	}

	fallback := robot.ZeroAction(c.channels)
	c.logger.Error("inference failed, using zero fallback",
		"attempts", c.cfg.MaxRetries,
		"cause", lastErr,
		"elapsed", time.Since(start).Round(time.Millisecond),
		"fallback_size", fallback.Len(),
	)
	c.record(telemetry.Exchange{
		Tick: c.tick, Status: status, Attempts: c.cfg.MaxRetries,
		LatencyMs: time.Since(start).Milliseconds(), Fallback: true,
	})
	return fallback
}

// attempt performs one bounded exchange and decodes the reply.
func (c *Client) attempt(ctx context.Context, req *wire.Request, timeout time.Duration) (robot.Action, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	resp, err := c.conn.Exchange(attemptCtx, req)
	if err != nil {
		return robot.Action{}, err
	}
	if err := resp.Err(); err != nil {
		return robot.Action{}, err
	}

	action, err := robot.ActionFromTensor(resp.Action, c.channels)
	if err != nil {
		return robot.Action{}, fmt.Errorf("decode action: %w", err)
	}
	return action, nil
}

// backoff waits base*2^(k-1) plus a uniform jitter in [0, wait) before the
// next attempt. Returns false when ctx was cancelled during the wait.
func (c *Client) backoff(ctx context.Context, attempt int) bool {
	wait := c.cfg.BackoffFactor * float64(int(1)<<(attempt-1))
	delay := time.Duration((wait + rand.Float64()*wait) * float64(time.Second))
	if delay <= 0 {
		return ctx.Err() == nil
	}

	c.logger.Debug("backing off", "attempt", attempt, "delay", delay.Round(time.Millisecond))
	select {
	case <-time.After(delay):
		return true
	case <-ctx.Done():
		return false
	}
}

func (c *Client) record(e telemetry.Exchange) {
	if c.rec != nil {
		c.rec.Record(e)
	}
}

// classify maps an attempt error to a telemetry status.
func classify(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}
	return "error"
}

// Close releases the channel. Idempotent and never returns an error.
func (c *Client) Close() error {
	return c.conn.Close()
}
