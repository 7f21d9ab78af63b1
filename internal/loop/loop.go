// Package loop drives the fixed-rate control cycle: observe the actuator,
// resolve an action through the inference client, apply it, repeat. Context
// cancellation is the only stop mechanism.
package loop

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/clawinfra/teleclaw/internal/robot"
)

const defaultHz = 30

// Inferrer resolves one observation to one action and never fails.
// client.Client satisfies it.
type Inferrer interface {
	Infer(ctx context.Context, obs robot.Observation) robot.Action
}

// Loop runs one actuator against one inferrer at a fixed rate.
type Loop struct {
	actuator robot.Actuator
	inf      Inferrer
	hz       float64
	logger   *slog.Logger

	ticks atomic.Int64
}

// New creates a control loop. hz <= 0 falls back to the default rate.
func New(actuator robot.Actuator, inf Inferrer, hz float64, logger *slog.Logger) *Loop {
	if hz <= 0 {
		hz = defaultHz
	}
	return &Loop{
		actuator: actuator,
		inf:      inf,
		hz:       hz,
		logger:   logger.With("component", "loop"),
	}
}

// Run cycles until ctx is cancelled, which returns nil: stopping the loop is
// normal shutdown, not an error. Observation failures skip the tick;
// actuation failures stop the loop, because a robot that rejects commands
// must not keep receiving them.
func (l *Loop) Run(ctx context.Context) error {
	period := time.Duration(float64(time.Second) / l.hz)
	l.logger.Info("control loop starting", "hz", l.hz, "period", period.Round(time.Microsecond))

	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			l.logger.Info("control loop stopped", "ticks", l.ticks.Load())
			return nil
		case <-ticker.C:
			start := time.Now()
			if err := l.tick(ctx); err != nil {
				if ctx.Err() != nil {
					l.logger.Info("control loop stopped", "ticks", l.ticks.Load())
					return nil
				}
				return err
			}
			if elapsed := time.Since(start); elapsed > period {
				l.logger.Warn("tick overran the control period",
					"elapsed", elapsed.Round(time.Millisecond),
					"period", period.Round(time.Millisecond),
				)
			}
		}
	}
}

func (l *Loop) tick(ctx context.Context) error {
	obs, err := l.actuator.Observe(ctx)
	if err != nil {
		l.logger.Warn("observation failed, skipping tick", "error", err)
		return nil
	}

	action := l.inf.Infer(ctx, obs)

	if err := l.actuator.Act(ctx, action); err != nil {
		return fmt.Errorf("loop: actuate: %w", err)
	}
	l.ticks.Add(1)
	return nil
}

// Ticks returns the number of completed cycles.
func (l *Loop) Ticks() int64 { return l.ticks.Load() }
