package policy

import (
	"context"
	"fmt"

	"github.com/clawinfra/teleclaw/internal/robot"
	"github.com/clawinfra/teleclaw/internal/tensor"
)

// Chunked wraps a policy that predicts several future actions at once. The
// inner policy runs only when the queue is empty; each call pops one action.
// The queue is part of the serving state: it persists across requests and
// clients for the whole server lifetime, and is only cleared by Reset.
type Chunked struct {
	inner Policy
	max   int
	queue []tensor.Tensor
}

// NewChunked wraps inner with an action queue holding at most max actions
// per inner invocation.
func NewChunked(inner Policy, max int) *Chunked {
	return &Chunked{inner: inner, max: max}
}

func (c *Chunked) Name() string { return c.inner.Name() + "+chunked" }

func (c *Chunked) SelectAction(ctx context.Context, obs robot.Observation) (tensor.Tensor, error) {
	if len(c.queue) == 0 {
		if err := c.refill(ctx, obs); err != nil {
			return tensor.Tensor{}, err
		}
	}
	next := c.queue[0]
	c.queue = c.queue[1:]
	return next, nil
}

// refill invokes the inner policy and splits its prediction into per-tick
// actions: a rank-2 [chunk][dim] tensor yields one action per row, a rank-1
// tensor a single action.
func (c *Chunked) refill(ctx context.Context, obs robot.Observation) error {
	pred, err := c.inner.SelectAction(ctx, obs)
	if err != nil {
		return err
	}
	switch pred.Rank() {
	case 1:
		c.queue = append(c.queue, pred)
	case 2:
		rows := pred.Shape[0]
		if rows > c.max {
			rows = c.max
		}
		dim := pred.Shape[1]
		for i := 0; i < rows; i++ {
			row := make([]float64, dim)
			copy(row, pred.Data[i*dim:(i+1)*dim])
			c.queue = append(c.queue, tensor.Vector(row...))
		}
	default:
		return fmt.Errorf("policy: chunked inner returned rank %d prediction", pred.Rank())
	}
	if len(c.queue) == 0 {
		return fmt.Errorf("policy: inner policy returned empty chunk")
	}
	return nil
}

// Reset clears the pending action queue and resets the inner policy when it
// supports reset.
func (c *Chunked) Reset() {
	c.queue = nil
	if r, ok := c.inner.(Resetter); ok {
		r.Reset()
	}
}
