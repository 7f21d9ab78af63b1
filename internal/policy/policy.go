// Package policy hosts the server-side policy runtime: the interface the
// inference server invokes once per request, the reset capability, and the
// built-in policies used for bring-up and testing. Real model backends plug
// in behind the same interface.
package policy

import (
	"context"
	"fmt"

	"github.com/clawinfra/teleclaw/internal/robot"
	"github.com/clawinfra/teleclaw/internal/tensor"
)

// Policy maps one observation to one action tensor. A policy instance is
// exclusively owned by the server process and invoked strictly sequentially,
// so implementations may keep internal state without locking.
type Policy interface {
	Name() string
	SelectAction(ctx context.Context, obs robot.Observation) (tensor.Tensor, error)
}

// Resetter is the optional reset capability. Whether a policy supports reset
// is a checked interface, not a call with swallowed errors: callers type-assert
// and skip policies that do not implement it.
type Resetter interface {
	Reset()
}

// Config selects and parameterizes a policy.
type Config struct {
	// Type picks the implementation: "linear", "constant", "echo".
	Type string `json:"type"`
	// Path points at the checkpoint file for types that load weights.
	Path string `json:"path"`
	// InputChannel names the observation channel the policy consumes.
	InputChannel string `json:"inputChannel"`
	// ChunkSize > 0 wraps the policy in a chunked action queue.
	ChunkSize int `json:"chunkSize"`
}

// Load builds the configured policy.
func Load(cfg Config) (Policy, error) {
	if cfg.InputChannel == "" {
		cfg.InputChannel = "agent_pos"
	}

	var p Policy
	switch cfg.Type {
	case "linear":
		lp, err := LoadLinear(cfg.Path, cfg.InputChannel)
		if err != nil {
			return nil, err
		}
		p = lp
	case "constant":
		cp, err := LoadConstant(cfg.Path)
		if err != nil {
			return nil, err
		}
		p = cp
	case "echo", "":
		p = &Echo{Channel: cfg.InputChannel}
	default:
		return nil, fmt.Errorf("policy: unknown type %q", cfg.Type)
	}

	if cfg.ChunkSize > 0 {
		p = NewChunked(p, cfg.ChunkSize)
	}
	return p, nil
}

// Echo returns the index sequence 0..n-1 for an input channel of length n.
// It exercises the full wire path without any model weights.
type Echo struct {
	Channel string
}

func (e *Echo) Name() string { return "echo" }

func (e *Echo) SelectAction(_ context.Context, obs robot.Observation) (tensor.Tensor, error) {
	in, ok := obs.Channels[e.Channel]
	if !ok {
		return tensor.Tensor{}, fmt.Errorf("policy: observation missing channel %q", e.Channel)
	}
	out := make([]float64, in.Len())
	for i := range out {
		out[i] = float64(i)
	}
	return tensor.Vector(out...), nil
}
