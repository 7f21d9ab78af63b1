package policy

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/clawinfra/teleclaw/internal/robot"
	"github.com/clawinfra/teleclaw/internal/tensor"
)

// LinearWeights is the JSON checkpoint format for the linear policy:
// action = W·x + b over a single flat input channel.
type LinearWeights struct {
	W [][]float64 `json:"w"` // shape: [out][in]
	B []float64   `json:"b"` // shape: [out]
}

// Linear computes a fixed affine map from one observation channel to the
// action vector. It is deliberately simple: a deterministic, inspectable
// stand-in for a learned policy.
type Linear struct {
	weights LinearWeights
	channel string
}

// LoadLinear reads a weights checkpoint and validates its shape.
func LoadLinear(path, channel string) (*Linear, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("policy: read checkpoint: %w", err)
	}
	var w LinearWeights
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("policy: parse checkpoint: %w", err)
	}
	if len(w.W) == 0 || len(w.W) != len(w.B) {
		return nil, fmt.Errorf("policy: checkpoint has %d weight rows and %d biases", len(w.W), len(w.B))
	}
	in := len(w.W[0])
	for i, row := range w.W {
		if len(row) != in {
			return nil, fmt.Errorf("policy: ragged weight row %d", i)
		}
	}
	return &Linear{weights: w, channel: channel}, nil
}

func (l *Linear) Name() string { return "linear" }

func (l *Linear) SelectAction(_ context.Context, obs robot.Observation) (tensor.Tensor, error) {
	in, ok := obs.Channels[l.channel]
	if !ok {
		return tensor.Tensor{}, fmt.Errorf("policy: observation missing channel %q", l.channel)
	}
	if in.Len() != len(l.weights.W[0]) {
		return tensor.Tensor{}, fmt.Errorf("policy: input length %d, weights want %d", in.Len(), len(l.weights.W[0]))
	}

	out := make([]float64, len(l.weights.W))
	for i, row := range l.weights.W {
		v := l.weights.B[i]
		for j, w := range row {
			v += w * in.Data[j]
		}
		out[i] = v
	}
	return tensor.Vector(out...), nil
}

// Constant always returns the same action vector, loaded from a JSON file
// holding a flat list. Useful as a safe-stop or hold-pose policy.
type Constant struct {
	action tensor.Tensor
}

// LoadConstant reads the fixed action vector.
func LoadConstant(path string) (*Constant, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("policy: read checkpoint: %w", err)
	}
	var vals []float64
	if err := json.Unmarshal(data, &vals); err != nil {
		return nil, fmt.Errorf("policy: parse checkpoint: %w", err)
	}
	return &Constant{action: tensor.Vector(vals...)}, nil
}

func (c *Constant) Name() string { return "constant" }

func (c *Constant) SelectAction(context.Context, robot.Observation) (tensor.Tensor, error) {
	return c.action, nil
}
