// Package robot models the actuator-facing side of the control loop: the
// observation captured once per tick, the action applied on the next tick,
// and the narrow interface the inference client needs from a robot driver.
package robot

import (
	"context"
	"fmt"

	"github.com/clawinfra/teleclaw/internal/tensor"
	"github.com/clawinfra/teleclaw/internal/wire"
)

// Observation is the sensed state for one control tick: named channels of
// fixed, channel-specific shape plus an optional task instruction and robot
// type tag. It is owned by the control loop and never mutated after capture.
type Observation struct {
	Channels  map[string]tensor.Tensor
	Task      string
	RobotType string
}

// ToRequest serializes the observation into its wire form.
func (o Observation) ToRequest() *wire.Request {
	return &wire.Request{
		Channels:  o.Channels,
		Task:      o.Task,
		RobotType: o.RobotType,
	}
}

// ObservationFromRequest reconstructs an observation from a decoded request.
func ObservationFromRequest(req *wire.Request) Observation {
	return Observation{
		Channels:  req.Channels,
		Task:      req.Task,
		RobotType: req.RobotType,
	}
}

// Action is the command vector for one tick. Values are ordered by the
// actuator's command-channel order; Names is populated when the channel set
// is known on the client, and empty otherwise.
type Action struct {
	Values []float64
	Names  []string
}

// ActionFromTensor flattens a decoded action tensor and attaches the channel
// names when their count matches. A name-count mismatch is an error: a named
// mapping must line up with the actuator's command channels exactly.
func ActionFromTensor(t tensor.Tensor, names []string) (Action, error) {
	values := make([]float64, len(t.Data))
	copy(values, t.Data)
	if len(names) > 0 && len(names) != len(values) {
		return Action{}, fmt.Errorf("robot: action has %d values for %d command channels", len(values), len(names))
	}
	return Action{Values: values, Names: names}, nil
}

// ZeroAction is the safe fallback: all zeros across the given command
// channels, or an empty action when the channel set is unknown.
func ZeroAction(names []string) Action {
	return Action{Values: make([]float64, len(names)), Names: names}
}

// Map returns the named channel→value form, or nil when channel names are
// not resolvable.
func (a Action) Map() map[string]float64 {
	if len(a.Names) == 0 {
		return nil
	}
	m := make(map[string]float64, len(a.Names))
	for i, n := range a.Names {
		m[n] = a.Values[i]
	}
	return m
}

// Len returns the number of command values.
func (a Action) Len() int { return len(a.Values) }

// Actuator is the narrow interface the control loop needs from a robot
// driver. Implementations own the physical device; the inference stack only
// observes and commands through it.
type Actuator interface {
	// Observe captures the current state. Called once per control tick.
	Observe(ctx context.Context) (Observation, error)

	// Act applies the given action for the next tick.
	Act(ctx context.Context, a Action) error

	// CommandChannels returns the ordered command channel names. The order
	// fixes the layout of flat action vectors and sizes the zero fallback.
	CommandChannels() []string

	// Close releases the device.
	Close() error
}
