package robot

import (
	"context"
	"fmt"
	"sync"

	"github.com/clawinfra/teleclaw/internal/tensor"
)

// SimArm is an in-process actuator: a kinematic arm whose joints move toward
// the commanded positions by at most MaxStep per tick. It stands in for a
// real driver in the example client and in tests.
type SimArm struct {
	mu      sync.Mutex
	joints  []float64
	names   []string
	typ     string
	maxStep float64
	closed  bool
}

// NewSimArm builds a simulated arm with one joint per command channel,
// starting at the zero pose.
func NewSimArm(profile *Profile) *SimArm {
	names := make([]string, len(profile.CommandChannels))
	copy(names, profile.CommandChannels)
	return &SimArm{
		joints:  make([]float64, len(names)),
		names:   names,
		typ:     profile.Type,
		maxStep: 0.1,
	}
}

// Observe reports the current joint positions under the agent_pos channel.
func (s *SimArm) Observe(_ context.Context) (Observation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return Observation{}, fmt.Errorf("robot: sim arm closed")
	}
	pos := make([]float64, len(s.joints))
	copy(pos, s.joints)
	return Observation{
		Channels:  map[string]tensor.Tensor{"agent_pos": tensor.Vector(pos...)},
		RobotType: s.typ,
	}, nil
}

// Act moves each joint toward its commanded position, rate limited.
func (s *SimArm) Act(_ context.Context, a Action) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("robot: sim arm closed")
	}
	if len(a.Values) != len(s.joints) {
		return fmt.Errorf("robot: action has %d values, arm has %d joints", len(a.Values), len(s.joints))
	}
	for i, target := range a.Values {
		delta := target - s.joints[i]
		if delta > s.maxStep {
			delta = s.maxStep
		} else if delta < -s.maxStep {
			delta = -s.maxStep
		}
		s.joints[i] += delta
	}
	return nil
}

// CommandChannels returns the ordered joint channel names.
func (s *SimArm) CommandChannels() []string {
	names := make([]string, len(s.names))
	copy(names, s.names)
	return names
}

// Joints returns a copy of the current pose.
func (s *SimArm) Joints() []float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]float64, len(s.joints))
	copy(out, s.joints)
	return out
}

// Close marks the arm unusable. Idempotent.
func (s *SimArm) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
