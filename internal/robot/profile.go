package robot

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// Profile describes a robot to the client side: its type tag, the ordered
// command channels, the observation channels it produces, and the control
// rate. It replaces instantiating a driver just to read channel metadata —
// the profile is explicit, declarative input.
type Profile struct {
	Name            string             `toml:"name"`
	Type            string             `toml:"type"`
	ControlHz       float64            `toml:"control_hz"`
	CommandChannels []string           `toml:"command_channels"`
	Observations    map[string][]int   `toml:"observations"`
}

// LoadProfile reads and validates a robot profile manifest.
func LoadProfile(path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("robot: read profile: %w", err)
	}
	var p Profile
	if err := toml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("robot: parse profile: %w", err)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

// Validate checks the profile invariants.
func (p *Profile) Validate() error {
	if p.Type == "" {
		return fmt.Errorf("robot: profile missing type")
	}
	if len(p.CommandChannels) == 0 {
		return fmt.Errorf("robot: profile %q declares no command channels", p.Type)
	}
	seen := make(map[string]bool, len(p.CommandChannels))
	for _, ch := range p.CommandChannels {
		if seen[ch] {
			return fmt.Errorf("robot: duplicate command channel %q", ch)
		}
		seen[ch] = true
	}
	if p.ControlHz < 0 {
		return fmt.Errorf("robot: negative control rate %v", p.ControlHz)
	}
	for name, shape := range p.Observations {
		for _, d := range shape {
			if d <= 0 {
				return fmt.Errorf("robot: observation %q has bad shape %v", name, shape)
			}
		}
	}
	return nil
}

// CheckObservation verifies that an observation matches the declared channel
// shapes. Channels the profile does not declare pass through unchecked.
func (p *Profile) CheckObservation(o Observation) error {
	for name, shape := range p.Observations {
		t, ok := o.Channels[name]
		if !ok {
			return fmt.Errorf("robot: observation missing channel %q", name)
		}
		if len(t.Shape) != len(shape) {
			return fmt.Errorf("robot: channel %q rank %d, profile wants %v", name, len(t.Shape), shape)
		}
		for i, d := range shape {
			if t.Shape[i] != d {
				return fmt.Errorf("robot: channel %q shape %v, profile wants %v", name, t.Shape, shape)
			}
		}
	}
	return nil
}
