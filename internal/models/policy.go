package models

import (
	"fmt"
	"time"
)

// TargetType identifies what a policy level's selector points at.
type TargetType string

const (
	TargetUser     TargetType = "user"
	TargetTeam     TargetType = "team"
	TargetSchedule TargetType = "schedule"
)

// TargetSelector references the responders for a policy level.
// User selectors resolve to themselves, team selectors to the team's
// members, and schedule selectors to whoever is on call at the instant
// of resolution.
type TargetSelector struct {
	Type TargetType `yaml:"type" json:"type"`
	ID   string     `yaml:"id" json:"id"`
}

// PolicyLevel is one step of an escalation policy. Delay is how long to
// wait for an acknowledgment before advancing past this level.
type PolicyLevel struct {
	Delay   string           `yaml:"delay" json:"delay"`
	Targets []TargetSelector `yaml:"targets" json:"targets"`
}

// GetDelayDuration returns the parsed level delay.
func (l *PolicyLevel) GetDelayDuration() time.Duration {
	d, _ := time.ParseDuration(l.Delay)
	return d
}

// EscalationPolicy is an ordered sequence of levels notified with
// increasing delay until acknowledgment. Policies are immutable
// configuration; incidents capture them by value at trigger time.
type EscalationPolicy struct {
	ID           string        `yaml:"id" json:"id"`
	Name         string        `yaml:"name" json:"name"`
	ServiceIDs   []string      `yaml:"services" json:"services"`
	InitialDelay string        `yaml:"initial_delay,omitempty" json:"initial_delay,omitempty"`
	Levels       []PolicyLevel `yaml:"levels" json:"levels"`
}

// GetInitialDelayDuration returns the parsed delay before the level-0 fire.
func (p *EscalationPolicy) GetInitialDelayDuration() time.Duration {
	if p.InitialDelay == "" {
		return 0
	}
	d, _ := time.ParseDuration(p.InitialDelay)
	return d
}

// AppliesTo reports whether the policy covers the given service.
func (p *EscalationPolicy) AppliesTo(serviceID string) bool {
	for _, id := range p.ServiceIDs {
		if id == serviceID {
			return true
		}
	}
	return false
}

// Validate checks the policy configuration for errors.
func (p *EscalationPolicy) Validate() error {
	if p.ID == "" {
		return fmt.Errorf("policy id is required")
	}
	if len(p.Levels) == 0 {
		return fmt.Errorf("policy %q must have at least one level", p.ID)
	}
	if p.InitialDelay != "" {
		if _, err := time.ParseDuration(p.InitialDelay); err != nil {
			return fmt.Errorf("invalid initial_delay %q for policy %q: %w", p.InitialDelay, p.ID, err)
		}
	}
	for i, level := range p.Levels {
		if level.Delay == "" {
			return fmt.Errorf("level %d of policy %q: delay is required", i, p.ID)
		}
		if _, err := time.ParseDuration(level.Delay); err != nil {
			return fmt.Errorf("level %d of policy %q: invalid delay %q: %w", i, p.ID, level.Delay, err)
		}
		if len(level.Targets) == 0 {
			return fmt.Errorf("level %d of policy %q: at least one target is required", i, p.ID)
		}
		for j, target := range level.Targets {
			switch target.Type {
			case TargetUser, TargetTeam, TargetSchedule:
			default:
				return fmt.Errorf("level %d target %d of policy %q: invalid target type %q", i, j, p.ID, target.Type)
			}
			if target.ID == "" {
				return fmt.Errorf("level %d target %d of policy %q: target id is required", i, j, p.ID)
			}
		}
	}
	return nil
}
