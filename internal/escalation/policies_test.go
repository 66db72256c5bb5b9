package escalation

import (
	"strings"
	"testing"
)

const policyYAML = `
default: catch-all
policies:
  - id: payments
    name: Payments escalation
    services: [checkout, billing]
    initial_delay: 30s
    levels:
      - delay: 5m
        targets:
          - type: schedule
            id: payments-primary
      - delay: 10m
        targets:
          - type: team
            id: payments-team
  - id: catch-all
    name: Default escalation
    levels:
      - delay: 15m
        targets:
          - type: user
            id: duty-manager
`

func TestLoadPolicies(t *testing.T) {
	set, err := LoadPolicies(strings.NewReader(policyYAML))
	if err != nil {
		t.Fatalf("LoadPolicies: %v", err)
	}
	if set.Len() != 2 {
		t.Errorf("expected 2 policies, got %d", set.Len())
	}

	p, err := set.ForService("checkout")
	if err != nil {
		t.Fatalf("ForService(checkout): %v", err)
	}
	if p.ID != "payments" {
		t.Errorf("expected payments policy for checkout, got %s", p.ID)
	}
	if len(p.Levels) != 2 {
		t.Errorf("expected 2 levels, got %d", len(p.Levels))
	}
	if got := p.GetInitialDelayDuration(); got.Seconds() != 30 {
		t.Errorf("expected 30s initial delay, got %v", got)
	}
}

func TestForServiceFallsBackToDefault(t *testing.T) {
	set, err := LoadPolicies(strings.NewReader(policyYAML))
	if err != nil {
		t.Fatalf("LoadPolicies: %v", err)
	}

	p, err := set.ForService("unclaimed-service")
	if err != nil {
		t.Fatalf("ForService: %v", err)
	}
	if p.ID != "catch-all" {
		t.Errorf("expected default policy, got %s", p.ID)
	}
}

func TestForServiceSnapshotIsolation(t *testing.T) {
	set, err := LoadPolicies(strings.NewReader(policyYAML))
	if err != nil {
		t.Fatalf("LoadPolicies: %v", err)
	}

	p1, err := set.ForService("checkout")
	if err != nil {
		t.Fatalf("ForService: %v", err)
	}
	p1.Levels[0].Delay = "1s"
	p1.Levels[0].Targets[0].ID = "mutated"

	p2, err := set.ForService("checkout")
	if err != nil {
		t.Fatalf("ForService: %v", err)
	}
	if p2.Levels[0].Delay != "5m" {
		t.Errorf("snapshot mutation leaked into the set: delay %s", p2.Levels[0].Delay)
	}
	if p2.Levels[0].Targets[0].ID != "payments-primary" {
		t.Errorf("snapshot mutation leaked into the set: target %s", p2.Levels[0].Targets[0].ID)
	}
}

func TestLoadPoliciesRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{
			name: "duplicate policy id",
			yaml: `
policies:
  - id: a
    name: A
    levels:
      - delay: 1m
        targets: [{type: user, id: u1}]
  - id: a
    name: A again
    levels:
      - delay: 1m
        targets: [{type: user, id: u1}]
`,
		},
		{
			name: "duplicate service claim",
			yaml: `
policies:
  - id: a
    name: A
    services: [svc]
    levels:
      - delay: 1m
        targets: [{type: user, id: u1}]
  - id: b
    name: B
    services: [svc]
    levels:
      - delay: 1m
        targets: [{type: user, id: u1}]
`,
		},
		{
			name: "unknown default",
			yaml: `
default: missing
policies:
  - id: a
    name: A
    levels:
      - delay: 1m
        targets: [{type: user, id: u1}]
`,
		},
		{
			name: "level without targets",
			yaml: `
policies:
  - id: a
    name: A
    levels:
      - delay: 1m
        targets: []
`,
		},
		{
			name: "unknown key",
			yaml: `
policies:
  - id: a
    name: A
    service_identifiers: [svc]
    levels:
      - delay: 1m
        targets: [{type: user, id: u1}]
`,
		},
		{
			name: "bad delay",
			yaml: `
policies:
  - id: a
    name: A
    levels:
      - delay: soon
        targets: [{type: user, id: u1}]
`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := LoadPolicies(strings.NewReader(tt.yaml)); err == nil {
				t.Error("expected error, got nil")
			}
		})
	}
}

func TestForServiceNoPolicyNoDefault(t *testing.T) {
	set, err := LoadPolicies(strings.NewReader(`
policies:
  - id: a
    name: A
    services: [svc]
    levels:
      - delay: 1m
        targets: [{type: user, id: u1}]
`))
	if err != nil {
		t.Fatalf("LoadPolicies: %v", err)
	}
	if _, err := set.ForService("other"); err == nil {
		t.Error("expected error for unclaimed service with no default")
	}
}
