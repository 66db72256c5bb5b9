package escalation

import (
	"fmt"
	"io"
	"os"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/good-yellow-bee/flarepage/internal/models"
)

// policiesFile is the YAML layout of a policy file.
type policiesFile struct {
	// Default names the policy used for services no policy claims.
	Default  string                    `yaml:"default,omitempty"`
	Policies []models.EscalationPolicy `yaml:"policies"`
}

// PolicySet holds the loaded escalation policies. Lookups return copies
// so a reload can never mutate a policy an incident already captured.
type PolicySet struct {
	mu        sync.RWMutex
	policies  map[string]models.EscalationPolicy // by policy ID
	byService map[string]string                  // service ID -> policy ID
	defaultID string
}

// NewPolicySet creates an empty policy set.
func NewPolicySet() *PolicySet {
	return &PolicySet{
		policies:  make(map[string]models.EscalationPolicy),
		byService: make(map[string]string),
	}
}

// LoadPoliciesFromFile loads escalation policies from a YAML file.
func LoadPoliciesFromFile(path string) (*PolicySet, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open policy file: %w", err)
	}
	defer f.Close()

	return LoadPolicies(f)
}

// LoadPolicies loads escalation policies from a reader.
func LoadPolicies(r io.Reader) (*PolicySet, error) {
	var file policiesFile
	decoder := yaml.NewDecoder(r)
	// A misspelled key would silently unclaim services, so reject it.
	decoder.KnownFields(true)
	if err := decoder.Decode(&file); err != nil {
		return nil, fmt.Errorf("failed to parse policy YAML: %w", err)
	}

	set := NewPolicySet()
	if err := set.replace(file); err != nil {
		return nil, err
	}
	return set, nil
}

// ReloadFromFile replaces the set's contents from a file. In-flight
// incidents keep their snapshots; only future triggers see the change.
func (s *PolicySet) ReloadFromFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open policy file: %w", err)
	}
	defer f.Close()

	var file policiesFile
	decoder := yaml.NewDecoder(f)
	if err := decoder.Decode(&file); err != nil {
		return fmt.Errorf("failed to parse policy YAML: %w", err)
	}
	return s.replace(file)
}

func (s *PolicySet) replace(file policiesFile) error {
	policies := make(map[string]models.EscalationPolicy, len(file.Policies))
	byService := make(map[string]string)

	for i := range file.Policies {
		policy := file.Policies[i]
		if err := policy.Validate(); err != nil {
			return fmt.Errorf("invalid policy at index %d: %w", i, err)
		}
		if _, dup := policies[policy.ID]; dup {
			return fmt.Errorf("duplicate policy id: %q", policy.ID)
		}
		policies[policy.ID] = policy
		for _, serviceID := range policy.ServiceIDs {
			if prev, dup := byService[serviceID]; dup {
				return fmt.Errorf("service %q claimed by policies %q and %q", serviceID, prev, policy.ID)
			}
			byService[serviceID] = policy.ID
		}
	}

	if file.Default != "" {
		if _, ok := policies[file.Default]; !ok {
			return fmt.Errorf("default policy %q not defined", file.Default)
		}
	}

	s.mu.Lock()
	s.policies = policies
	s.byService = byService
	s.defaultID = file.Default
	s.mu.Unlock()
	return nil
}

// ForService returns a copy of the policy covering the service, falling
// back to the default policy when no policy claims it.
func (s *PolicySet) ForService(serviceID string) (models.EscalationPolicy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byService[serviceID]
	if !ok {
		id = s.defaultID
	}
	policy, ok := s.policies[id]
	if !ok {
		return models.EscalationPolicy{}, fmt.Errorf("no escalation policy for service %q", serviceID)
	}
	return snapshot(policy), nil
}

// Len returns the number of loaded policies.
func (s *PolicySet) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.policies)
}

// snapshot deep-copies a policy so callers own their levels and targets.
func snapshot(p models.EscalationPolicy) models.EscalationPolicy {
	out := p
	out.ServiceIDs = append([]string(nil), p.ServiceIDs...)
	out.Levels = make([]models.PolicyLevel, len(p.Levels))
	for i, level := range p.Levels {
		out.Levels[i] = level
		out.Levels[i].Targets = append([]models.TargetSelector(nil), level.Targets...)
	}
	return out
}
