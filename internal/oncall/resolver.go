// Package oncall resolves escalation policy targets to concrete users.
// Rotation construction happens upstream; this package only answers
// "who is on call for this selector at this instant".
package oncall

import (
	"fmt"
	"io"
	"os"
	"sort"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/good-yellow-bee/flarepage/internal/models"
)

// Resolver resolves a policy level's selectors to user IDs at an instant.
type Resolver interface {
	ResolveTargets(level models.PolicyLevel, serviceID string, now time.Time) ([]string, error)
}

// Team is a named group of responders.
type Team struct {
	ID      string   `yaml:"id"`
	Members []string `yaml:"members"`
}

// Shift is one on-call span within a schedule.
type Shift struct {
	User  string    `yaml:"user"`
	From  time.Time `yaml:"from"`
	Until time.Time `yaml:"until"`
}

// Schedule is a precomputed on-call rotation: a list of shifts.
type Schedule struct {
	ID     string  `yaml:"id"`
	Shifts []Shift `yaml:"shifts"`
}

// OnCallAt returns the users on call at the given instant.
func (s *Schedule) OnCallAt(now time.Time) []string {
	var users []string
	for _, shift := range s.Shifts {
		if !now.Before(shift.From) && now.Before(shift.Until) {
			users = append(users, shift.User)
		}
	}
	return users
}

// directoryFile is the YAML layout of a schedule file.
type directoryFile struct {
	Teams     []Team     `yaml:"teams"`
	Schedules []Schedule `yaml:"schedules"`
}

// Directory is a schedule-file-backed Resolver. Safe for concurrent use;
// Reload swaps the whole dataset atomically.
type Directory struct {
	mu        sync.RWMutex
	teams     map[string]Team
	schedules map[string]Schedule
}

// NewDirectory creates an empty directory.
func NewDirectory() *Directory {
	return &Directory{
		teams:     make(map[string]Team),
		schedules: make(map[string]Schedule),
	}
}

// LoadDirectoryFromFile loads teams and schedules from a YAML file.
func LoadDirectoryFromFile(path string) (*Directory, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open schedule file: %w", err)
	}
	defer f.Close()

	return LoadDirectory(f)
}

// LoadDirectory loads teams and schedules from a reader.
func LoadDirectory(r io.Reader) (*Directory, error) {
	var file directoryFile
	decoder := yaml.NewDecoder(r)
	if err := decoder.Decode(&file); err != nil {
		return nil, fmt.Errorf("failed to parse schedule YAML: %w", err)
	}

	d := NewDirectory()
	if err := d.replace(file); err != nil {
		return nil, err
	}
	return d, nil
}

// ReloadFromFile replaces the directory contents from a file.
func (d *Directory) ReloadFromFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open schedule file: %w", err)
	}
	defer f.Close()

	var file directoryFile
	decoder := yaml.NewDecoder(f)
	if err := decoder.Decode(&file); err != nil {
		return fmt.Errorf("failed to parse schedule YAML: %w", err)
	}
	return d.replace(file)
}

func (d *Directory) replace(file directoryFile) error {
	teams := make(map[string]Team, len(file.Teams))
	for i, team := range file.Teams {
		if team.ID == "" {
			return fmt.Errorf("team at index %d: id is required", i)
		}
		if len(team.Members) == 0 {
			return fmt.Errorf("team %q: at least one member is required", team.ID)
		}
		teams[team.ID] = team
	}

	schedules := make(map[string]Schedule, len(file.Schedules))
	for i, schedule := range file.Schedules {
		if schedule.ID == "" {
			return fmt.Errorf("schedule at index %d: id is required", i)
		}
		for j, shift := range schedule.Shifts {
			if shift.User == "" {
				return fmt.Errorf("schedule %q shift %d: user is required", schedule.ID, j)
			}
			if !shift.Until.After(shift.From) {
				return fmt.Errorf("schedule %q shift %d: until must be after from", schedule.ID, j)
			}
		}
		schedules[schedule.ID] = schedule
	}

	d.mu.Lock()
	d.teams = teams
	d.schedules = schedules
	d.mu.Unlock()
	return nil
}

// ResolveTargets expands every selector of the level into user IDs,
// deduplicated and sorted. An empty result is not an error here; the
// escalation scheduler decides how to react to an unstaffed level.
func (d *Directory) ResolveTargets(level models.PolicyLevel, serviceID string, now time.Time) ([]string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	seen := make(map[string]bool)
	var users []string
	add := func(user string) {
		if user != "" && !seen[user] {
			seen[user] = true
			users = append(users, user)
		}
	}

	for _, target := range level.Targets {
		switch target.Type {
		case models.TargetUser:
			add(target.ID)
		case models.TargetTeam:
			team, ok := d.teams[target.ID]
			if !ok {
				return nil, fmt.Errorf("unknown team: %q", target.ID)
			}
			for _, member := range team.Members {
				add(member)
			}
		case models.TargetSchedule:
			schedule, ok := d.schedules[target.ID]
			if !ok {
				return nil, fmt.Errorf("unknown schedule: %q", target.ID)
			}
			for _, user := range schedule.OnCallAt(now) {
				add(user)
			}
		default:
			return nil, fmt.Errorf("invalid target type: %q", target.Type)
		}
	}

	sort.Strings(users)
	return users, nil
}
