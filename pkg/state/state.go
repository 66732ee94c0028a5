package state

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// State represents the local tuxplan state.
type State struct {
	ActivePlan  string    `yaml:"active_plan,omitempty"`
	Group       string    `yaml:"group,omitempty"`
	Project     string    `yaml:"project,omitempty"`
	SubmittedAt time.Time `yaml:"submitted_at,omitempty"`
}

// stateFilePath returns the path to the state file.
func stateFilePath() (string, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("get current directory: %w", err)
	}

	// Walk up the directory tree looking for .git
	dir := cwd
	for {
		if _, err := os.Stat(filepath.Join(dir, ".git")); err == nil {
			return filepath.Join(dir, ".tuxplan", "state.yml"), nil
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			// Not in a repository, keep state next to the caller
			return filepath.Join(cwd, ".tuxplan", "state.yml"), nil
		}
		dir = parent
	}
}

// Path returns the location of the state file.
func Path() (string, error) {
	return stateFilePath()
}

// LoadState loads the state from the state file.
func LoadState() (*State, error) {
	path, err := stateFilePath()
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &State{}, nil
		}
		return nil, fmt.Errorf("read state file: %w", err)
	}

	var state State
	if err := yaml.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("parse state file: %w", err)
	}

	return &state, nil
}

// SaveState saves the state to the state file.
func SaveState(state *State) error {
	path, err := stateFilePath()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create state directory: %w", err)
	}

	data, err := yaml.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write state file: %w", err)
	}

	return nil
}

// GetActivePlan returns the uid of the last submitted plan.
func GetActivePlan() (string, error) {
	state, err := LoadState()
	if err != nil {
		return "", err
	}
	return state.ActivePlan, nil
}

// SetActivePlan records uid as the active plan of group/project.
func SetActivePlan(uid, group, project string) error {
	state, err := LoadState()
	if err != nil {
		return err
	}

	state.ActivePlan = uid
	state.Group = group
	state.Project = project
	state.SubmittedAt = time.Now().UTC().Truncate(time.Second)
	return SaveState(state)
}

// ClearActivePlan clears the active plan from the state.
func ClearActivePlan() error {
	state, err := LoadState()
	if err != nil {
		return err
	}

	*state = State{}
	return SaveState(state)
}
