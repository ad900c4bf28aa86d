// Package runstate persists a summary of one simulation run: when it
// ran, how many presses were delivered, and the worker group's final
// state. The summary is written atomically so an interrupted run never
// leaves a torn file.
package runstate

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/iambrandonn/eswgpio/internal/fsutil"
)

// RunState is the persisted summary of a run
type RunState struct {
	RunID        string            `json:"run_id"`
	Version      string            `json:"version"`
	StartedAt    time.Time         `json:"started_at"`
	CompletedAt  *time.Time        `json:"completed_at,omitempty"`
	Presses      int               `json:"presses"`
	FinalState   string            `json:"final_state,omitempty"`
	ToggleCounts map[string]uint64 `json:"toggle_counts,omitempty"`
}

// New creates a run state stamped with a fresh run ID
func New(version string) *RunState {
	return &RunState{
		RunID:        fmt.Sprintf("run-%s-%s", time.Now().UTC().Format("20060102-150405"), uuid.New().String()[:8]),
		Version:      version,
		StartedAt:    time.Now().UTC(),
		ToggleCounts: make(map[string]uint64),
	}
}

// MarkCompleted records the final group state and toggle counts
func (s *RunState) MarkCompleted(finalState string, toggleCounts map[string]uint64) {
	now := time.Now().UTC()
	s.CompletedAt = &now
	s.FinalState = finalState
	if toggleCounts != nil {
		s.ToggleCounts = toggleCounts
	}
}

// RecordPress counts one delivered button press
func (s *RunState) RecordPress() {
	s.Presses++
}

// Save writes the run state to disk atomically
func Save(state *RunState, path string) error {
	return fsutil.AtomicWriteJSON(path, state)
}

// Load reads a run state from disk
func Load(path string) (*RunState, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read run state: %w", err)
	}

	var state RunState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("failed to unmarshal run state: %w", err)
	}
	if state.ToggleCounts == nil {
		state.ToggleCounts = make(map[string]uint64)
	}

	return &state, nil
}

// Path returns the standard run-state location under a state directory
func Path(stateDir string) string {
	return filepath.Join(stateDir, "run.json")
}
