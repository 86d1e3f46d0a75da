// Package checkpoint persists and restores training snapshots: the step
// counter, the optimizer state, and the model parameters. Snapshots rotate
// with a fixed retention, oldest first.
package checkpoint

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/propnet-ml/propnet/internal/atomicfile"
	"github.com/propnet-ml/propnet/internal/model"
	"github.com/propnet-ml/propnet/internal/trainer"
)

// DefaultMaxToKeep is the retention used by the training loop.
const DefaultMaxToKeep = 3

// #region snapshot

// snapshot is the on-disk layout of one checkpoint file. The format is owned
// by this package; callers treat checkpoints as opaque.
type snapshot struct {
	Step      int                  `json:"step"`
	SavedAt   time.Time            `json:"saved_at"`
	Variables map[string][]float64 `json:"variables"`
	Optimizer trainer.State        `json:"optimizer"`
}

// #endregion snapshot

// #region manager

// Manager writes rotating step checkpoints into a directory.
type Manager struct {
	dir       string
	maxToKeep int
}

// NewManager creates a manager over dir, retaining at most maxToKeep
// snapshots.
func NewManager(dir string, maxToKeep int) *Manager {
	return &Manager{dir: dir, maxToKeep: maxToKeep}
}

// Save persists the current step, model parameters, and optimizer state, then
// drops the oldest snapshots beyond the retention limit.
func (m *Manager) Save(step int, net *model.Net, tr *trainer.Trainer) error {
	vars := make(map[string][]float64)
	names := net.VariableNames()
	for i, v := range net.Variables() {
		vars[names[i]] = v
	}
	snap := snapshot{
		Step:      step,
		SavedAt:   time.Now().UTC(),
		Variables: vars,
		Optimizer: tr.OptimizerState(),
	}
	raw, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("checkpoint: marshal step %d: %w", step, err)
	}
	if err := atomicfile.WriteFile(m.path(step), raw); err != nil {
		return fmt.Errorf("checkpoint: save step %d: %w", step, err)
	}
	return m.rotate()
}

// Latest returns the highest checkpointed step, or 0 when none exists.
func (m *Manager) Latest() (int, error) {
	steps, err := m.steps()
	if err != nil {
		return 0, err
	}
	if len(steps) == 0 {
		return 0, nil
	}
	return steps[len(steps)-1], nil
}

// Restore loads the latest snapshot into the model and trainer and returns
// its step. Without any snapshot it returns 0 and leaves both untouched.
func (m *Manager) Restore(net *model.Net, tr *trainer.Trainer) (int, error) {
	step, err := m.Latest()
	if err != nil || step == 0 {
		return 0, err
	}
	raw, err := os.ReadFile(m.path(step))
	if err != nil {
		return 0, fmt.Errorf("checkpoint: read step %d: %w", step, err)
	}
	var snap snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return 0, fmt.Errorf("checkpoint: parse step %d: %w", step, err)
	}
	names := net.VariableNames()
	for i, v := range net.Variables() {
		stored, ok := snap.Variables[names[i]]
		if !ok {
			return 0, fmt.Errorf("checkpoint: step %d missing variable %q", step, names[i])
		}
		if len(stored) != len(v) {
			return 0, fmt.Errorf("checkpoint: variable %q has %d values, expected %d", names[i], len(stored), len(v))
		}
		copy(v, stored)
	}
	if err := tr.RestoreOptimizerState(snap.Optimizer); err != nil {
		return 0, fmt.Errorf("checkpoint: step %d: %w", step, err)
	}
	return snap.Step, nil
}

// Steps returns the retained checkpoint steps in ascending order.
func (m *Manager) Steps() ([]int, error) {
	return m.steps()
}

// #endregion manager

// #region rotation

func (m *Manager) path(step int) string {
	return filepath.Join(m.dir, fmt.Sprintf("ckpt-%d.json", step))
}

func (m *Manager) steps() ([]int, error) {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		return nil, fmt.Errorf("checkpoint: list %s: %w", m.dir, err)
	}
	var steps []int
	for _, e := range entries {
		var step int
		if _, err := fmt.Sscanf(e.Name(), "ckpt-%d.json", &step); err == nil {
			steps = append(steps, step)
		}
	}
	sort.Ints(steps)
	return steps, nil
}

func (m *Manager) rotate() error {
	steps, err := m.steps()
	if err != nil {
		return err
	}
	for len(steps) > m.maxToKeep {
		if err := os.Remove(m.path(steps[0])); err != nil {
			return fmt.Errorf("checkpoint: rotate step %d: %w", steps[0], err)
		}
		steps = steps[1:]
	}
	return nil
}

// #endregion rotation
