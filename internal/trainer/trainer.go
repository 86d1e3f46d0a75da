// Package trainer wraps the optimizer state around a model: Adam updates at a
// warmup/decay learning rate, global gradient-norm clipping, and an
// exponential moving average of the parameters used for validation.
package trainer

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/propnet-ml/propnet/internal/model"
)

const (
	adamBeta1   = 0.9
	adamBeta2   = 0.999
	adamEpsilon = 1e-8
)

// #region trainer

// Trainer owns the optimizer and the EMA/backup parameter shadows for one
// model. All operations mutate the model's parameter storage in place.
type Trainer struct {
	vars [][]float64 // aliases the model parameters

	lr          float64
	warmupSteps int
	decaySteps  int
	decayRate   float64
	emaDecay    float64
	maxGradNorm float64

	step   int
	m, v   [][]float64 // Adam moments
	ema    [][]float64 // shadow average of the parameters
	backup [][]float64 // live parameters saved across an EMA swap
}

// New creates a trainer for the model. The EMA shadow starts as a copy of the
// initial parameters.
func New(m *model.Net, lr float64, warmupSteps, decaySteps int, decayRate, emaDecay, maxGradNorm float64) *Trainer {
	vars := m.Variables()
	t := &Trainer{
		vars:        vars,
		lr:          lr,
		warmupSteps: warmupSteps,
		decaySteps:  decaySteps,
		decayRate:   decayRate,
		emaDecay:    emaDecay,
		maxGradNorm: maxGradNorm,
	}
	t.m = zerosLike(vars)
	t.v = zerosLike(vars)
	t.ema = copyOf(vars)
	t.backup = zerosLike(vars)
	return t
}

// #endregion trainer

// #region schedule

// LearningRate returns the scheduled rate at the given optimizer step:
// exponential decay scaled by a linear warmup ramp.
func (t *Trainer) LearningRate(step int) float64 {
	lr := t.lr * math.Pow(t.decayRate, float64(step)/float64(t.decaySteps))
	if t.warmupSteps > 0 && step < t.warmupSteps {
		lr *= float64(step) / float64(t.warmupSteps)
	}
	return lr
}

// #endregion schedule

// #region update

// UpdateWeights applies one optimizer step for the given loss and parameter
// gradients (aligned with the model's Variables). A non-finite loss aborts
// the run rather than poisoning the optimizer state.
func (t *Trainer) UpdateWeights(loss float64, grads [][]float64) error {
	if math.IsNaN(loss) || math.IsInf(loss, 0) {
		return fmt.Errorf("trainer: non-finite loss %g at step %d", loss, t.step+1)
	}
	if len(grads) != len(t.vars) {
		return fmt.Errorf("trainer: %d gradient tensors for %d variables", len(grads), len(t.vars))
	}

	// Global-norm clip across all gradient tensors.
	var sq float64
	for _, g := range grads {
		n := floats.Norm(g, 2)
		sq += n * n
	}
	norm := math.Sqrt(sq)
	if t.maxGradNorm > 0 && norm > t.maxGradNorm {
		scale := t.maxGradNorm / norm
		for _, g := range grads {
			floats.Scale(scale, g)
		}
	}

	t.step++
	lr := t.LearningRate(t.step)
	bc1 := 1 - math.Pow(adamBeta1, float64(t.step))
	bc2 := 1 - math.Pow(adamBeta2, float64(t.step))

	for i, p := range t.vars {
		g := grads[i]
		mi := t.m[i]
		vi := t.v[i]
		for j := range p {
			mi[j] = adamBeta1*mi[j] + (1-adamBeta1)*g[j]
			vi[j] = adamBeta2*vi[j] + (1-adamBeta2)*g[j]*g[j]
			mHat := mi[j] / bc1
			vHat := vi[j] / bc2
			p[j] -= lr * mHat / (math.Sqrt(vHat) + adamEpsilon)
		}
	}

	// Shadow average follows the live parameters.
	for i, p := range t.vars {
		e := t.ema[i]
		for j := range p {
			e[j] = t.emaDecay*e[j] + (1-t.emaDecay)*p[j]
		}
	}
	return nil
}

// Step returns the number of optimizer updates applied.
func (t *Trainer) Step() int { return t.step }

// #endregion update

// #region swap

// SaveVariableBackups copies the live parameters aside before an EMA swap.
func (t *Trainer) SaveVariableBackups() {
	for i, p := range t.vars {
		copy(t.backup[i], p)
	}
}

// LoadAveragedVariables overwrites the live parameters with the EMA shadow.
func (t *Trainer) LoadAveragedVariables() {
	for i, p := range t.vars {
		copy(p, t.ema[i])
	}
}

// RestoreVariableBackups restores the parameters saved by
// SaveVariableBackups.
func (t *Trainer) RestoreVariableBackups() {
	for i, p := range t.vars {
		copy(p, t.backup[i])
	}
}

// #endregion swap

// #region state

// State is the optimizer's checkpointable state.
type State struct {
	Step int         `json:"step"`
	M    [][]float64 `json:"m"`
	V    [][]float64 `json:"v"`
	EMA  [][]float64 `json:"ema"`
}

// OptimizerState snapshots the optimizer for the checkpoint manager.
func (t *Trainer) OptimizerState() State {
	return State{
		Step: t.step,
		M:    copyOf(t.m),
		V:    copyOf(t.v),
		EMA:  copyOf(t.ema),
	}
}

// RestoreOptimizerState reloads a snapshot produced by OptimizerState.
func (t *Trainer) RestoreOptimizerState(s State) error {
	if len(s.M) != len(t.vars) || len(s.V) != len(t.vars) || len(s.EMA) != len(t.vars) {
		return fmt.Errorf("trainer: snapshot has %d/%d/%d tensors for %d variables",
			len(s.M), len(s.V), len(s.EMA), len(t.vars))
	}
	for i := range t.vars {
		if len(s.M[i]) != len(t.vars[i]) {
			return fmt.Errorf("trainer: snapshot tensor %d has %d values, expected %d", i, len(s.M[i]), len(t.vars[i]))
		}
		copy(t.m[i], s.M[i])
		copy(t.v[i], s.V[i])
		copy(t.ema[i], s.EMA[i])
	}
	t.step = s.Step
	return nil
}

// #endregion state

// #region helpers

func zerosLike(vars [][]float64) [][]float64 {
	out := make([][]float64, len(vars))
	for i, v := range vars {
		out[i] = make([]float64, len(v))
	}
	return out
}

func copyOf(vars [][]float64) [][]float64 {
	out := make([][]float64, len(vars))
	for i, v := range vars {
		out[i] = make([]float64, len(v))
		copy(out[i], v)
	}
	return out
}

// #endregion helpers
