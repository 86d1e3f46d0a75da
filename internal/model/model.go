// Package model implements the property-prediction network: a fixed
// radial/angular descriptor front end with an envelope-damped cutoff, followed
// by a dense trunk with residual interaction blocks trained by backprop.
package model

import (
	"encoding/json"
	"fmt"
	"math"
	"math/rand"
	"os"
	"path/filepath"

	"gonum.org/v1/gonum/mat"

	"github.com/propnet-ml/propnet/internal/atomicfile"
	"github.com/propnet-ml/propnet/internal/dataset"
)

// #region config

// Config fixes the network architecture. NumRadial and NumSpherical size the
// descriptor, the remaining counts size the trunk.
type Config struct {
	NumFeatures      int
	NumBlocks        int
	NumBilinear      int
	NumSpherical     int
	NumRadial        int
	NumBeforeSkip    int
	NumAfterSkip     int
	NumDenseOutput   int
	Cutoff           float64
	EnvelopeExponent int
	NumTargets       int
	Seed             int64
}

// #endregion config

// #region net

// Net is the assembled network. Parameter storage is exposed as flat float64
// slices (see Variables) so the trainer and checkpoint manager can operate on
// it without knowing the layer structure.
type Net struct {
	cfg     Config
	descDim int
	embed   *dense
	blocks  []*block
	out     []*dense
	head    *dense
	layers  []*dense // all dense layers in Variables order
}

// New builds a network with deterministic seeded initialization.
func New(cfg Config) (*Net, error) {
	if cfg.NumFeatures <= 0 || cfg.NumRadial <= 0 || cfg.NumSpherical <= 0 || cfg.NumTargets <= 0 {
		return nil, fmt.Errorf("model: invalid architecture (features=%d radial=%d spherical=%d targets=%d)",
			cfg.NumFeatures, cfg.NumRadial, cfg.NumSpherical, cfg.NumTargets)
	}
	if cfg.Cutoff <= 0 || cfg.EnvelopeExponent <= 0 {
		return nil, fmt.Errorf("model: invalid cutoff %g / envelope exponent %d", cfg.Cutoff, cfg.EnvelopeExponent)
	}
	r := rand.New(rand.NewSource(cfg.Seed))
	n := &Net{cfg: cfg, descDim: cfg.NumRadial + cfg.NumSpherical}

	n.embed = newDense("embed", n.descDim, cfg.NumFeatures, true, r)
	n.layers = append(n.layers, n.embed)

	for b := 0; b < cfg.NumBlocks; b++ {
		blk := &block{}
		prefix := fmt.Sprintf("block_%d", b)
		for i := 0; i < cfg.NumBeforeSkip; i++ {
			l := newDense(fmt.Sprintf("%s/pre_%d", prefix, i), cfg.NumFeatures, cfg.NumFeatures, true, r)
			blk.pre = append(blk.pre, l)
			n.layers = append(n.layers, l)
		}
		blk.in1 = newDense(prefix+"/bilinear_in", cfg.NumFeatures, cfg.NumBilinear, true, r)
		blk.in2 = newDense(prefix+"/bilinear_out", cfg.NumBilinear, cfg.NumFeatures, true, r)
		n.layers = append(n.layers, blk.in1, blk.in2)
		for i := 0; i < cfg.NumAfterSkip; i++ {
			l := newDense(fmt.Sprintf("%s/post_%d", prefix, i), cfg.NumFeatures, cfg.NumFeatures, true, r)
			blk.post = append(blk.post, l)
			n.layers = append(n.layers, l)
		}
		n.blocks = append(n.blocks, blk)
	}

	for i := 0; i < cfg.NumDenseOutput; i++ {
		l := newDense(fmt.Sprintf("output_%d", i), cfg.NumFeatures, cfg.NumFeatures, true, r)
		n.out = append(n.out, l)
		n.layers = append(n.layers, l)
	}
	n.head = newDense("head", cfg.NumFeatures, cfg.NumTargets, false, r)
	n.layers = append(n.layers, n.head)

	return n, nil
}

// NumTargets returns the width of the prediction head.
func (n *Net) NumTargets() int { return n.cfg.NumTargets }

// #endregion net

// #region forward

// Forward maps a batch to a predictions matrix (batch x targets). With
// training set, layer activations are cached for a following Gradients call.
func (n *Net) Forward(b dataset.Batch, training bool) *mat.Dense {
	if b.Size() == 0 {
		return nil
	}
	x := mat.NewDense(b.Size(), n.descDim, nil)
	for i, m := range b.Molecules {
		x.SetRow(i, n.descriptor(m))
	}
	h := n.embed.forward(x, training)
	for _, blk := range n.blocks {
		h = blk.forward(h, training)
	}
	for _, l := range n.out {
		h = l.forward(h, training)
	}
	return n.head.forward(h, training)
}

// Gradients backpropagates the loss gradient w.r.t. the predictions of the
// most recent training-mode Forward and returns parameter gradients aligned
// with Variables.
func (n *Net) Gradients(dPreds *mat.Dense) [][]float64 {
	dy := n.head.backward(dPreds)
	for i := len(n.out) - 1; i >= 0; i-- {
		dy = n.out[i].backward(dy)
	}
	for i := len(n.blocks) - 1; i >= 0; i-- {
		dy = n.blocks[i].backward(dy)
	}
	n.embed.backward(dy)

	grads := make([][]float64, 0, 2*len(n.layers))
	for _, l := range n.layers {
		grads = append(grads, l.gw.RawMatrix().Data, l.gb)
	}
	return grads
}

// #endregion forward

// #region variables

// Variables returns the parameter storage as flat slices in a stable order.
// The slices alias the network's weights: writes through them mutate the
// model, which is what the trainer's update and swap operations rely on.
func (n *Net) Variables() [][]float64 {
	vars := make([][]float64, 0, 2*len(n.layers))
	for _, l := range n.layers {
		vars = append(vars, l.w.RawMatrix().Data, l.b)
	}
	return vars
}

// VariableNames returns names aligned with Variables.
func (n *Net) VariableNames() []string {
	names := make([]string, 0, 2*len(n.layers))
	for _, l := range n.layers {
		names = append(names, l.name+"/w", l.name+"/b")
	}
	return names
}

// #endregion variables

// #region weights-io

const weightsFile = "weights.json"

// SaveWeights persists the parameters to dir/weights.json atomically.
func (n *Net) SaveWeights(dir string) error {
	record := make(map[string][]float64, 2*len(n.layers))
	names := n.VariableNames()
	for i, v := range n.Variables() {
		record[names[i]] = v
	}
	raw, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("model: marshal weights: %w", err)
	}
	if err := atomicfile.WriteFile(filepath.Join(dir, weightsFile), raw); err != nil {
		return fmt.Errorf("model: save weights: %w", err)
	}
	return nil
}

// LoadWeights restores parameters previously written by SaveWeights.
func (n *Net) LoadWeights(dir string) error {
	raw, err := os.ReadFile(filepath.Join(dir, weightsFile))
	if err != nil {
		return fmt.Errorf("model: read weights: %w", err)
	}
	var record map[string][]float64
	if err := json.Unmarshal(raw, &record); err != nil {
		return fmt.Errorf("model: parse weights: %w", err)
	}
	names := n.VariableNames()
	for i, v := range n.Variables() {
		stored, ok := record[names[i]]
		if !ok {
			return fmt.Errorf("model: weights file missing %q", names[i])
		}
		if len(stored) != len(v) {
			return fmt.Errorf("model: %q has %d values, expected %d", names[i], len(stored), len(v))
		}
		copy(v, stored)
	}
	return nil
}

// #endregion weights-io

// #region dense

// dense is one fully connected layer, optionally followed by SiLU.
type dense struct {
	name string
	w    *mat.Dense // in x out
	b    []float64
	act  bool

	// forward caches for backprop
	x *mat.Dense
	z *mat.Dense

	// gradient storage, written by backward
	gw *mat.Dense
	gb []float64
}

func newDense(name string, in, out int, act bool, r *rand.Rand) *dense {
	w := mat.NewDense(in, out, nil)
	scale := math.Sqrt(2.0 / float64(in+out))
	for i := 0; i < in; i++ {
		for j := 0; j < out; j++ {
			w.Set(i, j, r.NormFloat64()*scale)
		}
	}
	return &dense{
		name: name,
		w:    w,
		b:    make([]float64, out),
		act:  act,
		gw:   mat.NewDense(in, out, nil),
		gb:   make([]float64, out),
	}
}

func (d *dense) forward(x *mat.Dense, cache bool) *mat.Dense {
	rows, _ := x.Dims()
	_, out := d.w.Dims()
	z := mat.NewDense(rows, out, nil)
	z.Mul(x, d.w)
	for i := 0; i < rows; i++ {
		for j := 0; j < out; j++ {
			z.Set(i, j, z.At(i, j)+d.b[j])
		}
	}
	if cache {
		d.x = x
		d.z = z
	}
	if !d.act {
		return z
	}
	y := mat.NewDense(rows, out, nil)
	for i := 0; i < rows; i++ {
		for j := 0; j < out; j++ {
			y.Set(i, j, silu(z.At(i, j)))
		}
	}
	return y
}

// backward consumes dL/dy, fills gw/gb, and returns dL/dx.
func (d *dense) backward(dy *mat.Dense) *mat.Dense {
	rows, out := dy.Dims()
	dz := dy
	if d.act {
		dz = mat.NewDense(rows, out, nil)
		for i := 0; i < rows; i++ {
			for j := 0; j < out; j++ {
				dz.Set(i, j, dy.At(i, j)*siluPrime(d.z.At(i, j)))
			}
		}
	}
	d.gw.Mul(d.x.T(), dz)
	for j := 0; j < out; j++ {
		var sum float64
		for i := 0; i < rows; i++ {
			sum += dz.At(i, j)
		}
		d.gb[j] = sum
	}
	in, _ := d.w.Dims()
	dx := mat.NewDense(rows, in, nil)
	dx.Mul(dz, d.w.T())
	return dx
}

func silu(x float64) float64 {
	return x / (1 + math.Exp(-x))
}

func siluPrime(x float64) float64 {
	s := 1 / (1 + math.Exp(-x))
	return s * (1 + x*(1-s))
}

// #endregion dense

// #region block

// block is one interaction block: optional dense layers, a bilinear
// bottleneck, a residual skip from the block input, then optional dense
// layers after the skip.
type block struct {
	pre  []*dense
	in1  *dense
	in2  *dense
	post []*dense
}

func (b *block) forward(x *mat.Dense, cache bool) *mat.Dense {
	h := x
	for _, l := range b.pre {
		h = l.forward(h, cache)
	}
	h = b.in2.forward(b.in1.forward(h, cache), cache)
	rows, cols := x.Dims()
	s := mat.NewDense(rows, cols, nil)
	s.Add(x, h)
	for _, l := range b.post {
		s = l.forward(s, cache)
	}
	return s
}

func (b *block) backward(dy *mat.Dense) *mat.Dense {
	for i := len(b.post) - 1; i >= 0; i-- {
		dy = b.post[i].backward(dy)
	}
	// The skip sum routes dy both into the bottleneck branch and directly
	// to the block input.
	dt := b.in1.backward(b.in2.backward(dy))
	for i := len(b.pre) - 1; i >= 0; i-- {
		dt = b.pre[i].backward(dt)
	}
	rows, cols := dy.Dims()
	dx := mat.NewDense(rows, cols, nil)
	dx.Add(dy, dt)
	return dx
}

// #endregion block
