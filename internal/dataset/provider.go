package dataset

import (
	"fmt"
	"math/rand"

	"gonum.org/v1/gonum/mat"
)

// #region provider

// Provider splits a container into train/validation index sets (the remainder
// is an implicit test split) and hands out batch streams over the splits.
type Provider struct {
	container *Container
	train     []int
	valid     []int
	batchSize int
}

// NewProvider splits the dataset with a seeded shuffle. With randomized set
// to false the split follows file order, which is only useful in tests.
func NewProvider(c *Container, numTrain, numValid, batchSize int, seed int64, randomized bool) (*Provider, error) {
	if numTrain <= 0 {
		return nil, fmt.Errorf("dataset: num_train must be positive, got %d", numTrain)
	}
	if numValid < 0 {
		return nil, fmt.Errorf("dataset: num_valid must be non-negative, got %d", numValid)
	}
	if batchSize <= 0 {
		return nil, fmt.Errorf("dataset: batch_size must be positive, got %d", batchSize)
	}
	if numTrain+numValid > c.Len() {
		return nil, fmt.Errorf("dataset: split %d+%d exceeds dataset size %d", numTrain, numValid, c.Len())
	}
	idx := make([]int, c.Len())
	for i := range idx {
		idx[i] = i
	}
	if randomized {
		r := rand.New(rand.NewSource(seed))
		r.Shuffle(len(idx), func(i, j int) { idx[i], idx[j] = idx[j], idx[i] })
	}
	return &Provider{
		container: c,
		train:     idx[:numTrain],
		valid:     idx[numTrain : numTrain+numValid],
		batchSize: batchSize,
	}, nil
}

// Stream returns an unbounded cyclic batch iterator over the named split
// ("train" or "val").
func (p *Provider) Stream(split string) (*Stream, error) {
	switch split {
	case "train":
		return &Stream{container: p.container, idx: p.train, batchSize: p.batchSize}, nil
	case "val":
		return &Stream{container: p.container, idx: p.valid, batchSize: p.batchSize}, nil
	default:
		return nil, fmt.Errorf("dataset: unknown split %q", split)
	}
}

// #endregion provider

// #region stream

// Stream cycles through a split endlessly: exhaustion transparently restarts
// from the beginning of the split.
type Stream struct {
	container *Container
	idx       []int
	batchSize int
	pos       int
}

// Next draws the next batch. On an empty split it returns an empty batch.
func (s *Stream) Next() Batch {
	if len(s.idx) == 0 {
		return Batch{}
	}
	n := s.batchSize
	molecules := make([]Molecule, 0, n)
	targets := make([]float64, 0, n*len(s.container.targetKeys))
	for i := 0; i < n; i++ {
		j := s.idx[s.pos]
		molecules = append(molecules, s.container.molecules[j])
		targets = append(targets, s.container.targetRow(j)...)
		s.pos = (s.pos + 1) % len(s.idx)
	}
	return Batch{
		Molecules: molecules,
		Targets:   mat.NewDense(n, len(s.container.targetKeys), targets),
	}
}

// #endregion stream
