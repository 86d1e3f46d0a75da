package dataset

import (
	"encoding/json"
	"fmt"
	"os"

	"gonum.org/v1/gonum/mat"
)

// #region molecule

// Molecule is one raw example: atomic numbers, 3D positions, and a value per
// named target property.
type Molecule struct {
	Z       []int              `json:"z"`
	R       [][3]float64       `json:"r"`
	Targets map[string]float64 `json:"targets"`
}

// #endregion molecule

// #region container

// Container holds a loaded dataset together with the interaction cutoff and
// the ordered list of target keys the run predicts.
type Container struct {
	molecules  []Molecule
	cutoff     float64
	targetKeys []string
}

// NewContainer loads a molecule file and validates that every example carries
// every requested target key.
func NewContainer(path string, cutoff float64, targetKeys []string) (*Container, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("dataset: read %s: %w", path, err)
	}
	var molecules []Molecule
	if err := json.Unmarshal(raw, &molecules); err != nil {
		return nil, fmt.Errorf("dataset: parse %s: %w", path, err)
	}
	if len(molecules) == 0 {
		return nil, fmt.Errorf("dataset: %s contains no molecules", path)
	}
	for i, m := range molecules {
		if len(m.Z) == 0 || len(m.Z) != len(m.R) {
			return nil, fmt.Errorf("dataset: molecule %d has %d atomic numbers but %d positions", i, len(m.Z), len(m.R))
		}
		for _, k := range targetKeys {
			if _, ok := m.Targets[k]; !ok {
				return nil, fmt.Errorf("dataset: molecule %d missing target %q", i, k)
			}
		}
	}
	return &Container{molecules: molecules, cutoff: cutoff, targetKeys: targetKeys}, nil
}

// Len returns the number of examples in the dataset.
func (c *Container) Len() int { return len(c.molecules) }

// Cutoff returns the pairwise interaction cutoff radius.
func (c *Container) Cutoff() float64 { return c.cutoff }

// TargetKeys returns the ordered target names.
func (c *Container) TargetKeys() []string { return c.targetKeys }

// targetRow returns molecule i's target values in key order.
func (c *Container) targetRow(i int) []float64 {
	row := make([]float64, len(c.targetKeys))
	for j, k := range c.targetKeys {
		row[j] = c.molecules[i].Targets[k]
	}
	return row
}

// #endregion container

// #region batch

// Batch is one drawn batch: the molecules plus their dense target matrix
// (len(Molecules) rows, one column per target key).
type Batch struct {
	Molecules []Molecule
	Targets   *mat.Dense
}

// Size returns the number of molecules in the batch.
func (b Batch) Size() int { return len(b.Molecules) }

// #endregion batch
