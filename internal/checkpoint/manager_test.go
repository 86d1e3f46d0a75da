package checkpoint

import (
	"reflect"
	"testing"

	"gonum.org/v1/gonum/mat"

	"github.com/propnet-ml/propnet/internal/dataset"
	"github.com/propnet-ml/propnet/internal/model"
	"github.com/propnet-ml/propnet/internal/trainer"
)

func testPair(t *testing.T, seed int64) (*model.Net, *trainer.Trainer) {
	t.Helper()
	n, err := model.New(model.Config{
		NumFeatures:      4,
		NumBlocks:        1,
		NumBilinear:      2,
		NumSpherical:     2,
		NumRadial:        3,
		NumDenseOutput:   1,
		Cutoff:           5.0,
		EnvelopeExponent: 5,
		NumTargets:       1,
		Seed:             seed,
	})
	if err != nil {
		t.Fatalf("model.New: %v", err)
	}
	return n, trainer.New(n, 1e-3, 0, 1000, 0.96, 0.99, 1000)
}

func testBatch() dataset.Batch {
	return dataset.Batch{
		Molecules: []dataset.Molecule{{
			Z: []int{1, 1},
			R: [][3]float64{{0, 0, 0}, {0.74, 0, 0}},
		}},
		Targets: mat.NewDense(1, 1, []float64{1}),
	}
}

func TestLatestOnEmptyDir(t *testing.T) {
	m := NewManager(t.TempDir(), 3)
	step, err := m.Latest()
	if err != nil {
		t.Fatalf("Latest: %v", err)
	}
	if step != 0 {
		t.Fatalf("expected 0, got %d", step)
	}
}

func TestRestoreWithoutSnapshotIsNoop(t *testing.T) {
	m := NewManager(t.TempDir(), 3)
	n, tr := testPair(t, 1)
	step, err := m.Restore(n, tr)
	if err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if step != 0 {
		t.Fatalf("expected step 0, got %d", step)
	}
}

func TestSaveRestoreRoundtrip(t *testing.T) {
	dir := t.TempDir()
	m := NewManager(dir, 3)
	n, tr := testPair(t, 1)

	// Advance the trainer so there is real optimizer state to carry.
	for i := 0; i < 4; i++ {
		preds := n.Forward(testBatch(), true)
		dPreds := mat.NewDense(1, 1, []float64{1})
		if err := tr.UpdateWeights(preds.At(0, 0), n.Gradients(dPreds)); err != nil {
			t.Fatalf("UpdateWeights: %v", err)
		}
	}
	if err := m.Save(4, n, tr); err != nil {
		t.Fatalf("Save: %v", err)
	}
	wantPred := n.Forward(testBatch(), false).At(0, 0)

	n2, tr2 := testPair(t, 99) // different init
	step, err := NewManager(dir, 3).Restore(n2, tr2)
	if err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if step != 4 {
		t.Fatalf("restored step %d, want 4", step)
	}
	if got := n2.Forward(testBatch(), false).At(0, 0); got != wantPred {
		t.Fatalf("restored prediction %g, want %g", got, wantPred)
	}
	if tr2.Step() != 4 {
		t.Fatalf("restored optimizer step %d", tr2.Step())
	}
}

func TestRotationKeepsNewestThree(t *testing.T) {
	dir := t.TempDir()
	m := NewManager(dir, 3)
	n, tr := testPair(t, 1)

	for _, step := range []int{5, 10, 15, 20, 25} {
		if err := m.Save(step, n, tr); err != nil {
			t.Fatalf("Save(%d): %v", step, err)
		}
	}
	steps, err := m.Steps()
	if err != nil {
		t.Fatalf("Steps: %v", err)
	}
	if !reflect.DeepEqual(steps, []int{15, 20, 25}) {
		t.Fatalf("retained steps %v", steps)
	}
	latest, err := m.Latest()
	if err != nil {
		t.Fatalf("Latest: %v", err)
	}
	if latest != 25 {
		t.Fatalf("latest %d", latest)
	}
}
