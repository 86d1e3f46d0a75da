package dataset

import (
	"encoding/json"
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func writeDataset(t *testing.T, n int) string {
	t.Helper()
	molecules := make([]Molecule, n)
	for i := range molecules {
		molecules[i] = Molecule{
			Z: []int{1, 8, 1},
			R: [][3]float64{{0, 0, 0}, {0.96, 0, 0}, {1.2, 0.76, 0}},
			Targets: map[string]float64{
				"U0": float64(i),
				"mu": float64(i) * 0.1,
			},
		}
	}
	raw, err := json.Marshal(molecules)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	path := filepath.Join(t.TempDir(), "mols.json")
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	return path
}

func TestNewContainerValidatesTargets(t *testing.T) {
	path := writeDataset(t, 5)
	if _, err := NewContainer(path, 5.0, []string{"U0", "mu"}); err != nil {
		t.Fatalf("NewContainer: %v", err)
	}
	if _, err := NewContainer(path, 5.0, []string{"U0", "missing"}); err == nil {
		t.Fatal("expected error for missing target key")
	}
}

func TestNewContainerRejectsMalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.json")
	if err := os.WriteFile(path, []byte("not json"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := NewContainer(path, 5.0, []string{"U0"}); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestProviderSplitSizes(t *testing.T) {
	c, err := NewContainer(writeDataset(t, 20), 5.0, []string{"U0"})
	if err != nil {
		t.Fatalf("NewContainer: %v", err)
	}
	p, err := NewProvider(c, 12, 4, 3, 7, true)
	if err != nil {
		t.Fatalf("NewProvider: %v", err)
	}
	if len(p.train) != 12 || len(p.valid) != 4 {
		t.Fatalf("split sizes train=%d valid=%d", len(p.train), len(p.valid))
	}

	if _, err := NewProvider(c, 15, 10, 3, 7, true); err == nil {
		t.Fatal("expected error for oversized split")
	}
}

func TestProviderSplitIsSeedDeterministic(t *testing.T) {
	c, err := NewContainer(writeDataset(t, 30), 5.0, []string{"U0"})
	if err != nil {
		t.Fatalf("NewContainer: %v", err)
	}
	a, _ := NewProvider(c, 10, 5, 2, 42, true)
	b, _ := NewProvider(c, 10, 5, 2, 42, true)
	if !reflect.DeepEqual(a.train, b.train) || !reflect.DeepEqual(a.valid, b.valid) {
		t.Fatal("same seed produced different splits")
	}
	d, _ := NewProvider(c, 10, 5, 2, 43, true)
	if reflect.DeepEqual(a.train, d.train) {
		t.Fatal("different seeds produced identical train split")
	}
}

func TestStreamCyclesThroughSplit(t *testing.T) {
	c, err := NewContainer(writeDataset(t, 10), 5.0, []string{"U0"})
	if err != nil {
		t.Fatalf("NewContainer: %v", err)
	}
	// Unrandomized: train split is molecules 0..4 with U0 = 0..4.
	p, err := NewProvider(c, 5, 0, 2, 0, false)
	if err != nil {
		t.Fatalf("NewProvider: %v", err)
	}
	s, err := p.Stream("train")
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}

	var seen []float64
	for i := 0; i < 5; i++ { // 10 examples drawn from a split of 5
		b := s.Next()
		if b.Size() != 2 {
			t.Fatalf("batch size %d", b.Size())
		}
		rows, cols := b.Targets.Dims()
		if rows != 2 || cols != 1 {
			t.Fatalf("target dims %dx%d", rows, cols)
		}
		seen = append(seen, b.Targets.At(0, 0), b.Targets.At(1, 0))
	}
	want := []float64{0, 1, 2, 3, 4, 0, 1, 2, 3, 4}
	if !reflect.DeepEqual(seen, want) {
		t.Fatalf("cyclic draw order %v, want %v", seen, want)
	}
}

func TestStreamEmptySplit(t *testing.T) {
	c, err := NewContainer(writeDataset(t, 5), 5.0, []string{"U0"})
	if err != nil {
		t.Fatalf("NewContainer: %v", err)
	}
	p, err := NewProvider(c, 5, 0, 2, 0, false)
	if err != nil {
		t.Fatalf("NewProvider: %v", err)
	}
	s, err := p.Stream("val")
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	if b := s.Next(); b.Size() != 0 {
		t.Fatalf("expected empty batch, got %d molecules", b.Size())
	}

	if _, err := p.Stream("test"); err == nil {
		t.Fatal("expected error for unknown split")
	}
}
