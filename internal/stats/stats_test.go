package stats

import (
	"math"
	"math/rand"
	"testing"

	"gonum.org/v1/gonum/mat"
)

func TestAverageMatchesArithmeticMean(t *testing.T) {
	r := rand.New(rand.NewSource(1))
	for _, n := range []int{1, 2, 7, 100, 1000} {
		var a Average
		var sum float64
		for i := 0; i < n; i++ {
			v := r.NormFloat64() * 10
			a.Add(v)
			sum += v
		}
		want := sum / float64(n)
		if math.Abs(a.Value()-want) > 1e-9 {
			t.Fatalf("n=%d: got %g, want %g", n, a.Value(), want)
		}
		if a.Count() != n {
			t.Fatalf("n=%d: count %d", n, a.Count())
		}
	}
}

func TestAverageReset(t *testing.T) {
	var a Average
	a.Add(5)
	a.Add(7)
	a.Reset()
	if a.Value() != 0 || a.Count() != 0 {
		t.Fatalf("after reset: value=%g count=%d", a.Value(), a.Count())
	}
	a.Add(3)
	if a.Value() != 3 {
		t.Fatalf("after reset+add: %g", a.Value())
	}
}

func TestVectorAverage(t *testing.T) {
	a := NewVectorAverage(2)
	a.Add([]float64{1, 10})
	a.Add([]float64{3, 20})
	a.Add([]float64{5, 30})
	got := a.Values()
	if math.Abs(got[0]-3) > 1e-12 || math.Abs(got[1]-20) > 1e-12 {
		t.Fatalf("got %v", got)
	}

	// Values must be a copy, not a view.
	got[0] = 999
	if a.Values()[0] == 999 {
		t.Fatal("Values returned internal slice")
	}
}

func TestMAE(t *testing.T) {
	preds := mat.NewDense(2, 2, []float64{1, 2, 3, 4})
	truth := mat.NewDense(2, 2, []float64{0, 4, 5, 4})
	meanMAE, mae := MAE(preds, truth)

	// target 0: (|1-0| + |3-5|)/2 = 1.5; target 1: (|2-4| + |4-4|)/2 = 1.0
	if math.Abs(mae[0]-1.5) > 1e-12 || math.Abs(mae[1]-1.0) > 1e-12 {
		t.Fatalf("mae = %v", mae)
	}
	if math.Abs(meanMAE-1.25) > 1e-12 {
		t.Fatalf("meanMAE = %g", meanMAE)
	}
}

func TestMeanLog(t *testing.T) {
	v := []float64{math.E, math.E * math.E}
	if got := MeanLog(v); math.Abs(got-1.5) > 1e-12 {
		t.Fatalf("MeanLog = %g", got)
	}
}
