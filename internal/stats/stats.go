package stats

import (
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// #region average

// Average is an incremental mean accumulator. After n calls to Add it holds
// the arithmetic mean of the contributed values, computed with the stable
// update avg += (v - avg) / n rather than a running sum.
type Average struct {
	n   int
	avg float64
}

// Add folds one value into the mean.
func (a *Average) Add(v float64) {
	a.n++
	a.avg += (v - a.avg) / float64(a.n)
}

// Value returns the current mean (0 before the first Add).
func (a *Average) Value() float64 { return a.avg }

// Count returns the number of values folded in since the last Reset.
func (a *Average) Count() int { return a.n }

// Reset zeroes the accumulator.
func (a *Average) Reset() {
	a.n = 0
	a.avg = 0
}

// #endregion average

// #region vector-average

// VectorAverage is the element-wise analog of Average for fixed-width
// vectors, used for per-target error tracking.
type VectorAverage struct {
	n   int
	avg []float64
}

// NewVectorAverage creates an accumulator over vectors of the given width.
func NewVectorAverage(dim int) *VectorAverage {
	return &VectorAverage{avg: make([]float64, dim)}
}

// Add folds one vector into the mean. The vector width must match the
// accumulator width.
func (a *VectorAverage) Add(v []float64) {
	a.n++
	n := float64(a.n)
	for i := range a.avg {
		a.avg[i] += (v[i] - a.avg[i]) / n
	}
}

// Values returns a copy of the current element-wise mean.
func (a *VectorAverage) Values() []float64 {
	out := make([]float64, len(a.avg))
	copy(out, a.avg)
	return out
}

// Count returns the number of vectors folded in since the last Reset.
func (a *VectorAverage) Count() int { return a.n }

// Reset zeroes the accumulator.
func (a *VectorAverage) Reset() {
	a.n = 0
	for i := range a.avg {
		a.avg[i] = 0
	}
}

// #endregion vector-average

// #region mae

// MAE computes the mean absolute error between predictions and truth, both
// shaped batch x targets. It returns the scalar mean over all targets and the
// per-target error vector.
func MAE(preds, truth *mat.Dense) (meanMAE float64, mae []float64) {
	rows, cols := preds.Dims()
	mae = make([]float64, cols)
	for j := 0; j < cols; j++ {
		var sum float64
		for i := 0; i < rows; i++ {
			sum += math.Abs(preds.At(i, j) - truth.At(i, j))
		}
		mae[j] = sum / float64(rows)
	}
	meanMAE = stat.Mean(mae, nil)
	return meanMAE, mae
}

// MeanLog returns the mean of the natural logs of v. With per-target MAE as
// input this is the mean log MAE used for cross-target comparison.
func MeanLog(v []float64) float64 {
	logs := make([]float64, len(v))
	for i, x := range v {
		logs[i] = math.Log(x)
	}
	return stat.Mean(logs, nil)
}

// #endregion mae
