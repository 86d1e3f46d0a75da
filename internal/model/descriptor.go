package model

import (
	"math"

	"github.com/propnet-ml/propnet/internal/dataset"
)

// #region descriptor

// descriptor maps one molecule to its fixed feature vector: NumRadial sine
// radial basis sums over atom pairs inside the cutoff, then NumSpherical
// cosine angular basis sums over bonded triplets, all damped by the
// polynomial envelope and normalized by atom count.
func (n *Net) descriptor(m dataset.Molecule) []float64 {
	feat := make([]float64, n.descDim)
	cutoff := n.cfg.Cutoff
	p := float64(n.cfg.EnvelopeExponent)
	atoms := len(m.R)

	// Radial part over unordered pairs.
	for i := 0; i < atoms; i++ {
		for j := i + 1; j < atoms; j++ {
			d := distance(m.R[i], m.R[j])
			if d <= 0 || d >= cutoff {
				continue
			}
			u := d / cutoff
			env := envelope(u, p)
			for k := 0; k < n.cfg.NumRadial; k++ {
				feat[k] += env * math.Sin(float64(k+1)*math.Pi*u) / d
			}
		}
	}

	// Angular part over triplets sharing a center atom.
	for c := 0; c < atoms; c++ {
		for i := 0; i < atoms; i++ {
			if i == c {
				continue
			}
			di := distance(m.R[i], m.R[c])
			if di <= 0 || di >= cutoff {
				continue
			}
			for k := i + 1; k < atoms; k++ {
				if k == c {
					continue
				}
				dk := distance(m.R[k], m.R[c])
				if dk <= 0 || dk >= cutoff {
					continue
				}
				theta := math.Acos(cosAngle(m.R[i], m.R[c], m.R[k], di, dk))
				env := envelope(di/cutoff, p) * envelope(dk/cutoff, p)
				for s := 0; s < n.cfg.NumSpherical; s++ {
					feat[n.cfg.NumRadial+s] += env * math.Cos(float64(s)*theta)
				}
			}
		}
	}

	inv := 1 / float64(atoms)
	for i := range feat {
		feat[i] *= inv
	}
	return feat
}

// #endregion descriptor

// #region geometry

// envelope is the smooth polynomial cutoff with exponent p on u = d/cutoff:
// e(u) = 1 - (p+1)(p+2)/2 u^p + p(p+2) u^(p+1) - p(p+1)/2 u^(p+2).
// It is 1 at u=0 and reaches 0 with vanishing derivatives at u=1.
func envelope(u, p float64) float64 {
	a := -(p + 1) * (p + 2) / 2
	b := p * (p + 2)
	c := -p * (p + 1) / 2
	return 1 + a*math.Pow(u, p) + b*math.Pow(u, p+1) + c*math.Pow(u, p+2)
}

func distance(a, b [3]float64) float64 {
	dx := a[0] - b[0]
	dy := a[1] - b[1]
	dz := a[2] - b[2]
	return math.Sqrt(dx*dx + dy*dy + dz*dz)
}

// cosAngle returns the cosine of the angle at center c spanned by atoms i
// and k, clamped to [-1, 1] against rounding.
func cosAngle(ri, rc, rk [3]float64, di, dk float64) float64 {
	var dot float64
	for d := 0; d < 3; d++ {
		dot += (ri[d] - rc[d]) * (rk[d] - rc[d])
	}
	cos := dot / (di * dk)
	if cos > 1 {
		cos = 1
	} else if cos < -1 {
		cos = -1
	}
	return cos
}

// #endregion geometry
