package sim

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// MarketModel exposes the displaced LMM structure the adjoint sweep needs: per-step
// pseudo-roots (rates x factors, A A^T = covariance of log displaced rates over the step)
// and the rate displacements.
type MarketModel interface {
	Evolution() *EvolutionDescription
	InitialRates() []float64
	Displacements() []float64
	NumberOfRates() int
	NumberOfFactors() int
	NumberOfSteps() int
	// PseudoRoot must return the same matrix on every call; the engine and the evolver
	// treat it as read-only and may share it across workers.
	PseudoRoot(step int) *mat.Dense
}

// pseudoRootRankTolerance is the relative singular-value cutoff used by ValidatePseudoRoots.
const pseudoRootRankTolerance = 1e-12

// ValidatePseudoRoots checks every step's pseudo-root for shape, finiteness and rank.
// A step whose non-zero rows do not span min(rows, factors) dimensions is degenerate;
// an all-zero pseudo-root is a deterministic step and is accepted.
func ValidatePseudoRoots(model MarketModel) error {
	n, factors := model.NumberOfRates(), model.NumberOfFactors()
	for step := 0; step < model.NumberOfSteps(); step++ {
		a := model.PseudoRoot(step)
		if a == nil {
			return dimensionErrorf("pseudo-root of step %d is nil", step)
		}
		if r, c := a.Dims(); r != n || c != factors {
			return dimensionErrorf("pseudo-root of step %d is %dx%d, want %dx%d", step, r, c, n, factors)
		}
		var rows []int
		for i := 0; i < n; i++ {
			nonZero := false
			for f := 0; f < factors; f++ {
				v := a.At(i, f)
				if math.IsNaN(v) || math.IsInf(v, 0) {
					return degeneracyErrorf("pseudo-root of step %d has non-finite entry at (%d,%d)", step, i, f)
				}
				nonZero = nonZero || v != 0
			}
			if nonZero {
				rows = append(rows, i)
			}
		}
		if len(rows) == 0 {
			continue
		}
		block := mat.NewDense(len(rows), factors, nil)
		for k, i := range rows {
			block.SetRow(k, a.RawRowView(i))
		}
		var svd mat.SVD
		if ok := svd.Factorize(block, mat.SVDNone); !ok {
			return degeneracyErrorf("pseudo-root of step %d: SVD did not converge", step)
		}
		if rank, want := svd.Rank(pseudoRootRankTolerance), min(len(rows), factors); rank < want {
			return degeneracyErrorf("pseudo-root of step %d has rank %d, want %d", step, rank, want)
		}
	}
	return nil
}
