package sim

import (
	"gonum.org/v1/gonum/mat"
)

// PathRecord is the forward-pass record of one path, shared read-only with the backward sweep.
// Row 0 is the initial curve; row s+1 the curve after step s.
type PathRecord struct {
	// LIBORRatios[s][i] = (f_i(s)+d_i)/(f_i(s-1)+d_i); row 0 is all ones.
	LIBORRatios *mat.Dense
	// LIBORRates[s][i] = f_i(s).
	LIBORRates *mat.Dense
	// Discounts[s][j] = P(t_0,t_j) implied by row s, j = 0..n.
	Discounts *mat.Dense
	// StepsDiscountsSquared[s][i] = (1/(1+tau_i f_i(s)))^2.
	StepsDiscountsSquared *mat.Dense
}

// StepEvolution supplies the adjoint of one discretization step. Implementations read only
// the PathRecord, so the Jacobian matches the curve used for valuation.
type StepEvolution interface {
	// PropagateAdjoint adds J_step^T * next into prev, where next is the adjoint with respect
	// to the rates of row step+1 and prev the adjoint with respect to the rates of row step.
	PropagateAdjoint(step int, record *PathRecord, next, prev []float64)
}

// DisplacedEulerAdjoint is the adjoint of the spot-measure log-Euler step of a displaced LMM:
//
//	f'_i + d_i = (f_i + d_i) exp(sum_{k=a}^{i} g_k C_ik - C_ii/2 + A_i.z),  g_k = tau_k (f_k+d_k)/(1+tau_k f_k)
//
// with C = A A^T the step covariance and a the first alive rate. Differentiating gives
//
//	df'_i/df_k = delta_ik (f'_i+d_i)/(f_i+d_i) + (f'_i+d_i) C_ik tau_k (1 - tau_k d_k)/(1+tau_k f_k)^2
//
// for a <= k <= i. The transpose product is accumulated through the factor-by-rate partials
// P[f][k] = sum_{i>=k} (f'_i+d_i) next_i A_if, so a step costs O(rates x factors).
// Not safe for concurrent use.
type DisplacedEulerAdjoint struct {
	model         MarketModel
	evolution     *EvolutionDescription
	taus          []float64
	displacements []float64
	factors       int
	partials      *mat.Dense
}

// NewDisplacedEulerAdjoint builds the adjoint for model's pseudo-roots and displacements.
func NewDisplacedEulerAdjoint(model MarketModel) *DisplacedEulerAdjoint {
	n, factors := model.NumberOfRates(), model.NumberOfFactors()
	return &DisplacedEulerAdjoint{
		model:         model,
		evolution:     model.Evolution(),
		taus:          model.Evolution().RateTaus(),
		displacements: model.Displacements(),
		factors:       factors,
		partials:      mat.NewDense(factors, n, nil),
	}
}

func (a *DisplacedEulerAdjoint) PropagateAdjoint(step int, record *PathRecord, next, prev []float64) {
	n := len(next)
	alive := a.evolution.FirstAliveRate(step)
	root := a.model.PseudoRoot(step)
	rates := record.LIBORRates.RawRowView(step + 1)
	ratios := record.LIBORRatios.RawRowView(step + 1)
	sds := record.StepsDiscountsSquared.RawRowView(step)

	for f := 0; f < a.factors; f++ {
		p := a.partials.RawRowView(f)
		clear(p[:alive])
		acc := 0.0
		for r := n - 1; r >= alive; r-- {
			acc += (rates[r] + a.displacements[r]) * next[r] * root.At(r, f)
			p[r] = acc
		}
	}

	for j := 0; j < n; j++ {
		prev[j] += next[j] * ratios[j]
		if j < alive {
			continue
		}
		sum := 0.0
		for f := 0; f < a.factors; f++ {
			sum += root.At(j, f) * a.partials.At(f, j)
		}
		prev[j] += sum * a.taus[j] * (1 - a.taus[j]*a.displacements[j]) * sds[j]
	}
}

// Partials exposes the factor-by-rate partials of the last propagated step.
func (a *DisplacedEulerAdjoint) Partials() mat.Matrix { return a.partials }
