package marketmodel

import (
	"fmt"
	"math/rand"

	"gonum.org/v1/gonum/stat/distuv"
)

// BrownianGenerator supplies the standard normal increments of one path, one vector of
// factor draws per step. Weights support importance sampling; plain generators return 1.
type BrownianGenerator interface {
	NumberOfFactors() int
	NumberOfSteps() int
	// NextPath starts a new path and returns its initial weight.
	NextPath() float64
	// NextStep fills out with one draw per factor and returns the step weight.
	NextStep(out []float64) float64
}

// Generator names accepted by NewGenerator.
const (
	GeneratorNormal     = "normal"
	GeneratorInverseCDF = "inverse-cdf"
)

// NewGenerator builds a named generator on rng. Empty name selects GeneratorNormal.
func NewGenerator(name string, rng *rand.Rand, factors, steps int) (BrownianGenerator, error) {
	switch name {
	case "", GeneratorNormal:
		return NewNormalGenerator(rng, factors, steps), nil
	case GeneratorInverseCDF:
		return NewInverseCDFGenerator(rng, factors, steps), nil
	default:
		return nil, fmt.Errorf("unknown generator %q; valid: %s, %s", name, GeneratorNormal, GeneratorInverseCDF)
	}
}

// NormalGenerator draws with rand.Rand.NormFloat64.
type NormalGenerator struct {
	rng     *rand.Rand
	factors int
	steps   int
}

func NewNormalGenerator(rng *rand.Rand, factors, steps int) *NormalGenerator {
	return &NormalGenerator{rng: rng, factors: factors, steps: steps}
}

func (g *NormalGenerator) NumberOfFactors() int { return g.factors }
func (g *NormalGenerator) NumberOfSteps() int   { return g.steps }
func (g *NormalGenerator) NextPath() float64    { return 1 }

func (g *NormalGenerator) NextStep(out []float64) float64 {
	for i := range out {
		out[i] = g.rng.NormFloat64()
	}
	return 1
}

// InverseCDFGenerator maps uniforms through the normal quantile, which keeps draws monotone
// in the underlying uniforms (useful with stratified or low-discrepancy sources).
type InverseCDFGenerator struct {
	rng     *rand.Rand
	factors int
	steps   int
}

func NewInverseCDFGenerator(rng *rand.Rand, factors, steps int) *InverseCDFGenerator {
	return &InverseCDFGenerator{rng: rng, factors: factors, steps: steps}
}

func (g *InverseCDFGenerator) NumberOfFactors() int { return g.factors }
func (g *InverseCDFGenerator) NumberOfSteps() int   { return g.steps }
func (g *InverseCDFGenerator) NextPath() float64    { return 1 }

func (g *InverseCDFGenerator) NextStep(out []float64) float64 {
	for i := range out {
		u := g.rng.Float64()
		for u == 0 {
			u = g.rng.Float64()
		}
		out[i] = distuv.UnitNormal.Quantile(u)
	}
	return 1
}

// FixedGenerator replays the same draws on every path: draws[step][factor].
type FixedGenerator struct {
	draws   [][]float64
	factors int
	next    int
}

// NewFixedGenerator checks that every step carries the same number of factor draws.
func NewFixedGenerator(draws [][]float64) (*FixedGenerator, error) {
	if len(draws) == 0 {
		return nil, fmt.Errorf("at least one step of draws required")
	}
	factors := len(draws[0])
	for s, d := range draws {
		if len(d) != factors {
			return nil, fmt.Errorf("step %d has %d draws, want %d", s, len(d), factors)
		}
	}
	return &FixedGenerator{draws: draws, factors: factors}, nil
}

func (g *FixedGenerator) NumberOfFactors() int { return g.factors }
func (g *FixedGenerator) NumberOfSteps() int   { return len(g.draws) }

func (g *FixedGenerator) NextPath() float64 {
	g.next = 0
	return 1
}

func (g *FixedGenerator) NextStep(out []float64) float64 {
	copy(out, g.draws[g.next])
	g.next++
	return 1
}
