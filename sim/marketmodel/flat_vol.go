// Package marketmodel implements the displaced LIBOR Market Model collaborators of the
// accounting engine: a flat-volatility pseudo-root structure, the spot-measure log-Euler
// evolver and the Brownian generators driving it.
package marketmodel

import (
	"fmt"
	"math"
	"slices"

	"gonum.org/v1/gonum/mat"

	"github.com/inference-sim/pathwise-sim/sim"
)

// FlatVolModel is a displaced LMM with one flat volatility, exponentially decaying
// correlation rho_ij = exp(-beta|t_i - t_j|) between reset times, reduced to a fixed number of
// factors. The pseudo-root of step s is sigma sqrt(dt_s) B restricted to rates alive in s,
// where B holds the leading eigenvectors of rho scaled so B B^T has a unit diagonal.
type FlatVolModel struct {
	evolution     *sim.EvolutionDescription
	initialRates  []float64
	displacements []float64
	factors       int
	pseudoRoots   []*mat.Dense
}

// NewFlatVolModel builds the model and precomputes every step's pseudo-root.
func NewFlatVolModel(cfg sim.MarketConfig) (*FlatVolModel, error) {
	evolution, err := cfg.Evolution()
	if err != nil {
		return nil, err
	}
	n := evolution.NumberOfRates()
	if len(cfg.InitialForwards) != n {
		return nil, fmt.Errorf("%d initial forwards for %d rates", len(cfg.InitialForwards), n)
	}
	if cfg.Factors < 1 || cfg.Factors > n {
		return nil, fmt.Errorf("factors must be in [1, %d], got %d", n, cfg.Factors)
	}
	if cfg.Volatility < 0 || math.IsInf(cfg.Volatility, 0) || math.IsNaN(cfg.Volatility) {
		return nil, fmt.Errorf("volatility must be finite and non-negative, got %f", cfg.Volatility)
	}
	if cfg.CorrelationDecay < 0 {
		return nil, fmt.Errorf("correlation decay must be non-negative, got %f", cfg.CorrelationDecay)
	}
	if cfg.Displacement < 0 {
		return nil, fmt.Errorf("displacement must be non-negative, got %f", cfg.Displacement)
	}
	for i, f := range cfg.InitialForwards {
		if !(f+cfg.Displacement > 0) {
			return nil, fmt.Errorf("displaced forward %d must be positive, got %f", i, f+cfg.Displacement)
		}
	}

	m := &FlatVolModel{
		evolution:     evolution,
		initialRates:  slices.Clone(cfg.InitialForwards),
		displacements: make([]float64, n),
		factors:       cfg.Factors,
		pseudoRoots:   make([]*mat.Dense, evolution.NumberOfSteps()),
	}
	for i := range m.displacements {
		m.displacements[i] = cfg.Displacement
	}

	loadings, err := reducedCorrelationRoot(evolution.RateTimes()[:n], cfg.CorrelationDecay, cfg.Factors)
	if err != nil {
		return nil, err
	}
	for s := range m.pseudoRoots {
		root := mat.NewDense(n, cfg.Factors, nil)
		scale := cfg.Volatility * math.Sqrt(evolution.StepLength(s))
		for i := evolution.FirstAliveRate(s); i < n; i++ {
			for f := 0; f < cfg.Factors; f++ {
				root.Set(i, f, scale*loadings.At(i, f))
			}
		}
		m.pseudoRoots[s] = root
	}
	return m, nil
}

// reducedCorrelationRoot returns the n x factors loadings of the rank-reduced correlation
// matrix on resetTimes, rows normalised to unit length.
func reducedCorrelationRoot(resetTimes []float64, decay float64, factors int) (*mat.Dense, error) {
	n := len(resetTimes)
	corr := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			corr.SetSym(i, j, math.Exp(-decay*math.Abs(resetTimes[i]-resetTimes[j])))
		}
	}
	var eig mat.EigenSym
	if ok := eig.Factorize(corr, true); !ok {
		return nil, fmt.Errorf("eigen decomposition of the correlation matrix failed")
	}
	values := eig.Values(nil)
	var vectors mat.Dense
	eig.VectorsTo(&vectors)

	loadings := mat.NewDense(n, factors, nil)
	for f := 0; f < factors; f++ {
		// eigenvalues come in ascending order
		col := n - 1 - f
		lambda := math.Sqrt(math.Max(values[col], 0))
		for i := 0; i < n; i++ {
			loadings.Set(i, f, vectors.At(i, col)*lambda)
		}
	}
	for i := 0; i < n; i++ {
		row := loadings.RawRowView(i)
		norm := 0.0
		for _, v := range row {
			norm += v * v
		}
		if norm == 0 {
			return nil, fmt.Errorf("rate %d has no loading on the first %d factors", i, factors)
		}
		norm = math.Sqrt(norm)
		for f := range row {
			row[f] /= norm
		}
	}
	return loadings, nil
}

func (m *FlatVolModel) Evolution() *sim.EvolutionDescription { return m.evolution }
func (m *FlatVolModel) InitialRates() []float64              { return m.initialRates }
func (m *FlatVolModel) Displacements() []float64             { return m.displacements }
func (m *FlatVolModel) NumberOfRates() int                   { return len(m.initialRates) }
func (m *FlatVolModel) NumberOfFactors() int                 { return m.factors }
func (m *FlatVolModel) NumberOfSteps() int                   { return len(m.pseudoRoots) }
func (m *FlatVolModel) PseudoRoot(step int) *mat.Dense       { return m.pseudoRoots[step] }

// WithInitialRates returns a copy of the model started from other initial forwards; the
// pseudo-roots are shared. Used for bump-and-revalue checks.
func (m *FlatVolModel) WithInitialRates(rates []float64) (*FlatVolModel, error) {
	if len(rates) != len(m.initialRates) {
		return nil, fmt.Errorf("%d initial rates for %d rates", len(rates), len(m.initialRates))
	}
	c := *m
	c.initialRates = slices.Clone(rates)
	return &c, nil
}
