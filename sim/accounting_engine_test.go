package sim_test

import (
	"errors"
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/inference-sim/pathwise-sim/sim"
	"github.com/inference-sim/pathwise-sim/sim/internal/testutil"
	"github.com/inference-sim/pathwise-sim/sim/marketmodel"
	"github.com/inference-sim/pathwise-sim/sim/product"
)

var (
	testRateTimes = []float64{0.5, 1, 1.5, 2, 2.5}
	testForwards  = []float64{0.045, 0.047, 0.049, 0.051}
	testDraws     = [][]float64{{0.3, -1.2}, {1.1, 0.4}, {-0.7, 0.9}, {0.2, -0.5}}
)

func testMarket() sim.MarketConfig {
	return sim.NewMarketConfig(testRateTimes, nil, testForwards, 0.01, 0.2, 0.1, 2)
}

func newTestModel(t *testing.T) *marketmodel.FlatVolModel {
	t.Helper()
	model, err := marketmodel.NewFlatVolModel(testMarket())
	require.NoError(t, err)
	return model
}

// newFixedEngine wires model, prod and a generator replaying testDraws.
func newFixedEngine(t *testing.T, model sim.MarketModel, prod sim.PathwiseProduct, opts ...sim.EngineOption) *sim.AccountingEngine {
	t.Helper()
	return newReplayEngine(t, model, prod, testDraws, opts...)
}

// newReplayEngine wires model and prod to a generator replaying draws.
func newReplayEngine(t *testing.T, model sim.MarketModel, prod sim.PathwiseProduct, draws [][]float64, opts ...sim.EngineOption) *sim.AccountingEngine {
	t.Helper()
	gen, err := marketmodel.NewFixedGenerator(draws)
	require.NoError(t, err)
	evolver, err := marketmodel.NewLogNormalFwdRateEuler(model, gen)
	require.NoError(t, err)
	engine, err := sim.NewAccountingEngine(evolver, prod, model, 1, opts...)
	require.NoError(t, err)
	return engine
}

// newRandomEngine drives model with a seeded normal generator.
func newRandomEngine(t *testing.T, model sim.MarketModel, prod sim.PathwiseProduct, seed int64) *sim.AccountingEngine {
	t.Helper()
	gen := marketmodel.NewNormalGenerator(rand.New(rand.NewSource(seed)), model.NumberOfFactors(), model.NumberOfSteps())
	evolver, err := marketmodel.NewLogNormalFwdRateEuler(model, gen)
	require.NoError(t, err)
	engine, err := sim.NewAccountingEngine(evolver, prod, model, 1)
	require.NoError(t, err)
	return engine
}

func singlePath(t *testing.T, engine *sim.AccountingEngine) []float64 {
	t.Helper()
	values := make([]float64, engine.NumberOfValues())
	require.NoError(t, engine.SinglePathValues(values))
	return values
}

func fixedFlows(t *testing.T, evo *sim.EvolutionDescription, scale float64, deflated bool) *product.FixedCashFlows {
	t.Helper()
	flows := []product.FixedFlow{
		{Step: 1, TimeIndex: 0, Amount: 0.7 * scale, Partials: []float64{0.1 * scale, 0.2 * scale, 0, 0}},
		{Step: 3, TimeIndex: 1, Amount: -0.4 * scale, Partials: []float64{0, 0.3 * scale, -0.2 * scale, 0.5 * scale}},
	}
	prod, err := product.NewFixedCashFlows(evo, []float64{1, 2.5}, flows, deflated)
	require.NoError(t, err)
	return prod
}

func TestAccountingEngine_Dimensions(t *testing.T) {
	// GIVEN a four-rate caplet strip on a four-step grid
	model := newTestModel(t)
	caps, err := product.NewMultiCaplet(model.Evolution(), []float64{0.04, 0.045, 0.05, 0.055})
	require.NoError(t, err)
	engine := newFixedEngine(t, model, caps)

	// WHEN a path is valued
	values := singlePath(t, engine)

	// THEN every product has one value and one Delta per rate, and V has one row per curve
	assert.Equal(t, 4, engine.NumberOfProducts())
	assert.Equal(t, 4, engine.NumberOfRates())
	assert.Len(t, values, 4*(1+4))
	for p := 0; p < engine.NumberOfProducts(); p++ {
		r, c := engine.V(p).Dims()
		assert.Equal(t, model.NumberOfSteps()+1, r)
		assert.Equal(t, model.NumberOfRates(), c)
	}
	r, c := engine.Record().Discounts.Dims()
	assert.Equal(t, model.NumberOfSteps()+1, r)
	assert.Equal(t, model.NumberOfRates()+1, c)
}

func TestAccountingEngine_WrongBufferLength(t *testing.T) {
	model := newTestModel(t)
	swap, err := product.NewSwap(model.Evolution(), 0.05, true)
	require.NoError(t, err)
	engine := newFixedEngine(t, model, swap)

	err = engine.SinglePathValues(make([]float64, 3))
	assert.ErrorIs(t, err, sim.ErrDimensionMismatch)
}

func TestAccountingEngine_ZeroPartialsGiveZeroDeltas(t *testing.T) {
	// GIVEN deflated flows with no native partials on a stochastic model
	model := newTestModel(t)
	flows := []product.FixedFlow{
		{Step: 0, TimeIndex: 0, Amount: 1.5},
		{Step: 2, TimeIndex: 1, Amount: -0.25},
	}
	prod, err := product.NewFixedCashFlows(model.Evolution(), []float64{1, 2}, flows, true)
	require.NoError(t, err)
	engine := newRandomEngine(t, model, prod, 11)

	for path := 0; path < 5; path++ {
		values := singlePath(t, engine)

		// THEN the value is the plain sum and every Delta is exactly zero
		assert.Equal(t, 1.25, values[0])
		for j, d := range values[1:] {
			assert.Zero(t, d, "path %d Delta %d", path, j)
		}
	}
}

func TestAccountingEngine_DiscountConsistency(t *testing.T) {
	// GIVEN a path valued through the engine
	model := newTestModel(t)
	swap, err := product.NewSwap(model.Evolution(), 0.05, true)
	require.NoError(t, err)
	engine := newFixedEngine(t, model, swap)
	singlePath(t, engine)
	rec := engine.Record()

	rows, _ := rec.Discounts.Dims()
	out := make([]float64, model.NumberOfRates()+1)
	for row := 0; row < rows; row++ {
		for j, tj := range testRateTimes {
			// WHEN a discounter recomputes P(t_0, t_j) from the recorded row
			d, err := sim.NewPathwiseDiscounter(tj, testRateTimes)
			require.NoError(t, err)
			d.Factors(rec.LIBORRates, rec.Discounts, row, out)

			// THEN it matches the recorded discount exactly
			assert.Equal(t, rec.Discounts.At(row, j), out[0], "row %d time %d", row, j)
		}
		for i := 0; i < model.NumberOfRates(); i++ {
			step := rec.Discounts.At(row, i+1) / rec.Discounts.At(row, i)
			assert.InEpsilon(t, step*step, rec.StepsDiscountsSquared.At(row, i), 1e-14)
		}
	}
}

func TestAccountingEngine_Linearity(t *testing.T) {
	model := newTestModel(t)
	evo := model.Evolution()
	base := singlePath(t, newFixedEngine(t, model, fixedFlows(t, evo, 1, false)))

	// Scaling by a power of two is exact in floating point.
	doubled := singlePath(t, newFixedEngine(t, model, fixedFlows(t, evo, 2, false)))
	for i := range base {
		assert.Equal(t, 2*base[i], doubled[i], "component %d", i)
	}

	tripled := singlePath(t, newFixedEngine(t, model, fixedFlows(t, evo, 3, false)))
	want := make([]float64, len(base))
	for i := range base {
		want[i] = 3 * base[i]
	}
	testutil.AssertClose(t, "tripled", want, tripled, 1e-13, 1e-14)
}

func TestAccountingEngine_SinglePathDeterminism(t *testing.T) {
	model := newTestModel(t)
	swap, err := product.NewSwap(model.Evolution(), 0.048, false)
	require.NoError(t, err)

	engine := newFixedEngine(t, model, swap)
	first := singlePath(t, engine)
	second := singlePath(t, engine)
	assert.Equal(t, first, second)

	// Same seed, independent engines: bit-identical paths.
	a := newRandomEngine(t, model, swap, 3)
	b := newRandomEngine(t, model, swap, 3)
	for i := 0; i < 4; i++ {
		assert.Equal(t, singlePath(t, a), singlePath(t, b))
	}
}

// expDiscounter deflates with exp(-r0 T), r0 being the first forward of the row.
type expDiscounter struct{ maturity float64 }

func (d expDiscounter) Factors(liborRates, _ *mat.Dense, row int, out []float64) {
	df := math.Exp(-liborRates.At(row, 0) * d.maturity)
	out[0] = df
	out[1] = -d.maturity * df
}

func TestAccountingEngine_EndToEndClosedForm(t *testing.T) {
	// GIVEN one rate, one step, one flow A paid at T with dA/dr0 = 1 and P = exp(-r0 T)
	const (
		r0     = 0.03
		amount = 0.8
		T      = 2.0
	)
	model, err := marketmodel.NewFlatVolModel(sim.NewMarketConfig([]float64{1, 2}, nil, []float64{r0}, 0, 0, 0, 1))
	require.NoError(t, err)
	prod, err := product.NewFixedCashFlows(model.Evolution(), []float64{T},
		[]product.FixedFlow{{Step: 0, TimeIndex: 0, Amount: amount, Partials: []float64{1}}}, false)
	require.NoError(t, err)
	gen, err := marketmodel.NewFixedGenerator([][]float64{{0.5}})
	require.NoError(t, err)
	evolver, err := marketmodel.NewLogNormalFwdRateEuler(model, gen)
	require.NoError(t, err)
	engine, err := sim.NewAccountingEngine(evolver, prod, model, 1,
		sim.WithDiscounters([]sim.Discounter{expDiscounter{maturity: T}}))
	require.NoError(t, err)

	// WHEN the path is valued
	values := singlePath(t, engine)

	// THEN value = A P and Delta = P (1 - A T)
	P := math.Exp(-r0 * T)
	assert.InDelta(t, amount*P, values[0], 1e-15)
	assert.InDelta(t, P*(1-amount*T), values[1], 1e-15)
}

func TestAccountingEngine_InitialNumeraireScalesOutput(t *testing.T) {
	model := newTestModel(t)
	swap, err := product.NewSwap(model.Evolution(), 0.05, true)
	require.NoError(t, err)
	base := singlePath(t, newFixedEngine(t, model, swap))

	gen, err := marketmodel.NewFixedGenerator(testDraws)
	require.NoError(t, err)
	evolver, err := marketmodel.NewLogNormalFwdRateEuler(model, gen)
	require.NoError(t, err)
	engine, err := sim.NewAccountingEngine(evolver, swap, model, 4)
	require.NoError(t, err)
	scaled := singlePath(t, engine)
	for i := range base {
		assert.Equal(t, 4*base[i], scaled[i])
	}
}

// TestAccountingEngine_DeltasMatchFiniteDifferences bumps each initial forward and
// revalues the same path; the adjoint Deltas must match central differences.
func TestAccountingEngine_DeltasMatchFiniteDifferences(t *testing.T) {
	grids := []struct {
		name  string
		cfg   sim.MarketConfig
		draws [][]float64
	}{
		{"reset-grid", testMarket(), testDraws},
		{"fine-grid", sim.NewMarketConfig(testRateTimes, []float64{0.25, 0.5, 0.75, 1, 1.25, 1.5, 1.75, 2},
			testForwards, 0.01, 0.2, 0.1, 3), seededDraws(8, 3, 17)},
	}

	for _, g := range grids {
		model, err := marketmodel.NewFlatVolModel(g.cfg)
		require.NoError(t, err)
		for name, prod := range deltaProducts(t, model.Evolution()) {
			t.Run(g.name+"/"+name, func(t *testing.T) {
				values := singlePath(t, newReplayEngine(t, model, prod, g.draws))
				products, n := prod.NumberOfProducts(), model.NumberOfRates()

				const h = 1e-6
				fd := make([]float64, products*n)
				for j := 0; j < n; j++ {
					up := singlePath(t, newReplayEngine(t, bumped(t, model, j, h), prod, g.draws))
					down := singlePath(t, newReplayEngine(t, bumped(t, model, j, -h), prod, g.draws))
					for p := 0; p < products; p++ {
						fd[p*n+j] = (up[p] - down[p]) / (2 * h)
					}
				}
				testutil.AssertClose(t, "Deltas", fd, values[products:], 1e-5, 1e-7)
			})
		}
	}
}

// deltaProducts builds the products checked against bumps. The fixed leg pays at 1.25 and
// 2.2, so its deflators come from the log-linear discounter.
func deltaProducts(t *testing.T, evo *sim.EvolutionDescription) map[string]sim.PathwiseProduct {
	t.Helper()
	swap := func() sim.PathwiseProduct {
		s, err := product.NewSwap(evo, 0.048, true)
		require.NoError(t, err)
		return s
	}
	caplets := func() sim.PathwiseProduct {
		c, err := product.NewMultiCaplet(evo, []float64{0.03, 0.035, 0.04, 0.045})
		require.NoError(t, err)
		return c
	}
	fixed := func() sim.PathwiseProduct {
		f, err := product.NewFixedCashFlows(evo, []float64{1.25, 2.2}, []product.FixedFlow{
			{Step: 0, TimeIndex: 0, Amount: 0.7},
			{Step: 1, TimeIndex: 1, Amount: -0.4},
		}, false)
		require.NoError(t, err)
		return f
	}
	composite, err := product.NewComposite(caplets(), swap(), fixed())
	require.NoError(t, err)
	return map[string]sim.PathwiseProduct{
		"swap":      swap(),
		"caplets":   caplets(),
		"fixed":     fixed(),
		"composite": composite,
	}
}

// seededDraws returns steps x factors standard normal draws from a fixed seed.
func seededDraws(steps, factors int, seed int64) [][]float64 {
	r := rand.New(rand.NewSource(seed))
	draws := make([][]float64, steps)
	for s := range draws {
		draws[s] = make([]float64, factors)
		for f := range draws[s] {
			draws[s][f] = r.NormFloat64()
		}
	}
	return draws
}

func bumped(t *testing.T, model *marketmodel.FlatVolModel, j int, h float64) *marketmodel.FlatVolModel {
	t.Helper()
	rates := append([]float64(nil), model.InitialRates()...)
	rates[j] += h
	m, err := model.WithInitialRates(rates)
	require.NoError(t, err)
	return m
}

func TestAccountingEngine_MultiplePathValues(t *testing.T) {
	model := newTestModel(t)
	swap, err := product.NewSwap(model.Evolution(), 0.05, true)
	require.NoError(t, err)
	engine := newFixedEngine(t, model, swap)
	single := singlePath(t, engine)

	// GIVEN identical paths WHEN aggregated THEN mean is the path vector and error is zero
	stats := sim.NewSequenceStatistics(engine.NumberOfValues())
	require.NoError(t, engine.MultiplePathValues(stats, 6))
	assert.Equal(t, 6, stats.Samples())
	assert.Equal(t, single, stats.Mean())
	for _, e := range stats.ErrorEstimate() {
		assert.Zero(t, e)
	}

	sink := &testutil.RecordingSink{}
	require.NoError(t, engine.MultiplePathValues(sink, 2))
	assert.Len(t, sink.Samples, 2)
}

func TestNewAccountingEngine_DimensionMismatch(t *testing.T) {
	model := newTestModel(t)
	otherEvo := testutil.MustEvolution(t, []float64{0.5, 1, 1.5, 2, 3}, nil)
	swap, err := product.NewSwap(otherEvo, 0.05, true)
	require.NoError(t, err)
	gen, err := marketmodel.NewFixedGenerator(testDraws)
	require.NoError(t, err)
	evolver, err := marketmodel.NewLogNormalFwdRateEuler(model, gen)
	require.NoError(t, err)

	_, err = sim.NewAccountingEngine(evolver, swap, model, 1)
	assert.ErrorIs(t, err, sim.ErrDimensionMismatch)

	// Wrong number of discounters.
	ok, err := product.NewSwap(model.Evolution(), 0.05, true)
	require.NoError(t, err)
	_, err = sim.NewAccountingEngine(evolver, ok, model, 1, sim.WithDiscounters([]sim.Discounter{expDiscounter{1}}))
	assert.ErrorIs(t, err, sim.ErrDimensionMismatch)
}

func TestNewAccountingEngine_RejectsBadNumeraire(t *testing.T) {
	model := newTestModel(t)
	swap, err := product.NewSwap(model.Evolution(), 0.05, true)
	require.NoError(t, err)
	gen, err := marketmodel.NewFixedGenerator(testDraws)
	require.NoError(t, err)
	evolver, err := marketmodel.NewLogNormalFwdRateEuler(model, gen)
	require.NoError(t, err)

	for _, v := range []float64{0, -1, math.Inf(1), math.NaN()} {
		_, err := sim.NewAccountingEngine(evolver, swap, model, v)
		assert.Error(t, err, "numeraire %v", v)
	}
}

func TestNewAccountingEngine_RankDeficientPseudoRoot(t *testing.T) {
	// GIVEN two rates driven by two perfectly collinear factors
	evo := testutil.MustEvolution(t, []float64{0.5, 1, 1.5}, nil)
	root := mat.NewDense(2, 2, []float64{0.1, 0.1, 0.2, 0.2})
	model := testutil.NewStaticModel(evo, []float64{0.04, 0.05}, []float64{0, 0}, root)
	swap, err := product.NewSwap(evo, 0.05, true)
	require.NoError(t, err)
	gen, err := marketmodel.NewFixedGenerator([][]float64{{0, 0}, {0, 0}})
	require.NoError(t, err)
	evolver, err := marketmodel.NewLogNormalFwdRateEuler(model, gen)
	require.NoError(t, err)

	_, err = sim.NewAccountingEngine(evolver, swap, model, 1)
	assert.ErrorIs(t, err, sim.ErrNumericalDegeneracy)
}

func TestAccountingEngine_NonFiniteDiscountIsDegenerate(t *testing.T) {
	// GIVEN a forward with 1 + tau f = 0
	model, err := marketmodel.NewFlatVolModel(sim.NewMarketConfig([]float64{0.5, 1.5, 2.5}, nil, []float64{-1, 0.05}, 2, 0.1, 0, 1))
	require.NoError(t, err)
	swap, err := product.NewSwap(model.Evolution(), 0.05, true)
	require.NoError(t, err)
	engine := newRandomEngine(t, model, swap, 1)

	err = engine.MultiplePathValues(sim.NewSequenceStatistics(engine.NumberOfValues()), 1)
	assert.ErrorIs(t, err, sim.ErrNumericalDegeneracy)
}

func TestAccountingEngine_NonFiniteValueIsDegenerate(t *testing.T) {
	// GIVEN a deflated flow with an infinite amount and no partials
	model := newTestModel(t)
	prod, err := product.NewFixedCashFlows(model.Evolution(), []float64{1},
		[]product.FixedFlow{{Step: 0, TimeIndex: 0, Amount: math.Inf(1)}}, true)
	require.NoError(t, err)
	engine := newFixedEngine(t, model, prod)
	stats := sim.NewSequenceStatistics(engine.NumberOfValues())

	// WHEN paths are valued into the sink
	err = engine.MultiplePathValues(stats, 3)

	// THEN the run fails before any sample reaches the statistics
	assert.ErrorIs(t, err, sim.ErrNumericalDegeneracy)
	assert.Zero(t, stats.Samples())
}

func TestAccountingEngine_FlowBeforeItsDiscountingStepIsContractViolation(t *testing.T) {
	// GIVEN a flow generated at step 1 but paid at t=0.5, which is deflated at step 0
	model := newTestModel(t)
	prod, err := product.NewFixedCashFlows(model.Evolution(), []float64{0.5},
		[]product.FixedFlow{{Step: 1, TimeIndex: 0, Amount: 1}}, false)
	require.NoError(t, err)
	engine := newFixedEngine(t, model, prod)

	err = engine.SinglePathValues(make([]float64, engine.NumberOfValues()))
	assert.ErrorIs(t, err, sim.ErrContractViolation)
}

// neverDone wraps a product that never reports completion.
type neverDone struct{ *product.Swap }

func (n neverDone) NextTimeStep(state *sim.CurveState, counts []int, flows [][]sim.CashFlow) bool {
	n.Swap.NextTimeStep(state, counts, flows)
	return false
}

func (n neverDone) Clone() sim.PathwiseProduct {
	return neverDone{n.Swap.Clone().(*product.Swap)}
}

func TestAccountingEngine_ProductOutlivingGridIsContractViolation(t *testing.T) {
	model := newTestModel(t)
	swap, err := product.NewSwap(model.Evolution(), 0.05, true)
	require.NoError(t, err)
	engine := newFixedEngine(t, model, neverDone{swap})

	err = engine.SinglePathValues(make([]float64, engine.NumberOfValues()))
	require.Error(t, err)
	assert.True(t, errors.Is(err, sim.ErrContractViolation))
}

// stopAfter ends the wrapped product after a fixed number of steps.
type stopAfter struct {
	*product.FixedCashFlows
	steps, taken int
}

func (s *stopAfter) Reset() {
	s.FixedCashFlows.Reset()
	s.taken = 0
}

func (s *stopAfter) NextTimeStep(state *sim.CurveState, counts []int, flows [][]sim.CashFlow) bool {
	s.FixedCashFlows.NextTimeStep(state, counts, flows)
	s.taken++
	return s.taken == s.steps
}

func (s *stopAfter) Clone() sim.PathwiseProduct {
	return &stopAfter{FixedCashFlows: s.FixedCashFlows.Clone().(*product.FixedCashFlows), steps: s.steps}
}

func TestAccountingEngine_EarlyTerminationMatchesFullPath(t *testing.T) {
	// GIVEN a flow fixed at step 0 and paid at t=1, deflated at step 1
	model := newTestModel(t)
	full, err := product.NewFixedCashFlows(model.Evolution(), []float64{1},
		[]product.FixedFlow{{Step: 0, TimeIndex: 0, Amount: 2, Partials: []float64{0.5, 0, 0, 0}}}, false)
	require.NoError(t, err)
	early := &stopAfter{FixedCashFlows: full, steps: 1}

	// WHEN the same path is valued with and without stopping after step 0
	want := singlePath(t, newFixedEngine(t, model, full))
	engine := newFixedEngine(t, model, early)
	got := singlePath(t, engine)

	// THEN the frozen rate gives the same deflator, value and Deltas
	assert.Equal(t, want, got)
	assert.Equal(t, 2*engine.Record().Discounts.At(1, 1), got[0])
}
