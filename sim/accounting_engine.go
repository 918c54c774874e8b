package sim

import (
	"fmt"
	"math"
	"slices"

	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// AccountingEngine collects the cash flows of a pathwise product along LMM paths and computes
// values and Deltas with respect to the initial forward rates using the Giles–Glasserman
// adjoint method: a forward pass records the curve, a backward sweep pulls the discounted
// cash-flow sensitivities back through each step's Jacobian.
//
// An engine owns its evolver, product clone and workspace; it is not safe for concurrent use.
// Use one engine per worker (see ParallelRunner).
type AccountingEngine struct {
	evolver               Evolver
	product               PathwiseProduct
	model                 MarketModel
	stepEvolution         StepEvolution
	initialNumeraireValue float64

	numberProducts      int
	numberRates         int
	numberCashFlowTimes int
	numberSteps         int
	maxFlows            int
	doDeflation         bool

	discounters []Discounter
	// cashFlowIndicesThisStep[s] lists the cash-flow times deflated with the curve of step s.
	cashFlowIndicesThisStep [][]int
	discountingStep         []int

	ws *pathWorkspace
}

// EngineOption customises an AccountingEngine.
type EngineOption func(*engineOptions)

type engineOptions struct {
	discounters   []Discounter
	stepEvolution StepEvolution
}

// WithDiscounters replaces the default PathwiseDiscounter set; one per possible cash-flow time.
func WithDiscounters(discounters []Discounter) EngineOption {
	return func(o *engineOptions) { o.discounters = discounters }
}

// WithStepEvolution replaces the displaced Euler adjoint, for alternative discretizations.
func WithStepEvolution(se StepEvolution) EngineOption {
	return func(o *engineOptions) { o.stepEvolution = se }
}

// NewAccountingEngine checks that the collaborators agree on every dimension and sizes the
// per-path workspace. The product is cloned; evolver and model are used as given.
func NewAccountingEngine(evolver Evolver, product PathwiseProduct, model MarketModel,
	initialNumeraireValue float64, opts ...EngineOption) (*AccountingEngine, error) {
	if evolver == nil || product == nil || model == nil {
		return nil, fmt.Errorf("evolver, product and market model are required")
	}
	if !(initialNumeraireValue > 0) || math.IsInf(initialNumeraireValue, 0) {
		return nil, fmt.Errorf("initial numeraire value must be positive and finite, got %f", initialNumeraireValue)
	}
	var o engineOptions
	for _, opt := range opts {
		opt(&o)
	}

	evolution := model.Evolution()
	e := &AccountingEngine{
		evolver:               evolver,
		product:               product.Clone(),
		model:                 model,
		initialNumeraireValue: initialNumeraireValue,
		numberProducts:        product.NumberOfProducts(),
		numberRates:           model.NumberOfRates(),
		numberCashFlowTimes:   len(product.PossibleCashFlowTimes()),
		numberSteps:           model.NumberOfSteps(),
		maxFlows:              product.MaxNumberOfCashFlowsPerProductPerStep(),
		doDeflation:           !product.AlreadyDeflated(),
	}
	if err := e.checkDimensions(evolution); err != nil {
		return nil, err
	}
	if err := ValidatePseudoRoots(model); err != nil {
		return nil, err
	}

	cashFlowTimes := product.PossibleCashFlowTimes()
	e.cashFlowIndicesThisStep = make([][]int, e.numberSteps)
	e.discountingStep = make([]int, e.numberCashFlowTimes)
	for k, t := range cashFlowTimes {
		step := evolution.DiscountingStep(t)
		e.discountingStep[k] = step
		e.cashFlowIndicesThisStep[step] = append(e.cashFlowIndicesThisStep[step], k)
	}

	if o.discounters != nil {
		if len(o.discounters) != e.numberCashFlowTimes {
			return nil, dimensionErrorf("%d discounters for %d cash-flow times", len(o.discounters), e.numberCashFlowTimes)
		}
		e.discounters = slices.Clone(o.discounters)
	} else {
		e.discounters = make([]Discounter, e.numberCashFlowTimes)
		for k, t := range cashFlowTimes {
			d, err := NewPathwiseDiscounter(t, evolution.RateTimes())
			if err != nil {
				return nil, fmt.Errorf("cash-flow time %d: %w", k, err)
			}
			e.discounters[k] = d
		}
	}

	e.stepEvolution = o.stepEvolution
	if e.stepEvolution == nil {
		e.stepEvolution = NewDisplacedEulerAdjoint(model)
	}

	e.ws = newPathWorkspace(e.numberProducts, e.numberRates, e.numberSteps, e.numberCashFlowTimes, e.maxFlows)

	logrus.Debugf("accounting engine: %d products, %d rates, %d steps, %d factors, %d cash-flow times, deflation=%v",
		e.numberProducts, e.numberRates, e.numberSteps, model.NumberOfFactors(), e.numberCashFlowTimes, e.doDeflation)
	return e, nil
}

func (e *AccountingEngine) checkDimensions(evolution *EvolutionDescription) error {
	if e.numberProducts < 1 {
		return dimensionErrorf("product reports %d sub-products", e.numberProducts)
	}
	if e.numberCashFlowTimes < 1 {
		return dimensionErrorf("product reports no possible cash-flow times")
	}
	if e.maxFlows < 1 {
		return dimensionErrorf("product allows %d cash flows per step", e.maxFlows)
	}
	if evolution.NumberOfRates() != e.numberRates || evolution.NumberOfSteps() != e.numberSteps {
		return dimensionErrorf("market model reports %d rates/%d steps, its evolution %d/%d",
			e.numberRates, e.numberSteps, evolution.NumberOfRates(), evolution.NumberOfSteps())
	}
	if got := len(e.model.InitialRates()); got != e.numberRates {
		return dimensionErrorf("%d initial rates for %d rates", got, e.numberRates)
	}
	if got := len(e.model.Displacements()); got != e.numberRates {
		return dimensionErrorf("%d displacements for %d rates", got, e.numberRates)
	}
	if !e.evolver.Evolution().SameGrid(evolution) {
		return dimensionErrorf("evolver and market model use different rate or evolution times")
	}
	if !e.product.Evolution().SameGrid(evolution) {
		return dimensionErrorf("product and market model use different rate or evolution times")
	}
	if e.evolver.NumberOfFactors() != e.model.NumberOfFactors() {
		return dimensionErrorf("evolver uses %d factors, market model %d", e.evolver.NumberOfFactors(), e.model.NumberOfFactors())
	}
	return nil
}

// NumberOfProducts returns the number of sub-products valued per path.
func (e *AccountingEngine) NumberOfProducts() int { return e.numberProducts }

// NumberOfRates returns the number of forward rates Deltas are reported against.
func (e *AccountingEngine) NumberOfRates() int { return e.numberRates }

// NumberOfValues is the length of the vector SinglePathValues fills:
// numberProducts values followed by numberRates Deltas per product.
func (e *AccountingEngine) NumberOfValues() int { return e.numberProducts * (1 + e.numberRates) }

// V returns the adjoint matrix of product p after the last path (rows = steps+1, columns = rates).
func (e *AccountingEngine) V(p int) mat.Matrix { return e.ws.V[p] }

// Record returns the forward-pass record of the last path.
func (e *AccountingEngine) Record() *PathRecord { return &e.ws.record }

// SinglePathValues simulates one path and writes values then Deltas into values.
// values[p] is product p's value; values[numberProducts + p*numberRates + j] its Delta
// with respect to the initial forward rate j. Both are scaled by the initial numeraire.
func (e *AccountingEngine) SinglePathValues(values []float64) error {
	if len(values) != e.NumberOfValues() {
		return dimensionErrorf("value buffer has %d entries, want %d", len(values), e.NumberOfValues())
	}
	clear(values)
	e.ws.reset()

	finalStep, err := e.forwardPass()
	if err != nil {
		return err
	}
	if err := e.backwardSweep(finalStep); err != nil {
		return err
	}

	for p := 0; p < e.numberProducts; p++ {
		values[p] = e.ws.numerairesHeld[p] * e.initialNumeraireValue
		if math.IsNaN(values[p]) || math.IsInf(values[p], 0) {
			return degeneracyErrorf("product %d: non-finite value", p)
		}
		deltas := e.ws.V[p].RawRowView(0)
		out := values[e.numberProducts+p*e.numberRates : e.numberProducts+(p+1)*e.numberRates]
		for j, v := range deltas {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return degeneracyErrorf("product %d: non-finite Delta for rate %d", p, j)
			}
			out[j] = v * e.initialNumeraireValue
		}
	}
	return nil
}

// forwardPass evolves the path, records the curve rows and accumulates cash flows by payment
// time. It returns the last step taken.
func (e *AccountingEngine) forwardPass() (int, error) {
	ws := e.ws
	weight := e.evolver.StartNewPath()
	e.product.Reset()

	state := e.evolver.CurrentState()
	copy(ws.currentForwards, state.ForwardRates())
	if err := e.recordRow(0, state); err != nil {
		return 0, err
	}

	finalStep := -1
	for done := false; !done; {
		step := e.evolver.CurrentStep()
		if step >= e.numberSteps {
			return 0, contractErrorf("product not finished after the final step %d", e.numberSteps-1)
		}
		weight *= e.evolver.AdvanceStep()
		state = e.evolver.CurrentState()
		done = e.product.NextTimeStep(state, ws.numberCashFlowsThisStep, ws.cashFlowsGenerated)

		copy(ws.lastForwards, ws.currentForwards)
		copy(ws.currentForwards, state.ForwardRates())
		if err := e.recordRow(step+1, state); err != nil {
			return 0, err
		}
		if err := e.accumulateCashFlows(step, weight); err != nil {
			return 0, err
		}
		finalStep = step
	}
	logrus.Tracef("forward pass finished at step %d, weight %g", finalStep, weight)
	return finalStep, nil
}

// recordRow stores the curve of state into row of the path record.
func (e *AccountingEngine) recordRow(row int, state *CurveState) error {
	rec := &e.ws.record
	ratios := rec.LIBORRatios.RawRowView(row)
	rates := rec.LIBORRates.RawRowView(row)
	discounts := rec.Discounts.RawRowView(row)
	sds := rec.StepsDiscountsSquared.RawRowView(row)
	displacements := e.model.Displacements()

	copy(rates, e.ws.currentForwards)
	discounts[0] = 1
	for i := 0; i < e.numberRates; i++ {
		if row == 0 {
			ratios[i] = 1
		} else {
			ratios[i] = (e.ws.currentForwards[i] + displacements[i]) / (e.ws.lastForwards[i] + displacements[i])
		}
		x := state.DiscountRatio(i+1, i)
		sds[i] = x * x
		discounts[i+1] = state.DiscountRatio(i+1, 0)
		if !(discounts[i+1] > 0) || math.IsInf(discounts[i+1], 0) || math.IsNaN(ratios[i]) || math.IsInf(ratios[i], 0) {
			return degeneracyErrorf("row %d, rate %d: discount %g, LIBOR ratio %g", row, i, discounts[i+1], ratios[i])
		}
	}
	return nil
}

func (e *AccountingEngine) accumulateCashFlows(step int, weight float64) error {
	ws := e.ws
	for p := 0; p < e.numberProducts; p++ {
		count := ws.numberCashFlowsThisStep[p]
		if count < 0 || count > e.maxFlows {
			return contractErrorf("step %d: product %d emitted %d cash flows, at most %d allowed", step, p, count, e.maxFlows)
		}
		for j := 0; j < count; j++ {
			cf := ws.cashFlowsGenerated[p][j]
			k := cf.TimeIndex
			if k < 0 || k >= e.numberCashFlowTimes {
				return contractErrorf("step %d: product %d cash flow references time index %d of %d", step, p, k, e.numberCashFlowTimes)
			}
			if e.discountingStep[k] < step {
				return contractErrorf("step %d: product %d pays at time index %d, discounted at earlier step %d", step, p, k, e.discountingStep[k])
			}
			if len(cf.Amount) != e.numberRates+1 {
				return contractErrorf("step %d: product %d cash flow carries %d amounts, want %d", step, p, len(cf.Amount), e.numberRates+1)
			}
			ws.numberCashFlowsThisIndex[p][k]++
			floats.AddScaled(ws.totalCashFlowsThisIndex[p].RawRowView(k), weight, cf.Amount)
		}
	}
	return nil
}

// backwardSweep folds each payment time's discounted flows into V at its discounting row and
// pulls V back one row per step, from the last step down to step 0.
func (e *AccountingEngine) backwardSweep(finalStep int) error {
	ws := e.ws
	flowsFound := false
	for step := e.numberSteps - 1; step >= 0; step-- {
		row := min(step, finalStep) + 1

		for _, k := range e.cashFlowIndicesThisStep[step] {
			noFlows := true
			for p := 0; p < e.numberProducts && noFlows; p++ {
				noFlows = ws.numberCashFlowsThisIndex[p][k] == 0
			}
			if noFlows {
				continue
			}
			flowsFound = true

			deflator := ws.deflatorAndDerivatives
			if e.doDeflation {
				e.discounters[k].Factors(ws.record.LIBORRates, ws.record.Discounts, row, deflator)
				if !(deflator[0] > 0) || math.IsInf(deflator[0], 0) {
					return degeneracyErrorf("cash-flow time %d: deflator %g at row %d", k, deflator[0], row)
				}
			}

			for p := 0; p < e.numberProducts; p++ {
				if ws.numberCashFlowsThisIndex[p][k] == 0 {
					continue
				}
				total := ws.totalCashFlowsThisIndex[p].RawRowView(k)
				v := ws.V[p].RawRowView(row)
				amount := total[0]
				if !e.doDeflation {
					ws.numerairesHeld[p] += amount
					floats.Add(v, total[1:])
					continue
				}
				// d(A D)/df = dA/df D + A dD/df
				ws.numerairesHeld[p] += amount * deflator[0]
				for i := 0; i < e.numberRates; i++ {
					v[i] += total[i+1]*deflator[0] + amount*deflator[i+1]
				}
			}
		}

		if !flowsFound || step > finalStep {
			continue
		}
		for p := 0; p < e.numberProducts; p++ {
			next := ws.V[p].RawRowView(step + 1)
			prev := ws.V[p].RawRowView(step)
			e.stepEvolution.PropagateAdjoint(step, &ws.record, next, prev)
		}
	}
	return nil
}

// MultiplePathValues runs numberOfPaths independent paths and adds every result vector to
// sink. The first error aborts the run; the sink then holds an incomplete sample.
func (e *AccountingEngine) MultiplePathValues(sink Sink, numberOfPaths int) error {
	values := make([]float64, e.NumberOfValues())
	for i := 0; i < numberOfPaths; i++ {
		if err := e.SinglePathValues(values); err != nil {
			return fmt.Errorf("path %d: %w", i, err)
		}
		if err := sink.Add(values); err != nil {
			return fmt.Errorf("path %d: %w", i, err)
		}
	}
	return nil
}
