package marketmodel

import (
	"fmt"
	"math"
	"slices"

	"github.com/inference-sim/pathwise-sim/sim"
)

// LogNormalFwdRateEuler evolves displaced forward rates under the spot measure with a
// log-Euler step (drift evaluated at the start of the step):
//
//	log(f_i+d_i) += sum_{k=a}^{i} g_k C_ik - C_ii/2 + A_i.z,  g_k = tau_k (f_k+d_k)/(1+tau_k f_k)
//
// where A is the step pseudo-root, C = A A^T and a the first alive rate. Rates already reset
// are frozen. sim.DisplacedEulerAdjoint is the exact adjoint of this step.
type LogNormalFwdRateEuler struct {
	model         sim.MarketModel
	generator     BrownianGenerator
	evolution     *sim.EvolutionDescription
	taus          []float64
	displacements []float64

	forwards    []float64
	brownians   []float64
	cumulative  []float64
	currentStep int
	state       *sim.CurveState
}

// NewLogNormalFwdRateEuler couples model and generator; the generator must supply one draw
// per factor per step.
func NewLogNormalFwdRateEuler(model sim.MarketModel, generator BrownianGenerator) (*LogNormalFwdRateEuler, error) {
	if generator.NumberOfFactors() != model.NumberOfFactors() {
		return nil, fmt.Errorf("generator has %d factors, model %d", generator.NumberOfFactors(), model.NumberOfFactors())
	}
	if generator.NumberOfSteps() != model.NumberOfSteps() {
		return nil, fmt.Errorf("generator has %d steps, model %d", generator.NumberOfSteps(), model.NumberOfSteps())
	}
	evolution := model.Evolution()
	e := &LogNormalFwdRateEuler{
		model:         model,
		generator:     generator,
		evolution:     evolution,
		taus:          evolution.RateTaus(),
		displacements: model.Displacements(),
		forwards:      slices.Clone(model.InitialRates()),
		brownians:     make([]float64, model.NumberOfFactors()),
		cumulative:    make([]float64, model.NumberOfFactors()),
		state:         sim.NewCurveState(evolution.RateTimes()),
	}
	e.state.SetOnForwardRates(e.forwards)
	return e, nil
}

func (e *LogNormalFwdRateEuler) Evolution() *sim.EvolutionDescription { return e.evolution }
func (e *LogNormalFwdRateEuler) NumberOfFactors() int                 { return len(e.brownians) }
func (e *LogNormalFwdRateEuler) CurrentStep() int                     { return e.currentStep }
func (e *LogNormalFwdRateEuler) CurrentState() *sim.CurveState        { return e.state }

func (e *LogNormalFwdRateEuler) StartNewPath() float64 {
	e.currentStep = 0
	copy(e.forwards, e.model.InitialRates())
	e.state.SetOnForwardRates(e.forwards)
	return e.generator.NextPath()
}

func (e *LogNormalFwdRateEuler) AdvanceStep() float64 {
	weight := e.generator.NextStep(e.brownians)
	step := e.currentStep
	root := e.model.PseudoRoot(step)
	clear(e.cumulative)

	for i := e.evolution.FirstAliveRate(step); i < len(e.forwards); i++ {
		displaced := e.forwards[i] + e.displacements[i]
		g := e.taus[i] * displaced / (1 + e.taus[i]*e.forwards[i])
		var drift, variance, shock float64
		for f, a := range root.RawRowView(i) {
			e.cumulative[f] += g * a
			drift += a * e.cumulative[f]
			variance += a * a
			shock += a * e.brownians[f]
		}
		e.forwards[i] = displaced*math.Exp(drift-0.5*variance+shock) - e.displacements[i]
	}

	e.state.SetOnForwardRates(e.forwards)
	e.currentStep++
	return weight
}
