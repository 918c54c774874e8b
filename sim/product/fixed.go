package product

import (
	"fmt"
	"slices"

	"github.com/inference-sim/pathwise-sim/sim"
)

// FixedFlow is a predetermined payment: emitted at Step, paid at PaymentTimes[TimeIndex].
// Partials are its native derivatives with respect to the forward rates of Step (nil = none).
type FixedFlow struct {
	Step      int
	TimeIndex int
	Amount    float64
	Partials  []float64
}

// FixedCashFlows is a single product paying a fixed list of flows. Amounts may carry
// arbitrary native partials, which makes it the reference product for engine checks.
type FixedCashFlows struct {
	evolution    *sim.EvolutionDescription
	paymentTimes []float64
	byStep       [][]FixedFlow
	maxPerStep   int
	deflated     bool
	step         int
}

// NewFixedCashFlows validates flows against the grid. deflated marks amounts already in
// numeraire units.
func NewFixedCashFlows(evolution *sim.EvolutionDescription, paymentTimes []float64, flows []FixedFlow, deflated bool) (*FixedCashFlows, error) {
	if len(paymentTimes) == 0 {
		return nil, fmt.Errorf("at least one payment time required")
	}
	n := evolution.NumberOfRates()
	p := &FixedCashFlows{
		evolution:    evolution,
		paymentTimes: slices.Clone(paymentTimes),
		byStep:       make([][]FixedFlow, evolution.NumberOfSteps()),
		maxPerStep:   1,
		deflated:     deflated,
	}
	for i, f := range flows {
		if f.Step < 0 || f.Step >= evolution.NumberOfSteps() {
			return nil, fmt.Errorf("flow %d: step %d outside [0, %d)", i, f.Step, evolution.NumberOfSteps())
		}
		if f.TimeIndex < 0 || f.TimeIndex >= len(paymentTimes) {
			return nil, fmt.Errorf("flow %d: time index %d outside [0, %d)", i, f.TimeIndex, len(paymentTimes))
		}
		if f.Partials != nil && len(f.Partials) != n {
			return nil, fmt.Errorf("flow %d: %d partials for %d rates", i, len(f.Partials), n)
		}
		f.Partials = slices.Clone(f.Partials)
		p.byStep[f.Step] = append(p.byStep[f.Step], f)
		p.maxPerStep = max(p.maxPerStep, len(p.byStep[f.Step]))
	}
	return p, nil
}

func (p *FixedCashFlows) Evolution() *sim.EvolutionDescription       { return p.evolution }
func (p *FixedCashFlows) PossibleCashFlowTimes() []float64           { return p.paymentTimes }
func (p *FixedCashFlows) NumberOfProducts() int                      { return 1 }
func (p *FixedCashFlows) MaxNumberOfCashFlowsPerProductPerStep() int { return p.maxPerStep }
func (p *FixedCashFlows) AlreadyDeflated() bool                      { return p.deflated }
func (p *FixedCashFlows) Reset()                                     { p.step = 0 }

func (p *FixedCashFlows) NextTimeStep(state *sim.CurveState, numberCashFlowsThisStep []int, cashFlowsGenerated [][]sim.CashFlow) bool {
	flows := p.byStep[p.step]
	numberCashFlowsThisStep[0] = len(flows)
	for j, f := range flows {
		cf := &cashFlowsGenerated[0][j]
		cf.TimeIndex = f.TimeIndex
		clear(cf.Amount)
		cf.Amount[0] = f.Amount
		copy(cf.Amount[1:], f.Partials)
	}
	p.step++
	return p.step == len(p.byStep)
}

func (p *FixedCashFlows) Clone() sim.PathwiseProduct {
	clone := *p
	return &clone
}
