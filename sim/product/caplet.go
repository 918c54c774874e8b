package product

import (
	"fmt"
	"slices"

	"github.com/inference-sim/pathwise-sim/sim"
)

// MultiCaplet is a strip of caplets, one sub-product per rate: caplet i pays
// tau_i max(f_i - K_i, 0) at t_{i+1}, fixed at t_i. Its pathwise derivative is
// tau_i 1{f_i > K_i} with respect to f_i.
type MultiCaplet struct {
	evolution *sim.EvolutionDescription
	strikes   []float64
	fixings   []int
	step      int
}

// NewMultiCaplet builds caplets on every rate of evolution with the given strikes.
func NewMultiCaplet(evolution *sim.EvolutionDescription, strikes []float64) (*MultiCaplet, error) {
	if len(strikes) != evolution.NumberOfRates() {
		return nil, fmt.Errorf("%d strikes for %d rates", len(strikes), evolution.NumberOfRates())
	}
	fixings, err := fixingSchedule(evolution)
	if err != nil {
		return nil, err
	}
	return &MultiCaplet{evolution: evolution, strikes: slices.Clone(strikes), fixings: fixings}, nil
}

// PossibleCashFlowTimes are the payment times t_1..t_n; caplet i pays at index i.
func (c *MultiCaplet) PossibleCashFlowTimes() []float64 { return c.evolution.RateTimes()[1:] }

func (c *MultiCaplet) Evolution() *sim.EvolutionDescription       { return c.evolution }
func (c *MultiCaplet) NumberOfProducts() int                      { return len(c.strikes) }
func (c *MultiCaplet) MaxNumberOfCashFlowsPerProductPerStep() int { return 1 }
func (c *MultiCaplet) AlreadyDeflated() bool                      { return false }
func (c *MultiCaplet) Reset()                                     { c.step = 0 }

func (c *MultiCaplet) NextTimeStep(state *sim.CurveState, numberCashFlowsThisStep []int, cashFlowsGenerated [][]sim.CashFlow) bool {
	clear(numberCashFlowsThisStep)
	if i := c.fixings[c.step]; i >= 0 {
		tau := c.evolution.RateTaus()[i]
		if f := state.ForwardRate(i); f > c.strikes[i] {
			numberCashFlowsThisStep[i] = 1
			emit(&cashFlowsGenerated[i][0], i, i, tau*(f-c.strikes[i]), tau)
		}
	}
	c.step++
	return c.step == len(c.fixings)
}

func (c *MultiCaplet) Clone() sim.PathwiseProduct {
	clone := *c
	return &clone
}
