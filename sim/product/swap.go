package product

import (
	"github.com/inference-sim/pathwise-sim/sim"
)

// Swap exchanges a fixed rate against the forward fixing of every period.
// A payer swap receives tau_i (f_i - K) at t_{i+1}; a receiver swap the opposite.
type Swap struct {
	evolution *sim.EvolutionDescription
	fixedRate float64
	sign      float64
	fixings   []int
	step      int
}

// NewSwap builds a swap over every rate of evolution.
func NewSwap(evolution *sim.EvolutionDescription, fixedRate float64, payer bool) (*Swap, error) {
	fixings, err := fixingSchedule(evolution)
	if err != nil {
		return nil, err
	}
	sign := 1.0
	if !payer {
		sign = -1
	}
	return &Swap{evolution: evolution, fixedRate: fixedRate, sign: sign, fixings: fixings}, nil
}

func (s *Swap) Evolution() *sim.EvolutionDescription       { return s.evolution }
func (s *Swap) PossibleCashFlowTimes() []float64           { return s.evolution.RateTimes()[1:] }
func (s *Swap) NumberOfProducts() int                      { return 1 }
func (s *Swap) MaxNumberOfCashFlowsPerProductPerStep() int { return 1 }
func (s *Swap) AlreadyDeflated() bool                      { return false }
func (s *Swap) Reset()                                     { s.step = 0 }

func (s *Swap) NextTimeStep(state *sim.CurveState, numberCashFlowsThisStep []int, cashFlowsGenerated [][]sim.CashFlow) bool {
	numberCashFlowsThisStep[0] = 0
	if i := s.fixings[s.step]; i >= 0 {
		tau := s.evolution.RateTaus()[i]
		numberCashFlowsThisStep[0] = 1
		emit(&cashFlowsGenerated[0][0], i, i, s.sign*tau*(state.ForwardRate(i)-s.fixedRate), s.sign*tau)
	}
	s.step++
	return s.step == len(s.fixings)
}

func (s *Swap) Clone() sim.PathwiseProduct {
	clone := *s
	return &clone
}
