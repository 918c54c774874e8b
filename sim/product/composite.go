package product

import (
	"fmt"

	"github.com/inference-sim/pathwise-sim/sim"
)

// Composite runs several pathwise products on one path as a single multi-product.
// Sub-products keep their order; their cash-flow times are concatenated.
type Composite struct {
	components []sim.PathwiseProduct
	productOff []int
	timeOff    []int
	times      []float64
	products   int
	maxPerStep int
	deflated   bool
	done       []bool
}

// NewComposite requires every component to share the grid and the deflation convention.
func NewComposite(components ...sim.PathwiseProduct) (*Composite, error) {
	if len(components) == 0 {
		return nil, fmt.Errorf("at least one component required")
	}
	c := &Composite{
		components: components,
		productOff: make([]int, len(components)),
		timeOff:    make([]int, len(components)),
		deflated:   components[0].AlreadyDeflated(),
		done:       make([]bool, len(components)),
	}
	evolution := components[0].Evolution()
	for i, p := range components {
		if !p.Evolution().SameGrid(evolution) {
			return nil, fmt.Errorf("component %d uses a different rate or evolution grid", i)
		}
		if p.AlreadyDeflated() != c.deflated {
			return nil, fmt.Errorf("component %d deflation convention differs from component 0", i)
		}
		c.productOff[i] = c.products
		c.timeOff[i] = len(c.times)
		c.products += p.NumberOfProducts()
		c.times = append(c.times, p.PossibleCashFlowTimes()...)
		c.maxPerStep = max(c.maxPerStep, p.MaxNumberOfCashFlowsPerProductPerStep())
	}
	return c, nil
}

func (c *Composite) Evolution() *sim.EvolutionDescription       { return c.components[0].Evolution() }
func (c *Composite) PossibleCashFlowTimes() []float64           { return c.times }
func (c *Composite) NumberOfProducts() int                      { return c.products }
func (c *Composite) MaxNumberOfCashFlowsPerProductPerStep() int { return c.maxPerStep }
func (c *Composite) AlreadyDeflated() bool                      { return c.deflated }

func (c *Composite) Reset() {
	for i, p := range c.components {
		p.Reset()
		c.done[i] = false
	}
}

func (c *Composite) NextTimeStep(state *sim.CurveState, numberCashFlowsThisStep []int, cashFlowsGenerated [][]sim.CashFlow) bool {
	allDone := true
	for i, p := range c.components {
		lo, hi := c.productOff[i], c.productOff[i]+p.NumberOfProducts()
		counts := numberCashFlowsThisStep[lo:hi]
		if c.done[i] {
			clear(counts)
			continue
		}
		c.done[i] = p.NextTimeStep(state, counts, cashFlowsGenerated[lo:hi])
		for j, n := range counts {
			for k := 0; k < n; k++ {
				cashFlowsGenerated[lo+j][k].TimeIndex += c.timeOff[i]
			}
		}
		allDone = allDone && c.done[i]
	}
	return allDone
}

func (c *Composite) Clone() sim.PathwiseProduct {
	clone := *c
	clone.components = make([]sim.PathwiseProduct, len(c.components))
	for i, p := range c.components {
		clone.components[i] = p.Clone()
	}
	clone.done = make([]bool, len(c.done))
	return &clone
}
