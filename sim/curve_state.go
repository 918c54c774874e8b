package sim

import "slices"

// CurveState is the forward curve seen at one point of a path: the LMM forward rates and the
// discount ratios P(t_i)/P(t_0) they imply. Evolvers own one and hand it to products.
type CurveState struct {
	rateTimes    []float64
	rateTaus     []float64
	forwardRates []float64
	discRatios   []float64
}

// NewCurveState creates a zero curve on the given rate times (length n+1).
func NewCurveState(rateTimes []float64) *CurveState {
	n := len(rateTimes) - 1
	c := &CurveState{
		rateTimes:    slices.Clone(rateTimes),
		rateTaus:     make([]float64, n),
		forwardRates: make([]float64, n),
		discRatios:   make([]float64, n+1),
	}
	for i := 0; i < n; i++ {
		c.rateTaus[i] = rateTimes[i+1] - rateTimes[i]
	}
	c.discRatios[0] = 1
	return c
}

// SetOnForwardRates copies rates in and rebuilds the discount ratios.
func (c *CurveState) SetOnForwardRates(rates []float64) {
	copy(c.forwardRates, rates)
	c.discRatios[0] = 1
	for i, f := range c.forwardRates {
		c.discRatios[i+1] = c.discRatios[i] / (1 + c.rateTaus[i]*f)
	}
}

func (c *CurveState) NumberOfRates() int { return len(c.forwardRates) }

func (c *CurveState) RateTimes() []float64 { return c.rateTimes }

func (c *CurveState) RateTaus() []float64 { return c.rateTaus }

// ForwardRates returns the live slice; callers must not modify it.
func (c *CurveState) ForwardRates() []float64 { return c.forwardRates }

func (c *CurveState) ForwardRate(i int) float64 { return c.forwardRates[i] }

// DiscountRatio returns P(t_i)/P(t_j).
func (c *CurveState) DiscountRatio(i, j int) float64 {
	return c.discRatios[i] / c.discRatios[j]
}
