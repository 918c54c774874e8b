package sim

import (
	"fmt"
	"slices"
)

// EvolutionDescription describes the rate grid and the simulation time grid shared by the
// market model, the evolver and the product.
//
// With n rates there are n+1 rate times; rate i accrues over [t_i, t_{i+1}) and resets at t_i.
// Step s evolves the curve from evolutionTimes[s-1] (0 for s=0) to evolutionTimes[s].
type EvolutionDescription struct {
	rateTimes      []float64
	rateTaus       []float64
	evolutionTimes []float64
	firstAliveRate []int
}

// NewEvolutionDescription validates the grids and precomputes accruals and alive indices.
func NewEvolutionDescription(rateTimes, evolutionTimes []float64) (*EvolutionDescription, error) {
	if len(rateTimes) < 2 {
		return nil, fmt.Errorf("at least two rate times required, got %d", len(rateTimes))
	}
	if rateTimes[0] < 0 {
		return nil, fmt.Errorf("rate times must be non-negative, got %f", rateTimes[0])
	}
	for i := 1; i < len(rateTimes); i++ {
		if rateTimes[i] <= rateTimes[i-1] {
			return nil, fmt.Errorf("rate times must be strictly increasing (index %d: %f <= %f)", i, rateTimes[i], rateTimes[i-1])
		}
	}
	if len(evolutionTimes) == 0 {
		return nil, fmt.Errorf("at least one evolution time required")
	}
	if evolutionTimes[0] <= 0 {
		return nil, fmt.Errorf("evolution times must be positive, got %f", evolutionTimes[0])
	}
	for i := 1; i < len(evolutionTimes); i++ {
		if evolutionTimes[i] <= evolutionTimes[i-1] {
			return nil, fmt.Errorf("evolution times must be strictly increasing (index %d: %f <= %f)", i, evolutionTimes[i], evolutionTimes[i-1])
		}
	}
	n := len(rateTimes) - 1
	if last := evolutionTimes[len(evolutionTimes)-1]; last > rateTimes[n-1] {
		return nil, fmt.Errorf("last evolution time %f is after the last reset time %f", last, rateTimes[n-1])
	}

	d := &EvolutionDescription{
		rateTimes:      slices.Clone(rateTimes),
		rateTaus:       make([]float64, n),
		evolutionTimes: slices.Clone(evolutionTimes),
		firstAliveRate: make([]int, len(evolutionTimes)),
	}
	for i := 0; i < n; i++ {
		d.rateTaus[i] = rateTimes[i+1] - rateTimes[i]
	}
	// A rate is alive during a step while its reset time is after the step start.
	start, alive := 0.0, 0
	for s, end := range evolutionTimes {
		for alive < n && rateTimes[alive] <= start {
			alive++
		}
		d.firstAliveRate[s] = alive
		start = end
	}
	return d, nil
}

// RateReset builds the usual description whose evolution times are the reset times
// rateTimes[0..n-1].
func RateReset(rateTimes []float64) (*EvolutionDescription, error) {
	if len(rateTimes) < 2 {
		return nil, fmt.Errorf("at least two rate times required, got %d", len(rateTimes))
	}
	return NewEvolutionDescription(rateTimes, rateTimes[:len(rateTimes)-1])
}

func (d *EvolutionDescription) NumberOfRates() int        { return len(d.rateTaus) }
func (d *EvolutionDescription) NumberOfSteps() int        { return len(d.evolutionTimes) }
func (d *EvolutionDescription) RateTimes() []float64      { return d.rateTimes }
func (d *EvolutionDescription) RateTaus() []float64       { return d.rateTaus }
func (d *EvolutionDescription) EvolutionTimes() []float64 { return d.evolutionTimes }

// FirstAliveRate returns the index of the first rate not yet reset at the start of step.
func (d *EvolutionDescription) FirstAliveRate(step int) int { return d.firstAliveRate[step] }

// StepLength returns the year fraction covered by step.
func (d *EvolutionDescription) StepLength(step int) float64 {
	if step == 0 {
		return d.evolutionTimes[0]
	}
	return d.evolutionTimes[step] - d.evolutionTimes[step-1]
}

// SameGrid reports whether two descriptions share rate and evolution times exactly.
func (d *EvolutionDescription) SameGrid(other *EvolutionDescription) bool {
	return slices.Equal(d.rateTimes, other.rateTimes) && slices.Equal(d.evolutionTimes, other.evolutionTimes)
}

// DiscountingStep returns the step whose end state is used to deflate a payment at time t:
// the first step ending at or after t, capped at the final step.
func (d *EvolutionDescription) DiscountingStep(t float64) int {
	step, _ := slices.BinarySearch(d.evolutionTimes, t)
	return min(step, len(d.evolutionTimes)-1)
}
