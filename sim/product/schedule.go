// Package product implements pathwise multi-products for the accounting engine. Every product
// reports its cash flows together with their derivatives with respect to the forward rates
// of the step that generated them.
package product

import (
	"fmt"

	"github.com/inference-sim/pathwise-sim/sim"
)

// fixingSchedule maps each step to the rate resetting at the step's end time, or -1.
// Every reset time t_0..t_{n-1} must be an evolution time.
func fixingSchedule(evolution *sim.EvolutionDescription) ([]int, error) {
	rateTimes := evolution.RateTimes()
	n := evolution.NumberOfRates()
	fixings := make([]int, evolution.NumberOfSteps())
	next := 0
	for s, t := range evolution.EvolutionTimes() {
		fixings[s] = -1
		if next < n && t == rateTimes[next] {
			fixings[s] = next
			next++
		}
	}
	if next != n {
		return nil, fmt.Errorf("reset time %f of rate %d is not an evolution time", rateTimes[next], next)
	}
	return fixings, nil
}

// emit writes a single-rate flow: amount paid at time index k with derivative dAmount
// with respect to rate i.
func emit(cf *sim.CashFlow, k, i int, amount, dAmount float64) {
	cf.TimeIndex = k
	clear(cf.Amount)
	cf.Amount[0] = amount
	cf.Amount[i+1] = dAmount
}
