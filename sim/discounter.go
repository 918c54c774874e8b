package sim

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// Discounter turns the recorded curve of a step row into the deflator of one payment time
// and its derivatives with respect to the forward rates of that row.
// out has NumberOfRates()+1 entries: out[0] is the deflator, out[1+i] is dD/df_i.
type Discounter interface {
	Factors(liborRates, discounts *mat.Dense, row int, out []float64)
}

// PathwiseDiscounter deflates a payment at time T with the spot-measure deflator P(t_0,T)
// read from the recorded Discounts row, log-linearly interpolated between rate times:
//
//	D = P_b (P_{b+1}/P_b)^w,  t_b <= T <= t_{b+1},  w = (T - t_b)/tau_b
type PathwiseDiscounter struct {
	before     int
	postWeight float64
	taus       []float64
}

// NewPathwiseDiscounter locates paymentTime on the rate grid.
func NewPathwiseDiscounter(paymentTime float64, rateTimes []float64) (*PathwiseDiscounter, error) {
	n := len(rateTimes) - 1
	if n < 1 {
		return nil, fmt.Errorf("at least two rate times required, got %d", len(rateTimes))
	}
	if paymentTime < rateTimes[0] || paymentTime > rateTimes[n] {
		return nil, fmt.Errorf("payment time %f outside rate grid [%f, %f]", paymentTime, rateTimes[0], rateTimes[n])
	}
	d := &PathwiseDiscounter{taus: make([]float64, n)}
	for i := 0; i < n; i++ {
		d.taus[i] = rateTimes[i+1] - rateTimes[i]
	}
	for d.before < n-1 && rateTimes[d.before+1] <= paymentTime {
		d.before++
	}
	d.postWeight = (paymentTime - rateTimes[d.before]) / d.taus[d.before]
	return d, nil
}

func (d *PathwiseDiscounter) Factors(liborRates, discounts *mat.Dense, row int, out []float64) {
	rates := liborRates.RawRowView(row)
	dfs := discounts.RawRowView(row)
	clear(out)

	b := d.before
	var df float64
	switch d.postWeight {
	case 0:
		df = dfs[b]
	case 1:
		df = dfs[b+1]
	default:
		df = dfs[b] * math.Pow(dfs[b+1]/dfs[b], d.postWeight)
	}
	out[0] = df
	for i := 0; i < b; i++ {
		out[i+1] = -df * d.taus[i] / (1 + rates[i]*d.taus[i])
	}
	if d.postWeight != 0 {
		out[b+1] = -df * d.postWeight * d.taus[b] / (1 + rates[b]*d.taus[b])
	}
}
