package sim

import (
	"gonum.org/v1/gonum/mat"
)

// pathWorkspace holds every per-path buffer of an AccountingEngine. It is sized once and
// overwritten in place, so a warmed-up engine allocates nothing per path.
type pathWorkspace struct {
	currentForwards []float64
	lastForwards    []float64

	record PathRecord

	// V[p] rows follow the PathRecord rows; row 0 ends up holding the Deltas of product p.
	V []*mat.Dense

	deflatorAndDerivatives []float64

	// numerairesHeld[p] is the deflated value of product p in numeraire units.
	numerairesHeld []float64

	numberCashFlowsThisStep []int
	cashFlowsGenerated      [][]CashFlow

	// numberCashFlowsThisIndex[p][k] counts flows of product p paid at cash-flow time k;
	// totalCashFlowsThisIndex[p] row k sums their weighted amounts and native partials.
	numberCashFlowsThisIndex [][]int
	totalCashFlowsThisIndex  []*mat.Dense
}

func newPathWorkspace(products, rates, steps, cashFlowTimes, maxFlows int) *pathWorkspace {
	rows := steps + 1
	ws := &pathWorkspace{
		currentForwards: make([]float64, rates),
		lastForwards:    make([]float64, rates),
		record: PathRecord{
			LIBORRatios:           mat.NewDense(rows, rates, nil),
			LIBORRates:            mat.NewDense(rows, rates, nil),
			Discounts:             mat.NewDense(rows, rates+1, nil),
			StepsDiscountsSquared: mat.NewDense(rows, rates, nil),
		},
		V:                        make([]*mat.Dense, products),
		deflatorAndDerivatives:   make([]float64, rates+1),
		numerairesHeld:           make([]float64, products),
		numberCashFlowsThisStep:  make([]int, products),
		cashFlowsGenerated:       make([][]CashFlow, products),
		numberCashFlowsThisIndex: make([][]int, products),
		totalCashFlowsThisIndex:  make([]*mat.Dense, products),
	}
	for p := 0; p < products; p++ {
		ws.V[p] = mat.NewDense(rows, rates, nil)
		ws.cashFlowsGenerated[p] = make([]CashFlow, maxFlows)
		for j := range ws.cashFlowsGenerated[p] {
			ws.cashFlowsGenerated[p][j].Amount = make([]float64, rates+1)
		}
		ws.numberCashFlowsThisIndex[p] = make([]int, cashFlowTimes)
		ws.totalCashFlowsThisIndex[p] = mat.NewDense(cashFlowTimes, rates+1, nil)
	}
	return ws
}

// reset clears the accumulators; the PathRecord rows are overwritten by the forward pass.
func (ws *pathWorkspace) reset() {
	clear(ws.numerairesHeld)
	clear(ws.numberCashFlowsThisStep)
	for p := range ws.V {
		ws.V[p].Zero()
		ws.totalCashFlowsThisIndex[p].Zero()
		clear(ws.numberCashFlowsThisIndex[p])
	}
}
