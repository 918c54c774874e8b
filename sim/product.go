package sim

// CashFlow is one payment emitted by a pathwise product.
// Amount[0] is the amount; Amount[1+i] its native derivative with respect to forward rate i
// as observed in the curve state passed to NextTimeStep.
type CashFlow struct {
	TimeIndex int
	Amount    []float64
}

// PathwiseProduct emits cash flows together with their pathwise derivatives.
//
// Native derivatives of a flow are taken against the rates of the step that generated it.
// Those rates must stay frozen until the flow's discounting step (true for any rate that has
// reset), since the engine attributes the derivatives to that later step.
type PathwiseProduct interface {
	Evolution() *EvolutionDescription
	// PossibleCashFlowTimes are the payment times flows may reference by index.
	PossibleCashFlowTimes() []float64
	NumberOfProducts() int
	MaxNumberOfCashFlowsPerProductPerStep() int
	// AlreadyDeflated products report amounts in numeraire units; the engine skips discounting.
	AlreadyDeflated() bool
	Reset()
	// NextTimeStep writes, for each product p, numberCashFlowsThisStep[p] flows into
	// cashFlowsGenerated[p] (each Amount slice is preallocated with NumberOfRates()+1 entries)
	// and reports whether the product is finished.
	NextTimeStep(state *CurveState, numberCashFlowsThisStep []int, cashFlowsGenerated [][]CashFlow) bool
	Clone() PathwiseProduct
}
