package sim

// Evolver advances one LMM path step by step.
//
// Usage per path: StartNewPath, then AdvanceStep until the product reports done.
// CurrentStep is the index of the next step to be taken. CurrentState is the curve after
// the last completed step (the initial curve right after StartNewPath).
type Evolver interface {
	Evolution() *EvolutionDescription
	NumberOfFactors() int
	// StartNewPath resets to the initial curve and returns the path's initial weight.
	StartNewPath() float64
	// AdvanceStep evolves one step and returns the weight multiplier of that step.
	AdvanceStep() float64
	CurrentStep() int
	CurrentState() *CurveState
}

// EvolverFactory builds one evolver per worker so paths never share generator state.
type EvolverFactory func(worker int) (Evolver, error)
