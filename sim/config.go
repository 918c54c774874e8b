package sim

// MarketConfig groups the parameters of a flat-volatility displaced LMM.
type MarketConfig struct {
	RateTimes        []float64 // n+1 rate times, strictly increasing
	EvolutionTimes   []float64 // simulation times; empty means the reset times RateTimes[0..n-1]
	InitialForwards  []float64 // n forward rates at time 0
	Displacement     float64   // common displacement d: f+d is lognormal
	Volatility       float64   // flat volatility of log(f+d)
	CorrelationDecay float64   // beta in rho_ij = exp(-beta |t_i - t_j|)
	Factors          int       // number of driving Brownian factors (1..n)
}

// SimulationConfig groups Monte Carlo run parameters.
type SimulationConfig struct {
	Paths                 int     // number of paths (must be > 0)
	Seed                  int64   // master seed of the PartitionedRNG
	Workers               int     // parallel workers, each with a private engine
	InitialNumeraireValue float64 // numeraire value at time 0 (must be > 0)
	Generator             string  // "normal" (default) or "inverse-cdf"
}

// NewMarketConfig is the canonical constructor for MarketConfig.
func NewMarketConfig(rateTimes, evolutionTimes, initialForwards []float64,
	displacement, volatility, correlationDecay float64, factors int) MarketConfig {
	return MarketConfig{
		RateTimes:        rateTimes,
		EvolutionTimes:   evolutionTimes,
		InitialForwards:  initialForwards,
		Displacement:     displacement,
		Volatility:       volatility,
		CorrelationDecay: correlationDecay,
		Factors:          factors,
	}
}

// NewSimulationConfig is the canonical constructor for SimulationConfig.
func NewSimulationConfig(paths int, seed int64, workers int, initialNumeraireValue float64, generator string) SimulationConfig {
	return SimulationConfig{
		Paths:                 paths,
		Seed:                  seed,
		Workers:               workers,
		InitialNumeraireValue: initialNumeraireValue,
		Generator:             generator,
	}
}

// Evolution builds the EvolutionDescription of the configured grid.
func (c MarketConfig) Evolution() (*EvolutionDescription, error) {
	if len(c.EvolutionTimes) == 0 {
		return RateReset(c.RateTimes)
	}
	return NewEvolutionDescription(c.RateTimes, c.EvolutionTimes)
}
