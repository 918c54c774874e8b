package scenario

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/inference-sim/pathwise-sim/sim"
	"github.com/inference-sim/pathwise-sim/sim/marketmodel"
	"github.com/inference-sim/pathwise-sim/sim/product"
)

// MarketConfig converts the market section.
func (s *Scenario) MarketConfig() sim.MarketConfig {
	m := s.Market
	return sim.NewMarketConfig(m.RateTimes, m.EvolutionTimes, m.InitialForwards,
		m.Displacement, m.Volatility, m.CorrelationDecay, m.Factors)
}

// SimulationConfig converts the simulation section.
func (s *Scenario) SimulationConfig() sim.SimulationConfig {
	r := s.Simulation
	return sim.NewSimulationConfig(r.Paths, r.Seed, r.Workers, r.InitialNumeraire, r.Generator)
}

// BuildProduct assembles the legs into one pathwise product on evolution.
// A single leg is returned as is; several legs form a product.Composite.
func (s *Scenario) BuildProduct(evolution *sim.EvolutionDescription) (sim.PathwiseProduct, error) {
	legs := make([]sim.PathwiseProduct, 0, len(s.Products))
	for i, spec := range s.Products {
		leg, err := buildLeg(spec, evolution)
		if err != nil {
			return nil, fmt.Errorf("products[%d]: %w", i, err)
		}
		legs = append(legs, leg)
	}
	if len(legs) == 1 {
		return legs[0], nil
	}
	return product.NewComposite(legs...)
}

func buildLeg(spec ProductSpec, evolution *sim.EvolutionDescription) (sim.PathwiseProduct, error) {
	switch spec.Type {
	case ProductCaplets:
		strikes := spec.Strikes
		if spec.Strike != nil {
			strikes = make([]float64, evolution.NumberOfRates())
			for i := range strikes {
				strikes[i] = *spec.Strike
			}
		}
		return product.NewMultiCaplet(evolution, strikes)
	case ProductSwap:
		return product.NewSwap(evolution, spec.FixedRate, spec.Payer)
	case ProductFixed:
		flows := make([]product.FixedFlow, len(spec.Flows))
		for i, f := range spec.Flows {
			flows[i] = product.FixedFlow{Step: f.Step, TimeIndex: f.TimeIndex, Amount: f.Amount, Partials: f.Partials}
		}
		return product.NewFixedCashFlows(evolution, spec.PaymentTimes, flows, spec.Deflated)
	default:
		return nil, fmt.Errorf("unknown product type %q", spec.Type)
	}
}

// ProductLabels names every sub-product in engine order; caplet strips expand per rate.
func (s *Scenario) ProductLabels() []string {
	var labels []string
	rates := len(s.Market.RateTimes) - 1
	for i, spec := range s.Products {
		name := spec.Name
		if name == "" {
			name = fmt.Sprintf("%s_%d", spec.Type, i)
		}
		if spec.Type == ProductCaplets {
			for j := 0; j < rates; j++ {
				labels = append(labels, fmt.Sprintf("%s_%d", name, j))
			}
			continue
		}
		labels = append(labels, name)
	}
	return labels
}

// NewEngineFactory returns a factory giving each worker its own generator stream, evolver and
// product clone on top of the shared read-only model. Worker 0 uses sim.SubsystemBrownian so a
// single-worker run matches a serial run with the same seed.
func NewEngineFactory(model sim.MarketModel, prod sim.PathwiseProduct, cfg sim.SimulationConfig) sim.EngineFactory {
	rng := sim.NewPartitionedRNG(sim.NewSimulationKey(cfg.Seed))
	return func(worker int) (*sim.AccountingEngine, error) {
		name := sim.SubsystemWorker(worker)
		if worker == 0 {
			name = sim.SubsystemBrownian
		}
		gen, err := marketmodel.NewGenerator(cfg.Generator, rng.ForSubsystem(name), model.NumberOfFactors(), model.NumberOfSteps())
		if err != nil {
			return nil, err
		}
		evolver, err := marketmodel.NewLogNormalFwdRateEuler(model, gen)
		if err != nil {
			return nil, err
		}
		return sim.NewAccountingEngine(evolver, prod, model, cfg.InitialNumeraireValue)
	}
}

// Result is the outcome of one scenario run.
type Result struct {
	RunID         uuid.UUID
	Scenario      string
	Labels        []string
	NumberOfRates int
	Paths         int
	Workers       int
	Elapsed       time.Duration
	Stats         *sim.SequenceStatistics
}

// Values returns the mean value and its standard error of sub-product p.
func (r *Result) Values(p int) (mean, stdErr float64) {
	return r.Stats.Mean()[p], r.Stats.ErrorEstimate()[p]
}

// Deltas returns the mean Deltas of sub-product p and their standard errors.
func (r *Result) Deltas(p int) (mean, stdErr []float64) {
	off := len(r.Labels) + p*r.NumberOfRates
	return r.Stats.Mean()[off : off+r.NumberOfRates], r.Stats.ErrorEstimate()[off : off+r.NumberOfRates]
}

// Run validates s, builds its collaborators and evaluates it with a ParallelRunner.
func Run(ctx context.Context, s *Scenario) (*Result, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	model, err := marketmodel.NewFlatVolModel(s.MarketConfig())
	if err != nil {
		return nil, fmt.Errorf("building market model: %w", err)
	}
	prod, err := s.BuildProduct(model.Evolution())
	if err != nil {
		return nil, err
	}
	if labels := s.ProductLabels(); len(labels) != prod.NumberOfProducts() {
		return nil, fmt.Errorf("%d labels for %d products", len(labels), prod.NumberOfProducts())
	}
	cfg := s.SimulationConfig()
	runner, err := sim.NewParallelRunner(NewEngineFactory(model, prod, cfg), cfg.Workers)
	if err != nil {
		return nil, err
	}

	res := &Result{
		RunID:         uuid.New(),
		Scenario:      s.Name,
		Labels:        s.ProductLabels(),
		NumberOfRates: model.NumberOfRates(),
		Paths:         cfg.Paths,
		Workers:       cfg.Workers,
	}
	logrus.Infof("run %s: scenario %q, %d paths on %d workers, %d rates, %d factors",
		res.RunID, s.Name, cfg.Paths, cfg.Workers, model.NumberOfRates(), model.NumberOfFactors())

	start := time.Now()
	stats, err := runner.Run(ctx, cfg.Paths)
	if err != nil {
		return nil, fmt.Errorf("run %s: %w", res.RunID, err)
	}
	res.Elapsed = time.Since(start)
	res.Stats = stats
	return res, nil
}
