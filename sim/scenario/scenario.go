// Package scenario loads pathwise-sim run descriptions from YAML and turns them into market
// models, products and per-worker engine factories.
package scenario

import (
	"bytes"
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Product types accepted in a scenario.
const (
	ProductCaplets = "caplets"
	ProductSwap    = "swap"
	ProductFixed   = "fixed"
)

// Scenario is the top-level run description.
// Loaded from YAML via LoadScenario(path).
type Scenario struct {
	Version    string         `yaml:"version"`
	Name       string         `yaml:"name" validate:"required"`
	Market     MarketSpec     `yaml:"market"`
	Products   []ProductSpec  `yaml:"products" validate:"min=1,dive"`
	Simulation SimulationSpec `yaml:"simulation"`
}

// MarketSpec parameterizes the flat-volatility displaced LMM.
type MarketSpec struct {
	RateTimes        []float64 `yaml:"rate_times" validate:"min=2"`
	EvolutionTimes   []float64 `yaml:"evolution_times,omitempty"`
	InitialForwards  []float64 `yaml:"initial_forwards" validate:"min=1"`
	Displacement     float64   `yaml:"displacement" validate:"gte=0"`
	Volatility       float64   `yaml:"volatility" validate:"gte=0"`
	CorrelationDecay float64   `yaml:"correlation_decay" validate:"gte=0"`
	Factors          int       `yaml:"factors" validate:"gte=1"`
}

// ProductSpec describes one leg. Caplets use Strike or Strikes; swaps use FixedRate and
// Payer; fixed flows use PaymentTimes and Flows.
type ProductSpec struct {
	Type         string     `yaml:"type" validate:"oneof=caplets swap fixed"`
	Name         string     `yaml:"name,omitempty"`
	Strike       *float64   `yaml:"strike,omitempty"`
	Strikes      []float64  `yaml:"strikes,omitempty"`
	FixedRate    float64    `yaml:"fixed_rate,omitempty"`
	Payer        bool       `yaml:"payer,omitempty"`
	PaymentTimes []float64  `yaml:"payment_times,omitempty"`
	Flows        []FlowSpec `yaml:"flows,omitempty" validate:"dive"`
	Deflated     bool       `yaml:"deflated,omitempty"`
}

// FlowSpec is one predetermined payment of a fixed leg.
type FlowSpec struct {
	Step      int       `yaml:"step" validate:"gte=0"`
	TimeIndex int       `yaml:"time_index" validate:"gte=0"`
	Amount    float64   `yaml:"amount"`
	Partials  []float64 `yaml:"partials,omitempty"`
}

// SimulationSpec holds Monte Carlo run parameters. Zero values are replaced by defaults.
type SimulationSpec struct {
	Paths            int     `yaml:"paths" validate:"gte=0"`
	Seed             int64   `yaml:"seed"`
	Workers          int     `yaml:"workers" validate:"gte=0"`
	InitialNumeraire float64 `yaml:"initial_numeraire" validate:"gte=0"`
	Generator        string  `yaml:"generator,omitempty" validate:"omitempty,oneof=normal inverse-cdf"`
}

// Defaults applied by ApplyDefaults.
const (
	DefaultPaths            = 10000
	DefaultWorkers          = 1
	DefaultInitialNumeraire = 1.0
)

var validate = validator.New()

// LoadScenario reads a YAML scenario with strict field checking and applies defaults.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading scenario: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario decodes YAML bytes; unknown keys are errors.
func ParseScenario(data []byte) (*Scenario, error) {
	var s Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&s); err != nil {
		return nil, fmt.Errorf("parsing scenario: %w", err)
	}
	s.ApplyDefaults()
	return &s, nil
}

// ApplyDefaults fills zero-valued simulation parameters.
func (s *Scenario) ApplyDefaults() {
	if s.Version == "" {
		s.Version = "1"
	}
	if s.Simulation.Paths == 0 {
		s.Simulation.Paths = DefaultPaths
	}
	if s.Simulation.Workers == 0 {
		s.Simulation.Workers = DefaultWorkers
	}
	if s.Simulation.InitialNumeraire == 0 {
		s.Simulation.InitialNumeraire = DefaultInitialNumeraire
	}
}

// Validate checks struct tags, then the cross-field rules tags cannot express.
func (s *Scenario) Validate() error {
	if err := validate.Struct(s); err != nil {
		return fmt.Errorf("invalid scenario: %w", err)
	}
	n := len(s.Market.RateTimes) - 1
	if len(s.Market.InitialForwards) != n {
		return fmt.Errorf("market: %d initial_forwards for %d rates", len(s.Market.InitialForwards), n)
	}
	if s.Market.Factors > n {
		return fmt.Errorf("market: factors %d exceeds number of rates %d", s.Market.Factors, n)
	}
	for i, p := range s.Products {
		if err := validateProduct(&p, i, n); err != nil {
			return err
		}
	}
	return nil
}

func validateProduct(p *ProductSpec, idx, rates int) error {
	prefix := fmt.Sprintf("products[%d]", idx)
	switch p.Type {
	case ProductCaplets:
		if p.Strike == nil && len(p.Strikes) == 0 {
			return fmt.Errorf("%s: caplets need strike or strikes", prefix)
		}
		if p.Strike != nil && len(p.Strikes) > 0 {
			return fmt.Errorf("%s: set strike or strikes, not both", prefix)
		}
		if len(p.Strikes) > 0 && len(p.Strikes) != rates {
			return fmt.Errorf("%s: %d strikes for %d rates", prefix, len(p.Strikes), rates)
		}
	case ProductFixed:
		if len(p.PaymentTimes) == 0 || len(p.Flows) == 0 {
			return fmt.Errorf("%s: fixed legs need payment_times and flows", prefix)
		}
	}
	if p.Deflated && p.Type != ProductFixed {
		return fmt.Errorf("%s: only fixed legs may be deflated", prefix)
	}
	return nil
}

// Encode renders the scenario as YAML.
func (s *Scenario) Encode() ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(s); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Example returns a small two-leg scenario: a caplet strip and a payer swap.
func Example() *Scenario {
	strike := 0.05
	s := &Scenario{
		Version: "1",
		Name:    "caplets-and-swap",
		Market: MarketSpec{
			RateTimes:        []float64{0.5, 1, 1.5, 2, 2.5},
			InitialForwards:  []float64{0.045, 0.047, 0.049, 0.051},
			Displacement:     0.01,
			Volatility:       0.2,
			CorrelationDecay: 0.1,
			Factors:          2,
		},
		Products: []ProductSpec{
			{Type: ProductCaplets, Name: "caplet", Strike: &strike},
			{Type: ProductSwap, Name: "payer-swap", FixedRate: 0.048, Payer: true},
		},
		Simulation: SimulationSpec{Paths: 20000, Seed: 42, Workers: 4},
	}
	s.ApplyDefaults()
	return s
}
