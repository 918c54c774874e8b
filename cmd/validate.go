package cmd

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/inference-sim/pathwise-sim/sim/marketmodel"
	"github.com/inference-sim/pathwise-sim/sim/scenario"
)

var validatePath string

// validateCmd checks a scenario end to end without simulating: YAML, tags, model and product
// construction, and the engine's dimension and pseudo-root checks.
var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check a scenario without running it",
	Run: func(cmd *cobra.Command, args []string) {
		s, err := scenario.LoadScenario(validatePath)
		if err != nil {
			logrus.Fatalf("Failed to load scenario %s: %v", validatePath, err)
		}
		if err := checkScenario(s); err != nil {
			logrus.Fatalf("Invalid scenario %s: %v", validatePath, err)
		}
		fmt.Printf("scenario %q is valid: %d products\n", s.Name, len(s.ProductLabels()))
	},
}

func checkScenario(s *scenario.Scenario) error {
	if err := s.Validate(); err != nil {
		return err
	}
	model, err := marketmodel.NewFlatVolModel(s.MarketConfig())
	if err != nil {
		return err
	}
	prod, err := s.BuildProduct(model.Evolution())
	if err != nil {
		return err
	}
	if _, err := scenario.NewEngineFactory(model, prod, s.SimulationConfig())(0); err != nil {
		return fmt.Errorf("engine: %w", err)
	}
	return nil
}

func init() {
	validateCmd.Flags().StringVar(&validatePath, "scenario", "", "Path to the YAML scenario")
	_ = validateCmd.MarkFlagRequired("scenario")

	rootCmd.AddCommand(validateCmd)
}
