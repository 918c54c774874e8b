package cmd

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/inference-sim/pathwise-sim/sim/scenario"
)

// Environment variables read (after loading --env-file) when the matching flag is not set.
const (
	envLogLevel = "PATHWISE_LOG"
	envSeed     = "PATHWISE_SEED"
	envWorkers  = "PATHWISE_WORKERS"
)

var (
	// CLI flags shared by subcommands
	scenarioPath string // Path to the YAML scenario
	envFile      string // Optional .env file with PATHWISE_* defaults
	logLevel     string // Log verbosity level

	// CLI flags for `run`; zero means "use the scenario value"
	seed         int64  // Master seed for Brownian generation
	numPaths     int    // Number of Monte Carlo paths
	workers      int    // Parallel workers, each owning an engine
	generator    string // Brownian generator name
	outputFormat string // Report format: text or yaml
)

// rootCmd is the base command for the CLI
var rootCmd = &cobra.Command{
	Use:   "pathwise-sim",
	Short: "Monte Carlo values and adjoint pathwise Deltas under a displaced LIBOR Market Model",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		loadEnvFile(envFile)
		if !cmd.Flags().Changed("log") {
			if v := os.Getenv(envLogLevel); v != "" {
				logLevel = v
			}
		}
		level, err := logrus.ParseLevel(logLevel)
		if err != nil {
			logrus.Fatalf("Invalid log level: %s", logLevel)
		}
		logrus.SetLevel(level)
	},
}

// loadEnvFile loads path into the process environment; a missing default file is not an error.
func loadEnvFile(path string) {
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) && path == ".env" {
			return
		}
		logrus.Fatalf("Failed to load env file %s: %v", path, err)
	}
	logrus.Debugf("loaded environment from %s", path)
}

// applyOverrides copies CLI flags (or PATHWISE_* env values) over the scenario.
func applyOverrides(cmd *cobra.Command, s *scenario.Scenario) {
	if cmd.Flags().Changed("seed") {
		s.Simulation.Seed = seed
	} else if v := os.Getenv(envSeed); v != "" {
		parsed, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			logrus.Fatalf("Invalid %s=%q: %v", envSeed, v, err)
		}
		s.Simulation.Seed = parsed
	}
	if cmd.Flags().Changed("workers") {
		s.Simulation.Workers = workers
	} else if v := os.Getenv(envWorkers); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil {
			logrus.Fatalf("Invalid %s=%q: %v", envWorkers, v, err)
		}
		s.Simulation.Workers = parsed
	}
	if cmd.Flags().Changed("paths") {
		s.Simulation.Paths = numPaths
	}
	if cmd.Flags().Changed("generator") {
		s.Simulation.Generator = generator
	}
}

// runCmd evaluates a scenario and prints values and Deltas
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a scenario and report values and pathwise Deltas",
	Run: func(cmd *cobra.Command, args []string) {
		s, err := scenario.LoadScenario(scenarioPath)
		if err != nil {
			logrus.Fatalf("Failed to load scenario %s: %v", scenarioPath, err)
		}
		applyOverrides(cmd, s)

		res, err := scenario.Run(context.Background(), s)
		if err != nil {
			logrus.Fatalf("Simulation failed: %v", err)
		}
		if err := writeReport(os.Stdout, res, outputFormat); err != nil {
			logrus.Fatalf("Failed to write report: %v", err)
		}
		logrus.Infof("Run %s complete in %v.", res.RunID, res.Elapsed)
	},
}

// Execute runs the CLI root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// init sets up CLI flags and subcommands
func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log", "warn", "Log level (trace, debug, info, warn, error, fatal, panic)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "File with PATHWISE_* environment defaults")

	runCmd.Flags().StringVar(&scenarioPath, "scenario", "", "Path to the YAML scenario")
	runCmd.Flags().Int64Var(&seed, "seed", 0, "Master seed (overrides the scenario)")
	runCmd.Flags().IntVar(&numPaths, "paths", 0, "Number of paths (overrides the scenario)")
	runCmd.Flags().IntVar(&workers, "workers", 0, "Parallel workers (overrides the scenario)")
	runCmd.Flags().StringVar(&generator, "generator", "", "Brownian generator: normal or inverse-cdf (overrides the scenario)")
	runCmd.Flags().StringVar(&outputFormat, "format", "text", "Report format: text or yaml")
	_ = runCmd.MarkFlagRequired("scenario")

	// Attach `run` as a subcommand to `root`
	rootCmd.AddCommand(runCmd)
}
