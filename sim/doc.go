// Package sim provides the pathwise accounting engine of pathwise-sim: Monte Carlo values and
// adjoint Deltas of interest-rate products under a displaced LIBOR Market Model.
//
// # Reading Guide
//
// Start with these files to understand the engine:
//   - evolution.go, curve_state.go: the rate/evolution grid and the curve seen along a path
//   - accounting_engine.go: forward pass, backward (adjoint) sweep, multi-path driver
//   - step_evolution.go: the per-step adjoint Jacobian of the displaced log-Euler scheme
//
// # Architecture
//
// The sim package defines interfaces and the engine; implementations live in sub-packages:
//   - sim/marketmodel/: flat-vol LMM pseudo-roots, log-Euler evolver, Brownian generators
//   - sim/product/: pathwise caplets, swaps, fixed flows and composites
//   - sim/scenario/: YAML scenario loading, validation and engine factories
//
// # Key Interfaces
//
//   - MarketModel: pseudo-roots and displacements per step
//   - Evolver: advances the curve one step
//   - PathwiseProduct: cash flows with native rate derivatives
//   - Discounter: deflator of a payment time and its rate derivatives
//   - StepEvolution: adjoint of one discretization step
//   - Sink: per-path result aggregation (SequenceStatistics)
//
// Paths are independent; ParallelRunner gives each worker its own engine and merges the
// per-worker statistics in worker order.
package sim
