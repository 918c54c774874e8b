package sim

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
)

// EngineFactory builds the private engine of one worker: its own evolver (own Brownian stream),
// its own product clone and workspace. It is called sequentially, before any worker starts.
type EngineFactory func(worker int) (*AccountingEngine, error)

// ParallelRunner spreads independent paths over workers. Each worker accumulates into a
// private SequenceStatistics; the results are merged in worker order once every worker is
// done, so a fixed seed and worker count give identical statistics run to run.
type ParallelRunner struct {
	factory EngineFactory
	workers int
}

// NewParallelRunner validates the worker count.
func NewParallelRunner(factory EngineFactory, workers int) (*ParallelRunner, error) {
	if factory == nil {
		return nil, fmt.Errorf("engine factory is required")
	}
	if workers < 1 {
		return nil, fmt.Errorf("workers must be positive, got %d", workers)
	}
	return &ParallelRunner{factory: factory, workers: workers}, nil
}

// pathsForWorker splits numberOfPaths as evenly as possible, lower workers taking the remainder.
func pathsForWorker(numberOfPaths, workers, worker int) int {
	share := numberOfPaths / workers
	if worker < numberOfPaths%workers {
		share++
	}
	return share
}

// Run evaluates numberOfPaths paths and returns the merged statistics. Cancelling ctx stops
// workers between paths; a cancelled or failed run returns an error and no statistics.
func (r *ParallelRunner) Run(ctx context.Context, numberOfPaths int) (*SequenceStatistics, error) {
	if numberOfPaths < 1 {
		return nil, fmt.Errorf("number of paths must be positive, got %d", numberOfPaths)
	}
	workers := min(r.workers, numberOfPaths)

	engines := make([]*AccountingEngine, workers)
	for w := range engines {
		engine, err := r.factory(w)
		if err != nil {
			return nil, fmt.Errorf("building engine for worker %d: %w", w, err)
		}
		if w > 0 && engine.NumberOfValues() != engines[0].NumberOfValues() {
			return nil, dimensionErrorf("worker %d engine reports %d values, worker 0 %d", w, engine.NumberOfValues(), engines[0].NumberOfValues())
		}
		engines[w] = engine
	}
	dimension := engines[0].NumberOfValues()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	results := make([]*SequenceStatistics, workers)
	errs := make([]error, workers)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			stats := NewSequenceStatistics(dimension)
			values := make([]float64, dimension)
			n := pathsForWorker(numberOfPaths, workers, w)
			for i := 0; i < n; i++ {
				if err := ctx.Err(); err != nil {
					errs[w] = err
					return
				}
				if err := engines[w].SinglePathValues(values); err != nil {
					errs[w] = fmt.Errorf("worker %d, path %d: %w", w, i, err)
					cancel()
					return
				}
				if err := stats.Add(values); err != nil {
					errs[w] = fmt.Errorf("worker %d, path %d: %w", w, i, err)
					cancel()
					return
				}
			}
			results[w] = stats
			logrus.Debugf("worker %d finished %d paths", w, n)
		}(w)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil && !errors.Is(err, context.Canceled) {
			return nil, err
		}
	}
	if err := ctx.Err(); err != nil {
		for _, res := range results {
			if res == nil {
				return nil, err
			}
		}
	}

	merged := NewSequenceStatistics(dimension)
	for _, res := range results {
		if err := merged.Merge(res); err != nil {
			return nil, err
		}
	}
	return merged, nil
}
