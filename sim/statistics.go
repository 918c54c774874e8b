package sim

import (
	"math"
	"slices"
	"sync"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Sink receives one flattened (values, Deltas) vector per path.
type Sink interface {
	Add(sample []float64) error
}

// SequenceStatistics accumulates running mean and variance per component (Welford).
// Add and Merge serialize on an internal mutex, so one instance may be shared by workers.
type SequenceStatistics struct {
	mu      sync.Mutex
	samples int
	mean    []float64
	m2      []float64
	delta   []float64
}

// NewSequenceStatistics creates an empty accumulator for vectors of length dimension.
func NewSequenceStatistics(dimension int) *SequenceStatistics {
	return &SequenceStatistics{
		mean:  make([]float64, dimension),
		m2:    make([]float64, dimension),
		delta: make([]float64, dimension),
	}
}

// Add folds one sample in.
func (s *SequenceStatistics) Add(sample []float64) error {
	if len(sample) != len(s.mean) {
		return dimensionErrorf("sample has %d components, statistics track %d", len(sample), len(s.mean))
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.samples++
	floats.SubTo(s.delta, sample, s.mean)
	floats.AddScaled(s.mean, 1/float64(s.samples), s.delta)
	for i, x := range sample {
		s.m2[i] += s.delta[i] * (x - s.mean[i])
	}
	return nil
}

// Merge folds another accumulator in (Chan et al. pairwise update).
func (s *SequenceStatistics) Merge(other *SequenceStatistics) error {
	if other == s {
		return nil
	}
	// other is copied and released before s is locked so opposing merges cannot deadlock.
	other.mu.Lock()
	nb := other.samples
	otherMean, otherM2 := slices.Clone(other.mean), slices.Clone(other.m2)
	other.mu.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	if len(otherMean) != len(s.mean) {
		return dimensionErrorf("merging statistics of %d components into %d", len(otherMean), len(s.mean))
	}
	if nb == 0 {
		return nil
	}
	if s.samples == 0 {
		s.samples = nb
		copy(s.mean, otherMean)
		copy(s.m2, otherM2)
		return nil
	}
	na, fb := float64(s.samples), float64(nb)
	n := na + fb
	for i := range s.mean {
		d := otherMean[i] - s.mean[i]
		s.mean[i] += d * fb / n
		s.m2[i] += otherM2[i] + d*d*na*fb/n
	}
	s.samples += nb
	return nil
}

// Samples returns the number of vectors added.
func (s *SequenceStatistics) Samples() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.samples
}

// Dimension returns the vector length tracked.
func (s *SequenceStatistics) Dimension() int { return len(s.mean) }

// Mean returns a copy of the running mean.
func (s *SequenceStatistics) Mean() []float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.mean)
}

// Variance returns the unbiased sample variance per component; zero with fewer than two samples.
func (s *SequenceStatistics) Variance() []float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]float64, len(s.m2))
	if s.samples < 2 {
		return out
	}
	for i, m2 := range s.m2 {
		out[i] = m2 / float64(s.samples-1)
	}
	return out
}

// ErrorEstimate returns the standard error of the mean per component.
func (s *SequenceStatistics) ErrorEstimate() []float64 {
	variance := s.Variance()
	n := float64(s.Samples())
	for i, v := range variance {
		if v == 0 {
			continue
		}
		variance[i] = stat.StdErr(math.Sqrt(v), n)
	}
	return variance
}

// Reset discards all samples.
func (s *SequenceStatistics) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.samples = 0
	clear(s.mean)
	clear(s.m2)
}
