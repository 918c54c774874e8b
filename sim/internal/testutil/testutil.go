// Package testutil provides shared test infrastructure for the pathwise engine packages:
// tolerance assertions, a hand-built market model and a recording sink.
package testutil

import (
	"math"
	"slices"
	"testing"

	"gonum.org/v1/gonum/mat"

	"github.com/inference-sim/pathwise-sim/sim"
)

// AssertFloat64Equal compares two float64 values with relative tolerance.
func AssertFloat64Equal(t *testing.T, name string, want, got, relTol float64) {
	t.Helper()
	if want == 0 && got == 0 {
		return
	}
	diff := math.Abs(want - got)
	maxVal := math.Max(math.Abs(want), math.Abs(got))
	if diff/maxVal > relTol {
		t.Errorf("%s: got %v, want %v (diff=%v, relDiff=%v)", name, got, want, diff, diff/maxVal)
	}
}

// AssertClose compares slices element-wise: |want-got| <= absTol + relTol*|want|.
func AssertClose(t *testing.T, name string, want, got []float64, relTol, absTol float64) {
	t.Helper()
	if len(want) != len(got) {
		t.Fatalf("%s: got %d values, want %d", name, len(got), len(want))
	}
	for i := range want {
		if diff := math.Abs(want[i] - got[i]); diff > absTol+relTol*math.Abs(want[i]) {
			t.Errorf("%s[%d]: got %v, want %v (diff=%v)", name, i, got[i], want[i], diff)
		}
	}
}

// MustEvolution builds an EvolutionDescription or fails the test.
func MustEvolution(t *testing.T, rateTimes, evolutionTimes []float64) *sim.EvolutionDescription {
	t.Helper()
	var (
		evo *sim.EvolutionDescription
		err error
	)
	if evolutionTimes == nil {
		evo, err = sim.RateReset(rateTimes)
	} else {
		evo, err = sim.NewEvolutionDescription(rateTimes, evolutionTimes)
	}
	if err != nil {
		t.Fatalf("building evolution: %v", err)
	}
	return evo
}

// StaticModel is a sim.MarketModel with explicitly supplied pseudo-roots.
type StaticModel struct {
	Evo     *sim.EvolutionDescription
	Rates   []float64
	Disp    []float64
	Factors int
	Roots   []*mat.Dense
}

// NewStaticModel uses root for every step of evo.
func NewStaticModel(evo *sim.EvolutionDescription, rates, displacements []float64, root *mat.Dense) *StaticModel {
	_, factors := root.Dims()
	roots := make([]*mat.Dense, evo.NumberOfSteps())
	for s := range roots {
		roots[s] = root
	}
	return &StaticModel{Evo: evo, Rates: rates, Disp: displacements, Factors: factors, Roots: roots}
}

func (m *StaticModel) Evolution() *sim.EvolutionDescription { return m.Evo }
func (m *StaticModel) InitialRates() []float64              { return m.Rates }
func (m *StaticModel) Displacements() []float64             { return m.Disp }
func (m *StaticModel) NumberOfRates() int                   { return len(m.Rates) }
func (m *StaticModel) NumberOfFactors() int                 { return m.Factors }
func (m *StaticModel) NumberOfSteps() int                   { return len(m.Roots) }
func (m *StaticModel) PseudoRoot(step int) *mat.Dense       { return m.Roots[step] }

// RecordingSink keeps a copy of every sample it receives.
type RecordingSink struct {
	Samples [][]float64
}

func (s *RecordingSink) Add(sample []float64) error {
	s.Samples = append(s.Samples, slices.Clone(sample))
	return nil
}
