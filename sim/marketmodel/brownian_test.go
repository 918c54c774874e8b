package marketmodel

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/stat"
)

func TestNewGenerator_Names(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	for _, name := range []string{"", GeneratorNormal, GeneratorInverseCDF} {
		g, err := NewGenerator(name, rng, 2, 3)
		require.NoError(t, err, name)
		assert.Equal(t, 2, g.NumberOfFactors())
		assert.Equal(t, 3, g.NumberOfSteps())
	}
	_, err := NewGenerator("sobol", rng, 2, 3)
	assert.Error(t, err)
}

func TestGenerators_DrawStandardNormals(t *testing.T) {
	for _, name := range []string{GeneratorNormal, GeneratorInverseCDF} {
		t.Run(name, func(t *testing.T) {
			g, err := NewGenerator(name, rand.New(rand.NewSource(7)), 1, 1)
			require.NoError(t, err)
			draws := make([]float64, 20000)
			out := make([]float64, 1)
			for i := range draws {
				assert.Equal(t, 1.0, g.NextPath())
				assert.Equal(t, 1.0, g.NextStep(out))
				draws[i] = out[0]
			}
			mean, sd := stat.MeanStdDev(draws, nil)
			assert.InDelta(t, 0, mean, 0.03)
			assert.InDelta(t, 1, sd, 0.03)
			for _, d := range draws {
				assert.False(t, math.IsInf(d, 0) || math.IsNaN(d))
			}
		})
	}
}

func TestFixedGenerator_ReplaysDraws(t *testing.T) {
	g, err := NewFixedGenerator([][]float64{{1, 2}, {3, 4}})
	require.NoError(t, err)
	out := make([]float64, 2)
	for path := 0; path < 2; path++ {
		g.NextPath()
		g.NextStep(out)
		assert.Equal(t, []float64{1, 2}, out)
		g.NextStep(out)
		assert.Equal(t, []float64{3, 4}, out)
	}

	_, err = NewFixedGenerator(nil)
	assert.Error(t, err)
	_, err = NewFixedGenerator([][]float64{{1}, {1, 2}})
	assert.Error(t, err)
}
