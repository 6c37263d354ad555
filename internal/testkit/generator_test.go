package testkit

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateValidatesConfig(t *testing.T) {
	cases := []struct {
		name string
		cfg  Config
	}{
		{"zero rows", Config{Cities: 3, BaseRate: 0.5}},
		{"one city", Config{Rows: 100, Cities: 1, BaseRate: 0.5}},
		{"biased city out of range", Config{Rows: 100, Cities: 3, BiasedCity: 3, BaseRate: 0.5}},
		{"bias leaves the unit interval", Config{Rows: 100, Cities: 3, BaseRate: 0.9, BiasStrength: 0.8}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Generate(tc.cfg)
			require.Error(t, err)
		})
	}
}

func TestGenerateIsDeterministic(t *testing.T) {
	a, err := Generate(DefaultConfig())
	require.NoError(t, err)
	b, err := Generate(DefaultConfig())
	require.NoError(t, err)
	assert.Equal(t, a.Approved, b.Approved)
	assert.Equal(t, a.Rows, b.Rows)

	c, err := Generate(Config{Rows: 1200, Seed: 43, Cities: 3, BiasedCity: 2, BaseRate: 0.5, BiasStrength: 0.8})
	require.NoError(t, err)
	assert.NotEqual(t, a.Approved, c.Approved, "different seed, different draws")
}

func TestGeneratePlantsTheBias(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Rows = 6000
	ds, err := Generate(cfg)
	require.NoError(t, err)

	rates := func(city int) (float64, float64) {
		var approved, total [2]float64
		for i := range ds.City {
			if int(ds.City[i]) != city {
				continue
			}
			g := int(ds.Gender[i])
			total[g]++
			approved[g] += ds.Approved[i]
		}
		require.NotZero(t, total[0])
		require.NotZero(t, total[1])
		return approved[0] / total[0], approved[1] / total[1]
	}

	// Roughly a third of 6000 rows per city, so group rates sit within a
	// few points of their planted probabilities.
	maleBiased, femaleBiased := rates(cfg.BiasedCity)
	assert.Greater(t, femaleBiased-maleBiased, 0.6, "planted gap is 0.8")

	maleFair, femaleFair := rates(0)
	assert.InDelta(t, 0, femaleFair-maleFair, 0.12, "no planted gap outside the biased city")
}

func TestPopulationAndRegistryAgree(t *testing.T) {
	ds, err := Generate(DefaultConfig())
	require.NoError(t, err)

	pop, err := ds.Population()
	require.NoError(t, err)
	assert.Equal(t, 1200, pop.Rows())

	reg, err := ds.Registry()
	require.NoError(t, err)
	for _, f := range reg.Features() {
		assert.True(t, pop.Has(f.Name), "registry feature %s missing from population", f.Name)
	}
	assert.True(t, pop.Has(reg.Target().Primary()))

	enc, ok := pop.Encoder("city")
	require.True(t, ok)
	assert.Equal(t, 3, enc.Arity())
	assert.Equal(t, "city_2", enc.Decode(2))

	enc, ok = pop.Encoder("gender")
	require.True(t, ok)
	assert.Equal(t, "female", enc.Decode(1))

	_, ok = pop.Encoder("age")
	assert.False(t, ok, "continuous columns carry no encoder")
}

func TestSourceSplitsWithBudget(t *testing.T) {
	ds, err := Generate(DefaultConfig())
	require.NoError(t, err)

	src, err := ds.Source("synthetic", 0.5, 17, 0.95, 3)
	require.NoError(t, err)
	assert.Equal(t, "synthetic", src.Name())
	assert.Equal(t, 600, src.Train().Rows())
	assert.Equal(t, 3, src.Holdout().Budget())
	assert.InDelta(t, 0.95, src.Holdout().Conf(), 1e-12)
}

func TestWriteCSVRoundTrips(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Rows = 50
	ds, err := Generate(cfg)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "audit.csv")
	require.NoError(t, WriteCSV(path, ds))

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	records, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 51, "header plus one line per row")
	assert.Equal(t, ds.Headers, records[0])
	assert.Equal(t, ds.Rows[0], records[1])
}
