package extract

import (
	"testing"

	"fairlens/adapters/metrics"
	"fairlens/domain/core"
	"fairlens/domain/feature"
	"fairlens/domain/population"
	"fairlens/domain/stats"
	"fairlens/internal/tree"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// cellPopulation appends exact (city, gender, approved) cell blocks.
func cellPopulation(t *testing.T, cells [][4]int) *population.Population {
	t.Helper()
	var city, gender, approved []float64
	for _, c := range cells {
		for i := 0; i < c[3]; i++ {
			city = append(city, float64(c[0]))
			gender = append(gender, float64(c[1]))
			approved = append(approved, float64(c[2]))
		}
	}
	pop := population.New()
	require.NoError(t, pop.AddColumn("city", city))
	require.NoError(t, pop.AddColumn("gender", gender))
	require.NoError(t, pop.AddColumn("approved", approved))
	return pop
}

// balancedCells builds cities 0 and 1 with n rows per (gender, approved)
// cell, and city 2 approving exactly along gender lines with m rows per
// gender.
func balancedCells(n, m int) [][4]int {
	var cells [][4]int
	for city := 0; city < 2; city++ {
		for g := 0; g < 2; g++ {
			for a := 0; a < 2; a++ {
				cells = append(cells, [4]int{city, g, a, n})
			}
		}
	}
	cells = append(cells, [4]int{2, 0, 0, m}, [4]int{2, 1, 1, m})
	return cells
}

func auditFixture(t *testing.T) (*tree.Tree, *population.Population, *feature.Registry) {
	t.Helper()
	train := cellPopulation(t, balancedCells(50, 100))
	holdout := cellPopulation(t, balancedCells(25, 50))

	protected, err := feature.New("gender", feature.RoleProtected, 2)
	require.NoError(t, err)
	target, err := feature.NewTarget(2, "approved")
	require.NoError(t, err)
	cityFeature, err := feature.New("city", feature.RoleContext, 3)
	require.NoError(t, err)
	reg, err := feature.NewRegistry(target, cityFeature, protected)
	require.NoError(t, err)

	m, err := metrics.FromName("NMI", protected, target, nil)
	require.NoError(t, err)

	params := tree.DefaultParams()
	params.MaxDepth = 3
	params.MinLeafSize = 50
	tr, err := tree.Build(train, reg, protected, nil, target, m, 0.95, params)
	require.NoError(t, err)
	require.Equal(t, 4, tr.Len(), "root plus one child per city")
	return tr, holdout, reg
}

func TestFindContextsEmitsPreOrderWithFreshEstimates(t *testing.T) {
	tr, holdout, reg := auditFixture(t)

	ctxs, err := FindContexts(tr, holdout, reg, nil, false, nil)
	require.NoError(t, err)
	require.Len(t, ctxs, 4)

	root := ctxs[0]
	assert.True(t, root.Root)
	assert.Equal(t, -1, root.Parent)
	assert.Equal(t, 0, root.NodeIndex)
	assert.Equal(t, holdout.Rows(), root.Rows, "root re-evaluates on held-out rows")
	assert.Empty(t, root.Chain)
	assert.Equal(t, "(whole population)", root.Description)
	assert.Greater(t, root.Effect.Effect, 0.0)

	for i, c := range ctxs[1:] {
		assert.Equal(t, 0, c.Parent)
		assert.Equal(t, 1, c.Depth)
		require.Len(t, c.Chain, 1)
		assert.Equal(t, "city", c.Chain[0].Feature)
		assert.Equal(t, c.Subset.Rows(), c.Rows)
		assert.Greater(t, c.NodeIndex, ctxs[i].NodeIndex, "contexts arrive in pre-order")
		assert.False(t, c.IsDegenerate())
		assert.NotEmpty(t, c.ID)
	}

	city0, city2 := ctxs[1], ctxs[3]
	assert.Equal(t, 100, city0.Rows)
	assert.InDelta(t, 0.0, city0.Effect.Effect, 1e-9, "balanced cells carry no association")
	assert.Equal(t, 100, city2.Rows)
	assert.InDelta(t, 1.0, city2.Effect.Effect, 1e-9, "city 2 approves exactly along gender lines")
	assert.Equal(t, "city = 2", city2.Description)
}

func TestPruningDropsNoiseContextsAndTheirSubtrees(t *testing.T) {
	tr, holdout, reg := auditFixture(t)

	all, err := FindContexts(tr, holdout, reg, nil, false, nil)
	require.NoError(t, err)
	kept, err := FindContexts(tr, holdout, reg, nil, true, nil)
	require.NoError(t, err)

	assert.LessOrEqual(t, len(kept), len(all), "pruning never adds contexts")
	require.Len(t, kept, 2, "only the root and the biased city survive")
	assert.True(t, kept[0].Root)
	assert.Equal(t, "city = 2", kept[1].Description)
	assert.Equal(t, 0, kept[1].Parent)
}

func TestPruningDropsInsignificantRootEntirely(t *testing.T) {
	// Constant output: the root association is exactly zero, so pruning
	// removes the root and with it every candidate context.
	var cells [][4]int
	for g := 0; g < 2; g++ {
		cells = append(cells, [4]int{0, g, 0, 100}, [4]int{1, g, 0, 100})
	}
	pop := cellPopulation(t, cells)

	protected, err := feature.New("gender", feature.RoleProtected, 2)
	require.NoError(t, err)
	target, err := feature.NewTarget(2, "approved")
	require.NoError(t, err)
	cityFeature, err := feature.New("city", feature.RoleContext, 2)
	require.NoError(t, err)
	reg, err := feature.NewRegistry(target, cityFeature, protected)
	require.NoError(t, err)
	m, err := metrics.FromName("NMI", protected, target, nil)
	require.NoError(t, err)

	tr, err := tree.Build(pop, reg, protected, nil, target, m, 0.95, tree.DefaultParams())
	require.NoError(t, err)
	require.Equal(t, 1, tr.Len())

	all, err := FindContexts(tr, pop, reg, nil, false, nil)
	require.NoError(t, err)
	assert.Len(t, all, 1)

	kept, err := FindContexts(tr, pop, reg, nil, true, nil)
	require.NoError(t, err)
	assert.Empty(t, kept)
}

func TestMetricOverrideChangesTheEstimate(t *testing.T) {
	tr, holdout, reg := auditFixture(t)

	protected, err := reg.Lookup("gender")
	require.NoError(t, err)
	diff, err := metrics.FromName("DIFF", protected, reg.Target(), nil)
	require.NoError(t, err)

	ctxs, err := FindContexts(tr, holdout, reg, nil, false, diff)
	require.NoError(t, err)
	require.Len(t, ctxs, 4)

	assert.InDelta(t, 1.0/3.0, ctxs[0].Effect.Effect, 1e-9, "pooled approval gap")
	assert.InDelta(t, 1.0, ctxs[3].Effect.Effect, 1e-9, "city 2 approval gap")
}

func TestDegenerateContextsAreKeptUnlessPruned(t *testing.T) {
	tr, _, reg := auditFixture(t)

	// A holdout where city 2 holds a single gender: the context survives
	// extraction with a degeneracy reason, and pruning removes it.
	cells := balancedCells(25, 0)
	cells = append(cells, [4]int{2, 0, 0, 50})
	holdout := cellPopulation(t, cells)

	all, err := FindContexts(tr, holdout, reg, nil, false, nil)
	require.NoError(t, err)
	require.Len(t, all, 4)
	city2 := all[3]
	assert.True(t, city2.IsDegenerate())
	assert.Equal(t, stats.DegenerateSingleGroup, city2.Degeneracy)
	assert.Zero(t, city2.Effect.Effect)

	kept, err := FindContexts(tr, holdout, reg, nil, true, nil)
	require.NoError(t, err)
	for _, c := range kept {
		assert.False(t, c.IsDegenerate(), "pruning keeps only measurable contexts")
	}
}

func TestFindContextsPhaseAndDataErrors(t *testing.T) {
	tr, holdout, reg := auditFixture(t)

	_, err := FindContexts(nil, holdout, reg, nil, false, nil)
	assert.ErrorIs(t, err, core.ErrNotTrained)

	_, err = FindContexts(tr, nil, reg, nil, false, nil)
	assert.ErrorIs(t, err, core.ErrEmptyPopulation)

	_, err = FindContexts(tr, population.New(), reg, nil, false, nil)
	assert.ErrorIs(t, err, core.ErrEmptyPopulation)
}
