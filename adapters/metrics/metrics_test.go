package metrics

import (
	"testing"

	"fairlens/domain/core"
	"fairlens/domain/feature"
	"fairlens/domain/population"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func catProtected(t *testing.T, arity int) feature.Feature {
	t.Helper()
	f, err := feature.New("gender", feature.RoleProtected, arity)
	require.NoError(t, err)
	return f
}

func contProtected(t *testing.T) feature.Feature {
	t.Helper()
	f, err := feature.New("age", feature.RoleProtected, 0)
	require.NoError(t, err)
	return f
}

func binaryTarget(t *testing.T) feature.Target {
	t.Helper()
	target, err := feature.NewTarget(2, "approved")
	require.NoError(t, err)
	return target
}

func contTarget(t *testing.T) feature.Target {
	t.Helper()
	target, err := feature.NewTarget(0, "price")
	require.NoError(t, err)
	return target
}

func multiTarget(t *testing.T) feature.Target {
	t.Helper()
	target, err := feature.NewTarget(2, "label_a", "label_b", "label_c")
	require.NoError(t, err)
	return target
}

func explFeature(t *testing.T) *feature.Feature {
	t.Helper()
	f, err := feature.New("qualification", feature.RoleExplanatory, 3)
	require.NoError(t, err)
	return &f
}

func TestFromNameFailsFastOnUnknownMetric(t *testing.T) {
	_, err := FromName("MAGIC", catProtected(t, 2), binaryTarget(t), nil)
	assert.ErrorIs(t, err, core.ErrUnknownMetric)

	_, err = FromName("nmi", catProtected(t, 2), binaryTarget(t), nil)
	assert.ErrorIs(t, err, core.ErrUnknownMetric, "metric names are case-sensitive")
}

func TestFromNameResolvesEveryKind(t *testing.T) {
	for _, name := range []string{"NMI", "MI", "DIFF", "RATIO"} {
		m, err := FromName(name, catProtected(t, 2), binaryTarget(t), nil)
		require.NoError(t, err, name)
		assert.Equal(t, name, m.Name())
		assert.False(t, m.Conditional())
	}

	m, err := FromName("CORR", contProtected(t), contTarget(t), nil)
	require.NoError(t, err)
	assert.Equal(t, KindCORR, m.Kind())

	m, err = FromName("REGRESSION", catProtected(t, 2), multiTarget(t), nil)
	require.NoError(t, err)
	assert.Equal(t, KindREGRESSION, m.Kind())

	for _, name := range []string{"CondNMI", "CondDIFF"} {
		m, err := FromName(name, catProtected(t, 2), binaryTarget(t), explFeature(t))
		require.NoError(t, err, name)
		assert.True(t, m.Conditional())
	}

	m, err = FromName("CondCORR", contProtected(t), contTarget(t), explFeature(t))
	require.NoError(t, err)
	assert.True(t, m.Conditional())
}

func TestFromNameValidatesApplicability(t *testing.T) {
	_, err := FromName("NMI", contProtected(t), binaryTarget(t), nil)
	assert.ErrorIs(t, err, core.ErrMetricMismatch, "NMI rejects continuous protected")

	_, err = FromName("CORR", catProtected(t, 2), binaryTarget(t), nil)
	assert.ErrorIs(t, err, core.ErrMetricMismatch, "CORR rejects categorical protected")

	_, err = FromName("DIFF", catProtected(t, 3), binaryTarget(t), nil)
	assert.ErrorIs(t, err, core.ErrMetricMismatch, "DIFF rejects non-binary protected")

	_, err = FromName("REGRESSION", catProtected(t, 2), binaryTarget(t), nil)
	assert.ErrorIs(t, err, core.ErrMetricMismatch, "REGRESSION needs multi-label output")

	_, err = FromName("NMI", catProtected(t, 2), multiTarget(t), nil)
	assert.ErrorIs(t, err, core.ErrMetricMismatch, "NMI rejects multi-label output")

	_, err = FromName("CondNMI", catProtected(t, 2), binaryTarget(t), nil)
	assert.ErrorIs(t, err, core.ErrMetricMismatch, "conditional metric without explanatory attribute")

	contExpl, err := feature.New("score", feature.RoleExplanatory, 0)
	require.NoError(t, err)
	_, err = FromName("CondNMI", catProtected(t, 2), binaryTarget(t), &contExpl)
	assert.ErrorIs(t, err, core.ErrMetricMismatch, "explanatory attribute must be categorical")
}

func TestDefaultMetricSelection(t *testing.T) {
	m, err := Default(catProtected(t, 2), binaryTarget(t), nil)
	require.NoError(t, err)
	assert.Equal(t, KindNMI, m.Kind(), "categorical pair defaults to NMI")

	m, err = Default(contProtected(t), contTarget(t), nil)
	require.NoError(t, err)
	assert.Equal(t, KindCORR, m.Kind(), "continuous pair defaults to CORR")

	m, err = Default(catProtected(t, 2), contTarget(t), nil)
	require.NoError(t, err)
	assert.Equal(t, KindDIFF, m.Kind(), "binary protected with continuous output defaults to DIFF")

	m, err = Default(catProtected(t, 2), multiTarget(t), nil)
	require.NoError(t, err)
	assert.Equal(t, KindREGRESSION, m.Kind(), "multi-label output defaults to REGRESSION")

	m, err = Default(catProtected(t, 2), binaryTarget(t), explFeature(t))
	require.NoError(t, err)
	assert.Equal(t, KindCondNMI, m.Kind(), "explanatory attribute upgrades to the conditional variant")

	_, err = Default(contProtected(t), binaryTarget(t), nil)
	assert.ErrorIs(t, err, core.ErrMetricMismatch, "continuous protected with categorical output has no default")
}

func TestNullValue(t *testing.T) {
	assert.Equal(t, 1.0, NullValue(KindRATIO))
	assert.Equal(t, 0.0, NullValue(KindNMI))
	assert.Equal(t, 0.0, NullValue(KindDIFF))
}

func TestSampleFrom(t *testing.T) {
	enc, err := population.NewCategoryEncoder("no", "yes")
	require.NoError(t, err)

	pop := population.New()
	require.NoError(t, pop.AddCategoricalColumn("gender", []float64{0, 1, 0, 1}, enc))
	require.NoError(t, pop.AddCategoricalColumn("approved", []float64{1, 0, 1, 0}, enc))
	require.NoError(t, pop.AddCategoricalColumn("qualification", []float64{0, 0, 1, 1}, enc))

	protected := catProtected(t, 2)
	target := binaryTarget(t)

	s, err := SampleFrom(pop, protected, target, nil)
	require.NoError(t, err)
	assert.Equal(t, 4, s.N())
	assert.Equal(t, 2, s.ProtectedArity)
	assert.Len(t, s.Outputs, 1)
	assert.Empty(t, s.Explanatory)

	expl, err := feature.New("qualification", feature.RoleExplanatory, 2)
	require.NoError(t, err)
	s, err = SampleFrom(pop, protected, target, &expl)
	require.NoError(t, err)
	assert.Len(t, s.Explanatory, 4)
	assert.Equal(t, 2, s.ExplanatoryArity)

	missing, err := feature.New("city", feature.RoleProtected, 2)
	require.NoError(t, err)
	_, err = SampleFrom(pop, missing, target, nil)
	assert.True(t, core.IsNotFoundError(err))
}

func TestDegeneracyDetection(t *testing.T) {
	m, err := FromName("NMI", catProtected(t, 2), binaryTarget(t), nil)
	require.NoError(t, err)

	tiny := Sample{
		Protected:      []float64{0, 1, 0},
		ProtectedArity: 2,
		Outputs:        [][]float64{{1, 0, 1}},
		OutputArity:    2,
	}
	_, err = m.Score(tiny)
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrDegenerateSubset)
	reason, ok := Degeneracy(err)
	require.True(t, ok)
	assert.Equal(t, "TOO_SMALL", string(reason))

	single := Sample{
		Protected:      make([]float64, 20),
		ProtectedArity: 2,
		Outputs:        [][]float64{make([]float64, 20)},
		OutputArity:    2,
	}
	_, err = m.Score(single)
	require.Error(t, err)
	reason, ok = Degeneracy(err)
	require.True(t, ok)
	assert.Equal(t, "SINGLE_GROUP", string(reason))
}
