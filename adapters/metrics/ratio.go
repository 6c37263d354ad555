package metrics

import (
	"math"

	"fairlens/domain/core"
	"fairlens/domain/feature"
	domstats "fairlens/domain/stats"

	"gonum.org/v1/gonum/stat/distuv"
)

// ratio measures the ratio of mean outcomes between the two groups of a
// binary protected attribute. The reported effect is the plain ratio with
// null value 1; the builder scores by |ln ratio| so inverse ratios rank as
// equally strong.
type ratio struct {
	diff *difference
}

func newRatio(protected feature.Feature, target feature.Target) (*ratio, error) {
	d, err := newDifference(protected, target)
	if err != nil {
		return nil, core.NewPhaseError(core.ErrMetricMismatch, "RATIO needs a binary protected attribute and a single output")
	}
	return &ratio{diff: d}, nil
}

func (m *ratio) Kind() Kind {
	return KindRATIO
}

func (m *ratio) Name() string {
	return string(KindRATIO)
}

func (m *ratio) Conditional() bool {
	return false
}

func (m *ratio) Score(s Sample) (float64, error) {
	est, err := m.Estimate(s)
	if err != nil {
		return 0, err
	}
	return math.Abs(math.Log(est.Effect)), nil
}

func (m *ratio) Estimate(s Sample) (domstats.Estimate, error) {
	g, err := m.groups(s)
	if err != nil {
		return domstats.Estimate{}, err
	}
	r := g.mean1 / g.mean0
	return domstats.Estimate{
		Effect: r,
		Null:   1,
		Detail: map[string]float64{
			"mean0":     g.mean0,
			"mean1":     g.mean1,
			"n0":        float64(g.n0),
			"n1":        float64(g.n1),
			"log_ratio": math.Log(r),
			"se":        m.logSE(s, g) * r, // delta back to the ratio scale
			"se_log":    m.logSE(s, g),
		},
	}, nil
}

// Asymptotic tests ln(ratio) against zero with a delta-method standard error
// and transforms the normal interval back to the ratio scale.
func (m *ratio) Asymptotic(s Sample, level float64) (domstats.Interval, float64, error) {
	if err := validateLevel(level); err != nil {
		return domstats.Interval{}, 0, err
	}
	g, err := m.groups(s)
	if err != nil {
		return domstats.Interval{}, 0, err
	}

	logR := math.Log(g.mean1 / g.mean0)
	se := m.logSE(s, g)
	if se == 0 {
		if logR == 0 {
			return domstats.NewInterval(1, 1), 1, nil
		}
		r := math.Exp(logR)
		return domstats.NewInterval(r, r), 0, nil
	}

	z := logR / se
	p := clampP(2 * (1 - distuv.UnitNormal.CDF(math.Abs(z))))
	zCrit := distuv.UnitNormal.Quantile(1 - (1-level)/2)
	lo := math.Exp(logR - zCrit*se)
	hi := math.Exp(logR + zCrit*se)
	return domstats.NewInterval(lo, hi), p, nil
}

// groups reuses the difference computation and rejects non-positive means,
// since the log-ratio needs both groups strictly positive.
func (m *ratio) groups(s Sample) (groupStats, error) {
	g, err := m.diff.groups(s)
	if err != nil {
		return groupStats{}, err
	}
	if g.mean0 <= 0 || g.mean1 <= 0 {
		return groupStats{}, &DegenerateError{Reason: domstats.DegenerateNoVariance}
	}
	return g, nil
}

// logSE is the delta-method standard error of ln(mean1/mean0). Binary
// outputs use the rate form, continuous outputs the variance form.
func (m *ratio) logSE(s Sample, g groupStats) float64 {
	if s.OutputArity == 2 {
		return math.Sqrt((1-g.mean1)/(float64(g.n1)*g.mean1) + (1-g.mean0)/(float64(g.n0)*g.mean0))
	}
	return math.Sqrt(g.var1/(float64(g.n1)*g.mean1*g.mean1) + g.var0/(float64(g.n0)*g.mean0*g.mean0))
}
