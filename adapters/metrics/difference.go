package metrics

import (
	"math"

	"fairlens/domain/core"
	"fairlens/domain/feature"
	domstats "fairlens/domain/stats"

	"github.com/montanaflynn/stats"
	"gonum.org/v1/gonum/stat/distuv"
)

// difference measures the gap in mean outcome between the two groups of a
// binary protected attribute. For binary outputs this is the difference in
// positive-outcome rates.
type difference struct{}

func newDifference(protected feature.Feature, target feature.Target) (*difference, error) {
	if !protected.IsBinary() {
		return nil, core.NewPhaseError(core.ErrMetricMismatch, "DIFF needs a binary protected attribute")
	}
	if target.IsMultiLabel() {
		return nil, core.NewPhaseError(core.ErrMetricMismatch, "DIFF needs a single output column")
	}
	return &difference{}, nil
}

func (m *difference) Kind() Kind {
	return KindDIFF
}

func (m *difference) Name() string {
	return string(KindDIFF)
}

func (m *difference) Conditional() bool {
	return false
}

func (m *difference) Score(s Sample) (float64, error) {
	est, err := m.Estimate(s)
	if err != nil {
		return 0, err
	}
	return math.Abs(est.Effect), nil
}

func (m *difference) Estimate(s Sample) (domstats.Estimate, error) {
	g, err := m.groups(s)
	if err != nil {
		return domstats.Estimate{}, err
	}
	return domstats.Estimate{
		Effect: g.diff,
		Null:   0,
		Detail: map[string]float64{
			"mean0": g.mean0,
			"mean1": g.mean1,
			"n0":    float64(g.n0),
			"n1":    float64(g.n1),
			"var0":  g.var0,
			"var1":  g.var1,
			"se":    g.se,
		},
	}, nil
}

// Asymptotic runs Welch's unequal-variance t-test with a Wald interval.
func (m *difference) Asymptotic(s Sample, level float64) (domstats.Interval, float64, error) {
	if err := validateLevel(level); err != nil {
		return domstats.Interval{}, 0, err
	}
	g, err := m.groups(s)
	if err != nil {
		return domstats.Interval{}, 0, err
	}

	if g.se == 0 {
		// Both groups are constant. The difference is exact.
		if g.diff == 0 {
			return domstats.NewInterval(0, 0), 1, nil
		}
		return domstats.NewInterval(g.diff, g.diff), 0, nil
	}

	a0, a1 := g.var0/float64(g.n0), g.var1/float64(g.n1)
	df := (a0 + a1) * (a0 + a1) /
		(a0*a0/float64(g.n0-1) + a1*a1/float64(g.n1-1))
	t := g.diff / g.se
	tDist := distuv.StudentsT{Mu: 0, Sigma: 1, Nu: df}
	p := clampP(2 * (1 - tDist.CDF(math.Abs(t))))

	tCrit := tDist.Quantile(1 - (1-level)/2)
	half := tCrit * g.se
	return domstats.NewInterval(g.diff-half, g.diff+half), p, nil
}

type groupStats struct {
	mean0, mean1 float64
	var0, var1   float64
	n0, n1       int
	diff         float64
	se           float64
}

func (m *difference) groups(s Sample) (groupStats, error) {
	if reason, err := degeneracy(s); err != nil {
		return groupStats{}, err
	} else if reason != domstats.DegenerateNone {
		return groupStats{}, &DegenerateError{Reason: reason}
	}

	y0, y1 := splitBinary(s.Protected, s.Output())
	if len(y0) < 2 || len(y1) < 2 {
		return groupStats{}, &DegenerateError{Reason: domstats.DegenerateTooSmall}
	}

	mean0, err := stats.Mean(stats.Float64Data(y0))
	if err != nil {
		return groupStats{}, core.NewPhaseError(core.ErrInsufficientData, err.Error())
	}
	mean1, err := stats.Mean(stats.Float64Data(y1))
	if err != nil {
		return groupStats{}, core.NewPhaseError(core.ErrInsufficientData, err.Error())
	}
	var0, err := stats.SampleVariance(stats.Float64Data(y0))
	if err != nil {
		return groupStats{}, core.NewPhaseError(core.ErrInsufficientData, err.Error())
	}
	var1, err := stats.SampleVariance(stats.Float64Data(y1))
	if err != nil {
		return groupStats{}, core.NewPhaseError(core.ErrInsufficientData, err.Error())
	}

	g := groupStats{
		mean0: mean0, mean1: mean1,
		var0: var0, var1: var1,
		n0: len(y0), n1: len(y1),
	}
	g.diff = mean1 - mean0
	g.se = math.Sqrt(var0/float64(g.n0) + var1/float64(g.n1))
	return g, nil
}

// splitBinary partitions the output by the protected codes 0 and 1.
func splitBinary(protected, output []float64) (y0, y1 []float64) {
	for i, v := range protected {
		if v == 0 {
			y0 = append(y0, output[i])
		} else {
			y1 = append(y1, output[i])
		}
	}
	return y0, y1
}
