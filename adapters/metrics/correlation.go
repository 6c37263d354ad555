package metrics

import (
	"math"

	"fairlens/domain/core"
	"fairlens/domain/feature"
	domstats "fairlens/domain/stats"

	"github.com/montanaflynn/stats"
	"gonum.org/v1/gonum/stat/distuv"
)

// correlation measures the Pearson association between a continuous protected
// attribute and a continuous output.
type correlation struct{}

func newCorrelation(protected feature.Feature, target feature.Target) (*correlation, error) {
	if !protected.IsContinuous() {
		return nil, core.NewPhaseError(core.ErrMetricMismatch, "CORR needs a continuous protected attribute")
	}
	if target.IsMultiLabel() || !target.IsContinuous() {
		return nil, core.NewPhaseError(core.ErrMetricMismatch, "CORR needs a single continuous output")
	}
	return &correlation{}, nil
}

func (m *correlation) Kind() Kind {
	return KindCORR
}

func (m *correlation) Name() string {
	return string(KindCORR)
}

func (m *correlation) Conditional() bool {
	return false
}

func (m *correlation) Score(s Sample) (float64, error) {
	est, err := m.Estimate(s)
	if err != nil {
		return 0, err
	}
	return math.Abs(est.Effect), nil
}

func (m *correlation) Estimate(s Sample) (domstats.Estimate, error) {
	r, err := m.pearson(s)
	if err != nil {
		return domstats.Estimate{}, err
	}
	n := float64(s.N())
	return domstats.Estimate{
		Effect: r,
		Null:   0,
		Detail: map[string]float64{
			"r":  r,
			"n":  n,
			"se": (1 - r*r) / math.Sqrt(n-1),
		},
	}, nil
}

// Asymptotic runs the t-test on the correlation coefficient with a Fisher
// z-transform interval.
func (m *correlation) Asymptotic(s Sample, level float64) (domstats.Interval, float64, error) {
	if err := validateLevel(level); err != nil {
		return domstats.Interval{}, 0, err
	}
	r, err := m.pearson(s)
	if err != nil {
		return domstats.Interval{}, 0, err
	}

	n := float64(s.N())
	df := n - 2

	var p float64
	switch {
	case 1-r*r <= 0:
		p = 0
	default:
		t := r * math.Sqrt(df/(1-r*r))
		tDist := distuv.StudentsT{Mu: 0, Sigma: 1, Nu: df}
		p = clampP(2 * (1 - tDist.CDF(math.Abs(t))))
	}

	// Fisher z interval. The clamp keeps atanh finite for |r| = 1.
	rc := math.Max(-1+1e-15, math.Min(1-1e-15, r))
	zr := math.Atanh(rc)
	se := 1 / math.Sqrt(n-3)
	z := distuv.UnitNormal.Quantile(1 - (1-level)/2)
	lo := math.Tanh(zr - z*se)
	hi := math.Tanh(zr + z*se)
	return domstats.NewInterval(lo, hi), p, nil
}

func (m *correlation) pearson(s Sample) (float64, error) {
	if reason, err := degeneracy(s); err != nil {
		return 0, err
	} else if reason != domstats.DegenerateNone {
		return 0, &DegenerateError{Reason: reason}
	}
	if singleValued(s.Output()) {
		// A constant output carries no association; this is a legitimate
		// zero, not a degenerate subset.
		return 0, nil
	}
	r, err := stats.Pearson(stats.Float64Data(s.Protected), stats.Float64Data(s.Output()))
	if err != nil {
		return 0, core.NewPhaseError(core.ErrInsufficientData, err.Error())
	}
	return r, nil
}
