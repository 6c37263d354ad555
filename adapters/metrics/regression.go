package metrics

import (
	"math"
	"sort"
	"strconv"

	"fairlens/domain/core"
	"fairlens/domain/feature"
	domstats "fairlens/domain/stats"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"
)

// defaultTopK is how many output labels a regression context reports on.
const defaultTopK = 10

// regression handles multi-label outputs: it regresses every output label on
// the protected attribute and summarizes the k strongest standardized
// coefficients. The scalar effect is the mean magnitude of the top-k
// coefficients.
type regression struct {
	topK int
}

func newRegression(topK int, protected feature.Feature, target feature.Target) (*regression, error) {
	if topK < 1 {
		return nil, core.NewConfigError("regression top-k", "must be at least 1")
	}
	if !target.IsMultiLabel() {
		return nil, core.NewPhaseError(core.ErrMetricMismatch, "REGRESSION needs a multi-label output")
	}
	if !protected.IsContinuous() && !protected.IsBinary() {
		return nil, core.NewPhaseError(core.ErrMetricMismatch, "REGRESSION needs a continuous or binary protected attribute")
	}
	return &regression{topK: topK}, nil
}

// NewRegression creates the regression metric with a custom top-k.
func NewRegression(topK int, protected feature.Feature, target feature.Target) (Metric, error) {
	return newRegression(topK, protected, target)
}

func (m *regression) Kind() Kind {
	return KindREGRESSION
}

func (m *regression) Name() string {
	return string(KindREGRESSION)
}

func (m *regression) Conditional() bool {
	return false
}

func (m *regression) Score(s Sample) (float64, error) {
	est, err := m.Estimate(s)
	if err != nil {
		return 0, err
	}
	return est.Effect, nil
}

func (m *regression) Estimate(s Sample) (domstats.Estimate, error) {
	fit, err := m.fit(s)
	if err != nil {
		return domstats.Estimate{}, err
	}
	detail := map[string]float64{
		"labels": float64(len(s.Outputs)),
		"top_k":  float64(len(fit.top)),
	}
	var sum float64
	for rank, c := range fit.top {
		sum += math.Abs(c.coef)
		detail["coef_"+strconv.Itoa(rank)] = c.coef
		detail["label_"+strconv.Itoa(rank)] = float64(c.label)
	}
	effect := 0.0
	if len(fit.top) > 0 {
		effect = sum / float64(len(fit.top))
	}
	detail["se"] = fit.topSE()
	return domstats.Estimate{Effect: effect, Null: 0, Detail: detail}, nil
}

// Asymptotic runs per-coefficient t-tests, Bonferroni-adjusts the smallest
// over the reported top-k, and builds the interval from the strongest
// coefficient.
func (m *regression) Asymptotic(s Sample, level float64) (domstats.Interval, float64, error) {
	if err := validateLevel(level); err != nil {
		return domstats.Interval{}, 0, err
	}
	fit, err := m.fit(s)
	if err != nil {
		return domstats.Interval{}, 0, err
	}
	if len(fit.top) == 0 {
		// Every label is constant in this subset.
		return domstats.NewInterval(0, 0), 1, nil
	}

	df := float64(s.N() - 2)
	tDist := distuv.StudentsT{Mu: 0, Sigma: 1, Nu: df}
	minP := 1.0
	for _, c := range fit.top {
		var p float64
		if c.se == 0 {
			p = 0
		} else {
			t := c.coef / c.se
			p = clampP(2 * (1 - tDist.CDF(math.Abs(t))))
		}
		if p < minP {
			minP = p
		}
	}
	p := math.Min(1, float64(len(fit.top))*minP)

	best := fit.top[0]
	tCrit := tDist.Quantile(1 - (1-level)/2)
	half := tCrit * best.se
	lo := math.Max(0, math.Abs(best.coef)-half)
	hi := math.Abs(best.coef) + half
	return domstats.NewInterval(lo, hi), p, nil
}

type labelCoef struct {
	label int
	coef  float64 // standardized slope
	se    float64 // standard error on the standardized scale
}

type regressionFit struct {
	top []labelCoef // strongest first
}

func (f regressionFit) topSE() float64 {
	if len(f.top) == 0 {
		return 0
	}
	return f.top[0].se
}

// fit solves one least-squares regression per output label against the
// design [1, protected] and keeps the top-k standardized slopes.
func (m *regression) fit(s Sample) (regressionFit, error) {
	if reason, err := degeneracy(s); err != nil {
		return regressionFit{}, err
	} else if reason != domstats.DegenerateNone {
		return regressionFit{}, &DegenerateError{Reason: reason}
	}

	n := s.N()
	_, sdS, sxx := moments(s.Protected)
	if sxx == 0 {
		return regressionFit{}, &DegenerateError{Reason: domstats.DegenerateNoVariance}
	}

	x := mat.NewDense(n, 2, nil)
	for i := 0; i < n; i++ {
		x.Set(i, 0, 1)
		x.Set(i, 1, s.Protected[i])
	}
	var qr mat.QR
	qr.Factorize(x)

	coefs := make([]labelCoef, 0, len(s.Outputs))
	for j, out := range s.Outputs {
		_, sdY, _ := moments(out)
		if sdY == 0 {
			continue
		}

		y := mat.NewDense(n, 1, nil)
		for i := 0; i < n; i++ {
			y.Set(i, 0, out[i])
		}
		var beta mat.Dense
		if err := qr.SolveTo(&beta, false, y); err != nil {
			return regressionFit{}, core.NewPhaseError(core.ErrInsufficientData, err.Error())
		}
		b0, b1 := beta.At(0, 0), beta.At(1, 0)

		var rss float64
		for i := 0; i < n; i++ {
			resid := out[i] - b0 - b1*s.Protected[i]
			rss += resid * resid
		}
		sigma2 := rss / float64(n-2)
		seB1 := math.Sqrt(sigma2 / sxx)

		scale := sdS / sdY
		coefs = append(coefs, labelCoef{
			label: j,
			coef:  b1 * scale,
			se:    seB1 * scale,
		})
	}

	sort.Slice(coefs, func(a, b int) bool {
		ca, cb := math.Abs(coefs[a].coef), math.Abs(coefs[b].coef)
		if ca != cb {
			return ca > cb
		}
		return coefs[a].label < coefs[b].label
	})
	k := m.topK
	if k > len(coefs) {
		k = len(coefs)
	}
	return regressionFit{top: coefs[:k]}, nil
}

// moments returns the mean, the population standard deviation, and the sum of
// squared deviations of a column.
func moments(values []float64) (mean, sd, sxx float64) {
	n := float64(len(values))
	for _, v := range values {
		mean += v
	}
	mean /= n
	for _, v := range values {
		d := v - mean
		sxx += d * d
	}
	sd = math.Sqrt(sxx / n)
	return mean, sd, sxx
}
