package metrics

import (
	"math"

	"fairlens/domain/core"
	"fairlens/domain/feature"
	"fairlens/domain/stats"

	"gonum.org/v1/gonum/stat/distuv"
)

// binding measures the association between a categorical protected attribute
// and a categorical output via mutual information, optionally normalized by
// the smaller marginal entropy (NMI, in [0, 1]).
type binding struct {
	normalized bool
}

func newBinding(normalized bool, protected feature.Feature, target feature.Target) (*binding, error) {
	if !protected.IsCategorical() {
		return nil, core.NewPhaseError(core.ErrMetricMismatch, "NMI/MI needs a categorical protected attribute")
	}
	if target.IsMultiLabel() || target.Arity < 2 {
		return nil, core.NewPhaseError(core.ErrMetricMismatch, "NMI/MI needs a single categorical output")
	}
	return &binding{normalized: normalized}, nil
}

func (m *binding) Kind() Kind {
	if m.normalized {
		return KindNMI
	}
	return KindMI
}

func (m *binding) Name() string {
	return string(m.Kind())
}

func (m *binding) Conditional() bool {
	return false
}

func (m *binding) Score(s Sample) (float64, error) {
	est, err := m.Estimate(s)
	if err != nil {
		return 0, err
	}
	return est.Effect, nil
}

func (m *binding) Estimate(s Sample) (stats.Estimate, error) {
	info, err := m.info(s)
	if err != nil {
		return stats.Estimate{}, err
	}
	effect := info.mi
	if m.normalized {
		effect = info.nmi
	}
	return stats.Estimate{
		Effect: effect,
		Null:   0,
		Detail: map[string]float64{
			"mi":          info.mi,
			"nmi":         info.nmi,
			"h_protected": info.hProtected,
			"h_output":    info.hOutput,
			"df":          float64(info.df),
			"se":          info.se(m.normalized),
		},
	}, nil
}

// Asymptotic runs the G-test (G = 2*N*MI distributed as chi-squared) and a
// delta-method normal interval on the mutual information.
func (m *binding) Asymptotic(s Sample, level float64) (stats.Interval, float64, error) {
	if err := validateLevel(level); err != nil {
		return stats.Interval{}, 0, err
	}
	info, err := m.info(s)
	if err != nil {
		return stats.Interval{}, 0, err
	}

	p := 1.0
	if info.df >= 1 {
		g := 2 * float64(s.N()) * info.mi
		chi := distuv.ChiSquared{K: float64(info.df)}
		p = clampP(1 - chi.CDF(g))
	}

	effect := info.mi
	if m.normalized {
		effect = info.nmi
	}
	z := distuv.UnitNormal.Quantile(1 - (1-level)/2)
	half := z * info.se(m.normalized)
	lo := math.Max(0, effect-half)
	hi := effect + half
	if m.normalized {
		hi = math.Min(1, hi)
	}
	return stats.NewInterval(lo, hi), p, nil
}

// miInfo carries the sufficient statistics of one contingency table.
type miInfo struct {
	mi         float64 // nats
	nmi        float64
	hProtected float64
	hOutput    float64
	varMI      float64
	df         int
}

// se returns the standard error of the effect, on the NMI scale when
// normalized.
func (i miInfo) se(normalized bool) float64 {
	se := math.Sqrt(math.Max(0, i.varMI))
	if normalized {
		minH := math.Min(i.hProtected, i.hOutput)
		if minH <= 0 {
			return 0
		}
		return se / minH
	}
	return se
}

func (m *binding) info(s Sample) (miInfo, error) {
	if reason, err := degeneracy(s); err != nil {
		return miInfo{}, err
	} else if reason != stats.DegenerateNone {
		return miInfo{}, &DegenerateError{Reason: reason}
	}

	counts, rowSums, colSums, err := contingency(s.Protected, s.Output(), s.ProtectedArity, s.OutputArity)
	if err != nil {
		return miInfo{}, err
	}

	n := float64(s.N())
	var mi, sq, hRow, hCol float64
	rowsObs, colsObs := 0, 0
	for i, rs := range rowSums {
		if rs == 0 {
			continue
		}
		rowsObs++
		pi := rs / n
		hRow -= pi * math.Log(pi)
		for j, c := range counts[i] {
			if c == 0 {
				continue
			}
			pij := c / n
			term := math.Log(pij * n * n / (rs * colSums[j]))
			mi += pij * term
			sq += pij * term * term
		}
	}
	for _, cs := range colSums {
		if cs == 0 {
			continue
		}
		colsObs++
		pj := cs / n
		hCol -= pj * math.Log(pj)
	}

	mi = math.Max(0, mi)
	info := miInfo{
		mi:         mi,
		hProtected: hRow,
		hOutput:    hCol,
		varMI:      (sq - mi*mi) / n,
		df:         (rowsObs - 1) * (colsObs - 1),
	}
	if minH := math.Min(hRow, hCol); minH > 0 {
		info.nmi = math.Min(1, mi/minH)
	}
	return info, nil
}

// contingency builds the protected x output count table over the declared
// code ranges.
func contingency(protected, output []float64, protArity, outArity int) ([][]float64, []float64, []float64, error) {
	counts := make([][]float64, protArity)
	for i := range counts {
		counts[i] = make([]float64, outArity)
	}
	rowSums := make([]float64, protArity)
	colSums := make([]float64, outArity)
	for v := range protected {
		i, j := int(protected[v]), int(output[v])
		if i < 0 || i >= protArity || j < 0 || j >= outArity {
			return nil, nil, nil, core.NewConfigError("contingency table",
				"category code outside the declared arity")
		}
		counts[i][j]++
		rowSums[i]++
		colSums[j]++
	}
	return counts, rowSums, colSums, nil
}

func validateLevel(level float64) error {
	if level <= 0 || level >= 1 {
		return core.NewConfigError("confidence level", "must lie strictly between 0 and 1")
	}
	return nil
}

func clampP(p float64) float64 {
	return math.Min(1, math.Max(0, p))
}
