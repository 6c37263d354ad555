package metrics

import (
	"math"

	"fairlens/domain/core"
	"fairlens/domain/feature"
	domstats "fairlens/domain/stats"

	"gonum.org/v1/gonum/stat/distuv"
)

// conditional wraps a base metric and computes it separately within each
// stratum of an explanatory attribute, then aggregates by stratum size. An
// association fully explained by the explanatory attribute aggregates to
// zero, which keeps Simpson's-paradox artifacts out of the reports.
type conditional struct {
	kind Kind
	base Metric
}

func newConditional(kind Kind, base Metric, expl *feature.Feature) (*conditional, error) {
	if expl == nil {
		return nil, core.NewPhaseError(core.ErrMetricMismatch, "conditional metrics need an explanatory attribute")
	}
	if !expl.IsCategorical() {
		return nil, core.NewPhaseError(core.ErrMetricMismatch, "the explanatory attribute must be categorical")
	}
	return &conditional{kind: kind, base: base}, nil
}

func (m *conditional) Kind() Kind {
	return m.kind
}

func (m *conditional) Name() string {
	return string(m.kind)
}

func (m *conditional) Conditional() bool {
	return true
}

func (m *conditional) Score(s Sample) (float64, error) {
	est, err := m.Estimate(s)
	if err != nil {
		return 0, err
	}
	return math.Abs(est.Effect), nil
}

func (m *conditional) Estimate(s Sample) (domstats.Estimate, error) {
	strata, err := m.validStrata(s)
	if err != nil {
		return domstats.Estimate{}, err
	}

	var total float64
	for _, st := range strata {
		total += float64(st.n)
	}
	var effect, variance float64
	for _, st := range strata {
		w := float64(st.n) / total
		effect += w * st.est.Effect
		se := st.est.Detail["se"]
		variance += w * w * se * se
	}

	return domstats.Estimate{
		Effect: effect,
		Null:   0,
		Detail: map[string]float64{
			"strata": float64(len(strata)),
			"n_used": total,
			"se":     math.Sqrt(variance),
		},
	}, nil
}

// Asymptotic combines per-stratum evidence: a size-weighted Stouffer
// combination for the p-value and a weighted-variance normal interval for
// the aggregated effect.
func (m *conditional) Asymptotic(s Sample, level float64) (domstats.Interval, float64, error) {
	if err := validateLevel(level); err != nil {
		return domstats.Interval{}, 0, err
	}
	strata, err := m.validStrata(s)
	if err != nil {
		return domstats.Interval{}, 0, err
	}

	var total float64
	for _, st := range strata {
		total += float64(st.n)
	}

	var effect, variance, zSum float64
	for _, st := range strata {
		w := float64(st.n) / total
		effect += w * st.est.Effect
		se := st.est.Detail["se"]
		variance += w * w * se * se

		_, p, err := m.base.Asymptotic(st.sample, level)
		if err != nil {
			if isDegenerate(err) {
				continue
			}
			return domstats.Interval{}, 0, err
		}
		z := distuv.UnitNormal.Quantile(1 - math.Max(p, 1e-300)/2)
		if st.est.Effect < st.est.Null {
			z = -z
		}
		zSum += math.Sqrt(float64(st.n)) * z
	}

	zComb := zSum / math.Sqrt(total)
	p := clampP(2 * (1 - distuv.UnitNormal.CDF(math.Abs(zComb))))

	zCrit := distuv.UnitNormal.Quantile(1 - (1-level)/2)
	half := zCrit * math.Sqrt(variance)
	lo, hi := effect-half, effect+half
	if m.kind == KindCondNMI {
		lo = math.Max(0, lo)
	}
	return domstats.NewInterval(lo, hi), p, nil
}

type stratum struct {
	code   int
	n      int
	sample Sample
	est    domstats.Estimate
}

// validStrata partitions the sample by explanatory code and estimates the
// base metric where the stratum supports it. Degenerate strata are skipped;
// a sample with no usable stratum is itself degenerate.
func (m *conditional) validStrata(s Sample) ([]stratum, error) {
	if len(s.Explanatory) != s.N() || s.ExplanatoryArity < 2 {
		return nil, core.NewConfigError("conditional metric", "sample carries no explanatory column")
	}
	if reason, err := degeneracy(s); err != nil {
		return nil, err
	} else if reason != domstats.DegenerateNone {
		return nil, &DegenerateError{Reason: reason}
	}

	rowsByCode := make([][]int, s.ExplanatoryArity)
	for i, v := range s.Explanatory {
		c := int(v)
		if c < 0 || c >= s.ExplanatoryArity {
			return nil, core.NewConfigError("conditional metric", "explanatory code outside the declared arity")
		}
		rowsByCode[c] = append(rowsByCode[c], i)
	}

	var out []stratum
	for code, rows := range rowsByCode {
		if len(rows) < minSamples {
			continue
		}
		sub := subSample(s, rows)
		est, err := m.base.Estimate(sub)
		if err != nil {
			if isDegenerate(err) {
				continue
			}
			return nil, err
		}
		out = append(out, stratum{code: code, n: len(rows), sample: sub, est: est})
	}
	if len(out) == 0 {
		return nil, &DegenerateError{Reason: domstats.DegenerateTooSmall}
	}
	return out, nil
}

// subSample extracts a row subset without the explanatory column; base
// metrics never see the stratification.
func subSample(s Sample, rows []int) Sample {
	prot := make([]float64, len(rows))
	for i, r := range rows {
		prot[i] = s.Protected[r]
	}
	outs := make([][]float64, len(s.Outputs))
	for j, col := range s.Outputs {
		sub := make([]float64, len(rows))
		for i, r := range rows {
			sub[i] = col[r]
		}
		outs[j] = sub
	}
	return Sample{
		Protected:      prot,
		ProtectedArity: s.ProtectedArity,
		Outputs:        outs,
		OutputArity:    s.OutputArity,
	}
}

func isDegenerate(err error) bool {
	_, ok := Degeneracy(err)
	return ok
}
