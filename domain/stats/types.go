// Package stats holds the canonical statistical result types shared by the
// validator, the report renderer, and the archive.
package stats

import (
	"fmt"
	"math"

	"fairlens/domain/core"
)

// Method identifies how a record's interval and p-value were computed.
type Method string

const (
	// MethodExact marks bootstrap percentile intervals with Monte-Carlo
	// permutation p-values.
	MethodExact Method = "bootstrap_permutation"
	// MethodAsymptotic marks closed-form intervals and p-values.
	MethodAsymptotic Method = "asymptotic"
)

// Correction methods for family-wise error control.
const (
	CorrectionSidak = "sidak"
	CorrectionNone  = "none"
)

// DegeneracyReason explains why a subset could not support a statistic.
type DegeneracyReason string

const (
	DegenerateNone        DegeneracyReason = ""
	DegenerateTooSmall    DegeneracyReason = "TOO_SMALL"    // below the metric's minimum N
	DegenerateSingleGroup DegeneracyReason = "SINGLE_GROUP" // protected attribute single-valued
	DegenerateNoVariance  DegeneracyReason = "NO_VARIANCE"  // zero variance where the metric needs spread
)

// Interval is a two-sided confidence interval [Lo, Hi].
type Interval struct {
	Lo float64 `json:"lo"`
	Hi float64 `json:"hi"`
}

// NewInterval orders the bounds.
func NewInterval(a, b float64) Interval {
	if a > b {
		a, b = b, a
	}
	return Interval{Lo: a, Hi: b}
}

func (iv Interval) Contains(v float64) bool {
	return v >= iv.Lo && v <= iv.Hi
}

func (iv Interval) Width() float64 {
	return iv.Hi - iv.Lo
}

// BoundToward returns the interval bound nearer the null value. An interval
// that straddles the null confirms no effect and returns the null itself.
func (iv Interval) BoundToward(null float64) float64 {
	if iv.Lo > null {
		return iv.Lo
	}
	if iv.Hi < null {
		return iv.Hi
	}
	return null
}

// Estimate is a metric's point estimate plus the sufficient statistics the
// asymptotic forms and the report need.
type Estimate struct {
	Effect float64 `json:"effect"`
	// Null is the metric's no-association reference (0 for most metrics,
	// 1 for ratios).
	Null   float64            `json:"null"`
	Detail map[string]float64 `json:"detail,omitempty"`
}

// Record is the validated statistical outcome for one discrimination context.
// INVARIANTS:
// - PValue and CorrectedP always lie in [0, 1], with CorrectedP >= PValue
// - N is the held-out subset size used in the test
// - FamilySize is the total number of contexts corrected together
// A record is written exactly once by the correction pass and never mutated.
type Record struct {
	Metric     string           `json:"metric"`
	Effect     float64          `json:"effect"`
	Null       float64          `json:"null"`
	CI         Interval         `json:"ci"`
	PValue     float64          `json:"p_value"`
	CorrectedP float64          `json:"corrected_p"`
	N          int              `json:"n"`
	FamilySize int              `json:"family_size"`
	Method     Method           `json:"method"`
	Correction string           `json:"correction"`
	Degeneracy DegeneracyReason `json:"degeneracy,omitempty"`
	ComputedAt core.Timestamp   `json:"computed_at"`
}

// NewRecord creates a validated record.
func NewRecord(metric string, effect float64, ci Interval, pValue float64, n int, method Method) (Record, error) {
	r := Record{
		Metric:     metric,
		Effect:     effect,
		CI:         ci,
		PValue:     pValue,
		CorrectedP: pValue,
		N:          n,
		Method:     method,
		Correction: CorrectionNone,
		ComputedAt: core.Now(),
	}
	if err := r.Validate(); err != nil {
		return Record{}, err
	}
	return r, nil
}

// Degenerate creates the record for a subset that could not support the
// statistic: p-value 1 and an unbounded interval.
func Degenerate(metric string, n int, reason DegeneracyReason, method Method) Record {
	return Record{
		Metric:     metric,
		Effect:     0,
		CI:         Interval{Lo: math.Inf(-1), Hi: math.Inf(1)},
		PValue:     1,
		CorrectedP: 1,
		N:          n,
		Method:     method,
		Correction: CorrectionNone,
		Degeneracy: reason,
		ComputedAt: core.Now(),
	}
}

// Validate checks the record invariants.
func (r Record) Validate() error {
	if r.Metric == "" {
		return fmt.Errorf("record metric must be set")
	}
	if r.PValue < 0 || r.PValue > 1 {
		return fmt.Errorf("p-value must lie in [0, 1], got %g", r.PValue)
	}
	if r.CorrectedP < r.PValue || r.CorrectedP > 1 {
		return fmt.Errorf("corrected p must lie in [p, 1], got %g with p=%g", r.CorrectedP, r.PValue)
	}
	if r.N <= 0 && !r.IsDegenerate() {
		return fmt.Errorf("sample size must be > 0, got %d", r.N)
	}
	return nil
}

// IsDegenerate reports whether the subset could not support the statistic.
func (r Record) IsDegenerate() bool {
	return r.Degeneracy != DegenerateNone
}

// ConfirmedEffect is the magnitude of the corrected interval bound nearer the
// null, the effect size the data confirms at the family confidence. Used for
// report ranking.
func (r Record) ConfirmedEffect() float64 {
	return math.Abs(r.CI.BoundToward(r.Null) - r.Null)
}

// Significant reports whether the corrected p-value survives at the given
// confidence level.
func (r Record) Significant(conf float64) bool {
	return !r.IsDegenerate() && r.CorrectedP <= 1-conf
}
