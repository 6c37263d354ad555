// Package metrics implements the closed family of association metrics the
// audit engine scores and validates contexts with. Every metric measures the
// strength of association between a protected attribute and the audited
// output inside one sub-population.
package metrics

import (
	"errors"
	"fmt"

	"fairlens/domain/core"
	"fairlens/domain/feature"
	"fairlens/domain/population"
	"fairlens/domain/stats"
)

// Kind is the closed set of association metric names. Unknown names fail
// fast in FromName; there is no open registration.
type Kind string

const (
	KindNMI        Kind = "NMI"
	KindMI         Kind = "MI"
	KindCORR       Kind = "CORR"
	KindDIFF       Kind = "DIFF"
	KindRATIO      Kind = "RATIO"
	KindREGRESSION Kind = "REGRESSION"
	KindCondDIFF   Kind = "CondDIFF"
	KindCondNMI    Kind = "CondNMI"
	KindCondCORR   Kind = "CondCORR"
)

// minSamples is the smallest subset any metric will score.
const minSamples = 10

// Sample is the column view of one sub-population that metrics compute over.
// All slices are row-aligned; Outputs holds one column per output label.
type Sample struct {
	Protected        []float64
	ProtectedArity   int
	Outputs          [][]float64
	OutputArity      int
	Explanatory      []float64
	ExplanatoryArity int
}

// N returns the number of rows.
func (s Sample) N() int {
	return len(s.Protected)
}

// Output returns the single output column of a single-label sample.
func (s Sample) Output() []float64 {
	return s.Outputs[0]
}

// Metric scores and estimates the association between a protected attribute
// and the output. Score feeds the tree builder (absolute association
// strength), Estimate the validator (signed effect plus sufficient
// statistics), and Asymptotic the closed-form interval and p-value at a
// two-sided confidence level.
type Metric interface {
	Kind() Kind
	Name() string
	// Conditional reports whether the metric stratifies by an explanatory
	// attribute. Permutation tests must shuffle within strata for these.
	Conditional() bool
	Score(s Sample) (float64, error)
	Estimate(s Sample) (stats.Estimate, error)
	Asymptotic(s Sample, level float64) (stats.Interval, float64, error)
}

// FromName resolves a metric name for the given feature trio, validating
// applicability up front. Unknown names and type mismatches are fatal
// configuration errors.
func FromName(name string, protected feature.Feature, target feature.Target, expl *feature.Feature) (Metric, error) {
	switch Kind(name) {
	case KindNMI:
		return newBinding(true, protected, target)
	case KindMI:
		return newBinding(false, protected, target)
	case KindCORR:
		return newCorrelation(protected, target)
	case KindDIFF:
		return newDifference(protected, target)
	case KindRATIO:
		return newRatio(protected, target)
	case KindREGRESSION:
		return newRegression(defaultTopK, protected, target)
	case KindCondNMI:
		base, err := newBinding(true, protected, target)
		if err != nil {
			return nil, err
		}
		return newConditional(KindCondNMI, base, expl)
	case KindCondDIFF:
		base, err := newDifference(protected, target)
		if err != nil {
			return nil, err
		}
		return newConditional(KindCondDIFF, base, expl)
	case KindCondCORR:
		base, err := newCorrelation(protected, target)
		if err != nil {
			return nil, err
		}
		return newConditional(KindCondCORR, base, expl)
	}
	return nil, fmt.Errorf("%w: %q", core.ErrUnknownMetric, name)
}

// Default picks the canonical metric for a protected/target type pair:
// REGRESSION for multi-label outputs, NMI for categorical pairs, CORR for
// continuous pairs, DIFF for a binary protected attribute with a continuous
// output. Other combinations have no safe default and must be named
// explicitly.
func Default(protected feature.Feature, target feature.Target, expl *feature.Feature) (Metric, error) {
	switch {
	case target.IsMultiLabel():
		return FromName(string(KindREGRESSION), protected, target, expl)
	case protected.IsCategorical() && target.Arity >= 2:
		if expl != nil {
			return FromName(string(KindCondNMI), protected, target, expl)
		}
		return FromName(string(KindNMI), protected, target, expl)
	case protected.IsContinuous() && target.IsContinuous():
		if expl != nil {
			return FromName(string(KindCondCORR), protected, target, expl)
		}
		return FromName(string(KindCORR), protected, target, expl)
	case protected.IsBinary() && target.IsContinuous():
		if expl != nil {
			return FromName(string(KindCondDIFF), protected, target, expl)
		}
		return FromName(string(KindDIFF), protected, target, expl)
	}
	return nil, fmt.Errorf("%w: no default metric for protected %s with target arity %d",
		core.ErrMetricMismatch, protected, target.Arity)
}

// NullValue returns a metric's no-association reference value.
func NullValue(k Kind) float64 {
	if k == KindRATIO {
		return 1
	}
	return 0
}

// SampleFrom pulls the metric columns for one feature trio out of a
// population. The explanatory feature may be nil.
func SampleFrom(pop *population.Population, protected feature.Feature, target feature.Target, expl *feature.Feature) (Sample, error) {
	prot, err := pop.Column(protected.Name)
	if err != nil {
		return Sample{}, err
	}
	outputs := make([][]float64, len(target.Names))
	for i, name := range target.Names {
		col, err := pop.Column(name)
		if err != nil {
			return Sample{}, err
		}
		outputs[i] = col
	}
	s := Sample{
		Protected:      prot,
		ProtectedArity: protected.Arity,
		Outputs:        outputs,
		OutputArity:    target.Arity,
	}
	if expl != nil {
		col, err := pop.Column(expl.Name)
		if err != nil {
			return Sample{}, err
		}
		s.Explanatory = col
		s.ExplanatoryArity = expl.Arity
	}
	return s, nil
}

// degeneracy runs the shared subset checks: minimum size and a protected
// attribute that still varies. Metrics run it before touching the data.
func degeneracy(s Sample) (stats.DegeneracyReason, error) {
	if len(s.Outputs) == 0 {
		return stats.DegenerateNone, core.NewConfigError("sample", "has no output columns")
	}
	for _, out := range s.Outputs {
		if len(out) != s.N() {
			return stats.DegenerateNone, core.NewConfigError("sample", "output column length mismatch")
		}
	}
	if s.N() < minSamples {
		return stats.DegenerateTooSmall, nil
	}
	if singleValued(s.Protected) {
		return stats.DegenerateSingleGroup, nil
	}
	return stats.DegenerateNone, nil
}

func singleValued(values []float64) bool {
	for _, v := range values[1:] {
		if v != values[0] {
			return false
		}
	}
	return true
}

// DegenerateError wraps the reason a subset could not support a metric. The
// tree builder maps it to do-not-split; the validator maps it to a degenerate
// record.
type DegenerateError struct {
	Reason stats.DegeneracyReason
}

func (e *DegenerateError) Error() string {
	return fmt.Sprintf("%s: %s", core.ErrDegenerateSubset.Error(), e.Reason)
}

func (e *DegenerateError) Unwrap() error {
	return core.ErrDegenerateSubset
}

// Degeneracy extracts the reason from a degenerate-subset error.
func Degeneracy(err error) (stats.DegeneracyReason, bool) {
	var de *DegenerateError
	if errors.As(err, &de) {
		return de.Reason, true
	}
	return stats.DegenerateNone, false
}
