package population

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"fairlens/domain/core"
)

// PredicateKind distinguishes the three row-selection shapes a context
// predicate can take.
type PredicateKind string

const (
	// PredCategory selects rows where a categorical column equals one code.
	PredCategory PredicateKind = "category"
	// PredCategorySet selects rows where a categorical column falls in a code set.
	PredCategorySet PredicateKind = "category_set"
	// PredInterval selects rows where a continuous column lies in a half-open
	// interval (Lo, Hi].
	PredInterval PredicateKind = "interval"
)

// Predicate selects a sub-population by one condition on one column. A
// context's full condition is a conjunction of predicates, one per tree edge.
type Predicate struct {
	Feature    string        `json:"feature"`
	Kind       PredicateKind `json:"kind"`
	Category   int           `json:"category,omitempty"`
	Categories []int         `json:"categories,omitempty"`
	Lo         float64       `json:"lo,omitempty"`
	Hi         float64       `json:"hi,omitempty"`
}

// CategoryIs selects rows where feature equals the given category code.
func CategoryIs(feature string, code int) Predicate {
	return Predicate{Feature: feature, Kind: PredCategory, Category: code}
}

// CategoryIn selects rows where feature falls in the given code set.
func CategoryIn(feature string, codes ...int) Predicate {
	owned := append([]int(nil), codes...)
	sort.Ints(owned)
	return Predicate{Feature: feature, Kind: PredCategorySet, Categories: owned}
}

// IntervalAtMost selects rows where feature <= hi.
func IntervalAtMost(feature string, hi float64) Predicate {
	return Predicate{Feature: feature, Kind: PredInterval, Lo: math.Inf(-1), Hi: hi}
}

// IntervalAbove selects rows where feature > lo.
func IntervalAbove(feature string, lo float64) Predicate {
	return Predicate{Feature: feature, Kind: PredInterval, Lo: lo, Hi: math.Inf(1)}
}

// Interval selects rows where lo < feature <= hi.
func Interval(feature string, lo, hi float64) Predicate {
	return Predicate{Feature: feature, Kind: PredInterval, Lo: lo, Hi: hi}
}

// Matches reports whether a single value satisfies the predicate.
func (p Predicate) Matches(v float64) bool {
	switch p.Kind {
	case PredCategory:
		return v == float64(p.Category)
	case PredCategorySet:
		for _, c := range p.Categories {
			if v == float64(c) {
				return true
			}
		}
		return false
	case PredInterval:
		return v > p.Lo && v <= p.Hi
	}
	return false
}

// Describe renders the predicate for report output. The encoder, when
// present, turns category codes back into labels.
func (p Predicate) Describe(enc *CategoryEncoder) string {
	switch p.Kind {
	case PredCategory:
		return fmt.Sprintf("%s = %s", p.Feature, p.label(enc, p.Category))
	case PredCategorySet:
		labels := make([]string, len(p.Categories))
		for i, c := range p.Categories {
			labels[i] = p.label(enc, c)
		}
		return fmt.Sprintf("%s in {%s}", p.Feature, strings.Join(labels, ", "))
	case PredInterval:
		switch {
		case math.IsInf(p.Lo, -1) && math.IsInf(p.Hi, 1):
			return fmt.Sprintf("%s = any", p.Feature)
		case math.IsInf(p.Lo, -1):
			return fmt.Sprintf("%s <= %s", p.Feature, formatBound(p.Hi))
		case math.IsInf(p.Hi, 1):
			return fmt.Sprintf("%s > %s", p.Feature, formatBound(p.Lo))
		default:
			return fmt.Sprintf("%s < %s <= %s", formatBound(p.Lo), p.Feature, formatBound(p.Hi))
		}
	}
	return p.Feature
}

func (p Predicate) label(enc *CategoryEncoder, code int) string {
	if enc != nil {
		return enc.Decode(code)
	}
	return strconv.Itoa(code)
}

func formatBound(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// Key returns a canonical string form used for predicate-chain fingerprints.
func (p Predicate) Key() string {
	switch p.Kind {
	case PredCategory:
		return fmt.Sprintf("%s=%d", p.Feature, p.Category)
	case PredCategorySet:
		parts := make([]string, len(p.Categories))
		for i, c := range p.Categories {
			parts[i] = strconv.Itoa(c)
		}
		return fmt.Sprintf("%s in %s", p.Feature, strings.Join(parts, ","))
	case PredInterval:
		return fmt.Sprintf("%s:(%s,%s]", p.Feature, formatBound(p.Lo), formatBound(p.Hi))
	}
	return p.Feature
}

// ChainFingerprint hashes a predicate chain order-independently, so the same
// conjunction reached through reordered edges dedupes to one context.
func ChainFingerprint(chain []Predicate) core.Hash {
	keys := make([]string, len(chain))
	for i, p := range chain {
		keys[i] = p.Key()
	}
	sort.Strings(keys)
	return core.NewHashFromString(strings.Join(keys, "&"))
}

// DescribeChain renders a predicate chain as a single conjunction, resolving
// encoders from the given population when available.
func DescribeChain(chain []Predicate, pop *Population) string {
	if len(chain) == 0 {
		return "(whole population)"
	}
	parts := make([]string, len(chain))
	for i, p := range chain {
		var enc *CategoryEncoder
		if pop != nil {
			enc, _ = pop.Encoder(p.Feature)
		}
		parts[i] = p.Describe(enc)
	}
	return strings.Join(parts, " AND ")
}
