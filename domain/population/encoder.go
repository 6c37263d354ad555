// Package population holds the column-major data model the audit engine
// computes over: encoded populations, row predicates, deterministic splits,
// and the train/holdout data source with its test budget.
package population

import (
	"fmt"
	"sort"

	"fairlens/domain/core"
)

// CategoryEncoder maps category labels to dense integer codes and back.
// The category order is fixed at construction; code i is categories[i].
type CategoryEncoder struct {
	categories []string
	codes      map[string]int
}

// NewCategoryEncoder creates an encoder over an explicit ordered category list.
func NewCategoryEncoder(categories ...string) (*CategoryEncoder, error) {
	if len(categories) < 2 {
		return nil, core.NewConfigError("category encoder", "needs at least 2 categories")
	}
	codes := make(map[string]int, len(categories))
	for i, c := range categories {
		if c == "" {
			return nil, core.NewConfigError("category encoder", "empty category label")
		}
		if _, dup := codes[c]; dup {
			return nil, core.NewConfigError("category encoder", fmt.Sprintf("duplicate category %q", c))
		}
		codes[c] = i
	}
	owned := make([]string, len(categories))
	copy(owned, categories)
	return &CategoryEncoder{categories: owned, codes: codes}, nil
}

// EncoderFromValues builds an encoder from observed labels, sorted
// alphabetically so the code assignment does not depend on row order.
func EncoderFromValues(values []string) (*CategoryEncoder, error) {
	seen := make(map[string]bool)
	var uniq []string
	for _, v := range values {
		if !seen[v] {
			seen[v] = true
			uniq = append(uniq, v)
		}
	}
	sort.Strings(uniq)
	return NewCategoryEncoder(uniq...)
}

// Arity returns the number of categories.
func (e *CategoryEncoder) Arity() int {
	return len(e.categories)
}

// Encode returns the code for a label.
func (e *CategoryEncoder) Encode(label string) (float64, bool) {
	c, ok := e.codes[label]
	return float64(c), ok
}

// Decode returns the label for a code, or a placeholder for out-of-range codes.
func (e *CategoryEncoder) Decode(code int) string {
	if code < 0 || code >= len(e.categories) {
		return fmt.Sprintf("<code %d>", code)
	}
	return e.categories[code]
}

// Categories returns the ordered category labels.
func (e *CategoryEncoder) Categories() []string {
	out := make([]string, len(e.categories))
	copy(out, e.categories)
	return out
}
