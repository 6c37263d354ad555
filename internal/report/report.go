// Package report renders validated investigations into deterministic text or
// markdown audit reports. Contexts pass a significance filter and a node
// filter, then rank by the effect size the data actually confirms.
package report

import (
	"sort"

	"fairlens/domain/core"
	"fairlens/domain/stats"
	"fairlens/internal/extract"
	"fairlens/internal/investigation"
)

// Filter names the node filter policies.
type Filter string

const (
	// FilterAll keeps every significant context.
	FilterAll Filter = "all"
	// FilterLeaves keeps only contexts with no extracted children.
	FilterLeaves Filter = "leaves"
	// FilterRoot keeps only the whole-population context.
	FilterRoot Filter = "root"
	// FilterBetterThanAncestors keeps a context only when its confirmed
	// effect strictly exceeds that of every kept enclosing context.
	FilterBetterThanAncestors Filter = "better_than_ancestors"
)

// IsValid reports whether the filter is a known policy.
func (f Filter) IsValid() bool {
	switch f {
	case FilterAll, FilterLeaves, FilterRoot, FilterBetterThanAncestors:
		return true
	}
	return false
}

// Format selects the output flavor.
type Format string

const (
	FormatText     Format = "text"
	FormatMarkdown Format = "markdown"
)

func (f Format) IsValid() bool {
	return f == FormatText || f == FormatMarkdown
}

// Params shapes one report.
type Params struct {
	// Filter is the node filter. Empty means better_than_ancestors.
	Filter Filter
	// FilterConf drops contexts whose corrected p-value exceeds
	// 1-FilterConf. Zero keeps everything, degenerate contexts included.
	FilterConf float64
	// Format is the output flavor. Empty means text.
	Format Format
}

// DefaultParams is the standard report: ancestor-dominated contexts dropped,
// significance filtered at 95%.
func DefaultParams() Params {
	return Params{
		Filter:     FilterBetterThanAncestors,
		FilterConf: 0.95,
		Format:     FormatText,
	}
}

func (p Params) normalized() (Params, error) {
	if p.Filter == "" {
		p.Filter = FilterBetterThanAncestors
	}
	if !p.Filter.IsValid() {
		return p, core.NewPhaseError(core.ErrUnknownFilter, string(p.Filter))
	}
	if p.FilterConf < 0 || p.FilterConf >= 1 {
		return p, core.NewConfigError("filter confidence", "must lie in [0, 1)")
	}
	if p.Format == "" {
		p.Format = FormatText
	}
	if !p.Format.IsValid() {
		return p, core.NewConfigError("report format", "must be text or markdown")
	}
	return p, nil
}

// Selected is one reported context in archive form.
type Selected struct {
	Protected   string
	Description string
	Record      stats.Record
}

// Select returns the contexts a report with these params would show, in
// report order. Callers that persist the result should skip degenerate
// records: their unbounded intervals do not survive JSON marshaling.
func Select(invs []*investigation.Investigation, p Params) ([]Selected, error) {
	p, err := p.normalized()
	if err != nil {
		return nil, err
	}
	if err := validateBatch(invs); err != nil {
		return nil, err
	}

	var out []Selected
	for _, inv := range invs {
		for _, s := range inv.Studies() {
			for _, r := range selectContexts(s, p) {
				out = append(out, Selected{
					Protected:   s.Protected.Name,
					Description: r.ctx.Description,
					Record:      r.rec,
				})
			}
		}
	}
	return out, nil
}

// validateBatch rejects a batch unless every investigation has been tested
// and carries validated statistics.
func validateBatch(invs []*investigation.Investigation) error {
	if len(invs) == 0 {
		return core.NewConfigError("investigations", "nothing to report")
	}
	for _, inv := range invs {
		if inv == nil {
			return core.NewConfigError("investigations", "contains a nil entry")
		}
		if inv.Phase() != investigation.PhaseTested && inv.Phase() != investigation.PhaseReported {
			return core.NewPhaseError(core.ErrNotTested, inv.Name())
		}
		if !inv.Validated() {
			return core.NewPhaseError(core.ErrNotTested, "statistics not computed for "+inv.Name())
		}
	}
	return nil
}

// ranked pairs a surviving context with its record. pos is the pre-order
// position, the final ranking tiebreak.
type ranked struct {
	ctx *extract.Context
	rec stats.Record
	pos int
}

// selectContexts applies the significance filter, then the node filter, then
// ranks survivors by confirmed effect, largest subsets first on ties.
func selectContexts(s *investigation.Study, p Params) []ranked {
	n := len(s.Contexts)
	if n == 0 {
		return nil
	}

	keep := make([]bool, n)
	for i := range s.Contexts {
		keep[i] = p.FilterConf == 0 || s.Records[i].CorrectedP <= 1-p.FilterConf
	}

	switch p.Filter {
	case FilterRoot:
		for i := range keep {
			keep[i] = keep[i] && s.Contexts[i].Root
		}
	case FilterLeaves:
		hasChild := make([]bool, n)
		for i := range s.Contexts {
			if parent := s.Contexts[i].Parent; parent >= 0 {
				hasChild[parent] = true
			}
		}
		for i := range keep {
			keep[i] = keep[i] && !hasChild[i]
		}
	case FilterBetterThanAncestors:
		// Contexts are in pre-order, so every ancestor is decided
		// before its descendants.
		for i := range s.Contexts {
			if !keep[i] {
				continue
			}
			own := s.Records[i].ConfirmedEffect()
			for a := s.Contexts[i].Parent; a >= 0; a = s.Contexts[a].Parent {
				if keep[a] && s.Records[a].ConfirmedEffect() >= own {
					keep[i] = false
					break
				}
			}
		}
	}

	var rows []ranked
	for i := range s.Contexts {
		if keep[i] {
			rows = append(rows, ranked{ctx: &s.Contexts[i], rec: s.Records[i], pos: i})
		}
	}
	sort.SliceStable(rows, func(a, b int) bool {
		ea, eb := rows[a].rec.ConfirmedEffect(), rows[b].rec.ConfirmedEffect()
		if ea != eb {
			return ea > eb
		}
		if rows[a].rec.N != rows[b].rec.N {
			return rows[a].rec.N > rows[b].rec.N
		}
		return rows[a].pos < rows[b].pos
	})
	return rows
}
