package extract

import (
	"fairlens/adapters/metrics"
	"fairlens/domain/core"
	"fairlens/domain/feature"
	"fairlens/domain/population"
	"fairlens/domain/stats"
	"fairlens/internal/tree"
)

// Context is one discovered sub-population, re-evaluated on held-out data.
// Parent indexes the enclosing context within the same result slice, -1 for
// the whole-population context.
type Context struct {
	ID          core.ContextID
	NodeIndex   int
	Parent      int
	Depth       int
	Root        bool
	Chain       []population.Predicate
	Description string
	Subset      *population.Population
	Rows        int
	Effect      stats.Estimate
	Degeneracy  stats.DegeneracyReason
}

// IsDegenerate reports whether the held-out subset was too thin to estimate.
func (c Context) IsDegenerate() bool {
	return c.Degeneracy != stats.DegenerateNone
}

// FindContexts walks the tree in pre-order and re-evaluates every node's
// predicate chain against held-out data, so each emitted effect estimate is
// fresh rather than the one that guided the search. The protected feature and
// output are resolved through the registry from what the tree recorded; the
// association is measured with the tree's own metric unless override is
// non-nil.
//
// With prune set, a node whose held-out association fails the asymptotic
// significance check at the tree's confidence level is dropped along with its
// whole subtree: a nested context is worthless once its parent is already
// indistinguishable from noise. Pruning can only ever shrink the result.
func FindContexts(tr *tree.Tree, heldOut *population.Population, reg *feature.Registry, expl *feature.Feature, prune bool, override metrics.Metric) ([]Context, error) {
	if tr == nil || tr.Len() == 0 {
		return nil, core.NewPhaseError(core.ErrNotTrained, "no tree to extract contexts from")
	}
	if heldOut == nil || heldOut.Rows() == 0 {
		return nil, core.ErrEmptyPopulation
	}

	protected, err := reg.Lookup(tr.Protected)
	if err != nil {
		return nil, err
	}
	target := reg.Target()

	metric := override
	if metric == nil {
		m, err := metrics.FromName(string(tr.Metric), protected, target, expl)
		if err != nil {
			return nil, err
		}
		metric = m
	}

	subsets := make([]*population.Population, tr.Len())
	pruned := make([]bool, tr.Len())
	emitted := make([]int, tr.Len())
	for i := range emitted {
		emitted[i] = -1
	}
	seen := make(map[core.Hash]int)

	var out []Context
	for i := 0; i < tr.Len(); i++ {
		n := tr.Node(i)

		var sub *population.Population
		if n.Parent < 0 {
			sub = heldOut
		} else {
			if pruned[n.Parent] {
				pruned[i] = true
				continue
			}
			s, err := subsets[n.Parent].Filter(*n.Predicate)
			if err != nil {
				return nil, err
			}
			sub = s
		}
		subsets[i] = sub

		sample, err := metrics.SampleFrom(sub, protected, target, expl)
		if err != nil {
			return nil, err
		}

		var reason stats.DegeneracyReason
		est, err := metric.Estimate(sample)
		if err != nil {
			r, ok := metrics.Degeneracy(err)
			if !ok {
				return nil, err
			}
			reason, est = r, stats.Estimate{}
		}

		if prune {
			insignificant := reason != stats.DegenerateNone
			if !insignificant {
				_, p, err := metric.Asymptotic(sample, tr.Conf)
				if err != nil {
					if _, ok := metrics.Degeneracy(err); !ok {
						return nil, err
					}
					insignificant = true
				} else {
					insignificant = p > 1-tr.Conf
				}
			}
			if insignificant {
				pruned[i] = true
				continue
			}
		}

		chain := tr.Chain(i)
		fp := population.ChainFingerprint(chain)
		if prev, ok := seen[fp]; ok {
			emitted[i] = prev
			continue
		}

		parent := -1
		if n.Parent >= 0 {
			parent = emitted[n.Parent]
		}
		out = append(out, Context{
			ID:          core.ContextID(core.NewID()),
			NodeIndex:   i,
			Parent:      parent,
			Depth:       n.Depth,
			Root:        n.Parent < 0,
			Chain:       chain,
			Description: population.DescribeChain(chain, heldOut),
			Subset:      sub,
			Rows:        sub.Rows(),
			Effect:      est,
			Degeneracy:  reason,
		})
		idx := len(out) - 1
		emitted[i] = idx
		seen[fp] = idx
	}
	return out, nil
}
