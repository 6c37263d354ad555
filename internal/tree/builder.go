package tree

import (
	"context"
	"math"
	"sort"

	"fairlens/adapters/metrics"
	"fairlens/domain/core"
	"fairlens/domain/feature"
	"fairlens/domain/population"

	"golang.org/x/sync/errgroup"
)

// Build grows one guided tree for one protected feature. Starting from the
// whole training population it repeatedly picks the context-feature split
// whose children carry the strongest aggregated association between the
// protected feature and the output, then recurses into each child.
//
// A node becomes a leaf when it reaches MaxDepth, cannot give both sides of
// any split MinLeafSize rows, sees no candidate beat its own score, or is too
// degenerate to measure. Ties between candidates prefer the split with the
// largest smallest child, then earlier feature declaration, then the lower
// threshold index.
func Build(data *population.Population, reg *feature.Registry, protected feature.Feature, expl *feature.Feature, target feature.Target, metric metrics.Metric, conf float64, params Params) (*Tree, error) {
	if err := params.validate(); err != nil {
		return nil, err
	}
	if conf <= 0 || conf >= 1 {
		return nil, core.NewConfigError("confidence level", "must lie strictly between 0 and 1")
	}
	if metric == nil {
		return nil, core.NewConfigError("metric", "cannot be nil")
	}
	if data == nil || data.Rows() == 0 {
		return nil, core.ErrEmptyPopulation
	}
	if err := checkColumns(data, reg, protected, expl, target); err != nil {
		return nil, err
	}

	pop := data
	if params.SubsampleFrac < 1 {
		n := int(math.Ceil(params.SubsampleFrac * float64(data.Rows())))
		pop = data.Sample(n, params.Seed)
	}

	b := &builder{
		reg:       reg,
		protected: protected,
		expl:      expl,
		target:    target,
		metric:    metric,
		params:    params,
		tree: &Tree{
			Protected: protected.Name,
			Metric:    metric.Kind(),
			Conf:      conf,
			TrainRows: pop.Rows(),
		},
	}

	score, degenerate, err := b.score(pop)
	if err != nil {
		return nil, err
	}
	b.tree.Nodes = append(b.tree.Nodes, Node{Index: 0, Parent: -1, Rows: pop.Rows(), Score: score})
	if err := b.grow(0, pop, degenerate); err != nil {
		return nil, err
	}
	return b.tree, nil
}

// BuildAll grows one tree per protected feature of the registry, all from the
// same immutable training population, concurrently. Each feature's subsample
// seed is offset by its registry position, so the result does not depend on
// goroutine scheduling.
func BuildAll(ctx context.Context, data *population.Population, reg *feature.Registry, expl *feature.Feature, target feature.Target, metricFor func(feature.Feature) (metrics.Metric, error), conf float64, params Params) (map[string]*Tree, error) {
	protected := reg.ProtectedFeatures()
	if len(protected) == 0 {
		return nil, core.NewPhaseError(core.ErrInvalidRegistry, "no protected features to audit")
	}

	trees := make([]*Tree, len(protected))
	g, gctx := errgroup.WithContext(ctx)
	for i, pf := range protected {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			m, err := metricFor(pf)
			if err != nil {
				return err
			}
			p := params
			p.Seed = params.Seed + int64(reg.Position(pf.Name))
			t, err := Build(data, reg, pf, expl, target, m, conf, p)
			if err != nil {
				return err
			}
			trees[i] = t
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make(map[string]*Tree, len(trees))
	for i, pf := range protected {
		out[pf.Name] = trees[i]
	}
	return out, nil
}

type builder struct {
	reg       *feature.Registry
	protected feature.Feature
	expl      *feature.Feature
	target    feature.Target
	metric    metrics.Metric
	params    Params
	tree      *Tree
}

// childSplit is one child of a candidate split, scored on its own subset.
type childSplit struct {
	pred       population.Predicate
	pop        *population.Population
	score      float64
	degenerate bool
}

type candidate struct {
	feature      string
	featurePos   int
	thresholdIdx int
	score        float64
	minChild     int
	children     []childSplit
}

// better orders candidates: higher aggregated score, then larger smallest
// child, then earlier feature declaration, then lower threshold index.
func better(a, b *candidate) bool {
	if a.score != b.score {
		return a.score > b.score
	}
	if a.minChild != b.minChild {
		return a.minChild > b.minChild
	}
	if a.featurePos != b.featurePos {
		return a.featurePos < b.featurePos
	}
	return a.thresholdIdx < b.thresholdIdx
}

func (b *builder) grow(idx int, pop *population.Population, degenerate bool) error {
	node := b.tree.Nodes[idx]
	if degenerate || node.Depth >= b.params.MaxDepth || pop.Rows() < 2*b.params.MinLeafSize {
		return nil
	}

	best, err := b.bestSplit(pop, node.Score)
	if err != nil {
		return err
	}
	if best == nil {
		return nil
	}

	b.tree.Nodes[idx].Feature = best.feature
	b.tree.Nodes[idx].SplitScore = best.score
	for i := range best.children {
		ch := best.children[i]
		pred := ch.pred
		childIdx := len(b.tree.Nodes)
		b.tree.Nodes = append(b.tree.Nodes, Node{
			Index:     childIdx,
			Parent:    idx,
			Depth:     node.Depth + 1,
			Rows:      ch.pop.Rows(),
			Score:     ch.score,
			Predicate: &pred,
		})
		b.tree.Nodes[idx].Children = append(b.tree.Nodes[idx].Children, childIdx)
		if err := b.grow(childIdx, ch.pop, ch.degenerate); err != nil {
			return err
		}
	}
	return nil
}

// bestSplit returns the strongest candidate that strictly improves on the
// node's own score, or nil when the node should stay a leaf.
func (b *builder) bestSplit(pop *population.Population, nodeScore float64) (*candidate, error) {
	var best *candidate
	for _, f := range b.reg.ContextFeatures() {
		var cands []*candidate
		var err error
		if f.IsContinuous() {
			cands, err = b.continuousCandidates(pop, f)
		} else {
			cands, err = b.categoricalCandidates(pop, f)
		}
		if err != nil {
			return nil, err
		}
		for _, c := range cands {
			if best == nil || better(c, best) {
				best = c
			}
		}
	}
	if best == nil || best.score <= nodeScore {
		return nil, nil
	}
	return best, nil
}

// continuousCandidates proposes one binary split per distinct quantile
// threshold of the feature within this node's subset, up to MaxBins of them.
func (b *builder) continuousCandidates(pop *population.Population, f feature.Feature) ([]*candidate, error) {
	col, err := pop.Column(f.Name)
	if err != nil {
		return nil, err
	}
	pos := b.reg.Position(f.Name)

	var out []*candidate
	for ti, t := range thresholds(col, b.params.MaxBins) {
		lowPred := population.IntervalAtMost(f.Name, t)
		highPred := population.IntervalAbove(f.Name, t)
		low, err := pop.Filter(lowPred)
		if err != nil {
			return nil, err
		}
		high, err := pop.Filter(highPred)
		if err != nil {
			return nil, err
		}
		if low.Rows() < b.params.MinLeafSize || high.Rows() < b.params.MinLeafSize {
			continue
		}
		c := &candidate{
			feature:      f.Name,
			featurePos:   pos,
			thresholdIdx: ti,
			children: []childSplit{
				{pred: lowPred, pop: low},
				{pred: highPred, pop: high},
			},
		}
		if err := b.scoreCandidate(c); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

// categoricalCandidates proposes a single multiway split: one child per
// observed category, packed into at most MaxBins groups and folded together
// until every group clears the leaf-size floor.
func (b *builder) categoricalCandidates(pop *population.Population, f feature.Feature) ([]*candidate, error) {
	col, err := pop.Column(f.Name)
	if err != nil {
		return nil, err
	}
	counts := make([]int, f.Arity)
	for _, v := range col {
		code := int(v)
		if code < 0 || code >= f.Arity {
			return nil, core.NewConfigError("categorical column "+f.Name, "category code outside the declared arity")
		}
		counts[code]++
	}

	groups := groupCategories(counts, b.params.MaxBins, b.params.MinLeafSize)
	if len(groups) < 2 {
		return nil, nil
	}

	c := &candidate{feature: f.Name, featurePos: b.reg.Position(f.Name)}
	for _, g := range groups {
		var pred population.Predicate
		if len(g) == 1 {
			pred = population.CategoryIs(f.Name, g[0])
		} else {
			pred = population.CategoryIn(f.Name, g...)
		}
		child, err := pop.Filter(pred)
		if err != nil {
			return nil, err
		}
		c.children = append(c.children, childSplit{pred: pred, pop: child})
	}
	if err := b.scoreCandidate(c); err != nil {
		return nil, err
	}
	return []*candidate{c}, nil
}

// scoreCandidate measures the association within every child and aggregates.
// A child too degenerate to measure contributes a zero score and is marked so
// the recursion leaves it alone.
func (b *builder) scoreCandidate(c *candidate) error {
	sizes := make([]int, len(c.children))
	scores := make([]float64, len(c.children))
	minChild := c.children[0].pop.Rows()
	for i := range c.children {
		ch := &c.children[i]
		score, degenerate, err := b.score(ch.pop)
		if err != nil {
			return err
		}
		ch.score, ch.degenerate = score, degenerate
		sizes[i], scores[i] = ch.pop.Rows(), score
		if ch.pop.Rows() < minChild {
			minChild = ch.pop.Rows()
		}
	}
	c.score = b.params.aggregate(sizes, scores)
	c.minChild = minChild
	return nil
}

// score computes the metric's association score on one subset. Degeneracy is
// reported as a zero score with the flag set, never as an error.
func (b *builder) score(pop *population.Population) (float64, bool, error) {
	s, err := metrics.SampleFrom(pop, b.protected, b.target, b.expl)
	if err != nil {
		return 0, false, err
	}
	score, err := b.metric.Score(s)
	if err != nil {
		if _, ok := metrics.Degeneracy(err); ok {
			return 0, true, nil
		}
		return 0, false, err
	}
	return score, false, nil
}

// thresholds picks up to maxBins split points from the empirical quantiles of
// the column, deduplicated, excluding the maximum (its upper child would be
// empty).
func thresholds(values []float64, maxBins int) []float64 {
	if len(values) == 0 {
		return nil
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	top := sorted[len(sorted)-1]

	var out []float64
	for i := 1; i <= maxBins; i++ {
		q := float64(i) / float64(maxBins+1)
		t := sorted[int(q*float64(len(sorted)-1))]
		if t == top {
			break
		}
		if len(out) > 0 && t == out[len(out)-1] {
			continue
		}
		out = append(out, t)
	}
	return out
}

// groupCategories turns per-code row counts into category groups: one group
// per observed code when they fit in maxBins, otherwise largest-first packing
// into the lightest of maxBins bins. Undersized groups are folded into the
// next-smallest until every group holds at least minLeaf rows. Returns fewer
// than two groups when no valid multiway split exists.
func groupCategories(counts []int, maxBins, minLeaf int) [][]int {
	type group struct {
		codes []int
		total int
	}

	var observed []int
	for code, n := range counts {
		if n > 0 {
			observed = append(observed, code)
		}
	}
	if len(observed) < 2 {
		return nil
	}

	var groups []*group
	if len(observed) <= maxBins {
		for _, code := range observed {
			groups = append(groups, &group{codes: []int{code}, total: counts[code]})
		}
	} else {
		byCount := append([]int(nil), observed...)
		sort.SliceStable(byCount, func(i, j int) bool {
			if counts[byCount[i]] != counts[byCount[j]] {
				return counts[byCount[i]] > counts[byCount[j]]
			}
			return byCount[i] < byCount[j]
		})
		for i := 0; i < maxBins; i++ {
			groups = append(groups, &group{})
		}
		for _, code := range byCount {
			lightest := 0
			for gi, g := range groups {
				if g.total < groups[lightest].total {
					lightest = gi
				}
			}
			groups[lightest].codes = append(groups[lightest].codes, code)
			groups[lightest].total += counts[code]
		}
	}
	for _, g := range groups {
		sort.Ints(g.codes)
	}

	for len(groups) > 1 {
		sort.SliceStable(groups, func(i, j int) bool {
			if groups[i].total != groups[j].total {
				return groups[i].total < groups[j].total
			}
			return groups[i].codes[0] < groups[j].codes[0]
		})
		if groups[0].total >= minLeaf {
			break
		}
		groups[1].codes = append(groups[1].codes, groups[0].codes...)
		groups[1].total += groups[0].total
		sort.Ints(groups[1].codes)
		groups = groups[1:]
	}
	if len(groups) < 2 {
		return nil
	}

	sort.SliceStable(groups, func(i, j int) bool {
		return groups[i].codes[0] < groups[j].codes[0]
	})
	out := make([][]int, len(groups))
	for i, g := range groups {
		out[i] = g.codes
	}
	return out
}

func checkColumns(data *population.Population, reg *feature.Registry, protected feature.Feature, expl *feature.Feature, target feature.Target) error {
	for _, f := range reg.Features() {
		if !data.Has(f.Name) {
			return core.NewFeatureError(f.Name)
		}
	}
	if !data.Has(protected.Name) {
		return core.NewFeatureError(protected.Name)
	}
	if expl != nil && !data.Has(expl.Name) {
		return core.NewFeatureError(expl.Name)
	}
	for _, name := range target.Names {
		if !data.Has(name) {
			return core.NewFeatureError(name)
		}
	}
	return nil
}
