// Package multitest is the statistical validator. It turns every extracted
// context of a batch of investigations into a stats.Record, either through
// closed asymptotic forms or through bootstrap confidence intervals with
// Monte-Carlo permutation p-values, and then applies family-wise error
// correction across all contexts of the batch at once.
package multitest

import (
	"context"
	"fmt"
	"math"
	"runtime"

	"fairlens/adapters/metrics"
	"fairlens/adapters/rng"
	"fairlens/domain/core"
	"fairlens/domain/population"
	domstats "fairlens/domain/stats"
	"fairlens/internal/extract"
	"fairlens/internal/investigation"
	"fairlens/ports"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

const (
	// minIters is the floor for both resampling loops. Fewer draws than
	// this cannot resolve the percentile bounds of a 95% interval.
	minIters     = 100
	defaultIters = 1000

	phaseBootstrap   = "bootstrap"
	phasePermutation = "permutation"
)

// Options shapes one validation pass.
type Options struct {
	// Exact selects bootstrap intervals and permutation p-values instead
	// of the closed asymptotic forms.
	Exact bool
	// FamilyConf is the family-wide confidence level. Zero means the
	// holdout's configured confidence.
	FamilyConf float64
	// Correct enables Sidak correction across every context in the call.
	Correct bool
	// Seed drives all resampling streams.
	Seed int64
	// Workers bounds the concurrent per-context computations. Zero means
	// one per available CPU.
	Workers int
	// BootstrapIters and PermIters are the resampling draw counts. Zero
	// means 1000; values below 100 are raised to 100.
	BootstrapIters int
	PermIters      int
	// RNG supplies the deterministic streams. Nil means the default
	// hash-seeded factory.
	RNG ports.RNGPort
}

func (o Options) normalized(holdout *population.Holdout) (Options, error) {
	if o.FamilyConf == 0 {
		o.FamilyConf = holdout.Conf()
	}
	if o.FamilyConf <= 0 || o.FamilyConf >= 1 {
		return o, core.NewConfigError("family confidence", "must lie strictly between 0 and 1")
	}
	if o.Workers <= 0 {
		o.Workers = runtime.GOMAXPROCS(0)
	}
	if o.BootstrapIters == 0 {
		o.BootstrapIters = defaultIters
	}
	if o.PermIters == 0 {
		o.PermIters = defaultIters
	}
	if o.BootstrapIters < minIters {
		o.BootstrapIters = minIters
	}
	if o.PermIters < minIters {
		o.PermIters = minIters
	}
	if o.RNG == nil {
		o.RNG = rng.NewStreamFactory()
	}
	return o, nil
}

// hypothesis is one context awaiting validation. runKey and streamKey
// identify its RNG streams; they are stable across runs and independent of
// worker scheduling.
type hypothesis struct {
	inv       *investigation.Investigation
	study     *investigation.Study
	context   *extract.Context
	runKey    string
	streamKey string
}

// ComputeAllStats validates every context of every investigation in the
// batch and writes the records back onto their studies. All investigations
// must be tested against the same holdout; the family for correction is the
// full set of contexts across the batch. On error no investigation is
// modified.
func ComputeAllStats(ctx context.Context, invs []*investigation.Investigation, opts Options) error {
	if len(invs) == 0 {
		return core.NewConfigError("investigations", "nothing to validate")
	}
	for _, inv := range invs {
		if inv == nil {
			return core.NewConfigError("investigations", "contains a nil entry")
		}
	}
	for _, inv := range invs {
		if inv.Holdout() != invs[0].Holdout() {
			return core.NewPhaseError(core.ErrHoldoutMismatch,
				"cannot validate "+inv.Name()+" together with "+invs[0].Name())
		}
		for _, s := range inv.Studies() {
			if !s.Trained() {
				return core.NewPhaseError(core.ErrNotTrained, inv.Name()+"/"+s.Protected.Name)
			}
			if !s.Tested() {
				return core.NewPhaseError(core.ErrNotTested, inv.Name()+"/"+s.Protected.Name)
			}
		}
	}

	opts, err := opts.normalized(invs[0].Holdout())
	if err != nil {
		return err
	}

	// One hypothesis per context, in a fixed order: investigations as
	// given, studies in registry order, contexts pre-order.
	var hyps []hypothesis
	type span struct {
		study *investigation.Study
		n     int
	}
	var spans []span
	for i, inv := range invs {
		runKey := fmt.Sprintf("%d:%s", i, inv.Name())
		for _, s := range inv.Studies() {
			spans = append(spans, span{study: s, n: len(s.Contexts)})
			for j := range s.Contexts {
				c := &s.Contexts[j]
				hyps = append(hyps, hypothesis{
					inv:       inv,
					study:     s,
					context:   c,
					runKey:    runKey,
					streamKey: s.Protected.Name + "/" + string(population.ChainFingerprint(c.Chain)),
				})
			}
		}
	}

	m := len(hyps)
	if m == 0 {
		for _, sp := range spans {
			if err := sp.study.SetRecords(nil); err != nil {
				return err
			}
		}
		return nil
	}

	// Sidak: testing m hypotheses at per-test level conf^(1/m) holds the
	// family-wide level at conf.
	level := opts.FamilyConf
	if opts.Correct {
		level = math.Pow(opts.FamilyConf, 1/float64(m))
	}

	records := make([]domstats.Record, m)
	sem := semaphore.NewWeighted(int64(opts.Workers))
	g, gctx := errgroup.WithContext(ctx)
	var acquireErr error
	for i := range hyps {
		// Acquire can succeed on an already canceled context.
		if err := gctx.Err(); err != nil {
			acquireErr = err
			break
		}
		if err := sem.Acquire(gctx, 1); err != nil {
			acquireErr = err
			break
		}
		g.Go(func() error {
			defer sem.Release(1)
			rec, err := computeOne(gctx, hyps[i], level, opts)
			if err != nil {
				return err
			}
			records[i] = rec
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	if acquireErr != nil {
		return acquireErr
	}

	applyCorrection(records, m, opts.Correct)

	cursor := 0
	for _, sp := range spans {
		out := append([]domstats.Record(nil), records[cursor:cursor+sp.n]...)
		cursor += sp.n
		if err := sp.study.SetRecords(out); err != nil {
			return err
		}
	}
	return nil
}

// computeOne validates a single context. Degenerate contexts short-circuit
// to the p=1, unbounded-interval record.
func computeOne(ctx context.Context, h hypothesis, level float64, opts Options) (domstats.Record, error) {
	method := domstats.MethodAsymptotic
	if opts.Exact {
		method = domstats.MethodExact
	}

	metric := h.study.Metric
	if h.context.IsDegenerate() {
		rec := domstats.Degenerate(metric.Name(), h.context.Rows, h.context.Degeneracy, method)
		rec.Null = metrics.NullValue(metric.Kind())
		return rec, nil
	}

	sample, err := metrics.SampleFrom(h.context.Subset, h.study.Protected,
		h.inv.Registry().Target(), h.inv.Explanatory())
	if err != nil {
		return domstats.Record{}, err
	}

	est := h.context.Effect
	var ci domstats.Interval
	var p float64
	if opts.Exact {
		ci, err = bootstrapCI(ctx, h, sample, est.Effect, level, opts)
		if err != nil {
			return domstats.Record{}, err
		}
		p, err = permutationP(ctx, h, sample, opts)
		if err != nil {
			return domstats.Record{}, err
		}
	} else {
		ci, p, err = metric.Asymptotic(sample, level)
		if err != nil {
			if reason, ok := metrics.Degeneracy(err); ok {
				rec := domstats.Degenerate(metric.Name(), sample.N(), reason, method)
				rec.Null = metrics.NullValue(metric.Kind())
				return rec, nil
			}
			return domstats.Record{}, err
		}
	}

	rec, err := domstats.NewRecord(metric.Name(), est.Effect, ci, p, sample.N(), method)
	if err != nil {
		return domstats.Record{}, err
	}
	rec.Null = est.Null
	return rec, nil
}

// applyCorrection stamps the family size on every record and, when enabled,
// replaces raw p-values with their Sidak-corrected counterparts.
func applyCorrection(records []domstats.Record, m int, correct bool) {
	for i := range records {
		records[i].FamilySize = m
		if !correct {
			continue
		}
		records[i].Correction = domstats.CorrectionSidak
		records[i].CorrectedP = sidakP(records[i].PValue, m)
	}
}

// sidakP is 1-(1-p)^m, computed through expm1/log1p so small p-values keep
// their precision, and clamped to [p, 1].
func sidakP(p float64, m int) float64 {
	if p <= 0 {
		return 0
	}
	if p >= 1 {
		return 1
	}
	corrected := -math.Expm1(float64(m) * math.Log1p(-p))
	if corrected < p {
		return p
	}
	if corrected > 1 {
		return 1
	}
	return corrected
}
