package multitest

import (
	"context"
	"math/rand"

	"fairlens/adapters/metrics"
	domstats "fairlens/domain/stats"

	"github.com/montanaflynn/stats"
)

// bootstrapCI resamples the context subset with replacement and takes the
// percentile interval of the re-estimated effects. Degenerate draws carry no
// interval information and are skipped; if every draw degenerates the
// interval collapses onto the point estimate.
func bootstrapCI(ctx context.Context, h hypothesis, s metrics.Sample, pointEffect, level float64, opts Options) (domstats.Interval, error) {
	stream, err := opts.RNG.Stream(ctx, h.runKey, phaseBootstrap, h.streamKey, opts.Seed)
	if err != nil {
		return domstats.Interval{}, err
	}

	effects := make([]float64, 0, opts.BootstrapIters)
	for it := 0; it < opts.BootstrapIters; it++ {
		if err := ctx.Err(); err != nil {
			return domstats.Interval{}, err
		}
		est, err := h.study.Metric.Estimate(resample(s, stream))
		if err != nil {
			if _, ok := metrics.Degeneracy(err); ok {
				continue
			}
			return domstats.Interval{}, err
		}
		effects = append(effects, est.Effect)
	}
	if len(effects) == 0 {
		return domstats.NewInterval(pointEffect, pointEffect), nil
	}

	alpha := 1 - level
	lo, err := stats.Percentile(effects, 100*alpha/2)
	if err != nil {
		return domstats.Interval{}, err
	}
	hi, err := stats.Percentile(effects, 100*(1-alpha/2))
	if err != nil {
		return domstats.Interval{}, err
	}
	return domstats.NewInterval(lo, hi), nil
}

// permutationP shuffles the protected column to draw from the
// no-association null and counts draws scoring at least the observed
// association. The add-one estimator keeps the p-value away from zero at
// finite draw counts. Conditional metrics shuffle within explanatory strata
// so the stratum structure itself is never broken.
func permutationP(ctx context.Context, h hypothesis, s metrics.Sample, opts Options) (float64, error) {
	observed, err := h.study.Metric.Score(s)
	if err != nil {
		return 0, err
	}
	stream, err := opts.RNG.Stream(ctx, h.runKey, phasePermutation, h.streamKey, opts.Seed)
	if err != nil {
		return 0, err
	}

	perm := append([]float64(nil), s.Protected...)
	shuffled := s
	shuffled.Protected = perm
	var strata [][]int
	if h.study.Metric.Conditional() {
		strata = strataIndex(s)
	}

	extreme, completed := 0, 0
	for it := 0; it < opts.PermIters; it++ {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		if strata == nil {
			stream.Shuffle(len(perm), func(a, b int) {
				perm[a], perm[b] = perm[b], perm[a]
			})
		} else {
			for _, idx := range strata {
				stream.Shuffle(len(idx), func(a, b int) {
					perm[idx[a]], perm[idx[b]] = perm[idx[b]], perm[idx[a]]
				})
			}
		}
		score, err := h.study.Metric.Score(shuffled)
		if err != nil {
			if _, ok := metrics.Degeneracy(err); ok {
				continue
			}
			return 0, err
		}
		completed++
		if score >= observed {
			extreme++
		}
	}
	return float64(1+extreme) / float64(1+completed), nil
}

// resample draws a same-size bootstrap replicate, keeping all columns
// row-aligned.
func resample(s metrics.Sample, stream *rand.Rand) metrics.Sample {
	n := s.N()
	rs := metrics.Sample{
		Protected:        make([]float64, n),
		ProtectedArity:   s.ProtectedArity,
		Outputs:          make([][]float64, len(s.Outputs)),
		OutputArity:      s.OutputArity,
		ExplanatoryArity: s.ExplanatoryArity,
	}
	for j := range rs.Outputs {
		rs.Outputs[j] = make([]float64, n)
	}
	if s.Explanatory != nil {
		rs.Explanatory = make([]float64, n)
	}
	for i := 0; i < n; i++ {
		k := stream.Intn(n)
		rs.Protected[i] = s.Protected[k]
		for j := range s.Outputs {
			rs.Outputs[j][i] = s.Outputs[j][k]
		}
		if s.Explanatory != nil {
			rs.Explanatory[i] = s.Explanatory[k]
		}
	}
	return rs
}

// strataIndex groups row positions by explanatory stratum, in stratum code
// order so RNG consumption stays deterministic.
func strataIndex(s metrics.Sample) [][]int {
	byCode := make([][]int, s.ExplanatoryArity)
	for i, v := range s.Explanatory {
		code := int(v)
		if code < 0 || code >= len(byCode) {
			continue
		}
		byCode[code] = append(byCode[code], i)
	}
	strata := byCode[:0]
	for _, idx := range byCode {
		if len(idx) > 0 {
			strata = append(strata, idx)
		}
	}
	return strata
}
