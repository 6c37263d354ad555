package tree

import (
	"fmt"

	"fairlens/domain/core"
)

// Agg selects how a candidate split folds its children's association scores
// into the single scalar the search ranks by.
type Agg string

const (
	// AggAvg takes the unweighted mean of child scores.
	AggAvg Agg = "AVG"
	// AggWeightedAvg weights each child score by its subset size.
	AggWeightedAvg Agg = "WEIGHTED_AVG"
	// AggMax takes the best child score, favoring splits that isolate one
	// strongly associated subgroup even when it is small.
	AggMax Agg = "MAX"
)

func (a Agg) IsValid() bool {
	switch a {
	case AggAvg, AggWeightedAvg, AggMax:
		return true
	}
	return false
}

// Params bound the guided tree search. The zero value is invalid; start from
// DefaultParams.
type Params struct {
	MaxDepth      int
	MinLeafSize   int
	Agg           Agg
	MaxBins       int
	SubsampleFrac float64
	Seed          int64
}

// DefaultParams mirrors the engine's standard audit settings.
func DefaultParams() Params {
	return Params{
		MaxDepth:      5,
		MinLeafSize:   100,
		Agg:           AggWeightedAvg,
		MaxBins:       10,
		SubsampleFrac: 1.0,
	}
}

func (p Params) validate() error {
	if p.MaxDepth < 0 {
		return core.NewConfigError("max depth", "cannot be negative")
	}
	if p.MinLeafSize <= 0 {
		return core.NewConfigError("min leaf size", "must be positive")
	}
	if p.MaxBins <= 0 {
		return core.NewConfigError("max bins", "must be positive")
	}
	if !p.Agg.IsValid() {
		return core.NewPhaseError(core.ErrUnknownPolicy, fmt.Sprintf("score aggregation %q", p.Agg))
	}
	if p.SubsampleFrac <= 0 || p.SubsampleFrac > 1 {
		return core.NewConfigError("subsample fraction", "must lie in (0, 1]")
	}
	return nil
}

func (p Params) aggregate(sizes []int, scores []float64) float64 {
	switch p.Agg {
	case AggMax:
		best := scores[0]
		for _, s := range scores[1:] {
			if s > best {
				best = s
			}
		}
		return best
	case AggWeightedAvg:
		var sum, total float64
		for i, s := range scores {
			sum += float64(sizes[i]) * s
			total += float64(sizes[i])
		}
		if total == 0 {
			return 0
		}
		return sum / total
	default: // AggAvg
		var sum float64
		for _, s := range scores {
			sum += s
		}
		return sum / float64(len(scores))
	}
}
