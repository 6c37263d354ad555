package ports

import (
	"context"
	"math/rand"
)

// RNGPort provides seeded random number generation for deterministic operations
type RNGPort interface {
	// SeededStream creates a deterministic random number generator for a named operation
	SeededStream(ctx context.Context, name string, seed int64) (*rand.Rand, error)

	// Stream creates a deterministic RNG stream for one hypothesis inside one run.
	// Resampling over the same run/phase/context combination must reproduce the
	// identical draw sequence regardless of worker scheduling.
	Stream(ctx context.Context, runID, phase, contextKey string, baseSeed int64) (*rand.Rand, error)
}
