package population

import (
	"fmt"
	"math"
	"math/rand"

	"fairlens/domain/core"
)

// Split partitions the population into two disjoint parts with a deterministic
// seeded shuffle. frac is the share of rows in the first part. The same
// population, frac, and seed always produce the same partition.
func (p *Population) Split(frac float64, seed int64) (*Population, *Population, error) {
	if frac <= 0 || frac >= 1 {
		return nil, nil, core.NewConfigError("split fraction", "must lie strictly between 0 and 1")
	}
	if p.rows == 0 {
		return nil, nil, core.ErrEmptyPopulation
	}

	first := int(math.Round(float64(p.rows) * frac))
	if first < 1 || first >= p.rows {
		return nil, nil, fmt.Errorf("%w: split %g of %d rows leaves an empty part",
			core.ErrInsufficientData, frac, p.rows)
	}

	rows := shuffledRows(p.rows, seed)
	return p.Select(rows[:first]), p.Select(rows[first:]), nil
}

// Sample returns a deterministic random subset of n rows. n >= Rows() returns
// the population itself.
func (p *Population) Sample(n int, seed int64) *Population {
	if n >= p.rows {
		return p
	}
	if n <= 0 {
		return p.Select(nil)
	}
	rows := shuffledRows(p.rows, seed)
	return p.Select(rows[:n])
}

// shuffledRows returns the row indices [0, n) in seeded shuffle order.
func shuffledRows(n int, seed int64) []int {
	rows := make([]int, n)
	for i := range rows {
		rows[i] = i
	}
	rng := rand.New(rand.NewSource(seed))
	rng.Shuffle(n, func(i, j int) {
		rows[i], rows[j] = rows[j], rows[i]
	})
	return rows
}
