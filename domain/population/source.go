package population

import (
	"fmt"
	"sync"

	"fairlens/domain/core"
)

// DataSource owns the train/test partition of one dataset. All investigations
// over the same data share one DataSource so their test phases draw from the
// same holdout budget and family confidence.
type DataSource struct {
	name    string
	train   *Population
	holdout *Holdout
}

// NewDataSource splits the full population into a training part and a
// budgeted holdout. trainFrac is the training share, conf the family-wide
// confidence for every statistical test run against the holdout, and budget
// the number of disjoint test sets the holdout is divided into.
func NewDataSource(name string, full *Population, trainFrac float64, seed int64, conf float64, budget int) (*DataSource, error) {
	if name == "" {
		return nil, core.NewConfigError("data source", "name cannot be empty")
	}
	train, test, err := full.Split(trainFrac, seed)
	if err != nil {
		return nil, err
	}
	holdout, err := newHoldout(test, conf, budget)
	if err != nil {
		return nil, err
	}
	return &DataSource{name: name, train: train, holdout: holdout}, nil
}

// Name returns the dataset name.
func (ds *DataSource) Name() string {
	return ds.name
}

// Train returns the training population.
func (ds *DataSource) Train() *Population {
	return ds.train
}

// Holdout returns the shared holdout.
func (ds *DataSource) Holdout() *Holdout {
	return ds.holdout
}

// Holdout guards the test data. The data is divided into budget disjoint
// slices; each test phase checks out exactly one slice, and either commits it
// (consumed) or returns it (aborted phase, slice reusable). A second checkout
// while one is outstanding is an error, which serializes test phases.
type Holdout struct {
	mu      sync.Mutex
	conf    float64
	slices  []*Population
	next    int
	checked *Population
}

func newHoldout(test *Population, conf float64, budget int) (*Holdout, error) {
	if conf <= 0 || conf >= 1 {
		return nil, core.NewConfigError("holdout confidence", "must lie strictly between 0 and 1")
	}
	if budget < 1 {
		return nil, core.NewConfigError("holdout budget", "must be at least 1")
	}
	if test.Rows() < budget {
		return nil, fmt.Errorf("%w: %d holdout rows cannot fill %d test sets",
			core.ErrInsufficientData, test.Rows(), budget)
	}

	slices := make([]*Population, budget)
	rows, base, extra := test.Rows(), test.Rows()/budget, test.Rows()%budget
	start := 0
	for i := 0; i < budget; i++ {
		size := base
		if i < extra {
			size++
		}
		idx := make([]int, size)
		for j := range idx {
			idx[j] = start + j
		}
		slices[i] = test.Select(idx)
		start += size
	}
	if start != rows {
		return nil, fmt.Errorf("%w: holdout slicing dropped rows", core.ErrInsufficientData)
	}

	return &Holdout{conf: conf, slices: slices}, nil
}

// Conf returns the family-wide confidence level shared by every test phase
// against this holdout.
func (h *Holdout) Conf() float64 {
	return h.conf
}

// Budget returns the total number of test sets.
func (h *Holdout) Budget() int {
	return len(h.slices)
}

// Remaining returns the number of unused test sets.
func (h *Holdout) Remaining() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.slices) - h.next
}

// TestSet checks out the next unused test set. Each set is handed out exactly
// once; a set already checked out must be committed or returned first.
func (h *Holdout) TestSet() (*Population, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.checked != nil {
		return nil, core.ErrHoldoutBusy
	}
	if h.next >= len(h.slices) {
		return nil, core.ErrHoldoutExhausted
	}
	h.checked = h.slices[h.next]
	h.next++
	return h.checked, nil
}

// ReturnUnused restores a checked-out test set after an aborted test phase,
// making it available again.
func (h *Holdout) ReturnUnused(p *Population) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.checked == nil || h.checked != p {
		return fmt.Errorf("%w: returned data was not the checked-out test set", core.ErrInvalidConfig)
	}
	h.next--
	h.checked = nil
	return nil
}

// Commit marks a checked-out test set as consumed.
func (h *Holdout) Commit(p *Population) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.checked == nil || h.checked != p {
		return fmt.Errorf("%w: committed data was not the checked-out test set", core.ErrInvalidConfig)
	}
	h.checked = nil
	return nil
}
