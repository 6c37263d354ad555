package investigation

import (
	"context"
	"fmt"

	"fairlens/adapters/metrics"
	"fairlens/domain/core"
	"fairlens/domain/feature"
	"fairlens/domain/population"
	"fairlens/domain/stats"
	"fairlens/internal/extract"
	"fairlens/internal/tree"
)

// Phase tracks an investigation through its pipeline. Later phases require
// earlier ones; calling out of order is a configuration error, not a
// recoverable condition.
type Phase string

const (
	PhaseCreated  Phase = "created"
	PhaseTrained  Phase = "trained"
	PhaseTested   Phase = "tested"
	PhaseReported Phase = "reported"
)

// Study is one protected feature's analysis thread inside an investigation:
// its metric, the tree grown on training data, the contexts re-evaluated on
// held-out data, and the validated statistics.
type Study struct {
	Protected feature.Feature
	Metric    metrics.Metric
	Tree      *tree.Tree
	Contexts  []extract.Context
	Records   []stats.Record

	tested    bool
	validated bool
}

// Trained reports whether the study's tree has been grown.
func (s *Study) Trained() bool {
	return s.Tree != nil
}

// Tested reports whether contexts were extracted against held-out data. A
// study with zero surviving contexts still counts as tested.
func (s *Study) Tested() bool {
	return s.tested
}

// Validated reports whether the statistical validator has written records.
func (s *Study) Validated() bool {
	return s.validated
}

// SetRecords stores the validator's output. Records must line up one-to-one
// with the study's contexts.
func (s *Study) SetRecords(records []stats.Record) error {
	if !s.tested {
		return core.NewPhaseError(core.ErrNotTested, "cannot attach records before testing")
	}
	if len(records) != len(s.Contexts) {
		return core.NewConfigError("records",
			fmt.Sprintf("got %d for %d contexts", len(records), len(s.Contexts)))
	}
	s.Records = records
	s.validated = true
	return nil
}

// Config shapes a new investigation. Metrics maps a protected feature name to
// a metric name, overriding the type-driven default. Explanatory names a
// registry feature to condition every metric on.
type Config struct {
	Metrics     map[string]string
	Explanatory string
	Params      tree.Params
}

// Investigation audits one data source: one study per protected feature of
// the registry, all sharing the source's train/holdout split.
type Investigation struct {
	id       core.InvestigationID
	source   *population.DataSource
	registry *feature.Registry
	expl     *feature.Feature
	params   tree.Params

	phase     Phase
	studies   map[string]*Study
	order     []string
	createdAt core.Timestamp
	trainedAt core.Timestamp
	testedAt  core.Timestamp
}

// New builds an investigation and resolves every study's metric up front, so
// an unknown metric name or an inapplicable override fails here rather than
// mid-pipeline.
func New(source *population.DataSource, registry *feature.Registry, cfg Config) (*Investigation, error) {
	if source == nil {
		return nil, core.NewConfigError("data source", "cannot be nil")
	}
	if registry == nil {
		return nil, core.NewConfigError("feature registry", "cannot be nil")
	}

	params := cfg.Params
	if params == (tree.Params{}) {
		params = tree.DefaultParams()
	}

	var expl *feature.Feature
	if cfg.Explanatory != "" {
		f, err := registry.Lookup(cfg.Explanatory)
		if err != nil {
			return nil, err
		}
		if f.Role != feature.RoleExplanatory {
			return nil, core.NewConfigError("explanatory feature", "must carry the explanatory role")
		}
		expl = &f
	}

	protected := registry.ProtectedFeatures()
	byName := make(map[string]bool, len(protected))
	for _, pf := range protected {
		byName[pf.Name] = true
	}
	for name := range cfg.Metrics {
		if !byName[name] {
			return nil, core.NewConfigError("metric override", "names unknown protected feature "+name)
		}
	}

	inv := &Investigation{
		id:        core.InvestigationID(core.NewID()),
		source:    source,
		registry:  registry,
		expl:      expl,
		params:    params,
		phase:     PhaseCreated,
		studies:   make(map[string]*Study, len(protected)),
		createdAt: core.Now(),
	}
	for _, pf := range protected {
		var m metrics.Metric
		var err error
		if name, ok := cfg.Metrics[pf.Name]; ok {
			m, err = metrics.FromName(name, pf, registry.Target(), expl)
		} else {
			m, err = metrics.Default(pf, registry.Target(), expl)
		}
		if err != nil {
			return nil, err
		}
		if expl != nil && !m.Conditional() {
			return nil, core.NewConfigError("metric override",
				"an explanatory attribute requires a conditional metric for "+pf.Name)
		}
		inv.studies[pf.Name] = &Study{Protected: pf, Metric: m}
		inv.order = append(inv.order, pf.Name)
	}
	return inv, nil
}

func (inv *Investigation) ID() core.InvestigationID { return inv.id }

func (inv *Investigation) Name() string { return inv.source.Name() }

func (inv *Investigation) Phase() Phase { return inv.phase }

func (inv *Investigation) Registry() *feature.Registry { return inv.registry }

func (inv *Investigation) Source() *population.DataSource { return inv.source }

func (inv *Investigation) Holdout() *population.Holdout { return inv.source.Holdout() }

func (inv *Investigation) Explanatory() *feature.Feature { return inv.expl }

func (inv *Investigation) Params() tree.Params { return inv.params }

func (inv *Investigation) CreatedAt() core.Timestamp { return inv.createdAt }

func (inv *Investigation) TrainedAt() core.Timestamp { return inv.trainedAt }

func (inv *Investigation) TestedAt() core.Timestamp { return inv.testedAt }

// Studies returns the analysis threads in registry declaration order.
func (inv *Investigation) Studies() []*Study {
	out := make([]*Study, 0, len(inv.order))
	for _, name := range inv.order {
		out = append(out, inv.studies[name])
	}
	return out
}

// Study returns the analysis thread for one protected feature.
func (inv *Investigation) Study(name string) (*Study, error) {
	s, ok := inv.studies[name]
	if !ok {
		return nil, core.NewFeatureError(name)
	}
	return s, nil
}

// Validated reports whether every study carries validator records.
func (inv *Investigation) Validated() bool {
	for _, s := range inv.studies {
		if !s.validated {
			return false
		}
	}
	return true
}

// MarkReported transitions a validated investigation into its final phase.
// Called by the report renderer once output has been produced.
func (inv *Investigation) MarkReported() error {
	if inv.phase != PhaseTested && inv.phase != PhaseReported {
		return core.NewPhaseError(core.ErrNotTested, "reporting requires a tested investigation")
	}
	if !inv.Validated() {
		return core.NewPhaseError(core.ErrNotTested, "reporting requires validated statistics")
	}
	inv.phase = PhaseReported
	return nil
}

// Train grows every study's tree for every investigation, concurrently
// across protected features. Results are staged and only assigned once all
// builds succeed; re-training silently overwrites previous trees and clears
// any contexts and records derived from them.
func Train(ctx context.Context, invs []*Investigation) error {
	if len(invs) == 0 {
		return core.NewConfigError("investigations", "nothing to train")
	}
	for _, inv := range invs {
		if inv == nil {
			return core.NewConfigError("investigations", "contains a nil entry")
		}
	}

	staged := make([]map[string]*tree.Tree, len(invs))
	for i, inv := range invs {
		metricFor := func(pf feature.Feature) (metrics.Metric, error) {
			s, ok := inv.studies[pf.Name]
			if !ok {
				return nil, core.NewFeatureError(pf.Name)
			}
			return s.Metric, nil
		}
		trees, err := tree.BuildAll(ctx, inv.source.Train(), inv.registry, inv.expl,
			inv.registry.Target(), metricFor, inv.Holdout().Conf(), inv.params)
		if err != nil {
			return err
		}
		staged[i] = trees
	}

	now := core.Now()
	for i, inv := range invs {
		for name, s := range inv.studies {
			s.Tree = staged[i][name]
			s.Contexts = nil
			s.Records = nil
			s.tested = false
			s.validated = false
		}
		inv.phase = PhaseTrained
		inv.trainedAt = now
	}
	return nil
}

// Test checks one test slice out of the shared holdout, extracts every
// study's contexts against it, and commits the slice. All investigations
// tested together must reference the same holdout, and every study must be
// trained. On any failure the slice is returned unused and no investigation
// is modified.
func Test(ctx context.Context, invs []*Investigation, prune bool) error {
	if len(invs) == 0 {
		return core.NewConfigError("investigations", "nothing to test")
	}
	for _, inv := range invs {
		if inv == nil {
			return core.NewConfigError("investigations", "contains a nil entry")
		}
		for _, name := range inv.order {
			if !inv.studies[name].Trained() {
				return core.NewPhaseError(core.ErrNotTrained, inv.source.Name()+"/"+name)
			}
		}
		if inv.Holdout() != invs[0].Holdout() {
			return core.NewPhaseError(core.ErrHoldoutMismatch,
				"cannot test "+inv.source.Name()+" together with "+invs[0].source.Name())
		}
	}

	holdout := invs[0].Holdout()
	heldOut, err := holdout.TestSet()
	if err != nil {
		return err
	}

	staged := make([]map[string][]extract.Context, len(invs))
	for i, inv := range invs {
		staged[i] = make(map[string][]extract.Context, len(inv.order))
		for _, name := range inv.order {
			if err := ctx.Err(); err != nil {
				if ret := holdout.ReturnUnused(heldOut); ret != nil {
					return ret
				}
				return err
			}
			s := inv.studies[name]
			ctxs, err := extract.FindContexts(s.Tree, heldOut, inv.registry, inv.expl, prune, nil)
			if err != nil {
				if ret := holdout.ReturnUnused(heldOut); ret != nil {
					return ret
				}
				return err
			}
			staged[i][name] = ctxs
		}
	}

	if err := holdout.Commit(heldOut); err != nil {
		return err
	}

	now := core.Now()
	for i, inv := range invs {
		for name, s := range inv.studies {
			s.Contexts = staged[i][name]
			s.Records = nil
			s.tested = true
			s.validated = false
		}
		inv.phase = PhaseTested
		inv.testedAt = now
	}
	return nil
}
