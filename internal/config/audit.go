package config

import (
	"bytes"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"fairlens/internal/errors"
	"fairlens/internal/investigation"
	"fairlens/internal/multitest"
	"fairlens/internal/report"
	"fairlens/internal/tree"
)

// Dataset file formats.
const (
	FormatAuto = "auto"
	FormatCSV  = "csv"
	FormatXLSX = "xlsx"
)

// AuditSpec describes one complete audit: the dataset, the feature roles,
// and the parameters of every pipeline stage. Loaded from a YAML file.
type AuditSpec struct {
	// Dataset names the audit; it becomes the data source name.
	Dataset string `yaml:"dataset"`
	// Data is the path of the dataset file.
	Data string `yaml:"data"`
	// Format is auto, csv or xlsx. Auto decides by file extension.
	Format string `yaml:"format,omitempty"`
	// Sheet selects the worksheet for xlsx files. Empty means the first.
	Sheet string `yaml:"sheet,omitempty"`

	Roles RolesSpec `yaml:"roles"`
	// Metrics overrides the association metric per protected feature.
	Metrics map[string]string `yaml:"metrics,omitempty"`

	Split    SplitSpec    `yaml:"split,omitempty"`
	Train    TrainSpec    `yaml:"train,omitempty"`
	Validate ValidateSpec `yaml:"validate,omitempty"`
	Report   ReportSpec   `yaml:"report,omitempty"`

	// Prune drops contexts whose training-time effect interval covers the
	// null. Default true.
	Prune *bool `yaml:"prune,omitempty"`
}

// RolesSpec assigns dataset columns to audit roles.
type RolesSpec struct {
	Context     []string `yaml:"context"`
	Protected   []string `yaml:"protected"`
	Explanatory string   `yaml:"explanatory,omitempty"`
	Target      []string `yaml:"target"`
}

// SplitSpec drives the train/holdout split.
type SplitSpec struct {
	TrainFrac float64 `yaml:"train_frac,omitempty"`
	Seed      int64   `yaml:"seed,omitempty"`
	Conf      float64 `yaml:"conf,omitempty"`
	Budget    int     `yaml:"budget,omitempty"`
}

// TrainSpec bounds the guided tree search.
type TrainSpec struct {
	// MaxDepth zero grows a root-only tree; absent means 5.
	MaxDepth    *int    `yaml:"max_depth,omitempty"`
	MinLeafSize int     `yaml:"min_leaf_size,omitempty"`
	Agg         string  `yaml:"agg,omitempty"`
	MaxBins     int     `yaml:"max_bins,omitempty"`
	Subsample   float64 `yaml:"subsample,omitempty"`
	Seed        int64   `yaml:"seed,omitempty"`
}

// ValidateSpec drives statistical validation of the extracted contexts.
type ValidateSpec struct {
	Exact bool `yaml:"exact,omitempty"`
	// FamilyConf zero inherits the split confidence.
	FamilyConf float64 `yaml:"family_conf,omitempty"`
	// Correct applies multiple-testing correction. Default true.
	Correct          *bool `yaml:"correct,omitempty"`
	Workers          int   `yaml:"workers,omitempty"`
	BootstrapIters   int   `yaml:"bootstrap_iters,omitempty"`
	PermutationIters int   `yaml:"permutation_iters,omitempty"`
	Seed             int64 `yaml:"seed,omitempty"`
}

// ReportSpec shapes the rendered report.
type ReportSpec struct {
	Filter string `yaml:"filter,omitempty"`
	// FilterConf zero keeps every context. Absent means 0.95.
	FilterConf *float64 `yaml:"filter_conf,omitempty"`
	Format     string   `yaml:"format,omitempty"`
	// Output is the report file path. Empty writes to stdout.
	Output string `yaml:"output,omitempty"`
}

// LoadAuditSpec reads and validates a YAML audit spec. Unknown keys are
// rejected so typos fail here rather than silently auditing with defaults.
func LoadAuditSpec(path string) (*AuditSpec, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read audit spec %s", path)
	}
	return ParseAuditSpec(raw)
}

// ParseAuditSpec parses a YAML audit spec from memory.
func ParseAuditSpec(raw []byte) (*AuditSpec, error) {
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)

	spec := &AuditSpec{}
	if err := dec.Decode(spec); err != nil {
		return nil, errors.Wrap(err, "failed to parse audit spec")
	}
	spec.applyDefaults()
	if err := spec.validate(); err != nil {
		return nil, err
	}
	return spec, nil
}

func (s *AuditSpec) applyDefaults() {
	if s.Format == "" {
		s.Format = FormatAuto
	}
	if s.Split.TrainFrac == 0 {
		s.Split.TrainFrac = 0.5
	}
	if s.Split.Conf == 0 {
		s.Split.Conf = 0.95
	}
	if s.Split.Budget == 0 {
		s.Split.Budget = 1
	}

	def := tree.DefaultParams()
	if s.Train.MaxDepth == nil {
		s.Train.MaxDepth = &def.MaxDepth
	}
	if s.Train.MinLeafSize == 0 {
		s.Train.MinLeafSize = def.MinLeafSize
	}
	if s.Train.Agg == "" {
		s.Train.Agg = string(def.Agg)
	}
	if s.Train.MaxBins == 0 {
		s.Train.MaxBins = def.MaxBins
	}
	if s.Train.Subsample == 0 {
		s.Train.Subsample = def.SubsampleFrac
	}

	if s.Validate.Correct == nil {
		correct := true
		s.Validate.Correct = &correct
	}

	if s.Report.Filter == "" {
		s.Report.Filter = string(report.FilterBetterThanAncestors)
	}
	if s.Report.FilterConf == nil {
		conf := 0.95
		s.Report.FilterConf = &conf
	}
	if s.Report.Format == "" {
		s.Report.Format = string(report.FormatText)
	}

	if s.Prune == nil {
		prune := true
		s.Prune = &prune
	}
}

func (s *AuditSpec) validate() error {
	if s.Dataset == "" {
		return errors.ConfigInvalid("audit spec needs a dataset name")
	}
	if s.Data == "" {
		return errors.ConfigInvalid("audit spec needs a data file path")
	}
	switch s.Format {
	case FormatAuto, FormatCSV, FormatXLSX:
	default:
		return errors.ConfigInvalid(fmt.Sprintf("unknown data format %q", s.Format))
	}
	if len(s.Roles.Protected) == 0 {
		return errors.ConfigInvalid("audit spec needs at least one protected feature")
	}
	if len(s.Roles.Target) == 0 {
		return errors.ConfigInvalid("audit spec needs a target")
	}
	for name := range s.Metrics {
		if !contains(s.Roles.Protected, name) {
			return errors.ConfigInvalid(fmt.Sprintf("metric override for %q, which is not a protected feature", name))
		}
	}
	if s.Split.TrainFrac <= 0 || s.Split.TrainFrac >= 1 {
		return errors.ConfigInvalid("split train_frac must lie strictly between 0 and 1")
	}
	if s.Split.Conf <= 0 || s.Split.Conf >= 1 {
		return errors.ConfigInvalid("split conf must lie strictly between 0 and 1")
	}
	if s.Split.Budget < 1 {
		return errors.ConfigInvalid("split budget must be at least 1")
	}
	if !tree.Agg(strings.ToUpper(s.Train.Agg)).IsValid() {
		return errors.ConfigInvalid(fmt.Sprintf("unknown train agg %q", s.Train.Agg))
	}
	if !report.Filter(s.Report.Filter).IsValid() {
		return errors.ConfigInvalid(fmt.Sprintf("unknown report filter %q", s.Report.Filter))
	}
	if *s.Report.FilterConf < 0 || *s.Report.FilterConf >= 1 {
		return errors.ConfigInvalid("report filter_conf must lie in [0, 1)")
	}
	if !report.Format(s.Report.Format).IsValid() {
		return errors.ConfigInvalid(fmt.Sprintf("unknown report format %q", s.Report.Format))
	}
	return nil
}

// TrainParams maps the train section onto tree search parameters.
func (s *AuditSpec) TrainParams() tree.Params {
	return tree.Params{
		MaxDepth:      *s.Train.MaxDepth,
		MinLeafSize:   s.Train.MinLeafSize,
		Agg:           tree.Agg(strings.ToUpper(s.Train.Agg)),
		MaxBins:       s.Train.MaxBins,
		SubsampleFrac: s.Train.Subsample,
		Seed:          s.Train.Seed,
	}
}

// InvestigationConfig maps the spec onto an investigation configuration.
func (s *AuditSpec) InvestigationConfig() investigation.Config {
	return investigation.Config{
		Metrics:     s.Metrics,
		Explanatory: s.Roles.Explanatory,
		Params:      s.TrainParams(),
	}
}

// ValidatorOptions maps the validate section onto validator options. An
// unset family confidence inherits the split confidence so one conf value
// drives the whole audit.
func (s *AuditSpec) ValidatorOptions() multitest.Options {
	familyConf := s.Validate.FamilyConf
	if familyConf == 0 {
		familyConf = s.Split.Conf
	}
	return multitest.Options{
		Exact:          s.Validate.Exact,
		FamilyConf:     familyConf,
		Correct:        *s.Validate.Correct,
		Seed:           s.Validate.Seed,
		Workers:        s.Validate.Workers,
		BootstrapIters: s.Validate.BootstrapIters,
		PermIters:      s.Validate.PermutationIters,
	}
}

// ReportParams maps the report section onto report parameters.
func (s *AuditSpec) ReportParams() report.Params {
	return report.Params{
		Filter:     report.Filter(s.Report.Filter),
		FilterConf: *s.Report.FilterConf,
		Format:     report.Format(s.Report.Format),
	}
}

// ShouldPrune reports whether training-time pruning is enabled.
func (s *AuditSpec) ShouldPrune() bool {
	return *s.Prune
}

func contains(names []string, name string) bool {
	for _, n := range names {
		if n == name {
			return true
		}
	}
	return false
}
