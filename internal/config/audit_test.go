package config

import (
	"os"
	"path/filepath"
	"testing"

	"fairlens/internal/errors"
	"fairlens/internal/report"
	"fairlens/internal/tree"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const fullSpec = `
dataset: adult
data: testdata/adult.csv
format: csv
roles:
  context: [age, education, hours]
  protected: [sex, race]
  explanatory: occupation
  target: [income]
metrics:
  sex: DIFF
split:
  train_frac: 0.25
  seed: 21
  conf: 0.99
  budget: 3
train:
  max_depth: 4
  min_leaf_size: 50
  agg: max
  max_bins: 8
  subsample: 0.9
  seed: 7
validate:
  exact: true
  family_conf: 0.9
  correct: false
  workers: 2
  bootstrap_iters: 500
  permutation_iters: 800
  seed: 11
report:
  filter: leaves
  filter_conf: 0.8
  format: markdown
  output: out/report.md
prune: false
`

func TestParseAuditSpecMapsEverySection(t *testing.T) {
	spec, err := ParseAuditSpec([]byte(fullSpec))
	require.NoError(t, err)

	assert.Equal(t, "adult", spec.Dataset)
	assert.Equal(t, "testdata/adult.csv", spec.Data)
	assert.Equal(t, FormatCSV, spec.Format)
	assert.Equal(t, []string{"age", "education", "hours"}, spec.Roles.Context)
	assert.Equal(t, []string{"sex", "race"}, spec.Roles.Protected)
	assert.Equal(t, []string{"income"}, spec.Roles.Target)
	assert.False(t, spec.ShouldPrune())

	tp := spec.TrainParams()
	assert.Equal(t, tree.Params{
		MaxDepth:      4,
		MinLeafSize:   50,
		Agg:           tree.AggMax,
		MaxBins:       8,
		SubsampleFrac: 0.9,
		Seed:          7,
	}, tp)

	ic := spec.InvestigationConfig()
	assert.Equal(t, map[string]string{"sex": "DIFF"}, ic.Metrics)
	assert.Equal(t, "occupation", ic.Explanatory)
	assert.Equal(t, tp, ic.Params)

	vo := spec.ValidatorOptions()
	assert.True(t, vo.Exact)
	assert.Equal(t, 0.9, vo.FamilyConf)
	assert.False(t, vo.Correct)
	assert.Equal(t, int64(11), vo.Seed)
	assert.Equal(t, 2, vo.Workers)
	assert.Equal(t, 500, vo.BootstrapIters)
	assert.Equal(t, 800, vo.PermIters)

	rp := spec.ReportParams()
	assert.Equal(t, report.FilterLeaves, rp.Filter)
	assert.Equal(t, 0.8, rp.FilterConf)
	assert.Equal(t, report.FormatMarkdown, rp.Format)
	assert.Equal(t, "out/report.md", spec.Report.Output)
}

func TestParseAuditSpecAppliesDefaults(t *testing.T) {
	spec, err := ParseAuditSpec([]byte(`
dataset: loans
data: loans.xlsx
roles:
  context: [city]
  protected: [gender]
  target: [approved]
`))
	require.NoError(t, err)

	assert.Equal(t, FormatAuto, spec.Format)
	assert.Equal(t, 0.5, spec.Split.TrainFrac)
	assert.Equal(t, 0.95, spec.Split.Conf)
	assert.Equal(t, 1, spec.Split.Budget)
	assert.Equal(t, tree.DefaultParams(), spec.TrainParams())
	assert.True(t, spec.ShouldPrune())

	vo := spec.ValidatorOptions()
	assert.False(t, vo.Exact)
	assert.True(t, vo.Correct, "correction defaults on")
	assert.Equal(t, 0.95, vo.FamilyConf, "unset family confidence inherits the split confidence")

	rp := spec.ReportParams()
	assert.Equal(t, report.FilterBetterThanAncestors, rp.Filter)
	assert.Equal(t, 0.95, rp.FilterConf)
	assert.Equal(t, report.FormatText, rp.Format)
}

func TestParseAuditSpecKeepsExplicitZeros(t *testing.T) {
	spec, err := ParseAuditSpec([]byte(`
dataset: loans
data: loans.csv
roles:
  context: [city]
  protected: [gender]
  target: [approved]
train:
  max_depth: 0
report:
  filter: all
  filter_conf: 0
`))
	require.NoError(t, err)

	assert.Zero(t, spec.TrainParams().MaxDepth, "explicit zero means a root-only tree")
	assert.Zero(t, spec.ReportParams().FilterConf, "explicit zero keeps every context")
}

func TestParseAuditSpecRejectsInvalidSpecs(t *testing.T) {
	base := `
dataset: loans
data: loans.csv
roles:
  context: [city]
  protected: [gender]
  target: [approved]
`
	cases := []struct {
		name string
		yaml string
	}{
		{"missing dataset", `
data: loans.csv
roles:
  protected: [gender]
  target: [approved]
`},
		{"missing data path", `
dataset: loans
roles:
  protected: [gender]
  target: [approved]
`},
		{"no protected features", `
dataset: loans
data: loans.csv
roles:
  context: [city]
  target: [approved]
`},
		{"no target", `
dataset: loans
data: loans.csv
roles:
  context: [city]
  protected: [gender]
`},
		{"unknown data format", base + "format: parquet\n"},
		{"metric override for a non-protected feature", base + "metrics:\n  city: NMI\n"},
		{"train_frac out of range", base + "split:\n  train_frac: 1.5\n"},
		{"conf out of range", base + "split:\n  conf: 1\n"},
		{"unknown agg", base + "train:\n  agg: median\n"},
		{"unknown report filter", base + "report:\n  filter: widest\n"},
		{"filter_conf out of range", base + "report:\n  filter_conf: 1\n"},
		{"unknown report format", base + "report:\n  format: pdf\n"},
		{"unknown top-level key", base + "treshold: 3\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseAuditSpec([]byte(tc.yaml))
			require.Error(t, err)
		})
	}
}

func TestLoadAuditSpecReadsTheFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.yaml")
	require.NoError(t, os.WriteFile(path, []byte(fullSpec), 0o644))

	spec, err := LoadAuditSpec(path)
	require.NoError(t, err)
	assert.Equal(t, "adult", spec.Dataset)

	_, err = LoadAuditSpec(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.True(t, errors.IsAppError(err))
}

func TestLoadSelectsArchiveBackend(t *testing.T) {
	t.Setenv("ARCHIVE_BACKEND", "")
	t.Setenv("BOLT_PATH", "")
	t.Setenv("DATABASE_URL", "")
	t.Setenv("PORT", "")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ArchiveBolt, cfg.Archive.Backend)
	assert.Equal(t, "fairlens.db", cfg.Archive.BoltPath)
	assert.Equal(t, "8080", cfg.Server.Port)

	t.Setenv("ARCHIVE_BACKEND", "postgres")
	_, err = Load()
	require.Error(t, err, "postgres archive needs DATABASE_URL")
	assert.Equal(t, errors.CodeConfigInvalid, errors.GetCode(err))

	t.Setenv("DATABASE_URL", "postgres://localhost/fairlens?sslmode=disable")
	cfg, err = Load()
	require.NoError(t, err)
	assert.Equal(t, ArchivePostgres, cfg.Archive.Backend)

	t.Setenv("ARCHIVE_BACKEND", "redis")
	_, err = Load()
	require.Error(t, err)
}