package app

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fairlens/domain/audit"
	"fairlens/internal/config"
	"fairlens/internal/errors"
	"fairlens/internal/testkit"
	"fairlens/ports"
)

type memArchive struct {
	saved []*audit.Run
	err   error
}

var _ ports.ArchiveWriterPort = (*memArchive)(nil)

func (m *memArchive) SaveRun(ctx context.Context, run *audit.Run) error {
	if m.err != nil {
		return m.err
	}
	m.saved = append(m.saved, run)
	return nil
}

// writeSyntheticCSV drops the generated biased dataset into a temp file.
func writeSyntheticCSV(t *testing.T) string {
	t.Helper()

	ds, err := testkit.Generate(testkit.DefaultConfig())
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "synthetic.csv")
	require.NoError(t, testkit.WriteCSV(path, ds))
	return path
}

func parseSpec(t *testing.T, yaml string) *config.AuditSpec {
	t.Helper()

	spec, err := config.ParseAuditSpec([]byte(yaml))
	require.NoError(t, err)
	return spec
}

func pipelineSpec(t *testing.T, dataPath string) *config.AuditSpec {
	t.Helper()

	return parseSpec(t, fmt.Sprintf(`
dataset: synthetic
data: %s
roles:
  protected: [gender]
  target: [approved]
split:
  train_frac: 0.5
  seed: 17
  budget: 2
report:
  filter: all
`, dataPath))
}

func TestRunAuditEndToEnd(t *testing.T) {
	dataPath := writeSyntheticCSV(t)
	archive := &memArchive{}
	service := NewAuditService(archive)

	var out bytes.Buffer
	result, err := service.RunAudit(context.Background(), AuditRequest{
		Spec:   pipelineSpec(t, dataPath),
		Output: &out,
	})
	require.NoError(t, err)

	assert.Contains(t, result.Report, "fairlens audit report")
	assert.Contains(t, result.Report, "dataset: synthetic")
	assert.Contains(t, result.Report, "== gender — metric NMI ==")
	assert.Equal(t, result.Report, out.String(), "fallback writer receives the report")

	require.Len(t, archive.saved, 1)
	run := archive.saved[0]
	assert.Same(t, result.Run, run)

	assert.Equal(t, "synthetic", run.Dataset)
	assert.Equal(t, int64(17), run.Seed)
	assert.Equal(t, 600, run.TrainRows)
	assert.Equal(t, 300, run.TestRows)
	assert.Equal(t, "text", run.Params[audit.ParamReportFormat])
	assert.Equal(t, "all", run.Params["filter"])
	assert.Equal(t, "0.5", run.Params["train_frac"])

	require.NotEmpty(t, run.Contexts, "the planted bias should surface")
	for _, found := range run.Contexts {
		assert.Equal(t, "gender", found.Protected)
		assert.False(t, found.Record.IsDegenerate(), "degenerate contexts are not archived")
		assert.True(t, found.Record.Significant(0.95), "only filter survivors are archived")
	}
}

func TestRunAuditWritesReportFile(t *testing.T) {
	dataPath := writeSyntheticCSV(t)
	reportPath := filepath.Join(t.TempDir(), "report.md")

	spec := parseSpec(t, fmt.Sprintf(`
dataset: synthetic
data: %s
roles:
  protected: [gender]
  target: [approved]
split:
  train_frac: 0.5
  seed: 17
  budget: 2
report:
  filter: all
  format: markdown
  output: %s
`, dataPath, reportPath))

	service := NewAuditService(nil)
	result, err := service.RunAudit(context.Background(), AuditRequest{Spec: spec})
	require.NoError(t, err)

	written, err := os.ReadFile(reportPath)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(written), "# Audit report — synthetic"))
	assert.Equal(t, result.Report, string(written))
	assert.Equal(t, "markdown", result.Run.Params[audit.ParamReportFormat])
}

func TestRunAuditWithoutArchive(t *testing.T) {
	dataPath := writeSyntheticCSV(t)
	service := NewAuditService(nil)

	var out bytes.Buffer
	result, err := service.RunAudit(context.Background(), AuditRequest{
		Spec:   pipelineSpec(t, dataPath),
		Output: &out,
	})
	require.NoError(t, err)
	assert.NotNil(t, result.Run)
	assert.NotEmpty(t, result.Run.Contexts)
}

func TestRunAuditArchiveFailure(t *testing.T) {
	dataPath := writeSyntheticCSV(t)
	archive := &memArchive{err: errors.ArchiveError("test", fmt.Errorf("disk full"))}
	service := NewAuditService(archive)

	_, err := service.RunAudit(context.Background(), AuditRequest{Spec: pipelineSpec(t, dataPath)})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "archiving failed")
}

func TestRunAuditValidatesRequest(t *testing.T) {
	service := NewAuditService(nil)

	_, err := service.RunAudit(context.Background(), AuditRequest{})
	require.Error(t, err)
	assert.Equal(t, errors.CodeInvalidInput, errors.GetCode(err))

	spec := pipelineSpec(t, filepath.Join(t.TempDir(), "nope.csv"))
	_, err = service.RunAudit(context.Background(), AuditRequest{Spec: spec})
	require.Error(t, err)
	assert.Equal(t, errors.CodeNotFound, errors.GetCode(err))
}
