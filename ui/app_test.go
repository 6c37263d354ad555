package ui

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fairlens/domain/audit"
	"fairlens/domain/core"
	"fairlens/domain/stats"
	"fairlens/internal/config"
	"fairlens/ports"
)

type stubArchive struct {
	order   []*audit.Run
	listErr error
}

var _ ports.ArchiveReaderPort = (*stubArchive)(nil)

func (s *stubArchive) ListRuns(ctx context.Context, limit, offset int) ([]audit.Summary, error) {
	if s.listErr != nil {
		return nil, s.listErr
	}
	summaries := []audit.Summary{}
	for i := offset; i < len(s.order) && len(summaries) < limit; i++ {
		summaries = append(summaries, s.order[i].Summarize())
	}
	return summaries, nil
}

func (s *stubArchive) GetRun(ctx context.Context, id core.AuditRunID) (*audit.Run, error) {
	for _, run := range s.order {
		if run.ID == id {
			return run, nil
		}
	}
	return nil, core.ErrRunNotFound
}

func stubRun(t *testing.T, dataset, reportFormat, report string) *audit.Run {
	t.Helper()

	record, err := stats.NewRecord(
		"NMI", 0.28,
		stats.NewInterval(0.11, 0.47),
		0.004, 180, stats.MethodExact,
	)
	require.NoError(t, err)

	run := audit.NewRun(dataset, 7, 600, 300)
	run.Params[audit.ParamReportFormat] = reportFormat
	run.Report = report
	run.Contexts = []audit.ContextSummary{
		{Protected: "gender", Description: "city = 2", Record: record},
	}
	return run
}

func newTestApp(t *testing.T, archive ports.ArchiveReaderPort) *App {
	t.Helper()

	cfg := config.ServerConfig{Port: "0", ReadTimeout: time.Second, WriteTimeout: time.Second}
	app, err := newApp(cfg, archive, NewMetricsWithRegistry(prometheus.NewRegistry()))
	require.NoError(t, err)
	return app
}

func get(t *testing.T, app *App, path string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(http.MethodGet, path, nil)
	w := httptest.NewRecorder()
	app.Handler().ServeHTTP(w, req)
	return w
}

func TestIndexListsArchivedRuns(t *testing.T) {
	first := stubRun(t, "adult", "text", "fairlens audit report\n")
	second := stubRun(t, "berkeley", "text", "fairlens audit report\n")
	app := newTestApp(t, &stubArchive{order: []*audit.Run{first, second}})

	w := get(t, app, "/")
	require.Equal(t, http.StatusOK, w.Code)

	body := w.Body.String()
	assert.Contains(t, body, "adult")
	assert.Contains(t, body, "berkeley")
	assert.Contains(t, body, first.ID.String())
}

func TestIndexEmptyArchive(t *testing.T) {
	app := newTestApp(t, &stubArchive{})

	w := get(t, app, "/")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "No audits archived yet")
}

func TestIndexArchiveFailure(t *testing.T) {
	app := newTestApp(t, &stubArchive{listErr: errors.New("boom")})

	w := get(t, app, "/")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestAPIListRunsPaging(t *testing.T) {
	first := stubRun(t, "adult", "text", "r1")
	second := stubRun(t, "berkeley", "text", "r2")
	app := newTestApp(t, &stubArchive{order: []*audit.Run{first, second}})

	w := get(t, app, "/api/runs?limit=1")
	require.Equal(t, http.StatusOK, w.Code)

	var page []audit.Summary
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &page))
	require.Len(t, page, 1)
	assert.Equal(t, "adult", page[0].Dataset)

	// A malformed limit falls back to the default instead of failing.
	w = get(t, app, "/api/runs?limit=bogus")
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &page))
	assert.Len(t, page, 2)
}

func TestAPIGetRun(t *testing.T) {
	run := stubRun(t, "adult", "text", "fairlens audit report\n")
	app := newTestApp(t, &stubArchive{order: []*audit.Run{run}})

	w := get(t, app, "/api/runs/"+run.ID.String())
	require.Equal(t, http.StatusOK, w.Code)

	var got audit.Run
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, run.ID, got.ID)
	assert.Equal(t, "adult", got.Dataset)
	require.Len(t, got.Contexts, 1)
	assert.Equal(t, "city = 2", got.Contexts[0].Description)

	w = get(t, app, "/api/runs/"+core.NewID().String())
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), "run not found")
}

func TestRunPageRendersMarkdownReport(t *testing.T) {
	report := "# Audit report — adult\n\n## gender — NMI\n\n| rank | context |\n|---|---|\n| 1 | city = 2 |\n"
	run := stubRun(t, "adult", "markdown", report)
	app := newTestApp(t, &stubArchive{order: []*audit.Run{run}})

	w := get(t, app, "/runs/"+run.ID.String())
	require.Equal(t, http.StatusOK, w.Code)

	body := w.Body.String()
	assert.Contains(t, body, "<h2")
	assert.Contains(t, body, "gender — NMI")
	assert.NotContains(t, body, "## gender")
}

func TestRunPageShowsTextReportVerbatim(t *testing.T) {
	report := "fairlens audit report\ndataset: adult\n== gender — metric NMI ==\n"
	run := stubRun(t, "adult", "text", report)
	app := newTestApp(t, &stubArchive{order: []*audit.Run{run}})

	w := get(t, app, "/runs/"+run.ID.String())
	require.Equal(t, http.StatusOK, w.Code)

	body := w.Body.String()
	assert.Contains(t, body, "<pre>")
	assert.Contains(t, body, "== gender")
}

func TestHealthz(t *testing.T) {
	app := newTestApp(t, &stubArchive{})

	w := get(t, app, "/healthz")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}
