package ui

import (
	"encoding/json"
	"html/template"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gomarkdown/markdown"
	mdhtml "github.com/gomarkdown/markdown/html"
	"github.com/gomarkdown/markdown/parser"

	"fairlens/domain/audit"
	"fairlens/domain/core"
)

type indexPage struct {
	Runs []audit.Summary
}

type runPage struct {
	Run        *audit.Run
	ReportHTML template.HTML
	ReportText string
}

// handleIndex lists archived runs, newest first.
func (a *App) handleIndex(w http.ResponseWriter, r *http.Request) {
	runs, err := a.archive.ListRuns(r.Context(), 50, 0)
	if err != nil {
		a.metrics.ArchiveErrors.Inc()
		a.logger.Error("failed to list runs: %v", err)
		http.Error(w, "Archive unavailable", http.StatusInternalServerError)
		return
	}

	a.metrics.RunsListed.Inc()
	a.renderTemplate(w, "index.html", indexPage{Runs: runs})
}

// handleRunPage shows one archived run with its rendered report.
func (a *App) handleRunPage(w http.ResponseWriter, r *http.Request) {
	started := time.Now()

	run, ok := a.loadRun(w, r)
	if !ok {
		return
	}

	page := runPage{Run: run}
	if run.Params[audit.ParamReportFormat] == "markdown" {
		// Reports are rendered locally by this program, so the HTML is trusted.
		page.ReportHTML = renderMarkdown(run.Report)
	} else {
		page.ReportText = run.Report
	}

	a.metrics.ReportViews.Inc()
	a.renderTemplate(w, "report.html", page)
	a.metrics.RenderSeconds.Observe(time.Since(started).Seconds())
}

// handleListRuns returns run summaries as JSON, newest first.
func (a *App) handleListRuns(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 50)
	offset := queryInt(r, "offset", 0)

	runs, err := a.archive.ListRuns(r.Context(), limit, offset)
	if err != nil {
		a.metrics.ArchiveErrors.Inc()
		a.logger.Error("failed to list runs: %v", err)
		a.writeJSONError(w, http.StatusInternalServerError, "failed to list runs")
		return
	}

	a.metrics.RunsListed.Inc()
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(runs)
}

// handleGetRun returns one archived run as JSON.
func (a *App) handleGetRun(w http.ResponseWriter, r *http.Request) {
	run, ok := a.loadRun(w, r)
	if !ok {
		return
	}

	a.metrics.RunsFetched.Inc()
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(run)
}

func (a *App) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// loadRun resolves the {id} URL parameter against the archive, writing the
// error response itself when the lookup fails.
func (a *App) loadRun(w http.ResponseWriter, r *http.Request) (*audit.Run, bool) {
	id, err := core.ParseAuditRunID(chi.URLParam(r, "id"))
	if err != nil {
		a.writeJSONError(w, http.StatusBadRequest, "invalid run id")
		return nil, false
	}

	run, err := a.archive.GetRun(r.Context(), id)
	if err != nil {
		if core.IsNotFoundError(err) {
			a.writeJSONError(w, http.StatusNotFound, "run not found")
			return nil, false
		}
		a.metrics.ArchiveErrors.Inc()
		a.logger.Error("failed to load run %s: %v", id, err)
		a.writeJSONError(w, http.StatusInternalServerError, "failed to load run")
		return nil, false
	}
	return run, true
}

func (a *App) writeJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

func renderMarkdown(src string) template.HTML {
	p := parser.NewWithExtensions(parser.CommonExtensions | parser.AutoHeadingIDs)
	renderer := mdhtml.NewRenderer(mdhtml.RendererOptions{Flags: mdhtml.CommonFlags})
	return template.HTML(markdown.ToHTML([]byte(src), p, renderer))
}

func queryInt(r *http.Request, name string, fallback int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return value
}
