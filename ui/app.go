// Package ui serves the archive of finished audit runs: a small browse page,
// a JSON API, and Prometheus metrics. It only reads; audits are run and
// archived by the CLI.
package ui

import (
	"context"
	"embed"
	"fmt"
	"html/template"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"fairlens/internal"
	"fairlens/internal/config"
	"fairlens/ports"
)

//go:embed templates/*
var embeddedFiles embed.FS

// App is the archive server.
type App struct {
	router    *chi.Mux
	archive   ports.ArchiveReaderPort
	templates *template.Template
	metrics   *Metrics
	logger    *internal.Logger
	server    config.ServerConfig
}

// NewApp wires the router, templates, and metrics around an archive reader.
func NewApp(cfg config.ServerConfig, archive ports.ArchiveReaderPort) (*App, error) {
	return newApp(cfg, archive, NewMetrics())
}

func newApp(cfg config.ServerConfig, archive ports.ArchiveReaderPort, metrics *Metrics) (*App, error) {
	templates, err := template.New("").ParseFS(embeddedFiles, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("failed to parse templates: %w", err)
	}

	app := &App{
		router:    chi.NewRouter(),
		archive:   archive,
		templates: templates,
		metrics:   metrics,
		logger:    internal.NewDefaultLogger().With("ui"),
		server:    cfg,
	}

	app.setupMiddleware()
	app.setupRoutes()

	return app, nil
}

func (a *App) setupMiddleware() {
	a.router.Use(middleware.Logger)
	a.router.Use(middleware.Recoverer)
	a.router.Use(middleware.Compress(5))
}

func (a *App) setupRoutes() {
	// Pages
	a.router.Get("/", a.handleIndex)
	a.router.Get("/runs/{id}", a.handleRunPage)

	// API endpoints
	a.router.Get("/api/runs", a.handleListRuns)
	a.router.Get("/api/runs/{id}", a.handleGetRun)

	// Operational endpoints
	a.router.Get("/healthz", a.handleHealthz)
	a.router.Handle("/metrics", promhttp.Handler())
}

// Handler exposes the router, mainly for tests.
func (a *App) Handler() http.Handler {
	return a.router
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (a *App) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:         ":" + a.server.Port,
		Handler:      a.router,
		ReadTimeout:  a.server.ReadTimeout,
		WriteTimeout: a.server.WriteTimeout,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			a.logger.Error("failed to shut down archive server: %v", err)
		}
	}()

	a.logger.Info("archive server listening on :%s", a.server.Port)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (a *App) renderTemplate(w http.ResponseWriter, templateName string, data interface{}) {
	w.Header().Set("Content-Type", "text/html")
	if err := a.templates.ExecuteTemplate(w, templateName, data); err != nil {
		a.logger.Error("template %s: %v", templateName, err)
		http.Error(w, "Template error", http.StatusInternalServerError)
	}
}
