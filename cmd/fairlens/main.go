package main

import (
	"context"
	"fmt"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"syscall"

	"github.com/jmoiron/sqlx"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/spf13/cobra"

	"fairlens/adapters/boltdb"
	"fairlens/adapters/postgres"
	"fairlens/app"
	"fairlens/internal"
	"fairlens/internal/config"
	"fairlens/internal/errors"
	"fairlens/ports"
	"fairlens/ui"
)

func main() {
	// Environment variables configure the archive and server; a .env file is
	// a convenience, not a requirement.
	if err := godotenv.Load(); err != nil {
		internal.DefaultLogger.Debug("no .env file found, using system environment")
	}

	rootCmd := &cobra.Command{
		Use:   "fairlens",
		Short: "Discover and statistically validate discrimination contexts in datasets",
	}

	rootCmd.AddCommand(
		newAuditCmd(),
		newServeCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newAuditCmd() *cobra.Command {
	var specPath string

	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Run a dataset audit and archive the findings",
		Long: `Run the audit pipeline described by a YAML spec: load the dataset,
grow association-guided context trees on the training split, validate every
discovered context on the holdout, and render the report.

Example: fairlens audit --spec audit.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAudit(cmd.Context(), specPath)
		},
	}

	cmd.Flags().StringVar(&specPath, "spec", "audit.yaml", "Path to the audit spec file")

	return cmd
}

func runAudit(ctx context.Context, specPath string) error {
	spec, err := config.LoadAuditSpec(specPath)
	if err != nil {
		return err
	}

	appConfig, err := config.Load()
	if err != nil {
		return err
	}

	archive, closeArchive, err := openArchive(ctx, appConfig.Archive)
	if err != nil {
		return err
	}
	if closeArchive != nil {
		defer closeArchive()
	}

	service := app.NewAuditService(archive)
	_, err = service.RunAudit(ctx, app.AuditRequest{Spec: spec, Output: os.Stdout})
	return err
}

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the archive of finished audits over HTTP",
		Long: `Serve archived audit runs: an HTML browse page, a JSON API, and
Prometheus metrics.

Example: fairlens serve`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}

	return cmd
}

func runServe(ctx context.Context) error {
	appConfig, err := config.Load()
	if err != nil {
		return err
	}

	archive, closeArchive, err := openArchive(ctx, appConfig.Archive)
	if err != nil {
		return err
	}
	if closeArchive != nil {
		defer closeArchive()
	}
	if archive == nil {
		return errors.ConfigInvalid("serve requires an archive backend, set ARCHIVE_BACKEND to bolt or postgres")
	}

	server, err := ui.NewApp(appConfig.Server, archive)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if appConfig.Profiling.Enabled {
		go func() {
			addr := ":" + appConfig.Profiling.Port
			internal.DefaultLogger.Info("profiling server listening on %s", addr)
			if err := http.ListenAndServe(addr, nil); err != nil {
				internal.DefaultLogger.Error("profiling server failed: %v", err)
			}
		}()
	}

	return server.Start(ctx)
}

// openArchive opens the configured archive backend. The none backend returns
// a nil archive. Postgres migrations run before first use.
func openArchive(ctx context.Context, cfg config.ArchiveConfig) (ports.ArchivePort, func() error, error) {
	switch cfg.Backend {
	case config.ArchiveNone:
		return nil, nil, nil
	case config.ArchiveBolt:
		store, err := boltdb.Open(cfg.BoltPath)
		if err != nil {
			return nil, nil, err
		}
		return store, store.Close, nil
	case config.ArchivePostgres:
		db, err := sqlx.Connect("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, nil, errors.Wrap(err, "failed to connect to archive database")
		}
		if err := postgres.NewMigrator(db).Up(ctx); err != nil {
			db.Close()
			return nil, nil, err
		}
		return postgres.NewArchive(db), db.Close, nil
	}
	return nil, nil, errors.ConfigInvalid(fmt.Sprintf("unknown archive backend %q", cfg.Backend))
}
