// Package app wires the audit pipeline: dataset loading, guided tree
// training, holdout validation, reporting, and archival.
package app

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"fairlens/adapters/excel"
	"fairlens/domain/audit"
	"fairlens/domain/population"
	"fairlens/internal"
	"fairlens/internal/config"
	"fairlens/internal/errors"
	"fairlens/internal/investigation"
	"fairlens/internal/multitest"
	"fairlens/internal/report"
	"fairlens/ports"
)

// AuditService runs one audit end to end: load the dataset, grow context
// trees on the training split, validate them on the holdout, render the
// report, and archive the finished run.
type AuditService struct {
	archive ports.ArchiveWriterPort
	logger  *internal.Logger
}

// NewAuditService creates an audit service. A nil archive disables archival.
func NewAuditService(archive ports.ArchiveWriterPort) *AuditService {
	return &AuditService{
		archive: archive,
		logger:  internal.NewDefaultLogger().With("audit"),
	}
}

// AuditRequest carries one parsed audit spec and the report destination.
type AuditRequest struct {
	Spec *config.AuditSpec
	// Output receives the report when the spec names no output file.
	Output io.Writer
}

// AuditResult is the finished audit.
type AuditResult struct {
	Run       *audit.Run
	Report    string
	RuntimeMs int64
}

// RunAudit executes the full pipeline for one spec.
func (s *AuditService) RunAudit(ctx context.Context, req AuditRequest) (*AuditResult, error) {
	startTime := time.Now()

	spec := req.Spec
	if spec == nil {
		return nil, errors.InvalidInput("audit spec is required")
	}

	// Load the dataset and assign feature roles.
	loader, err := excel.NewLoader(spec.Data, spec.Format, spec.Sheet, excel.Roles{
		Context:     spec.Roles.Context,
		Protected:   spec.Roles.Protected,
		Explanatory: spec.Roles.Explanatory,
		Target:      spec.Roles.Target,
	})
	if err != nil {
		return nil, err
	}
	pop, registry, err := loader.Load()
	if err != nil {
		return nil, err
	}

	// Split into training and holdout populations.
	source, err := population.NewDataSource(spec.Dataset, pop,
		spec.Split.TrainFrac, spec.Split.Seed, spec.Split.Conf, spec.Split.Budget)
	if err != nil {
		return nil, fmt.Errorf("dataset split failed: %w", err)
	}

	inv, err := investigation.New(source, registry, spec.InvestigationConfig())
	if err != nil {
		return nil, fmt.Errorf("investigation setup failed: %w", err)
	}
	batch := []*investigation.Investigation{inv}

	s.logger.Info("auditing %s: %d training rows, %d protected features",
		spec.Dataset, source.Train().Rows(), len(registry.ProtectedFeatures()))

	if err := investigation.Train(ctx, batch); err != nil {
		return nil, fmt.Errorf("training failed: %w", err)
	}
	if err := investigation.Test(ctx, batch, spec.ShouldPrune()); err != nil {
		return nil, fmt.Errorf("holdout testing failed: %w", err)
	}
	if err := multitest.ComputeAllStats(ctx, batch, spec.ValidatorOptions()); err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}

	var buf bytes.Buffer
	if err := report.Render(&buf, batch, spec.ReportParams()); err != nil {
		return nil, fmt.Errorf("report rendering failed: %w", err)
	}

	run, err := s.buildRun(spec, source, batch, buf.String())
	if err != nil {
		return nil, err
	}

	if s.archive != nil {
		if err := s.archive.SaveRun(ctx, run); err != nil {
			return nil, fmt.Errorf("archiving failed: %w", err)
		}
	}

	if err := writeReport(spec, req.Output, buf.Bytes()); err != nil {
		return nil, err
	}

	result := &AuditResult{
		Run:       run,
		Report:    buf.String(),
		RuntimeMs: time.Since(startTime).Milliseconds(),
	}
	s.logger.Info("audit %s finished in %dms, %d confirmed contexts",
		run.ID, result.RuntimeMs, len(run.Contexts))
	return result, nil
}

// buildRun assembles the archive entry for a reported batch.
func (s *AuditService) buildRun(spec *config.AuditSpec, source *population.DataSource, batch []*investigation.Investigation, reportText string) (*audit.Run, error) {
	selected, err := report.Select(batch, spec.ReportParams())
	if err != nil {
		return nil, err
	}

	run := audit.NewRun(spec.Dataset, spec.Split.Seed, source.Train().Rows(), testRows(batch))
	run.Params = echoParams(spec)
	run.Report = reportText

	for _, sel := range selected {
		// Degenerate records carry unbounded intervals that JSON cannot
		// represent; the stored report text still lists them.
		if sel.Record.IsDegenerate() {
			continue
		}
		run.Contexts = append(run.Contexts, audit.ContextSummary{
			Protected:   sel.Protected,
			Description: sel.Description,
			Record:      sel.Record,
		})
	}
	return run, nil
}

// testRows is the size of the holdout slice the batch was tested on.
func testRows(batch []*investigation.Investigation) int {
	for _, inv := range batch {
		for _, study := range inv.Studies() {
			if len(study.Contexts) > 0 {
				return study.Contexts[0].Rows
			}
		}
	}
	return 0
}

// echoParams flattens the spec into the archived parameter map.
func echoParams(spec *config.AuditSpec) map[string]string {
	tp := spec.TrainParams()
	vo := spec.ValidatorOptions()
	rp := spec.ReportParams()

	params := map[string]string{
		"data":                  spec.Data,
		"train_frac":            formatFloat(spec.Split.TrainFrac),
		"split_seed":            strconv.FormatInt(spec.Split.Seed, 10),
		"conf":                  formatFloat(spec.Split.Conf),
		"budget":                strconv.Itoa(spec.Split.Budget),
		"max_depth":             strconv.Itoa(tp.MaxDepth),
		"min_leaf_size":         strconv.Itoa(tp.MinLeafSize),
		"agg":                   string(tp.Agg),
		"max_bins":              strconv.Itoa(tp.MaxBins),
		"exact":                 strconv.FormatBool(vo.Exact),
		"family_conf":           formatFloat(vo.FamilyConf),
		"correct":               strconv.FormatBool(vo.Correct),
		"prune":                 strconv.FormatBool(spec.ShouldPrune()),
		"filter":                string(rp.Filter),
		"filter_conf":           formatFloat(rp.FilterConf),
		audit.ParamReportFormat: string(rp.Format),
	}
	if spec.Roles.Explanatory != "" {
		params["explanatory"] = spec.Roles.Explanatory
	}
	for protected, metric := range spec.Metrics {
		params["metric."+protected] = metric
	}
	return params
}

// writeReport sends the rendered report to the spec's output file, or to the
// fallback writer when the spec names none.
func writeReport(spec *config.AuditSpec, fallback io.Writer, data []byte) error {
	if spec.Report.Output != "" {
		if err := os.WriteFile(spec.Report.Output, data, 0o644); err != nil {
			return fmt.Errorf("failed to write report to %s: %w", spec.Report.Output, err)
		}
		return nil
	}
	if fallback != nil {
		if _, err := fallback.Write(data); err != nil {
			return fmt.Errorf("failed to write report: %w", err)
		}
	}
	return nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
