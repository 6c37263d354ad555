// Package audit defines the archived form of a finished audit run: the
// parameter echoes, the rendered report, and the validated context records.
package audit

import (
	"fairlens/domain/core"
	"fairlens/domain/stats"
)

// ParamReportFormat is the Params key recording which format Report was
// rendered in. The archive server picks its display mode from it.
const ParamReportFormat = "report_format"

// ContextSummary is one confirmed discrimination context in archive form.
type ContextSummary struct {
	Protected   string       `json:"protected"`
	Description string       `json:"description"`
	Record      stats.Record `json:"record"`
}

// Run is a finished audit run as stored in the archive.
type Run struct {
	ID        core.AuditRunID   `json:"id"`
	Dataset   string            `json:"dataset"`
	Seed      int64             `json:"seed"`
	TrainRows int               `json:"train_rows"`
	TestRows  int               `json:"test_rows"`
	Params    map[string]string `json:"params,omitempty"`
	Report    string            `json:"report"`
	Contexts  []ContextSummary  `json:"contexts"`
	CreatedAt core.Timestamp    `json:"created_at"`
}

// NewRun creates an archive entry for a finished audit.
func NewRun(dataset string, seed int64, trainRows, testRows int) *Run {
	return &Run{
		ID:        core.AuditRunID(core.NewID()),
		Dataset:   dataset,
		Seed:      seed,
		TrainRows: trainRows,
		TestRows:  testRows,
		Params:    make(map[string]string),
		CreatedAt: core.Now(),
	}
}

// Summary is the listing form of an archived run.
type Summary struct {
	ID           core.AuditRunID `json:"id"`
	Dataset      string          `json:"dataset"`
	ContextCount int             `json:"context_count"`
	CreatedAt    core.Timestamp  `json:"created_at"`
}

// Summarize returns the listing form of the run.
func (r *Run) Summarize() Summary {
	return Summary{
		ID:           r.ID,
		Dataset:      r.Dataset,
		ContextCount: len(r.Contexts),
		CreatedAt:    r.CreatedAt,
	}
}
