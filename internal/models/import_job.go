package models

import (
	"time"

	"github.com/noah-isme/sma-roster-import/internal/importer"
)

// ImportStatus captures the lifecycle of an import submission.
type ImportStatus string

const (
	ImportStatusQueued     ImportStatus = "QUEUED"
	ImportStatusProcessing ImportStatus = "PROCESSING"
	ImportStatusFinished   ImportStatus = "FINISHED"
	ImportStatusFailed     ImportStatus = "FAILED"
)

// ExportFormat enumerates supported report export formats.
type ExportFormat string

const (
	ExportFormatCSV ExportFormat = "csv"
	ExportFormatPDF ExportFormat = "pdf"
)

// ImportFile describes one uploaded file of a submission.
type ImportFile struct {
	Kind   importer.EntityKind `json:"kind"`
	Format importer.Format     `json:"format"`
	Name   string              `json:"name"`
	Size   int                 `json:"size"`
}

// ImportJob is the cached record of a submission and, once finished, its report.
type ImportJob struct {
	ID           string           `json:"id"`
	Status       ImportStatus     `json:"status"`
	DryRun       bool             `json:"dry_run"`
	Files        []ImportFile     `json:"files"`
	CreatedBy    string           `json:"created_by"`
	CreatedAt    time.Time        `json:"created_at"`
	FinishedAt   *time.Time       `json:"finished_at,omitempty"`
	ErrorMessage *string          `json:"error_message,omitempty"`
	Report       *importer.Report `json:"report,omitempty"`
}

// Done reports whether the job reached a terminal status.
func (j *ImportJob) Done() bool {
	return j.Status == ImportStatusFinished || j.Status == ImportStatusFailed
}
