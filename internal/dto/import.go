package dto

import (
	"time"

	"github.com/noah-isme/sma-roster-import/internal/importer"
	"github.com/noah-isme/sma-roster-import/internal/models"
)

// ImportFile is one uploaded file tagged with its entity kind.
type ImportFile struct {
	Kind   importer.EntityKind
	Format importer.Format
	Name   string
	Data   []byte
}

// ImportRequest captures POST /imports.
type ImportRequest struct {
	Files  []ImportFile
	DryRun bool
	Async  bool
	// ActorID is the authenticated uploader, written into audit columns.
	ActorID string
}

// ImportJobResponse exposes a submission and, once available, its report.
type ImportJobResponse struct {
	ID         string              `json:"id"`
	Status     models.ImportStatus `json:"status"`
	DryRun     bool                `json:"dryRun"`
	Files      []models.ImportFile `json:"files"`
	CreatedAt  time.Time           `json:"createdAt"`
	FinishedAt *time.Time          `json:"finishedAt,omitempty"`
	Error      *string             `json:"error,omitempty"`
	Report     *importer.Report    `json:"report,omitempty"`
}

// NewImportJobResponse maps a job onto its response shape.
func NewImportJobResponse(job *models.ImportJob) *ImportJobResponse {
	return &ImportJobResponse{
		ID:         job.ID,
		Status:     job.Status,
		DryRun:     job.DryRun,
		Files:      job.Files,
		CreatedAt:  job.CreatedAt,
		FinishedAt: job.FinishedAt,
		Error:      job.ErrorMessage,
		Report:     job.Report,
	}
}

// ImportTemplate lists the columns accepted for one entity kind.
type ImportTemplate struct {
	Kind    importer.EntityKind `json:"kind"`
	Columns []string            `json:"columns"`
}
