package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-roster-import/internal/dto"
	"github.com/noah-isme/sma-roster-import/internal/importer"
	"github.com/noah-isme/sma-roster-import/internal/models"
	appErrors "github.com/noah-isme/sma-roster-import/pkg/errors"
	"github.com/noah-isme/sma-roster-import/pkg/export"
	"github.com/noah-isme/sma-roster-import/pkg/jobs"
)

// ImportJobType tags queued roster import jobs.
const ImportJobType = "roster_import"

const importCacheKeyPrefix = "imports:"

type importRunner interface {
	Run(ctx context.Context, sub importer.Submission) (*importer.Report, error)
}

type importJobCache interface {
	Get(ctx context.Context, key string, dest interface{}) (bool, error)
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
}

type jobDispatcher interface {
	Enqueue(job jobs.Job) error
}

type submissionObserver interface {
	ObserveSubmission(status importer.ReportStatus)
}

// ImportServiceConfig governs report retention and asynchronous submissions.
type ImportServiceConfig struct {
	ReportTTL    time.Duration
	AsyncEnabled bool
}

// ImportExport is a rendered report download.
type ImportExport struct {
	Filename    string
	ContentType string
	Data        []byte
}

// ImportService accepts roster submissions, runs them through the pipeline and keeps their reports.
type ImportService struct {
	runner   importRunner
	cache    importJobCache
	queue    jobDispatcher
	observer submissionObserver
	csv      *export.CSVExporter
	pdf      *export.PDFExporter
	logger   *zap.Logger
	cfg      ImportServiceConfig
	now      func() time.Time
}

// NewImportService constructs the import service. queue may be nil when async imports are disabled.
func NewImportService(runner importRunner, cache importJobCache, queue jobDispatcher, observer submissionObserver, logger *zap.Logger, cfg ImportServiceConfig) *ImportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ReportTTL <= 0 {
		cfg.ReportTTL = 24 * time.Hour
	}
	return &ImportService{
		runner:   runner,
		cache:    cache,
		queue:    queue,
		observer: observer,
		csv:      export.NewCSVExporter(),
		pdf:      export.NewPDFExporter(),
		logger:   logger,
		cfg:      cfg,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Submit runs a submission synchronously, or queues it when async is requested.
func (s *ImportService) Submit(ctx context.Context, req dto.ImportRequest) (*dto.ImportJobResponse, error) {
	sub := importer.Submission{
		ID:       uuid.NewString(),
		Identity: req.ActorID,
		DryRun:   req.DryRun,
		Blobs:    make([]importer.Blob, 0, len(req.Files)),
	}
	files := make([]models.ImportFile, 0, len(req.Files))
	for _, file := range req.Files {
		sub.Blobs = append(sub.Blobs, importer.Blob{Kind: file.Kind, Format: file.Format, Name: file.Name, Data: file.Data})
		files = append(files, models.ImportFile{Kind: file.Kind, Format: file.Format, Name: file.Name, Size: len(file.Data)})
	}
	if err := sub.Check(); err != nil {
		return nil, mapImportError(err)
	}

	job := &models.ImportJob{
		ID:        sub.ID,
		Status:    models.ImportStatusProcessing,
		DryRun:    sub.DryRun,
		Files:     files,
		CreatedBy: req.ActorID,
		CreatedAt: s.now(),
	}

	if req.Async {
		return s.enqueue(ctx, job, sub)
	}

	if err := s.run(ctx, job, sub); err != nil {
		return nil, err
	}
	return dto.NewImportJobResponse(job), nil
}

func (s *ImportService) enqueue(ctx context.Context, job *models.ImportJob, sub importer.Submission) (*dto.ImportJobResponse, error) {
	if !s.cfg.AsyncEnabled || s.queue == nil {
		return nil, appErrors.ErrAsyncDisabled
	}
	job.Status = models.ImportStatusQueued
	if err := s.save(ctx, job); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to record import job")
	}
	if err := s.queue.Enqueue(jobs.Job{ID: job.ID, Type: ImportJobType, Payload: sub}); err != nil {
		s.fail(ctx, job, "failed to enqueue import")
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to enqueue import job")
	}
	s.logger.Info("import queued", zap.String("submission_id", job.ID), zap.Int("files", len(job.Files)))
	return dto.NewImportJobResponse(job), nil
}

// HandleJob processes a queued submission. Failures are recorded on the job and never retried.
func (s *ImportService) HandleJob(ctx context.Context, queued jobs.Job) error {
	sub, ok := queued.Payload.(importer.Submission)
	if !ok {
		s.logger.Error("unexpected import job payload", zap.String("job_id", queued.ID), zap.String("type", queued.Type))
		return nil
	}

	job := &models.ImportJob{}
	hit, err := s.cache.Get(ctx, cacheKey(sub.ID), job)
	if err != nil || !hit {
		job = &models.ImportJob{ID: sub.ID, DryRun: sub.DryRun, CreatedBy: sub.Identity, CreatedAt: queued.Enqueued}
	}
	job.Status = models.ImportStatusProcessing
	if err := s.save(ctx, job); err != nil {
		s.logger.Warn("record import processing", zap.String("submission_id", job.ID), zap.Error(err))
	}

	if err := s.run(ctx, job, sub); err != nil {
		s.logger.Error("queued import failed", zap.String("submission_id", job.ID), zap.Error(err))
	}
	return nil
}

func (s *ImportService) run(ctx context.Context, job *models.ImportJob, sub importer.Submission) error {
	report, err := s.runner.Run(ctx, sub)
	if err != nil {
		appErr := mapImportError(err)
		s.fail(ctx, job, appErr.Message)
		return appErr
	}

	finished := s.now()
	job.Status = models.ImportStatusFinished
	job.FinishedAt = &finished
	job.Report = report
	if s.observer != nil {
		s.observer.ObserveSubmission(report.Status)
	}
	if err := s.save(ctx, job); err != nil {
		s.logger.Warn("report not retained", zap.String("submission_id", job.ID), zap.Error(err))
	}
	return nil
}

func (s *ImportService) fail(ctx context.Context, job *models.ImportJob, message string) {
	finished := s.now()
	job.Status = models.ImportStatusFailed
	job.FinishedAt = &finished
	job.ErrorMessage = &message
	if err := s.save(ctx, job); err != nil {
		s.logger.Warn("record import failure", zap.String("submission_id", job.ID), zap.Error(err))
	}
}

func (s *ImportService) save(ctx context.Context, job *models.ImportJob) error {
	return s.cache.Set(ctx, cacheKey(job.ID), job, s.cfg.ReportTTL)
}

// Get returns a retained submission and its report.
func (s *ImportService) Get(ctx context.Context, id string) (*dto.ImportJobResponse, error) {
	job, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	return dto.NewImportJobResponse(job), nil
}

func (s *ImportService) load(ctx context.Context, id string) (*models.ImportJob, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, appErrors.ErrReportNotFound
	}
	job := &models.ImportJob{}
	hit, err := s.cache.Get(ctx, cacheKey(id), job)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load import report")
	}
	if !hit {
		return nil, appErrors.ErrReportNotFound
	}
	return job, nil
}

// Export renders the report of a finished submission as CSV or PDF.
func (s *ImportService) Export(ctx context.Context, id string, format models.ExportFormat) (*ImportExport, error) {
	job, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if job.Report == nil {
		if job.Status == models.ImportStatusFailed {
			return nil, appErrors.Clone(appErrors.ErrReportNotFound, "import failed before producing a report")
		}
		return nil, appErrors.Clone(appErrors.ErrReportNotFound, "import report not ready")
	}

	dataset := reportDataset(job.Report)
	switch format {
	case models.ExportFormatCSV, "":
		data, err := s.csv.Render(dataset)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render csv report")
		}
		return &ImportExport{Filename: fmt.Sprintf("import-%s.csv", job.ID), ContentType: "text/csv", Data: data}, nil
	case models.ExportFormatPDF:
		data, err := s.pdf.Render(dataset)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render pdf report")
		}
		return &ImportExport{Filename: fmt.Sprintf("import-%s.pdf", job.ID), ContentType: "application/pdf", Data: data}, nil
	default:
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unsupported export format %q", format))
	}
}

// Templates lists the accepted columns of every importable kind, in import order.
func (s *ImportService) Templates() []dto.ImportTemplate {
	templates := make([]dto.ImportTemplate, 0, len(importer.ImportOrder))
	for _, kind := range importer.ImportOrder {
		templates = append(templates, dto.ImportTemplate{Kind: kind, Columns: importer.Columns(kind)})
	}
	return templates
}

var reportHeaders = []string{"Kind", "Row", "Natural key", "Outcome", "Category", "Severity", "Field", "Message"}

// reportDataset flattens a report into one line per diagnostic. Rows without diagnostics get one bare line,
// and stage notices close each kind's block.
func reportDataset(report *importer.Report) export.Dataset {
	type rowRef struct {
		kind importer.EntityKind
		row  int
	}
	byRow := make(map[rowRef][]importer.Diagnostic)
	stage := make(map[importer.EntityKind][]importer.Diagnostic)
	for _, d := range report.Diagnostics {
		if d.Row == 0 {
			stage[d.Kind] = append(stage[d.Kind], d)
			continue
		}
		ref := rowRef{kind: d.Kind, row: d.Row}
		byRow[ref] = append(byRow[ref], d)
	}

	data := export.Dataset{
		Title:   fmt.Sprintf("Roster import %s", report.SubmissionID),
		Headers: reportHeaders,
		Widths:  []float64{1.2, 0.6, 2.4, 1.1, 1, 0.9, 1.2, 4},
		Rows:    make([][]string, 0, len(report.Rows)+len(report.Diagnostics)),
	}
	data.Summary = append(data.Summary, fmt.Sprintf("Status: %s", report.Status))
	if report.DryRun {
		data.Summary = append(data.Summary, "Dry run: no records were written")
	}
	for _, section := range report.Kinds {
		if section.Status == importer.StageSkipped {
			continue
		}
		data.Summary = append(data.Summary, summaryLine(section))
	}

	for _, section := range report.Kinds {
		for _, row := range report.Rows {
			if row.Kind != section.Kind {
				continue
			}
			diagnostics := byRow[rowRef{kind: row.Kind, row: row.Row}]
			if len(diagnostics) == 0 {
				data.Rows = append(data.Rows, []string{
					section.Kind.Label(), strconv.Itoa(row.Row), row.NaturalKey, string(row.Outcome), "", "", "", "",
				})
				continue
			}
			for _, d := range diagnostics {
				data.Rows = append(data.Rows, []string{
					section.Kind.Label(), strconv.Itoa(row.Row), row.NaturalKey, string(row.Outcome),
					string(d.Category), string(d.Severity), d.Field, d.Message,
				})
			}
		}
		for _, d := range stage[section.Kind] {
			data.Rows = append(data.Rows, []string{
				section.Kind.Label(), "", "", string(section.Status), string(d.Category), string(d.Severity), "", d.Message,
			})
		}
	}
	return data
}

func summaryLine(section importer.KindReport) string {
	c := section.Counts
	parts := []string{fmt.Sprintf("%d submitted", c.Submitted)}
	for _, figure := range []struct {
		label string
		n     int
	}{
		{"created", c.Created},
		{"updated", c.Updated},
		{"invalid", c.Invalid},
		{"unresolved", c.Unresolved},
		{"superseded", c.Superseded},
		{"failed", c.Failed},
		{"blocked", c.Blocked},
	} {
		if figure.n > 0 {
			parts = append(parts, fmt.Sprintf("%d %s", figure.n, figure.label))
		}
	}
	return fmt.Sprintf("%s (%s): %s", section.Kind.Label(), section.Status, strings.Join(parts, ", "))
}

func cacheKey(id string) string {
	return importCacheKeyPrefix + id
}

func mapImportError(err error) *appErrors.Error {
	var template *appErrors.Error
	switch {
	case errors.Is(err, importer.ErrEmptySubmission):
		template = appErrors.ErrEmptySubmission
	case errors.Is(err, importer.ErrDuplicateKind):
		template = appErrors.ErrDuplicateKind
	case errors.Is(err, importer.ErrUnknownKind):
		template = appErrors.ErrUnknownKind
	case errors.Is(err, importer.ErrUnsupportedFormat):
		template = appErrors.ErrUnsupportedFormat
	default:
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "import failed")
	}
	return appErrors.Clone(template, err.Error())
}
