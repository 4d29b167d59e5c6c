package importer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	// ErrEmptySubmission is returned when a submission carries no blobs.
	ErrEmptySubmission = errors.New("submission has no files")
	// ErrDuplicateKind is returned when two blobs declare the same entity kind.
	ErrDuplicateKind = errors.New("entity kind submitted more than once")
	// ErrUnknownKind is returned when a blob declares a kind that cannot be imported.
	ErrUnknownKind = errors.New("entity kind cannot be imported")
	// ErrUnsupportedFormat is returned when a blob declares an unknown encoding.
	ErrUnsupportedFormat = errors.New("unsupported file format")
)

// Blob is one uploaded file for one entity kind.
type Blob struct {
	Kind   EntityKind
	Format Format
	Name   string
	Data   []byte
}

// Submission is one call into the pipeline.
type Submission struct {
	ID string
	// Identity is the invoking caller, written into audit columns only.
	Identity string
	Blobs    []Blob
	DryRun   bool
}

// Check reports whether the submission is well formed without running it.
func (s Submission) Check() error {
	_, err := indexBlobs(s.Blobs)
	return err
}

// Observer receives per-stage figures once a submission finishes.
type Observer interface {
	ObserveStage(kind EntityKind, status StageStatus, counts Counts, elapsed time.Duration)
}

// Options configures a pipeline.
type Options struct {
	Concurrency       int
	ValidationWorkers int
	MaxFailures       int
	MaxFailureRatio   float64
	Observer          Observer
}

// Pipeline runs submissions through parse, validate, resolve and execute, one kind at a time.
type Pipeline struct {
	store     Store
	validator *Validator
	options   Options
	logger    *zap.Logger
	now       func() time.Time
}

// New constructs a pipeline over a store.
func New(store Store, options Options, logger *zap.Logger) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		store:     store,
		validator: NewValidator(),
		options:   options,
		logger:    logger,
		now:       time.Now,
	}
}

// Run imports a submission and returns its report. An error is returned only when the
// submission itself is malformed; every row-level problem is carried in the report.
func (p *Pipeline) Run(ctx context.Context, sub Submission) (*Report, error) {
	blobs, err := indexBlobs(sub.Blobs)
	if err != nil {
		return nil, err
	}
	if sub.ID == "" {
		sub.ID = uuid.NewString()
	}

	started := p.now()
	rec := newRecorder(sub.ID, sub.DryRun)
	resolution := NewResolutionMap()
	resolver := NewResolver(p.store, resolution, p.logger)
	executor := NewExecutor(p.store, resolution, ExecutorConfig{
		Concurrency:     p.options.Concurrency,
		MaxFailures:     p.options.MaxFailures,
		MaxFailureRatio: p.options.MaxFailureRatio,
		DryRun:          sub.DryRun,
	}, Audit{EnteredBy: sub.Identity}, p.logger)

	elapsed := make(map[EntityKind]time.Duration, len(blobs))
	var abortedBy EntityKind
	for _, kind := range ImportOrder {
		blob, ok := blobs[kind]
		if !ok {
			continue
		}
		stageStarted := p.now()
		result := p.runStage(ctx, kind, blob, abortedBy, resolver, executor, rec)
		rec.stage(result)
		elapsed[kind] = p.now().Sub(stageStarted)
		if result.Status == StageAborted && abortedBy == "" {
			abortedBy = kind
		}
	}

	report := Aggregate(rec.snapshot())
	report.StartedAt = started
	report.FinishedAt = p.now()

	for _, section := range report.Kinds {
		if section.Status == StageSkipped {
			continue
		}
		p.logger.Info("import stage finished",
			zap.String("submission_id", report.SubmissionID),
			zap.String("kind", string(section.Kind)),
			zap.String("status", string(section.Status)),
			zap.Int("submitted", section.Counts.Submitted),
			zap.Int("invalid", section.Counts.Invalid),
			zap.Int("unresolved", section.Counts.Unresolved),
			zap.Int("created", section.Counts.Created),
			zap.Int("updated", section.Counts.Updated),
			zap.Int("failed", section.Counts.Failed),
			zap.Int("blocked", section.Counts.Blocked),
		)
		if p.options.Observer != nil {
			p.options.Observer.ObserveStage(section.Kind, section.Status, section.Counts, elapsed[section.Kind])
		}
	}
	p.logger.Info("import finished",
		zap.String("submission_id", report.SubmissionID),
		zap.String("status", string(report.Status)),
		zap.Bool("dry_run", report.DryRun),
		zap.Int("rows", report.Totals.Submitted),
		zap.Duration("duration", report.FinishedAt.Sub(report.StartedAt)),
	)
	return report, nil
}

func (p *Pipeline) runStage(ctx context.Context, kind EntityKind, blob Blob, abortedBy EntityKind, resolver *Resolver, executor *Executor, rec *recorder) StageResult {
	candidates := p.parse(kind, blob)
	validated := p.validator.ValidateAll(ctx, candidates, p.options.ValidationWorkers)

	valid := make([]ValidatedRow, 0, len(validated))
	for _, row := range validated {
		if row.Valid() {
			valid = append(valid, row)
			continue
		}
		rec.reject(RowOutcome{Kind: kind, Row: row.Row, Outcome: OutcomeInvalid}, CategoryValidation, SeverityError, row.Issues...)
	}

	if abortedBy != "" {
		for _, row := range valid {
			rec.reject(RowOutcome{
				Kind:       kind,
				Row:        row.Row,
				NaturalKey: row.Payload.NaturalKey().String(),
				Outcome:    OutcomeBlocked,
				Valid:      true,
			}, CategoryStage, SeverityError, FieldIssue{Message: fmt.Sprintf("%s (%s stage aborted)", blockedMessage, abortedBy.Label())})
		}
		return StageResult{Kind: kind, Status: StageBlocked, Reason: fmt.Sprintf("%s stage aborted", abortedBy.Label())}
	}

	resolved := resolver.Resolve(ctx, kind, valid, rec)
	return executor.Execute(ctx, kind, resolved.Ready, resolved.LookupFailures, rec)
}

// parse reads every candidate row of a blob. A blob that cannot be opened becomes a single failed row 1.
func (p *Pipeline) parse(kind EntityKind, blob Blob) []CandidateRow {
	source, err := Parse(kind, blob.Format, blob.Data)
	if err != nil {
		return []CandidateRow{{Kind: kind, Row: 1, ParseError: fmt.Sprintf("file could not be read: %v", err)}}
	}
	rows, err := Collect(source)
	if err != nil {
		p.logger.Warn("close row source", zap.String("kind", string(kind)), zap.String("file", blob.Name), zap.Error(err))
	}
	return rows
}

func indexBlobs(blobs []Blob) (map[EntityKind]Blob, error) {
	if len(blobs) == 0 {
		return nil, ErrEmptySubmission
	}
	out := make(map[EntityKind]Blob, len(blobs))
	for _, blob := range blobs {
		if !blob.Kind.Importable() {
			return nil, fmt.Errorf("%w: %q", ErrUnknownKind, blob.Kind)
		}
		switch blob.Format {
		case "", FormatCSV, FormatXLSX:
		default:
			return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, blob.Format)
		}
		if _, exists := out[blob.Kind]; exists {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateKind, blob.Kind)
		}
		out[blob.Kind] = blob
	}
	return out, nil
}
