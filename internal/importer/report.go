package importer

import (
	"sort"
	"sync"
	"time"
)

// Outcome is the terminal fate of one input row.
type Outcome string

const (
	OutcomeInvalid     Outcome = "invalid"
	OutcomeUnresolved  Outcome = "unresolved"
	OutcomeSuperseded  Outcome = "superseded"
	OutcomeCreated     Outcome = "created"
	OutcomeUpdated     Outcome = "updated"
	OutcomeFailed      Outcome = "failed"
	OutcomeBlocked     Outcome = "blocked"
	OutcomeWouldImport Outcome = "would_import"
)

// Category separates the three row-level error taxonomies plus stage-level notices.
type Category string

const (
	CategoryValidation Category = "validation"
	CategoryResolution Category = "resolution"
	CategoryExecution  Category = "execution"
	CategoryStage      Category = "stage"
)

var categoryOrder = map[Category]int{
	CategoryValidation: 0,
	CategoryResolution: 1,
	CategoryExecution:  2,
	CategoryStage:      3,
}

// Severity grades a diagnostic.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// StageStatus is how a kind's stage ended.
type StageStatus string

const (
	StageCompleted StageStatus = "completed"
	StageAborted   StageStatus = "aborted"
	StageBlocked   StageStatus = "blocked"
	StageSkipped   StageStatus = "skipped"
	StageDryRun    StageStatus = "dry_run"
)

// ReportStatus summarises a whole submission.
type ReportStatus string

const (
	ReportCompleted           ReportStatus = "completed"
	ReportCompletedWithErrors ReportStatus = "completed_with_errors"
	ReportAborted             ReportStatus = "aborted"
	ReportDryRun              ReportStatus = "dry_run"
)

// RowOutcome records what happened to one input row.
type RowOutcome struct {
	Kind         EntityKind `json:"kind"`
	Row          int        `json:"row"`
	NaturalKey   string     `json:"natural_key,omitempty"`
	Outcome      Outcome    `json:"outcome"`
	SyntheticKey string     `json:"synthetic_key,omitempty"`
	Valid        bool       `json:"valid"`
	Resolved     bool       `json:"resolved"`
}

// Diagnostic is one message about a row, or about a whole stage when Row is 0.
type Diagnostic struct {
	Kind     EntityKind `json:"kind"`
	Row      int        `json:"row,omitempty"`
	Field    string     `json:"field,omitempty"`
	Category Category   `json:"category"`
	Severity Severity   `json:"severity"`
	Message  string     `json:"message"`
}

// StageResult is the end state of one kind's stage.
type StageResult struct {
	Kind   EntityKind  `json:"kind"`
	Status StageStatus `json:"status"`
	Reason string      `json:"reason,omitempty"`
}

// Counts are per-kind (or total) row tallies.
type Counts struct {
	Submitted  int `json:"submitted"`
	Valid      int `json:"valid"`
	Invalid    int `json:"invalid"`
	Resolved   int `json:"resolved"`
	Unresolved int `json:"unresolved"`
	Superseded int `json:"superseded"`
	Created    int `json:"created"`
	Updated    int `json:"updated"`
	Failed     int `json:"failed"`
	Blocked    int `json:"blocked"`
}

func (c *Counts) add(o Counts) {
	c.Submitted += o.Submitted
	c.Valid += o.Valid
	c.Invalid += o.Invalid
	c.Resolved += o.Resolved
	c.Unresolved += o.Unresolved
	c.Superseded += o.Superseded
	c.Created += o.Created
	c.Updated += o.Updated
	c.Failed += o.Failed
	c.Blocked += o.Blocked
}

func (c *Counts) count(row RowOutcome) {
	c.Submitted++
	if row.Valid {
		c.Valid++
	}
	if row.Resolved {
		c.Resolved++
	}
	switch row.Outcome {
	case OutcomeInvalid:
		c.Invalid++
	case OutcomeUnresolved:
		c.Unresolved++
	case OutcomeSuperseded:
		c.Superseded++
	case OutcomeCreated:
		c.Created++
	case OutcomeUpdated:
		c.Updated++
	case OutcomeFailed:
		c.Failed++
	case OutcomeBlocked:
		c.Blocked++
	}
}

// KindReport is the section of the report for one entity kind.
type KindReport struct {
	Kind   EntityKind  `json:"kind"`
	Status StageStatus `json:"status"`
	Reason string      `json:"reason,omitempty"`
	Counts Counts      `json:"counts"`
}

// Report is the terminal artifact of a submission.
type Report struct {
	SubmissionID string       `json:"submission_id"`
	Status       ReportStatus `json:"status"`
	DryRun       bool         `json:"dry_run"`
	Totals       Counts       `json:"totals"`
	Kinds        []KindReport `json:"kinds"`
	Rows         []RowOutcome `json:"rows"`
	Diagnostics  []Diagnostic `json:"diagnostics"`
	StartedAt    time.Time    `json:"started_at"`
	FinishedAt   time.Time    `json:"finished_at"`
}

// Kind returns the section for a kind, or nil.
func (r *Report) Kind(kind EntityKind) *KindReport {
	if r == nil {
		return nil
	}
	for i := range r.Kinds {
		if r.Kinds[i].Kind == kind {
			return &r.Kinds[i]
		}
	}
	return nil
}

// Errors returns the error-severity diagnostics.
func (r *Report) Errors() []Diagnostic {
	return r.filter(SeverityError)
}

// Warnings returns the warning-severity diagnostics.
func (r *Report) Warnings() []Diagnostic {
	return r.filter(SeverityWarning)
}

func (r *Report) filter(severity Severity) []Diagnostic {
	var out []Diagnostic
	for _, d := range r.Diagnostics {
		if d.Severity == severity {
			out = append(out, d)
		}
	}
	return out
}

// Ledger is the raw material the aggregator merges: everything recorded during a run.
type Ledger struct {
	SubmissionID string
	DryRun       bool
	Rows         []RowOutcome
	Diagnostics  []Diagnostic
	Stages       []StageResult
}

// Aggregate merges a ledger into a report. It does not modify the ledger and
// produces the same report for the same ledger regardless of recording order across rows.
func Aggregate(ledger Ledger) *Report {
	rows := append([]RowOutcome(nil), ledger.Rows...)
	sort.SliceStable(rows, func(i, j int) bool {
		if ri, rj := rows[i].Kind.Rank(), rows[j].Kind.Rank(); ri != rj {
			return ri < rj
		}
		return rows[i].Row < rows[j].Row
	})

	diags := append([]Diagnostic(nil), ledger.Diagnostics...)
	sort.SliceStable(diags, func(i, j int) bool {
		a, b := diags[i], diags[j]
		if ra, rb := a.Kind.Rank(), b.Kind.Rank(); ra != rb {
			return ra < rb
		}
		if a.Row != b.Row {
			// stage notices (row 0) follow the rows of their kind
			if a.Row == 0 || b.Row == 0 {
				return b.Row == 0
			}
			return a.Row < b.Row
		}
		return categoryOrder[a.Category] < categoryOrder[b.Category]
	})

	stages := make(map[EntityKind]StageResult, len(ledger.Stages))
	for _, s := range ledger.Stages {
		stages[s.Kind] = s
	}

	report := &Report{
		SubmissionID: ledger.SubmissionID,
		DryRun:       ledger.DryRun,
		Rows:         rows,
		Diagnostics:  diags,
		Kinds:        make([]KindReport, 0, len(ImportOrder)),
	}

	perKind := make(map[EntityKind]*Counts, len(ImportOrder))
	for _, kind := range ImportOrder {
		perKind[kind] = &Counts{}
	}
	for _, row := range rows {
		if c, ok := perKind[row.Kind]; ok {
			c.count(row)
		}
	}

	aborted := false
	for _, kind := range ImportOrder {
		stage, ok := stages[kind]
		if !ok {
			stage = StageResult{Kind: kind, Status: StageSkipped}
		}
		if stage.Status == StageAborted {
			aborted = true
		}
		kr := KindReport{Kind: kind, Status: stage.Status, Reason: stage.Reason, Counts: *perKind[kind]}
		report.Totals.add(kr.Counts)
		report.Kinds = append(report.Kinds, kr)
	}

	switch {
	case aborted:
		report.Status = ReportAborted
	case ledger.DryRun:
		report.Status = ReportDryRun
	case len(report.Errors()) > 0:
		report.Status = ReportCompletedWithErrors
	default:
		report.Status = ReportCompleted
	}
	return report
}

// recorder accumulates outcomes and diagnostics during a run. Safe for concurrent use.
type recorder struct {
	mu     sync.Mutex
	ledger Ledger
}

func newRecorder(submissionID string, dryRun bool) *recorder {
	return &recorder{ledger: Ledger{SubmissionID: submissionID, DryRun: dryRun}}
}

func (r *recorder) outcome(row RowOutcome) {
	r.mu.Lock()
	r.ledger.Rows = append(r.ledger.Rows, row)
	r.mu.Unlock()
}

func (r *recorder) diagnose(d Diagnostic) {
	r.mu.Lock()
	r.ledger.Diagnostics = append(r.ledger.Diagnostics, d)
	r.mu.Unlock()
}

// reject records a terminal outcome together with its diagnostics.
func (r *recorder) reject(row RowOutcome, category Category, severity Severity, issues ...FieldIssue) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ledger.Rows = append(r.ledger.Rows, row)
	for _, issue := range issues {
		r.ledger.Diagnostics = append(r.ledger.Diagnostics, Diagnostic{
			Kind:     row.Kind,
			Row:      row.Row,
			Field:    issue.Field,
			Category: category,
			Severity: severity,
			Message:  issue.Message,
		})
	}
}

func (r *recorder) stage(result StageResult) {
	r.mu.Lock()
	r.ledger.Stages = append(r.ledger.Stages, result)
	r.mu.Unlock()
}

func (r *recorder) snapshot() Ledger {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Ledger{
		SubmissionID: r.ledger.SubmissionID,
		DryRun:       r.ledger.DryRun,
		Rows:         append([]RowOutcome(nil), r.ledger.Rows...),
		Diagnostics:  append([]Diagnostic(nil), r.ledger.Diagnostics...),
		Stages:       append([]StageResult(nil), r.ledger.Stages...),
	}
}
