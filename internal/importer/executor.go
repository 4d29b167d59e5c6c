package importer

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const blockedMessage = "blocked by prior stage failure"

// ExecutorConfig tunes write concurrency and the stage failure threshold.
type ExecutorConfig struct {
	// Concurrency bounds simultaneous upserts within a kind. Values below 1 mean serial.
	Concurrency int
	// MaxFailures aborts the stage once more than this many rows failed. 0 disables the count check.
	MaxFailures int
	// MaxFailureRatio aborts the stage once failed/eligible exceeds it. 0 disables the ratio check.
	MaxFailureRatio float64
	// DryRun skips writes and assigns placeholder keys so later kinds can still resolve.
	DryRun bool
}

// Executor upserts resolved rows of one kind and writes synthetic keys back into the resolution map.
type Executor struct {
	store      Upserter
	resolution *ResolutionMap
	config     ExecutorConfig
	audit      Audit
	logger     *zap.Logger
}

// NewExecutor constructs an executor for one submission.
func NewExecutor(store Upserter, resolution *ResolutionMap, config ExecutorConfig, audit Audit, logger *zap.Logger) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.Concurrency < 1 {
		config.Concurrency = 1
	}
	return &Executor{store: store, resolution: resolution, config: config, audit: audit, logger: logger}
}

// stageState tracks failures across the goroutines of one stage.
type stageState struct {
	mu       sync.Mutex
	failed   int
	eligible int
	aborted  bool
	reason   string
}

func (s *stageState) isAborted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.aborted
}

func (s *stageState) abort(reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.aborted {
		s.aborted = true
		s.reason = reason
	}
}

// fail counts a failure and aborts the stage once the threshold is crossed.
func (s *stageState) fail(cfg ExecutorConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failed++
	if s.aborted {
		return
	}
	if exceeded, reason := thresholdExceeded(cfg, s.failed, s.eligible); exceeded {
		s.aborted = true
		s.reason = reason
	}
}

func thresholdExceeded(cfg ExecutorConfig, failed, eligible int) (bool, string) {
	if cfg.MaxFailures > 0 && failed > cfg.MaxFailures {
		return true, fmt.Sprintf("%d of %d rows failed, more than %d allowed", failed, eligible, cfg.MaxFailures)
	}
	if cfg.MaxFailureRatio > 0 && eligible > 0 && float64(failed)/float64(eligible) > cfg.MaxFailureRatio {
		return true, fmt.Sprintf("%d of %d rows failed, above ratio %.2f", failed, eligible, cfg.MaxFailureRatio)
	}
	return false, ""
}

// Execute drains one kind's stage. priorFailures are rows of this kind that already failed
// before execution (store lookups) and count toward the threshold. Rows sharing a natural key
// run serially in file order; distinct keys run with bounded concurrency.
func (e *Executor) Execute(ctx context.Context, kind EntityKind, rows []ResolvedRow, priorFailures int, rec *recorder) StageResult {
	state := &stageState{failed: priorFailures, eligible: len(rows) + priorFailures}
	if exceeded, reason := thresholdExceeded(e.config, state.failed, state.eligible); exceeded {
		state.abort(reason)
	}

	groups, order := groupByKey(rows)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.config.Concurrency)
	for _, key := range order {
		group := groups[key]
		g.Go(func() error {
			for _, row := range group {
				e.executeRow(gctx, kind, row, state, rec)
			}
			return nil
		})
	}
	_ = g.Wait()

	result := StageResult{Kind: kind, Status: StageCompleted}
	if e.config.DryRun {
		result.Status = StageDryRun
	}
	if state.aborted {
		result.Status = StageAborted
		result.Reason = state.reason
		rec.diagnose(Diagnostic{
			Kind:     kind,
			Category: CategoryStage,
			Severity: SeverityError,
			Message:  fmt.Sprintf("%s stage aborted: %s", kind.Label(), state.reason),
		})
	}
	return result
}

func (e *Executor) executeRow(ctx context.Context, kind EntityKind, row ResolvedRow, state *stageState, rec *recorder) {
	outcome := RowOutcome{Kind: kind, Row: row.Row, NaturalKey: row.Key.String(), Valid: true, Resolved: true}

	if err := ctx.Err(); err != nil {
		state.abort(fmt.Sprintf("submission cancelled: %v", err))
	}
	if state.isAborted() {
		outcome.Outcome = OutcomeBlocked
		rec.reject(outcome, CategoryStage, SeverityError, FieldIssue{Message: blockedMessage})
		return
	}

	if e.config.DryRun {
		e.resolution.Assign(row.Key, placeholderKey(row.Key))
		outcome.Outcome = OutcomeWouldImport
		rec.outcome(outcome)
		return
	}

	fields := row.Payload.Fields(row.Refs, e.audit)
	result, err := e.store.UpsertByNaturalKey(ctx, kind, row.Key, fields)
	if err != nil {
		outcome.Outcome = OutcomeFailed
		rec.reject(outcome, CategoryExecution, SeverityError, FieldIssue{Message: fmt.Sprintf("write rejected: %v", err)})
		state.fail(e.config)
		e.logger.Debug("upsert failed",
			zap.String("kind", string(kind)),
			zap.Int("row", row.Row),
			zap.Error(err),
		)
		return
	}

	e.resolution.Assign(row.Key, result.ID)
	outcome.SyntheticKey = result.ID
	outcome.Outcome = OutcomeUpdated
	if result.Created {
		outcome.Outcome = OutcomeCreated
	}
	rec.outcome(outcome)
}

// groupByKey buckets rows by natural key, preserving file order within and across buckets.
func groupByKey(rows []ResolvedRow) (map[string][]ResolvedRow, []string) {
	groups := make(map[string][]ResolvedRow, len(rows))
	order := make([]string, 0, len(rows))
	for _, row := range rows {
		key := row.Key.ID()
		if _, ok := groups[key]; !ok {
			order = append(order, key)
		}
		groups[key] = append(groups[key], row)
	}
	return groups, order
}

func placeholderKey(key NaturalKey) string {
	return "pending:" + string(key.Kind) + ":" + key.ID()
}
