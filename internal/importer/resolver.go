package importer

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"go.uber.org/zap"
)

// Resolver maps the foreign natural keys of valid rows onto synthetic keys, consulting the
// submission's resolution map first and the persisted store second.
type Resolver struct {
	lookup     Lookup
	resolution *ResolutionMap
	logger     *zap.Logger
}

// NewResolver constructs a resolver over a lookup and a request-scoped resolution map.
func NewResolver(lookup Lookup, resolution *ResolutionMap, logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{lookup: lookup, resolution: resolution, logger: logger}
}

// Resolution is the outcome of resolving one kind's valid rows.
type Resolution struct {
	// Ready holds rows eligible for execution, in file order.
	Ready []ResolvedRow
	// LookupFailures counts rows rejected because the store could not be queried.
	LookupFailures int
}

// Resolve processes the valid rows of one kind in file order. Earlier duplicates of a natural
// key are recorded as superseded, rows with a missing reference as unresolved, and rows whose
// lookup errored as failed. Everything else is returned ready for execution.
func (r *Resolver) Resolve(ctx context.Context, kind EntityKind, rows []ValidatedRow, rec *recorder) Resolution {
	var result Resolution

	last := make(map[string]int, len(rows))
	for i, row := range rows {
		last[row.Payload.NaturalKey().ID()] = i
	}

	for i, row := range rows {
		key := row.Payload.NaturalKey()
		outcome := RowOutcome{Kind: kind, Row: row.Row, NaturalKey: key.String(), Valid: true}

		if winner := last[key.ID()]; winner != i {
			outcome.Outcome = OutcomeSuperseded
			rec.reject(outcome, CategoryResolution, SeverityWarning, FieldIssue{
				Message: "superseded by row " + strconv.Itoa(rows[winner].Row),
			})
			continue
		}

		refs, unresolved, lookupErr := r.references(ctx, kind, row.Payload.References())
		switch {
		case lookupErr != nil:
			outcome.Outcome = OutcomeFailed
			rec.reject(outcome, CategoryExecution, SeverityError, *lookupErr)
			result.LookupFailures++
		case len(unresolved) > 0:
			outcome.Outcome = OutcomeUnresolved
			rec.reject(outcome, CategoryResolution, SeverityError, unresolved...)
		default:
			result.Ready = append(result.Ready, ResolvedRow{ValidatedRow: row, Key: key, Refs: refs})
		}
	}

	r.logger.Debug("resolved rows",
		zap.String("kind", string(kind)),
		zap.Int("valid", len(rows)),
		zap.Int("ready", len(result.Ready)),
		zap.Int("lookup_failures", result.LookupFailures),
	)
	return result
}

// references resolves each reference in declaration order. A lookup error stops resolution of the row.
func (r *Resolver) references(ctx context.Context, kind EntityKind, refs []Reference) (map[string]string, []FieldIssue, *FieldIssue) {
	resolved := make(map[string]string, len(refs))
	var unresolved []FieldIssue
	for _, ref := range refs {
		if ref.Key.Kind != kind && !ref.Key.Kind.Precedes(kind) {
			unresolved = append(unresolved, FieldIssue{
				Field:   ref.Field,
				Message: fmt.Sprintf("%s cannot reference %s rows", kind.Label(), ref.Key.Kind.Label()),
			})
			continue
		}

		id, found, err := r.resolve(ctx, ref.Key)
		if err != nil {
			return nil, nil, &FieldIssue{
				Field:   ref.Field,
				Message: fmt.Sprintf("lookup of %s '%s' failed: %v", ref.Key.Kind.Label(), ref.Key, err),
			}
		}
		if !found {
			unresolved = append(unresolved, FieldIssue{
				Field:   ref.Field,
				Message: fmt.Sprintf("referenced %s '%s' not found", ref.Key.Kind.Label(), ref.Key),
			})
			continue
		}
		resolved[ref.Column] = id
	}
	return resolved, unresolved, nil
}

func (r *Resolver) resolve(ctx context.Context, key NaturalKey) (string, bool, error) {
	if id, found, known := r.resolution.Get(key); known {
		return id, found, nil
	}
	id, err := r.lookup.LookupByNaturalKey(ctx, key.Kind, key)
	if errors.Is(err, ErrNotFound) {
		r.resolution.MarkMissing(key)
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	r.resolution.Assign(key, id)
	return id, true, nil
}
