package importer

import (
	"context"
	"errors"
)

// ErrNotFound is returned by a Lookup when no record has the natural key.
var ErrNotFound = errors.New("record not found")

// Lookup finds persisted records by natural key.
type Lookup interface {
	LookupByNaturalKey(ctx context.Context, kind EntityKind, key NaturalKey) (string, error)
}

// UpsertResult is the synthetic key of a written record and whether it was newly created.
type UpsertResult struct {
	ID      string
	Created bool
}

// Upserter writes records keyed by natural key, inserting when absent and updating otherwise.
type Upserter interface {
	UpsertByNaturalKey(ctx context.Context, kind EntityKind, key NaturalKey, fields map[string]interface{}) (UpsertResult, error)
}

// Store is everything the pipeline needs from persistence.
type Store interface {
	Lookup
	Upserter
}
