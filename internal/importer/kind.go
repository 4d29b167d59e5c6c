package importer

import (
	"fmt"
	"strconv"
	"strings"
)

// EntityKind names one importable (or lookup-only) roster entity.
type EntityKind string

const (
	KindAccount       EntityKind = "account"
	KindClass         EntityKind = "class"
	KindCourseSection EntityKind = "course_section"
	KindStudent       EntityKind = "student"
	KindScoreEntry    EntityKind = "score_entry"

	// KindExam is never imported. Exams already exist in the store and are only resolved by lookup.
	KindExam EntityKind = "exam"
)

// ImportOrder is the fixed dependency order stages run in.
var ImportOrder = []EntityKind{
	KindAccount,
	KindClass,
	KindCourseSection,
	KindStudent,
	KindScoreEntry,
}

var kindAliases = map[string]EntityKind{
	"account":         KindAccount,
	"accounts":        KindAccount,
	"class":           KindClass,
	"classes":         KindClass,
	"course_section":  KindCourseSection,
	"course_sections": KindCourseSection,
	"course":          KindCourseSection,
	"courses":         KindCourseSection,
	"student":         KindStudent,
	"students":        KindStudent,
	"score_entry":     KindScoreEntry,
	"score_entries":   KindScoreEntry,
	"score":           KindScoreEntry,
	"scores":          KindScoreEntry,
}

// ParseKind maps a user-supplied kind name onto an importable EntityKind.
func ParseKind(raw string) (EntityKind, error) {
	normalized := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(raw)), "-", "_")
	if kind, ok := kindAliases[normalized]; ok {
		return kind, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownKind, raw)
}

// Rank returns the position of the kind in ImportOrder. Lookup-only kinds rank before every stage.
func (k EntityKind) Rank() int {
	if k == KindExam {
		return -1
	}
	for i, candidate := range ImportOrder {
		if candidate == k {
			return i
		}
	}
	return len(ImportOrder)
}

// Precedes reports whether k may be referenced by rows of other.
func (k EntityKind) Precedes(other EntityKind) bool {
	return k.Rank() < other.Rank()
}

// Importable reports whether rows of this kind can be submitted.
func (k EntityKind) Importable() bool {
	r := k.Rank()
	return r >= 0 && r < len(ImportOrder)
}

// Label is the human-readable name used in diagnostics.
func (k EntityKind) Label() string {
	return strings.ReplaceAll(string(k), "_", " ")
}

// NaturalKey is the uploader-facing identity of a record, unique within its kind.
type NaturalKey struct {
	Kind  EntityKind
	Parts []string
}

// NewKey builds a natural key from already-normalised parts.
func NewKey(kind EntityKind, parts ...string) NaturalKey {
	return NaturalKey{Kind: kind, Parts: parts}
}

// String renders the key the way uploaders wrote it, parts separated by " / ".
// It is for display only; use ID for map keys.
func (k NaturalKey) String() string {
	return strings.Join(k.Parts, " / ")
}

// ID encodes the parts length-prefixed, so distinct keys never share an ID.
func (k NaturalKey) ID() string {
	var b strings.Builder
	for _, part := range k.Parts {
		b.WriteString(strconv.Itoa(len(part)))
		b.WriteByte(':')
		b.WriteString(part)
	}
	return b.String()
}

// IsZero reports whether the key has no parts.
func (k NaturalKey) IsZero() bool {
	return len(k.Parts) == 0
}
