package importer

// CandidateRow is one parsed source row. It is never modified after the parser emits it.
type CandidateRow struct {
	Kind EntityKind
	// Row is the 1-based spreadsheet record number; the header is row 1.
	Row    int
	Values map[string]string
	// ParseError is set when the row could not be read into columns at all.
	ParseError string
}

// Value returns the raw value for a declared column, or "" when absent.
func (c CandidateRow) Value(column string) string {
	if c.Values == nil {
		return ""
	}
	return c.Values[column]
}

// FieldIssue is a single field-level problem attached to a row.
type FieldIssue struct {
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
}

// ValidatedRow is a candidate row plus either a typed payload or the issues that prevented one.
type ValidatedRow struct {
	CandidateRow
	Payload Payload
	Issues  []FieldIssue
}

// Valid reports whether the row carries a payload and no issues.
func (v ValidatedRow) Valid() bool {
	return v.Payload != nil && len(v.Issues) == 0
}

// ResolvedRow is a valid row whose foreign references have all been mapped to synthetic keys.
type ResolvedRow struct {
	ValidatedRow
	Key NaturalKey
	// Refs maps the payload's reference column to the resolved synthetic key.
	Refs map[string]string
}

// Audit carries caller-supplied values written into audit columns.
type Audit struct {
	EnteredBy string
}

// Reference is a foreign natural key carried by a payload.
type Reference struct {
	// Field is the source column shown in diagnostics.
	Field string
	// Column receives the resolved synthetic key when the row is written.
	Column string
	Key    NaturalKey
}

// Payload is the typed, validated content of a row.
type Payload interface {
	Kind() EntityKind
	NaturalKey() NaturalKey
	References() []Reference
	// Fields returns the columns written on upsert, with resolved references filled in.
	Fields(refs map[string]string, audit Audit) map[string]interface{}
}
