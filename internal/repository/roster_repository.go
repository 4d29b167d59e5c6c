package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/sma-roster-import/internal/importer"
)

// QueryObserver receives the duration of each roster query.
type QueryObserver interface {
	ObserveDBQuery(label string, duration time.Duration)
}

// tableSpec describes how one entity kind maps onto its table.
type tableSpec struct {
	table string
	// columns are written on insert, in placeholder order after id.
	columns []string
	// conflict is the unique constraint behind the natural key.
	conflict []string
	// updatable are the only columns overwritten when the natural key already exists.
	updatable []string
	lookup    string
}

var rosterTables = map[importer.EntityKind]tableSpec{
	importer.KindAccount: {
		table:     "users",
		columns:   []string{"email", "full_name", "role", "teacher_type", "grade_band"},
		conflict:  []string{"email"},
		updatable: []string{"full_name", "role", "teacher_type", "grade_band"},
		lookup:    "SELECT id FROM users WHERE email = $1",
	},
	importer.KindClass: {
		table:     "classes",
		columns:   []string{"name", "academic_year", "grade", "level", "homeroom_teacher_id"},
		conflict:  []string{"name", "academic_year"},
		updatable: []string{"grade", "level", "homeroom_teacher_id"},
		lookup:    "SELECT id FROM classes WHERE name = $1 AND academic_year = $2",
	},
	importer.KindCourseSection: {
		table:     "course_sections",
		columns:   []string{"class_id", "course_type", "academic_year", "teacher_id"},
		conflict:  []string{"class_id", "course_type"},
		updatable: []string{"teacher_id"},
		lookup: `SELECT cs.id FROM course_sections cs JOIN classes c ON c.id = cs.class_id
        WHERE c.name = $1 AND c.academic_year = $2 AND cs.course_type = $3`,
	},
	importer.KindStudent: {
		table:     "students",
		columns:   []string{"student_number", "full_name", "grade", "class_id", "active"},
		conflict:  []string{"student_number"},
		updatable: []string{"full_name", "grade", "class_id", "active"},
		lookup:    "SELECT id FROM students WHERE student_number = $1",
	},
	importer.KindScoreEntry: {
		table:     "scores",
		columns:   []string{"student_id", "course_id", "exam_id", "assessment_code", "score", "entered_by"},
		conflict:  []string{"student_id", "exam_id", "assessment_code"},
		updatable: []string{"course_id", "score", "entered_by"},
		lookup: `SELECT sc.id FROM scores sc JOIN students s ON s.id = sc.student_id
        JOIN exams e ON e.id = sc.exam_id JOIN course_sections cs ON cs.id = e.course_section_id JOIN classes c ON c.id = cs.class_id
        WHERE s.student_number = $1 AND c.name = $2 AND c.academic_year = $3 AND cs.course_type = $4 AND e.name = $5 AND sc.assessment_code = $6`,
	},
	importer.KindExam: {
		table: "exams",
		lookup: `SELECT e.id FROM exams e JOIN course_sections cs ON cs.id = e.course_section_id JOIN classes c ON c.id = cs.class_id
        WHERE c.name = $1 AND c.academic_year = $2 AND cs.course_type = $3 AND e.name = $4`,
	},
}

// RosterRepository persists imported roster records keyed by natural key.
type RosterRepository struct {
	db       *sqlx.DB
	observer QueryObserver
}

// NewRosterRepository constructs a RosterRepository. observer may be nil.
func NewRosterRepository(db *sqlx.DB, observer QueryObserver) *RosterRepository {
	return &RosterRepository{db: db, observer: observer}
}

// LookupByNaturalKey returns the id of the record with the key, or importer.ErrNotFound.
func (r *RosterRepository) LookupByNaturalKey(ctx context.Context, kind importer.EntityKind, key importer.NaturalKey) (string, error) {
	spec, ok := rosterTables[kind]
	if !ok {
		return "", fmt.Errorf("lookup %s: unsupported kind", kind)
	}
	args := make([]interface{}, len(key.Parts))
	for i, part := range key.Parts {
		args[i] = part
	}

	start := time.Now()
	var id string
	err := r.db.GetContext(ctx, &id, spec.lookup, args...)
	r.observe("lookup_"+string(kind), start)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", importer.ErrNotFound
		}
		return "", fmt.Errorf("lookup %s: %w", kind, err)
	}
	return id, nil
}

// UpsertByNaturalKey inserts the record or, when its natural key exists, overwrites the updatable columns.
func (r *RosterRepository) UpsertByNaturalKey(ctx context.Context, kind importer.EntityKind, key importer.NaturalKey, fields map[string]interface{}) (importer.UpsertResult, error) {
	spec, ok := rosterTables[kind]
	if !ok || len(spec.columns) == 0 {
		return importer.UpsertResult{}, fmt.Errorf("upsert %s: unsupported kind", kind)
	}

	args := make([]interface{}, 0, len(spec.columns)+1)
	args = append(args, uuid.NewString())
	for _, column := range spec.columns {
		args = append(args, fields[column])
	}

	start := time.Now()
	var result struct {
		ID      string `db:"id"`
		Created bool   `db:"created"`
	}
	err := r.db.QueryRowxContext(ctx, spec.upsertQuery(), args...).StructScan(&result)
	r.observe("upsert_"+string(kind), start)
	if err != nil {
		return importer.UpsertResult{}, fmt.Errorf("upsert %s %q: %w", kind, key.String(), err)
	}
	return importer.UpsertResult{ID: result.ID, Created: result.Created}, nil
}

func (s tableSpec) upsertQuery() string {
	placeholders := make([]string, len(s.columns)+1)
	for i := range placeholders {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
	}
	assignments := make([]string, 0, len(s.updatable)+1)
	for _, column := range s.updatable {
		assignments = append(assignments, fmt.Sprintf("%s = EXCLUDED.%s", column, column))
	}
	assignments = append(assignments, "updated_at = NOW()")

	return fmt.Sprintf(`INSERT INTO %s (id, %s) VALUES (%s)
        ON CONFLICT (%s) DO UPDATE SET %s
        RETURNING id, (xmax = 0) AS created`,
		s.table,
		strings.Join(s.columns, ", "),
		strings.Join(placeholders, ", "),
		strings.Join(s.conflict, ", "),
		strings.Join(assignments, ", "),
	)
}

func (r *RosterRepository) observe(label string, start time.Time) {
	if r.observer != nil {
		r.observer.ObserveDBQuery(label, time.Since(start))
	}
}
