package repository

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-roster-import/internal/importer"
)

func newRosterMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

type queryRecorder struct {
	labels []string
}

func (q *queryRecorder) ObserveDBQuery(label string, _ time.Duration) {
	q.labels = append(q.labels, label)
}

func TestRosterRepositoryLookupFound(t *testing.T) {
	db, mock, cleanup := newRosterMock(t)
	defer cleanup()
	observer := &queryRecorder{}
	repo := NewRosterRepository(db, observer)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT id FROM classes WHERE name = $1 AND academic_year = $2")).
		WithArgs("7A", "2024-2025").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("class-1"))

	id, err := repo.LookupByNaturalKey(context.Background(), importer.KindClass, importer.NewKey(importer.KindClass, "7A", "2024-2025"))
	require.NoError(t, err)
	assert.Equal(t, "class-1", id)
	assert.Equal(t, []string{"lookup_class"}, observer.labels)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRosterRepositoryLookupNotFound(t *testing.T) {
	db, mock, cleanup := newRosterMock(t)
	defer cleanup()
	repo := NewRosterRepository(db, nil)

	mock.ExpectQuery(regexp.QuoteMeta("FROM exams e JOIN course_sections cs")).
		WithArgs("7A", "2024-2025", "LT", "Midterm").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.LookupByNaturalKey(context.Background(), importer.KindExam, importer.NewKey(importer.KindExam, "7A", "2024-2025", "LT", "Midterm"))
	assert.ErrorIs(t, err, importer.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRosterRepositoryLookupError(t *testing.T) {
	db, mock, cleanup := newRosterMock(t)
	defer cleanup()
	repo := NewRosterRepository(db, nil)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT id FROM users WHERE email = $1")).
		WithArgs("ana@school.id").
		WillReturnError(errors.New("connection refused"))

	_, err := repo.LookupByNaturalKey(context.Background(), importer.KindAccount, importer.NewKey(importer.KindAccount, "ana@school.id"))
	require.Error(t, err)
	assert.False(t, errors.Is(err, importer.ErrNotFound))
	assert.Contains(t, err.Error(), "lookup account")
}

func TestRosterRepositoryUpsertCreated(t *testing.T) {
	db, mock, cleanup := newRosterMock(t)
	defer cleanup()
	repo := NewRosterRepository(db, nil)

	query := "INSERT INTO course_sections (id, class_id, course_type, academic_year, teacher_id) VALUES ($1, $2, $3, $4, $5)\n" +
		"        ON CONFLICT (class_id, course_type) DO UPDATE SET teacher_id = EXCLUDED.teacher_id, updated_at = NOW()\n" +
		"        RETURNING id, (xmax = 0) AS created"
	mock.ExpectQuery(regexp.QuoteMeta(query)).
		WithArgs(sqlmock.AnyArg(), "class-1", "LT", "2024-2025", nil).
		WillReturnRows(sqlmock.NewRows([]string{"id", "created"}).AddRow("course-1", true))

	result, err := repo.UpsertByNaturalKey(context.Background(), importer.KindCourseSection,
		importer.NewKey(importer.KindCourseSection, "7A", "2024-2025", "LT"),
		map[string]interface{}{"class_id": "class-1", "course_type": "LT", "academic_year": "2024-2025", "teacher_id": nil})
	require.NoError(t, err)
	assert.Equal(t, importer.UpsertResult{ID: "course-1", Created: true}, result)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRosterRepositoryUpsertUpdated(t *testing.T) {
	db, mock, cleanup := newRosterMock(t)
	defer cleanup()
	repo := NewRosterRepository(db, nil)

	mock.ExpectQuery(regexp.QuoteMeta("ON CONFLICT (student_number) DO UPDATE SET full_name = EXCLUDED.full_name, grade = EXCLUDED.grade, class_id = EXCLUDED.class_id, active = EXCLUDED.active")).
		WithArgs(sqlmock.AnyArg(), "S-1", "Fajar", 7, nil, true).
		WillReturnRows(sqlmock.NewRows([]string{"id", "created"}).AddRow("student-1", false))

	result, err := repo.UpsertByNaturalKey(context.Background(), importer.KindStudent, importer.NewKey(importer.KindStudent, "S-1"),
		map[string]interface{}{"student_number": "S-1", "full_name": "Fajar", "grade": 7, "class_id": nil, "active": true})
	require.NoError(t, err)
	assert.False(t, result.Created)
	assert.Equal(t, "student-1", result.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRosterRepositoryUpsertRejected(t *testing.T) {
	db, mock, cleanup := newRosterMock(t)
	defer cleanup()
	repo := NewRosterRepository(db, nil)

	mock.ExpectQuery("INSERT INTO scores").
		WillReturnError(errors.New(`new row violates check constraint "scores_score_check"`))

	_, err := repo.UpsertByNaturalKey(context.Background(), importer.KindScoreEntry,
		importer.NewKey(importer.KindScoreEntry, "S-1", "7A", "2024-2025", "LT", "Midterm", "FA1"),
		map[string]interface{}{"student_id": "s", "course_id": "c", "exam_id": "e", "assessment_code": "FA1", "score": 101.0})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "scores_score_check")
}

func TestRosterRepositoryRejectsLookupOnlyKindWrites(t *testing.T) {
	db, _, cleanup := newRosterMock(t)
	defer cleanup()
	repo := NewRosterRepository(db, nil)

	_, err := repo.UpsertByNaturalKey(context.Background(), importer.KindExam, importer.NewKey(importer.KindExam, "x"), nil)
	assert.Error(t, err)
}
