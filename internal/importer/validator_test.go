package importer

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func candidate(kind EntityKind, row int, values map[string]string) CandidateRow {
	return CandidateRow{Kind: kind, Row: row, Values: values}
}

func scoreValues(score string) map[string]string {
	return map[string]string{
		"student_number":  "S-001",
		"class_name":      "7A",
		"academic_year":   "2024-2025",
		"course_type":     "LT",
		"exam_name":       "Midterm",
		"assessment_code": "FA1",
		"score":           score,
	}
}

func TestValidateScoreNonNumericYieldsSingleDiagnostic(t *testing.T) {
	v := NewValidator()

	result := v.Validate(candidate(KindScoreEntry, 2, scoreValues("abc")))

	assert.False(t, result.Valid())
	assert.Nil(t, result.Payload)
	require.Len(t, result.Issues, 1)
	assert.Equal(t, "score", result.Issues[0].Field)
	assert.Equal(t, `score must be a number, got "abc"`, result.Issues[0].Message)
}

func TestValidateScoreBounds(t *testing.T) {
	v := NewValidator()
	cases := []struct {
		score   string
		valid   bool
		message string
	}{
		{score: "0", valid: true},
		{score: "100", valid: true},
		{score: "87.25", valid: true},
		{score: "87.255", message: `score must have at most 2 decimal places, got "87.255"`},
		{score: "-1", message: "score must be at least 0, got -1"},
		{score: "100.5", message: "score must be at most 100, got 100.5"},
		{score: "", message: "score is required"},
	}
	for _, tc := range cases {
		t.Run(tc.score, func(t *testing.T) {
			result := v.Validate(candidate(KindScoreEntry, 2, scoreValues(tc.score)))
			assert.Equal(t, tc.valid, result.Valid())
			if tc.valid {
				assert.Empty(t, result.Issues)
				require.NotNil(t, result.Payload)
				return
			}
			require.Len(t, result.Issues, 1)
			assert.Equal(t, tc.message, result.Issues[0].Message)
		})
	}
}

func TestValidateAccountTeacherTypeRules(t *testing.T) {
	v := NewValidator()

	teacher := v.Validate(candidate(KindAccount, 2, map[string]string{
		"email": "Ana@School.id", "full_name": "Ana", "role": "teacher",
	}))
	require.Len(t, teacher.Issues, 1)
	assert.Equal(t, "teacher_type", teacher.Issues[0].Field)
	assert.Equal(t, "teacher_type is required when role is teacher", teacher.Issues[0].Message)

	admin := v.Validate(candidate(KindAccount, 3, map[string]string{
		"email": "budi@school.id", "full_name": "Budi", "role": "admin", "teacher_type": "LT",
	}))
	require.Len(t, admin.Issues, 1)
	assert.Equal(t, "teacher_type must be empty unless role is teacher", admin.Issues[0].Message)

	ok := v.Validate(candidate(KindAccount, 4, map[string]string{
		"email": "Citra@School.id", "full_name": "Citra", "role": "Teacher", "teacher_type": "kcfs",
	}))
	require.True(t, ok.Valid(), "%v", ok.Issues)
	account := ok.Payload.(*AccountPayload)
	assert.Equal(t, "citra@school.id", account.Email)
	assert.Equal(t, "KCFS", account.TeacherType)
	assert.Equal(t, NewKey(KindAccount, "citra@school.id"), ok.Payload.NaturalKey())
}

func TestValidateAccountGradeBandOnlyForHead(t *testing.T) {
	v := NewValidator()

	head := v.Validate(candidate(KindAccount, 2, map[string]string{
		"email": "head@school.id", "full_name": "Dewi", "role": "head", "grade_band": "1-2",
	}))
	assert.True(t, head.Valid(), "%v", head.Issues)

	office := v.Validate(candidate(KindAccount, 3, map[string]string{
		"email": "office@school.id", "full_name": "Eka", "role": "office member", "grade_band": "1-2",
	}))
	require.Len(t, office.Issues, 1)
	assert.Equal(t, "grade_band is only allowed when role is head", office.Issues[0].Message)
}

func TestValidateCollectsEveryFieldIssue(t *testing.T) {
	v := NewValidator()

	result := v.Validate(candidate(KindClass, 5, map[string]string{
		"name": "", "academic_year": "2024-2026", "grade": "13", "level": "E9",
	}))

	assert.False(t, result.Valid())
	fields := make([]string, 0, len(result.Issues))
	for _, issue := range result.Issues {
		fields = append(fields, issue.Field)
	}
	assert.ElementsMatch(t, []string{"name", "academic_year", "grade", "level"}, fields)
}

func TestValidateStudentRequiresYearWithClass(t *testing.T) {
	v := NewValidator()

	result := v.Validate(candidate(KindStudent, 2, map[string]string{
		"student_number": "S-1", "full_name": "Fajar", "grade": "7", "class_name": "7A",
	}))

	require.Len(t, result.Issues, 1)
	assert.Equal(t, "academic_year is required when class_name is set", result.Issues[0].Message)
}

func TestValidateParseFailureBecomesRowIssue(t *testing.T) {
	v := NewValidator()

	result := v.Validate(CandidateRow{Kind: KindStudent, Row: 9, ParseError: "expected 3 columns, found 2"})

	assert.False(t, result.Valid())
	require.Len(t, result.Issues, 1)
	assert.Equal(t, FieldIssue{Field: "row", Message: "expected 3 columns, found 2"}, result.Issues[0])
}

func TestValidateIsDeterministic(t *testing.T) {
	v := NewValidator()
	rows := make([]CandidateRow, 0, 40)
	for i := 0; i < 40; i++ {
		rows = append(rows, candidate(KindClass, i+2, map[string]string{
			"name":          fmt.Sprintf("class-%d", i),
			"academic_year": "2024/2025",
			"grade":         fmt.Sprint(i % 15),
			"level":         "E4",
		}))
	}

	first := v.ValidateAll(context.Background(), rows, 8)
	second := v.ValidateAll(context.Background(), rows, 1)

	require.Len(t, first, len(rows))
	assert.Equal(t, first, second)
	for i, row := range first {
		assert.Equal(t, rows[i].Row, row.Row, "order is preserved")
	}
}
