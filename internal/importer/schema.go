package importer

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Account roles and teacher types accepted in roster files.
const (
	RoleAdmin        = "admin"
	RoleHead         = "head"
	RoleTeacher      = "teacher"
	RoleOfficeMember = "office_member"
)

// schema describes the columns of one entity kind and how to coerce them into a payload.
type schema struct {
	kind    EntityKind
	columns []string
	decode  func(d *decoder) Payload
}

var schemas = map[EntityKind]schema{
	KindAccount: {
		kind:    KindAccount,
		columns: []string{"email", "full_name", "role", "teacher_type", "grade_band"},
		decode:  decodeAccount,
	},
	KindClass: {
		kind:    KindClass,
		columns: []string{"name", "academic_year", "grade", "level", "homeroom_teacher_email"},
		decode:  decodeClass,
	},
	KindCourseSection: {
		kind:    KindCourseSection,
		columns: []string{"class_name", "academic_year", "course_type", "teacher_email"},
		decode:  decodeCourseSection,
	},
	KindStudent: {
		kind:    KindStudent,
		columns: []string{"student_number", "full_name", "grade", "class_name", "academic_year", "active"},
		decode:  decodeStudent,
	},
	KindScoreEntry: {
		kind:    KindScoreEntry,
		columns: []string{"student_number", "class_name", "academic_year", "course_type", "exam_name", "assessment_code", "score"},
		decode:  decodeScoreEntry,
	},
}

// Columns returns the declared columns for a kind, used for templates and exports.
func Columns(kind EntityKind) []string {
	s, ok := schemas[kind]
	if !ok {
		return nil
	}
	out := make([]string, len(s.columns))
	copy(out, s.columns)
	return out
}

// AccountPayload is a validated Account row.
type AccountPayload struct {
	Email       string `csv:"email" validate:"required,email,max=254"`
	FullName    string `csv:"full_name" validate:"required,max=120"`
	Role        string `csv:"role" validate:"required,oneof=admin head teacher office_member"`
	TeacherType string `csv:"teacher_type" validate:"omitempty,oneof=LT IT KCFS"`
	GradeBand   string `csv:"grade_band" validate:"omitempty,oneof=1-2 3-4 5-6 1-6"`
}

func (p *AccountPayload) Kind() EntityKind { return KindAccount }

func (p *AccountPayload) NaturalKey() NaturalKey { return NewKey(KindAccount, p.Email) }

func (p *AccountPayload) References() []Reference { return nil }

func (p *AccountPayload) Fields(_ map[string]string, _ Audit) map[string]interface{} {
	return map[string]interface{}{
		"email":        p.Email,
		"full_name":    p.FullName,
		"role":         p.Role,
		"teacher_type": nullable(p.TeacherType),
		"grade_band":   nullable(p.GradeBand),
	}
}

// ClassPayload is a validated Class row.
type ClassPayload struct {
	Name                 string `csv:"name" validate:"required,max=60"`
	AcademicYear         string `csv:"academic_year" validate:"required,academic_year"`
	Grade                *int   `csv:"grade" validate:"required,gte=1,lte=12"`
	Level                string `csv:"level" validate:"omitempty,oneof=E1 E2 E3"`
	HomeroomTeacherEmail string `csv:"homeroom_teacher_email" validate:"omitempty,email"`
}

func (p *ClassPayload) Kind() EntityKind { return KindClass }

func (p *ClassPayload) NaturalKey() NaturalKey { return classKey(p.Name, p.AcademicYear) }

func (p *ClassPayload) References() []Reference {
	if p.HomeroomTeacherEmail == "" {
		return nil
	}
	return []Reference{{
		Field:  "homeroom_teacher_email",
		Column: "homeroom_teacher_id",
		Key:    NewKey(KindAccount, p.HomeroomTeacherEmail),
	}}
}

func (p *ClassPayload) Fields(refs map[string]string, _ Audit) map[string]interface{} {
	return map[string]interface{}{
		"name":                p.Name,
		"academic_year":       p.AcademicYear,
		"grade":               *p.Grade,
		"level":               nullable(p.Level),
		"homeroom_teacher_id": nullable(refs["homeroom_teacher_id"]),
	}
}

// CourseSectionPayload is a validated CourseSection row.
type CourseSectionPayload struct {
	ClassName    string `csv:"class_name" validate:"required,max=60"`
	AcademicYear string `csv:"academic_year" validate:"required,academic_year"`
	CourseType   string `csv:"course_type" validate:"required,oneof=LT IT KCFS"`
	TeacherEmail string `csv:"teacher_email" validate:"omitempty,email"`
}

func (p *CourseSectionPayload) Kind() EntityKind { return KindCourseSection }

func (p *CourseSectionPayload) NaturalKey() NaturalKey {
	return courseKey(p.ClassName, p.AcademicYear, p.CourseType)
}

func (p *CourseSectionPayload) References() []Reference {
	refs := []Reference{{
		Field:  "class_name",
		Column: "class_id",
		Key:    classKey(p.ClassName, p.AcademicYear),
	}}
	if p.TeacherEmail != "" {
		refs = append(refs, Reference{
			Field:  "teacher_email",
			Column: "teacher_id",
			Key:    NewKey(KindAccount, p.TeacherEmail),
		})
	}
	return refs
}

func (p *CourseSectionPayload) Fields(refs map[string]string, _ Audit) map[string]interface{} {
	return map[string]interface{}{
		"class_id":      refs["class_id"],
		"course_type":   p.CourseType,
		"academic_year": p.AcademicYear,
		"teacher_id":    nullable(refs["teacher_id"]),
	}
}

// StudentPayload is a validated Student row.
type StudentPayload struct {
	StudentNumber string `csv:"student_number" validate:"required,max=32"`
	FullName      string `csv:"full_name" validate:"required,max=120"`
	Grade         *int   `csv:"grade" validate:"required,gte=1,lte=12"`
	ClassName     string `csv:"class_name" validate:"omitempty,max=60"`
	AcademicYear  string `csv:"academic_year" validate:"omitempty,academic_year"`
	Active        *bool  `csv:"active"`
}

func (p *StudentPayload) Kind() EntityKind { return KindStudent }

func (p *StudentPayload) NaturalKey() NaturalKey { return NewKey(KindStudent, p.StudentNumber) }

func (p *StudentPayload) References() []Reference {
	if p.ClassName == "" {
		return nil
	}
	return []Reference{{
		Field:  "class_name",
		Column: "class_id",
		Key:    classKey(p.ClassName, p.AcademicYear),
	}}
}

func (p *StudentPayload) Fields(refs map[string]string, _ Audit) map[string]interface{} {
	active := true
	if p.Active != nil {
		active = *p.Active
	}
	return map[string]interface{}{
		"student_number": p.StudentNumber,
		"full_name":      p.FullName,
		"grade":          *p.Grade,
		"class_id":       nullable(refs["class_id"]),
		"active":         active,
	}
}

// ScoreEntryPayload is a validated ScoreEntry row.
type ScoreEntryPayload struct {
	StudentNumber  string   `csv:"student_number" validate:"required,max=32"`
	ClassName      string   `csv:"class_name" validate:"required,max=60"`
	AcademicYear   string   `csv:"academic_year" validate:"required,academic_year"`
	CourseType     string   `csv:"course_type" validate:"required,oneof=LT IT KCFS"`
	ExamName       string   `csv:"exam_name" validate:"required,max=80"`
	AssessmentCode string   `csv:"assessment_code" validate:"required,assessment_code"`
	Score          *float64 `csv:"score" validate:"required,gte=0,lte=100"`
}

func (p *ScoreEntryPayload) Kind() EntityKind { return KindScoreEntry }

func (p *ScoreEntryPayload) NaturalKey() NaturalKey {
	return NewKey(KindScoreEntry, p.StudentNumber, p.ClassName, p.AcademicYear, p.CourseType, p.ExamName, p.AssessmentCode)
}

func (p *ScoreEntryPayload) References() []Reference {
	return []Reference{
		{Field: "student_number", Column: "student_id", Key: NewKey(KindStudent, p.StudentNumber)},
		{Field: "course_type", Column: "course_id", Key: courseKey(p.ClassName, p.AcademicYear, p.CourseType)},
		{Field: "exam_name", Column: "exam_id", Key: NewKey(KindExam, p.ClassName, p.AcademicYear, p.CourseType, p.ExamName)},
	}
}

func (p *ScoreEntryPayload) Fields(refs map[string]string, audit Audit) map[string]interface{} {
	return map[string]interface{}{
		"student_id":      refs["student_id"],
		"course_id":       refs["course_id"],
		"exam_id":         refs["exam_id"],
		"assessment_code": p.AssessmentCode,
		"score":           *p.Score,
		"entered_by":      nullable(audit.EnteredBy),
	}
}

func classKey(name, year string) NaturalKey {
	return NewKey(KindClass, name, year)
}

func courseKey(className, year, courseType string) NaturalKey {
	return NewKey(KindCourseSection, className, year, courseType)
}

func nullable(value string) interface{} {
	if value == "" {
		return nil
	}
	return value
}

func decodeAccount(d *decoder) Payload {
	return &AccountPayload{
		Email:       d.lower("email"),
		FullName:    d.text("full_name"),
		Role:        strings.ReplaceAll(d.lower("role"), " ", "_"),
		TeacherType: d.upper("teacher_type"),
		GradeBand:   d.text("grade_band"),
	}
}

func decodeClass(d *decoder) Payload {
	return &ClassPayload{
		Name:                 d.text("name"),
		AcademicYear:         d.text("academic_year"),
		Grade:                d.integer("grade"),
		Level:                d.upper("level"),
		HomeroomTeacherEmail: d.lower("homeroom_teacher_email"),
	}
}

func decodeCourseSection(d *decoder) Payload {
	return &CourseSectionPayload{
		ClassName:    d.text("class_name"),
		AcademicYear: d.text("academic_year"),
		CourseType:   d.upper("course_type"),
		TeacherEmail: d.lower("teacher_email"),
	}
}

func decodeStudent(d *decoder) Payload {
	return &StudentPayload{
		StudentNumber: d.text("student_number"),
		FullName:      d.text("full_name"),
		Grade:         d.integer("grade"),
		ClassName:     d.text("class_name"),
		AcademicYear:  d.text("academic_year"),
		Active:        d.boolean("active"),
	}
}

func decodeScoreEntry(d *decoder) Payload {
	return &ScoreEntryPayload{
		StudentNumber:  d.text("student_number"),
		ClassName:      d.text("class_name"),
		AcademicYear:   d.text("academic_year"),
		CourseType:     d.upper("course_type"),
		ExamName:       d.text("exam_name"),
		AssessmentCode: d.upper("assessment_code"),
		Score:          d.decimal("score", 2),
	}
}

// decoder coerces raw strings into typed values, recording one issue per failed field.
type decoder struct {
	row    CandidateRow
	issues []FieldIssue
	failed map[string]bool
}

func newDecoder(row CandidateRow) *decoder {
	return &decoder{row: row, failed: make(map[string]bool)}
}

func (d *decoder) text(column string) string {
	return strings.TrimSpace(d.row.Value(column))
}

func (d *decoder) lower(column string) string {
	return strings.ToLower(d.text(column))
}

func (d *decoder) upper(column string) string {
	return strings.ToUpper(d.text(column))
}

func (d *decoder) integer(column string) *int {
	raw := d.text(column)
	if raw == "" {
		return nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		d.fail(column, fmt.Sprintf("%s must be a whole number, got %q", column, raw))
		return nil
	}
	return &value
}

func (d *decoder) decimal(column string, places int) *float64 {
	raw := d.text(column)
	if raw == "" {
		return nil
	}
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(value) || math.IsInf(value, 0) {
		d.fail(column, fmt.Sprintf("%s must be a number, got %q", column, raw))
		return nil
	}
	if dot := strings.IndexByte(raw, '.'); dot >= 0 && len(raw)-dot-1 > places {
		d.fail(column, fmt.Sprintf("%s must have at most %d decimal places, got %q", column, places, raw))
		return nil
	}
	return &value
}

func (d *decoder) boolean(column string) *bool {
	raw := d.lower(column)
	var value bool
	switch raw {
	case "":
		return nil
	case "true", "yes", "y", "1":
		value = true
	case "false", "no", "n", "0":
		value = false
	default:
		d.fail(column, fmt.Sprintf("%s must be true or false, got %q", column, raw))
		return nil
	}
	return &value
}

func (d *decoder) fail(column, message string) {
	d.failed[column] = true
	d.issues = append(d.issues, FieldIssue{Field: column, Message: message})
}
