package importer

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"golang.org/x/sync/errgroup"
)

var (
	academicYearPattern   = regexp.MustCompile(`^(\d{4})-(\d{4})$`)
	assessmentCodePattern = regexp.MustCompile(`^(FA[1-8]|SA[1-4]|MID|FINAL)$`)
)

// Validator applies the per-kind field rules to candidate rows. It is safe for concurrent use.
type Validator struct {
	validate *validator.Validate
}

// NewValidator builds a validator with the roster rules registered.
func NewValidator() *Validator {
	v := validator.New()
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("csv"), ",", 2)[0]
		if name == "" || name == "-" {
			return field.Name
		}
		return name
	})
	_ = v.RegisterValidation("academic_year", validAcademicYear)
	_ = v.RegisterValidation("assessment_code", func(fl validator.FieldLevel) bool {
		return assessmentCodePattern.MatchString(fl.Field().String())
	})
	v.RegisterStructValidation(accountRules, AccountPayload{})
	v.RegisterStructValidation(studentRules, StudentPayload{})
	return &Validator{validate: v}
}

// Validate classifies a single row. It never fails; problems become issues on the returned row.
func (v *Validator) Validate(row CandidateRow) ValidatedRow {
	result := ValidatedRow{CandidateRow: row}
	if row.ParseError != "" {
		result.Issues = []FieldIssue{{Field: "row", Message: row.ParseError}}
		return result
	}
	s, ok := schemas[row.Kind]
	if !ok {
		result.Issues = []FieldIssue{{Field: "row", Message: fmt.Sprintf("%s rows cannot be imported", row.Kind.Label())}}
		return result
	}

	d := newDecoder(row)
	payload := s.decode(d)
	issues := d.issues

	if err := v.validate.Struct(payload); err != nil {
		var fieldErrs validator.ValidationErrors
		if !errors.As(err, &fieldErrs) {
			issues = append(issues, FieldIssue{Field: "row", Message: err.Error()})
		}
		for _, fe := range fieldErrs {
			if d.failed[fe.Field()] {
				continue
			}
			issues = append(issues, FieldIssue{Field: fe.Field(), Message: describe(fe)})
		}
	}

	if len(issues) > 0 {
		result.Issues = issues
		return result
	}
	result.Payload = payload
	return result
}

// ValidateAll validates rows with up to workers goroutines. Output order matches input order.
func (v *Validator) ValidateAll(ctx context.Context, rows []CandidateRow, workers int) []ValidatedRow {
	out := make([]ValidatedRow, len(rows))
	if workers <= 1 || len(rows) < 2 {
		for i, row := range rows {
			out[i] = v.Validate(row)
		}
		return out
	}

	g, _ := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i := range rows {
		i := i
		g.Go(func() error {
			out[i] = v.Validate(rows[i])
			return nil
		})
	}
	_ = g.Wait()
	return out
}

func accountRules(sl validator.StructLevel) {
	account := sl.Current().Interface().(AccountPayload)
	switch {
	case account.Role == RoleTeacher && account.TeacherType == "":
		sl.ReportError(account.TeacherType, "teacher_type", "TeacherType", "teacher_type_required", "")
	case account.Role != RoleTeacher && account.TeacherType != "":
		sl.ReportError(account.TeacherType, "teacher_type", "TeacherType", "teacher_type_forbidden", "")
	}
	if account.GradeBand != "" && account.Role != RoleHead {
		sl.ReportError(account.GradeBand, "grade_band", "GradeBand", "grade_band_forbidden", "")
	}
}

func studentRules(sl validator.StructLevel) {
	student := sl.Current().Interface().(StudentPayload)
	if student.ClassName != "" && student.AcademicYear == "" {
		sl.ReportError(student.AcademicYear, "academic_year", "AcademicYear", "required_with_class", "")
	}
	if student.ClassName == "" && student.AcademicYear != "" {
		sl.ReportError(student.ClassName, "class_name", "ClassName", "required_with_year", "")
	}
}

func validAcademicYear(fl validator.FieldLevel) bool {
	match := academicYearPattern.FindStringSubmatch(fl.Field().String())
	if match == nil {
		return false
	}
	start, _ := strconv.Atoi(match[1])
	end, _ := strconv.Atoi(match[2])
	return end == start+1
}

// describe renders a field error as a stable, human-readable message.
func describe(fe validator.FieldError) string {
	field := fe.Field()
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "email":
		return fmt.Sprintf("%s must be a valid email address, got %q", field, fe.Value())
	case "oneof":
		return fmt.Sprintf("%s must be one of %s, got %q", field, strings.ReplaceAll(fe.Param(), " ", ", "), fe.Value())
	case "max":
		return fmt.Sprintf("%s must be at most %s characters", field, fe.Param())
	case "gte":
		return fmt.Sprintf("%s must be at least %s, got %v", field, fe.Param(), deref(fe.Value()))
	case "lte":
		return fmt.Sprintf("%s must be at most %s, got %v", field, fe.Param(), deref(fe.Value()))
	case "academic_year":
		return fmt.Sprintf("%s must look like 2024-2025, got %q", field, fe.Value())
	case "assessment_code":
		return fmt.Sprintf("%s must be one of FA1-FA8, SA1-SA4, MID, FINAL, got %q", field, fe.Value())
	case "teacher_type_required":
		return "teacher_type is required when role is teacher"
	case "teacher_type_forbidden":
		return "teacher_type must be empty unless role is teacher"
	case "grade_band_forbidden":
		return "grade_band is only allowed when role is head"
	case "required_with_class":
		return "academic_year is required when class_name is set"
	case "required_with_year":
		return "class_name is required when academic_year is set"
	default:
		return fmt.Sprintf("%s failed %s validation", field, fe.Tag())
	}
}

func deref(value interface{}) interface{} {
	rv := reflect.ValueOf(value)
	if rv.Kind() == reflect.Ptr {
		if rv.IsNil() {
			return nil
		}
		return rv.Elem().Interface()
	}
	return value
}
