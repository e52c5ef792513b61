package registry

import (
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/sis-request-api/internal/models"
)

// FieldErrors maps a field name to a human readable problem.
type FieldErrors map[string]string

// Empty reports whether no problems were recorded.
func (e FieldErrors) Empty() bool { return len(e) == 0 }

// CourseSelection is one row of a course_selector field.
type CourseSelection struct {
	CourseID int64  `json:"course_id" validate:"required,gt=0"`
	Section  string `json:"section,omitempty" validate:"omitempty,max=20"`
	Reason   string `json:"reason,omitempty" validate:"omitempty,max=500"`
}

// EquivalencyRow is one row of an equivalency_table field.
type EquivalencyRow struct {
	SourceCourseCode   string `json:"source_course_code" validate:"required,max=30"`
	SourceCourseNameAr string `json:"source_course_name_ar,omitempty" validate:"omitempty,max=255"`
	SourceCourseNameEn string `json:"source_course_name_en,omitempty" validate:"omitempty,max=255"`
	SourceCredits      int    `json:"source_credits" validate:"required,gt=0,lte=12"`
	SourceGrade        string `json:"source_grade,omitempty" validate:"omitempty,max=5"`
	TargetCourseID     *int64 `json:"target_course_id,omitempty" validate:"omitempty,gt=0"`
}

// Reference is an id that must exist in external reference data.
type Reference struct {
	Field string
	Kind  models.ReferenceKind
	ID    int64
}

var phonePattern = regexp.MustCompile(`^\+?[0-9][0-9 \-]{6,19}$`)

func newFieldValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("phone", func(fl validator.FieldLevel) bool {
		return phonePattern.MatchString(fl.Field().String())
	})
	return v
}

// ValidateFields checks dynamic values against the type schema and returns a normalised copy.
// Drafts pass requireAll=false so incomplete forms can be saved.
func (r *Registry) ValidateFields(code string, fields models.FormFields, requireAll bool) (models.FormFields, FieldErrors, error) {
	t, err := r.Lookup(code)
	if err != nil {
		return nil, nil, err
	}

	problems := FieldErrors{}
	out := models.FormFields{}

	for name := range fields {
		if _, ok := t.Field(name); !ok {
			problems[name] = "unknown field"
		}
	}

	for _, spec := range t.Fields {
		value, present := fields[spec.Name]
		if !present || isBlank(value) {
			if requireAll && spec.Required {
				problems[spec.Name] = "is required"
			}
			continue
		}
		normalized, msg := r.normalize(spec, value)
		if msg != "" {
			problems[spec.Name] = msg
			continue
		}
		out[spec.Name] = normalized
	}

	return out, problems, nil
}

func isBlank(v interface{}) bool {
	switch val := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(val) == ""
	case []interface{}:
		return len(val) == 0
	}
	return false
}

func (r *Registry) normalize(spec models.FieldSpec, value interface{}) (interface{}, string) {
	switch spec.Type {
	case models.FieldText, models.FieldTextarea, models.FieldTel:
		s, ok := value.(string)
		if !ok {
			return nil, "must be a string"
		}
		s = strings.TrimSpace(s)
		tag := map[models.FieldType]string{
			models.FieldText:     "max=255",
			models.FieldTextarea: "max=5000",
			models.FieldTel:      "phone",
		}[spec.Type]
		if err := r.validate.Var(s, tag); err != nil {
			if spec.Type == models.FieldTel {
				return nil, "must be a valid phone number"
			}
			return nil, "is too long"
		}
		return s, ""

	case models.FieldSelect:
		if len(spec.Options) > 0 {
			s, ok := value.(string)
			if !ok {
				return nil, "must be a string"
			}
			values := make([]string, len(spec.Options))
			for i, o := range spec.Options {
				values[i] = o.Value
			}
			if err := r.validate.Var(s, "oneof="+strings.Join(values, " ")); err != nil {
				return nil, "must be one of: " + strings.Join(values, ", ")
			}
			return s, ""
		}
		id, ok := asInt64(value)
		if !ok || id <= 0 {
			return nil, "must be a valid identifier"
		}
		return id, ""

	case models.FieldNumber:
		n, ok := asInt64(value)
		if !ok {
			return nil, "must be an integer"
		}
		if msg := checkRange(spec, float64(n)); msg != "" {
			return nil, msg
		}
		return n, ""

	case models.FieldDecimal:
		d, ok := asDecimal(value)
		if !ok {
			return nil, "must be a number"
		}
		if !d.Equal(d.Round(2)) {
			return nil, "must have at most 2 decimal places"
		}
		f, _ := d.Float64()
		if msg := checkRange(spec, f); msg != "" {
			return nil, msg
		}
		return d.StringFixed(2), ""

	case models.FieldBoolean:
		b, ok := value.(bool)
		if !ok {
			return nil, "must be true or false"
		}
		return b, ""

	case models.FieldDate:
		s, ok := value.(string)
		if !ok || r.validate.Var(s, "datetime=2006-01-02") != nil {
			return nil, "must be a date formatted YYYY-MM-DD"
		}
		return s, ""

	case models.FieldCourseSelector:
		var rows []CourseSelection
		if err := remarshal(value, &rows); err != nil {
			return nil, "must be a list of courses"
		}
		seen := make(map[int64]struct{}, len(rows))
		for i, row := range rows {
			if err := r.validate.Struct(row); err != nil {
				return nil, fmt.Sprintf("row %d is invalid", i+1)
			}
			if _, dup := seen[row.CourseID]; dup {
				return nil, fmt.Sprintf("course %d is listed more than once", row.CourseID)
			}
			seen[row.CourseID] = struct{}{}
		}
		return rows, ""

	case models.FieldEquivalencyTable:
		var rows []EquivalencyRow
		if err := remarshal(value, &rows); err != nil {
			return nil, "must be a list of courses to equate"
		}
		for i, row := range rows {
			if err := r.validate.Struct(row); err != nil {
				return nil, fmt.Sprintf("row %d is invalid", i+1)
			}
		}
		return rows, ""
	}
	return nil, "has an unsupported type"
}

func checkRange(spec models.FieldSpec, v float64) string {
	if spec.Min != nil && v < *spec.Min {
		return "must be at least " + strconv.FormatFloat(*spec.Min, 'f', -1, 64)
	}
	if spec.Max != nil && v > *spec.Max {
		return "must be at most " + strconv.FormatFloat(*spec.Max, 'f', -1, 64)
	}
	return ""
}

func asInt64(v interface{}) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case float64:
		if n != math.Trunc(n) {
			return 0, false
		}
		return int64(n), true
	case json.Number:
		i, err := n.Int64()
		return i, err == nil
	case string:
		i, err := strconv.ParseInt(strings.TrimSpace(n), 10, 64)
		return i, err == nil
	}
	return 0, false
}

func asDecimal(v interface{}) (decimal.Decimal, bool) {
	switch n := v.(type) {
	case float64:
		return decimal.NewFromFloat(n), true
	case int:
		return decimal.NewFromInt(int64(n)), true
	case int64:
		return decimal.NewFromInt(n), true
	case json.Number:
		d, err := decimal.NewFromString(n.String())
		return d, err == nil
	case string:
		d, err := decimal.NewFromString(strings.TrimSpace(n))
		return d, err == nil
	}
	return decimal.Decimal{}, false
}

func remarshal(in interface{}, out interface{}) error {
	raw, err := json.Marshal(in)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}

// References lists the ids in fields that must exist in reference data.
func (r *Registry) References(code string, fields models.FormFields) ([]Reference, error) {
	t, err := r.Lookup(code)
	if err != nil {
		return nil, err
	}
	var refs []Reference
	for _, spec := range t.Fields {
		value, ok := fields[spec.Name]
		if !ok {
			continue
		}
		switch {
		case spec.Type == models.FieldSelect && spec.Reference != "":
			if id, ok := asInt64(value); ok {
				refs = append(refs, Reference{Field: spec.Name, Kind: spec.Reference, ID: id})
			}
		case spec.Type == models.FieldCourseSelector:
			var rows []CourseSelection
			if remarshal(value, &rows) == nil {
				for _, row := range rows {
					refs = append(refs, Reference{Field: spec.Name, Kind: models.ReferenceCourse, ID: row.CourseID})
				}
			}
		case spec.Type == models.FieldEquivalencyTable:
			var rows []EquivalencyRow
			if remarshal(value, &rows) == nil {
				for _, row := range rows {
					if row.TargetCourseID != nil {
						refs = append(refs, Reference{Field: spec.Name, Kind: models.ReferenceCourse, ID: *row.TargetCourseID})
					}
				}
			}
		}
	}
	sort.SliceStable(refs, func(i, j int) bool { return refs[i].Field < refs[j].Field })
	return refs, nil
}

// LineItems extracts the course and equivalency rows carried by the fields.
func (r *Registry) LineItems(code string, fields models.FormFields) ([]CourseSelection, []EquivalencyRow, error) {
	t, err := r.Lookup(code)
	if err != nil {
		return nil, nil, err
	}
	var courses []CourseSelection
	var equivalencies []EquivalencyRow
	for _, spec := range t.Fields {
		value, ok := fields[spec.Name]
		if !ok {
			continue
		}
		switch spec.Type {
		case models.FieldCourseSelector:
			var rows []CourseSelection
			if err := remarshal(value, &rows); err != nil {
				return nil, nil, err
			}
			courses = append(courses, rows...)
		case models.FieldEquivalencyTable:
			var rows []EquivalencyRow
			if err := remarshal(value, &rows); err != nil {
				return nil, nil, err
			}
			equivalencies = append(equivalencies, rows...)
		}
	}
	return courses, equivalencies, nil
}
