package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

var (
	validate     = newValidator()
	groupIndexRe = regexp.MustCompile(`^groups\[(\d+)\]`)
)

func newValidator() *validator.Validate {
	v := validator.New()
	// Report JSON field names instead of Go struct names.
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// ValidateArrangement checks every construction-time rule of an arrangement and
// returns the first violation as a *ConfigError.
func ValidateArrangement(a QuestionArrangement) error {
	if err := validate.Struct(a); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			return configErrorFromField(a, fieldErrs[0])
		}
		return &ConfigError{Reason: err.Error()}
	}

	groupIDs := make(map[string]struct{}, len(a.Groups))
	owner := make(map[string]string)
	for i, g := range a.Groups {
		prefix := fmt.Sprintf("groups[%d]", i)
		if _, dup := groupIDs[g.ID]; dup {
			return &ConfigError{Field: prefix + ".id", GroupID: g.ID, Reason: "duplicate group id"}
		}
		groupIDs[g.ID] = struct{}{}

		if g.MinRequired > len(g.QuestionIDs) {
			return &ConfigError{
				Field:   prefix + ".minRequired",
				GroupID: g.ID,
				Reason:  fmt.Sprintf("must be between 1 and %d (number of questions)", len(g.QuestionIDs)),
			}
		}
		for _, q := range g.QuestionIDs {
			if other, taken := owner[q]; taken {
				return &ConfigError{
					Field:   prefix + ".questionIds",
					GroupID: g.ID,
					Reason:  fmt.Sprintf("question %q already belongs to group %q", q, other),
				}
			}
			owner[q] = g.ID
		}
	}

	if a.Formula == nil {
		if !a.RequireAllGroups {
			return &ConfigError{Field: "formula", Reason: "is required unless requireAllGroups is true"}
		}
		return nil
	}
	return validateFormula(a.Formula, "formula", groupIDs)
}

func validateFormula(f *Formula, path string, groups map[string]struct{}) error {
	if f == nil {
		return &ConfigError{Field: path, Reason: "missing operand"}
	}
	switch f.Type {
	case FormulaGroup:
		if f.GroupID == "" {
			return &ConfigError{Field: path + ".groupId", Reason: "is required for group references"}
		}
		if f.Left != nil || f.Right != nil {
			return &ConfigError{Field: path, GroupID: f.GroupID, Reason: "group reference cannot have operands"}
		}
		if _, ok := groups[f.GroupID]; !ok {
			return &ConfigError{Field: path + ".groupId", GroupID: f.GroupID, Reason: "references unknown group"}
		}
		return nil
	case FormulaAnd, FormulaOr:
		if f.GroupID != "" {
			return &ConfigError{Field: path + ".groupId", Reason: fmt.Sprintf("not allowed on %q nodes", f.Type)}
		}
		if err := validateFormula(f.Left, path+".left", groups); err != nil {
			return err
		}
		return validateFormula(f.Right, path+".right", groups)
	default:
		return &ConfigError{Field: path + ".type", Reason: fmt.Sprintf("unknown formula type %q", f.Type)}
	}
}

func configErrorFromField(a QuestionArrangement, fe validator.FieldError) *ConfigError {
	field := fe.Namespace()
	if i := strings.IndexByte(field, '.'); i >= 0 {
		field = field[i+1:]
	}
	ce := &ConfigError{Field: field, Reason: reasonFor(fe)}
	if m := groupIndexRe.FindStringSubmatch(field); m != nil {
		if idx, err := strconv.Atoi(m[1]); err == nil && idx < len(a.Groups) {
			ce.GroupID = a.Groups[idx].ID
		}
	}
	return ce
}

func reasonFor(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "min":
		return fmt.Sprintf("must contain at least %s item(s)", fe.Param())
	case "gte":
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "gt":
		return fmt.Sprintf("must be greater than %s", fe.Param())
	case "unique":
		return "must not contain duplicates"
	case "ltefield":
		return "must not exceed maxScore"
	default:
		return fmt.Sprintf("failed %q validation", fe.Tag())
	}
}

// ParseArrangement decodes a JSON arrangement and validates it.
func ParseArrangement(data []byte) (QuestionArrangement, error) {
	var a QuestionArrangement
	if err := json.Unmarshal(data, &a); err != nil {
		return QuestionArrangement{}, &ConfigError{Reason: "malformed json: " + err.Error()}
	}
	if err := ValidateArrangement(a); err != nil {
		return QuestionArrangement{}, err
	}
	return a, nil
}

// ParseArrangementYAML decodes a YAML arrangement and validates it.
func ParseArrangementYAML(data []byte) (QuestionArrangement, error) {
	var a QuestionArrangement
	if err := yaml.Unmarshal(data, &a); err != nil {
		return QuestionArrangement{}, &ConfigError{Reason: "malformed yaml: " + err.Error()}
	}
	if err := ValidateArrangement(a); err != nil {
		return QuestionArrangement{}, err
	}
	return a, nil
}

// ValidateAttempts rejects history entries without a question id or with a
// negative attempt number. Zero means "unnumbered".
func ValidateAttempts(attempts []Attempt) error {
	for i, a := range attempts {
		if a.QuestionID == "" {
			return fmt.Errorf("%w: entry %d has no questionId", ErrInvalidAttempt, i)
		}
		if a.Attempt < 0 {
			return fmt.Errorf("%w: entry %d (%s) has negative attempt %d", ErrInvalidAttempt, i, a.QuestionID, a.Attempt)
		}
	}
	return nil
}
