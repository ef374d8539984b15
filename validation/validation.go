// Package validation checks decoded request payloads before they reach a
// service. Rules are declared with `validate` struct tags.
package validation

import (
	"fmt"
	"reflect"
	"strings"
	"unicode"

	"github.com/go-playground/validator/v10"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()

	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		if name == "" {
			return strings.ToLower(f.Name)
		}
		return name
	})
	must(v.RegisterValidation("password", strongPassword))
	must(v.RegisterValidation("notblank", notBlank))

	return v
}

func must(err error) {
	if err != nil {
		panic(err)
	}
}

type Violation struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Error lists every rule a payload broke.
type Error struct {
	Violations []Violation
}

func (e *Error) Error() string {
	msgs := make([]string, 0, len(e.Violations))
	for _, v := range e.Violations {
		msgs = append(msgs, v.Message)
	}
	return "validation failed: " + strings.Join(msgs, " ")
}

// Struct returns nil when payload is valid and *Error otherwise.
func Struct(payload interface{}) error {
	err := validate.Struct(payload)
	if err == nil {
		return nil
	}

	validationErrors, ok := err.(validator.ValidationErrors)
	if !ok {
		return err
	}

	violations := make([]Violation, 0, len(validationErrors))
	for _, fe := range validationErrors {
		violations = append(violations, Violation{Field: fe.Field(), Message: message(fe)})
	}
	return &Error{Violations: violations}
}

func message(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required", "notblank":
		return fmt.Sprintf("The %s field is required.", fe.Field())
	case "min":
		return fmt.Sprintf("The %s must be at least %s characters.", fe.Field(), fe.Param())
	case "max":
		return fmt.Sprintf("The %s may not be greater than %s characters.", fe.Field(), fe.Param())
	case "oneof":
		return fmt.Sprintf("The %s must be one of: %s.", fe.Field(), fe.Param())
	case "password":
		return fmt.Sprintf("The %s is too weak.", fe.Field())
	case "gt":
		return fmt.Sprintf("The %s must be greater than %s.", fe.Field(), fe.Param())
	default:
		return fmt.Sprintf("The %s field is invalid.", fe.Field())
	}
}

// strongPassword wants an upper and a lower case letter plus a digit or a
// symbol.
func strongPassword(fl validator.FieldLevel) bool {
	var upper, lower, other bool
	for _, r := range fl.Field().String() {
		switch {
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsLower(r):
			lower = true
		case unicode.IsDigit(r), unicode.IsPunct(r), unicode.IsSymbol(r):
			other = true
		}
	}
	return upper && lower && other
}

func notBlank(fl validator.FieldLevel) bool {
	return strings.TrimSpace(fl.Field().String()) != ""
}
