package validation

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/fedutinova/readnote/internal/common"
	"github.com/go-playground/validator/v10"
)

const (
	MaxImageRefLength = 2048
	MaxLogsLimit      = 500
	DefaultLogsLimit  = 100
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// report fields by their json names
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return f.Name
		}
		return name
	})
	return v
}

type ValidationErrors []common.ValidationError

func (e ValidationErrors) Error() string {
	var messages []string
	for _, err := range e {
		messages = append(messages, err.Error())
	}
	return strings.Join(messages, "; ")
}

func (e ValidationErrors) Is(target error) bool {
	return target == common.ErrValidation
}

// Struct validates v against its `validate` tags. The result is nil or a
// ValidationErrors value.
func Struct(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return common.ValidationError{Field: "request", Message: err.Error()}
	}

	out := make(ValidationErrors, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		out = append(out, common.ValidationError{
			Field:   fe.Field(),
			Message: message(fe),
		})
	}
	return out
}

func message(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "uuid":
		return "must be a valid UUID"
	case "max":
		return fmt.Sprintf("must be at most %s characters", fe.Param())
	default:
		return fmt.Sprintf("failed %q check", fe.Tag())
	}
}

// LogsLimit clamps the admin log listing size.
func LogsLimit(n int) int {
	if n <= 0 {
		return DefaultLogsLimit
	}
	if n > MaxLogsLimit {
		return MaxLogsLimit
	}
	return n
}
