// Package validate checks user requests before a task is created.
package validate

import (
	"errors"
	"fmt"
	"regexp"

	"github.com/go-playground/validator/v10"
)

// MaxMessageLen is the longest accepted request, in characters.
const MaxMessageLen = 2000

var unsafePattern = regexp.MustCompile(`(?i)(ignore previous|system:|forget everything)`)

// Request is the body accepted by the task endpoints.
type Request struct {
	Message string `json:"message" validate:"required,max=2000,safe"`
}

// Error describes why a request was rejected.
type Error struct {
	Field  string
	Reason string
}

func (e *Error) Error() string {
	return fmt.Sprintf("validate: %s: %s", e.Field, e.Reason)
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	if err := v.RegisterValidation("safe", func(fl validator.FieldLevel) bool {
		return !unsafePattern.MatchString(fl.Field().String())
	}); err != nil {
		panic(err)
	}
	return v
}

// Message validates a single request text.
func Message(msg string) error {
	return Check(Request{Message: msg})
}

// Check validates req and returns an *Error for the first failing rule.
func Check(req Request) error {
	err := validate.Struct(req)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return fmt.Errorf("validate: %w", err)
	}
	fe := verrs[0]
	return &Error{Field: "message", Reason: reason(fe.Tag())}
}

func reason(tag string) string {
	switch tag {
	case "required":
		return "must not be empty"
	case "max":
		return fmt.Sprintf("must be at most %d characters", MaxMessageLen)
	case "safe":
		return "contains unsafe content"
	}
	return "is invalid"
}
