package core

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// ErrInvalidRequest is returned when a request field is present but invalid.
var ErrInvalidRequest = errors.New("invalid request")

// MissingFieldsError lists required request fields that were empty.
type MissingFieldsError struct {
	Fields []string
}

func (e *MissingFieldsError) Error() string {
	return "missing required fields: " + strings.Join(e.Fields, ", ")
}

// missingTags are the validator tags that mean "not provided".
var missingTags = map[string]bool{
	"required": true,
	"min":      true,
}

// validateRequest runs struct validation on req. Empty required fields are
// collected into a single MissingFieldsError; any other failure wraps
// ErrInvalidRequest and names the first offending field.
func (s *Service) validateRequest(req any) error {
	err := s.validate.Struct(req)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}

	var missing []string
	var invalid validator.FieldError
	for _, fe := range verrs {
		if missingTags[fe.Tag()] {
			missing = append(missing, fe.Field())
			continue
		}
		if invalid == nil {
			invalid = fe
		}
	}

	if len(missing) > 0 {
		return &MissingFieldsError{Fields: missing}
	}
	if invalid.Tag() == "oneof" {
		return fmt.Errorf("%w: %q must be one of [%s]", ErrInvalidRequest, invalid.Field(), invalid.Param())
	}
	return fmt.Errorf("%w: %q failed %q check", ErrInvalidRequest, invalid.Field(), invalid.Tag())
}
