package manifest

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/freewebtopdf/upnet/internal/domain"
)

// ValidationError represents a manifest validation error with details
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors represents multiple validation errors
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return fmt.Sprintf("manifest validation failed: %s", strings.Join(msgs, "; "))
}

var structValidator = validator.New(validator.WithRequiredStructEnabled())

// validateStructure runs the struct-tag rules over a decoded document
func validateStructure(doc *wireUpdate) ValidationErrors {
	err := structValidator.Struct(doc)
	if err == nil {
		return nil
	}

	fieldErrors, ok := err.(validator.ValidationErrors)
	if !ok {
		return ValidationErrors{{Field: "manifest", Message: err.Error()}}
	}

	errs := make(ValidationErrors, 0, len(fieldErrors))
	for _, e := range fieldErrors {
		errs = append(errs, ValidationError{Field: fieldPath(e.Namespace()), Message: tagMessage(e)})
	}
	return errs
}

// fieldPath turns "wireUpdate.Patches[0].Changes[1].Kind" into "patches[0].changes[1].kind"
func fieldPath(namespace string) string {
	_, rest, found := strings.Cut(namespace, ".")
	if !found {
		return strings.ToLower(namespace)
	}
	parts := strings.Split(rest, ".")
	for i, part := range parts {
		if part != "" {
			parts[i] = strings.ToLower(part[:1]) + part[1:]
		}
	}
	return strings.Join(parts, ".")
}

func tagMessage(e validator.FieldError) string {
	switch e.Tag() {
	case "required":
		return "required field is missing"
	case "required_if":
		return fmt.Sprintf("required when %s", strings.Replace(e.Param(), " ", " is ", 1))
	case "oneof":
		return fmt.Sprintf("must be one of: %s", e.Param())
	case "len":
		return fmt.Sprintf("must have exactly %s elements", e.Param())
	case "min":
		return fmt.Sprintf("must be at least %s", e.Param())
	default:
		return fmt.Sprintf("failed validation: %s", e.Tag())
	}
}

// invalid wraps validation problems in a MANIFEST_INVALID AppError
func invalid(errs ValidationErrors) error {
	details := make([]string, 0, len(errs))
	for _, e := range errs {
		details = append(details, e.Error())
	}
	return domain.NewAppErrorWithCause(domain.ErrManifestInvalid, "Manifest is invalid", 422, errs, map[string]any{
		"errors": details,
	})
}
