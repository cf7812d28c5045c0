// Package validator provides struct validation utilities with custom validators.
package validator

import (
	stderrors "errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/openctemio/docflow/pkg/domain/lease"
	"github.com/openctemio/docflow/pkg/domain/pipeline"
	"github.com/openctemio/docflow/pkg/domain/workflow"
)

// slugRegex validates slugs: lowercase letters, numbers, hyphens
// Must start and end with alphanumeric, no consecutive hyphens
var slugRegex = regexp.MustCompile(`^[a-z0-9]+(?:-[a-z0-9]+)*$`)

// Validator wraps the go-playground validator with custom validations.
type Validator struct {
	validate *validator.Validate
}

// ValidationError represents a single field validation error.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

// Error implements the error interface.
func (v ValidationErrors) Error() string {
	if len(v) == 0 {
		return ""
	}
	var sb strings.Builder
	for i, e := range v {
		if i > 0 {
			sb.WriteString("; ")
		}
		sb.WriteString(fmt.Sprintf("%s: %s", e.Field, e.Message))
	}
	return sb.String()
}

// New creates a new Validator with custom validators registered.
func New() *Validator {
	v := validator.New(validator.WithRequiredStructEnabled())

	_ = v.RegisterValidation("workflow_kind", validateWorkflowKind)
	_ = v.RegisterValidation("category", validateCategory)
	_ = v.RegisterValidation("execution_type", validateExecutionType)
	_ = v.RegisterValidation("slug", validateSlug)

	return &Validator{validate: v}
}

// Validate validates a struct and returns ValidationErrors if validation fails.
func (v *Validator) Validate(s any) error {
	err := v.validate.Struct(s)
	if err == nil {
		return nil
	}

	var validationErrors validator.ValidationErrors
	if !stderrors.As(err, &validationErrors) {
		return err
	}

	result := make(ValidationErrors, 0, len(validationErrors))
	for _, e := range validationErrors {
		result = append(result, ValidationError{
			Field:   fieldPath(e),
			Message: formatErrorMessage(e),
		})
	}

	return result
}

// validateWorkflowKind validates that a string is a known workflow kind.
func validateWorkflowKind(fl validator.FieldLevel) bool {
	value := fl.Field().String()
	if value == "" {
		return true // Let 'required' handle empty values
	}
	_, ok := workflow.ParseKind(value)
	return ok
}

// validateCategory validates that a string is a known concurrency category.
func validateCategory(fl validator.FieldLevel) bool {
	value := fl.Field().String()
	if value == "" {
		return true // Let 'required' handle empty values
	}
	_, err := lease.ParseCategory(value)
	return err == nil
}

// validateExecutionType validates that a string is a known step execution type.
func validateExecutionType(fl validator.FieldLevel) bool {
	value := fl.Field().String()
	if value == "" {
		return true // Let 'required' handle empty values
	}
	_, err := pipeline.ParseExecutionType(value)
	return err == nil
}

// validateSlug validates that a string is a valid slug.
// Examples: "full-review", "nrc-env-report", "step1"
func validateSlug(fl validator.FieldLevel) bool {
	value := fl.Field().String()
	if value == "" {
		return true // Let 'required' handle empty values
	}
	return slugRegex.MatchString(value)
}

// formatErrorMessage converts validation errors to human-readable messages.
func formatErrorMessage(e validator.FieldError) string {
	switch e.Tag() {
	case "required":
		return "is required"
	case "min":
		return fmt.Sprintf("must be at least %s", e.Param())
	case "max":
		return fmt.Sprintf("must be at most %s", e.Param())
	case "url":
		return "must be a valid URL"
	case "workflow_kind":
		return fmt.Sprintf("must be one of: %s", joinValues(workflow.AllKinds()))
	case "category":
		return fmt.Sprintf("must be one of: %s", joinValues(lease.AllCategories()))
	case "execution_type":
		return fmt.Sprintf("must be one of: %s", joinValues(pipeline.AllExecutionTypes()))
	case "oneof":
		return fmt.Sprintf("must be one of: %s", e.Param())
	case "uuid":
		return "must be a valid UUID"
	case "slug":
		return "must be a valid slug (lowercase letters, numbers, hyphens only)"
	default:
		return fmt.Sprintf("failed on '%s' validation", e.Tag())
	}
}

// fieldPath turns "Catalog.Pipelines[0].Steps[1].Order" into "pipelines[0].steps[1].order".
func fieldPath(e validator.FieldError) string {
	ns := e.Namespace()
	if _, rest, ok := strings.Cut(ns, "."); ok {
		ns = rest
	}
	parts := strings.Split(ns, ".")
	for i, p := range parts {
		parts[i] = toSnakeCase(p)
	}
	return strings.Join(parts, ".")
}

// toSnakeCase converts PascalCase/camelCase to snake_case.
func toSnakeCase(s string) string {
	var result strings.Builder
	for i, r := range s {
		if i > 0 && r >= 'A' && r <= 'Z' {
			result.WriteByte('_')
		}
		result.WriteRune(r)
	}
	return strings.ToLower(result.String())
}

// joinValues returns a comma-separated list of enum values.
func joinValues[T ~string](values []T) string {
	strs := make([]string, len(values))
	for i, v := range values {
		strs[i] = string(v)
	}
	return strings.Join(strs, ", ")
}
