package validator

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/edupilot/exam-service/internal/models"
)

// Validator wraps go-playground/validator with the custom rules used across
// the service layer.
type Validator struct {
	validate *validator.Validate
	business *BusinessValidator
}

// New creates a validator with all custom rules registered.
func New() *Validator {
	validate := validator.New()
	registerCustomRules(validate)

	return &Validator{
		validate: validate,
		business: newBusinessValidator(validate),
	}
}

// Validate validates a struct and returns ValidationErrors on failure.
func (v *Validator) Validate(s interface{}) error {
	if err := v.validate.Struct(s); err != nil {
		return ToValidationErrors(err)
	}
	return nil
}

// Var validates a single value against a rule expression.
func (v *Validator) Var(field interface{}, tag string) error {
	if err := v.validate.Var(field, tag); err != nil {
		return ToValidationErrors(err)
	}
	return nil
}

// GetBusinessValidator exposes the business rule validator.
func (v *Validator) GetBusinessValidator() *BusinessValidator {
	return v.business
}

// ValidationError describes a single failed field.
type ValidationError struct {
	Field   string      `json:"field"`
	Message string      `json:"message"`
	Value   interface{} `json:"value,omitempty"`
	Rule    string      `json:"rule,omitempty"`
}

type ValidationErrors []ValidationError

func (ve ValidationErrors) Error() string {
	if len(ve) == 0 {
		return "validation failed"
	}
	if len(ve) == 1 {
		return fmt.Sprintf("validation failed: %s %s", ve[0].Field, ve[0].Message)
	}
	return fmt.Sprintf("validation failed: %d field errors", len(ve))
}

// ToValidationErrors converts go-playground validation errors into the
// service error shape. Non-validation errors pass through unchanged.
func ToValidationErrors(err error) error {
	fieldErrors, ok := err.(validator.ValidationErrors)
	if !ok {
		return err
	}

	var errors ValidationErrors
	for _, fe := range fieldErrors {
		errors = append(errors, ValidationError{
			Field:   fe.Field(),
			Message: errorMessage(fe),
			Value:   fe.Value(),
			Rule:    fe.Tag(),
		})
	}
	return errors
}

func registerCustomRules(validate *validator.Validate) {
	// Answer option labels are single letters in the A-D range.
	validate.RegisterValidation("option_label", func(fl validator.FieldLevel) bool {
		label := models.OptionLabel(fl.Field().String())
		for _, valid := range models.OptionLabels {
			if label == valid {
				return true
			}
		}
		return false
	})

	// Exam duration in minutes (5 minutes to 8 hours).
	validate.RegisterValidation("exam_duration", func(fl validator.FieldLevel) bool {
		duration := fl.Field().Int()
		return duration >= 5 && duration <= 480
	})

	// Passing marks is a percentage threshold.
	validate.RegisterValidation("passing_marks", func(fl validator.FieldLevel) bool {
		marks := fl.Field().Int()
		return marks >= 0 && marks <= 100
	})

	// Retake ceiling per student per exam.
	validate.RegisterValidation("max_retakes", func(fl validator.FieldLevel) bool {
		retakes := fl.Field().Int()
		return retakes >= 0 && retakes <= 10
	})

	// Title validation (1-200 characters after trimming).
	validate.RegisterValidation("exam_title", func(fl validator.FieldLevel) bool {
		title := strings.TrimSpace(fl.Field().String())
		return len(title) >= 1 && len(title) <= 200
	})

	// Batch month in MM format.
	validate.RegisterValidation("batch_month", func(fl validator.FieldLevel) bool {
		raw := fl.Field().String()
		if len(raw) != 2 {
			return false
		}
		month, err := strconv.Atoi(raw)
		return err == nil && month >= 1 && month <= 12
	})

	// Batch year in YYYY format.
	validate.RegisterValidation("batch_year", func(fl validator.FieldLevel) bool {
		raw := fl.Field().String()
		if len(raw) != 4 {
			return false
		}
		year, err := strconv.Atoi(raw)
		return err == nil && year >= 2000 && year <= 2100
	})

	// Dates that must lie in the future; nil pointers pass.
	validate.RegisterValidation("future_date", func(fl validator.FieldLevel) bool {
		field := fl.Field()
		if field.Kind() == reflect.Ptr && field.IsNil() {
			return true
		}

		var value time.Time
		if field.Kind() == reflect.Ptr {
			value = field.Elem().Interface().(time.Time)
		} else {
			value = field.Interface().(time.Time)
		}
		return value.After(time.Now())
	})
}

func errorMessage(err validator.FieldError) string {
	switch err.Tag() {
	case "required":
		return "is required"
	case "min":
		return fmt.Sprintf("must be at least %s", err.Param())
	case "max":
		return fmt.Sprintf("must be at most %s", err.Param())
	case "datetime":
		return fmt.Sprintf("must match the %s time format", err.Param())
	case "option_label":
		return "must be one of A, B, C or D"
	case "exam_duration":
		return "must be between 5 and 480 minutes"
	case "passing_marks":
		return "must be between 0 and 100"
	case "max_retakes":
		return "must be between 0 and 10"
	case "exam_title":
		return "must be between 1 and 200 characters"
	case "batch_month":
		return "must be a month in MM format"
	case "batch_year":
		return "must be a year in YYYY format"
	case "future_date":
		return "must be in the future"
	default:
		return fmt.Sprintf("validation failed for rule '%s'", err.Tag())
	}
}
