package validator

import (
	"time"

	"github.com/go-playground/validator/v10"
)

// BusinessValidator handles business rule validation that goes beyond
// per-field struct tags.
type BusinessValidator struct {
	validate *validator.Validate
}

func newBusinessValidator(validate *validator.Validate) *BusinessValidator {
	return &BusinessValidator{validate: validate}
}

// Validate validates business rules for any struct.
func (bv *BusinessValidator) Validate(s interface{}) ValidationErrors {
	err := bv.validate.Struct(s)
	if err != nil {
		if ve, ok := ToValidationErrors(err).(ValidationErrors); ok {
			return ve
		}
	}
	return nil
}

// ValidateBatchTarget checks that an exam or schedule addresses a resolvable
// batch: either a batch identifier or a batch time slot, with month and year
// always given together.
func (bv *BusinessValidator) ValidateBatchTarget(batchIdentifier, batchTime, batchMonth, batchYear *string) ValidationErrors {
	var errors ValidationErrors

	hasIdentifier := batchIdentifier != nil && *batchIdentifier != ""
	hasTime := batchTime != nil && *batchTime != ""

	if !hasIdentifier && !hasTime {
		errors = append(errors, ValidationError{
			Field:   "batch_time",
			Message: "either batch_identifier or batch_time must be set",
			Rule:    "batch_target",
		})
	}

	hasMonth := batchMonth != nil && *batchMonth != ""
	hasYear := batchYear != nil && *batchYear != ""
	if hasMonth != hasYear {
		errors = append(errors, ValidationError{
			Field:   "batch_month",
			Message: "batch_month and batch_year must be set together",
			Rule:    "batch_target",
		})
	}

	return errors
}

// ValidateScheduleWindow checks that the start and end of a schedule parse as
// HH:MM clock times and form a non-empty window.
func (bv *BusinessValidator) ValidateScheduleWindow(startTime, endTime string) ValidationErrors {
	var errors ValidationErrors

	start, startErr := time.Parse("15:04", startTime)
	if startErr != nil {
		errors = append(errors, ValidationError{
			Field:   "start_time",
			Message: "must be a valid HH:MM time",
			Value:   startTime,
			Rule:    "schedule_window",
		})
	}

	end, endErr := time.Parse("15:04", endTime)
	if endErr != nil {
		errors = append(errors, ValidationError{
			Field:   "end_time",
			Message: "must be a valid HH:MM time",
			Value:   endTime,
			Rule:    "schedule_window",
		})
	}

	if startErr == nil && endErr == nil && !end.After(start) {
		errors = append(errors, ValidationError{
			Field:   "end_time",
			Message: "must be after start_time",
			Value:   endTime,
			Rule:    "schedule_window",
		})
	}

	return errors
}

// ValidateRetakePolicy checks that the retake flags on an exam are coherent.
func (bv *BusinessValidator) ValidateRetakePolicy(allowRetakes bool, maxRetakes int) ValidationErrors {
	var errors ValidationErrors

	if !allowRetakes && maxRetakes > 0 {
		errors = append(errors, ValidationError{
			Field:   "max_retakes",
			Message: "cannot be set when retakes are not allowed",
			Value:   maxRetakes,
			Rule:    "retake_policy",
		})
	}

	return errors
}

// ValidateExamDeletion checks whether an exam can be removed. Exams with
// recorded attempts must be kept for result history.
func (bv *BusinessValidator) ValidateExamDeletion(attemptCount int64) ValidationErrors {
	var errors ValidationErrors

	if attemptCount > 0 {
		errors = append(errors, ValidationError{
			Field:   "attempts",
			Message: "cannot delete an exam with existing attempts",
			Value:   attemptCount,
			Rule:    "exam_deletion",
		})
	}

	return errors
}
