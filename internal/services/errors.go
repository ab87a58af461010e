package services

import (
	"errors"
	"fmt"

	"github.com/edupilot/exam-service/internal/validator"
)

// Not-found errors, mapped to 404 by handlers.
var (
	ErrExamNotFound     = errors.New("exam not found")
	ErrQuestionNotFound = errors.New("question not found")
	ErrScheduleNotFound = errors.New("schedule not found")
	ErrAttemptNotFound  = errors.New("attempt not found")
	ErrStudentNotFound  = errors.New("student not found")
	ErrCourseNotFound   = errors.New("course not found")
	ErrUserNotFound     = errors.New("user not found")
)

// Eligibility errors, mapped to 403. ExamLockedError wraps ErrExamLocked
// and carries the student-facing lock reason.
var (
	ErrExamLocked      = errors.New("exam locked")
	ErrNotEnrolled     = errors.New("student not enrolled in course")
	ErrPaymentRequired = errors.New("course payment pending")
)

// Attempt lifecycle errors. ErrAttemptTimeExpired maps to 410 because the
// timeout transition has already been persisted when it is returned.
var (
	ErrAttemptNotActive       = errors.New("attempt is not active")
	ErrAttemptTimeExpired     = errors.New("attempt time has expired")
	ErrExamAlreadyCompleted   = errors.New("exam already completed")
	ErrNoActiveQuestions      = errors.New("exam has no active questions")
	ErrAnswerQuestionMismatch = errors.New("question does not belong to this attempt")
)

// Verification errors, mapped to 409.
var (
	ErrAttemptNotTerminal     = errors.New("attempt is still in progress")
	ErrAttemptAlreadyVerified = errors.New("attempt already verified")
	ErrAttemptNotVerified     = errors.New("attempt not verified")
)

// Generic errors.
var (
	ErrUnauthorized     = errors.New("unauthorized")
	ErrForbidden        = errors.New("forbidden")
	ErrValidationFailed = errors.New("validation failed")
	ErrConflict         = errors.New("conflict")
)

// ValidationError and ValidationErrors are shared with the validator package
// so request-tag failures and business checks surface as one error shape.
type (
	ValidationError  = validator.ValidationError
	ValidationErrors = validator.ValidationErrors
)

func NewValidationError(field, message string, value interface{}) ValidationErrors {
	return ValidationErrors{{Field: field, Message: message, Value: value}}
}

// PermissionError carries the denied resource and action for the 403 body.
type PermissionError struct {
	UserID     string
	ResourceID uint
	Resource   string
	Action     string
	Reason     string
}

func NewPermissionError(userID string, resourceID uint, resource, action, reason string) *PermissionError {
	return &PermissionError{
		UserID:     userID,
		ResourceID: resourceID,
		Resource:   resource,
		Action:     action,
		Reason:     reason,
	}
}

func (e *PermissionError) Error() string {
	return fmt.Sprintf("permission denied: %s on %s %d: %s", e.Action, e.Resource, e.ResourceID, e.Reason)
}

// BusinessRuleError reports a domain rule violation, mapped to 422.
type BusinessRuleError struct {
	Rule    string
	Message string
	Context map[string]interface{}
}

func NewBusinessRuleError(rule, message string, context map[string]interface{}) *BusinessRuleError {
	return &BusinessRuleError{Rule: rule, Message: message, Context: context}
}

func (e *BusinessRuleError) Error() string {
	return fmt.Sprintf("business rule %s violated: %s", e.Rule, e.Message)
}

// ExamLockedError is returned when a student tries to start an exam the
// eligibility gate has locked. Reason matches the text shown on the exam list.
type ExamLockedError struct {
	ExamID uint
	Reason string
}

func NewExamLockedError(examID uint, reason string) *ExamLockedError {
	return &ExamLockedError{ExamID: examID, Reason: reason}
}

func (e *ExamLockedError) Error() string {
	return fmt.Sprintf("exam %d locked: %s", e.ExamID, e.Reason)
}

func (e *ExamLockedError) Unwrap() error { return ErrExamLocked }
