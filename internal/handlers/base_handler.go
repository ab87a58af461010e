package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/edupilot/exam-service/internal/services"
	"github.com/edupilot/exam-service/internal/utils"
)

// ErrorResponse is the envelope for all non-2xx replies.
type ErrorResponse struct {
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

// SuccessResponse wraps replies that have no natural resource body.
type SuccessResponse struct {
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// BaseHandler carries the pieces every handler needs: the logger and the
// shared request parsing and error mapping helpers.
type BaseHandler struct {
	logger utils.Logger
}

func NewBaseHandler(logger utils.Logger) BaseHandler {
	return BaseHandler{logger: logger}
}

// LogRequest logs at the top of a handler with the request-scoped logger, so
// the request_id set by the context middleware is attached.
func (h *BaseHandler) LogRequest(c *gin.Context, msg string, args ...any) {
	utils.GetLogger(c, h.logger).Info(msg, args...)
}

func (h *BaseHandler) LogError(c *gin.Context, err error, msg string, args ...any) {
	utils.GetLogger(c, h.logger).Error(msg, append(args, "error", err)...)
}

// parseIDParam reads a numeric path parameter. On failure it writes the 400
// response itself and returns 0, so callers just check for zero and return.
func (h *BaseHandler) parseIDParam(c *gin.Context, param string) uint {
	idStr := c.Param(param)
	id, err := strconv.ParseUint(idStr, 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Message: "Invalid " + param,
			Details: "ID must be a valid number",
		})
		return 0
	}
	return uint(id)
}

func (h *BaseHandler) parseIntQuery(c *gin.Context, param string, defaultValue int) int {
	valueStr := c.Query(param)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func (h *BaseHandler) parseUintQuery(c *gin.Context, param string) *uint {
	valueStr := c.Query(param)
	if valueStr == "" {
		return nil
	}
	value, err := strconv.ParseUint(valueStr, 10, 32)
	if err != nil {
		return nil
	}
	id := uint(value)
	return &id
}

func (h *BaseHandler) parseBoolQuery(c *gin.Context, param string) *bool {
	valueStr := c.Query(param)
	if valueStr == "" {
		return nil
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return nil
	}
	return &value
}

// requireUserID reads the authenticated user id set by the auth middleware.
// On a missing id it writes the 401 response itself and reports false.
func (h *BaseHandler) requireUserID(c *gin.Context) (string, bool) {
	userID, exists := c.Get("user_id")
	if !exists {
		c.JSON(http.StatusUnauthorized, ErrorResponse{
			Message: "User not authenticated",
		})
		return "", false
	}
	id, ok := userID.(string)
	if !ok || id == "" {
		c.JSON(http.StatusUnauthorized, ErrorResponse{
			Message: "User not authenticated",
		})
		return "", false
	}
	return id, true
}

// handleServiceError maps service errors to HTTP responses. Typed errors are
// matched first because they wrap the generic sentinels they specialize.
func (h *BaseHandler) handleServiceError(c *gin.Context, err error) {
	var validationErrors services.ValidationErrors
	if errors.As(err, &validationErrors) {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Message: "Validation failed",
			Details: validationErrors,
		})
		return
	}

	var businessRuleError *services.BusinessRuleError
	if errors.As(err, &businessRuleError) {
		c.JSON(http.StatusUnprocessableEntity, ErrorResponse{
			Message: businessRuleError.Message,
			Details: map[string]interface{}{
				"rule":    businessRuleError.Rule,
				"context": businessRuleError.Context,
			},
		})
		return
	}

	var permissionError *services.PermissionError
	if errors.As(err, &permissionError) {
		c.JSON(http.StatusForbidden, ErrorResponse{
			Message: "Access denied",
			Details: map[string]interface{}{
				"resource": permissionError.Resource,
				"action":   permissionError.Action,
				"reason":   permissionError.Reason,
			},
		})
		return
	}

	var lockedError *services.ExamLockedError
	if errors.As(err, &lockedError) {
		c.JSON(http.StatusForbidden, ErrorResponse{
			Message: "Exam is locked",
			Details: map[string]interface{}{
				"exam_id": lockedError.ExamID,
				"reason":  lockedError.Reason,
			},
		})
		return
	}

	switch {
	// Not-found errors
	case errors.Is(err, services.ErrExamNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{
			Message: "Exam not found",
		})
	case errors.Is(err, services.ErrQuestionNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{
			Message: "Question not found",
		})
	case errors.Is(err, services.ErrScheduleNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{
			Message: "Schedule not found",
		})
	case errors.Is(err, services.ErrAttemptNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{
			Message: "Attempt not found",
		})
	case errors.Is(err, services.ErrStudentNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{
			Message: "Student profile not found",
		})
	case errors.Is(err, services.ErrCourseNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{
			Message: "Course not found",
		})
	case errors.Is(err, services.ErrUserNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{
			Message: "User not found",
		})
	// Eligibility errors
	case errors.Is(err, services.ErrNotEnrolled):
		c.JSON(http.StatusForbidden, ErrorResponse{
			Message: "You are not enrolled in this course",
		})
	case errors.Is(err, services.ErrPaymentRequired):
		c.JSON(http.StatusForbidden, ErrorResponse{
			Message: "Course payment is pending",
		})
	case errors.Is(err, services.ErrExamLocked):
		c.JSON(http.StatusForbidden, ErrorResponse{
			Message: "Exam is locked",
		})
	// Attempt lifecycle errors
	case errors.Is(err, services.ErrAttemptNotActive):
		c.JSON(http.StatusConflict, ErrorResponse{
			Message: "Attempt is not active",
		})
	case errors.Is(err, services.ErrExamAlreadyCompleted):
		c.JSON(http.StatusConflict, ErrorResponse{
			Message: "Exam already completed",
		})
	case errors.Is(err, services.ErrNoActiveQuestions):
		c.JSON(http.StatusConflict, ErrorResponse{
			Message: "Exam has no active questions",
		})
	case errors.Is(err, services.ErrAttemptTimeExpired):
		c.JSON(http.StatusGone, ErrorResponse{
			Message: "Attempt time has expired",
		})
	case errors.Is(err, services.ErrAnswerQuestionMismatch):
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Message: "Question does not belong to this attempt",
		})
	// Verification errors
	case errors.Is(err, services.ErrAttemptNotTerminal):
		c.JSON(http.StatusConflict, ErrorResponse{
			Message: "Attempt is still in progress",
		})
	case errors.Is(err, services.ErrAttemptAlreadyVerified):
		c.JSON(http.StatusConflict, ErrorResponse{
			Message: "Attempt already verified",
		})
	case errors.Is(err, services.ErrAttemptNotVerified):
		c.JSON(http.StatusForbidden, ErrorResponse{
			Message: "Result has not been released yet",
		})
	// Generic errors
	case errors.Is(err, services.ErrValidationFailed):
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Message: "Validation failed",
			Details: err.Error(),
		})
	case errors.Is(err, services.ErrUnauthorized):
		c.JSON(http.StatusUnauthorized, ErrorResponse{
			Message: "Unauthorized access",
		})
	case errors.Is(err, services.ErrForbidden):
		c.JSON(http.StatusForbidden, ErrorResponse{
			Message: "Forbidden - insufficient permissions",
		})
	case errors.Is(err, services.ErrConflict):
		c.JSON(http.StatusConflict, ErrorResponse{
			Message: "Resource conflict",
		})
	default:
		h.LogError(c, err, "Unexpected service error")
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Message: "Internal server error",
		})
	}
}
