package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/edupilot/exam-service/internal/models"
	"github.com/edupilot/exam-service/internal/repositories"
	"github.com/edupilot/exam-service/internal/services"
	"github.com/edupilot/exam-service/internal/utils"
	"github.com/edupilot/exam-service/internal/validator"
)

// AttemptHandler handles the attempt lifecycle endpoints.
type AttemptHandler struct {
	BaseHandler
	attemptService services.AttemptService
	validator      *validator.Validator
}

func NewAttemptHandler(attemptService services.AttemptService, validator *validator.Validator, logger utils.Logger) *AttemptHandler {
	return &AttemptHandler{
		BaseHandler:    NewBaseHandler(logger),
		attemptService: attemptService,
		validator:      validator,
	}
}

// StartAttempt starts or resumes an exam attempt
// @Summary Start exam attempt
// @Description Starts a new attempt for the given exam, or returns the student's attempt already in progress
// @Tags attempts
// @Accept json
// @Produce json
// @Param request body services.StartAttemptRequest true "Start attempt request"
// @Success 201 {object} services.AttemptResponse
// @Failure 400 {object} ErrorResponse
// @Failure 403 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /attempts/start [post]
func (h *AttemptHandler) StartAttempt(c *gin.Context) {
	h.LogRequest(c, "Starting exam attempt")

	userID, ok := h.requireUserID(c)
	if !ok {
		return
	}

	var req services.StartAttemptRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Message: "Invalid request payload",
			Details: err.Error(),
		})
		return
	}

	if err := h.validator.Validate(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Message: "Validation failed",
			Details: err.Error(),
		})
		return
	}

	attempt, err := h.attemptService.Start(c.Request.Context(), &req, userID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusCreated, attempt)
}

// GetAttempt retrieves the live state of an attempt
// @Summary Get attempt state
// @Description Retrieves the attempt with its question set and saved answers; expired attempts are closed first
// @Tags attempts
// @Accept json
// @Produce json
// @Param id path uint true "Attempt ID"
// @Success 200 {object} services.AttemptResponse
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /attempts/{id} [get]
func (h *AttemptHandler) GetAttempt(c *gin.Context) {
	id := h.parseIDParam(c, "id")
	if id == 0 {
		return
	}

	h.LogRequest(c, "Getting attempt state", "attempt_id", id)

	userID, ok := h.requireUserID(c)
	if !ok {
		return
	}

	attempt, err := h.attemptService.GetState(c.Request.Context(), id, userID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, attempt)
}

// SaveAnswer saves one answer on an active attempt
// @Summary Save answer
// @Description Saves the selected option for one question; saving the same question again overwrites the previous choice
// @Tags attempts
// @Accept json
// @Produce json
// @Param id path uint true "Attempt ID"
// @Param request body services.SaveAnswerRequest true "Answer payload"
// @Success 200 {object} services.SaveAnswerResponse
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Failure 410 {object} ErrorResponse
// @Router /attempts/{id}/answers [post]
func (h *AttemptHandler) SaveAnswer(c *gin.Context) {
	id := h.parseIDParam(c, "id")
	if id == 0 {
		return
	}

	h.LogRequest(c, "Saving answer", "attempt_id", id)

	userID, ok := h.requireUserID(c)
	if !ok {
		return
	}

	var req services.SaveAnswerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Message: "Invalid request payload",
			Details: err.Error(),
		})
		return
	}

	req.SelectedOption = strings.ToUpper(req.SelectedOption)
	if err := h.validator.Validate(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Message: "Validation failed",
			Details: err.Error(),
		})
		return
	}

	result, err := h.attemptService.SaveAnswer(c.Request.Context(), id, &req, userID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

// SubmitAttempt submits an attempt for grading
// @Summary Submit attempt
// @Description Applies any final answers, grades the attempt and moves it to submitted
// @Tags attempts
// @Accept json
// @Produce json
// @Param id path uint true "Attempt ID"
// @Param request body services.SubmitAttemptRequest false "Final answers"
// @Success 200 {object} services.SubmitAttemptResponse
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Failure 410 {object} ErrorResponse
// @Router /attempts/{id}/submit [post]
func (h *AttemptHandler) SubmitAttempt(c *gin.Context) {
	id := h.parseIDParam(c, "id")
	if id == 0 {
		return
	}

	h.LogRequest(c, "Submitting attempt", "attempt_id", id)

	userID, ok := h.requireUserID(c)
	if !ok {
		return
	}

	// The submit body is optional: an empty post closes the attempt with
	// whatever answers were auto-saved.
	var req services.SubmitAttemptRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{
				Message: "Invalid request payload",
				Details: err.Error(),
			})
			return
		}
	}

	for i := range req.Answers {
		req.Answers[i].SelectedOption = strings.ToUpper(req.Answers[i].SelectedOption)
	}
	if err := h.validator.Validate(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Message: "Validation failed",
			Details: err.Error(),
		})
		return
	}

	result, err := h.attemptService.Submit(c.Request.Context(), id, &req, userID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

// GetTimeRemaining reports the seconds left on an attempt
// @Summary Get time remaining
// @Description Returns the authoritative seconds remaining; an expired attempt is closed and reported as gone
// @Tags attempts
// @Accept json
// @Produce json
// @Param id path uint true "Attempt ID"
// @Success 200 {object} map[string]int
// @Failure 404 {object} ErrorResponse
// @Failure 410 {object} ErrorResponse
// @Router /attempts/{id}/time-remaining [get]
func (h *AttemptHandler) GetTimeRemaining(c *gin.Context) {
	id := h.parseIDParam(c, "id")
	if id == 0 {
		return
	}

	userID, ok := h.requireUserID(c)
	if !ok {
		return
	}

	seconds, err := h.attemptService.GetTimeRemaining(c.Request.Context(), id, userID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"time_remaining": seconds,
	})
}

// ListAttempts lists attempts for managers
// @Summary List attempts
// @Description Lists attempts filtered by exam, student, status or verification state, scoped to the manager's institution
// @Tags attempts
// @Accept json
// @Produce json
// @Param exam_id query uint false "Exam ID"
// @Param student_id query uint false "Student ID"
// @Param status query string false "Attempt status"
// @Param is_verified query bool false "Verified flag"
// @Param passed query bool false "Passed flag"
// @Param page query int false "Page number"
// @Param size query int false "Page size"
// @Success 200 {object} services.AttemptListResponse
// @Failure 403 {object} ErrorResponse
// @Router /attempts [get]
func (h *AttemptHandler) ListAttempts(c *gin.Context) {
	h.LogRequest(c, "Listing attempts")

	userID, ok := h.requireUserID(c)
	if !ok {
		return
	}

	filters := h.parseAttemptFilters(c)
	result, err := h.attemptService.List(c.Request.Context(), filters, userID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

func (h *AttemptHandler) parseAttemptFilters(c *gin.Context) repositories.AttemptFilters {
	page := h.parseIntQuery(c, "page", 1)
	size := h.parseIntQuery(c, "size", 20)

	filters := repositories.AttemptFilters{
		ExamID:     h.parseUintQuery(c, "exam_id"),
		StudentID:  h.parseUintQuery(c, "student_id"),
		IsVerified: h.parseBoolQuery(c, "is_verified"),
		Passed:     h.parseBoolQuery(c, "passed"),
		Limit:      size,
		Offset:     (page - 1) * size,
		SortBy:     c.Query("sort_by"),
		SortOrder:  c.Query("sort_order"),
	}

	if status := c.Query("status"); status != "" {
		attemptStatus := models.AttemptStatus(status)
		filters.Status = &attemptStatus
	}

	return filters
}
