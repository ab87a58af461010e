package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/edupilot/exam-service/internal/repositories"
	"github.com/edupilot/exam-service/internal/services"
	"github.com/edupilot/exam-service/internal/utils"
	"github.com/edupilot/exam-service/internal/validator"
)

// VerificationHandler handles the result verification workflow endpoints.
type VerificationHandler struct {
	BaseHandler
	verificationService services.VerificationService
	validator           *validator.Validator
}

func NewVerificationHandler(verificationService services.VerificationService, validator *validator.Validator, logger utils.Logger) *VerificationHandler {
	return &VerificationHandler{
		BaseHandler:         NewBaseHandler(logger),
		verificationService: verificationService,
		validator:           validator,
	}
}

// ListPending lists attempts waiting for verification
// @Summary List pending verifications
// @Description Lists finished, unverified attempts scoped to the manager's institution, oldest finish first
// @Tags verification
// @Accept json
// @Produce json
// @Param exam_id query uint false "Exam ID"
// @Param course_id query uint false "Course ID"
// @Param page query int false "Page number"
// @Param size query int false "Page size"
// @Success 200 {object} services.PendingVerificationListResponse
// @Failure 403 {object} ErrorResponse
// @Router /verification/pending [get]
func (h *VerificationHandler) ListPending(c *gin.Context) {
	h.LogRequest(c, "Listing pending verifications")

	userID, ok := h.requireUserID(c)
	if !ok {
		return
	}

	page := h.parseIntQuery(c, "page", 1)
	size := h.parseIntQuery(c, "size", 20)
	filters := repositories.VerificationFilters{
		ExamID:   h.parseUintQuery(c, "exam_id"),
		CourseID: h.parseUintQuery(c, "course_id"),
		Limit:    size,
		Offset:   (page - 1) * size,
	}

	result, err := h.verificationService.ListPending(c.Request.Context(), filters, userID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

// ReviewAttempt retrieves an attempt with full answer detail
// @Summary Review attempt
// @Description Retrieves the attempt with every question, the student's choices and the answer key
// @Tags verification
// @Accept json
// @Produce json
// @Param id path uint true "Attempt ID"
// @Success 200 {object} services.AttemptReviewResponse
// @Failure 403 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /verification/attempts/{id} [get]
func (h *VerificationHandler) ReviewAttempt(c *gin.Context) {
	id := h.parseIDParam(c, "id")
	if id == 0 {
		return
	}

	h.LogRequest(c, "Reviewing attempt", "attempt_id", id)

	userID, ok := h.requireUserID(c)
	if !ok {
		return
	}

	review, err := h.verificationService.Review(c.Request.Context(), id, userID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, review)
}

// VerifyAttempt marks an attempt's result as verified
// @Summary Verify attempt
// @Description Releases the attempt's result to the student
// @Tags verification
// @Accept json
// @Produce json
// @Param id path uint true "Attempt ID"
// @Param request body services.VerifyAttemptRequest false "Verification notes"
// @Success 200 {object} models.ExamAttempt
// @Failure 403 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /verification/attempts/{id}/verify [post]
func (h *VerificationHandler) VerifyAttempt(c *gin.Context) {
	id := h.parseIDParam(c, "id")
	if id == 0 {
		return
	}

	h.LogRequest(c, "Verifying attempt", "attempt_id", id)

	userID, ok := h.requireUserID(c)
	if !ok {
		return
	}

	var req services.VerifyAttemptRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{
				Message: "Invalid request payload",
				Details: err.Error(),
			})
			return
		}
	}

	if err := h.validator.Validate(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Message: "Validation failed",
			Details: err.Error(),
		})
		return
	}

	attempt, err := h.verificationService.Verify(c.Request.Context(), id, &req, userID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, attempt)
}

// AllowRetake grants a retake on a verified attempt
// @Summary Allow retake
// @Description Grants the student another attempt; an unverified attempt is verified as part of the grant
// @Tags verification
// @Accept json
// @Produce json
// @Param id path uint true "Attempt ID"
// @Param request body services.AllowRetakeRequest false "Retake notes"
// @Success 200 {object} models.ExamAttempt
// @Failure 403 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /verification/attempts/{id}/allow-retake [post]
func (h *VerificationHandler) AllowRetake(c *gin.Context) {
	id := h.parseIDParam(c, "id")
	if id == 0 {
		return
	}

	h.LogRequest(c, "Allowing retake", "attempt_id", id)

	userID, ok := h.requireUserID(c)
	if !ok {
		return
	}

	var req services.AllowRetakeRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{
				Message: "Invalid request payload",
				Details: err.Error(),
			})
			return
		}
	}

	if err := h.validator.Validate(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Message: "Validation failed",
			Details: err.Error(),
		})
		return
	}

	attempt, err := h.verificationService.AllowRetake(c.Request.Context(), id, &req, userID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, attempt)
}

// BulkVerify verifies a batch of attempts
// @Summary Bulk verify attempts
// @Description Verifies every eligible attempt in the batch; ineligible ones are skipped, not failed
// @Tags verification
// @Accept json
// @Produce json
// @Param request body services.BulkVerifyRequest true "Attempt IDs"
// @Success 200 {object} services.BulkVerifyResponse
// @Failure 400 {object} ErrorResponse
// @Failure 403 {object} ErrorResponse
// @Router /verification/bulk-verify [post]
func (h *VerificationHandler) BulkVerify(c *gin.Context) {
	h.LogRequest(c, "Bulk verifying attempts")

	userID, ok := h.requireUserID(c)
	if !ok {
		return
	}

	var req services.BulkVerifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Message: "Invalid request payload",
			Details: err.Error(),
		})
		return
	}

	result, err := h.verificationService.BulkVerify(c.Request.Context(), &req, userID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

// GetStatistics reports verification workload statistics
// @Summary Verification statistics
// @Description Reports pending count, verified counts and verified-only pass rate and average score
// @Tags verification
// @Accept json
// @Produce json
// @Success 200 {object} services.VerificationStatsResponse
// @Failure 403 {object} ErrorResponse
// @Router /verification/statistics [get]
func (h *VerificationHandler) GetStatistics(c *gin.Context) {
	h.LogRequest(c, "Getting verification statistics")

	userID, ok := h.requireUserID(c)
	if !ok {
		return
	}

	stats, err := h.verificationService.Statistics(c.Request.Context(), userID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, stats)
}
