package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/edupilot/exam-service/internal/services"
	"github.com/edupilot/exam-service/internal/utils"
)

// StudentHandler handles the student-facing exam and result endpoints.
type StudentHandler struct {
	BaseHandler
	studentService services.StudentService
}

func NewStudentHandler(studentService services.StudentService, logger utils.Logger) *StudentHandler {
	return &StudentHandler{
		BaseHandler:    NewBaseHandler(logger),
		studentService: studentService,
	}
}

// ListAvailableExams lists the student's exams with lock state
// @Summary List available exams
// @Description Lists every exam in the student's enrolled courses with its lock state, previous attempts and best verified score
// @Tags students
// @Accept json
// @Produce json
// @Success 200 {array} services.AvailableExamResponse
// @Failure 401 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /students/me/exams [get]
func (h *StudentHandler) ListAvailableExams(c *gin.Context) {
	h.LogRequest(c, "Listing available exams")

	userID, ok := h.requireUserID(c)
	if !ok {
		return
	}

	exams, err := h.studentService.ListAvailableExams(c.Request.Context(), userID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, exams)
}

// ListResults lists the student's verified results
// @Summary List my results
// @Description Lists the student's verified results, most recent first; unverified attempts stay hidden
// @Tags students
// @Accept json
// @Produce json
// @Success 200 {array} services.ExamResultResponse
// @Failure 401 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /students/me/results [get]
func (h *StudentHandler) ListResults(c *gin.Context) {
	h.LogRequest(c, "Listing student results")

	userID, ok := h.requireUserID(c)
	if !ok {
		return
	}

	results, err := h.studentService.ListResults(c.Request.Context(), userID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, results)
}

// GetResult retrieves one verified result with full answer detail
// @Summary Get my result
// @Description Retrieves one verified result with every question, the student's choices and the answer key
// @Tags students
// @Accept json
// @Produce json
// @Param id path uint true "Attempt ID"
// @Success 200 {object} services.AttemptReviewResponse
// @Failure 401 {object} ErrorResponse
// @Failure 403 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /students/me/results/{id} [get]
func (h *StudentHandler) GetResult(c *gin.Context) {
	id := h.parseIDParam(c, "id")
	if id == 0 {
		return
	}

	h.LogRequest(c, "Getting student result", "attempt_id", id)

	userID, ok := h.requireUserID(c)
	if !ok {
		return
	}

	result, err := h.studentService.GetResult(c.Request.Context(), id, userID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

// GetStats reports the student's verified attempt statistics
// @Summary Get my statistics
// @Tags students
// @Accept json
// @Produce json
// @Success 200 {object} repositories.StudentAttemptStats
// @Failure 401 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /students/me/stats [get]
func (h *StudentHandler) GetStats(c *gin.Context) {
	h.LogRequest(c, "Getting student stats")

	userID, ok := h.requireUserID(c)
	if !ok {
		return
	}

	stats, err := h.studentService.GetStats(c.Request.Context(), userID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, stats)
}
