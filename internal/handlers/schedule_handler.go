package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/edupilot/exam-service/internal/repositories"
	"github.com/edupilot/exam-service/internal/services"
	"github.com/edupilot/exam-service/internal/utils"
	"github.com/edupilot/exam-service/internal/validator"
)

// ScheduleHandler handles exam schedule endpoints.
type ScheduleHandler struct {
	BaseHandler
	scheduleService services.ScheduleService
	validator       *validator.Validator
}

func NewScheduleHandler(scheduleService services.ScheduleService, validator *validator.Validator, logger utils.Logger) *ScheduleHandler {
	return &ScheduleHandler{
		BaseHandler:     NewBaseHandler(logger),
		scheduleService: scheduleService,
		validator:       validator,
	}
}

// CreateSchedule creates an exam schedule
// @Summary Create schedule
// @Description Opens an exam window on a date for a batch
// @Tags schedules
// @Accept json
// @Produce json
// @Param request body services.CreateScheduleRequest true "Schedule definition"
// @Success 201 {object} models.ExamSchedule
// @Failure 400 {object} ErrorResponse
// @Failure 403 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /schedules [post]
func (h *ScheduleHandler) CreateSchedule(c *gin.Context) {
	h.LogRequest(c, "Creating schedule")

	userID, ok := h.requireUserID(c)
	if !ok {
		return
	}

	var req services.CreateScheduleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Message: "Invalid request payload",
			Details: err.Error(),
		})
		return
	}

	schedule, err := h.scheduleService.Create(c.Request.Context(), &req, userID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusCreated, schedule)
}

// GetSchedule retrieves a schedule
// @Summary Get schedule
// @Tags schedules
// @Accept json
// @Produce json
// @Param id path uint true "Schedule ID"
// @Success 200 {object} models.ExamSchedule
// @Failure 403 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /schedules/{id} [get]
func (h *ScheduleHandler) GetSchedule(c *gin.Context) {
	id := h.parseIDParam(c, "id")
	if id == 0 {
		return
	}

	h.LogRequest(c, "Getting schedule", "schedule_id", id)

	userID, ok := h.requireUserID(c)
	if !ok {
		return
	}

	schedule, err := h.scheduleService.GetByID(c.Request.Context(), id, userID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, schedule)
}

// UpdateSchedule updates a schedule
// @Summary Update schedule
// @Description Updates the window or batch targeting; only provided fields are changed
// @Tags schedules
// @Accept json
// @Produce json
// @Param id path uint true "Schedule ID"
// @Param request body services.UpdateScheduleRequest true "Fields to update"
// @Success 200 {object} models.ExamSchedule
// @Failure 400 {object} ErrorResponse
// @Failure 403 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /schedules/{id} [put]
func (h *ScheduleHandler) UpdateSchedule(c *gin.Context) {
	id := h.parseIDParam(c, "id")
	if id == 0 {
		return
	}

	h.LogRequest(c, "Updating schedule", "schedule_id", id)

	userID, ok := h.requireUserID(c)
	if !ok {
		return
	}

	var req services.UpdateScheduleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Message: "Invalid request payload",
			Details: err.Error(),
		})
		return
	}

	schedule, err := h.scheduleService.Update(c.Request.Context(), id, &req, userID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, schedule)
}

// CancelSchedule cancels a schedule
// @Summary Cancel schedule
// @Description Deactivates the window; attempts already started keep running to their own deadline
// @Tags schedules
// @Accept json
// @Produce json
// @Param id path uint true "Schedule ID"
// @Success 200 {object} SuccessResponse
// @Failure 403 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /schedules/{id} [delete]
func (h *ScheduleHandler) CancelSchedule(c *gin.Context) {
	id := h.parseIDParam(c, "id")
	if id == 0 {
		return
	}

	h.LogRequest(c, "Cancelling schedule", "schedule_id", id)

	userID, ok := h.requireUserID(c)
	if !ok {
		return
	}

	if err := h.scheduleService.Cancel(c.Request.Context(), id, userID); err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, SuccessResponse{
		Message: "Schedule cancelled successfully",
	})
}

// ListSchedules lists schedules
// @Summary List schedules
// @Description Lists schedules scoped to the manager's institution
// @Tags schedules
// @Accept json
// @Produce json
// @Param exam_id query uint false "Exam ID"
// @Param batch_time query string false "Batch time"
// @Param is_active query bool false "Active flag"
// @Param date_from query string false "Window start date (RFC 3339)"
// @Param date_to query string false "Window end date (RFC 3339)"
// @Param page query int false "Page number"
// @Param size query int false "Page size"
// @Success 200 {object} services.ScheduleListResponse
// @Failure 403 {object} ErrorResponse
// @Router /schedules [get]
func (h *ScheduleHandler) ListSchedules(c *gin.Context) {
	h.LogRequest(c, "Listing schedules")

	userID, ok := h.requireUserID(c)
	if !ok {
		return
	}

	filters := h.parseScheduleFilters(c)
	result, err := h.scheduleService.List(c.Request.Context(), filters, userID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

// GetExamSchedules lists the active schedules of one exam
// @Summary Get exam schedules
// @Tags schedules
// @Accept json
// @Produce json
// @Param id path uint true "Exam ID"
// @Success 200 {array} models.ExamSchedule
// @Failure 403 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /exams/{id}/schedules [get]
func (h *ScheduleHandler) GetExamSchedules(c *gin.Context) {
	id := h.parseIDParam(c, "id")
	if id == 0 {
		return
	}

	h.LogRequest(c, "Getting exam schedules", "exam_id", id)

	userID, ok := h.requireUserID(c)
	if !ok {
		return
	}

	schedules, err := h.scheduleService.GetByExam(c.Request.Context(), id, userID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, schedules)
}

func (h *ScheduleHandler) parseScheduleFilters(c *gin.Context) repositories.ScheduleFilters {
	page := h.parseIntQuery(c, "page", 1)
	size := h.parseIntQuery(c, "size", 20)

	filters := repositories.ScheduleFilters{
		ExamID:   h.parseUintQuery(c, "exam_id"),
		IsActive: h.parseBoolQuery(c, "is_active"),
		Limit:    size,
		Offset:   (page - 1) * size,
	}

	if batchTime := c.Query("batch_time"); batchTime != "" {
		filters.BatchTime = &batchTime
	}
	if from := c.Query("date_from"); from != "" {
		if t, err := time.Parse(time.RFC3339, from); err == nil {
			filters.DateFrom = &t
		}
	}
	if to := c.Query("date_to"); to != "" {
		if t, err := time.Parse(time.RFC3339, to); err == nil {
			filters.DateTo = &t
		}
	}

	return filters
}
