package handlers

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/edupilot/exam-service/internal/repositories"
	"github.com/edupilot/exam-service/internal/services"
	"github.com/edupilot/exam-service/internal/utils"
	"github.com/edupilot/exam-service/internal/validator"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// ExamHandler handles exam and question management endpoints.
type ExamHandler struct {
	BaseHandler
	examService services.ExamService
	validator   *validator.Validator
}

func NewExamHandler(examService services.ExamService, validator *validator.Validator, logger utils.Logger) *ExamHandler {
	return &ExamHandler{
		BaseHandler: NewBaseHandler(logger),
		examService: examService,
		validator:   validator,
	}
}

// CreateExam creates a new exam
// @Summary Create exam
// @Description Creates an exam under a course module, optionally with its initial question set
// @Tags exams
// @Accept json
// @Produce json
// @Param request body services.CreateExamRequest true "Exam definition"
// @Success 201 {object} services.ExamResponse
// @Failure 400 {object} ErrorResponse
// @Failure 403 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /exams [post]
func (h *ExamHandler) CreateExam(c *gin.Context) {
	h.LogRequest(c, "Creating exam")

	userID, ok := h.requireUserID(c)
	if !ok {
		return
	}

	var req services.CreateExamRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Message: "Invalid request payload",
			Details: err.Error(),
		})
		return
	}

	exam, err := h.examService.Create(c.Request.Context(), &req, userID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusCreated, exam)
}

// GetExam retrieves an exam
// @Summary Get exam
// @Description Retrieves one exam with its attempt count and edit permissions
// @Tags exams
// @Accept json
// @Produce json
// @Param id path uint true "Exam ID"
// @Success 200 {object} services.ExamResponse
// @Failure 403 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /exams/{id} [get]
func (h *ExamHandler) GetExam(c *gin.Context) {
	id := h.parseIDParam(c, "id")
	if id == 0 {
		return
	}

	h.LogRequest(c, "Getting exam", "exam_id", id)

	userID, ok := h.requireUserID(c)
	if !ok {
		return
	}

	exam, err := h.examService.GetByID(c.Request.Context(), id, userID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, exam)
}

// GetExamWithQuestions retrieves an exam with its full question set
// @Summary Get exam with questions
// @Description Retrieves one exam including its active questions with answer keys, for editing
// @Tags exams
// @Accept json
// @Produce json
// @Param id path uint true "Exam ID"
// @Success 200 {object} services.ExamResponse
// @Failure 403 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /exams/{id}/questions [get]
func (h *ExamHandler) GetExamWithQuestions(c *gin.Context) {
	id := h.parseIDParam(c, "id")
	if id == 0 {
		return
	}

	h.LogRequest(c, "Getting exam with questions", "exam_id", id)

	userID, ok := h.requireUserID(c)
	if !ok {
		return
	}

	exam, err := h.examService.GetWithQuestions(c.Request.Context(), id, userID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, exam)
}

// UpdateExam updates an exam
// @Summary Update exam
// @Description Updates exam settings; only provided fields are changed
// @Tags exams
// @Accept json
// @Produce json
// @Param id path uint true "Exam ID"
// @Param request body services.UpdateExamRequest true "Fields to update"
// @Success 200 {object} services.ExamResponse
// @Failure 400 {object} ErrorResponse
// @Failure 403 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /exams/{id} [put]
func (h *ExamHandler) UpdateExam(c *gin.Context) {
	id := h.parseIDParam(c, "id")
	if id == 0 {
		return
	}

	h.LogRequest(c, "Updating exam", "exam_id", id)

	userID, ok := h.requireUserID(c)
	if !ok {
		return
	}

	var req services.UpdateExamRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Message: "Invalid request payload",
			Details: err.Error(),
		})
		return
	}

	exam, err := h.examService.Update(c.Request.Context(), id, &req, userID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, exam)
}

// DeleteExam deletes an exam
// @Summary Delete exam
// @Description Soft-deletes an exam; exams with attempts can only be deleted by a super admin
// @Tags exams
// @Accept json
// @Produce json
// @Param id path uint true "Exam ID"
// @Success 200 {object} SuccessResponse
// @Failure 403 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Failure 422 {object} ErrorResponse
// @Router /exams/{id} [delete]
func (h *ExamHandler) DeleteExam(c *gin.Context) {
	id := h.parseIDParam(c, "id")
	if id == 0 {
		return
	}

	h.LogRequest(c, "Deleting exam", "exam_id", id)

	userID, ok := h.requireUserID(c)
	if !ok {
		return
	}

	if err := h.examService.Delete(c.Request.Context(), id, userID); err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, SuccessResponse{
		Message: "Exam deleted successfully",
	})
}

// ListExams lists exams
// @Summary List exams
// @Description Lists exams scoped to the manager's institution
// @Tags exams
// @Accept json
// @Produce json
// @Param course_id query uint false "Course ID"
// @Param module_id query uint false "Module ID"
// @Param is_active query bool false "Active flag"
// @Param batch_time query string false "Batch time"
// @Param page query int false "Page number"
// @Param size query int false "Page size"
// @Success 200 {object} services.ExamListResponse
// @Failure 403 {object} ErrorResponse
// @Router /exams [get]
func (h *ExamHandler) ListExams(c *gin.Context) {
	h.LogRequest(c, "Listing exams")

	userID, ok := h.requireUserID(c)
	if !ok {
		return
	}

	filters := h.parseExamFilters(c)
	result, err := h.examService.List(c.Request.Context(), filters, userID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

// AddQuestion adds a question to an exam
// @Summary Add question
// @Description Appends a question to the exam; order index defaults to the end
// @Tags exams
// @Accept json
// @Produce json
// @Param id path uint true "Exam ID"
// @Param request body services.CreateQuestionRequest true "Question definition"
// @Success 201 {object} models.Question
// @Failure 400 {object} ErrorResponse
// @Failure 403 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /exams/{id}/questions [post]
func (h *ExamHandler) AddQuestion(c *gin.Context) {
	id := h.parseIDParam(c, "id")
	if id == 0 {
		return
	}

	h.LogRequest(c, "Adding question", "exam_id", id)

	userID, ok := h.requireUserID(c)
	if !ok {
		return
	}

	var req services.CreateQuestionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Message: "Invalid request payload",
			Details: err.Error(),
		})
		return
	}

	question, err := h.examService.AddQuestion(c.Request.Context(), id, &req, userID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusCreated, question)
}

// AddQuestionsBulk adds a batch of questions to an exam
// @Summary Add questions in bulk
// @Description Appends a batch of questions in request order, continuing the order index sequence
// @Tags exams
// @Accept json
// @Produce json
// @Param id path uint true "Exam ID"
// @Param request body services.BulkAddQuestionsRequest true "Questions to append"
// @Success 201 {array} models.Question
// @Failure 400 {object} ErrorResponse
// @Failure 403 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /exams/{id}/questions/bulk [post]
func (h *ExamHandler) AddQuestionsBulk(c *gin.Context) {
	id := h.parseIDParam(c, "id")
	if id == 0 {
		return
	}

	h.LogRequest(c, "Adding questions in bulk", "exam_id", id)

	userID, ok := h.requireUserID(c)
	if !ok {
		return
	}

	var req services.BulkAddQuestionsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Message: "Invalid request payload",
			Details: err.Error(),
		})
		return
	}

	questions, err := h.examService.AddQuestionsBulk(c.Request.Context(), id, &req, userID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusCreated, questions)
}

// UpdateQuestion updates a question
// @Summary Update question
// @Description Updates a question on the exam; only provided fields are changed
// @Tags exams
// @Accept json
// @Produce json
// @Param id path uint true "Exam ID"
// @Param question_id path uint true "Question ID"
// @Param request body services.UpdateQuestionRequest true "Fields to update"
// @Success 200 {object} models.Question
// @Failure 400 {object} ErrorResponse
// @Failure 403 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /exams/{id}/questions/{question_id} [put]
func (h *ExamHandler) UpdateQuestion(c *gin.Context) {
	id := h.parseIDParam(c, "id")
	if id == 0 {
		return
	}
	questionID := h.parseIDParam(c, "question_id")
	if questionID == 0 {
		return
	}

	h.LogRequest(c, "Updating question", "exam_id", id, "question_id", questionID)

	userID, ok := h.requireUserID(c)
	if !ok {
		return
	}

	var req services.UpdateQuestionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Message: "Invalid request payload",
			Details: err.Error(),
		})
		return
	}

	question, err := h.examService.UpdateQuestion(c.Request.Context(), id, questionID, &req, userID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, question)
}

// RemoveQuestion removes a question from an exam
// @Summary Remove question
// @Description Deactivates a question; past attempts keep their frozen copy for grading
// @Tags exams
// @Accept json
// @Produce json
// @Param id path uint true "Exam ID"
// @Param question_id path uint true "Question ID"
// @Success 200 {object} SuccessResponse
// @Failure 403 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /exams/{id}/questions/{question_id} [delete]
func (h *ExamHandler) RemoveQuestion(c *gin.Context) {
	id := h.parseIDParam(c, "id")
	if id == 0 {
		return
	}
	questionID := h.parseIDParam(c, "question_id")
	if questionID == 0 {
		return
	}

	h.LogRequest(c, "Removing question", "exam_id", id, "question_id", questionID)

	userID, ok := h.requireUserID(c)
	if !ok {
		return
	}

	if err := h.examService.RemoveQuestion(c.Request.Context(), id, questionID, userID); err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, SuccessResponse{
		Message: "Question removed successfully",
	})
}

// ImportQuestions imports questions from a spreadsheet
// @Summary Import questions
// @Description Imports questions from an uploaded .xlsx workbook; invalid rows are skipped and reported
// @Tags exams
// @Accept multipart/form-data
// @Produce json
// @Param id path uint true "Exam ID"
// @Param file formData file true "Workbook with a header row and one question per row"
// @Success 200 {object} services.ImportQuestionsResult
// @Failure 400 {object} ErrorResponse
// @Failure 403 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /exams/{id}/questions/import [post]
func (h *ExamHandler) ImportQuestions(c *gin.Context) {
	id := h.parseIDParam(c, "id")
	if id == 0 {
		return
	}

	h.LogRequest(c, "Importing questions", "exam_id", id)

	userID, ok := h.requireUserID(c)
	if !ok {
		return
	}

	fileHeader, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Message: "Missing file upload",
			Details: err.Error(),
		})
		return
	}

	file, err := fileHeader.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Message: "Unable to read file upload",
			Details: err.Error(),
		})
		return
	}
	defer file.Close()

	result, err := h.examService.ImportQuestions(c.Request.Context(), id, file, userID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

// ExportResults exports verified results as a spreadsheet
// @Summary Export results
// @Description Streams the verified results of an exam as an .xlsx download
// @Tags exams
// @Produce application/vnd.openxmlformats-officedocument.spreadsheetml.sheet
// @Param id path uint true "Exam ID"
// @Success 200 {file} file
// @Failure 403 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /exams/{id}/results/export [get]
func (h *ExamHandler) ExportResults(c *gin.Context) {
	id := h.parseIDParam(c, "id")
	if id == 0 {
		return
	}

	h.LogRequest(c, "Exporting results", "exam_id", id)

	userID, ok := h.requireUserID(c)
	if !ok {
		return
	}

	workbook, err := h.examService.ExportResults(c.Request.Context(), id, userID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}
	defer workbook.Close()

	c.Header("Content-Type", xlsxContentType)
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="exam_%d_results.xlsx"`, id))
	if err := workbook.Write(c.Writer); err != nil {
		h.LogError(c, err, "Failed to stream results workbook", "exam_id", id)
	}
}

func (h *ExamHandler) parseExamFilters(c *gin.Context) repositories.ExamFilters {
	page := h.parseIntQuery(c, "page", 1)
	size := h.parseIntQuery(c, "size", 20)

	filters := repositories.ExamFilters{
		CourseID:  h.parseUintQuery(c, "course_id"),
		ModuleID:  h.parseUintQuery(c, "module_id"),
		IsActive:  h.parseBoolQuery(c, "is_active"),
		Limit:     size,
		Offset:    (page - 1) * size,
		SortBy:    c.Query("sort_by"),
		SortOrder: c.Query("sort_order"),
	}

	if batchTime := c.Query("batch_time"); batchTime != "" {
		filters.BatchTime = &batchTime
	}

	return filters
}
