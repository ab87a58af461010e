package services

import (
	"context"
	"fmt"

	"github.com/edupilot/exam-service/internal/events"
	"github.com/edupilot/exam-service/internal/models"
	"github.com/edupilot/exam-service/internal/repositories"
)

// ===== ACCESS =====

// getManagedExam resolves the caller, enforces the manager role and
// institution scope, and loads the exam. Every management operation goes
// through this gate.
func (s *examService) getManagedExam(ctx context.Context, examID uint, userID, action string) (*models.User, *models.Exam, error) {
	user, err := resolveUser(ctx, s.repo, userID)
	if err != nil {
		return nil, nil, err
	}
	if err := requireManager(user, examID, "exam", action); err != nil {
		return nil, nil, err
	}

	exam, err := s.repo.Exam().GetByID(ctx, s.db, examID)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, nil, ErrExamNotFound
		}
		return nil, nil, fmt.Errorf("failed to get exam: %w", err)
	}
	if !canAccessInstitution(user, exam.InstitutionID) {
		return nil, nil, NewPermissionError(userID, examID, "exam", action, "exam belongs to another institution")
	}

	return user, exam, nil
}

func (s *examService) attemptCount(ctx context.Context, examID uint) (int64, error) {
	_, total, err := s.repo.Attempt().List(ctx, s.db, repositories.AttemptFilters{
		ExamID: &examID,
		Limit:  1,
	})
	if err != nil {
		return 0, fmt.Errorf("failed to count attempts: %w", err)
	}
	return total, nil
}

// ===== RESPONSE BUILDING =====

func (s *examService) buildExamResponse(ctx context.Context, exam *models.Exam, user *models.User) (*ExamResponse, error) {
	count, err := s.attemptCount(ctx, exam.ID)
	if err != nil {
		return nil, err
	}

	resp := &ExamResponse{
		Exam:         exam,
		AttemptCount: count,
		CanEdit:      true,
		CanDelete:    count == 0 || user.Role == models.RoleSuperAdmin,
	}
	if course, err := s.repo.Course().GetByID(ctx, s.db, exam.CourseID); err == nil {
		resp.CourseName = course.Name
	}
	if module, err := s.repo.Course().GetModuleByID(ctx, s.db, exam.ModuleID); err == nil {
		resp.ModuleName = module.ModuleName
	}
	return resp, nil
}

// ===== REQUEST MAPPING =====

func examFromCreateRequest(req *CreateExamRequest, course *models.Course, creatorID string) *models.Exam {
	exam := &models.Exam{
		CourseID:              course.ID,
		ModuleID:              req.ModuleID,
		InstitutionID:         course.InstitutionID,
		Title:                 req.Title,
		Description:           req.Description,
		PassingMarks:          40,
		DurationMinutes:       req.DurationMinutes,
		BatchTime:             req.BatchTime,
		BatchMonth:            req.BatchMonth,
		BatchYear:             req.BatchYear,
		BatchIdentifier:       req.BatchIdentifier,
		IsActive:              true,
		AllowRetakes:          req.AllowRetakes,
		MaxRetakes:            req.MaxRetakes,
		ShuffleQuestions:      true,
		ShuffleOptions:        true,
		ShowResultImmediately: req.ShowResultImmediately,
		CreatedBy:             creatorID,
	}

	if req.PassingMarks > 0 {
		exam.PassingMarks = req.PassingMarks
	}
	if req.ShuffleQuestions != nil {
		exam.ShuffleQuestions = *req.ShuffleQuestions
	}
	if req.ShuffleOptions != nil {
		exam.ShuffleOptions = *req.ShuffleOptions
	}
	return exam
}

func questionFromCreateRequest(req *CreateQuestionRequest, examID uint, orderIndex int) *models.Question {
	question := &models.Question{
		ExamID:        examID,
		QuestionText:  req.QuestionText,
		OptionA:       req.OptionA,
		OptionB:       req.OptionB,
		OptionC:       req.OptionC,
		OptionD:       req.OptionD,
		CorrectOption: models.OptionLabel(req.CorrectOption),
		Marks:         1,
		OrderIndex:    orderIndex,
		Explanation:   req.Explanation,
		IsActive:      true,
	}

	if req.Marks > 0 {
		question.Marks = req.Marks
	}
	if req.OrderIndex > 0 {
		question.OrderIndex = req.OrderIndex
	}
	return question
}

func applyExamUpdates(exam *models.Exam, req *UpdateExamRequest) {
	if req.Title != nil {
		exam.Title = *req.Title
	}
	if req.Description != nil {
		exam.Description = req.Description
	}
	if req.ModuleID != nil {
		exam.ModuleID = *req.ModuleID
	}
	if req.DurationMinutes != nil {
		exam.DurationMinutes = *req.DurationMinutes
	}
	if req.PassingMarks != nil {
		exam.PassingMarks = *req.PassingMarks
	}
	if req.BatchTime != nil {
		exam.BatchTime = *req.BatchTime
	}
	if req.BatchMonth != nil {
		exam.BatchMonth = *req.BatchMonth
	}
	if req.BatchYear != nil {
		exam.BatchYear = *req.BatchYear
	}
	if req.BatchIdentifier != nil {
		exam.BatchIdentifier = req.BatchIdentifier
	}
	if req.AllowRetakes != nil {
		exam.AllowRetakes = *req.AllowRetakes
	}
	if req.MaxRetakes != nil {
		exam.MaxRetakes = *req.MaxRetakes
	}
	if req.ShuffleQuestions != nil {
		exam.ShuffleQuestions = *req.ShuffleQuestions
	}
	if req.ShuffleOptions != nil {
		exam.ShuffleOptions = *req.ShuffleOptions
	}
	if req.ShowResultImmediately != nil {
		exam.ShowResultImmediately = *req.ShowResultImmediately
	}
	if req.IsActive != nil {
		exam.IsActive = *req.IsActive
	}
}

func applyQuestionUpdates(question *models.Question, req *UpdateQuestionRequest) {
	if req.QuestionText != nil {
		question.QuestionText = *req.QuestionText
	}
	if req.OptionA != nil {
		question.OptionA = *req.OptionA
	}
	if req.OptionB != nil {
		question.OptionB = *req.OptionB
	}
	if req.OptionC != nil {
		question.OptionC = *req.OptionC
	}
	if req.OptionD != nil {
		question.OptionD = *req.OptionD
	}
	if req.CorrectOption != nil {
		question.CorrectOption = models.OptionLabel(*req.CorrectOption)
	}
	if req.Marks != nil {
		question.Marks = *req.Marks
	}
	if req.OrderIndex != nil {
		question.OrderIndex = *req.OrderIndex
	}
	if req.Explanation != nil {
		question.Explanation = req.Explanation
	}
	if req.IsActive != nil {
		question.IsActive = *req.IsActive
	}
}

// ===== EVENTS =====

func (s *examService) publishEvent(ctx context.Context, eventType string, data interface{}) {
	if s.eventPublisher == nil {
		return
	}
	event := events.NewEvent(eventType, data)
	if err := s.eventPublisher.Publish(ctx, event); err != nil {
		s.logger.Error("Failed to publish event",
			"event_type", eventType,
			"event_id", event.ID,
			"error", err)
	}
}
