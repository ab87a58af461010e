package services

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/edupilot/exam-service/internal/models"
	"github.com/edupilot/exam-service/internal/repositories"
	"github.com/edupilot/exam-service/internal/validator"
	"gorm.io/gorm"
)

type gradingService struct {
	db        *gorm.DB
	repo      repositories.Repository
	logger    *slog.Logger
	validator *validator.Validator
}

func NewGradingService(db *gorm.DB, repo repositories.Repository, logger *slog.Logger, validator *validator.Validator) GradingService {
	return &gradingService{
		db:        db,
		repo:      repo,
		logger:    logger,
		validator: validator,
	}
}

// ===== SCORING =====

// GradeAttempt scores the answers against the frozen question set. A
// question is worth its full marks on an exact match of the correct option
// and zero otherwise; there is no partial credit and no negative marking.
// Answer rows are annotated in place, unanswered rows keep a nil IsCorrect.
func (s *gradingService) GradeAttempt(exam *models.Exam, questions []*models.Question, answers []*models.StudentAnswer) *GradingResult {
	byID := make(map[uint]*models.Question, len(questions))
	result := &GradingResult{}
	for _, question := range questions {
		byID[question.ID] = question
		result.TotalMarks += question.Marks
	}

	for _, answer := range answers {
		question, ok := byID[answer.QuestionID]
		if !ok {
			continue
		}
		if answer.SelectedOption == nil {
			answer.IsCorrect = nil
			answer.MarksObtained = 0
			continue
		}

		result.TotalAnswered++
		correct := *answer.SelectedOption == string(question.CorrectOption)
		answer.IsCorrect = &correct
		if correct {
			answer.MarksObtained = question.Marks
			result.ObtainedMarks += question.Marks
			result.CorrectAnswers++
		} else {
			answer.MarksObtained = 0
		}
	}

	// An attempt over an exam whose questions were all deactivated grades
	// to zero percent rather than dividing by zero.
	if result.TotalMarks > 0 {
		result.Percentage = round2(float64(result.ObtainedMarks) / float64(result.TotalMarks) * 100)
		result.Passed = result.Percentage >= float64(exam.PassingMarks)
	}

	return result
}

// FinalizeAttempt grades the attempt and stamps the terminal state inside
// the caller's transaction. Grading always runs against the question set
// frozen at start time, so questions deactivated mid-attempt still count.
func (s *gradingService) FinalizeAttempt(ctx context.Context, tx *gorm.DB, attempt *models.ExamAttempt, exam *models.Exam, status models.AttemptStatus, endedAt time.Time) (*GradingResult, error) {
	if !status.IsTerminal() {
		return nil, fmt.Errorf("cannot finalize attempt %d into status %q", attempt.ID, status)
	}

	questionIDs, err := decodeQuestionOrder(attempt.QuestionOrder)
	if err != nil {
		return nil, fmt.Errorf("failed to decode question order: %w", err)
	}

	questions, err := s.repo.Question().GetByIDs(ctx, tx, questionIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to load attempt questions: %w", err)
	}

	answers, err := s.repo.Answer().GetByAttempt(ctx, tx, attempt.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load attempt answers: %w", err)
	}

	result := s.GradeAttempt(exam, questions, answers)

	for _, answer := range answers {
		if err := s.repo.Answer().Update(ctx, tx, answer); err != nil {
			return nil, fmt.Errorf("failed to persist graded answer %d: %w", answer.ID, err)
		}
	}

	attempt.Status = status
	attempt.EndedAt = &endedAt
	attempt.TimeRemaining = 0
	attempt.TotalMarks = result.TotalMarks
	attempt.ObtainedMarks = result.ObtainedMarks
	attempt.Percentage = result.Percentage
	attempt.Passed = result.Passed
	attempt.TotalAnswered = result.TotalAnswered
	attempt.CorrectAnswers = result.CorrectAnswers

	// Exams that show results immediately skip the manual verification
	// queue; VerifiedBy stays empty because no manager signed it off.
	if exam.ShowResultImmediately && !attempt.IsVerified {
		now := time.Now()
		attempt.IsVerified = true
		attempt.VerifiedAt = &now
	}

	if err := s.repo.Attempt().Update(ctx, tx, attempt); err != nil {
		return nil, fmt.Errorf("failed to update attempt: %w", err)
	}

	s.logger.Info("Attempt finalized",
		"attempt_id", attempt.ID,
		"status", status,
		"obtained_marks", result.ObtainedMarks,
		"total_marks", result.TotalMarks,
		"percentage", result.Percentage,
		"passed", result.Passed)

	return result, nil
}

// ===== STATISTICS =====

func (s *gradingService) GetExamResultStats(ctx context.Context, examID uint, userID string) (*repositories.ExamResultStats, error) {
	user, err := resolveUser(ctx, s.repo, userID)
	if err != nil {
		return nil, err
	}
	if !user.Role.IsManager() {
		return nil, NewPermissionError(userID, examID, "exam", "view_stats", "manager role required")
	}

	exam, err := s.repo.Exam().GetByID(ctx, s.db, examID)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, ErrExamNotFound
		}
		return nil, fmt.Errorf("failed to get exam: %w", err)
	}
	if !canAccessInstitution(user, exam.InstitutionID) {
		return nil, NewPermissionError(userID, examID, "exam", "view_stats", "exam belongs to another institution")
	}

	return s.repo.Attempt().GetExamResultStats(ctx, s.db, examID)
}

// round2 keeps stored percentages stable across serialization.
func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
