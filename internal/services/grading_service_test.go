package services

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/edupilot/exam-service/internal/models"
	"github.com/edupilot/exam-service/internal/repositories"
	"github.com/edupilot/exam-service/internal/validator"
	"gorm.io/gorm"
)

func TestNewGradingService(t *testing.T) {
	type args struct {
		db        *gorm.DB
		repo      repositories.Repository
		logger    *slog.Logger
		validator *validator.Validator
	}
	tests := []struct {
		name string
		args args
		want GradingService
	}{
		{name: "ok"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			NewGradingService(tt.args.db, tt.args.repo, tt.args.logger, tt.args.validator)
		})
	}
}

func TestGradingService_GradeAttempt(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	service := &gradingService{logger: logger, validator: validator.New()}

	exam := &models.Exam{ID: 1, PassingMarks: 40}
	questions := []*models.Question{
		{ID: 10, Marks: 1, CorrectOption: models.OptionB},
		{ID: 11, Marks: 2, CorrectOption: models.OptionD},
	}

	t.Run("full marks on a match and zero otherwise", func(t *testing.T) {
		answers := []*models.StudentAnswer{
			{QuestionID: 10, SelectedOption: strPtr("B")},
			{QuestionID: 11, SelectedOption: strPtr("A")},
		}

		result := service.GradeAttempt(exam, questions, answers)

		if result.TotalMarks != 3 {
			t.Errorf("TotalMarks = %d, want 3", result.TotalMarks)
		}
		if result.ObtainedMarks != 1 {
			t.Errorf("ObtainedMarks = %d, want 1", result.ObtainedMarks)
		}
		if result.TotalAnswered != 2 {
			t.Errorf("TotalAnswered = %d, want 2", result.TotalAnswered)
		}
		if result.CorrectAnswers != 1 {
			t.Errorf("CorrectAnswers = %d, want 1", result.CorrectAnswers)
		}
		if result.Percentage != 33.33 {
			t.Errorf("Percentage = %v, want 33.33", result.Percentage)
		}
		if result.Passed {
			t.Error("Passed = true, want false with passing marks 40")
		}

		if answers[0].IsCorrect == nil || !*answers[0].IsCorrect {
			t.Error("correct answer should be annotated is_correct=true")
		}
		if answers[0].MarksObtained != 1 {
			t.Errorf("correct answer MarksObtained = %d, want 1", answers[0].MarksObtained)
		}
		if answers[1].IsCorrect == nil || *answers[1].IsCorrect {
			t.Error("wrong answer should be annotated is_correct=false")
		}
		if answers[1].MarksObtained != 0 {
			t.Errorf("wrong answer MarksObtained = %d, want 0", answers[1].MarksObtained)
		}
	})

	t.Run("unanswered rows keep nil is_correct and are not counted", func(t *testing.T) {
		answers := []*models.StudentAnswer{
			{QuestionID: 10, SelectedOption: strPtr("B")},
			{QuestionID: 11},
		}

		result := service.GradeAttempt(exam, questions, answers)

		if result.TotalAnswered != 1 {
			t.Errorf("TotalAnswered = %d, want 1", result.TotalAnswered)
		}
		if result.ObtainedMarks != 1 {
			t.Errorf("ObtainedMarks = %d, want 1", result.ObtainedMarks)
		}
		if answers[1].IsCorrect != nil {
			t.Error("unanswered row should keep nil IsCorrect")
		}
		if result.Percentage != 33.33 {
			t.Errorf("Percentage = %v, want 33.33", result.Percentage)
		}
	})

	t.Run("answer outside the frozen question set is skipped", func(t *testing.T) {
		answers := []*models.StudentAnswer{
			{QuestionID: 99, SelectedOption: strPtr("A")},
		}

		result := service.GradeAttempt(exam, questions, answers)

		if result.TotalAnswered != 0 {
			t.Errorf("TotalAnswered = %d, want 0", result.TotalAnswered)
		}
		if result.ObtainedMarks != 0 {
			t.Errorf("ObtainedMarks = %d, want 0", result.ObtainedMarks)
		}
		if answers[0].IsCorrect != nil {
			t.Error("answer to unknown question should not be annotated")
		}
	})

	t.Run("passes exactly at the passing threshold", func(t *testing.T) {
		halfExam := &models.Exam{ID: 2, PassingMarks: 50}
		half := []*models.StudentAnswer{
			{QuestionID: 10, SelectedOption: strPtr("B")},
			{QuestionID: 11, SelectedOption: strPtr("C")},
		}
		even := []*models.Question{
			{ID: 10, Marks: 1, CorrectOption: models.OptionB},
			{ID: 11, Marks: 1, CorrectOption: models.OptionD},
		}

		result := service.GradeAttempt(halfExam, even, half)

		if result.Percentage != 50 {
			t.Errorf("Percentage = %v, want 50", result.Percentage)
		}
		if !result.Passed {
			t.Error("Passed = false, want true at exact threshold")
		}
	})

	t.Run("empty question set grades to zero percent", func(t *testing.T) {
		answers := []*models.StudentAnswer{
			{QuestionID: 10, SelectedOption: strPtr("B")},
		}

		result := service.GradeAttempt(exam, nil, answers)

		if result.TotalMarks != 0 {
			t.Errorf("TotalMarks = %d, want 0", result.TotalMarks)
		}
		if result.Percentage != 0 {
			t.Errorf("Percentage = %v, want 0", result.Percentage)
		}
		if result.Passed {
			t.Error("Passed = true, want false with no gradable marks")
		}
	})

	t.Run("regrading the same rows is idempotent", func(t *testing.T) {
		answers := []*models.StudentAnswer{
			{QuestionID: 10, SelectedOption: strPtr("B")},
			{QuestionID: 11, SelectedOption: strPtr("D")},
		}

		first := service.GradeAttempt(exam, questions, answers)
		second := service.GradeAttempt(exam, questions, answers)

		if *first != *second {
			t.Errorf("regrade changed the result: first %+v, second %+v", first, second)
		}
		if second.ObtainedMarks != 3 || !second.Passed {
			t.Errorf("result = %+v, want full marks and passed", second)
		}
	})
}

func TestGradingService_FinalizeAttempt(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	ctx := context.Background()

	order, err := encodeQuestionOrder([]uint{10, 11})
	if err != nil {
		t.Fatalf("encodeQuestionOrder() error = %v", err)
	}

	newFixture := func() (*gradingService, *MockRepository, *models.ExamAttempt) {
		repo := &MockRepository{}
		repo.QuestionRepo.GetByIDsFn = func(ctx context.Context, tx *gorm.DB, ids []uint) ([]*models.Question, error) {
			return []*models.Question{
				{ID: 10, Marks: 1, CorrectOption: models.OptionB},
				{ID: 11, Marks: 2, CorrectOption: models.OptionD},
			}, nil
		}
		repo.AnswerRepo.GetByAttemptFn = func(ctx context.Context, tx *gorm.DB, attemptID uint) ([]*models.StudentAnswer, error) {
			return []*models.StudentAnswer{
				{ID: 100, AttemptID: attemptID, QuestionID: 10, SelectedOption: strPtr("B")},
				{ID: 101, AttemptID: attemptID, QuestionID: 11},
			}, nil
		}

		attempt := &models.ExamAttempt{
			ID:            7,
			ExamID:        1,
			StudentID:     3,
			Status:        models.AttemptInProgress,
			StartedAt:     time.Now().Add(-30 * time.Minute),
			TimeRemaining: 600,
			QuestionOrder: order,
		}
		service := &gradingService{repo: repo, logger: logger, validator: validator.New()}
		return service, repo, attempt
	}

	t.Run("rejects a non-terminal target status", func(t *testing.T) {
		service, _, attempt := newFixture()

		_, err := service.FinalizeAttempt(ctx, nil, attempt, &models.Exam{ID: 1}, models.AttemptInProgress, time.Now())
		if err == nil {
			t.Fatal("expected error for non-terminal status")
		}
	})

	t.Run("stamps the attempt and persists graded answers", func(t *testing.T) {
		service, repo, attempt := newFixture()
		answerUpdates := 0
		repo.AnswerRepo.UpdateFn = func(ctx context.Context, tx *gorm.DB, answer *models.StudentAnswer) error {
			answerUpdates++
			return nil
		}
		var updated *models.ExamAttempt
		repo.AttemptRepo.UpdateFn = func(ctx context.Context, tx *gorm.DB, a *models.ExamAttempt) error {
			updated = a
			return nil
		}

		exam := &models.Exam{ID: 1, PassingMarks: 40}
		endedAt := time.Now()
		result, err := service.FinalizeAttempt(ctx, nil, attempt, exam, models.AttemptSubmitted, endedAt)
		if err != nil {
			t.Fatalf("FinalizeAttempt() error = %v", err)
		}

		if attempt.Status != models.AttemptSubmitted {
			t.Errorf("Status = %s, want submitted", attempt.Status)
		}
		if attempt.EndedAt == nil || !attempt.EndedAt.Equal(endedAt) {
			t.Errorf("EndedAt = %v, want %v", attempt.EndedAt, endedAt)
		}
		if attempt.TimeRemaining != 0 {
			t.Errorf("TimeRemaining = %d, want 0", attempt.TimeRemaining)
		}
		if attempt.TotalMarks != 3 || attempt.ObtainedMarks != 1 {
			t.Errorf("marks = %d/%d, want 1/3", attempt.ObtainedMarks, attempt.TotalMarks)
		}
		if attempt.Percentage != 33.33 || attempt.Passed {
			t.Errorf("percentage = %v passed = %v, want 33.33 and false", attempt.Percentage, attempt.Passed)
		}
		if attempt.TotalAnswered != 1 || attempt.CorrectAnswers != 1 {
			t.Errorf("answered = %d correct = %d, want 1 and 1", attempt.TotalAnswered, attempt.CorrectAnswers)
		}
		if attempt.IsVerified {
			t.Error("attempt should stay unverified without show_result_immediately")
		}
		if answerUpdates != 2 {
			t.Errorf("answer updates = %d, want 2", answerUpdates)
		}
		if updated == nil {
			t.Error("attempt row was never updated")
		}
		if result.TotalMarks != 3 {
			t.Errorf("result TotalMarks = %d, want 3", result.TotalMarks)
		}
	})

	t.Run("show_result_immediately verifies without a verifier", func(t *testing.T) {
		service, _, attempt := newFixture()

		exam := &models.Exam{ID: 1, PassingMarks: 40, ShowResultImmediately: true}
		_, err := service.FinalizeAttempt(ctx, nil, attempt, exam, models.AttemptTimedOut, time.Now())
		if err != nil {
			t.Fatalf("FinalizeAttempt() error = %v", err)
		}

		if !attempt.IsVerified {
			t.Error("attempt should be auto-verified")
		}
		if attempt.VerifiedAt == nil {
			t.Error("VerifiedAt should be stamped")
		}
		if attempt.VerifiedBy != nil {
			t.Errorf("VerifiedBy = %v, want nil for auto-verification", *attempt.VerifiedBy)
		}
	})
}

func TestGradingService_GetExamResultStats(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	ctx := context.Background()

	newFixture := func(role models.UserRole, institutionID *uint) (*gradingService, *MockRepository) {
		repo := &MockRepository{}
		repo.UserRepo.GetByIDFn = func(ctx context.Context, id string) (*models.User, error) {
			return &models.User{ID: id, Role: role, InstitutionID: institutionID}, nil
		}
		repo.ExamRepo.GetByIDFn = func(ctx context.Context, tx *gorm.DB, id uint) (*models.Exam, error) {
			return &models.Exam{ID: id, InstitutionID: 1, IsActive: true}, nil
		}
		repo.AttemptRepo.GetExamResultStatsFn = func(ctx context.Context, tx *gorm.DB, examID uint) (*repositories.ExamResultStats, error) {
			return &repositories.ExamResultStats{TotalAttempts: 4, PassedCount: 3, FailedCount: 1, PassRate: 75}, nil
		}
		service := &gradingService{repo: repo, logger: logger, validator: validator.New()}
		return service, repo
	}

	t.Run("students are rejected", func(t *testing.T) {
		service, _ := newFixture(models.RoleStudent, uintPtr(1))

		_, err := service.GetExamResultStats(ctx, 1, "student-1")
		var permErr *PermissionError
		if !errors.As(err, &permErr) {
			t.Fatalf("error = %v, want PermissionError", err)
		}
	})

	t.Run("managers stay inside their institution", func(t *testing.T) {
		service, _ := newFixture(models.RoleStaffManager, uintPtr(2))

		_, err := service.GetExamResultStats(ctx, 1, "manager-2")
		var permErr *PermissionError
		if !errors.As(err, &permErr) {
			t.Fatalf("error = %v, want PermissionError", err)
		}
	})

	t.Run("returns aggregated stats for an accessible exam", func(t *testing.T) {
		service, _ := newFixture(models.RoleStaffManager, uintPtr(1))

		stats, err := service.GetExamResultStats(ctx, 1, "manager-1")
		if err != nil {
			t.Fatalf("GetExamResultStats() error = %v", err)
		}
		if stats.TotalAttempts != 4 || stats.PassRate != 75 {
			t.Errorf("stats = %+v, want 4 attempts at 75 pass rate", stats)
		}
	})
}
