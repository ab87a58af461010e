package services

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/edupilot/exam-service/internal/events"
	"github.com/edupilot/exam-service/internal/models"
	"github.com/edupilot/exam-service/internal/repositories"
	"github.com/edupilot/exam-service/internal/validator"
	"gorm.io/gorm"
)

func TestNewAttemptService(t *testing.T) {
	type args struct {
		repo      repositories.Repository
		db        *gorm.DB
		logger    *slog.Logger
		validator *validator.Validator
	}
	tests := []struct {
		name string
		args args
		want AttemptService
	}{
		{name: "ok"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			NewAttemptService(tt.args.repo, tt.args.db, tt.args.logger, tt.args.validator, nil)
		})
	}
}

// startFixture wires the minimum repository surface for a student who is
// enrolled, paid up and inside an open schedule window.
type startFixture struct {
	repo      *MockRepository
	publisher *events.MockEventPublisher
	service   AttemptService
}

func newStartFixture(t *testing.T) *startFixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	repo := &MockRepository{}
	repo.StudentRepo.GetByUserIDFn = func(ctx context.Context, tx *gorm.DB, userID string) (*models.Student, error) {
		return &models.Student{ID: 3, UserID: userID, InstitutionID: 1, BatchTime: "9AM-10AM"}, nil
	}
	repo.ExamRepo.GetByIDFn = func(ctx context.Context, tx *gorm.DB, id uint) (*models.Exam, error) {
		return &models.Exam{
			ID:              1,
			CourseID:        2,
			InstitutionID:   1,
			IsActive:        true,
			DurationMinutes: 60,
			PassingMarks:    40,
			BatchTime:       "9AM-10AM",
		}, nil
	}
	repo.EnrollmentRepo.HasActiveEnrollmentFn = func(ctx context.Context, tx *gorm.DB, studentID, courseID uint) (bool, error) {
		return true, nil
	}
	repo.PaymentRepo.HasPaymentFn = func(ctx context.Context, tx *gorm.DB, studentID, courseID uint) (bool, error) {
		return true, nil
	}
	repo.ScheduleRepo.GetActiveByExamFn = func(ctx context.Context, tx *gorm.DB, examID uint) ([]*models.ExamSchedule, error) {
		return []*models.ExamSchedule{{
			ID:            5,
			ExamID:        examID,
			BatchTime:     "9AM-10AM",
			ScheduledDate: time.Now(),
			StartTime:     "00:00",
			EndTime:       "23:59",
			IsActive:      true,
		}}, nil
	}
	repo.QuestionRepo.GetByExamFn = func(ctx context.Context, tx *gorm.DB, examID uint, activeOnly bool) ([]*models.Question, error) {
		return []*models.Question{
			{ID: 10, ExamID: examID, QuestionText: "q1", OptionA: "a1", OptionB: "b1", OptionC: "c1", OptionD: "d1", Marks: 1, CorrectOption: models.OptionB},
			{ID: 11, ExamID: examID, QuestionText: "q2", OptionA: "a2", OptionB: "b2", OptionC: "c2", OptionD: "d2", Marks: 2, CorrectOption: models.OptionD},
		}, nil
	}
	repo.QuestionRepo.GetByIDsFn = func(ctx context.Context, tx *gorm.DB, ids []uint) ([]*models.Question, error) {
		return repo.QuestionRepo.GetByExamFn(ctx, tx, 1, true)
	}

	publisher := events.NewMockEventPublisher(logger)
	service := NewAttemptService(repo, nil, logger, validator.New(), publisher)
	return &startFixture{repo: repo, publisher: publisher, service: service}
}

func TestAttemptService_Start(t *testing.T) {
	ctx := context.Background()

	t.Run("creates a frozen snapshot and seeds answer rows", func(t *testing.T) {
		f := newStartFixture(t)
		var created *models.ExamAttempt
		f.repo.AttemptRepo.CreateFn = func(ctx context.Context, tx *gorm.DB, attempt *models.ExamAttempt) error {
			attempt.ID = 7
			created = attempt
			return nil
		}
		var seeded []*models.StudentAnswer
		f.repo.AnswerRepo.CreateBatchFn = func(ctx context.Context, tx *gorm.DB, answers []*models.StudentAnswer) error {
			seeded = answers
			return nil
		}

		resp, err := f.service.Start(ctx, &StartAttemptRequest{ExamID: 1}, "student-1")
		if err != nil {
			t.Fatalf("Start() error = %v", err)
		}

		if created == nil {
			t.Fatal("no attempt row was created")
		}
		if created.AttemptNumber != 1 {
			t.Errorf("AttemptNumber = %d, want 1", created.AttemptNumber)
		}
		if created.Status != models.AttemptInProgress {
			t.Errorf("Status = %s, want in_progress", created.Status)
		}
		if created.TimeRemaining != 3600 {
			t.Errorf("TimeRemaining = %d, want 3600", created.TimeRemaining)
		}
		if created.ScheduleID == nil || *created.ScheduleID != 5 {
			t.Errorf("ScheduleID = %v, want 5", created.ScheduleID)
		}
		if len(created.QuestionOrder) == 0 {
			t.Error("QuestionOrder snapshot should be frozen at start")
		}

		if len(seeded) != 2 {
			t.Fatalf("seeded %d answer rows, want 2", len(seeded))
		}
		for _, row := range seeded {
			if row.SelectedOption != nil {
				t.Errorf("seed for question %d should start unanswered", row.QuestionID)
			}
			if row.AttemptID != created.ID {
				t.Errorf("seed attempt id = %d, want %d", row.AttemptID, created.ID)
			}
		}

		if resp.TotalQuestions != 2 {
			t.Errorf("TotalQuestions = %d, want 2", resp.TotalQuestions)
		}
		if !resp.CanSubmit {
			t.Error("a fresh attempt should be submittable")
		}
		if len(resp.Questions) != 2 {
			t.Fatalf("response carries %d questions, want 2", len(resp.Questions))
		}
		// Shuffling is off on this exam, so delivery matches authored order
		// and labels map to their own option text.
		if resp.Questions[0].QuestionID != 10 || resp.Questions[1].QuestionID != 11 {
			t.Errorf("question order = [%d %d], want [10 11]", resp.Questions[0].QuestionID, resp.Questions[1].QuestionID)
		}
		if resp.Questions[0].Options[0].Label != "A" || resp.Questions[0].Options[0].Text != "a1" {
			t.Errorf("option = %+v, want label A with text a1", resp.Questions[0].Options[0])
		}

		published := f.publisher.GetPublishedEvents()
		if len(published) != 1 {
			t.Fatalf("published %d events, want 1", len(published))
		}
		if published[0].Type != events.EventAttemptStarted {
			t.Errorf("event type = %s, want %s", published[0].Type, events.EventAttemptStarted)
		}
		if published[0].Source != "exam-service" || published[0].Version != "1.0" {
			t.Errorf("event envelope = %s/%s, want exam-service/1.0", published[0].Source, published[0].Version)
		}
	})

	t.Run("resumes an open attempt instead of creating a second", func(t *testing.T) {
		f := newStartFixture(t)
		order, _ := encodeQuestionOrder([]uint{10, 11})
		answerOrder, _ := encodeAnswerOrder(map[uint]map[string]string{})
		active := &models.ExamAttempt{
			ID:            42,
			ExamID:        1,
			StudentID:     3,
			Status:        models.AttemptInProgress,
			StartedAt:     time.Now().Add(-5 * time.Minute),
			QuestionOrder: order,
			AnswerOrder:   answerOrder,
		}
		f.repo.AttemptRepo.GetActiveAttemptFn = func(ctx context.Context, tx *gorm.DB, studentID, examID uint) (*models.ExamAttempt, error) {
			return active, nil
		}
		creates := 0
		f.repo.AttemptRepo.CreateFn = func(ctx context.Context, tx *gorm.DB, attempt *models.ExamAttempt) error {
			creates++
			return nil
		}

		resp, err := f.service.Start(ctx, &StartAttemptRequest{ExamID: 1}, "student-1")
		if err != nil {
			t.Fatalf("Start() error = %v", err)
		}
		if resp.ExamAttempt.ID != 42 {
			t.Errorf("resumed attempt id = %d, want 42", resp.ExamAttempt.ID)
		}
		if creates != 0 {
			t.Errorf("creates = %d, a resume must not create a row", creates)
		}
		if len(f.publisher.GetPublishedEvents()) != 0 {
			t.Error("a resume must not publish a start event")
		}
	})

	t.Run("lost start race resumes the winner", func(t *testing.T) {
		f := newStartFixture(t)
		order, _ := encodeQuestionOrder([]uint{10, 11})
		winner := &models.ExamAttempt{
			ID:            43,
			ExamID:        1,
			StudentID:     3,
			Status:        models.AttemptInProgress,
			StartedAt:     time.Now().Add(-time.Minute),
			QuestionOrder: order,
		}
		calls := 0
		f.repo.AttemptRepo.GetActiveAttemptFn = func(ctx context.Context, tx *gorm.DB, studentID, examID uint) (*models.ExamAttempt, error) {
			calls++
			if calls == 1 {
				return nil, gorm.ErrRecordNotFound
			}
			return winner, nil
		}
		f.repo.AttemptRepo.CreateFn = func(ctx context.Context, tx *gorm.DB, attempt *models.ExamAttempt) error {
			return gorm.ErrDuplicatedKey
		}

		resp, err := f.service.Start(ctx, &StartAttemptRequest{ExamID: 1}, "student-1")
		if err != nil {
			t.Fatalf("Start() error = %v", err)
		}
		if resp.ExamAttempt.ID != 43 {
			t.Errorf("attempt id = %d, want the winner 43", resp.ExamAttempt.ID)
		}
	})

	t.Run("missing enrollment locks the exam", func(t *testing.T) {
		f := newStartFixture(t)
		f.repo.EnrollmentRepo.HasActiveEnrollmentFn = func(ctx context.Context, tx *gorm.DB, studentID, courseID uint) (bool, error) {
			return false, nil
		}

		_, err := f.service.Start(ctx, &StartAttemptRequest{ExamID: 1}, "student-1")
		if !errors.Is(err, ErrNotEnrolled) {
			t.Errorf("error = %v, want ErrNotEnrolled", err)
		}
	})

	t.Run("missing payment locks the exam", func(t *testing.T) {
		f := newStartFixture(t)
		f.repo.PaymentRepo.HasPaymentFn = func(ctx context.Context, tx *gorm.DB, studentID, courseID uint) (bool, error) {
			return false, nil
		}

		_, err := f.service.Start(ctx, &StartAttemptRequest{ExamID: 1}, "student-1")
		if !errors.Is(err, ErrPaymentRequired) {
			t.Errorf("error = %v, want ErrPaymentRequired", err)
		}
	})

	t.Run("batch mismatch locks with the schedule reason", func(t *testing.T) {
		f := newStartFixture(t)
		f.repo.ScheduleRepo.GetActiveByExamFn = func(ctx context.Context, tx *gorm.DB, examID uint) ([]*models.ExamSchedule, error) {
			return []*models.ExamSchedule{{
				ID:            5,
				ExamID:        examID,
				BatchTime:     "7PM-8PM",
				ScheduledDate: time.Now(),
				StartTime:     "00:00",
				EndTime:       "23:59",
				IsActive:      true,
			}}, nil
		}

		_, err := f.service.Start(ctx, &StartAttemptRequest{ExamID: 1}, "student-1")
		if !errors.Is(err, ErrExamLocked) {
			t.Fatalf("error = %v, want ErrExamLocked", err)
		}
		var lockErr *ExamLockedError
		if !errors.As(err, &lockErr) {
			t.Fatalf("error = %v, want ExamLockedError", err)
		}
		if lockErr.Reason != LockReasonNotScheduled {
			t.Errorf("reason = %q, want %q", lockErr.Reason, LockReasonNotScheduled)
		}
	})

	t.Run("completed exam without retakes stays locked", func(t *testing.T) {
		f := newStartFixture(t)
		f.repo.AttemptRepo.GetTerminalByStudentAndExamFn = func(ctx context.Context, tx *gorm.DB, studentID, examID uint) ([]*models.ExamAttempt, error) {
			return []*models.ExamAttempt{{ID: 9, Status: models.AttemptSubmitted}}, nil
		}

		_, err := f.service.Start(ctx, &StartAttemptRequest{ExamID: 1}, "student-1")
		var lockErr *ExamLockedError
		if !errors.As(err, &lockErr) {
			t.Fatalf("error = %v, want ExamLockedError", err)
		}
		if lockErr.Reason != LockReasonAlreadyCompleted {
			t.Errorf("reason = %q, want %q", lockErr.Reason, LockReasonAlreadyCompleted)
		}
	})

	t.Run("exam without active questions cannot start", func(t *testing.T) {
		f := newStartFixture(t)
		f.repo.QuestionRepo.GetByExamFn = func(ctx context.Context, tx *gorm.DB, examID uint, activeOnly bool) ([]*models.Question, error) {
			return nil, nil
		}

		_, err := f.service.Start(ctx, &StartAttemptRequest{ExamID: 1}, "student-1")
		if !errors.Is(err, ErrNoActiveQuestions) {
			t.Errorf("error = %v, want ErrNoActiveQuestions", err)
		}
	})

	t.Run("inactive exam reads as not found", func(t *testing.T) {
		f := newStartFixture(t)
		f.repo.ExamRepo.GetByIDFn = func(ctx context.Context, tx *gorm.DB, id uint) (*models.Exam, error) {
			return &models.Exam{ID: id, IsActive: false}, nil
		}

		_, err := f.service.Start(ctx, &StartAttemptRequest{ExamID: 1}, "student-1")
		if !errors.Is(err, ErrExamNotFound) {
			t.Errorf("error = %v, want ErrExamNotFound", err)
		}
	})
}

// answerFixture wires an owned in-progress attempt with a frozen two-question
// snapshot and a live upsert that mutates a shared answer slice.
type answerFixture struct {
	repo      *MockRepository
	publisher *events.MockEventPublisher
	service   AttemptService
	attempt   *models.ExamAttempt
	answers   []*models.StudentAnswer
}

func newAnswerFixture(t *testing.T, answerOrder map[uint]map[string]string) *answerFixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	order, err := encodeQuestionOrder([]uint{10, 11})
	if err != nil {
		t.Fatalf("encodeQuestionOrder() error = %v", err)
	}
	orderJSON, err := encodeAnswerOrder(answerOrder)
	if err != nil {
		t.Fatalf("encodeAnswerOrder() error = %v", err)
	}

	f := &answerFixture{
		attempt: &models.ExamAttempt{
			ID:            7,
			ExamID:        1,
			StudentID:     3,
			Status:        models.AttemptInProgress,
			StartedAt:     time.Now().Add(-10 * time.Minute),
			QuestionOrder: order,
			AnswerOrder:   orderJSON,
		},
		answers: []*models.StudentAnswer{
			{ID: 100, AttemptID: 7, QuestionID: 10},
			{ID: 101, AttemptID: 7, QuestionID: 11},
		},
	}

	repo := &MockRepository{}
	repo.StudentRepo.GetByUserIDFn = func(ctx context.Context, tx *gorm.DB, userID string) (*models.Student, error) {
		return &models.Student{ID: 3, UserID: userID}, nil
	}
	repo.ExamRepo.GetByIDFn = func(ctx context.Context, tx *gorm.DB, id uint) (*models.Exam, error) {
		return &models.Exam{ID: id, IsActive: true, DurationMinutes: 60, PassingMarks: 40}, nil
	}
	repo.AttemptRepo.GetByIDFn = func(ctx context.Context, tx *gorm.DB, id uint) (*models.ExamAttempt, error) {
		return f.attempt, nil
	}
	repo.AttemptRepo.GetByIDForUpdateFn = func(ctx context.Context, tx *gorm.DB, id uint) (*models.ExamAttempt, error) {
		return f.attempt, nil
	}
	repo.QuestionRepo.GetByIDsFn = func(ctx context.Context, tx *gorm.DB, ids []uint) ([]*models.Question, error) {
		return []*models.Question{
			{ID: 10, Marks: 1, CorrectOption: models.OptionB},
			{ID: 11, Marks: 2, CorrectOption: models.OptionD},
		}, nil
	}
	repo.AnswerRepo.GetByAttemptFn = func(ctx context.Context, tx *gorm.DB, attemptID uint) ([]*models.StudentAnswer, error) {
		return f.answers, nil
	}
	repo.AnswerRepo.UpsertAnswerFn = func(ctx context.Context, tx *gorm.DB, answer *models.StudentAnswer) error {
		for _, row := range f.answers {
			if row.QuestionID == answer.QuestionID {
				row.SelectedOption = answer.SelectedOption
				row.MarkedForReview = answer.MarkedForReview
				row.AnsweredAt = answer.AnsweredAt
				return nil
			}
		}
		return gorm.ErrRecordNotFound
	}

	f.repo = repo
	f.publisher = events.NewMockEventPublisher(logger)
	f.service = NewAttemptService(repo, nil, logger, validator.New(), f.publisher)
	return f
}

func TestAttemptService_SaveAnswer(t *testing.T) {
	ctx := context.Background()

	t.Run("saves and reports the remaining time", func(t *testing.T) {
		f := newAnswerFixture(t, nil)

		resp, err := f.service.SaveAnswer(ctx, 7, &SaveAnswerRequest{QuestionID: 10, SelectedOption: "B"}, "student-1")
		if err != nil {
			t.Fatalf("SaveAnswer() error = %v", err)
		}
		if resp.Status != "saved" {
			t.Errorf("Status = %q, want saved", resp.Status)
		}
		if resp.TimeRemaining <= 0 || resp.TimeRemaining > 3600 {
			t.Errorf("TimeRemaining = %d, want within the attempt window", resp.TimeRemaining)
		}
		if f.answers[0].SelectedOption == nil || *f.answers[0].SelectedOption != "B" {
			t.Errorf("stored option = %v, want B", f.answers[0].SelectedOption)
		}
		if f.answers[0].AnsweredAt == nil {
			t.Error("AnsweredAt should be stamped on save")
		}
	})

	t.Run("translates shown labels through the frozen bijection", func(t *testing.T) {
		f := newAnswerFixture(t, map[uint]map[string]string{
			10: {"A": "C", "B": "A", "C": "D", "D": "B"},
		})

		_, err := f.service.SaveAnswer(ctx, 7, &SaveAnswerRequest{QuestionID: 10, SelectedOption: "A"}, "student-1")
		if err != nil {
			t.Fatalf("SaveAnswer() error = %v", err)
		}
		if f.answers[0].SelectedOption == nil || *f.answers[0].SelectedOption != "C" {
			t.Errorf("stored option = %v, want original-space C", f.answers[0].SelectedOption)
		}
	})

	t.Run("last save per question wins", func(t *testing.T) {
		f := newAnswerFixture(t, nil)

		if _, err := f.service.SaveAnswer(ctx, 7, &SaveAnswerRequest{QuestionID: 10, SelectedOption: "A"}, "student-1"); err != nil {
			t.Fatalf("first save error = %v", err)
		}
		if _, err := f.service.SaveAnswer(ctx, 7, &SaveAnswerRequest{QuestionID: 10, SelectedOption: "D"}, "student-1"); err != nil {
			t.Fatalf("second save error = %v", err)
		}
		if *f.answers[0].SelectedOption != "D" {
			t.Errorf("stored option = %s, want the later D", *f.answers[0].SelectedOption)
		}
	})

	t.Run("rejects a question outside the attempt", func(t *testing.T) {
		f := newAnswerFixture(t, nil)

		_, err := f.service.SaveAnswer(ctx, 7, &SaveAnswerRequest{QuestionID: 99, SelectedOption: "A"}, "student-1")
		if !errors.Is(err, ErrAnswerQuestionMismatch) {
			t.Errorf("error = %v, want ErrAnswerQuestionMismatch", err)
		}
	})

	t.Run("somebody else's attempt reads as not found", func(t *testing.T) {
		f := newAnswerFixture(t, nil)
		f.attempt.StudentID = 4

		_, err := f.service.SaveAnswer(ctx, 7, &SaveAnswerRequest{QuestionID: 10, SelectedOption: "B"}, "student-1")
		if !errors.Is(err, ErrAttemptNotFound) {
			t.Errorf("error = %v, want ErrAttemptNotFound", err)
		}
	})

	t.Run("terminal attempt rejects saves", func(t *testing.T) {
		f := newAnswerFixture(t, nil)
		f.attempt.Status = models.AttemptSubmitted

		_, err := f.service.SaveAnswer(ctx, 7, &SaveAnswerRequest{QuestionID: 10, SelectedOption: "B"}, "student-1")
		if !errors.Is(err, ErrAttemptNotActive) {
			t.Errorf("error = %v, want ErrAttemptNotActive", err)
		}
	})

	t.Run("expired clock times the attempt out", func(t *testing.T) {
		f := newAnswerFixture(t, nil)
		f.attempt.StartedAt = time.Now().Add(-2 * time.Hour)

		_, err := f.service.SaveAnswer(ctx, 7, &SaveAnswerRequest{QuestionID: 10, SelectedOption: "B"}, "student-1")
		if !errors.Is(err, ErrAttemptTimeExpired) {
			t.Fatalf("error = %v, want ErrAttemptTimeExpired", err)
		}
		if f.attempt.Status != models.AttemptTimedOut {
			t.Errorf("Status = %s, want timed_out after the lazy transition", f.attempt.Status)
		}
		deadline := f.attempt.StartedAt.Add(60 * time.Minute)
		if f.attempt.EndedAt == nil || !f.attempt.EndedAt.Equal(deadline) {
			t.Errorf("EndedAt = %v, want the deadline %v", f.attempt.EndedAt, deadline)
		}
	})
}

func TestAttemptService_Submit(t *testing.T) {
	ctx := context.Background()

	t.Run("grades and returns the result when shown immediately", func(t *testing.T) {
		f := newAnswerFixture(t, nil)
		f.repo.ExamRepo.GetByIDFn = func(ctx context.Context, tx *gorm.DB, id uint) (*models.Exam, error) {
			return &models.Exam{ID: id, IsActive: true, DurationMinutes: 60, PassingMarks: 40, ShowResultImmediately: true}, nil
		}
		f.answers[0].SelectedOption = strPtr("B")

		req := &SubmitAttemptRequest{Answers: []SaveAnswerRequest{{QuestionID: 11, SelectedOption: "D"}}}
		resp, err := f.service.Submit(ctx, 7, req, "student-1")
		if err != nil {
			t.Fatalf("Submit() error = %v", err)
		}

		if resp.Status != models.AttemptSubmitted {
			t.Errorf("Status = %s, want submitted", resp.Status)
		}
		if !resp.ResultVisible || resp.Result == nil {
			t.Fatal("result should be visible on a show_result_immediately exam")
		}
		if resp.Result.ObtainedMarks != 3 || !resp.Result.Passed {
			t.Errorf("result = %+v, want full marks and passed", resp.Result)
		}
		if resp.Result.Percentage != 100 {
			t.Errorf("Percentage = %v, want 100", resp.Result.Percentage)
		}
		if !f.attempt.IsVerified || f.attempt.VerifiedBy != nil {
			t.Error("attempt should be auto-verified without a verifier")
		}

		published := f.publisher.GetPublishedEvents()
		if len(published) != 1 || published[0].Type != events.EventAttemptSubmitted {
			t.Errorf("events = %v, want one attempt.submitted", published)
		}
	})

	t.Run("hides the result until verification otherwise", func(t *testing.T) {
		f := newAnswerFixture(t, nil)
		f.answers[0].SelectedOption = strPtr("B")

		resp, err := f.service.Submit(ctx, 7, nil, "student-1")
		if err != nil {
			t.Fatalf("Submit() error = %v", err)
		}
		if resp.ResultVisible || resp.Result != nil {
			t.Error("result must stay hidden until a manager verifies")
		}
		if resp.Message == "" {
			t.Error("student should be told the result is pending verification")
		}
		if f.attempt.IsVerified {
			t.Error("attempt must not be auto-verified")
		}
	})

	t.Run("terminal attempt cannot be submitted twice", func(t *testing.T) {
		f := newAnswerFixture(t, nil)
		f.attempt.Status = models.AttemptSubmitted

		_, err := f.service.Submit(ctx, 7, nil, "student-1")
		if !errors.Is(err, ErrAttemptNotActive) {
			t.Errorf("error = %v, want ErrAttemptNotActive", err)
		}
	})

	t.Run("expired submit becomes a timeout", func(t *testing.T) {
		f := newAnswerFixture(t, nil)
		f.attempt.StartedAt = time.Now().Add(-2 * time.Hour)

		_, err := f.service.Submit(ctx, 7, nil, "student-1")
		if !errors.Is(err, ErrAttemptTimeExpired) {
			t.Fatalf("error = %v, want ErrAttemptTimeExpired", err)
		}
		if f.attempt.Status != models.AttemptTimedOut {
			t.Errorf("Status = %s, want timed_out", f.attempt.Status)
		}
	})
}

func TestAttemptService_GetTimeRemaining(t *testing.T) {
	ctx := context.Background()

	t.Run("reports seconds left without transitioning", func(t *testing.T) {
		f := newAnswerFixture(t, nil)

		remaining, err := f.service.GetTimeRemaining(ctx, 7, "student-1")
		if err != nil {
			t.Fatalf("GetTimeRemaining() error = %v", err)
		}
		if remaining <= 0 || remaining > 3000 {
			t.Errorf("remaining = %d, want roughly fifty minutes", remaining)
		}
	})

	t.Run("expired clock reads zero and stays in progress", func(t *testing.T) {
		f := newAnswerFixture(t, nil)
		f.attempt.StartedAt = time.Now().Add(-2 * time.Hour)

		remaining, err := f.service.GetTimeRemaining(ctx, 7, "student-1")
		if err != nil {
			t.Fatalf("GetTimeRemaining() error = %v", err)
		}
		if remaining != 0 {
			t.Errorf("remaining = %d, want 0", remaining)
		}
		if f.attempt.Status != models.AttemptInProgress {
			t.Errorf("Status = %s, the read must not transition", f.attempt.Status)
		}
	})

	t.Run("terminal attempt is not active", func(t *testing.T) {
		f := newAnswerFixture(t, nil)
		f.attempt.Status = models.AttemptTimedOut

		_, err := f.service.GetTimeRemaining(ctx, 7, "student-1")
		if !errors.Is(err, ErrAttemptNotActive) {
			t.Errorf("error = %v, want ErrAttemptNotActive", err)
		}
	})
}

func TestAttemptService_HandleTimeout(t *testing.T) {
	ctx := context.Background()

	t.Run("finalizes an overdue attempt at its deadline", func(t *testing.T) {
		f := newAnswerFixture(t, nil)
		f.attempt.StartedAt = time.Now().Add(-90 * time.Minute)

		if err := f.service.HandleTimeout(ctx, 7); err != nil {
			t.Fatalf("HandleTimeout() error = %v", err)
		}
		if f.attempt.Status != models.AttemptTimedOut {
			t.Errorf("Status = %s, want timed_out", f.attempt.Status)
		}
		deadline := f.attempt.StartedAt.Add(60 * time.Minute)
		if f.attempt.EndedAt == nil || !f.attempt.EndedAt.Equal(deadline) {
			t.Errorf("EndedAt = %v, want the deadline %v", f.attempt.EndedAt, deadline)
		}

		published := f.publisher.GetPublishedEvents()
		if len(published) != 1 || published[0].Type != events.EventAttemptTimedOut {
			t.Errorf("events = %v, want one attempt.timed_out", published)
		}
	})

	t.Run("attempt still on the clock is left alone", func(t *testing.T) {
		f := newAnswerFixture(t, nil)
		updates := 0
		f.repo.AttemptRepo.UpdateFn = func(ctx context.Context, tx *gorm.DB, attempt *models.ExamAttempt) error {
			updates++
			return nil
		}

		if err := f.service.HandleTimeout(ctx, 7); err != nil {
			t.Fatalf("HandleTimeout() error = %v", err)
		}
		if f.attempt.Status != models.AttemptInProgress {
			t.Errorf("Status = %s, want in_progress", f.attempt.Status)
		}
		if updates != 0 {
			t.Errorf("updates = %d, want 0", updates)
		}
	})

	t.Run("terminal attempt is a no-op", func(t *testing.T) {
		f := newAnswerFixture(t, nil)
		f.attempt.Status = models.AttemptSubmitted

		if err := f.service.HandleTimeout(ctx, 7); err != nil {
			t.Fatalf("HandleTimeout() error = %v", err)
		}
		if len(f.publisher.GetPublishedEvents()) != 0 {
			t.Error("a no-op must not publish a timeout event")
		}
	})
}

func TestAttemptService_SweepExpired(t *testing.T) {
	ctx := context.Background()

	f := newAnswerFixture(t, nil)
	f.attempt.StartedAt = time.Now().Add(-90 * time.Minute)
	f.repo.AttemptRepo.GetExpiredInProgressFn = func(ctx context.Context, tx *gorm.DB, now time.Time, limit int) ([]*models.ExamAttempt, error) {
		return []*models.ExamAttempt{f.attempt}, nil
	}

	count, err := f.service.SweepExpired(ctx, 50)
	if err != nil {
		t.Fatalf("SweepExpired() error = %v", err)
	}
	if count != 1 {
		t.Errorf("count = %d, want 1", count)
	}
	if f.attempt.Status != models.AttemptTimedOut {
		t.Errorf("Status = %s, want timed_out", f.attempt.Status)
	}
}

func TestAttemptService_List(t *testing.T) {
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	newService := func(role models.UserRole, institutionID *uint) (AttemptService, *MockRepository) {
		repo := &MockRepository{}
		repo.UserRepo.GetByIDFn = func(ctx context.Context, id string) (*models.User, error) {
			return &models.User{ID: id, Role: role, InstitutionID: institutionID}, nil
		}
		repo.StudentRepo.GetByUserIDFn = func(ctx context.Context, tx *gorm.DB, userID string) (*models.Student, error) {
			return &models.Student{ID: 3, UserID: userID}, nil
		}
		repo.ExamRepo.GetByIDFn = func(ctx context.Context, tx *gorm.DB, id uint) (*models.Exam, error) {
			return &models.Exam{ID: id, InstitutionID: 1, IsActive: true}, nil
		}
		return NewAttemptService(repo, nil, logger, validator.New(), nil), repo
	}

	t.Run("students are pinned to their own attempts", func(t *testing.T) {
		service, repo := newService(models.RoleStudent, nil)
		var got repositories.AttemptFilters
		repo.AttemptRepo.ListFn = func(ctx context.Context, tx *gorm.DB, filters repositories.AttemptFilters) ([]*models.ExamAttempt, int64, error) {
			got = filters
			return nil, 0, nil
		}

		if _, err := service.List(ctx, repositories.AttemptFilters{StudentID: uintPtr(99)}, "student-1"); err != nil {
			t.Fatalf("List() error = %v", err)
		}
		if got.StudentID == nil || *got.StudentID != 3 {
			t.Errorf("StudentID filter = %v, want forced to 3", got.StudentID)
		}
	})

	t.Run("managers must scope by exam", func(t *testing.T) {
		service, _ := newService(models.RoleStaffManager, uintPtr(1))

		_, err := service.List(ctx, repositories.AttemptFilters{}, "manager-1")
		var verrs ValidationErrors
		if !errors.As(err, &verrs) {
			t.Errorf("error = %v, want validation error demanding exam_id", err)
		}
	})

	t.Run("managers cannot browse another institution's exam", func(t *testing.T) {
		service, _ := newService(models.RoleStaffManager, uintPtr(2))

		_, err := service.List(ctx, repositories.AttemptFilters{ExamID: uintPtr(1)}, "manager-2")
		var permErr *PermissionError
		if !errors.As(err, &permErr) {
			t.Errorf("error = %v, want PermissionError", err)
		}
	})

	t.Run("super admins browse unscoped", func(t *testing.T) {
		service, repo := newService(models.RoleSuperAdmin, nil)
		repo.AttemptRepo.ListFn = func(ctx context.Context, tx *gorm.DB, filters repositories.AttemptFilters) ([]*models.ExamAttempt, int64, error) {
			return []*models.ExamAttempt{{ID: 1}, {ID: 2}}, 2, nil
		}

		resp, err := service.List(ctx, repositories.AttemptFilters{Limit: 20}, "admin-1")
		if err != nil {
			t.Fatalf("List() error = %v", err)
		}
		if resp.Total != 2 || len(resp.Attempts) != 2 {
			t.Errorf("resp = %+v, want both attempts", resp)
		}
		if resp.Page != 1 || resp.Size != 20 {
			t.Errorf("page/size = %d/%d, want 1/20", resp.Page, resp.Size)
		}
	})
}
