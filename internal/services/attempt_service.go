package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/edupilot/exam-service/internal/events"
	"github.com/edupilot/exam-service/internal/models"
	"github.com/edupilot/exam-service/internal/repositories"
	"github.com/edupilot/exam-service/internal/validator"
	"gorm.io/gorm"
)

type attemptService struct {
	repo           repositories.Repository
	db             *gorm.DB
	logger         *slog.Logger
	validator      *validator.Validator
	eventPublisher events.EventPublisher
	eligibility    EligibilityService
}

func NewAttemptService(repo repositories.Repository, db *gorm.DB, logger *slog.Logger, validator *validator.Validator, eventPublisher events.EventPublisher) AttemptService {
	return &attemptService{
		repo:           repo,
		db:             db,
		logger:         logger,
		validator:      validator,
		eventPublisher: eventPublisher,
		eligibility:    NewEligibilityService(repo, db, logger),
	}
}

// ===== CORE ATTEMPT OPERATIONS =====

func (s *attemptService) Start(ctx context.Context, req *StartAttemptRequest, userID string) (*AttemptResponse, error) {
	s.logger.Info("Starting exam attempt",
		"exam_id", req.ExamID,
		"user_id", userID)

	// Validate request
	if err := s.validator.Validate(req); err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}

	student, err := resolveStudent(ctx, s.repo, s.db, userID)
	if err != nil {
		return nil, err
	}

	exam, err := s.repo.Exam().GetByID(ctx, s.db, req.ExamID)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, ErrExamNotFound
		}
		return nil, fmt.Errorf("failed to get exam: %w", err)
	}
	if !exam.IsActive {
		return nil, ErrExamNotFound
	}

	// Access gates first: enrollment, payment, schedule window. The retake
	// gate runs later so a resumable in-progress attempt is never blocked
	// by retake counting.
	access, err := s.eligibility.EvaluateAccess(ctx, exam, student, time.Now())
	if err != nil {
		return nil, err
	}
	if access.Locked {
		return nil, lockError(exam.ID, access.Reason)
	}

	// Resume an in-progress attempt if one exists and its clock has not
	// run out. An expired one is finalized and reported, the student
	// starts fresh on the next call.
	active, err := s.repo.Attempt().GetActiveAttempt(ctx, s.db, student.ID, exam.ID)
	if err != nil && !repositories.IsNotFoundError(err) {
		return nil, fmt.Errorf("failed to check active attempt: %w", err)
	}
	if active != nil {
		if attemptExpired(active, exam, time.Now()) {
			if err := s.HandleTimeout(ctx, active.ID); err != nil {
				return nil, err
			}
			return nil, ErrAttemptTimeExpired
		}

		s.logger.Info("Resuming exam attempt",
			"attempt_id", active.ID,
			"exam_id", exam.ID,
			"student_id", student.ID)
		return s.buildAttemptResponse(ctx, s.db, active, exam, true)
	}

	retake, err := s.eligibility.CheckRetakePolicy(ctx, exam, student)
	if err != nil {
		return nil, err
	}
	if retake.Locked {
		return nil, lockError(exam.ID, retake.Reason)
	}

	questions, err := s.repo.Question().GetByExam(ctx, s.db, exam.ID, true)
	if err != nil {
		return nil, fmt.Errorf("failed to get exam questions: %w", err)
	}
	if len(questions) == 0 {
		return nil, ErrNoActiveQuestions
	}

	questionIDs := buildQuestionOrder(questions, exam.ShuffleQuestions)
	answerOrder := buildAnswerOrder(questionIDs, exam.ShuffleOptions)

	questionOrderJSON, err := encodeQuestionOrder(questionIDs)
	if err != nil {
		return nil, err
	}
	answerOrderJSON, err := encodeAnswerOrder(answerOrder)
	if err != nil {
		return nil, err
	}

	var attempt *models.ExamAttempt
	err = s.repo.WithTransaction(ctx, func(tx *gorm.DB) error {
		attemptNumber, err := s.repo.Attempt().GetNextAttemptNumber(ctx, tx, student.ID, exam.ID)
		if err != nil {
			return fmt.Errorf("failed to get attempt number: %w", err)
		}

		now := time.Now()
		attempt = &models.ExamAttempt{
			ExamID:        exam.ID,
			StudentID:     student.ID,
			ScheduleID:    scheduleIDPtr(access.Schedule),
			AttemptNumber: attemptNumber,
			Status:        models.AttemptInProgress,
			StartedAt:     now,
			TimeRemaining: exam.DurationMinutes * 60,
			QuestionOrder: questionOrderJSON,
			AnswerOrder:   answerOrderJSON,
		}
		if err := s.repo.Attempt().Create(ctx, tx, attempt); err != nil {
			return err
		}

		// Seed one answer row per question up front so saves are pure
		// updates and progress reads need no existence checks.
		seeds := make([]*models.StudentAnswer, len(questionIDs))
		for i, id := range questionIDs {
			seeds[i] = &models.StudentAnswer{
				AttemptID:  attempt.ID,
				QuestionID: id,
			}
		}
		if err := s.repo.Answer().CreateBatch(ctx, tx, seeds); err != nil {
			return fmt.Errorf("failed to seed answers: %w", err)
		}
		return nil
	})
	if err != nil {
		// A concurrent start lost the race on the single-active-attempt
		// index. The winner's attempt is the one to resume.
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			winner, ferr := s.repo.Attempt().GetActiveAttempt(ctx, s.db, student.ID, exam.ID)
			if ferr != nil {
				return nil, fmt.Errorf("failed to resume concurrent attempt: %w", ferr)
			}
			s.logger.Info("Resuming exam attempt after concurrent start",
				"attempt_id", winner.ID,
				"exam_id", exam.ID,
				"student_id", student.ID)
			return s.buildAttemptResponse(ctx, s.db, winner, exam, true)
		}
		return nil, fmt.Errorf("failed to create attempt: %w", err)
	}

	s.publishEvent(ctx, events.EventAttemptStarted, events.AttemptStartedPayload{
		AttemptID:     attempt.ID,
		ExamID:        exam.ID,
		StudentID:     student.ID,
		AttemptNumber: attempt.AttemptNumber,
		StartedAt:     attempt.StartedAt,
	})

	s.logger.Info("Exam attempt started",
		"attempt_id", attempt.ID,
		"exam_id", exam.ID,
		"student_id", student.ID,
		"attempt_number", attempt.AttemptNumber,
		"question_count", len(questionIDs))

	return s.buildAttemptResponse(ctx, s.db, attempt, exam, true)
}

func (s *attemptService) GetState(ctx context.Context, attemptID uint, userID string) (*AttemptResponse, error) {
	student, err := resolveStudent(ctx, s.repo, s.db, userID)
	if err != nil {
		return nil, err
	}

	attempt, err := s.getOwnedAttempt(ctx, s.db, attemptID, student.ID)
	if err != nil {
		return nil, err
	}
	if attempt.Status != models.AttemptInProgress {
		return nil, ErrAttemptNotActive
	}

	exam, err := s.repo.Exam().GetByID(ctx, s.db, attempt.ExamID)
	if err != nil {
		return nil, fmt.Errorf("failed to get exam: %w", err)
	}

	if attemptExpired(attempt, exam, time.Now()) {
		if err := s.HandleTimeout(ctx, attempt.ID); err != nil {
			return nil, err
		}
		return nil, ErrAttemptTimeExpired
	}

	return s.buildAttemptResponse(ctx, s.db, attempt, exam, true)
}

func (s *attemptService) SaveAnswer(ctx context.Context, attemptID uint, req *SaveAnswerRequest, userID string) (*SaveAnswerResponse, error) {
	if err := s.validator.Validate(req); err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}

	student, err := resolveStudent(ctx, s.repo, s.db, userID)
	if err != nil {
		return nil, err
	}

	var resp *SaveAnswerResponse
	err = s.repo.WithTransaction(ctx, func(tx *gorm.DB) error {
		attempt, err := s.repo.Attempt().GetByIDForUpdate(ctx, tx, attemptID)
		if err != nil {
			if repositories.IsNotFoundError(err) {
				return ErrAttemptNotFound
			}
			return fmt.Errorf("failed to lock attempt: %w", err)
		}
		if attempt.StudentID != student.ID {
			return ErrAttemptNotFound
		}
		if attempt.Status != models.AttemptInProgress {
			return ErrAttemptNotActive
		}

		exam, err := s.repo.Exam().GetByID(ctx, tx, attempt.ExamID)
		if err != nil {
			return fmt.Errorf("failed to get exam: %w", err)
		}

		now := time.Now()
		if attemptExpired(attempt, exam, now) {
			// Nothing written yet, so the rollback this error causes is
			// harmless. The caller finalizes in its own transaction.
			return ErrAttemptTimeExpired
		}

		questionIDs, err := decodeQuestionOrder(attempt.QuestionOrder)
		if err != nil {
			return err
		}
		answerOrder, err := decodeAnswerOrder(attempt.AnswerOrder)
		if err != nil {
			return err
		}

		if err := s.applyAnswer(ctx, tx, attempt, questionIDs, answerOrder, req, now); err != nil {
			return err
		}

		remaining := remainingSeconds(attempt, exam, now)
		attempt.TimeRemaining = remaining
		if err := s.repo.Attempt().Update(ctx, tx, attempt); err != nil {
			return fmt.Errorf("failed to update attempt: %w", err)
		}

		resp = &SaveAnswerResponse{
			Status:        "saved",
			TimeRemaining: remaining,
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrAttemptTimeExpired) {
			if terr := s.HandleTimeout(ctx, attemptID); terr != nil {
				return nil, terr
			}
			return nil, ErrAttemptTimeExpired
		}
		return nil, err
	}

	return resp, nil
}

func (s *attemptService) Submit(ctx context.Context, attemptID uint, req *SubmitAttemptRequest, userID string) (*SubmitAttemptResponse, error) {
	s.logger.Info("Submitting exam attempt",
		"attempt_id", attemptID,
		"user_id", userID)

	if req != nil {
		if err := s.validator.Validate(req); err != nil {
			return nil, fmt.Errorf("validation failed: %w", err)
		}
	}

	student, err := resolveStudent(ctx, s.repo, s.db, userID)
	if err != nil {
		return nil, err
	}

	gradingService := NewGradingService(s.db, s.repo, s.logger, s.validator)

	var resp *SubmitAttemptResponse
	var payload events.AttemptCompletedPayload
	err = s.repo.WithTransaction(ctx, func(tx *gorm.DB) error {
		attempt, err := s.repo.Attempt().GetByIDForUpdate(ctx, tx, attemptID)
		if err != nil {
			if repositories.IsNotFoundError(err) {
				return ErrAttemptNotFound
			}
			return fmt.Errorf("failed to lock attempt: %w", err)
		}
		if attempt.StudentID != student.ID {
			return ErrAttemptNotFound
		}
		if attempt.Status != models.AttemptInProgress {
			return ErrAttemptNotActive
		}

		exam, err := s.repo.Exam().GetByID(ctx, tx, attempt.ExamID)
		if err != nil {
			return fmt.Errorf("failed to get exam: %w", err)
		}

		now := time.Now()
		if attemptExpired(attempt, exam, now) {
			return ErrAttemptTimeExpired
		}

		questionIDs, err := decodeQuestionOrder(attempt.QuestionOrder)
		if err != nil {
			return err
		}

		// The submit payload may carry final answers from the client's
		// unsent buffer; apply them under the same lock before grading.
		if req != nil && len(req.Answers) > 0 {
			answerOrder, err := decodeAnswerOrder(attempt.AnswerOrder)
			if err != nil {
				return err
			}
			for i := range req.Answers {
				if err := s.applyAnswer(ctx, tx, attempt, questionIDs, answerOrder, &req.Answers[i], now); err != nil {
					return err
				}
			}
		}

		if _, err := gradingService.FinalizeAttempt(ctx, tx, attempt, exam, models.AttemptSubmitted, now); err != nil {
			return err
		}

		resp = &SubmitAttemptResponse{
			AttemptID:     attempt.ID,
			Status:        attempt.Status,
			ResultVisible: exam.ShowResultImmediately,
		}
		if exam.ShowResultImmediately {
			resp.Result = &AttemptResultSummary{
				TotalQuestions: len(questionIDs),
				TotalAnswered:  attempt.TotalAnswered,
				CorrectAnswers: attempt.CorrectAnswers,
				TotalMarks:     attempt.TotalMarks,
				ObtainedMarks:  attempt.ObtainedMarks,
				Percentage:     attempt.Percentage,
				Passed:         attempt.Passed,
			}
		} else {
			resp.Message = "Your exam has been submitted. Results will be available after verification."
		}

		payload = events.AttemptCompletedPayload{
			AttemptID:     attempt.ID,
			ExamID:        attempt.ExamID,
			StudentID:     attempt.StudentID,
			Status:        string(attempt.Status),
			ObtainedMarks: attempt.ObtainedMarks,
			TotalMarks:    attempt.TotalMarks,
			Percentage:    attempt.Percentage,
			Passed:        attempt.Passed,
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrAttemptTimeExpired) {
			if terr := s.HandleTimeout(ctx, attemptID); terr != nil {
				return nil, terr
			}
			return nil, ErrAttemptTimeExpired
		}
		return nil, err
	}

	s.publishEvent(ctx, events.EventAttemptSubmitted, payload)

	return resp, nil
}

// ===== TIME MANAGEMENT =====

func (s *attemptService) GetTimeRemaining(ctx context.Context, attemptID uint, userID string) (int, error) {
	student, err := resolveStudent(ctx, s.repo, s.db, userID)
	if err != nil {
		return 0, err
	}

	attempt, err := s.getOwnedAttempt(ctx, s.db, attemptID, student.ID)
	if err != nil {
		return 0, err
	}
	if attempt.Status != models.AttemptInProgress {
		return 0, ErrAttemptNotActive
	}

	exam, err := s.repo.Exam().GetByID(ctx, s.db, attempt.ExamID)
	if err != nil {
		return 0, fmt.Errorf("failed to get exam: %w", err)
	}

	// Pure read: an expired clock reports zero, the transition itself
	// happens on the next save, submit, read of state, or sweep.
	return remainingSeconds(attempt, exam, time.Now()), nil
}

// HandleTimeout finalizes an expired in-progress attempt as timed out. It
// re-reads the status under the row lock, so concurrent saves, submits and
// sweeps collapse to exactly one transition.
func (s *attemptService) HandleTimeout(ctx context.Context, attemptID uint) error {
	gradingService := NewGradingService(s.db, s.repo, s.logger, s.validator)

	var payload events.AttemptCompletedPayload
	var timedOut bool
	err := s.repo.WithTransaction(ctx, func(tx *gorm.DB) error {
		attempt, err := s.repo.Attempt().GetByIDForUpdate(ctx, tx, attemptID)
		if err != nil {
			if repositories.IsNotFoundError(err) {
				return ErrAttemptNotFound
			}
			return fmt.Errorf("failed to lock attempt: %w", err)
		}
		if attempt.Status != models.AttemptInProgress {
			return nil
		}

		exam, err := s.repo.Exam().GetByID(ctx, tx, attempt.ExamID)
		if err != nil {
			return fmt.Errorf("failed to get exam: %w", err)
		}

		deadline := attemptDeadline(attempt, exam)
		if time.Now().Before(deadline) {
			return nil
		}

		// The clock ran out at the deadline, not at whatever later moment
		// this cleanup happens to run.
		if _, err := gradingService.FinalizeAttempt(ctx, tx, attempt, exam, models.AttemptTimedOut, deadline); err != nil {
			return err
		}

		timedOut = true
		payload = events.AttemptCompletedPayload{
			AttemptID:     attempt.ID,
			ExamID:        attempt.ExamID,
			StudentID:     attempt.StudentID,
			Status:        string(attempt.Status),
			ObtainedMarks: attempt.ObtainedMarks,
			TotalMarks:    attempt.TotalMarks,
			Percentage:    attempt.Percentage,
			Passed:        attempt.Passed,
		}
		return nil
	})
	if err != nil {
		return err
	}

	if timedOut {
		s.publishEvent(ctx, events.EventAttemptTimedOut, payload)
		s.logger.Info("Exam attempt timed out",
			"attempt_id", attemptID)
	}
	return nil
}

// SweepExpired finalizes overdue in-progress attempts in bulk. It backs up
// the lazy per-request transition for students who simply walk away.
func (s *attemptService) SweepExpired(ctx context.Context, limit int) (int, error) {
	expired, err := s.repo.Attempt().GetExpiredInProgress(ctx, s.db, time.Now(), limit)
	if err != nil {
		return 0, fmt.Errorf("failed to list expired attempts: %w", err)
	}

	count := 0
	for _, attempt := range expired {
		if err := s.HandleTimeout(ctx, attempt.ID); err != nil {
			s.logger.Error("Failed to time out attempt",
				"attempt_id", attempt.ID,
				"error", err)
			continue
		}
		count++
	}

	if count > 0 {
		s.logger.Info("Expired attempts swept",
			"count", count)
	}
	return count, nil
}

// ===== LISTING =====

func (s *attemptService) List(ctx context.Context, filters repositories.AttemptFilters, userID string) (*AttemptListResponse, error) {
	user, err := resolveUser(ctx, s.repo, userID)
	if err != nil {
		return nil, err
	}

	if user.Role == models.RoleStudent {
		student, err := resolveStudent(ctx, s.repo, s.db, userID)
		if err != nil {
			return nil, err
		}
		filters.StudentID = &student.ID
	} else if !user.Role.IsManager() {
		return nil, ErrForbidden
	} else if user.Role != models.RoleSuperAdmin {
		// Managers browse per exam so institution scope can be enforced
		// against the exam they ask about.
		if filters.ExamID == nil {
			return nil, NewValidationError("exam_id", "exam_id filter is required", nil)
		}
		exam, err := s.repo.Exam().GetByID(ctx, s.db, *filters.ExamID)
		if err != nil {
			if repositories.IsNotFoundError(err) {
				return nil, ErrExamNotFound
			}
			return nil, fmt.Errorf("failed to get exam: %w", err)
		}
		if !canAccessInstitution(user, exam.InstitutionID) {
			return nil, NewPermissionError(userID, exam.ID, "exam", "list_attempts", "exam belongs to another institution")
		}
	}

	attempts, total, err := s.repo.Attempt().List(ctx, s.db, filters)
	if err != nil {
		return nil, fmt.Errorf("failed to list attempts: %w", err)
	}

	page, size := pageFromOffset(filters.Limit, filters.Offset)
	return &AttemptListResponse{
		Attempts: attempts,
		Total:    total,
		Page:     page,
		Size:     size,
	}, nil
}

// lockError wraps an eligibility lock reason into the error the transport
// layer maps onto the student-facing message.
func lockError(examID uint, reason string) error {
	switch reason {
	case LockReasonNotEnrolled:
		return ErrNotEnrolled
	case LockReasonPaymentPending:
		return ErrPaymentRequired
	default:
		return NewExamLockedError(examID, reason)
	}
}

// pageFromOffset recovers page numbering from limit/offset filters for
// list responses. A non-positive limit means a single unpaged result.
func pageFromOffset(limit, offset int) (int, int) {
	if limit <= 0 {
		return 1, 0
	}
	return offset/limit + 1, limit
}
