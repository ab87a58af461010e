package services

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"time"

	"github.com/edupilot/exam-service/internal/events"
	"github.com/edupilot/exam-service/internal/models"
	"github.com/edupilot/exam-service/internal/repositories"
	"github.com/edupilot/exam-service/internal/validator"
	"gorm.io/gorm"
)

type verificationService struct {
	repo           repositories.Repository
	db             *gorm.DB
	logger         *slog.Logger
	validator      *validator.Validator
	eventPublisher events.EventPublisher
}

func NewVerificationService(repo repositories.Repository, db *gorm.DB, logger *slog.Logger, validator *validator.Validator, eventPublisher events.EventPublisher) VerificationService {
	return &verificationService{
		repo:           repo,
		db:             db,
		logger:         logger,
		validator:      validator,
		eventPublisher: eventPublisher,
	}
}

// ===== PENDING QUEUE =====

func (s *verificationService) ListPending(ctx context.Context, filters repositories.VerificationFilters, userID string) (*PendingVerificationListResponse, error) {
	user, err := resolveUser(ctx, s.repo, userID)
	if err != nil {
		return nil, err
	}
	if err := requireManager(user, 0, "verification", "list_pending"); err != nil {
		return nil, err
	}

	// Every manager below super admin sees only their own institution's
	// queue, whatever ended up in the request filters.
	if user.Role != models.RoleSuperAdmin {
		if user.InstitutionID == nil {
			return nil, ErrForbidden
		}
		filters.InstitutionID = user.InstitutionID
	}

	attempts, total, err := s.repo.Attempt().GetPendingVerification(ctx, s.db, filters)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending verification: %w", err)
	}

	items := make([]*PendingAttemptResponse, 0, len(attempts))
	for _, attempt := range attempts {
		item := &PendingAttemptResponse{
			ExamAttempt:    attempt,
			ExamTitle:      attempt.Exam.Title,
			TotalQuestions: attempt.Exam.TotalQuestions,
			StudentCode:    attempt.Student.Code,
		}
		if attempt.Student.User.ID != "" {
			item.StudentName = attempt.Student.User.FullName
			item.StudentEmail = attempt.Student.User.Email
		}
		items = append(items, item)
	}

	page, size := pageFromOffset(filters.Limit, filters.Offset)
	return &PendingVerificationListResponse{
		Attempts: items,
		Total:    total,
		Page:     page,
		Size:     size,
	}, nil
}

// ===== REVIEW =====

// Review reconstructs one attempt in full for a manager: every question in
// authored order with the answer key, the student's selections in original
// label space, and the per-question marks the grader assigned.
func (s *verificationService) Review(ctx context.Context, attemptID uint, userID string) (*AttemptReviewResponse, error) {
	user, err := resolveUser(ctx, s.repo, userID)
	if err != nil {
		return nil, err
	}
	if err := requireManager(user, attemptID, "attempt", "review"); err != nil {
		return nil, err
	}

	attempt, err := s.repo.Attempt().GetByIDWithDetails(ctx, s.db, attemptID)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, ErrAttemptNotFound
		}
		return nil, fmt.Errorf("failed to get attempt: %w", err)
	}
	if !canAccessInstitution(user, attempt.Exam.InstitutionID) {
		return nil, ErrAttemptNotFound
	}

	return buildAttemptReview(ctx, s.repo, s.db, attempt)
}

// buildAttemptReview assembles the full per-question reconstruction shared
// by the manager review and the student result detail. The attempt must
// come in with Exam and Student.User preloaded.
func buildAttemptReview(ctx context.Context, repo repositories.Repository, db *gorm.DB, attempt *models.ExamAttempt) (*AttemptReviewResponse, error) {
	answers, err := repo.Answer().GetByAttemptWithQuestions(ctx, db, attempt.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to get attempt answers: %w", err)
	}
	slices.SortFunc(answers, func(a, b *models.StudentAnswer) int {
		return a.Question.OrderIndex - b.Question.OrderIndex
	})

	resp := &AttemptReviewResponse{
		ExamAttempt:    attempt,
		ExamTitle:      attempt.Exam.Title,
		PassingMarks:   attempt.Exam.PassingMarks,
		TotalQuestions: len(answers),
		Questions:      make([]*QuestionReview, 0, len(answers)),
	}
	if attempt.Student.User.ID != "" {
		resp.StudentName = attempt.Student.User.FullName
		resp.StudentEmail = attempt.Student.User.Email
	}
	if attempt.EndedAt != nil {
		minutes := int(attempt.EndedAt.Sub(attempt.StartedAt).Minutes())
		resp.TimeTakenMinutes = &minutes
	}

	if course, err := repo.Course().GetByID(ctx, db, attempt.Exam.CourseID); err == nil {
		resp.CourseName = course.Name
	}
	if module, err := repo.Course().GetModuleByID(ctx, db, attempt.Exam.ModuleID); err == nil {
		resp.ModuleName = module.ModuleName
	}

	for _, answer := range answers {
		question := answer.Question
		resp.Questions = append(resp.Questions, &QuestionReview{
			QuestionID:      question.ID,
			OrderIndex:      question.OrderIndex,
			QuestionText:    question.QuestionText,
			OptionA:         question.OptionA,
			OptionB:         question.OptionB,
			OptionC:         question.OptionC,
			OptionD:         question.OptionD,
			CorrectOption:   question.CorrectOption,
			Marks:           question.Marks,
			Explanation:     question.Explanation,
			SelectedOption:  answer.SelectedOption,
			IsCorrect:       answer.IsCorrect,
			MarksObtained:   answer.MarksObtained,
			MarkedForReview: answer.MarkedForReview,
			AnsweredAt:      answer.AnsweredAt,
		})
	}

	return resp, nil
}

// ===== VERIFICATION =====

func (s *verificationService) Verify(ctx context.Context, attemptID uint, req *VerifyAttemptRequest, userID string) (*models.ExamAttempt, error) {
	s.logger.Info("Verifying exam attempt",
		"attempt_id", attemptID,
		"user_id", userID)

	if req != nil {
		if err := s.validator.Validate(req); err != nil {
			return nil, fmt.Errorf("validation failed: %w", err)
		}
	}

	user, err := resolveUser(ctx, s.repo, userID)
	if err != nil {
		return nil, err
	}
	if err := requireManager(user, attemptID, "attempt", "verify"); err != nil {
		return nil, err
	}

	var attempt *models.ExamAttempt
	err = s.repo.WithTransaction(ctx, func(tx *gorm.DB) error {
		attempt, err = s.loadVerifiable(ctx, tx, attemptID, user)
		if err != nil {
			return err
		}
		if attempt.IsVerified {
			return ErrAttemptAlreadyVerified
		}

		now := time.Now()
		attempt.IsVerified = true
		attempt.VerifiedBy = &user.ID
		attempt.VerifiedAt = &now
		if req != nil {
			attempt.VerificationNotes = req.Notes
		}
		return s.repo.Attempt().Update(ctx, tx, attempt)
	})
	if err != nil {
		return nil, err
	}

	s.publishEvent(ctx, events.EventAttemptVerified, events.AttemptVerifiedPayload{
		AttemptID:  attempt.ID,
		ExamID:     attempt.ExamID,
		StudentID:  attempt.StudentID,
		VerifiedBy: user.ID,
	})

	s.logger.Info("Exam attempt verified",
		"attempt_id", attempt.ID,
		"verified_by", user.ID)
	return attempt, nil
}

// AllowRetake grants the student another try at the exam. Results and the
// retake approval travel together: an unverified attempt is verified as
// part of the same grant.
func (s *verificationService) AllowRetake(ctx context.Context, attemptID uint, req *AllowRetakeRequest, userID string) (*models.ExamAttempt, error) {
	s.logger.Info("Granting exam retake",
		"attempt_id", attemptID,
		"user_id", userID)

	if req != nil {
		if err := s.validator.Validate(req); err != nil {
			return nil, fmt.Errorf("validation failed: %w", err)
		}
	}

	user, err := resolveUser(ctx, s.repo, userID)
	if err != nil {
		return nil, err
	}
	if err := requireManager(user, attemptID, "attempt", "allow_retake"); err != nil {
		return nil, err
	}

	var attempt *models.ExamAttempt
	var verified bool
	err = s.repo.WithTransaction(ctx, func(tx *gorm.DB) error {
		attempt, err = s.loadVerifiable(ctx, tx, attemptID, user)
		if err != nil {
			return err
		}

		now := time.Now()
		attempt.RetakeAllowed = true
		attempt.RetakeAllowedBy = &user.ID
		attempt.RetakeAllowedAt = &now

		if !attempt.IsVerified {
			attempt.IsVerified = true
			attempt.VerifiedBy = &user.ID
			attempt.VerifiedAt = &now
			if req != nil {
				attempt.VerificationNotes = req.Notes
			}
			verified = true
		}
		return s.repo.Attempt().Update(ctx, tx, attempt)
	})
	if err != nil {
		return nil, err
	}

	if verified {
		s.publishEvent(ctx, events.EventAttemptVerified, events.AttemptVerifiedPayload{
			AttemptID:  attempt.ID,
			ExamID:     attempt.ExamID,
			StudentID:  attempt.StudentID,
			VerifiedBy: user.ID,
		})
	}
	s.publishEvent(ctx, events.EventRetakeGranted, events.RetakeGrantedPayload{
		AttemptID: attempt.ID,
		ExamID:    attempt.ExamID,
		StudentID: attempt.StudentID,
		AllowedBy: user.ID,
	})

	s.logger.Info("Exam retake granted",
		"attempt_id", attempt.ID,
		"allowed_by", user.ID,
		"verified_in_same_operation", verified)
	return attempt, nil
}

// BulkVerify verifies every eligible attempt in the request and silently
// skips the rest: unknown ids, attempts outside the manager's institution,
// attempts still in progress and attempts already verified.
func (s *verificationService) BulkVerify(ctx context.Context, req *BulkVerifyRequest, userID string) (*BulkVerifyResponse, error) {
	if err := s.validator.Validate(req); err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}

	s.logger.Info("Bulk verifying exam attempts",
		"requested", len(req.AttemptIDs),
		"user_id", userID)

	user, err := resolveUser(ctx, s.repo, userID)
	if err != nil {
		return nil, err
	}
	if err := requireManager(user, 0, "verification", "bulk_verify"); err != nil {
		return nil, err
	}

	var verifiedPayloads []events.AttemptVerifiedPayload
	err = s.repo.WithTransaction(ctx, func(tx *gorm.DB) error {
		now := time.Now()
		examCache := make(map[uint]*models.Exam)

		for _, attemptID := range req.AttemptIDs {
			attempt, err := s.repo.Attempt().GetByIDForUpdate(ctx, tx, attemptID)
			if err != nil {
				if repositories.IsNotFoundError(err) {
					continue
				}
				return fmt.Errorf("failed to lock attempt %d: %w", attemptID, err)
			}

			exam, ok := examCache[attempt.ExamID]
			if !ok {
				exam, err = s.repo.Exam().GetByID(ctx, tx, attempt.ExamID)
				if err != nil {
					if repositories.IsNotFoundError(err) {
						continue
					}
					return fmt.Errorf("failed to get exam %d: %w", attempt.ExamID, err)
				}
				examCache[attempt.ExamID] = exam
			}

			if !canAccessInstitution(user, exam.InstitutionID) {
				continue
			}
			if !attempt.Status.IsTerminal() || attempt.IsVerified {
				continue
			}

			attempt.IsVerified = true
			attempt.VerifiedBy = &user.ID
			attempt.VerifiedAt = &now
			if err := s.repo.Attempt().Update(ctx, tx, attempt); err != nil {
				return fmt.Errorf("failed to verify attempt %d: %w", attemptID, err)
			}

			verifiedPayloads = append(verifiedPayloads, events.AttemptVerifiedPayload{
				AttemptID:  attempt.ID,
				ExamID:     attempt.ExamID,
				StudentID:  attempt.StudentID,
				VerifiedBy: user.ID,
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	for _, payload := range verifiedPayloads {
		s.publishEvent(ctx, events.EventAttemptVerified, payload)
	}

	s.logger.Info("Bulk verification finished",
		"requested", len(req.AttemptIDs),
		"verified", len(verifiedPayloads))
	return &BulkVerifyResponse{
		VerifiedCount:  len(verifiedPayloads),
		TotalRequested: len(req.AttemptIDs),
	}, nil
}

// ===== STATISTICS =====

func (s *verificationService) Statistics(ctx context.Context, userID string) (*VerificationStatsResponse, error) {
	user, err := resolveUser(ctx, s.repo, userID)
	if err != nil {
		return nil, err
	}
	if err := requireManager(user, 0, "verification", "statistics"); err != nil {
		return nil, err
	}

	var institutionID *uint
	if user.Role != models.RoleSuperAdmin {
		if user.InstitutionID == nil {
			return nil, ErrForbidden
		}
		institutionID = user.InstitutionID
	}

	stats, err := s.repo.Attempt().GetVerificationStats(ctx, s.db, institutionID)
	if err != nil {
		return nil, fmt.Errorf("failed to get verification stats: %w", err)
	}

	return &VerificationStatsResponse{
		PendingVerification: stats.PendingCount,
		VerifiedToday:       stats.VerifiedToday,
		TotalVerified:       stats.TotalVerified,
		PassRate:            round1(stats.PassRate),
		AverageScore:        round1(stats.AveragePercentage),
	}, nil
}

// ===== HELPERS =====

// loadVerifiable locks the attempt row and applies the shared verification
// preconditions: the attempt must exist, belong to the manager's
// institution, and be in a terminal state.
func (s *verificationService) loadVerifiable(ctx context.Context, tx *gorm.DB, attemptID uint, user *models.User) (*models.ExamAttempt, error) {
	attempt, err := s.repo.Attempt().GetByIDForUpdate(ctx, tx, attemptID)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, ErrAttemptNotFound
		}
		return nil, fmt.Errorf("failed to lock attempt: %w", err)
	}

	exam, err := s.repo.Exam().GetByID(ctx, tx, attempt.ExamID)
	if err != nil {
		return nil, fmt.Errorf("failed to get exam: %w", err)
	}
	if !canAccessInstitution(user, exam.InstitutionID) {
		return nil, ErrAttemptNotFound
	}

	if !attempt.Status.IsTerminal() {
		return nil, ErrAttemptNotTerminal
	}
	return attempt, nil
}

func (s *verificationService) publishEvent(ctx context.Context, eventType string, data interface{}) {
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

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
