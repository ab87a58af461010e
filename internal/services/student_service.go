package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/edupilot/exam-service/internal/models"
	"github.com/edupilot/exam-service/internal/repositories"
	"gorm.io/gorm"
)

type studentService struct {
	repo        repositories.Repository
	db          *gorm.DB
	logger      *slog.Logger
	eligibility EligibilityService
}

func NewStudentService(repo repositories.Repository, db *gorm.DB, logger *slog.Logger) StudentService {
	return &studentService{
		repo:        repo,
		db:          db,
		logger:      logger,
		eligibility: NewEligibilityService(repo, db, logger),
	}
}

// ===== AVAILABLE EXAMS =====

// ListAvailableExams returns every active exam in the student's enrolled
// courses, annotated with the eligibility verdict, today's schedule window,
// attempt history and the best verified score. Unverified attempts never
// leak a score here.
func (s *studentService) ListAvailableExams(ctx context.Context, userID string) ([]*AvailableExamResponse, error) {
	student, err := resolveStudent(ctx, s.repo, s.db, userID)
	if err != nil {
		return nil, err
	}

	courseIDs, err := s.repo.Enrollment().ActiveCourseIDs(ctx, s.db, student.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to get enrolled courses: %w", err)
	}
	if len(courseIDs) == 0 {
		return []*AvailableExamResponse{}, nil
	}

	exams, err := s.repo.Exam().GetActiveByCourses(ctx, s.db, courseIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to get exams: %w", err)
	}

	now := time.Now()
	courseNames := make(map[uint]string)
	moduleNames := make(map[uint]string)

	items := make([]*AvailableExamResponse, 0, len(exams))
	for _, exam := range exams {
		item := &AvailableExamResponse{
			ExamID:          exam.ID,
			ExamTitle:       exam.Title,
			CourseID:        exam.CourseID,
			CourseName:      s.courseName(ctx, courseNames, exam.CourseID),
			ModuleID:        exam.ModuleID,
			ModuleName:      s.moduleName(ctx, moduleNames, exam.ModuleID),
			TotalQuestions:  exam.TotalQuestions,
			DurationMinutes: exam.DurationMinutes,
			PassingMarks:    exam.PassingMarks,
		}

		if err := s.annotateEligibility(ctx, item, exam, student, now); err != nil {
			return nil, err
		}

		terminalCount, err := s.repo.Attempt().CountTerminal(ctx, s.db, student.ID, exam.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to count attempts: %w", err)
		}
		item.PreviousAttempts = int(terminalCount)

		best, err := s.repo.Attempt().GetBestVerifiedPercentage(ctx, s.db, student.ID, exam.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to get best score: %w", err)
		}
		item.BestScore = best

		items = append(items, item)
	}

	return items, nil
}

// annotateEligibility runs the gate sequence for one listing row: access
// gates, then the resume check, then the retake policy. An in-progress
// attempt short-circuits the retake gate so resumption is never blocked by
// retake counting.
func (s *studentService) annotateEligibility(ctx context.Context, item *AvailableExamResponse, exam *models.Exam, student *models.Student, now time.Time) error {
	access, err := s.eligibility.EvaluateAccess(ctx, exam, student, now)
	if err != nil {
		return err
	}
	if access.Schedule != nil {
		item.ScheduleID = &access.Schedule.ID
		item.ScheduledDate = &access.Schedule.ScheduledDate
		item.StartTime = access.Schedule.StartTime
		item.EndTime = access.Schedule.EndTime
	}

	active, err := s.repo.Attempt().GetActiveAttempt(ctx, s.db, student.ID, exam.ID)
	if err != nil && !repositories.IsNotFoundError(err) {
		return fmt.Errorf("failed to check active attempt: %w", err)
	}
	if active != nil {
		item.HasActiveAttempt = true
		item.ActiveAttemptID = &active.ID
	}

	if access.Locked {
		item.IsLocked = true
		item.LockReason = access.Reason
		return nil
	}
	if active != nil {
		return nil
	}

	retake, err := s.eligibility.CheckRetakePolicy(ctx, exam, student)
	if err != nil {
		return err
	}
	if retake.Locked {
		item.IsLocked = true
		item.LockReason = retake.Reason
		return nil
	}
	item.CanRetake = retake.CanRetake
	return nil
}

// ===== RESULTS =====

// ListResults returns the student's verified attempts, newest first. The
// IsVerified filter is the trust boundary: nothing unverified is ever
// shown through this interface.
func (s *studentService) ListResults(ctx context.Context, userID string) ([]*ExamResultResponse, error) {
	student, err := resolveStudent(ctx, s.repo, s.db, userID)
	if err != nil {
		return nil, err
	}

	attempts, err := s.repo.Attempt().GetVerifiedByStudent(ctx, s.db, student.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to get results: %w", err)
	}

	moduleNames := make(map[uint]string)
	results := make([]*ExamResultResponse, 0, len(attempts))
	for _, attempt := range attempts {
		result := &ExamResultResponse{
			AttemptID:      attempt.ID,
			ExamID:         attempt.ExamID,
			ExamTitle:      attempt.Exam.Title,
			CourseName:     attempt.Exam.Course.Name,
			ModuleName:     s.moduleName(ctx, moduleNames, attempt.Exam.ModuleID),
			AttemptNumber:  attempt.AttemptNumber,
			Status:         attempt.Status,
			StartedAt:      attempt.StartedAt,
			EndedAt:        attempt.EndedAt,
			TotalAnswered:  attempt.TotalAnswered,
			CorrectAnswers: attempt.CorrectAnswers,
			TotalMarks:     attempt.TotalMarks,
			ObtainedMarks:  attempt.ObtainedMarks,
			Percentage:     attempt.Percentage,
			Passed:         attempt.Passed,
			IsVerified:     attempt.IsVerified,
			VerifiedAt:     attempt.VerifiedAt,
		}

		if questionIDs, err := decodeQuestionOrder(attempt.QuestionOrder); err == nil {
			result.TotalQuestions = len(questionIDs)
		}
		if attempt.EndedAt != nil {
			minutes := int(attempt.EndedAt.Sub(attempt.StartedAt).Minutes())
			result.DurationTakenMinutes = &minutes
		}

		results = append(results, result)
	}

	return results, nil
}

// GetResult returns one verified attempt in full detail, answer key
// included. Ownership and verification are both required; an unverified
// attempt reads as not released rather than not found.
func (s *studentService) GetResult(ctx context.Context, attemptID uint, userID string) (*AttemptReviewResponse, error) {
	student, err := resolveStudent(ctx, s.repo, s.db, userID)
	if err != nil {
		return nil, err
	}

	attempt, err := s.repo.Attempt().GetByIDWithDetails(ctx, s.db, attemptID)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, ErrAttemptNotFound
		}
		return nil, fmt.Errorf("failed to get attempt: %w", err)
	}
	if attempt.StudentID != student.ID {
		return nil, ErrAttemptNotFound
	}
	if !attempt.IsVerified {
		return nil, ErrAttemptNotVerified
	}

	return buildAttemptReview(ctx, s.repo, s.db, attempt)
}

// ===== STATISTICS =====

func (s *studentService) GetStats(ctx context.Context, userID string) (*repositories.StudentAttemptStats, error) {
	student, err := resolveStudent(ctx, s.repo, s.db, userID)
	if err != nil {
		return nil, err
	}

	stats, err := s.repo.Attempt().GetStudentStats(ctx, s.db, student.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to get student stats: %w", err)
	}
	return stats, nil
}

// ===== HELPERS =====

func (s *studentService) courseName(ctx context.Context, cache map[uint]string, courseID uint) string {
	if name, ok := cache[courseID]; ok {
		return name
	}
	name := ""
	if course, err := s.repo.Course().GetByID(ctx, s.db, courseID); err == nil {
		name = course.Name
	}
	cache[courseID] = name
	return name
}

func (s *studentService) moduleName(ctx context.Context, cache map[uint]string, moduleID uint) string {
	if name, ok := cache[moduleID]; ok {
		return name
	}
	name := ""
	if module, err := s.repo.Course().GetModuleByID(ctx, s.db, moduleID); err == nil {
		name = module.ModuleName
	}
	cache[moduleID] = name
	return name
}
