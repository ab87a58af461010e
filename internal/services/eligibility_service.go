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

// Lock reasons shown to students when an exam is not available. The
// schedule gate builds its reasons dynamically from the matched window.
const (
	LockReasonNotEnrolled      = "Not enrolled in this course"
	LockReasonPaymentPending   = "Payment pending"
	LockReasonNotScheduled     = "Exam not scheduled for your batch"
	LockReasonTimeEnded        = "Exam time has ended"
	LockReasonAlreadyCompleted = "Exam already completed"
	LockReasonMaxRetakes       = "Maximum retakes reached"
	LockReasonAwaitingRetake   = "Awaiting retake permission"
)

type eligibilityService struct {
	repo   repositories.Repository
	db     *gorm.DB
	logger *slog.Logger
}

func NewEligibilityService(repo repositories.Repository, db *gorm.DB, logger *slog.Logger) EligibilityService {
	return &eligibilityService{
		repo:   repo,
		db:     db,
		logger: logger,
	}
}

func (s *eligibilityService) Evaluate(ctx context.Context, examID uint, userID string) (*EligibilityResult, error) {
	s.logger.Info("Evaluating exam eligibility",
		"exam_id", examID,
		"user_id", userID)

	student, err := s.repo.Student().GetByUserID(ctx, s.db, userID)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, ErrStudentNotFound
		}
		return nil, fmt.Errorf("failed to get student: %w", err)
	}

	exam, err := s.repo.Exam().GetByID(ctx, s.db, examID)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, ErrExamNotFound
		}
		return nil, fmt.Errorf("failed to get exam: %w", err)
	}
	if !exam.IsActive {
		return nil, ErrExamNotFound
	}

	return s.EvaluateExam(ctx, exam, student, time.Now())
}

// EvaluateExam runs the four gates in order: enrollment, payment, schedule
// window, retake policy. The first failing gate produces the lock reason;
// later gates are not consulted.
func (s *eligibilityService) EvaluateExam(ctx context.Context, exam *models.Exam, student *models.Student, now time.Time) (*EligibilityResult, error) {
	access, err := s.EvaluateAccess(ctx, exam, student, now)
	if err != nil {
		return nil, err
	}
	if access.Locked {
		return access, nil
	}

	result, err := s.CheckRetakePolicy(ctx, exam, student)
	if err != nil {
		return nil, err
	}
	result.Schedule = access.Schedule
	return result, nil
}

// EvaluateAccess runs the enrollment, payment and schedule gates.
func (s *eligibilityService) EvaluateAccess(ctx context.Context, exam *models.Exam, student *models.Student, now time.Time) (*EligibilityResult, error) {
	enrolled, err := s.repo.Enrollment().HasActiveEnrollment(ctx, s.db, student.ID, exam.CourseID)
	if err != nil {
		return nil, fmt.Errorf("failed to check enrollment: %w", err)
	}
	if !enrolled {
		return &EligibilityResult{Locked: true, Reason: LockReasonNotEnrolled}, nil
	}

	// Existence check only; any recorded payment for the course unlocks.
	paid, err := s.repo.Payment().HasPayment(ctx, s.db, student.ID, exam.CourseID)
	if err != nil {
		return nil, fmt.Errorf("failed to check payment: %w", err)
	}
	if !paid {
		return &EligibilityResult{Locked: true, Reason: LockReasonPaymentPending}, nil
	}

	schedule, reason, err := s.matchSchedule(ctx, exam, student, now)
	if err != nil {
		return nil, err
	}
	if schedule == nil {
		return &EligibilityResult{Locked: true, Reason: reason}, nil
	}
	return &EligibilityResult{Schedule: schedule}, nil
}

// matchSchedule looks for a window that is open right now for the student's
// batch. When none is open it returns a nil schedule and the reason: the
// next upcoming date for the batch, the start time of today's window when
// it has not opened yet, or a terminal "ended"/"not scheduled" message.
func (s *eligibilityService) matchSchedule(ctx context.Context, exam *models.Exam, student *models.Student, now time.Time) (*models.ExamSchedule, string, error) {
	schedules, err := s.repo.Schedule().GetActiveByExam(ctx, s.db, exam.ID)
	if err != nil {
		return nil, "", fmt.Errorf("failed to get exam schedules: %w", err)
	}

	var todays *models.ExamSchedule
	for _, sched := range schedules {
		if !scheduleMatchesBatch(sched, student) {
			continue
		}
		if !sameDay(sched.ScheduledDate, now) {
			continue
		}
		todays = sched
		break
	}

	if todays == nil {
		if next := nextUpcoming(schedules, student, now); next != nil {
			return nil, fmt.Sprintf("Exam scheduled for %s", next.ScheduledDate.Format("2006-01-02")), nil
		}
		return nil, LockReasonNotScheduled, nil
	}

	start, err := windowBound(todays.ScheduledDate, todays.StartTime, now.Location())
	if err != nil {
		return nil, "", err
	}
	end, err := windowBound(todays.ScheduledDate, todays.EndTime, now.Location())
	if err != nil {
		return nil, "", err
	}

	if now.Before(start) {
		return nil, fmt.Sprintf("Exam starts at %s", start.Format("03:04 PM")), nil
	}
	if now.After(end) {
		return nil, LockReasonTimeEnded, nil
	}
	return todays, "", nil
}

// CheckRetakePolicy inspects the student's terminal attempts. The first
// attempt is always allowed; after that the exam's retake settings and the
// manager grant on the most recent terminal attempt decide.
func (s *eligibilityService) CheckRetakePolicy(ctx context.Context, exam *models.Exam, student *models.Student) (*EligibilityResult, error) {
	attempts, err := s.repo.Attempt().GetTerminalByStudentAndExam(ctx, s.db, student.ID, exam.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to get terminal attempts: %w", err)
	}
	if len(attempts) == 0 {
		return &EligibilityResult{}, nil
	}

	if !exam.AllowRetakes {
		return &EligibilityResult{Locked: true, Reason: LockReasonAlreadyCompleted}, nil
	}
	if exam.MaxRetakes > 0 && len(attempts) >= exam.MaxRetakes {
		return &EligibilityResult{Locked: true, Reason: LockReasonMaxRetakes}, nil
	}

	// The grant lives on the most recent terminal attempt only; grants on
	// older attempts are already spent.
	if !attempts[0].RetakeAllowed {
		return &EligibilityResult{Locked: true, Reason: LockReasonAwaitingRetake}, nil
	}
	return &EligibilityResult{CanRetake: true}, nil
}

// scheduleMatchesBatch applies the batch targeting rule: batch_time must
// match, and a schedule pinned to a batch identifier only admits students
// carrying that identifier. An unpinned schedule admits the whole batch.
func scheduleMatchesBatch(sched *models.ExamSchedule, student *models.Student) bool {
	if sched.BatchTime != student.BatchTime {
		return false
	}
	if sched.BatchIdentifier == nil {
		return true
	}
	return student.BatchIdentifier != nil && *sched.BatchIdentifier == *student.BatchIdentifier
}

// nextUpcoming returns the earliest schedule after today for the student's
// batch, if any.
func nextUpcoming(schedules []*models.ExamSchedule, student *models.Student, now time.Time) *models.ExamSchedule {
	today := startOfDay(now)
	var next *models.ExamSchedule
	for _, sched := range schedules {
		if !scheduleMatchesBatch(sched, student) {
			continue
		}
		if !sched.ScheduledDate.After(today) {
			continue
		}
		if next == nil || sched.ScheduledDate.Before(next.ScheduledDate) {
			next = sched
		}
	}
	return next
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// windowBound anchors an "HH:MM" wall-clock bound onto the schedule date.
func windowBound(date time.Time, clock string, loc *time.Location) (time.Time, error) {
	t, err := time.Parse("15:04", clock)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid schedule time %q: %w", clock, err)
	}
	return time.Date(date.Year(), date.Month(), date.Day(), t.Hour(), t.Minute(), 0, 0, loc), nil
}
