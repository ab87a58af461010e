package services

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/edupilot/exam-service/internal/models"
	"github.com/edupilot/exam-service/internal/repositories"
	"github.com/edupilot/exam-service/internal/validator"
	"gorm.io/gorm"
)

type scheduleService struct {
	repo      repositories.Repository
	db        *gorm.DB
	logger    *slog.Logger
	validator *validator.Validator
}

func NewScheduleService(repo repositories.Repository, db *gorm.DB, logger *slog.Logger, validator *validator.Validator) ScheduleService {
	return &scheduleService{
		repo:      repo,
		db:        db,
		logger:    logger,
		validator: validator,
	}
}

// ===== CORE OPERATIONS =====

func (s *scheduleService) Create(ctx context.Context, req *CreateScheduleRequest, userID string) (*models.ExamSchedule, error) {
	s.logger.Info("Creating exam schedule", "exam_id", req.ExamID, "user_id", userID)

	// Validate request
	if err := s.validator.Validate(req); err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}
	if errs := s.validator.GetBusinessValidator().ValidateScheduleWindow(req.StartTime, req.EndTime); len(errs) > 0 {
		return nil, errs
	}
	if errs := s.validator.GetBusinessValidator().ValidateBatchTarget(req.BatchIdentifier, &req.BatchTime, req.BatchMonth, req.BatchYear); len(errs) > 0 {
		return nil, errs
	}

	user, exam, err := s.getManagedExamForSchedule(ctx, req.ExamID, userID, "schedule")
	if err != nil {
		return nil, err
	}

	schedule := &models.ExamSchedule{
		ExamID:          exam.ID,
		InstitutionID:   exam.InstitutionID,
		BatchTime:       req.BatchTime,
		BatchIdentifier: req.BatchIdentifier,
		BatchMonth:      req.BatchMonth,
		BatchYear:       req.BatchYear,
		ScheduledDate:   req.ScheduledDate,
		StartTime:       req.StartTime,
		EndTime:         req.EndTime,
		IsActive:        true,
		CreatedBy:       user.ID,
	}
	if err := s.repo.Schedule().Create(ctx, s.db, schedule); err != nil {
		return nil, fmt.Errorf("failed to create schedule: %w", err)
	}

	s.logger.Info("Schedule created successfully",
		"schedule_id", schedule.ID,
		"exam_id", exam.ID,
		"scheduled_date", schedule.ScheduledDate.Format("2006-01-02"))
	return schedule, nil
}

func (s *scheduleService) GetByID(ctx context.Context, id uint, userID string) (*models.ExamSchedule, error) {
	_, schedule, err := s.getManagedSchedule(ctx, id, userID, "read")
	if err != nil {
		return nil, err
	}
	return schedule, nil
}

func (s *scheduleService) Update(ctx context.Context, id uint, req *UpdateScheduleRequest, userID string) (*models.ExamSchedule, error) {
	s.logger.Info("Updating schedule", "schedule_id", id, "user_id", userID)

	if err := s.validator.Validate(req); err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}

	_, schedule, err := s.getManagedSchedule(ctx, id, userID, "update")
	if err != nil {
		return nil, err
	}

	applyScheduleUpdates(schedule, req)
	if errs := s.validator.GetBusinessValidator().ValidateScheduleWindow(schedule.StartTime, schedule.EndTime); len(errs) > 0 {
		return nil, errs
	}

	if err := s.repo.Schedule().Update(ctx, s.db, schedule); err != nil {
		return nil, fmt.Errorf("failed to update schedule: %w", err)
	}

	s.logger.Info("Schedule updated successfully", "schedule_id", id)
	return schedule, nil
}

// Cancel deactivates the schedule. Attempts already started against it run
// to their own deadline; the window only stops admitting new starts.
func (s *scheduleService) Cancel(ctx context.Context, id uint, userID string) error {
	s.logger.Info("Cancelling schedule", "schedule_id", id, "user_id", userID)

	_, _, err := s.getManagedSchedule(ctx, id, userID, "cancel")
	if err != nil {
		return err
	}

	if err := s.repo.Schedule().Cancel(ctx, s.db, id); err != nil {
		return fmt.Errorf("failed to cancel schedule: %w", err)
	}

	s.logger.Info("Schedule cancelled successfully", "schedule_id", id)
	return nil
}

// ===== LIST OPERATIONS =====

func (s *scheduleService) List(ctx context.Context, filters repositories.ScheduleFilters, userID string) (*ScheduleListResponse, error) {
	user, err := resolveUser(ctx, s.repo, userID)
	if err != nil {
		return nil, err
	}
	if err := requireManager(user, 0, "schedule", "list"); err != nil {
		return nil, err
	}

	if user.Role != models.RoleSuperAdmin {
		if user.InstitutionID == nil {
			return nil, ErrForbidden
		}
		filters.InstitutionID = user.InstitutionID
	}

	schedules, total, err := s.repo.Schedule().List(ctx, s.db, filters)
	if err != nil {
		return nil, fmt.Errorf("failed to list schedules: %w", err)
	}

	page, size := pageFromOffset(filters.Limit, filters.Offset)
	return &ScheduleListResponse{
		Schedules: schedules,
		Total:     total,
		Page:      page,
		Size:      size,
	}, nil
}

func (s *scheduleService) GetByExam(ctx context.Context, examID uint, userID string) ([]*models.ExamSchedule, error) {
	_, exam, err := s.getManagedExamForSchedule(ctx, examID, userID, "read_schedules")
	if err != nil {
		return nil, err
	}

	schedules, err := s.repo.Schedule().GetActiveByExam(ctx, s.db, exam.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to get schedules: %w", err)
	}
	return schedules, nil
}

// ===== HELPERS =====

func (s *scheduleService) getManagedExamForSchedule(ctx context.Context, examID uint, userID, action string) (*models.User, *models.Exam, error) {
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

func (s *scheduleService) getManagedSchedule(ctx context.Context, scheduleID uint, userID, action string) (*models.User, *models.ExamSchedule, error) {
	user, err := resolveUser(ctx, s.repo, userID)
	if err != nil {
		return nil, nil, err
	}
	if err := requireManager(user, scheduleID, "schedule", action); err != nil {
		return nil, nil, err
	}

	schedule, err := s.repo.Schedule().GetByID(ctx, s.db, scheduleID)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, nil, ErrScheduleNotFound
		}
		return nil, nil, fmt.Errorf("failed to get schedule: %w", err)
	}
	if !canAccessInstitution(user, schedule.InstitutionID) {
		return nil, nil, NewPermissionError(userID, scheduleID, "schedule", action, "schedule belongs to another institution")
	}
	return user, schedule, nil
}

func applyScheduleUpdates(schedule *models.ExamSchedule, req *UpdateScheduleRequest) {
	if req.ScheduledDate != nil {
		schedule.ScheduledDate = *req.ScheduledDate
	}
	if req.StartTime != nil {
		schedule.StartTime = *req.StartTime
	}
	if req.EndTime != nil {
		schedule.EndTime = *req.EndTime
	}
	if req.BatchTime != nil {
		schedule.BatchTime = *req.BatchTime
	}
	if req.BatchIdentifier != nil {
		schedule.BatchIdentifier = req.BatchIdentifier
	}
	if req.IsActive != nil {
		schedule.IsActive = *req.IsActive
	}
}
