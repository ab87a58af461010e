package postgres

import (
	"context"
	"fmt"

	"github.com/edupilot/exam-service/internal/cache"
	"github.com/edupilot/exam-service/internal/models"
	"github.com/edupilot/exam-service/internal/repositories"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

type SchedulePostgreSQL struct {
	db           *gorm.DB
	helpers      *SharedHelpers
	cacheManager *cache.CacheManager
}

func NewSchedulePostgreSQL(db *gorm.DB, redisClient *redis.Client) repositories.ScheduleRepository {
	return &SchedulePostgreSQL{
		db:           db,
		helpers:      NewSharedHelpers(db),
		cacheManager: cache.NewCacheManager(redisClient),
	}
}

// getDB returns the transaction DB if provided, otherwise returns the default DB
func (s *SchedulePostgreSQL) getDB(tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return s.db
}

// Create creates a new exam schedule
func (s *SchedulePostgreSQL) Create(ctx context.Context, tx *gorm.DB, schedule *models.ExamSchedule) error {
	db := s.getDB(tx)
	if err := db.WithContext(ctx).Create(schedule).Error; err != nil {
		return fmt.Errorf("failed to create schedule: %w", err)
	}

	cache.InvalidateScheduleCache(ctx, s.cacheManager, schedule.ID, schedule.ExamID)

	return nil
}

// GetByID retrieves a schedule by ID with caching
func (s *SchedulePostgreSQL) GetByID(ctx context.Context, tx *gorm.DB, id uint) (*models.ExamSchedule, error) {
	db := s.getDB(tx)
	cacheKey := fmt.Sprintf("id:%d", id)
	var schedule models.ExamSchedule

	err := s.cacheManager.Schedule.CacheOrExecute(ctx, cacheKey, &schedule, cache.ScheduleCacheConfig.TTL, func() (interface{}, error) {
		var dbSchedule models.ExamSchedule
		if err := db.WithContext(ctx).First(&dbSchedule, id).Error; err != nil {
			return nil, err
		}
		return &dbSchedule, nil
	})
	if err != nil {
		return nil, err
	}

	return &schedule, nil
}

// Update updates an existing schedule
func (s *SchedulePostgreSQL) Update(ctx context.Context, tx *gorm.DB, schedule *models.ExamSchedule) error {
	db := s.getDB(tx)
	if err := db.WithContext(ctx).Save(schedule).Error; err != nil {
		return fmt.Errorf("failed to update schedule: %w", err)
	}

	cache.InvalidateScheduleCache(ctx, s.cacheManager, schedule.ID, schedule.ExamID)

	return nil
}

// Cancel deactivates a schedule without removing it; past windows stay on
// record for attempt history
func (s *SchedulePostgreSQL) Cancel(ctx context.Context, tx *gorm.DB, id uint) error {
	db := s.getDB(tx)

	var schedule models.ExamSchedule
	if err := db.WithContext(ctx).Select("id, exam_id").First(&schedule, id).Error; err != nil {
		return fmt.Errorf("failed to get schedule before cancel: %w", err)
	}

	if err := db.WithContext(ctx).
		Model(&models.ExamSchedule{}).
		Where("id = ?", id).
		Update("is_active", false).Error; err != nil {
		return fmt.Errorf("failed to cancel schedule: %w", err)
	}

	cache.InvalidateScheduleCache(ctx, s.cacheManager, id, schedule.ExamID)

	return nil
}

// List retrieves schedules with filters and pagination
func (s *SchedulePostgreSQL) List(ctx context.Context, tx *gorm.DB, filters repositories.ScheduleFilters) ([]*models.ExamSchedule, int64, error) {
	db := s.getDB(tx)

	query := db.WithContext(ctx).Model(&models.ExamSchedule{})
	query = s.helpers.ApplyScheduleFilters(query, filters)

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	query = s.helpers.ApplyPaginationAndSort(query, "scheduled_date", "asc", filters.Limit, filters.Offset)

	var schedules []*models.ExamSchedule
	if err := query.Preload("Exam").Find(&schedules).Error; err != nil {
		return nil, 0, err
	}

	return schedules, total, nil
}

// GetActiveByExam retrieves all active schedules of an exam ordered by date.
// Batch and window matching happens in the eligibility evaluator.
func (s *SchedulePostgreSQL) GetActiveByExam(ctx context.Context, tx *gorm.DB, examID uint) ([]*models.ExamSchedule, error) {
	db := s.getDB(tx)
	cacheKey := fmt.Sprintf("exam:%d:active", examID)
	var schedules []*models.ExamSchedule

	err := s.cacheManager.Schedule.CacheOrExecute(ctx, cacheKey, &schedules, cache.ScheduleCacheConfig.TTL, func() (interface{}, error) {
		var dbSchedules []*models.ExamSchedule
		if err := db.WithContext(ctx).
			Where("exam_id = ? AND is_active = ?", examID, true).
			Order("scheduled_date ASC, start_time ASC").
			Find(&dbSchedules).Error; err != nil {
			return nil, fmt.Errorf("failed to get active schedules: %w", err)
		}
		return dbSchedules, nil
	})

	return schedules, err
}
