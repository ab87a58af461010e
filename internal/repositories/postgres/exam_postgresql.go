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

type ExamPostgreSQL struct {
	db           *gorm.DB
	helpers      *SharedHelpers
	cacheManager *cache.CacheManager
}

func NewExamPostgreSQL(db *gorm.DB, redisClient *redis.Client) repositories.ExamRepository {
	return &ExamPostgreSQL{
		db:           db,
		helpers:      NewSharedHelpers(db),
		cacheManager: cache.NewCacheManager(redisClient),
	}
}

// getDB returns the transaction DB if provided, otherwise returns the default DB
func (e *ExamPostgreSQL) getDB(tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return e.db
}

// Create creates a new exam and invalidates course-scoped listings
func (e *ExamPostgreSQL) Create(ctx context.Context, tx *gorm.DB, exam *models.Exam) error {
	db := e.getDB(tx)
	if err := db.WithContext(ctx).Create(exam).Error; err != nil {
		return fmt.Errorf("failed to create exam: %w", err)
	}

	cache.SafeInvalidatePattern(ctx, e.cacheManager.Exam, fmt.Sprintf("course:%d:*", exam.CourseID))
	cache.SafeInvalidatePattern(ctx, e.cacheManager.Exam, "list:*")

	return nil
}

// GetByID retrieves an exam by ID with caching
func (e *ExamPostgreSQL) GetByID(ctx context.Context, tx *gorm.DB, id uint) (*models.Exam, error) {
	db := e.getDB(tx)
	cacheKey := fmt.Sprintf("id:%d", id)
	var exam models.Exam

	err := e.cacheManager.Exam.CacheOrExecute(ctx, cacheKey, &exam, cache.ExamCacheConfig.TTL, func() (interface{}, error) {
		var dbExam models.Exam
		if err := db.WithContext(ctx).
			Preload("Course").
			Preload("Module").
			First(&dbExam, id).Error; err != nil {
			return nil, err
		}
		return &dbExam, nil
	})
	if err != nil {
		return nil, err
	}

	return &exam, nil
}

// GetByIDWithQuestions retrieves an exam with its active questions in authored order
func (e *ExamPostgreSQL) GetByIDWithQuestions(ctx context.Context, tx *gorm.DB, id uint) (*models.Exam, error) {
	db := e.getDB(tx)
	cacheKey := fmt.Sprintf("details:%d", id)
	var exam models.Exam

	err := e.cacheManager.Exam.CacheOrExecute(ctx, cacheKey, &exam, cache.ExamCacheConfig.TTL, func() (interface{}, error) {
		var dbExam models.Exam
		if err := db.WithContext(ctx).
			Preload("Course").
			Preload("Module").
			Preload("Questions", func(db *gorm.DB) *gorm.DB {
				return db.Where("is_active = ?", true).Order("order_index ASC, id ASC")
			}).
			First(&dbExam, id).Error; err != nil {
			return nil, err
		}
		return &dbExam, nil
	})

	return &exam, err
}

// Update updates the mutable exam columns and invalidates cache
func (e *ExamPostgreSQL) Update(ctx context.Context, tx *gorm.DB, exam *models.Exam) error {
	db := e.getDB(tx)
	if err := db.WithContext(ctx).Model(&models.Exam{}).Where("id = ?", exam.ID).Updates(map[string]interface{}{
		"title":                   exam.Title,
		"description":             exam.Description,
		"passing_marks":           exam.PassingMarks,
		"duration_minutes":        exam.DurationMinutes,
		"batch_time":              exam.BatchTime,
		"batch_month":             exam.BatchMonth,
		"batch_year":              exam.BatchYear,
		"batch_identifier":        exam.BatchIdentifier,
		"is_active":               exam.IsActive,
		"allow_retakes":           exam.AllowRetakes,
		"max_retakes":             exam.MaxRetakes,
		"shuffle_questions":       exam.ShuffleQuestions,
		"shuffle_options":         exam.ShuffleOptions,
		"show_result_immediately": exam.ShowResultImmediately,
		"updated_at":              exam.UpdatedAt,
	}).Error; err != nil {
		return fmt.Errorf("failed to update exam: %w", err)
	}

	cache.InvalidateExamCache(ctx, e.cacheManager, exam.ID, exam.CourseID)

	return nil
}

// Delete soft-deletes an exam. Attempt rows keep referencing it.
func (e *ExamPostgreSQL) Delete(ctx context.Context, tx *gorm.DB, id uint) error {
	db := e.getDB(tx)

	var exam models.Exam
	if err := db.WithContext(ctx).Select("id, course_id").First(&exam, id).Error; err != nil {
		return fmt.Errorf("failed to get exam before delete: %w", err)
	}

	if err := db.WithContext(ctx).Delete(&models.Exam{}, id).Error; err != nil {
		return fmt.Errorf("failed to delete exam: %w", err)
	}

	cache.InvalidateExamCache(ctx, e.cacheManager, id, exam.CourseID)

	return nil
}

// List retrieves exams with filters and pagination
func (e *ExamPostgreSQL) List(ctx context.Context, tx *gorm.DB, filters repositories.ExamFilters) ([]*models.Exam, int64, error) {
	db := e.getDB(tx)

	query := db.WithContext(ctx).Model(&models.Exam{})
	query = e.helpers.ApplyExamFilters(query, filters)

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	query = e.helpers.ApplyPaginationAndSort(query, filters.SortBy, filters.SortOrder, filters.Limit, filters.Offset)

	var exams []*models.Exam
	if err := query.Preload("Course").Preload("Module").Find(&exams).Error; err != nil {
		return nil, 0, err
	}

	return exams, total, nil
}

// GetActiveByCourses retrieves all active exams across the given courses,
// the ListAvailableExams working set
func (e *ExamPostgreSQL) GetActiveByCourses(ctx context.Context, tx *gorm.DB, courseIDs []uint) ([]*models.Exam, error) {
	if len(courseIDs) == 0 {
		return []*models.Exam{}, nil
	}

	db := e.getDB(tx)
	var exams []*models.Exam
	if err := db.WithContext(ctx).
		Where("course_id IN ? AND is_active = ?", courseIDs, true).
		Preload("Course").
		Preload("Module").
		Order("created_at DESC").
		Find(&exams).Error; err != nil {
		return nil, fmt.Errorf("failed to get active exams by courses: %w", err)
	}

	return exams, nil
}

// SyncTotalQuestions recounts active questions into exams.total_questions
func (e *ExamPostgreSQL) SyncTotalQuestions(ctx context.Context, tx *gorm.DB, examID uint) error {
	db := e.getDB(tx)

	countQuery := db.Model(&models.Question{}).
		Select("COUNT(*)").
		Where("exam_id = ? AND is_active = ?", examID, true)

	if err := db.WithContext(ctx).
		Model(&models.Exam{}).
		Where("id = ?", examID).
		Update("total_questions", countQuery).Error; err != nil {
		return fmt.Errorf("failed to sync total questions: %w", err)
	}

	cache.SafeDelete(ctx, e.cacheManager.Exam,
		fmt.Sprintf("id:%d", examID),
		fmt.Sprintf("details:%d", examID))

	return nil
}
