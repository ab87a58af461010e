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

// StudentPostgreSQL implements the StudentRepository interface
type StudentPostgreSQL struct {
	db           *gorm.DB
	cacheManager *cache.CacheManager
}

// NewStudentPostgreSQL creates a new student repository instance
func NewStudentPostgreSQL(db *gorm.DB, redisClient *redis.Client) repositories.StudentRepository {
	return &StudentPostgreSQL{
		db:           db,
		cacheManager: cache.NewCacheManager(redisClient),
	}
}

// getDB returns the transaction DB if provided, otherwise returns the default DB
func (s *StudentPostgreSQL) getDB(tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return s.db
}

// GetByUserID resolves the exam-service student row from the auth subject.
// Every student-facing request goes through this lookup.
func (s *StudentPostgreSQL) GetByUserID(ctx context.Context, tx *gorm.DB, userID string) (*models.Student, error) {
	db := s.getDB(tx)
	cacheKey := fmt.Sprintf("user:%s", userID)
	var student models.Student

	err := s.cacheManager.Student.CacheOrExecute(ctx, cacheKey, &student, cache.StudentCacheConfig.TTL, func() (interface{}, error) {
		var dbStudent models.Student
		if err := db.WithContext(ctx).
			Where("user_id = ?", userID).
			First(&dbStudent).Error; err != nil {
			return nil, err
		}
		return &dbStudent, nil
	})
	if err != nil {
		return nil, err
	}

	return &student, nil
}

// ===== ENROLLMENT REPOSITORY IMPLEMENTATION =====

// EnrollmentPostgreSQL implements the EnrollmentRepository interface
type EnrollmentPostgreSQL struct {
	db *gorm.DB
}

// NewEnrollmentPostgreSQL creates a new enrollment repository instance
func NewEnrollmentPostgreSQL(db *gorm.DB) repositories.EnrollmentRepository {
	return &EnrollmentPostgreSQL{db: db}
}

func (e *EnrollmentPostgreSQL) getDB(tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return e.db
}

// HasActiveEnrollment is queried fresh on every eligibility check. Enrollment
// status can flip to dropped at any time, so this is never cached.
func (e *EnrollmentPostgreSQL) HasActiveEnrollment(ctx context.Context, tx *gorm.DB, studentID, courseID uint) (bool, error) {
	db := e.getDB(tx)
	var count int64
	if err := db.WithContext(ctx).
		Model(&models.Enrollment{}).
		Where("student_id = ? AND course_id = ? AND status = ?", studentID, courseID, models.EnrollmentActive).
		Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

func (e *EnrollmentPostgreSQL) ActiveCourseIDs(ctx context.Context, tx *gorm.DB, studentID uint) ([]uint, error) {
	db := e.getDB(tx)
	var courseIDs []uint
	if err := db.WithContext(ctx).
		Model(&models.Enrollment{}).
		Where("student_id = ? AND status = ?", studentID, models.EnrollmentActive).
		Pluck("course_id", &courseIDs).Error; err != nil {
		return nil, fmt.Errorf("failed to get active course ids: %w", err)
	}
	return courseIDs, nil
}

// ===== PAYMENT REPOSITORY IMPLEMENTATION =====

// PaymentPostgreSQL implements the PaymentRepository interface
type PaymentPostgreSQL struct {
	db *gorm.DB
}

// NewPaymentPostgreSQL creates a new payment repository instance
func NewPaymentPostgreSQL(db *gorm.DB) repositories.PaymentRepository {
	return &PaymentPostgreSQL{db: db}
}

func (p *PaymentPostgreSQL) getDB(tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return p.db
}

// HasPayment checks for at least one payment row. The amount is irrelevant
// here, partial payment already unlocks exams.
func (p *PaymentPostgreSQL) HasPayment(ctx context.Context, tx *gorm.DB, studentID, courseID uint) (bool, error) {
	db := p.getDB(tx)
	var count int64
	if err := db.WithContext(ctx).
		Model(&models.FeePayment{}).
		Where("student_id = ? AND course_id = ?", studentID, courseID).
		Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// ===== COURSE REPOSITORY IMPLEMENTATION =====

// CoursePostgreSQL implements the CourseRepository interface
type CoursePostgreSQL struct {
	db           *gorm.DB
	cacheManager *cache.CacheManager
}

// NewCoursePostgreSQL creates a new course repository instance
func NewCoursePostgreSQL(db *gorm.DB, redisClient *redis.Client) repositories.CourseRepository {
	return &CoursePostgreSQL{
		db:           db,
		cacheManager: cache.NewCacheManager(redisClient),
	}
}

func (c *CoursePostgreSQL) getDB(tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return c.db
}

func (c *CoursePostgreSQL) GetByID(ctx context.Context, tx *gorm.DB, id uint) (*models.Course, error) {
	db := c.getDB(tx)
	cacheKey := fmt.Sprintf("course:%d", id)
	var course models.Course

	err := c.cacheManager.Fast.CacheOrExecute(ctx, cacheKey, &course, cache.FastCacheConfig.TTL, func() (interface{}, error) {
		var dbCourse models.Course
		if err := db.WithContext(ctx).First(&dbCourse, id).Error; err != nil {
			return nil, err
		}
		return &dbCourse, nil
	})
	if err != nil {
		return nil, err
	}

	return &course, nil
}

func (c *CoursePostgreSQL) GetModuleByID(ctx context.Context, tx *gorm.DB, id uint) (*models.CourseModule, error) {
	db := c.getDB(tx)
	var module models.CourseModule
	if err := db.WithContext(ctx).First(&module, id).Error; err != nil {
		return nil, err
	}
	return &module, nil
}
