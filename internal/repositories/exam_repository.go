package repositories

import (
	"context"

	"github.com/edupilot/exam-service/internal/models"
	"gorm.io/gorm"
)

// ExamRepository interface for exam-specific operations
type ExamRepository interface {
	// Basic CRUD operations
	Create(ctx context.Context, tx *gorm.DB, exam *models.Exam) error
	GetByID(ctx context.Context, tx *gorm.DB, id uint) (*models.Exam, error)
	GetByIDWithQuestions(ctx context.Context, tx *gorm.DB, id uint) (*models.Exam, error) // active questions, authored order
	Update(ctx context.Context, tx *gorm.DB, exam *models.Exam) error
	Delete(ctx context.Context, tx *gorm.DB, id uint) error // soft delete

	// Query operations
	List(ctx context.Context, tx *gorm.DB, filters ExamFilters) ([]*models.Exam, int64, error)
	GetActiveByCourses(ctx context.Context, tx *gorm.DB, courseIDs []uint) ([]*models.Exam, error)

	// SyncTotalQuestions recounts active questions into exams.total_questions.
	SyncTotalQuestions(ctx context.Context, tx *gorm.DB, examID uint) error
}

// QuestionRepository interface for question operations
type QuestionRepository interface {
	// Basic CRUD operations
	Create(ctx context.Context, tx *gorm.DB, question *models.Question) error
	GetByID(ctx context.Context, tx *gorm.DB, id uint) (*models.Question, error)
	Update(ctx context.Context, tx *gorm.DB, question *models.Question) error
	Deactivate(ctx context.Context, tx *gorm.DB, id uint) error // questions are never hard-deleted

	// Bulk operations
	CreateBatch(ctx context.Context, tx *gorm.DB, questions []*models.Question) error
	GetByIDs(ctx context.Context, tx *gorm.DB, ids []uint) ([]*models.Question, error)

	// Exam-scoped queries
	GetByExam(ctx context.Context, tx *gorm.DB, examID uint, activeOnly bool) ([]*models.Question, error)
	MaxOrderIndex(ctx context.Context, tx *gorm.DB, examID uint) (int, error)
}

// ScheduleRepository interface for exam schedule operations
type ScheduleRepository interface {
	// Basic CRUD operations
	Create(ctx context.Context, tx *gorm.DB, schedule *models.ExamSchedule) error
	GetByID(ctx context.Context, tx *gorm.DB, id uint) (*models.ExamSchedule, error)
	Update(ctx context.Context, tx *gorm.DB, schedule *models.ExamSchedule) error
	Cancel(ctx context.Context, tx *gorm.DB, id uint) error // soft, is_active=false

	// Query operations
	List(ctx context.Context, tx *gorm.DB, filters ScheduleFilters) ([]*models.ExamSchedule, int64, error)
	GetActiveByExam(ctx context.Context, tx *gorm.DB, examID uint) ([]*models.ExamSchedule, error)
}
