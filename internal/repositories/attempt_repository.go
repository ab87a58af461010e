package repositories

import (
	"context"
	"time"

	"github.com/edupilot/exam-service/internal/models"
	"gorm.io/gorm"
)

// AttemptRepository interface for exam attempt operations
type AttemptRepository interface {
	// Basic CRUD operations
	Create(ctx context.Context, tx *gorm.DB, attempt *models.ExamAttempt) error
	GetByID(ctx context.Context, tx *gorm.DB, id uint) (*models.ExamAttempt, error)
	GetByIDWithDetails(ctx context.Context, tx *gorm.DB, id uint) (*models.ExamAttempt, error) // exam, student+user, answers
	Update(ctx context.Context, tx *gorm.DB, attempt *models.ExamAttempt) error

	// GetByIDForUpdate loads the attempt row under SELECT ... FOR UPDATE.
	// Only meaningful inside a transaction; every status transition and
	// answer write happens behind this lock.
	GetByIDForUpdate(ctx context.Context, tx *gorm.DB, id uint) (*models.ExamAttempt, error)

	// Active-attempt queries
	GetActiveAttempt(ctx context.Context, tx *gorm.DB, studentID, examID uint) (*models.ExamAttempt, error)
	GetExpiredInProgress(ctx context.Context, tx *gorm.DB, now time.Time, limit int) ([]*models.ExamAttempt, error)

	// History queries
	List(ctx context.Context, tx *gorm.DB, filters AttemptFilters) ([]*models.ExamAttempt, int64, error)
	GetTerminalByStudentAndExam(ctx context.Context, tx *gorm.DB, studentID, examID uint) ([]*models.ExamAttempt, error)
	CountTerminal(ctx context.Context, tx *gorm.DB, studentID, examID uint) (int64, error)
	GetNextAttemptNumber(ctx context.Context, tx *gorm.DB, studentID, examID uint) (int, error)

	// Verification queries
	GetPendingVerification(ctx context.Context, tx *gorm.DB, filters VerificationFilters) ([]*models.ExamAttempt, int64, error)
	GetVerifiedByExam(ctx context.Context, tx *gorm.DB, examID uint) ([]*models.ExamAttempt, error)
	GetVerifiedByStudent(ctx context.Context, tx *gorm.DB, studentID uint) ([]*models.ExamAttempt, error)
	GetBestVerifiedPercentage(ctx context.Context, tx *gorm.DB, studentID, examID uint) (*float64, error)

	// Statistics
	GetExamResultStats(ctx context.Context, tx *gorm.DB, examID uint) (*ExamResultStats, error)
	GetVerificationStats(ctx context.Context, tx *gorm.DB, institutionID *uint) (*VerificationStats, error)
	GetStudentStats(ctx context.Context, tx *gorm.DB, studentID uint) (*StudentAttemptStats, error)
}

// AnswerRepository interface for student answer operations
type AnswerRepository interface {
	Update(ctx context.Context, tx *gorm.DB, answer *models.StudentAnswer) error

	// CreateBatch seeds the blank answer rows of a new attempt.
	CreateBatch(ctx context.Context, tx *gorm.DB, answers []*models.StudentAnswer) error

	// UpsertAnswer writes through the unique (attempt_id, question_id) pair;
	// the last write per question wins.
	UpsertAnswer(ctx context.Context, tx *gorm.DB, answer *models.StudentAnswer) error

	// Query operations
	GetByAttempt(ctx context.Context, tx *gorm.DB, attemptID uint) ([]*models.StudentAnswer, error)
	GetByAttemptWithQuestions(ctx context.Context, tx *gorm.DB, attemptID uint) ([]*models.StudentAnswer, error)
}
