package repositories

import (
	"context"
	"errors"

	"gorm.io/gorm"
)

// Repository aggregates the per-entity repositories behind a single handle.
type Repository interface {
	// Exam domain
	Exam() ExamRepository
	Question() QuestionRepository
	Schedule() ScheduleRepository

	// Attempt domain
	Attempt() AttemptRepository
	Answer() AnswerRepository

	// Academic domain (read-mostly for the exam service)
	Student() StudentRepository
	Enrollment() EnrollmentRepository
	Payment() PaymentRepository
	Course() CourseRepository

	// User domain (backed by Casdoor, read-only)
	User() UserRepository

	// WithTransaction runs fn inside one database transaction. The tx handle
	// it receives is passed to repository calls that must share the
	// transaction; fn returning an error rolls everything back.
	WithTransaction(ctx context.Context, fn func(tx *gorm.DB) error) error

	// Health check
	Ping(ctx context.Context) error

	// Close connections
	Close() error
}

// RepositoryManager interface for managing repository lifecycle
type RepositoryManager interface {
	// Initialize repositories with database connections
	Initialize() error

	// Get repository instance
	GetRepository() Repository

	// Health check for all repositories
	HealthCheck(ctx context.Context) error

	// Graceful shutdown
	Shutdown(ctx context.Context) error
}

// IsNotFoundError reports whether err means the requested row does not exist.
func IsNotFoundError(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}
