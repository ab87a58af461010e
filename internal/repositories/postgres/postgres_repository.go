package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/edupilot/exam-service/internal/cache"
	"github.com/edupilot/exam-service/internal/repositories"
	"github.com/edupilot/exam-service/internal/repositories/casdoor"
)

// PostgreSQLRepository implements the main Repository interface
type PostgreSQLRepository struct {
	db           *gorm.DB
	redisClient  *redis.Client
	cacheManager *cache.CacheManager

	// Repository instances
	exam       repositories.ExamRepository
	question   repositories.QuestionRepository
	schedule   repositories.ScheduleRepository
	attempt    repositories.AttemptRepository
	answer     repositories.AnswerRepository
	student    repositories.StudentRepository
	enrollment repositories.EnrollmentRepository
	payment    repositories.PaymentRepository
	course     repositories.CourseRepository
	user       repositories.UserRepository
}

// RepositoryConfig holds configuration for repository initialization
type RepositoryConfig struct {
	DB            *gorm.DB
	RedisClient   *redis.Client
	CasdoorConfig casdoor.CasdoorConfig
}

// NewPostgreSQLRepository creates a new repository manager with all sub-repositories
func NewPostgreSQLRepository(config RepositoryConfig) repositories.Repository {
	cacheManager := cache.NewCacheManager(config.RedisClient)

	repo := &PostgreSQLRepository{
		db:           config.DB,
		redisClient:  config.RedisClient,
		cacheManager: cacheManager,
	}

	// Initialize sub-repositories with caching
	repo.exam = NewExamPostgreSQL(config.DB, config.RedisClient)
	repo.question = NewQuestionPostgreSQL(config.DB, config.RedisClient)
	repo.schedule = NewSchedulePostgreSQL(config.DB, config.RedisClient)
	repo.attempt = NewAttemptPostgreSQL(config.DB, config.RedisClient)
	repo.answer = NewAnswerPostgreSQL(config.DB, config.RedisClient)
	repo.student = NewStudentPostgreSQL(config.DB, config.RedisClient)
	repo.enrollment = NewEnrollmentPostgreSQL(config.DB)
	repo.payment = NewPaymentPostgreSQL(config.DB)
	repo.course = NewCoursePostgreSQL(config.DB, config.RedisClient)

	// User repository uses Casdoor
	repo.user = casdoor.NewUserCasdoor(config.CasdoorConfig, config.RedisClient)

	return repo
}

// Exam returns the exam repository
func (r *PostgreSQLRepository) Exam() repositories.ExamRepository {
	return r.exam
}

// Question returns the question repository
func (r *PostgreSQLRepository) Question() repositories.QuestionRepository {
	return r.question
}

// Schedule returns the exam schedule repository
func (r *PostgreSQLRepository) Schedule() repositories.ScheduleRepository {
	return r.schedule
}

// Attempt returns the attempt repository
func (r *PostgreSQLRepository) Attempt() repositories.AttemptRepository {
	return r.attempt
}

// Answer returns the answer repository
func (r *PostgreSQLRepository) Answer() repositories.AnswerRepository {
	return r.answer
}

// Student returns the student repository
func (r *PostgreSQLRepository) Student() repositories.StudentRepository {
	return r.student
}

// Enrollment returns the enrollment repository
func (r *PostgreSQLRepository) Enrollment() repositories.EnrollmentRepository {
	return r.enrollment
}

// Payment returns the fee payment repository
func (r *PostgreSQLRepository) Payment() repositories.PaymentRepository {
	return r.payment
}

// Course returns the course repository
func (r *PostgreSQLRepository) Course() repositories.CourseRepository {
	return r.course
}

// User returns the user repository
func (r *PostgreSQLRepository) User() repositories.UserRepository {
	return r.user
}

// WithTransaction executes a function within a database transaction
func (r *PostgreSQLRepository) WithTransaction(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return r.db.WithContext(ctx).Transaction(fn)
}

// Ping checks the health of database and cache connections
func (r *PostgreSQLRepository) Ping(ctx context.Context) error {
	// Check database connection
	sqlDB, err := r.db.DB()
	if err != nil {
		return fmt.Errorf("failed to get database instance: %w", err)
	}

	if err := sqlDB.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	// Check cache connection
	if r.redisClient != nil {
		if err := r.cacheManager.HealthCheck(ctx); err != nil {
			return fmt.Errorf("cache ping failed: %w", err)
		}
	}

	return nil
}

// Close closes all connections
func (r *PostgreSQLRepository) Close() error {
	// Close database connection
	sqlDB, err := r.db.DB()
	if err != nil {
		return fmt.Errorf("failed to get database instance: %w", err)
	}

	if err := sqlDB.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}

	// Close Redis connection
	if r.redisClient != nil {
		if err := r.redisClient.Close(); err != nil {
			return fmt.Errorf("failed to close Redis: %w", err)
		}
	}

	return nil
}

// RepositoryManager implements the RepositoryManager interface
type RepositoryManager struct {
	config RepositoryConfig
	repo   repositories.Repository
}

// NewRepositoryManager creates a new repository manager
func NewRepositoryManager(config RepositoryConfig) repositories.RepositoryManager {
	return &RepositoryManager{
		config: config,
	}
}

// Initialize initializes all repositories and connections
func (rm *RepositoryManager) Initialize() error {
	// Validate configuration
	if rm.config.DB == nil {
		return fmt.Errorf("database connection is required")
	}

	// Test database connection
	sqlDB, err := rm.config.DB.DB()
	if err != nil {
		return fmt.Errorf("failed to get database instance: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := sqlDB.PingContext(ctx); err != nil {
		return fmt.Errorf("database connection failed: %w", err)
	}

	// Test Redis connection if provided
	if rm.config.RedisClient != nil {
		if _, err := rm.config.RedisClient.Ping(ctx).Result(); err != nil {
			return fmt.Errorf("Redis connection failed: %w", err)
		}
	}

	// Initialize repository
	rm.repo = NewPostgreSQLRepository(rm.config)

	return nil
}

// GetRepository returns the repository instance
func (rm *RepositoryManager) GetRepository() repositories.Repository {
	return rm.repo
}

// HealthCheck checks the health of all repository connections
func (rm *RepositoryManager) HealthCheck(ctx context.Context) error {
	if rm.repo == nil {
		return fmt.Errorf("repository not initialized")
	}

	return rm.repo.Ping(ctx)
}

// Shutdown gracefully shuts down all repository connections
func (rm *RepositoryManager) Shutdown(ctx context.Context) error {
	if rm.repo == nil {
		return nil
	}

	return rm.repo.Close()
}
