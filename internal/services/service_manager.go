package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/edupilot/exam-service/internal/events"
	"github.com/edupilot/exam-service/internal/repositories"
	"github.com/edupilot/exam-service/internal/validator"
	"gorm.io/gorm"
)

// ServiceManagerConfig holds configuration for the service manager
type ServiceManagerConfig struct {
	// Logging configuration
	EnableDebugLogging bool
	LogLevel           slog.Level

	// Service-specific configurations
	Exam         ServiceConfig
	Schedule     ServiceConfig
	Attempt      ServiceConfig
	Verification ServiceConfig

	// Timeout sweeper settings. A zero interval disables the background
	// pass; expired attempts are then closed lazily on their next touch.
	SweepInterval  time.Duration
	SweepBatchSize int

	// Global settings
	DefaultTimeout time.Duration
}

type ServiceConfig struct {
	Enabled      bool
	CacheEnabled bool
	CacheTTL     time.Duration
}

// serviceManager implements ServiceManager interface
type serviceManager struct {
	// Dependencies
	db             *gorm.DB
	repo           repositories.Repository
	logger         *slog.Logger
	validator      *validator.Validator
	eventPublisher events.EventPublisher
	config         ServiceManagerConfig

	// Service instances
	examService         ExamService
	scheduleService     ScheduleService
	eligibilityService  EligibilityService
	attemptService      AttemptService
	gradingService      GradingService
	verificationService VerificationService
	studentService      StudentService

	// Timeout sweeper lifecycle
	sweepCancel context.CancelFunc
	sweepDone   chan struct{}

	// Sweeper counters, guarded separately so a running sweep never
	// contends with the lifecycle lock.
	sweepMu     sync.Mutex
	sweepRuns   int64
	sweptTotal  int64
	lastSweepAt time.Time

	// Lifecycle management
	initialized bool
	shutdown    bool
	mu          sync.RWMutex
}

// NewServiceManager creates a new service manager with all dependencies
func NewServiceManager(db *gorm.DB, repo repositories.Repository, logger *slog.Logger, validator *validator.Validator, eventPublisher events.EventPublisher, config ServiceManagerConfig) ServiceManager {
	return &serviceManager{
		db:             db,
		repo:           repo,
		logger:         logger,
		validator:      validator,
		eventPublisher: eventPublisher,
		config:         config,
	}
}

// NewDefaultServiceManager creates a service manager with default configuration
func NewDefaultServiceManager(db *gorm.DB, repo repositories.Repository, logger *slog.Logger, validator *validator.Validator, eventPublisher events.EventPublisher) ServiceManager {
	config := ServiceManagerConfig{
		EnableDebugLogging: false,
		LogLevel:           slog.LevelInfo,

		Exam: ServiceConfig{
			Enabled:      true,
			CacheEnabled: true,
			CacheTTL:     10 * time.Minute,
		},
		Schedule: ServiceConfig{
			Enabled:      true,
			CacheEnabled: true,
			CacheTTL:     5 * time.Minute,
		},
		Attempt: ServiceConfig{
			Enabled:      true,
			CacheEnabled: false, // live attempt state is never cached
			CacheTTL:     0,
		},
		Verification: ServiceConfig{
			Enabled:      true,
			CacheEnabled: false,
			CacheTTL:     0,
		},

		SweepInterval:  time.Minute,
		SweepBatchSize: 100,

		DefaultTimeout: 30 * time.Second,
	}

	return NewServiceManager(db, repo, logger, validator, eventPublisher, config)
}

// Initialize sets up all services and starts the timeout sweeper
func (sm *serviceManager) Initialize(ctx context.Context) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if sm.initialized {
		return nil
	}

	sm.logger.Info("Initializing service manager")

	if err := sm.initializeServices(ctx); err != nil {
		return fmt.Errorf("failed to initialize services: %w", err)
	}

	sm.startTimeoutSweeper()

	sm.initialized = true
	sm.logger.Info("Service manager initialized successfully")

	return nil
}

func (sm *serviceManager) initializeServices(ctx context.Context) error {
	// Eligibility, grading and student services carry no configuration
	// switches; the gate chain and grading must always be present.
	sm.eligibilityService = NewEligibilityService(sm.repo, sm.db, sm.logger)
	sm.gradingService = NewGradingService(sm.db, sm.repo, sm.logger, sm.validator)
	sm.studentService = NewStudentService(sm.repo, sm.db, sm.logger)

	if sm.config.Exam.Enabled {
		sm.examService = NewExamService(sm.repo, sm.db, sm.logger, sm.validator, sm.eventPublisher)
		sm.logger.Info("Exam service initialized")
	}

	if sm.config.Schedule.Enabled {
		sm.scheduleService = NewScheduleService(sm.repo, sm.db, sm.logger, sm.validator)
		sm.logger.Info("Schedule service initialized")
	}

	if sm.config.Attempt.Enabled {
		sm.attemptService = NewAttemptService(sm.repo, sm.db, sm.logger, sm.validator, sm.eventPublisher)
		sm.logger.Info("Attempt service initialized")
	}

	if sm.config.Verification.Enabled {
		sm.verificationService = NewVerificationService(sm.repo, sm.db, sm.logger, sm.validator, sm.eventPublisher)
		sm.logger.Info("Verification service initialized")
	}

	return nil
}

// ===== TIMEOUT SWEEPER =====

func (sm *serviceManager) startTimeoutSweeper() {
	if sm.config.SweepInterval <= 0 || sm.attemptService == nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	sm.sweepCancel = cancel
	sm.sweepDone = make(chan struct{})

	go func() {
		defer close(sm.sweepDone)

		ticker := time.NewTicker(sm.config.SweepInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				sm.runSweep(ctx)
			}
		}
	}()

	sm.logger.Info("Timeout sweeper started",
		"interval", sm.config.SweepInterval,
		"batch_size", sm.config.SweepBatchSize)
}

func (sm *serviceManager) runSweep(ctx context.Context) {
	swept, err := sm.attemptService.SweepExpired(ctx, sm.config.SweepBatchSize)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			sm.logger.Error("Timeout sweep failed", "error", err)
		}
		return
	}

	sm.sweepMu.Lock()
	sm.sweepRuns++
	sm.sweptTotal += int64(swept)
	sm.lastSweepAt = time.Now()
	sm.sweepMu.Unlock()

	if swept > 0 {
		sm.logger.Info("Timeout sweep closed expired attempts", "count", swept)
	}
}

// ===== SERVICE GETTERS =====

func (sm *serviceManager) Exam() ExamService {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	if !sm.initialized {
		panic("service manager not initialized")
	}
	if sm.config.Exam.Enabled && sm.examService != nil {
		return sm.examService
	}

	panic("exam service not enabled or not initialized")
}

func (sm *serviceManager) Schedule() ScheduleService {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	if !sm.initialized {
		panic("service manager not initialized")
	}
	if sm.config.Schedule.Enabled && sm.scheduleService != nil {
		return sm.scheduleService
	}

	panic("schedule service not enabled or not initialized")
}

func (sm *serviceManager) Eligibility() EligibilityService {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	if !sm.initialized {
		panic("service manager not initialized")
	}
	if sm.eligibilityService != nil {
		return sm.eligibilityService
	}

	panic("eligibility service not initialized")
}

func (sm *serviceManager) Attempt() AttemptService {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	if !sm.initialized {
		panic("service manager not initialized")
	}
	if sm.config.Attempt.Enabled && sm.attemptService != nil {
		return sm.attemptService
	}

	panic("attempt service not enabled or not initialized")
}

func (sm *serviceManager) Grading() GradingService {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	if !sm.initialized {
		panic("service manager not initialized")
	}
	if sm.gradingService != nil {
		return sm.gradingService
	}

	panic("grading service not initialized")
}

func (sm *serviceManager) Verification() VerificationService {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	if !sm.initialized {
		panic("service manager not initialized")
	}
	if sm.config.Verification.Enabled && sm.verificationService != nil {
		return sm.verificationService
	}

	panic("verification service not enabled or not initialized")
}

func (sm *serviceManager) Student() StudentService {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	if !sm.initialized {
		panic("service manager not initialized")
	}
	if sm.studentService != nil {
		return sm.studentService
	}

	panic("student service not initialized")
}

// ===== HEALTH AND LIFECYCLE =====

func (sm *serviceManager) HealthCheck(ctx context.Context) error {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	if !sm.initialized {
		return fmt.Errorf("service manager not initialized")
	}
	if sm.shutdown {
		return fmt.Errorf("service manager is shut down")
	}

	if err := sm.repo.Ping(ctx); err != nil {
		return fmt.Errorf("repository health check failed: %w", err)
	}

	return nil
}

func (sm *serviceManager) Shutdown(ctx context.Context) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if sm.shutdown {
		return nil
	}

	sm.logger.Info("Shutting down service manager")

	if sm.sweepCancel != nil {
		sm.sweepCancel()
		select {
		case <-sm.sweepDone:
		case <-ctx.Done():
			sm.logger.Warn("Timeout sweeper did not stop before shutdown deadline")
		}
	}

	if err := sm.repo.Close(); err != nil {
		sm.logger.Error("Failed to close repository connections", "error", err)
	}

	sm.shutdown = true
	sm.logger.Info("Service manager shut down completed")

	return nil
}

// ===== UTILITY METHODS =====

// GetConfig returns the service manager configuration
func (sm *serviceManager) GetConfig() ServiceManagerConfig {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	return sm.config
}

// IsInitialized returns whether the service manager has been initialized
func (sm *serviceManager) IsInitialized() bool {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	return sm.initialized
}

// IsShutdown returns whether the service manager has been shut down
func (sm *serviceManager) IsShutdown() bool {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	return sm.shutdown
}

// GetServiceMetrics returns lifecycle state and timeout sweeper counters
func (sm *serviceManager) GetServiceMetrics(ctx context.Context) (map[string]interface{}, error) {
	sm.mu.RLock()
	initialized := sm.initialized
	shutdown := sm.shutdown
	sm.mu.RUnlock()

	if !initialized {
		return nil, fmt.Errorf("service manager not initialized")
	}

	sm.sweepMu.Lock()
	sweeper := map[string]interface{}{
		"runs":        sm.sweepRuns,
		"swept_total": sm.sweptTotal,
	}
	if !sm.lastSweepAt.IsZero() {
		sweeper["last_run"] = sm.lastSweepAt
	}
	sm.sweepMu.Unlock()

	return map[string]interface{}{
		"service_manager": map[string]interface{}{
			"initialized": initialized,
			"shutdown":    shutdown,
		},
		"timeout_sweeper": sweeper,
	}, nil
}

// ===== CONFIGURATION VALIDATION =====

// Validate validates the service manager configuration
func (config *ServiceManagerConfig) Validate() error {
	var errors []string

	if config.DefaultTimeout <= 0 {
		errors = append(errors, "default timeout must be positive")
	}
	if config.SweepInterval < 0 {
		errors = append(errors, "sweep interval cannot be negative")
	}
	if config.SweepInterval > 0 && config.SweepBatchSize <= 0 {
		errors = append(errors, "sweep batch size must be positive when the sweeper is enabled")
	}

	if err := config.Exam.validate("exam"); err != nil {
		errors = append(errors, err.Error())
	}
	if err := config.Schedule.validate("schedule"); err != nil {
		errors = append(errors, err.Error())
	}
	if err := config.Attempt.validate("attempt"); err != nil {
		errors = append(errors, err.Error())
	}
	if err := config.Verification.validate("verification"); err != nil {
		errors = append(errors, err.Error())
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed: %v", errors)
	}

	return nil
}

func (sc *ServiceConfig) validate(serviceName string) error {
	if sc.CacheTTL < 0 {
		return fmt.Errorf("%s: cache TTL cannot be negative", serviceName)
	}
	return nil
}

// ===== FACTORY FUNCTIONS =====

// CreateProductionServiceManager creates a service manager configured for production
func CreateProductionServiceManager(db *gorm.DB, repo repositories.Repository, logger *slog.Logger, validator *validator.Validator, eventPublisher events.EventPublisher, sweepInterval time.Duration) ServiceManager {
	config := ServiceManagerConfig{
		EnableDebugLogging: false,
		LogLevel:           slog.LevelInfo,

		Exam: ServiceConfig{
			Enabled:      true,
			CacheEnabled: true,
			CacheTTL:     10 * time.Minute,
		},
		Schedule: ServiceConfig{
			Enabled:      true,
			CacheEnabled: true,
			CacheTTL:     5 * time.Minute,
		},
		Attempt: ServiceConfig{
			Enabled:      true,
			CacheEnabled: false,
			CacheTTL:     0,
		},
		Verification: ServiceConfig{
			Enabled:      true,
			CacheEnabled: false,
			CacheTTL:     0,
		},

		SweepInterval:  sweepInterval,
		SweepBatchSize: 100,

		DefaultTimeout: 60 * time.Second,
	}

	return NewServiceManager(db, repo, logger, validator, eventPublisher, config)
}

// CreateDevelopmentServiceManager creates a service manager configured for development
func CreateDevelopmentServiceManager(db *gorm.DB, repo repositories.Repository, logger *slog.Logger, validator *validator.Validator, eventPublisher events.EventPublisher) ServiceManager {
	config := ServiceManagerConfig{
		EnableDebugLogging: true,
		LogLevel:           slog.LevelDebug,

		Exam: ServiceConfig{
			Enabled:      true,
			CacheEnabled: false,
			CacheTTL:     0,
		},
		Schedule: ServiceConfig{
			Enabled:      true,
			CacheEnabled: false,
			CacheTTL:     0,
		},
		Attempt: ServiceConfig{
			Enabled:      true,
			CacheEnabled: false,
			CacheTTL:     0,
		},
		Verification: ServiceConfig{
			Enabled:      true,
			CacheEnabled: false,
			CacheTTL:     0,
		},

		SweepInterval:  10 * time.Second,
		SweepBatchSize: 25,

		DefaultTimeout: 10 * time.Second,
	}

	return NewServiceManager(db, repo, logger, validator, eventPublisher, config)
}
