package pkg

import (
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/edupilot/exam-service/internal/config"
	"github.com/edupilot/exam-service/internal/models"
)

// InitDatabase opens the Postgres connection pool and runs schema migration.
func InitDatabase(cfg *config.Config) (*gorm.DB, error) {
	logLevel := logger.Warn
	if cfg.Environment == "development" {
		logLevel = logger.Info
	}

	db, err := gorm.Open(postgres.Open(cfg.DatabaseURL), &gorm.Config{
		Logger:         logger.Default.LogMode(logLevel),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database handle: %w", err)
	}
	sqlDB.SetMaxOpenConns(25)
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := AutoMigrate(db); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return db, nil
}

// AutoMigrate creates or updates the schema for all persisted models.
// Order matters: referenced tables migrate before the tables that
// reference them.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.Institution{},
		&models.User{},
		&models.Course{},
		&models.CourseModule{},
		&models.Student{},
		&models.Enrollment{},
		&models.FeePayment{},
		&models.Exam{},
		&models.Question{},
		&models.ExamSchedule{},
		&models.ExamAttempt{},
		&models.StudentAnswer{},
	)
}
