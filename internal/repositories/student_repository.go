package repositories

import (
	"context"

	"github.com/edupilot/exam-service/internal/models"
	"gorm.io/gorm"
)

// StudentRepository resolves student profiles. Profile management belongs to
// the enrollment service; this side only reads.
type StudentRepository interface {
	GetByUserID(ctx context.Context, tx *gorm.DB, userID string) (*models.Student, error)
}

// EnrollmentRepository interface for course enrollment lookups
type EnrollmentRepository interface {
	// HasActiveEnrollment gates every student-facing exam operation.
	HasActiveEnrollment(ctx context.Context, tx *gorm.DB, studentID, courseID uint) (bool, error)
	ActiveCourseIDs(ctx context.Context, tx *gorm.DB, studentID uint) ([]uint, error)
}

// PaymentRepository interface for fee payment lookups
type PaymentRepository interface {
	// HasPayment reports whether at least one payment row exists for the
	// student and course. Eligibility never compares amounts.
	HasPayment(ctx context.Context, tx *gorm.DB, studentID, courseID uint) (bool, error)
}

// CourseRepository interface for course lookups (read-only here; course
// management belongs to the enrollment service)
type CourseRepository interface {
	GetByID(ctx context.Context, tx *gorm.DB, id uint) (*models.Course, error)
	GetModuleByID(ctx context.Context, tx *gorm.DB, id uint) (*models.CourseModule, error)
}
