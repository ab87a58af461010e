package repositories

import (
	"time"

	"github.com/edupilot/exam-service/internal/models"
)

// ===== SHARED FILTER STRUCTS =====

type ExamFilters struct {
	CourseID      *uint   `json:"course_id"`
	ModuleID      *uint   `json:"module_id"`
	InstitutionID *uint   `json:"institution_id"`
	IsActive      *bool   `json:"is_active"`
	BatchTime     *string `json:"batch_time"`
	CreatedBy     *string `json:"created_by"`
	Limit         int     `json:"limit"`
	Offset        int     `json:"offset"`
	SortBy        string  `json:"sort_by"`    // "created_at", "title"
	SortOrder     string  `json:"sort_order"` // "asc", "desc"
}

type AttemptFilters struct {
	ExamID     *uint                 `json:"exam_id"`
	StudentID  *uint                 `json:"student_id"`
	Status     *models.AttemptStatus `json:"status"`
	IsVerified *bool                 `json:"is_verified"`
	Passed     *bool                 `json:"passed"`
	DateFrom   *time.Time            `json:"date_from"`
	DateTo     *time.Time            `json:"date_to"`
	Limit      int                   `json:"limit"`
	Offset     int                   `json:"offset"`
	SortBy     string                `json:"sort_by"`
	SortOrder  string                `json:"sort_order"`
}

// VerificationFilters narrows the pending-verification queue.
type VerificationFilters struct {
	ExamID        *uint `json:"exam_id"`
	CourseID      *uint `json:"course_id"`
	InstitutionID *uint `json:"institution_id"`
	Limit         int   `json:"limit"`
	Offset        int   `json:"offset"`
}

type ScheduleFilters struct {
	ExamID        *uint      `json:"exam_id"`
	InstitutionID *uint      `json:"institution_id"`
	BatchTime     *string    `json:"batch_time"`
	IsActive      *bool      `json:"is_active"`
	DateFrom      *time.Time `json:"date_from"`
	DateTo        *time.Time `json:"date_to"`
	Limit         int        `json:"limit"`
	Offset        int        `json:"offset"`
}

// ===== SHARED STATISTICS STRUCTS =====

// ExamResultStats aggregates verified terminal attempts of one exam.
type ExamResultStats struct {
	TotalAttempts     int     `json:"total_attempts"`
	PassedCount       int     `json:"passed_count"`
	FailedCount       int     `json:"failed_count"`
	PassRate          float64 `json:"pass_rate"`
	AveragePercentage float64 `json:"average_percentage"`
	HighestPercentage float64 `json:"highest_percentage"`
	LowestPercentage  float64 `json:"lowest_percentage"`
}

// VerificationStats backs the manager verification dashboard. Pass rate and
// average percentage cover verified attempts only.
type VerificationStats struct {
	PendingCount      int     `json:"pending_count"`
	VerifiedToday     int     `json:"verified_today"`
	TotalVerified     int     `json:"total_verified"`
	PassRate          float64 `json:"pass_rate"`
	AveragePercentage float64 `json:"average_percentage"`
}

type StudentAttemptStats struct {
	TotalAttempts     int     `json:"total_attempts"`
	ExamsTaken        int     `json:"exams_taken"`
	ExamsPassed       int     `json:"exams_passed"`
	AveragePercentage float64 `json:"average_percentage"`
	BestPercentage    float64 `json:"best_percentage"`
}
