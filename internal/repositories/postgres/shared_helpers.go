package postgres

import (
	"context"

	"github.com/edupilot/exam-service/internal/models"
	"github.com/edupilot/exam-service/internal/repositories"
	"gorm.io/gorm"
)

// SharedHelpers contains common database operations
type SharedHelpers struct {
	db *gorm.DB
}

func NewSharedHelpers(db *gorm.DB) *SharedHelpers {
	return &SharedHelpers{db: db}
}

// CountTerminalAttempts counts finished attempts of a student for an exam.
// Attempt numbering and retake limits are derived from this count.
func (h *SharedHelpers) CountTerminalAttempts(ctx context.Context, examID, studentID uint) (int64, error) {
	var count int64
	err := h.db.WithContext(ctx).
		Model(&models.ExamAttempt{}).
		Where("exam_id = ? AND student_id = ? AND status IN ?", examID, studentID, models.TerminalStatuses).
		Count(&count).Error
	return count, err
}

// ApplyExamFilters applies common filters to exam queries
func (h *SharedHelpers) ApplyExamFilters(query *gorm.DB, filters repositories.ExamFilters) *gorm.DB {
	if filters.CourseID != nil {
		query = query.Where("course_id = ?", *filters.CourseID)
	}
	if filters.ModuleID != nil {
		query = query.Where("module_id = ?", *filters.ModuleID)
	}
	if filters.InstitutionID != nil {
		query = query.Where("institution_id = ?", *filters.InstitutionID)
	}
	if filters.IsActive != nil {
		query = query.Where("is_active = ?", *filters.IsActive)
	}
	if filters.BatchTime != nil {
		query = query.Where("batch_time = ?", *filters.BatchTime)
	}
	if filters.CreatedBy != nil {
		query = query.Where("created_by = ?", *filters.CreatedBy)
	}
	return query
}

// ApplyAttemptFilters applies common filters to attempt queries
func (h *SharedHelpers) ApplyAttemptFilters(query *gorm.DB, filters repositories.AttemptFilters) *gorm.DB {
	if filters.ExamID != nil {
		query = query.Where("exam_id = ?", *filters.ExamID)
	}
	if filters.StudentID != nil {
		query = query.Where("student_id = ?", *filters.StudentID)
	}
	if filters.Status != nil {
		query = query.Where("status = ?", *filters.Status)
	}
	if filters.IsVerified != nil {
		query = query.Where("is_verified = ?", *filters.IsVerified)
	}
	if filters.Passed != nil {
		query = query.Where("passed = ?", *filters.Passed)
	}
	if filters.DateFrom != nil {
		query = query.Where("created_at >= ?", *filters.DateFrom)
	}
	if filters.DateTo != nil {
		query = query.Where("created_at <= ?", *filters.DateTo)
	}
	return query
}

// ApplyScheduleFilters applies common filters to schedule queries
func (h *SharedHelpers) ApplyScheduleFilters(query *gorm.DB, filters repositories.ScheduleFilters) *gorm.DB {
	if filters.ExamID != nil {
		query = query.Where("exam_id = ?", *filters.ExamID)
	}
	if filters.InstitutionID != nil {
		query = query.Where("institution_id = ?", *filters.InstitutionID)
	}
	if filters.BatchTime != nil {
		query = query.Where("batch_time = ?", *filters.BatchTime)
	}
	if filters.IsActive != nil {
		query = query.Where("is_active = ?", *filters.IsActive)
	}
	if filters.DateFrom != nil {
		query = query.Where("scheduled_date >= ?", *filters.DateFrom)
	}
	if filters.DateTo != nil {
		query = query.Where("scheduled_date <= ?", *filters.DateTo)
	}
	return query
}

// ApplyPaginationAndSort applies pagination and sorting with SQL injection protection
func (h *SharedHelpers) ApplyPaginationAndSort(query *gorm.DB, sortBy, sortOrder string, limit, offset int) *gorm.DB {
	// Whitelist allowed sort columns
	allowedSortColumns := map[string]bool{
		"created_at":     true,
		"updated_at":     true,
		"id":             true,
		"title":          true,
		"status":         true,
		"percentage":     true,
		"started_at":     true,
		"ended_at":       true,
		"attempt_number": true,
		"scheduled_date": true,
	}

	// Validate and set sort column
	if sortBy == "" || !allowedSortColumns[sortBy] {
		sortBy = "created_at"
	}

	// Validate and set sort order
	if sortOrder != "asc" && sortOrder != "ASC" {
		sortOrder = "DESC"
	} else {
		sortOrder = "ASC"
	}

	query = query.Order(sortBy + " " + sortOrder)

	if limit > 0 {
		query = query.Limit(limit)
	}
	if offset > 0 {
		query = query.Offset(offset)
	}

	return query
}
