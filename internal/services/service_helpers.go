package services

import (
	"context"
	"fmt"
	"time"

	"github.com/edupilot/exam-service/internal/models"
	"github.com/edupilot/exam-service/internal/repositories"
	"gorm.io/gorm"
)

// Helpers shared across the exam services. Access rules live here so every
// service applies the same role and institution scoping.

// resolveUser loads the calling user from the identity provider.
func resolveUser(ctx context.Context, repo repositories.Repository, userID string) (*models.User, error) {
	user, err := repo.User().GetByID(ctx, userID)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to get user %s: %w", userID, err)
	}
	return user, nil
}

// resolveStudent maps the auth subject to the student row it belongs to.
func resolveStudent(ctx context.Context, repo repositories.Repository, db *gorm.DB, userID string) (*models.Student, error) {
	student, err := repo.Student().GetByUserID(ctx, db, userID)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, ErrStudentNotFound
		}
		return nil, fmt.Errorf("failed to get student for user %s: %w", userID, err)
	}
	return student, nil
}

// requireManager rejects callers below manager level.
func requireManager(user *models.User, resourceID uint, resource, action string) error {
	if !user.Role.IsManager() {
		return NewPermissionError(user.ID, resourceID, resource, action, "manager role required")
	}
	return nil
}

// canAccessInstitution reports whether the user may touch resources of the
// given institution. Super admins cross institution boundaries, everyone
// else stays inside their own.
func canAccessInstitution(user *models.User, institutionID uint) bool {
	if user.Role == models.RoleSuperAdmin {
		return true
	}
	return user.InstitutionID != nil && *user.InstitutionID == institutionID
}

func timePtr(t time.Time) *time.Time {
	return &t
}

func intPtr(v int) *int {
	return &v
}
