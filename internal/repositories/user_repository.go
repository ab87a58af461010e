package repositories

import (
	"context"

	"github.com/edupilot/exam-service/internal/models"
)

// UserFilters defines filters for user queries
type UserFilters struct {
	Query  string // Search query for name or email
	Limit  int    // Page size
	Offset int    // Offset for pagination
}

// UserRepository interface for user operations (exam service is not the
// owner of user data; lookups go to Casdoor)
type UserRepository interface {
	GetByID(ctx context.Context, id string) (*models.User, error)

	// List and search operations
	List(ctx context.Context, filters UserFilters) ([]*models.User, int64, error)
	Search(ctx context.Context, query string, filters UserFilters) ([]*models.User, int64, error)
}
