package casdoor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/casdoor/casdoor-go-sdk/casdoorsdk"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/edupilot/exam-service/internal/models"
	"github.com/edupilot/exam-service/internal/repositories"
)

// CasdoorConfig holds the configuration for Casdoor connection
type CasdoorConfig struct {
	Endpoint         string
	ClientID         string
	ClientSecret     string
	Certificate      string
	OrganizationName string
	ApplicationName  string
}

type UserCasdoor struct {
	client *casdoorsdk.Client
	redis  *redis.Client
	config CasdoorConfig

	// Cache settings
	cachePrefix string
	cacheTTL    time.Duration
}

func NewUserCasdoor(config CasdoorConfig, redisClient *redis.Client) repositories.UserRepository {
	// Initialize Casdoor client
	client := casdoorsdk.NewClient(
		config.Endpoint,
		config.ClientID,
		config.ClientSecret,
		config.Certificate,
		config.OrganizationName,
		config.ApplicationName,
	)

	return &UserCasdoor{
		client:      client,
		redis:       redisClient,
		config:      config,
		cachePrefix: "user:",
		cacheTTL:    15 * time.Minute, // Cache for 15 minutes
	}
}

// ===== CACHE METHODS =====

// getCacheKey generates cache key for user data
func (u *UserCasdoor) getCacheKey(key string) string {
	return fmt.Sprintf("%s%s", u.cachePrefix, key)
}

// getUserFromCache retrieves user from cache
func (u *UserCasdoor) getUserFromCache(ctx context.Context, key string) (*models.User, error) {
	if u.redis == nil {
		return nil, nil // Cache not available
	}

	cacheKey := u.getCacheKey(key)
	data, err := u.redis.Get(ctx, cacheKey).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil // Not found in cache
		}
		return nil, fmt.Errorf("failed to get from cache: %w", err)
	}

	var user models.User
	if err := json.Unmarshal([]byte(data), &user); err != nil {
		return nil, fmt.Errorf("failed to unmarshal cached user: %w", err)
	}

	return &user, nil
}

// setUserCache stores user in cache
func (u *UserCasdoor) setUserCache(ctx context.Context, key string, user *models.User) error {
	if u.redis == nil {
		return nil // Cache not available
	}

	data, err := json.Marshal(user)
	if err != nil {
		return fmt.Errorf("failed to marshal user for cache: %w", err)
	}

	cacheKey := u.getCacheKey(key)
	return u.redis.Set(ctx, cacheKey, data, u.cacheTTL).Err()
}

// ===== CONVERSION METHODS =====

// convertCasdoorUserToModel converts Casdoor user to internal model
func (u *UserCasdoor) convertCasdoorUserToModel(casdoorUser *casdoorsdk.User) *models.User {
	if casdoorUser == nil {
		return nil
	}

	// Use ID as string directly
	id := casdoorUser.Id

	// Parse timestamps
	var createdAt, updatedAt time.Time
	if casdoorUser.CreatedTime != "" {
		createdAt, _ = time.Parse(time.RFC3339, casdoorUser.CreatedTime)
	}
	if casdoorUser.UpdatedTime != "" {
		updatedAt, _ = time.Parse(time.RFC3339, casdoorUser.UpdatedTime)
	}

	return &models.User{
		ID:            id,
		FullName:      casdoorUser.DisplayName,
		Email:         casdoorUser.Email,
		Role:          u.convertCasdoorRolesToModel(casdoorUser),
		InstitutionID: u.parseInstitutionID(casdoorUser.Properties),
		CreatedAt:     createdAt,
		UpdatedAt:     updatedAt,
	}
}

func (u *UserCasdoor) convertCasdoorRolesToModel(casdoorUser *casdoorsdk.User) models.UserRole {
	var roles []models.UserRole
	isExist := make(map[models.UserRole]bool)
	for _, casdoorRole := range casdoorUser.Roles {
		mappedRole := u.mapSingleCasdoorRoleToUserRole(casdoorRole.Name)
		if !isExist[mappedRole] {
			roles = append(roles, mappedRole)
			isExist[mappedRole] = true
		}
	}

	// Ensure at least one role
	// if contain super_admin, only keep super_admin
	if slices.Contains(roles, models.RoleSuperAdmin) || casdoorUser.IsAdmin {
		return models.RoleSuperAdmin
	}

	if len(roles) == 0 {
		return models.RoleStudent // Default role
	}
	return roles[0] // Return the first role as primary
}

func (u *UserCasdoor) mapSingleCasdoorRoleToUserRole(casdoorType string) models.UserRole {
	switch strings.ToLower(casdoorType) {
	case "student":
		return models.RoleStudent
	case "staff", "manager", "staff_manager":
		return models.RoleStaffManager
	case "director", "institution_director", "principal":
		return models.RoleDirector
	case "admin", "super_admin", "administrator":
		return models.RoleSuperAdmin
	default:
		return models.RoleStudent // Default role
	}
}

// parseInstitutionID reads the institution claim that the enrollment service
// stamps onto Casdoor user properties. Super admin accounts carry none.
func (u *UserCasdoor) parseInstitutionID(properties map[string]string) *uint {
	value := u.getPropertyOrDefault(properties, "institution_id", "")
	if value == "" {
		return nil
	}

	parsed, err := strconv.ParseUint(value, 10, 32)
	if err != nil {
		return nil
	}

	id := uint(parsed)
	return &id
}

// getPropertyOrDefault gets property value or returns default
func (u *UserCasdoor) getPropertyOrDefault(properties map[string]string, key, defaultValue string) string {
	if value, exists := properties[key]; exists {
		return value
	}
	return defaultValue
}

// ===== BASIC READ OPERATIONS =====

// GetByID retrieves a user by ID
func (u *UserCasdoor) GetByID(ctx context.Context, id string) (*models.User, error) {
	// Try cache first
	cacheKey := fmt.Sprintf("id:%s", id)
	if cachedUser, err := u.getUserFromCache(ctx, cacheKey); err == nil && cachedUser != nil {
		return cachedUser, nil
	}

	// Get from Casdoor
	casdoorUser, err := u.client.GetUserByUserId(id)
	if err != nil {
		return nil, fmt.Errorf("failed to get user from Casdoor: %w", err)
	}

	if casdoorUser == nil {
		return nil, fmt.Errorf("user %s: %w", id, gorm.ErrRecordNotFound)
	}

	user := u.convertCasdoorUserToModel(casdoorUser)
	if user == nil {
		return nil, fmt.Errorf("failed to convert Casdoor user")
	}

	// Cache the result
	u.setUserCache(ctx, cacheKey, user)

	return user, nil
}

// ===== LIST AND SEARCH OPERATIONS =====

// List retrieves a paginated list of users with optional filters
func (u *UserCasdoor) List(ctx context.Context, filters repositories.UserFilters) ([]*models.User, int64, error) {
	// Set defaults
	if filters.Limit <= 0 {
		filters.Limit = 10
	}
	if filters.Limit > 100 {
		filters.Limit = 100
	}

	// Calculate page number from offset (Casdoor uses 1-indexed pages)
	page := (filters.Offset / filters.Limit) + 1
	if page < 1 {
		page = 1
	}

	// Build query map for Casdoor filtering
	queryMap := make(map[string]string)

	// Add search query if provided
	if filters.Query != "" {
		// Casdoor will search in name and email fields
		queryMap["field"] = "email"
		queryMap["value"] = filters.Query
	}

	// Get paginated users from Casdoor
	casdoorUsers, count, err := u.client.GetPaginationUsers(page, filters.Limit, queryMap)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to get users from Casdoor: %w", err)
	}

	// Convert to internal model
	users := make([]*models.User, 0, len(casdoorUsers))
	for _, casdoorUser := range casdoorUsers {
		user := u.convertCasdoorUserToModel(casdoorUser)
		if user != nil {
			users = append(users, user)

			// Cache each user
			cacheKey := fmt.Sprintf("id:%s", user.ID)
			u.setUserCache(ctx, cacheKey, user)
		}
	}

	return users, int64(count), nil
}

// Search searches for users by query string
func (u *UserCasdoor) Search(ctx context.Context, query string, filters repositories.UserFilters) ([]*models.User, int64, error) {
	// Set query in filters and use List method
	filters.Query = query
	return u.List(ctx, filters)
}
