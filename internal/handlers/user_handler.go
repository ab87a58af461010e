package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/edupilot/exam-service/internal/repositories"
	"github.com/edupilot/exam-service/internal/utils"
)

// UserHandler exposes Casdoor-backed user lookups. The exam service does not
// own user data; these endpoints read through the cached Casdoor repository.
type UserHandler struct {
	BaseHandler
	userRepo repositories.UserRepository
}

func NewUserHandler(userRepo repositories.UserRepository, logger utils.Logger) *UserHandler {
	return &UserHandler{
		BaseHandler: NewBaseHandler(logger),
		userRepo:    userRepo,
	}
}

// GetMe returns the authenticated user's profile
// @Summary Get my profile
// @Tags users
// @Accept json
// @Produce json
// @Success 200 {object} models.User
// @Failure 401 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /users/me [get]
func (h *UserHandler) GetMe(c *gin.Context) {
	userID, ok := h.requireUserID(c)
	if !ok {
		return
	}

	h.LogRequest(c, "Getting own profile", "user_id", userID)

	user, err := h.userRepo.GetByID(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusNotFound, ErrorResponse{
			Message: "User not found",
		})
		return
	}

	c.JSON(http.StatusOK, user)
}

// ListUsers lists users with optional filtering
// @Summary List users
// @Description Get a paginated list of users
// @Tags users
// @Accept json
// @Produce json
// @Param page query int false "Page number (default: 1)"
// @Param size query int false "Page size (default: 10, max: 100)"
// @Param q query string false "Search query (name or email)"
// @Success 200 {object} map[string]interface{} "User list response"
// @Failure 401 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /users [get]
func (h *UserHandler) ListUsers(c *gin.Context) {
	h.LogRequest(c, "Listing users")

	if _, ok := h.requireUserID(c); !ok {
		return
	}

	filters := h.parseUserFilters(c)

	users, total, err := h.userRepo.List(c.Request.Context(), filters)
	if err != nil {
		h.LogError(c, err, "Failed to list users")
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Message: "Failed to list users",
			Details: err.Error(),
		})
		return
	}

	page := (filters.Offset / max(filters.Limit, 1)) + 1

	c.JSON(http.StatusOK, map[string]interface{}{
		"users": users,
		"total": total,
		"page":  page,
		"size":  filters.Limit,
	})
}

// SearchUsers searches for users
// @Summary Search users
// @Description Search users by name or email
// @Tags users
// @Accept json
// @Produce json
// @Param q query string true "Search query"
// @Param page query int false "Page number (default: 1)"
// @Param size query int false "Page size (default: 10, max: 100)"
// @Success 200 {object} map[string]interface{} "User search results"
// @Failure 400 {object} ErrorResponse
// @Failure 401 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /users/search [get]
func (h *UserHandler) SearchUsers(c *gin.Context) {
	query := c.Query("q")
	if query == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Message: "Search query parameter 'q' is required",
		})
		return
	}

	h.LogRequest(c, "Searching users", "query", query)

	if _, ok := h.requireUserID(c); !ok {
		return
	}

	filters := h.parseUserFilters(c)

	users, total, err := h.userRepo.Search(c.Request.Context(), query, filters)
	if err != nil {
		h.LogError(c, err, "Failed to search users")
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Message: "Failed to search users",
			Details: err.Error(),
		})
		return
	}

	page := (filters.Offset / max(filters.Limit, 1)) + 1

	c.JSON(http.StatusOK, map[string]interface{}{
		"users": users,
		"total": total,
		"page":  page,
		"size":  filters.Limit,
	})
}

// GetUser retrieves a user by ID
// @Summary Get user by ID
// @Tags users
// @Accept json
// @Produce json
// @Param id path string true "User ID"
// @Success 200 {object} models.User
// @Failure 400 {object} ErrorResponse
// @Failure 401 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /users/{id} [get]
func (h *UserHandler) GetUser(c *gin.Context) {
	userID := c.Param("id")
	if userID == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Message: "User ID is required",
		})
		return
	}

	h.LogRequest(c, "Getting user", "user_id", userID)

	if _, ok := h.requireUserID(c); !ok {
		return
	}

	user, err := h.userRepo.GetByID(c.Request.Context(), userID)
	if err != nil {
		h.LogError(c, err, "Failed to get user")
		c.JSON(http.StatusNotFound, ErrorResponse{
			Message: "User not found",
		})
		return
	}

	c.JSON(http.StatusOK, user)
}

func (h *UserHandler) parseUserFilters(c *gin.Context) repositories.UserFilters {
	page := h.parseIntQuery(c, "page", 1)
	if page < 1 {
		page = 1
	}
	size := h.parseIntQuery(c, "size", 10)
	if size < 1 || size > 100 {
		size = 10
	}

	return repositories.UserFilters{
		Limit:  size,
		Offset: (page - 1) * size,
		Query:  c.Query("q"),
	}
}
