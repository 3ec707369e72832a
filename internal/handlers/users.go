package handlers

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"dm-service/internal/repositories"
	"dm-service/internal/telemetry"
)

// UserHandler manages the identity directory endpoints.
type UserHandler struct {
	users   repositories.UserRepository
	emitter *telemetry.AuditEmitter
}

// NewUserHandler builds a UserHandler.
func NewUserHandler(users repositories.UserRepository, emitter *telemetry.AuditEmitter) *UserHandler {
	return &UserHandler{users: users, emitter: emitter}
}

// Create registers a new user. Credentials live with the auth service; this
// directory only keeps the profile and presence projection.
func (h *UserHandler) Create(c *gin.Context) {
	var req struct {
		Username  string  `json:"username" binding:"required,min=3,max=30"`
		Email     string  `json:"email" binding:"required,email"`
		AvatarURL *string `json:"avatar_url"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	user, err := h.users.Create(c.Request.Context(), req.Username, req.Email, req.AvatarURL)
	if err != nil {
		if errors.Is(err, repositories.ErrUserExists) {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create user"})
		return
	}

	h.emitter.Emit(c.Request.Context(), "INFO", fmt.Sprintf("user created username=%s", user.Username), requestIDFromContext(c), &user.ID)
	c.JSON(http.StatusCreated, user)
}

// List returns all users.
func (h *UserHandler) List(c *gin.Context) {
	users, err := h.users.List(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load users"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"users": users})
}

// Get returns a single user with its presence projection.
func (h *UserHandler) Get(c *gin.Context) {
	user, err := h.users.Get(c.Request.Context(), c.Param("user_id"))
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, repositories.ErrUserNotFound) {
			status = http.StatusNotFound
		}
		c.JSON(status, gin.H{"error": "user not found"})
		return
	}
	c.JSON(http.StatusOK, user)
}
