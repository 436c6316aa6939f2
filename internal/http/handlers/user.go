package handlers

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/voxkey/voicegate-backend/internal/platform/logger"
	"github.com/voxkey/voicegate-backend/internal/services"
)

type UserHandler struct {
	log       *logger.Logger
	enrollSvc services.EnrollmentService
	authSvc   services.AuthenticationService
}

func NewUserHandler(
	log *logger.Logger,
	enrollSvc services.EnrollmentService,
	authSvc services.AuthenticationService,
) *UserHandler {
	return &UserHandler{
		log:       log.With("handler", "UserHandler"),
		enrollSvc: enrollSvc,
		authSvc:   authSvc,
	}
}

// GET /api/users/:id/profile
func (h *UserHandler) GetProfile(c *gin.Context) {
	userID := c.Param("id")
	profile, sampleCount, err := h.enrollSvc.Profile(c.Request.Context(), userID)
	if err != nil {
		RespondError(c, err)
		return
	}
	RespondOK(c, gin.H{
		"user_id":               profile.UserID,
		"status":                profile.Status,
		"sample_count":          sampleCount,
		"last_authenticated_at": profile.LastAuthenticatedAt,
		"created_at":            profile.CreatedAt,
	})
}

// GET /api/users/:id/decisions
func (h *UserHandler) ListDecisions(c *gin.Context) {
	userID := c.Param("id")
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))

	decisions, err := h.authSvc.Decisions(c.Request.Context(), userID, limit)
	if err != nil {
		RespondError(c, err)
		return
	}
	RespondOK(c, gin.H{"user_id": userID, "decisions": decisions})
}

// DELETE /api/users/:id/enrollment
func (h *UserHandler) RemoveEnrollment(c *gin.Context) {
	userID := c.Param("id")
	if err := h.enrollSvc.RemoveEnrollment(c.Request.Context(), userID); err != nil {
		RespondError(c, err)
		return
	}
	RespondOK(c, gin.H{"user_id": userID, "status": "unenrolled"})
}
