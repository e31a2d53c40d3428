package http

import (
	"context"
	"net/http"
	"time"

	"screenlink/internal/core/domain"
	"screenlink/internal/core/ports"
	"screenlink/pkg/accesscode"
	"screenlink/pkg/errors"

	"github.com/gin-gonic/gin"
)

// SessionDirectory answers lookups about hosted codes. *signal.Hub implements it.
type SessionDirectory interface {
	Lookup(ctx context.Context, code domain.AccessCode) (*domain.Room, error)
	Stats(ctx context.Context) domain.RelayStats
}

type SessionHandler struct {
	directory SessionDirectory
	validator accesscode.Validator
}

var _ ports.HTTPHandler = (*SessionHandler)(nil)

func NewSessionHandler(directory SessionDirectory, validator accesscode.Validator) *SessionHandler {
	return &SessionHandler{
		directory: directory,
		validator: validator,
	}
}

func (h *SessionHandler) SetupRoutes(router gin.IRouter) {
	api := router.Group("/api/v1")
	{
		api.GET("/sessions", h.ListSessions)
		api.GET("/sessions/:code", h.GetSession)
	}
}

// GetSession reports whether a code is hosted. Errors are attached to the
// context and rendered by the error middleware.
func (h *SessionHandler) GetSession(c *gin.Context) {
	code := accesscode.Normalize(c.Param("code"))
	if err := h.validator.Check(string(code)); err != nil {
		_ = c.Error(errors.NewInvalidCodeError(domain.MessageInvalidCode).WithCause(err))
		return
	}

	room, err := h.directory.Lookup(c.Request.Context(), code)
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"code":       room.Code,
		"has_viewer": room.HasViewer(),
		"created_at": room.CreatedAt.UTC().Format(time.RFC3339),
	})
}

// ListSessions returns aggregate counts only; codes are never listed.
func (h *SessionHandler) ListSessions(c *gin.Context) {
	stats := h.directory.Stats(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{
		"active_rooms":      stats.ActiveRooms,
		"connected_viewers": stats.ConnectedViewers,
		"timestamp":         stats.Timestamp.UTC().Format(time.RFC3339),
	})
}
