package attendance

import (
	"context"
	"errors"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/liveqa/backend/internal/auth"
	"github.com/liveqa/backend/internal/models"
	"github.com/liveqa/backend/pkg/response"
)

// RoomFinder resolves a room by join code.
type RoomFinder interface {
	FindRoomByCode(ctx context.Context, code string) (*models.Room, error)
}

// Lister lists attendance spans of a room.
type Lister interface {
	ListByRoom(ctx context.Context, roomID int64) ([]models.Attendance, error)
}

// Handler handles GET /rooms/:code/attendees.
type Handler struct {
	rooms  RoomFinder
	repo   Lister
	logger *zap.Logger
}

// NewHandler creates an attendance handler.
func NewHandler(rooms RoomFinder, repo Lister, logger *zap.Logger) *Handler {
	return &Handler{rooms: rooms, repo: repo, logger: logger}
}

// GetAttendees handles GET /rooms/:code/attendees (room admin only).
func (h *Handler) GetAttendees(c *gin.Context) {
	code := strings.ToUpper(strings.TrimSpace(c.Param("code")))
	room, err := h.rooms.FindRoomByCode(c.Request.Context(), code)
	if errors.Is(err, models.ErrNotFound) {
		response.NotFound(c, "room not found")
		return
	}
	if err != nil {
		h.logger.Error("load room", zap.Error(err), zap.String("room_code", code))
		response.Internal(c, "failed to load room")
		return
	}
	if room.AdminID != c.MustGet(auth.ContextUserID).(int64) {
		response.Forbidden(c, "only the room admin can list attendees")
		return
	}
	list, err := h.repo.ListByRoom(c.Request.Context(), room.ID)
	if err != nil {
		h.logger.Error("list attendees", zap.Error(err), zap.String("room_code", code))
		response.Internal(c, "failed to list attendees")
		return
	}
	response.OK(c, gin.H{"roomCode": room.Code, "attendees": list})
}
