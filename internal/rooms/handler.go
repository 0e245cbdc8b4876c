package rooms

import (
	"context"
	"errors"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/liveqa/backend/internal/auth"
	"github.com/liveqa/backend/internal/models"
	"github.com/liveqa/backend/internal/realtime"
	"github.com/liveqa/backend/pkg/response"
)

// RoomRepository is the persistence used by the rooms endpoints.
type RoomRepository interface {
	Create(ctx context.Context, adminID int64, title, description string) (*models.Room, error)
	FindRoomByCode(ctx context.Context, code string) (*models.Room, error)
	ListByAdmin(ctx context.Context, adminID int64) ([]models.Room, error)
	Update(ctx context.Context, id int64, title, description *string) (*models.Room, error)
}

// Session is the live side of a room: who is present and how to reach them.
type Session interface {
	Participants(roomCode string) []realtime.Participant
	ParticipantCount(roomCode string) int
	RoomUpdated(ctx context.Context, room *models.Room) error
}

// ArchiveLinker signs download links for stored archives.
type ArchiveLinker interface {
	PresignDownload(ctx context.Context, key string) (string, error)
}

// CreateRequest is the body for POST /rooms.
type CreateRequest struct {
	Title       string `json:"title" binding:"required,max=200"`
	Description string `json:"description" binding:"max=2000"`
}

// UpdateRequest is the body for PATCH /rooms/:code. Omitted fields are left unchanged.
type UpdateRequest struct {
	Title       *string `json:"title" binding:"omitempty,max=200"`
	Description *string `json:"description" binding:"omitempty,max=2000"`
}

// RoomResponse is a room with its live membership size.
type RoomResponse struct {
	*models.Room
	ParticipantCount int  `json:"participantCount"`
	HasArchive       bool `json:"hasArchive"`
}

// Handler handles room HTTP endpoints.
type Handler struct {
	repo     RoomRepository
	live     Session
	archives ArchiveLinker
	logger   *zap.Logger
}

// NewHandler creates a rooms handler. archives may be nil when object storage is not configured.
func NewHandler(repo RoomRepository, live Session, archives ArchiveLinker, logger *zap.Logger) *Handler {
	return &Handler{repo: repo, live: live, archives: archives, logger: logger}
}

// Create handles POST /rooms.
func (h *Handler) Create(c *gin.Context) {
	var req CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	title := strings.TrimSpace(req.Title)
	if title == "" {
		response.BadRequest(c, "title is required")
		return
	}
	userID := c.MustGet(auth.ContextUserID).(int64)

	room, err := h.repo.Create(c.Request.Context(), userID, title, strings.TrimSpace(req.Description))
	if err != nil {
		h.logger.Error("create room", zap.Error(err), zap.Int64("user_id", userID))
		response.Internal(c, "failed to create room")
		return
	}
	h.logger.Info("room created", zap.String("room_code", room.Code), zap.Int64("admin_id", userID))
	response.Created(c, h.view(room))
}

// List handles GET /rooms (rooms administered by the caller).
func (h *Handler) List(c *gin.Context) {
	userID := c.MustGet(auth.ContextUserID).(int64)
	list, err := h.repo.ListByAdmin(c.Request.Context(), userID)
	if err != nil {
		h.logger.Error("list rooms", zap.Error(err), zap.Int64("user_id", userID))
		response.Internal(c, "failed to list rooms")
		return
	}
	out := make([]RoomResponse, 0, len(list))
	for i := range list {
		out = append(out, h.view(&list[i]))
	}
	response.OK(c, gin.H{"rooms": out})
}

// Get handles GET /rooms/:code.
func (h *Handler) Get(c *gin.Context) {
	room, ok := h.load(c)
	if !ok {
		return
	}
	response.OK(c, h.view(room))
}

// Update handles PATCH /rooms/:code (admin only, while the session is live).
func (h *Handler) Update(c *gin.Context) {
	var req UpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	if req.Title == nil && req.Description == nil {
		response.BadRequest(c, "nothing to update")
		return
	}
	if req.Title != nil {
		title := strings.TrimSpace(*req.Title)
		if title == "" {
			response.BadRequest(c, "title cannot be empty")
			return
		}
		req.Title = &title
	}
	if req.Description != nil {
		desc := strings.TrimSpace(*req.Description)
		req.Description = &desc
	}

	room, ok := h.load(c)
	if !ok {
		return
	}
	if room.AdminID != c.MustGet(auth.ContextUserID).(int64) {
		response.Forbidden(c, "only the room admin can edit the room")
		return
	}
	if room.IsEnded {
		response.Conflict(c, "session has ended")
		return
	}

	updated, err := h.repo.Update(c.Request.Context(), room.ID, req.Title, req.Description)
	if err != nil {
		h.logger.Error("update room", zap.Error(err), zap.String("room_code", room.Code))
		response.Internal(c, "failed to update room")
		return
	}
	if err := h.live.RoomUpdated(c.Request.Context(), updated); err != nil {
		h.logger.Warn("broadcast room update", zap.Error(err), zap.String("room_code", room.Code))
	}
	h.logger.Info("room updated", zap.String("room_code", room.Code))
	response.OK(c, h.view(updated))
}

// Participants handles GET /rooms/:code/participants.
func (h *Handler) Participants(c *gin.Context) {
	room, ok := h.load(c)
	if !ok {
		return
	}
	list := h.live.Participants(room.Code)
	response.OK(c, gin.H{"roomCode": room.Code, "participants": list, "participantCount": len(list)})
}

// Archive handles GET /rooms/:code/archive (admin only).
func (h *Handler) Archive(c *gin.Context) {
	room, ok := h.load(c)
	if !ok {
		return
	}
	if room.AdminID != c.MustGet(auth.ContextUserID).(int64) {
		response.Forbidden(c, "only the room admin can download the archive")
		return
	}
	if h.archives == nil {
		response.ServiceUnavailable(c, "archive storage not configured")
		return
	}
	if room.ArchiveKey == "" {
		response.NotFound(c, "archive not available yet")
		return
	}
	url, err := h.archives.PresignDownload(c.Request.Context(), room.ArchiveKey)
	if err != nil {
		h.logger.Error("presign archive", zap.Error(err), zap.String("room_code", room.Code))
		response.Internal(c, "failed to sign archive url")
		return
	}
	response.OK(c, gin.H{"roomCode": room.Code, "url": url})
}

func (h *Handler) load(c *gin.Context) (*models.Room, bool) {
	code := NormalizeCode(c.Param("code"))
	if code == "" {
		response.BadRequest(c, "room code is required")
		return nil, false
	}
	room, err := h.repo.FindRoomByCode(c.Request.Context(), code)
	if errors.Is(err, models.ErrNotFound) {
		response.NotFound(c, "room not found")
		return nil, false
	}
	if err != nil {
		h.logger.Error("load room", zap.Error(err), zap.String("room_code", code))
		response.Internal(c, "failed to load room")
		return nil, false
	}
	return room, true
}

func (h *Handler) view(room *models.Room) RoomResponse {
	return RoomResponse{
		Room:             room,
		ParticipantCount: h.live.ParticipantCount(room.Code),
		HasArchive:       room.ArchiveKey != "",
	}
}

// NormalizeCode canonicalizes a user-entered room code.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
