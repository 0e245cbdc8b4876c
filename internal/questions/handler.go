package questions

import (
	"context"
	"errors"
	"strconv"
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

// Store is the question persistence behind the HTTP endpoints.
type Store interface {
	ListByRoom(ctx context.Context, roomID, viewerID int64) ([]models.Question, error)
	GetQuestion(ctx context.Context, id int64) (*models.Question, error)
	DeleteQuestion(ctx context.Context, id int64) error
}

// Notifier pushes question changes to the live members of a room.
type Notifier interface {
	QuestionRemoved(ctx context.Context, roomCode string, questionID int64) error
}

// Handler handles question HTTP endpoints. Questions are created and voted on over the realtime channel.
type Handler struct {
	rooms    RoomFinder
	repo     Store
	notifier Notifier
	logger   *zap.Logger
}

// NewHandler creates a questions handler.
func NewHandler(rooms RoomFinder, repo Store, notifier Notifier, logger *zap.Logger) *Handler {
	return &Handler{rooms: rooms, repo: repo, notifier: notifier, logger: logger}
}

// ListByRoom handles GET /rooms/:code/questions.
func (h *Handler) ListByRoom(c *gin.Context) {
	room, ok := h.loadRoom(c)
	if !ok {
		return
	}

	userID := c.MustGet(auth.ContextUserID).(int64)
	list, err := h.repo.ListByRoom(c.Request.Context(), room.ID, userID)
	if err != nil {
		h.logger.Error("list questions", zap.Error(err), zap.String("room_code", room.Code))
		response.Internal(c, "failed to list questions")
		return
	}
	response.OK(c, gin.H{"roomCode": room.Code, "questions": list})
}

// Remove handles DELETE /rooms/:code/questions/:id (room admin withdraws a question while the session is live).
func (h *Handler) Remove(c *gin.Context) {
	questionID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || questionID <= 0 {
		response.BadRequest(c, "invalid question id")
		return
	}
	room, ok := h.loadRoom(c)
	if !ok {
		return
	}
	if room.AdminID != c.MustGet(auth.ContextUserID).(int64) {
		response.Forbidden(c, "only the room admin can remove questions")
		return
	}
	if room.IsEnded {
		response.Conflict(c, "session has ended")
		return
	}

	q, err := h.repo.GetQuestion(c.Request.Context(), questionID)
	if errors.Is(err, models.ErrNotFound) || (err == nil && q.RoomID != room.ID) {
		response.NotFound(c, "question not found")
		return
	}
	if err != nil {
		h.logger.Error("load question", zap.Error(err), zap.Int64("question_id", questionID))
		response.Internal(c, "failed to load question")
		return
	}
	if err := h.repo.DeleteQuestion(c.Request.Context(), q.ID); err != nil {
		if errors.Is(err, models.ErrNotFound) {
			response.NotFound(c, "question not found")
			return
		}
		h.logger.Error("remove question", zap.Error(err), zap.Int64("question_id", q.ID))
		response.Internal(c, "failed to remove question")
		return
	}

	if err := h.notifier.QuestionRemoved(c.Request.Context(), room.Code, q.ID); err != nil {
		h.logger.Warn("broadcast question removal", zap.Error(err), zap.Int64("question_id", q.ID))
	}
	h.logger.Info("question removed", zap.String("room_code", room.Code), zap.Int64("question_id", q.ID))
	response.OK(c, gin.H{"id": q.ID, "roomCode": room.Code, "removed": true})
}

func (h *Handler) loadRoom(c *gin.Context) (*models.Room, bool) {
	code := strings.ToUpper(strings.TrimSpace(c.Param("code")))
	room, err := h.rooms.FindRoomByCode(c.Request.Context(), code)
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
