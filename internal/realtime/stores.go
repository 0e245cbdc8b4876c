package realtime

import (
	"context"
	"time"

	"github.com/liveqa/backend/internal/models"
)

// UserStore resolves users. Missing users yield models.ErrNotFound.
type UserStore interface {
	FindUser(ctx context.Context, id int64) (*models.User, error)
}

// RoomStore resolves rooms and persists the end of a session.
type RoomStore interface {
	FindRoomByCode(ctx context.Context, code string) (*models.Room, error)
	EndRoom(ctx context.Context, id int64) (*models.Room, error)
}

// QuestionStore creates questions and reads back their canonical form with author and vote count.
// DeleteQuestion soft-deletes a question so it disappears from every read.
type QuestionStore interface {
	CreateQuestion(ctx context.Context, content string, roomID, userID int64) (*models.Question, error)
	GetQuestion(ctx context.Context, id int64) (*models.Question, error)
	DeleteQuestion(ctx context.Context, id int64) error
}

// VoteStore toggles votes and answers aggregate queries.
type VoteStore interface {
	ToggleVote(ctx context.Context, questionID, userID int64) (models.VoteAction, error)
	GetVoteCount(ctx context.Context, questionID int64) (int, error)
	HasUserVoted(ctx context.Context, questionID, userID int64) (bool, error)
}

// Stores bundles the durable collaborators the coordinator consumes.
type Stores struct {
	Users     UserStore
	Rooms     RoomStore
	Questions QuestionStore
	Votes     VoteStore
}

// AttendanceRecorder persists join/leave spans. Calls happen off the event loop, one at a time.
type AttendanceRecorder interface {
	RecordJoin(ctx context.Context, roomCode string, userID int64) error
	RecordLeave(ctx context.Context, roomCode string, userID int64) error
}

// SessionEndedHandler is notified after a session has ended and its room was cleared.
type SessionEndedHandler func(room *models.Room, endedBy int64, endedAt time.Time)
