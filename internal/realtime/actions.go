package realtime

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Action is one validated inbound client action.
type Action interface {
	Name() string
	// ClaimedUserID is the userId carried in the payload, or 0 when absent.
	ClaimedUserID() int64
}

// JoinRoom asks to enter a room's membership set.
type JoinRoom struct {
	RoomCode string `json:"roomCode" validate:"required,alphanum,max=16"`
	UserID   int64  `json:"userId" validate:"gte=0"`
}

// LeaveRoom asks to leave a room.
type LeaveRoom struct {
	RoomCode string `json:"roomCode" validate:"required,alphanum,max=16"`
	UserID   int64  `json:"userId" validate:"gte=0"`
}

// PostQuestion asks a new question in a room.
type PostQuestion struct {
	Content  string `json:"content" validate:"required,max=1000"`
	RoomCode string `json:"roomCode" validate:"required,alphanum,max=16"`
	UserID   int64  `json:"userId" validate:"gte=0"`
}

// CastVote toggles the caller's vote on a question.
type CastVote struct {
	QuestionID int64  `json:"questionId" validate:"required,gt=0"`
	RoomCode   string `json:"roomCode" validate:"required,alphanum,max=16"`
	UserID     int64  `json:"userId" validate:"gte=0"`
}

// EndSession asks to end a room's session. Only the room admin may.
type EndSession struct {
	RoomCode string `json:"roomCode" validate:"required,alphanum,max=16"`
	UserID   int64  `json:"userId" validate:"gte=0"`
}

func (*JoinRoom) Name() string     { return EventJoinRoom }
func (*LeaveRoom) Name() string    { return EventLeaveRoom }
func (*PostQuestion) Name() string { return EventPostQuestion }
func (*CastVote) Name() string     { return EventVote }
func (*EndSession) Name() string   { return EventEndSession }

func (a *JoinRoom) ClaimedUserID() int64     { return a.UserID }
func (a *LeaveRoom) ClaimedUserID() int64    { return a.UserID }
func (a *PostQuestion) ClaimedUserID() int64 { return a.UserID }
func (a *CastVote) ClaimedUserID() int64     { return a.UserID }
func (a *EndSession) ClaimedUserID() int64   { return a.UserID }

var validate = validator.New()

// DecodeAction turns an envelope into a typed, validated action.
// Unknown events and malformed payloads are rejected here, before any handler runs.
func DecodeAction(msg Message) (Action, error) {
	var action Action
	switch msg.Event {
	case EventJoinRoom:
		action = &JoinRoom{}
	case EventLeaveRoom:
		action = &LeaveRoom{}
	case EventPostQuestion:
		action = &PostQuestion{}
	case EventVote:
		action = &CastVote{}
	case EventEndSession:
		action = &EndSession{}
	default:
		return nil, &ActionError{
			Code:     CodeUnknownEvent,
			Category: CategoryInvalid,
			Message:  fmt.Sprintf("unknown event %q", msg.Event),
		}
	}

	data := bytes.TrimSpace(msg.Data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil, errInvalid("missing payload", nil)
	}
	if err := json.Unmarshal(data, action); err != nil {
		return nil, errInvalid("malformed payload", err)
	}
	normalize(action)
	if err := validate.Struct(action); err != nil {
		return nil, errInvalid(describeValidation(err), err)
	}
	return action, nil
}

func normalize(a Action) {
	switch v := a.(type) {
	case *JoinRoom:
		v.RoomCode = normalizeCode(v.RoomCode)
	case *LeaveRoom:
		v.RoomCode = normalizeCode(v.RoomCode)
	case *PostQuestion:
		v.RoomCode = normalizeCode(v.RoomCode)
		v.Content = strings.TrimSpace(v.Content)
	case *CastVote:
		v.RoomCode = normalizeCode(v.RoomCode)
	case *EndSession:
		v.RoomCode = normalizeCode(v.RoomCode)
	}
}

func normalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

func describeValidation(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return "invalid payload"
	}
	fe := verrs[0]
	field := strings.ToLower(fe.Field()[:1]) + fe.Field()[1:]
	switch fe.Tag() {
	case "required":
		return field + " is required"
	case "max":
		return fmt.Sprintf("%s must be at most %s characters", field, fe.Param())
	case "alphanum":
		return field + " must be alphanumeric"
	default:
		return fmt.Sprintf("%s is invalid", field)
	}
}
