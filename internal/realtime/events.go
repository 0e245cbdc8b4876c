package realtime

import (
	"encoding/json"
	"time"

	"github.com/liveqa/backend/internal/models"
)

// Inbound action names.
const (
	EventJoinRoom     = "joinRoom"
	EventLeaveRoom    = "leaveRoom"
	EventPostQuestion = "postQuestion"
	EventVote         = "vote"
	EventEndSession   = "endSession"
)

// Outbound event names.
const (
	EventUserJoined       = "userJoined"
	EventUserLeft         = "userLeft"
	EventJoinRoomSuccess  = "joinRoomSuccess"
	EventJoinRoomError    = "joinRoomError"
	EventLeaveRoomSuccess = "leaveRoomSuccess"
	EventNewMessage       = "newMessage"
	EventMessageError     = "messageError"
	EventVoteUpdated      = "voteUpdated"
	EventVoteError        = "voteError"
	EventSessionEnded     = "sessionEnded"
	EventSessionEndError  = "sessionEndError"
	EventQuestionRemoved  = "questionRemoved"
	EventRoomUpdated      = "roomUpdated"
	EventError            = "error"
)

// Message is the WebSocket envelope used in both directions.
type Message struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// JoinRoomSuccessPayload is sent to the joining connection only.
type JoinRoomSuccessPayload struct {
	RoomCode         string        `json:"roomCode"`
	Room             *models.Room  `json:"room"`
	Participants     []Participant `json:"participants"`
	ParticipantCount int           `json:"participantCount"`
}

// UserJoinedPayload is broadcast to the room after a join.
type UserJoinedPayload struct {
	RoomCode         string        `json:"roomCode"`
	Participant      Participant   `json:"participant"`
	Participants     []Participant `json:"participants"`
	ParticipantCount int           `json:"participantCount"`
}

// UserLeftPayload is broadcast to the remaining members after a leave or disconnect.
type UserLeftPayload struct {
	RoomCode         string        `json:"roomCode"`
	UserID           int64         `json:"userId"`
	Participant      Participant   `json:"participant"`
	Participants     []Participant `json:"participants"`
	ParticipantCount int           `json:"participantCount"`
}

// LeaveRoomSuccessPayload acknowledges a leave, whether or not the user was present.
type LeaveRoomSuccessPayload struct {
	RoomCode         string `json:"roomCode"`
	ParticipantCount int    `json:"participantCount"`
}

// VoteUpdatedPayload is an authoritative snapshot of one question's votes after a toggle.
type VoteUpdatedPayload struct {
	QuestionID int64             `json:"questionId"`
	RoomCode   string            `json:"roomCode"`
	UserID     int64             `json:"userId"`
	VoteCount  int               `json:"voteCount"`
	HasVoted   bool              `json:"hasVoted"`
	Action     models.VoteAction `json:"action"`
}

// SessionEndedPayload is broadcast when the admin ends the session.
type SessionEndedPayload struct {
	RoomCode string        `json:"roomCode"`
	EndedBy  models.Author `json:"endedBy"`
	Message  string        `json:"message"`
	EndedAt  time.Time     `json:"endedAt"`
}

// QuestionRemovedPayload is broadcast when the admin withdraws a question.
type QuestionRemovedPayload struct {
	RoomCode   string `json:"roomCode"`
	QuestionID int64  `json:"questionId"`
}

// RoomUpdatedPayload is broadcast when the admin edits the room details.
type RoomUpdatedPayload struct {
	RoomCode string       `json:"roomCode"`
	Room     *models.Room `json:"room"`
}

// ErrorPayload is the body of every *Error event.
type ErrorPayload struct {
	Code     string   `json:"code"`
	Category Category `json:"category"`
	Message  string   `json:"message"`
}

// errorEventFor maps an inbound action name to the event its failures are reported on.
func errorEventFor(action string) string {
	switch action {
	case EventJoinRoom:
		return EventJoinRoomError
	case EventPostQuestion:
		return EventMessageError
	case EventVote:
		return EventVoteError
	case EventEndSession:
		return EventSessionEndError
	default:
		return EventError
	}
}
