package realtime

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/liveqa/backend/internal/models"
)

const (
	sessionEndedMessage = "The host has ended this session"
	sideEffectTimeout   = 5 * time.Second
)

// errStopped is returned by exec once the event loop has exited.
var errStopped = errors.New("coordinator stopped")

// Coordinator drives room sessions. Every registry mutation, group change and broadcast runs on a
// single event loop goroutine, one section at a time, in submission order. Store calls run on the
// caller's goroutine before a section is submitted, so a slow store only delays its own action.
// State that can change while a store call is in flight (ended rooms) is re-checked on the loop.
type Coordinator struct {
	stores   Stores
	presence *Presence
	hub      *Hub
	logger   *zap.Logger

	ops  chan func()
	done chan struct{}

	// ended is owned by the event loop.
	ended map[string]struct{}

	attendance     *attendanceLog
	onSessionEnded SessionEndedHandler
	now            func() time.Time
}

// NewCoordinator creates a coordinator that owns a fresh presence registry.
func NewCoordinator(stores Stores, hub *Hub, logger *zap.Logger) *Coordinator {
	return &Coordinator{
		stores:     stores,
		presence:   NewPresence(),
		hub:        hub,
		logger:     logger,
		ops:        make(chan func()),
		done:       make(chan struct{}),
		ended:      make(map[string]struct{}),
		attendance: newAttendanceLog(logger),
		now:        time.Now,
	}
}

// SetAttendanceRecorder sets where join/leave spans are persisted.
func (c *Coordinator) SetAttendanceRecorder(r AttendanceRecorder) {
	c.attendance.setRecorder(r)
}

// SetSessionEndedHandler sets the callback fired after a session ends. Call before Run.
func (c *Coordinator) SetSessionEndedHandler(fn SessionEndedHandler) {
	c.onSessionEnded = fn
}

// Run processes loop sections until ctx is done.
func (c *Coordinator) Run(ctx context.Context) {
	defer close(c.done)
	go c.attendance.run(ctx)
	c.logger.Info("session coordinator started")
	for {
		select {
		case <-ctx.Done():
			c.logger.Info("session coordinator stopped")
			return
		case op := <-c.ops:
			op()
		}
	}
}

// exec runs fn on the event loop and waits for it to finish.
func (c *Coordinator) exec(ctx context.Context, fn func()) (err error) {
	finished := make(chan struct{})
	var panicked interface{}
	op := func() {
		defer close(finished)
		defer func() { panicked = recover() }()
		fn()
	}
	select {
	case c.ops <- op:
	case <-c.done:
		return errStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	// An accepted section always runs to completion.
	<-finished
	if panicked != nil {
		return fmt.Errorf("loop section panicked: %v", panicked)
	}
	return nil
}

// Participants returns the live roster of a room.
func (c *Coordinator) Participants(roomCode string) []Participant {
	return c.presence.Participants(normalizeCode(roomCode))
}

// ParticipantCount returns the live membership size of a room.
func (c *Coordinator) ParticipantCount(roomCode string) int {
	return c.presence.Count(normalizeCode(roomCode))
}

// Connect makes a freshly authenticated connection addressable.
func (c *Coordinator) Connect(conn Conn) {
	c.hub.Register(conn)
	c.logger.Debug("connection opened", zap.String("conn_id", conn.ID()), zap.Int64("user_id", conn.UserID()))
}

// Handle decodes and runs one inbound message for conn. It always answers the invoker with exactly
// one outcome, and never lets a failure escape to the transport.
func (c *Coordinator) Handle(ctx context.Context, conn Conn, msg Message) {
	action, err := DecodeAction(msg)
	if err != nil {
		c.reject(conn, msg.Event, asActionError(err))
		return
	}

	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("action handler panicked",
				zap.String("event", action.Name()), zap.String("conn_id", conn.ID()),
				zap.Any("panic", r), zap.Stack("stack"))
			c.reject(conn, action.Name(), errInternal(fmt.Errorf("panic: %v", r)))
		}
	}()

	if claimed := action.ClaimedUserID(); claimed != 0 && claimed != conn.UserID() {
		c.reject(conn, action.Name(), errUnauthorized("userId does not match the authenticated user"))
		return
	}

	var aerr *ActionError
	switch a := action.(type) {
	case *JoinRoom:
		aerr = c.join(ctx, conn, a)
	case *LeaveRoom:
		aerr = c.leave(ctx, conn, a)
	case *PostQuestion:
		aerr = c.postQuestion(ctx, conn, a)
	case *CastVote:
		aerr = c.vote(ctx, conn, a)
	case *EndSession:
		aerr = c.endSession(ctx, conn, a)
	}
	if aerr != nil {
		c.reject(conn, action.Name(), aerr)
	}
}

// Disconnect removes conn from every room it was present in and tells the remaining members.
// It cannot be rejected.
func (c *Coordinator) Disconnect(conn Conn) {
	var removals []Removal
	err := c.exec(context.Background(), func() {
		removals = c.presence.RemoveConnection(conn.ID())
		c.hub.Unregister(conn)
		for _, r := range removals {
			c.hub.BroadcastToRoom(r.RoomCode, EventUserLeft, userLeft(r.RoomCode, r.Participant, r.Remaining))
			c.recordLeave(r.RoomCode, r.Participant.UserID)
		}
	})
	if err != nil {
		c.logger.Warn("disconnect cleanup skipped", zap.String("conn_id", conn.ID()), zap.Error(err))
		return
	}
	c.logger.Debug("connection closed", zap.String("conn_id", conn.ID()), zap.Int("rooms_left", len(removals)))
}

func (c *Coordinator) join(ctx context.Context, conn Conn, a *JoinRoom) *ActionError {
	room, aerr := c.openRoom(ctx, a.RoomCode)
	if aerr != nil {
		return aerr
	}
	user, aerr := c.findUser(ctx, conn.UserID())
	if aerr != nil {
		return aerr
	}

	var result *ActionError
	err := c.exec(ctx, func() {
		if c.isEnded(room.Code) {
			result = errRoomInactive("room is not active")
			return
		}
		participant := Participant{
			UserID:       user.ID,
			FirstName:    user.FirstName,
			LastName:     user.LastName,
			AvatarURL:    user.AvatarURL,
			ConnectionID: conn.ID(),
			JoinedAt:     c.now().UTC(),
		}
		replaced, size, list := c.presence.Upsert(room.Code, participant)
		if replaced != nil && replaced.ConnectionID != conn.ID() {
			c.hub.LeaveByID(room.Code, replaced.ConnectionID)
		}
		c.hub.Join(room.Code, conn)
		c.hub.SendToConnection(conn.ID(), EventJoinRoomSuccess, JoinRoomSuccessPayload{
			RoomCode:         room.Code,
			Room:             room,
			Participants:     list,
			ParticipantCount: size,
		})
		c.hub.BroadcastToRoom(room.Code, EventUserJoined, UserJoinedPayload{
			RoomCode:         room.Code,
			Participant:      participant,
			Participants:     list,
			ParticipantCount: size,
		})
		// A replaced entry keeps its attendance span open.
		if replaced == nil {
			c.recordJoin(room.Code, user.ID)
		}
	})
	if err != nil {
		return errInternal(err)
	}
	if result != nil {
		return result
	}
	c.logger.Info("participant joined",
		zap.String("room_code", room.Code), zap.Int64("user_id", user.ID), zap.String("conn_id", conn.ID()))
	return nil
}

func (c *Coordinator) leave(ctx context.Context, conn Conn, a *LeaveRoom) *ActionError {
	var removed *Participant
	err := c.exec(ctx, func() {
		c.hub.Leave(a.RoomCode, conn)
		var size int
		removed, size = c.presence.Remove(a.RoomCode, conn.ID(), conn.UserID())
		if removed != nil && removed.ConnectionID != conn.ID() {
			c.hub.LeaveByID(a.RoomCode, removed.ConnectionID)
		}
		c.hub.SendToConnection(conn.ID(), EventLeaveRoomSuccess, LeaveRoomSuccessPayload{
			RoomCode:         a.RoomCode,
			ParticipantCount: size,
		})
		if removed != nil {
			c.hub.BroadcastToRoom(a.RoomCode, EventUserLeft, userLeft(a.RoomCode, *removed, c.presence.Participants(a.RoomCode)))
			c.recordLeave(a.RoomCode, removed.UserID)
		}
	})
	if err != nil {
		return errInternal(err)
	}
	if removed != nil {
		c.logger.Info("participant left", zap.String("room_code", a.RoomCode), zap.Int64("user_id", removed.UserID))
	}
	return nil
}

func (c *Coordinator) postQuestion(ctx context.Context, conn Conn, a *PostQuestion) *ActionError {
	room, aerr := c.openRoom(ctx, a.RoomCode)
	if aerr != nil {
		return aerr
	}
	if aerr := c.ensureLive(ctx, room.Code); aerr != nil {
		return aerr
	}
	question, err := c.stores.Questions.CreateQuestion(ctx, a.Content, room.ID, conn.UserID())
	if err != nil {
		return c.storeFailure("failed to create question", err, zap.String("room_code", room.Code))
	}

	var result *ActionError
	err = c.exec(ctx, func() {
		if c.isEnded(room.Code) {
			result = errRoomInactive("room is not active")
			return
		}
		c.deliver(room.Code, conn, EventNewMessage, question)
	})
	if err != nil {
		return errInternal(err)
	}
	if result != nil {
		// The session ended while the row was being written.
		c.discardQuestion(room.Code, question.ID)
	}
	return result
}

func (c *Coordinator) vote(ctx context.Context, conn Conn, a *CastVote) *ActionError {
	room, aerr := c.openRoom(ctx, a.RoomCode)
	if aerr != nil {
		return aerr
	}
	question, err := c.stores.Questions.GetQuestion(ctx, a.QuestionID)
	switch {
	case errors.Is(err, models.ErrNotFound):
		return errQuestionNotFound()
	case err != nil:
		return c.storeFailure("failed to process vote", err, zap.Int64("question_id", a.QuestionID))
	case question.RoomID != room.ID:
		return errQuestionNotFound()
	}
	user, aerr := c.findUser(ctx, conn.UserID())
	if aerr != nil {
		return aerr
	}
	if aerr := c.ensureLive(ctx, room.Code); aerr != nil {
		return aerr
	}

	action, err := c.stores.Votes.ToggleVote(ctx, question.ID, user.ID)
	if err != nil {
		return c.storeFailure("failed to process vote", err, zap.Int64("question_id", question.ID))
	}
	count, err := c.stores.Votes.GetVoteCount(ctx, question.ID)
	if err != nil {
		return c.storeFailure("failed to process vote", err, zap.Int64("question_id", question.ID))
	}
	hasVoted, err := c.stores.Votes.HasUserVoted(ctx, question.ID, user.ID)
	if err != nil {
		return c.storeFailure("failed to process vote", err, zap.Int64("question_id", question.ID))
	}

	var result *ActionError
	err = c.exec(ctx, func() {
		if c.isEnded(room.Code) {
			result = errRoomInactive("room is not active")
			return
		}
		c.deliver(room.Code, conn, EventVoteUpdated, VoteUpdatedPayload{
			QuestionID: question.ID,
			RoomCode:   room.Code,
			UserID:     user.ID,
			VoteCount:  count,
			HasVoted:   hasVoted,
			Action:     action,
		})
	})
	if err != nil {
		return errInternal(err)
	}
	if result != nil {
		c.revertVote(room.Code, question.ID, user.ID)
	}
	return result
}

func (c *Coordinator) endSession(ctx context.Context, conn Conn, a *EndSession) *ActionError {
	room, err := c.stores.Rooms.FindRoomByCode(ctx, a.RoomCode)
	if errors.Is(err, models.ErrNotFound) {
		return errRoomNotFound()
	}
	if err != nil {
		return c.storeFailure("failed to end session", err, zap.String("room_code", a.RoomCode))
	}
	user, aerr := c.findUser(ctx, conn.UserID())
	if aerr != nil {
		return aerr
	}
	if user.ID != room.AdminID {
		return errUnauthorized("only the room admin can end the session")
	}
	if room.IsEnded {
		return errRoomInactive("session has already ended")
	}

	ended, err := c.stores.Rooms.EndRoom(ctx, room.ID)
	if err != nil {
		return c.storeFailure("failed to end session", err, zap.String("room_code", room.Code))
	}
	endedAt := c.now().UTC()
	if ended.EndedAt != nil {
		endedAt = *ended.EndedAt
	}

	var (
		result  *ActionError
		cleared []Participant
	)
	err = c.exec(ctx, func() {
		if c.isEnded(room.Code) {
			result = errRoomInactive("session has already ended")
			return
		}
		c.ended[room.Code] = struct{}{}
		c.deliver(room.Code, conn, EventSessionEnded, SessionEndedPayload{
			RoomCode: room.Code,
			EndedBy:  user.ToAuthor(),
			Message:  sessionEndedMessage,
			EndedAt:  endedAt,
		})
		cleared = c.presence.Clear(room.Code)
		c.hub.CloseRoom(room.Code)
		for _, p := range cleared {
			c.recordLeave(room.Code, p.UserID)
		}
	})
	if err != nil {
		return errInternal(err)
	}
	if result != nil {
		return result
	}

	c.logger.Info("session ended",
		zap.String("room_code", room.Code), zap.Int64("ended_by", user.ID), zap.Int("participants", len(cleared)))
	if c.onSessionEnded != nil {
		go c.onSessionEnded(ended, user.ID, endedAt)
	}
	return nil
}

// deliver broadcasts to the room and makes sure the invoker sees the outcome even when it is
// not grouped under the room.
func (c *Coordinator) deliver(room string, conn Conn, event string, payload interface{}) {
	c.hub.BroadcastToRoom(room, event, payload)
	if !c.hub.InRoom(room, conn.ID()) {
		c.hub.SendToConnection(conn.ID(), event, payload)
	}
}

// QuestionRemoved tells the members of a room that a question was withdrawn.
func (c *Coordinator) QuestionRemoved(ctx context.Context, roomCode string, questionID int64) error {
	code := normalizeCode(roomCode)
	return c.exec(ctx, func() {
		c.hub.BroadcastToRoom(code, EventQuestionRemoved, QuestionRemovedPayload{RoomCode: code, QuestionID: questionID})
	})
}

// RoomUpdated tells the members of a room that its details changed.
func (c *Coordinator) RoomUpdated(ctx context.Context, room *models.Room) error {
	return c.exec(ctx, func() {
		c.hub.BroadcastToRoom(room.Code, EventRoomUpdated, RoomUpdatedPayload{RoomCode: room.Code, Room: room})
	})
}

// ensureLive rejects writes to rooms this coordinator has already ended.
func (c *Coordinator) ensureLive(ctx context.Context, room string) *ActionError {
	var ended bool
	if err := c.exec(ctx, func() { ended = c.isEnded(room) }); err != nil {
		return errInternal(err)
	}
	if ended {
		return errRoomInactive("room is not active")
	}
	return nil
}

func (c *Coordinator) discardQuestion(room string, id int64) {
	ctx, cancel := context.WithTimeout(context.Background(), sideEffectTimeout)
	defer cancel()
	if err := c.stores.Questions.DeleteQuestion(ctx, id); err != nil {
		c.logger.Error("discard question after session end", zap.String("room_code", room), zap.Int64("question_id", id), zap.Error(err))
	}
}

// revertVote undoes a toggle that lost the race with the end of the session.
func (c *Coordinator) revertVote(room string, questionID, userID int64) {
	ctx, cancel := context.WithTimeout(context.Background(), sideEffectTimeout)
	defer cancel()
	if _, err := c.stores.Votes.ToggleVote(ctx, questionID, userID); err != nil {
		c.logger.Error("revert vote after session end",
			zap.String("room_code", room), zap.Int64("question_id", questionID), zap.Int64("user_id", userID), zap.Error(err))
	}
}

// isEnded must be called on the event loop.
func (c *Coordinator) isEnded(room string) bool {
	_, ok := c.ended[room]
	return ok
}

func (c *Coordinator) openRoom(ctx context.Context, code string) (*models.Room, *ActionError) {
	room, err := c.stores.Rooms.FindRoomByCode(ctx, code)
	if errors.Is(err, models.ErrNotFound) {
		return nil, errRoomNotFound()
	}
	if err != nil {
		return nil, c.storeFailure("failed to load room", err, zap.String("room_code", code))
	}
	if !room.Open() {
		return nil, errRoomInactive("room is not active")
	}
	return room, nil
}

func (c *Coordinator) findUser(ctx context.Context, id int64) (*models.User, *ActionError) {
	user, err := c.stores.Users.FindUser(ctx, id)
	if errors.Is(err, models.ErrNotFound) {
		return nil, errUserNotFound()
	}
	if err != nil {
		return nil, c.storeFailure("failed to load user", err, zap.Int64("user_id", id))
	}
	return user, nil
}

func (c *Coordinator) storeFailure(msg string, err error, fields ...zap.Field) *ActionError {
	c.logger.Error(msg, append(fields, zap.Error(err))...)
	return errStore(msg, err)
}

func (c *Coordinator) reject(conn Conn, action string, aerr *ActionError) {
	c.logger.Debug("action rejected",
		zap.String("event", action), zap.String("conn_id", conn.ID()),
		zap.String("code", aerr.Code), zap.Error(aerr))
	c.hub.SendToConnection(conn.ID(), errorEventFor(action), aerr.Payload())
}

// recordJoin and recordLeave run on the event loop so writes reach the store in loop order.
func (c *Coordinator) recordJoin(room string, userID int64) {
	c.attendance.push(attendanceWrite{join: true, room: room, userID: userID})
}

func (c *Coordinator) recordLeave(room string, userID int64) {
	c.attendance.push(attendanceWrite{room: room, userID: userID})
}

func userLeft(room string, p Participant, remaining []Participant) UserLeftPayload {
	return UserLeftPayload{
		RoomCode:         room,
		UserID:           p.UserID,
		Participant:      p,
		Participants:     remaining,
		ParticipantCount: len(remaining),
	}
}

func asActionError(err error) *ActionError {
	var aerr *ActionError
	if errors.As(err, &aerr) {
		return aerr
	}
	return errInternal(err)
}
