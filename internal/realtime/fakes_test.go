package realtime

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/liveqa/backend/internal/models"
)

type fakeConn struct {
	id     string
	userID int64

	mu     sync.Mutex
	msgs   []Message
	reject bool
}

func newFakeConn(id string, userID int64) *fakeConn {
	return &fakeConn{id: id, userID: userID}
}

func (c *fakeConn) ID() string    { return c.id }
func (c *fakeConn) UserID() int64 { return c.userID }

func (c *fakeConn) Send(m Message) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.reject {
		return false
	}
	c.msgs = append(c.msgs, m)
	return true
}

func (c *fakeConn) events() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.msgs))
	for i, m := range c.msgs {
		out[i] = m.Event
	}
	return out
}

func (c *fakeConn) count(event string) int {
	n := 0
	for _, e := range c.events() {
		if e == event {
			n++
		}
	}
	return n
}

// last decodes the most recent message with the given event into v.
func (c *fakeConn) last(t *testing.T, event string, v interface{}) {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := len(c.msgs) - 1; i >= 0; i-- {
		if c.msgs[i].Event == event {
			require.NoError(t, json.Unmarshal(c.msgs[i].Data, v))
			return
		}
	}
	t.Fatalf("no %q event on %s, got %v", event, c.id, c.eventsLocked())
}

func (c *fakeConn) eventsLocked() []string {
	out := make([]string, len(c.msgs))
	for i, m := range c.msgs {
		out[i] = m.Event
	}
	return out
}

func (c *fakeConn) reset() {
	c.mu.Lock()
	c.msgs = nil
	c.mu.Unlock()
}

// memStore is an in-memory implementation of every store the coordinator consumes.
type memStore struct {
	mu        sync.Mutex
	users     map[int64]*models.User
	rooms     map[string]*models.Room
	questions map[int64]*models.Question
	votes     map[int64]map[int64]bool
	nextQID   int64

	roomErr   error
	createErr error
	endErr    error
	panicOn   string
}

func newMemStore() *memStore {
	return &memStore{
		users:     make(map[int64]*models.User),
		rooms:     make(map[string]*models.Room),
		questions: make(map[int64]*models.Question),
		votes:     make(map[int64]map[int64]bool),
	}
}

func (s *memStore) addUser(id int64, first, last string) {
	s.users[id] = &models.User{ID: id, FirstName: first, LastName: last, Email: first + "@example.com"}
}

func (s *memStore) addRoom(id int64, code string, adminID int64) {
	s.rooms[code] = &models.Room{ID: id, Code: code, Title: "Room " + code, IsActive: true, AdminID: adminID}
}

func (s *memStore) FindUser(_ context.Context, id int64) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (s *memStore) FindRoomByCode(_ context.Context, code string) (*models.Room, error) {
	if s.panicOn == "FindRoomByCode" {
		panic("room lookup exploded")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.roomErr != nil {
		return nil, s.roomErr
	}
	r, ok := s.rooms[code]
	if !ok {
		return nil, models.ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (s *memStore) EndRoom(_ context.Context, id int64) (*models.Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.endErr != nil {
		return nil, s.endErr
	}
	for _, r := range s.rooms {
		if r.ID == id {
			now := time.Now().UTC()
			r.IsActive = false
			r.IsEnded = true
			r.EndedAt = &now
			cp := *r
			return &cp, nil
		}
	}
	return nil, models.ErrNotFound
}

func (s *memStore) CreateQuestion(_ context.Context, content string, roomID, userID int64) (*models.Question, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.createErr != nil {
		return nil, s.createErr
	}
	u, ok := s.users[userID]
	if !ok {
		return nil, models.ErrNotFound
	}
	s.nextQID++
	q := &models.Question{
		ID:        s.nextQID,
		Content:   content,
		RoomID:    roomID,
		UserID:    userID,
		User:      u.ToAuthor(),
		CreatedAt: time.Now().UTC(),
	}
	s.questions[q.ID] = q
	cp := *q
	return &cp, nil
}

func (s *memStore) GetQuestion(_ context.Context, id int64) (*models.Question, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	q, ok := s.questions[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	cp := *q
	cp.VoteCount = len(s.votes[id])
	return &cp, nil
}

func (s *memStore) DeleteQuestion(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.questions[id]; !ok {
		return models.ErrNotFound
	}
	delete(s.questions, id)
	return nil
}

func (s *memStore) liveQuestions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.questions)
}

func (s *memStore) ToggleVote(_ context.Context, questionID, userID int64) (models.VoteAction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	set, ok := s.votes[questionID]
	if !ok {
		set = make(map[int64]bool)
		s.votes[questionID] = set
	}
	if set[userID] {
		delete(set, userID)
		return models.VoteRemoved, nil
	}
	set[userID] = true
	return models.VoteAdded, nil
}

func (s *memStore) GetVoteCount(_ context.Context, questionID int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.votes[questionID]), nil
}

func (s *memStore) HasUserVoted(_ context.Context, questionID, userID int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.votes[questionID][userID], nil
}

func (s *memStore) stores() Stores {
	return Stores{Users: s, Rooms: s, Questions: s, Votes: s}
}

// interleavingStore runs before once, just ahead of the next write, and counts writes.
type interleavingStore struct {
	*memStore
	before  func()
	creates int
	toggles int
}

func (s *interleavingStore) hook() {
	if fn := s.before; fn != nil {
		s.before = nil
		fn()
	}
}

func (s *interleavingStore) CreateQuestion(ctx context.Context, content string, roomID, userID int64) (*models.Question, error) {
	s.creates++
	s.hook()
	return s.memStore.CreateQuestion(ctx, content, roomID, userID)
}

func (s *interleavingStore) ToggleVote(ctx context.Context, questionID, userID int64) (models.VoteAction, error) {
	s.toggles++
	s.hook()
	return s.memStore.ToggleVote(ctx, questionID, userID)
}

type mockVotes struct {
	mock.Mock
}

func (m *mockVotes) ToggleVote(ctx context.Context, questionID, userID int64) (models.VoteAction, error) {
	args := m.Called(ctx, questionID, userID)
	return args.Get(0).(models.VoteAction), args.Error(1)
}

func (m *mockVotes) GetVoteCount(ctx context.Context, questionID int64) (int, error) {
	args := m.Called(ctx, questionID)
	return args.Int(0), args.Error(1)
}

func (m *mockVotes) HasUserVoted(ctx context.Context, questionID, userID int64) (bool, error) {
	args := m.Called(ctx, questionID, userID)
	return args.Bool(0), args.Error(1)
}

type attendanceCall struct {
	kind   string
	room   string
	userID int64
}

type recordingAttendance struct {
	mu    sync.Mutex
	calls []attendanceCall
}

func (r *recordingAttendance) RecordJoin(_ context.Context, room string, userID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, attendanceCall{"join", room, userID})
	return nil
}

func (r *recordingAttendance) RecordLeave(_ context.Context, room string, userID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, attendanceCall{"leave", room, userID})
	return nil
}

func (r *recordingAttendance) snapshot() []attendanceCall {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]attendanceCall(nil), r.calls...)
}

// startCoordinator runs a coordinator over stores until the test ends.
func startCoordinator(t *testing.T, stores Stores) *Coordinator {
	t.Helper()
	logger := zaptest.NewLogger(t)
	coord := NewCoordinator(stores, NewHub(logger), logger)
	ctx, cancel := context.WithCancel(context.Background())
	go coord.Run(ctx)
	t.Cleanup(func() {
		cancel()
		<-coord.done
	})
	return coord
}

func send(t *testing.T, coord *Coordinator, conn *fakeConn, event string, payload interface{}) {
	t.Helper()
	data, err := json.Marshal(payload)
	require.NoError(t, err)
	coord.Handle(context.Background(), conn, Message{Event: event, Data: data})
}
