package archive

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/liveqa/backend/internal/models"
	"github.com/liveqa/backend/pkg/queue"
)

type memRooms struct {
	mu    sync.Mutex
	rooms map[string]*models.Room
}

func (m *memRooms) FindRoomByCode(_ context.Context, code string) (*models.Room, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rooms[code]
	if !ok {
		return nil, models.ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (m *memRooms) SetArchiveKey(_ context.Context, id int64, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.rooms {
		if r.ID == id {
			r.ArchiveKey = key
			return nil
		}
	}
	return models.ErrNotFound
}

type listQuestions []models.Question

func (l listQuestions) ListByRoom(context.Context, int64, int64) ([]models.Question, error) {
	return l, nil
}

type listAttendance []models.Attendance

func (l listAttendance) ListByRoom(context.Context, int64) ([]models.Attendance, error) {
	return l, nil
}

type memObjects struct {
	mu      sync.Mutex
	objects map[string][]byte
	err     error
}

func (m *memObjects) Upload(_ context.Context, key, contentType string, body io.Reader) error {
	if m.err != nil {
		return m.err
	}
	raw, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.objects == nil {
		m.objects = map[string][]byte{}
	}
	m.objects[key] = raw
	return nil
}

type mockQueue struct {
	mock.Mock
}

func (m *mockQueue) Dequeue(ctx context.Context) (*queue.Job, error) {
	args := m.Called(ctx)
	job, _ := args.Get(0).(*queue.Job)
	return job, args.Error(1)
}

func (m *mockQueue) Retry(ctx context.Context, job *queue.Job) error {
	return m.Called(ctx, job).Error(0)
}

func archiveJob(t *testing.T, roomID int64, code string) *queue.Job {
	t.Helper()
	job, err := queue.NewJob(queue.JobTypeSessionArchive, queue.SessionArchivePayload{
		RoomID: roomID, RoomCode: code, EndedBy: 1, EndedAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	})
	require.NoError(t, err)
	return job
}

func newFixture(t *testing.T) (*Processor, *memRooms, *memObjects) {
	rooms := &memRooms{rooms: map[string]*models.Room{
		"ABCD": {ID: 10, Code: "ABCD", Title: "Town hall", AdminID: 1, IsEnded: true},
	}}
	objects := &memObjects{}
	questions := listQuestions{
		{ID: 1, Content: "Why?", RoomID: 10, UserID: 2, VoteCount: 3, User: models.Author{ID: 2, FirstName: "Alan"}},
		{ID: 2, Content: "How?", RoomID: 10, UserID: 3, VoteCount: 1},
	}
	attendance := listAttendance{
		{UserID: 2, WatchSeconds: 120},
		{UserID: 2, WatchSeconds: 30},
		{UserID: 3, WatchSeconds: 60},
	}
	p := NewProcessor(rooms, questions, attendance, objects, &mockQueue{}, zaptest.NewLogger(t))
	p.backoff = time.Millisecond
	return p, rooms, objects
}

func TestProcess_UploadsTranscriptAndRecordsKey(t *testing.T) {
	p, rooms, objects := newFixture(t)

	require.NoError(t, p.Process(context.Background(), archiveJob(t, 10, "ABCD")))

	raw, ok := objects.objects["archives/ABCD/10.json"]
	require.True(t, ok)
	var tr Transcript
	require.NoError(t, json.Unmarshal(raw, &tr))
	assert.Equal(t, "ABCD", tr.Room.Code)
	assert.Equal(t, int64(1), tr.EndedBy)
	assert.Equal(t, 2, tr.Stats.QuestionCount)
	assert.Equal(t, 4, tr.Stats.VoteCount)
	assert.Equal(t, 2, tr.Stats.UniqueAttendees)
	assert.Equal(t, int64(210), tr.Stats.TotalWatchSeconds)
	assert.Equal(t, "archives/ABCD/10.json", rooms.rooms["ABCD"].ArchiveKey)

	// Already archived rooms are skipped.
	objects.err = errors.New("must not upload twice")
	assert.NoError(t, p.Process(context.Background(), archiveJob(t, 10, "ABCD")))
}

func TestProcess_Rejects(t *testing.T) {
	p, _, objects := newFixture(t)
	ctx := context.Background()

	assert.Error(t, p.Process(ctx, &queue.Job{Type: "other"}))
	assert.Error(t, p.Process(ctx, &queue.Job{Type: queue.JobTypeSessionArchive, Payload: json.RawMessage(`{`)}))
	assert.ErrorIs(t, p.Process(ctx, archiveJob(t, 10, "NOPE")), models.ErrNotFound)
	assert.Error(t, p.Process(ctx, archiveJob(t, 99, "ABCD")))

	objects.err = errors.New("bucket gone")
	assert.ErrorContains(t, p.Process(ctx, archiveJob(t, 10, "ABCD")), "bucket gone")
}

func TestRun_RetriesFailedJobs(t *testing.T) {
	p, _, _ := newFixture(t)
	q := &mockQueue{}
	p.queue = q
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bad := archiveJob(t, 10, "NOPE")
	q.On("Dequeue", mock.Anything).Return(bad, nil).Once()
	q.On("Retry", mock.Anything, bad).Return(nil).Once()
	q.On("Dequeue", mock.Anything).Return(nil, nil).Run(func(mock.Arguments) {
		cancel()
	})

	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop")
	}
	q.AssertExpectations(t)
}
