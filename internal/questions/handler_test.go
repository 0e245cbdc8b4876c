package questions

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/liveqa/backend/internal/auth"
	"github.com/liveqa/backend/internal/models"
)

type oneRoom struct{ room *models.Room }

func (o oneRoom) FindRoomByCode(_ context.Context, code string) (*models.Room, error) {
	if o.room != nil && o.room.Code == code {
		return o.room, nil
	}
	return nil, models.ErrNotFound
}

type mockStore struct {
	mock.Mock
}

func (m *mockStore) ListByRoom(ctx context.Context, roomID, viewerID int64) ([]models.Question, error) {
	args := m.Called(ctx, roomID, viewerID)
	list, _ := args.Get(0).([]models.Question)
	return list, args.Error(1)
}

func (m *mockStore) GetQuestion(ctx context.Context, id int64) (*models.Question, error) {
	args := m.Called(ctx, id)
	q, _ := args.Get(0).(*models.Question)
	return q, args.Error(1)
}

func (m *mockStore) DeleteQuestion(ctx context.Context, id int64) error {
	return m.Called(ctx, id).Error(0)
}

type mockNotifier struct {
	mock.Mock
}

func (m *mockNotifier) QuestionRemoved(ctx context.Context, roomCode string, questionID int64) error {
	return m.Called(ctx, roomCode, questionID).Error(0)
}

func serveAs(h *Handler, userID int64, method, path string) *httptest.ResponseRecorder {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(func(c *gin.Context) { c.Set(auth.ContextUserID, userID) })
	r.GET("/rooms/:code/questions", h.ListByRoom)
	r.DELETE("/rooms/:code/questions/:id", h.Remove)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(method, path, nil))
	return w
}

func serve(h *Handler, path string) *httptest.ResponseRecorder {
	return serveAs(h, 5, http.MethodGet, path)
}

func TestListByRoom(t *testing.T) {
	voted := true
	lister := &mockStore{}
	lister.On("ListByRoom", mock.Anything, int64(10), int64(5)).Return([]models.Question{
		{ID: 2, Content: "Popular", VoteCount: 3, HasVoted: &voted},
		{ID: 1, Content: "Quiet"},
	}, nil)
	h := NewHandler(oneRoom{&models.Room{ID: 10, Code: "ABCD"}}, lister, &mockNotifier{}, zap.NewNop())

	w := serve(h, "/rooms/abcd/questions")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var body struct {
		Data struct {
			RoomCode  string            `json:"roomCode"`
			Questions []models.Question `json:"questions"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "ABCD", body.Data.RoomCode)
	require.Len(t, body.Data.Questions, 2)
	assert.Equal(t, int64(2), body.Data.Questions[0].ID)
	require.NotNil(t, body.Data.Questions[0].HasVoted)
	assert.True(t, *body.Data.Questions[0].HasVoted)
	lister.AssertExpectations(t)
}

func TestListByRoom_Failures(t *testing.T) {
	lister := &mockStore{}
	h := NewHandler(oneRoom{&models.Room{ID: 10, Code: "ABCD"}}, lister, &mockNotifier{}, zap.NewNop())

	assert.Equal(t, http.StatusNotFound, serve(h, "/rooms/NOPE/questions").Code)

	lister.On("ListByRoom", mock.Anything, int64(10), int64(5)).Return(nil, errors.New("db down"))
	assert.Equal(t, http.StatusInternalServerError, serve(h, "/rooms/ABCD/questions").Code)
}

func TestRemove(t *testing.T) {
	store := &mockStore{}
	notifier := &mockNotifier{}
	h := NewHandler(oneRoom{&models.Room{ID: 10, Code: "ABCD", AdminID: 1, IsActive: true}}, store, notifier, zap.NewNop())

	assert.Equal(t, http.StatusForbidden, serveAs(h, 5, http.MethodDelete, "/rooms/ABCD/questions/3").Code)
	assert.Equal(t, http.StatusBadRequest, serveAs(h, 1, http.MethodDelete, "/rooms/ABCD/questions/x").Code)
	assert.Equal(t, http.StatusNotFound, serveAs(h, 1, http.MethodDelete, "/rooms/NOPE/questions/3").Code)

	store.On("GetQuestion", mock.Anything, int64(4)).Return(&models.Question{ID: 4, RoomID: 99}, nil).Once()
	assert.Equal(t, http.StatusNotFound, serveAs(h, 1, http.MethodDelete, "/rooms/ABCD/questions/4").Code)

	store.On("GetQuestion", mock.Anything, int64(3)).Return(&models.Question{ID: 3, RoomID: 10}, nil).Once()
	store.On("DeleteQuestion", mock.Anything, int64(3)).Return(nil).Once()
	notifier.On("QuestionRemoved", mock.Anything, "ABCD", int64(3)).Return(nil).Once()
	w := serveAs(h, 1, http.MethodDelete, "/rooms/abcd/questions/3")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var body struct {
		Data struct {
			ID      int64 `json:"id"`
			Removed bool  `json:"removed"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, int64(3), body.Data.ID)
	assert.True(t, body.Data.Removed)

	store.On("GetQuestion", mock.Anything, int64(3)).Return(nil, models.ErrNotFound).Once()
	assert.Equal(t, http.StatusNotFound, serveAs(h, 1, http.MethodDelete, "/rooms/ABCD/questions/3").Code)

	store.AssertExpectations(t)
	notifier.AssertExpectations(t)
}

func TestRemove_EndedSession(t *testing.T) {
	store := &mockStore{}
	h := NewHandler(oneRoom{&models.Room{ID: 10, Code: "ABCD", AdminID: 1, IsEnded: true}}, store, &mockNotifier{}, zap.NewNop())

	assert.Equal(t, http.StatusConflict, serveAs(h, 1, http.MethodDelete, "/rooms/ABCD/questions/3").Code)
	store.AssertNotCalled(t, "DeleteQuestion", mock.Anything, mock.Anything)
}
