package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/liveqa/backend/internal/models"
)

type memUsers struct {
	byID map[int64]*models.User
	next int64
}

func newMemUsers() *memUsers { return &memUsers{byID: map[int64]*models.User{}} }

func (m *memUsers) FindUser(_ context.Context, id int64) (*models.User, error) {
	if u, ok := m.byID[id]; ok {
		return u, nil
	}
	return nil, models.ErrNotFound
}

func (m *memUsers) GetByEmail(_ context.Context, email string) (*models.User, error) {
	for _, u := range m.byID {
		if u.Email == email {
			return u, nil
		}
	}
	return nil, models.ErrNotFound
}

func (m *memUsers) Create(_ context.Context, p CreateUserParams) (*models.User, error) {
	m.next++
	u := &models.User{ID: m.next, Email: p.Email, Password: p.PasswordHash, FirstName: p.FirstName, LastName: p.LastName}
	m.byID[u.ID] = u
	return u, nil
}

func newTestRouter(repo UserRepository, jwt *JWTService) *gin.Engine {
	gin.SetMode(gin.TestMode)
	h := NewHandler(repo, jwt, zap.NewNop())
	r := gin.New()
	r.POST("/auth/register", h.Register)
	r.POST("/auth/login", h.Login)
	r.GET("/auth/me", func(c *gin.Context) { c.Set(ContextUserID, int64(1)); h.Me(c) })
	return r
}

func doJSON(r http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	raw, _ := json.Marshal(body)
	req := httptest.NewRequest(method, path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestRegisterThenLogin(t *testing.T) {
	jwt := NewJWTService("secret", 1)
	r := newTestRouter(newMemUsers(), jwt)

	w := doJSON(r, http.MethodPost, "/auth/register", RegisterRequest{
		Email: "Ada@Example.com", Password: "secret1", FirstName: "Ada", LastName: "Lovelace",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var created struct {
		Data TokenResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	assert.Equal(t, "ada@example.com", created.Data.User.Email)
	userID, err := jwt.Authenticate(created.Data.Token)
	require.NoError(t, err)
	assert.Equal(t, created.Data.User.ID, userID)

	w = doJSON(r, http.MethodPost, "/auth/login", LoginRequest{Email: "ada@example.com", Password: "secret1"})
	assert.Equal(t, http.StatusOK, w.Code)

	w = doJSON(r, http.MethodPost, "/auth/login", LoginRequest{Email: "ada@example.com", Password: "wrong!"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRegister_DuplicateEmail(t *testing.T) {
	r := newTestRouter(newMemUsers(), NewJWTService("secret", 1))
	req := RegisterRequest{Email: "a@b.co", Password: "secret1", FirstName: "A", LastName: "B"}

	require.Equal(t, http.StatusCreated, doJSON(r, http.MethodPost, "/auth/register", req).Code)
	assert.Equal(t, http.StatusConflict, doJSON(r, http.MethodPost, "/auth/register", req).Code)
}

func TestRegister_Validation(t *testing.T) {
	r := newTestRouter(newMemUsers(), NewJWTService("secret", 1))
	w := doJSON(r, http.MethodPost, "/auth/register", RegisterRequest{Email: "nope", Password: "1"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestMe_NotFound(t *testing.T) {
	r := newTestRouter(newMemUsers(), NewJWTService("secret", 1))
	req := httptest.NewRequest(http.MethodGet, "/auth/me", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
