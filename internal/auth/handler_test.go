package auth

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/sitestock/sitestock/internal/shared"
)

type fakeRepo struct {
	user     *User
	sessions map[string]int64
}

func (f *fakeRepo) FindByEmail(_ context.Context, email string) (*User, error) {
	if f.user != nil && f.user.Email == email {
		return f.user, nil
	}
	return nil, shared.ErrNotFound
}

func (f *fakeRepo) CreateSession(_ context.Context, id string, userID int64, _ time.Time, _, _ string) error {
	if f.sessions == nil {
		f.sessions = map[string]int64{}
	}
	f.sessions[id] = userID
	return nil
}

func (f *fakeRepo) DeleteSession(_ context.Context, id string) error {
	delete(f.sessions, id)
	return nil
}

func newTestSessionManager(t *testing.T) *shared.SessionManager {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return shared.NewSessionManager(client, "sid", "test-secret", time.Hour, false)
}

func TestHandleLoginSuccess(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("correct-horse"), bcrypt.MinCost)
	require.NoError(t, err)

	repo := &fakeRepo{user: &User{
		ID:           7,
		Email:        "keeper@example.com",
		Name:         "Store Keeper",
		Role:         RoleBackoffice,
		PasswordHash: string(hash),
		IsActive:     true,
	}}
	sessions := newTestSessionManager(t)
	handler := NewHandler(slog.New(slog.NewTextHandler(testWriter{t}, nil)), NewService(repo), sessions)

	req := httptest.NewRequest(http.MethodPost, "/auth/login",
		strings.NewReader(`{"email":"keeper@example.com","password":"correct-horse"}`))
	sess, err := sessions.Load(req.Context(), req)
	require.NoError(t, err)
	req = req.WithContext(shared.ContextWithSession(req.Context(), sess))

	rr := httptest.NewRecorder()
	handler.handleLogin(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	require.Contains(t, rr.Body.String(), `"role":"backoffice"`)
	require.Equal(t, "7", sess.User())
	require.Equal(t, RoleBackoffice, sess.Get(SessionRoleKey))
	require.Contains(t, repo.sessions, sess.ID)
}

func TestHandleLoginRejectsBadPassword(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("correct-horse"), bcrypt.MinCost)
	require.NoError(t, err)

	repo := &fakeRepo{user: &User{
		ID:           7,
		Email:        "keeper@example.com",
		Role:         RoleBackoffice,
		PasswordHash: string(hash),
		IsActive:     true,
	}}
	sessions := newTestSessionManager(t)
	handler := NewHandler(slog.New(slog.NewTextHandler(testWriter{t}, nil)), NewService(repo), sessions)

	req := httptest.NewRequest(http.MethodPost, "/auth/login",
		strings.NewReader(`{"email":"keeper@example.com","password":"wrong-password"}`))
	sess, err := sessions.Load(req.Context(), req)
	require.NoError(t, err)
	req = req.WithContext(shared.ContextWithSession(req.Context(), sess))

	rr := httptest.NewRecorder()
	handler.handleLogin(rr, req)

	require.Equal(t, http.StatusUnauthorized, rr.Code)
	require.Empty(t, sess.User())
}

func TestAuthenticateCollapsesFailureModes(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("correct-horse"), bcrypt.MinCost)
	require.NoError(t, err)

	svc := NewService(&fakeRepo{user: &User{
		ID:           7,
		Email:        "keeper@example.com",
		PasswordHash: string(hash),
		IsActive:     false,
	}})

	// Unknown email and a deactivated account both read as invalid
	// credentials; the response never distinguishes them.
	_, err = svc.Authenticate(context.Background(), "nobody@example.com", "correct-horse")
	require.ErrorIs(t, err, shared.ErrInvalidCredentials)

	_, err = svc.Authenticate(context.Background(), "keeper@example.com", "correct-horse")
	require.ErrorIs(t, err, shared.ErrInvalidCredentials)
}

func TestRequireRoleBlocksViewerOnMutations(t *testing.T) {
	sessions := newTestSessionManager(t)
	req := httptest.NewRequest(http.MethodPost, "/api/projects", nil)
	sess, err := sessions.Load(req.Context(), req)
	require.NoError(t, err)
	sess.SetUser("3")
	sess.Set(SessionRoleKey, RoleViewer)
	req = req.WithContext(shared.ContextWithSession(req.Context(), sess))

	var reached bool
	handler := RequireRole(RoleBackoffice)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reached = true
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	require.Equal(t, http.StatusForbidden, rr.Code)
	require.False(t, reached)
}

func TestRequireRoleAdminAlwaysPasses(t *testing.T) {
	sessions := newTestSessionManager(t)
	req := httptest.NewRequest(http.MethodPost, "/api/projects", nil)
	sess, err := sessions.Load(req.Context(), req)
	require.NoError(t, err)
	sess.SetUser("1")
	sess.Set(SessionRoleKey, RoleAdmin)
	req = req.WithContext(shared.ContextWithSession(req.Context(), sess))

	var reached bool
	handler := RequireRole(RoleBackoffice)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reached = true
		w.WriteHeader(http.StatusNoContent)
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	require.True(t, reached)
	require.Equal(t, http.StatusNoContent, rr.Code)
}

type testWriter struct{ t *testing.T }

func (w testWriter) Write(p []byte) (int, error) {
	w.t.Log(strings.TrimSpace(string(p)))
	return len(p), nil
}
