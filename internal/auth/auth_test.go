package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"hermescore/internal/db"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	database, err := db.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close() })
	return NewStore(database)
}

func TestCreateAndGetUser(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	created, err := st.Create(ctx, "alice", "s3cret", RoleAnalyst)
	require.NoError(t, err)
	require.NotEmpty(t, created.ID)
	require.NotEmpty(t, created.PasswordHash)
	require.NotEqual(t, "s3cret", created.PasswordHash)

	got, err := st.GetByUsername(ctx, "alice")
	require.NoError(t, err)
	require.Equal(t, created.ID, got.ID)
	require.Equal(t, RoleAnalyst, got.Role)
	// The hash must survive persistence or logins break after restart.
	require.Equal(t, created.PasswordHash, got.PasswordHash)

	_, err = st.GetByUsername(ctx, "nobody")
	require.ErrorIs(t, err, ErrUserNotFound)
}

func TestAuthenticateAndParseToken(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	_, err := st.Create(ctx, "alice", "s3cret", RoleAdmin)
	require.NoError(t, err)

	svc := NewService(st, "test-secret")

	user, token, err := svc.Authenticate(ctx, "alice", "s3cret")
	require.NoError(t, err)
	require.NotEmpty(t, token)
	require.Equal(t, "alice", user.Username)

	claims, err := svc.ParseToken(token)
	require.NoError(t, err)
	require.Equal(t, user.ID, claims.UserID)
	require.Equal(t, RoleAdmin, claims.Role)

	_, _, err = svc.Authenticate(ctx, "alice", "wrong")
	require.ErrorIs(t, err, ErrInvalidCredentials)
	_, _, err = svc.Authenticate(ctx, "nobody", "s3cret")
	require.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestParseTokenRejectsWrongSecret(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	_, err := st.Create(ctx, "alice", "s3cret", RoleAnalyst)
	require.NoError(t, err)

	_, token, err := NewService(st, "secret-a").Authenticate(ctx, "alice", "s3cret")
	require.NoError(t, err)

	_, err = NewService(st, "secret-b").ParseToken(token)
	require.Error(t, err)
}

func TestSeedFromFile(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	path := filepath.Join(t.TempDir(), "users.yaml")
	content := `users:
  - username: admin
    password: changeme
    role: admin
  - username: viewer
    password: lookonly
    role: read_only
  - username: ""
    password: ignored
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	require.NoError(t, st.SeedFromFile(ctx, path))

	admin, err := st.GetByUsername(ctx, "admin")
	require.NoError(t, err)
	require.Equal(t, RoleAdmin, admin.Role)

	viewer, err := st.GetByUsername(ctx, "viewer")
	require.NoError(t, err)
	require.Equal(t, RoleReadOnly, viewer.Role)

	// Re-seeding keeps existing accounts instead of resetting them.
	require.NoError(t, st.SeedFromFile(ctx, path))
	again, err := st.GetByUsername(ctx, "admin")
	require.NoError(t, err)
	require.Equal(t, admin.ID, again.ID)
}

func TestSeedFromMissingFileIsNoop(t *testing.T) {
	st := newTestStore(t)
	require.NoError(t, st.SeedFromFile(context.Background(), "/no/such/users.yaml"))
}

func TestJWTMiddleware(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	_, err := st.Create(ctx, "alice", "s3cret", RoleAnalyst)
	require.NoError(t, err)
	svc := NewService(st, "test-secret")
	_, token, err := svc.Authenticate(ctx, "alice", "s3cret")
	require.NoError(t, err)

	var seen *User
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = UserFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	})
	handler := JWTMiddleware(svc)(inner)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer not-a-token")
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, seen)
	require.Equal(t, "alice", seen.Username)
	require.Equal(t, RoleAnalyst, seen.Role)
}
