package auth

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"kami.app/kami-server/internal/store"
)

func newTestManager(t *testing.T, ttl time.Duration) (*SessionManager, *store.Store) {
	t.Helper()
	s := store.New(store.NewMemoryBackend())
	t.Cleanup(func() { _ = s.Close() })
	return NewSessionManager(s, zap.NewNop(), ttl), s
}

func TestRegisterLoginResolve(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t, 0)

	registered, err := m.Register(ctx, "alice", "a@x.com", "secret1")
	require.NoError(t, err)
	assert.EqualValues(t, StartingBalance, registered.SaisenBalance)

	user, token, err := m.Login(ctx, "a@x.com", "secret1")
	require.NoError(t, err)
	assert.Equal(t, registered.ID, user.ID)
	assert.True(t, strings.HasPrefix(token, TokenPrefix+registered.ID+"-"))

	resolved, err := m.Resolve(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, "alice", resolved.Username)
}

func TestRegister_Duplicate(t *testing.T) {
	ctx := context.Background()
	m, s := newTestManager(t, 0)

	_, err := m.Register(ctx, "alice", "a@x.com", "secret1")
	require.NoError(t, err)

	_, err = m.Register(ctx, "alice2", "a@x.com", "secret1")
	assert.ErrorIs(t, err, ErrDuplicateAccount)

	users, err := s.ListUsers(ctx)
	require.NoError(t, err)
	assert.Len(t, users, 1)
}

func TestLogin_InvalidCredentials(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t, 0)
	_, err := m.Register(ctx, "alice", "a@x.com", "secret1")
	require.NoError(t, err)

	tests := []struct {
		name     string
		email    string
		password string
	}{
		{name: "wrong password", email: "a@x.com", password: "secret2"},
		{name: "unknown email", email: "b@x.com", password: "secret1"},
		{name: "empty password", email: "a@x.com", password: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := m.Login(ctx, tt.email, tt.password)
			assert.ErrorIs(t, err, ErrInvalidCredentials)
		})
	}
}

func TestResolve_ParseFallback(t *testing.T) {
	ctx := context.Background()
	m, s := newTestManager(t, time.Hour)
	user, err := m.Register(ctx, "alice", "a@x.com", "secret1")
	require.NoError(t, err)

	token := FormatToken(user.ID, time.Now().Add(-time.Minute))
	resolved, err := m.Resolve(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, user.ID, resolved.ID)

	saved, err := s.GetToken(ctx, token)
	require.NoError(t, err, "fallback stores the mapping")
	assert.Equal(t, user.ID, saved.UserID)
}

func TestResolve_Rejects(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t, time.Hour)
	user, err := m.Register(ctx, "alice", "a@x.com", "secret1")
	require.NoError(t, err)

	tests := []struct {
		name  string
		token string
	}{
		{name: "empty", token: ""},
		{name: "garbage", token: "hello"},
		{name: "unknown user", token: FormatToken("42", time.Now())},
		{name: "expired", token: FormatToken(user.ID, time.Now().Add(-2*time.Hour))},
		{name: "non numeric id", token: TokenPrefix + "abc-123"},
		{name: "future dated", token: FormatToken(user.ID, time.Date(2260, 1, 1, 0, 0, 0, 0, time.UTC))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := m.Resolve(ctx, tt.token)
			assert.ErrorIs(t, err, ErrInvalidToken)
		})
	}
}

func TestResolve_ExpiredTableEntry(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t, time.Hour)
	_, err := m.Register(ctx, "alice", "a@x.com", "secret1")
	require.NoError(t, err)

	_, token, err := m.Login(ctx, "a@x.com", "secret1")
	require.NoError(t, err)

	m.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	_, err = m.Resolve(ctx, token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestResolve_FutureDatedNeverValid(t *testing.T) {
	ctx := context.Background()
	for _, ttl := range []time.Duration{0, time.Hour} {
		t.Run(ttl.String(), func(t *testing.T) {
			m, _ := newTestManager(t, ttl)
			user, err := m.Register(ctx, "alice", "a@x.com", "secret1")
			require.NoError(t, err)

			forged := FormatToken(user.ID, time.Now().Add(24*time.Hour))
			_, err = m.Resolve(ctx, forged)
			assert.ErrorIs(t, err, ErrInvalidToken)

			m.now = func() time.Time { return time.Now().AddDate(100, 0, 0) }
			_, err = m.Resolve(ctx, FormatToken(user.ID, time.Date(2260, 1, 1, 0, 0, 0, 0, time.UTC)))
			assert.ErrorIs(t, err, ErrInvalidToken)

			m.now = time.Now
			_, err = m.Resolve(ctx, FormatToken(user.ID, time.Now().Add(30*time.Second)))
			assert.NoError(t, err, "small clock skew is tolerated")
		})
	}
}

func TestLogout(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t, 0)
	_, err := m.Register(ctx, "alice", "a@x.com", "secret1")
	require.NoError(t, err)

	_, first, err := m.Login(ctx, "a@x.com", "secret1")
	require.NoError(t, err)
	m.now = func() time.Time { return time.Now().Add(time.Second) }
	_, second, err := m.Login(ctx, "a@x.com", "secret1")
	require.NoError(t, err)
	require.NotEqual(t, first, second)

	require.NoError(t, m.Logout(ctx, first))
	require.NoError(t, m.Logout(ctx, first), "logout is idempotent")

	_, err = m.Resolve(ctx, first)
	assert.ErrorIs(t, err, ErrInvalidToken, "revoked tokens are not re-accepted by parsing")

	_, err = m.Resolve(ctx, second)
	assert.NoError(t, err)

	assert.ErrorIs(t, m.Logout(ctx, ""), ErrInvalidToken)
}

func TestResolve_SurvivesReload(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "kami.bolt")

	backend, err := store.NewBoltBackend(path)
	require.NoError(t, err)
	s := store.New(backend)
	m := NewSessionManager(s, zap.NewNop(), 0)
	_, err = m.Register(ctx, "alice", "a@x.com", "secret1")
	require.NoError(t, err)
	_, token, err := m.Login(ctx, "a@x.com", "secret1")
	require.NoError(t, err)
	require.NoError(t, s.Close())

	backend, err = store.NewBoltBackend(path)
	require.NoError(t, err)
	reloaded := store.New(backend)
	defer reloaded.Close()

	user, err := NewSessionManager(reloaded, zap.NewNop(), 0).Resolve(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, "alice", user.Username)
}

func TestParseToken(t *testing.T) {
	issued := time.Date(2026, 3, 4, 5, 6, 7, 8, time.UTC)
	userID, got, err := ParseToken(FormatToken("12", issued))
	require.NoError(t, err)
	assert.Equal(t, "12", userID)
	assert.True(t, issued.Equal(got))

	for _, bad := range []string{"", "kami-token-", "kami-token-12", "kami-token-12-", "kami-token--5", "mock-token-1-5", "kami-token-1-x"} {
		_, _, err := ParseToken(bad)
		assert.ErrorIs(t, err, ErrInvalidToken, bad)
	}
}

func TestSeedDemoUsers(t *testing.T) {
	ctx := context.Background()
	m, s := newTestManager(t, 0)

	require.NoError(t, SeedDemoUsers(ctx, s, zap.NewNop()))
	require.NoError(t, SeedDemoUsers(ctx, s, zap.NewNop()), "seeding twice is a no-op")

	users, err := s.ListUsers(ctx)
	require.NoError(t, err)
	require.Len(t, users, 2)

	admin, _, err := m.Login(ctx, "admin@kami.app", "admin123")
	require.NoError(t, err)
	assert.Equal(t, "1", admin.ID)
	assert.True(t, admin.IsSuperAdmin)
	assert.EqualValues(t, 10000, admin.SaisenBalance)

	_, _, err = m.Login(ctx, "user1@kami.app", "user123")
	assert.NoError(t, err)
}
