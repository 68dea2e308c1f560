package store

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T, opts ...Option) *Store {
	t.Helper()
	s := New(NewMemoryBackend(), opts...)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func createTestUser(t *testing.T, s *Store, name string, balance int64) *User {
	t.Helper()
	u, err := s.CreateUser(context.Background(), NewUser{
		Username:     name,
		Email:        name + "@kami.app",
		PasswordHash: "hash-" + name,
		Balance:      balance,
	})
	require.NoError(t, err)
	return u
}

func TestCreateUser(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	alice := createTestUser(t, s, "alice", 1000)
	bob := createTestUser(t, s, "bob", 1000)
	assert.Equal(t, "1", alice.ID)
	assert.Equal(t, "2", bob.ID)

	cred, err := s.GetCredential(ctx, "alice@kami.app")
	require.NoError(t, err)
	assert.Equal(t, "hash-alice", cred.PasswordHash)

	got, err := s.GetUserByEmail(ctx, "bob@kami.app")
	require.NoError(t, err)
	assert.Equal(t, bob.ID, got.ID)
}

func TestCreateUser_Duplicate(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	createTestUser(t, s, "alice", 1000)

	tests := []struct {
		name  string
		input NewUser
	}{
		{name: "same email", input: NewUser{Username: "other", Email: "alice@kami.app"}},
		{name: "same username", input: NewUser{Username: "alice", Email: "other@kami.app"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.CreateUser(ctx, tt.input)
			assert.ErrorIs(t, err, ErrUserAlreadyExists)

			users, err := s.ListUsers(ctx)
			require.NoError(t, err)
			assert.Len(t, users, 1)
		})
	}
}

func TestCreateUser_NextIDSkipsGaps(t *testing.T) {
	ctx := context.Background()
	backend := NewMemoryBackend()
	require.NoError(t, putAll(ctx, backend, CollectionUsers, []User{
		{ID: "7", Username: "seven", Email: "seven@kami.app"},
		{ID: "3", Username: "three", Email: "three@kami.app"},
	}))

	u, err := New(backend).CreateUser(ctx, NewUser{Username: "next", Email: "next@kami.app"})
	require.NoError(t, err)
	assert.Equal(t, "8", u.ID)
}

func TestGetUser_NotFound(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	_, err := s.GetUserByID(ctx, "42")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.GetCredential(ctx, "nobody@kami.app")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestTokens(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	issued := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	require.NoError(t, s.SaveToken(ctx, Token{Token: "t1", UserID: "1", IssuedAt: issued}))
	require.NoError(t, s.SaveToken(ctx, Token{Token: "t2", UserID: "1", IssuedAt: issued}))

	got, err := s.GetToken(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, "1", got.UserID)
	assert.True(t, issued.Equal(got.IssuedAt))

	require.NoError(t, s.DeleteToken(ctx, "t1"))
	_, err = s.GetToken(ctx, "t1")
	assert.ErrorIs(t, err, ErrNotFound)

	revoked, err := s.IsRevoked(ctx, "t1")
	require.NoError(t, err)
	assert.True(t, revoked)

	_, err = s.GetToken(ctx, "t2")
	assert.NoError(t, err, "other sessions survive logout")

	assert.ErrorIs(t, s.DeleteToken(ctx, "never-issued"), ErrNotFound)
	revoked, err = s.IsRevoked(ctx, "never-issued")
	require.NoError(t, err)
	assert.True(t, revoked)
}

func TestCreateGodWithDebit(t *testing.T) {
	tests := []struct {
		name        string
		balance     int64
		wantErr     error
		wantBalance int64
		wantGods    int
	}{
		{name: "exact balance", balance: 500, wantBalance: 0, wantGods: 1},
		{name: "one short", balance: 499, wantErr: ErrInsufficientBalance, wantBalance: 499, wantGods: 0},
		{name: "plenty", balance: 1000, wantBalance: 500, wantGods: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			s := newTestStore(t)
			creator := createTestUser(t, s, "creator", tt.balance)

			god, newBalance, err := s.CreateGodWithDebit(ctx, God{ID: "god_1", CreatorID: creator.ID, Name: "Amaterasu"}, 500)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Nil(t, god)
			} else {
				require.NoError(t, err)
				assert.Equal(t, tt.wantBalance, newBalance)
				assert.False(t, god.CreatedAt.IsZero())
			}

			gods, err := s.ListGods(ctx)
			require.NoError(t, err)
			assert.Len(t, gods, tt.wantGods)

			u, err := s.GetUserByID(ctx, creator.ID)
			require.NoError(t, err)
			assert.Equal(t, tt.wantBalance, u.SaisenBalance)
		})
	}
}

func TestCreateGodWithDebit_UnknownCreator(t *testing.T) {
	s := newTestStore(t)
	_, _, err := s.CreateGodWithDebit(context.Background(), God{ID: "god_1", CreatorID: "99"}, 500)
	assert.ErrorIs(t, err, ErrNotFound)
}

// failingBackend fails Put for one collection.
type failingBackend struct {
	Backend
	failOn Collection
}

func (f *failingBackend) Put(ctx context.Context, c Collection, records []json.RawMessage) error {
	if c == f.failOn {
		return errors.New("disk full")
	}
	return f.Backend.Put(ctx, c, records)
}

func TestCreateGodWithDebit_RollsBackGod(t *testing.T) {
	ctx := context.Background()
	mem := NewMemoryBackend()
	creator := createTestUser(t, New(mem), "creator", 1000)

	s := New(&failingBackend{Backend: mem, failOn: CollectionUsers})
	_, _, err := s.CreateGodWithDebit(ctx, God{ID: "god_1", CreatorID: creator.ID}, 500)
	require.Error(t, err)

	gods, err := s.ListGods(ctx)
	require.NoError(t, err)
	assert.Empty(t, gods)

	u, err := s.GetUserByID(ctx, creator.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 1000, u.SaisenBalance)
}

func TestCreateUser_RollsBackUser(t *testing.T) {
	ctx := context.Background()
	mem := NewMemoryBackend()
	createTestUser(t, New(mem), "alice", 1000)

	s := New(&failingBackend{Backend: mem, failOn: CollectionCredentials})
	_, err := s.CreateUser(ctx, NewUser{Username: "bob", Email: "bob@kami.app", PasswordHash: "hash-bob"})
	require.Error(t, err)

	users, err := s.ListUsers(ctx)
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, "alice", users[0].Username)

	_, err = s.GetUserByEmail(ctx, "bob@kami.app")
	assert.ErrorIs(t, err, ErrNotFound)

	u, err := New(mem).CreateUser(ctx, NewUser{Username: "bob", Email: "bob@kami.app", PasswordHash: "hash-bob"})
	require.NoError(t, err, "a failed registration can be retried")
	assert.Equal(t, "2", u.ID)
}

func TestCreateGodWithDebit_ConcurrentDebits(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	creator := createTestUser(t, s, "creator", 1000)

	var wg sync.WaitGroup
	errs := make(chan error, 5)
	for i := range 5 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := s.CreateGodWithDebit(ctx, God{ID: "god_" + string(rune('a'+i)), CreatorID: creator.ID}, 500)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	succeeded := 0
	for err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		assert.ErrorIs(t, err, ErrInsufficientBalance)
	}
	assert.Equal(t, 2, succeeded)

	u, err := s.GetUserByID(ctx, creator.ID)
	require.NoError(t, err)
	assert.Zero(t, u.SaisenBalance)
}

func TestAppendMessage_StrictlyIncreasing(t *testing.T) {
	ctx := context.Background()
	frozen := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	s := newTestStore(t, WithClock(func() time.Time { return frozen }))
	user := createTestUser(t, s, "alice", 1000)
	_, _, err := s.CreateGodWithDebit(ctx, God{ID: "god_1", CreatorID: user.ID}, 500)
	require.NoError(t, err)

	var last time.Time
	for i := range 3 {
		m, err := s.AppendMessage(ctx, Message{ID: "msg_" + string(rune('0'+i)), UserID: user.ID, GodID: "god_1"})
		require.NoError(t, err)
		assert.True(t, m.CreatedAt.After(last), "createdAt must increase")
		last = m.CreatedAt
	}

	messages, err := s.ListMessages(ctx)
	require.NoError(t, err)
	require.Len(t, messages, 3)
	assert.Equal(t, "msg_0", messages[0].ID)
	assert.Equal(t, "msg_2", messages[2].ID)
}

func TestAppendMessage_UnknownReferences(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	user := createTestUser(t, s, "alice", 1000)

	_, err := s.AppendMessage(ctx, Message{ID: "m", UserID: user.ID, GodID: "missing"})
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = s.AppendMessage(ctx, Message{ID: "m", UserID: "99", GodID: "missing"})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_SurvivesReload(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "kami.bolt")

	backend, err := NewBoltBackend(path)
	require.NoError(t, err)
	s := New(backend)
	user := createTestUser(t, s, "alice", 1000)
	require.NoError(t, s.SaveToken(ctx, Token{Token: "kami-token-1-1", UserID: user.ID}))
	require.NoError(t, s.Close())

	backend, err = NewBoltBackend(path)
	require.NoError(t, err)
	reloaded := New(backend)
	defer reloaded.Close()

	tok, err := reloaded.GetToken(ctx, "kami-token-1-1")
	require.NoError(t, err)
	assert.Equal(t, user.ID, tok.UserID)

	got, err := reloaded.GetUserByID(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, "alice", got.Username)
}
