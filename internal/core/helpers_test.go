package core

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"kami.app/kami-server/internal/store"
)

type testEnv struct {
	store    *store.Store
	registry *GodRegistry
	ledger   *Ledger
	user     *store.User
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	s := store.New(store.NewMemoryBackend())
	t.Cleanup(func() { _ = s.Close() })

	user, err := s.CreateUser(context.Background(), store.NewUser{
		Username: "alice",
		Email:    "alice@kami.app",
		Balance:  10000,
	})
	require.NoError(t, err)

	return &testEnv{
		store:    s,
		registry: NewGodRegistry(s, zap.NewNop()),
		ledger:   NewLedger(s, NewFeed(DefaultFeedBuffer)),
		user:     user,
	}
}

func (e *testEnv) createGod(t *testing.T, name string) *store.God {
	t.Helper()
	god, _, err := e.registry.Create(context.Background(), e.user, GodInput{
		Name:          name,
		Deity:         "sun",
		Beliefs:       "light for all",
		SpecialSkills: "warming hearts",
	})
	require.NoError(t, err)
	return god
}

func ptr[T any](v T) *T { return &v }
