package store

import (
	"context"
	"fmt"
	"slices"
	"strconv"
	"sync"
	"time"
)

// Store is the repository over a Backend. Every read-modify-write runs under one mutex,
// so concurrent requests in this process can not lose updates. Separate processes sharing
// a backend are still last-writer-wins.
type Store struct {
	backend Backend
	mu      sync.Mutex
	now     func() time.Time
}

type Option func(*Store)

// WithClock replaces time.Now, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

func New(backend Backend, opts ...Option) *Store {
	s := &Store{backend: backend, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) Close() error {
	return s.backend.Close()
}

// NewUser carries everything needed to register an account.
type NewUser struct {
	Username     string
	Email        string
	PasswordHash string
	IsAdmin      bool
	IsSuperAdmin bool
	Balance      int64
}

// CreateUser assigns the next integer id and stores the user with its credential.
func (s *Store) CreateUser(ctx context.Context, nu NewUser) (*User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	users, err := getAll[User](ctx, s.backend, CollectionUsers)
	if err != nil {
		return nil, err
	}

	maxID := 0
	for _, u := range users {
		if u.Email == nu.Email || u.Username == nu.Username {
			return nil, ErrUserAlreadyExists
		}
		if id, err := strconv.Atoi(u.ID); err == nil && id > maxID {
			maxID = id
		}
	}

	creds, err := getAll[Credential](ctx, s.backend, CollectionCredentials)
	if err != nil {
		return nil, err
	}

	user := User{
		ID:            strconv.Itoa(maxID + 1),
		Username:      nu.Username,
		Email:         nu.Email,
		IsAdmin:       nu.IsAdmin,
		IsSuperAdmin:  nu.IsSuperAdmin,
		SaisenBalance: nu.Balance,
		CreatedAt:     s.now().UTC(),
	}

	if err := putAll(ctx, s.backend, CollectionUsers, append(slices.Clip(users), user)); err != nil {
		return nil, err
	}

	creds = slices.DeleteFunc(creds, func(c Credential) bool { return c.Email == nu.Email })
	creds = append(creds, Credential{Email: nu.Email, PasswordHash: nu.PasswordHash})
	if err := putAll(ctx, s.backend, CollectionCredentials, creds); err != nil {
		if rbErr := putAll(ctx, s.backend, CollectionUsers, users); rbErr != nil {
			return nil, fmt.Errorf("%w (rollback failed: %v)", err, rbErr)
		}
		return nil, err
	}
	return &user, nil
}

func (s *Store) ListUsers(ctx context.Context) ([]User, error) {
	return getAll[User](ctx, s.backend, CollectionUsers)
}

func (s *Store) GetUserByID(ctx context.Context, id string) (*User, error) {
	return s.findUser(ctx, func(u User) bool { return u.ID == id })
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	return s.findUser(ctx, func(u User) bool { return u.Email == email })
}

func (s *Store) findUser(ctx context.Context, match func(User) bool) (*User, error) {
	users, err := getAll[User](ctx, s.backend, CollectionUsers)
	if err != nil {
		return nil, err
	}
	i := slices.IndexFunc(users, match)
	if i < 0 {
		return nil, ErrNotFound
	}
	return &users[i], nil
}

func (s *Store) GetCredential(ctx context.Context, email string) (*Credential, error) {
	creds, err := getAll[Credential](ctx, s.backend, CollectionCredentials)
	if err != nil {
		return nil, err
	}
	i := slices.IndexFunc(creds, func(c Credential) bool { return c.Email == email })
	if i < 0 {
		return nil, ErrNotFound
	}
	return &creds[i], nil
}

// SaveToken records token -> user, replacing an existing entry for the same token.
func (s *Store) SaveToken(ctx context.Context, t Token) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tokens, err := getAll[Token](ctx, s.backend, CollectionTokens)
	if err != nil {
		return err
	}
	tokens = slices.DeleteFunc(tokens, func(existing Token) bool { return existing.Token == t.Token })
	return putAll(ctx, s.backend, CollectionTokens, append(tokens, t))
}

func (s *Store) GetToken(ctx context.Context, token string) (*Token, error) {
	tokens, err := getAll[Token](ctx, s.backend, CollectionTokens)
	if err != nil {
		return nil, err
	}
	i := slices.IndexFunc(tokens, func(t Token) bool { return t.Token == token })
	if i < 0 {
		return nil, ErrNotFound
	}
	return &tokens[i], nil
}

// DeleteToken removes the mapping and marks the token revoked in one step.
// Returns ErrNotFound when the token was not active; it is revoked regardless.
func (s *Store) DeleteToken(ctx context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	revoked, err := getAll[string](ctx, s.backend, CollectionRevoked)
	if err != nil {
		return err
	}
	if !slices.Contains(revoked, token) {
		if err := putAll(ctx, s.backend, CollectionRevoked, append(revoked, token)); err != nil {
			return err
		}
	}

	tokens, err := getAll[Token](ctx, s.backend, CollectionTokens)
	if err != nil {
		return err
	}
	before := len(tokens)
	tokens = slices.DeleteFunc(tokens, func(t Token) bool { return t.Token == token })
	if len(tokens) == before {
		return ErrNotFound
	}
	return putAll(ctx, s.backend, CollectionTokens, tokens)
}

func (s *Store) IsRevoked(ctx context.Context, token string) (bool, error) {
	revoked, err := getAll[string](ctx, s.backend, CollectionRevoked)
	if err != nil {
		return false, err
	}
	return slices.Contains(revoked, token), nil
}

// CreateGodWithDebit stores the god and takes cost from its creator's balance.
// Either both changes are persisted or neither is.
func (s *Store) CreateGodWithDebit(ctx context.Context, god God, cost int64) (*God, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	users, err := getAll[User](ctx, s.backend, CollectionUsers)
	if err != nil {
		return nil, 0, err
	}
	i := slices.IndexFunc(users, func(u User) bool { return u.ID == god.CreatorID })
	if i < 0 {
		return nil, 0, fmt.Errorf("creator %s: %w", god.CreatorID, ErrNotFound)
	}
	if users[i].SaisenBalance < cost {
		return nil, users[i].SaisenBalance, ErrInsufficientBalance
	}

	gods, err := getAll[God](ctx, s.backend, CollectionGods)
	if err != nil {
		return nil, 0, err
	}
	if god.CreatedAt.IsZero() {
		god.CreatedAt = s.now().UTC()
	}

	previous := slices.Clone(gods)
	if err := putAll(ctx, s.backend, CollectionGods, append(gods, god)); err != nil {
		return nil, 0, err
	}

	users[i].SaisenBalance -= cost
	if err := putAll(ctx, s.backend, CollectionUsers, users); err != nil {
		if rbErr := putAll(ctx, s.backend, CollectionGods, previous); rbErr != nil {
			return nil, 0, fmt.Errorf("%w (rollback failed: %v)", err, rbErr)
		}
		return nil, 0, err
	}
	return &god, users[i].SaisenBalance, nil
}

func (s *Store) GetGod(ctx context.Context, id string) (*God, error) {
	gods, err := getAll[God](ctx, s.backend, CollectionGods)
	if err != nil {
		return nil, err
	}
	i := slices.IndexFunc(gods, func(g God) bool { return g.ID == id })
	if i < 0 {
		return nil, ErrNotFound
	}
	return &gods[i], nil
}

func (s *Store) ListGods(ctx context.Context) ([]God, error) {
	return getAll[God](ctx, s.backend, CollectionGods)
}

// AppendMessage stamps createdAt and appends the message. Timestamps are strictly
// increasing across the collection, so sorting by createdAt keeps append order.
func (s *Store) AppendMessage(ctx context.Context, m Message) (*Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.GetUserByID(ctx, m.UserID); err != nil {
		return nil, fmt.Errorf("user %s: %w", m.UserID, err)
	}
	if _, err := s.GetGod(ctx, m.GodID); err != nil {
		return nil, fmt.Errorf("god %s: %w", m.GodID, err)
	}

	messages, err := getAll[Message](ctx, s.backend, CollectionMessages)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	if n := len(messages); n > 0 && !now.After(messages[n-1].CreatedAt) {
		now = messages[n-1].CreatedAt.Add(time.Nanosecond)
	}
	m.CreatedAt = now

	if err := putAll(ctx, s.backend, CollectionMessages, append(messages, m)); err != nil {
		return nil, err
	}
	return &m, nil
}

func (s *Store) ListMessages(ctx context.Context) ([]Message, error) {
	return getAll[Message](ctx, s.backend, CollectionMessages)
}
