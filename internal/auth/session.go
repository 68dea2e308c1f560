// Package auth issues and resolves bearer tokens for kAmI accounts.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"kami.app/kami-server/internal/store"
)

// TokenPrefix starts every token. The full layout is kami-token-<userId>-<unixNano>.
const TokenPrefix = "kami-token-"

// StartingBalance is granted to every registered account.
const StartingBalance = 1000

// maxClockSkew is how far in the future an issuance time may lie.
const maxClockSkew = time.Minute

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrDuplicateAccount   = errors.New("user already exists")
	ErrInvalidToken       = errors.New("invalid token")
)

type SessionManager struct {
	store  *store.Store
	logger *zap.Logger
	ttl    time.Duration
	now    func() time.Time
}

// NewSessionManager creates a session manager. A zero ttl means tokens never expire.
func NewSessionManager(s *store.Store, logger *zap.Logger, ttl time.Duration) *SessionManager {
	return &SessionManager{
		store:  s,
		logger: logger,
		ttl:    ttl,
		now:    time.Now,
	}
}

// Login checks the password and issues a new token. Earlier tokens of the user stay valid.
func (m *SessionManager) Login(ctx context.Context, email, password string) (*store.User, string, error) {
	cred, err := m.store.GetCredential(ctx, email)
	if errors.Is(err, store.ErrNotFound) {
		return nil, "", ErrInvalidCredentials
	}
	if err != nil {
		return nil, "", err
	}
	if !CheckPasswordHash(password, cred.PasswordHash) {
		return nil, "", ErrInvalidCredentials
	}

	user, err := m.store.GetUserByEmail(ctx, email)
	if errors.Is(err, store.ErrNotFound) {
		return nil, "", ErrInvalidCredentials
	}
	if err != nil {
		return nil, "", err
	}

	issuedAt := m.now()
	token := FormatToken(user.ID, issuedAt)
	if err := m.store.SaveToken(ctx, store.Token{Token: token, UserID: user.ID, IssuedAt: issuedAt.UTC()}); err != nil {
		return nil, "", fmt.Errorf("failed to save token: %w", err)
	}

	m.logger.Info("User logged in", zap.String("user_id", user.ID))
	return user, token, nil
}

func (m *SessionManager) Register(ctx context.Context, username, email, password string) (*store.User, error) {
	hash, err := HashPassword(password)
	if err != nil {
		return nil, err
	}

	user, err := m.store.CreateUser(ctx, store.NewUser{
		Username:     username,
		Email:        email,
		PasswordHash: hash,
		Balance:      StartingBalance,
	})
	if errors.Is(err, store.ErrUserAlreadyExists) {
		return nil, ErrDuplicateAccount
	}
	if err != nil {
		return nil, err
	}

	m.logger.Info("User registered", zap.String("user_id", user.ID), zap.String("username", user.Username))
	return user, nil
}

// Resolve maps a token to its user. Tokens missing from the table are accepted when they
// parse, were never logged out and have not expired; they are then stored again.
func (m *SessionManager) Resolve(ctx context.Context, token string) (*store.User, error) {
	if token == "" {
		return nil, ErrInvalidToken
	}

	var (
		userID   string
		issuedAt time.Time
		repair   bool
	)

	saved, err := m.store.GetToken(ctx, token)
	switch {
	case err == nil:
		userID, issuedAt = saved.UserID, saved.IssuedAt
	case errors.Is(err, store.ErrNotFound):
		userID, issuedAt, err = ParseToken(token)
		if err != nil {
			return nil, err
		}
		revoked, err := m.store.IsRevoked(ctx, token)
		if err != nil {
			return nil, err
		}
		if revoked {
			return nil, ErrInvalidToken
		}
		repair = true
	default:
		return nil, err
	}

	if m.expired(issuedAt) {
		return nil, ErrInvalidToken
	}

	user, err := m.store.GetUserByID(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrInvalidToken
	}
	if err != nil {
		return nil, err
	}

	if repair {
		err := m.store.SaveToken(ctx, store.Token{Token: token, UserID: user.ID, IssuedAt: issuedAt.UTC()})
		if err != nil {
			m.logger.Warn("Failed to restore token mapping", zap.String("user_id", user.ID), zap.Error(err))
		} else {
			m.logger.Debug("Token mapping restored", zap.String("user_id", user.ID))
		}
	}
	return user, nil
}

// Logout forgets the token. Other tokens of the same user are untouched.
func (m *SessionManager) Logout(ctx context.Context, token string) error {
	if token == "" {
		return ErrInvalidToken
	}
	err := m.store.DeleteToken(ctx, token)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return err
	}
	return nil
}

// expired also rejects issuance times in the future, which only forged tokens carry.
func (m *SessionManager) expired(issuedAt time.Time) bool {
	now := m.now()
	if issuedAt.After(now.Add(maxClockSkew)) {
		return true
	}
	return m.ttl > 0 && now.Sub(issuedAt) > m.ttl
}

func FormatToken(userID string, issuedAt time.Time) string {
	return fmt.Sprintf("%s%s-%d", TokenPrefix, userID, issuedAt.UnixNano())
}

// ParseToken splits a token into the user id and issuance time it carries.
func ParseToken(token string) (string, time.Time, error) {
	rest, ok := strings.CutPrefix(token, TokenPrefix)
	if !ok {
		return "", time.Time{}, ErrInvalidToken
	}
	userID, stamp, ok := strings.Cut(rest, "-")
	if !ok || userID == "" {
		return "", time.Time{}, ErrInvalidToken
	}
	if _, err := strconv.ParseUint(userID, 10, 64); err != nil {
		return "", time.Time{}, ErrInvalidToken
	}
	nanos, err := strconv.ParseInt(stamp, 10, 64)
	if err != nil || nanos <= 0 {
		return "", time.Time{}, ErrInvalidToken
	}
	return userID, time.Unix(0, nanos).UTC(), nil
}
