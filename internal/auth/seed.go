package auth

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"kami.app/kami-server/internal/store"
)

type demoAccount struct {
	username     string
	email        string
	password     string
	isAdmin      bool
	isSuperAdmin bool
	balance      int64
}

var demoAccounts = []demoAccount{
	{username: "admin", email: "admin@kami.app", password: "admin123", isAdmin: true, isSuperAdmin: true, balance: 10000},
	{username: "user1", email: "user1@kami.app", password: "user123", balance: StartingBalance},
}

// SeedDemoUsers creates the demo accounts that do not exist yet.
func SeedDemoUsers(ctx context.Context, s *store.Store, logger *zap.Logger) error {
	for _, acc := range demoAccounts {
		hash, err := HashPassword(acc.password)
		if err != nil {
			return err
		}
		user, err := s.CreateUser(ctx, store.NewUser{
			Username:     acc.username,
			Email:        acc.email,
			PasswordHash: hash,
			IsAdmin:      acc.isAdmin,
			IsSuperAdmin: acc.isSuperAdmin,
			Balance:      acc.balance,
		})
		if errors.Is(err, store.ErrUserAlreadyExists) {
			logger.Debug("Demo account already present", zap.String("email", acc.email))
			continue
		}
		if err != nil {
			return fmt.Errorf("failed to seed %s: %w", acc.email, err)
		}
		logger.Info("Seeded demo account", zap.String("email", user.Email), zap.String("user_id", user.ID))
	}
	return nil
}
