// internal/accounts/service.go
package accounts

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrDuplicateUsername  = errors.New("username is already taken")
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrInvalidPin deliberately reads the same as ErrInvalidCredentials.
	ErrInvalidPin      = errors.New("invalid credentials")
	ErrAccountNotFound = errors.New("account not found")
	ErrRateLimited     = errors.New("too many attempts, try again later")
)

// Service defines the account and authentication operations.
type Service interface {
	Register(ctx context.Context, username, password, pin string, role Role) (uuid.UUID, error)
	Login(ctx context.Context, username, password string) (*Session, error)
	VerifyPin(ctx context.Context, username, pin string) error
	ResetPassword(ctx context.Context, username, pin, newPassword string) error
	GetAccount(ctx context.Context, id uuid.UUID) (*Account, error)
}

// TokenIssuer signs session tokens. jwt.MakerImpl satisfies it.
type TokenIssuer interface {
	GenerateToken(accountID uuid.UUID, username, role string) (string, time.Time, error)
}
