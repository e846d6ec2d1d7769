// internal/accounts/domain.go
package accounts

import (
	"regexp"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"

	"vowmarket/internal/apperr"
)

// Role is fixed when the account is created.
type Role string

const (
	RoleClient Role = "client"
	RoleVendor Role = "vendor"
	RoleAdmin  Role = "admin"
)

func (r Role) Valid() bool {
	return r == RoleClient || r == RoleVendor || r == RoleAdmin
}

// SelfService reports whether the role may be chosen at registration.
func (r Role) SelfService() bool {
	return r == RoleClient || r == RoleVendor
}

// Account is the public view of a registered user.
type Account struct {
	ID        uuid.UUID `json:"id"`
	Username  string    `json:"username"`
	Role      Role      `json:"role"`
	CreatedAt time.Time `json:"created_at"`
}

// Credential holds the salted hashes of an account's secrets.
type Credential struct {
	AccountID    uuid.UUID `json:"-"`
	PasswordHash string    `json:"-"`
	PasswordSalt string    `json:"-"`
	PinHash      string    `json:"-"`
	PinSalt      string    `json:"-"`
}

// Session is returned by a successful login.
type Session struct {
	AccountID uuid.UUID `json:"account_id"`
	Username  string    `json:"username"`
	Role      Role      `json:"role"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

const aggregateType = "account"

const (
	EventRegistered    = "AccountRegistered"
	EventPasswordReset = "AccountPasswordReset"
)

// RegisteredEvent is recorded when an account is created.
type RegisteredEvent struct {
	ID       uuid.UUID `json:"id"`
	Username string    `json:"username"`
	Role     Role      `json:"role"`
}

// PasswordResetEvent is recorded when a password is changed with the PIN.
type PasswordResetEvent struct {
	ID uuid.UUID `json:"id"`
}

var (
	usernamePattern = regexp.MustCompile(`^[A-Za-z0-9]{3,12}$`)
	pinPattern      = regexp.MustCompile(`^\d{4}$`)
)

const minPasswordLength = 8

func ValidateUsername(username string) error {
	if !usernamePattern.MatchString(username) {
		return apperr.Invalid("username", "must be 3 to 12 letters or digits")
	}
	return nil
}

// ValidatePassword applies the one password policy used by every entry point.
func ValidatePassword(password string) error {
	if len(password) < minPasswordLength {
		return apperr.Invalid("password", "must be at least 8 characters")
	}
	var letter, digit bool
	for _, r := range password {
		switch {
		case unicode.IsLetter(r):
			letter = true
		case unicode.IsDigit(r):
			digit = true
		}
	}
	if !letter || !digit {
		return apperr.Invalid("password", "must contain a letter and a digit")
	}
	return nil
}

func ValidatePin(pin string) error {
	if !pinPattern.MatchString(pin) {
		return apperr.Invalid("pin", "must be exactly 4 digits")
	}
	return nil
}

func ValidateRole(role Role) error {
	if !role.SelfService() {
		return apperr.Invalid("role", "must be client or vendor")
	}
	return nil
}

// normalize is the key usernames are compared under.
func normalize(username string) string {
	return strings.ToLower(username)
}
