// internal/accounts/implementation.go
package accounts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"vowmarket/internal/clock"
	"vowmarket/internal/lib/sl"
	"vowmarket/pkg/eventstore"
)

// service implements the Service interface.
type service struct {
	store   CredentialStore
	tokens  TokenIssuer
	events  eventstore.Store
	limiter *keyedLimiter
	clock   clock.Clock
	log     *slog.Logger
	tracer  trace.Tracer
}

type Option func(*service)

func WithClock(c clock.Clock) Option { return func(s *service) { s.clock = c } }

func WithLogger(l *slog.Logger) Option { return func(s *service) { s.log = l } }

// WithEvents records account events in the given log.
func WithEvents(es eventstore.Store) Option { return func(s *service) { s.events = es } }

// WithRateLimit allows burst failed attempts per username and client,
// refilled one per every.
func WithRateLimit(every time.Duration, burst int) Option {
	return func(s *service) { s.limiter = newKeyedLimiter(every, burst) }
}

// NewService creates a new accounts service instance.
func NewService(store CredentialStore, tokens TokenIssuer, opts ...Option) Service {
	s := &service{
		store:   store,
		tokens:  tokens,
		limiter: newKeyedLimiter(12*time.Second, 5),
		clock:   clock.Real{},
		log:     slog.Default(),
		tracer:  otel.Tracer("vowmarket/accounts"),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.With(slog.String("component", "accounts"))
	return s
}

// Register creates an account. Every field is validated before the store
// is touched and the role can never be changed afterwards.
func (s *service) Register(ctx context.Context, username, password, pin string, role Role) (uuid.UUID, error) {
	const op = "accounts.Register"
	ctx, span := s.tracer.Start(ctx, op, trace.WithAttributes(attribute.String("role", string(role))))
	defer span.End()

	if err := ValidateUsername(username); err != nil {
		return uuid.Nil, err
	}
	if err := ValidatePassword(password); err != nil {
		return uuid.Nil, err
	}
	if err := ValidatePin(pin); err != nil {
		return uuid.Nil, err
	}
	if err := ValidateRole(role); err != nil {
		return uuid.Nil, err
	}
	if !s.allow(ctx, "register", username) {
		return uuid.Nil, ErrRateLimited
	}

	passwordHash, passwordSalt, err := hashSecret(password)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%s: hash password: %w", op, err)
	}
	pinHash, pinSalt, err := hashSecret(pin)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%s: hash pin: %w", op, err)
	}

	account := &Account{
		ID:        uuid.New(),
		Username:  username,
		Role:      role,
		CreatedAt: s.clock.Now(),
	}
	cred := &Credential{
		AccountID:    account.ID,
		PasswordHash: passwordHash,
		PasswordSalt: passwordSalt,
		PinHash:      pinHash,
		PinSalt:      pinSalt,
	}

	if err := s.store.Insert(ctx, account, cred); err != nil {
		if errors.Is(err, ErrDuplicateUsername) {
			return uuid.Nil, ErrDuplicateUsername
		}
		return uuid.Nil, fmt.Errorf("%s: %w", op, err)
	}

	s.record(ctx, account.ID, 0, EventRegistered, RegisteredEvent{
		ID:       account.ID,
		Username: account.Username,
		Role:     role,
	})
	s.log.Info("account registered",
		slog.String("account_id", account.ID.String()),
		slog.String("role", string(role)))
	return account.ID, nil
}

// Login checks the password and issues a session token. Unknown usernames
// and wrong passwords fail the same way.
func (s *service) Login(ctx context.Context, username, password string) (*Session, error) {
	const op = "accounts.Login"
	ctx, span := s.tracer.Start(ctx, op)
	defer span.End()

	if username == "" || password == "" {
		return nil, ErrInvalidCredentials
	}
	if s.blocked(ctx, "login", username) {
		return nil, ErrRateLimited
	}

	account, cred, err := s.store.FindByUsername(ctx, username)
	if errors.Is(err, ErrAccountNotFound) {
		_, _ = verifySecret(password, dummyCredential.PasswordSalt, dummyCredential.PasswordHash)
		s.failed(ctx, "login", username)
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	ok, err := verifySecret(password, cred.PasswordSalt, cred.PasswordHash)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if !ok {
		s.failed(ctx, "login", username)
		return nil, ErrInvalidCredentials
	}

	token, expiresAt, err := s.tokens.GenerateToken(account.ID, account.Username, string(account.Role))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	span.SetAttributes(attribute.String("account.id", account.ID.String()))
	return &Session{
		AccountID: account.ID,
		Username:  account.Username,
		Role:      account.Role,
		Token:     token,
		ExpiresAt: expiresAt,
	}, nil
}

func (s *service) VerifyPin(ctx context.Context, username, pin string) error {
	if err := ValidatePin(pin); err != nil {
		return err
	}
	_, err := s.checkPin(ctx, username, pin)
	return err
}

// ResetPassword replaces the password of the account whose PIN matches.
func (s *service) ResetPassword(ctx context.Context, username, pin, newPassword string) error {
	const op = "accounts.ResetPassword"
	if err := ValidatePin(pin); err != nil {
		return err
	}
	if err := ValidatePassword(newPassword); err != nil {
		return err
	}

	account, err := s.checkPin(ctx, username, pin)
	if err != nil {
		return err
	}

	hash, salt, err := hashSecret(newPassword)
	if err != nil {
		return fmt.Errorf("%s: hash password: %w", op, err)
	}
	if err := s.store.UpdatePassword(ctx, account.ID, hash, salt); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	s.record(ctx, account.ID, eventstore.AnyVersion, EventPasswordReset, PasswordResetEvent{ID: account.ID})
	s.log.Info("password reset", slog.String("account_id", account.ID.String()))
	return nil
}

func (s *service) GetAccount(ctx context.Context, id uuid.UUID) (*Account, error) {
	account, err := s.store.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("accounts.GetAccount: %w", err)
	}
	return account, nil
}

func (s *service) checkPin(ctx context.Context, username, pin string) (*Account, error) {
	const op = "accounts.checkPin"
	if username == "" {
		return nil, ErrInvalidPin
	}
	if s.blocked(ctx, "pin", username) {
		return nil, ErrRateLimited
	}

	account, cred, err := s.store.FindByUsername(ctx, username)
	if errors.Is(err, ErrAccountNotFound) {
		_, _ = verifySecret(pin, dummyCredential.PinSalt, dummyCredential.PinHash)
		s.failed(ctx, "pin", username)
		return nil, ErrInvalidPin
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	ok, err := verifySecret(pin, cred.PinSalt, cred.PinHash)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if !ok {
		s.failed(ctx, "pin", username)
		return nil, ErrInvalidPin
	}
	return account, nil
}

// Limits are kept per action, username and client, so a stranger's bad
// guesses cannot lock the owner out from another address. Register spends a
// token on every attempt; login and PIN checks only on failures.
func limitKey(ctx context.Context, action, username string) string {
	return action + ":" + normalize(username) + "@" + ClientFrom(ctx)
}

func (s *service) allow(ctx context.Context, action, username string) bool {
	return s.limiter.Allow(limitKey(ctx, action, username), s.clock.Now())
}

func (s *service) blocked(ctx context.Context, action, username string) bool {
	return s.limiter.Blocked(limitKey(ctx, action, username), s.clock.Now())
}

func (s *service) failed(ctx context.Context, action, username string) {
	s.limiter.Allow(limitKey(ctx, action, username), s.clock.Now())
}

// record appends to the account's audit trail.
func (s *service) record(ctx context.Context, id uuid.UUID, expectedVersion int, eventType string, payload any) {
	if s.events == nil {
		return
	}
	event, err := eventstore.NewEvent(eventType, payload)
	if err == nil {
		err = s.events.Append(ctx, id, aggregateType, expectedVersion, event)
	}
	if err != nil {
		s.log.Warn("failed to append account event",
			slog.String("event_type", eventType),
			slog.String("account_id", id.String()),
			sl.Err(err))
	}
}
