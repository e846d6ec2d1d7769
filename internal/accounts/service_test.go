package accounts_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vowmarket/internal/accounts"
	"vowmarket/internal/apperr"
	"vowmarket/internal/clock"
	"vowmarket/internal/lib/jwt"
	"vowmarket/pkg/eventstore"
)

type fixture struct {
	svc    accounts.Service
	store  *accounts.MemoryStore
	events *eventstore.Memory
	maker  *jwt.MakerImpl
	clock  *clock.Fake
}

func newFixture(t *testing.T, opts ...accounts.Option) *fixture {
	t.Helper()
	f := &fixture{
		store:  accounts.NewMemoryStore(),
		events: eventstore.NewMemory(),
		maker:  jwt.NewMaker("test-secret", time.Hour),
		clock:  clock.NewFake(time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)),
	}
	opts = append([]accounts.Option{
		accounts.WithClock(f.clock),
		accounts.WithEvents(f.events),
	}, opts...)
	f.svc = accounts.NewService(f.store, f.maker, opts...)
	return f
}

func TestRegister_RoundTrip(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	id, err := f.svc.Register(ctx, "alice123", "validPass1", "1234", accounts.RoleVendor)
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, id)

	_, err = f.svc.Register(ctx, "alice123", "otherPass2", "9999", accounts.RoleClient)
	assert.ErrorIs(t, err, accounts.ErrDuplicateUsername)

	_, err = f.svc.Register(ctx, "ALICE123", "otherPass2", "9999", accounts.RoleClient)
	assert.ErrorIs(t, err, accounts.ErrDuplicateUsername, "usernames are case-insensitive")

	account, err := f.svc.GetAccount(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "alice123", account.Username)
	assert.Equal(t, accounts.RoleVendor, account.Role)
	assert.Equal(t, f.clock.Now(), account.CreatedAt)

	events, err := f.events.Load(ctx, id, 0, 0)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, accounts.EventRegistered, events[0].Type)
}

func TestRegister_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tests := []struct {
		name     string
		username string
		password string
		pin      string
		role     accounts.Role
		field    string
	}{
		{name: "username too short", username: "ab", password: "validPass1", pin: "1234", role: accounts.RoleClient, field: "username"},
		{name: "username too long", username: "abcdefghijklm", password: "validPass1", pin: "1234", role: accounts.RoleClient, field: "username"},
		{name: "username symbols", username: "alice_1", password: "validPass1", pin: "1234", role: accounts.RoleClient, field: "username"},
		{name: "password short", username: "alice", password: "pass1", pin: "1234", role: accounts.RoleClient, field: "password"},
		{name: "six char password", username: "alice", password: "abc123", pin: "1234", role: accounts.RoleClient, field: "password"},
		{name: "password no digit", username: "alice", password: "passwordonly", pin: "1234", role: accounts.RoleClient, field: "password"},
		{name: "password no letter", username: "alice", password: "12345678", pin: "1234", role: accounts.RoleClient, field: "password"},
		{name: "pin letters", username: "alice", password: "validPass1", pin: "12a4", role: accounts.RoleClient, field: "pin"},
		{name: "pin length", username: "alice", password: "validPass1", pin: "12345", role: accounts.RoleClient, field: "pin"},
		{name: "admin", username: "alice", password: "validPass1", pin: "1234", role: accounts.RoleAdmin, field: "role"},
		{name: "unknown role", username: "alice", password: "validPass1", pin: "1234", role: "planner", field: "role"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.Register(ctx, tt.username, tt.password, tt.pin, tt.role)
			require.ErrorIs(t, err, apperr.ErrValidation)

			var verr *apperr.ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.field, verr.Field)
		})
	}

	_, _, err := f.store.FindByUsername(ctx, "alice")
	assert.ErrorIs(t, err, accounts.ErrAccountNotFound, "nothing stored after validation failures")
}

func TestLogin(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	id, err := f.svc.Register(ctx, "rosehall", "bouquet42", "4321", accounts.RoleVendor)
	require.NoError(t, err)

	session, err := f.svc.Login(ctx, "rosehall", "bouquet42")
	require.NoError(t, err)
	assert.Equal(t, id, session.AccountID)
	assert.Equal(t, accounts.RoleVendor, session.Role)

	claims, err := f.maker.ParseToken(session.Token)
	require.NoError(t, err)
	assert.Equal(t, id, claims.AccountID)
	assert.Equal(t, "vendor", claims.Role)

	_, err = f.svc.Login(ctx, "rosehall", "wrongPass1")
	assert.ErrorIs(t, err, accounts.ErrInvalidCredentials)

	_, err = f.svc.Login(ctx, "nobody", "bouquet42")
	assert.ErrorIs(t, err, accounts.ErrInvalidCredentials)
}

func TestLogin_FailuresAreIndistinguishable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.svc.Register(ctx, "rosehall", "bouquet42", "4321", accounts.RoleVendor)
	require.NoError(t, err)

	_, wrongPassword := f.svc.Login(ctx, "rosehall", "wrongPass1")
	_, unknownUser := f.svc.Login(ctx, "ghost", "wrongPass1")
	assert.Equal(t, wrongPassword.Error(), unknownUser.Error())
}

func TestVerifyPinAndReset(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	id, err := f.svc.Register(ctx, "anna1990", "firstPass1", "2468", accounts.RoleClient)
	require.NoError(t, err)

	assert.NoError(t, f.svc.VerifyPin(ctx, "anna1990", "2468"))
	assert.ErrorIs(t, f.svc.VerifyPin(ctx, "anna1990", "1111"), accounts.ErrInvalidPin)
	assert.ErrorIs(t, f.svc.VerifyPin(ctx, "ghost", "2468"), accounts.ErrInvalidPin)
	assert.ErrorIs(t, f.svc.VerifyPin(ctx, "anna1990", "24"), apperr.ErrValidation)

	err = f.svc.ResetPassword(ctx, "anna1990", "1111", "secondPass2")
	assert.ErrorIs(t, err, accounts.ErrInvalidPin)

	err = f.svc.ResetPassword(ctx, "anna1990", "2468", "short")
	assert.ErrorIs(t, err, apperr.ErrValidation)

	require.NoError(t, f.svc.ResetPassword(ctx, "anna1990", "2468", "secondPass2"))

	_, err = f.svc.Login(ctx, "anna1990", "firstPass1")
	assert.ErrorIs(t, err, accounts.ErrInvalidCredentials)
	session, err := f.svc.Login(ctx, "anna1990", "secondPass2")
	require.NoError(t, err)
	assert.Equal(t, accounts.RoleClient, session.Role, "reset never touches the role")

	events, err := f.events.Load(ctx, id, 0, 0)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, accounts.EventPasswordReset, events[1].Type)
	assert.Equal(t, 2, events[1].Version)
}

func TestRoleIsImmutable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	id, err := f.svc.Register(ctx, "clientone", "validPass1", "1234", accounts.RoleClient)
	require.NoError(t, err)

	_, err = f.svc.Login(ctx, "clientone", "validPass1")
	require.NoError(t, err)
	require.NoError(t, f.svc.ResetPassword(ctx, "clientone", "1234", "validPass2"))
	_, err = f.svc.Register(ctx, "clientone", "validPass1", "1234", accounts.RoleVendor)
	require.ErrorIs(t, err, accounts.ErrDuplicateUsername)

	account, err := f.svc.GetAccount(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, accounts.RoleClient, account.Role)
}

func TestLogin_RateLimited(t *testing.T) {
	f := newFixture(t, accounts.WithRateLimit(time.Minute, 3))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := f.svc.Login(ctx, "ghost", "wrongPass1")
		assert.ErrorIs(t, err, accounts.ErrInvalidCredentials)
	}
	_, err := f.svc.Login(ctx, "ghost", "wrongPass1")
	assert.ErrorIs(t, err, accounts.ErrRateLimited)

	_, err = f.svc.Login(ctx, "someoneelse", "wrongPass1")
	assert.ErrorIs(t, err, accounts.ErrInvalidCredentials, "limits are per username")

	f.clock.Advance(time.Minute)
	_, err = f.svc.Login(ctx, "ghost", "wrongPass1")
	assert.ErrorIs(t, err, accounts.ErrInvalidCredentials)
}

func TestLogin_FailuresFromOneClientDoNotLockOutAnother(t *testing.T) {
	f := newFixture(t, accounts.WithRateLimit(time.Minute, 3))
	ctx := context.Background()
	_, err := f.svc.Register(ctx, "vendor77", "validPass1", "1234", accounts.RoleVendor)
	require.NoError(t, err)

	attacker := accounts.WithClient(ctx, "203.0.113.9")
	owner := accounts.WithClient(ctx, "198.51.100.4")

	for i := 0; i < 3; i++ {
		_, err := f.svc.Login(attacker, "vendor77", "wrongPass1")
		require.ErrorIs(t, err, accounts.ErrInvalidCredentials)
	}
	_, err = f.svc.Login(attacker, "vendor77", "validPass1")
	assert.ErrorIs(t, err, accounts.ErrRateLimited)

	session, err := f.svc.Login(owner, "vendor77", "validPass1")
	require.NoError(t, err)
	assert.NotEmpty(t, session.Token)
}

func TestLogin_SuccessDoesNotSpendAttempts(t *testing.T) {
	f := newFixture(t, accounts.WithRateLimit(time.Minute, 2))
	ctx := accounts.WithClient(context.Background(), "198.51.100.4")
	_, err := f.svc.Register(ctx, "vendor88", "validPass1", "1234", accounts.RoleVendor)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		_, err := f.svc.Login(ctx, "vendor88", "validPass1")
		require.NoError(t, err)
	}
	_, err = f.svc.Login(ctx, "vendor88", "wrongPass1")
	assert.ErrorIs(t, err, accounts.ErrInvalidCredentials)
}

func TestVerifyPin_LimitedAfterFailures(t *testing.T) {
	f := newFixture(t, accounts.WithRateLimit(time.Minute, 2))
	ctx := accounts.WithClient(context.Background(), "203.0.113.9")
	_, err := f.svc.Register(ctx, "vendor99", "validPass1", "1234", accounts.RoleVendor)
	require.NoError(t, err)

	require.ErrorIs(t, f.svc.VerifyPin(ctx, "vendor99", "0000"), accounts.ErrInvalidPin)
	require.ErrorIs(t, f.svc.VerifyPin(ctx, "vendor99", "0001"), accounts.ErrInvalidPin)
	assert.ErrorIs(t, f.svc.VerifyPin(ctx, "vendor99", "1234"), accounts.ErrRateLimited)
	assert.NoError(t, f.svc.VerifyPin(context.Background(), "vendor99", "1234"))
}

func TestGetAccount_NotFound(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.GetAccount(context.Background(), uuid.New())
	assert.ErrorIs(t, err, accounts.ErrAccountNotFound)
}
