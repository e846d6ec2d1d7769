package accounts_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"vowmarket/internal/accounts"
	"vowmarket/internal/apperr"
)

type mockService struct {
	mock.Mock
}

func (m *mockService) Register(ctx context.Context, username, password, pin string, role accounts.Role) (uuid.UUID, error) {
	args := m.Called(ctx, username, password, pin, role)
	return args.Get(0).(uuid.UUID), args.Error(1)
}

func (m *mockService) Login(ctx context.Context, username, password string) (*accounts.Session, error) {
	args := m.Called(ctx, username, password)
	session, _ := args.Get(0).(*accounts.Session)
	return session, args.Error(1)
}

func (m *mockService) VerifyPin(ctx context.Context, username, pin string) error {
	return m.Called(ctx, username, pin).Error(0)
}

func (m *mockService) ResetPassword(ctx context.Context, username, pin, newPassword string) error {
	return m.Called(ctx, username, pin, newPassword).Error(0)
}

func (m *mockService) GetAccount(ctx context.Context, id uuid.UUID) (*accounts.Account, error) {
	args := m.Called(ctx, id)
	account, _ := args.Get(0).(*accounts.Account)
	return account, args.Error(1)
}

func newTestRouter(svc accounts.Service) http.Handler {
	r := chi.NewRouter()
	accounts.NewHandler(svc, nil).Routes(r)
	return r
}

func doJSON(t *testing.T, h http.Handler, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return rec, out
}

func TestHandler_Register(t *testing.T) {
	id := uuid.New()

	tests := []struct {
		name      string
		body      string
		setup     func(m *mockService)
		wantCode  int
		wantError string
	}{
		{
			name: "created",
			body: `{"username":"alice123","password":"validPass1","pin":"1234","role":"vendor"}`,
			setup: func(m *mockService) {
				m.On("Register", mock.Anything, "alice123", "validPass1", "1234", accounts.RoleVendor).Return(id, nil)
			},
			wantCode: http.StatusCreated,
		},
		{
			name: "duplicate",
			body: `{"username":"alice123","password":"validPass1","pin":"1234","role":"client"}`,
			setup: func(m *mockService) {
				m.On("Register", mock.Anything, "alice123", "validPass1", "1234", accounts.RoleClient).
					Return(uuid.Nil, accounts.ErrDuplicateUsername)
			},
			wantCode:  http.StatusConflict,
			wantError: "username is already taken",
		},
		{
			name: "service validation",
			body: `{"username":"alice123","password":"password1x","pin":"1234","role":"client"}`,
			setup: func(m *mockService) {
				m.On("Register", mock.Anything, "alice123", "password1x", "1234", accounts.RoleClient).
					Return(uuid.Nil, apperr.Invalid("password", "must contain a letter and a digit"))
			},
			wantCode:  http.StatusBadRequest,
			wantError: "invalid password: must contain a letter and a digit",
		},
		{
			name:      "admin rejected before service",
			body:      `{"username":"alice123","password":"validPass1","pin":"1234","role":"admin"}`,
			wantCode:  http.StatusBadRequest,
			wantError: "field Role must be one of [client vendor]",
		},
		{
			name:      "bad json",
			body:      `{"username":`,
			wantCode:  http.StatusBadRequest,
			wantError: "failed to decode request",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := &mockService{}
			if tt.setup != nil {
				tt.setup(m)
			}
			rec, body := doJSON(t, newTestRouter(m), http.MethodPost, "/accounts", tt.body)

			assert.Equal(t, tt.wantCode, rec.Code)
			if tt.wantError != "" {
				assert.Equal(t, tt.wantError, body["error"])
			} else {
				data := body["data"].(map[string]any)
				assert.Equal(t, id.String(), data["account_id"])
			}
			m.AssertExpectations(t)
		})
	}
}

func TestHandler_Login(t *testing.T) {
	id := uuid.New()
	expires := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

	m := &mockService{}
	m.On("Login", mock.Anything, "rosehall", "bouquet42").Return(&accounts.Session{
		AccountID: id, Username: "rosehall", Role: accounts.RoleVendor, Token: "tok", ExpiresAt: expires,
	}, nil)
	m.On("Login", mock.Anything, "rosehall", "nope").Return(nil, accounts.ErrInvalidCredentials)
	router := newTestRouter(m)

	rec, body := doJSON(t, router, http.MethodPost, "/login", `{"username":"rosehall","password":"bouquet42"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	data := body["data"].(map[string]any)
	assert.Equal(t, "tok", data["token"])
	assert.Equal(t, "vendor", data["role"])
	assert.Equal(t, id.String(), data["account_id"])

	rec, body = doJSON(t, router, http.MethodPost, "/login", `{"username":"rosehall","password":"nope"}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "invalid credentials", body["error"])

	rec, body = doJSON(t, router, http.MethodPost, "/login", `{"username":""}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "invalid credentials", body["error"])

	m.AssertExpectations(t)
}

func TestHandler_PinFailuresLookLikeCredentialFailures(t *testing.T) {
	m := &mockService{}
	m.On("VerifyPin", mock.Anything, "anna1990", "1111").Return(accounts.ErrInvalidPin)
	m.On("ResetPassword", mock.Anything, "ghost", "2468", "secondPass2").Return(accounts.ErrInvalidPin)
	m.On("ResetPassword", mock.Anything, "anna1990", "2468", "secondPass2").Return(nil)
	router := newTestRouter(m)

	rec, body := doJSON(t, router, http.MethodPost, "/pin/verify", `{"username":"anna1990","pin":"1111"}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "invalid credentials", body["error"])

	rec, body = doJSON(t, router, http.MethodPost, "/password/reset",
		`{"username":"ghost","pin":"2468","new_password":"secondPass2"}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "invalid credentials", body["error"])

	rec, body = doJSON(t, router, http.MethodPost, "/password/reset",
		`{"username":"anna1990","pin":"2468","new_password":"secondPass2"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", body["status"])

	m.AssertExpectations(t)
}

func TestHandler_GetAccount(t *testing.T) {
	id := uuid.New()
	missing := uuid.New()

	m := &mockService{}
	m.On("GetAccount", mock.Anything, id).Return(&accounts.Account{ID: id, Username: "rosehall", Role: accounts.RoleVendor}, nil)
	m.On("GetAccount", mock.Anything, missing).Return(nil, accounts.ErrAccountNotFound)
	m.On("GetAccount", mock.Anything, mock.Anything).Return(nil, errors.New("db down"))
	router := newTestRouter(m)

	rec, body := doJSON(t, router, http.MethodGet, "/accounts/"+id.String(), "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "vendor", body["data"].(map[string]any)["role"])

	rec, _ = doJSON(t, router, http.MethodGet, "/accounts/"+missing.String(), "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, _ = doJSON(t, router, http.MethodGet, "/accounts/not-a-uuid", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, body = doJSON(t, router, http.MethodGet, "/accounts/"+uuid.NewString(), "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "internal error", body["error"])
}
