// internal/clients/accounts_client.go
package clients

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/google/uuid"

	"vowmarket/internal/accounts"
)

// AccountsClient talks to the accounts service. It satisfies
// premium.VendorDirectory when the two services run apart.
type AccountsClient struct {
	base
}

func NewAccountsClient(baseURL string, client *http.Client) *AccountsClient {
	return &AccountsClient{base: newBase(baseURL, client, DefaultBreakerSettings("accounts"))}
}

func NewAccountsClientWithBreaker(baseURL string, client *http.Client, settings BreakerSettings) *AccountsClient {
	return &AccountsClient{base: newBase(baseURL, client, settings)}
}

func (c *AccountsClient) GetAccount(ctx context.Context, id uuid.UUID) (*accounts.Account, error) {
	var account accounts.Account
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/accounts/%s", id), "", nil, &account); err != nil {
		return nil, mapAccountsError(err)
	}
	return &account, nil
}

func (c *AccountsClient) Register(ctx context.Context, username, password, pin string, role accounts.Role) (uuid.UUID, error) {
	req := map[string]any{"username": username, "password": password, "pin": pin, "role": role}
	var out struct {
		AccountID uuid.UUID `json:"account_id"`
	}
	if err := c.do(ctx, http.MethodPost, "/accounts", "", req, &out); err != nil {
		return uuid.Nil, mapAccountsError(err)
	}
	return out.AccountID, nil
}

func (c *AccountsClient) Login(ctx context.Context, username, password string) (*accounts.Session, error) {
	req := map[string]string{"username": username, "password": password}
	var session accounts.Session
	if err := c.do(ctx, http.MethodPost, "/login", "", req, &session); err != nil {
		return nil, mapAccountsError(err)
	}
	return &session, nil
}

func mapAccountsError(err error) error {
	var se *StatusError
	if !errors.As(err, &se) {
		return err
	}
	switch se.Code {
	case http.StatusNotFound:
		return accounts.ErrAccountNotFound
	case http.StatusUnauthorized:
		return accounts.ErrInvalidCredentials
	case http.StatusConflict:
		return accounts.ErrDuplicateUsername
	case http.StatusTooManyRequests:
		return accounts.ErrRateLimited
	}
	return err
}
