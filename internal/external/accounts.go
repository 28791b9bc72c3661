package external

import (
	"context"
	"net/http"

	"github.com/kjannette/p2p-trade-client/internal/models"
)

func (c *BackendClient) CreateAccount(ctx context.Context, in models.AccountInput) (int64, error) {
	var out models.IDResponse
	err := c.do(ctx, call{method: http.MethodPost, path: "/accounts", body: in, protected: true}, &out)
	return out.ID, err
}

func (c *BackendClient) GetAccount(ctx context.Context, id int64) (*models.Account, error) {
	var out models.Account
	if err := c.do(ctx, call{method: http.MethodGet, path: pathf("/accounts/%d", id)}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetCurrentAccount returns the account linked to the credential's wallet.
// A 404 means the wallet has not registered yet.
func (c *BackendClient) GetCurrentAccount(ctx context.Context) (*models.Account, error) {
	var out models.Account
	if err := c.do(ctx, call{method: http.MethodGet, path: "/accounts/me", protected: true}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *BackendClient) UpdateAccount(ctx context.Context, id int64, in models.AccountInput) (int64, error) {
	var out models.IDResponse
	err := c.do(ctx, call{method: http.MethodPut, path: pathf("/accounts/%d", id), body: in, protected: true}, &out)
	return out.ID, err
}
