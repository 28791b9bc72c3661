package external

import (
	"context"
	"net/http"
	"net/url"

	"github.com/kjannette/p2p-trade-client/internal/models"
)

type TradeFilter struct {
	Status string
	User   string
}

func (f TradeFilter) values() url.Values {
	q := url.Values{}
	if f.Status != "" {
		q.Set("status", f.Status)
	}
	if f.User != "" {
		q.Set("user", f.User)
	}
	return q
}

func (c *BackendClient) CreateTrade(ctx context.Context, in models.TradeInput) (int64, error) {
	var out models.IDResponse
	err := c.do(ctx, call{method: http.MethodPost, path: "/trades", body: in, protected: true}, &out)
	return out.ID, err
}

func (c *BackendClient) ListTrades(ctx context.Context, f TradeFilter) ([]models.Trade, error) {
	var out []models.Trade
	if err := c.do(ctx, call{method: http.MethodGet, path: "/trades", query: f.values()}, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *BackendClient) ListMyTrades(ctx context.Context) ([]models.Trade, error) {
	var out []models.Trade
	if err := c.do(ctx, call{method: http.MethodGet, path: "/my/trades", protected: true}, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *BackendClient) GetTrade(ctx context.Context, id int64) (*models.Trade, error) {
	var out models.Trade
	if err := c.do(ctx, call{method: http.MethodGet, path: pathf("/trades/%d", id)}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *BackendClient) UpdateTrade(ctx context.Context, id int64, in models.TradeInput) (int64, error) {
	var out models.IDResponse
	err := c.do(ctx, call{method: http.MethodPut, path: pathf("/trades/%d", id), body: in, protected: true}, &out)
	return out.ID, err
}

// MarkFiatPaid tells the backend the buyer has sent the fiat payment.
func (c *BackendClient) MarkFiatPaid(ctx context.Context, tradeID int64) (string, error) {
	var out models.MessageResponse
	body := map[string]int64{"trade_id": tradeID}
	err := c.do(ctx, call{method: http.MethodPost, path: "/escrows/mark-fiat-paid", body: body, protected: true}, &out)
	return out.Message, err
}
