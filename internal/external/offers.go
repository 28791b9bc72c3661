package external

import (
	"context"
	"net/http"
	"net/url"

	"github.com/kjannette/p2p-trade-client/internal/models"
)

type OfferFilter struct {
	Type  models.OfferType
	Token string
}

func (f OfferFilter) values() url.Values {
	q := url.Values{}
	if f.Type != "" {
		q.Set("type", string(f.Type))
	}
	if f.Token != "" {
		q.Set("token", f.Token)
	}
	return q
}

func (c *BackendClient) CreateOffer(ctx context.Context, in models.OfferInput) (int64, error) {
	var out models.IDResponse
	err := c.do(ctx, call{method: http.MethodPost, path: "/offers", body: in, protected: true}, &out)
	return out.ID, err
}

func (c *BackendClient) ListOffers(ctx context.Context, f OfferFilter) ([]models.Offer, error) {
	var out []models.Offer
	if err := c.do(ctx, call{method: http.MethodGet, path: "/offers", query: f.values()}, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *BackendClient) GetOffer(ctx context.Context, id int64) (*models.Offer, error) {
	var out models.Offer
	if err := c.do(ctx, call{method: http.MethodGet, path: pathf("/offers/%d", id)}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *BackendClient) UpdateOffer(ctx context.Context, id int64, in models.OfferInput) (int64, error) {
	var out models.IDResponse
	err := c.do(ctx, call{method: http.MethodPut, path: pathf("/offers/%d", id), body: in, protected: true}, &out)
	return out.ID, err
}

func (c *BackendClient) DeleteOffer(ctx context.Context, id int64) (string, error) {
	var out models.MessageResponse
	err := c.do(ctx, call{method: http.MethodDelete, path: pathf("/offers/%d", id), protected: true}, &out)
	return out.Message, err
}
