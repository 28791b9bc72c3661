package external

import (
	"context"
	"net/http"

	"github.com/kjannette/p2p-trade-client/internal/models"
)

// GetPrices returns the backend's current USDC quotes across supported fiat.
func (c *BackendClient) GetPrices(ctx context.Context) (*models.PricesResponse, error) {
	var out models.PricesResponse
	if err := c.do(ctx, call{method: http.MethodGet, path: "/prices"}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
