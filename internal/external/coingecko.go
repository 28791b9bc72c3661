package external

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/kjannette/p2p-trade-client/internal/httputil"
)

const coingeckoURL = "https://api.coingecko.com/api/v3"

// CoinGeckoClient fetches reference USDC prices, used to sanity-check the
// backend's quotes. Unlike BackendClient it retries on 5xx.
type CoinGeckoClient struct {
	baseURL    string
	httpClient *http.Client
	retry      httputil.RetryConfig
}

func NewCoinGeckoClient(baseURL string) *CoinGeckoClient {
	if baseURL == "" {
		baseURL = coingeckoURL
	}
	return &CoinGeckoClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 10 * time.Second},
		retry: httputil.RetryConfig{
			MaxAttempts: 3,
			BaseDelay:   2 * time.Second,
			MaxDelay:    10 * time.Second,
		},
	}
}

// GetUSDCPrices returns the USDC price in each requested fiat code
// (upper-case keys, e.g. "USD").
func (c *CoinGeckoClient) GetUSDCPrices(ctx context.Context, fiat []string) (map[string]float64, error) {
	if len(fiat) == 0 {
		return map[string]float64{}, nil
	}
	vs := make([]string, len(fiat))
	for i, f := range fiat {
		vs[i] = strings.ToLower(f)
	}
	q := url.Values{}
	q.Set("ids", "usd-coin")
	q.Set("vs_currencies", strings.Join(vs, ","))
	u := c.baseURL + "/simple/price?" + q.Encode()

	resp, err := httputil.Do(ctx, c.httpClient, c.retry, func() (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	})
	if err != nil {
		return nil, fmt.Errorf("coingecko fetch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("coingecko returned status %d", resp.StatusCode)
	}

	var data map[string]map[string]float64
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}

	out := make(map[string]float64, len(fiat))
	for k, v := range data["usd-coin"] {
		if v <= 0 {
			return nil, fmt.Errorf("invalid %s price: %f", k, v)
		}
		out[strings.ToUpper(k)] = v
	}
	return out, nil
}
