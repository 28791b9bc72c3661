package models

import (
	"fmt"
	"sort"
	"strconv"
)

// SupportedFiat lists the fiat currencies the backend quotes USDC against.
var SupportedFiat = []string{"USD", "COP", "EUR", "NGN", "VES"}

type PriceQuote struct {
	Price     string `json:"price"`
	Timestamp int64  `json:"timestamp"`
}

func (q PriceQuote) Float() (float64, error) {
	return strconv.ParseFloat(q.Price, 64)
}

// PricesResponse mirrors GET /prices: data[token][fiat].
type PricesResponse struct {
	Status string                           `json:"status"`
	Data   map[string]map[string]PriceQuote `json:"data"`
}

// Quote returns the market price of token in fiat.
func (p *PricesResponse) Quote(token, fiat string) (float64, error) {
	byFiat, ok := p.Data[token]
	if !ok {
		return 0, fmt.Errorf("no prices for token %s", token)
	}
	q, ok := byFiat[fiat]
	if !ok {
		return 0, fmt.Errorf("no %s price for %s", fiat, token)
	}
	f, err := q.Float()
	if err != nil {
		return 0, fmt.Errorf("parse %s/%s price %q: %w", token, fiat, q.Price, err)
	}
	return f, nil
}

// Currencies returns the fiat codes quoted for token, sorted.
func (p *PricesResponse) Currencies(token string) []string {
	var out []string
	for fiat := range p.Data[token] {
		out = append(out, fiat)
	}
	sort.Strings(out)
	return out
}
