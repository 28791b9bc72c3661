package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/kjannette/p2p-trade-client/internal/models"
)

type quoteJSON struct {
	Fiat  string  `json:"fiat"`
	Price float64 `json:"price"`
	T     int64   `json:"t"`
}

func (s *Server) handlePrices(w http.ResponseWriter, r *http.Request) {
	token := strings.ToUpper(r.URL.Query().Get("token"))
	if token == "" {
		token = "USDC"
	}

	prices, err := s.deps.Backend.GetPrices(r.Context())
	if err != nil {
		s.writeFailure(w, "get prices", err)
		return
	}

	out := []quoteJSON{}
	for _, fiat := range prices.Currencies(token) {
		p, err := prices.Quote(token, fiat)
		if err != nil {
			s.log.Warn().Err(err).Msg("skipping unparseable quote")
			continue
		}
		out = append(out, quoteJSON{Fiat: fiat, Price: p, T: prices.Data[token][fiat].Timestamp})
	}
	writeJSON(w, http.StatusOK, out)
}

type priceJSON struct {
	T int64   `json:"t"`
	P float64 `json:"p"`
}

func (s *Server) handlePriceHistory(w http.ResponseWriter, r *http.Request) {
	if s.deps.Prices == nil {
		writeError(w, http.StatusNotFound, "journal disabled")
		return
	}
	q := r.URL.Query()
	fiat := strings.ToUpper(q.Get("fiat"))
	if fiat == "" {
		fiat = "USD"
	}
	if !supportedFiat(fiat) {
		writeError(w, http.StatusBadRequest, "unsupported fiat currency")
		return
	}
	hours := 24
	if v := q.Get("hours"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 24*30 {
			writeError(w, http.StatusBadRequest, "invalid hours")
			return
		}
		hours = n
	}

	points, err := s.deps.Prices.GetSince(r.Context(), "USDC", fiat, time.Now().Add(-time.Duration(hours)*time.Hour))
	if err != nil {
		s.log.Error().Err(err).Msg("price history failed")
		writeError(w, http.StatusInternalServerError, "failed to fetch prices")
		return
	}

	out := make([]priceJSON, len(points))
	for i, p := range points {
		out[i] = priceJSON{T: p.Timestamp.UnixMilli(), P: p.Price}
	}
	writeJSON(w, http.StatusOK, out)
}

func supportedFiat(code string) bool {
	for _, f := range models.SupportedFiat {
		if f == code {
			return true
		}
	}
	return false
}
