// Package display formats backend values for the CLI and the view server.
package display

import (
	"fmt"
	"math"
	"sort"
	"strconv"

	"github.com/kjannette/p2p-trade-client/internal/models"
)

// FormatRate renders a multiplicative rate adjustment as a signed percent:
// 1.05 is "+5.0%", 0.95 is "-5.0%". Only exactly 1 is "0%", so 1.0004 is
// "+0.0%".
func FormatRate(adj float64) string {
	switch {
	case adj > 1:
		return fmt.Sprintf("+%.1f%%", (adj-1)*100)
	case adj < 1:
		return fmt.Sprintf("-%.1f%%", (1-adj)*100)
	}
	return "0%"
}

func AbbreviateWallet(addr string) string {
	if len(addr) <= 8 {
		return addr
	}
	return addr[:4] + "..." + addr[len(addr)-4:]
}

func TradeActionLabel(authenticated bool) string {
	if authenticated {
		return "Start Trade"
	}
	return "Connect Wallet to Trade"
}

// FormatBaseUnits renders a base-unit string (e.g. "1500000") as a token
// amount ("1.50"). Unparseable input is returned unchanged.
func FormatBaseUnits(s string) string {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return s
	}
	return strconv.FormatFloat(float64(n)/math.Pow10(models.USDCDecimals), 'f', 2, 64)
}

// SortOffers orders offers most recently updated first, ties by id.
func SortOffers(offers []models.Offer) {
	sort.SliceStable(offers, func(i, j int) bool {
		if !offers[i].UpdatedAt.Equal(offers[j].UpdatedAt) {
			return offers[i].UpdatedAt.After(offers[j].UpdatedAt)
		}
		return offers[i].ID > offers[j].ID
	})
}

// SortTrades orders trades most recently updated first.
func SortTrades(trades []models.Trade) {
	sort.SliceStable(trades, func(i, j int) bool {
		return trades[i].UpdatedAt.After(trades[j].UpdatedAt)
	})
}
