// Package validation holds the client-side checks run before an offer or a
// trade is submitted. The backend remains authoritative.
package validation

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/kjannette/p2p-trade-client/internal/models"
)

// ValidationError is an input constraint violated before submission.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// OfferCheck validates an offer before create or update.
func OfferCheck(o *models.Offer) error {
	if o.OfferType != models.OfferBuy && o.OfferType != models.OfferSell {
		return invalid("offer_type", "must be BUY or SELL, got %q", o.OfferType)
	}
	for _, f := range []struct {
		name string
		v    models.Amount
	}{
		{"min_amount", o.MinAmount},
		{"max_amount", o.MaxAmount},
		{"total_available_amount", o.TotalAvailableAmount},
		{"rate_adjustment", o.RateAdjustment},
	} {
		if !f.v.Finite() {
			return invalid(f.name, "must be a finite number")
		}
	}
	if o.MinAmount <= 0 {
		return invalid("min_amount", "must be greater than 0")
	}
	if o.MinAmount > o.MaxAmount {
		return invalid("min_amount", "%v exceeds max_amount %v", o.MinAmount, o.MaxAmount)
	}
	if o.TotalAvailableAmount > 0 && o.MaxAmount > o.TotalAvailableAmount {
		return invalid("max_amount", "%v exceeds total_available_amount %v",
			o.MaxAmount, o.TotalAvailableAmount)
	}
	if o.RateAdjustment <= 0 {
		return invalid("rate_adjustment", "must be greater than 0")
	}
	return nil
}

// TradeAmountCheck validates a requested amount (whole tokens) against the
// offer's bounds.
func TradeAmountCheck(o *models.Offer, amount float64) error {
	if math.IsNaN(amount) || math.IsInf(amount, 0) {
		return invalid("amount", "must be a finite number")
	}
	if amount <= 0 {
		return invalid("amount", "must be greater than 0")
	}
	if amount < o.MinAmount.Float() {
		return invalid("amount", "%v is below the offer minimum of %v", amount, o.MinAmount)
	}
	if o.MaxAmount > 0 && amount > o.MaxAmount.Float() {
		return invalid("amount", "%v exceeds the offer maximum of %v", amount, o.MaxAmount)
	}
	if o.TotalAvailableAmount > 0 && amount > o.TotalAvailableAmount.Float() {
		return invalid("amount", "%v exceeds the %v available", amount, o.TotalAvailableAmount)
	}
	return nil
}

// ErrTradeBlocked is returned when a local limit stops a trade.
var ErrTradeBlocked = errors.New("trade blocked")

// OpenTradeCounter abstracts counting the user's in-progress trades so Guard
// can be tested without a backend.
type OpenTradeCounter interface {
	CountOpen(ctx context.Context) (int, error)
}

// Limits are local safety thresholds from config.
// A zero value for any field means that check is disabled.
type Limits struct {
	MaxTradeAmount float64
	MaxOpenTrades  int
}

type Guard struct {
	limits  Limits
	counter OpenTradeCounter
}

func NewGuard(limits Limits, counter OpenTradeCounter) *Guard {
	return &Guard{limits: limits, counter: counter}
}

// PreTradeCheck runs the offer bounds and then the local limits.
// Returns nil if the trade may be started.
func (g *Guard) PreTradeCheck(ctx context.Context, o *models.Offer, amount float64) error {
	if err := TradeAmountCheck(o, amount); err != nil {
		return err
	}

	if g.limits.MaxTradeAmount > 0 && amount > g.limits.MaxTradeAmount {
		return fmt.Errorf("%w: amount %.2f exceeds local max %.2f", ErrTradeBlocked,
			amount, g.limits.MaxTradeAmount)
	}

	if g.limits.MaxOpenTrades > 0 && g.counter != nil {
		count, err := g.counter.CountOpen(ctx)
		if err != nil {
			return fmt.Errorf("%w: unable to count open trades: %w", ErrTradeBlocked, err)
		}
		if count >= g.limits.MaxOpenTrades {
			return fmt.Errorf("%w: %d trades already in progress (limit %d)", ErrTradeBlocked,
				count, g.limits.MaxOpenTrades)
		}
	}

	return nil
}
