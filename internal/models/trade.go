package models

import (
	"strconv"
	"time"
)

// TradeState is the per-leg lifecycle state owned by the backend.
type TradeState string

const (
	StateCreated              TradeState = "CREATED"
	StateAwaitingFiatPayment  TradeState = "AWAITING_FIAT_PAYMENT"
	StatePendingCryptoRelease TradeState = "PENDING_CRYPTO_RELEASE"
	StateDisputed             TradeState = "DISPUTED"
	StateCompleted            TradeState = "COMPLETED"
	StateCancelled            TradeState = "CANCELLED"
)

func (s TradeState) IsTerminal() bool {
	return s == StateCompleted || s == StateCancelled
}

type OverallStatus string

const (
	OverallInProgress OverallStatus = "IN_PROGRESS"
	OverallCompleted  OverallStatus = "COMPLETED"
	OverallCancelled  OverallStatus = "CANCELLED"
	OverallDisputed   OverallStatus = "DISPUTED"
)

// USDCDecimals is the number of base units per whole token on the wire.
const USDCDecimals = 6

type Trade struct {
	ID                      int64         `json:"id"`
	Leg1OfferID             int64         `json:"leg1_offer_id"`
	Leg2OfferID             *int64        `json:"leg2_offer_id"`
	OverallStatus           OverallStatus `json:"overall_status"`
	FromFiatCurrency        string        `json:"from_fiat_currency"`
	DestinationFiatCurrency string        `json:"destination_fiat_currency"`
	FromBank                *string       `json:"from_bank"`
	DestinationBank         *string       `json:"destination_bank"`
	CreatedAt               time.Time     `json:"created_at"`
	UpdatedAt               time.Time     `json:"updated_at"`

	Leg1State                 TradeState `json:"leg1_state"`
	Leg1SellerAccountID       int64      `json:"leg1_seller_account_id"`
	Leg1BuyerAccountID        *int64     `json:"leg1_buyer_account_id"`
	Leg1CryptoToken           string     `json:"leg1_crypto_token"`
	Leg1CryptoAmount          string     `json:"leg1_crypto_amount"`
	Leg1FiatAmount            *string    `json:"leg1_fiat_amount"`
	Leg1FiatCurrency          string     `json:"leg1_fiat_currency"`
	Leg1EscrowAddress         *string    `json:"leg1_escrow_address"`
	Leg1CreatedAt             *time.Time `json:"leg1_created_at"`
	Leg1EscrowDepositDeadline *time.Time `json:"leg1_escrow_deposit_deadline"`
	Leg1FiatPaymentDeadline   *time.Time `json:"leg1_fiat_payment_deadline"`
	Leg1FiatPaidAt            *time.Time `json:"leg1_fiat_paid_at"`
	Leg1ReleasedAt            *time.Time `json:"leg1_released_at"`
	Leg1CancelledAt           *time.Time `json:"leg1_cancelled_at"`
	Leg1CancelledBy           *string    `json:"leg1_cancelled_by"`
	Leg1DisputeID             *int64     `json:"leg1_dispute_id"`

	// Leg 2 is only populated for cross-currency trades, which no current
	// flow creates.
	Leg2State                 *string    `json:"leg2_state"`
	Leg2SellerAccountID       *int64     `json:"leg2_seller_account_id"`
	Leg2BuyerAccountID        *int64     `json:"leg2_buyer_account_id"`
	Leg2CryptoToken           *string    `json:"leg2_crypto_token"`
	Leg2CryptoAmount          *string    `json:"leg2_crypto_amount"`
	Leg2FiatAmount            *string    `json:"leg2_fiat_amount"`
	Leg2FiatCurrency          *string    `json:"leg2_fiat_currency"`
	Leg2EscrowAddress         *string    `json:"leg2_escrow_address"`
	Leg2CreatedAt             *time.Time `json:"leg2_created_at"`
	Leg2EscrowDepositDeadline *time.Time `json:"leg2_escrow_deposit_deadline"`
	Leg2FiatPaymentDeadline   *time.Time `json:"leg2_fiat_payment_deadline"`
	Leg2FiatPaidAt            *time.Time `json:"leg2_fiat_paid_at"`
	Leg2ReleasedAt            *time.Time `json:"leg2_released_at"`
	Leg2CancelledAt           *time.Time `json:"leg2_cancelled_at"`
	Leg2CancelledBy           *string    `json:"leg2_cancelled_by"`
	Leg2DisputeID             *int64     `json:"leg2_dispute_id"`
}

// Version is the key used to order snapshots of the same trade.
func (t *Trade) Version() time.Time {
	return t.UpdatedAt
}

// CryptoBaseUnits parses leg1_crypto_amount, which the backend sends as a
// decimal string of token base units.
func (t *Trade) CryptoBaseUnits() (int64, error) {
	return strconv.ParseInt(t.Leg1CryptoAmount, 10, 64)
}

// TradeInput is the request body for trade create/update. Only set fields
// are sent.
type TradeInput struct {
	Leg1OfferID             *int64  `json:"leg1_offer_id,omitempty"`
	Leg1CryptoAmount        *string `json:"leg1_crypto_amount,omitempty"`
	FromFiatCurrency        *string `json:"from_fiat_currency,omitempty"`
	DestinationFiatCurrency *string `json:"destination_fiat_currency,omitempty"`
	FromBank                *string `json:"from_bank,omitempty"`
	DestinationBank         *string `json:"destination_bank,omitempty"`
	Leg1FiatAmount          *string `json:"leg1_fiat_amount,omitempty"`
	FiatPaid                *bool   `json:"fiat_paid,omitempty"`
}

// DeadlineExpired reports whether a deadline has passed. A nil deadline
// never expires.
func DeadlineExpired(deadline *time.Time, now time.Time) bool {
	if deadline == nil {
		return false
	}
	return now.After(*deadline)
}

// ToBaseUnits converts a whole-token amount to base units.
func ToBaseUnits(amount float64) int64 {
	scale := 1.0
	for range USDCDecimals {
		scale *= 10
	}
	return int64(amount*scale + 0.5)
}
