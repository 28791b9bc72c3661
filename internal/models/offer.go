package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

type OfferType string

const (
	OfferBuy  OfferType = "BUY"
	OfferSell OfferType = "SELL"
)

type Offer struct {
	ID                     int64     `json:"id"`
	CreatorAccountID       int64     `json:"creator_account_id"`
	OfferType              OfferType `json:"offer_type"`
	Token                  string    `json:"token"`
	MinAmount              Amount    `json:"min_amount"`
	MaxAmount              Amount    `json:"max_amount"`
	TotalAvailableAmount   Amount    `json:"total_available_amount"`
	RateAdjustment         Amount    `json:"rate_adjustment"`
	Terms                  string    `json:"terms"`
	EscrowDepositTimeLimit TimeLimit `json:"escrow_deposit_time_limit"`
	FiatPaymentTimeLimit   TimeLimit `json:"fiat_payment_time_limit"`
	FiatCurrency           string    `json:"fiat_currency"`
	CreatedAt              time.Time `json:"created_at"`
	UpdatedAt              time.Time `json:"updated_at"`
}

// OfferInput is the request body for offer create/update.
type OfferInput struct {
	CreatorAccountID       *int64     `json:"creator_account_id,omitempty"`
	OfferType              *OfferType `json:"offer_type,omitempty"`
	Token                  *string    `json:"token,omitempty"`
	MinAmount              *Amount    `json:"min_amount,omitempty"`
	MaxAmount              *Amount    `json:"max_amount,omitempty"`
	TotalAvailableAmount   *Amount    `json:"total_available_amount,omitempty"`
	RateAdjustment         *Amount    `json:"rate_adjustment,omitempty"`
	Terms                  *string    `json:"terms,omitempty"`
	EscrowDepositTimeLimit *TimeLimit `json:"escrow_deposit_time_limit,omitempty"`
	FiatPaymentTimeLimit   *TimeLimit `json:"fiat_payment_time_limit,omitempty"`
	FiatCurrency           *string    `json:"fiat_currency,omitempty"`
}

// Amount is a decimal the backend sends either as a JSON number or as a
// numeric string (Postgres NUMERIC columns).
type Amount float64

func (a Amount) Float() float64 { return float64(a) }

func (a Amount) Finite() bool {
	f := float64(a)
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

func (a Amount) MarshalJSON() ([]byte, error) {
	if !a.Finite() {
		return nil, fmt.Errorf("amount %v is not a finite number", float64(a))
	}
	return []byte(strconv.FormatFloat(float64(a), 'f', -1, 64)), nil
}

func (a *Amount) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		*a = 0
		return nil
	}
	s := string(b)
	if b[0] == '"' {
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		s = strings.TrimSpace(s)
		if s == "" {
			*a = 0
			return nil
		}
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("amount %s: %w", string(b), err)
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return fmt.Errorf("amount %s: not a finite number", string(b))
	}
	*a = Amount(f)
	return nil
}

// TimeLimit is a duration encoded by the backend as a Postgres interval:
// either an object ({"hours":1,"minutes":30}) or a string ("15 minutes",
// "00:15:00"). It is sent back as "<n> minutes".
type TimeLimit struct {
	time.Duration
}

func Minutes(n int) TimeLimit {
	return TimeLimit{time.Duration(n) * time.Minute}
}

func (l TimeLimit) MarshalJSON() ([]byte, error) {
	return json.Marshal(fmt.Sprintf("%d minutes", int(l.Minutes())))
}

func (l *TimeLimit) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		l.Duration = 0
		return nil
	}
	switch b[0] {
	case '{':
		var obj struct {
			Days    int     `json:"days"`
			Hours   int     `json:"hours"`
			Minutes int     `json:"minutes"`
			Seconds float64 `json:"seconds"`
		}
		if err := json.Unmarshal(b, &obj); err != nil {
			return fmt.Errorf("time limit: %w", err)
		}
		l.Duration = time.Duration(obj.Days)*24*time.Hour +
			time.Duration(obj.Hours)*time.Hour +
			time.Duration(obj.Minutes)*time.Minute +
			time.Duration(obj.Seconds*float64(time.Second))
		return nil
	case '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		d, err := ParseInterval(s)
		if err != nil {
			return err
		}
		l.Duration = d
		return nil
	default:
		// bare number: minutes
		n, err := strconv.ParseFloat(string(b), 64)
		if err != nil {
			return fmt.Errorf("time limit %s: %w", string(b), err)
		}
		l.Duration = time.Duration(n * float64(time.Minute))
		return nil
	}
}

// ParseInterval parses the subset of Postgres interval text the backend
// emits: "<n> <unit>[ <n> <unit>...]" or "HH:MM:SS".
func ParseInterval(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	if strings.Count(s, ":") == 2 && !strings.Contains(s, " ") {
		parts := strings.Split(s, ":")
		h, err1 := strconv.Atoi(parts[0])
		m, err2 := strconv.Atoi(parts[1])
		sec, err3 := strconv.ParseFloat(parts[2], 64)
		if err1 != nil || err2 != nil || err3 != nil {
			return 0, fmt.Errorf("invalid interval %q", s)
		}
		return time.Duration(h)*time.Hour + time.Duration(m)*time.Minute +
			time.Duration(sec*float64(time.Second)), nil
	}

	fields := strings.Fields(s)
	if len(fields)%2 != 0 {
		return 0, fmt.Errorf("invalid interval %q", s)
	}
	var total time.Duration
	for i := 0; i < len(fields); i += 2 {
		n, err := strconv.ParseFloat(fields[i], 64)
		if err != nil {
			return 0, fmt.Errorf("invalid interval %q: %w", s, err)
		}
		var unit time.Duration
		switch strings.TrimSuffix(strings.ToLower(fields[i+1]), "s") {
		case "second", "sec":
			unit = time.Second
		case "minute", "min":
			unit = time.Minute
		case "hour":
			unit = time.Hour
		case "day":
			unit = 24 * time.Hour
		default:
			return 0, fmt.Errorf("invalid interval unit %q in %q", fields[i+1], s)
		}
		total += time.Duration(n * float64(unit))
	}
	return total, nil
}
