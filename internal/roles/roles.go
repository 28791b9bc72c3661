// Package roles derives the current user's side of a trade.
package roles

import (
	"context"

	"github.com/kjannette/p2p-trade-client/internal/logging"
	"github.com/kjannette/p2p-trade-client/internal/models"
	"github.com/rs/zerolog"
)

type Role string

const (
	Buyer  Role = "buyer"
	Seller Role = "seller"
)

// Resolve returns Seller only on a positive match against the leg 1 seller.
// Every other case, including an unknown current account, is Buyer.
func Resolve(currentID *int64, t *models.Trade) Role {
	if currentID != nil && *currentID == t.Leg1SellerAccountID {
		return Seller
	}
	return Buyer
}

// CounterpartyID is the other side's account id relative to role. It is nil
// when the trade has no such party yet.
func CounterpartyID(role Role, t *models.Trade) *int64 {
	if role == Seller {
		return t.Leg1BuyerAccountID
	}
	id := t.Leg1SellerAccountID
	return &id
}

// Accounts is satisfied by accounts.Directory.
type Accounts interface {
	Current(ctx context.Context) (*models.Account, error)
	Get(ctx context.Context, id int64) (*models.Account, error)
}

type Participants struct {
	Role         Role
	Current      *models.Account
	Counterparty *models.Account
}

type Resolver struct {
	accounts Accounts
	log      zerolog.Logger
}

func NewResolver(accounts Accounts) *Resolver {
	return &Resolver{accounts: accounts, log: logging.Component("roles")}
}

// Participants never fails. Lookup errors are logged and leave the
// corresponding account nil.
func (r *Resolver) Participants(ctx context.Context, t *models.Trade) Participants {
	cur, err := r.accounts.Current(ctx)
	if err != nil {
		r.log.Warn().Err(err).Int64("trade_id", t.ID).
			Msg("current account unavailable, defaulting to buyer")
		return Participants{Role: Buyer}
	}

	p := Participants{Role: Resolve(&cur.ID, t), Current: cur}

	cpID := CounterpartyID(p.Role, t)
	if cpID == nil || *cpID == cur.ID {
		return p
	}

	cp, err := r.accounts.Get(ctx, *cpID)
	if err != nil {
		r.log.Warn().Err(err).Int64("trade_id", t.ID).Int64("account_id", *cpID).
			Msg("counterparty lookup failed")
		return p
	}
	p.Counterparty = cp
	return p
}
