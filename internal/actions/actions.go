// Package actions offers and performs the trade actions valid for the
// current state and role. The backend owns the state machine; every
// action is followed by a re-fetch of the trade.
package actions

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/google/uuid"
	"github.com/kjannette/p2p-trade-client/internal/external"
	"github.com/kjannette/p2p-trade-client/internal/logging"
	"github.com/kjannette/p2p-trade-client/internal/models"
	"github.com/kjannette/p2p-trade-client/internal/roles"
	"github.com/kjannette/p2p-trade-client/internal/validation"
	"github.com/rs/zerolog"
)

type Action string

const (
	CreateEscrow Action = "create_escrow"
	MarkPaid     Action = "mark_paid"
	Release      Action = "release"
	Dispute      Action = "dispute"
	Cancel       Action = "cancel"
)

var ErrActionNotAllowed = errors.New("action not allowed")

var labels = map[Action]string{
	CreateEscrow: "Create escrow",
	MarkPaid:     "Mark fiat paid",
	Release:      "Release crypto",
	Dispute:      "Dispute",
	Cancel:       "Cancel",
}

func (a Action) Label() string { return labels[a] }

func ParseAction(s string) (Action, error) {
	a := Action(s)
	if _, ok := labels[a]; !ok {
		return "", fmt.Errorf("unknown action %q", s)
	}
	return a, nil
}

// Available lists the actions offered to role for the trade's leg 1 state.
func Available(t *models.Trade, role roles.Role) []Action {
	state := t.Leg1State
	if state.IsTerminal() {
		return nil
	}

	var out []Action
	switch {
	case state == models.StateCreated && role == roles.Seller:
		out = append(out, CreateEscrow)
	case state == models.StateAwaitingFiatPayment && role == roles.Buyer:
		out = append(out, MarkPaid)
	case state == models.StatePendingCryptoRelease && role == roles.Seller:
		out = append(out, Release)
	}
	if state != models.StateDisputed {
		out = append(out, Dispute)
	}
	if CancelPermitted(t) {
		out = append(out, Cancel)
	}
	return out
}

// CancelPermitted is false once fiat has been marked paid.
func CancelPermitted(t *models.Trade) bool {
	if t.Leg1FiatPaidAt != nil {
		return false
	}
	return t.Leg1State == models.StateCreated || t.Leg1State == models.StateAwaitingFiatPayment
}

func Allowed(t *models.Trade, role roles.Role, a Action) bool {
	for _, x := range Available(t, role) {
		if x == a {
			return true
		}
	}
	return false
}

// Backend is the subset of the API client used here.
type Backend interface {
	Authenticated() bool
	GetTrade(ctx context.Context, id int64) (*models.Trade, error)
	CreateTrade(ctx context.Context, in models.TradeInput) (int64, error)
	ListMyTrades(ctx context.Context) ([]models.Trade, error)
	MarkFiatPaid(ctx context.Context, tradeID int64) (string, error)
	GetEscrow(ctx context.Context, tradeID int64) (*models.Escrow, error)
	CreateEscrow(ctx context.Context, in models.CreateEscrowRequest) (*models.EscrowInstruction, error)
	ReleaseEscrow(ctx context.Context, in models.ReleaseEscrowRequest) (*models.EscrowInstruction, error)
	CancelEscrow(ctx context.Context, in models.CancelEscrowRequest) (*models.EscrowInstruction, error)
	DisputeEscrow(ctx context.Context, in models.DisputeEscrowRequest) (*models.EscrowInstruction, error)
}

// Params carries the on-chain details some actions need. EscrowID is
// generated for CreateEscrow when zero. TokenAccount is the caller's own
// token account, used by cancel and dispute.
type Params struct {
	EscrowID               int64  `json:"escrow_id,omitempty"`
	TokenAccount           string `json:"token_account,omitempty"`
	BuyerTokenAccount      string `json:"buyer_token_account,omitempty"`
	ArbitratorTokenAccount string `json:"arbitrator_token_account,omitempty"`
	EvidenceHash           string `json:"evidence_hash,omitempty"`
}

// Result is the refreshed trade plus the unsigned instruction, if the
// action produced one.
type Result struct {
	Trade       *models.Trade             `json:"trade"`
	Instruction *models.EscrowInstruction `json:"instruction,omitempty"`
	Message     string                    `json:"message,omitempty"`
}

type Dispatcher struct {
	backend Backend
	wallet  string
	guard   *validation.Guard
	log     zerolog.Logger
}

// NewDispatcher builds a dispatcher acting for wallet. guard may be nil, in
// which case only the offer bounds are checked before a trade starts.
func NewDispatcher(backend Backend, wallet string, guard *validation.Guard) *Dispatcher {
	return &Dispatcher{
		backend: backend,
		wallet:  wallet,
		guard:   guard,
		log:     logging.Component("actions"),
	}
}

func (d *Dispatcher) Wallet() string { return d.wallet }

// Do performs action on t for role, then re-fetches the trade. When the
// action succeeds but the refresh fails, the result is returned together
// with the refresh error.
func (d *Dispatcher) Do(ctx context.Context, t *models.Trade, role roles.Role, a Action, p Params) (*Result, error) {
	if !d.backend.Authenticated() {
		return nil, fmt.Errorf("%s: %w", a, external.ErrUnauthenticated)
	}
	if !Allowed(t, role, a) {
		return nil, fmt.Errorf("%w: %s as %s in state %s", ErrActionNotAllowed, a, role, t.Leg1State)
	}

	log := d.log.With().Int64("trade_id", t.ID).Str("action", string(a)).Str("role", string(role)).Logger()
	log.Info().Msg("dispatching action")

	res := &Result{}
	var err error
	switch a {
	case CreateEscrow:
		res.Instruction, err = d.createEscrow(ctx, t, p)
	case MarkPaid:
		res.Message, err = d.backend.MarkFiatPaid(ctx, t.ID)
	case Release:
		res.Instruction, err = d.release(ctx, t, p)
	case Cancel:
		res.Instruction, err = d.cancel(ctx, t, role, p)
	case Dispute:
		res.Instruction, err = d.dispute(ctx, t, p)
	default:
		return nil, fmt.Errorf("%w: %s", ErrActionNotAllowed, a)
	}
	if err != nil {
		log.Error().Err(err).Msg("action failed")
		return nil, fmt.Errorf("%s trade %d: %w", a, t.ID, err)
	}

	fresh, err := d.backend.GetTrade(ctx, t.ID)
	if err != nil {
		log.Warn().Err(err).Msg("action succeeded, refresh failed")
		return res, fmt.Errorf("refresh trade %d: %w", t.ID, err)
	}
	res.Trade = fresh
	log.Info().Str("state", string(fresh.Leg1State)).Msg("action complete")
	return res, nil
}

func (d *Dispatcher) requireWallet() error {
	if d.wallet == "" {
		return &validation.ValidationError{Field: "wallet", Reason: "no wallet connected"}
	}
	return nil
}

func requireEscrowID(p Params) error {
	if p.EscrowID <= 0 {
		return &validation.ValidationError{Field: "escrow_id", Reason: "required"}
	}
	return nil
}

func (d *Dispatcher) createEscrow(ctx context.Context, t *models.Trade, p Params) (*models.EscrowInstruction, error) {
	if err := d.requireWallet(); err != nil {
		return nil, err
	}
	if t.Leg1BuyerAccountID == nil {
		return nil, &validation.ValidationError{Field: "leg1_buyer_account_id", Reason: "trade has no buyer"}
	}
	amount, err := t.CryptoBaseUnits()
	if err != nil {
		return nil, &validation.ValidationError{Field: "leg1_crypto_amount", Reason: err.Error()}
	}
	id := p.EscrowID
	if id == 0 {
		id = NewEscrowID()
	}
	return d.backend.CreateEscrow(ctx, models.CreateEscrowRequest{
		TradeID:  t.ID,
		EscrowID: id,
		Seller:   d.wallet,
		Buyer:    strconv.FormatInt(*t.Leg1BuyerAccountID, 10),
		Amount:   amount,
	})
}

func (d *Dispatcher) release(ctx context.Context, t *models.Trade, p Params) (*models.EscrowInstruction, error) {
	if err := d.requireWallet(); err != nil {
		return nil, err
	}
	if err := requireEscrowID(p); err != nil {
		return nil, err
	}
	return d.backend.ReleaseEscrow(ctx, models.ReleaseEscrowRequest{
		EscrowID:               p.EscrowID,
		TradeID:                t.ID,
		Authority:              d.wallet,
		BuyerTokenAccount:      p.BuyerTokenAccount,
		ArbitratorTokenAccount: p.ArbitratorTokenAccount,
	})
}

// cancel needs the seller's wallet; a buyer learns it from the escrow.
func (d *Dispatcher) cancel(ctx context.Context, t *models.Trade, role roles.Role, p Params) (*models.EscrowInstruction, error) {
	if err := d.requireWallet(); err != nil {
		return nil, err
	}
	if err := requireEscrowID(p); err != nil {
		return nil, err
	}
	seller := d.wallet
	if role != roles.Seller {
		esc, err := d.backend.GetEscrow(ctx, t.ID)
		if err != nil {
			return nil, fmt.Errorf("look up escrow seller: %w", err)
		}
		seller = esc.SellerAddress
	}
	req := models.CancelEscrowRequest{
		EscrowID:  p.EscrowID,
		TradeID:   t.ID,
		Seller:    seller,
		Authority: d.wallet,
	}
	if p.TokenAccount != "" && role == roles.Seller {
		req.SellerTokenAccount = &p.TokenAccount
	}
	return d.backend.CancelEscrow(ctx, req)
}

func (d *Dispatcher) dispute(ctx context.Context, t *models.Trade, p Params) (*models.EscrowInstruction, error) {
	if err := d.requireWallet(); err != nil {
		return nil, err
	}
	if err := requireEscrowID(p); err != nil {
		return nil, err
	}
	req := models.DisputeEscrowRequest{
		EscrowID:                   p.EscrowID,
		TradeID:                    t.ID,
		DisputingParty:             d.wallet,
		DisputingPartyTokenAccount: p.TokenAccount,
	}
	if p.EvidenceHash != "" {
		req.EvidenceHash = &p.EvidenceHash
	}
	return d.backend.DisputeEscrow(ctx, req)
}

// NewEscrowID returns a random positive 32-bit escrow id.
func NewEscrowID() int64 {
	return int64(uuid.New().ID())
}
