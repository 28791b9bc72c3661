package actions

import (
	"context"
	"fmt"
	"strconv"

	"github.com/kjannette/p2p-trade-client/internal/external"
	"github.com/kjannette/p2p-trade-client/internal/models"
	"github.com/kjannette/p2p-trade-client/internal/validation"
)

type StartResult struct {
	TradeID     int64                     `json:"trade_id"`
	EscrowID    int64                     `json:"escrow_id,omitempty"`
	Trade       *models.Trade             `json:"trade,omitempty"`
	Instruction *models.EscrowInstruction `json:"instruction,omitempty"`
}

// StartTrade opens a trade of amount whole tokens against offer and
// immediately requests the escrow instruction, with the caller's wallet as
// seller and the offer creator as counterparty. Without a wallet the trade
// is created and the escrow step is skipped.
func (d *Dispatcher) StartTrade(ctx context.Context, offer *models.Offer, amount float64) (*StartResult, error) {
	if !d.backend.Authenticated() {
		return nil, fmt.Errorf("start trade: %w", external.ErrUnauthenticated)
	}

	if d.guard != nil {
		if err := d.guard.PreTradeCheck(ctx, offer, amount); err != nil {
			return nil, err
		}
	} else if err := validation.TradeAmountCheck(offer, amount); err != nil {
		return nil, err
	}

	log := d.log.With().Int64("offer_id", offer.ID).Float64("amount", amount).Logger()

	base := models.ToBaseUnits(amount)
	baseStr := strconv.FormatInt(base, 10)
	offerID := offer.ID
	fiat := offer.FiatCurrency

	tradeID, err := d.backend.CreateTrade(ctx, models.TradeInput{
		Leg1OfferID:             &offerID,
		Leg1CryptoAmount:        &baseStr,
		FromFiatCurrency:        &fiat,
		DestinationFiatCurrency: &fiat,
	})
	if err != nil {
		log.Error().Err(err).Msg("create trade failed")
		return nil, fmt.Errorf("create trade: %w", err)
	}
	res := &StartResult{TradeID: tradeID}
	log = log.With().Int64("trade_id", tradeID).Logger()
	log.Info().Msg("trade created")

	if d.wallet == "" {
		log.Warn().Msg("no wallet connected, escrow not created")
		d.refresh(ctx, res)
		return res, nil
	}

	res.EscrowID = NewEscrowID()
	res.Instruction, err = d.backend.CreateEscrow(ctx, models.CreateEscrowRequest{
		TradeID:  tradeID,
		EscrowID: res.EscrowID,
		Seller:   d.wallet,
		Buyer:    strconv.FormatInt(offer.CreatorAccountID, 10),
		Amount:   base,
	})
	if err != nil {
		log.Error().Err(err).Msg("create escrow failed")
		return res, fmt.Errorf("trade %d created, escrow failed: %w", tradeID, err)
	}
	log.Info().Int64("escrow_id", res.EscrowID).Msg("escrow instruction received")

	d.refresh(ctx, res)
	return res, nil
}

func (d *Dispatcher) refresh(ctx context.Context, res *StartResult) {
	t, err := d.backend.GetTrade(ctx, res.TradeID)
	if err != nil {
		d.log.Warn().Err(err).Int64("trade_id", res.TradeID).Msg("refresh after start failed")
		return
	}
	res.Trade = t
}

// OpenTrades counts the caller's in-progress trades for validation.Guard.
type OpenTrades struct {
	Backend Backend
}

func (o OpenTrades) CountOpen(ctx context.Context) (int, error) {
	trades, err := o.Backend.ListMyTrades(ctx)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, t := range trades {
		if !t.Leg1State.IsTerminal() {
			n++
		}
	}
	return n, nil
}
