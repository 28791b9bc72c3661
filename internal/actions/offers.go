package actions

import (
	"context"
	"fmt"

	"github.com/kjannette/p2p-trade-client/internal/external"
	"github.com/kjannette/p2p-trade-client/internal/logging"
	"github.com/kjannette/p2p-trade-client/internal/models"
	"github.com/kjannette/p2p-trade-client/internal/validation"
	"github.com/rs/zerolog"
)

// OfferBackend is the subset of the API client used to manage offers.
type OfferBackend interface {
	Authenticated() bool
	GetOffer(ctx context.Context, id int64) (*models.Offer, error)
	CreateOffer(ctx context.Context, in models.OfferInput) (int64, error)
	UpdateOffer(ctx context.Context, id int64, in models.OfferInput) (int64, error)
	DeleteOffer(ctx context.Context, id int64) (string, error)
}

// Offers creates, edits and withdraws the caller's offers. Every submission
// is checked locally first.
type Offers struct {
	backend OfferBackend
	log     zerolog.Logger
}

func NewOffers(backend OfferBackend) *Offers {
	return &Offers{backend: backend, log: logging.Component("offers")}
}

// Create submits a new offer owned by creatorID unless in names a creator.
func (o *Offers) Create(ctx context.Context, creatorID int64, in models.OfferInput) (int64, error) {
	if !o.backend.Authenticated() {
		return 0, fmt.Errorf("create offer: %w", external.ErrUnauthenticated)
	}
	if in.CreatorAccountID == nil && creatorID > 0 {
		in.CreatorAccountID = &creatorID
	}
	offer := ApplyOfferInput(models.Offer{}, in)
	if err := validation.OfferCheck(&offer); err != nil {
		return 0, err
	}

	id, err := o.backend.CreateOffer(ctx, in)
	if err != nil {
		o.log.Error().Err(err).Msg("create offer failed")
		return 0, fmt.Errorf("create offer: %w", err)
	}
	o.log.Info().Int64("offer_id", id).Str("type", string(offer.OfferType)).Msg("offer created")
	return id, nil
}

// Update sends only the fields set in in, after checking them merged onto
// the current offer.
func (o *Offers) Update(ctx context.Context, id int64, in models.OfferInput) (int64, error) {
	if !o.backend.Authenticated() {
		return 0, fmt.Errorf("update offer: %w", external.ErrUnauthenticated)
	}
	cur, err := o.backend.GetOffer(ctx, id)
	if err != nil {
		return 0, fmt.Errorf("fetch offer %d: %w", id, err)
	}
	merged := ApplyOfferInput(*cur, in)
	if err := validation.OfferCheck(&merged); err != nil {
		return 0, err
	}

	updated, err := o.backend.UpdateOffer(ctx, id, in)
	if err != nil {
		o.log.Error().Err(err).Int64("offer_id", id).Msg("update offer failed")
		return 0, fmt.Errorf("update offer %d: %w", id, err)
	}
	o.log.Info().Int64("offer_id", id).Msg("offer updated")
	return updated, nil
}

func (o *Offers) Delete(ctx context.Context, id int64) (string, error) {
	if !o.backend.Authenticated() {
		return "", fmt.Errorf("delete offer: %w", external.ErrUnauthenticated)
	}
	msg, err := o.backend.DeleteOffer(ctx, id)
	if err != nil {
		return "", fmt.Errorf("delete offer %d: %w", id, err)
	}
	o.log.Info().Int64("offer_id", id).Msg("offer deleted")
	return msg, nil
}

// ApplyOfferInput returns base with every field set in in applied.
func ApplyOfferInput(base models.Offer, in models.OfferInput) models.Offer {
	if in.CreatorAccountID != nil {
		base.CreatorAccountID = *in.CreatorAccountID
	}
	if in.OfferType != nil {
		base.OfferType = *in.OfferType
	}
	if in.Token != nil {
		base.Token = *in.Token
	}
	if in.MinAmount != nil {
		base.MinAmount = *in.MinAmount
	}
	if in.MaxAmount != nil {
		base.MaxAmount = *in.MaxAmount
	}
	if in.TotalAvailableAmount != nil {
		base.TotalAvailableAmount = *in.TotalAvailableAmount
	}
	if in.RateAdjustment != nil {
		base.RateAdjustment = *in.RateAdjustment
	}
	if in.Terms != nil {
		base.Terms = *in.Terms
	}
	if in.EscrowDepositTimeLimit != nil {
		base.EscrowDepositTimeLimit = *in.EscrowDepositTimeLimit
	}
	if in.FiatPaymentTimeLimit != nil {
		base.FiatPaymentTimeLimit = *in.FiatPaymentTimeLimit
	}
	if in.FiatCurrency != nil {
		base.FiatCurrency = *in.FiatCurrency
	}
	return base
}
