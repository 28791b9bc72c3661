package actions

import (
	"context"
	"errors"
	"testing"

	"github.com/kjannette/p2p-trade-client/internal/external"
	"github.com/kjannette/p2p-trade-client/internal/models"
	"github.com/kjannette/p2p-trade-client/internal/validation"
)

type fakeOfferBackend struct {
	authed  bool
	offer   models.Offer
	calls   []string
	created models.OfferInput
	updated models.OfferInput
}

func (f *fakeOfferBackend) Authenticated() bool { return f.authed }

func (f *fakeOfferBackend) GetOffer(ctx context.Context, id int64) (*models.Offer, error) {
	f.calls = append(f.calls, "GetOffer")
	cp := f.offer
	cp.ID = id
	return &cp, nil
}

func (f *fakeOfferBackend) CreateOffer(ctx context.Context, in models.OfferInput) (int64, error) {
	f.calls = append(f.calls, "CreateOffer")
	f.created = in
	return 31, nil
}

func (f *fakeOfferBackend) UpdateOffer(ctx context.Context, id int64, in models.OfferInput) (int64, error) {
	f.calls = append(f.calls, "UpdateOffer")
	f.updated = in
	return id, nil
}

func (f *fakeOfferBackend) DeleteOffer(ctx context.Context, id int64) (string, error) {
	f.calls = append(f.calls, "DeleteOffer")
	return "Offer deleted", nil
}

func amt(v float64) *models.Amount { return (*models.Amount)(&v) }

func sellInput() models.OfferInput {
	typ := models.OfferSell
	token, fiat := "USDC", "USD"
	return models.OfferInput{
		OfferType:            &typ,
		Token:                &token,
		MinAmount:            amt(10),
		MaxAmount:            amt(100),
		TotalAvailableAmount: amt(500),
		RateAdjustment:       amt(1.02),
		FiatCurrency:         &fiat,
	}
}

func TestOffersCreate_FillsCreator(t *testing.T) {
	b := &fakeOfferBackend{authed: true}
	id, err := NewOffers(b).Create(context.Background(), 9, sellInput())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if id != 31 {
		t.Fatalf("id: %d", id)
	}
	if b.created.CreatorAccountID == nil || *b.created.CreatorAccountID != 9 {
		t.Fatalf("creator not set: %+v", b.created)
	}
}

func TestOffersCreate_CheckedBeforeSubmit(t *testing.T) {
	b := &fakeOfferBackend{authed: true}
	in := sellInput()
	in.MinAmount = amt(200)

	_, err := NewOffers(b).Create(context.Background(), 9, in)
	var verr *validation.ValidationError
	if !errors.As(err, &verr) || verr.Field != "min_amount" {
		t.Fatalf("expected min_amount ValidationError, got %v", err)
	}
	if len(b.calls) != 0 {
		t.Fatalf("invalid offer reached the backend: %v", b.calls)
	}
}

func TestOffersUpdate_ChecksMergedOffer(t *testing.T) {
	b := &fakeOfferBackend{authed: true, offer: models.Offer{
		OfferType: models.OfferBuy, MinAmount: 10, MaxAmount: 100, TotalAvailableAmount: 500, RateAdjustment: 1,
	}}

	if _, err := NewOffers(b).Update(context.Background(), 4, models.OfferInput{MaxAmount: amt(5)}); err == nil {
		t.Fatal("max below the stored min should fail")
	}
	if len(b.calls) != 1 || b.calls[0] != "GetOffer" {
		t.Fatalf("calls: %v", b.calls)
	}

	b.calls = nil
	if _, err := NewOffers(b).Update(context.Background(), 4, models.OfferInput{MaxAmount: amt(50)}); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if b.updated.MaxAmount == nil || *b.updated.MaxAmount != 50 || b.updated.MinAmount != nil {
		t.Fatalf("only the changed field should be sent: %+v", b.updated)
	}
}

func TestOffers_Unauthenticated(t *testing.T) {
	o := NewOffers(&fakeOfferBackend{})
	if _, err := o.Create(context.Background(), 1, sellInput()); !errors.Is(err, external.ErrUnauthenticated) {
		t.Fatalf("Create: %v", err)
	}
	if _, err := o.Update(context.Background(), 1, sellInput()); !errors.Is(err, external.ErrUnauthenticated) {
		t.Fatalf("Update: %v", err)
	}
	if _, err := o.Delete(context.Background(), 1); !errors.Is(err, external.ErrUnauthenticated) {
		t.Fatalf("Delete: %v", err)
	}
}
