package main

import (
	"errors"
	"flag"
	"io"
	"testing"
	"time"

	"github.com/kjannette/p2p-trade-client/internal/models"
)

func TestParseFlags_Interleaved(t *testing.T) {
	fs := flag.NewFlagSet("watch", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	journal := fs.Bool("journal", false, "")
	escrow := fs.Int64("escrow-id", 0, "")

	if err := parseFlags(fs, []string{"7", "--journal", "release", "--escrow-id", "42"}); err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !*journal || *escrow != 42 {
		t.Fatalf("flags not applied: journal=%v escrow=%d", *journal, *escrow)
	}
	if fs.NArg() != 2 || fs.Arg(0) != "7" || fs.Arg(1) != "release" {
		t.Fatalf("unexpected positional args %v", fs.Args())
	}
}

func TestParseFlags_UnknownFlag(t *testing.T) {
	fs := flag.NewFlagSet("offers", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	if err := parseFlags(fs, []string{"--bogus"}); err == nil {
		t.Fatal("expected error for unknown flag")
	}
}

func TestParseID(t *testing.T) {
	if id, err := parseID("12", "trade id"); err != nil || id != 12 {
		t.Fatalf("parseID(12) = %d, %v", id, err)
	}
	for _, bad := range []string{"", "0", "-3", "abc"} {
		if _, err := parseID(bad, "trade id"); err == nil {
			t.Fatalf("expected error for %q", bad)
		}
	}
}

func TestCommandsRegistered(t *testing.T) {
	for _, name := range []string{"offers", "offer", "trades", "trade", "watch", "prices", "me", "account", "escrows", "escrow", "start", "action", "serve"} {
		if _, ok := commands[name]; !ok {
			t.Fatalf("command %q not registered", name)
		}
	}
}

func TestDrain_HandlesBufferedUpdates(t *testing.T) {
	updates := make(chan models.Trade, 4)
	updates <- models.Trade{ID: 1, Leg1State: models.StateAwaitingFiatPayment}
	updates <- models.Trade{ID: 1, Leg1State: models.StateCompleted}

	var seen []models.TradeState
	err := drain(updates, func(t models.Trade) error {
		seen = append(seen, t.Leg1State)
		return nil
	})
	if err != nil {
		t.Fatalf("drain: %v", err)
	}
	if len(seen) != 2 || seen[1] != models.StateCompleted {
		t.Fatalf("final snapshot not handled: %v", seen)
	}
	if len(updates) != 0 {
		t.Fatalf("%d updates left", len(updates))
	}
}

func TestDrain_StopsOnError(t *testing.T) {
	updates := make(chan models.Trade, 2)
	updates <- models.Trade{ID: 1}
	updates <- models.Trade{ID: 2}
	boom := errors.New("print failed")
	if err := drain(updates, func(models.Trade) error { return boom }); !errors.Is(err, boom) {
		t.Fatalf("expected handler error, got %v", err)
	}
}

func TestOfferFlags_CreateUsesDefaults(t *testing.T) {
	f := newOfferFlags("offer create")
	f.fs.SetOutput(io.Discard)
	if err := parseFlags(f.fs, []string{"--type", "sell", "--min", "10", "--max", "100"}); err != nil {
		t.Fatalf("parse: %v", err)
	}
	in := f.input(true)
	if in.OfferType == nil || *in.OfferType != models.OfferSell {
		t.Fatalf("type: %v", in.OfferType)
	}
	if *in.MinAmount != 10 || *in.MaxAmount != 100 || *in.RateAdjustment != 1 {
		t.Fatalf("amounts: %v %v %v", *in.MinAmount, *in.MaxAmount, *in.RateAdjustment)
	}
	if *in.Token != "USDC" || *in.FiatCurrency != "USD" {
		t.Fatalf("defaults: %s %s", *in.Token, *in.FiatCurrency)
	}
	if in.EscrowDepositTimeLimit.Duration != 15*time.Minute || in.FiatPaymentTimeLimit.Duration != 30*time.Minute {
		t.Fatalf("time limits: %v %v", in.EscrowDepositTimeLimit, in.FiatPaymentTimeLimit)
	}
}

func TestOfferFlags_UpdateSendsOnlyGiven(t *testing.T) {
	f := newOfferFlags("offer update")
	f.fs.SetOutput(io.Discard)
	if err := parseFlags(f.fs, []string{"12", "--rate", "0.98"}); err != nil {
		t.Fatalf("parse: %v", err)
	}
	in := f.input(false)
	if in.RateAdjustment == nil || *in.RateAdjustment != 0.98 {
		t.Fatalf("rate: %v", in.RateAdjustment)
	}
	want := models.OfferInput{RateAdjustment: in.RateAdjustment}
	if in != want {
		t.Fatalf("unexpected fields set: %+v", in)
	}
	if id, err := argID(f.fs, "offer id"); err != nil || id != 12 {
		t.Fatalf("offer id: %d %v", id, err)
	}
}

func TestAccountFlags_OnlyGiven(t *testing.T) {
	f := newAccountFlags("account update")
	f.fs.SetOutput(io.Discard)
	if err := parseFlags(f.fs, []string{"--username", "alice"}); err != nil {
		t.Fatalf("parse: %v", err)
	}
	in := f.input()
	if in.Username == nil || *in.Username != "alice" || in.Email != nil || in.WalletAddress != nil {
		t.Fatalf("unexpected input %+v", in)
	}
}
