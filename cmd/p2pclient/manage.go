package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/kjannette/p2p-trade-client/internal/display"
	"github.com/kjannette/p2p-trade-client/internal/models"
)

// subcommand runs action sub of a command group ("offer create ...").
func subcommand(ctx context.Context, a *app, group string, args []string, subs map[string]command) (bool, error) {
	if len(args) == 0 {
		return false, nil
	}
	run, ok := subs[args[0]]
	if !ok {
		return false, nil
	}
	if err := run(ctx, a, args[1:]); err != nil {
		return true, fmt.Errorf("%s %s: %w", group, args[0], err)
	}
	return true, nil
}

// --- accounts ---

func runAccount(ctx context.Context, a *app, args []string) error {
	handled, err := subcommand(ctx, a, "account", args, map[string]command{
		"create": runAccountCreate,
		"update": runAccountUpdate,
	})
	if !handled {
		return errors.New("usage: account create|update [flags]")
	}
	return err
}

type accountFlags struct {
	fs       *flag.FlagSet
	wallet   *string
	username *string
	email    *string
	telegram *string
	timezone *string
}

func newAccountFlags(name string) *accountFlags {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	return &accountFlags{
		fs:       fs,
		wallet:   fs.String("wallet", "", "wallet address"),
		username: fs.String("username", "", "username"),
		email:    fs.String("email", "", "email"),
		telegram: fs.String("telegram", "", "telegram username"),
		timezone: fs.String("timezone", "", "IANA timezone"),
	}
}

// input returns the fields given on the command line.
func (f *accountFlags) input() models.AccountInput {
	var in models.AccountInput
	f.fs.Visit(func(fl *flag.Flag) {
		v := fl.Value.String()
		switch fl.Name {
		case "wallet":
			in.WalletAddress = &v
		case "username":
			in.Username = &v
		case "email":
			in.Email = &v
		case "telegram":
			in.TelegramUsername = &v
		case "timezone":
			in.Timezone = &v
		}
	})
	return in
}

func runAccountCreate(ctx context.Context, a *app, args []string) error {
	f := newAccountFlags("account create")
	if err := parseFlags(f.fs, args); err != nil {
		return err
	}
	in := f.input()
	if in.WalletAddress == nil {
		w := a.dispatcher.Wallet()
		if w == "" {
			return errors.New("--wallet is required without WALLET_ADDRESS")
		}
		in.WalletAddress = &w
	}
	id, err := a.client.CreateAccount(ctx, in)
	if err != nil {
		return err
	}
	a.accounts.Invalidate()
	fmt.Printf("account #%d created\n", id)
	return nil
}

func runAccountUpdate(ctx context.Context, a *app, args []string) error {
	f := newAccountFlags("account update")
	id := f.fs.Int64("id", 0, "account id (default: current account)")
	if err := parseFlags(f.fs, args); err != nil {
		return err
	}
	in := f.input()
	if in == (models.AccountInput{}) {
		return errors.New("nothing to update")
	}
	if *id == 0 {
		me, err := a.accounts.Current(ctx)
		if err != nil {
			return err
		}
		*id = me.ID
	}
	if _, err := a.client.UpdateAccount(ctx, *id, in); err != nil {
		return err
	}
	a.accounts.Invalidate()
	fmt.Printf("account #%d updated\n", *id)
	return nil
}

// --- offers ---

var offerSubcommands = map[string]command{
	"create": runOfferCreate,
	"update": runOfferUpdate,
	"delete": runOfferDelete,
}

type offerFlags struct {
	fs      *flag.FlagSet
	typ     *string
	token   *string
	min     *float64
	max     *float64
	total   *float64
	rate    *float64
	terms   *string
	fiat    *string
	deposit *int
	payment *int
}

func newOfferFlags(name string) *offerFlags {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	return &offerFlags{
		fs:      fs,
		typ:     fs.String("type", "", "BUY or SELL"),
		token:   fs.String("token", "USDC", "token symbol"),
		min:     fs.Float64("min", 0, "minimum trade amount"),
		max:     fs.Float64("max", 0, "maximum trade amount"),
		total:   fs.Float64("total", 0, "total amount available"),
		rate:    fs.Float64("rate", 1, "rate adjustment (1.02 is +2%)"),
		terms:   fs.String("terms", "", "terms shown to the counterparty"),
		fiat:    fs.String("fiat", "USD", "fiat currency"),
		deposit: fs.Int("deposit-minutes", 15, "escrow deposit time limit"),
		payment: fs.Int("payment-minutes", 30, "fiat payment time limit"),
	}
}

// input returns every flag when all is set, otherwise only those given on
// the command line.
func (f *offerFlags) input(all bool) models.OfferInput {
	set := map[string]bool{}
	f.fs.Visit(func(fl *flag.Flag) { set[fl.Name] = true })
	use := func(name string) bool { return all || set[name] }

	var in models.OfferInput
	if use("type") {
		typ := models.OfferType(strings.ToUpper(*f.typ))
		in.OfferType = &typ
	}
	if use("token") {
		in.Token = f.token
	}
	amount := func(name string, v *float64) *models.Amount {
		if !use(name) {
			return nil
		}
		a := models.Amount(*v)
		return &a
	}
	in.MinAmount = amount("min", f.min)
	in.MaxAmount = amount("max", f.max)
	in.TotalAvailableAmount = amount("total", f.total)
	in.RateAdjustment = amount("rate", f.rate)
	if use("terms") {
		in.Terms = f.terms
	}
	if use("fiat") {
		fiat := strings.ToUpper(*f.fiat)
		in.FiatCurrency = &fiat
	}
	if use("deposit-minutes") {
		l := models.Minutes(*f.deposit)
		in.EscrowDepositTimeLimit = &l
	}
	if use("payment-minutes") {
		l := models.Minutes(*f.payment)
		in.FiatPaymentTimeLimit = &l
	}
	return in
}

func runOfferCreate(ctx context.Context, a *app, args []string) error {
	f := newOfferFlags("offer create")
	if err := parseFlags(f.fs, args); err != nil {
		return err
	}
	me, err := a.accounts.Current(ctx)
	if err != nil {
		return err
	}
	id, err := a.offers.Create(ctx, me.ID, f.input(true))
	if err != nil {
		return err
	}
	fmt.Printf("offer #%d created\n", id)
	return nil
}

func runOfferUpdate(ctx context.Context, a *app, args []string) error {
	f := newOfferFlags("offer update")
	if err := parseFlags(f.fs, args); err != nil {
		return err
	}
	id, err := argID(f.fs, "offer id")
	if err != nil {
		return err
	}
	in := f.input(false)
	if in == (models.OfferInput{}) {
		return errors.New("nothing to update")
	}
	if _, err := a.offers.Update(ctx, id, in); err != nil {
		return err
	}
	fmt.Printf("offer #%d updated\n", id)
	return nil
}

func runOfferDelete(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("offer delete", flag.ContinueOnError)
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	id, err := argID(fs, "offer id")
	if err != nil {
		return err
	}
	msg, err := a.offers.Delete(ctx, id)
	if err != nil {
		return err
	}
	fmt.Println(msg)
	return nil
}

// --- trades ---

func runTradeUpdate(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("trade update", flag.ContinueOnError)
	fromBank := fs.String("from-bank", "", "bank the fiat is sent from")
	destBank := fs.String("destination-bank", "", "bank the fiat is sent to")
	fiatAmount := fs.String("fiat-amount", "", "fiat amount")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	id, err := argID(fs, "trade id")
	if err != nil {
		return err
	}

	var in models.TradeInput
	fs.Visit(func(fl *flag.Flag) {
		switch fl.Name {
		case "from-bank":
			in.FromBank = fromBank
		case "destination-bank":
			in.DestinationBank = destBank
		case "fiat-amount":
			in.Leg1FiatAmount = fiatAmount
		}
	})
	if in == (models.TradeInput{}) {
		return errors.New("nothing to update")
	}
	if in.Leg1FiatAmount != nil {
		if v, err := strconv.ParseFloat(*in.Leg1FiatAmount, 64); err != nil || v <= 0 {
			return fmt.Errorf("invalid fiat amount %q", *in.Leg1FiatAmount)
		}
	}
	if _, err := a.client.UpdateTrade(ctx, id, in); err != nil {
		return err
	}
	t, err := a.client.GetTrade(ctx, id)
	if err != nil {
		return err
	}
	return printTrade(ctx, a, t)
}

// --- escrows ---

func runEscrows(ctx context.Context, a *app, args []string) error {
	escrows, err := a.client.ListMyEscrows(ctx)
	if err != nil {
		return err
	}
	tw := newTable()
	fmt.Fprintln(tw, "TRADE\tSTATUS\tAMOUNT\tSELLER\tBUYER\tUPDATED\t")
	for _, e := range escrows {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\t\n",
			e.TradeID, e.Status, display.FormatBaseUnits(e.Amount),
			display.AbbreviateWallet(e.SellerAddress), display.AbbreviateWallet(e.BuyerAddress),
			e.UpdatedAt.Local().Format(time.DateTime))
	}
	return tw.Flush()
}

func runEscrow(ctx context.Context, a *app, args []string) error {
	handled, err := subcommand(ctx, a, "escrow", args, map[string]command{
		"fund": runEscrowFund,
	})
	if !handled {
		return errors.New("usage: escrow fund <trade-id> --escrow-id N --token-account X --mint M")
	}
	return err
}

// runEscrowFund requests the instruction that moves the seller's tokens into
// an escrow created earlier.
func runEscrowFund(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("escrow fund", flag.ContinueOnError)
	escrowID := fs.Int64("escrow-id", 0, "on-chain escrow id")
	tokenAccount := fs.String("token-account", "", "seller token account")
	mint := fs.String("mint", "", "token mint")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	tradeID, err := argID(fs, "trade id")
	if err != nil {
		return err
	}
	if *escrowID <= 0 || *tokenAccount == "" || *mint == "" {
		return errors.New("--escrow-id, --token-account and --mint are required")
	}
	if a.dispatcher.Wallet() == "" {
		return errors.New("no seller wallet: set WALLET_ADDRESS")
	}

	t, err := a.client.GetTrade(ctx, tradeID)
	if err != nil {
		return err
	}
	amount, err := strconv.ParseInt(t.Leg1CryptoAmount, 10, 64)
	if err != nil {
		return fmt.Errorf("trade %d amount %q: %w", tradeID, t.Leg1CryptoAmount, err)
	}
	ix, err := a.client.FundEscrow(ctx, models.FundEscrowRequest{
		EscrowID:           *escrowID,
		TradeID:            tradeID,
		Seller:             a.dispatcher.Wallet(),
		SellerTokenAccount: *tokenAccount,
		TokenMint:          *mint,
		Amount:             amount,
	})
	if err != nil {
		return err
	}
	return printJSON(ix)
}
