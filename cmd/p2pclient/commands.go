package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/kjannette/p2p-trade-client/internal/actions"
	"github.com/kjannette/p2p-trade-client/internal/api"
	"github.com/kjannette/p2p-trade-client/internal/display"
	"github.com/kjannette/p2p-trade-client/internal/external"
	"github.com/kjannette/p2p-trade-client/internal/models"
	"github.com/kjannette/p2p-trade-client/internal/notifications"
	"github.com/kjannette/p2p-trade-client/internal/repository"
	"github.com/kjannette/p2p-trade-client/internal/roles"
	"github.com/kjannette/p2p-trade-client/internal/scheduler"
	"github.com/kjannette/p2p-trade-client/internal/tradewatch"
)

type command func(ctx context.Context, a *app, args []string) error

var commands = map[string]command{
	"offers":  runOffers,
	"offer":   runOffer,
	"trades":  runTrades,
	"trade":   runTrade,
	"watch":   runWatch,
	"prices":  runPrices,
	"me":      runMe,
	"account": runAccount,
	"escrows": runEscrows,
	"escrow":  runEscrow,
	"start":   runStart,
	"action":  runAction,
	"serve":   runServe,
}

func newTable() *tabwriter.Writer {
	return tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func parseID(s, what string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid %s %q", what, s)
	}
	return id, nil
}

func argID(fs *flag.FlagSet, what string) (int64, error) {
	if fs.NArg() < 1 {
		return 0, fmt.Errorf("missing %s", what)
	}
	return parseID(fs.Arg(0), what)
}

// parseFlags allows flags after positional arguments ("watch 7 --journal").
func parseFlags(fs *flag.FlagSet, args []string) error {
	var pos []string
	for {
		if err := fs.Parse(args); err != nil {
			return err
		}
		if fs.NArg() == 0 {
			break
		}
		pos = append(pos, fs.Arg(0))
		args = fs.Args()[1:]
	}
	return fs.Parse(append([]string{"--"}, pos...))
}

func runOffers(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("offers", flag.ContinueOnError)
	typ := fs.String("type", "", "BUY or SELL")
	token := fs.String("token", "", "token symbol")
	if err := parseFlags(fs, args); err != nil {
		return err
	}

	offers, err := a.client.ListOffers(ctx, external.OfferFilter{
		Type:  models.OfferType(strings.ToUpper(*typ)),
		Token: *token,
	})
	if err != nil {
		return err
	}
	display.SortOffers(offers)

	ids := make([]int64, len(offers))
	for i, o := range offers {
		ids[i] = o.CreatorAccountID
	}
	names := a.accounts.DisplayNames(ctx, ids)
	label := display.TradeActionLabel(a.client.Authenticated())

	tw := newTable()
	fmt.Fprintln(tw, "ID\tTYPE\tCREATOR\tTOKEN\tMIN\tMAX\tRATE\tFIAT\t")
	for _, o := range offers {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%v\t%v\t%s\t%s\t\n",
			o.ID, o.OfferType, names[o.CreatorAccountID], o.Token,
			o.MinAmount, o.MaxAmount, display.FormatRate(o.RateAdjustment.Float()), o.FiatCurrency)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Printf("\n%d offers (%s: p2pclient start <offer-id> <amount>)\n", len(offers), label)
	return nil
}

func runOffer(ctx context.Context, a *app, args []string) error {
	if handled, err := subcommand(ctx, a, "offer", args, offerSubcommands); handled {
		return err
	}
	fs := flag.NewFlagSet("offer", flag.ContinueOnError)
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	id, err := argID(fs, "offer id")
	if err != nil {
		return err
	}
	offer, err := a.client.GetOffer(ctx, id)
	if err != nil {
		return err
	}
	names := a.accounts.DisplayNames(ctx, []int64{offer.CreatorAccountID})

	tw := newTable()
	fmt.Fprintf(tw, "Offer\t#%d (%s %s)\n", offer.ID, offer.OfferType, offer.Token)
	fmt.Fprintf(tw, "Creator\t%s\n", names[offer.CreatorAccountID])
	fmt.Fprintf(tw, "Limits\t%v - %v (available %v)\n", offer.MinAmount, offer.MaxAmount, offer.TotalAvailableAmount)
	fmt.Fprintf(tw, "Rate\t%s\n", display.FormatRate(offer.RateAdjustment.Float()))
	fmt.Fprintf(tw, "Fiat\t%s\n", offer.FiatCurrency)
	fmt.Fprintf(tw, "Escrow deposit limit\t%s\n", offer.EscrowDepositTimeLimit.Duration)
	fmt.Fprintf(tw, "Fiat payment limit\t%s\n", offer.FiatPaymentTimeLimit.Duration)
	if offer.Terms != "" {
		fmt.Fprintf(tw, "Terms\t%s\n", offer.Terms)
	}
	return tw.Flush()
}

func runTrades(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("trades", flag.ContinueOnError)
	status := fs.String("status", "", "filter all trades by state")
	user := fs.String("user", "", "filter all trades by account id")
	if err := parseFlags(fs, args); err != nil {
		return err
	}

	var trades []models.Trade
	var err error
	if *status != "" || *user != "" {
		trades, err = a.client.ListTrades(ctx, external.TradeFilter{Status: strings.ToUpper(*status), User: *user})
	} else {
		trades, err = a.client.ListMyTrades(ctx)
	}
	if err != nil {
		return err
	}
	me, err := a.accounts.Current(ctx)
	if err != nil {
		return err
	}
	display.SortTrades(trades)

	tw := newTable()
	fmt.Fprintln(tw, "ID\tSTATE\tROLE\tAMOUNT\tFIAT\tUPDATED\t")
	for i := range trades {
		t := &trades[i]
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\t\n",
			t.ID, t.Leg1State, roles.Resolve(&me.ID, t), display.FormatBaseUnits(t.Leg1CryptoAmount),
			t.Leg1FiatCurrency, t.UpdatedAt.Local().Format(time.DateTime))
	}
	return tw.Flush()
}

func printTrade(ctx context.Context, a *app, t *models.Trade) error {
	p := a.roles.Participants(ctx, t)

	tw := newTable()
	fmt.Fprintf(tw, "Trade\t#%d\n", t.ID)
	fmt.Fprintf(tw, "State\t%s\n", t.Leg1State)
	fmt.Fprintf(tw, "Role\t%s\n", p.Role)
	if p.Counterparty != nil {
		fmt.Fprintf(tw, "Counterparty\t%s (%s)\n", p.Counterparty.DisplayName(), display.AbbreviateWallet(p.Counterparty.WalletAddress))
	}
	fmt.Fprintf(tw, "Amount\t%s %s\n", display.FormatBaseUnits(t.Leg1CryptoAmount), t.Leg1CryptoToken)
	if t.Leg1FiatAmount != nil {
		fmt.Fprintf(tw, "Fiat\t%s %s\n", *t.Leg1FiatAmount, t.Leg1FiatCurrency)
	}
	if t.Leg1EscrowDepositDeadline != nil {
		fmt.Fprintf(tw, "Escrow deadline\t%s\n", t.Leg1EscrowDepositDeadline.Local().Format(time.DateTime))
	}
	if t.Leg1FiatPaymentDeadline != nil {
		fmt.Fprintf(tw, "Payment deadline\t%s\n", t.Leg1FiatPaymentDeadline.Local().Format(time.DateTime))
	}
	fmt.Fprintf(tw, "Updated\t%s\n", t.UpdatedAt.Local().Format(time.DateTime))

	var labels []string
	for _, act := range actions.Available(t, p.Role) {
		labels = append(labels, fmt.Sprintf("%s (%s)", act.Label(), act))
	}
	if len(labels) == 0 {
		labels = []string{"none"}
	}
	fmt.Fprintf(tw, "Actions\t%s\n", strings.Join(labels, ", "))
	return tw.Flush()
}

func runTrade(ctx context.Context, a *app, args []string) error {
	if handled, err := subcommand(ctx, a, "trade", args, map[string]command{"update": runTradeUpdate}); handled {
		return err
	}
	fs := flag.NewFlagSet("trade", flag.ContinueOnError)
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	id, err := argID(fs, "trade id")
	if err != nil {
		return err
	}
	t, err := a.client.GetTrade(ctx, id)
	if err != nil {
		return err
	}
	return printTrade(ctx, a, t)
}

func runWatch(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("watch", flag.ContinueOnError)
	journal := fs.Bool("journal", false, "seed from and record to the snapshot journal")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	id, err := argID(fs, "trade id")
	if err != nil {
		return err
	}

	var snapshots *repository.SnapshotRepo
	if *journal {
		pool, err := a.openJournal(ctx)
		if err != nil {
			return err
		}
		if pool == nil {
			return errors.New("--journal needs DATABASE_URL or DB_USER")
		}
		defer pool.Close()
		snapshots = repository.NewSnapshotRepo(pool)
	}

	seed, err := a.client.GetTrade(ctx, id)
	if err != nil {
		a.log.Warn().Err(err).Int64("trade_id", id).Msg("initial fetch failed, waiting for the stream")
		seed = nil
		if snapshots != nil {
			if snap, jerr := snapshots.Latest(ctx, id); jerr == nil && snap != nil {
				seed, _ = snap.Trade()
			}
		}
	}

	svc := tradewatch.NewService(tradewatch.BackendDialer(a.client), a.watchOptions())
	sub, err := svc.Watch(ctx, id, seed)
	if err != nil {
		return err
	}
	defer svc.Stop()

	updates := make(chan models.Trade, 16)
	feedSub := sub.Subscribe(updates)
	defer feedSub.Unsubscribe()

	sender := notifications.NewSender(a.cfg.WebhookURL, a.cfg.BotName)
	transitions := notifications.NewTransitions(sender)
	if seed != nil {
		transitions.Observe(ctx, *seed)
		if err := printTrade(ctx, a, seed); err != nil {
			return err
		}
	}

	monitor := scheduler.NewDeadlineMonitor(scheduler.DeadlineMonitorConfig{
		Interval: a.cfg.DeadlineInterval(),
		Trades: func() []*models.Trade {
			if t := sub.Current(); t != nil {
				return []*models.Trade{t}
			}
			return nil
		},
		OnExpired: func(ctx context.Context, e scheduler.Expiry) {
			msg := fmt.Sprintf("Trade #%d: %s deadline passed at %s (state %s)",
				e.TradeID, e.Kind, e.Deadline.Local().Format(time.DateTime), e.State)
			fmt.Println(msg)
			sender.Send(ctx, msg)
		},
	})
	monitor.Start(ctx)
	defer monitor.Stop()

	handle := func(t models.Trade) error {
		fmt.Printf("\n[%s] update\n", time.Now().Format(time.TimeOnly))
		if err := printTrade(ctx, a, &t); err != nil {
			return err
		}
		transitions.Observe(ctx, t)
		if snapshots != nil {
			if _, err := snapshots.Record(ctx, &t); err != nil {
				a.log.Error().Err(err).Int64("trade_id", id).Msg("journal record failed")
			}
		}
		return nil
	}

	fmt.Printf("\nwatching trade #%d (ctrl-c to stop)\n", id)
	errs := sub.Errors()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-sub.Done():
			// the final snapshot is usually still buffered
			if err := drain(updates, handle); err != nil {
				return err
			}
			if t := sub.Current(); t != nil && t.Leg1State.IsTerminal() {
				fmt.Printf("trade #%d finished: %s\n", id, t.Leg1State)
				return nil
			}
			return errors.New("trade event stream stopped")
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			a.log.Warn().Err(err).Int64("trade_id", id).Msg("trade stream")
		case t := <-updates:
			if err := handle(t); err != nil {
				return err
			}
		}
	}
}

// drain hands every buffered update to fn without blocking.
func drain(updates <-chan models.Trade, fn func(models.Trade) error) error {
	for {
		select {
		case t := <-updates:
			if err := fn(t); err != nil {
				return err
			}
		default:
			return nil
		}
	}
}

func runPrices(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("prices", flag.ContinueOnError)
	reference := fs.Bool("reference", false, "compare with the reference price source")
	record := fs.Bool("record", false, "record quotes in the journal")
	if err := parseFlags(fs, args); err != nil {
		return err
	}

	prices, err := a.client.GetPrices(ctx)
	if err != nil {
		return err
	}
	fiats := prices.Currencies("USDC")

	var ref map[string]float64
	if *reference {
		ref, err = external.NewCoinGeckoClient(a.cfg.ReferencePriceURL).GetUSDCPrices(ctx, fiats)
		if err != nil {
			a.log.Warn().Err(err).Msg("reference prices unavailable")
		}
	}

	var priceRepo *repository.PriceRepo
	if *record {
		pool, err := a.openJournal(ctx)
		if err != nil {
			return err
		}
		if pool == nil {
			return errors.New("--record needs DATABASE_URL or DB_USER")
		}
		defer pool.Close()
		priceRepo = repository.NewPriceRepo(pool)
	}

	tw := newTable()
	fmt.Fprintln(tw, "FIAT\tPRICE\tREFERENCE\tAS OF\t")
	for _, fiat := range fiats {
		p, err := prices.Quote("USDC", fiat)
		if err != nil {
			a.log.Warn().Err(err).Msg("skipping quote")
			continue
		}
		ts := time.UnixMilli(prices.Data["USDC"][fiat].Timestamp)
		refLabel := "-"
		if r, ok := ref[fiat]; ok {
			refLabel = strconv.FormatFloat(r, 'f', -1, 64)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t\n", fiat, strconv.FormatFloat(p, 'f', -1, 64), refLabel, ts.Local().Format(time.DateTime))

		if priceRepo != nil {
			if _, err := priceRepo.Record(ctx, repository.PricePoint{
				Timestamp: ts, Token: "USDC", Fiat: fiat, Price: p, Source: "backend",
			}); err != nil {
				a.log.Error().Err(err).Str("fiat", fiat).Msg("price record failed")
			}
			if r, ok := ref[fiat]; ok {
				if _, err := priceRepo.Record(ctx, repository.PricePoint{
					Timestamp: time.Now(), Token: "USDC", Fiat: fiat, Price: r, Source: "coingecko",
				}); err != nil {
					a.log.Error().Err(err).Str("fiat", fiat).Msg("price record failed")
				}
			}
		}
	}
	return tw.Flush()
}

func runMe(ctx context.Context, a *app, args []string) error {
	acct, err := a.accounts.Current(ctx)
	if err != nil {
		return err
	}
	tw := newTable()
	fmt.Fprintf(tw, "Account\t#%d\n", acct.ID)
	fmt.Fprintf(tw, "Name\t%s\n", acct.DisplayName())
	fmt.Fprintf(tw, "Wallet\t%s\n", acct.WalletAddress)
	if a.dispatcher.Wallet() != "" && a.dispatcher.Wallet() != acct.WalletAddress {
		fmt.Fprintf(tw, "Signing wallet\t%s\n", a.dispatcher.Wallet())
	}
	if acct.Email != "" {
		fmt.Fprintf(tw, "Email\t%s\n", acct.Email)
	}
	return tw.Flush()
}

func runStart(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("start", flag.ContinueOnError)
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	if fs.NArg() < 2 {
		return errors.New("usage: start <offer-id> <amount>")
	}
	offerID, err := parseID(fs.Arg(0), "offer id")
	if err != nil {
		return err
	}
	amount, err := strconv.ParseFloat(fs.Arg(1), 64)
	if err != nil {
		return fmt.Errorf("invalid amount %q", fs.Arg(1))
	}

	offer, err := a.client.GetOffer(ctx, offerID)
	if err != nil {
		return err
	}
	res, err := a.dispatcher.StartTrade(ctx, offer, amount)
	if res != nil {
		if perr := printJSON(res); perr != nil {
			return perr
		}
	}
	return err
}

func runAction(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("action", flag.ContinueOnError)
	var p actions.Params
	fs.Int64Var(&p.EscrowID, "escrow-id", 0, "on-chain escrow id")
	fs.StringVar(&p.TokenAccount, "token-account", "", "caller token account (cancel, dispute)")
	fs.StringVar(&p.BuyerTokenAccount, "buyer-token-account", "", "buyer token account (release)")
	fs.StringVar(&p.ArbitratorTokenAccount, "arbitrator-token-account", "", "arbitrator token account (release)")
	fs.StringVar(&p.EvidenceHash, "evidence", "", "evidence hash (dispute)")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	if fs.NArg() < 2 {
		return errors.New("usage: action <trade-id> <action> [flags]")
	}
	id, err := parseID(fs.Arg(0), "trade id")
	if err != nil {
		return err
	}
	act, err := actions.ParseAction(fs.Arg(1))
	if err != nil {
		return err
	}

	t, err := a.client.GetTrade(ctx, id)
	if err != nil {
		return err
	}
	p2 := a.roles.Participants(ctx, t)

	res, err := a.dispatcher.Do(ctx, t, p2.Role, act, p)
	if res != nil {
		if perr := printJSON(res); perr != nil {
			return perr
		}
	}
	return err
}

func runServe(ctx context.Context, a *app, args []string) error {
	fmt.Print(banner)
	a.cfg.Print()

	deps := api.Deps{
		Backend: a.client,
		Names:   a.accounts,
		Roles:   a.roles,
		Actions: a.dispatcher,
	}

	pool, err := a.openJournal(ctx)
	if err != nil {
		return err
	}
	if pool != nil {
		defer pool.Close()
		deps.Journal = repository.NewSnapshotRepo(pool)
		deps.Prices = repository.NewPriceRepo(pool)
		deps.DB = pool
	}

	hub := tradewatch.NewHub(ctx, tradewatch.BackendDialer(a.client), a.watchOptions(), a.cfg.ViewIdle())
	defer hub.Close()
	deps.Watcher = hub

	srv := api.NewServer(deps, a.cfg.ViewPort, a.cfg.ViewAPIKey, a.cfg.CORSAllowOrigin)
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	a.log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("view server shutdown: %w", err)
	}
	return nil
}
