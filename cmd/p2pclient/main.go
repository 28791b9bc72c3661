package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kjannette/p2p-trade-client/internal/accounts"
	"github.com/kjannette/p2p-trade-client/internal/actions"
	"github.com/kjannette/p2p-trade-client/internal/auth"
	"github.com/kjannette/p2p-trade-client/internal/config"
	"github.com/kjannette/p2p-trade-client/internal/db"
	"github.com/kjannette/p2p-trade-client/internal/external"
	"github.com/kjannette/p2p-trade-client/internal/logging"
	"github.com/kjannette/p2p-trade-client/internal/repository"
	"github.com/kjannette/p2p-trade-client/internal/roles"
	"github.com/kjannette/p2p-trade-client/internal/tradewatch"
	"github.com/kjannette/p2p-trade-client/internal/validation"
	"github.com/rs/zerolog"
)

const banner = `
╔══════════════════════════════════════╗
║       P2P USDC Trade Client v0.1     ║
║                                      ║
╚══════════════════════════════════════╝
`

const usage = `usage: p2pclient <command> [flags] [args]

commands:
  offers [--type BUY|SELL] [--token USDC]   list offers
  offer <id>                                show one offer
  offer create --type BUY|SELL --min --max  publish an offer (--total --rate --fiat --terms)
  offer update <id> [flags]                 change an offer's fields
  offer delete <id>                         withdraw an offer
  trades [--status S] [--user ID]           list my trades, or all trades by filter
  trade <id>                                show a trade with role and actions
  trade update <id> [--fiat-amount] [--from-bank] [--destination-bank]
  watch <id> [--journal]                    follow a trade's live updates
  prices [--reference] [--record]           show USDC quotes
  me                                        show the current account
  account create|update [--username] [--email] [--wallet]
  escrows                                   list my escrows
  escrow fund <trade-id> --escrow-id --token-account --mint
  start <offer-id> <amount>                 start a trade against an offer
  action <trade-id> <action> [flags]        run create_escrow|mark_paid|release|dispute|cancel
  serve                                     run the local view server
`

// app holds the clients shared by every command.
type app struct {
	cfg        *config.Config
	client     *external.BackendClient
	accounts   *accounts.Directory
	roles      *roles.Resolver
	dispatcher *actions.Dispatcher
	offers     *actions.Offers
	log        zerolog.Logger
}

func main() {
	if len(os.Args) < 2 || os.Args[1] == "-h" || os.Args[1] == "--help" || os.Args[1] == "help" {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	name, args := os.Args[1], os.Args[2:]

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load error: %v\n", err)
		os.Exit(1)
	}
	logging.Setup(cfg.LogLevel, cfg.Production())

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}

	a, err := newApp(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}

	cmd, ok := commands[name]
	if !ok {
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", name, usage)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := cmd(ctx, a, args); err != nil {
		if errors.Is(err, context.Canceled) {
			os.Exit(130)
		}
		var verr *validation.ValidationError
		if errors.As(err, &verr) {
			fmt.Fprintf(os.Stderr, "%v\n", verr)
			os.Exit(2)
		}
		fmt.Fprintf(os.Stderr, "%s: %v\n", name, err)
		os.Exit(1)
	}
}

func newApp(cfg *config.Config) (*app, error) {
	log := logging.Component("main")

	client := external.NewBackendClient(cfg.APIURL, external.WithTimeout(cfg.HTTPTimeout()))
	wallet := cfg.WalletAddress

	if cfg.AuthToken != "" {
		cred, err := auth.Parse(cfg.AuthToken)
		if err != nil {
			return nil, fmt.Errorf("AUTH_TOKEN: %w", err)
		}
		if cred.Expired(time.Now()) {
			log.Warn().Time("expires_at", *cred.ExpiresAt).Msg("auth token has expired, the backend will reject it")
		}
		client = client.WithCredential(cred)
		if wallet == "" {
			wallet = cred.Wallet
		}
	}

	dir := accounts.NewDirectory(client, cfg.AccountCacheTTL())
	guard := validation.NewGuard(validation.Limits{
		MaxTradeAmount: cfg.MaxTradeAmount,
		MaxOpenTrades:  cfg.MaxOpenTrades,
	}, actions.OpenTrades{Backend: client})

	return &app{
		cfg:        cfg,
		client:     client,
		accounts:   dir,
		roles:      roles.NewResolver(dir),
		dispatcher: actions.NewDispatcher(client, wallet, guard),
		offers:     actions.NewOffers(client),
		log:        log,
	}, nil
}

func (a *app) watchOptions() tradewatch.Options {
	return tradewatch.Options{
		MaxReconnects: a.cfg.SSEMaxReconnects,
		BaseDelay:     a.cfg.SSEBaseDelay(),
		MaxDelay:      a.cfg.SSEMaxDelay(),
	}
}

// openJournal connects to the snapshot journal and ensures its tables.
// It returns nil when no database is configured.
func (a *app) openJournal(ctx context.Context) (*pgxpool.Pool, error) {
	if !a.cfg.JournalEnabled() {
		return nil, nil
	}
	a.log.Info().Str("db", a.cfg.DBName).Msg("connecting to journal")
	pool, err := db.Connect(ctx, a.cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("journal connect: %w", err)
	}
	if err := db.TestConnection(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("journal test query: %w", err)
	}
	if err := repository.EnsureSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("journal schema: %w", err)
	}
	return pool, nil
}
