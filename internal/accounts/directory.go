// Package accounts resolves account ids to accounts with a short-lived,
// request-deduplicating cache shared by every view.
package accounts

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/kjannette/p2p-trade-client/internal/logging"
	"github.com/kjannette/p2p-trade-client/internal/models"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

// Fetcher is the subset of the backend client the directory needs.
type Fetcher interface {
	GetAccount(ctx context.Context, id int64) (*models.Account, error)
	GetCurrentAccount(ctx context.Context) (*models.Account, error)
}

const (
	DefaultTTL    = 60 * time.Second
	lookupWorkers = 8
	currentKey    = "me"
)

type entry struct {
	acct    *models.Account
	fetched time.Time
}

type Directory struct {
	fetch Fetcher
	ttl   time.Duration
	now   func() time.Time
	log   zerolog.Logger

	group singleflight.Group

	mu      sync.Mutex
	byID    map[int64]entry
	current *models.Account
}

func NewDirectory(fetch Fetcher, ttl time.Duration) *Directory {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Directory{
		fetch: fetch,
		ttl:   ttl,
		now:   time.Now,
		log:   logging.Component("accounts"),
		byID:  make(map[int64]entry),
	}
}

// Get returns the account, from cache when fresh. Concurrent calls for the
// same id share one request. Failures are never cached.
func (d *Directory) Get(ctx context.Context, id int64) (*models.Account, error) {
	d.mu.Lock()
	e, ok := d.byID[id]
	d.mu.Unlock()
	if ok && d.now().Sub(e.fetched) < d.ttl {
		return e.acct, nil
	}

	v, err, shared := d.group.Do(strconv.FormatInt(id, 10), func() (any, error) {
		acct, err := d.fetch.GetAccount(ctx, id)
		if err != nil {
			return nil, err
		}
		d.store(acct)
		return acct, nil
	})
	if err != nil {
		return nil, err
	}
	if shared {
		d.log.Debug().Int64("account_id", id).Msg("shared in-flight lookup")
	}
	return v.(*models.Account), nil
}

// Current returns the authenticated account. It is fetched once and kept
// until Invalidate.
func (d *Directory) Current(ctx context.Context) (*models.Account, error) {
	d.mu.Lock()
	cur := d.current
	d.mu.Unlock()
	if cur != nil {
		return cur, nil
	}

	v, err, _ := d.group.Do(currentKey, func() (any, error) {
		acct, err := d.fetch.GetCurrentAccount(ctx)
		if err != nil {
			return nil, err
		}
		d.mu.Lock()
		d.current = acct
		d.mu.Unlock()
		d.store(acct)
		return acct, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*models.Account), nil
}

// Invalidate drops every cached entry, including the current account.
// Call it after the credential changes.
func (d *Directory) Invalidate() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.byID = make(map[int64]entry)
	d.current = nil
}

// DisplayNames resolves each distinct id to a display name. It never fails:
// an account that cannot be fetched is shown as "User #<id>".
func (d *Directory) DisplayNames(ctx context.Context, ids []int64) map[int64]string {
	names := make(map[int64]string, len(ids))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(lookupWorkers)

	seen := make(map[int64]bool, len(ids))
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true

		g.Go(func() error {
			name := models.FallbackName(id)
			acct, err := d.Get(gctx, id)
			if err != nil {
				d.log.Warn().Err(err).Int64("account_id", id).Msg("account lookup failed")
			} else if n := acct.DisplayName(); n != "" {
				name = n
			}
			mu.Lock()
			names[id] = name
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return names
}

func (d *Directory) store(acct *models.Account) {
	d.mu.Lock()
	d.byID[acct.ID] = entry{acct: acct, fetched: d.now()}
	d.mu.Unlock()
}
