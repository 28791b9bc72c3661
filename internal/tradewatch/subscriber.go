// Package tradewatch keeps a live local copy of one trade by following the
// backend's per-trade event stream.
package tradewatch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/event"
	"github.com/kjannette/p2p-trade-client/internal/external"
	"github.com/kjannette/p2p-trade-client/internal/httputil"
	"github.com/kjannette/p2p-trade-client/internal/logging"
	"github.com/kjannette/p2p-trade-client/internal/models"
	"github.com/rs/zerolog"
)

var (
	ErrClosed      = errors.New("tradewatch: subscriber closed")
	ErrStreamEnded = errors.New("tradewatch: event stream ended")
)

// Stream is a source of complete trade snapshots.
type Stream interface {
	NextTrade() (*models.Trade, error)
	Close() error
}

// Dialer opens a stream for tradeID. lastEventID is the id of the last
// event seen on a previous connection, empty on the first dial.
type Dialer func(ctx context.Context, tradeID int64, lastEventID string) (Stream, error)

// resumable streams report the id of the last event they read.
type resumable interface {
	LastEventID() string
}

// BackendDialer opens streams through the backend client.
func BackendDialer(c *external.BackendClient) Dialer {
	return func(ctx context.Context, tradeID int64, lastEventID string) (Stream, error) {
		s, err := c.OpenTradeEvents(ctx, tradeID, lastEventID)
		if err != nil {
			return nil, err
		}
		return s, nil
	}
}

// Options controls reconnection. MaxReconnects 0 reconnects forever, a
// negative value never reconnects.
type Options struct {
	MaxReconnects int
	BaseDelay     time.Duration
	MaxDelay      time.Duration
}

var DefaultOptions = Options{
	MaxReconnects: 0,
	BaseDelay:     500 * time.Millisecond,
	MaxDelay:      30 * time.Second,
}

const errBuffer = 16

type Subscriber struct {
	tradeID int64
	dial    Dialer
	opts    Options
	backoff httputil.RetryConfig
	log     zerolog.Logger

	feed  event.FeedOf[models.Trade]
	scope event.SubscriptionScope
	errs  chan error
	done chan struct{}

	mu        sync.Mutex
	current   *models.Trade
	lastID    string
	connected bool
	started   bool
	closed    bool
	cancel    context.CancelFunc
}

func New(tradeID int64, dial Dialer, opts Options) *Subscriber {
	return &Subscriber{
		tradeID: tradeID,
		dial:    dial,
		opts:    opts,
		backoff: httputil.RetryConfig{
			BaseDelay: opts.BaseDelay,
			MaxDelay:  opts.MaxDelay,
			Jitter:    true,
		},
		log:  logging.Component("tradewatch").With().Int64("trade_id", tradeID).Logger(),
		errs: make(chan error, errBuffer),
		done: make(chan struct{}),
	}
}

func (s *Subscriber) TradeID() int64 { return s.tradeID }

// Seed installs an initial copy (from GetTrade or the journal) without
// publishing it. It follows the same staleness rule as stream events.
func (s *Subscriber) Seed(t *models.Trade) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current != nil && stale(t, s.current) {
		return false
	}
	s.current = t
	return true
}

// Subscribe delivers every accepted snapshot to ch. Delivery blocks the
// stream until each subscriber has received, so ch should be buffered and
// drained. All subscriptions are dropped when the subscriber stops.
func (s *Subscriber) Subscribe(ch chan<- models.Trade) event.Subscription {
	fs := s.feed.Subscribe(ch)
	if sub := s.scope.Track(fs); sub != nil {
		return sub
	}
	fs.Unsubscribe()
	return event.NewSubscription(func(<-chan struct{}) error { return nil })
}

// Errors reports stream failures and malformed payloads. It is closed when
// the subscriber stops.
func (s *Subscriber) Errors() <-chan error { return s.errs }

// Done is closed once the subscriber has stopped and released its stream.
func (s *Subscriber) Done() <-chan struct{} { return s.done }

// Start opens the stream in the background. Calling it again is a no-op.
func (s *Subscriber) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if s.started {
		return nil
	}
	s.started = true

	ctx, s.cancel = context.WithCancel(ctx)
	go s.run(ctx)
	return nil
}

// Close stops the subscriber. It does not wait; use Done for that.
func (s *Subscriber) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	if s.started {
		s.cancel()
		// unblocks a Send waiting on a subscriber that stopped reading
		s.scope.Close()
		return
	}
	s.scope.Close()
	close(s.errs)
	close(s.done)
}

// Current returns a copy of the latest snapshot, or nil before the first.
func (s *Subscriber) Current() *models.Trade {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return nil
	}
	cp := *s.current
	return &cp
}

func (s *Subscriber) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

func (s *Subscriber) run(ctx context.Context) {
	defer func() {
		s.setConnected(false)
		s.scope.Close()
		close(s.errs)
		close(s.done)
		s.log.Info().Msg("subscriber stopped")
	}()

	attempt := 0
	for {
		stream, err := s.dial(ctx, s.tradeID, s.lastEventID())
		if err == nil {
			attempt = 0
			s.setConnected(true)
			s.log.Info().Msg("connected")
			err = s.consume(ctx, stream)
			s.setConnected(false)
		}
		if ctx.Err() != nil {
			return
		}

		s.report(err)

		if cur := s.Current(); cur != nil && cur.Leg1State.IsTerminal() {
			s.log.Info().Str("state", string(cur.Leg1State)).Msg("trade finished, not reconnecting")
			return
		}
		if !retryable(err) {
			s.log.Error().Err(err).Msg("giving up on event stream")
			return
		}
		if s.opts.MaxReconnects < 0 || (s.opts.MaxReconnects > 0 && attempt >= s.opts.MaxReconnects) {
			s.log.Warn().Err(err).Int("attempts", attempt).Msg("reconnect limit reached")
			return
		}

		attempt++
		delay := s.backoff.Backoff(attempt)
		s.log.Warn().Err(err).Int("attempt", attempt).Dur("delay", delay).Msg("stream lost, reconnecting")
		if httputil.Sleep(ctx, delay) != nil {
			return
		}
	}
}

// consume reads until the stream fails. The stream is closed on return and
// as soon as ctx is cancelled.
func (s *Subscriber) consume(ctx context.Context, stream Stream) error {
	stop := context.AfterFunc(ctx, func() { _ = stream.Close() })
	defer stop()
	defer stream.Close()
	if r, ok := stream.(resumable); ok {
		defer func() { s.setLastEventID(r.LastEventID()) }()
	}

	for {
		t, err := stream.NextTrade()
		if err != nil {
			var perr *external.ParseError
			if errors.As(err, &perr) {
				s.report(err)
				continue
			}
			if errors.Is(err, io.EOF) {
				return ErrStreamEnded
			}
			return err
		}
		s.apply(t)
	}
}

func (s *Subscriber) apply(t *models.Trade) {
	s.mu.Lock()
	if s.current != nil && stale(t, s.current) {
		prev := s.current.UpdatedAt
		s.mu.Unlock()
		s.log.Debug().Time("event_updated_at", t.UpdatedAt).Time("current_updated_at", prev).
			Msg("dropping stale snapshot")
		return
	}
	s.current = t
	s.mu.Unlock()

	s.log.Debug().Str("state", string(t.Leg1State)).Msg("snapshot received")
	s.feed.Send(*t)
}

func (s *Subscriber) report(err error) {
	if err == nil {
		return
	}
	select {
	case s.errs <- fmt.Errorf("trade %d: %w", s.tradeID, err):
	default:
		s.log.Warn().Err(err).Msg("error channel full, dropping")
	}
}

func (s *Subscriber) lastEventID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastID
}

func (s *Subscriber) setLastEventID(id string) {
	if id == "" {
		return
	}
	s.mu.Lock()
	s.lastID = id
	s.mu.Unlock()
}

func (s *Subscriber) setConnected(v bool) {
	s.mu.Lock()
	s.connected = v
	s.mu.Unlock()
}

// stale reports whether next is strictly older than cur. Snapshots without a
// timestamp are never considered stale.
func stale(next, cur *models.Trade) bool {
	if next.UpdatedAt.IsZero() || cur.UpdatedAt.IsZero() {
		return false
	}
	return next.UpdatedAt.Before(cur.UpdatedAt)
}

// retryable is false for client errors that a reconnect cannot fix.
func retryable(err error) bool {
	var httpErr *external.HTTPError
	if errors.As(err, &httpErr) {
		switch {
		case httpErr.Status == http.StatusRequestTimeout, httpErr.Status == http.StatusTooManyRequests:
			return true
		case httpErr.Status >= 400 && httpErr.Status < 500:
			return false
		}
	}
	return true
}
