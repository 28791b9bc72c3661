package tradewatch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/kjannette/p2p-trade-client/internal/logging"
	"github.com/kjannette/p2p-trade-client/internal/models"
)

// Service owns at most one subscriber, like a single open trade view.
// Watching a different id closes the previous subscriber first.
type Service struct {
	mu   sync.Mutex
	dial Dialer
	opts Options
	sub  *Subscriber
}

func NewService(dial Dialer, opts Options) *Service {
	return &Service{dial: dial, opts: opts}
}

// Watch returns the running subscriber for tradeID, starting one if needed.
// seed may be nil.
func (s *Service) Watch(ctx context.Context, tradeID int64, seed *models.Trade) (*Subscriber, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	log := logging.Component("tradewatch")

	if s.sub != nil {
		if s.sub.TradeID() == tradeID && !isDone(s.sub) {
			return s.sub, nil
		}
		log.Info().Int64("trade_id", s.sub.TradeID()).Msg("closing previous subscriber")
		s.sub.Close()
		s.sub = nil
	}

	sub := New(tradeID, s.dial, s.opts)
	if seed != nil {
		sub.Seed(seed)
	}
	if err := sub.Start(ctx); err != nil {
		return nil, fmt.Errorf("start subscriber: %w", err)
	}
	s.sub = sub
	return sub, nil
}

func (s *Service) Current() *Subscriber {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sub
}

func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sub != nil {
		s.sub.Close()
		s.sub = nil
	}
}

// Hub keeps one subscriber per trade for servers that show several trades
// at once. Subscribers that stop are replaced on the next Watch. A subscriber
// nobody holds is closed once it has been idle for longer than the hub's
// idle timeout.
type Hub struct {
	ctx  context.Context
	dial Dialer
	opts Options
	idle time.Duration
	now  func() time.Time

	mu   sync.Mutex
	subs map[int64]*hubEntry
}

type hubEntry struct {
	sub      *Subscriber
	refs     int
	lastUsed time.Time
}

// NewHub starts a hub whose janitor runs until ctx is cancelled. idle 0
// keeps subscribers until they stop on their own.
func NewHub(ctx context.Context, dial Dialer, opts Options, idle time.Duration) *Hub {
	h := newHub(ctx, dial, opts, idle, time.Now)
	if idle > 0 {
		go h.janitor(idle)
	}
	return h
}

func newHub(ctx context.Context, dial Dialer, opts Options, idle time.Duration, now func() time.Time) *Hub {
	return &Hub{
		ctx:  ctx,
		dial: dial,
		opts: opts,
		idle: idle,
		now:  now,
		subs: make(map[int64]*hubEntry),
	}
}

// Watch returns the subscriber for tradeID with a hold on it. The caller
// must call release once it no longer reads from the subscriber.
func (h *Hub) Watch(tradeID int64, seed *models.Trade) (*Subscriber, func(), error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	e, ok := h.subs[tradeID]
	if !ok || isDone(e.sub) {
		sub := New(tradeID, h.dial, h.opts)
		if err := sub.Start(h.ctx); err != nil {
			return nil, nil, err
		}
		e = &hubEntry{sub: sub}
		h.subs[tradeID] = e
	}
	if seed != nil {
		e.sub.Seed(seed)
	}
	e.refs++
	e.lastUsed = h.now()

	var once sync.Once
	release := func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			e.refs--
			e.lastUsed = h.now()
		})
	}
	return e.sub, release, nil
}

// Len reports how many subscribers the hub holds.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// sweep drops stopped subscribers and closes unheld ones idle since before
// now minus the idle timeout.
func (h *Hub) sweep(now time.Time) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	evicted := 0
	for id, e := range h.subs {
		switch {
		case isDone(e.sub):
		case h.idle > 0 && e.refs <= 0 && now.Sub(e.lastUsed) >= h.idle:
			e.sub.Close()
		default:
			continue
		}
		delete(h.subs, id)
		evicted++
	}
	return evicted
}

func (h *Hub) janitor(idle time.Duration) {
	interval := idle / 2
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	log := logging.Component("tradewatch")

	for {
		select {
		case <-h.ctx.Done():
			h.Close()
			return
		case <-ticker.C:
			if n := h.sweep(h.now()); n > 0 {
				log.Debug().Int("evicted", n).Msg("released idle trade streams")
			}
		}
	}
}

func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, e := range h.subs {
		e.sub.Close()
		delete(h.subs, id)
	}
}

func isDone(sub *Subscriber) bool {
	select {
	case <-sub.Done():
		return true
	default:
		return false
	}
}
