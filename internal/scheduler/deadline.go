package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/kjannette/p2p-trade-client/internal/logging"
	"github.com/kjannette/p2p-trade-client/internal/models"
	"github.com/rs/zerolog"
)

type DeadlineKind string

const (
	EscrowDeposit DeadlineKind = "escrow_deposit"
	FiatPayment   DeadlineKind = "fiat_payment"
)

// Expiry is a deadline that passed while the trade was still waiting on it.
type Expiry struct {
	TradeID  int64
	Kind     DeadlineKind
	Deadline time.Time
	State    models.TradeState
}

// TradeProvider returns the trades to check, typically the current
// snapshots of the watched trades.
type TradeProvider func() []*models.Trade

type DeadlineMonitorConfig struct {
	Interval  time.Duration // e.g. 30*time.Second
	Trades    TradeProvider
	OnExpired func(ctx context.Context, e Expiry)
}

// DeadlineMonitor fires OnExpired once per trade and deadline kind.
type DeadlineMonitor struct {
	cfg DeadlineMonitorConfig
	now func() time.Time
	log zerolog.Logger

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	fired   map[firedKey]bool
}

type firedKey struct {
	tradeID int64
	kind    DeadlineKind
}

func NewDeadlineMonitor(cfg DeadlineMonitorConfig) *DeadlineMonitor {
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	return &DeadlineMonitor{
		cfg:   cfg,
		now:   time.Now,
		log:   logging.Component("deadlines"),
		fired: make(map[firedKey]bool),
	}
}

func (m *DeadlineMonitor) Start(ctx context.Context) {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		m.log.Warn().Msg("already running")
		return
	}
	m.running = true
	m.stopCh = make(chan struct{})
	stopCh := m.stopCh
	m.mu.Unlock()

	go func() {
		ticker := time.NewTicker(m.cfg.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-stopCh:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.CheckNow(ctx)
			}
		}
	}()

	m.log.Info().Dur("interval", m.cfg.Interval).Msg("started")
}

func (m *DeadlineMonitor) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.running {
		return
	}
	close(m.stopCh)
	m.running = false
	m.log.Info().Msg("stopped")
}

func (m *DeadlineMonitor) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// CheckNow runs one pass and returns the expiries fired by it.
func (m *DeadlineMonitor) CheckNow(ctx context.Context) []Expiry {
	if m.cfg.Trades == nil {
		return nil
	}
	now := m.now()

	var out []Expiry
	for _, t := range m.cfg.Trades() {
		if t == nil {
			continue
		}
		for _, e := range pending(t) {
			if !models.DeadlineExpired(&e.Deadline, now) {
				continue
			}
			key := firedKey{e.TradeID, e.Kind}
			m.mu.Lock()
			already := m.fired[key]
			m.fired[key] = true
			m.mu.Unlock()
			if already {
				continue
			}

			m.log.Warn().Int64("trade_id", e.TradeID).Str("kind", string(e.Kind)).
				Time("deadline", e.Deadline).Msg("deadline expired")
			out = append(out, e)
			if m.cfg.OnExpired != nil {
				m.cfg.OnExpired(ctx, e)
			}
		}
	}
	return out
}

// pending lists the deadlines the trade is still waiting on in its current
// state.
func pending(t *models.Trade) []Expiry {
	var out []Expiry
	switch t.Leg1State {
	case models.StateCreated:
		if t.Leg1EscrowDepositDeadline != nil {
			out = append(out, Expiry{t.ID, EscrowDeposit, *t.Leg1EscrowDepositDeadline, t.Leg1State})
		}
	case models.StateAwaitingFiatPayment:
		if t.Leg1FiatPaymentDeadline != nil && t.Leg1FiatPaidAt == nil {
			out = append(out, Expiry{t.ID, FiatPayment, *t.Leg1FiatPaymentDeadline, t.Leg1State})
		}
	}
	return out
}
