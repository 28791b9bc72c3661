package notifications

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/kjannette/p2p-trade-client/internal/httputil"
	"github.com/kjannette/p2p-trade-client/internal/logging"
	"github.com/kjannette/p2p-trade-client/internal/models"
	"github.com/rs/zerolog"
)

const DefaultBotName = "P2PTradeClient"

type Sender struct {
	webhookURL string
	botName    string
	httpClient *http.Client
	retry      httputil.RetryConfig
	log        zerolog.Logger
}

func NewSender(webhookURL, botName string) *Sender {
	if botName == "" {
		botName = DefaultBotName
	}
	return &Sender{
		webhookURL: webhookURL,
		botName:    botName,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		retry: httputil.RetryConfig{
			MaxAttempts: 3,
			BaseDelay:   1 * time.Second,
			MaxDelay:    5 * time.Second,
		},
		log: logging.Component("notify"),
	}
}

// Send logs msg and posts it to the webhook, if one is configured.
// Delivery failures are logged, never returned.
func (s *Sender) Send(ctx context.Context, msg string) {
	formatted := fmt.Sprintf("[%s] %s", s.botName, msg)
	s.log.Info().Msg(formatted)

	if s.webhookURL == "" {
		return
	}

	body, err := json.Marshal(s.formatPayload(formatted))
	if err != nil {
		s.log.Error().Err(err).Msg("marshal webhook payload")
		return
	}

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	resp, err := httputil.Do(ctx, s.httpClient, s.retry, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.webhookURL, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		return req, nil
	})
	if err != nil {
		s.log.Error().Err(err).Msg("webhook delivery failed")
		return
	}
	resp.Body.Close()
}

func (s *Sender) formatPayload(msg string) map[string]string {
	if strings.Contains(s.webhookURL, "discord") {
		return map[string]string{
			"content":  msg,
			"username": s.botName,
		}
	}
	return map[string]string{
		"text":     fmt.Sprintf("`%s`", msg),
		"username": s.botName,
	}
}

func (s *Sender) Enabled() bool {
	return s.webhookURL != ""
}

// Transitions announces leg 1 state changes seen on a trade feed. The first
// snapshot of each trade only records its state.
type Transitions struct {
	sender *Sender

	mu   sync.Mutex
	last map[int64]models.TradeState
}

func NewTransitions(sender *Sender) *Transitions {
	return &Transitions{sender: sender, last: make(map[int64]models.TradeState)}
}

// Observe returns true when t changed state and a message was sent.
func (n *Transitions) Observe(ctx context.Context, t models.Trade) bool {
	n.mu.Lock()
	prev, seen := n.last[t.ID]
	n.last[t.ID] = t.Leg1State
	n.mu.Unlock()

	if !seen || prev == t.Leg1State {
		return false
	}
	n.sender.Send(ctx, fmt.Sprintf("Trade #%d: %s -> %s", t.ID, prev, t.Leg1State))
	return true
}

// Run observes snapshots from ch until it is closed or ctx is done.
func (n *Transitions) Run(ctx context.Context, ch <-chan models.Trade) {
	for {
		select {
		case <-ctx.Done():
			return
		case t, ok := <-ch:
			if !ok {
				return
			}
			n.Observe(ctx, t)
		}
	}
}
