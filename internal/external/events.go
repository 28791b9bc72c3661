package external

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"iter"
	"net/http"
	"strings"
	"sync"

	"github.com/kjannette/p2p-trade-client/internal/models"
	sse "github.com/tmaxmax/go-sse"
)

// maxEventSize bounds a single event; trade snapshots are a few KB.
const maxEventSize = 1 << 20

// Event is one dispatched server-sent event.
type Event struct {
	ID   string
	Type string
	Data string
}

// TradeEventStream reads the per-trade server-push channel. It is not safe
// for concurrent use by multiple readers; Close may be called from any
// goroutine and unblocks a pending Next.
type TradeEventStream struct {
	tradeID int64
	body    io.ReadCloser

	mu     sync.Mutex
	next   func() (sse.Event, error, bool)
	stop   func()
	lastID string

	closeOnce sync.Once
	closeErr  error
}

// OpenTradeEvents opens GET /trades/{id}/events. A non-empty lastEventID is
// sent as Last-Event-ID so the backend can resume after a reconnect. The
// stream stays open until ctx is cancelled, Close is called, or the server
// ends it.
func (c *BackendClient) OpenTradeEvents(ctx context.Context, tradeID int64, lastEventID string) (*TradeEventStream, error) {
	path := pathf("/trades/%d/events", tradeID)
	op := "GET " + path

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("%s: build request: %w", op, err)
	}
	c.setHeaders(req)
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	if lastEventID != "" {
		req.Header.Set("Last-Event-ID", lastEventID)
	}

	resp, err := c.streamClient.Do(req)
	if err != nil {
		return nil, &NetworkError{Op: op, Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		text, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
		resp.Body.Close()
		return nil, &HTTPError{Op: op, Status: resp.StatusCode, Body: strings.TrimSpace(string(text))}
	}
	if ct := resp.Header.Get("Content-Type"); ct != "" && !strings.HasPrefix(ct, "text/event-stream") {
		resp.Body.Close()
		return nil, &ParseError{Op: op, Err: fmt.Errorf("unexpected content type %q", ct)}
	}

	c.log.Info().Int64("trade_id", tradeID).Str("last_event_id", lastEventID).Msg("trade event stream opened")

	next, stop := iter.Pull2(sse.Read(resp.Body, &sse.ReadConfig{MaxEventSize: maxEventSize}))
	return &TradeEventStream{
		tradeID: tradeID,
		body:    resp.Body,
		next:    next,
		stop:    stop,
		lastID:  lastEventID,
	}, nil
}

// Next blocks until the next message event. Named events other than
// "message" are skipped, matching EventSource.onmessage. It returns io.EOF
// when the server closes the stream.
func (s *TradeEventStream) Next() (Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for {
		ev, err, ok := s.next()
		if !ok {
			return Event{}, io.EOF
		}
		if err != nil {
			return Event{}, err
		}
		if ev.LastEventID != "" {
			s.lastID = ev.LastEventID
		}
		if ev.Data == "" || (ev.Type != "" && ev.Type != "message") {
			continue
		}
		return Event{ID: s.lastID, Type: ev.Type, Data: ev.Data}, nil
	}
}

// LastEventID is the id of the most recent event read, or the id the stream
// was opened with.
func (s *TradeEventStream) LastEventID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastID
}

// NextTrade returns the next event decoded as a complete Trade snapshot.
// A malformed payload yields a *ParseError; the stream remains usable.
func (s *TradeEventStream) NextTrade() (*models.Trade, error) {
	ev, err := s.Next()
	if err != nil {
		return nil, err
	}
	var t models.Trade
	if err := json.Unmarshal([]byte(ev.Data), &t); err != nil {
		return nil, &ParseError{Op: fmt.Sprintf("trade %d event", s.tradeID), Err: err}
	}
	return &t, nil
}

// Close releases the underlying connection. Safe to call more than once.
func (s *TradeEventStream) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.body.Close()
		// Next holds mu until the closed body fails its read.
		s.mu.Lock()
		s.stop()
		s.mu.Unlock()
	})
	return s.closeErr
}
