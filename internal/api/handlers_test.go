package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kjannette/p2p-trade-client/internal/actions"
	"github.com/kjannette/p2p-trade-client/internal/external"
	"github.com/kjannette/p2p-trade-client/internal/models"
	"github.com/kjannette/p2p-trade-client/internal/roles"
	"github.com/kjannette/p2p-trade-client/internal/tradewatch"
	"github.com/kjannette/p2p-trade-client/internal/validation"
)

type fakeBackend struct {
	authed     bool
	offers     []models.Offer
	trade      *models.Trade
	tradeCalls atomic.Int32
}

func (f *fakeBackend) Authenticated() bool { return f.authed }

func (f *fakeBackend) ListOffers(ctx context.Context, filter external.OfferFilter) ([]models.Offer, error) {
	out := append([]models.Offer(nil), f.offers...)
	return out, nil
}

func (f *fakeBackend) GetOffer(ctx context.Context, id int64) (*models.Offer, error) {
	for _, o := range f.offers {
		if o.ID == id {
			return &o, nil
		}
	}
	return nil, &external.HTTPError{Op: "GET /offers", Status: http.StatusNotFound, Body: "not found"}
}

func (f *fakeBackend) GetTrade(ctx context.Context, id int64) (*models.Trade, error) {
	f.tradeCalls.Add(1)
	if f.trade == nil {
		return nil, &external.HTTPError{Op: "GET /trades", Status: http.StatusNotFound}
	}
	cp := *f.trade
	return &cp, nil
}

func (f *fakeBackend) GetPrices(ctx context.Context) (*models.PricesResponse, error) {
	return &models.PricesResponse{
		Status: "success",
		Data: map[string]map[string]models.PriceQuote{
			"USDC": {
				"USD": {Price: "1.0001", Timestamp: 1700000000000},
				"EUR": {Price: "0.92", Timestamp: 1700000000000},
				"COP": {Price: "bogus", Timestamp: 1700000000000},
			},
		},
	}, nil
}

type fakeNames struct{}

func (fakeNames) DisplayNames(ctx context.Context, ids []int64) map[int64]string {
	out := make(map[int64]string)
	for _, id := range ids {
		out[id] = models.FallbackName(id)
	}
	return out
}

type fixedRole struct{ role roles.Role }

func (f fixedRole) Participants(ctx context.Context, t *models.Trade) roles.Participants {
	return roles.Participants{
		Role:         f.role,
		Current:      &models.Account{ID: 2, Username: "bob", WalletAddress: "9xQeWvG816bUx9EPjHmaT23yvVM2ZWbrrpZb9PusVFin"},
		Counterparty: &models.Account{ID: 1, Username: "alice"},
	}
}

type fakeDispatcher struct {
	did    actions.Action
	params actions.Params
	err    error
	start  *actions.StartResult
}

func (f *fakeDispatcher) Do(ctx context.Context, t *models.Trade, role roles.Role, a actions.Action, p actions.Params) (*actions.Result, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.did, f.params = a, p
	return &actions.Result{Trade: t, Message: "ok"}, nil
}

func (f *fakeDispatcher) StartTrade(ctx context.Context, offer *models.Offer, amount float64) (*actions.StartResult, error) {
	if f.err != nil {
		return f.start, f.err
	}
	return &actions.StartResult{TradeID: 77, EscrowID: 5}, nil
}

// stoppedDialer makes every subscriber stop at once, so handlers fall back
// to direct fetches.
func stoppedDialer(ctx context.Context, tradeID int64, lastEventID string) (tradewatch.Stream, error) {
	return nil, &external.HTTPError{Op: "GET /trades/events", Status: http.StatusNotFound}
}

func newTestServer(t *testing.T, b *fakeBackend, d *fakeDispatcher, dial tradewatch.Dialer) *Server {
	t.Helper()
	hub := tradewatch.NewHub(context.Background(), dial, tradewatch.Options{MaxReconnects: -1, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond}, time.Minute)
	t.Cleanup(hub.Close)
	return NewServer(Deps{
		Backend: b,
		Names:   fakeNames{},
		Roles:   fixedRole{role: roles.Buyer},
		Actions: d,
		Watcher: hub,
	}, 0, "", "")
}

func do(t *testing.T, s *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, req)
	return rr
}

func sampleTrade() *models.Trade {
	buyer := int64(2)
	return &models.Trade{
		ID:                  7,
		Leg1State:           models.StateAwaitingFiatPayment,
		Leg1SellerAccountID: 1,
		Leg1BuyerAccountID:  &buyer,
		Leg1CryptoAmount:    "10500000",
		UpdatedAt:           time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
	}
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, &fakeBackend{authed: true}, &fakeDispatcher{}, stoppedDialer)
	rr := do(t, s, http.MethodGet, "/health", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var resp healthResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Services.Backend != "authenticated" || resp.Services.Database != "disabled" {
		t.Fatalf("unexpected services %+v", resp.Services)
	}
}

func TestListOffers_SortedWithNames(t *testing.T) {
	now := time.Now()
	b := &fakeBackend{offers: []models.Offer{
		{ID: 1, CreatorAccountID: 10, RateAdjustment: 1.02, UpdatedAt: now.Add(-time.Hour)},
		{ID: 2, CreatorAccountID: 20, RateAdjustment: 1.0, UpdatedAt: now},
	}}
	s := newTestServer(t, b, &fakeDispatcher{}, stoppedDialer)

	rr := do(t, s, http.MethodGet, "/v1/offers?type=SELL", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var views []offerView
	if err := json.Unmarshal(rr.Body.Bytes(), &views); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(views) != 2 || views[0].ID != 2 {
		t.Fatalf("expected newest offer first, got %+v", views)
	}
	if views[0].CreatorName != "User #20" || views[0].Rate != "0%" {
		t.Fatalf("unexpected view %+v", views[0])
	}
	if views[1].Rate != "+2.0%" {
		t.Fatalf("expected +2.0%%, got %q", views[1].Rate)
	}
	if views[0].CanTrade {
		t.Fatal("anonymous caller should not be able to trade")
	}
}

func TestListOffers_BadType(t *testing.T) {
	s := newTestServer(t, &fakeBackend{}, &fakeDispatcher{}, stoppedDialer)
	rr := do(t, s, http.MethodGet, "/v1/offers?type=SWAP", "")
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}

func TestGetOffer_NotFound(t *testing.T) {
	s := newTestServer(t, &fakeBackend{}, &fakeDispatcher{}, stoppedDialer)
	rr := do(t, s, http.MethodGet, "/v1/offers/99", "")
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
}

func TestGetTrade_FallsBackToFetch(t *testing.T) {
	b := &fakeBackend{trade: sampleTrade()}
	s := newTestServer(t, b, &fakeDispatcher{}, stoppedDialer)

	rr := do(t, s, http.MethodGet, "/v1/trades/7", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var view struct {
		Trade   models.Trade `json:"trade"`
		Role    string       `json:"role"`
		Actions []actionView `json:"actions"`
		Amount  string       `json:"amount"`
		Live    bool         `json:"live"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &view); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if view.Trade.ID != 7 || view.Live {
		t.Fatalf("unexpected view %+v", view)
	}
	if view.Role != string(roles.Buyer) {
		t.Fatalf("expected buyer role, got %q", view.Role)
	}
	want := actions.Available(sampleTrade(), roles.Buyer)
	if len(view.Actions) != len(want) {
		t.Fatalf("expected %d actions, got %+v", len(want), view.Actions)
	}
	for i, a := range want {
		if view.Actions[i].Action != a || view.Actions[i].Label != a.Label() {
			t.Fatalf("action %d: got %+v, want %s", i, view.Actions[i], a)
		}
	}
	if b.tradeCalls.Load() != 1 {
		t.Fatalf("expected 1 fetch, got %d", b.tradeCalls.Load())
	}
}

func TestGetTrade_InvalidID(t *testing.T) {
	s := newTestServer(t, &fakeBackend{}, &fakeDispatcher{}, stoppedDialer)
	rr := do(t, s, http.MethodGet, "/v1/trades/abc", "")
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}

func TestAction_Dispatches(t *testing.T) {
	d := &fakeDispatcher{}
	s := newTestServer(t, &fakeBackend{trade: sampleTrade()}, d, stoppedDialer)

	rr := do(t, s, http.MethodPost, "/v1/trades/7/actions/dispute", `{"escrow_id":5,"token_account":"acct"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if d.did != actions.Dispute || d.params.EscrowID != 5 || d.params.TokenAccount != "acct" {
		t.Fatalf("unexpected dispatch %s %+v", d.did, d.params)
	}
}

func TestAction_EmptyBody(t *testing.T) {
	d := &fakeDispatcher{}
	s := newTestServer(t, &fakeBackend{trade: sampleTrade()}, d, stoppedDialer)

	rr := do(t, s, http.MethodPost, "/v1/trades/7/actions/mark_paid", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if d.did != actions.MarkPaid {
		t.Fatalf("expected mark_paid, got %s", d.did)
	}
}

func TestAction_UnknownAction(t *testing.T) {
	s := newTestServer(t, &fakeBackend{trade: sampleTrade()}, &fakeDispatcher{}, stoppedDialer)
	rr := do(t, s, http.MethodPost, "/v1/trades/7/actions/refund", "")
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}

func TestAction_ErrorMapping(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{external.ErrUnauthenticated, http.StatusUnauthorized},
		{actions.ErrActionNotAllowed, http.StatusConflict},
		{&validation.ValidationError{Field: "escrow_id", Reason: "required"}, http.StatusBadRequest},
		{&external.HTTPError{Op: "POST /escrows/release", Status: http.StatusConflict, Body: "bad state"}, http.StatusBadGateway},
	}
	for _, tc := range cases {
		s := newTestServer(t, &fakeBackend{trade: sampleTrade()}, &fakeDispatcher{err: tc.err}, stoppedDialer)
		rr := do(t, s, http.MethodPost, "/v1/trades/7/actions/release", "{}")
		if rr.Code != tc.want {
			t.Fatalf("%v: expected %d, got %d", tc.err, tc.want, rr.Code)
		}
	}
}

func TestStartTrade(t *testing.T) {
	b := &fakeBackend{offers: []models.Offer{{ID: 3, CreatorAccountID: 1, MinAmount: 1, MaxAmount: 100}}}
	s := newTestServer(t, b, &fakeDispatcher{}, stoppedDialer)

	rr := do(t, s, http.MethodPost, "/v1/offers/3/trades", `{"amount":10}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	var res actions.StartResult
	if err := json.Unmarshal(rr.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if res.TradeID != 77 {
		t.Fatalf("expected trade 77, got %d", res.TradeID)
	}
}

func TestStartTrade_PartialFailure(t *testing.T) {
	b := &fakeBackend{offers: []models.Offer{{ID: 3, CreatorAccountID: 1}}}
	d := &fakeDispatcher{err: &external.NetworkError{Op: "POST /escrows/create", Err: context.DeadlineExceeded}, start: &actions.StartResult{TradeID: 77}}
	s := newTestServer(t, b, d, stoppedDialer)

	rr := do(t, s, http.MethodPost, "/v1/offers/3/trades", `{"amount":10}`)
	if rr.Code != http.StatusAccepted {
		t.Fatalf("expected 202 when the trade exists but escrow failed, got %d", rr.Code)
	}
}

func TestPrices_SkipsUnparseable(t *testing.T) {
	s := newTestServer(t, &fakeBackend{}, &fakeDispatcher{}, stoppedDialer)
	rr := do(t, s, http.MethodGet, "/v1/prices", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var quotes []quoteJSON
	if err := json.Unmarshal(rr.Body.Bytes(), &quotes); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(quotes) != 2 || quotes[0].Fiat != "EUR" || quotes[1].Fiat != "USD" {
		t.Fatalf("unexpected quotes %+v", quotes)
	}
}

func TestHistory_JournalDisabled(t *testing.T) {
	s := newTestServer(t, &fakeBackend{}, &fakeDispatcher{}, stoppedDialer)
	for _, path := range []string{"/v1/trades/7/history", "/v1/prices/history"} {
		rr := do(t, s, http.MethodGet, path, "")
		if rr.Code != http.StatusNotFound {
			t.Fatalf("%s: expected 404, got %d", path, rr.Code)
		}
	}
}

// blockingStream yields its trades, then blocks until closed.
type blockingStream struct {
	trades chan *models.Trade
	closed chan struct{}
}

func (b *blockingStream) NextTrade() (*models.Trade, error) {
	select {
	case t := <-b.trades:
		return t, nil
	case <-b.closed:
		return nil, context.Canceled
	}
}

func (b *blockingStream) Close() error {
	select {
	case <-b.closed:
	default:
		close(b.closed)
	}
	return nil
}

func TestTradeEvents_RelaysSnapshots(t *testing.T) {
	stream := &blockingStream{trades: make(chan *models.Trade, 1), closed: make(chan struct{})}
	stream.trades <- sampleTrade()
	dial := func(ctx context.Context, tradeID int64, lastEventID string) (tradewatch.Stream, error) {
		return stream, nil
	}
	s := newTestServer(t, &fakeBackend{}, &fakeDispatcher{}, dial)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// The relay speaks the same wire format the backend does.
	client := external.NewBackendClient(srv.URL + "/v1")
	events, err := client.OpenTradeEvents(ctx, 7, "")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer events.Close()

	got, err := events.NextTrade()
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	if got.ID != 7 || got.Leg1State != models.StateAwaitingFiatPayment {
		t.Fatalf("unexpected snapshot %+v", got)
	}
	if !got.UpdatedAt.Equal(sampleTrade().UpdatedAt) {
		t.Fatalf("updated_at mismatch: %v", got.UpdatedAt)
	}
}

func TestCoalesce_NeverBlocksProducer(t *testing.T) {
	in := make(chan models.Trade)
	out := make(chan models.Trade, 1)
	stop := make(chan struct{})
	defer close(stop)
	go coalesce(in, out, stop)

	for i := int64(1); i <= 50; i++ {
		select {
		case in <- models.Trade{ID: i}:
		case <-time.After(2 * time.Second):
			t.Fatalf("producer blocked at snapshot %d", i)
		}
	}

	deadline := time.After(2 * time.Second)
	for {
		select {
		case got := <-out:
			if got.ID == 50 {
				return
			}
		case <-deadline:
			t.Fatal("newest snapshot never delivered")
		}
	}
}

func TestTradeEvents_ReleasesWatchOnDisconnect(t *testing.T) {
	stream := &blockingStream{trades: make(chan *models.Trade, 1), closed: make(chan struct{})}
	stream.trades <- sampleTrade()
	dial := func(ctx context.Context, tradeID int64, lastEventID string) (tradewatch.Stream, error) {
		return stream, nil
	}
	w := &countingWatcher{hub: tradewatch.NewHub(context.Background(), dial, tradewatch.Options{MaxReconnects: -1}, time.Minute)}
	t.Cleanup(w.hub.Close)
	s := NewServer(Deps{Backend: &fakeBackend{}, Names: fakeNames{}, Roles: fixedRole{role: roles.Buyer}, Actions: &fakeDispatcher{}, Watcher: w}, 0, "", "")
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	events, err := external.NewBackendClient(srv.URL+"/v1").OpenTradeEvents(ctx, 7, "")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := events.NextTrade(); err != nil {
		t.Fatalf("next: %v", err)
	}
	if w.held.Load() != 1 {
		t.Fatalf("expected one held watch, got %d", w.held.Load())
	}
	events.Close()
	cancel()

	deadline := time.Now().Add(2 * time.Second)
	for w.held.Load() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("relay never released its watch")
		}
		time.Sleep(time.Millisecond)
	}
}

// countingWatcher tracks how many watches are held.
type countingWatcher struct {
	hub  *tradewatch.Hub
	held atomic.Int32
}

func (c *countingWatcher) Watch(tradeID int64, seed *models.Trade) (*tradewatch.Subscriber, func(), error) {
	sub, release, err := c.hub.Watch(tradeID, seed)
	if err != nil {
		return nil, nil, err
	}
	c.held.Add(1)
	return sub, func() { c.held.Add(-1); release() }, nil
}
