package external_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kjannette/p2p-trade-client/internal/auth"
	"github.com/kjannette/p2p-trade-client/internal/external"
	"github.com/kjannette/p2p-trade-client/internal/models"
)

func authed(srvURL string) *external.BackendClient {
	cred, _ := auth.Parse("test-token")
	return external.NewBackendClient(srvURL).WithCredential(cred)
}

func TestGetOffer_DecodesResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || r.URL.Path != "/offers/9" {
			t.Fatalf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if r.Header.Get("X-Request-ID") == "" {
			t.Fatal("expected X-Request-ID header")
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":9,"creator_account_id":3,"offer_type":"SELL","token":"USDC",
			"min_amount":"50","max_amount":"500","total_available_amount":"1000",
			"rate_adjustment":"1.05","fiat_currency":"EUR",
			"escrow_deposit_time_limit":{"minutes":15},"fiat_payment_time_limit":{"minutes":30}}`))
	}))
	defer srv.Close()

	offer, err := external.NewBackendClient(srv.URL).GetOffer(context.Background(), 9)
	if err != nil {
		t.Fatalf("GetOffer: %v", err)
	}
	if offer.CreatorAccountID != 3 || offer.OfferType != models.OfferSell {
		t.Fatalf("unexpected offer: %+v", offer)
	}
	if offer.MinAmount != 50 || offer.RateAdjustment != 1.05 {
		t.Fatalf("amounts: min=%v rate=%v", offer.MinAmount, offer.RateAdjustment)
	}
	if offer.FiatPaymentTimeLimit.Duration != 30*time.Minute {
		t.Fatalf("fiat time limit: %s", offer.FiatPaymentTimeLimit.Duration)
	}
}

func TestListOffers_SendsFilter(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("type"); got != "BUY" {
			t.Fatalf("type filter: got %q", got)
		}
		if got := r.URL.Query().Get("token"); got != "USDC" {
			t.Fatalf("token filter: got %q", got)
		}
		w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	offers, err := external.NewBackendClient(srv.URL).ListOffers(context.Background(),
		external.OfferFilter{Type: models.OfferBuy, Token: "USDC"})
	if err != nil {
		t.Fatalf("ListOffers: %v", err)
	}
	if len(offers) != 0 {
		t.Fatalf("expected no offers, got %d", len(offers))
	}
}

func TestProtectedCall_NoCredential(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer srv.Close()

	client := external.NewBackendClient(srv.URL)
	if client.Authenticated() {
		t.Fatal("client without credential must not report authenticated")
	}

	_, err := client.CreateTrade(context.Background(), models.TradeInput{})
	if !errors.Is(err, external.ErrUnauthenticated) {
		t.Fatalf("expected ErrUnauthenticated, got %v", err)
	}
	if _, err := client.GetCurrentAccount(context.Background()); !errors.Is(err, external.ErrUnauthenticated) {
		t.Fatalf("GetCurrentAccount: expected ErrUnauthenticated, got %v", err)
	}
	if hits.Load() != 0 {
		t.Fatalf("unauthenticated protected calls must not hit the network, got %d", hits.Load())
	}
}

func TestProtectedCall_SendsBearer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer test-token" {
			t.Fatalf("Authorization: got %q", got)
		}
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		if body["trade_id"] != float64(42) {
			t.Fatalf("body: %v", body)
		}
		w.Write([]byte(`{"message":"ok"}`))
	}))
	defer srv.Close()

	msg, err := authed(srv.URL).MarkFiatPaid(context.Background(), 42)
	if err != nil {
		t.Fatalf("MarkFiatPaid: %v", err)
	}
	if msg != "ok" {
		t.Fatalf("message: got %q", msg)
	}
}

func TestWithCredential_DoesNotMutateOriginal(t *testing.T) {
	base := external.NewBackendClient("http://example.invalid")
	cred, _ := auth.Parse("abc")
	withCred := base.WithCredential(cred)

	if base.Authenticated() {
		t.Fatal("original client must stay unauthenticated")
	}
	if !withCred.Authenticated() {
		t.Fatal("derived client must be authenticated")
	}
}

func TestUnauthorizedResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte("token expired"))
	}))
	defer srv.Close()

	_, err := authed(srv.URL).ListMyTrades(context.Background())
	if !errors.Is(err, external.ErrUnauthenticated) {
		t.Fatalf("expected ErrUnauthenticated for 401, got %v", err)
	}
	var httpErr *external.HTTPError
	if !errors.As(err, &httpErr) {
		t.Fatalf("expected *HTTPError, got %T", err)
	}
	if httpErr.Status != 401 || httpErr.Body != "token expired" {
		t.Fatalf("unexpected HTTPError: %+v", httpErr)
	}
}

func TestHTTPErrorCarriesBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		w.Write([]byte("offer no longer available"))
	}))
	defer srv.Close()

	_, err := external.NewBackendClient(srv.URL).GetTrade(context.Background(), 1)
	var httpErr *external.HTTPError
	if !errors.As(err, &httpErr) {
		t.Fatalf("expected *HTTPError, got %v", err)
	}
	if httpErr.Status != http.StatusConflict || !strings.Contains(httpErr.Body, "no longer available") {
		t.Fatalf("unexpected HTTPError: %+v", httpErr)
	}
	if errors.Is(err, external.ErrUnauthenticated) {
		t.Fatal("409 must not match ErrUnauthenticated")
	}
}

func TestMalformedJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"id":`))
	}))
	defer srv.Close()

	_, err := external.NewBackendClient(srv.URL).GetAccount(context.Background(), 1)
	var parseErr *external.ParseError
	if !errors.As(err, &parseErr) {
		t.Fatalf("expected *ParseError, got %v", err)
	}
}

func TestNetworkError(t *testing.T) {
	_, err := external.NewBackendClient("http://localhost:1").GetAccount(context.Background(), 1)
	var netErr *external.NetworkError
	if !errors.As(err, &netErr) {
		t.Fatalf("expected *NetworkError, got %v", err)
	}
	t.Logf("Network error: %v", err)
}

func TestNoRetry(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	if _, err := external.NewBackendClient(srv.URL).GetPrices(context.Background()); err == nil {
		t.Fatal("expected error")
	}
	if hits.Load() != 1 {
		t.Fatalf("backend client must not retry, got %d attempts", hits.Load())
	}
}

func TestCreateEscrow_ReturnsInstruction(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/escrows/create" {
			t.Fatalf("path: %s", r.URL.Path)
		}
		w.Write([]byte(`{"keys":[{"pubkey":"Seller111","isSigner":true,"isWritable":true},
			{"pubkey":"Escrow222","isSigner":false,"isWritable":true}],
			"programId":"Prog333","data":"AQID"}`))
	}))
	defer srv.Close()

	ix, err := authed(srv.URL).CreateEscrow(context.Background(), models.CreateEscrowRequest{
		TradeID: 1, EscrowID: 2, Seller: "Seller111", Buyer: "3", Amount: 1_000_000,
	})
	if err != nil {
		t.Fatalf("CreateEscrow: %v", err)
	}
	if signers := ix.Signers(); len(signers) != 1 || signers[0] != "Seller111" {
		t.Fatalf("signers: %v", signers)
	}
	data, err := ix.DecodeData()
	if err != nil || len(data) != 3 {
		t.Fatalf("data: %v %v", data, err)
	}
}

func sseServer(t *testing.T, body string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/trades/42/events" {
			t.Fatalf("path: %s", r.URL.Path)
		}
		if r.Header.Get("Accept") != "text/event-stream" {
			t.Fatalf("Accept: %s", r.Header.Get("Accept"))
		}
		w.Header().Set("Content-Type", "text/event-stream")
		io.WriteString(w, body)
	}))
}

func TestTradeEventStream_ParsesSnapshots(t *testing.T) {
	body := ": keepalive\n\n" +
		"id: 1\n" +
		"data: {\"id\":42,\"leg1_state\":\"CREATED\",\n" +
		"data: \"leg1_seller_account_id\":7}\n\n" +
		"event: ping\ndata: ignored\n\n" +
		"data: {\"id\":42,\"leg1_state\":\"AWAITING_FIAT_PAYMENT\",\"leg1_seller_account_id\":7}\r\n\r\n" +
		"data: not json\n\n"
	srv := sseServer(t, body)
	defer srv.Close()

	stream, err := external.NewBackendClient(srv.URL).OpenTradeEvents(context.Background(), 42, "")
	if err != nil {
		t.Fatalf("OpenTradeEvents: %v", err)
	}
	defer stream.Close()

	first, err := stream.NextTrade()
	if err != nil {
		t.Fatalf("first event: %v", err)
	}
	if first.Leg1State != models.StateCreated || first.Leg1SellerAccountID != 7 {
		t.Fatalf("first: %+v", first)
	}

	second, err := stream.NextTrade()
	if err != nil {
		t.Fatalf("second event: %v", err)
	}
	if second.Leg1State != models.StateAwaitingFiatPayment {
		t.Fatalf("second state: %s", second.Leg1State)
	}

	_, err = stream.NextTrade()
	var parseErr *external.ParseError
	if !errors.As(err, &parseErr) {
		t.Fatalf("expected *ParseError for bad payload, got %v", err)
	}

	if _, err := stream.NextTrade(); !errors.Is(err, io.EOF) {
		t.Fatalf("expected io.EOF at end of stream, got %v", err)
	}

	if err := stream.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}

func TestOpenTradeEvents_SendsLastEventID(t *testing.T) {
	var gotID atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotID.Store(r.Header.Get("Last-Event-ID"))
		w.Header().Set("Content-Type", "text/event-stream")
		io.WriteString(w, "id: 1700000000500\ndata: {\"id\":42,\"leg1_state\":\"CREATED\"}\n\n"+
			"data: {\"id\":42,\"leg1_state\":\"CREATED\"}\n\n")
	}))
	defer srv.Close()

	stream, err := external.NewBackendClient(srv.URL).OpenTradeEvents(context.Background(), 42, "1700000000000")
	if err != nil {
		t.Fatalf("OpenTradeEvents: %v", err)
	}
	defer stream.Close()
	if got := gotID.Load(); got != "1700000000000" {
		t.Fatalf("Last-Event-ID: got %v", got)
	}
	if stream.LastEventID() != "1700000000000" {
		t.Fatalf("initial id: %q", stream.LastEventID())
	}

	ev, err := stream.Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if ev.ID != "1700000000500" || stream.LastEventID() != "1700000000500" {
		t.Fatalf("id after event: %q / %q", ev.ID, stream.LastEventID())
	}
	// an event without an id keeps the last one
	if ev, err = stream.Next(); err != nil || ev.ID != "1700000000500" {
		t.Fatalf("second event: %+v %v", ev, err)
	}
}

func TestOpenTradeEvents_NoLastEventIDOnFirstDial(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := r.Header["Last-Event-Id"]; ok {
			t.Errorf("unexpected Last-Event-ID %q", r.Header.Get("Last-Event-ID"))
		}
		w.Header().Set("Content-Type", "text/event-stream")
	}))
	defer srv.Close()

	stream, err := external.NewBackendClient(srv.URL).OpenTradeEvents(context.Background(), 42, "")
	if err != nil {
		t.Fatalf("OpenTradeEvents: %v", err)
	}
	defer stream.Close()
	if _, err := stream.NextTrade(); !errors.Is(err, io.EOF) {
		t.Fatalf("expected io.EOF, got %v", err)
	}
}

func TestTradeEventStream_CloseUnblocksNext(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.(http.Flusher).Flush()
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	stream, err := external.NewBackendClient(srv.URL).OpenTradeEvents(context.Background(), 42, "")
	if err != nil {
		t.Fatalf("OpenTradeEvents: %v", err)
	}
	errCh := make(chan error, 1)
	go func() {
		_, err := stream.NextTrade()
		errCh <- err
	}()
	time.Sleep(20 * time.Millisecond)
	stream.Close()

	select {
	case err := <-errCh:
		if err == nil {
			t.Fatal("expected an error after Close")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Next still blocked after Close")
	}
}

func TestOpenTradeEvents_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte("trade not found"))
	}))
	defer srv.Close()

	_, err := external.NewBackendClient(srv.URL).OpenTradeEvents(context.Background(), 42, "")
	var httpErr *external.HTTPError
	if !errors.As(err, &httpErr) || httpErr.Status != 404 {
		t.Fatalf("expected 404 HTTPError, got %v", err)
	}
}

func TestCoinGeckoGetUSDCPrices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/simple/price" {
			t.Fatalf("path: %s", r.URL.Path)
		}
		if got := r.URL.Query().Get("vs_currencies"); got != "usd,eur" {
			t.Fatalf("vs_currencies: %q", got)
		}
		w.Write([]byte(`{"usd-coin":{"usd":1.0002,"eur":0.921}}`))
	}))
	defer srv.Close()

	client := external.NewCoinGeckoClient(srv.URL)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	prices, err := client.GetUSDCPrices(ctx, []string{"USD", "EUR"})
	if err != nil {
		t.Fatalf("GetUSDCPrices: %v", err)
	}
	if prices["USD"] != 1.0002 || prices["EUR"] != 0.921 {
		t.Fatalf("prices: %v", prices)
	}
}
