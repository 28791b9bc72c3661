package repository_test

import (
	"context"
	"testing"
	"time"

	"github.com/kjannette/p2p-trade-client/internal/models"
	"github.com/kjannette/p2p-trade-client/internal/repository"
	"github.com/kjannette/p2p-trade-client/internal/testutil"
)

// ---------- SnapshotRepo ----------

func TestSnapshotRepo(t *testing.T) {
	pool := testutil.SetupPool(t)
	ctx := context.Background()
	if err := repository.EnsureSchema(ctx, pool); err != nil {
		t.Fatalf("EnsureSchema: %v", err)
	}
	repo := repository.NewSnapshotRepo(pool)

	tradeID := time.Now().UnixNano() % 1_000_000_000
	base := time.Now().UTC().Truncate(time.Millisecond)

	first := &models.Trade{ID: tradeID, Leg1State: models.StateCreated, UpdatedAt: base}
	second := &models.Trade{ID: tradeID, Leg1State: models.StateAwaitingFiatPayment, UpdatedAt: base.Add(time.Minute)}

	if _, err := repo.Record(ctx, first); err != nil {
		t.Fatalf("Record first: %v", err)
	}
	rec, err := repo.Record(ctx, second)
	if err != nil {
		t.Fatalf("Record second: %v", err)
	}
	if rec.ID == 0 || rec.State != models.StateAwaitingFiatPayment {
		t.Fatalf("unexpected snapshot: %+v", rec)
	}
	t.Logf("Recorded snapshot: id=%d trade=%d state=%s", rec.ID, rec.TradeID, rec.State)

	latest, err := repo.Latest(ctx, tradeID)
	if err != nil {
		t.Fatalf("Latest: %v", err)
	}
	if latest == nil || latest.State != models.StateAwaitingFiatPayment {
		t.Fatalf("latest: %+v", latest)
	}
	decoded, err := latest.Trade()
	if err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if decoded.ID != tradeID || !decoded.UpdatedAt.Equal(second.UpdatedAt) {
		t.Fatalf("decoded trade: %+v", decoded)
	}

	hist, err := repo.History(ctx, tradeID, 10)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(hist) != 2 || hist[0].State != models.StateAwaitingFiatPayment {
		t.Fatalf("history: %+v", hist)
	}

	none, err := repo.Latest(ctx, -1)
	if err != nil {
		t.Fatalf("Latest missing: %v", err)
	}
	if none != nil {
		t.Fatal("expected nil for unknown trade")
	}
}

// ---------- PriceRepo ----------

func TestPriceRepo(t *testing.T) {
	pool := testutil.SetupPool(t)
	ctx := context.Background()
	if err := repository.EnsureSchema(ctx, pool); err != nil {
		t.Fatalf("EnsureSchema: %v", err)
	}
	repo := repository.NewPriceRepo(pool)

	ts := time.Now()
	p, err := repo.Record(ctx, repository.PricePoint{Timestamp: ts, Token: "USDC", Fiat: "EUR", Price: 0.921, Source: "backend"})
	if err != nil {
		t.Fatalf("Record: %v", err)
	}
	if p.ID == 0 || p.Price != 0.921 {
		t.Fatalf("unexpected price: %+v", p)
	}

	latest, err := repo.GetLatest(ctx, "USDC", "EUR")
	if err != nil {
		t.Fatalf("GetLatest: %v", err)
	}
	if latest == nil {
		t.Fatal("expected latest price")
	}
	t.Logf("Latest: id=%d price=%.4f", latest.ID, latest.Price)

	since, err := repo.GetSince(ctx, "USDC", "EUR", ts.Add(-time.Second))
	if err != nil {
		t.Fatalf("GetSince: %v", err)
	}
	if len(since) == 0 {
		t.Fatal("expected at least one price")
	}
}
