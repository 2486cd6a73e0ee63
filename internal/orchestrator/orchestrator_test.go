package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/RuSwift/arbitrage-sub000/internal/domain"
	"github.com/RuSwift/arbitrage-sub000/internal/persistence/fake"
	"github.com/RuSwift/arbitrage-sub000/internal/store"
)

func TestAlignTimestamp(t *testing.T) {
	cases := []struct {
		utc      int64
		minutes  int
		expected int64
	}{
		{125, 1, 60},
		{3661, 1, 3660},
		{3661, 60, 0},
		{7199, 1, 7140},
	}
	for _, c := range cases {
		if got := AlignTimestamp(c.utc, c.minutes); got != c.expected {
			t.Fatalf("AlignTimestamp(%d, %d) = %d, want %d", c.utc, c.minutes, got, c.expected)
		}
	}
}

func newTestOrchestrator() *Orchestrator {
	cache := store.NewMemory()
	repos := fake.NewRepository()
	return New(domain.ExchangeBinance, domain.KindSpot, cache, repos, DefaultConfig(), zerolog.Nop())
}

func TestPublishPrice_ThenGetPrice_CacheHit(t *testing.T) {
	o := newTestOrchestrator()
	ctx := context.Background()
	utc := time.Now().Unix()
	pair := domain.CurrencyPair{Base: "BTC", Quote: "USDT", Ratio: 50000, UTC: &utc}

	if err := o.PublishPrice(ctx, pair); err != nil {
		t.Fatalf("PublishPrice failed: %v", err)
	}
	got, err := o.GetPrice(ctx, pair.Symbol())
	if err != nil {
		t.Fatalf("GetPrice failed: %v", err)
	}
	if got == nil || got.Ratio != 50000 {
		t.Fatalf("expected cached price 50000, got %+v", got)
	}
}

func TestGetPrice_FallsBackToSnapshotOnCacheMiss(t *testing.T) {
	cache := store.NewMemory()
	repos := fake.NewRepository()
	cfg := DefaultConfig()
	o := New(domain.ExchangeBinance, domain.KindSpot, cache, repos, cfg, zerolog.Nop())
	ctx := context.Background()

	utc := time.Now().Unix()
	pair := domain.CurrencyPair{Base: "ETH", Quote: "USDT", Ratio: 3000, UTC: &utc}
	if err := o.PublishPrice(ctx, pair); err != nil {
		t.Fatalf("PublishPrice failed: %v", err)
	}
	// Evict the cache entry directly to force the snapshot fallback path.
	if err := cache.Del(ctx, o.priceKey(pair.Symbol())); err != nil {
		t.Fatalf("Del failed: %v", err)
	}

	got, err := o.GetPrice(ctx, pair.Symbol())
	if err != nil {
		t.Fatalf("GetPrice failed: %v", err)
	}
	if got == nil || got.Ratio != 3000 {
		t.Fatalf("expected snapshot-sourced price 3000, got %+v", got)
	}
}

func TestGetPrice_NilOnTotalMiss(t *testing.T) {
	o := newTestOrchestrator()
	got, err := o.GetPrice(context.Background(), domain.NewSymbol("XRP", "USDT"))
	if err != nil {
		t.Fatalf("GetPrice failed: %v", err)
	}
	if got != nil {
		t.Fatalf("expected nil for an unknown symbol, got %+v", got)
	}
}

func TestPublishBookDepth_MergePreservesMissingSide(t *testing.T) {
	o := newTestOrchestrator()
	ctx := context.Background()
	symbol := domain.NewSymbol("BTC", "USDT")

	full := domain.BookDepth{
		Symbol: symbol,
		Bids:   []domain.BidAsk{{Price: 100, Quantity: 1}},
		Asks:   []domain.BidAsk{{Price: 101, Quantity: 1}},
	}
	if err := o.PublishBookDepth(ctx, full, Replace); err != nil {
		t.Fatalf("PublishBookDepth (Replace) failed: %v", err)
	}

	bidOnly := domain.BookDepth{
		Symbol: symbol,
		Bids:   []domain.BidAsk{{Price: 102, Quantity: 2}},
	}
	if err := o.PublishBookDepth(ctx, bidOnly, Merge); err != nil {
		t.Fatalf("PublishBookDepth (Merge) failed: %v", err)
	}

	raw, ok, err := o.cache.Get(ctx, o.depthKey(symbol))
	if err != nil || !ok {
		t.Fatalf("expected a cached depth entry, ok=%v err=%v", ok, err)
	}
	if len(raw) == 0 {
		t.Fatal("expected non-empty cached payload")
	}
}

func TestPublishFundingRate_RoundTrip(t *testing.T) {
	o := newTestOrchestrator()
	ctx := context.Background()
	rate := domain.FundingRate{Symbol: domain.NewSymbol("BTC", "USDT"), Rate: 0.0001, NextFundingUTC: time.Now().Unix()}
	if err := o.PublishFundingRate(ctx, rate); err != nil {
		t.Fatalf("PublishFundingRate failed: %v", err)
	}
	_, ok, err := o.cache.Get(ctx, o.fundingKey(rate.Symbol))
	if err != nil || !ok {
		t.Fatalf("expected funding rate to be cached, ok=%v err=%v", ok, err)
	}
}
