package cachedconn

import (
	"context"
	"testing"
	"time"

	"github.com/RuSwift/arbitrage-sub000/internal/connector"
	"github.com/RuSwift/arbitrage-sub000/internal/domain"
	"github.com/RuSwift/arbitrage-sub000/internal/store"
)

// fakeSpot counts GetPrice calls and lets a test control its return value,
// to verify the cache facade only calls through on a miss.
type fakeSpot struct {
	connector.Spot
	priceCalls int
	price      *domain.CurrencyPair
	err        error
}

func (f *fakeSpot) GetPrice(_ context.Context, _ domain.Symbol) (*domain.CurrencyPair, error) {
	f.priceCalls++
	return f.price, f.err
}

func TestSpot_GetPrice_CachesAcrossCalls(t *testing.T) {
	inner := &fakeSpot{price: &domain.CurrencyPair{Base: "BTC", Quote: "USDT", Ratio: 100}}
	s := NewSpot(inner, store.NewMemory(), domain.ExchangeBinance, time.Minute)
	ctx := context.Background()
	symbol := domain.NewSymbol("BTC", "USDT")

	first, err := s.GetPrice(ctx, symbol)
	if err != nil || first == nil || first.Ratio != 100 {
		t.Fatalf("unexpected first call result: %+v, err=%v", first, err)
	}
	second, err := s.GetPrice(ctx, symbol)
	if err != nil || second == nil || second.Ratio != 100 {
		t.Fatalf("unexpected second call result: %+v, err=%v", second, err)
	}
	if inner.priceCalls != 1 {
		t.Fatalf("expected the inner connector to be called once, got %d calls", inner.priceCalls)
	}
}

func TestSpot_GetPrice_TTLZeroDisablesCache(t *testing.T) {
	inner := &fakeSpot{price: &domain.CurrencyPair{Base: "BTC", Quote: "USDT", Ratio: 100}}
	s := NewSpot(inner, store.NewMemory(), domain.ExchangeBinance, 0)
	ctx := context.Background()
	symbol := domain.NewSymbol("BTC", "USDT")

	if _, err := s.GetPrice(ctx, symbol); err != nil {
		t.Fatalf("GetPrice failed: %v", err)
	}
	if _, err := s.GetPrice(ctx, symbol); err != nil {
		t.Fatalf("GetPrice failed: %v", err)
	}
	if inner.priceCalls != 2 {
		t.Fatalf("expected every call to pass through with ttl<=0, got %d calls", inner.priceCalls)
	}
}

func TestSpot_GetPrice_CachesNegativeResult(t *testing.T) {
	inner := &fakeSpot{price: nil}
	s := NewSpot(inner, store.NewMemory(), domain.ExchangeBinance, time.Minute)
	ctx := context.Background()
	symbol := domain.NewSymbol("BTC", "USDT")

	got, err := s.GetPrice(ctx, symbol)
	if err != nil || got != nil {
		t.Fatalf("expected nil, nil on first call, got %+v, %v", got, err)
	}
	got, err = s.GetPrice(ctx, symbol)
	if err != nil || got != nil {
		t.Fatalf("expected nil, nil on second call, got %+v, %v", got, err)
	}
	if inner.priceCalls != 1 {
		t.Fatalf("expected the negative sentinel to short-circuit the second call, got %d inner calls", inner.priceCalls)
	}
}

func TestSpot_GetDepth_NonPositiveLimitShortCircuits(t *testing.T) {
	inner := &fakeSpot{}
	s := NewSpot(inner, store.NewMemory(), domain.ExchangeBinance, time.Minute)
	got, err := s.GetDepth(context.Background(), domain.NewSymbol("BTC", "USDT"), 0)
	if err != nil || got != nil {
		t.Fatalf("expected (nil, nil) for a non-positive limit, got %+v, %v", got, err)
	}
}
