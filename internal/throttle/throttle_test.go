package throttle

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/RuSwift/arbitrage-sub000/internal/store"
)

func TestMayPass_FirstCallAlwaysPasses(t *testing.T) {
	th := New("test", time.Minute, store.NewMemory(), zerolog.Nop())
	if !th.MayPass(context.Background(), "binance", "BTC/USDT") {
		t.Fatal("expected first call to pass")
	}
}

func TestMayPass_SecondCallWithinPeriodBlocked(t *testing.T) {
	ctx := context.Background()
	th := New("test", time.Hour, store.NewMemory(), zerolog.Nop())
	if !th.MayPass(ctx, "binance", "BTC/USDT") {
		t.Fatal("expected first call to pass")
	}
	if th.MayPass(ctx, "binance", "BTC/USDT") {
		t.Fatal("expected second call within period to be blocked")
	}
}

func TestMayPass_IndependentSubjectsDoNotInterfere(t *testing.T) {
	ctx := context.Background()
	th := New("test", time.Hour, store.NewMemory(), zerolog.Nop())
	if !th.MayPass(ctx, "binance", "BTC/USDT") {
		t.Fatal("expected BTC/USDT to pass")
	}
	if !th.MayPass(ctx, "binance", "ETH/USDT") {
		t.Fatal("expected a different tag to pass independently")
	}
}

func TestMayPass_PassesAgainAfterPeriodElapses(t *testing.T) {
	ctx := context.Background()
	th := New("test", 10*time.Millisecond, store.NewMemory(), zerolog.Nop())
	if !th.MayPass(ctx, "binance", "BTC/USDT") {
		t.Fatal("expected first call to pass")
	}
	time.Sleep(20 * time.Millisecond)
	if !th.MayPass(ctx, "binance", "BTC/USDT") {
		t.Fatal("expected call after period elapsed to pass")
	}
}

func TestSoonTimeout_ZeroWhenNeverPassed(t *testing.T) {
	th := New("test", time.Minute, store.NewMemory(), zerolog.Nop())
	if d := th.SoonTimeout(context.Background(), "binance", "BTC/USDT"); d != 0 {
		t.Fatalf("expected 0, got %v", d)
	}
}

func TestSoonTimeout_PositiveAfterPass(t *testing.T) {
	ctx := context.Background()
	th := New("test", time.Minute, store.NewMemory(), zerolog.Nop())
	th.MayPass(ctx, "binance", "BTC/USDT")
	d := th.SoonTimeout(ctx, "binance", "BTC/USDT")
	if d <= 0 || d > time.Minute {
		t.Fatalf("expected a positive remaining duration <= period, got %v", d)
	}
}
