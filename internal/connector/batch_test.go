package connector

import (
	"sync"
	"testing"
	"time"

	"github.com/RuSwift/arbitrage-sub000/internal/domain"
)

func TestBatchMixin_FlushesAfterInterval(t *testing.T) {
	var mu sync.Mutex
	var gotSub, gotUnsub []domain.Symbol
	done := make(chan struct{})
	b := NewBatchMixin(10*time.Millisecond, ApplierFunc(func(unsub, sub []domain.Symbol) {
		mu.Lock()
		gotUnsub, gotSub = unsub, sub
		mu.Unlock()
		close(done)
	}))

	b.Subscribe([]domain.Symbol{"BTC/USDT", "ETH/USDT"})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for batch flush")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(gotSub) != 2 || len(gotUnsub) != 0 {
		t.Fatalf("expected 2 subs and 0 unsubs, got sub=%v unsub=%v", gotSub, gotUnsub)
	}
}

func TestBatchMixin_SubscribeThenUnsubscribeCancelsOut(t *testing.T) {
	done := make(chan struct{})
	var mu sync.Mutex
	var gotSub, gotUnsub []domain.Symbol
	b := NewBatchMixin(10*time.Millisecond, ApplierFunc(func(unsub, sub []domain.Symbol) {
		mu.Lock()
		gotUnsub, gotSub = unsub, sub
		mu.Unlock()
		close(done)
	}))

	b.Subscribe([]domain.Symbol{"BTC/USDT"})
	b.Unsubscribe([]domain.Symbol{"BTC/USDT"})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for batch flush")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(gotSub) != 0 || len(gotUnsub) != 1 {
		t.Fatalf("expected the later unsubscribe to win, got sub=%v unsub=%v", gotSub, gotUnsub)
	}
}

func TestBatchMixin_EmptyFlushDoesNotCallApplier(t *testing.T) {
	called := make(chan struct{}, 1)
	b := NewBatchMixin(10*time.Millisecond, ApplierFunc(func(unsub, sub []domain.Symbol) {
		called <- struct{}{}
	}))
	// An empty Subscribe still arms the timer, so it fires with both
	// pending sets empty.
	b.Subscribe(nil)
	time.Sleep(50 * time.Millisecond)
	select {
	case <-called:
		t.Fatal("expected applier not to be called when both pending sets are empty")
	default:
	}
}

func TestBatchMixin_Cancel(t *testing.T) {
	called := make(chan struct{}, 1)
	b := NewBatchMixin(20*time.Millisecond, ApplierFunc(func(unsub, sub []domain.Symbol) {
		called <- struct{}{}
	}))
	b.Subscribe([]domain.Symbol{"BTC/USDT"})
	b.Cancel()
	time.Sleep(60 * time.Millisecond)
	select {
	case <-called:
		t.Fatal("expected cancel to prevent the pending flush")
	default:
	}
}

func TestBatchMixin_DefaultIntervalAppliedWhenNonPositive(t *testing.T) {
	b := NewBatchMixin(0, ApplierFunc(func(unsub, sub []domain.Symbol) {}))
	if b.interval != DefaultBatchInterval {
		t.Fatalf("expected default interval %v, got %v", DefaultBatchInterval, b.interval)
	}
}
