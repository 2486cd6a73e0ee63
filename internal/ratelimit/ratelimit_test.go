package ratelimit

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/RuSwift/arbitrage-sub000/internal/domain"
)

func testLimiter(cfg Config) *Limiter {
	return NewLimiter(domain.ExchangeBinance, domain.KindSpot, cfg, time.Second, zerolog.Nop())
}

func TestRequest_SuccessReturnsResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	lim := testLimiter(Config{Limit: 1000, DefaultWeight: 1})
	resp, err := lim.Request(context.Background(), srv.URL, url.Values{}, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
}

func TestRequest_AccountsWeightHeader(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Used-Weight", "50")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	lim := testLimiter(Config{Limit: 1000, WeightHeader: "X-Used-Weight", DefaultWeight: 1})
	if _, err := lim.Request(context.Background(), srv.URL, nil, 1); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if lim.win.usedWeight != 50 {
		t.Fatalf("expected usedWeight=50 from response header, got %d", lim.win.usedWeight)
	}
}

func TestRequest_RetriesOn429ThenSucceeds(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		if n == 1 {
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	lim := testLimiter(Config{Limit: 1000, DefaultWeight: 1})
	resp, err := lim.Request(context.Background(), srv.URL, nil, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	resp.Body.Close()
	if calls != 2 {
		t.Fatalf("expected exactly one retry (2 calls), got %d", calls)
	}
}

func TestRequest_ExhaustsRetriesOnPersistent429(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "0")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	lim := testLimiter(Config{Limit: 1000, DefaultWeight: 1})
	_, err := lim.Request(context.Background(), srv.URL, nil, 1)
	if err == nil {
		t.Fatal("expected an error after exhausting retries")
	}
}

func TestRequest_NonOKStatusReturnsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("boom"))
	}))
	defer srv.Close()

	lim := testLimiter(Config{Limit: 1000, DefaultWeight: 1})
	_, err := lim.Request(context.Background(), srv.URL, nil, 1)
	if err == nil {
		t.Fatal("expected an error for HTTP 500")
	}
}

func TestDefaultConfigs_CoversAllExchanges(t *testing.T) {
	configs := DefaultConfigs()
	for _, ex := range domain.AllExchanges {
		if _, ok := configs[ex]; !ok {
			t.Errorf("missing rate-limit config for exchange %s", ex)
		}
	}
}
