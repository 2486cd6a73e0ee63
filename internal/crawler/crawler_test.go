package crawler

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/RuSwift/arbitrage-sub000/internal/domain"
	"github.com/RuSwift/arbitrage-sub000/internal/orchestrator"
	"github.com/RuSwift/arbitrage-sub000/internal/persistence"
	"github.com/RuSwift/arbitrage-sub000/internal/persistence/fake"
	"github.com/RuSwift/arbitrage-sub000/internal/service"
	"github.com/RuSwift/arbitrage-sub000/internal/store"
)

// fakeSpotSource is a minimal Source implementation fixed to one BTC/USDT
// listing, for exercising the crawler's upsert/tick flow without a network.
type fakeSpotSource struct {
	symbols []SymbolInfo
	pairs   []domain.CurrencyPair
}

func (f fakeSpotSource) ListSymbols(_ context.Context) ([]SymbolInfo, error) { return f.symbols, nil }
func (f fakeSpotSource) GetPairs(_ context.Context, _ []domain.Symbol) ([]domain.CurrencyPair, error) {
	return f.pairs, nil
}
func (f fakeSpotSource) GetDepth(_ context.Context, symbol domain.Symbol, _ int) (*domain.BookDepth, error) {
	return &domain.BookDepth{Symbol: symbol, Bids: []domain.BidAsk{{Price: 100, Quantity: 1}}, Asks: []domain.BidAsk{{Price: 101, Quantity: 1}}}, nil
}
func (f fakeSpotSource) GetKlines(_ context.Context, _ domain.Symbol, _ int) ([]domain.CandleStick, error) {
	return []domain.CandleStick{{UTCOpenTime: time.Now().Unix(), Open: 1, High: 2, Low: 1, Close: 1.5}}, nil
}

func newTestService(t *testing.T, repos persistence.Repository, src Source) (*Service, *orchestrator.Orchestrator) {
	t.Helper()
	cache := store.NewMemory()
	uow := service.New(cache, repos, zerolog.Nop())
	orch := orchestrator.New(domain.ExchangeBinance, domain.KindSpot, cache, repos, orchestrator.DefaultConfig(), zerolog.Nop())
	return New(uow, domain.ExchangeBinance, domain.KindSpot, src, orch, DefaultConfig()), orch
}

func TestRun_UpsertsAndTicksIterationToSuccess(t *testing.T) {
	ctx := context.Background()
	repos := fake.NewRepository()
	tokens := repos.Tokens.(*fake.Tokens)
	if _, err := tokens.Upsert(ctx, "BTC", persistence.TokenSourceManual); err != nil {
		t.Fatalf("seed token upsert failed: %v", err)
	}

	symbol := domain.NewSymbol("BTC", "USDT")
	src := fakeSpotSource{
		symbols: []SymbolInfo{{Base: "BTC", Symbol: symbol}},
		pairs:   []domain.CurrencyPair{{Base: "BTC", Quote: "USDT", Ratio: 50000}},
	}
	svc, _ := newTestService(t, repos, src)

	if err := svc.Run(ctx); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	iterations := repos.Iterations.(*fake.Iterations)
	found := false
	for id := int64(1); id <= 10; id++ {
		it, ok := iterations.Get(id)
		if !ok {
			continue
		}
		found = true
		if it.Status != persistence.IterationSuccess {
			t.Fatalf("expected iteration %d to finish success, got %s", id, it.Status)
		}
		if it.BookDepth == nil || it.Klines == nil {
			t.Fatalf("expected book_depth and klines artifacts to be recorded, got %+v", it)
		}
	}
	if !found {
		t.Fatal("expected at least one iteration row to have been created")
	}
}

func TestRun_TokenNotOnExchangeIsIgnored(t *testing.T) {
	ctx := context.Background()
	repos := fake.NewRepository()
	tokens := repos.Tokens.(*fake.Tokens)
	if _, err := tokens.Upsert(ctx, "DOGE", persistence.TokenSourceManual); err != nil {
		t.Fatalf("seed token upsert failed: %v", err)
	}

	src := fakeSpotSource{} // no listed symbols at all
	svc, _ := newTestService(t, repos, src)

	if err := svc.Run(ctx); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	iterations := repos.Iterations.(*fake.Iterations)
	it, ok := iterations.Get(1)
	if !ok {
		t.Fatal("expected an iteration row for the seeded token")
	}
	if it.Status != persistence.IterationIgnore {
		t.Fatalf("expected status ignore, got %s", it.Status)
	}
}

func TestLoadConfig_DefaultsOnMiss(t *testing.T) {
	ctx := context.Background()
	repos := fake.NewRepository()
	cache := store.NewMemory()
	uow := service.New(cache, repos, zerolog.Nop())

	cfg, err := LoadConfig(ctx, uow)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg != DefaultConfig() {
		t.Fatalf("expected default config on miss, got %+v", cfg)
	}

	raw, ok, err := repos.ServiceCfg.Get(ctx, ConfigClass)
	if err != nil || !ok {
		t.Fatalf("expected the default config to be persisted, ok=%v err=%v", ok, err)
	}
	if len(raw) == 0 {
		t.Fatal("expected a non-empty persisted payload")
	}
}
