package service

import (
	"context"
	"testing"

	"github.com/rs/zerolog"

	"github.com/RuSwift/arbitrage-sub000/internal/persistence/fake"
	"github.com/RuSwift/arbitrage-sub000/internal/store"
)

type testConfig struct {
	Window int `json:"window"`
}

func TestLoadConfig_PersistsDefaultOnMiss(t *testing.T) {
	ctx := context.Background()
	repos := fake.NewRepository()
	uow := New(store.NewMemory(), repos, zerolog.Nop())

	got, err := LoadConfig(ctx, uow, "test.Service", testConfig{Window: 5})
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if got.Window != 5 {
		t.Fatalf("expected default window 5, got %d", got.Window)
	}

	_, ok, err := repos.ServiceCfg.Get(ctx, "test.Service")
	if err != nil || !ok {
		t.Fatalf("expected default config to be persisted, ok=%v err=%v", ok, err)
	}
}

func TestLoadConfig_ReturnsStoredValue(t *testing.T) {
	ctx := context.Background()
	repos := fake.NewRepository()
	uow := New(store.NewMemory(), repos, zerolog.Nop())

	if err := repos.ServiceCfg.Put(ctx, "test.Service", []byte(`{"window":42}`)); err != nil {
		t.Fatalf("seed Put failed: %v", err)
	}

	got, err := LoadConfig(ctx, uow, "test.Service", testConfig{Window: 5})
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if got.Window != 42 {
		t.Fatalf("expected stored window 42, got %d", got.Window)
	}
}

func TestLoadConfig_FallsBackOnDecodeFailure(t *testing.T) {
	ctx := context.Background()
	repos := fake.NewRepository()
	uow := New(store.NewMemory(), repos, zerolog.Nop())

	if err := repos.ServiceCfg.Put(ctx, "test.Service", []byte(`not json`)); err != nil {
		t.Fatalf("seed Put failed: %v", err)
	}

	got, err := LoadConfig(ctx, uow, "test.Service", testConfig{Window: 7})
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if got.Window != 7 {
		t.Fatalf("expected fallback default window 7, got %d", got.Window)
	}
}

func TestBase_Accessors(t *testing.T) {
	repos := fake.NewRepository()
	cache := store.NewMemory()
	log := zerolog.Nop()
	uow := New(cache, repos, log)
	b := NewBase(uow)

	if b.Redis() != cache {
		t.Fatal("expected Redis() to return the wired cache")
	}
	if b.DB().Tokens == nil {
		t.Fatal("expected DB() to return the wired repository set")
	}
}
