// Package service provides the unit-of-work and service-base abstractions
// every higher-level component (orchestrator, crawler) is built on (spec
// §4.9, C9). It replaces the teacher's per-repo constructor wiring in
// cmd/cryptorun/main.go with one small struct bundling the cache client,
// the repository set, and a logger, handed explicitly to each service —
// per the "never reach through a module-level singleton" design note in
// §9.
package service

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/RuSwift/arbitrage-sub000/internal/persistence"
	"github.com/RuSwift/arbitrage-sub000/internal/store"
)

// UnitOfWork aggregates the one cache client and one repository set a
// service needs. Concrete repos are owned by the caller (one DB pool,
// shared across units of work); no goroutine holds two units of work
// against the same crawler run or request (spec §5 "Shared resources").
type UnitOfWork struct {
	Cache store.Store
	Repos persistence.Repository
	Log   zerolog.Logger
}

// New builds a UnitOfWork. A zero zerolog.Logger is a valid no-op logger.
func New(cache store.Store, repos persistence.Repository, log zerolog.Logger) *UnitOfWork {
	return &UnitOfWork{Cache: cache, Repos: repos, Log: log}
}

// Base is embedded by every service (orchestrator, crawler) to give it
// named `db`/`redis`/`log` style accessors without reaching through a
// global (§4.9).
type Base struct {
	uow *UnitOfWork
}

// NewBase wraps a UnitOfWork for embedding into a concrete service.
func NewBase(uow *UnitOfWork) Base { return Base{uow: uow} }

func (b Base) DB() persistence.Repository { return b.uow.Repos }
func (b Base) Redis() store.Store         { return b.uow.Cache }
func (b Base) Log() zerolog.Logger        { return b.uow.Log }

// LoadConfig loads a service's JSON-shaped configuration from the
// ServiceConfig registry keyed by serviceClass, falling back to and
// persisting defaultCfg on miss or decode failure (§4.9, §7 "Config
// failure: service uses its declared defaults and persists them").
func LoadConfig[T any](ctx context.Context, uow *UnitOfWork, serviceClass string, defaultCfg T) (T, error) {
	raw, ok, err := uow.Repos.ServiceCfg.Get(ctx, serviceClass)
	if err != nil {
		uow.Log.Warn().Err(err).Str("class", serviceClass).Msg("service config read failed, using defaults")
		return persistDefault(ctx, uow, serviceClass, defaultCfg)
	}
	if !ok {
		return persistDefault(ctx, uow, serviceClass, defaultCfg)
	}
	var cfg T
	if err := json.Unmarshal(raw, &cfg); err != nil {
		uow.Log.Warn().Err(err).Str("class", serviceClass).Msg("service config decode failed, using defaults")
		return persistDefault(ctx, uow, serviceClass, defaultCfg)
	}
	return cfg, nil
}

func persistDefault[T any](ctx context.Context, uow *UnitOfWork, serviceClass string, defaultCfg T) (T, error) {
	payload, err := json.Marshal(defaultCfg)
	if err != nil {
		return defaultCfg, fmt.Errorf("marshal default config for %s: %w", serviceClass, err)
	}
	if err := uow.Repos.ServiceCfg.Put(ctx, serviceClass, payload); err != nil {
		uow.Log.Warn().Err(err).Str("class", serviceClass).Msg("failed to persist default service config")
	}
	return defaultCfg, nil
}
