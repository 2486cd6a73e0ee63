// Package orchestrator bridges the live connector event stream to the
// hot cache and the bucket-aligned persistent snapshot table (spec §4.7,
// C7). It is the arbitrage-specific analogue of the teacher's
// internal/persistence/postgres regime/premove repos, fronted by a cache
// layer the way data/cache.go fronts the teacher's provider responses.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/RuSwift/arbitrage-sub000/internal/domain"
	"github.com/RuSwift/arbitrage-sub000/internal/persistence"
	"github.com/RuSwift/arbitrage-sub000/internal/store"
)

// MergeStrategy controls how a new BookDepth or CandleStick write combines
// with whatever is already cached (§4.7).
type MergeStrategy int

const (
	// Replace overwrites any existing cached value outright.
	Replace MergeStrategy = iota
	// Merge preserves the unmatched side of a partial update (used by
	// connectors, e.g. Gate, that push bid/ask sides separately).
	Merge
)

// Config holds the orchestrator's cache TTL, DB-write cadence, and
// snapshot bucket width.
type Config struct {
	CacheTTL        time.Duration
	DBWriteInterval time.Duration
	AlignToMinutes  int
}

// DefaultConfig returns the spec's implied defaults: a short cache TTL, a
// 1-minute DB-write cadence, and 1-minute aligned buckets.
func DefaultConfig() Config {
	return Config{CacheTTL: 5 * time.Second, DBWriteInterval: time.Minute, AlignToMinutes: 1}
}

// AlignTimestamp floors utcSeconds to the nearest alignToMinutes*60 bucket
// (spec §4.7, glossary "Aligned timestamp").
func AlignTimestamp(utcSeconds int64, alignToMinutes int) int64 {
	if alignToMinutes <= 0 {
		alignToMinutes = 1
	}
	bucket := int64(alignToMinutes) * 60
	return (utcSeconds / bucket) * bucket
}

// Orchestrator mediates one (exchange, kind) connector's output between the
// cache and the persistent store.
type Orchestrator struct {
	exchange domain.ExchangeID
	kind     domain.Kind
	cache    store.Store
	repos    persistence.Repository
	cfg      Config
	log      zerolog.Logger
}

// New builds an Orchestrator for one (exchange, kind) pair.
func New(exchange domain.ExchangeID, kind domain.Kind, cache store.Store, repos persistence.Repository, cfg Config, log zerolog.Logger) *Orchestrator {
	return &Orchestrator{exchange: exchange, kind: kind, cache: cache, repos: repos, cfg: cfg, log: log}
}

func (o *Orchestrator) priceKey(symbol domain.Symbol) string {
	return fmt.Sprintf("arbitrage:orchestrator:price:%s:%s:%s", o.exchange, o.kind, symbol)
}

func (o *Orchestrator) depthKey(symbol domain.Symbol) string {
	return domain.CacheKey(o.exchange, o.kind, "depth", symbol.String())
}

func (o *Orchestrator) candleKey(symbol domain.Symbol, openTime int64) string {
	return domain.CacheKey(o.exchange, o.kind, "candle", symbol.String(), fmt.Sprint(openTime))
}

func (o *Orchestrator) fundingKey(symbol domain.Symbol) string {
	return domain.CacheKey(o.exchange, o.kind, "funding_rate", symbol.String())
}

func (o *Orchestrator) fundingHistoryKey(symbol domain.Symbol) string {
	return domain.CacheKey(o.exchange, o.kind, "funding_rate_history", symbol.String())
}

func (o *Orchestrator) withdrawKey() string {
	return domain.CacheKey(o.exchange, o.kind, "withdraw_info")
}

// PublishPrice always writes the cache; it additionally writes an aligned
// snapshot row iff the DB-write interval has elapsed since the last
// snapshot write for this (exchange, kind, symbol) (§4.7).
func (o *Orchestrator) PublishPrice(ctx context.Context, pair domain.CurrencyPair) error {
	symbol := pair.Symbol()
	raw, err := json.Marshal(pair)
	if err != nil {
		return fmt.Errorf("marshal price %s: %w", symbol, err)
	}
	if err := o.cache.Set(ctx, o.priceKey(symbol), raw, o.cfg.CacheTTL); err != nil {
		o.log.Warn().Err(err).Str("symbol", symbol.String()).Msg("orchestrator: cache write failed")
	}

	utc := time.Now().Unix()
	if pair.UTC != nil {
		utc = *pair.UTC
	}
	aligned := AlignTimestamp(utc, o.cfg.AlignToMinutes)

	lastAligned, found, err := o.repos.Snapshots.LastWriteTime(ctx, o.exchange, o.kind, symbol.String(), o.cfg.AlignToMinutes)
	if err != nil {
		o.log.Warn().Err(err).Str("symbol", symbol.String()).Msg("orchestrator: snapshot read failed")
	}
	if found && utc-lastAligned < int64(o.cfg.DBWriteInterval.Seconds()) {
		return nil
	}

	snap := persistence.CurrencyPairSnapshot{
		ExchangeID:       o.exchange,
		Kind:             o.kind,
		Symbol:           symbol.String(),
		AlignToMinutes:   o.cfg.AlignToMinutes,
		AlignedTimestamp: aligned,
		Base:             pair.Base,
		Quote:            pair.Quote,
		Ratio:            pair.Ratio,
		UTC:              pair.UTC,
	}
	if err := o.repos.Snapshots.Upsert(ctx, snap); err != nil {
		o.log.Warn().Err(err).Str("symbol", symbol.String()).Msg("orchestrator: snapshot write failed")
		return err
	}
	return nil
}

// PublishBookDepth caches depth under strategy. Merge preserves whichever
// side is empty in the incoming update, for connectors that push bid/ask
// sides separately (§4.7).
func (o *Orchestrator) PublishBookDepth(ctx context.Context, depth domain.BookDepth, strategy MergeStrategy) error {
	key := o.depthKey(depth.Symbol)
	if strategy == Merge {
		var existing domain.BookDepth
		if raw, ok, err := o.cache.Get(ctx, key); err == nil && ok && string(raw) != domain.NegativeSentinel {
			if jErr := json.Unmarshal(raw, &existing); jErr == nil {
				if len(depth.Bids) == 0 {
					depth.Bids = existing.Bids
				}
				if len(depth.Asks) == 0 {
					depth.Asks = existing.Asks
				}
			}
		}
	}
	raw, err := json.Marshal(depth)
	if err != nil {
		return fmt.Errorf("marshal depth %s: %w", depth.Symbol, err)
	}
	return o.cache.Set(ctx, key, raw, o.cfg.CacheTTL)
}

// PublishCandlestick idempotently upserts one or more candles by
// (symbol, utc_open_time), always MERGE semantics (§4.7).
func (o *Orchestrator) PublishCandlestick(ctx context.Context, symbol domain.Symbol, candles ...domain.CandleStick) error {
	for _, c := range candles {
		raw, err := json.Marshal(c)
		if err != nil {
			return fmt.Errorf("marshal candle %s@%d: %w", symbol, c.UTCOpenTime, err)
		}
		if err := o.cache.Set(ctx, o.candleKey(symbol, c.UTCOpenTime), raw, o.cfg.CacheTTL); err != nil {
			return fmt.Errorf("cache candle %s@%d: %w", symbol, c.UTCOpenTime, err)
		}
	}
	return nil
}

// PublishFundingRate caches the current funding parameter (perpetual-only).
func (o *Orchestrator) PublishFundingRate(ctx context.Context, rate domain.FundingRate) error {
	raw, err := json.Marshal(rate)
	if err != nil {
		return fmt.Errorf("marshal funding rate %s: %w", rate.Symbol, err)
	}
	return o.cache.Set(ctx, o.fundingKey(rate.Symbol), raw, o.cfg.CacheTTL)
}

// PublishFundingHistory caches a bounded funding-rate history series
// (perpetual-only).
func (o *Orchestrator) PublishFundingHistory(ctx context.Context, symbol domain.Symbol, points []domain.FundingRatePoint) error {
	raw, err := json.Marshal(points)
	if err != nil {
		return fmt.Errorf("marshal funding history %s: %w", symbol, err)
	}
	return o.cache.Set(ctx, o.fundingHistoryKey(symbol), raw, o.cfg.CacheTTL)
}

// PublishWithdrawInfo caches the withdraw-info map (spot-only).
func (o *Orchestrator) PublishWithdrawInfo(ctx context.Context, info map[string][]domain.WithdrawInfo) error {
	raw, err := json.Marshal(info)
	if err != nil {
		return fmt.Errorf("marshal withdraw info: %w", err)
	}
	return o.cache.Set(ctx, o.withdrawKey(), raw, o.cfg.CacheTTL)
}

// GetPrice reads the cache first; on miss it selects the most recent
// snapshot and re-warms the cache with the configured TTL. Returns nil
// only if neither store has a record (§4.7 retriever contract).
func (o *Orchestrator) GetPrice(ctx context.Context, symbol domain.Symbol) (*domain.CurrencyPair, error) {
	key := o.priceKey(symbol)
	if raw, ok, err := o.cache.Get(ctx, key); err == nil && ok {
		if string(raw) == domain.NegativeSentinel {
			return nil, nil
		}
		var pair domain.CurrencyPair
		if jErr := json.Unmarshal(raw, &pair); jErr == nil {
			return &pair, nil
		}
	}

	snap, err := o.repos.Snapshots.Latest(ctx, o.exchange, o.kind, symbol.String(), o.cfg.AlignToMinutes)
	if err != nil {
		return nil, fmt.Errorf("retrieve snapshot %s: %w", symbol, err)
	}
	if snap == nil {
		return nil, nil
	}
	pair := domain.CurrencyPair{Base: snap.Base, Quote: snap.Quote, Ratio: snap.Ratio, UTC: snap.UTC}
	if raw, mErr := json.Marshal(pair); mErr == nil {
		if err := o.cache.Set(ctx, key, raw, o.cfg.CacheTTL); err != nil {
			o.log.Warn().Err(err).Str("symbol", symbol.String()).Msg("orchestrator: cache re-warm failed")
		}
	}
	return &pair, nil
}
