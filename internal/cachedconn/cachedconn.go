// Package cachedconn wraps a connector.Spot or connector.Perpetual with a
// short-TTL JSON cache keyed by (exchange, kind, method, args) (spec §4.6,
// C6), grounded on the teacher's data/cache.go TTL-keyed client pattern.
// Streaming is forwarded verbatim; only the REST accessors are cached.
package cachedconn

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/RuSwift/arbitrage-sub000/internal/connector"
	"github.com/RuSwift/arbitrage-sub000/internal/domain"
	"github.com/RuSwift/arbitrage-sub000/internal/metrics"
	"github.com/RuSwift/arbitrage-sub000/internal/store"
)

// negative is the reserved cache value meaning "the wrapped call returned
// nil/none" (spec §3 "Negative sentinel").
const negative = domain.NegativeSentinel

func keyFor(exchange domain.ExchangeID, kind domain.Kind, method string, args ...string) string {
	return domain.CacheKey(exchange, kind, method, args...)
}

// get reads key from st, decoding into out. It returns (found, isNegative).
// Any decode or store error is treated as a miss so the caller
// falls through to the live accessor. m may be nil (no metrics recorded);
// the exchange/kind/method labels are recovered from key's fixed "{exchange}:
// {kind}:{method}[:args...]" layout (§3 cache invariants) so call sites
// don't need to thread them separately.
func get(ctx context.Context, m *metrics.Registry, st store.Store, key string, out interface{}) (found, neg bool) {
	raw, ok, err := st.Get(ctx, key)
	found = ok && err == nil
	defer func() {
		if m == nil {
			return
		}
		parts := strings.SplitN(key, ":", 4)
		if len(parts) < 3 {
			return
		}
		if found {
			m.CacheHits.WithLabelValues(parts[0], parts[1], parts[2]).Inc()
		} else {
			m.CacheMisses.WithLabelValues(parts[0], parts[1], parts[2]).Inc()
		}
	}()
	if err != nil || !ok {
		return false, false
	}
	if string(raw) == negative {
		return true, true
	}
	if err := json.Unmarshal(raw, out); err != nil {
		found = false
		return false, false
	}
	return true, false
}

func put(ctx context.Context, st store.Store, key string, ttl time.Duration, v interface{}) {
	if ttl <= 0 {
		return
	}
	if rv := reflect.ValueOf(v); v == nil || ((rv.Kind() == reflect.Ptr || rv.Kind() == reflect.Slice || rv.Kind() == reflect.Map) && rv.IsNil()) {
		st.Set(ctx, key, []byte(negative), ttl)
		return
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return
	}
	st.Set(ctx, key, raw, ttl)
}

// Spot wraps a connector.Spot with the cached-facade behaviour.
type Spot struct {
	inner    connector.Spot
	st       store.Store
	exchange domain.ExchangeID
	ttl      time.Duration
	m        *metrics.Registry
}

// NewSpot builds a cached facade over inner. ttl<=0 disables caching
// (every call passes through) per §4.6.
func NewSpot(inner connector.Spot, st store.Store, exchange domain.ExchangeID, ttl time.Duration) *Spot {
	return &Spot{inner: inner, st: st, exchange: exchange, ttl: ttl}
}

// SetMetrics attaches a metrics.Registry; subsequent accessor calls record
// cache hit/miss counts against it. Returns s for chaining at construction
// time.
func (s *Spot) SetMetrics(m *metrics.Registry) *Spot {
	s.m = m
	return s
}

func (s *Spot) GetAllTickers(ctx context.Context) ([]domain.Ticker, error) {
	key := keyFor(s.exchange, domain.KindSpot, "get_all_tickers")
	if s.ttl > 0 {
		var cached []domain.Ticker
		if found, neg := get(ctx, s.m, s.st, key, &cached); found {
			if neg {
				return nil, nil
			}
			return cached, nil
		}
	}
	out, err := s.inner.GetAllTickers(ctx)
	if err != nil {
		return nil, err
	}
	put(ctx, s.st, key, s.ttl, out)
	return out, nil
}

func (s *Spot) GetPrice(ctx context.Context, symbol domain.Symbol) (*domain.CurrencyPair, error) {
	key := keyFor(s.exchange, domain.KindSpot, "get_price", symbol.String())
	if s.ttl > 0 {
		var cached domain.CurrencyPair
		if found, neg := get(ctx, s.m, s.st, key, &cached); found {
			if neg {
				return nil, nil
			}
			return &cached, nil
		}
	}
	out, err := s.inner.GetPrice(ctx, symbol)
	if err != nil {
		return nil, err
	}
	put(ctx, s.st, key, s.ttl, out)
	return out, nil
}

func (s *Spot) GetPairs(ctx context.Context, symbols []domain.Symbol) ([]domain.CurrencyPair, error) {
	key := keyFor(s.exchange, domain.KindSpot, "get_pairs", symbolsArgKey(symbols))
	if s.ttl > 0 {
		var cached []domain.CurrencyPair
		if found, neg := get(ctx, s.m, s.st, key, &cached); found {
			if neg {
				return nil, nil
			}
			return cached, nil
		}
	}
	out, err := s.inner.GetPairs(ctx, symbols)
	if err != nil {
		return nil, err
	}
	put(ctx, s.st, key, s.ttl, out)
	return out, nil
}

func (s *Spot) GetDepth(ctx context.Context, symbol domain.Symbol, limit int) (*domain.BookDepth, error) {
	if limit <= 0 {
		return nil, nil
	}
	key := keyFor(s.exchange, domain.KindSpot, "get_depth", symbol.String(), fmt.Sprint(limit))
	if s.ttl > 0 {
		var cached domain.BookDepth
		if found, neg := get(ctx, s.m, s.st, key, &cached); found {
			if neg {
				return nil, nil
			}
			return &cached, nil
		}
	}
	out, err := s.inner.GetDepth(ctx, symbol, limit)
	if err != nil {
		return nil, err
	}
	put(ctx, s.st, key, s.ttl, out)
	return out, nil
}

func (s *Spot) GetKlines(ctx context.Context, symbol domain.Symbol, limit int) ([]domain.CandleStick, error) {
	if limit <= 0 {
		return nil, nil
	}
	key := keyFor(s.exchange, domain.KindSpot, "get_klines", symbol.String(), fmt.Sprint(limit))
	if s.ttl > 0 {
		var cached []domain.CandleStick
		if found, neg := get(ctx, s.m, s.st, key, &cached); found {
			if neg {
				return nil, nil
			}
			return cached, nil
		}
	}
	out, err := s.inner.GetKlines(ctx, symbol, limit)
	if err != nil {
		return nil, err
	}
	put(ctx, s.st, key, s.ttl, out)
	return out, nil
}

func (s *Spot) GetWithdrawInfo(ctx context.Context) (map[string][]domain.WithdrawInfo, error) {
	key := keyFor(s.exchange, domain.KindSpot, "get_withdraw_info")
	if s.ttl > 0 {
		var cached map[string][]domain.WithdrawInfo
		if found, neg := get(ctx, s.m, s.st, key, &cached); found {
			if neg {
				return nil, nil
			}
			return cached, nil
		}
	}
	out, err := s.inner.GetWithdrawInfo(ctx)
	if err != nil {
		return nil, err
	}
	put(ctx, s.st, key, s.ttl, out)
	return out, nil
}

func (s *Spot) Start(ctx context.Context, cb connector.Callback, symbols []domain.Symbol, depth int) error {
	return s.inner.Start(ctx, cb, symbols, depth)
}
func (s *Spot) Stop()                                  { s.inner.Stop() }
func (s *Spot) Subscribe(symbols []domain.Symbol)      { s.inner.Subscribe(symbols) }
func (s *Spot) Unsubscribe(symbols []domain.Symbol)    { s.inner.Unsubscribe(symbols) }

// Perpetual wraps a connector.Perpetual with the cached-facade behaviour.
type Perpetual struct {
	inner    connector.Perpetual
	st       store.Store
	exchange domain.ExchangeID
	ttl      time.Duration
	m        *metrics.Registry
}

// NewPerpetual builds a cached facade over inner.
func NewPerpetual(inner connector.Perpetual, st store.Store, exchange domain.ExchangeID, ttl time.Duration) *Perpetual {
	return &Perpetual{inner: inner, st: st, exchange: exchange, ttl: ttl}
}

// SetMetrics attaches a metrics.Registry; subsequent accessor calls record
// cache hit/miss counts against it. Returns p for chaining at construction
// time.
func (p *Perpetual) SetMetrics(m *metrics.Registry) *Perpetual {
	p.m = m
	return p
}

func (p *Perpetual) GetAllPerpetuals(ctx context.Context) ([]domain.PerpetualTicker, error) {
	key := keyFor(p.exchange, domain.KindPerpetual, "get_all_perpetuals")
	if p.ttl > 0 {
		var cached []domain.PerpetualTicker
		if found, neg := get(ctx, p.m, p.st, key, &cached); found {
			if neg {
				return nil, nil
			}
			return cached, nil
		}
	}
	out, err := p.inner.GetAllPerpetuals(ctx)
	if err != nil {
		return nil, err
	}
	put(ctx, p.st, key, p.ttl, out)
	return out, nil
}

func (p *Perpetual) GetPrice(ctx context.Context, symbol domain.Symbol) (*domain.CurrencyPair, error) {
	key := keyFor(p.exchange, domain.KindPerpetual, "get_price", symbol.String())
	if p.ttl > 0 {
		var cached domain.CurrencyPair
		if found, neg := get(ctx, p.m, p.st, key, &cached); found {
			if neg {
				return nil, nil
			}
			return &cached, nil
		}
	}
	out, err := p.inner.GetPrice(ctx, symbol)
	if err != nil {
		return nil, err
	}
	put(ctx, p.st, key, p.ttl, out)
	return out, nil
}

func (p *Perpetual) GetPairs(ctx context.Context, symbols []domain.Symbol) ([]domain.CurrencyPair, error) {
	key := keyFor(p.exchange, domain.KindPerpetual, "get_pairs", symbolsArgKey(symbols))
	if p.ttl > 0 {
		var cached []domain.CurrencyPair
		if found, neg := get(ctx, p.m, p.st, key, &cached); found {
			if neg {
				return nil, nil
			}
			return cached, nil
		}
	}
	out, err := p.inner.GetPairs(ctx, symbols)
	if err != nil {
		return nil, err
	}
	put(ctx, p.st, key, p.ttl, out)
	return out, nil
}

func (p *Perpetual) GetDepth(ctx context.Context, symbol domain.Symbol, limit int) (*domain.BookDepth, error) {
	if limit <= 0 {
		return nil, nil
	}
	key := keyFor(p.exchange, domain.KindPerpetual, "get_depth", symbol.String(), fmt.Sprint(limit))
	if p.ttl > 0 {
		var cached domain.BookDepth
		if found, neg := get(ctx, p.m, p.st, key, &cached); found {
			if neg {
				return nil, nil
			}
			return &cached, nil
		}
	}
	out, err := p.inner.GetDepth(ctx, symbol, limit)
	if err != nil {
		return nil, err
	}
	put(ctx, p.st, key, p.ttl, out)
	return out, nil
}

func (p *Perpetual) GetKlines(ctx context.Context, symbol domain.Symbol, limit int) ([]domain.CandleStick, error) {
	if limit <= 0 {
		return nil, nil
	}
	key := keyFor(p.exchange, domain.KindPerpetual, "get_klines", symbol.String(), fmt.Sprint(limit))
	if p.ttl > 0 {
		var cached []domain.CandleStick
		if found, neg := get(ctx, p.m, p.st, key, &cached); found {
			if neg {
				return nil, nil
			}
			return cached, nil
		}
	}
	out, err := p.inner.GetKlines(ctx, symbol, limit)
	if err != nil {
		return nil, err
	}
	put(ctx, p.st, key, p.ttl, out)
	return out, nil
}

func (p *Perpetual) GetFundingRate(ctx context.Context, symbol domain.Symbol) (*domain.FundingRate, error) {
	key := keyFor(p.exchange, domain.KindPerpetual, "get_funding_rate", symbol.String())
	if p.ttl > 0 {
		var cached domain.FundingRate
		if found, neg := get(ctx, p.m, p.st, key, &cached); found {
			if neg {
				return nil, nil
			}
			return &cached, nil
		}
	}
	out, err := p.inner.GetFundingRate(ctx, symbol)
	if err != nil {
		return nil, err
	}
	put(ctx, p.st, key, p.ttl, out)
	return out, nil
}

func (p *Perpetual) GetFundingRateHistory(ctx context.Context, symbol domain.Symbol, limit int) ([]domain.FundingRatePoint, error) {
	key := keyFor(p.exchange, domain.KindPerpetual, "get_funding_rate_history", symbol.String(), fmt.Sprint(limit))
	if p.ttl > 0 {
		var cached []domain.FundingRatePoint
		if found, neg := get(ctx, p.m, p.st, key, &cached); found {
			if neg {
				return nil, nil
			}
			return cached, nil
		}
	}
	out, err := p.inner.GetFundingRateHistory(ctx, symbol, limit)
	if err != nil {
		return nil, err
	}
	put(ctx, p.st, key, p.ttl, out)
	return out, nil
}

func (p *Perpetual) Start(ctx context.Context, cb connector.Callback, symbols []domain.Symbol, depth int) error {
	return p.inner.Start(ctx, cb, symbols, depth)
}
func (p *Perpetual) Stop()                               { p.inner.Stop() }
func (p *Perpetual) Subscribe(symbols []domain.Symbol)   { p.inner.Subscribe(symbols) }
func (p *Perpetual) Unsubscribe(symbols []domain.Symbol) { p.inner.Unsubscribe(symbols) }

func symbolsArgKey(symbols []domain.Symbol) string {
	if len(symbols) == 0 {
		return "*"
	}
	out := ""
	for i, s := range symbols {
		if i > 0 {
			out += ","
		}
		out += s.String()
	}
	return out
}

var (
	_ connector.Spot      = (*Spot)(nil)
	_ connector.Perpetual = (*Perpetual)(nil)
)
