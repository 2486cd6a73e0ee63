// Package crawler implements the periodic token-universe walk (spec §4.8,
// C8): one run creates a job, upserts a per-token iteration row, fetches
// the pair list once, then ticks each pending iteration's depth/klines/
// funding artifacts under their own cooldown windows.
package crawler

import (
	"context"

	"github.com/RuSwift/arbitrage-sub000/internal/connector"
	"github.com/RuSwift/arbitrage-sub000/internal/domain"
)

// SymbolInfo is one listing the crawler intersects against the token
// universe by Base (§4.8 step 3).
type SymbolInfo struct {
	Base   string
	Symbol domain.Symbol
}

// Source is the subset of a connector's capability set the crawler drives.
// It is satisfied by SpotSource and PerpetualSource below, keeping the
// crawler itself agnostic to which capability set it is walking (per the
// "composed capability-set interfaces" design note, spec §9).
type Source interface {
	ListSymbols(ctx context.Context) ([]SymbolInfo, error)
	GetPairs(ctx context.Context, symbols []domain.Symbol) ([]domain.CurrencyPair, error)
	GetDepth(ctx context.Context, symbol domain.Symbol, limit int) (*domain.BookDepth, error)
	GetKlines(ctx context.Context, symbol domain.Symbol, limit int) ([]domain.CandleStick, error)
}

// FundingSource is the additional perpetual-only capability the crawler
// exercises when walking a perpetual connector (§4.8 step 5).
type FundingSource interface {
	GetFundingRate(ctx context.Context, symbol domain.Symbol) (*domain.FundingRate, error)
	GetFundingRateHistory(ctx context.Context, symbol domain.Symbol, limit int) ([]domain.FundingRatePoint, error)
}

// SpotSource adapts connector.Spot to Source.
type SpotSource struct{ Conn connector.Spot }

func (s SpotSource) ListSymbols(ctx context.Context) ([]SymbolInfo, error) {
	tickers, err := s.Conn.GetAllTickers(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]SymbolInfo, 0, len(tickers))
	for _, t := range tickers {
		out = append(out, SymbolInfo{Base: t.Base, Symbol: t.Symbol})
	}
	return out, nil
}

func (s SpotSource) GetPairs(ctx context.Context, symbols []domain.Symbol) ([]domain.CurrencyPair, error) {
	return s.Conn.GetPairs(ctx, symbols)
}
func (s SpotSource) GetDepth(ctx context.Context, symbol domain.Symbol, limit int) (*domain.BookDepth, error) {
	return s.Conn.GetDepth(ctx, symbol, limit)
}
func (s SpotSource) GetKlines(ctx context.Context, symbol domain.Symbol, limit int) ([]domain.CandleStick, error) {
	return s.Conn.GetKlines(ctx, symbol, limit)
}

// PerpetualSource adapts connector.Perpetual to Source+FundingSource.
type PerpetualSource struct{ Conn connector.Perpetual }

func (p PerpetualSource) ListSymbols(ctx context.Context) ([]SymbolInfo, error) {
	tickers, err := p.Conn.GetAllPerpetuals(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]SymbolInfo, 0, len(tickers))
	for _, t := range tickers {
		out = append(out, SymbolInfo{Base: t.Base, Symbol: t.Symbol})
	}
	return out, nil
}

func (p PerpetualSource) GetPairs(ctx context.Context, symbols []domain.Symbol) ([]domain.CurrencyPair, error) {
	return p.Conn.GetPairs(ctx, symbols)
}
func (p PerpetualSource) GetDepth(ctx context.Context, symbol domain.Symbol, limit int) (*domain.BookDepth, error) {
	return p.Conn.GetDepth(ctx, symbol, limit)
}
func (p PerpetualSource) GetKlines(ctx context.Context, symbol domain.Symbol, limit int) ([]domain.CandleStick, error) {
	return p.Conn.GetKlines(ctx, symbol, limit)
}
func (p PerpetualSource) GetFundingRate(ctx context.Context, symbol domain.Symbol) (*domain.FundingRate, error) {
	return p.Conn.GetFundingRate(ctx, symbol)
}
func (p PerpetualSource) GetFundingRateHistory(ctx context.Context, symbol domain.Symbol, limit int) ([]domain.FundingRatePoint, error) {
	return p.Conn.GetFundingRateHistory(ctx, symbol, limit)
}

var (
	_ Source        = SpotSource{}
	_ Source        = PerpetualSource{}
	_ FundingSource = PerpetualSource{}
)
