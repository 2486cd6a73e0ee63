// Package connector defines the two capability-set contracts (Spot,
// Perpetual) every per-exchange connector implements, plus the subscription
// batching mixin shared by all of them (spec §4.3, §4.4). This replaces the
// source's inheritance hierarchy with composed interfaces, per the
// REDESIGN FLAGS in spec §9.
package connector

import (
	"context"

	"github.com/RuSwift/arbitrage-sub000/internal/domain"
)

// Callback receives normalized streaming events. Exactly one of the three
// pointers is non-nil per call.
type Callback interface {
	Handle(book *domain.BookTicker, depth *domain.BookDepth, kline *domain.CandleStick)
}

// CallbackFunc adapts a plain function to Callback.
type CallbackFunc func(book *domain.BookTicker, depth *domain.BookDepth, kline *domain.CandleStick)

func (f CallbackFunc) Handle(book *domain.BookTicker, depth *domain.BookDepth, kline *domain.CandleStick) {
	f(book, depth, kline)
}

// Streaming is the kind-agnostic websocket lifecycle every connector exposes.
type Streaming interface {
	// Start opens the transport and begins emitting events via cb for the
	// given canonical symbols (nil/empty means "all symbols known to the
	// connector"). Returns domain.ErrInvalidArgument if already active, or
	// if there is nothing subscribable.
	Start(ctx context.Context, cb Callback, symbols []domain.Symbol, depth int) error
	// Stop idempotently tears the transport down; safe to call repeatedly
	// and safe to call when never started.
	Stop()
	// Subscribe/Unsubscribe queue symbol changes, applied on the next batch
	// timer fire (spec §4.4).
	Subscribe(symbols []domain.Symbol)
	Unsubscribe(symbols []domain.Symbol)
}

// Spot is the REST capability set for spot-market connectors.
type Spot interface {
	Streaming
	GetAllTickers(ctx context.Context) ([]domain.Ticker, error)
	GetPrice(ctx context.Context, symbol domain.Symbol) (*domain.CurrencyPair, error)
	GetPairs(ctx context.Context, symbols []domain.Symbol) ([]domain.CurrencyPair, error)
	GetDepth(ctx context.Context, symbol domain.Symbol, limit int) (*domain.BookDepth, error)
	GetKlines(ctx context.Context, symbol domain.Symbol, limit int) ([]domain.CandleStick, error)
	// GetWithdrawInfo is optional; connectors that don't support it return
	// (nil, nil).
	GetWithdrawInfo(ctx context.Context) (map[string][]domain.WithdrawInfo, error)
}

// Perpetual is the REST capability set for linear-perpetual connectors.
type Perpetual interface {
	Streaming
	GetAllPerpetuals(ctx context.Context) ([]domain.PerpetualTicker, error)
	GetPrice(ctx context.Context, symbol domain.Symbol) (*domain.CurrencyPair, error)
	GetPairs(ctx context.Context, symbols []domain.Symbol) ([]domain.CurrencyPair, error)
	GetDepth(ctx context.Context, symbol domain.Symbol, limit int) (*domain.BookDepth, error)
	GetKlines(ctx context.Context, symbol domain.Symbol, limit int) ([]domain.CandleStick, error)
	GetFundingRate(ctx context.Context, symbol domain.Symbol) (*domain.FundingRate, error)
	GetFundingRateHistory(ctx context.Context, symbol domain.Symbol, limit int) ([]domain.FundingRatePoint, error)
}

// SymbolMapper resolves between canonical and exchange-native symbols. Every
// connector owns one, built lazily on first REST or WS use and cached for
// the connector's process lifetime (spec §4.5).
type SymbolMapper interface {
	// ToNative resolves a canonical symbol to its exchange-native wire form.
	// ok is false on miss.
	ToNative(symbol domain.Symbol) (native string, ok bool)
	// ToCanonical resolves either a native or canonical symbol back to
	// canonical form. ok is false on miss.
	ToCanonical(native string) (symbol domain.Symbol, ok bool)
	// Known lists every canonical symbol currently mapped.
	Known() []domain.Symbol
}
