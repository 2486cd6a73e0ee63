// Package domain holds the normalized value types every exchange connector
// produces. Nothing in this package knows about HTTP, websockets, or any
// particular venue's wire format.
package domain

import (
	"fmt"
	"strings"
)

// Kind distinguishes a spot market from a linear-perpetual market.
type Kind string

const (
	KindSpot      Kind = "spot"
	KindPerpetual Kind = "perpetual"
)

// Symbol is the core's canonical BASE/QUOTE form, e.g. "BTC/USDT".
type Symbol string

// NewSymbol builds a canonical symbol from base/quote, upper-cased.
func NewSymbol(base, quote string) Symbol {
	return Symbol(strings.ToUpper(base) + "/" + strings.ToUpper(quote))
}

// Split returns the base and quote legs of a canonical symbol.
func (s Symbol) Split() (base, quote string, ok bool) {
	parts := strings.SplitN(string(s), "/", 2)
	if len(parts) != 2 {
		return "", "", false
	}
	return parts[0], parts[1], true
}

func (s Symbol) String() string { return string(s) }

// Ticker describes a spot trading pair's listing status on a venue.
type Ticker struct {
	Symbol           Symbol
	Base             string
	Quote            string
	IsSpotEnabled    bool
	IsMarginEnabled  bool
	ExchangeSymbol   string
}

// PerpetualTicker describes a linear-perpetual contract's listing on a venue.
type PerpetualTicker struct {
	Symbol         Symbol
	Base           string
	Quote          string
	ExchangeSymbol string
	Settlement     string // e.g. "USDT", "USDC"
}

// BidAsk is one level of a book side.
type BidAsk struct {
	Price    float64
	Quantity float64
}

// Valid reports whether the level respects the domain invariant price>0, qty>=0.
func (b BidAsk) Valid() bool {
	return b.Price > 0 && b.Quantity >= 0
}

// BookTicker is the top-of-book bid/ask pair.
type BookTicker struct {
	Symbol        Symbol
	BidPrice      float64
	BidQty        float64
	AskPrice      float64
	AskQty        float64
	LastUpdateID  *int64
	UTC           *int64
}

// Valid checks the BookTicker invariants from the spec's data model.
func (t BookTicker) Valid() bool {
	if t.BidPrice < 0 || t.AskPrice < 0 || t.BidQty < 0 || t.AskQty < 0 {
		return false
	}
	if t.BidPrice > 0 && t.AskPrice > 0 && t.BidPrice > t.AskPrice {
		return false
	}
	return true
}

// BookDepth is a multi-level bid/ask ladder snapshot.
type BookDepth struct {
	Symbol         Symbol
	Bids           []BidAsk // descending by price
	Asks           []BidAsk // ascending by price
	ExchangeSymbol string
	LastUpdateID   *int64
	UTC            *int64
}

// Valid checks ordering invariants: bids descending, asks ascending.
func (d BookDepth) Valid() bool {
	for i := 1; i < len(d.Bids); i++ {
		if d.Bids[i].Price > d.Bids[i-1].Price {
			return false
		}
	}
	for i := 1; i < len(d.Asks); i++ {
		if d.Asks[i].Price < d.Asks[i-1].Price {
			return false
		}
	}
	return true
}

// CandleStick is one minute-aligned OHLCV bar.
type CandleStick struct {
	UTCOpenTime int64
	Open        float64
	High        float64
	Low         float64
	Close       float64
	CoinVolume  float64
	USDVolume   *float64
}

// Valid checks low<=open,close<=high.
func (c CandleStick) Valid() bool {
	if c.Low > c.Open || c.Low > c.Close {
		return false
	}
	if c.High < c.Open || c.High < c.Close {
		return false
	}
	return true
}

// CurrencyPair is a priced BASE/QUOTE ratio, used by get_price/get_pairs.
type CurrencyPair struct {
	Base  string
	Quote string
	Ratio float64
	UTC   *int64
}

func (p CurrencyPair) Symbol() Symbol { return NewSymbol(p.Base, p.Quote) }

// FundingRate is a perpetual contract's current funding parameter.
type FundingRate struct {
	Symbol         Symbol
	Rate           float64
	NextFundingUTC int64
	NextRate       *float64
	IndexPrice     *float64
	UTC            *int64
}

// FundingRatePoint is one historical funding observation.
type FundingRatePoint struct {
	FundingTimeUTC int64
	Rate           float64
}

// WithdrawInfo describes one network's withdraw/deposit availability for a coin.
type WithdrawInfo struct {
	ExCode          string
	Coin            string
	NetworkNames    []string
	WithdrawEnabled bool
	DepositEnabled  bool
}

// stableQuotes lists quote assets treated as a USD proxy for USD-volume fill-in.
var stableQuotes = map[string]bool{"USDT": true, "USDC": true, "DAI": true, "UST": true}

// IsStableQuote reports whether quote is a recognized USD-stable proxy.
func IsStableQuote(quote string) bool {
	return stableQuotes[strings.ToUpper(quote)]
}

// ExchangeID enumerates the eight supported centralized exchanges.
type ExchangeID string

const (
	ExchangeBinance  ExchangeID = "binance"
	ExchangeBybit    ExchangeID = "bybit"
	ExchangeOKX      ExchangeID = "okx"
	ExchangeKuCoin   ExchangeID = "kucoin"
	ExchangeHTX      ExchangeID = "htx"
	ExchangeMEXC     ExchangeID = "mexc"
	ExchangeGate     ExchangeID = "gate"
	ExchangeBitfinex ExchangeID = "bitfinex"
)

// AllExchanges lists every supported exchange id, in the order the spec names them.
var AllExchanges = []ExchangeID{
	ExchangeBinance, ExchangeBybit, ExchangeOKX, ExchangeKuCoin,
	ExchangeHTX, ExchangeMEXC, ExchangeGate, ExchangeBitfinex,
}

// CacheKey builds the fixed-prefix cache key layout from §3: "{exchange}:{kind}:{method}[:{args...}]".
func CacheKey(exchange ExchangeID, kind Kind, method string, args ...string) string {
	parts := append([]string{string(exchange), string(kind), method}, args...)
	return strings.Join(parts, ":")
}

// NegativeSentinel is the reserved cache value meaning "accessor returned none".
const NegativeSentinel = "\x00NIL\x00"

// ErrInvalidArgument signals programmer misuse (e.g. start() while already active).
type ErrInvalidArgument struct{ Msg string }

func (e ErrInvalidArgument) Error() string { return fmt.Sprintf("invalid argument: %s", e.Msg) }
