package connector

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/RuSwift/arbitrage-sub000/internal/domain"
	"github.com/RuSwift/arbitrage-sub000/internal/exchange/base"
	"github.com/RuSwift/arbitrage-sub000/internal/exchange/binance"
	"github.com/RuSwift/arbitrage-sub000/internal/exchange/bitfinex"
	"github.com/RuSwift/arbitrage-sub000/internal/exchange/bybit"
	"github.com/RuSwift/arbitrage-sub000/internal/exchange/gate"
	"github.com/RuSwift/arbitrage-sub000/internal/exchange/htx"
	"github.com/RuSwift/arbitrage-sub000/internal/exchange/kucoin"
	"github.com/RuSwift/arbitrage-sub000/internal/exchange/mexc"
	"github.com/RuSwift/arbitrage-sub000/internal/exchange/okx"
	"github.com/RuSwift/arbitrage-sub000/internal/metrics"
	"github.com/RuSwift/arbitrage-sub000/internal/ratelimit"
	"github.com/RuSwift/arbitrage-sub000/internal/store"
	"github.com/RuSwift/arbitrage-sub000/internal/throttle"
)

// ThrottlePeriod is the per-subject minimum inter-update spacing applied to
// every connector's WS decode path (spec §4.1's T, illustrated with T=1s in
// S-THROTTLE-1).
const ThrottlePeriod = 1 * time.Second

// Tag identifies one (exchange, kind) connector variant. It replaces the
// source's dynamic-dispatch class registry: every supported variant is an
// explicit enum value below, not a discovered plugin (spec §9 REDESIGN
// FLAGS).
type Tag struct {
	Exchange domain.ExchangeID
	Kind     domain.Kind
}

func (t Tag) String() string { return string(t.Exchange) + "/" + string(t.Kind) }

// SpotFactory builds a fresh connector.Spot for a rate limiter/logger/gate
// triple.
type SpotFactory func(lim *ratelimit.Limiter, log zerolog.Logger, g *base.Gate) Spot

// PerpetualFactory builds a fresh connector.Perpetual for a rate
// limiter/logger/gate triple.
type PerpetualFactory func(lim *ratelimit.Limiter, log zerolog.Logger, g *base.Gate) Perpetual

// Every tagged variant this module supports, as module-level values — not
// registered dynamically at init time, per spec §9.
var (
	TagBinanceSpot  = Tag{domain.ExchangeBinance, domain.KindSpot}
	TagBinancePerp  = Tag{domain.ExchangeBinance, domain.KindPerpetual}
	TagBybitSpot    = Tag{domain.ExchangeBybit, domain.KindSpot}
	TagBybitPerp    = Tag{domain.ExchangeBybit, domain.KindPerpetual}
	TagOKXSpot      = Tag{domain.ExchangeOKX, domain.KindSpot}
	TagOKXPerp      = Tag{domain.ExchangeOKX, domain.KindPerpetual}
	TagKuCoinSpot   = Tag{domain.ExchangeKuCoin, domain.KindSpot}
	TagKuCoinPerp   = Tag{domain.ExchangeKuCoin, domain.KindPerpetual}
	TagHTXSpot      = Tag{domain.ExchangeHTX, domain.KindSpot}
	TagHTXPerp      = Tag{domain.ExchangeHTX, domain.KindPerpetual}
	TagMEXCSpot     = Tag{domain.ExchangeMEXC, domain.KindSpot}
	TagMEXCPerp     = Tag{domain.ExchangeMEXC, domain.KindPerpetual}
	TagGateSpot     = Tag{domain.ExchangeGate, domain.KindSpot}
	TagGatePerp     = Tag{domain.ExchangeGate, domain.KindPerpetual}
	TagBitfinexSpot = Tag{domain.ExchangeBitfinex, domain.KindSpot}
	TagBitfinexPerp = Tag{domain.ExchangeBitfinex, domain.KindPerpetual}
)

// AllTags lists every supported (exchange, kind) variant, in the order
// domain.AllExchanges names the exchanges.
var AllTags = []Tag{
	TagBinanceSpot, TagBinancePerp,
	TagBybitSpot, TagBybitPerp,
	TagOKXSpot, TagOKXPerp,
	TagKuCoinSpot, TagKuCoinPerp,
	TagHTXSpot, TagHTXPerp,
	TagMEXCSpot, TagMEXCPerp,
	TagGateSpot, TagGatePerp,
	TagBitfinexSpot, TagBitfinexPerp,
}

var spotFactories = map[Tag]SpotFactory{
	TagBinanceSpot:  func(lim *ratelimit.Limiter, log zerolog.Logger, g *base.Gate) Spot { return binance.NewSpot(lim, log, g) },
	TagBybitSpot:    func(lim *ratelimit.Limiter, log zerolog.Logger, g *base.Gate) Spot { return bybit.NewSpot(lim, log, g) },
	TagOKXSpot:      func(lim *ratelimit.Limiter, log zerolog.Logger, g *base.Gate) Spot { return okx.NewSpot(lim, log, g) },
	TagKuCoinSpot:   func(lim *ratelimit.Limiter, log zerolog.Logger, g *base.Gate) Spot { return kucoin.NewSpot(lim, log, g) },
	TagHTXSpot:      func(lim *ratelimit.Limiter, log zerolog.Logger, g *base.Gate) Spot { return htx.NewSpot(lim, log, g) },
	TagMEXCSpot:     func(lim *ratelimit.Limiter, log zerolog.Logger, g *base.Gate) Spot { return mexc.NewSpot(lim, log, g) },
	TagGateSpot:     func(lim *ratelimit.Limiter, log zerolog.Logger, g *base.Gate) Spot { return gate.NewSpot(lim, log, g) },
	TagBitfinexSpot: func(lim *ratelimit.Limiter, log zerolog.Logger, g *base.Gate) Spot { return bitfinex.NewSpot(lim, log, g) },
}

var perpetualFactories = map[Tag]PerpetualFactory{
	TagBinancePerp:  func(lim *ratelimit.Limiter, log zerolog.Logger, g *base.Gate) Perpetual { return binance.NewPerpetual(lim, log, g) },
	TagBybitPerp:    func(lim *ratelimit.Limiter, log zerolog.Logger, g *base.Gate) Perpetual { return bybit.NewPerpetual(lim, log, g) },
	TagOKXPerp:      func(lim *ratelimit.Limiter, log zerolog.Logger, g *base.Gate) Perpetual { return okx.NewPerpetual(lim, log, g) },
	TagKuCoinPerp:   func(lim *ratelimit.Limiter, log zerolog.Logger, g *base.Gate) Perpetual { return kucoin.NewPerpetual(lim, log, g) },
	TagHTXPerp:      func(lim *ratelimit.Limiter, log zerolog.Logger, g *base.Gate) Perpetual { return htx.NewPerpetual(lim, log, g) },
	TagMEXCPerp:     func(lim *ratelimit.Limiter, log zerolog.Logger, g *base.Gate) Perpetual { return mexc.NewPerpetual(lim, log, g) },
	TagGatePerp:     func(lim *ratelimit.Limiter, log zerolog.Logger, g *base.Gate) Perpetual { return gate.NewPerpetual(lim, log, g) },
	TagBitfinexPerp: func(lim *ratelimit.Limiter, log zerolog.Logger, g *base.Gate) Perpetual { return bitfinex.NewPerpetual(lim, log, g) },
}

// buildGate constructs the per-(exchange, kind) Throttler (spec §4.1) and
// wraps it as a Gate. st may be nil (e.g. connectors built without a shared
// cache in tests), in which case the returned Gate allows everything.
func buildGate(tag Tag, st store.Store, m *metrics.Registry, log zerolog.Logger) *base.Gate {
	if st == nil {
		return base.NewGate(nil)
	}
	prefix := fmt.Sprintf("%s.%s", tag.Exchange, tag.Kind)
	th := throttle.New(prefix, ThrottlePeriod, st, log)
	if m != nil {
		th.SetMetrics(m)
	}
	return base.NewGate(th)
}

// NewSpot builds the Spot connector for tag, wiring it against a fresh rate
// limiter drawn from ratelimit.DefaultConfigs and a per-subject Throttler
// backed by st. Returns domain.ErrInvalidArgument if tag has no spot
// variant.
func NewSpot(tag Tag, limiterTimeout time.Duration, st store.Store, m *metrics.Registry, log zerolog.Logger) (Spot, error) {
	factory, ok := spotFactories[tag]
	if !ok {
		return nil, domain.ErrInvalidArgument{Msg: fmt.Sprintf("no spot connector registered for %s", tag)}
	}
	cfg := ratelimit.DefaultConfigs()[tag.Exchange][domain.KindSpot]
	lim := ratelimit.NewLimiter(tag.Exchange, domain.KindSpot, cfg, limiterTimeout, log)
	if m != nil {
		lim.SetMetrics(m)
	}
	g := buildGate(tag, st, m, log)
	return factory(lim, log, g), nil
}

// NewPerpetual builds the Perpetual connector for tag, analogous to NewSpot.
func NewPerpetual(tag Tag, limiterTimeout time.Duration, st store.Store, m *metrics.Registry, log zerolog.Logger) (Perpetual, error) {
	factory, ok := perpetualFactories[tag]
	if !ok {
		return nil, domain.ErrInvalidArgument{Msg: fmt.Sprintf("no perpetual connector registered for %s", tag)}
	}
	cfg := ratelimit.DefaultConfigs()[tag.Exchange][domain.KindPerpetual]
	lim := ratelimit.NewLimiter(tag.Exchange, domain.KindPerpetual, cfg, limiterTimeout, log)
	if m != nil {
		lim.SetMetrics(m)
	}
	g := buildGate(tag, st, m, log)
	return factory(lim, log, g), nil
}

// ParseTag resolves an (exchange, kind) pair, as split from a cmd/ingestor
// "exchange/kind" flag, to its Tag. ok is false if the pair doesn't name a
// supported variant.
func ParseTag(exchange domain.ExchangeID, kind domain.Kind) (Tag, bool) {
	tag := Tag{Exchange: exchange, Kind: kind}
	for _, t := range AllTags {
		if t == tag {
			return tag, true
		}
	}
	return Tag{}, false
}
