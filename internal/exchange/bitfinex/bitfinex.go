// Package bitfinex implements the Bitfinex spot and derivatives (perpetual
// swap) connectors. Bitfinex trading symbols are prefixed with "t"
// (tBTCUSD) and perpetuals carry an "F0" funding-currency suffix
// (tBTCF0:USTF0). Perpetual pricing prefers the exchange's own mark price
// from the derivatives status feed and falls back to the last traded
// price when a mark price has not been published yet (spec §4.5/§6).
package bitfinex

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/RuSwift/arbitrage-sub000/internal/connector"
	"github.com/RuSwift/arbitrage-sub000/internal/domain"
	"github.com/RuSwift/arbitrage-sub000/internal/exchange/base"
	"github.com/RuSwift/arbitrage-sub000/internal/exchange/restjson"
	"github.com/RuSwift/arbitrage-sub000/internal/exchange/wsbase"
	"github.com/RuSwift/arbitrage-sub000/internal/ratelimit"
)

const (
	restBase = "https://api-pub.bitfinex.com"
	wsBase   = "wss://api-pub.bitfinex.com/ws/2"
)

func nativeSpot(base, quote string) string {
	return "t" + strings.ToUpper(base) + strings.ToUpper(quote)
}

func nativePerp(base string) string {
	return "t" + strings.ToUpper(base) + "F0:USTF0"
}

func parseLevels(raw [][]float64, ask bool) []domain.BidAsk {
	out := make([]domain.BidAsk, 0, len(raw))
	for _, lvl := range raw {
		if len(lvl) < 3 {
			continue
		}
		price, amount := lvl[0], lvl[2]
		if amount < 0 {
			amount = -amount
		}
		out = append(out, domain.BidAsk{Price: price, Quantity: amount})
	}
	_ = ask
	return out
}

// chanRegistry maps Bitfinex's numeric WS channel IDs back to the
// (symbol, channel-kind) they were opened for; the public feed only
// echoes the channel id on data frames, never the symbol.
type chanRegistry struct {
	mu   sync.Mutex
	byID map[int64]chanInfo
}

type chanInfo struct {
	symbol domain.Symbol
	kind   string // "ticker", "book", "candles"
}

func newChanRegistry() *chanRegistry { return &chanRegistry{byID: make(map[int64]chanInfo)} }

func (r *chanRegistry) put(id int64, info chanInfo) {
	r.mu.Lock()
	r.byID[id] = info
	r.mu.Unlock()
}
func (r *chanRegistry) get(id int64) (chanInfo, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	info, ok := r.byID[id]
	return info, ok
}
func (r *chanRegistry) drop(id int64) {
	r.mu.Lock()
	delete(r.byID, id)
	r.mu.Unlock()
}

type core struct {
	lim    *ratelimit.Limiter
	mapper *base.Mapper
	stream base.StreamState
	log    zerolog.Logger
	gate   *base.Gate

	mu    sync.Mutex
	ws    *wsbase.Client
	batch *connector.BatchMixin
	cb    connector.Callback
	chans *chanRegistry
}

func (c *core) start(ctx context.Context, cb connector.Callback, symbols []domain.Symbol, decode wsbase.Decoder, applier connector.Applier) error {
	if cb == nil {
		return domain.ErrInvalidArgument{Msg: "nil callback"}
	}
	sctx, err := c.stream.Begin(ctx)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.cb = cb
	c.chans = newChanRegistry()
	ws := wsbase.New(wsBase, 30*time.Second, 15*time.Second, c.log)
	c.ws = ws
	c.batch = connector.NewBatchMixin(connector.DefaultBatchInterval, applier)
	c.mu.Unlock()

	if err := ws.Dial(sctx, decode); err != nil {
		c.stream.End()
		return err
	}
	if len(symbols) > 0 {
		c.batch.Subscribe(symbols)
	}
	return nil
}

func (c *core) stop() {
	c.stream.End()
	c.mu.Lock()
	ws, batch := c.ws, c.batch
	c.ws, c.batch, c.cb, c.chans = nil, nil, nil, nil
	c.mu.Unlock()
	if batch != nil {
		batch.Cancel()
	}
	if ws != nil {
		ws.Close()
	}
}

func (c *core) subscribe(symbols []domain.Symbol) {
	c.mu.Lock()
	batch := c.batch
	c.mu.Unlock()
	if batch != nil {
		batch.Subscribe(symbols)
	}
}
func (c *core) unsubscribe(symbols []domain.Symbol) {
	c.mu.Lock()
	batch := c.batch
	c.mu.Unlock()
	if batch != nil {
		batch.Unsubscribe(symbols)
	}
}

func (c *core) sendSub(ws *wsbase.Client, kind string, sym domain.Symbol, native string) {
	var frame map[string]interface{}
	switch kind {
	case "ticker":
		frame = map[string]interface{}{"event": "subscribe", "channel": "ticker", "symbol": native}
	case "book":
		frame = map[string]interface{}{"event": "subscribe", "channel": "book", "symbol": native, "prec": "P0", "freq": "F0", "len": "25"}
	case "candles":
		frame = map[string]interface{}{"event": "subscribe", "channel": "candles", "key": "trade:1m:" + native}
	case "status":
		frame = map[string]interface{}{"event": "subscribe", "channel": "status", "key": "deriv:" + native}
	}
	data, err := json.Marshal(frame)
	if err != nil {
		return
	}
	if err := ws.Send(data); err != nil {
		c.log.Warn().Err(err).Str("kind", kind).Str("symbol", string(sym)).Msg("bitfinex: subscribe failed")
	}
}

// event is Bitfinex's JSON object envelope: subscribed acks, heartbeats'
// parent frame, and error events all arrive this way.
type event struct {
	Event   string `json:"event"`
	Channel string `json:"channel"`
	ChanID  int64  `json:"chanId"`
	Symbol  string `json:"symbol"`
	Key     string `json:"key"`
}

// --- Spot ---

type Spot struct{ core }

func NewSpot(lim *ratelimit.Limiter, log zerolog.Logger, g *base.Gate) *Spot {
	return &Spot{core{lim: lim, mapper: base.NewMapper(), log: log, gate: g}}
}

type symDetailsResp [][]interface{}

func (s *Spot) GetAllTickers(ctx context.Context) ([]domain.Ticker, error) {
	var resp [][]string
	if err := restjson.Get(ctx, s.lim, restBase+"/v2/conf/pub:list:pair:exchange", nil, 1, &resp); err != nil {
		return nil, err
	}
	if len(resp) == 0 {
		return nil, fmt.Errorf("bitfinex spot: empty pair list")
	}
	pairs := make(map[domain.Symbol]string, len(resp[0]))
	out := make([]domain.Ticker, 0, len(resp[0]))
	for _, raw := range resp[0] {
		b, q, ok := splitPair(raw)
		if !ok {
			continue
		}
		canon := domain.NewSymbol(b, q)
		native := "t" + raw
		pairs[canon] = native
		out = append(out, domain.Ticker{Symbol: canon, Base: b, Quote: q, IsSpotEnabled: true, ExchangeSymbol: native})
	}
	s.mapper.Load(pairs)
	return out, nil
}

// splitPair splits Bitfinex's pair codes: six-letter colon-less ones
// ("BTCUSD") and colon-separated ones ("DOGE:USD").
func splitPair(raw string) (base, quote string, ok bool) {
	if idx := strings.Index(raw, ":"); idx >= 0 {
		return raw[:idx], raw[idx+1:], true
	}
	if len(raw) == 6 {
		return raw[:3], raw[3:], true
	}
	return "", "", false
}

type tickerRow []interface{}

func asFloat(v interface{}) float64 {
	f, _ := v.(float64)
	return f
}

func (s *Spot) GetPrice(ctx context.Context, symbol domain.Symbol) (*domain.CurrencyPair, error) {
	native, ok := s.mapper.ToNative(symbol)
	if !ok {
		return nil, domain.ErrInvalidArgument{Msg: "unknown symbol " + symbol.String()}
	}
	var resp tickerRow
	if err := restjson.Get(ctx, s.lim, restBase+"/v2/ticker/"+native, nil, 1, &resp); err != nil {
		return nil, err
	}
	if len(resp) < 7 {
		return nil, fmt.Errorf("bitfinex spot: malformed ticker for %s", native)
	}
	last := asFloat(resp[6])
	b, q, _ := symbol.Split()
	now := time.Now().Unix()
	return &domain.CurrencyPair{Base: b, Quote: q, Ratio: last, UTC: &now}, nil
}

func (s *Spot) GetPairs(ctx context.Context, symbols []domain.Symbol) ([]domain.CurrencyPair, error) {
	natives := make([]string, 0, len(symbols))
	bySymbol := make(map[string]domain.Symbol, len(symbols))
	for _, sym := range symbols {
		if n, ok := s.mapper.ToNative(sym); ok {
			natives = append(natives, n)
			bySymbol[n] = sym
		}
	}
	if len(natives) == 0 {
		return nil, nil
	}
	var resp []tickerRow
	params := url.Values{"symbols": {strings.Join(natives, ",")}}
	if err := restjson.Get(ctx, s.lim, restBase+"/v2/tickers", params, 1, &resp); err != nil {
		return nil, err
	}
	now := time.Now().Unix()
	out := make([]domain.CurrencyPair, 0, len(resp))
	for _, row := range resp {
		if len(row) < 8 {
			continue
		}
		native, _ := row[0].(string)
		canon, ok := bySymbol[native]
		if !ok {
			continue
		}
		last := asFloat(row[7])
		b, q, _ := canon.Split()
		out = append(out, domain.CurrencyPair{Base: b, Quote: q, Ratio: last, UTC: &now})
	}
	return out, nil
}

func (s *Spot) GetDepth(ctx context.Context, symbol domain.Symbol, limit int) (*domain.BookDepth, error) {
	native, ok := s.mapper.ToNative(symbol)
	if !ok {
		return nil, domain.ErrInvalidArgument{Msg: "unknown symbol " + symbol.String()}
	}
	prec := "P0"
	length := "25"
	if limit > 25 {
		length = "100"
	}
	var rows [][]float64
	params := url.Values{"len": {length}}
	if err := restjson.Get(ctx, s.lim, restBase+"/v2/book/"+native+"/"+prec, params, 1, &rows); err != nil {
		return nil, err
	}
	var bids, asks [][]float64
	for _, row := range rows {
		if len(row) < 3 {
			continue
		}
		if row[2] > 0 {
			bids = append(bids, row)
		} else {
			asks = append(asks, row)
		}
	}
	now := time.Now().Unix()
	return &domain.BookDepth{Symbol: symbol, Bids: parseLevels(bids, false), Asks: parseLevels(asks, true), ExchangeSymbol: native, UTC: &now}, nil
}

func (s *Spot) GetKlines(ctx context.Context, symbol domain.Symbol, limit int) ([]domain.CandleStick, error) {
	native, ok := s.mapper.ToNative(symbol)
	if !ok {
		return nil, domain.ErrInvalidArgument{Msg: "unknown symbol " + symbol.String()}
	}
	if limit <= 0 {
		limit = 500
	}
	var rows [][]float64
	params := url.Values{"limit": {strconv.Itoa(limit)}, "sort": {"-1"}}
	path := restBase + "/v2/candles/trade:1m:" + native + "/hist"
	if err := restjson.Get(ctx, s.lim, path, params, 1, &rows); err != nil {
		return nil, err
	}
	out := make([]domain.CandleStick, 0, len(rows))
	for _, row := range rows {
		if len(row) < 6 {
			continue
		}
		out = append(out, domain.CandleStick{
			UTCOpenTime: int64(row[0]) / 1000, Open: row[1], Close: row[2], High: row[3], Low: row[4], CoinVolume: row[5],
		})
	}
	return out, nil
}

// GetWithdrawInfo requires Bitfinex's authenticated wallet currency list.
func (s *Spot) GetWithdrawInfo(ctx context.Context) (map[string][]domain.WithdrawInfo, error) {
	return nil, nil
}

func (s *Spot) applyBatch(unsub, sub []domain.Symbol) {
	s.mu.Lock()
	ws, chans := s.ws, s.chans
	s.mu.Unlock()
	if ws == nil {
		return
	}
	for _, sym := range unsub {
		if chans != nil {
			chans.mu.Lock()
			for id, info := range chans.byID {
				if info.symbol == sym {
					delete(chans.byID, id)
				}
			}
			chans.mu.Unlock()
		}
	}
	for _, sym := range sub {
		native, ok := s.mapper.ToNative(sym)
		if !ok {
			continue
		}
		s.sendSub(ws, "ticker", sym, native)
		s.sendSub(ws, "book", sym, native)
		s.sendSub(ws, "candles", sym, native)
	}
}

func (s *Spot) decode(_ int, data []byte) {
	if len(data) == 0 {
		return
	}
	if data[0] == '{' {
		var ev event
		if err := json.Unmarshal(data, &ev); err != nil {
			return
		}
		if ev.Event == "subscribed" {
			sym, ok := s.mapper.ToCanonical(ev.Symbol)
			if !ok && ev.Key != "" {
				if idx := strings.LastIndex(ev.Key, ":"); idx >= 0 {
					sym, ok = s.mapper.ToCanonical(ev.Key[idx+1:])
				}
			}
			if ok {
				s.chans.put(ev.ChanID, chanInfo{symbol: sym, kind: ev.Channel})
			}
		}
		return
	}
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil || len(raw) < 2 {
		return
	}
	var chanID int64
	if err := json.Unmarshal(raw[0], &chanID); err != nil {
		return
	}
	info, ok := s.chans.get(chanID)
	if !ok {
		return
	}
	var payload interface{}
	if err := json.Unmarshal(raw[1], &payload); err != nil {
		return
	}
	if str, isStr := payload.(string); isStr && str == "hb" {
		return
	}
	s.mu.Lock()
	cb := s.cb
	s.mu.Unlock()
	if cb == nil {
		return
	}
	now := time.Now().Unix()
	switch info.kind {
	case "ticker":
		row, ok := payload.([]interface{})
		if !ok || len(row) < 4 {
			return
		}
		book := domain.BookTicker{Symbol: info.symbol, BidPrice: asFloat(row[0]), BidQty: asFloat(row[1]), AskPrice: asFloat(row[2]), AskQty: asFloat(row[3]), UTC: &now}
		if s.gate.Allow(context.Background(), "book", info.symbol.String()) {
			cb.Handle(&book, nil, nil)
		}
	case "book":
		levels, ok := payload.([]interface{})
		if !ok {
			return
		}
		var bids, asks [][]float64
		if _, isLevel := levels[0].([]interface{}); isLevel {
			for _, lvl := range levels {
				row, ok := lvl.([]interface{})
				if !ok || len(row) < 3 {
					continue
				}
				converted := []float64{asFloat(row[0]), asFloat(row[1]), asFloat(row[2])}
				if converted[2] > 0 {
					bids = append(bids, converted)
				} else {
					asks = append(asks, converted)
				}
			}
		}
		depth := domain.BookDepth{Symbol: info.symbol, Bids: parseLevels(bids, false), Asks: parseLevels(asks, true), UTC: &now}
		if s.gate.Allow(context.Background(), "depth", info.symbol.String()) {
			cb.Handle(nil, &depth, nil)
		}
	case "candles":
		row, ok := payload.([]interface{})
		if !ok || len(row) < 6 {
			return
		}
		candle := domain.CandleStick{UTCOpenTime: int64(asFloat(row[0])) / 1000, Open: asFloat(row[1]), Close: asFloat(row[2]), High: asFloat(row[3]), Low: asFloat(row[4]), CoinVolume: asFloat(row[5])}
		if s.gate.Allow(context.Background(), "kline", info.symbol.String()) {
			cb.Handle(nil, nil, &candle)
		}
	}
}

func (s *Spot) Start(ctx context.Context, cb connector.Callback, symbols []domain.Symbol, depth int) error {
	return s.start(ctx, cb, symbols, s.decode, connector.ApplierFunc(s.applyBatch))
}
func (s *Spot) Stop()                               { s.stop() }
func (s *Spot) Subscribe(symbols []domain.Symbol)   { s.subscribe(symbols) }
func (s *Spot) Unsubscribe(symbols []domain.Symbol) { s.unsubscribe(symbols) }

var _ connector.Spot = (*Spot)(nil)

// --- Perpetual ---

type Perpetual struct{ core }

func NewPerpetual(lim *ratelimit.Limiter, log zerolog.Logger, g *base.Gate) *Perpetual {
	return &Perpetual{core{lim: lim, mapper: base.NewMapper(), log: log, gate: g}}
}

func (p *Perpetual) GetAllPerpetuals(ctx context.Context) ([]domain.PerpetualTicker, error) {
	var resp [][]string
	if err := restjson.Get(ctx, p.lim, restBase+"/v2/conf/pub:list:pair:futures", nil, 1, &resp); err != nil {
		return nil, err
	}
	if len(resp) == 0 {
		return nil, fmt.Errorf("bitfinex perp: empty contract list")
	}
	pairs := make(map[domain.Symbol]string, len(resp[0]))
	out := make([]domain.PerpetualTicker, 0, len(resp[0]))
	for _, raw := range resp[0] {
		b, ok := splitFutureBase(raw)
		if !ok {
			continue
		}
		canon := domain.NewSymbol(b, "USD")
		native := "t" + raw
		pairs[canon] = native
		out = append(out, domain.PerpetualTicker{Symbol: canon, Base: b, Quote: "USD", ExchangeSymbol: native, Settlement: "USTF0"})
	}
	p.mapper.Load(pairs)
	return out, nil
}

// splitFutureBase extracts the base asset from "BTCF0:USTF0"-shaped codes.
func splitFutureBase(raw string) (string, bool) {
	idx := strings.Index(raw, "F0:")
	if idx < 0 {
		return "", false
	}
	return raw[:idx], true
}

func (p *Perpetual) GetPrice(ctx context.Context, symbol domain.Symbol) (*domain.CurrencyPair, error) {
	native, ok := p.mapper.ToNative(symbol)
	if !ok {
		return nil, domain.ErrInvalidArgument{Msg: "unknown symbol " + symbol.String()}
	}
	mark, err := p.markPrice(ctx, native)
	if err == nil && mark > 0 {
		b, q, _ := symbol.Split()
		now := time.Now().Unix()
		return &domain.CurrencyPair{Base: b, Quote: q, Ratio: mark, UTC: &now}, nil
	}
	var resp tickerRow
	if err := restjson.Get(ctx, p.lim, restBase+"/v2/ticker/"+native, nil, 1, &resp); err != nil {
		return nil, err
	}
	if len(resp) < 7 {
		return nil, fmt.Errorf("bitfinex perp: malformed ticker for %s", native)
	}
	last := asFloat(resp[6])
	b, q, _ := symbol.Split()
	now := time.Now().Unix()
	return &domain.CurrencyPair{Base: b, Quote: q, Ratio: last, UTC: &now}, nil
}

// markPrice reads Bitfinex's derivatives status feed: the published mark
// price at index 15, or the deriv price at index 3 when no mark has been
// published. The feed can be briefly empty right after a contract lists,
// which is why callers fall back to last price.
func (p *Perpetual) markPrice(ctx context.Context, native string) (float64, error) {
	var row []interface{}
	if err := restjson.Get(ctx, p.lim, restBase+"/v2/status/deriv/"+native, nil, 1, &row); err != nil {
		return 0, err
	}
	if len(row) < 4 {
		return 0, fmt.Errorf("bitfinex perp: malformed deriv status for %s", native)
	}
	if len(row) > 15 && row[15] != nil {
		return asFloat(row[15]), nil
	}
	return asFloat(row[3]), nil
}

func (p *Perpetual) GetPairs(ctx context.Context, symbols []domain.Symbol) ([]domain.CurrencyPair, error) {
	out := make([]domain.CurrencyPair, 0, len(symbols))
	for _, sym := range symbols {
		cp, err := p.GetPrice(ctx, sym)
		if err != nil {
			continue
		}
		out = append(out, *cp)
	}
	return out, nil
}

func (p *Perpetual) GetDepth(ctx context.Context, symbol domain.Symbol, limit int) (*domain.BookDepth, error) {
	native, ok := p.mapper.ToNative(symbol)
	if !ok {
		return nil, domain.ErrInvalidArgument{Msg: "unknown symbol " + symbol.String()}
	}
	length := "25"
	if limit > 25 {
		length = "100"
	}
	var rows [][]float64
	params := url.Values{"len": {length}}
	if err := restjson.Get(ctx, p.lim, restBase+"/v2/book/"+native+"/P0", params, 1, &rows); err != nil {
		return nil, err
	}
	var bids, asks [][]float64
	for _, row := range rows {
		if len(row) < 3 {
			continue
		}
		if row[2] > 0 {
			bids = append(bids, row)
		} else {
			asks = append(asks, row)
		}
	}
	now := time.Now().Unix()
	return &domain.BookDepth{Symbol: symbol, Bids: parseLevels(bids, false), Asks: parseLevels(asks, true), ExchangeSymbol: native, UTC: &now}, nil
}

func (p *Perpetual) GetKlines(ctx context.Context, symbol domain.Symbol, limit int) ([]domain.CandleStick, error) {
	native, ok := p.mapper.ToNative(symbol)
	if !ok {
		return nil, domain.ErrInvalidArgument{Msg: "unknown symbol " + symbol.String()}
	}
	if limit <= 0 {
		limit = 500
	}
	var rows [][]float64
	params := url.Values{"limit": {strconv.Itoa(limit)}, "sort": {"-1"}}
	path := restBase + "/v2/candles/trade:1m:" + native + "/hist"
	if err := restjson.Get(ctx, p.lim, path, params, 1, &rows); err != nil {
		return nil, err
	}
	out := make([]domain.CandleStick, 0, len(rows))
	for _, row := range rows {
		if len(row) < 6 {
			continue
		}
		out = append(out, domain.CandleStick{UTCOpenTime: int64(row[0]) / 1000, Open: row[1], Close: row[2], High: row[3], Low: row[4], CoinVolume: row[5]})
	}
	return out, nil
}

func (p *Perpetual) GetFundingRate(ctx context.Context, symbol domain.Symbol) (*domain.FundingRate, error) {
	native, ok := p.mapper.ToNative(symbol)
	if !ok {
		return nil, domain.ErrInvalidArgument{Msg: "unknown symbol " + symbol.String()}
	}
	var row []interface{}
	if err := restjson.Get(ctx, p.lim, restBase+"/v2/status/deriv/"+native, nil, 1, &row); err != nil {
		return nil, err
	}
	if len(row) < 9 {
		return nil, fmt.Errorf("bitfinex perp: malformed deriv status for %s", native)
	}
	rate := asFloat(row[8])
	nextFunding := int64(asFloat(row[9]))
	now := time.Now().Unix()
	return &domain.FundingRate{Symbol: symbol, Rate: rate, NextFundingUTC: nextFunding / 1000, UTC: &now}, nil
}

func (p *Perpetual) GetFundingRateHistory(ctx context.Context, symbol domain.Symbol, limit int) ([]domain.FundingRatePoint, error) {
	native, ok := p.mapper.ToNative(symbol)
	if !ok {
		return nil, domain.ErrInvalidArgument{Msg: "unknown symbol " + symbol.String()}
	}
	if limit <= 0 {
		limit = 100
	}
	var rows [][]float64
	params := url.Values{"limit": {strconv.Itoa(limit)}, "sort": {"-1"}}
	path := restBase + "/v2/candles/fundingRate:1m:" + native + "/hist"
	if err := restjson.Get(ctx, p.lim, path, params, 1, &rows); err != nil {
		return nil, err
	}
	out := make([]domain.FundingRatePoint, 0, len(rows))
	for _, row := range rows {
		if len(row) < 2 {
			continue
		}
		out = append(out, domain.FundingRatePoint{FundingTimeUTC: int64(row[0]) / 1000, Rate: row[1]})
	}
	return out, nil
}

func (p *Perpetual) applyBatch(unsub, sub []domain.Symbol) {
	p.mu.Lock()
	ws := p.ws
	p.mu.Unlock()
	if ws == nil {
		return
	}
	for _, sym := range sub {
		native, ok := p.mapper.ToNative(sym)
		if !ok {
			continue
		}
		p.sendSub(ws, "status", sym, native)
		p.sendSub(ws, "book", sym, native)
	}
}

func (p *Perpetual) decode(msgType int, data []byte) {
	(&p.core).decodeShared(data)
}

// decodeShared is the Perpetual-side counterpart of Spot.decode: it reads
// the same chanId-indexed frame envelope, but the channels it opens are
// "status" (derivatives mark price) and "book" rather than Spot's
// "ticker"/"book"/"candles".
func (c *core) decodeShared(data []byte) {
	if len(data) == 0 {
		return
	}
	if data[0] == '{' {
		var ev event
		if err := json.Unmarshal(data, &ev); err != nil {
			return
		}
		if ev.Event == "subscribed" {
			sym, ok := c.mapper.ToCanonical(ev.Symbol)
			if !ok && ev.Key != "" {
				sym, ok = c.mapper.ToCanonical(strings.TrimPrefix(ev.Key, "deriv:"))
			}
			if ok {
				c.chans.put(ev.ChanID, chanInfo{symbol: sym, kind: ev.Channel})
			}
		}
		return
	}
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil || len(raw) < 2 {
		return
	}
	var chanID int64
	if err := json.Unmarshal(raw[0], &chanID); err != nil {
		return
	}
	info, ok := c.chans.get(chanID)
	if !ok {
		return
	}
	var payload interface{}
	if err := json.Unmarshal(raw[1], &payload); err != nil {
		return
	}
	if str, isStr := payload.(string); isStr && str == "hb" {
		return
	}
	c.mu.Lock()
	cb := c.cb
	c.mu.Unlock()
	if cb == nil {
		return
	}
	now := time.Now().Unix()
	switch info.kind {
	case "status":
		// Derivatives status feed: mark price at index 15, falling back to
		// the deriv mid-price at index 3 when no mark has been published
		// yet, mirroring markPrice's REST fallback.
		row, ok := payload.([]interface{})
		if !ok || len(row) < 4 {
			return
		}
		var mark float64
		switch {
		case len(row) > 15 && row[15] != nil:
			mark = asFloat(row[15])
		case row[3] != nil:
			mark = asFloat(row[3])
		default:
			return
		}
		book := domain.BookTicker{Symbol: info.symbol, BidPrice: mark, BidQty: 0, AskPrice: mark, AskQty: 0, UTC: &now}
		if c.gate.Allow(context.Background(), "book", info.symbol.String()) {
			cb.Handle(&book, nil, nil)
		}
	case "book":
		levels, ok := payload.([]interface{})
		if !ok || len(levels) == 0 {
			return
		}
		var bids, asks [][]float64
		if _, isLevel := levels[0].([]interface{}); isLevel {
			for _, lvl := range levels {
				row, ok := lvl.([]interface{})
				if !ok || len(row) < 3 {
					continue
				}
				converted := []float64{asFloat(row[0]), asFloat(row[1]), asFloat(row[2])}
				if converted[2] > 0 {
					bids = append(bids, converted)
				} else {
					asks = append(asks, converted)
				}
			}
		}
		depth := domain.BookDepth{Symbol: info.symbol, Bids: parseLevels(bids, false), Asks: parseLevels(asks, true), UTC: &now}
		if c.gate.Allow(context.Background(), "depth", info.symbol.String()) {
			cb.Handle(nil, &depth, nil)
		}
	}
}

func (p *Perpetual) Start(ctx context.Context, cb connector.Callback, symbols []domain.Symbol, depth int) error {
	return p.start(ctx, cb, symbols, p.decode, connector.ApplierFunc(p.applyBatch))
}
func (p *Perpetual) Stop()                               { p.stop() }
func (p *Perpetual) Subscribe(symbols []domain.Symbol)   { p.subscribe(symbols) }
func (p *Perpetual) Unsubscribe(symbols []domain.Symbol) { p.unsubscribe(symbols) }

var _ connector.Perpetual = (*Perpetual)(nil)
