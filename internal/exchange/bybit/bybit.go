// Package bybit implements the Bybit spot and linear-perpetual connectors.
// Bybit's v5 REST API and WS protocol are unified across product
// categories via a "category" query/subscription parameter, so this
// package carries one shared REST/WS core parameterized by category
// rather than two near-duplicate trees.
package bybit

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

const restBase = "https://api.bybit.com"

type category string

const (
	catSpot   category = "spot"
	catLinear category = "linear"
)

func wsURL(cat category) string {
	if cat == catSpot {
		return "wss://stream.bybit.com/v5/public/spot"
	}
	return "wss://stream.bybit.com/v5/public/linear"
}

type core struct {
	cat    category
	lim    *ratelimit.Limiter
	mapper *base.Mapper
	stream base.StreamState
	log    zerolog.Logger
	gate   *base.Gate

	mu    sync.Mutex
	ws    *wsbase.Client
	batch *connector.BatchMixin
	cb    connector.Callback
}

type instrumentsResp struct {
	Result struct {
		List []struct {
			Symbol      string `json:"symbol"`
			BaseCoin    string `json:"baseCoin"`
			QuoteCoin   string `json:"quoteCoin"`
			Status      string `json:"status"`
			ContractType string `json:"contractType"`
			Settlecoin  string `json:"settleCoin"`
		} `json:"list"`
	} `json:"result"`
}

func (c *core) loadInstruments(ctx context.Context) (*instrumentsResp, error) {
	var resp instrumentsResp
	err := restjson.Get(ctx, c.lim, restBase+"/v5/market/instruments-info", url.Values{"category": {string(c.cat)}}, 1, &resp)
	return &resp, err
}

type tickersResp struct {
	Result struct {
		List []struct {
			Symbol    string `json:"symbol"`
			LastPrice string `json:"lastPrice"`
			Bid1Price string `json:"bid1Price"`
			Bid1Size  string `json:"bid1Size"`
			Ask1Price string `json:"ask1Price"`
			Ask1Size  string `json:"ask1Size"`
		} `json:"list"`
	} `json:"result"`
}

func (c *core) getPrice(ctx context.Context, symbol domain.Symbol) (*domain.CurrencyPair, error) {
	native, ok := c.mapper.ToNative(symbol)
	if !ok {
		return nil, domain.ErrInvalidArgument{Msg: "unknown symbol " + symbol.String()}
	}
	var resp tickersResp
	if err := restjson.Get(ctx, c.lim, restBase+"/v5/market/tickers", url.Values{"category": {string(c.cat)}, "symbol": {native}}, 1, &resp); err != nil {
		return nil, err
	}
	if len(resp.Result.List) == 0 {
		return nil, fmt.Errorf("bybit %s: no ticker for %s", c.cat, native)
	}
	ratio, err := strconv.ParseFloat(resp.Result.List[0].LastPrice, 64)
	if err != nil {
		return nil, err
	}
	b, q, _ := symbol.Split()
	now := time.Now().Unix()
	return &domain.CurrencyPair{Base: b, Quote: q, Ratio: ratio, UTC: &now}, nil
}

func (c *core) getPairs(ctx context.Context, symbols []domain.Symbol) ([]domain.CurrencyPair, error) {
	var resp tickersResp
	if err := restjson.Get(ctx, c.lim, restBase+"/v5/market/tickers", url.Values{"category": {string(c.cat)}}, 1, &resp); err != nil {
		return nil, err
	}
	wanted := make(map[string]bool, len(symbols))
	for _, s := range symbols {
		if n, ok := c.mapper.ToNative(s); ok {
			wanted[n] = true
		}
	}
	now := time.Now().Unix()
	out := make([]domain.CurrencyPair, 0, len(resp.Result.List))
	for _, item := range resp.Result.List {
		if len(wanted) > 0 && !wanted[item.Symbol] {
			continue
		}
		canon, ok := c.mapper.ToCanonical(item.Symbol)
		if !ok {
			continue
		}
		ratio, err := strconv.ParseFloat(item.LastPrice, 64)
		if err != nil {
			continue
		}
		b, q, _ := canon.Split()
		out = append(out, domain.CurrencyPair{Base: b, Quote: q, Ratio: ratio, UTC: &now})
	}
	return out, nil
}

type orderbookResp struct {
	Result struct {
		Symbol string     `json:"s"`
		Bids   [][]string `json:"b"`
		Asks   [][]string `json:"a"`
		UpdID  int64      `json:"u"`
	} `json:"result"`
}

func (c *core) getDepth(ctx context.Context, symbol domain.Symbol, limit int) (*domain.BookDepth, error) {
	native, ok := c.mapper.ToNative(symbol)
	if !ok {
		return nil, domain.ErrInvalidArgument{Msg: "unknown symbol " + symbol.String()}
	}
	if limit <= 0 {
		limit = 50
	}
	var resp orderbookResp
	params := url.Values{"category": {string(c.cat)}, "symbol": {native}, "limit": {strconv.Itoa(limit)}}
	if err := restjson.Get(ctx, c.lim, restBase+"/v5/market/orderbook", params, 1, &resp); err != nil {
		return nil, err
	}
	now := time.Now().Unix()
	return &domain.BookDepth{Symbol: symbol, Bids: parseLevels(resp.Result.Bids), Asks: parseLevels(resp.Result.Asks), ExchangeSymbol: native, LastUpdateID: &resp.Result.UpdID, UTC: &now}, nil
}

func parseLevels(raw [][]string) []domain.BidAsk {
	out := make([]domain.BidAsk, 0, len(raw))
	for _, lvl := range raw {
		if len(lvl) != 2 {
			continue
		}
		p, _ := strconv.ParseFloat(lvl[0], 64)
		q, _ := strconv.ParseFloat(lvl[1], 64)
		out = append(out, domain.BidAsk{Price: p, Quantity: q})
	}
	return out
}

type klineResp struct {
	Result struct {
		List [][]string `json:"list"`
	} `json:"result"`
}

func (c *core) getKlines(ctx context.Context, symbol domain.Symbol, limit int) ([]domain.CandleStick, error) {
	native, ok := c.mapper.ToNative(symbol)
	if !ok {
		return nil, domain.ErrInvalidArgument{Msg: "unknown symbol " + symbol.String()}
	}
	if limit <= 0 {
		limit = 200
	}
	var resp klineResp
	params := url.Values{"category": {string(c.cat)}, "symbol": {native}, "interval": {"1"}, "limit": {strconv.Itoa(limit)}}
	if err := restjson.Get(ctx, c.lim, restBase+"/v5/market/kline", params, 1, &resp); err != nil {
		return nil, err
	}
	_, quote, _ := symbol.Split()
	stable := domain.IsStableQuote(quote)
	out := make([]domain.CandleStick, 0, len(resp.Result.List))
	for _, row := range resp.Result.List {
		if len(row) < 6 {
			continue
		}
		openTime, _ := strconv.ParseInt(row[0], 10, 64)
		open, _ := strconv.ParseFloat(row[1], 64)
		high, _ := strconv.ParseFloat(row[2], 64)
		low, _ := strconv.ParseFloat(row[3], 64)
		closeP, _ := strconv.ParseFloat(row[4], 64)
		vol, _ := strconv.ParseFloat(row[5], 64)
		var usdVol *float64
		if stable && len(row) >= 7 {
			if qv, err := strconv.ParseFloat(row[6], 64); err == nil {
				usdVol = &qv
			}
		}
		out = append(out, domain.CandleStick{UTCOpenTime: openTime / 1000, Open: open, High: high, Low: low, Close: closeP, CoinVolume: vol, USDVolume: usdVol})
	}
	return out, nil
}

// --- streaming (shared between spot and linear) ---

type wsMessage struct {
	Topic string          `json:"topic"`
	Type  string          `json:"type"`
	Data  json.RawMessage `json:"data"`
}

func (c *core) start(ctx context.Context, cb connector.Callback, symbols []domain.Symbol, depth int) error {
	if cb == nil {
		return domain.ErrInvalidArgument{Msg: "nil callback"}
	}
	sctx, err := c.stream.Begin(ctx)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.cb = cb
	if depth <= 0 {
		depth = 50
	}
	ws := wsbase.New(wsURL(c.cat), 30*time.Second, 20*time.Second, c.log)
	c.ws = ws
	c.batch = connector.NewBatchMixin(connector.DefaultBatchInterval, connector.ApplierFunc(func(unsub, sub []domain.Symbol) {
		c.applyBatch(unsub, sub, depth)
	}))
	c.mu.Unlock()

	if err := ws.Dial(sctx, c.decode); err != nil {
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
	c.ws, c.batch, c.cb = nil, nil, nil
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

func (c *core) applyBatch(unsub, sub []domain.Symbol, depth int) {
	c.mu.Lock()
	ws := c.ws
	c.mu.Unlock()
	if ws == nil {
		return
	}
	if args := c.topics(unsub, depth); len(args) > 0 {
		c.send(ws, "unsubscribe", args)
	}
	if args := c.topics(sub, depth); len(args) > 0 {
		c.send(ws, "subscribe", args)
	}
}

func (c *core) topics(symbols []domain.Symbol, depth int) []string {
	out := make([]string, 0, len(symbols)*3)
	for _, sym := range symbols {
		native, ok := c.mapper.ToNative(sym)
		if !ok {
			continue
		}
		out = append(out, fmt.Sprintf("orderbook.%d.%s", depth, native), "tickers."+native, "kline.1."+native)
	}
	return out
}

func (c *core) send(ws *wsbase.Client, op string, args []string) {
	frame, err := json.Marshal(map[string]interface{}{"op": op, "args": args})
	if err != nil {
		return
	}
	if err := ws.Send(frame); err != nil {
		c.log.Warn().Err(err).Str("op", op).Msg("bybit: send failed")
	}
}

func (c *core) decode(_ int, data []byte) {
	var msg wsMessage
	if err := json.Unmarshal(data, &msg); err != nil || msg.Topic == "" {
		return
	}
	c.mu.Lock()
	cb := c.cb
	c.mu.Unlock()
	if cb == nil {
		return
	}
	parts := strings.SplitN(msg.Topic, ".", 3)
	if len(parts) < 2 {
		return
	}
	native := parts[len(parts)-1]
	canon, ok := c.mapper.ToCanonical(native)
	if !ok {
		return
	}
	now := time.Now().Unix()
	switch parts[0] {
	case "tickers":
		var raw struct {
			Bid1Price string `json:"bid1Price"`
			Bid1Size  string `json:"bid1Size"`
			Ask1Price string `json:"ask1Price"`
			Ask1Size  string `json:"ask1Size"`
		}
		if err := json.Unmarshal(msg.Data, &raw); err != nil {
			return
		}
		bid, _ := strconv.ParseFloat(raw.Bid1Price, 64)
		bidQty, _ := strconv.ParseFloat(raw.Bid1Size, 64)
		ask, _ := strconv.ParseFloat(raw.Ask1Price, 64)
		askQty, _ := strconv.ParseFloat(raw.Ask1Size, 64)
		if bid == 0 && ask == 0 {
			return
		}
		book := domain.BookTicker{Symbol: canon, BidPrice: bid, BidQty: bidQty, AskPrice: ask, AskQty: askQty, UTC: &now}
		if c.gate.Allow(context.Background(), "book", canon.String()) {
			cb.Handle(&book, nil, nil)
		}
	case "orderbook":
		var raw struct {
			Bids [][]string `json:"b"`
			Asks [][]string `json:"a"`
			Seq  int64      `json:"seq"`
		}
		if err := json.Unmarshal(msg.Data, &raw); err != nil {
			return
		}
		depth := domain.BookDepth{Symbol: canon, Bids: parseLevels(raw.Bids), Asks: parseLevels(raw.Asks), ExchangeSymbol: native, LastUpdateID: &raw.Seq, UTC: &now}
		if c.gate.Allow(context.Background(), "depth", canon.String()) {
			cb.Handle(nil, &depth, nil)
		}
	case "kline":
		var raws []struct {
			Start    int64  `json:"start"`
			Open     string `json:"open"`
			High     string `json:"high"`
			Low      string `json:"low"`
			Close    string `json:"close"`
			Volume   string `json:"volume"`
			Turnover string `json:"turnover"`
			Confirm  bool   `json:"confirm"`
		}
		if err := json.Unmarshal(msg.Data, &raws); err != nil {
			return
		}
		_, quote, _ := canon.Split()
		stable := domain.IsStableQuote(quote)
		for _, raw := range raws {
			if !raw.Confirm {
				continue
			}
			open, _ := strconv.ParseFloat(raw.Open, 64)
			high, _ := strconv.ParseFloat(raw.High, 64)
			low, _ := strconv.ParseFloat(raw.Low, 64)
			closeP, _ := strconv.ParseFloat(raw.Close, 64)
			vol, _ := strconv.ParseFloat(raw.Volume, 64)
			var usdVol *float64
			if stable {
				if qv, err := strconv.ParseFloat(raw.Turnover, 64); err == nil {
					usdVol = &qv
				}
			}
			candle := domain.CandleStick{UTCOpenTime: raw.Start / 1000, Open: open, High: high, Low: low, Close: closeP, CoinVolume: vol, USDVolume: usdVol}
			if c.gate.Allow(context.Background(), "kline", canon.String()) {
				cb.Handle(nil, nil, &candle)
			}
		}
	}
}

// --- Spot ---

type Spot struct{ core }

func NewSpot(lim *ratelimit.Limiter, log zerolog.Logger, g *base.Gate) *Spot {
	return &Spot{core{cat: catSpot, lim: lim, mapper: base.NewMapper(), log: log, gate: g}}
}

func (s *Spot) GetAllTickers(ctx context.Context) ([]domain.Ticker, error) {
	resp, err := s.loadInstruments(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]domain.Ticker, 0, len(resp.Result.List))
	pairs := make(map[domain.Symbol]string, len(resp.Result.List))
	for _, item := range resp.Result.List {
		canon := domain.NewSymbol(item.BaseCoin, item.QuoteCoin)
		pairs[canon] = item.Symbol
		out = append(out, domain.Ticker{Symbol: canon, Base: item.BaseCoin, Quote: item.QuoteCoin, IsSpotEnabled: item.Status == "Trading", ExchangeSymbol: item.Symbol})
	}
	s.mapper.Load(pairs)
	return out, nil
}

func (s *Spot) GetPrice(ctx context.Context, symbol domain.Symbol) (*domain.CurrencyPair, error) {
	return s.getPrice(ctx, symbol)
}
func (s *Spot) GetPairs(ctx context.Context, symbols []domain.Symbol) ([]domain.CurrencyPair, error) {
	return s.getPairs(ctx, symbols)
}
func (s *Spot) GetDepth(ctx context.Context, symbol domain.Symbol, limit int) (*domain.BookDepth, error) {
	return s.getDepth(ctx, symbol, limit)
}
func (s *Spot) GetKlines(ctx context.Context, symbol domain.Symbol, limit int) ([]domain.CandleStick, error) {
	return s.getKlines(ctx, symbol, limit)
}

// GetWithdrawInfo needs Bybit's authenticated asset endpoints, outside
// public ingestion scope.
func (s *Spot) GetWithdrawInfo(ctx context.Context) (map[string][]domain.WithdrawInfo, error) {
	return nil, nil
}
func (s *Spot) Start(ctx context.Context, cb connector.Callback, symbols []domain.Symbol, depth int) error {
	return s.start(ctx, cb, symbols, depth)
}
func (s *Spot) Stop()                                  { s.stop() }
func (s *Spot) Subscribe(symbols []domain.Symbol)      { s.subscribe(symbols) }
func (s *Spot) Unsubscribe(symbols []domain.Symbol)    { s.unsubscribe(symbols) }

// --- Perpetual ---

type Perpetual struct{ core }

func NewPerpetual(lim *ratelimit.Limiter, log zerolog.Logger, g *base.Gate) *Perpetual {
	return &Perpetual{core{cat: catLinear, lim: lim, mapper: base.NewMapper(), log: log, gate: g}}
}

func (p *Perpetual) GetAllPerpetuals(ctx context.Context) ([]domain.PerpetualTicker, error) {
	resp, err := p.loadInstruments(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]domain.PerpetualTicker, 0, len(resp.Result.List))
	pairs := make(map[domain.Symbol]string, len(resp.Result.List))
	for _, item := range resp.Result.List {
		if item.ContractType != "LinearPerpetual" {
			continue
		}
		canon := domain.NewSymbol(item.BaseCoin, item.QuoteCoin)
		pairs[canon] = item.Symbol
		out = append(out, domain.PerpetualTicker{Symbol: canon, Base: item.BaseCoin, Quote: item.QuoteCoin, ExchangeSymbol: item.Symbol, Settlement: item.Settlecoin})
	}
	p.mapper.Load(pairs)
	return out, nil
}

func (p *Perpetual) GetPrice(ctx context.Context, symbol domain.Symbol) (*domain.CurrencyPair, error) {
	return p.getPrice(ctx, symbol)
}
func (p *Perpetual) GetPairs(ctx context.Context, symbols []domain.Symbol) ([]domain.CurrencyPair, error) {
	return p.getPairs(ctx, symbols)
}
func (p *Perpetual) GetDepth(ctx context.Context, symbol domain.Symbol, limit int) (*domain.BookDepth, error) {
	return p.getDepth(ctx, symbol, limit)
}
func (p *Perpetual) GetKlines(ctx context.Context, symbol domain.Symbol, limit int) ([]domain.CandleStick, error) {
	return p.getKlines(ctx, symbol, limit)
}

type fundingResp struct {
	Result struct {
		List []struct {
			Symbol          string `json:"symbol"`
			FundingRate     string `json:"fundingRate"`
			NextFundingTime string `json:"nextFundingTime"`
		} `json:"list"`
	} `json:"result"`
}

func (p *Perpetual) GetFundingRate(ctx context.Context, symbol domain.Symbol) (*domain.FundingRate, error) {
	native, ok := p.mapper.ToNative(symbol)
	if !ok {
		return nil, domain.ErrInvalidArgument{Msg: "unknown symbol " + symbol.String()}
	}
	var resp fundingResp
	if err := restjson.Get(ctx, p.lim, restBase+"/v5/market/tickers", url.Values{"category": {"linear"}, "symbol": {native}}, 1, &resp); err != nil {
		return nil, err
	}
	if len(resp.Result.List) == 0 {
		return nil, fmt.Errorf("bybit perp: no funding data for %s", native)
	}
	item := resp.Result.List[0]
	rate, _ := strconv.ParseFloat(item.FundingRate, 64)
	nextMs, _ := strconv.ParseInt(item.NextFundingTime, 10, 64)
	now := time.Now().Unix()
	return &domain.FundingRate{Symbol: symbol, Rate: rate, NextFundingUTC: nextMs / 1000, UTC: &now}, nil
}

type fundingHistoryResp struct {
	Result struct {
		List []struct {
			FundingRate     string `json:"fundingRate"`
			FundingRateTime string `json:"fundingRateTimestamp"`
		} `json:"list"`
	} `json:"result"`
}

func (p *Perpetual) GetFundingRateHistory(ctx context.Context, symbol domain.Symbol, limit int) ([]domain.FundingRatePoint, error) {
	native, ok := p.mapper.ToNative(symbol)
	if !ok {
		return nil, domain.ErrInvalidArgument{Msg: "unknown symbol " + symbol.String()}
	}
	if limit <= 0 {
		limit = 100
	}
	var resp fundingHistoryResp
	params := url.Values{"category": {"linear"}, "symbol": {native}, "limit": {strconv.Itoa(limit)}}
	if err := restjson.Get(ctx, p.lim, restBase+"/v5/market/funding/history", params, 1, &resp); err != nil {
		return nil, err
	}
	out := make([]domain.FundingRatePoint, 0, len(resp.Result.List))
	for _, item := range resp.Result.List {
		rate, err := strconv.ParseFloat(item.FundingRate, 64)
		if err != nil {
			continue
		}
		ts, _ := strconv.ParseInt(item.FundingRateTime, 10, 64)
		out = append(out, domain.FundingRatePoint{FundingTimeUTC: ts / 1000, Rate: rate})
	}
	return out, nil
}

func (p *Perpetual) Start(ctx context.Context, cb connector.Callback, symbols []domain.Symbol, depth int) error {
	return p.start(ctx, cb, symbols, depth)
}
func (p *Perpetual) Stop()                               { p.stop() }
func (p *Perpetual) Subscribe(symbols []domain.Symbol)   { p.subscribe(symbols) }
func (p *Perpetual) Unsubscribe(symbols []domain.Symbol) { p.unsubscribe(symbols) }

var (
	_ connector.Spot      = (*Spot)(nil)
	_ connector.Perpetual = (*Perpetual)(nil)
)
