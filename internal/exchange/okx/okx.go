// Package okx implements the OKX spot and linear-perpetual ("SWAP")
// connectors. Like Bybit, OKX's v5 API distinguishes product lines with a
// single instType parameter, so one core serves both capability sets.
package okx

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
	restBase = "https://www.okx.com"
	wsPublic = "wss://ws.okx.com:8443/ws/v5/public"
)

type instType string

const (
	typeSpot instType = "SPOT"
	typeSwap instType = "SWAP"
)

type core struct {
	it     instType
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

type instrumentsEnvelope struct {
	Data []struct {
		InstID   string `json:"instId"`
		BaseCcy  string `json:"baseCcy"`
		QuoteCcy string `json:"quoteCcy"`
		CtValCcy string `json:"ctValCcy"`
		SettleCcy string `json:"settleCcy"`
		State    string `json:"state"`
		CtType   string `json:"ctType"`
	} `json:"data"`
}

func (c *core) loadInstruments(ctx context.Context) (*instrumentsEnvelope, error) {
	var resp instrumentsEnvelope
	err := restjson.Get(ctx, c.lim, restBase+"/api/v5/public/instruments", url.Values{"instType": {string(c.it)}}, 1, &resp)
	return &resp, err
}

type tickerEnvelope struct {
	Data []struct {
		InstID  string `json:"instId"`
		Last    string `json:"last"`
		BidPx   string `json:"bidPx"`
		BidSz   string `json:"bidSz"`
		AskPx   string `json:"askPx"`
		AskSz   string `json:"askSz"`
		TS      string `json:"ts"`
	} `json:"data"`
}

func (c *core) getPrice(ctx context.Context, symbol domain.Symbol) (*domain.CurrencyPair, error) {
	native, ok := c.mapper.ToNative(symbol)
	if !ok {
		return nil, domain.ErrInvalidArgument{Msg: "unknown symbol " + symbol.String()}
	}
	var resp tickerEnvelope
	if err := restjson.Get(ctx, c.lim, restBase+"/api/v5/market/ticker", url.Values{"instId": {native}}, 1, &resp); err != nil {
		return nil, err
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("okx %s: no ticker for %s", c.it, native)
	}
	ratio, err := strconv.ParseFloat(resp.Data[0].Last, 64)
	if err != nil {
		return nil, err
	}
	b, q, _ := symbol.Split()
	now := time.Now().Unix()
	return &domain.CurrencyPair{Base: b, Quote: q, Ratio: ratio, UTC: &now}, nil
}

func (c *core) getPairs(ctx context.Context, symbols []domain.Symbol) ([]domain.CurrencyPair, error) {
	var resp tickerEnvelope
	if err := restjson.Get(ctx, c.lim, restBase+"/api/v5/market/tickers", url.Values{"instType": {string(c.it)}}, 1, &resp); err != nil {
		return nil, err
	}
	wanted := make(map[string]bool, len(symbols))
	for _, s := range symbols {
		if n, ok := c.mapper.ToNative(s); ok {
			wanted[n] = true
		}
	}
	out := make([]domain.CurrencyPair, 0, len(resp.Data))
	for _, item := range resp.Data {
		if len(wanted) > 0 && !wanted[item.InstID] {
			continue
		}
		canon, ok := c.mapper.ToCanonical(item.InstID)
		if !ok {
			continue
		}
		ratio, err := strconv.ParseFloat(item.Last, 64)
		if err != nil {
			continue
		}
		ms, _ := strconv.ParseInt(item.TS, 10, 64)
		ms /= 1000
		b, q, _ := canon.Split()
		out = append(out, domain.CurrencyPair{Base: b, Quote: q, Ratio: ratio, UTC: &ms})
	}
	return out, nil
}

type booksEnvelope struct {
	Data []struct {
		Asks [][]string `json:"asks"`
		Bids [][]string `json:"bids"`
		TS   string     `json:"ts"`
	} `json:"data"`
}

func parseLevels(raw [][]string) []domain.BidAsk {
	out := make([]domain.BidAsk, 0, len(raw))
	for _, lvl := range raw {
		if len(lvl) < 2 {
			continue
		}
		p, _ := strconv.ParseFloat(lvl[0], 64)
		q, _ := strconv.ParseFloat(lvl[1], 64)
		out = append(out, domain.BidAsk{Price: p, Quantity: q})
	}
	return out
}

func (c *core) getDepth(ctx context.Context, symbol domain.Symbol, limit int) (*domain.BookDepth, error) {
	native, ok := c.mapper.ToNative(symbol)
	if !ok {
		return nil, domain.ErrInvalidArgument{Msg: "unknown symbol " + symbol.String()}
	}
	if limit <= 0 {
		limit = 50
	}
	var resp booksEnvelope
	params := url.Values{"instId": {native}, "sz": {strconv.Itoa(limit)}}
	if err := restjson.Get(ctx, c.lim, restBase+"/api/v5/market/books", params, 1, &resp); err != nil {
		return nil, err
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("okx %s: empty book for %s", c.it, native)
	}
	ms, _ := strconv.ParseInt(resp.Data[0].TS, 10, 64)
	ms /= 1000
	return &domain.BookDepth{Symbol: symbol, Bids: parseLevels(resp.Data[0].Bids), Asks: parseLevels(resp.Data[0].Asks), ExchangeSymbol: native, UTC: &ms}, nil
}

type candlesEnvelope struct {
	Data [][]string `json:"data"`
}

func (c *core) getKlines(ctx context.Context, symbol domain.Symbol, limit int) ([]domain.CandleStick, error) {
	native, ok := c.mapper.ToNative(symbol)
	if !ok {
		return nil, domain.ErrInvalidArgument{Msg: "unknown symbol " + symbol.String()}
	}
	if limit <= 0 {
		limit = 100
	}
	var resp candlesEnvelope
	params := url.Values{"instId": {native}, "bar": {"1m"}, "limit": {strconv.Itoa(limit)}}
	if err := restjson.Get(ctx, c.lim, restBase+"/api/v5/market/candles", params, 1, &resp); err != nil {
		return nil, err
	}
	_, quote, _ := symbol.Split()
	stable := domain.IsStableQuote(quote)
	out := make([]domain.CandleStick, 0, len(resp.Data))
	for _, row := range resp.Data {
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
		if stable && len(row) >= 8 {
			if qv, err := strconv.ParseFloat(row[7], 64); err == nil {
				usdVol = &qv
			}
		}
		out = append(out, domain.CandleStick{UTCOpenTime: openTime / 1000, Open: open, High: high, Low: low, Close: closeP, CoinVolume: vol, USDVolume: usdVol})
	}
	return out, nil
}

// --- streaming ---

type wsArg struct {
	Channel string `json:"channel"`
	InstID  string `json:"instId"`
}

type wsMessage struct {
	Arg  wsArg           `json:"arg"`
	Data json.RawMessage `json:"data"`
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
	ws := wsbase.New(wsPublic, 30*time.Second, 20*time.Second, c.log)
	c.ws = ws
	c.batch = connector.NewBatchMixin(connector.DefaultBatchInterval, connector.ApplierFunc(c.applyBatch))
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

func (c *core) subscribe(symbols []domain.Symbol)   { c.armed().Subscribe(symbols) }
func (c *core) unsubscribe(symbols []domain.Symbol) { c.armed().Unsubscribe(symbols) }

func (c *core) armed() *connector.BatchMixin {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.batch
}

func (c *core) applyBatch(unsub, sub []domain.Symbol) {
	c.mu.Lock()
	ws := c.ws
	c.mu.Unlock()
	if ws == nil {
		return
	}
	if args := c.args(unsub); len(args) > 0 {
		c.send(ws, "unsubscribe", args)
	}
	if args := c.args(sub); len(args) > 0 {
		c.send(ws, "subscribe", args)
	}
}

func (c *core) args(symbols []domain.Symbol) []wsArg {
	out := make([]wsArg, 0, len(symbols)*3)
	for _, sym := range symbols {
		native, ok := c.mapper.ToNative(sym)
		if !ok {
			continue
		}
		out = append(out, wsArg{Channel: "bbo-tbt", InstID: native}, wsArg{Channel: "books5", InstID: native}, wsArg{Channel: "candle1m", InstID: native})
	}
	return out
}

func (c *core) send(ws *wsbase.Client, op string, args []wsArg) {
	frame, err := json.Marshal(map[string]interface{}{"op": op, "args": args})
	if err != nil {
		return
	}
	if err := ws.Send(frame); err != nil {
		c.log.Warn().Err(err).Str("op", op).Msg("okx: send failed")
	}
}

func (c *core) decode(_ int, data []byte) {
	var msg wsMessage
	if err := json.Unmarshal(data, &msg); err != nil || msg.Arg.Channel == "" || len(msg.Data) == 0 {
		return
	}
	c.mu.Lock()
	cb := c.cb
	c.mu.Unlock()
	if cb == nil {
		return
	}
	canon, ok := c.mapper.ToCanonical(msg.Arg.InstID)
	if !ok {
		return
	}
	switch {
	case msg.Arg.Channel == "bbo-tbt":
		var raws []struct {
			Bids [][]string `json:"bids"`
			Asks [][]string `json:"asks"`
			TS   string     `json:"ts"`
		}
		if err := json.Unmarshal(msg.Data, &raws); err != nil || len(raws) == 0 {
			return
		}
		raw := raws[0]
		if len(raw.Bids) == 0 || len(raw.Asks) == 0 {
			return
		}
		bid, _ := strconv.ParseFloat(raw.Bids[0][0], 64)
		bidQty, _ := strconv.ParseFloat(raw.Bids[0][1], 64)
		ask, _ := strconv.ParseFloat(raw.Asks[0][0], 64)
		askQty, _ := strconv.ParseFloat(raw.Asks[0][1], 64)
		ms, _ := strconv.ParseInt(raw.TS, 10, 64)
		ms /= 1000
		book := domain.BookTicker{Symbol: canon, BidPrice: bid, BidQty: bidQty, AskPrice: ask, AskQty: askQty, UTC: &ms}
		if c.gate.Allow(context.Background(), "book", canon.String()) {
			cb.Handle(&book, nil, nil)
		}
	case msg.Arg.Channel == "books5":
		var raws []struct {
			Bids [][]string `json:"bids"`
			Asks [][]string `json:"asks"`
			TS   string     `json:"ts"`
		}
		if err := json.Unmarshal(msg.Data, &raws); err != nil || len(raws) == 0 {
			return
		}
		raw := raws[0]
		ms, _ := strconv.ParseInt(raw.TS, 10, 64)
		ms /= 1000
		depth := domain.BookDepth{Symbol: canon, Bids: parseLevels(raw.Bids), Asks: parseLevels(raw.Asks), ExchangeSymbol: msg.Arg.InstID, UTC: &ms}
		if c.gate.Allow(context.Background(), "depth", canon.String()) {
			cb.Handle(nil, &depth, nil)
		}
	case strings.HasPrefix(msg.Arg.Channel, "candle"):
		var rows [][]string
		if err := json.Unmarshal(msg.Data, &rows); err != nil {
			return
		}
		_, quote, _ := canon.Split()
		stable := domain.IsStableQuote(quote)
		for _, row := range rows {
			if len(row) < 9 || row[8] != "1" {
				continue // confirm flag: only closed candles
			}
			openTime, _ := strconv.ParseInt(row[0], 10, 64)
			open, _ := strconv.ParseFloat(row[1], 64)
			high, _ := strconv.ParseFloat(row[2], 64)
			low, _ := strconv.ParseFloat(row[3], 64)
			closeP, _ := strconv.ParseFloat(row[4], 64)
			vol, _ := strconv.ParseFloat(row[5], 64)
			var usdVol *float64
			if stable {
				if qv, err := strconv.ParseFloat(row[7], 64); err == nil {
					usdVol = &qv
				}
			}
			if c.gate.Allow(context.Background(), "kline", canon.String()) {
				cb.Handle(nil, nil, &domain.CandleStick{UTCOpenTime: openTime / 1000, Open: open, High: high, Low: low, Close: closeP, CoinVolume: vol, USDVolume: usdVol})
			}
		}
	}
}

// --- Spot ---

type Spot struct{ core }

func NewSpot(lim *ratelimit.Limiter, log zerolog.Logger, g *base.Gate) *Spot {
	return &Spot{core{it: typeSpot, lim: lim, mapper: base.NewMapper(), log: log, gate: g}}
}

func (s *Spot) GetAllTickers(ctx context.Context) ([]domain.Ticker, error) {
	resp, err := s.loadInstruments(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]domain.Ticker, 0, len(resp.Data))
	pairs := make(map[domain.Symbol]string, len(resp.Data))
	for _, item := range resp.Data {
		canon := domain.NewSymbol(item.BaseCcy, item.QuoteCcy)
		pairs[canon] = item.InstID
		out = append(out, domain.Ticker{Symbol: canon, Base: item.BaseCcy, Quote: item.QuoteCcy, IsSpotEnabled: item.State == "live", ExchangeSymbol: item.InstID})
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

// GetWithdrawInfo requires OKX's authenticated funding/asset endpoints.
func (s *Spot) GetWithdrawInfo(ctx context.Context) (map[string][]domain.WithdrawInfo, error) {
	return nil, nil
}
func (s *Spot) Start(ctx context.Context, cb connector.Callback, symbols []domain.Symbol, depth int) error {
	return s.start(ctx, cb, symbols, depth)
}
func (s *Spot) Stop()                               { s.stop() }
func (s *Spot) Subscribe(symbols []domain.Symbol)   { s.subscribe(symbols) }
func (s *Spot) Unsubscribe(symbols []domain.Symbol) { s.unsubscribe(symbols) }

// --- Perpetual (OKX "SWAP") ---

type Perpetual struct{ core }

func NewPerpetual(lim *ratelimit.Limiter, log zerolog.Logger, g *base.Gate) *Perpetual {
	return &Perpetual{core{it: typeSwap, lim: lim, mapper: base.NewMapper(), log: log, gate: g}}
}

func (p *Perpetual) GetAllPerpetuals(ctx context.Context) ([]domain.PerpetualTicker, error) {
	resp, err := p.loadInstruments(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]domain.PerpetualTicker, 0, len(resp.Data))
	pairs := make(map[domain.Symbol]string, len(resp.Data))
	for _, item := range resp.Data {
		if item.CtType != "linear" {
			continue
		}
		canon := domain.NewSymbol(item.CtValCcy, item.SettleCcy)
		pairs[canon] = item.InstID
		out = append(out, domain.PerpetualTicker{Symbol: canon, Base: item.CtValCcy, Quote: item.SettleCcy, ExchangeSymbol: item.InstID, Settlement: item.SettleCcy})
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

type fundingRateEnvelope struct {
	Data []struct {
		FundingRate     string `json:"fundingRate"`
		NextFundingTime string `json:"nextFundingTime"`
		FundingTime     string `json:"fundingTime"`
	} `json:"data"`
}

func (p *Perpetual) GetFundingRate(ctx context.Context, symbol domain.Symbol) (*domain.FundingRate, error) {
	native, ok := p.mapper.ToNative(symbol)
	if !ok {
		return nil, domain.ErrInvalidArgument{Msg: "unknown symbol " + symbol.String()}
	}
	var resp fundingRateEnvelope
	if err := restjson.Get(ctx, p.lim, restBase+"/api/v5/public/funding-rate", url.Values{"instId": {native}}, 1, &resp); err != nil {
		return nil, err
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("okx perp: no funding data for %s", native)
	}
	rate, _ := strconv.ParseFloat(resp.Data[0].FundingRate, 64)
	next, _ := strconv.ParseInt(resp.Data[0].NextFundingTime, 10, 64)
	now := time.Now().Unix()
	return &domain.FundingRate{Symbol: symbol, Rate: rate, NextFundingUTC: next / 1000, UTC: &now}, nil
}

type fundingHistoryEnvelope struct {
	Data []struct {
		FundingRate string `json:"fundingRate"`
		FundingTime string `json:"fundingTime"`
	} `json:"data"`
}

func (p *Perpetual) GetFundingRateHistory(ctx context.Context, symbol domain.Symbol, limit int) ([]domain.FundingRatePoint, error) {
	native, ok := p.mapper.ToNative(symbol)
	if !ok {
		return nil, domain.ErrInvalidArgument{Msg: "unknown symbol " + symbol.String()}
	}
	if limit <= 0 {
		limit = 100
	}
	var resp fundingHistoryEnvelope
	params := url.Values{"instId": {native}, "limit": {strconv.Itoa(limit)}}
	if err := restjson.Get(ctx, p.lim, restBase+"/api/v5/public/funding-rate-history", params, 1, &resp); err != nil {
		return nil, err
	}
	out := make([]domain.FundingRatePoint, 0, len(resp.Data))
	for _, item := range resp.Data {
		rate, err := strconv.ParseFloat(item.FundingRate, 64)
		if err != nil {
			continue
		}
		ts, _ := strconv.ParseInt(item.FundingTime, 10, 64)
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
