// Package binance implements the Binance spot and USDⓈ-M perpetual
// connectors (spec §4.5, §6). Both capability sets share one file because
// they differ only in base URL, stream host, and a couple of endpoint
// paths; the wire protocol (combined-stream WS, SUBSCRIBE/UNSUBSCRIBE
// frames) is identical across the two.
package binance

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
	spotRESTBase = "https://api.binance.com"
	spotWSBase   = "wss://stream.binance.com:9443/stream"
	futRESTBase  = "https://fapi.binance.com"
	futWSBase    = "wss://fstream.binance.com/stream"
)

// --- Spot ---

type Spot struct {
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

func NewSpot(lim *ratelimit.Limiter, log zerolog.Logger, g *base.Gate) *Spot {
	return &Spot{lim: lim, mapper: base.NewMapper(), log: log, gate: g}
}

type exchangeInfoResp struct {
	Symbols []struct {
		Symbol                  string `json:"symbol"`
		BaseAsset               string `json:"baseAsset"`
		QuoteAsset              string `json:"quoteAsset"`
		Status                  string `json:"status"`
		IsSpotTradingAllowed    bool   `json:"isSpotTradingAllowed"`
		IsMarginTradingAllowed  bool   `json:"isMarginTradingAllowed"`
	} `json:"symbols"`
}

func (s *Spot) GetAllTickers(ctx context.Context) ([]domain.Ticker, error) {
	var resp exchangeInfoResp
	if err := restjson.Get(ctx, s.lim, spotRESTBase+"/api/v3/exchangeInfo", nil, 10, &resp); err != nil {
		return nil, fmt.Errorf("binance spot exchangeInfo: %w", err)
	}
	out := make([]domain.Ticker, 0, len(resp.Symbols))
	pairs := make(map[domain.Symbol]string, len(resp.Symbols))
	for _, sym := range resp.Symbols {
		canon := domain.NewSymbol(sym.BaseAsset, sym.QuoteAsset)
		pairs[canon] = sym.Symbol
		out = append(out, domain.Ticker{
			Symbol:          canon,
			Base:            strings.ToUpper(sym.BaseAsset),
			Quote:           strings.ToUpper(sym.QuoteAsset),
			IsSpotEnabled:   sym.Status == "TRADING" && sym.IsSpotTradingAllowed,
			IsMarginEnabled: sym.IsMarginTradingAllowed,
			ExchangeSymbol:  sym.Symbol,
		})
	}
	s.mapper.Load(pairs)
	return out, nil
}

type priceResp struct {
	Symbol string `json:"symbol"`
	Price  string `json:"price"`
}

func (s *Spot) GetPrice(ctx context.Context, symbol domain.Symbol) (*domain.CurrencyPair, error) {
	native, ok := s.mapper.ToNative(symbol)
	if !ok {
		return nil, domain.ErrInvalidArgument{Msg: "unknown symbol " + symbol.String()}
	}
	var resp priceResp
	if err := restjson.Get(ctx, s.lim, spotRESTBase+"/api/v3/ticker/price", url.Values{"symbol": {native}}, 2, &resp); err != nil {
		return nil, err
	}
	ratio, err := strconv.ParseFloat(resp.Price, 64)
	if err != nil {
		return nil, fmt.Errorf("binance spot price parse: %w", err)
	}
	base, quote, _ := symbol.Split()
	now := time.Now().Unix()
	return &domain.CurrencyPair{Base: base, Quote: quote, Ratio: ratio, UTC: &now}, nil
}

func (s *Spot) GetPairs(ctx context.Context, symbols []domain.Symbol) ([]domain.CurrencyPair, error) {
	var resp []priceResp
	if err := restjson.Get(ctx, s.lim, spotRESTBase+"/api/v3/ticker/price", nil, 4, &resp); err != nil {
		return nil, err
	}
	wanted := make(map[string]bool, len(symbols))
	for _, sym := range symbols {
		if n, ok := s.mapper.ToNative(sym); ok {
			wanted[n] = true
		}
	}
	now := time.Now().Unix()
	out := make([]domain.CurrencyPair, 0, len(resp))
	for _, p := range resp {
		if len(wanted) > 0 && !wanted[p.Symbol] {
			continue
		}
		canon, ok := s.mapper.ToCanonical(p.Symbol)
		if !ok {
			continue
		}
		ratio, err := strconv.ParseFloat(p.Price, 64)
		if err != nil {
			continue
		}
		b, q, _ := canon.Split()
		out = append(out, domain.CurrencyPair{Base: b, Quote: q, Ratio: ratio, UTC: &now})
	}
	return out, nil
}

type depthResp struct {
	LastUpdateID int64      `json:"lastUpdateId"`
	Bids         [][]string `json:"bids"`
	Asks         [][]string `json:"asks"`
}

func parseLevels(raw [][]string) []domain.BidAsk {
	out := make([]domain.BidAsk, 0, len(raw))
	for _, lvl := range raw {
		if len(lvl) != 2 {
			continue
		}
		price, _ := strconv.ParseFloat(lvl[0], 64)
		qty, _ := strconv.ParseFloat(lvl[1], 64)
		out = append(out, domain.BidAsk{Price: price, Quantity: qty})
	}
	return out
}

func (s *Spot) GetDepth(ctx context.Context, symbol domain.Symbol, limit int) (*domain.BookDepth, error) {
	native, ok := s.mapper.ToNative(symbol)
	if !ok {
		return nil, domain.ErrInvalidArgument{Msg: "unknown symbol " + symbol.String()}
	}
	if limit <= 0 {
		limit = 100
	}
	var resp depthResp
	params := url.Values{"symbol": {native}, "limit": {strconv.Itoa(limit)}}
	weight := 1
	if limit > 500 {
		weight = 5
	}
	if err := restjson.Get(ctx, s.lim, spotRESTBase+"/api/v3/depth", params, weight, &resp); err != nil {
		return nil, err
	}
	now := time.Now().Unix()
	return &domain.BookDepth{
		Symbol:         symbol,
		Bids:           parseLevels(resp.Bids),
		Asks:           parseLevels(resp.Asks),
		ExchangeSymbol: native,
		LastUpdateID:   &resp.LastUpdateID,
		UTC:            &now,
	}, nil
}

func (s *Spot) GetKlines(ctx context.Context, symbol domain.Symbol, limit int) ([]domain.CandleStick, error) {
	native, ok := s.mapper.ToNative(symbol)
	if !ok {
		return nil, domain.ErrInvalidArgument{Msg: "unknown symbol " + symbol.String()}
	}
	if limit <= 0 {
		limit = 500
	}
	var raw [][]interface{}
	params := url.Values{"symbol": {native}, "interval": {"1m"}, "limit": {strconv.Itoa(limit)}}
	if err := restjson.Get(ctx, s.lim, spotRESTBase+"/api/v3/klines", params, 2, &raw); err != nil {
		return nil, err
	}
	return decodeKlines(raw, symbol), nil
}

func decodeKlines(raw [][]interface{}, symbol domain.Symbol) []domain.CandleStick {
	_, quote, _ := symbol.Split()
	stable := domain.IsStableQuote(quote)
	out := make([]domain.CandleStick, 0, len(raw))
	for _, row := range raw {
		if len(row) < 8 {
			continue
		}
		openTime, _ := row[0].(float64)
		open, _ := strconv.ParseFloat(asStr(row[1]), 64)
		high, _ := strconv.ParseFloat(asStr(row[2]), 64)
		low, _ := strconv.ParseFloat(asStr(row[3]), 64)
		closeP, _ := strconv.ParseFloat(asStr(row[4]), 64)
		vol, _ := strconv.ParseFloat(asStr(row[5]), 64)
		quoteVol, err := strconv.ParseFloat(asStr(row[7]), 64)
		var usdVol *float64
		if err == nil && stable {
			usdVol = &quoteVol
		}
		out = append(out, domain.CandleStick{
			UTCOpenTime: int64(openTime) / 1000,
			Open:        open,
			High:        high,
			Low:         low,
			Close:       closeP,
			CoinVolume:  vol,
			USDVolume:   usdVol,
		})
	}
	return out
}

func asStr(v interface{}) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

// GetWithdrawInfo requires a signed user-data endpoint outside the scope of
// public market-data ingestion; per the Spot contract this is an optional
// accessor and returns (nil, nil).
func (s *Spot) GetWithdrawInfo(ctx context.Context) (map[string][]domain.WithdrawInfo, error) {
	return nil, nil
}

// --- Spot streaming ---

type wsEnvelope struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
}

type wsEvent struct {
	EventType string `json:"e"`
}

func (s *Spot) Start(ctx context.Context, cb connector.Callback, symbols []domain.Symbol, depth int) error {
	if cb == nil {
		return domain.ErrInvalidArgument{Msg: "nil callback"}
	}
	sctx, err := s.stream.Begin(ctx)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.cb = cb
	if depth <= 0 {
		depth = 20
	}
	ws := wsbase.New(spotWSBase, 60*time.Second, 30*time.Second, s.log)
	s.ws = ws
	s.batch = connector.NewBatchMixin(connector.DefaultBatchInterval, connector.ApplierFunc(func(unsub, sub []domain.Symbol) {
		s.applyBatch(unsub, sub, depth)
	}))
	s.mu.Unlock()

	if err := ws.Dial(sctx, s.decode); err != nil {
		s.stream.End()
		return err
	}
	if len(symbols) > 0 {
		s.batch.Subscribe(symbols)
	}
	return nil
}

func (s *Spot) Stop() {
	s.stream.End()
	s.mu.Lock()
	ws := s.ws
	batch := s.batch
	s.ws, s.batch, s.cb = nil, nil, nil
	s.mu.Unlock()
	if batch != nil {
		batch.Cancel()
	}
	if ws != nil {
		ws.Close()
	}
}

func (s *Spot) Subscribe(symbols []domain.Symbol) {
	s.mu.Lock()
	batch := s.batch
	s.mu.Unlock()
	if batch != nil {
		batch.Subscribe(symbols)
	}
}

func (s *Spot) Unsubscribe(symbols []domain.Symbol) {
	s.mu.Lock()
	batch := s.batch
	s.mu.Unlock()
	if batch != nil {
		batch.Unsubscribe(symbols)
	}
}

func (s *Spot) applyBatch(unsub, sub []domain.Symbol, depth int) {
	s.mu.Lock()
	ws := s.ws
	s.mu.Unlock()
	if ws == nil {
		return
	}
	if streams := s.streamNames(unsub, depth); len(streams) > 0 {
		s.send(ws, "UNSUBSCRIBE", streams)
	}
	if streams := s.streamNames(sub, depth); len(streams) > 0 {
		s.send(ws, "SUBSCRIBE", streams)
	}
}

func (s *Spot) streamNames(symbols []domain.Symbol, depth int) []string {
	out := make([]string, 0, len(symbols)*3)
	for _, sym := range symbols {
		native, ok := s.mapper.ToNative(sym)
		if !ok {
			continue
		}
		lower := strings.ToLower(native)
		out = append(out, lower+"@bookTicker", fmt.Sprintf("%s@depth%d@100ms", lower, depth), lower+"@kline_1m")
	}
	return out
}

func (s *Spot) send(ws *wsbase.Client, method string, params []string) {
	frame, err := json.Marshal(map[string]interface{}{"method": method, "params": params, "id": time.Now().UnixNano()})
	if err != nil {
		return
	}
	if err := ws.Send(frame); err != nil {
		s.log.Warn().Err(err).Str("method", method).Msg("binance spot: send failed")
	}
}

func (s *Spot) decode(_ int, data []byte) {
	var env wsEnvelope
	if err := json.Unmarshal(data, &env); err != nil || len(env.Data) == 0 {
		return
	}
	var ev wsEvent
	if err := json.Unmarshal(env.Data, &ev); err != nil {
		return
	}
	s.mu.Lock()
	cb := s.cb
	s.mu.Unlock()
	if cb == nil {
		return
	}
	switch ev.EventType {
	case "bookTicker":
		var raw struct {
			Symbol   string `json:"s"`
			BidPrice string `json:"b"`
			BidQty   string `json:"B"`
			AskPrice string `json:"a"`
			AskQty   string `json:"A"`
			UpdateID int64  `json:"u"`
		}
		if err := json.Unmarshal(env.Data, &raw); err != nil {
			return
		}
		canon, ok := s.mapper.ToCanonical(raw.Symbol)
		if !ok {
			return
		}
		bid, _ := strconv.ParseFloat(raw.BidPrice, 64)
		bidQty, _ := strconv.ParseFloat(raw.BidQty, 64)
		ask, _ := strconv.ParseFloat(raw.AskPrice, 64)
		askQty, _ := strconv.ParseFloat(raw.AskQty, 64)
		now := time.Now().Unix()
		book := domain.BookTicker{Symbol: canon, BidPrice: bid, BidQty: bidQty, AskPrice: ask, AskQty: askQty, LastUpdateID: &raw.UpdateID, UTC: &now}
		if s.gate.Allow(context.Background(), "book", canon.String()) {
			cb.Handle(&book, nil, nil)
		}
	case "depthUpdate":
		var raw struct {
			Symbol string     `json:"s"`
			Bids   [][]string `json:"b"`
			Asks   [][]string `json:"a"`
			Final  int64      `json:"u"`
		}
		if err := json.Unmarshal(env.Data, &raw); err != nil {
			return
		}
		canon, ok := s.mapper.ToCanonical(raw.Symbol)
		if !ok {
			return
		}
		now := time.Now().Unix()
		depth := domain.BookDepth{Symbol: canon, Bids: parseLevels(raw.Bids), Asks: parseLevels(raw.Asks), ExchangeSymbol: raw.Symbol, LastUpdateID: &raw.Final, UTC: &now}
		if s.gate.Allow(context.Background(), "depth", canon.String()) {
			cb.Handle(nil, &depth, nil)
		}
	case "kline":
		var raw struct {
			Symbol string `json:"s"`
			Kline  struct {
				OpenTime int64  `json:"t"`
				Open     string `json:"o"`
				High     string `json:"h"`
				Low      string `json:"l"`
				Close    string `json:"c"`
				Volume   string `json:"v"`
				QuoteVol string `json:"q"`
				Closed   bool   `json:"x"`
			} `json:"k"`
		}
		if err := json.Unmarshal(env.Data, &raw); err != nil || !raw.Kline.Closed {
			return
		}
		open, _ := strconv.ParseFloat(raw.Kline.Open, 64)
		high, _ := strconv.ParseFloat(raw.Kline.High, 64)
		low, _ := strconv.ParseFloat(raw.Kline.Low, 64)
		closeP, _ := strconv.ParseFloat(raw.Kline.Close, 64)
		vol, _ := strconv.ParseFloat(raw.Kline.Volume, 64)
		quoteVol, err := strconv.ParseFloat(raw.Kline.QuoteVol, 64)
		var usdVol *float64
		if canon, ok := s.mapper.ToCanonical(raw.Symbol); err == nil && ok {
			if _, quote, ok2 := canon.Split(); ok2 && domain.IsStableQuote(quote) {
				usdVol = &quoteVol
			}
		}
		candle := domain.CandleStick{UTCOpenTime: raw.Kline.OpenTime / 1000, Open: open, High: high, Low: low, Close: closeP, CoinVolume: vol, USDVolume: usdVol}
		if s.gate.Allow(context.Background(), "kline", env.Stream) {
			cb.Handle(nil, nil, &candle)
		}
	}
}

// --- Perpetual ---

type Perpetual struct {
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

func NewPerpetual(lim *ratelimit.Limiter, log zerolog.Logger, g *base.Gate) *Perpetual {
	return &Perpetual{lim: lim, mapper: base.NewMapper(), log: log, gate: g}
}

type futExchangeInfoResp struct {
	Symbols []struct {
		Symbol        string `json:"symbol"`
		BaseAsset     string `json:"baseAsset"`
		QuoteAsset    string `json:"quoteAsset"`
		MarginAsset   string `json:"marginAsset"`
		Status        string `json:"status"`
		ContractType  string `json:"contractType"`
	} `json:"symbols"`
}

func (p *Perpetual) GetAllPerpetuals(ctx context.Context) ([]domain.PerpetualTicker, error) {
	var resp futExchangeInfoResp
	if err := restjson.Get(ctx, p.lim, futRESTBase+"/fapi/v1/exchangeInfo", nil, 1, &resp); err != nil {
		return nil, fmt.Errorf("binance perp exchangeInfo: %w", err)
	}
	out := make([]domain.PerpetualTicker, 0, len(resp.Symbols))
	pairs := make(map[domain.Symbol]string, len(resp.Symbols))
	for _, sym := range resp.Symbols {
		if sym.ContractType != "PERPETUAL" || sym.Status != "TRADING" {
			continue
		}
		canon := domain.NewSymbol(sym.BaseAsset, sym.QuoteAsset)
		pairs[canon] = sym.Symbol
		out = append(out, domain.PerpetualTicker{Symbol: canon, Base: sym.BaseAsset, Quote: sym.QuoteAsset, ExchangeSymbol: sym.Symbol, Settlement: sym.MarginAsset})
	}
	p.mapper.Load(pairs)
	return out, nil
}

func (p *Perpetual) GetPrice(ctx context.Context, symbol domain.Symbol) (*domain.CurrencyPair, error) {
	native, ok := p.mapper.ToNative(symbol)
	if !ok {
		return nil, domain.ErrInvalidArgument{Msg: "unknown symbol " + symbol.String()}
	}
	var resp priceResp
	if err := restjson.Get(ctx, p.lim, futRESTBase+"/fapi/v1/ticker/price", url.Values{"symbol": {native}}, 1, &resp); err != nil {
		return nil, err
	}
	ratio, err := strconv.ParseFloat(resp.Price, 64)
	if err != nil {
		return nil, fmt.Errorf("binance perp price parse: %w", err)
	}
	base, quote, _ := symbol.Split()
	now := time.Now().Unix()
	return &domain.CurrencyPair{Base: base, Quote: quote, Ratio: ratio, UTC: &now}, nil
}

func (p *Perpetual) GetPairs(ctx context.Context, symbols []domain.Symbol) ([]domain.CurrencyPair, error) {
	var resp []priceResp
	if err := restjson.Get(ctx, p.lim, futRESTBase+"/fapi/v1/ticker/price", nil, 2, &resp); err != nil {
		return nil, err
	}
	wanted := make(map[string]bool, len(symbols))
	for _, sym := range symbols {
		if n, ok := p.mapper.ToNative(sym); ok {
			wanted[n] = true
		}
	}
	now := time.Now().Unix()
	out := make([]domain.CurrencyPair, 0, len(resp))
	for _, item := range resp {
		if len(wanted) > 0 && !wanted[item.Symbol] {
			continue
		}
		canon, ok := p.mapper.ToCanonical(item.Symbol)
		if !ok {
			continue
		}
		ratio, err := strconv.ParseFloat(item.Price, 64)
		if err != nil {
			continue
		}
		b, q, _ := canon.Split()
		out = append(out, domain.CurrencyPair{Base: b, Quote: q, Ratio: ratio, UTC: &now})
	}
	return out, nil
}

func (p *Perpetual) GetDepth(ctx context.Context, symbol domain.Symbol, limit int) (*domain.BookDepth, error) {
	native, ok := p.mapper.ToNative(symbol)
	if !ok {
		return nil, domain.ErrInvalidArgument{Msg: "unknown symbol " + symbol.String()}
	}
	if limit <= 0 {
		limit = 100
	}
	var resp depthResp
	if err := restjson.Get(ctx, p.lim, futRESTBase+"/fapi/v1/depth", url.Values{"symbol": {native}, "limit": {strconv.Itoa(limit)}}, 2, &resp); err != nil {
		return nil, err
	}
	now := time.Now().Unix()
	return &domain.BookDepth{Symbol: symbol, Bids: parseLevels(resp.Bids), Asks: parseLevels(resp.Asks), ExchangeSymbol: native, LastUpdateID: &resp.LastUpdateID, UTC: &now}, nil
}

func (p *Perpetual) GetKlines(ctx context.Context, symbol domain.Symbol, limit int) ([]domain.CandleStick, error) {
	native, ok := p.mapper.ToNative(symbol)
	if !ok {
		return nil, domain.ErrInvalidArgument{Msg: "unknown symbol " + symbol.String()}
	}
	if limit <= 0 {
		limit = 500
	}
	var raw [][]interface{}
	params := url.Values{"symbol": {native}, "interval": {"1m"}, "limit": {strconv.Itoa(limit)}}
	if err := restjson.Get(ctx, p.lim, futRESTBase+"/fapi/v1/klines", params, 1, &raw); err != nil {
		return nil, err
	}
	return decodeKlines(raw, symbol), nil
}

type premiumIndexResp struct {
	Symbol          string `json:"symbol"`
	LastFundingRate string `json:"lastFundingRate"`
	NextFundingTime int64  `json:"nextFundingTime"`
	MarkPrice       string `json:"markPrice"`
}

func (p *Perpetual) GetFundingRate(ctx context.Context, symbol domain.Symbol) (*domain.FundingRate, error) {
	native, ok := p.mapper.ToNative(symbol)
	if !ok {
		return nil, domain.ErrInvalidArgument{Msg: "unknown symbol " + symbol.String()}
	}
	var resp premiumIndexResp
	if err := restjson.Get(ctx, p.lim, futRESTBase+"/fapi/v1/premiumIndex", url.Values{"symbol": {native}}, 1, &resp); err != nil {
		return nil, err
	}
	rate, _ := strconv.ParseFloat(resp.LastFundingRate, 64)
	mark, err := strconv.ParseFloat(resp.MarkPrice, 64)
	var markPtr *float64
	if err == nil {
		markPtr = &mark
	}
	now := time.Now().Unix()
	return &domain.FundingRate{Symbol: symbol, Rate: rate, NextFundingUTC: resp.NextFundingTime / 1000, IndexPrice: markPtr, UTC: &now}, nil
}

type fundingHistoryItem struct {
	FundingTime int64  `json:"fundingTime"`
	FundingRate string `json:"fundingRate"`
}

func (p *Perpetual) GetFundingRateHistory(ctx context.Context, symbol domain.Symbol, limit int) ([]domain.FundingRatePoint, error) {
	native, ok := p.mapper.ToNative(symbol)
	if !ok {
		return nil, domain.ErrInvalidArgument{Msg: "unknown symbol " + symbol.String()}
	}
	if limit <= 0 {
		limit = 100
	}
	var resp []fundingHistoryItem
	params := url.Values{"symbol": {native}, "limit": {strconv.Itoa(limit)}}
	if err := restjson.Get(ctx, p.lim, futRESTBase+"/fapi/v1/fundingRate", params, 1, &resp); err != nil {
		return nil, err
	}
	out := make([]domain.FundingRatePoint, 0, len(resp))
	for _, item := range resp {
		rate, err := strconv.ParseFloat(item.FundingRate, 64)
		if err != nil {
			continue
		}
		out = append(out, domain.FundingRatePoint{FundingTimeUTC: item.FundingTime / 1000, Rate: rate})
	}
	return out, nil
}

func (p *Perpetual) Start(ctx context.Context, cb connector.Callback, symbols []domain.Symbol, depth int) error {
	if cb == nil {
		return domain.ErrInvalidArgument{Msg: "nil callback"}
	}
	sctx, err := p.stream.Begin(ctx)
	if err != nil {
		return err
	}
	p.mu.Lock()
	p.cb = cb
	if depth <= 0 {
		depth = 20
	}
	ws := wsbase.New(futWSBase, 60*time.Second, 30*time.Second, p.log)
	p.ws = ws
	p.batch = connector.NewBatchMixin(connector.DefaultBatchInterval, connector.ApplierFunc(func(unsub, sub []domain.Symbol) {
		p.applyBatch(unsub, sub, depth)
	}))
	p.mu.Unlock()

	if err := ws.Dial(sctx, p.decode); err != nil {
		p.stream.End()
		return err
	}
	if len(symbols) > 0 {
		p.batch.Subscribe(symbols)
	}
	return nil
}

func (p *Perpetual) Stop() {
	p.stream.End()
	p.mu.Lock()
	ws := p.ws
	batch := p.batch
	p.ws, p.batch, p.cb = nil, nil, nil
	p.mu.Unlock()
	if batch != nil {
		batch.Cancel()
	}
	if ws != nil {
		ws.Close()
	}
}

func (p *Perpetual) Subscribe(symbols []domain.Symbol) {
	p.mu.Lock()
	batch := p.batch
	p.mu.Unlock()
	if batch != nil {
		batch.Subscribe(symbols)
	}
}

func (p *Perpetual) Unsubscribe(symbols []domain.Symbol) {
	p.mu.Lock()
	batch := p.batch
	p.mu.Unlock()
	if batch != nil {
		batch.Unsubscribe(symbols)
	}
}

func (p *Perpetual) applyBatch(unsub, sub []domain.Symbol, depth int) {
	p.mu.Lock()
	ws := p.ws
	p.mu.Unlock()
	if ws == nil {
		return
	}
	if streams := p.streamNames(unsub, depth); len(streams) > 0 {
		p.send(ws, "UNSUBSCRIBE", streams)
	}
	if streams := p.streamNames(sub, depth); len(streams) > 0 {
		p.send(ws, "SUBSCRIBE", streams)
	}
}

func (p *Perpetual) streamNames(symbols []domain.Symbol, depth int) []string {
	out := make([]string, 0, len(symbols)*3)
	for _, sym := range symbols {
		native, ok := p.mapper.ToNative(sym)
		if !ok {
			continue
		}
		lower := strings.ToLower(native)
		out = append(out, lower+"@bookTicker", fmt.Sprintf("%s@depth%d@100ms", lower, depth), lower+"@kline_1m")
	}
	return out
}

func (p *Perpetual) send(ws *wsbase.Client, method string, params []string) {
	frame, err := json.Marshal(map[string]interface{}{"method": method, "params": params, "id": time.Now().UnixNano()})
	if err != nil {
		return
	}
	if err := ws.Send(frame); err != nil {
		p.log.Warn().Err(err).Str("method", method).Msg("binance perp: send failed")
	}
}

func (p *Perpetual) decode(_ int, data []byte) {
	var env wsEnvelope
	if err := json.Unmarshal(data, &env); err != nil || len(env.Data) == 0 {
		return
	}
	var ev wsEvent
	if err := json.Unmarshal(env.Data, &ev); err != nil {
		return
	}
	p.mu.Lock()
	cb := p.cb
	p.mu.Unlock()
	if cb == nil {
		return
	}
	switch ev.EventType {
	case "bookTicker":
		var raw struct {
			Symbol   string `json:"s"`
			BidPrice string `json:"b"`
			BidQty   string `json:"B"`
			AskPrice string `json:"a"`
			AskQty   string `json:"A"`
			UpdateID int64  `json:"u"`
		}
		if err := json.Unmarshal(env.Data, &raw); err != nil {
			return
		}
		canon, ok := p.mapper.ToCanonical(raw.Symbol)
		if !ok {
			return
		}
		bid, _ := strconv.ParseFloat(raw.BidPrice, 64)
		bidQty, _ := strconv.ParseFloat(raw.BidQty, 64)
		ask, _ := strconv.ParseFloat(raw.AskPrice, 64)
		askQty, _ := strconv.ParseFloat(raw.AskQty, 64)
		now := time.Now().Unix()
		book := domain.BookTicker{Symbol: canon, BidPrice: bid, BidQty: bidQty, AskPrice: ask, AskQty: askQty, LastUpdateID: &raw.UpdateID, UTC: &now}
		if p.gate.Allow(context.Background(), "book", canon.String()) {
			cb.Handle(&book, nil, nil)
		}
	case "depthUpdate":
		var raw struct {
			Symbol string     `json:"s"`
			Bids   [][]string `json:"b"`
			Asks   [][]string `json:"a"`
			Final  int64      `json:"u"`
		}
		if err := json.Unmarshal(env.Data, &raw); err != nil {
			return
		}
		canon, ok := p.mapper.ToCanonical(raw.Symbol)
		if !ok {
			return
		}
		now := time.Now().Unix()
		depth := domain.BookDepth{Symbol: canon, Bids: parseLevels(raw.Bids), Asks: parseLevels(raw.Asks), ExchangeSymbol: raw.Symbol, LastUpdateID: &raw.Final, UTC: &now}
		if p.gate.Allow(context.Background(), "depth", canon.String()) {
			cb.Handle(nil, &depth, nil)
		}
	case "kline":
		var raw struct {
			Symbol string `json:"s"`
			Kline  struct {
				OpenTime int64  `json:"t"`
				Open     string `json:"o"`
				High     string `json:"h"`
				Low      string `json:"l"`
				Close    string `json:"c"`
				Volume   string `json:"v"`
				QuoteVol string `json:"q"`
				Closed   bool   `json:"x"`
			} `json:"k"`
		}
		if err := json.Unmarshal(env.Data, &raw); err != nil || !raw.Kline.Closed {
			return
		}
		open, _ := strconv.ParseFloat(raw.Kline.Open, 64)
		high, _ := strconv.ParseFloat(raw.Kline.High, 64)
		low, _ := strconv.ParseFloat(raw.Kline.Low, 64)
		closeP, _ := strconv.ParseFloat(raw.Kline.Close, 64)
		vol, _ := strconv.ParseFloat(raw.Kline.Volume, 64)
		quoteVol, err := strconv.ParseFloat(raw.Kline.QuoteVol, 64)
		var usdVol *float64
		if canon, ok := p.mapper.ToCanonical(raw.Symbol); err == nil && ok {
			if _, quote, ok2 := canon.Split(); ok2 && domain.IsStableQuote(quote) {
				usdVol = &quoteVol
			}
		}
		candle := domain.CandleStick{UTCOpenTime: raw.Kline.OpenTime / 1000, Open: open, High: high, Low: low, Close: closeP, CoinVolume: vol, USDVolume: usdVol}
		if p.gate.Allow(context.Background(), "kline", env.Stream) {
			cb.Handle(nil, nil, &candle)
		}
	}
}

var (
	_ connector.Spot      = (*Spot)(nil)
	_ connector.Perpetual = (*Perpetual)(nil)
)
