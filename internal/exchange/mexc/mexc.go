// Package mexc implements the MEXC spot and linear-perpetual connectors.
// MEXC's public websocket exposes book-ticker and incremental-depth
// channels for both product lines but no minute-candle channel (spec
// §4.5/§6); candles are only ever pulled by REST polling here, never
// streamed.
package mexc

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
	spotRESTBase = "https://api.mexc.com"
	spotWSBase   = "wss://wbs.mexc.com/ws"
	futRESTBase  = "https://contract.mexc.com"
	futWSBase    = "wss://contract.mexc.com/edge"
)

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

type core struct {
	wsURL  string
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

func (c *core) start(ctx context.Context, cb connector.Callback, symbols []domain.Symbol, topicsFn func([]domain.Symbol) []string, decode wsbase.Decoder) error {
	if cb == nil {
		return domain.ErrInvalidArgument{Msg: "nil callback"}
	}
	sctx, err := c.stream.Begin(ctx)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.cb = cb
	ws := wsbase.New(c.wsURL, 30*time.Second, 15*time.Second, c.log)
	c.ws = ws
	c.batch = connector.NewBatchMixin(connector.DefaultBatchInterval, connector.ApplierFunc(func(unsub, sub []domain.Symbol) {
		c.applyBatch(unsub, sub, topicsFn)
	}))
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

func (c *core) applyBatch(unsub, sub []domain.Symbol, topicsFn func([]domain.Symbol) []string) {
	c.mu.Lock()
	ws := c.ws
	c.mu.Unlock()
	if ws == nil {
		return
	}
	if t := topicsFn(unsub); len(t) > 0 {
		c.send(ws, "UNSUBSCRIPTION", t)
	}
	if t := topicsFn(sub); len(t) > 0 {
		c.send(ws, "SUBSCRIPTION", t)
	}
}

func (c *core) send(ws *wsbase.Client, method string, params []string) {
	frame, err := json.Marshal(map[string]interface{}{"method": method, "params": params})
	if err != nil {
		return
	}
	if err := ws.Send(frame); err != nil {
		c.log.Warn().Err(err).Str("method", method).Msg("mexc: send failed")
	}
}

// --- Spot ---

type Spot struct{ core }

func NewSpot(lim *ratelimit.Limiter, log zerolog.Logger, g *base.Gate) *Spot {
	return &Spot{core{wsURL: spotWSBase, lim: lim, mapper: base.NewMapper(), log: log, gate: g}}
}

type spotExchangeInfoResp struct {
	Symbols []struct {
		Symbol     string `json:"symbol"`
		BaseAsset  string `json:"baseAsset"`
		QuoteAsset string `json:"quoteAsset"`
		Status     string `json:"status"`
		IsSpotTradingAllowed bool `json:"isSpotTradingAllowed"`
	} `json:"symbols"`
}

func (s *Spot) GetAllTickers(ctx context.Context) ([]domain.Ticker, error) {
	var resp spotExchangeInfoResp
	if err := restjson.Get(ctx, s.lim, spotRESTBase+"/api/v3/exchangeInfo", nil, 10, &resp); err != nil {
		return nil, err
	}
	out := make([]domain.Ticker, 0, len(resp.Symbols))
	pairs := make(map[domain.Symbol]string, len(resp.Symbols))
	for _, item := range resp.Symbols {
		canon := domain.NewSymbol(item.BaseAsset, item.QuoteAsset)
		pairs[canon] = item.Symbol
		out = append(out, domain.Ticker{Symbol: canon, Base: item.BaseAsset, Quote: item.QuoteAsset, IsSpotEnabled: item.Status == "ENABLED" && item.IsSpotTradingAllowed, ExchangeSymbol: item.Symbol})
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
	if err := restjson.Get(ctx, s.lim, spotRESTBase+"/api/v3/ticker/price", url.Values{"symbol": {native}}, 1, &resp); err != nil {
		return nil, err
	}
	ratio, err := strconv.ParseFloat(resp.Price, 64)
	if err != nil {
		return nil, err
	}
	b, q, _ := symbol.Split()
	now := time.Now().Unix()
	return &domain.CurrencyPair{Base: b, Quote: q, Ratio: ratio, UTC: &now}, nil
}

func (s *Spot) GetPairs(ctx context.Context, symbols []domain.Symbol) ([]domain.CurrencyPair, error) {
	var resp []priceResp
	if err := restjson.Get(ctx, s.lim, spotRESTBase+"/api/v3/ticker/price", nil, 1, &resp); err != nil {
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
	for _, item := range resp {
		if len(wanted) > 0 && !wanted[item.Symbol] {
			continue
		}
		canon, ok := s.mapper.ToCanonical(item.Symbol)
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

type depthResp struct {
	LastUpdateID int64      `json:"lastUpdateId"`
	Bids         [][]string `json:"bids"`
	Asks         [][]string `json:"asks"`
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
	if err := restjson.Get(ctx, s.lim, spotRESTBase+"/api/v3/depth", url.Values{"symbol": {native}, "limit": {strconv.Itoa(limit)}}, 1, &resp); err != nil {
		return nil, err
	}
	now := time.Now().Unix()
	return &domain.BookDepth{Symbol: symbol, Bids: parseLevels(resp.Bids), Asks: parseLevels(resp.Asks), ExchangeSymbol: native, LastUpdateID: &resp.LastUpdateID, UTC: &now}, nil
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
	if err := restjson.Get(ctx, s.lim, spotRESTBase+"/api/v3/klines", params, 1, &raw); err != nil {
		return nil, err
	}
	_, quote, _ := symbol.Split()
	stable := domain.IsStableQuote(quote)
	out := make([]domain.CandleStick, 0, len(raw))
	for _, row := range raw {
		if len(row) < 6 {
			continue
		}
		openTime, _ := row[0].(float64)
		open, _ := strconv.ParseFloat(fmt.Sprint(row[1]), 64)
		high, _ := strconv.ParseFloat(fmt.Sprint(row[2]), 64)
		low, _ := strconv.ParseFloat(fmt.Sprint(row[3]), 64)
		closeP, _ := strconv.ParseFloat(fmt.Sprint(row[4]), 64)
		vol, _ := strconv.ParseFloat(fmt.Sprint(row[5]), 64)
		var usdVol *float64
		if stable && len(row) >= 8 {
			if qv, err := strconv.ParseFloat(fmt.Sprint(row[7]), 64); err == nil {
				usdVol = &qv
			}
		}
		out = append(out, domain.CandleStick{UTCOpenTime: int64(openTime) / 1000, Open: open, High: high, Low: low, Close: closeP, CoinVolume: vol, USDVolume: usdVol})
	}
	return out, nil
}

// GetWithdrawInfo requires MEXC's authenticated capital-config endpoint.
func (s *Spot) GetWithdrawInfo(ctx context.Context) (map[string][]domain.WithdrawInfo, error) {
	return nil, nil
}

func (s *Spot) topics(symbols []domain.Symbol) []string {
	out := make([]string, 0, len(symbols)*2)
	for _, sym := range symbols {
		native, ok := s.mapper.ToNative(sym)
		if !ok {
			continue
		}
		out = append(out, "spot@public.bookTicker.v3.api@"+native, "spot@public.increase.depth.v3.api@"+native)
	}
	return out
}

type spotWSFrame struct {
	Channel string          `json:"c"`
	Symbol  string          `json:"s"`
	Data    json.RawMessage `json:"d"`
}

func (s *Spot) decode(_ int, data []byte) {
	var frame spotWSFrame
	if err := json.Unmarshal(data, &frame); err != nil || frame.Channel == "" {
		return
	}
	s.mu.Lock()
	cb := s.cb
	s.mu.Unlock()
	if cb == nil {
		return
	}
	canon, ok := s.mapper.ToCanonical(frame.Symbol)
	if !ok {
		return
	}
	now := time.Now().Unix()
	switch {
	case strings.Contains(frame.Channel, "bookTicker"):
		var raw struct {
			BidPrice string `json:"b"`
			BidQty   string `json:"B"`
			AskPrice string `json:"a"`
			AskQty   string `json:"A"`
		}
		if err := json.Unmarshal(frame.Data, &raw); err != nil {
			return
		}
		bid, _ := strconv.ParseFloat(raw.BidPrice, 64)
		bidQty, _ := strconv.ParseFloat(raw.BidQty, 64)
		ask, _ := strconv.ParseFloat(raw.AskPrice, 64)
		askQty, _ := strconv.ParseFloat(raw.AskQty, 64)
		book := domain.BookTicker{Symbol: canon, BidPrice: bid, BidQty: bidQty, AskPrice: ask, AskQty: askQty, UTC: &now}
		if s.gate.Allow(context.Background(), "book", canon.String()) {
			cb.Handle(&book, nil, nil)
		}
	case strings.Contains(frame.Channel, "depth"):
		var raw struct {
			Bids [][]string `json:"bids"`
			Asks [][]string `json:"asks"`
			R    int64      `json:"r,string"`
		}
		if err := json.Unmarshal(frame.Data, &raw); err != nil {
			return
		}
		depth := domain.BookDepth{Symbol: canon, Bids: parseLevels(raw.Bids), Asks: parseLevels(raw.Asks), ExchangeSymbol: frame.Symbol, LastUpdateID: &raw.R, UTC: &now}
		if s.gate.Allow(context.Background(), "depth", canon.String()) {
			cb.Handle(nil, &depth, nil)
		}
	}
}

func (s *Spot) Start(ctx context.Context, cb connector.Callback, symbols []domain.Symbol, depth int) error {
	return s.start(ctx, cb, symbols, s.topics, s.decode)
}
func (s *Spot) Stop()                               { s.stop() }
func (s *Spot) Subscribe(symbols []domain.Symbol)   { s.subscribe(symbols) }
func (s *Spot) Unsubscribe(symbols []domain.Symbol) { s.unsubscribe(symbols) }

// --- Perpetual ---

type Perpetual struct{ core }

func NewPerpetual(lim *ratelimit.Limiter, log zerolog.Logger, g *base.Gate) *Perpetual {
	return &Perpetual{core{wsURL: futWSBase, lim: lim, mapper: base.NewMapper(), log: log, gate: g}}
}

type futContractsResp struct {
	Data []struct {
		Symbol     string `json:"symbol"`
		BaseCoin   string `json:"baseCoin"`
		QuoteCoin  string `json:"quoteCoin"`
		State      int    `json:"state"`
	} `json:"data"`
}

func (p *Perpetual) GetAllPerpetuals(ctx context.Context) ([]domain.PerpetualTicker, error) {
	var resp futContractsResp
	if err := restjson.Get(ctx, p.lim, futRESTBase+"/api/v1/contract/detail", nil, 1, &resp); err != nil {
		return nil, err
	}
	out := make([]domain.PerpetualTicker, 0, len(resp.Data))
	pairs := make(map[domain.Symbol]string, len(resp.Data))
	for _, item := range resp.Data {
		if item.State != 0 {
			continue
		}
		canon := domain.NewSymbol(item.BaseCoin, item.QuoteCoin)
		pairs[canon] = item.Symbol
		out = append(out, domain.PerpetualTicker{Symbol: canon, Base: item.BaseCoin, Quote: item.QuoteCoin, ExchangeSymbol: item.Symbol, Settlement: item.QuoteCoin})
	}
	p.mapper.Load(pairs)
	return out, nil
}

type futTickerResp struct {
	Data struct {
		Symbol     string  `json:"symbol"`
		LastPrice  float64 `json:"lastPrice"`
		Bid1       float64 `json:"bid1"`
		Ask1       float64 `json:"ask1"`
		Timestamp  int64   `json:"timestamp"`
	} `json:"data"`
}

func (p *Perpetual) GetPrice(ctx context.Context, symbol domain.Symbol) (*domain.CurrencyPair, error) {
	native, ok := p.mapper.ToNative(symbol)
	if !ok {
		return nil, domain.ErrInvalidArgument{Msg: "unknown symbol " + symbol.String()}
	}
	var resp futTickerResp
	if err := restjson.Get(ctx, p.lim, futRESTBase+"/api/v1/contract/ticker", url.Values{"symbol": {native}}, 1, &resp); err != nil {
		return nil, err
	}
	b, q, _ := symbol.Split()
	resp.Data.Timestamp /= 1000
	return &domain.CurrencyPair{Base: b, Quote: q, Ratio: resp.Data.LastPrice, UTC: &resp.Data.Timestamp}, nil
}

type futTickersResp struct {
	Data []struct {
		Symbol    string  `json:"symbol"`
		LastPrice float64 `json:"lastPrice"`
		Timestamp int64   `json:"timestamp"`
	} `json:"data"`
}

func (p *Perpetual) GetPairs(ctx context.Context, symbols []domain.Symbol) ([]domain.CurrencyPair, error) {
	var resp futTickersResp
	if err := restjson.Get(ctx, p.lim, futRESTBase+"/api/v1/contract/ticker", nil, 1, &resp); err != nil {
		return nil, err
	}
	wanted := make(map[string]bool, len(symbols))
	for _, sym := range symbols {
		if n, ok := p.mapper.ToNative(sym); ok {
			wanted[n] = true
		}
	}
	out := make([]domain.CurrencyPair, 0, len(resp.Data))
	for _, item := range resp.Data {
		if len(wanted) > 0 && !wanted[item.Symbol] {
			continue
		}
		canon, ok := p.mapper.ToCanonical(item.Symbol)
		if !ok {
			continue
		}
		b, q, _ := canon.Split()
		ts := item.Timestamp / 1000
		out = append(out, domain.CurrencyPair{Base: b, Quote: q, Ratio: item.LastPrice, UTC: &ts})
	}
	return out, nil
}

type futDepthResp struct {
	Data struct {
		Bids [][]float64 `json:"bids"`
		Asks [][]float64 `json:"asks"`
		Ts   int64       `json:"ts"`
	} `json:"data"`
}

func (p *Perpetual) GetDepth(ctx context.Context, symbol domain.Symbol, limit int) (*domain.BookDepth, error) {
	native, ok := p.mapper.ToNative(symbol)
	if !ok {
		return nil, domain.ErrInvalidArgument{Msg: "unknown symbol " + symbol.String()}
	}
	var resp futDepthResp
	if err := restjson.Get(ctx, p.lim, futRESTBase+"/api/v1/contract/depth/"+native, nil, 1, &resp); err != nil {
		return nil, err
	}
	toLevels := func(raw [][]float64) []domain.BidAsk {
		out := make([]domain.BidAsk, 0, len(raw))
		for _, lvl := range raw {
			if len(lvl) < 2 {
				continue
			}
			out = append(out, domain.BidAsk{Price: lvl[0], Quantity: lvl[1]})
		}
		return out
	}
	resp.Data.Ts /= 1000
	return &domain.BookDepth{Symbol: symbol, Bids: toLevels(resp.Data.Bids), Asks: toLevels(resp.Data.Asks), ExchangeSymbol: native, UTC: &resp.Data.Ts}, nil
}

type futKlineResp struct {
	Data struct {
		Time   []int64   `json:"time"`
		Open   []float64 `json:"open"`
		Close  []float64 `json:"close"`
		High   []float64 `json:"high"`
		Low    []float64 `json:"low"`
		Vol    []float64 `json:"vol"`
		Amount []float64 `json:"amount"`
	} `json:"data"`
}

func (p *Perpetual) GetKlines(ctx context.Context, symbol domain.Symbol, limit int) ([]domain.CandleStick, error) {
	native, ok := p.mapper.ToNative(symbol)
	if !ok {
		return nil, domain.ErrInvalidArgument{Msg: "unknown symbol " + symbol.String()}
	}
	var resp futKlineResp
	if err := restjson.Get(ctx, p.lim, futRESTBase+"/api/v1/contract/kline/"+native, url.Values{"interval": {"Min1"}}, 1, &resp); err != nil {
		return nil, err
	}
	_, quote, _ := symbol.Split()
	stable := domain.IsStableQuote(quote)
	n := len(resp.Data.Time)
	out := make([]domain.CandleStick, 0, n)
	for i := 0; i < n; i++ {
		var usdVol *float64
		if stable && i < len(resp.Data.Amount) {
			v := resp.Data.Amount[i]
			usdVol = &v
		}
		out = append(out, domain.CandleStick{UTCOpenTime: resp.Data.Time[i], Open: resp.Data.Open[i], High: resp.Data.High[i], Low: resp.Data.Low[i], Close: resp.Data.Close[i], CoinVolume: resp.Data.Vol[i], USDVolume: usdVol})
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

type futFundingResp struct {
	Data struct {
		FundingRate     float64 `json:"fundingRate"`
		NextSettleTime  int64   `json:"nextSettleTime"`
	} `json:"data"`
}

func (p *Perpetual) GetFundingRate(ctx context.Context, symbol domain.Symbol) (*domain.FundingRate, error) {
	native, ok := p.mapper.ToNative(symbol)
	if !ok {
		return nil, domain.ErrInvalidArgument{Msg: "unknown symbol " + symbol.String()}
	}
	var resp futFundingResp
	if err := restjson.Get(ctx, p.lim, futRESTBase+"/api/v1/contract/funding_rate/"+native, nil, 1, &resp); err != nil {
		return nil, err
	}
	now := time.Now().Unix()
	return &domain.FundingRate{Symbol: symbol, Rate: resp.Data.FundingRate, NextFundingUTC: resp.Data.NextSettleTime / 1000, UTC: &now}, nil
}

type futFundingHistoryResp struct {
	Data struct {
		ResultList []struct {
			FundingRate float64 `json:"fundingRate"`
			SettleTime  int64   `json:"settleTime"`
		} `json:"resultList"`
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
	var resp futFundingHistoryResp
	params := url.Values{"symbol": {native}, "page_size": {strconv.Itoa(limit)}}
	if err := restjson.Get(ctx, p.lim, futRESTBase+"/api/v1/contract/funding_rate/history", params, 1, &resp); err != nil {
		return nil, err
	}
	out := make([]domain.FundingRatePoint, 0, len(resp.Data.ResultList))
	for _, item := range resp.Data.ResultList {
		out = append(out, domain.FundingRatePoint{FundingTimeUTC: item.SettleTime / 1000, Rate: item.FundingRate})
	}
	return out, nil
}

func (p *Perpetual) topics(symbols []domain.Symbol) []string {
	out := make([]string, 0, len(symbols)*2)
	for _, sym := range symbols {
		native, ok := p.mapper.ToNative(sym)
		if !ok {
			continue
		}
		out = append(out, "sub.ticker:"+native, "sub.depth:"+native)
	}
	return out
}

// MEXC futures names the channel in a dotted method ("sub.ticker",
// "unsub.depth") and takes one {method,param} frame per pair rather than a
// list of topic strings.
func (p *Perpetual) applyBatchFut(unsub, sub []domain.Symbol) {
	p.mu.Lock()
	ws := p.ws
	p.mu.Unlock()
	if ws == nil {
		return
	}
	send := func(op string, symbols []domain.Symbol) {
		for _, sym := range symbols {
			native, ok := p.mapper.ToNative(sym)
			if !ok {
				continue
			}
			frame, _ := json.Marshal(map[string]interface{}{"method": op, "param": map[string]string{"symbol": native}})
			if err := p.ws.Send(frame); err != nil {
				p.log.Warn().Err(err).Str("op", op).Msg("mexc perp: send failed")
			}
		}
	}
	send("unsub.ticker", unsub)
	send("unsub.depth", unsub)
	send("sub.ticker", sub)
	send("sub.depth", sub)
}

type futWSFrame struct {
	Channel string          `json:"channel"`
	Data    json.RawMessage `json:"data"`
	Symbol  string          `json:"symbol"`
	Ts      int64           `json:"ts"`
}

func (p *Perpetual) decode(_ int, data []byte) {
	var frame futWSFrame
	if err := json.Unmarshal(data, &frame); err != nil || frame.Channel == "" {
		return
	}
	p.mu.Lock()
	cb := p.cb
	p.mu.Unlock()
	if cb == nil {
		return
	}
	canon, ok := p.mapper.ToCanonical(frame.Symbol)
	if !ok {
		return
	}
	switch frame.Channel {
	case "push.ticker":
		var raw struct {
			Bid1 float64 `json:"bid1"`
			Ask1 float64 `json:"ask1"`
		}
		if err := json.Unmarshal(frame.Data, &raw); err != nil {
			return
		}
		frame.Ts /= 1000
		book := domain.BookTicker{Symbol: canon, BidPrice: raw.Bid1, AskPrice: raw.Ask1, UTC: &frame.Ts}
		if p.gate.Allow(context.Background(), "book", canon.String()) {
			cb.Handle(&book, nil, nil)
		}
	case "push.depth":
		var raw struct {
			Bids [][]float64 `json:"bids"`
			Asks [][]float64 `json:"asks"`
		}
		if err := json.Unmarshal(frame.Data, &raw); err != nil {
			return
		}
		toLevels := func(rows [][]float64) []domain.BidAsk {
			out := make([]domain.BidAsk, 0, len(rows))
			for _, r := range rows {
				if len(r) < 2 {
					continue
				}
				out = append(out, domain.BidAsk{Price: r[0], Quantity: r[1]})
			}
			return out
		}
		frame.Ts /= 1000
		depth := domain.BookDepth{Symbol: canon, Bids: toLevels(raw.Bids), Asks: toLevels(raw.Asks), ExchangeSymbol: frame.Symbol, UTC: &frame.Ts}
		if p.gate.Allow(context.Background(), "depth", canon.String()) {
			cb.Handle(nil, &depth, nil)
		}
	}
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
	ws := wsbase.New(p.wsURL, 30*time.Second, 15*time.Second, p.log)
	p.ws = ws
	p.batch = connector.NewBatchMixin(connector.DefaultBatchInterval, connector.ApplierFunc(p.applyBatchFut))
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
func (p *Perpetual) Stop()                               { p.stop() }
func (p *Perpetual) Subscribe(symbols []domain.Symbol)   { p.subscribe(symbols) }
func (p *Perpetual) Unsubscribe(symbols []domain.Symbol) { p.unsubscribe(symbols) }

var (
	_ connector.Spot      = (*Spot)(nil)
	_ connector.Perpetual = (*Perpetual)(nil)
)
