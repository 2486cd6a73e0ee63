// Package kucoin implements the KuCoin spot and futures connectors.
// Two things make KuCoin's wire protocol stand apart from the rest of the
// pack (spec §4.5/§6): its public WS endpoint is not static — a client
// must first POST /bullet-public to obtain a short-lived token and server
// list before dialing — and its legacy ticker symbol for Bitcoin is "XBT"
// rather than "BTC", so the symbol mapper carries an explicit translation.
package kucoin

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
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
	spotRESTBase = "https://api.kucoin.com"
	futRESTBase  = "https://api-futures.kucoin.com"
)

// nativeAlias maps the handful of canonical base assets KuCoin spells
// differently on the wire.
var nativeAlias = map[string]string{"BTC": "XBT"}

func toNativeAsset(base string) string {
	if alias, ok := nativeAlias[strings.ToUpper(base)]; ok {
		return alias
	}
	return strings.ToUpper(base)
}

func fromNativeAsset(native string) string {
	for canon, alias := range nativeAlias {
		if alias == strings.ToUpper(native) {
			return canon
		}
	}
	return strings.ToUpper(native)
}

type core struct {
	restBase string
	lim      *ratelimit.Limiter
	mapper   *base.Mapper
	stream   base.StreamState
	log      zerolog.Logger
	gate     *base.Gate

	mu    sync.Mutex
	ws    *wsbase.Client
	batch *connector.BatchMixin
	cb    connector.Callback
}

type bulletResp struct {
	Data struct {
		Token           string `json:"token"`
		InstanceServers []struct {
			Endpoint     string `json:"endpoint"`
			PingInterval int    `json:"pingInterval"`
		} `json:"instanceServers"`
	} `json:"data"`
}

// bullet fetches a fresh WS endpoint+token. This is a plain (unweighted)
// POST outside the sliding-window limiter, matching KuCoin's own docs
// which exclude bullet calls from the REST rate budget.
func bullet(ctx context.Context, restBase string) (wsURL string, pingEvery time.Duration, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, restBase+"/api/v1/bullet-public", bytes.NewReader(nil))
	if err != nil {
		return "", 0, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", 0, fmt.Errorf("kucoin bullet-public: %w", err)
	}
	defer resp.Body.Close()
	var out bulletResp
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", 0, fmt.Errorf("kucoin bullet-public decode: %w", err)
	}
	if len(out.Data.InstanceServers) == 0 {
		return "", 0, fmt.Errorf("kucoin bullet-public: no instance servers")
	}
	srv := out.Data.InstanceServers[0]
	pingEvery = time.Duration(srv.PingInterval) * time.Millisecond
	return fmt.Sprintf("%s?token=%s", srv.Endpoint, out.Data.Token), pingEvery, nil
}

type tickerEnvelope struct {
	Data struct {
		Ticker []struct {
			Symbol string `json:"symbol"`
			Buy    string `json:"buy"`
			Sell   string `json:"sell"`
			Last   string `json:"last"`
		} `json:"ticker"`
	} `json:"data"`
}

func (c *core) getPairs(ctx context.Context, endpoint string, symbols []domain.Symbol) ([]domain.CurrencyPair, error) {
	var resp tickerEnvelope
	if err := restjson.Get(ctx, c.lim, c.restBase+endpoint, nil, 1, &resp); err != nil {
		return nil, err
	}
	wanted := make(map[string]bool, len(symbols))
	for _, s := range symbols {
		if n, ok := c.mapper.ToNative(s); ok {
			wanted[n] = true
		}
	}
	now := time.Now().Unix()
	out := make([]domain.CurrencyPair, 0, len(resp.Data.Ticker))
	for _, item := range resp.Data.Ticker {
		if len(wanted) > 0 && !wanted[item.Symbol] {
			continue
		}
		canon, ok := c.mapper.ToCanonical(item.Symbol)
		if !ok {
			continue
		}
		ratio, err := strconv.ParseFloat(item.Last, 64)
		if err != nil {
			continue
		}
		b, q, _ := canon.Split()
		out = append(out, domain.CurrencyPair{Base: b, Quote: q, Ratio: ratio, UTC: &now})
	}
	return out, nil
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

// --- streaming shared across spot/futures topics ---

type wsMessage struct {
	Type    string          `json:"type"`
	Topic   string          `json:"topic"`
	Subject string          `json:"subject"`
	Data    json.RawMessage `json:"data"`
}

func (c *core) start(ctx context.Context, cb connector.Callback, symbols []domain.Symbol, topicsFn func([]domain.Symbol) []string, decode wsbase.Decoder) error {
	if cb == nil {
		return domain.ErrInvalidArgument{Msg: "nil callback"}
	}
	sctx, err := c.stream.Begin(ctx)
	if err != nil {
		return err
	}
	wsURL, pingEvery, err := bullet(sctx, c.restBase)
	if err != nil {
		c.stream.End()
		return err
	}
	c.mu.Lock()
	c.cb = cb
	ws := wsbase.New(wsURL, pingEvery*2, pingEvery, c.log)
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
	for _, t := range topicsFn(unsub) {
		c.send(ws, "unsubscribe", t)
	}
	for _, t := range topicsFn(sub) {
		c.send(ws, "subscribe", t)
	}
}

func (c *core) send(ws *wsbase.Client, msgType, topic string) {
	frame, err := json.Marshal(map[string]interface{}{
		"id": time.Now().UnixNano(), "type": msgType, "topic": topic, "privateChannel": false, "response": true,
	})
	if err != nil {
		return
	}
	if err := ws.Send(frame); err != nil {
		c.log.Warn().Err(err).Str("topic", topic).Msg("kucoin: send failed")
	}
}

// --- Spot ---

type Spot struct{ core }

func NewSpot(lim *ratelimit.Limiter, log zerolog.Logger, g *base.Gate) *Spot {
	return &Spot{core{restBase: spotRESTBase, lim: lim, mapper: base.NewMapper(), log: log, gate: g}}
}

type spotSymbolsResp struct {
	Data []struct {
		Symbol      string `json:"symbol"`
		BaseCurrency  string `json:"baseCurrency"`
		QuoteCurrency string `json:"quoteCurrency"`
		EnableTrading bool   `json:"enableTrading"`
		IsMarginEnabled bool `json:"isMarginEnabled"`
	} `json:"data"`
}

func (s *Spot) GetAllTickers(ctx context.Context) ([]domain.Ticker, error) {
	var resp spotSymbolsResp
	if err := restjson.Get(ctx, s.lim, spotRESTBase+"/api/v2/symbols", nil, 1, &resp); err != nil {
		return nil, err
	}
	out := make([]domain.Ticker, 0, len(resp.Data))
	pairs := make(map[domain.Symbol]string, len(resp.Data))
	for _, item := range resp.Data {
		canon := domain.NewSymbol(fromNativeAsset(item.BaseCurrency), fromNativeAsset(item.QuoteCurrency))
		pairs[canon] = item.Symbol
		out = append(out, domain.Ticker{Symbol: canon, Base: fromNativeAsset(item.BaseCurrency), Quote: fromNativeAsset(item.QuoteCurrency), IsSpotEnabled: item.EnableTrading, IsMarginEnabled: item.IsMarginEnabled, ExchangeSymbol: item.Symbol})
	}
	s.mapper.Load(pairs)
	return out, nil
}

func (s *Spot) GetPrice(ctx context.Context, symbol domain.Symbol) (*domain.CurrencyPair, error) {
	native, ok := s.mapper.ToNative(symbol)
	if !ok {
		return nil, domain.ErrInvalidArgument{Msg: "unknown symbol " + symbol.String()}
	}
	var resp struct {
		Data struct {
			Price string `json:"price"`
		} `json:"data"`
	}
	if err := restjson.Get(ctx, s.lim, spotRESTBase+"/api/v1/market/orderbook/level1", url.Values{"symbol": {native}}, 1, &resp); err != nil {
		return nil, err
	}
	ratio, err := strconv.ParseFloat(resp.Data.Price, 64)
	if err != nil {
		return nil, err
	}
	b, q, _ := symbol.Split()
	now := time.Now().Unix()
	return &domain.CurrencyPair{Base: b, Quote: q, Ratio: ratio, UTC: &now}, nil
}

func (s *Spot) GetPairs(ctx context.Context, symbols []domain.Symbol) ([]domain.CurrencyPair, error) {
	return s.getPairs(ctx, "/api/v1/market/allTickers", symbols)
}

func (s *Spot) GetDepth(ctx context.Context, symbol domain.Symbol, limit int) (*domain.BookDepth, error) {
	native, ok := s.mapper.ToNative(symbol)
	if !ok {
		return nil, domain.ErrInvalidArgument{Msg: "unknown symbol " + symbol.String()}
	}
	var resp struct {
		Data struct {
			Bids [][]string `json:"bids"`
			Asks [][]string `json:"asks"`
			Time int64      `json:"time"`
		} `json:"data"`
	}
	if err := restjson.Get(ctx, s.lim, spotRESTBase+"/api/v3/market/orderbook/level2_100", url.Values{"symbol": {native}}, 2, &resp); err != nil {
		return nil, err
	}
	resp.Data.Time /= 1000
	return &domain.BookDepth{Symbol: symbol, Bids: parseLevels(resp.Data.Bids), Asks: parseLevels(resp.Data.Asks), ExchangeSymbol: native, UTC: &resp.Data.Time}, nil
}

func (s *Spot) GetKlines(ctx context.Context, symbol domain.Symbol, limit int) ([]domain.CandleStick, error) {
	native, ok := s.mapper.ToNative(symbol)
	if !ok {
		return nil, domain.ErrInvalidArgument{Msg: "unknown symbol " + symbol.String()}
	}
	var rows [][]string
	params := url.Values{"symbol": {native}, "type": {"1min"}}
	var resp struct {
		Data [][]string `json:"data"`
	}
	if err := restjson.Get(ctx, s.lim, spotRESTBase+"/api/v1/market/candles", params, 1, &resp); err != nil {
		return nil, err
	}
	rows = resp.Data
	_, quote, _ := symbol.Split()
	stable := domain.IsStableQuote(quote)
	out := make([]domain.CandleStick, 0, len(rows))
	for _, row := range rows {
		if len(row) < 6 {
			continue
		}
		openTime, _ := strconv.ParseInt(row[0], 10, 64)
		open, _ := strconv.ParseFloat(row[1], 64)
		closeP, _ := strconv.ParseFloat(row[2], 64)
		high, _ := strconv.ParseFloat(row[3], 64)
		low, _ := strconv.ParseFloat(row[4], 64)
		vol, _ := strconv.ParseFloat(row[5], 64)
		var usdVol *float64
		if stable && len(row) >= 7 {
			if qv, err := strconv.ParseFloat(row[6], 64); err == nil {
				usdVol = &qv
			}
		}
		out = append(out, domain.CandleStick{UTCOpenTime: openTime, Open: open, High: high, Low: low, Close: closeP, CoinVolume: vol, USDVolume: usdVol})
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

// GetWithdrawInfo requires KuCoin's authenticated currency endpoints.
func (s *Spot) GetWithdrawInfo(ctx context.Context) (map[string][]domain.WithdrawInfo, error) {
	return nil, nil
}

func (s *Spot) topics(symbols []domain.Symbol) []string {
	out := make([]string, 0, len(symbols))
	natives := make([]string, 0, len(symbols))
	for _, sym := range symbols {
		if n, ok := s.mapper.ToNative(sym); ok {
			natives = append(natives, n)
		}
	}
	if len(natives) == 0 {
		return out
	}
	joined := strings.Join(natives, ",")
	return []string{"/market/ticker:" + joined, "/market/level2Depth5:" + joined, "/market/candles:" + joined + "_1min"}
}

func (s *Spot) decode(_ int, data []byte) {
	var msg wsMessage
	if err := json.Unmarshal(data, &msg); err != nil || msg.Type != "message" {
		return
	}
	s.mu.Lock()
	cb := s.cb
	s.mu.Unlock()
	if cb == nil {
		return
	}
	parts := strings.SplitN(msg.Topic, ":", 2)
	if len(parts) != 2 {
		return
	}
	native := parts[1]
	if idx := strings.Index(native, "_"); idx > 0 && strings.HasPrefix(parts[0], "/market/candles") {
		native = native[:idx]
	}
	canon, ok := s.mapper.ToCanonical(native)
	if !ok {
		return
	}
	switch parts[0] {
	case "/market/ticker":
		var raw struct {
			BestBid    string `json:"bestBid"`
			BestBidSize string `json:"bestBidSize"`
			BestAsk    string `json:"bestAsk"`
			BestAskSize string `json:"bestAskSize"`
			Time       int64  `json:"time"`
		}
		if err := json.Unmarshal(msg.Data, &raw); err != nil {
			return
		}
		bid, _ := strconv.ParseFloat(raw.BestBid, 64)
		bidQty, _ := strconv.ParseFloat(raw.BestBidSize, 64)
		ask, _ := strconv.ParseFloat(raw.BestAsk, 64)
		askQty, _ := strconv.ParseFloat(raw.BestAskSize, 64)
		raw.Time /= 1000
		book := domain.BookTicker{Symbol: canon, BidPrice: bid, BidQty: bidQty, AskPrice: ask, AskQty: askQty, UTC: &raw.Time}
		if s.gate.Allow(context.Background(), "book", canon.String()) {
			cb.Handle(&book, nil, nil)
		}
	case "/market/level2Depth5":
		var raw struct {
			Bids [][]string `json:"bids"`
			Asks [][]string `json:"asks"`
		}
		if err := json.Unmarshal(msg.Data, &raw); err != nil {
			return
		}
		depth := domain.BookDepth{Symbol: canon, Bids: parseLevels(raw.Bids), Asks: parseLevels(raw.Asks), ExchangeSymbol: native}
		if s.gate.Allow(context.Background(), "depth", canon.String()) {
			cb.Handle(nil, &depth, nil)
		}
	case "/market/candles":
		var raw struct {
			Candles []string `json:"candles"`
		}
		if err := json.Unmarshal(msg.Data, &raw); err != nil || len(raw.Candles) < 6 {
			return
		}
		openTime, _ := strconv.ParseInt(raw.Candles[0], 10, 64)
		open, _ := strconv.ParseFloat(raw.Candles[1], 64)
		closeP, _ := strconv.ParseFloat(raw.Candles[2], 64)
		high, _ := strconv.ParseFloat(raw.Candles[3], 64)
		low, _ := strconv.ParseFloat(raw.Candles[4], 64)
		vol, _ := strconv.ParseFloat(raw.Candles[5], 64)
		var usdVol *float64
		if _, quote, ok2 := canon.Split(); ok2 && domain.IsStableQuote(quote) && len(raw.Candles) >= 7 {
			if qv, err := strconv.ParseFloat(raw.Candles[6], 64); err == nil {
				usdVol = &qv
			}
		}
		if s.gate.Allow(context.Background(), "kline", canon.String()) {
			cb.Handle(nil, nil, &domain.CandleStick{UTCOpenTime: openTime, Open: open, High: high, Low: low, Close: closeP, CoinVolume: vol, USDVolume: usdVol})
		}
	}
}

func (s *Spot) Start(ctx context.Context, cb connector.Callback, symbols []domain.Symbol, depth int) error {
	return s.start(ctx, cb, symbols, s.topics, s.decode)
}
func (s *Spot) Stop()                               { s.stop() }
func (s *Spot) Subscribe(symbols []domain.Symbol)   { s.subscribe(symbols) }
func (s *Spot) Unsubscribe(symbols []domain.Symbol) { s.unsubscribe(symbols) }

// --- Perpetual (KuCoin Futures) ---

type Perpetual struct{ core }

func NewPerpetual(lim *ratelimit.Limiter, log zerolog.Logger, g *base.Gate) *Perpetual {
	return &Perpetual{core{restBase: futRESTBase, lim: lim, mapper: base.NewMapper(), log: log, gate: g}}
}

type futContractsResp struct {
	Data []struct {
		Symbol       string `json:"symbol"`
		BaseCurrency string `json:"baseCurrency"`
		QuoteCurrency string `json:"quoteCurrency"`
		SettleCurrency string `json:"settleCurrency"`
		Status       string `json:"status"`
	} `json:"data"`
}

func (p *Perpetual) GetAllPerpetuals(ctx context.Context) ([]domain.PerpetualTicker, error) {
	var resp futContractsResp
	if err := restjson.Get(ctx, p.lim, futRESTBase+"/api/v1/contracts/active", nil, 1, &resp); err != nil {
		return nil, err
	}
	out := make([]domain.PerpetualTicker, 0, len(resp.Data))
	pairs := make(map[domain.Symbol]string, len(resp.Data))
	for _, item := range resp.Data {
		canon := domain.NewSymbol(fromNativeAsset(item.BaseCurrency), fromNativeAsset(item.QuoteCurrency))
		pairs[canon] = item.Symbol
		out = append(out, domain.PerpetualTicker{Symbol: canon, Base: fromNativeAsset(item.BaseCurrency), Quote: fromNativeAsset(item.QuoteCurrency), ExchangeSymbol: item.Symbol, Settlement: fromNativeAsset(item.SettleCurrency)})
	}
	p.mapper.Load(pairs)
	return out, nil
}

func (p *Perpetual) GetPrice(ctx context.Context, symbol domain.Symbol) (*domain.CurrencyPair, error) {
	native, ok := p.mapper.ToNative(symbol)
	if !ok {
		return nil, domain.ErrInvalidArgument{Msg: "unknown symbol " + symbol.String()}
	}
	var resp struct {
		Data struct {
			Price string `json:"price"`
		} `json:"data"`
	}
	if err := restjson.Get(ctx, p.lim, futRESTBase+"/api/v1/ticker", url.Values{"symbol": {native}}, 1, &resp); err != nil {
		return nil, err
	}
	ratio, err := strconv.ParseFloat(resp.Data.Price, 64)
	if err != nil {
		return nil, err
	}
	b, q, _ := symbol.Split()
	now := time.Now().Unix()
	return &domain.CurrencyPair{Base: b, Quote: q, Ratio: ratio, UTC: &now}, nil
}

func (p *Perpetual) GetPairs(ctx context.Context, symbols []domain.Symbol) ([]domain.CurrencyPair, error) {
	return p.getPairs(ctx, "/api/v1/allTickers", symbols)
}

func (p *Perpetual) GetDepth(ctx context.Context, symbol domain.Symbol, limit int) (*domain.BookDepth, error) {
	native, ok := p.mapper.ToNative(symbol)
	if !ok {
		return nil, domain.ErrInvalidArgument{Msg: "unknown symbol " + symbol.String()}
	}
	var resp struct {
		Data struct {
			Bids [][]float64 `json:"bids"`
			Asks [][]float64 `json:"asks"`
			TS   int64       `json:"ts"`
		} `json:"data"`
	}
	if err := restjson.Get(ctx, p.lim, futRESTBase+"/api/v1/level2/depth100", url.Values{"symbol": {native}}, 2, &resp); err != nil {
		return nil, err
	}
	toLevels := func(raw [][]float64) []domain.BidAsk {
		out := make([]domain.BidAsk, 0, len(raw))
		for _, lvl := range raw {
			if len(lvl) != 2 {
				continue
			}
			out = append(out, domain.BidAsk{Price: lvl[0], Quantity: lvl[1]})
		}
		return out
	}
	resp.Data.TS /= 1e9
	return &domain.BookDepth{Symbol: symbol, Bids: toLevels(resp.Data.Bids), Asks: toLevels(resp.Data.Asks), ExchangeSymbol: native, UTC: &resp.Data.TS}, nil
}

func (p *Perpetual) GetKlines(ctx context.Context, symbol domain.Symbol, limit int) ([]domain.CandleStick, error) {
	native, ok := p.mapper.ToNative(symbol)
	if !ok {
		return nil, domain.ErrInvalidArgument{Msg: "unknown symbol " + symbol.String()}
	}
	var resp struct {
		Data [][]float64 `json:"data"`
	}
	params := url.Values{"symbol": {native}, "granularity": {"1"}}
	if err := restjson.Get(ctx, p.lim, futRESTBase+"/api/v1/kline/query", params, 1, &resp); err != nil {
		return nil, err
	}
	out := make([]domain.CandleStick, 0, len(resp.Data))
	for _, row := range resp.Data {
		if len(row) < 6 {
			continue
		}
		out = append(out, domain.CandleStick{UTCOpenTime: int64(row[0]) / 1000, Open: row[1], High: row[2], Low: row[3], Close: row[4], CoinVolume: row[5]})
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (p *Perpetual) GetFundingRate(ctx context.Context, symbol domain.Symbol) (*domain.FundingRate, error) {
	native, ok := p.mapper.ToNative(symbol)
	if !ok {
		return nil, domain.ErrInvalidArgument{Msg: "unknown symbol " + symbol.String()}
	}
	var resp struct {
		Data struct {
			Value           float64 `json:"value"`
			PredictedValue  float64 `json:"predictedValue"`
		} `json:"data"`
	}
	if err := restjson.Get(ctx, p.lim, futRESTBase+"/api/v1/funding-rate/"+native+"/current", nil, 1, &resp); err != nil {
		return nil, err
	}
	now := time.Now().Unix()
	next := resp.Data.PredictedValue
	return &domain.FundingRate{Symbol: symbol, Rate: resp.Data.Value, NextFundingUTC: now, NextRate: &next, UTC: &now}, nil
}

func (p *Perpetual) GetFundingRateHistory(ctx context.Context, symbol domain.Symbol, limit int) ([]domain.FundingRatePoint, error) {
	native, ok := p.mapper.ToNative(symbol)
	if !ok {
		return nil, domain.ErrInvalidArgument{Msg: "unknown symbol " + symbol.String()}
	}
	var resp struct {
		Data []struct {
			FundingRate float64 `json:"fundingRate"`
			TimePoint   int64   `json:"timepoint"`
		} `json:"dataList"`
	}
	if err := restjson.Get(ctx, p.lim, futRESTBase+"/api/v1/contract/funding-rates", url.Values{"symbol": {native}}, 1, &resp); err != nil {
		return nil, err
	}
	out := make([]domain.FundingRatePoint, 0, len(resp.Data))
	for _, item := range resp.Data {
		out = append(out, domain.FundingRatePoint{FundingTimeUTC: item.TimePoint / 1000, Rate: item.FundingRate})
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
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
		out = append(out, "/contractMarket/tickerV2:"+native, "/contractMarket/level2Depth50:"+native)
	}
	return out
}

func (p *Perpetual) decode(_ int, data []byte) {
	var msg wsMessage
	if err := json.Unmarshal(data, &msg); err != nil || msg.Type != "message" {
		return
	}
	p.mu.Lock()
	cb := p.cb
	p.mu.Unlock()
	if cb == nil {
		return
	}
	parts := strings.SplitN(msg.Topic, ":", 2)
	if len(parts) != 2 {
		return
	}
	canon, ok := p.mapper.ToCanonical(parts[1])
	if !ok {
		return
	}
	switch parts[0] {
	case "/contractMarket/tickerV2":
		var raw struct {
			BestBidPrice string `json:"bestBidPrice"`
			BestBidSize  int64  `json:"bestBidSize"`
			BestAskPrice string `json:"bestAskPrice"`
			BestAskSize  int64  `json:"bestAskSize"`
			Ts           int64  `json:"ts"`
		}
		if err := json.Unmarshal(msg.Data, &raw); err != nil {
			return
		}
		bid, _ := strconv.ParseFloat(raw.BestBidPrice, 64)
		ask, _ := strconv.ParseFloat(raw.BestAskPrice, 64)
		sec := raw.Ts / 1e9
		book := domain.BookTicker{Symbol: canon, BidPrice: bid, BidQty: float64(raw.BestBidSize), AskPrice: ask, AskQty: float64(raw.BestAskSize), UTC: &sec}
		if p.gate.Allow(context.Background(), "book", canon.String()) {
			cb.Handle(&book, nil, nil)
		}
	case "/contractMarket/level2Depth50":
		var raw struct {
			Bids [][]float64 `json:"bids"`
			Asks [][]float64 `json:"asks"`
			Ts   int64       `json:"ts"`
		}
		if err := json.Unmarshal(msg.Data, &raw); err != nil {
			return
		}
		toLevels := func(rows [][]float64) []domain.BidAsk {
			out := make([]domain.BidAsk, 0, len(rows))
			for _, r := range rows {
				if len(r) != 2 {
					continue
				}
				out = append(out, domain.BidAsk{Price: r[0], Quantity: r[1]})
			}
			return out
		}
		sec := raw.Ts / 1e9
		depth := domain.BookDepth{Symbol: canon, Bids: toLevels(raw.Bids), Asks: toLevels(raw.Asks), ExchangeSymbol: parts[1], UTC: &sec}
		if p.gate.Allow(context.Background(), "depth", canon.String()) {
			cb.Handle(nil, &depth, nil)
		}
	}
}

func (p *Perpetual) Start(ctx context.Context, cb connector.Callback, symbols []domain.Symbol, depth int) error {
	return p.start(ctx, cb, symbols, p.topics, p.decode)
}
func (p *Perpetual) Stop()                               { p.stop() }
func (p *Perpetual) Subscribe(symbols []domain.Symbol)   { p.subscribe(symbols) }
func (p *Perpetual) Unsubscribe(symbols []domain.Symbol) { p.unsubscribe(symbols) }

var (
	_ connector.Spot      = (*Spot)(nil)
	_ connector.Perpetual = (*Perpetual)(nil)
)
