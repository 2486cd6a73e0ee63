// Package htx implements the HTX (formerly Huobi) spot and linear-swap
// connectors. HTX's market-data websocket is the pack's one outlier: every
// frame — including its own ping — arrives gzip-compressed, and the
// server expects the client to echo the ping's timestamp back as a plain
// (uncompressed) JSON pong rather than a websocket control frame (spec
// §4.5/§6). Everything else follows the shared batching/REST shape.
package htx

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
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
	spotRESTBase = "https://api.huobi.pro"
	spotWSBase   = "wss://api.huobi.pro/ws"
	swapRESTBase = "https://api-swap.huobi.pro"
	swapWSBase   = "wss://api-swap.huobi.pro/swap-ws"
)

func gunzip(data []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}

type core struct {
	restBase string
	wsURL    string
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

func parseLevels(raw [][]float64) []domain.BidAsk {
	out := make([]domain.BidAsk, 0, len(raw))
	for _, lvl := range raw {
		if len(lvl) != 2 {
			continue
		}
		out = append(out, domain.BidAsk{Price: lvl[0], Quantity: lvl[1]})
	}
	return out
}

// --- streaming ---

type wsFrame struct {
	Ping int64           `json:"ping"`
	Ch   string          `json:"ch"`
	Tick json.RawMessage `json:"tick"`
	Ts   int64           `json:"ts"`
}

func (c *core) start(ctx context.Context, cb connector.Callback, symbols []domain.Symbol, topicsFn func([]domain.Symbol) []string, decodeTick func(ch string, ts int64, tick json.RawMessage)) error {
	if cb == nil {
		return domain.ErrInvalidArgument{Msg: "nil callback"}
	}
	sctx, err := c.stream.Begin(ctx)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.cb = cb
	ws := wsbase.New(c.wsURL, 30*time.Second, 9999*time.Hour, c.log) // server-driven ping; pingLoop disabled by a very long interval
	c.ws = ws
	c.batch = connector.NewBatchMixin(connector.DefaultBatchInterval, connector.ApplierFunc(func(unsub, sub []domain.Symbol) {
		c.applyBatch(unsub, sub, topicsFn)
	}))
	c.mu.Unlock()

	decode := func(_ int, raw []byte) {
		plain, err := gunzip(raw)
		if err != nil {
			c.log.Warn().Err(err).Msg("htx: gunzip failed")
			return
		}
		var frame wsFrame
		if err := json.Unmarshal(plain, &frame); err != nil {
			return
		}
		if frame.Ping != 0 {
			pong, _ := json.Marshal(map[string]int64{"pong": frame.Ping})
			if err := ws.Send(pong); err != nil {
				c.log.Warn().Err(err).Msg("htx: pong send failed")
			}
			return
		}
		if frame.Ch != "" {
			decodeTick(frame.Ch, frame.Ts/1000, frame.Tick)
		}
	}

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
		c.send(ws, "unsub", t)
	}
	for _, t := range topicsFn(sub) {
		c.send(ws, "sub", t)
	}
}

func (c *core) send(ws *wsbase.Client, field, topic string) {
	frame, err := json.Marshal(map[string]interface{}{field: topic, "id": fmt.Sprintf("%d", time.Now().UnixNano())})
	if err != nil {
		return
	}
	if err := ws.Send(frame); err != nil {
		c.log.Warn().Err(err).Str("topic", topic).Msg("htx: send failed")
	}
}

// --- Spot ---

type Spot struct{ core }

func NewSpot(lim *ratelimit.Limiter, log zerolog.Logger, g *base.Gate) *Spot {
	return &Spot{core{restBase: spotRESTBase, wsURL: spotWSBase, lim: lim, mapper: base.NewMapper(), log: log, gate: g}}
}

type spotSymbolsResp struct {
	Data []struct {
		Symbol     string `json:"symbol"`
		BaseCurrency string `json:"bc"`
		QuoteCurrency string `json:"qc"`
		State      string `json:"state"`
	} `json:"data"`
}

func (s *Spot) GetAllTickers(ctx context.Context) ([]domain.Ticker, error) {
	var resp spotSymbolsResp
	if err := restjson.Get(ctx, s.lim, spotRESTBase+"/v2/settings/common/symbols", nil, 1, &resp); err != nil {
		return nil, err
	}
	out := make([]domain.Ticker, 0, len(resp.Data))
	pairs := make(map[domain.Symbol]string, len(resp.Data))
	for _, item := range resp.Data {
		canon := domain.NewSymbol(item.BaseCurrency, item.QuoteCurrency)
		pairs[canon] = item.Symbol
		out = append(out, domain.Ticker{Symbol: canon, Base: strings.ToUpper(item.BaseCurrency), Quote: strings.ToUpper(item.QuoteCurrency), IsSpotEnabled: item.State == "online", ExchangeSymbol: item.Symbol})
	}
	s.mapper.Load(pairs)
	return out, nil
}

type tickerResp struct {
	Tick struct {
		Bid  []float64 `json:"bid"`
		Ask  []float64 `json:"ask"`
		Close float64  `json:"close"`
	} `json:"tick"`
	Ts int64 `json:"ts"`
}

func (s *Spot) GetPrice(ctx context.Context, symbol domain.Symbol) (*domain.CurrencyPair, error) {
	native, ok := s.mapper.ToNative(symbol)
	if !ok {
		return nil, domain.ErrInvalidArgument{Msg: "unknown symbol " + symbol.String()}
	}
	var resp tickerResp
	if err := restjson.Get(ctx, s.lim, spotRESTBase+"/market/detail/merged", url.Values{"symbol": {native}}, 1, &resp); err != nil {
		return nil, err
	}
	resp.Ts /= 1000
	b, q, _ := symbol.Split()
	return &domain.CurrencyPair{Base: b, Quote: q, Ratio: resp.Tick.Close, UTC: &resp.Ts}, nil
}

type tickersEnvelope struct {
	Data []struct {
		Symbol string  `json:"symbol"`
		Close  float64 `json:"close"`
	} `json:"data"`
	Ts int64 `json:"ts"`
}

func (s *Spot) GetPairs(ctx context.Context, symbols []domain.Symbol) ([]domain.CurrencyPair, error) {
	var resp tickersEnvelope
	if err := restjson.Get(ctx, s.lim, spotRESTBase+"/market/tickers", nil, 1, &resp); err != nil {
		return nil, err
	}
	wanted := make(map[string]bool, len(symbols))
	for _, sym := range symbols {
		if n, ok := s.mapper.ToNative(sym); ok {
			wanted[n] = true
		}
	}
	out := make([]domain.CurrencyPair, 0, len(resp.Data))
	for _, item := range resp.Data {
		if len(wanted) > 0 && !wanted[item.Symbol] {
			continue
		}
		canon, ok := s.mapper.ToCanonical(item.Symbol)
		if !ok {
			continue
		}
		b, q, _ := canon.Split()
		ts := resp.Ts / 1000
		out = append(out, domain.CurrencyPair{Base: b, Quote: q, Ratio: item.Close, UTC: &ts})
	}
	return out, nil
}

type depthResp struct {
	Tick struct {
		Bids [][]float64 `json:"bids"`
		Asks [][]float64 `json:"asks"`
	} `json:"tick"`
	Ts int64 `json:"ts"`
}

func (s *Spot) GetDepth(ctx context.Context, symbol domain.Symbol, limit int) (*domain.BookDepth, error) {
	native, ok := s.mapper.ToNative(symbol)
	if !ok {
		return nil, domain.ErrInvalidArgument{Msg: "unknown symbol " + symbol.String()}
	}
	var resp depthResp
	params := url.Values{"symbol": {native}, "depth": {"20"}, "type": {"step0"}}
	if err := restjson.Get(ctx, s.lim, spotRESTBase+"/market/depth", params, 1, &resp); err != nil {
		return nil, err
	}
	resp.Ts /= 1000
	return &domain.BookDepth{Symbol: symbol, Bids: parseLevels(resp.Tick.Bids), Asks: parseLevels(resp.Tick.Asks), ExchangeSymbol: native, UTC: &resp.Ts}, nil
}

type klinesResp struct {
	Data []struct {
		ID     int64   `json:"id"`
		Open   float64 `json:"open"`
		Close  float64 `json:"close"`
		Low    float64 `json:"low"`
		High   float64 `json:"high"`
		Vol    float64 `json:"vol"`
	} `json:"data"`
}

func (s *Spot) GetKlines(ctx context.Context, symbol domain.Symbol, limit int) ([]domain.CandleStick, error) {
	native, ok := s.mapper.ToNative(symbol)
	if !ok {
		return nil, domain.ErrInvalidArgument{Msg: "unknown symbol " + symbol.String()}
	}
	if limit <= 0 {
		limit = 150
	}
	var resp klinesResp
	params := url.Values{"symbol": {native}, "period": {"1min"}, "size": {strconv.Itoa(limit)}}
	if err := restjson.Get(ctx, s.lim, spotRESTBase+"/market/history/kline", params, 1, &resp); err != nil {
		return nil, err
	}
	_, quote, _ := symbol.Split()
	stable := domain.IsStableQuote(quote)
	out := make([]domain.CandleStick, 0, len(resp.Data))
	for _, row := range resp.Data {
		var usdVol *float64
		if stable {
			v := row.Vol
			usdVol = &v
		}
		out = append(out, domain.CandleStick{UTCOpenTime: row.ID, Open: row.Open, High: row.High, Low: row.Low, Close: row.Close, CoinVolume: row.Vol, USDVolume: usdVol})
	}
	return out, nil
}

// GetWithdrawInfo requires HTX's authenticated account/reference endpoints.
func (s *Spot) GetWithdrawInfo(ctx context.Context) (map[string][]domain.WithdrawInfo, error) {
	return nil, nil
}

func (s *Spot) topics(symbols []domain.Symbol) []string {
	out := make([]string, 0, len(symbols)*3)
	for _, sym := range symbols {
		native, ok := s.mapper.ToNative(sym)
		if !ok {
			continue
		}
		out = append(out, "market."+native+".bbo", "market."+native+".depth.step0", "market."+native+".kline.1min")
	}
	return out
}

func (s *Spot) decodeTick(ch string, ts int64, tick json.RawMessage) {
	s.mu.Lock()
	cb := s.cb
	s.mu.Unlock()
	if cb == nil {
		return
	}
	parts := strings.Split(ch, ".")
	if len(parts) < 3 {
		return
	}
	native := parts[1]
	canon, ok := s.mapper.ToCanonical(native)
	if !ok {
		return
	}
	switch {
	case strings.HasSuffix(ch, ".bbo"):
		var raw struct {
			Bid    float64 `json:"bid"`
			BidSize float64 `json:"bidSize"`
			Ask    float64 `json:"ask"`
			AskSize float64 `json:"askSize"`
		}
		if err := json.Unmarshal(tick, &raw); err != nil {
			return
		}
		book := domain.BookTicker{Symbol: canon, BidPrice: raw.Bid, BidQty: raw.BidSize, AskPrice: raw.Ask, AskQty: raw.AskSize, UTC: &ts}
		if s.gate.Allow(context.Background(), "book", canon.String()) {
			cb.Handle(&book, nil, nil)
		}
	case strings.Contains(ch, ".depth."):
		var raw struct {
			Bids [][]float64 `json:"bids"`
			Asks [][]float64 `json:"asks"`
		}
		if err := json.Unmarshal(tick, &raw); err != nil {
			return
		}
		depth := domain.BookDepth{Symbol: canon, Bids: parseLevels(raw.Bids), Asks: parseLevels(raw.Asks), ExchangeSymbol: native, UTC: &ts}
		if s.gate.Allow(context.Background(), "depth", canon.String()) {
			cb.Handle(nil, &depth, nil)
		}
	case strings.Contains(ch, ".kline."):
		var raw struct {
			ID    int64   `json:"id"`
			Open  float64 `json:"open"`
			Close float64 `json:"close"`
			Low   float64 `json:"low"`
			High  float64 `json:"high"`
			Vol   float64 `json:"vol"`
		}
		if err := json.Unmarshal(tick, &raw); err != nil {
			return
		}
		var usdVol *float64
		if _, quote, ok := canon.Split(); ok && domain.IsStableQuote(quote) {
			v := raw.Vol
			usdVol = &v
		}
		candle := domain.CandleStick{UTCOpenTime: raw.ID, Open: raw.Open, High: raw.High, Low: raw.Low, Close: raw.Close, CoinVolume: raw.Vol, USDVolume: usdVol}
		if s.gate.Allow(context.Background(), "kline", canon.String()) {
			cb.Handle(nil, nil, &candle)
		}
	}
}

func (s *Spot) Start(ctx context.Context, cb connector.Callback, symbols []domain.Symbol, depth int) error {
	return s.start(ctx, cb, symbols, s.topics, s.decodeTick)
}
func (s *Spot) Stop()                               { s.stop() }
func (s *Spot) Subscribe(symbols []domain.Symbol)   { s.subscribe(symbols) }
func (s *Spot) Unsubscribe(symbols []domain.Symbol) { s.unsubscribe(symbols) }

// --- Perpetual (HTX linear swap) ---

type Perpetual struct{ core }

func NewPerpetual(lim *ratelimit.Limiter, log zerolog.Logger, g *base.Gate) *Perpetual {
	return &Perpetual{core{restBase: swapRESTBase, wsURL: swapWSBase, lim: lim, mapper: base.NewMapper(), log: log, gate: g}}
}

type swapContractResp struct {
	Data []struct {
		ContractCode string `json:"contract_code"`
		Symbol       string `json:"symbol"`
		TradePartition string `json:"trade_partition"`
		ContractStatus int  `json:"contract_status"`
	} `json:"data"`
}

func (p *Perpetual) GetAllPerpetuals(ctx context.Context) ([]domain.PerpetualTicker, error) {
	var resp swapContractResp
	if err := restjson.Get(ctx, p.lim, swapRESTBase+"/linear-swap-api/v1/swap_contract_info", nil, 1, &resp); err != nil {
		return nil, err
	}
	out := make([]domain.PerpetualTicker, 0, len(resp.Data))
	pairs := make(map[domain.Symbol]string, len(resp.Data))
	for _, item := range resp.Data {
		if item.ContractStatus != 1 {
			continue
		}
		canon := domain.NewSymbol(item.Symbol, item.TradePartition)
		pairs[canon] = item.ContractCode
		out = append(out, domain.PerpetualTicker{Symbol: canon, Base: item.Symbol, Quote: item.TradePartition, ExchangeSymbol: item.ContractCode, Settlement: item.TradePartition})
	}
	p.mapper.Load(pairs)
	return out, nil
}

func (p *Perpetual) GetPrice(ctx context.Context, symbol domain.Symbol) (*domain.CurrencyPair, error) {
	native, ok := p.mapper.ToNative(symbol)
	if !ok {
		return nil, domain.ErrInvalidArgument{Msg: "unknown symbol " + symbol.String()}
	}
	var resp tickerResp
	if err := restjson.Get(ctx, p.lim, swapRESTBase+"/linear-swap-ex/market/detail/merged", url.Values{"contract_code": {native}}, 1, &resp); err != nil {
		return nil, err
	}
	b, q, _ := symbol.Split()
	resp.Ts /= 1000
	return &domain.CurrencyPair{Base: b, Quote: q, Ratio: resp.Tick.Close, UTC: &resp.Ts}, nil
}

func (p *Perpetual) GetPairs(ctx context.Context, symbols []domain.Symbol) ([]domain.CurrencyPair, error) {
	var resp tickersEnvelope
	if err := restjson.Get(ctx, p.lim, swapRESTBase+"/linear-swap-ex/market/detail/batch_merged", nil, 1, &resp); err != nil {
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
		ts := resp.Ts / 1000
		out = append(out, domain.CurrencyPair{Base: b, Quote: q, Ratio: item.Close, UTC: &ts})
	}
	return out, nil
}

func (p *Perpetual) GetDepth(ctx context.Context, symbol domain.Symbol, limit int) (*domain.BookDepth, error) {
	native, ok := p.mapper.ToNative(symbol)
	if !ok {
		return nil, domain.ErrInvalidArgument{Msg: "unknown symbol " + symbol.String()}
	}
	var resp depthResp
	params := url.Values{"contract_code": {native}, "type": {"step0"}}
	if err := restjson.Get(ctx, p.lim, swapRESTBase+"/linear-swap-ex/market/depth", params, 1, &resp); err != nil {
		return nil, err
	}
	resp.Ts /= 1000
	return &domain.BookDepth{Symbol: symbol, Bids: parseLevels(resp.Tick.Bids), Asks: parseLevels(resp.Tick.Asks), ExchangeSymbol: native, UTC: &resp.Ts}, nil
}

func (p *Perpetual) GetKlines(ctx context.Context, symbol domain.Symbol, limit int) ([]domain.CandleStick, error) {
	native, ok := p.mapper.ToNative(symbol)
	if !ok {
		return nil, domain.ErrInvalidArgument{Msg: "unknown symbol " + symbol.String()}
	}
	if limit <= 0 {
		limit = 150
	}
	var resp klinesResp
	params := url.Values{"contract_code": {native}, "period": {"1min"}, "size": {strconv.Itoa(limit)}}
	if err := restjson.Get(ctx, p.lim, swapRESTBase+"/linear-swap-ex/market/history/kline", params, 1, &resp); err != nil {
		return nil, err
	}
	_, quote, _ := symbol.Split()
	stable := domain.IsStableQuote(quote)
	out := make([]domain.CandleStick, 0, len(resp.Data))
	for _, row := range resp.Data {
		var usdVol *float64
		if stable {
			v := row.Vol
			usdVol = &v
		}
		out = append(out, domain.CandleStick{UTCOpenTime: row.ID, Open: row.Open, High: row.High, Low: row.Low, Close: row.Close, CoinVolume: row.Vol, USDVolume: usdVol})
	}
	return out, nil
}

type swapFundingResp struct {
	Data struct {
		FundingRate     string `json:"funding_rate"`
		NextFundingTime string `json:"next_funding_time"`
	} `json:"data"`
}

func (p *Perpetual) GetFundingRate(ctx context.Context, symbol domain.Symbol) (*domain.FundingRate, error) {
	native, ok := p.mapper.ToNative(symbol)
	if !ok {
		return nil, domain.ErrInvalidArgument{Msg: "unknown symbol " + symbol.String()}
	}
	var resp swapFundingResp
	if err := restjson.Get(ctx, p.lim, swapRESTBase+"/linear-swap-api/v1/swap_funding_rate", url.Values{"contract_code": {native}}, 1, &resp); err != nil {
		return nil, err
	}
	rate, _ := strconv.ParseFloat(resp.Data.FundingRate, 64)
	next, _ := strconv.ParseInt(resp.Data.NextFundingTime, 10, 64)
	now := time.Now().Unix()
	return &domain.FundingRate{Symbol: symbol, Rate: rate, NextFundingUTC: next / 1000, UTC: &now}, nil
}

type swapFundingHistoryResp struct {
	Data struct {
		Data []struct {
			FundingRate string `json:"funding_rate"`
			FundingTime string `json:"funding_time"`
		} `json:"data"`
	} `json:"data"`
}

func (p *Perpetual) GetFundingRateHistory(ctx context.Context, symbol domain.Symbol, limit int) ([]domain.FundingRatePoint, error) {
	native, ok := p.mapper.ToNative(symbol)
	if !ok {
		return nil, domain.ErrInvalidArgument{Msg: "unknown symbol " + symbol.String()}
	}
	if limit <= 0 {
		limit = 50
	}
	var resp swapFundingHistoryResp
	params := url.Values{"contract_code": {native}, "page_size": {strconv.Itoa(limit)}}
	if err := restjson.Get(ctx, p.lim, swapRESTBase+"/linear-swap-api/v1/swap_historical_funding_rate", params, 1, &resp); err != nil {
		return nil, err
	}
	out := make([]domain.FundingRatePoint, 0, len(resp.Data.Data))
	for _, item := range resp.Data.Data {
		rate, err := strconv.ParseFloat(item.FundingRate, 64)
		if err != nil {
			continue
		}
		ts, _ := strconv.ParseInt(item.FundingTime, 10, 64)
		out = append(out, domain.FundingRatePoint{FundingTimeUTC: ts / 1000, Rate: rate})
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
		out = append(out, "market."+native+".bbo", "market."+native+".depth.step0")
	}
	return out
}

func (p *Perpetual) decodeTick(ch string, ts int64, tick json.RawMessage) {
	p.mu.Lock()
	cb := p.cb
	p.mu.Unlock()
	if cb == nil {
		return
	}
	parts := strings.Split(ch, ".")
	if len(parts) < 3 {
		return
	}
	native := parts[1]
	canon, ok := p.mapper.ToCanonical(native)
	if !ok {
		return
	}
	switch {
	case strings.HasSuffix(ch, ".bbo"):
		var raw struct {
			Bid     float64 `json:"bid"`
			BidSize float64 `json:"bidSize"`
			Ask     float64 `json:"ask"`
			AskSize float64 `json:"askSize"`
		}
		if err := json.Unmarshal(tick, &raw); err != nil {
			return
		}
		book := domain.BookTicker{Symbol: canon, BidPrice: raw.Bid, BidQty: raw.BidSize, AskPrice: raw.Ask, AskQty: raw.AskSize, UTC: &ts}
		if p.gate.Allow(context.Background(), "book", canon.String()) {
			cb.Handle(&book, nil, nil)
		}
	case strings.Contains(ch, ".depth."):
		var raw struct {
			Bids [][]float64 `json:"bids"`
			Asks [][]float64 `json:"asks"`
		}
		if err := json.Unmarshal(tick, &raw); err != nil {
			return
		}
		depth := domain.BookDepth{Symbol: canon, Bids: parseLevels(raw.Bids), Asks: parseLevels(raw.Asks), ExchangeSymbol: native, UTC: &ts}
		if p.gate.Allow(context.Background(), "depth", canon.String()) {
			cb.Handle(nil, &depth, nil)
		}
	}
}

func (p *Perpetual) Start(ctx context.Context, cb connector.Callback, symbols []domain.Symbol, depth int) error {
	return p.start(ctx, cb, symbols, p.topics, p.decodeTick)
}
func (p *Perpetual) Stop()                               { p.stop() }
func (p *Perpetual) Subscribe(symbols []domain.Symbol)   { p.subscribe(symbols) }
func (p *Perpetual) Unsubscribe(symbols []domain.Symbol) { p.unsubscribe(symbols) }

var (
	_ connector.Spot      = (*Spot)(nil)
	_ connector.Perpetual = (*Perpetual)(nil)
)
