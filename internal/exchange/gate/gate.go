// Package gate implements the Gate.io spot and linear-perpetual
// connectors. Gate's book_ticker channel pushes whichever side of the
// book changed, not always both at once, so unlike every other connector
// in this pack this one buffers the last known bid and ask per symbol and
// only emits a domain.BookTicker once both sides have been observed at
// least once (spec §4.5/§6). Only the spot connector uses this buffer; the
// perpetual connector emits each futures.book_ticker frame as it arrives.
package gate

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
	spotRESTBase = "https://api.gateio.ws"
	spotWSBase   = "wss://api.gateio.ws/ws/v4/"
	futRESTBase  = "https://api.gateio.ws"
	futWSBase    = "wss://fx-ws.gateio.ws/v4/ws/usdt"
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

// side buffers the latest observed bid and ask for one symbol until both
// have arrived.
type side struct {
	bidPrice, bidQty, askPrice, askQty float64
	haveBid, haveAsk                  bool
}

type core struct {
	wsURL  string
	lim    *ratelimit.Limiter
	mapper *base.Mapper
	stream base.StreamState
	log    zerolog.Logger
	gate   *base.Gate

	mu      sync.Mutex
	ws      *wsbase.Client
	batch   *connector.BatchMixin
	cb      connector.Callback
	sides   map[domain.Symbol]*side
}

func (c *core) start(ctx context.Context, cb connector.Callback, symbols []domain.Symbol, channel string, decode wsbase.Decoder) error {
	if cb == nil {
		return domain.ErrInvalidArgument{Msg: "nil callback"}
	}
	sctx, err := c.stream.Begin(ctx)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.cb = cb
	c.sides = make(map[domain.Symbol]*side)
	ws := wsbase.New(c.wsURL, 30*time.Second, 15*time.Second, c.log)
	c.ws = ws
	c.batch = connector.NewBatchMixin(connector.DefaultBatchInterval, connector.ApplierFunc(func(unsub, sub []domain.Symbol) {
		c.applyBatch(unsub, sub, channel)
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
	c.ws, c.batch, c.cb, c.sides = nil, nil, nil, nil
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

func (c *core) applyBatch(unsub, sub []domain.Symbol, channel string) {
	c.mu.Lock()
	ws := c.ws
	c.mu.Unlock()
	if ws == nil {
		return
	}
	bookTicker := strings.SplitN(channel, ".", 2)[0] + ".book_ticker"
	c.send(ws, channel, "unsubscribe", unsub)
	c.send(ws, channel, "subscribe", sub)
	c.send(ws, bookTicker, "unsubscribe", unsub)
	c.send(ws, bookTicker, "subscribe", sub)
}

func (c *core) send(ws *wsbase.Client, channel, event string, symbols []domain.Symbol) {
	if len(symbols) == 0 {
		return
	}
	payload := make([]string, 0, len(symbols))
	for _, sym := range symbols {
		if n, ok := c.mapper.ToNative(sym); ok {
			payload = append(payload, n)
		}
	}
	if len(payload) == 0 {
		return
	}
	frame, err := json.Marshal(map[string]interface{}{
		"time": time.Now().Unix(), "channel": channel, "event": event, "payload": payload,
	})
	if err != nil {
		return
	}
	if err := ws.Send(frame); err != nil {
		c.log.Warn().Err(err).Str("channel", channel).Msg("gate: send failed")
	}
}

type wsFrame struct {
	Channel string          `json:"channel"`
	Event   string          `json:"event"`
	Result  json.RawMessage `json:"result"`
}

// bookTicker handles Gate's "spot.book_ticker" partial updates, which name
// one changed side per message.
func (c *core) bookTicker(symbol domain.Symbol, raw json.RawMessage, ts int64) {
	var bt struct {
		BidPrice string `json:"b"`
		BidQty   string `json:"B"`
		AskPrice string `json:"a"`
		AskQty   string `json:"A"`
	}
	if err := json.Unmarshal(raw, &bt); err != nil {
		return
	}
	c.mu.Lock()
	st, ok := c.sides[symbol]
	if !ok {
		st = &side{}
		c.sides[symbol] = st
	}
	if bt.BidPrice != "" {
		st.bidPrice, _ = strconv.ParseFloat(bt.BidPrice, 64)
		st.bidQty, _ = strconv.ParseFloat(bt.BidQty, 64)
		st.haveBid = true
	}
	if bt.AskPrice != "" {
		st.askPrice, _ = strconv.ParseFloat(bt.AskPrice, 64)
		st.askQty, _ = strconv.ParseFloat(bt.AskQty, 64)
		st.haveAsk = true
	}
	ready := st.haveBid && st.haveAsk
	snapshot := *st
	cb := c.cb
	c.mu.Unlock()
	if !ready || cb == nil {
		return
	}
	book := domain.BookTicker{Symbol: symbol, BidPrice: snapshot.bidPrice, BidQty: snapshot.bidQty, AskPrice: snapshot.askPrice, AskQty: snapshot.askQty, UTC: &ts}
	if c.gate.Allow(context.Background(), "book", symbol.String()) {
		cb.Handle(&book, nil, nil)
	}
}

// --- Spot ---

type Spot struct{ core }

func NewSpot(lim *ratelimit.Limiter, log zerolog.Logger, g *base.Gate) *Spot {
	return &Spot{core{wsURL: spotWSBase, lim: lim, mapper: base.NewMapper(), log: log, gate: g}}
}

type spotCurrencyPairsResp []struct {
	ID         string `json:"id"`
	Base       string `json:"base"`
	Quote      string `json:"quote"`
	TradeStatus string `json:"trade_status"`
}

func (s *Spot) GetAllTickers(ctx context.Context) ([]domain.Ticker, error) {
	var resp spotCurrencyPairsResp
	if err := restjson.Get(ctx, s.lim, spotRESTBase+"/api/v4/spot/currency_pairs", nil, 1, &resp); err != nil {
		return nil, err
	}
	out := make([]domain.Ticker, 0, len(resp))
	pairs := make(map[domain.Symbol]string, len(resp))
	for _, item := range resp {
		canon := domain.NewSymbol(item.Base, item.Quote)
		pairs[canon] = item.ID
		out = append(out, domain.Ticker{Symbol: canon, Base: item.Base, Quote: item.Quote, IsSpotEnabled: item.TradeStatus == "tradable", ExchangeSymbol: item.ID})
	}
	s.mapper.Load(pairs)
	return out, nil
}

type spotTickerResp []struct {
	CurrencyPair string `json:"currency_pair"`
	Last         string `json:"last"`
}

func (s *Spot) GetPrice(ctx context.Context, symbol domain.Symbol) (*domain.CurrencyPair, error) {
	native, ok := s.mapper.ToNative(symbol)
	if !ok {
		return nil, domain.ErrInvalidArgument{Msg: "unknown symbol " + symbol.String()}
	}
	var resp spotTickerResp
	if err := restjson.Get(ctx, s.lim, spotRESTBase+"/api/v4/spot/tickers", url.Values{"currency_pair": {native}}, 1, &resp); err != nil {
		return nil, err
	}
	if len(resp) == 0 {
		return nil, fmt.Errorf("gate spot: no ticker for %s", native)
	}
	ratio, err := strconv.ParseFloat(resp[0].Last, 64)
	if err != nil {
		return nil, err
	}
	b, q, _ := symbol.Split()
	now := time.Now().Unix()
	return &domain.CurrencyPair{Base: b, Quote: q, Ratio: ratio, UTC: &now}, nil
}

func (s *Spot) GetPairs(ctx context.Context, symbols []domain.Symbol) ([]domain.CurrencyPair, error) {
	var resp spotTickerResp
	if err := restjson.Get(ctx, s.lim, spotRESTBase+"/api/v4/spot/tickers", nil, 1, &resp); err != nil {
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
		if len(wanted) > 0 && !wanted[item.CurrencyPair] {
			continue
		}
		canon, ok := s.mapper.ToCanonical(item.CurrencyPair)
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

func (s *Spot) GetDepth(ctx context.Context, symbol domain.Symbol, limit int) (*domain.BookDepth, error) {
	native, ok := s.mapper.ToNative(symbol)
	if !ok {
		return nil, domain.ErrInvalidArgument{Msg: "unknown symbol " + symbol.String()}
	}
	if limit <= 0 {
		limit = 100
	}
	var resp struct {
		Bids [][]string `json:"bids"`
		Asks [][]string `json:"asks"`
		Update int64    `json:"update"`
	}
	params := url.Values{"currency_pair": {native}, "limit": {strconv.Itoa(limit)}}
	if err := restjson.Get(ctx, s.lim, spotRESTBase+"/api/v4/spot/order_book", params, 1, &resp); err != nil {
		return nil, err
	}
	sec := resp.Update / 1000
	return &domain.BookDepth{Symbol: symbol, Bids: parseLevels(resp.Bids), Asks: parseLevels(resp.Asks), ExchangeSymbol: native, UTC: &sec}, nil
}

func (s *Spot) GetKlines(ctx context.Context, symbol domain.Symbol, limit int) ([]domain.CandleStick, error) {
	native, ok := s.mapper.ToNative(symbol)
	if !ok {
		return nil, domain.ErrInvalidArgument{Msg: "unknown symbol " + symbol.String()}
	}
	if limit <= 0 {
		limit = 500
	}
	var rows [][]string
	params := url.Values{"currency_pair": {native}, "interval": {"1m"}, "limit": {strconv.Itoa(limit)}}
	if err := restjson.Get(ctx, s.lim, spotRESTBase+"/api/v4/spot/candlesticks", params, 1, &rows); err != nil {
		return nil, err
	}
	_, quote, _ := symbol.Split()
	stable := domain.IsStableQuote(quote)
	out := make([]domain.CandleStick, 0, len(rows))
	for _, row := range rows {
		if len(row) < 6 {
			continue
		}
		openTime, _ := strconv.ParseInt(row[0], 10, 64)
		vol, _ := strconv.ParseFloat(row[1], 64)
		closeP, _ := strconv.ParseFloat(row[2], 64)
		high, _ := strconv.ParseFloat(row[3], 64)
		low, _ := strconv.ParseFloat(row[4], 64)
		open, _ := strconv.ParseFloat(row[5], 64)
		var usdVol *float64
		if stable {
			usdVol = &vol
		}
		out = append(out, domain.CandleStick{UTCOpenTime: openTime, Open: open, High: high, Low: low, Close: closeP, CoinVolume: vol, USDVolume: usdVol})
	}
	return out, nil
}

// GetWithdrawInfo requires Gate's authenticated wallet/currency endpoints.
func (s *Spot) GetWithdrawInfo(ctx context.Context) (map[string][]domain.WithdrawInfo, error) {
	return nil, nil
}

func (s *Spot) decode(_ int, data []byte) {
	var frame wsFrame
	if err := json.Unmarshal(data, &frame); err != nil || frame.Event != "update" {
		return
	}
	now := time.Now().Unix()
	switch frame.Channel {
	case "spot.book_ticker":
		var raw struct {
			S string `json:"s"`
		}
		if err := json.Unmarshal(frame.Result, &raw); err != nil {
			return
		}
		canon, ok := s.mapper.ToCanonical(raw.S)
		if !ok {
			return
		}
		s.bookTicker(canon, frame.Result, now)
	case "spot.order_book_update":
		var raw struct {
			S    string     `json:"s"`
			Bids [][]string `json:"b"`
			Asks [][]string `json:"a"`
			U    int64      `json:"u"`
		}
		if err := json.Unmarshal(frame.Result, &raw); err != nil {
			return
		}
		canon, ok := s.mapper.ToCanonical(raw.S)
		if !ok {
			return
		}
		s.mu.Lock()
		cb := s.cb
		s.mu.Unlock()
		if cb == nil {
			return
		}
		depth := domain.BookDepth{Symbol: canon, Bids: parseLevels(raw.Bids), Asks: parseLevels(raw.Asks), ExchangeSymbol: raw.S, LastUpdateID: &raw.U, UTC: &now}
		if s.gate.Allow(context.Background(), "depth", canon.String()) {
			cb.Handle(nil, &depth, nil)
		}
	case "spot.candlesticks":
		var raws []struct {
			T string `json:"t"`
			V string `json:"v"`
			C string `json:"c"`
			H string `json:"h"`
			L string `json:"l"`
			O string `json:"o"`
			N string `json:"n"`
		}
		if err := json.Unmarshal(frame.Result, &raws); err != nil {
			return
		}
		s.mu.Lock()
		cb := s.cb
		s.mu.Unlock()
		if cb == nil {
			return
		}
		for _, raw := range raws {
			openTime, _ := strconv.ParseInt(raw.T, 10, 64)
			open, _ := strconv.ParseFloat(raw.O, 64)
			high, _ := strconv.ParseFloat(raw.H, 64)
			low, _ := strconv.ParseFloat(raw.L, 64)
			closeP, _ := strconv.ParseFloat(raw.C, 64)
			vol, _ := strconv.ParseFloat(raw.V, 64)
			var usdVol *float64
			if parts := strings.SplitN(raw.N, "_", 2); len(parts) == 2 {
				if canon, ok := s.mapper.ToCanonical(parts[1]); ok {
					if _, quote, ok2 := canon.Split(); ok2 && domain.IsStableQuote(quote) {
						usdVol = &vol
					}
				}
			}
			if s.gate.Allow(context.Background(), "kline", raw.N) {
				cb.Handle(nil, nil, &domain.CandleStick{UTCOpenTime: openTime, Open: open, High: high, Low: low, Close: closeP, CoinVolume: vol, USDVolume: usdVol})
			}
		}
	}
}

func (s *Spot) Start(ctx context.Context, cb connector.Callback, symbols []domain.Symbol, depth int) error {
	return s.start(ctx, cb, symbols, "spot.order_book_update", s.decode)
}
func (s *Spot) Stop()                               { s.stop() }
func (s *Spot) Subscribe(symbols []domain.Symbol)   { s.subscribe(symbols) }
func (s *Spot) Unsubscribe(symbols []domain.Symbol) { s.unsubscribe(symbols) }

// --- Perpetual ---

type Perpetual struct{ core }

func NewPerpetual(lim *ratelimit.Limiter, log zerolog.Logger, g *base.Gate) *Perpetual {
	return &Perpetual{core{wsURL: futWSBase, lim: lim, mapper: base.NewMapper(), log: log, gate: g}}
}

type futContractsResp []struct {
	Name  string `json:"name"`
	Type  string `json:"type"`
	InDelisting bool `json:"in_delisting"`
}

func (p *Perpetual) GetAllPerpetuals(ctx context.Context) ([]domain.PerpetualTicker, error) {
	var resp futContractsResp
	if err := restjson.Get(ctx, p.lim, futRESTBase+"/api/v4/futures/usdt/contracts", nil, 1, &resp); err != nil {
		return nil, err
	}
	out := make([]domain.PerpetualTicker, 0, len(resp))
	pairs := make(map[domain.Symbol]string, len(resp))
	for _, item := range resp {
		if item.InDelisting {
			continue
		}
		parts := splitContract(item.Name)
		if parts == "" {
			continue
		}
		canon := domain.NewSymbol(parts, "USDT")
		pairs[canon] = item.Name
		out = append(out, domain.PerpetualTicker{Symbol: canon, Base: parts, Quote: "USDT", ExchangeSymbol: item.Name, Settlement: "USDT"})
	}
	p.mapper.Load(pairs)
	return out, nil
}

// splitContract extracts the base asset from a "BTC_USDT"-shaped contract name.
func splitContract(name string) string {
	for i := 0; i+5 <= len(name); i++ {
		if name[i:] == "_USDT" {
			return name[:i]
		}
	}
	return ""
}

type futTickerResp []struct {
	Contract string `json:"contract"`
	Last     string `json:"last"`
}

func (p *Perpetual) GetPrice(ctx context.Context, symbol domain.Symbol) (*domain.CurrencyPair, error) {
	native, ok := p.mapper.ToNative(symbol)
	if !ok {
		return nil, domain.ErrInvalidArgument{Msg: "unknown symbol " + symbol.String()}
	}
	var resp futTickerResp
	if err := restjson.Get(ctx, p.lim, futRESTBase+"/api/v4/futures/usdt/tickers", url.Values{"contract": {native}}, 1, &resp); err != nil {
		return nil, err
	}
	if len(resp) == 0 {
		return nil, fmt.Errorf("gate perp: no ticker for %s", native)
	}
	ratio, err := strconv.ParseFloat(resp[0].Last, 64)
	if err != nil {
		return nil, err
	}
	b, q, _ := symbol.Split()
	now := time.Now().Unix()
	return &domain.CurrencyPair{Base: b, Quote: q, Ratio: ratio, UTC: &now}, nil
}

func (p *Perpetual) GetPairs(ctx context.Context, symbols []domain.Symbol) ([]domain.CurrencyPair, error) {
	var resp futTickerResp
	if err := restjson.Get(ctx, p.lim, futRESTBase+"/api/v4/futures/usdt/tickers", nil, 1, &resp); err != nil {
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
		if len(wanted) > 0 && !wanted[item.Contract] {
			continue
		}
		canon, ok := p.mapper.ToCanonical(item.Contract)
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

func (p *Perpetual) GetDepth(ctx context.Context, symbol domain.Symbol, limit int) (*domain.BookDepth, error) {
	native, ok := p.mapper.ToNative(symbol)
	if !ok {
		return nil, domain.ErrInvalidArgument{Msg: "unknown symbol " + symbol.String()}
	}
	if limit <= 0 {
		limit = 50
	}
	var resp struct {
		Bids [][]string `json:"bids"`
		Asks [][]string `json:"asks"`
	}
	var raw struct {
		Bids []struct {
			P string `json:"p"`
			S int64  `json:"s"`
		} `json:"bids"`
		Asks []struct {
			P string `json:"p"`
			S int64  `json:"s"`
		} `json:"asks"`
		Update int64 `json:"update"`
	}
	params := url.Values{"contract": {native}, "limit": {strconv.Itoa(limit)}}
	if err := restjson.Get(ctx, p.lim, futRESTBase+"/api/v4/futures/usdt/order_book", params, 1, &raw); err != nil {
		return nil, err
	}
	_ = resp
	toLevels := func(rows []struct {
		P string `json:"p"`
		S int64  `json:"s"`
	}) []domain.BidAsk {
		out := make([]domain.BidAsk, 0, len(rows))
		for _, r := range rows {
			p, _ := strconv.ParseFloat(r.P, 64)
			out = append(out, domain.BidAsk{Price: p, Quantity: float64(r.S)})
		}
		return out
	}
	sec := raw.Update / 1000
	return &domain.BookDepth{Symbol: symbol, Bids: toLevels(raw.Bids), Asks: toLevels(raw.Asks), ExchangeSymbol: native, UTC: &sec}, nil
}

func (p *Perpetual) GetKlines(ctx context.Context, symbol domain.Symbol, limit int) ([]domain.CandleStick, error) {
	native, ok := p.mapper.ToNative(symbol)
	if !ok {
		return nil, domain.ErrInvalidArgument{Msg: "unknown symbol " + symbol.String()}
	}
	if limit <= 0 {
		limit = 500
	}
	var rows []struct {
		T   int64  `json:"t"`
		V   int64  `json:"v"`
		Sum string `json:"sum"`
		C   string `json:"c"`
		H   string `json:"h"`
		L   string `json:"l"`
		O   string `json:"o"`
	}
	params := url.Values{"contract": {native}, "interval": {"1m"}, "limit": {strconv.Itoa(limit)}, "with_stats": {"true"}}
	if err := restjson.Get(ctx, p.lim, futRESTBase+"/api/v4/futures/usdt/candlesticks", params, 1, &rows); err != nil {
		return nil, err
	}
	_, quote, _ := symbol.Split()
	stable := domain.IsStableQuote(quote)
	out := make([]domain.CandleStick, 0, len(rows))
	for _, row := range rows {
		open, _ := strconv.ParseFloat(row.O, 64)
		high, _ := strconv.ParseFloat(row.H, 64)
		low, _ := strconv.ParseFloat(row.L, 64)
		closeP, _ := strconv.ParseFloat(row.C, 64)
		var usdVol *float64
		if stable {
			if sum, err := strconv.ParseFloat(row.Sum, 64); err == nil {
				usdVol = &sum
			}
		}
		out = append(out, domain.CandleStick{UTCOpenTime: row.T, Open: open, High: high, Low: low, Close: closeP, CoinVolume: float64(row.V), USDVolume: usdVol})
	}
	return out, nil
}

type futFundingResp struct {
	FundingRate string `json:"funding_rate"`
	FundingNextApply int64 `json:"funding_next_apply"`
}

func (p *Perpetual) GetFundingRate(ctx context.Context, symbol domain.Symbol) (*domain.FundingRate, error) {
	native, ok := p.mapper.ToNative(symbol)
	if !ok {
		return nil, domain.ErrInvalidArgument{Msg: "unknown symbol " + symbol.String()}
	}
	var resp futFundingResp
	if err := restjson.Get(ctx, p.lim, futRESTBase+"/api/v4/futures/usdt/contracts/"+native, nil, 1, &resp); err != nil {
		return nil, err
	}
	rate, _ := strconv.ParseFloat(resp.FundingRate, 64)
	now := time.Now().Unix()
	return &domain.FundingRate{Symbol: symbol, Rate: rate, NextFundingUTC: resp.FundingNextApply, UTC: &now}, nil
}

func (p *Perpetual) GetFundingRateHistory(ctx context.Context, symbol domain.Symbol, limit int) ([]domain.FundingRatePoint, error) {
	native, ok := p.mapper.ToNative(symbol)
	if !ok {
		return nil, domain.ErrInvalidArgument{Msg: "unknown symbol " + symbol.String()}
	}
	if limit <= 0 {
		limit = 100
	}
	var rows []struct {
		R string `json:"r"`
		T int64  `json:"t"`
	}
	params := url.Values{"contract": {native}, "limit": {strconv.Itoa(limit)}}
	if err := restjson.Get(ctx, p.lim, futRESTBase+"/api/v4/futures/usdt/funding_rate", params, 1, &rows); err != nil {
		return nil, err
	}
	out := make([]domain.FundingRatePoint, 0, len(rows))
	for _, row := range rows {
		rate, err := strconv.ParseFloat(row.R, 64)
		if err != nil {
			continue
		}
		out = append(out, domain.FundingRatePoint{FundingTimeUTC: row.T, Rate: rate})
	}
	return out, nil
}

func (p *Perpetual) decode(_ int, data []byte) {
	var frame wsFrame
	if err := json.Unmarshal(data, &frame); err != nil || frame.Event != "update" {
		return
	}
	now := time.Now().Unix()
	switch frame.Channel {
	case "futures.book_ticker":
		var raw struct {
			S string `json:"s"` // Gate futures book_ticker may name the contract "s"; used below when "contract" is empty
			Contract string `json:"contract"`
			B float64 `json:"b"`
			BS int64 `json:"B"`
			A float64 `json:"a"`
			AS int64 `json:"A"`
		}
		if err := json.Unmarshal(frame.Result, &raw); err != nil {
			return
		}
		contract := raw.Contract
		if contract == "" {
			contract = raw.S
		}
		canon, ok := p.mapper.ToCanonical(contract)
		if !ok {
			return
		}
		p.mu.Lock()
		cb := p.cb
		p.mu.Unlock()
		if cb == nil {
			return
		}
		book := domain.BookTicker{Symbol: canon, BidPrice: raw.B, BidQty: float64(raw.BS), AskPrice: raw.A, AskQty: float64(raw.AS), UTC: &now}
		if p.gate.Allow(context.Background(), "book", canon.String()) {
			cb.Handle(&book, nil, nil)
		}
	case "futures.order_book_update":
		var raw struct {
			Contract string `json:"s"`
			Bids     []struct {
				P string `json:"p"`
				S int64  `json:"s"`
			} `json:"b"`
			Asks []struct {
				P string `json:"p"`
				S int64  `json:"s"`
			} `json:"a"`
		}
		if err := json.Unmarshal(frame.Result, &raw); err != nil {
			return
		}
		canon, ok := p.mapper.ToCanonical(raw.Contract)
		if !ok {
			return
		}
		p.mu.Lock()
		cb := p.cb
		p.mu.Unlock()
		if cb == nil {
			return
		}
		toLevels := func(rows []struct {
			P string `json:"p"`
			S int64  `json:"s"`
		}) []domain.BidAsk {
			out := make([]domain.BidAsk, 0, len(rows))
			for _, r := range rows {
				pr, _ := strconv.ParseFloat(r.P, 64)
				out = append(out, domain.BidAsk{Price: pr, Quantity: float64(r.S)})
			}
			return out
		}
		depth := domain.BookDepth{Symbol: canon, Bids: toLevels(raw.Bids), Asks: toLevels(raw.Asks), ExchangeSymbol: raw.Contract, UTC: &now}
		if p.gate.Allow(context.Background(), "depth", canon.String()) {
			cb.Handle(nil, &depth, nil)
		}
	}
}

func (p *Perpetual) Start(ctx context.Context, cb connector.Callback, symbols []domain.Symbol, depth int) error {
	return p.start(ctx, cb, symbols, "futures.order_book_update", p.decode)
}
func (p *Perpetual) Stop()                               { p.stop() }
func (p *Perpetual) Subscribe(symbols []domain.Symbol)   { p.subscribe(symbols) }
func (p *Perpetual) Unsubscribe(symbols []domain.Symbol) { p.unsubscribe(symbols) }

var (
	_ connector.Spot      = (*Spot)(nil)
	_ connector.Perpetual = (*Perpetual)(nil)
)
