package domain

import "testing"

func TestNewSymbol_UpperCases(t *testing.T) {
	s := NewSymbol("btc", "usdt")
	if s != "BTC/USDT" {
		t.Fatalf("expected BTC/USDT, got %s", s)
	}
}

func TestSymbol_Split(t *testing.T) {
	base, quote, ok := Symbol("ETH/USDC").Split()
	if !ok || base != "ETH" || quote != "USDC" {
		t.Fatalf("expected ETH/USDC split, got %s/%s ok=%v", base, quote, ok)
	}
}

func TestSymbol_Split_Invalid(t *testing.T) {
	if _, _, ok := Symbol("BTCUSDT").Split(); ok {
		t.Fatal("expected split of symbol without separator to fail")
	}
}

func TestBidAsk_Valid(t *testing.T) {
	cases := []struct {
		name string
		lvl  BidAsk
		want bool
	}{
		{"positive price zero qty", BidAsk{Price: 1, Quantity: 0}, true},
		{"zero price", BidAsk{Price: 0, Quantity: 1}, false},
		{"negative qty", BidAsk{Price: 1, Quantity: -1}, false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := c.lvl.Valid(); got != c.want {
				t.Fatalf("Valid() = %v, want %v", got, c.want)
			}
		})
	}
}

func TestBookTicker_Valid(t *testing.T) {
	cases := []struct {
		name string
		bt   BookTicker
		want bool
	}{
		{"normal spread", BookTicker{BidPrice: 10, AskPrice: 11}, true},
		{"crossed book", BookTicker{BidPrice: 11, AskPrice: 10}, false},
		{"negative bid qty", BookTicker{BidPrice: 1, AskPrice: 2, BidQty: -1}, false},
		{"zero sides allowed", BookTicker{}, true},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := c.bt.Valid(); got != c.want {
				t.Fatalf("Valid() = %v, want %v", got, c.want)
			}
		})
	}
}

func TestBookDepth_Valid(t *testing.T) {
	ok := BookDepth{
		Bids: []BidAsk{{Price: 10}, {Price: 9}, {Price: 8}},
		Asks: []BidAsk{{Price: 11}, {Price: 12}, {Price: 13}},
	}
	if !ok.Valid() {
		t.Fatal("expected properly ordered book to be valid")
	}
	badBids := BookDepth{Bids: []BidAsk{{Price: 9}, {Price: 10}}}
	if badBids.Valid() {
		t.Fatal("expected ascending bids to be invalid")
	}
	badAsks := BookDepth{Asks: []BidAsk{{Price: 12}, {Price: 11}}}
	if badAsks.Valid() {
		t.Fatal("expected descending asks to be invalid")
	}
}

func TestCandleStick_Valid(t *testing.T) {
	if !(CandleStick{Low: 1, High: 10, Open: 5, Close: 6}).Valid() {
		t.Fatal("expected candle within range to be valid")
	}
	if (CandleStick{Low: 5, High: 10, Open: 1, Close: 6}).Valid() {
		t.Fatal("expected open below low to be invalid")
	}
	if (CandleStick{Low: 1, High: 5, Open: 2, Close: 6}).Valid() {
		t.Fatal("expected close above high to be invalid")
	}
}

func TestIsStableQuote(t *testing.T) {
	if !IsStableQuote("usdt") {
		t.Fatal("expected USDT to be a stable quote, case-insensitively")
	}
	if IsStableQuote("BTC") {
		t.Fatal("expected BTC to not be a stable quote")
	}
}

func TestCacheKey(t *testing.T) {
	got := CacheKey(ExchangeBinance, KindSpot, "get_price", "BTC/USDT")
	want := "binance:spot:get_price:BTC/USDT"
	if got != want {
		t.Fatalf("CacheKey() = %s, want %s", got, want)
	}
}

func TestCurrencyPair_Symbol(t *testing.T) {
	p := CurrencyPair{Base: "btc", Quote: "usdt"}
	if p.Symbol() != "BTC/USDT" {
		t.Fatalf("expected BTC/USDT, got %s", p.Symbol())
	}
}

func TestErrInvalidArgument_Error(t *testing.T) {
	err := ErrInvalidArgument{Msg: "bad thing"}
	if err.Error() != "invalid argument: bad thing" {
		t.Fatalf("unexpected error message: %s", err.Error())
	}
}
