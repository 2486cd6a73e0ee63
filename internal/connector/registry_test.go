package connector

import (
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/RuSwift/arbitrage-sub000/internal/domain"
)

func TestNewSpot_AllTagsWithSpotVariant(t *testing.T) {
	for _, tag := range AllTags {
		if tag.Kind != domain.KindSpot {
			continue
		}
		s, err := NewSpot(tag, time.Second, nil, nil, zerolog.Nop())
		if err != nil {
			t.Fatalf("NewSpot(%s) returned error: %v", tag, err)
		}
		if s == nil {
			t.Fatalf("NewSpot(%s) returned nil connector", tag)
		}
	}
}

func TestNewPerpetual_AllTagsWithPerpVariant(t *testing.T) {
	for _, tag := range AllTags {
		if tag.Kind != domain.KindPerpetual {
			continue
		}
		p, err := NewPerpetual(tag, time.Second, nil, nil, zerolog.Nop())
		if err != nil {
			t.Fatalf("NewPerpetual(%s) returned error: %v", tag, err)
		}
		if p == nil {
			t.Fatalf("NewPerpetual(%s) returned nil connector", tag)
		}
	}
}

func TestNewSpot_UnsupportedTag(t *testing.T) {
	_, err := NewSpot(Tag{Exchange: "unknown", Kind: domain.KindSpot}, time.Second, nil, nil, zerolog.Nop())
	if err == nil {
		t.Fatal("expected an error for an unregistered tag")
	}
}

func TestParseTag(t *testing.T) {
	if _, ok := ParseTag(domain.ExchangeBinance, domain.KindSpot); !ok {
		t.Fatal("expected binance/spot to resolve")
	}
	if _, ok := ParseTag(domain.ExchangeID("nope"), domain.KindSpot); ok {
		t.Fatal("expected an unknown exchange to fail to resolve")
	}
}

func TestTag_String(t *testing.T) {
	if got := TagBinanceSpot.String(); got != "binance/spot" {
		t.Fatalf("Tag.String() = %s, want binance/spot", got)
	}
}
