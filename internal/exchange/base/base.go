// Package base collects the bookkeeping every per-exchange connector
// needs but none of them should have to rewrite: a concurrent-safe
// canonical/native symbol table, and the active/cancel guard around
// Start/Stop. Wire decoding and REST calls stay in each exchange package,
// since that is the part the spec actually calls out as venue-specific.
package base

import (
	"context"
	"sync"

	"github.com/RuSwift/arbitrage-sub000/internal/domain"
	"github.com/RuSwift/arbitrage-sub000/internal/throttle"
)

// Gate wraps the per-subject Throttler (spec §4.1) so every connector's WS
// decode path can apply it uniformly: pass through Allow before delivering a
// book/depth/kline update to the caller's Callback. A nil or unset Gate (the
// zero value) allows everything, so connectors built without a shared store
// (e.g. in unit tests) behave exactly as before this was introduced.
type Gate struct {
	th *throttle.Throttler
}

// NewGate wraps t. t may be nil, in which case Allow always returns true.
func NewGate(t *throttle.Throttler) *Gate {
	return &Gate{th: t}
}

// Allow reports whether an update of the given tag ("book", "depth",
// "kline") for subject (the canonical or native symbol) may be forwarded
// now. Spot and perpetual streams sharing one store are kept apart by the
// Throttler's own key prefix.
func (g *Gate) Allow(ctx context.Context, tag, subject string) bool {
	if g == nil || g.th == nil {
		return true
	}
	return g.th.MayPass(ctx, tag, subject)
}

// Mapper is a simple two-way symbol table built from the exchange's own
// pair listing, satisfying connector.SymbolMapper.
type Mapper struct {
	mu       sync.RWMutex
	toNative map[domain.Symbol]string
	toCanon  map[string]domain.Symbol
}

func NewMapper() *Mapper {
	return &Mapper{toNative: make(map[domain.Symbol]string), toCanon: make(map[string]domain.Symbol)}
}

// Load replaces the table wholesale; connectors call this after every
// GetAllTickers/GetAllPerpetuals refresh.
func (m *Mapper) Load(pairs map[domain.Symbol]string) {
	toNative := make(map[domain.Symbol]string, len(pairs))
	toCanon := make(map[string]domain.Symbol, len(pairs))
	for sym, native := range pairs {
		toNative[sym] = native
		toCanon[native] = sym
	}
	m.mu.Lock()
	m.toNative, m.toCanon = toNative, toCanon
	m.mu.Unlock()
}

func (m *Mapper) ToNative(symbol domain.Symbol) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n, ok := m.toNative[symbol]
	return n, ok
}

func (m *Mapper) ToCanonical(native string) (domain.Symbol, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if s, ok := m.toCanon[native]; ok {
		return s, true
	}
	if _, ok := m.toNative[domain.Symbol(native)]; ok {
		return domain.Symbol(native), true
	}
	return "", false
}

func (m *Mapper) Known() []domain.Symbol {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.Symbol, 0, len(m.toNative))
	for s := range m.toNative {
		out = append(out, s)
	}
	return out
}

// StreamState guards the active/cancel lifecycle shared by every
// Streaming.Start/Stop implementation, so each connector only has to
// provide the dial/teardown specifics.
type StreamState struct {
	mu     sync.Mutex
	active bool
	cancel context.CancelFunc
}

// Begin marks the stream active, returning domain.ErrInvalidArgument if it
// already is one. On success it returns a child context whose cancel func
// is stored for Stop/End to call.
func (s *StreamState) Begin(parent context.Context) (context.Context, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active {
		return nil, domain.ErrInvalidArgument{Msg: "stream already active"}
	}
	ctx, cancel := context.WithCancel(parent)
	s.active = true
	s.cancel = cancel
	return ctx, nil
}

// End idempotently tears the stream down.
func (s *StreamState) End() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.active {
		return
	}
	s.active = false
	if s.cancel != nil {
		s.cancel()
	}
}

func (s *StreamState) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}
