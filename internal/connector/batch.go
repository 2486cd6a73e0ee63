package connector

import (
	"sync"
	"time"

	"github.com/RuSwift/arbitrage-sub000/internal/domain"
)

// DefaultBatchInterval is the batching window for "sticky" connectors that
// issue incremental subscribe/unsubscribe frames (spec §4.4).
const DefaultBatchInterval = 4 * time.Second

// ReconnectBatchInterval is the (longer) window for "reconnect-style"
// connectors, which reopen the whole socket on every flush.
const ReconnectBatchInterval = 15 * time.Second

// Applier performs the exchange-specific effect of a batch flush: it is
// handed the symbols to unsubscribe and to subscribe (unsubscribe is always
// applied first, per §4.4). Implementations are one of:
//   - a "sticky" connector that writes protocol subscribe/unsubscribe
//     frames directly onto a live socket;
//   - a "reconnect-style" connector that performs stop() then start() with
//     the full desired symbol set.
type Applier interface {
	ApplyBatch(unsub, sub []domain.Symbol)
}

// ApplierFunc adapts a function to Applier.
type ApplierFunc func(unsub, sub []domain.Symbol)

func (f ApplierFunc) ApplyBatch(unsub, sub []domain.Symbol) { f(unsub, sub) }

// BatchMixin is the subscription-batching state machine shared by every
// connector (spec §4.4). It owns exactly one mutex, held only long enough
// to mutate the two pending sets and arm a timer — never across I/O.
type BatchMixin struct {
	mu          sync.Mutex
	pendingSub  map[domain.Symbol]struct{}
	pendingUnsub map[domain.Symbol]struct{}
	timerActive bool
	timer       *time.Timer
	interval    time.Duration
	applier     Applier
}

// NewBatchMixin builds a mixin that flushes into applier every interval.
func NewBatchMixin(interval time.Duration, applier Applier) *BatchMixin {
	if interval <= 0 {
		interval = DefaultBatchInterval
	}
	return &BatchMixin{
		pendingSub:   make(map[domain.Symbol]struct{}),
		pendingUnsub: make(map[domain.Symbol]struct{}),
		interval:     interval,
		applier:      applier,
	}
}

// Subscribe queues symbols for subscription, arming a one-shot flush timer
// if none is currently running. A running timer is never reset, bounding
// the worst-case delay of any queued operation to one interval.
func (b *BatchMixin) Subscribe(symbols []domain.Symbol) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, s := range symbols {
		b.pendingSub[s] = struct{}{}
		delete(b.pendingUnsub, s)
	}
	b.armLocked()
}

// Unsubscribe mirrors Subscribe.
func (b *BatchMixin) Unsubscribe(symbols []domain.Symbol) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, s := range symbols {
		b.pendingUnsub[s] = struct{}{}
		delete(b.pendingSub, s)
	}
	b.armLocked()
}

func (b *BatchMixin) armLocked() {
	if b.timerActive {
		return
	}
	b.timerActive = true
	b.timer = time.AfterFunc(b.interval, b.fire)
}

// fire is the single flush path: snapshot-and-clear under the mutex, then
// apply outside the lock so the applier is free to do I/O (e.g. stop/start
// a whole connector) without holding up new Subscribe/Unsubscribe calls.
func (b *BatchMixin) fire() {
	b.mu.Lock()
	sub := make([]domain.Symbol, 0, len(b.pendingSub))
	for s := range b.pendingSub {
		sub = append(sub, s)
	}
	unsub := make([]domain.Symbol, 0, len(b.pendingUnsub))
	for s := range b.pendingUnsub {
		unsub = append(unsub, s)
	}
	b.pendingSub = make(map[domain.Symbol]struct{})
	b.pendingUnsub = make(map[domain.Symbol]struct{})
	b.timerActive = false
	b.mu.Unlock()

	if len(sub) == 0 && len(unsub) == 0 {
		return
	}
	// Unsubscribe before subscribe avoids transient over-subscription.
	b.applier.ApplyBatch(unsub, sub)
}

// Cancel stops any armed timer. Idempotent; safe to call from Stop().
func (b *BatchMixin) Cancel() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.timer != nil {
		b.timer.Stop()
	}
	b.timerActive = false
	b.pendingSub = make(map[domain.Symbol]struct{})
	b.pendingUnsub = make(map[domain.Symbol]struct{})
}
