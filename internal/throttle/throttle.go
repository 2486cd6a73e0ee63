// Package throttle implements the per-subject "allow at most once per T
// seconds" decision described in spec §4.1. The decision is made against a
// shared store (internal/store) so that multiple process replicas of the
// same connector class observe one another's sends.
package throttle

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/RuSwift/arbitrage-sub000/internal/metrics"
	"github.com/RuSwift/arbitrage-sub000/internal/store"
)

// Throttler decides whether a (name, tag) subject may be forwarded now.
// One Throttler instance is owned per connector class, and its key prefix
// includes that class name so independent connectors pace independently
// even though they may share the same backing store.
type Throttler struct {
	prefix  string
	period  time.Duration
	st      store.Store
	log     zerolog.Logger
	metrics *metrics.Registry
}

// New builds a Throttler for a given connector-class prefix and minimum
// inter-event period T. log is used as given.
func New(classPrefix string, period time.Duration, st store.Store, log zerolog.Logger) *Throttler {
	return &Throttler{prefix: classPrefix, period: period, st: st, log: log}
}

// SetMetrics attaches a metrics.Registry; subsequent MayPass calls record
// pass/block counts against it, labeled by class prefix and tag. Returns t
// for chaining at construction time.
func (t *Throttler) SetMetrics(m *metrics.Registry) *Throttler {
	t.metrics = m
	return t
}

func (t *Throttler) key(name, tag string) string {
	return fmt.Sprintf("%s:%s#%s", t.prefix, name, tag)
}

// MayPass returns true iff no record exists for this subject, or the last
// pass was at least T seconds ago; in that case the record is atomically
// bumped to now via the store's single server-side transaction (§4.1), so
// multiple process replicas racing on the same subject never both pass. On
// any store error it fails closed (returns false) and logs a warning, per
// §4.1's "dropping an event is safer than bursting" policy.
func (t *Throttler) MayPass(ctx context.Context, name, tag string) bool {
	key := t.key(name, tag)
	ok, err := t.st.TryThrottle(ctx, key, time.Now(), t.period, 2*t.period)
	if err != nil {
		t.log.Warn().Err(err).Str("key", key).Msg("throttle store transaction failed, failing closed")
		return false
	}
	if t.metrics != nil {
		if ok {
			t.metrics.ThrottlePasses.WithLabelValues(t.prefix, tag).Inc()
		} else {
			t.metrics.ThrottleBlocks.WithLabelValues(t.prefix, tag).Inc()
		}
	}
	return ok
}

// SoonTimeout returns max(0, T - (now - last)).
func (t *Throttler) SoonTimeout(ctx context.Context, name, tag string) time.Duration {
	raw, ok, err := t.st.Get(ctx, t.key(name, tag))
	if err != nil || !ok {
		return 0
	}
	last, perr := parseUnixNano(raw)
	if perr != nil {
		return 0
	}
	remaining := t.period - time.Since(last)
	if remaining < 0 {
		return 0
	}
	return remaining
}

func parseUnixNano(b []byte) (time.Time, error) {
	n, err := strconv.ParseInt(string(b), 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.Unix(0, n), nil
}
