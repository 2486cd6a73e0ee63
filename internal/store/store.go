// Package store provides the shared key-value store abstraction that backs
// the Throttler (C2, cross-process) and the cached connector facade (C6,
// per-process-or-shared). It is grounded on the teacher's data/cache package,
// generalized here to carry raw bytes plus an atomic compare-and-swap style
// read-modify-write needed by the throttler.
package store

import (
	"context"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Store is a small TTL-keyed byte store with two atomic primitives
// (SetIfAbsent, TryThrottle) used to implement cross-process throttling.
type Store interface {
	// Get returns the stored value and true, or (nil, false) on miss.
	Get(ctx context.Context, key string) ([]byte, bool, error)
	// Set stores val under key with the given TTL (<=0 means no expiry).
	Set(ctx context.Context, key string, val []byte, ttl time.Duration) error
	// SetIfAbsent stores val under key only if key does not already hold a
	// live value, returning true iff this call won the race. Used by the
	// Throttler to make "may I pass" decisions atomic across replicas.
	SetIfAbsent(ctx context.Context, key string, val []byte, ttl time.Duration) (bool, error)
	// TryThrottle atomically checks whether period has elapsed since the
	// last recorded pass under key (or no record exists yet), and if so
	// stamps now and returns true, all in one round trip. A plain
	// Get-then-Set from the caller would race across replicas in the gap
	// between the two calls; this primitive closes that gap server-side
	// (spec §4.1, "a single server-side transaction").
	TryThrottle(ctx context.Context, key string, now time.Time, period, ttl time.Duration) (bool, error)
	// Del removes a key.
	Del(ctx context.Context, key string) error
}

// NewAuto returns a Redis-backed store when REDIS_ADDR is set in the
// environment, otherwise an in-process memory store. Mirrors the teacher's
// data/cache.NewAuto pattern.
func NewAuto() Store {
	return NewAutoAddr(os.Getenv("REDIS_ADDR"), 0)
}

// NewAutoAddr is NewAuto with an explicit addr/db instead of reading
// REDIS_ADDR, for callers wiring a loaded config.Config rather than the
// environment (spec §4.6).
func NewAutoAddr(addr string, db int) Store {
	if addr != "" {
		return NewRedis(redis.NewClient(&redis.Options{Addr: addr, DB: db}))
	}
	return NewMemory()
}

// --- in-memory implementation (single process only; NOT a substitute for
// the Throttler's cross-process requirement in multi-replica deployments) ---

type memEntry struct {
	val []byte
	exp time.Time
}

type memory struct {
	mu sync.Mutex
	m  map[string]memEntry
}

// NewMemory returns a process-local Store, useful for tests and for
// single-replica deployments.
func NewMemory() Store {
	return &memory{m: make(map[string]memEntry)}
}

func (m *memory) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.m[key]
	if !ok {
		return nil, false, nil
	}
	if !e.exp.IsZero() && time.Now().After(e.exp) {
		delete(m.m, key)
		return nil, false, nil
	}
	return e.val, true, nil
}

func (m *memory) Set(_ context.Context, key string, val []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := memEntry{val: append([]byte(nil), val...)}
	if ttl > 0 {
		e.exp = time.Now().Add(ttl)
	}
	m.m[key] = e
	return nil
}

func (m *memory) SetIfAbsent(_ context.Context, key string, val []byte, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.m[key]; ok && (e.exp.IsZero() || time.Now().Before(e.exp)) {
		return false, nil
	}
	e := memEntry{val: append([]byte(nil), val...)}
	if ttl > 0 {
		e.exp = time.Now().Add(ttl)
	}
	m.m[key] = e
	return true, nil
}

func (m *memory) Del(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.m, key)
	return nil
}

// TryThrottle holds the single process-wide mutex across the read and the
// conditional write, which is all the atomicity a single-process store
// needs (it is not a substitute for the Redis path in multi-replica
// deployments; see the note above the in-memory implementation).
func (m *memory) TryThrottle(_ context.Context, key string, now time.Time, period, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.m[key]; ok && (e.exp.IsZero() || now.Before(e.exp)) {
		if last, perr := strconv.ParseInt(string(e.val), 10, 64); perr == nil {
			if now.Sub(time.Unix(0, last)) < period {
				return false, nil
			}
		}
	}
	e := memEntry{val: []byte(strconv.FormatInt(now.UnixNano(), 10))}
	if ttl > 0 {
		e.exp = now.Add(ttl)
	}
	m.m[key] = e
	return true, nil
}

// --- redis-backed implementation: the real cross-process store ---

type redisStore struct{ r *redis.Client }

// NewRedis wraps an existing redis client as a Store.
func NewRedis(client *redis.Client) Store {
	return &redisStore{r: client}
}

func (r *redisStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	v, err := r.r.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return v, true, nil
}

func (r *redisStore) Set(ctx context.Context, key string, val []byte, ttl time.Duration) error {
	return r.r.Set(ctx, key, val, ttl).Err()
}

// SetIfAbsent uses Redis SETNX semantics, which are atomic server-side and
// therefore safe across concurrent process replicas.
func (r *redisStore) SetIfAbsent(ctx context.Context, key string, val []byte, ttl time.Duration) (bool, error) {
	return r.r.SetNX(ctx, key, val, ttl).Result()
}

func (r *redisStore) Del(ctx context.Context, key string) error {
	return r.r.Del(ctx, key).Err()
}

// throttleScript performs the read-modify-write that backs TryThrottle as a
// single server-side Lua transaction, so concurrent replicas calling
// TryThrottle for the same key never both observe "may pass".
var throttleScript = redis.NewScript(`
local v = redis.call('GET', KEYS[1])
local now = tonumber(ARGV[1])
local period = tonumber(ARGV[2])
local ttlms = tonumber(ARGV[3])
if v and (now - tonumber(v)) < period then
  return 0
end
if ttlms > 0 then
  redis.call('SET', KEYS[1], now, 'PX', ttlms)
else
  redis.call('SET', KEYS[1], now)
end
return 1
`)

func (r *redisStore) TryThrottle(ctx context.Context, key string, now time.Time, period, ttl time.Duration) (bool, error) {
	res, err := throttleScript.Run(ctx, r.r, []string{key},
		now.UnixNano(), period.Nanoseconds(), ttl.Milliseconds()).Int()
	if err != nil {
		return false, err
	}
	return res == 1, nil
}
