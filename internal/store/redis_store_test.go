package store

import (
	"context"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
)

func TestRedisStore_Get(t *testing.T) {
	db, mock := redismock.NewClientMock()
	s := NewRedis(db)
	ctx := context.Background()

	t.Run("hit", func(t *testing.T) {
		mock.ExpectGet("k").SetVal("v")
		val, ok, err := s.Get(ctx, "k")
		if err != nil || !ok || string(val) != "v" {
			t.Fatalf("Get() = %q, %v, %v, want v, true, nil", val, ok, err)
		}
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Fatalf("redis expectations not met: %v", err)
		}
	})

	t.Run("miss", func(t *testing.T) {
		mock.ExpectGet("missing").RedisNil()
		_, ok, err := s.Get(ctx, "missing")
		if err != nil || ok {
			t.Fatalf("expected miss, got ok=%v err=%v", ok, err)
		}
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Fatalf("redis expectations not met: %v", err)
		}
	})
}

func TestRedisStore_Set(t *testing.T) {
	db, mock := redismock.NewClientMock()
	s := NewRedis(db)
	mock.ExpectSet("k", []byte("v"), time.Minute).SetVal("OK")
	if err := s.Set(context.Background(), "k", []byte("v"), time.Minute); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("redis expectations not met: %v", err)
	}
}

func TestRedisStore_SetIfAbsent(t *testing.T) {
	db, mock := redismock.NewClientMock()
	s := NewRedis(db)
	ctx := context.Background()

	mock.ExpectSetNX("k", []byte("v"), time.Minute).SetVal(true)
	won, err := s.SetIfAbsent(ctx, "k", []byte("v"), time.Minute)
	if err != nil || !won {
		t.Fatalf("expected SetIfAbsent to win, got won=%v err=%v", won, err)
	}

	mock.ExpectSetNX("k", []byte("other"), time.Minute).SetVal(false)
	won, err = s.SetIfAbsent(ctx, "k", []byte("other"), time.Minute)
	if err != nil || won {
		t.Fatalf("expected second SetIfAbsent to lose, got won=%v err=%v", won, err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("redis expectations not met: %v", err)
	}
}

func TestRedisStore_Del(t *testing.T) {
	db, mock := redismock.NewClientMock()
	s := NewRedis(db)
	mock.ExpectDel("k").SetVal(1)
	if err := s.Del(context.Background(), "k"); err != nil {
		t.Fatalf("Del failed: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("redis expectations not met: %v", err)
	}
}

// TestRedisStore_TryThrottle exercises the Lua-backed atomic path. redismock
// matches EVAL calls by script body, so this pins down that TryThrottle keeps
// dispatching the same throttleScript rather than drifting to a multi-command
// read-modify-write that would no longer be atomic across replicas.
func TestRedisStore_TryThrottle(t *testing.T) {
	db, mock := redismock.NewClientMock()
	s := NewRedis(db)
	ctx := context.Background()
	now := time.Now()

	// redis.Script.Run tries EVALSHA first (and only falls back to EVAL on a
	// NOSCRIPT miss), so the mock must expect EVALSHA here.
	mock.ExpectEvalSha(throttleScript.Hash(), []string{"k"}, now.UnixNano(), time.Hour.Nanoseconds(), int64(0)).SetVal(int64(1))
	ok, err := s.TryThrottle(ctx, "k", now, time.Hour, 0)
	if err != nil || !ok {
		t.Fatalf("expected first TryThrottle to pass, got ok=%v err=%v", ok, err)
	}

	blockedNow := now.Add(time.Second)
	mock.ExpectEvalSha(throttleScript.Hash(), []string{"k"}, blockedNow.UnixNano(), time.Hour.Nanoseconds(), int64(0)).SetVal(int64(0))
	ok, err = s.TryThrottle(ctx, "k", blockedNow, time.Hour, 0)
	if err != nil || ok {
		t.Fatalf("expected second TryThrottle within the period to be blocked, got ok=%v err=%v", ok, err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("redis expectations not met: %v", err)
	}
}

func TestNewAutoAddr_WithAddrReturnsRedisStore(t *testing.T) {
	s := NewAutoAddr("localhost:6379", 0)
	if _, ok := s.(*redisStore); !ok {
		t.Fatalf("expected NewAutoAddr with a non-empty addr to return the redis store, got %T", s)
	}
}
