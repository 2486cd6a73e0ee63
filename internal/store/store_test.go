package store

import (
	"context"
	"testing"
	"time"
)

func TestMemory_SetGet(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()
	if err := s.Set(ctx, "k", []byte("v"), 0); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	val, ok, err := s.Get(ctx, "k")
	if err != nil || !ok || string(val) != "v" {
		t.Fatalf("Get() = %q, %v, %v, want v, true, nil", val, ok, err)
	}
}

func TestMemory_GetMiss(t *testing.T) {
	s := NewMemory()
	_, ok, err := s.Get(context.Background(), "missing")
	if err != nil || ok {
		t.Fatalf("expected miss, got ok=%v err=%v", ok, err)
	}
}

func TestMemory_TTLExpiry(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()
	if err := s.Set(ctx, "k", []byte("v"), 10*time.Millisecond); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	time.Sleep(30 * time.Millisecond)
	_, ok, err := s.Get(ctx, "k")
	if err != nil || ok {
		t.Fatalf("expected key to have expired, got ok=%v err=%v", ok, err)
	}
}

func TestMemory_SetIfAbsent(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()
	won, err := s.SetIfAbsent(ctx, "k", []byte("first"), 0)
	if err != nil || !won {
		t.Fatalf("expected first SetIfAbsent to win, got won=%v err=%v", won, err)
	}
	won, err = s.SetIfAbsent(ctx, "k", []byte("second"), 0)
	if err != nil || won {
		t.Fatalf("expected second SetIfAbsent to lose, got won=%v err=%v", won, err)
	}
	val, _, _ := s.Get(ctx, "k")
	if string(val) != "first" {
		t.Fatalf("expected the winning value to stick, got %q", val)
	}
}

func TestMemory_Del(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()
	_ = s.Set(ctx, "k", []byte("v"), 0)
	if err := s.Del(ctx, "k"); err != nil {
		t.Fatalf("Del failed: %v", err)
	}
	_, ok, _ := s.Get(ctx, "k")
	if ok {
		t.Fatal("expected key to be gone after Del")
	}
}

func TestMemory_TryThrottle(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()
	now := time.Now()
	ok, err := s.TryThrottle(ctx, "k", now, time.Hour, 0)
	if err != nil || !ok {
		t.Fatalf("expected first TryThrottle to pass, got ok=%v err=%v", ok, err)
	}
	ok, err = s.TryThrottle(ctx, "k", now.Add(time.Second), time.Hour, 0)
	if err != nil || ok {
		t.Fatalf("expected second TryThrottle within the period to be blocked, got ok=%v err=%v", ok, err)
	}
	ok, err = s.TryThrottle(ctx, "k", now.Add(2*time.Hour), time.Hour, 0)
	if err != nil || !ok {
		t.Fatalf("expected TryThrottle after the period elapsed to pass, got ok=%v err=%v", ok, err)
	}
}

func TestNewAutoAddr_EmptyFallsBackToMemory(t *testing.T) {
	s := NewAutoAddr("", 0)
	if _, ok := s.(*memory); !ok {
		t.Fatalf("expected NewAutoAddr(\"\") to return the memory store, got %T", s)
	}
}
