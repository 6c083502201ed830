package services

import (
	"context"
	"testing"
	"time"
)

var testRouteCfg = RouteConfig{
	MaxRequests:   10,
	WindowPeriod:  time.Minute,
	BlockDuration: 5 * time.Minute,
}

func TestMemoryLimiter_AllowsUpToMax(t *testing.T) {
	store := NewMemoryLimiterStore()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	for i := 1; i <= testRouteCfg.MaxRequests; i++ {
		info, err := store.Check(context.Background(), "k", testRouteCfg, now)
		if err != nil {
			t.Fatalf("check %d: %v", i, err)
		}
		if !info.Allowed {
			t.Fatalf("call %d should be allowed", i)
		}
		if want := testRouteCfg.MaxRequests - i; info.Remaining != want {
			t.Fatalf("call %d remaining = %d, want %d", i, info.Remaining, want)
		}
	}

	info, err := store.Check(context.Background(), "k", testRouteCfg, now)
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if info.Allowed {
		t.Fatalf("call %d should be denied", testRouteCfg.MaxRequests+1)
	}
	if info.BlockedUntil == nil {
		t.Fatalf("denial should install a block")
	}
	if want := now.Add(testRouteCfg.BlockDuration); !info.BlockedUntil.Equal(want) {
		t.Fatalf("blocked until %v, want %v", info.BlockedUntil, want)
	}
}

func TestMemoryLimiter_BlockOutlivesWindow(t *testing.T) {
	store := NewMemoryLimiterStore()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i <= testRouteCfg.MaxRequests; i++ {
		_, _ = store.Check(context.Background(), "k", testRouteCfg, now)
	}

	// Window has rolled over but the 5 minute block is still in force.
	later := now.Add(2 * time.Minute)
	info, err := store.Check(context.Background(), "k", testRouteCfg, later)
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if info.Allowed {
		t.Fatalf("blocked key should stay denied after window rollover")
	}

	// Past the block the key counts from zero again.
	afterBlock := now.Add(6 * time.Minute)
	info, err = store.Check(context.Background(), "k", testRouteCfg, afterBlock)
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if !info.Allowed {
		t.Fatalf("key should be admitted after the block expires")
	}
	if want := testRouteCfg.MaxRequests - 1; info.Remaining != want {
		t.Fatalf("remaining = %d, want %d", info.Remaining, want)
	}
}

func TestMemoryLimiter_KeysAreIndependent(t *testing.T) {
	store := NewMemoryLimiterStore()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i <= testRouteCfg.MaxRequests; i++ {
		_, _ = store.Check(context.Background(), "noisy", testRouteCfg, now)
	}

	info, err := store.Check(context.Background(), "quiet", testRouteCfg, now)
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if !info.Allowed {
		t.Fatalf("unrelated key should not inherit the block")
	}
}

func TestMemoryLimiter_SweepDropsExpired(t *testing.T) {
	store := NewMemoryLimiterStore()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	_, _ = store.Check(context.Background(), "a", testRouteCfg, now)
	for i := 0; i <= testRouteCfg.MaxRequests; i++ {
		_, _ = store.Check(context.Background(), "b", testRouteCfg, now)
	}

	// a's window is over; b still carries an active block.
	removed, err := store.Sweep(context.Background(), now.Add(2*time.Minute))
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if removed != 1 {
		t.Fatalf("removed = %d, want 1", removed)
	}

	// After the block lapses everything is sweepable.
	removed, err = store.Sweep(context.Background(), now.Add(10*time.Minute))
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if removed != 1 {
		t.Fatalf("removed = %d, want 1", removed)
	}
}
