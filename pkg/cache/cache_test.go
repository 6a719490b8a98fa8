package cache

import (
	"context"
	"testing"
	"time"
)

func TestMemorySetNXClaimsOnce(t *testing.T) {
	c := NewMemory(time.Minute)
	ctx := context.Background()

	set, err := c.SetNX(ctx, "cooldown:org:site:check", "1", time.Minute)
	if err != nil {
		t.Fatalf("first SetNX: %v", err)
	}
	if !set {
		t.Fatal("expected first SetNX to claim the key")
	}

	set, err = c.SetNX(ctx, "cooldown:org:site:check", "1", time.Minute)
	if err != nil {
		t.Fatalf("second SetNX: %v", err)
	}
	if set {
		t.Fatal("expected second SetNX to be suppressed")
	}
}

func TestMemoryDeleteReportsExistence(t *testing.T) {
	c := NewMemory(time.Minute)
	ctx := context.Background()

	existed, err := c.Delete(ctx, "missing")
	if err != nil {
		t.Fatalf("delete missing: %v", err)
	}
	if existed {
		t.Fatal("missing key reported as existing")
	}

	if err := c.Set(ctx, "k", "v", 0); err != nil {
		t.Fatalf("set: %v", err)
	}
	existed, err = c.Delete(ctx, "k")
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if !existed {
		t.Fatal("expected delete to report the key existed")
	}
}

func TestMemoryExpiry(t *testing.T) {
	now := time.Now()
	c := NewMemoryWithClock(time.Minute, func() time.Time { return now })
	ctx := context.Background()

	if err := c.Set(ctx, "k", "v", 10*time.Second); err != nil {
		t.Fatalf("set: %v", err)
	}

	ok, _ := c.Exists(ctx, "k")
	if !ok {
		t.Fatal("key should exist before expiry")
	}

	now = now.Add(11 * time.Second)
	ok, _ = c.Exists(ctx, "k")
	if ok {
		t.Fatal("key should be expired")
	}

	// An expired key must be claimable again.
	set, err := c.SetNX(ctx, "k", "v", 10*time.Second)
	if err != nil || !set {
		t.Fatalf("expected SetNX after expiry to claim, set=%v err=%v", set, err)
	}
}
