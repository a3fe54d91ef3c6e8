package rate

import (
	"context"
	"testing"
	"time"
)

func TestLimiter_AllowWithinBurst(t *testing.T) {
	lim := New(Config{RequestsPerSecond: 1, Burst: 3})

	for i := 0; i < 3; i++ {
		if !lim.Allow() {
			t.Fatalf("request %d within burst should be allowed", i)
		}
	}
	if lim.Allow() {
		t.Fatal("request beyond burst should be blocked")
	}
}

func TestLimiter_RefillsOverTime(t *testing.T) {
	lim := New(Config{RequestsPerSecond: 20, Burst: 1})

	if !lim.Allow() {
		t.Fatal("first request should pass")
	}
	if lim.Allow() {
		t.Fatal("bucket should be empty")
	}

	time.Sleep(100 * time.Millisecond)

	if !lim.Allow() {
		t.Fatal("bucket should have refilled")
	}
}

func TestLimiter_WaitHonorsContext(t *testing.T) {
	lim := New(Config{RequestsPerSecond: 0, Burst: 0})

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	if err := lim.Wait(ctx); err == nil {
		t.Fatal("expected context deadline error")
	}
}

func TestManager_PerKeyIsolation(t *testing.T) {
	mgr := NewManager(Config{RequestsPerSecond: 1, Burst: 1})

	if !mgr.Allow("10.0.0.1") {
		t.Fatal("first caller should pass")
	}
	if mgr.Allow("10.0.0.1") {
		t.Fatal("first caller should now be blocked")
	}
	if !mgr.Allow("10.0.0.2") {
		t.Fatal("a different caller must have its own bucket")
	}
}

func TestManager_ReusesLimiter(t *testing.T) {
	mgr := NewManager(Config{RequestsPerSecond: 1, Burst: 5})

	a := mgr.GetLimiter("k")
	b := mgr.GetLimiter("k")
	if a != b {
		t.Fatal("expected the same limiter instance per key")
	}
}
