package ratelimit

import (
	"testing"
	"time"
)

func newTestLimiter(capacity int, every time.Duration, amount int) (*Limiter, *time.Time) {
	l := New(capacity, every, amount)
	now := time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)
	l.nowFn = func() time.Time { return now }
	return l, &now
}

func TestConsumeExhaustsBucket(t *testing.T) {
	l, _ := newTestLimiter(3, time.Minute, 3)
	defer l.Stop()

	for i := 0; i < 3; i++ {
		d := l.Consume("caller")
		if !d.Allowed {
			t.Fatalf("consume %d: expected allowed", i)
		}
		if d.Remaining != 2-i {
			t.Fatalf("consume %d: remaining = %d, want %d", i, d.Remaining, 2-i)
		}
	}

	d := l.Consume("caller")
	if d.Allowed {
		t.Fatal("expected fourth consume to be denied")
	}
	if d.MsUntilReset <= 0 || d.MsUntilReset > time.Minute.Milliseconds() {
		t.Fatalf("msUntilReset = %d, want (0, 60000]", d.MsUntilReset)
	}
}

func TestLazyRefill(t *testing.T) {
	l, now := newTestLimiter(2, time.Minute, 1)
	defer l.Stop()

	l.Consume("c")
	l.Consume("c")
	if d := l.Consume("c"); d.Allowed {
		t.Fatal("bucket should be empty")
	}

	// Two intervals elapse; two tokens are credited.
	*now = now.Add(2 * time.Minute)
	if d := l.Consume("c"); !d.Allowed || d.Remaining != 1 {
		t.Fatalf("after refill: %+v", d)
	}
}

func TestRefillCappedAtCapacity(t *testing.T) {
	l, now := newTestLimiter(2, time.Minute, 5)
	defer l.Stop()

	l.Consume("c")
	*now = now.Add(10 * time.Minute)

	d := l.Consume("c")
	if !d.Allowed || d.Remaining != 1 {
		t.Fatalf("expected capacity-capped refill, got %+v", d)
	}
}

func TestIndependentIdentities(t *testing.T) {
	l, _ := newTestLimiter(1, time.Minute, 1)
	defer l.Stop()

	if d := l.Consume("a"); !d.Allowed {
		t.Fatal("a should be allowed")
	}
	if d := l.Consume("a"); d.Allowed {
		t.Fatal("a should now be denied")
	}
	if d := l.Consume("b"); !d.Allowed {
		t.Fatal("b has its own bucket")
	}
}

func TestCleanupEvictsIdleBuckets(t *testing.T) {
	l, now := newTestLimiter(1, time.Minute, 1)
	defer l.Stop()

	l.Consume("idle")
	*now = now.Add(11 * time.Minute)
	l.cleanup()

	l.mu.Lock()
	_, ok := l.buckets["idle"]
	l.mu.Unlock()
	if ok {
		t.Fatal("idle bucket should have been evicted")
	}
}
