package ratelimit

import (
	"sync"
	"testing"
	"time"
)

func TestCheckAllowsUnderLimit(t *testing.T) {
	l := New(60 * time.Second)
	for i := 0; i < 5; i++ {
		d := l.Check("client-a", 5)
		if !d.Allowed {
			t.Fatalf("request %d: expected allowed", i)
		}
	}
}

func TestCheckRejectsOverLimit(t *testing.T) {
	l := New(60 * time.Second)
	for i := 0; i < 3; i++ {
		if d := l.Check("client-a", 3); !d.Allowed {
			t.Fatalf("request %d: expected allowed", i)
		}
	}
	d := l.Check("client-a", 3)
	if d.Allowed {
		t.Fatal("expected 4th request to be rejected")
	}
	if d.Remaining != 0 {
		t.Fatalf("expected 0 remaining, got %d", d.Remaining)
	}
}

func TestRejectedRequestDoesNotConsumeSlot(t *testing.T) {
	now := time.Now()
	clock := func() time.Time { return now }
	l := New(60*time.Second, WithClock(clock))
	l.Check("client-a", 1)
	for i := 0; i < 5; i++ {
		now = now.Add(10 * time.Second)
		l.Check("client-a", 1) // all rejected, must not keep extending the window
	}
	d := l.Check("client-a", 1)
	if d.Allowed {
		t.Fatal("limit should still be exhausted by the single original request")
	}
	now = now.Add(11 * time.Second)
	if d := l.Check("client-a", 1); !d.Allowed {
		t.Fatal("expected a slot once the original request leaves the window; rejected requests must not hold slots")
	}
}

func TestCheckWindowSlides(t *testing.T) {
	now := time.Now()
	clock := func() time.Time { return now }
	l := New(10*time.Second, WithClock(clock))

	for i := 0; i < 2; i++ {
		if d := l.Check("client-a", 2); !d.Allowed {
			t.Fatalf("request %d: expected allowed", i)
		}
	}
	if d := l.Check("client-a", 2); d.Allowed {
		t.Fatal("expected 3rd request to be rejected within window")
	}

	now = now.Add(11 * time.Second)
	if d := l.Check("client-a", 2); !d.Allowed {
		t.Fatal("expected request allowed after window slides past")
	}
}

func TestCheckIndependentClients(t *testing.T) {
	l := New(60 * time.Second)
	for i := 0; i < 3; i++ {
		l.Check("client-a", 3)
	}
	if d := l.Check("client-b", 3); !d.Allowed {
		t.Fatal("client-b should have its own independent bucket")
	}
}

func TestEvictRemovesIdleBuckets(t *testing.T) {
	now := time.Now()
	clock := func() time.Time { return now }
	l := New(60*time.Second, WithClock(clock), WithIdleEviction(5*time.Second))

	l.Check("client-a", 10)
	if len(l.buckets) != 1 {
		t.Fatalf("expected 1 bucket, got %d", len(l.buckets))
	}

	now = now.Add(10 * time.Second)
	l.Evict()
	if len(l.buckets) != 0 {
		t.Fatalf("expected bucket evicted after idle TTL, got %d remaining", len(l.buckets))
	}
}

func TestCheckConcurrentSameClient(t *testing.T) {
	l := New(60 * time.Second)
	var wg sync.WaitGroup
	var mu sync.Mutex
	allowed := 0

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d := l.Check("client-a", 20)
			if d.Allowed {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if allowed != 20 {
		t.Fatalf("expected exactly 20 allowed out of 50 concurrent requests, got %d", allowed)
	}
}
