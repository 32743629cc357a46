package ratelimit

import (
	"context"
	"testing"
	"time"
)

func TestUnlimitedFastPath(t *testing.T) {
	l := New(func() int64 { return 0 })

	start := time.Now()
	if err := l.Await(context.Background(), 10_000_000); err != nil {
		t.Fatal(err)
	}
	if time.Since(start) > 50*time.Millisecond {
		t.Fatal("unlimited rate should not block")
	}
}

func TestThrottlesToRate(t *testing.T) {
	l := New(func() int64 { return 1000 }) // 1000 bytes/sec, burst 1000

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	// First call drains the burst instantly.
	if err := l.Await(ctx, 1000); err != nil {
		t.Fatal(err)
	}

	// Second call must wait roughly 500ms for 500 more bytes at 1000 B/s.
	start := time.Now()
	if err := l.Await(ctx, 500); err != nil {
		t.Fatal(err)
	}
	elapsed := time.Since(start)
	if elapsed < 300*time.Millisecond {
		t.Fatalf("expected throttling delay, got %v", elapsed)
	}
}

func TestAwaitSplitsRequestsLargerThanBurst(t *testing.T) {
	l := New(func() int64 { return 10 }) // 10 bytes/sec, burst 10

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	// A single request for 15 bytes exceeds the 10-byte burst; rate.Limiter.WaitN
	// would reject this outright if passed through unsplit. It must instead
	// drain the 10-token burst immediately, then wait roughly 500ms for the
	// remaining 5 bytes to refill at 10 B/s.
	start := time.Now()
	if err := l.Await(ctx, 15); err != nil {
		t.Fatalf("expected Await to split and succeed, got error: %v", err)
	}
	elapsed := time.Since(start)
	if elapsed < 300*time.Millisecond {
		t.Fatalf("expected throttling delay for the over-burst remainder, got %v", elapsed)
	}
}

func TestCancellationInterruptsWait(t *testing.T) {
	l := New(func() int64 { return 1 }) // very slow

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	// Drain initial burst, then request more than the rate can supply
	// before the context is canceled.
	_ = l.Await(context.Background(), 1)

	start := time.Now()
	err := l.Await(ctx, 1000)
	if err == nil {
		t.Fatal("expected context cancellation error")
	}
	if time.Since(start) > time.Second {
		t.Fatal("cancellation did not interrupt sleep promptly")
	}
}
