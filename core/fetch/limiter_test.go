package fetch

import (
	"context"
	"testing"
	"time"
)

func TestLimiterConcurrencyCap(t *testing.T) {
	l := NewLimiter(1, 1000)

	if err := l.Acquire(context.Background()); err != nil {
		t.Fatalf("first acquire failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := l.Acquire(ctx); err == nil {
		t.Fatal("second acquire should block while the slot is held")
	}

	l.Release()

	if err := l.Acquire(context.Background()); err != nil {
		t.Fatalf("acquire after release failed: %v", err)
	}
	l.Release()
}

func TestLimiterSpacing(t *testing.T) {
	// 10 rps spacing: the second acquire must wait roughly 100ms
	l := NewLimiter(2, 10)

	start := time.Now()
	if err := l.Acquire(context.Background()); err != nil {
		t.Fatalf("acquire failed: %v", err)
	}
	if err := l.Acquire(context.Background()); err != nil {
		t.Fatalf("acquire failed: %v", err)
	}
	elapsed := time.Since(start)

	if elapsed < 50*time.Millisecond {
		t.Errorf("expected spacing between acquisitions, elapsed %v", elapsed)
	}
	l.Release()
	l.Release()
}
