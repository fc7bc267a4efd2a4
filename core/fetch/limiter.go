package fetch

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"
)

// Limiter bounds pressure on the video platform: a global concurrency
// cap plus minimum spacing between requests, shared by every worker
// in the process. No per-user distinction.
type Limiter struct {
	slots   chan struct{}
	spacing *rate.Limiter
}

// NewLimiter creates a Limiter with the given concurrency cap and
// inter-request rate.
func NewLimiter(slots int, perSecond float64) *Limiter {
	if slots < 1 {
		slots = 1
	}
	return &Limiter{
		slots:   make(chan struct{}, slots),
		spacing: rate.NewLimiter(rate.Limit(perSecond), 1),
	}
}

// Acquire blocks until a slot is free and the spacing budget allows
// another upstream request. Callers must Release the slot.
func (l *Limiter) Acquire(ctx context.Context) error {
	select {
	case l.slots <- struct{}{}:
	case <-ctx.Done():
		return fmt.Errorf("waiting for worker slot: %w", ctx.Err())
	}

	if err := l.spacing.Wait(ctx); err != nil {
		<-l.slots
		return fmt.Errorf("waiting for request spacing: %w", err)
	}
	return nil
}

// Release frees a previously acquired slot.
func (l *Limiter) Release() {
	<-l.slots
}
