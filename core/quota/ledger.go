package quota

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"melodex/logger"
	"melodex/model"
)

// ErrQuotaExceeded means a free user has used up today's deliveries.
// Policy denial: always user-visible, never retried.
var ErrQuotaExceeded = errors.New("daily quota exceeded")

// ErrTierRequired means the operation needs a premium entitlement.
var ErrTierRequired = errors.New("premium tier required")

// ConsumptionCounter is the per-user daily delivery counter.
type ConsumptionCounter interface {
	Today(ctx context.Context, userID int64) (int64, error)
	Increment(ctx context.Context, userID int64) (int64, error)
}

// userStore resolves user entitlement records.
type userStore interface {
	GetUserByID(id int64) (*model.User, error)
}

// Ledger is the single authorization point for the pipeline. It
// derives the live tier (expired premium lazily reverts to free),
// gates bulk requests and the daily cap, and picks the effective
// quality tier consumed uniformly by every request type.
//
// Authorize reserves a quota slot for free users; RecordConsumption
// confirms it after delivery and Release returns it on failure. The
// reservation makes authorize/record linearizable per user: two
// concurrent requests can never both squeeze through the last slot.
type Ledger struct {
	users   userStore
	counter ConsumptionCounter
	limit   int

	mu      sync.Mutex
	pending map[int64]int
}

// NewLedger creates a Ledger with the given free-tier daily limit.
func NewLedger(users userStore, counter ConsumptionCounter, limit int) *Ledger {
	return &Ledger{
		users:   users,
		counter: counter,
		limit:   limit,
		pending: make(map[int64]int),
	}
}

// Authorize decides whether the user may proceed and at what quality.
// Free users are always downgraded to standard regardless of what
// they asked for; premium users get what they requested. Runs before
// any expensive work.
func (l *Ledger) Authorize(ctx context.Context, userID int64, requested model.QualityTier, bulk bool) (model.QualityTier, error) {
	tier, err := l.tierOf(userID)
	if err != nil {
		return "", err
	}

	if bulk && tier != model.TierPremium {
		return "", fmt.Errorf("user %d: %w", userID, ErrTierRequired)
	}

	if tier == model.TierPremium {
		// unbounded: the cap is never consulted
		if !requested.Valid() {
			requested = model.QualityHigh
		}
		return requested, nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	used, err := l.counter.Today(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("failed to read consumption for user %d: %w", userID, err)
	}
	if used+int64(l.pending[userID]) >= int64(l.limit) {
		logger.Info("Quota exhausted",
			logger.Int64("userId", userID),
			logger.Int64("used", used),
			logger.Int("limit", l.limit))
		return "", fmt.Errorf("user %d: %w", userID, ErrQuotaExceeded)
	}
	l.pending[userID]++

	return model.QualityStandard, nil
}

// RecordConsumption confirms a reserved slot after successful
// delivery. Never called on a cache-check-only path, so the counter
// reflects data actually sent.
func (l *Ledger) RecordConsumption(ctx context.Context, userID int64) error {
	l.mu.Lock()
	if l.pending[userID] > 0 {
		l.pending[userID]--
		if l.pending[userID] == 0 {
			delete(l.pending, userID)
		}
	}
	l.mu.Unlock()

	if _, err := l.counter.Increment(ctx, userID); err != nil {
		return fmt.Errorf("failed to record consumption for user %d: %w", userID, err)
	}
	return nil
}

// Release returns a reserved slot without consuming it; called when a
// request fails after authorization. No-op for premium users, who
// never reserve.
func (l *Ledger) Release(userID int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.pending[userID] > 0 {
		l.pending[userID]--
		if l.pending[userID] == 0 {
			delete(l.pending, userID)
		}
	}
}

// Status reports the user's live tier and today's usage for the
// status endpoint. Remaining is -1 for premium (unbounded).
func (l *Ledger) Status(ctx context.Context, userID int64) (model.Tier, int64, int64, error) {
	tier, err := l.tierOf(userID)
	if err != nil {
		return "", 0, 0, err
	}

	used, err := l.counter.Today(ctx, userID)
	if err != nil {
		return "", 0, 0, fmt.Errorf("failed to read consumption for user %d: %w", userID, err)
	}

	if tier == model.TierPremium {
		return tier, used, -1, nil
	}
	remaining := int64(l.limit) - used
	if remaining < 0 {
		remaining = 0
	}
	return tier, used, remaining, nil
}

// tierOf derives the live entitlement. A user row that has not been
// seen yet counts as free.
func (l *Ledger) tierOf(userID int64) (model.Tier, error) {
	user, err := l.users.GetUserByID(userID)
	if err != nil {
		return "", fmt.Errorf("failed to load user %d: %w", userID, err)
	}
	if user == nil {
		return model.TierFree, nil
	}
	return user.TierAt(time.Now()), nil
}
