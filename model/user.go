package model

import "time"

// Tier is a user's entitlement tier.
type Tier string

const (
	TierFree    Tier = "free"
	TierPremium Tier = "premium"
)

// User represents a user in the system.
type User struct {
	ID           int64      `json:"id"`
	Username     string     `json:"username"`
	Email        string     `json:"email"`
	PasswordHash string     `json:"-"` // Not exposed in API responses
	PremiumUntil *time.Time `json:"premiumUntil,omitempty"`
	CreatedAt    time.Time  `json:"createdAt"`
	UpdatedAt    time.Time  `json:"updatedAt"`
}

// TierAt derives the user's live tier at the given instant. Expired
// premium reverts to free implicitly; no downgrade write is needed.
func (u *User) TierAt(now time.Time) Tier {
	if u.PremiumUntil != nil && u.PremiumUntil.After(now) {
		return TierPremium
	}
	return TierFree
}
