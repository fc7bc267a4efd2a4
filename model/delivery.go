package model

import "time"

// Delivery is one successful artifact delivery to a user. Kept as an
// audit log; quota enforcement reads the Redis counters, not this
// table.
type Delivery struct {
	ID        int64       `json:"id" gorm:"primaryKey"`
	UserID    int64       `json:"userId" gorm:"index"`
	CacheKey  string      `json:"cacheKey" gorm:"size:64;index"`
	CatalogID string      `json:"catalogId" gorm:"size:64"`
	Location  string      `json:"location" gorm:"size:255"`
	Tier      QualityTier `json:"tier" gorm:"size:16"`
	Bitrate   int         `json:"bitrate"`
	FromCache bool        `json:"fromCache"`
	CreatedAt time.Time   `json:"createdAt"`
}

// TableName sets the GORM table name.
func (Delivery) TableName() string {
	return "deliveries"
}
