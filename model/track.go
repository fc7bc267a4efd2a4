package model

import "time"

// QualityTier is the audio quality a request is served at.
type QualityTier string

const (
	// QualityStandard is the 128 kbps tier served to free users.
	QualityStandard QualityTier = "standard"
	// QualityHigh is the 320 kbps tier available to premium users.
	QualityHigh QualityTier = "high"
)

// Valid reports whether the tier is one of the known values.
func (q QualityTier) Valid() bool {
	return q == QualityStandard || q == QualityHigh
}

// TrackIdentity is the canonical identity of a catalog track.
// Title and Artist are normalized at resolve time so equivalent
// catalog entries converge on the same cache key. Immutable once
// resolved.
type TrackIdentity struct {
	CatalogID string `json:"catalogId"`
	Title     string `json:"title"`
	Artist    string `json:"artist"`
	Album     string `json:"album,omitempty"`
	Duration  int    `json:"duration"` // seconds
	Position  int    `json:"position,omitempty"` // ordinal within an album/playlist
}

// MatchCandidate is a search hit from the video platform scored
// against a requested track. Transient, never persisted.
type MatchCandidate struct {
	SourceID string  `json:"sourceId"`
	Title    string  `json:"title"`
	Duration int     `json:"duration"` // seconds as reported by the platform
	URL      string  `json:"url"`
	Score    float64 `json:"score"`
}

// Artifact is a produced audio object. Immutable after creation;
// a standard and a high artifact for the same track coexist as
// distinct cache entries.
type Artifact struct {
	Location  string      `json:"location"` // object name in durable storage
	Size      int64       `json:"size"`
	Duration  float32     `json:"duration"` // seconds
	Tier      QualityTier `json:"tier"`
	Bitrate   int         `json:"bitrate"` // kbps
	CreatedAt time.Time   `json:"createdAt"`
}
