package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"melodex/model"

	"github.com/go-redis/redis/v8"
)

// durationBucket groups track durations into 2 second buckets so
// near-equal durations from different catalog entries derive the
// same cache key.
const durationBucket = 2

// KeyFor derives the cache key for a (track identity, quality tier)
// pair. Deterministic: the requester never influences the key. The
// catalog id is deliberately left out so equivalent entries with the
// same normalized title/artist and close durations converge.
func KeyFor(t *model.TrackIdentity, tier model.QualityTier) string {
	raw := strings.Join([]string{
		t.Title,
		t.Artist,
		fmt.Sprintf("%d", t.Duration/durationBucket),
		string(tier),
	}, "|")
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:16])
}

// artifactKey builds the Redis key for a cache entry.
func artifactKey(key string) string {
	return fmt.Sprintf("artifact:%s", key)
}

// ArtifactCache is the content-addressed index mapping cache keys to
// produced artifacts. It holds storage references, never audio bytes.
type ArtifactCache struct {
	client *redis.Client
}

// NewArtifactCache creates an ArtifactCache on the shared client.
func NewArtifactCache() *ArtifactCache {
	return &ArtifactCache{client: RedisClient}
}

// Get looks up an artifact by cache key. Returns (nil, nil) on a miss.
func (c *ArtifactCache) Get(ctx context.Context, key string) (*model.Artifact, error) {
	data, err := c.client.Get(ctx, artifactKey(key)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get artifact %s: %w", key, err)
	}

	var artifact model.Artifact
	if err := json.Unmarshal([]byte(data), &artifact); err != nil {
		return nil, fmt.Errorf("failed to unmarshal artifact %s: %w", key, err)
	}
	return &artifact, nil
}

// Put registers an artifact under the cache key. First writer wins:
// putting an already-registered key is a no-op success, never an
// overwrite. Entries are not expired here; retention is storage
// housekeeping's concern.
func (c *ArtifactCache) Put(ctx context.Context, key string, artifact *model.Artifact) error {
	data, err := json.Marshal(artifact)
	if err != nil {
		return fmt.Errorf("failed to marshal artifact %s: %w", key, err)
	}

	// SETNX keeps put idempotent under concurrent producers.
	_, err = c.client.SetNX(ctx, artifactKey(key), data, 0).Result()
	if err != nil {
		return fmt.Errorf("failed to put artifact %s: %w", key, err)
	}
	return nil
}
