package pipeline

import (
	"context"
	"fmt"
	"time"

	"melodex/cache"
	"melodex/logger"
	"melodex/model"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

// Resolver resolves catalog identifiers to track identities.
type Resolver interface {
	ResolveTrack(ctx context.Context, catalogID string) (*model.TrackIdentity, error)
	ResolveCollection(ctx context.Context, catalogID string) ([]*model.TrackIdentity, error)
}

// Matcher selects a platform source for a track.
type Matcher interface {
	Match(ctx context.Context, track *model.TrackIdentity) (*model.MatchCandidate, error)
}

// Producer downloads and transcodes a matched source.
type Producer interface {
	Produce(ctx context.Context, candidate *model.MatchCandidate, tier model.QualityTier) (*model.Artifact, error)
}

// ArtifactCache is the content-addressed artifact index.
type ArtifactCache interface {
	Get(ctx context.Context, key string) (*model.Artifact, error)
	Put(ctx context.Context, key string, artifact *model.Artifact) error
}

// Ledger gates requests and tracks consumption.
type Ledger interface {
	Authorize(ctx context.Context, userID int64, requested model.QualityTier, bulk bool) (model.QualityTier, error)
	RecordConsumption(ctx context.Context, userID int64) error
	Release(userID int64)
}

// DeliveryLog records successful deliveries. Optional.
type DeliveryLog interface {
	Record(delivery *model.Delivery) error
}

// Options tunes coordinator timeouts and bulk fan-out.
type Options struct {
	// WaitTimeout bounds how long a request waits on production that
	// is already in flight before returning ErrTimeout.
	WaitTimeout time.Duration
	// ProduceTimeout bounds a full match+fetch+transcode run. It is
	// detached from caller contexts so abandoned work completes and
	// populates the cache.
	ProduceTimeout time.Duration
	// BulkWorkers caps concurrent member deliveries of one bulk request.
	BulkWorkers int
}

// Coordinator orchestrates the resolution-and-delivery pipeline:
// entitlement check, cache lookup, singleflight production on a miss,
// cache population, and consumption recording.
type Coordinator struct {
	resolver   Resolver
	matcher    Matcher
	producer   Producer
	artifacts  ArtifactCache
	ledger     Ledger
	deliveries DeliveryLog
	progress   ProgressFunc
	opts       Options

	group singleflight.Group
}

// NewCoordinator creates a Coordinator. deliveries and progress may
// be nil.
func NewCoordinator(resolver Resolver, matcher Matcher, producer Producer, artifacts ArtifactCache, ledger Ledger, deliveries DeliveryLog, progress ProgressFunc, opts Options) *Coordinator {
	if opts.WaitTimeout <= 0 {
		opts.WaitTimeout = 3 * time.Minute
	}
	if opts.ProduceTimeout <= 0 {
		opts.ProduceTimeout = 5 * time.Minute
	}
	if opts.BulkWorkers <= 0 {
		opts.BulkWorkers = 3
	}
	return &Coordinator{
		resolver:   resolver,
		matcher:    matcher,
		producer:   producer,
		artifacts:  artifacts,
		ledger:     ledger,
		deliveries: deliveries,
		progress:   progress,
		opts:       opts,
	}
}

// Result is a completed track delivery.
type Result struct {
	RequestID string               `json:"requestId"`
	Track     *model.TrackIdentity `json:"track"`
	Artifact  *model.Artifact      `json:"artifact"`
	CacheKey  string               `json:"cacheKey"`
	FromCache bool                 `json:"fromCache"`
	Tier      model.QualityTier    `json:"tier"`
}

// TrackResult is one member outcome of a bulk request.
type TrackResult struct {
	CatalogID string               `json:"catalogId"`
	Track     *model.TrackIdentity `json:"track,omitempty"`
	Artifact  *model.Artifact      `json:"artifact,omitempty"`
	FromCache bool                 `json:"fromCache,omitempty"`
	Error     string               `json:"error,omitempty"` // user-facing category, empty on success
}

func (c *Coordinator) notify(requestID string, state State) {
	if c.progress != nil {
		c.progress(requestID, state)
	}
}

// RequestTrack runs the full state machine for a single track.
func (c *Coordinator) RequestTrack(ctx context.Context, userID int64, catalogID string, requested model.QualityTier) (*Result, error) {
	requestID := uuid.NewString()
	c.notify(requestID, StateReceived)

	c.notify(requestID, StateAuthorizing)
	tier, err := c.ledger.Authorize(ctx, userID, requested, false)
	if err != nil {
		c.notify(requestID, StateDenied)
		logger.Info("Request denied",
			logger.String("requestId", requestID),
			logger.Int64("userId", userID),
			logger.String("reason", Reason(err)))
		return nil, err
	}

	result, err := c.runTrack(ctx, requestID, userID, catalogID, tier)
	if err != nil {
		// return the reserved quota slot; nothing was delivered
		c.ledger.Release(userID)
		c.notify(requestID, StateFailed)
		return nil, err
	}
	return result, nil
}

// RequestCollection fans out one state machine per member track and
// aggregates per-track results. Reachable only for premium users; a
// partial failure is reported per track, never as an all-or-nothing
// failure.
func (c *Coordinator) RequestCollection(ctx context.Context, userID int64, catalogID string, requested model.QualityTier) ([]TrackResult, error) {
	requestID := uuid.NewString()
	c.notify(requestID, StateReceived)

	c.notify(requestID, StateAuthorizing)
	tier, err := c.ledger.Authorize(ctx, userID, requested, true)
	if err != nil {
		c.notify(requestID, StateDenied)
		return nil, err
	}

	tracks, err := c.resolver.ResolveCollection(ctx, catalogID)
	if err != nil {
		c.notify(requestID, StateFailed)
		return nil, err
	}

	results := make([]TrackResult, len(tracks))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.opts.BulkWorkers)

	for i, track := range tracks {
		g.Go(func() error {
			memberID := fmt.Sprintf("%s/%d", requestID, track.Position)
			result, err := c.deliverIdentity(gctx, memberID, userID, track, tier)
			if err != nil {
				results[i] = TrackResult{CatalogID: track.CatalogID, Track: track, Error: Reason(err)}
				return nil // per-track failures don't abort the batch
			}
			results[i] = TrackResult{
				CatalogID: track.CatalogID,
				Track:     track,
				Artifact:  result.Artifact,
				FromCache: result.FromCache,
			}
			return nil
		})
	}
	_ = g.Wait() // member failures are reported per track

	c.notify(requestID, StateDelivered)
	return results, nil
}

// runTrack is the post-authorization path for one track: resolve,
// cache check, produce on miss, deliver.
func (c *Coordinator) runTrack(ctx context.Context, requestID string, userID int64, catalogID string, tier model.QualityTier) (*Result, error) {
	track, err := c.resolver.ResolveTrack(ctx, catalogID)
	if err != nil {
		return nil, err
	}
	return c.deliverIdentity(ctx, requestID, userID, track, tier)
}

// deliverIdentity checks the cache and either delivers the hit or
// joins the singleflight production for the key.
func (c *Coordinator) deliverIdentity(ctx context.Context, requestID string, userID int64, track *model.TrackIdentity, tier model.QualityTier) (*Result, error) {
	key := cache.KeyFor(track, tier)

	c.notify(requestID, StateCacheCheck)
	artifact, err := c.artifacts.Get(ctx, key)
	if err != nil {
		return nil, err
	}

	fromCache := artifact != nil
	if fromCache {
		c.notify(requestID, StateCacheHit)
	} else {
		artifact, err = c.produceShared(ctx, requestID, track, tier, key)
		if err != nil {
			return nil, err
		}
	}

	c.notify(requestID, StateDelivering)
	if err := c.ledger.RecordConsumption(ctx, userID); err != nil {
		// the artifact is already delivered-to-be; log, don't fail the user
		logger.Error("Failed to record consumption",
			logger.Int64("userId", userID),
			logger.ErrorField(err))
	}
	c.logDelivery(userID, track, artifact, key, fromCache)
	c.notify(requestID, StateDelivered)

	return &Result{
		RequestID: requestID,
		Track:     track,
		Artifact:  artifact,
		CacheKey:  key,
		FromCache: fromCache,
		Tier:      tier,
	}, nil
}

// produceShared guarantees at most one production per cache key. All
// concurrent missers share the leader's result or failure. A caller
// whose wait budget runs out gets ErrTimeout while the detached
// production keeps going and still populates the cache.
func (c *Coordinator) produceShared(ctx context.Context, requestID string, track *model.TrackIdentity, tier model.QualityTier, key string) (*model.Artifact, error) {
	ch := c.group.DoChan(key, func() (interface{}, error) {
		// Detached from the caller: a disconnect must not abort work
		// other waiters (or future requests) can use.
		pctx, cancel := context.WithTimeout(context.Background(), c.opts.ProduceTimeout)
		defer cancel()
		return c.produce(pctx, requestID, track, tier, key)
	})

	waitCtx, cancel := context.WithTimeout(ctx, c.opts.WaitTimeout)
	defer cancel()

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*model.Artifact), nil
	case <-waitCtx.Done():
		logger.Warn("Gave up waiting on production",
			logger.String("requestId", requestID),
			logger.String("cacheKey", key))
		return nil, fmt.Errorf("cache key %s: %w", key, ErrTimeout)
	}
}

// produce runs once per cache key: match, fetch+transcode, register.
func (c *Coordinator) produce(ctx context.Context, requestID string, track *model.TrackIdentity, tier model.QualityTier, key string) (*model.Artifact, error) {
	c.notify(requestID, StateMatching)
	candidate, err := c.matcher.Match(ctx, track)
	if err != nil {
		return nil, err
	}

	c.notify(requestID, StateFetching)
	artifact, err := c.producer.Produce(ctx, candidate, tier)
	if err != nil {
		return nil, err
	}

	// Bytes are durable by now; registering last means a crash can
	// never leave the index pointing at nothing.
	c.notify(requestID, StateCachePopulate)
	if err := c.artifacts.Put(ctx, key, artifact); err != nil {
		logger.Error("Failed to register artifact, delivering anyway",
			logger.String("cacheKey", key),
			logger.ErrorField(err))
	}
	return artifact, nil
}

func (c *Coordinator) logDelivery(userID int64, track *model.TrackIdentity, artifact *model.Artifact, key string, fromCache bool) {
	if c.deliveries == nil {
		return
	}
	err := c.deliveries.Record(&model.Delivery{
		UserID:    userID,
		CacheKey:  key,
		CatalogID: track.CatalogID,
		Location:  artifact.Location,
		Tier:      artifact.Tier,
		Bitrate:   artifact.Bitrate,
		FromCache: fromCache,
	})
	if err != nil {
		logger.Error("Failed to log delivery",
			logger.Int64("userId", userID),
			logger.ErrorField(err))
	}
}
