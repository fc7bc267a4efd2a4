package catalog

import (
	"context"
	"errors"
	"fmt"
	"time"

	"melodex/logger"
	"melodex/model"
)

// ErrNotFound means the catalog entry does not exist or is
// region-restricted. User-visible, never retried.
var ErrNotFound = errors.New("catalog entry not found")

// ErrUpstreamUnavailable means the provider could not be reached
// after bounded retries.
var ErrUpstreamUnavailable = errors.New("catalog provider unavailable")

// internal markers the client hands to the resolver for classification
var (
	errStatusNotFound = errors.New("status 404")
	errStatusUpstream = errors.New("upstream error status")
)

// Resolver resolves catalog identifiers to canonical track identities.
type Resolver struct {
	client  *Client
	retries int
	backoff time.Duration
}

// NewResolver creates a Resolver. retries bounds how often a
// transient provider failure is retried before ErrUpstreamUnavailable
// surfaces.
func NewResolver(client *Client, retries int, backoff time.Duration) *Resolver {
	if retries < 1 {
		retries = 1
	}
	return &Resolver{client: client, retries: retries, backoff: backoff}
}

// ResolveTrack resolves a single track id to its canonical identity.
// Title and artist come back normalized so equivalent catalog entries
// converge on the same cache key.
func (r *Resolver) ResolveTrack(ctx context.Context, catalogID string) (*model.TrackIdentity, error) {
	var payload trackPayload
	if err := r.getWithRetry(ctx, fmt.Sprintf("/tracks/%s", catalogID), &payload); err != nil {
		return nil, err
	}
	if !payload.Available {
		// region-restricted entries are reported as missing
		return nil, fmt.Errorf("track %s not available: %w", catalogID, ErrNotFound)
	}
	return identityFrom(payload), nil
}

// ResolveCollection resolves an album or playlist id to the
// identities of its member tracks, preserving ordinal positions.
func (r *Resolver) ResolveCollection(ctx context.Context, catalogID string) ([]*model.TrackIdentity, error) {
	var payload collectionPayload
	if err := r.getWithRetry(ctx, fmt.Sprintf("/collections/%s", catalogID), &payload); err != nil {
		return nil, err
	}
	if len(payload.Tracks) == 0 {
		return nil, fmt.Errorf("collection %s has no tracks: %w", catalogID, ErrNotFound)
	}

	identities := make([]*model.TrackIdentity, 0, len(payload.Tracks))
	for i, t := range payload.Tracks {
		if !t.Available {
			continue
		}
		id := identityFrom(t)
		if id.Position == 0 {
			id.Position = i + 1
		}
		identities = append(identities, id)
	}
	if len(identities) == 0 {
		return nil, fmt.Errorf("collection %s has no available tracks: %w", catalogID, ErrNotFound)
	}
	return identities, nil
}

// getWithRetry classifies client errors: 404 is terminal, transport
// failures and 5xx are retried with backoff up to the bound.
func (r *Resolver) getWithRetry(ctx context.Context, path string, out interface{}) error {
	var lastErr error
	for attempt := 1; attempt <= r.retries; attempt++ {
		err := r.client.getJSON(ctx, path, out)
		if err == nil {
			return nil
		}
		if errors.Is(err, errStatusNotFound) {
			return fmt.Errorf("catalog path %s: %w", path, ErrNotFound)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		lastErr = err
		logger.Warn("Catalog lookup failed, will retry",
			logger.String("path", path),
			logger.Int("attempt", attempt),
			logger.ErrorField(err))

		if attempt < r.retries {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(r.backoff * time.Duration(attempt)):
			}
		}
	}
	return fmt.Errorf("catalog lookup failed after %d attempts: %v: %w", r.retries, lastErr, ErrUpstreamUnavailable)
}

// identityFrom builds a normalized TrackIdentity from provider data.
func identityFrom(t trackPayload) *model.TrackIdentity {
	return &model.TrackIdentity{
		CatalogID: t.ID,
		Title:     Normalize(t.Title),
		Artist:    Normalize(t.Artist),
		Album:     t.Album,
		Duration:  t.Duration,
		Position:  t.Position,
	}
}
