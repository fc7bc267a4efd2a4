package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"melodex/cache"
	"melodex/core/fetch"
	"melodex/core/match"
	"melodex/core/quota"
	"melodex/model"
)

type fakeResolver struct {
	tracks      map[string]*model.TrackIdentity
	collections map[string][]*model.TrackIdentity
	calls       atomic.Int64
}

func (f *fakeResolver) ResolveTrack(_ context.Context, catalogID string) (*model.TrackIdentity, error) {
	f.calls.Add(1)
	if t, ok := f.tracks[catalogID]; ok {
		return t, nil
	}
	return nil, fmt.Errorf("track %s: %w", catalogID, errNotFoundForTest)
}

func (f *fakeResolver) ResolveCollection(_ context.Context, catalogID string) ([]*model.TrackIdentity, error) {
	f.calls.Add(1)
	if c, ok := f.collections[catalogID]; ok {
		return c, nil
	}
	return nil, fmt.Errorf("collection %s: %w", catalogID, errNotFoundForTest)
}

var errNotFoundForTest = errors.New("not found")

type fakeMatcher struct {
	calls atomic.Int64
	fail  map[string]bool // catalog ids that find no source
}

func (f *fakeMatcher) Match(_ context.Context, track *model.TrackIdentity) (*model.MatchCandidate, error) {
	f.calls.Add(1)
	if f.fail[track.CatalogID] {
		return nil, fmt.Errorf("track %s: %w", track.CatalogID, match.ErrNoMatch)
	}
	return &model.MatchCandidate{
		SourceID: "src-" + track.CatalogID,
		Title:    track.Artist + " " + track.Title,
		Duration: track.Duration,
		URL:      "http://media.example/" + track.CatalogID,
	}, nil
}

type fakeProducer struct {
	calls atomic.Int64
	delay time.Duration
	err   error
}

func (f *fakeProducer) Produce(_ context.Context, candidate *model.MatchCandidate, tier model.QualityTier) (*model.Artifact, error) {
	f.calls.Add(1)
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if f.err != nil {
		return nil, f.err
	}
	return &model.Artifact{
		Location:  fmt.Sprintf("artifacts/%s/%s.mp3", tier, candidate.SourceID),
		Size:      1 << 20,
		Duration:  float32(candidate.Duration),
		Tier:      tier,
		Bitrate:   128,
		CreatedAt: time.Now(),
	}, nil
}

type memCache struct {
	mu      sync.Mutex
	entries map[string]*model.Artifact
}

func newMemCache() *memCache {
	return &memCache{entries: make(map[string]*model.Artifact)}
}

func (m *memCache) Get(_ context.Context, key string) (*model.Artifact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.entries[key], nil
}

func (m *memCache) Put(_ context.Context, key string, artifact *model.Artifact) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.entries[key]; !exists {
		m.entries[key] = artifact
	}
	return nil
}

type fakeLedger struct {
	mu       sync.Mutex
	premium  map[int64]bool
	recorded map[int64]int
	released map[int64]int
}

func newFakeLedger(premium ...int64) *fakeLedger {
	p := make(map[int64]bool)
	for _, id := range premium {
		p[id] = true
	}
	return &fakeLedger{premium: p, recorded: make(map[int64]int), released: make(map[int64]int)}
}

func (f *fakeLedger) Authorize(_ context.Context, userID int64, requested model.QualityTier, bulk bool) (model.QualityTier, error) {
	if f.premium[userID] {
		return requested, nil
	}
	if bulk {
		return "", fmt.Errorf("user %d: %w", userID, quota.ErrTierRequired)
	}
	return model.QualityStandard, nil
}

func (f *fakeLedger) RecordConsumption(_ context.Context, userID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recorded[userID]++
	return nil
}

func (f *fakeLedger) Release(userID int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.released[userID]++
}

func testTrack() *model.TrackIdentity {
	return &model.TrackIdentity{
		CatalogID: "cat-1",
		Title:     "song a",
		Artist:    "artist x",
		Duration:  200,
	}
}

func newTestCoordinator(resolver *fakeResolver, matcher *fakeMatcher, producer *fakeProducer, store *memCache, ledger *fakeLedger, opts Options) *Coordinator {
	return NewCoordinator(resolver, matcher, producer, store, ledger, nil, nil, opts)
}

func TestConcurrentMissesProduceOnce(t *testing.T) {
	resolver := &fakeResolver{tracks: map[string]*model.TrackIdentity{"cat-1": testTrack()}}
	matcher := &fakeMatcher{}
	producer := &fakeProducer{delay: 20 * time.Millisecond}
	store := newMemCache()
	ledger := newFakeLedger()
	c := newTestCoordinator(resolver, matcher, producer, store, ledger, Options{})

	// two different free users under quota, same track, same tier
	const n = 8
	var wg sync.WaitGroup
	start := make(chan struct{})
	locations := make([]string, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			userID := int64(i%2 + 1)
			res, err := c.RequestTrack(context.Background(), userID, "cat-1", model.QualityStandard)
			errs[i] = err
			if err == nil {
				locations[i] = res.Artifact.Location
			}
		}(i)
	}
	close(start)
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("request %d failed: %v", i, err)
		}
	}
	if got := producer.calls.Load(); got != 1 {
		t.Errorf("expected exactly one production, got %d", got)
	}
	for i := 1; i < n; i++ {
		if locations[i] != locations[0] {
			t.Errorf("all requesters must share one artifact, got %q and %q", locations[0], locations[i])
		}
	}

	// each delivery recorded once per requesting user
	ledger.mu.Lock()
	defer ledger.mu.Unlock()
	total := 0
	for _, n := range ledger.recorded {
		total += n
	}
	if total != n {
		t.Errorf("expected %d recorded deliveries, got %d", n, total)
	}
}

func TestCacheHitSkipsProduction(t *testing.T) {
	track := testTrack()
	resolver := &fakeResolver{tracks: map[string]*model.TrackIdentity{"cat-1": track}}
	matcher := &fakeMatcher{}
	producer := &fakeProducer{}
	store := newMemCache()
	ledger := newFakeLedger()
	c := newTestCoordinator(resolver, matcher, producer, store, ledger, Options{})

	key := cache.KeyFor(track, model.QualityStandard)
	cached := &model.Artifact{Location: "artifacts/standard/existing.mp3", Tier: model.QualityStandard}
	if err := store.Put(context.Background(), key, cached); err != nil {
		t.Fatalf("seeding cache: %v", err)
	}

	res, err := c.RequestTrack(context.Background(), 1, "cat-1", model.QualityStandard)
	if err != nil {
		t.Fatalf("RequestTrack failed: %v", err)
	}
	if !res.FromCache {
		t.Error("expected a cache hit")
	}
	if res.Artifact.Location != cached.Location {
		t.Errorf("expected cached artifact, got %q", res.Artifact.Location)
	}
	if matcher.calls.Load() != 0 || producer.calls.Load() != 0 {
		t.Error("cache hit must not reach matcher or producer")
	}
	if ledger.recorded[1] != 1 {
		t.Errorf("cache hit still counts as a delivery, recorded=%d", ledger.recorded[1])
	}
}

func TestFreeUserSilentDowngrade(t *testing.T) {
	track := testTrack()
	resolver := &fakeResolver{tracks: map[string]*model.TrackIdentity{"cat-1": track}}
	c := newTestCoordinator(resolver, &fakeMatcher{}, &fakeProducer{}, newMemCache(), newFakeLedger(), Options{})

	res, err := c.RequestTrack(context.Background(), 1, "cat-1", model.QualityHigh)
	if err != nil {
		t.Fatalf("free user requesting high must not error: %v", err)
	}
	if res.Tier != model.QualityStandard {
		t.Errorf("expected silent downgrade to standard, got %s", res.Tier)
	}
	if res.CacheKey != cache.KeyFor(track, model.QualityStandard) {
		t.Error("cache key must be derived from the effective tier")
	}
}

func TestBulkRequiresPremiumBeforeAnyWork(t *testing.T) {
	resolver := &fakeResolver{collections: map[string][]*model.TrackIdentity{"col-1": {testTrack()}}}
	matcher := &fakeMatcher{}
	producer := &fakeProducer{}
	c := newTestCoordinator(resolver, matcher, producer, newMemCache(), newFakeLedger(), Options{})

	_, err := c.RequestCollection(context.Background(), 1, "col-1", model.QualityHigh)
	if !errors.Is(err, quota.ErrTierRequired) {
		t.Fatalf("expected ErrTierRequired, got %v", err)
	}
	if resolver.calls.Load() != 0 {
		t.Error("authorization must precede catalog work")
	}
	if matcher.calls.Load() != 0 || producer.calls.Load() != 0 {
		t.Error("authorization must precede match and fetch work")
	}
}

func TestSharedFailureReleasesEveryone(t *testing.T) {
	resolver := &fakeResolver{tracks: map[string]*model.TrackIdentity{"cat-1": testTrack()}}
	producer := &fakeProducer{
		delay: 10 * time.Millisecond,
		err:   fmt.Errorf("download: %w", fetch.ErrFetchFailed),
	}
	store := newMemCache()
	ledger := newFakeLedger()
	c := newTestCoordinator(resolver, &fakeMatcher{}, producer, store, ledger, Options{})

	const n = 4
	var wg sync.WaitGroup
	start := make(chan struct{})
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			_, errs[i] = c.RequestTrack(context.Background(), 1, "cat-1", model.QualityStandard)
		}(i)
	}
	close(start)
	wg.Wait()

	for i, err := range errs {
		if !errors.Is(err, fetch.ErrFetchFailed) {
			t.Errorf("waiter %d: expected shared fetch failure, got %v", i, err)
		}
	}
	if got := producer.calls.Load(); got != 1 {
		t.Errorf("failure must also be produced exactly once, got %d", got)
	}

	// cache stays unpopulated and every reservation is returned
	if art, _ := store.Get(context.Background(), cache.KeyFor(testTrack(), model.QualityStandard)); art != nil {
		t.Error("failed production must not populate the cache")
	}
	if ledger.recorded[1] != 0 {
		t.Error("failed requests must not record consumption")
	}
	if ledger.released[1] != n {
		t.Errorf("expected %d released reservations, got %d", n, ledger.released[1])
	}
}

func TestWaiterTimeoutProductionContinues(t *testing.T) {
	track := testTrack()
	resolver := &fakeResolver{tracks: map[string]*model.TrackIdentity{"cat-1": track}}
	producer := &fakeProducer{delay: 100 * time.Millisecond}
	store := newMemCache()
	ledger := newFakeLedger()
	c := newTestCoordinator(resolver, &fakeMatcher{}, producer, store, ledger,
		Options{WaitTimeout: 10 * time.Millisecond})

	_, err := c.RequestTrack(context.Background(), 1, "cat-1", model.QualityStandard)
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
	if ledger.recorded[1] != 0 {
		t.Error("timed out caller must not be charged")
	}

	// the detached production still completes and registers the artifact
	deadline := time.After(2 * time.Second)
	key := cache.KeyFor(track, model.QualityStandard)
	for {
		if art, _ := store.Get(context.Background(), key); art != nil {
			break
		}
		select {
		case <-deadline:
			t.Fatal("background production never populated the cache")
		case <-time.After(10 * time.Millisecond):
		}
	}

	// a later request is served from cache without a second production
	res, err := c.RequestTrack(context.Background(), 1, "cat-1", model.QualityStandard)
	if err != nil {
		t.Fatalf("follow-up request failed: %v", err)
	}
	if !res.FromCache {
		t.Error("follow-up request should hit the cache")
	}
	if got := producer.calls.Load(); got != 1 {
		t.Errorf("expected a single production overall, got %d", got)
	}
}

func TestBulkPartialFailure(t *testing.T) {
	t1 := &model.TrackIdentity{CatalogID: "m1", Title: "one", Artist: "a", Duration: 100, Position: 1}
	t2 := &model.TrackIdentity{CatalogID: "m2", Title: "two", Artist: "a", Duration: 110, Position: 2}
	t3 := &model.TrackIdentity{CatalogID: "m3", Title: "three", Artist: "a", Duration: 120, Position: 3}
	resolver := &fakeResolver{collections: map[string][]*model.TrackIdentity{"col-1": {t1, t2, t3}}}
	matcher := &fakeMatcher{fail: map[string]bool{"m2": true}}
	store := newMemCache()
	ledger := newFakeLedger(7)
	c := newTestCoordinator(resolver, matcher, &fakeProducer{}, store, ledger, Options{})

	results, err := c.RequestCollection(context.Background(), 7, "col-1", model.QualityHigh)
	if err != nil {
		t.Fatalf("RequestCollection failed: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("expected 3 member results, got %d", len(results))
	}

	succeeded, failed := 0, 0
	for _, r := range results {
		if r.Error == "" {
			succeeded++
			if r.Artifact == nil {
				t.Errorf("member %s succeeded without artifact", r.CatalogID)
			}
		} else {
			failed++
			if r.CatalogID != "m2" || r.Error != "no_match" {
				t.Errorf("unexpected member failure %s: %s", r.CatalogID, r.Error)
			}
		}
	}
	if succeeded != 2 || failed != 1 {
		t.Errorf("expected 2 successes and 1 failure, got %d/%d", succeeded, failed)
	}
	if ledger.recorded[7] != 2 {
		t.Errorf("expected consumption recorded per delivered member, got %d", ledger.recorded[7])
	}
}
