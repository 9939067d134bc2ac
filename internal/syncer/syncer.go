// Package syncer keeps the local replica of read-mostly club resources
// fresh. A cron-driven background pass refetches every sync resource;
// individual fetches are throttled, retried with linear backoff and fall
// back to cached data when the server is unreachable.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/everhouse/clubsync/internal/api"
	"github.com/everhouse/clubsync/internal/cache"
	"github.com/everhouse/clubsync/internal/model"
	"github.com/everhouse/clubsync/internal/store"
)

// ErrNoData is returned when a fetch falls back to cache and no cached
// snapshot exists either.
var ErrNoData = errors.New("syncer: no cached data")

// Prober reports whether the client is in a state where background work
// should run at all. Passes are skipped, not queued, while hidden or
// offline.
type Prober interface {
	Visible() bool
	Online() bool
}

// ResourceAPI is the slice of the server client the syncer needs.
type ResourceAPI interface {
	FetchResource(ctx context.Context, key, etag string) (*api.ResourceResult, error)
}

// SnapshotStore persists fetched payloads with their ETags.
type SnapshotStore interface {
	GetSnapshot(ctx context.Context, key string) (*store.Snapshot, error)
	PutSnapshot(ctx context.Context, snap *store.Snapshot) error
}

// Options configures a Syncer.
type Options struct {
	API    ResourceAPI
	Store  SnapshotStore
	Cache  cache.Cache
	Prober Prober
	Logger *slog.Logger

	// Resources lists the keys refreshed by each background pass.
	// Defaults to model.SyncResources.
	Resources []string

	SyncInterval   time.Duration
	ThrottleWindow time.Duration
	RetryBaseDelay time.Duration
	RetryCeiling   int
	CacheTTL       time.Duration

	// Now and Sleep are injectable for tests.
	Now   func() time.Time
	Sleep func(ctx context.Context, d time.Duration) error
}

// Syncer schedules and executes resource refreshes. Each process owns one
// instance; the cron runner is created per Syncer, never shared.
type Syncer struct {
	apiClient ResourceAPI
	st        SnapshotStore
	byteCache cache.Cache
	prober    Prober
	logger    *slog.Logger

	resources      []string
	interval       time.Duration
	throttleWindow time.Duration
	baseDelay      time.Duration
	retryCeiling   int
	cacheTTL       time.Duration

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error

	runner *cron.Cron

	mu        sync.Mutex
	started   bool
	scheduled bool
	lastFetch map[string]time.Time
	failures  map[string]int
	subs      map[string][]func(data []byte)
}

// New creates a Syncer. Zero durations get conservative defaults.
func New(opts Options) *Syncer {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if len(opts.Resources) == 0 {
		opts.Resources = model.SyncResources
	}
	if opts.SyncInterval <= 0 {
		opts.SyncInterval = 5 * time.Minute
	}
	if opts.ThrottleWindow <= 0 {
		opts.ThrottleWindow = time.Minute
	}
	if opts.RetryBaseDelay <= 0 {
		opts.RetryBaseDelay = time.Second
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = 10 * time.Minute
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Sleep == nil {
		opts.Sleep = sleepCtx
	}
	return &Syncer{
		apiClient:      opts.API,
		st:             opts.Store,
		byteCache:      opts.Cache,
		prober:         opts.Prober,
		logger:         opts.Logger,
		resources:      opts.Resources,
		interval:       opts.SyncInterval,
		throttleWindow: opts.ThrottleWindow,
		baseDelay:      opts.RetryBaseDelay,
		retryCeiling:   opts.RetryCeiling,
		cacheTTL:       opts.CacheTTL,
		now:            opts.Now,
		sleep:          opts.Sleep,
		runner:         cron.New(),
		lastFetch:      make(map[string]time.Time),
		failures:       make(map[string]int),
		subs:           make(map[string][]func([]byte)),
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Start begins the periodic refresh and runs one pass immediately.
// Calling Start again is a no-op while running and resumes the existing
// schedule after Stop; the cron entry is registered exactly once.
func (s *Syncer) Start() error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return nil
	}
	if !s.scheduled {
		if _, err := s.runner.AddFunc(fmt.Sprintf("@every %s", s.interval), s.pass); err != nil {
			s.mu.Unlock()
			return fmt.Errorf("scheduling sync pass: %w", err)
		}
		s.scheduled = true
	}
	s.started = true
	s.mu.Unlock()

	s.runner.Start()
	s.logger.Info("sync scheduler started", "interval", s.interval)
	go s.pass()
	return nil
}

// Stop halts the schedule. In-flight work finishes.
func (s *Syncer) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	s.mu.Unlock()

	<-s.runner.Stop().Done()
	s.logger.Info("sync scheduler stopped")
}

// WakeVisible runs a pass now. Called when the client regains foreground
// so stale resources catch up without waiting for the next tick.
func (s *Syncer) WakeVisible() {
	go s.pass()
}

// Subscribe registers fn to run whenever a fetch lands fresh data for key.
func (s *Syncer) Subscribe(key string, fn func(data []byte)) {
	s.mu.Lock()
	s.subs[key] = append(s.subs[key], fn)
	s.mu.Unlock()
}

// Invalidate clears the throttle stamp and cached bytes for key so the
// next fetch goes to the network.
func (s *Syncer) Invalidate(ctx context.Context, key string) {
	s.mu.Lock()
	delete(s.lastFetch, key)
	s.mu.Unlock()
	if err := s.byteCache.Delete(ctx, key); err != nil && !errors.Is(err, cache.ErrCacheMiss) {
		s.logger.Warn("cache invalidate failed", "key", key, "error", err)
	}
}

// pass refreshes every resource once. Skipped outright while hidden or
// offline.
func (s *Syncer) pass() {
	if s.prober != nil && (!s.prober.Visible() || !s.prober.Online()) {
		s.logger.Debug("sync pass skipped", "visible", s.prober.Visible(), "online", s.prober.Online())
		return
	}
	ctx := context.Background()
	for _, key := range s.resources {
		if _, err := s.FetchAndCache(ctx, key); err != nil {
			s.logger.Warn("resource refresh failed", "key", key, "error", err)
		}
	}
}

// FetchAndCache returns the freshest available payload for key. Within the
// throttle window it serves cached data without touching the network; on
// server or transport errors it retries with linear backoff and finally
// falls back to the cache.
func (s *Syncer) FetchAndCache(ctx context.Context, key string) ([]byte, error) {
	return s.fetch(ctx, key, 0)
}

func (s *Syncer) fetch(ctx context.Context, key string, attempt int) ([]byte, error) {
	nowTime := s.now()

	if attempt == 0 {
		s.mu.Lock()
		last, seen := s.lastFetch[key]
		s.mu.Unlock()
		if seen && nowTime.Sub(last) < s.throttleWindow {
			return s.cached(ctx, key)
		}
	}

	if s.prober != nil && !s.prober.Online() {
		return s.cached(ctx, key)
	}

	// Attempts count toward the throttle window whether or not they land.
	s.mu.Lock()
	s.lastFetch[key] = nowTime
	s.mu.Unlock()

	var etag string
	if snap, err := s.st.GetSnapshot(ctx, key); err == nil {
		etag = snap.ETag
	}

	res, err := s.apiClient.FetchResource(ctx, key, etag)
	if err != nil {
		return s.handleFetchError(ctx, key, attempt, err)
	}

	if res.NotModified {
		s.resetFailures(key)
		return s.cached(ctx, key)
	}

	if err := s.st.PutSnapshot(ctx, &store.Snapshot{
		Key:       key,
		Data:      res.Data,
		ETag:      res.ETag,
		UpdatedAt: nowTime,
	}); err != nil {
		s.logger.Warn("snapshot persist failed", "key", key, "error", err)
	}
	if err := s.byteCache.Set(ctx, key, res.Data, s.cacheTTL); err != nil {
		s.logger.Warn("cache write failed", "key", key, "error", err)
	}

	s.resetFailures(key)
	s.notify(key, res.Data)
	return res.Data, nil
}

func (s *Syncer) handleFetchError(ctx context.Context, key string, attempt int, err error) ([]byte, error) {
	if errors.Is(err, api.ErrAborted) {
		// Timed-out request: soft failure, no counter, no retry.
		s.logger.Warn("fetch aborted", "key", key)
		return s.cached(ctx, key)
	}

	var apiErr *api.Error
	if errors.As(err, &apiErr) {
		if apiErr.ServerError() {
			if attempt < s.retryCeiling {
				if serr := s.sleep(ctx, time.Duration(attempt+1)*s.baseDelay); serr != nil {
					return s.cached(ctx, key)
				}
				return s.fetch(ctx, key, attempt+1)
			}
			s.logger.Warn("fetch failed after retries", "key", key, "status", apiErr.StatusCode)
			return s.cached(ctx, key)
		}
		// 4xx responses do not heal by retrying. No counter, no backoff.
		s.logger.Warn("fetch rejected", "key", key, "status", apiErr.StatusCode)
		return s.cached(ctx, key)
	}

	// Transport error. Retries are gated by both the local attempt count
	// and the cumulative per-key failure counter.
	s.mu.Lock()
	s.failures[key]++
	total := s.failures[key]
	s.mu.Unlock()

	if attempt < s.retryCeiling && total <= s.retryCeiling {
		if serr := s.sleep(ctx, time.Duration(attempt+1)*s.baseDelay); serr != nil {
			return s.cached(ctx, key)
		}
		return s.fetch(ctx, key, attempt+1)
	}

	s.logger.Warn("fetch failed", "key", key, "failures", total, "error", err)
	return s.cached(ctx, key)
}

// cached returns the byte-cache entry for key, falling back to the
// persisted snapshot and rewarming the cache on the way out.
func (s *Syncer) cached(ctx context.Context, key string) ([]byte, error) {
	if data, err := s.byteCache.Get(ctx, key); err == nil {
		return data, nil
	}

	snap, err := s.st.GetSnapshot(ctx, key)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w for %q", ErrNoData, key)
		}
		return nil, fmt.Errorf("reading snapshot %q: %w", key, err)
	}

	if err := s.byteCache.Set(ctx, key, snap.Data, s.cacheTTL); err != nil {
		s.logger.Warn("cache rewarm failed", "key", key, "error", err)
	}
	return snap.Data, nil
}

func (s *Syncer) resetFailures(key string) {
	s.mu.Lock()
	delete(s.failures, key)
	s.mu.Unlock()
}

func (s *Syncer) notify(key string, data []byte) {
	s.mu.Lock()
	fns := make([]func([]byte), len(s.subs[key]))
	copy(fns, s.subs[key])
	s.mu.Unlock()

	for _, fn := range fns {
		fn(data)
	}
}

// Failures returns the cumulative failure counter for key. Exposed for
// the status endpoint.
func (s *Syncer) Failures(key string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.failures[key]
}
