package derive

import (
	"context"
	"log/slog"
	"sync"

	"github.com/everhouse/clubsync/internal/cache"
	"github.com/everhouse/clubsync/internal/util"
)

// NoticeAPI is the server surface for dismissed announcements.
type NoticeAPI interface {
	DismissedNotices(ctx context.Context) ([]string, error)
	DismissNotice(ctx context.Context, noticeID string) error
}

// NoticeStore is the per-email persisted copy of the dismissed set.
type NoticeStore interface {
	DismissedNotices(ctx context.Context, email string) ([]string, error)
	AddDismissedNotice(ctx context.Context, email, noticeID string) error
	ReplaceDismissedNotices(ctx context.Context, email string, ids []string) error
}

// DismissedSet tracks which announcements the current identity has seen.
// Load prefers the server; when it is unreachable the per-email cache
// entry stands in, then the persisted copy. Dismissals apply locally
// first and are pushed to the server fire-and-forget.
type DismissedSet struct {
	apiClient NoticeAPI
	st        NoticeStore
	typed     *cache.TypedCache[[]string]
	logger    *slog.Logger

	mu    sync.Mutex
	email string
	ids   map[string]struct{}
}

// NewDismissedSet creates an empty set. byteCache may be nil, disabling
// the cache tier.
func NewDismissedSet(apiClient NoticeAPI, st NoticeStore, byteCache cache.Cache, logger *slog.Logger) *DismissedSet {
	if logger == nil {
		logger = slog.Default()
	}
	var typed *cache.TypedCache[[]string]
	if byteCache != nil {
		typed = cache.NewTypedCache[[]string](byteCache, 0)
	}
	return &DismissedSet{
		apiClient: apiClient,
		st:        st,
		typed:     typed,
		logger:    logger,
		ids:       make(map[string]struct{}),
	}
}

func cacheKeyFor(email string) string {
	return "dismissed:" + email
}

// Load populates the set for the given identity. Server first; on failure
// the cached copy for the same email, then the persisted one. A load for
// a different email discards the previous identity's set.
func (d *DismissedSet) Load(ctx context.Context, email string) {
	canonical := util.CanonicalEmail(email)

	ids, err := d.apiClient.DismissedNotices(ctx)
	if err != nil {
		d.logger.Warn("dismissed notices fetch failed, using local copy", "error", err)
		d.replace(canonical, d.localFallback(ctx, canonical))
		return
	}

	d.replace(canonical, ids)
	if d.typed != nil {
		if err := d.typed.Set(ctx, cacheKeyFor(canonical), &ids); err != nil {
			d.logger.Warn("caching dismissed notices failed", "error", err)
		}
	}
	if err := d.st.ReplaceDismissedNotices(ctx, canonical, ids); err != nil {
		d.logger.Warn("persisting dismissed notices failed", "error", err)
	}
}

func (d *DismissedSet) localFallback(ctx context.Context, email string) []string {
	if d.typed != nil {
		if ids, ok := d.typed.Get(ctx, cacheKeyFor(email)); ok {
			return *ids
		}
	}
	ids, err := d.st.DismissedNotices(ctx, email)
	if err != nil {
		d.logger.Warn("no persisted dismissed notices", "error", err)
		return nil
	}
	return ids
}

func (d *DismissedSet) replace(email string, ids []string) {
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	d.mu.Lock()
	d.email = email
	d.ids = set
	d.mu.Unlock()
}

// Contains reports whether the id has been dismissed.
func (d *DismissedSet) Contains(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.ids[id]
	return ok
}

// Len returns the number of dismissed ids.
func (d *DismissedSet) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.ids)
}

// Dismiss marks an announcement seen. The local set, the cache tier and
// the persisted copy update immediately; the server call runs in the
// background and its failure is swallowed, since the next Load
// reconverges.
func (d *DismissedSet) Dismiss(ctx context.Context, id string) {
	d.mu.Lock()
	d.ids[id] = struct{}{}
	email := d.email
	all := make([]string, 0, len(d.ids))
	for dismissed := range d.ids {
		all = append(all, dismissed)
	}
	d.mu.Unlock()

	if email != "" {
		if d.typed != nil {
			if err := d.typed.Set(ctx, cacheKeyFor(email), &all); err != nil {
				d.logger.Warn("caching dismissal failed", "notice_id", id, "error", err)
			}
		}
		if err := d.st.AddDismissedNotice(ctx, email, id); err != nil {
			d.logger.Warn("persisting dismissal failed", "notice_id", id, "error", err)
		}
	}

	go func() {
		if err := d.apiClient.DismissNotice(context.WithoutCancel(ctx), id); err != nil {
			d.logger.Warn("server dismissal failed", "notice_id", id, "error", err)
		}
	}()
}
