package derive

import (
	"sync"

	"github.com/everhouse/clubsync/internal/model"
)

// PendingBadge derives the staff notification badge from the two pending
// totals, with an optimistic local decrement applied between refetches.
type PendingBadge struct {
	mu         sync.Mutex
	counts     model.NotificationCounts
	decrements int
}

// Set installs freshly fetched counts. Any optimistic decrements are
// discarded; the server totals are authoritative again.
func (b *PendingBadge) Set(counts model.NotificationCounts) {
	b.mu.Lock()
	b.counts = counts
	b.decrements = 0
	b.mu.Unlock()
}

// DecrementPending optimistically knocks one off the badge after a staff
// action, so the UI reacts before the next refetch confirms it.
func (b *PendingBadge) DecrementPending() {
	b.mu.Lock()
	b.decrements++
	b.mu.Unlock()
}

// Value returns the displayed badge count, never negative.
func (b *PendingBadge) Value() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	v := b.counts.Total() - b.decrements
	if v < 0 {
		return 0
	}
	return v
}
