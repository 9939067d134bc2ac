package realtime

import (
	"log/slog"
	"time"

	"github.com/everhouse/clubsync/internal/model"
)

// Refresher triggers a fresh fetch for a sync resource, bypassing the
// throttle. Wired to the syncer.
type Refresher func(key string)

// Router turns push events into resource refreshes and fans every event
// out to the registry. Directory refreshes run through the debouncer so
// bulk server-side operations collapse to one refetch.
type Router struct {
	registry    *Registry
	refresh     Refresher
	dirDebounce *Debouncer
	logger      *slog.Logger
}

// NewRouter creates a Router. window/cooldown shape the directory
// debounce.
func NewRouter(registry *Registry, refresh Refresher, window, cooldown time.Duration, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		registry: registry,
		refresh:  refresh,
		dirDebounce: NewDebouncer(window, cooldown, func() {
			refresh(model.ResourceDirectory)
		}),
		logger: logger,
	}
}

// Handle routes one event. The switch covers every EventKind; ParseEvent
// already rejected anything outside the set.
func (rt *Router) Handle(ev Event) {
	switch ev.Kind {
	case EventBooking:
		rt.refresh(model.ResourceNotifications)
	case EventDirectoryUpdate:
		rt.dirDebounce.Trigger()
	case EventAnnouncementUpdate:
		rt.refresh(model.ResourceAnnouncements)
	case EventBillingUpdate:
		rt.refresh(model.ResourceNotifications)
	case EventTierUpdate, EventMemberStatsUpdated:
		rt.dirDebounce.Trigger()
	default:
		rt.logger.Warn("push event with no route", "kind", ev.Kind)
		return
	}
	rt.registry.Dispatch(ev)
}

// Close stops the router's timers.
func (rt *Router) Close() {
	rt.dirDebounce.Stop()
}
