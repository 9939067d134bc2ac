package model

import "time"

// ClubEvent is a scheduled club happening (social, tournament, clinic).
type ClubEvent struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	StartsAt    time.Time `json:"startsAt"`
	EndsAt      time.Time `json:"endsAt"`
	Location    string    `json:"location,omitempty"`
	Capacity    int       `json:"capacity,omitempty"`
	RSVPCount   int       `json:"rsvpCount"`
}

// CafeItem is one entry on the café menu.
type CafeItem struct {
	ID          string  `json:"id"`
	Slug        string  `json:"slug"`
	Name        string  `json:"name"`
	Description string  `json:"description,omitempty"`
	Category    string  `json:"category"`
	PriceCents  int64   `json:"priceCents"`
	Available   bool    `json:"available"`
	SortOrder   float64 `json:"sortOrder,omitempty"`
}

// Resource names used as cache and store keys. One key per synchronized
// read-mostly collection.
const (
	ResourceEvents        = "events"
	ResourceCafeMenu      = "cafe-menu"
	ResourceAnnouncements = "announcements"
	ResourceNotifications = "notifications"
	ResourceDirectory     = "directory"
)

// SyncResources lists every key the background syncer refreshes, in pass order.
var SyncResources = []string{
	ResourceEvents,
	ResourceCafeMenu,
	ResourceAnnouncements,
	ResourceNotifications,
}
