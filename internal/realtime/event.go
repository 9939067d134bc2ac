// Package realtime maintains the single push-channel connection and fans
// server events out to registered consumers.
package realtime

import (
	"encoding/json"
	"fmt"
	"time"
)

// EventKind is the closed set of push-event names the server emits.
// Routing switches over this type exhaustively; unknown names are dropped
// at parse time.
type EventKind string

// Push-event kinds.
const (
	EventBooking            EventKind = "booking"
	EventDirectoryUpdate    EventKind = "directory-update"
	EventAnnouncementUpdate EventKind = "announcement-update"
	EventBillingUpdate      EventKind = "billing-update"
	EventTierUpdate         EventKind = "tier-update"
	EventMemberStatsUpdated EventKind = "member-stats-updated"
)

// Valid reports whether k is a known event kind.
func (k EventKind) Valid() bool {
	switch k {
	case EventBooking, EventDirectoryUpdate, EventAnnouncementUpdate,
		EventBillingUpdate, EventTierUpdate, EventMemberStatsUpdated:
		return true
	}
	return false
}

// Event is a server push message.
type Event struct {
	Kind       EventKind       `json:"eventType"`
	ResourceID string          `json:"resourceId,omitempty"`
	Timestamp  time.Time       `json:"timestamp"`
	Payload    json.RawMessage `json:"payload,omitempty"`
}

// ParseEvent decodes a wire frame and rejects unknown kinds.
func ParseEvent(frame []byte) (Event, error) {
	var ev Event
	if err := json.Unmarshal(frame, &ev); err != nil {
		return Event{}, fmt.Errorf("decoding push event: %w", err)
	}
	if !ev.Kind.Valid() {
		return Event{}, fmt.Errorf("unknown push event kind %q", ev.Kind)
	}
	return ev, nil
}
