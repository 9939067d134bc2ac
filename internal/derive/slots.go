package derive

import "github.com/everhouse/clubsync/internal/model"

// SlotSummary is the derived fill state of a booking's player slots.
type SlotSummary struct {
	Filled   int  `json:"filled"`
	Expected int  `json:"expected"`
	Complete bool `json:"complete"`
}

// SummarizeSlots computes slot completeness. Filled counts linked members
// and named guests; empty positions do not count. Expected comes from the
// server's validation when stated, else the booking's own player count,
// else the number of slot positions.
func SummarizeSlots(b *model.Booking) SlotSummary {
	filled := 0
	for i := range b.Slots {
		s := &b.Slots[i]
		if s.Linked() || s.Guest() {
			filled++
		}
	}

	var expected int
	switch {
	case b.Validation != nil && b.Validation.ExpectedPlayers != nil:
		expected = *b.Validation.ExpectedPlayers
	case b.PlayerCount != nil:
		expected = *b.PlayerCount
	default:
		expected = len(b.Slots)
	}

	return SlotSummary{
		Filled:   filled,
		Expected: expected,
		Complete: filled >= expected,
	}
}
