package model

import "time"

// Announcement is a club notice shown to members. Body is Markdown as
// authored by staff; rendering happens in the derive package.
type Announcement struct {
	ID        string     `json:"id"`
	Title     string     `json:"title"`
	Body      string     `json:"body"`
	Priority  string     `json:"priority"` // "normal" or "high"
	StartDate *CivilDate `json:"startDate,omitempty"`
	EndDate   *CivilDate `json:"endDate,omitempty"`
	CreatedAt time.Time  `json:"createdAt"`
}

// HighPriority returns true for announcements that interrupt members
// until dismissed.
func (a *Announcement) HighPriority() bool {
	return a.Priority == "high"
}

// ActiveOn reports whether the announcement is live on the given
// club-local calendar date. Either bound may be open-ended.
func (a *Announcement) ActiveOn(day CivilDate) bool {
	if a.StartDate != nil && day.Before(*a.StartDate) {
		return false
	}
	if a.EndDate != nil && a.EndDate.Before(day) {
		return false
	}
	return true
}
