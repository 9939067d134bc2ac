package model

import "time"

// BookingStatus is a booking's approval state.
type BookingStatus string

// Booking statuses.
const (
	BookingPending   BookingStatus = "pending"
	BookingConfirmed BookingStatus = "confirmed"
	BookingDeclined  BookingStatus = "declined"
	BookingCancelled BookingStatus = "cancelled"
)

// BookingSlot is one player position on a booking. A slot is either
// linked to a member, filled by a guest, or empty.
type BookingSlot struct {
	ID          string `json:"id"`
	MemberID    string `json:"memberId,omitempty"`
	MemberEmail string `json:"memberEmail,omitempty"`
	GuestName   string `json:"guestName,omitempty"`
}

// Linked returns true when the slot is attached to a member account.
func (s *BookingSlot) Linked() bool {
	return s.MemberID != ""
}

// Guest returns true when the slot is filled by a non-member guest.
func (s *BookingSlot) Guest() bool {
	return s.MemberID == "" && s.GuestName != ""
}

// BookingValidation is the server's admission result for a booking.
// ExpectedPlayers is nil when the server did not state an expectation.
type BookingValidation struct {
	ExpectedPlayers *int   `json:"expectedPlayerCount,omitempty"`
	Note            string `json:"note,omitempty"`
}

// Booking is a court/simulator reservation.
type Booking struct {
	ID          string             `json:"id"`
	MemberID    string             `json:"memberId"`
	ResourceID  string             `json:"resourceId"`
	StartsAt    time.Time          `json:"startsAt"`
	EndsAt      time.Time          `json:"endsAt"`
	Status      BookingStatus      `json:"status"`
	PlayerCount *int               `json:"playerCount,omitempty"`
	Slots       []BookingSlot      `json:"slots,omitempty"`
	Validation  *BookingValidation `json:"validation,omitempty"`
}

// NotificationCounts carries the two independently-sourced pending totals
// that make up the staff badge.
type NotificationCounts struct {
	PendingBookings int `json:"pendingBookings"`
	PendingRequests int `json:"pendingRequests"`
}

// Total returns the combined badge count.
func (n NotificationCounts) Total() int {
	return n.PendingBookings + n.PendingRequests
}
