// Package model defines the club domain types shared across the engine:
// member profiles, bookings, club events, café menu items and announcements.
package model

import "time"

// Role is a member's access role.
type Role string

// Member roles.
const (
	RoleMember Role = "member"
	RoleStaff  Role = "staff"
	RoleAdmin  Role = "admin"
)

// IsPrivileged returns true for roles allowed to hold a push-channel
// connection and see the staff back office.
func (r Role) IsPrivileged() bool {
	return r == RoleStaff || r == RoleAdmin
}

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleMember, RoleStaff, RoleAdmin:
		return true
	}
	return false
}

// MemberStatus is a member's standing with the club.
type MemberStatus string

// Member statuses.
const (
	StatusActive   MemberStatus = "Active"
	StatusInactive MemberStatus = "Inactive"
)

// MemberProfile is the authoritative identity record for a club member.
// Email is the system-wide case-insensitive unique key.
type MemberProfile struct {
	ID               string       `json:"id"`
	Name             string       `json:"name"`
	Email            string       `json:"email"`
	Tier             string       `json:"tier"`
	Tags             []string     `json:"tags,omitempty"`
	Role             Role         `json:"role"`
	Status           MemberStatus `json:"status"`
	StripeCustomerID string       `json:"stripeCustomerId,omitempty"`
	MindbodyClientID string       `json:"mindbodyClientId,omitempty"`
	VisitCount       int          `json:"visitCount"`
	LastVisitAt      *time.Time   `json:"lastVisitAt,omitempty"`
}

// IsActive returns true if the member is in good standing.
func (m *MemberProfile) IsActive() bool {
	return m.Status == StatusActive
}
