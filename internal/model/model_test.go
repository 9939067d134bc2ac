package model

import (
	"encoding/json"
	"testing"
	"time"
)

func TestRole_IsPrivileged(t *testing.T) {
	if RoleMember.IsPrivileged() {
		t.Error("member must not be privileged")
	}
	if !RoleStaff.IsPrivileged() {
		t.Error("staff must be privileged")
	}
	if !RoleAdmin.IsPrivileged() {
		t.Error("admin must be privileged")
	}
}

func TestRole_Valid(t *testing.T) {
	if !RoleAdmin.Valid() {
		t.Error("admin should be valid")
	}
	if Role("superuser").Valid() {
		t.Error("unknown role should be invalid")
	}
}

func TestCivilDate_Ordering(t *testing.T) {
	a := CivilDate{2026, time.March, 1}
	b := CivilDate{2026, time.March, 2}

	if !a.Before(b) {
		t.Error("expected a < b")
	}
	if b.Before(a) {
		t.Error("expected !(b < a)")
	}
	if a.Before(a) {
		t.Error("Before must be strict")
	}
}

func TestCivilDate_AddDays(t *testing.T) {
	d := CivilDate{2026, time.February, 28}
	if got := d.AddDays(1); got != (CivilDate{2026, time.March, 1}) {
		t.Errorf("expected 2026-03-01, got %s", got)
	}
	if got := d.AddDays(-28); got != (CivilDate{2026, time.January, 31}) {
		t.Errorf("expected 2026-01-31, got %s", got)
	}
}

func TestCivilDate_JSON(t *testing.T) {
	var a Announcement
	raw := `{"id":"a1","title":"Pool closed","startDate":"2026-09-01","endDate":null}`
	if err := json.Unmarshal([]byte(raw), &a); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if a.StartDate == nil || a.StartDate.String() != "2026-09-01" {
		t.Errorf("expected startDate 2026-09-01, got %v", a.StartDate)
	}
	if a.EndDate != nil {
		t.Errorf("expected open end date, got %v", a.EndDate)
	}
}

func TestAnnouncement_ActiveOn(t *testing.T) {
	today := CivilDate{2026, time.September, 1}
	start := today
	end := today

	tests := []struct {
		name string
		a    Announcement
		want bool
	}{
		{"no bounds", Announcement{}, true},
		{"starts today", Announcement{StartDate: &start}, true},
		{"ends today", Announcement{EndDate: &end}, true},
		{"starts tomorrow", Announcement{StartDate: ptrDate(today.AddDays(1))}, false},
		{"ended yesterday", Announcement{EndDate: ptrDate(today.AddDays(-1))}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.a.ActiveOn(today); got != tt.want {
				t.Errorf("ActiveOn = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestBookingSlot_Kinds(t *testing.T) {
	linked := BookingSlot{ID: "s1", MemberID: "m1"}
	guest := BookingSlot{ID: "s2", GuestName: "Pat"}
	empty := BookingSlot{ID: "s3"}

	if !linked.Linked() || linked.Guest() {
		t.Error("linked slot misclassified")
	}
	if guest.Linked() || !guest.Guest() {
		t.Error("guest slot misclassified")
	}
	if empty.Linked() || empty.Guest() {
		t.Error("empty slot misclassified")
	}
}

func TestNotificationCounts_Total(t *testing.T) {
	n := NotificationCounts{PendingBookings: 3, PendingRequests: 2}
	if n.Total() != 5 {
		t.Errorf("expected 5, got %d", n.Total())
	}
}

func ptrDate(d CivilDate) *CivilDate { return &d }
