package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/everhouse/clubsync/internal/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	db, err := NewDB(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("NewDB failed: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	if err := Migrate(db); err != nil {
		t.Fatalf("Migrate failed: %v", err)
	}
	return New(db)
}

func TestSnapshot_RoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.GetSnapshot(ctx, model.ResourceEvents)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	want := &Snapshot{
		Key:       model.ResourceEvents,
		Data:      []byte(`[{"id":"e1"}]`),
		ETag:      `"abc"`,
		UpdatedAt: time.Now().Truncate(time.Second),
	}
	if err := s.PutSnapshot(ctx, want); err != nil {
		t.Fatalf("PutSnapshot failed: %v", err)
	}

	got, err := s.GetSnapshot(ctx, model.ResourceEvents)
	if err != nil {
		t.Fatalf("GetSnapshot failed: %v", err)
	}
	if string(got.Data) != string(want.Data) {
		t.Errorf("data mismatch: %s", got.Data)
	}
	if got.ETag != want.ETag {
		t.Errorf("etag mismatch: %s", got.ETag)
	}

	// Upsert replaces
	want.Data = []byte(`[]`)
	if err := s.PutSnapshot(ctx, want); err != nil {
		t.Fatalf("PutSnapshot upsert failed: %v", err)
	}
	got, err = s.GetSnapshot(ctx, model.ResourceEvents)
	if err != nil {
		t.Fatalf("GetSnapshot failed: %v", err)
	}
	if string(got.Data) != "[]" {
		t.Errorf("expected replaced data, got %s", got.Data)
	}
}

func TestIdentity_RoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.GetIdentity(ctx); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	profile := &model.MemberProfile{
		ID:     "m1",
		Name:   "Alice",
		Email:  "Alice@Club.Example",
		Role:   model.RoleStaff,
		Status: model.StatusActive,
	}
	if err := s.PutIdentity(ctx, profile); err != nil {
		t.Fatalf("PutIdentity failed: %v", err)
	}

	got, err := s.GetIdentity(ctx)
	if err != nil {
		t.Fatalf("GetIdentity failed: %v", err)
	}
	if got.ID != "m1" || got.Email != "Alice@Club.Example" {
		t.Errorf("unexpected identity %+v", got)
	}

	// Replacing keeps a single row
	profile2 := &model.MemberProfile{ID: "m2", Email: "bob@club.example", Role: model.RoleMember}
	if err := s.PutIdentity(ctx, profile2); err != nil {
		t.Fatalf("PutIdentity replace failed: %v", err)
	}
	got, err = s.GetIdentity(ctx)
	if err != nil {
		t.Fatalf("GetIdentity failed: %v", err)
	}
	if got.ID != "m2" {
		t.Errorf("expected replacement identity, got %+v", got)
	}

	if err := s.ClearIdentity(ctx); err != nil {
		t.Fatalf("ClearIdentity failed: %v", err)
	}
	if _, err := s.GetIdentity(ctx); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound after clear, got %v", err)
	}
}

func TestDismissedNotices(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.AddDismissedNotice(ctx, "A@x.com", "n1"); err != nil {
		t.Fatalf("AddDismissedNotice failed: %v", err)
	}
	// Duplicate dismissal is absorbed
	if err := s.AddDismissedNotice(ctx, "a@x.com", "n1"); err != nil {
		t.Fatalf("duplicate AddDismissedNotice failed: %v", err)
	}
	if err := s.AddDismissedNotice(ctx, "a@x.com", "n2"); err != nil {
		t.Fatalf("AddDismissedNotice failed: %v", err)
	}

	// Lookup is case-insensitive on email
	ids, err := s.DismissedNotices(ctx, "A@X.COM")
	if err != nil {
		t.Fatalf("DismissedNotices failed: %v", err)
	}
	if len(ids) != 2 {
		t.Fatalf("expected 2 ids, got %v", ids)
	}

	// Other members see nothing
	ids, err = s.DismissedNotices(ctx, "b@x.com")
	if err != nil {
		t.Fatalf("DismissedNotices failed: %v", err)
	}
	if len(ids) != 0 {
		t.Errorf("expected empty set for other member, got %v", ids)
	}

	if err := s.ReplaceDismissedNotices(ctx, "a@x.com", []string{"n9"}); err != nil {
		t.Fatalf("ReplaceDismissedNotices failed: %v", err)
	}
	ids, _ = s.DismissedNotices(ctx, "a@x.com")
	if len(ids) != 1 || ids[0] != "n9" {
		t.Errorf("expected replaced set [n9], got %v", ids)
	}
}

func TestEventLog(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.LogEvent(ctx, "warn", "sync pass failed", `{"key":"events"}`); err != nil {
		t.Fatalf("LogEvent failed: %v", err)
	}
	if err := s.LogEvent(ctx, "error", "rollback applied", ""); err != nil {
		t.Fatalf("LogEvent failed: %v", err)
	}

	// Nothing is old enough to prune
	n, err := s.PruneEventLog(ctx, time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatalf("PruneEventLog failed: %v", err)
	}
	if n != 0 {
		t.Errorf("expected 0 pruned, got %d", n)
	}

	n, err = s.PruneEventLog(ctx, time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("PruneEventLog failed: %v", err)
	}
	if n != 2 {
		t.Errorf("expected 2 pruned, got %d", n)
	}
}
