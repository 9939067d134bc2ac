package cache

import (
	"context"
	"errors"
	"testing"
	"time"
)

type snapshot struct {
	IDs       []string  `json:"ids"`
	Timestamp time.Time `json:"timestamp"`
}

func TestTypedCache_RoundTrip(t *testing.T) {
	backing := NewSimpleMemoryCache(time.Hour)
	defer func() { _ = backing.Close() }()
	tc := NewTypedCache[snapshot](backing, time.Hour)
	ctx := context.Background()

	want := snapshot{IDs: []string{"a", "b"}, Timestamp: time.Date(2026, 9, 1, 10, 0, 0, 0, time.UTC)}
	if err := tc.Set(ctx, "snap", &want); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	got, ok := tc.Get(ctx, "snap")
	if !ok {
		t.Fatal("expected hit")
	}
	if len(got.IDs) != 2 || got.IDs[0] != "a" {
		t.Errorf("unexpected value %+v", got)
	}
	if !got.Timestamp.Equal(want.Timestamp) {
		t.Errorf("timestamp mismatch: %v", got.Timestamp)
	}
}

func TestTypedCache_MissOnCorruptPayload(t *testing.T) {
	backing := NewSimpleMemoryCache(time.Hour)
	defer func() { _ = backing.Close() }()
	tc := NewTypedCache[snapshot](backing, time.Hour)
	ctx := context.Background()

	_ = backing.Set(ctx, "snap", []byte("not json"), 0)

	if _, ok := tc.Get(ctx, "snap"); ok {
		t.Error("corrupt payload must read as a miss")
	}
}

func TestTypedCache_GetOrSet(t *testing.T) {
	backing := NewSimpleMemoryCache(time.Hour)
	defer func() { _ = backing.Close() }()
	tc := NewTypedCache[snapshot](backing, time.Hour)
	ctx := context.Background()

	calls := 0
	compute := func() (*snapshot, error) {
		calls++
		return &snapshot{IDs: []string{"x"}}, nil
	}

	if _, err := tc.GetOrSet(ctx, "snap", compute); err != nil {
		t.Fatalf("GetOrSet failed: %v", err)
	}
	if _, err := tc.GetOrSet(ctx, "snap", compute); err != nil {
		t.Fatalf("GetOrSet failed: %v", err)
	}
	if calls != 1 {
		t.Errorf("expected compute to run once, ran %d times", calls)
	}
}

func TestTypedCache_GetOrSetPropagatesError(t *testing.T) {
	backing := NewSimpleMemoryCache(time.Hour)
	defer func() { _ = backing.Close() }()
	tc := NewTypedCache[snapshot](backing, time.Hour)

	wantErr := errors.New("upstream down")
	_, err := tc.GetOrSet(context.Background(), "snap", func() (*snapshot, error) {
		return nil, wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Errorf("expected upstream error, got %v", err)
	}
}
