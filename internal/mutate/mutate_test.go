package mutate

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/everhouse/clubsync/internal/model"
)

func announcementCoordinator(remote RemoteOps[model.Announcement]) *Coordinator[model.Announcement] {
	return NewCoordinator(Options[model.Announcement]{
		Collection: NewCollection[model.Announcement](),
		Remote:     remote,
		WithID: func(a model.Announcement, id string) model.Announcement {
			a.ID = id
			return a
		},
	})
}

func okRemote() RemoteOps[model.Announcement] {
	return RemoteOps[model.Announcement]{
		Create: func(_ context.Context, a model.Announcement) (model.Announcement, error) {
			a.ID = "srv-1"
			return a, nil
		},
		Update: func(_ context.Context, a model.Announcement) (model.Announcement, error) {
			return a, nil
		},
		Delete: func(_ context.Context, _ string) error { return nil },
	}
}

func TestCreate_PlaceholderThenCanonical(t *testing.T) {
	release := make(chan struct{})
	remote := okRemote()
	remote.Create = func(_ context.Context, a model.Announcement) (model.Announcement, error) {
		<-release
		a.ID = "srv-42"
		return a, nil
	}
	m := announcementCoordinator(remote)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, err := m.Create(context.Background(), model.Announcement{Title: "Pool closed"})
		assert.NoError(t, err)
	}()

	// Placeholder must be visible while the create is in flight.
	waitFor(t, func() bool { return m.Collection().Len() == 1 })
	items := m.Collection().Items()
	require.Len(t, items, 1)
	assert.True(t, IsTempID(items[0].ID))

	close(release)
	wg.Wait()

	items = m.Collection().Items()
	require.Len(t, items, 1)
	assert.Equal(t, "srv-42", items[0].ID)
	assert.Equal(t, "Pool closed", items[0].Title)
	for _, item := range items {
		assert.False(t, IsTempID(item.ID), "no placeholder may survive confirmation")
	}
}

func TestCreate_FailureDropsPlaceholder(t *testing.T) {
	remote := okRemote()
	remote.Create = func(_ context.Context, _ model.Announcement) (model.Announcement, error) {
		return model.Announcement{}, errors.New("503 unavailable")
	}
	m := announcementCoordinator(remote)

	_, err := m.Create(context.Background(), model.Announcement{Title: "Oops"})
	require.Error(t, err)
	assert.Equal(t, 0, m.Collection().Len())
}

func TestUpdate_FailureRestoresSnapshot(t *testing.T) {
	remote := okRemote()
	remote.Update = func(_ context.Context, _ model.Announcement) (model.Announcement, error) {
		return model.Announcement{}, errors.New("500 internal")
	}
	m := announcementCoordinator(remote)

	before := []model.Announcement{
		{ID: "a1", Title: "Original title", Body: "Original body"},
		{ID: "a2", Title: "Untouched"},
	}
	m.Collection().Replace(before)

	changed := before[0]
	changed.Title = "New title"
	_, err := m.Update(context.Background(), changed)
	require.Error(t, err)

	// Rollback law: post-failure state deep-equals the pre-mutation state.
	assert.Equal(t, before, m.Collection().Items())
}

func TestUpdate_SuccessInstallsCanonical(t *testing.T) {
	remote := okRemote()
	remote.Update = func(_ context.Context, a model.Announcement) (model.Announcement, error) {
		a.Body = "server normalized body"
		return a, nil
	}
	m := announcementCoordinator(remote)
	m.Collection().Replace([]model.Announcement{{ID: "a1", Title: "T", Body: "local"}})

	got, err := m.Update(context.Background(), model.Announcement{ID: "a1", Title: "T2", Body: "local"})
	require.NoError(t, err)
	assert.Equal(t, "server normalized body", got.Body)

	item, ok := m.Collection().Get("a1")
	require.True(t, ok)
	assert.Equal(t, "server normalized body", item.Body)
}

func TestDelete_FailureRestoresSnapshot(t *testing.T) {
	remote := okRemote()
	remote.Delete = func(_ context.Context, _ string) error {
		return errors.New("409 conflict")
	}
	m := announcementCoordinator(remote)

	before := []model.Announcement{{ID: "a1"}, {ID: "a2"}}
	m.Collection().Replace(before)

	err := m.Delete(context.Background(), "a2")
	require.Error(t, err)
	assert.Equal(t, before, m.Collection().Items())
}

func TestDelete_Success(t *testing.T) {
	m := announcementCoordinator(okRemote())
	m.Collection().Replace([]model.Announcement{{ID: "a1"}, {ID: "a2"}})

	require.NoError(t, m.Delete(context.Background(), "a1"))
	assert.Equal(t, 1, m.Collection().Len())
	_, ok := m.Collection().Get("a1")
	assert.False(t, ok)
}

func TestUpdate_SameItemRaceIsLastWriteWins(t *testing.T) {
	firstDone := make(chan struct{})
	remote := okRemote()
	calls := 0
	var mu sync.Mutex
	remote.Update = func(_ context.Context, a model.Announcement) (model.Announcement, error) {
		mu.Lock()
		calls++
		n := calls
		mu.Unlock()
		if n == 2 {
			// Second mutation's response must wait until the first has
			// fully reconciled.
			<-firstDone
		}
		return a, nil
	}
	m := announcementCoordinator(remote)
	m.Collection().Replace([]model.Announcement{{ID: "a1", Title: "v0"}})

	_, err := m.Update(context.Background(), model.Announcement{ID: "a1", Title: "v1"})
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, err := m.Update(context.Background(), model.Announcement{ID: "a1", Title: "v2"})
		assert.NoError(t, err)
	}()
	close(firstDone)
	<-done

	item, ok := m.Collection().Get("a1")
	require.True(t, ok)
	assert.Equal(t, "v2", item.Title, "the later write's result sticks")
}

func TestUpdate_UnknownIDFails(t *testing.T) {
	m := announcementCoordinator(okRemote())
	_, err := m.Update(context.Background(), model.Announcement{ID: "ghost"})
	assert.Error(t, err)
}

func TestCollection_OnChangeSeesEveryTransition(t *testing.T) {
	m := announcementCoordinator(okRemote())

	var mu sync.Mutex
	var sizes []int
	m.Collection().OnChange(func(items []model.Announcement) {
		mu.Lock()
		sizes = append(sizes, len(items))
		mu.Unlock()
	})

	_, err := m.Create(context.Background(), model.Announcement{Title: "x"})
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	// Insert placeholder, then swap for the canonical object.
	assert.Equal(t, []int{1, 1}, sizes)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition never became true")
}
