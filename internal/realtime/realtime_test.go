package realtime

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/everhouse/clubsync/internal/model"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestParseEvent_RejectsUnknownKind(t *testing.T) {
	if _, err := ParseEvent([]byte(`{"eventType":"mystery"}`)); err == nil {
		t.Fatal("unknown kind must be rejected")
	}
	ev, err := ParseEvent([]byte(`{"eventType":"booking","resourceId":"b-1"}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if ev.Kind != EventBooking || ev.ResourceID != "b-1" {
		t.Fatalf("event = %+v", ev)
	}
}

func TestDispatch_FanOutCompleteDespitePanic(t *testing.T) {
	r := NewRegistry(discardLogger())

	var mu sync.Mutex
	var called []string
	r.RegisterCallback("a", func(Event) {
		mu.Lock()
		called = append(called, "a")
		mu.Unlock()
	})
	r.RegisterCallback("b", func(Event) {
		mu.Lock()
		called = append(called, "b")
		mu.Unlock()
		panic("consumer bug")
	})
	r.RegisterCallback("c", func(Event) {
		mu.Lock()
		called = append(called, "c")
		mu.Unlock()
	})

	r.Dispatch(Event{Kind: EventBooking})

	mu.Lock()
	defer mu.Unlock()
	if len(called) != 3 {
		t.Fatalf("called = %v, want every consumer exactly once", called)
	}
	if called[0] != "a" || called[1] != "b" || called[2] != "c" {
		t.Fatalf("called = %v, want registration order", called)
	}
}

func TestDispatch_UnregisterDuringDispatchIsSafe(t *testing.T) {
	r := NewRegistry(discardLogger())

	var calls int32
	r.RegisterCallback("a", func(Event) {
		atomic.AddInt32(&calls, 1)
		r.UnregisterCallback("b")
		r.RegisterCallback("d", func(Event) { atomic.AddInt32(&calls, 100) })
	})
	r.RegisterCallback("b", func(Event) { atomic.AddInt32(&calls, 1) })
	r.RegisterCallback("c", func(Event) { atomic.AddInt32(&calls, 1) })

	r.Dispatch(Event{Kind: EventDirectoryUpdate})

	// The in-progress dispatch delivers to its snapshot: a, b and c run,
	// d does not (beyond the last-event replay it got on registration).
	if got := atomic.LoadInt32(&calls); got != 103 {
		t.Fatalf("calls = %d, want snapshot semantics", got)
	}
	if r.Len() != 3 {
		t.Fatalf("len = %d after unregister and register", r.Len())
	}
}

func TestRegisterCallback_ReplaysLastEvent(t *testing.T) {
	r := NewRegistry(discardLogger())
	r.Dispatch(Event{Kind: EventTierUpdate, ResourceID: "m-9"})

	var got *Event
	r.RegisterCallback("late", func(ev Event) { got = &ev })

	if got == nil || got.Kind != EventTierUpdate || got.ResourceID != "m-9" {
		t.Fatalf("late subscriber got %+v, want retained event", got)
	}
}

func TestDebouncer_CoalescesToSingleTrailingCall(t *testing.T) {
	var fired int32
	d := NewDebouncer(50*time.Millisecond, time.Second, func() {
		atomic.AddInt32(&fired, 1)
	})
	defer d.Stop()

	for i := 0; i < 10; i++ {
		d.Trigger()
		time.Sleep(5 * time.Millisecond)
	}

	time.Sleep(25 * time.Millisecond)
	if atomic.LoadInt32(&fired) != 0 {
		t.Fatal("fired before the trailing window elapsed")
	}
	time.Sleep(80 * time.Millisecond)
	if got := atomic.LoadInt32(&fired); got != 1 {
		t.Fatalf("fired = %d, want exactly one trailing call", got)
	}
}

func TestDebouncer_CooldownDefersSecondBurst(t *testing.T) {
	var fired int32
	d := NewDebouncer(10*time.Millisecond, 200*time.Millisecond, func() {
		atomic.AddInt32(&fired, 1)
	})
	defer d.Stop()

	d.Trigger()
	time.Sleep(30 * time.Millisecond)
	if got := atomic.LoadInt32(&fired); got != 1 {
		t.Fatalf("fired = %d after first burst", got)
	}

	// Second burst lands inside the cooldown; the call must defer, not
	// drop.
	d.Trigger()
	time.Sleep(50 * time.Millisecond)
	if got := atomic.LoadInt32(&fired); got != 1 {
		t.Fatal("second call ran inside the cooldown")
	}
	time.Sleep(250 * time.Millisecond)
	if got := atomic.LoadInt32(&fired); got != 2 {
		t.Fatalf("fired = %d, want the deferred call after cooldown", got)
	}
}

func TestRouter_DirectoryStormCollapsesToOneRefresh(t *testing.T) {
	var mu sync.Mutex
	refreshed := map[string]int{}
	registry := NewRegistry(discardLogger())
	rt := NewRouter(registry, func(key string) {
		mu.Lock()
		refreshed[key]++
		mu.Unlock()
	}, 30*time.Millisecond, time.Second, discardLogger())
	defer rt.Close()

	for i := 0; i < 10; i++ {
		rt.Handle(Event{Kind: EventDirectoryUpdate})
	}
	time.Sleep(100 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if refreshed[model.ResourceDirectory] != 1 {
		t.Fatalf("directory refreshes = %d, want 1", refreshed[model.ResourceDirectory])
	}
}

func TestRouter_BookingRefreshesNotifications(t *testing.T) {
	var mu sync.Mutex
	refreshed := map[string]int{}
	registry := NewRegistry(discardLogger())
	rt := NewRouter(registry, func(key string) {
		mu.Lock()
		refreshed[key]++
		mu.Unlock()
	}, time.Millisecond, time.Millisecond, discardLogger())
	defer rt.Close()

	var seen []EventKind
	registry.RegisterCallback("tap", func(ev Event) { seen = append(seen, ev.Kind) })

	rt.Handle(Event{Kind: EventBooking})
	rt.Handle(Event{Kind: EventAnnouncementUpdate})

	mu.Lock()
	if refreshed[model.ResourceNotifications] != 1 {
		t.Fatalf("notification refreshes = %d", refreshed[model.ResourceNotifications])
	}
	if refreshed[model.ResourceAnnouncements] != 1 {
		t.Fatalf("announcement refreshes = %d", refreshed[model.ResourceAnnouncements])
	}
	mu.Unlock()

	if len(seen) != 2 || seen[0] != EventBooking || seen[1] != EventAnnouncementUpdate {
		t.Fatalf("fan-out saw %v, want both events in arrival order", seen)
	}
}

type stubSession struct {
	mu      sync.Mutex
	checked bool
	profile *model.MemberProfile
}

func (s *stubSession) Checked() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.checked
}

func (s *stubSession) Effective() *model.MemberProfile {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.profile
}

func (s *stubSession) set(checked bool, profile *model.MemberProfile) {
	s.mu.Lock()
	s.checked = checked
	s.profile = profile
	s.mu.Unlock()
}

func TestConn_GateControlsConnection(t *testing.T) {
	upgrader := websocket.Upgrader{}
	connected := make(chan *websocket.Conn, 4)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		connected <- ws
		frame, _ := json.Marshal(Event{Kind: EventBooking, ResourceID: "b-7"})
		_ = ws.WriteMessage(websocket.TextMessage, frame)
	}))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	sess := &stubSession{}

	events := make(chan Event, 4)
	conn := NewConn(ConnOptions{
		URL:     wsURL,
		Session: sess,
		Handler: func(ev Event) { events <- ev },
		Logger:  discardLogger(),
	})
	defer conn.Close()

	// Member role: gate stays shut.
	sess.set(true, &model.MemberProfile{Email: "m@club.test", Role: model.RoleMember})
	conn.Evaluate()
	if conn.Running() {
		t.Fatal("connection opened for an unprivileged member")
	}

	// Staff role: gate opens, the pushed event arrives.
	sess.set(true, &model.MemberProfile{Email: "s@club.test", Role: model.RoleStaff})
	conn.Evaluate()
	select {
	case ev := <-events:
		if ev.Kind != EventBooking || ev.ResourceID != "b-7" {
			t.Fatalf("event = %+v", ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no event received over the push channel")
	}

	// Logout: gate closes and the supervisor shuts down.
	sess.set(true, nil)
	conn.Evaluate()
	if conn.Running() {
		t.Fatal("connection survived logout")
	}
}
