// Package status serves the loopback introspection API: engine health,
// the current session, cache counters and the latest synchronized state
// per resource.
package status

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/everhouse/clubsync/internal/cache"
	"github.com/everhouse/clubsync/internal/derive"
	"github.com/everhouse/clubsync/internal/model"
	"github.com/everhouse/clubsync/internal/mutate"
	"github.com/everhouse/clubsync/internal/syncer"
	"github.com/everhouse/clubsync/internal/version"
)

// SessionReader is the session surface the status API exposes.
type SessionReader interface {
	Checked() bool
	Identity() *model.MemberProfile
	Effective() *model.MemberProfile
	ViewingAs() bool
	Version() int64
}

// ResourceReader serves resource payloads and failure counters.
type ResourceReader interface {
	FetchAndCache(ctx context.Context, key string) ([]byte, error)
	Failures(key string) int
}

// BookingLinker attaches and detaches members on booking slots. The
// server call returns the updated booking.
type BookingLinker interface {
	LinkBookingSlot(ctx context.Context, bookingID, slotID, memberEmail string) (*model.Booking, error)
	UnlinkBookingSlot(ctx context.Context, bookingID, slotID string) (*model.Booking, error)
}

// Options configures the status server.
type Options struct {
	Addr    string
	Session SessionReader
	Syncer  ResourceReader
	Cache   cache.Cache
	Build   version.Info
	Logger  *slog.Logger

	// Announcements, CafeMenu and Events enable the loopback write
	// endpoints for their resource when set. Staff tooling drives
	// optimistic edits through them.
	Announcements *mutate.Coordinator[model.Announcement]
	CafeMenu      *mutate.Coordinator[model.CafeItem]
	Events        *mutate.Coordinator[model.ClubEvent]

	// Bookings enables the slot link endpoints when set.
	Bookings BookingLinker

	// Dismiss marks an announcement seen for the current identity.
	Dismiss func(ctx context.Context, id string)

	// Badge exposes the pending-count badge when set.
	Badge *derive.PendingBadge

	// ActiveAnnouncements returns the display-ready active, unseen
	// announcements for the current identity.
	ActiveAnnouncements func() []derive.RenderedAnnouncement
}

// Server is the loopback HTTP server.
type Server struct {
	opts Options
	srv  *http.Server
}

// New builds the server and its routes.
func New(opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	s := &Server{opts: opts}

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(30 * time.Second))

	r.Get("/healthz", s.handleHealth)
	r.Route("/v1", func(r chi.Router) {
		r.Get("/session", s.handleSession)
		r.Get("/cache/stats", s.handleCacheStats)
		r.Get("/state/{resource}", s.handleState)
		if opts.Announcements != nil {
			mountWrites(r, s, "/announcements", opts.Announcements)
		}
		if opts.CafeMenu != nil {
			mountWrites(r, s, "/cafe-menu", opts.CafeMenu)
		}
		if opts.Events != nil {
			mountWrites(r, s, "/events", opts.Events)
		}
		if opts.ActiveAnnouncements != nil {
			r.Get("/announcements/active", s.handleActiveAnnouncements)
		}
		if opts.Dismiss != nil {
			r.Post("/announcements/{id}/dismiss", s.handleDismissAnnouncement)
		}
		if opts.Bookings != nil {
			r.Post("/bookings/{id}/links", s.handleLinkSlot)
			r.Delete("/bookings/{id}/links/{slotID}", s.handleUnlinkSlot)
		}
		if opts.Badge != nil {
			r.Get("/badge", s.handleBadge)
			r.Post("/badge/decrement", s.handleBadgeDecrement)
		}
	})

	s.srv = &http.Server{
		Addr:              opts.Addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Start serves until Shutdown. Blocking.
func (s *Server) Start() error {
	s.opts.Logger.Info("status server listening", "addr", s.opts.Addr)
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.srv.Handler
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.opts.Logger.Warn("status response write failed", "error", err)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": s.opts.Build.String(),
	})
}

func (s *Server) handleSession(w http.ResponseWriter, _ *http.Request) {
	sess := s.opts.Session
	out := map[string]any{
		"checked":    sess.Checked(),
		"version":    sess.Version(),
		"viewing_as": sess.ViewingAs(),
	}
	if id := sess.Identity(); id != nil {
		out["email"] = id.Email
		out["role"] = id.Role
	}
	if eff := sess.Effective(); eff != nil {
		out["effective_email"] = eff.Email
		out["effective_role"] = eff.Role
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleCacheStats(w http.ResponseWriter, _ *http.Request) {
	sp, ok := s.opts.Cache.(cache.StatsProvider)
	if !ok {
		s.writeJSON(w, http.StatusNotImplemented, map[string]string{
			"error": "cache does not expose statistics",
		})
		return
	}
	s.writeJSON(w, http.StatusOK, sp.Stats())
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "resource")
	if !validResource(key) {
		s.writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "unknown resource",
		})
		return
	}

	data, err := s.opts.Syncer.FetchAndCache(r.Context(), key)
	if err != nil {
		if errors.Is(err, syncer.ErrNoData) {
			s.writeJSON(w, http.StatusNotFound, map[string]string{
				"error": "no data yet",
			})
			return
		}
		s.opts.Logger.Warn("state read failed", "key", key, "error", err)
		s.writeJSON(w, http.StatusBadGateway, map[string]string{
			"error": "resource unavailable",
		})
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("X-Sync-Failures", strconv.Itoa(s.opts.Syncer.Failures(key)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// mountWrites registers the optimistic write endpoints for one resource
// collection: list, create, update, delete. Every write goes through the
// coordinator so edits land locally before the server confirms them.
func mountWrites[T mutate.Resource](r chi.Router, s *Server, path string, coord *mutate.Coordinator[T]) {
	r.Get(path, func(w http.ResponseWriter, _ *http.Request) {
		s.writeJSON(w, http.StatusOK, coord.Collection().Items())
	})
	r.Post(path, func(w http.ResponseWriter, req *http.Request) {
		var item T
		if err := json.NewDecoder(req.Body).Decode(&item); err != nil {
			s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid body"})
			return
		}
		out, err := coord.Create(req.Context(), item)
		if err != nil {
			s.writeJSON(w, http.StatusBadGateway, map[string]string{"error": err.Error()})
			return
		}
		s.writeJSON(w, http.StatusCreated, out)
	})
	r.Put(path+"/{id}", func(w http.ResponseWriter, req *http.Request) {
		var item T
		if err := json.NewDecoder(req.Body).Decode(&item); err != nil {
			s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid body"})
			return
		}
		out, err := coord.Update(req.Context(), coord.WithID(item, chi.URLParam(req, "id")))
		if err != nil {
			s.writeJSON(w, http.StatusBadGateway, map[string]string{"error": err.Error()})
			return
		}
		s.writeJSON(w, http.StatusOK, out)
	})
	r.Delete(path+"/{id}", func(w http.ResponseWriter, req *http.Request) {
		if err := coord.Delete(req.Context(), chi.URLParam(req, "id")); err != nil {
			s.writeJSON(w, http.StatusBadGateway, map[string]string{"error": err.Error()})
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})
}

func (s *Server) handleDismissAnnouncement(w http.ResponseWriter, r *http.Request) {
	s.opts.Dismiss(r.Context(), chi.URLParam(r, "id"))
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleLinkSlot(w http.ResponseWriter, r *http.Request) {
	var body struct {
		SlotID      string `json:"slotId"`
		MemberEmail string `json:"memberEmail"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.SlotID == "" {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid body"})
		return
	}
	booking, err := s.opts.Bookings.LinkBookingSlot(r.Context(), chi.URLParam(r, "id"), body.SlotID, body.MemberEmail)
	if err != nil {
		s.writeJSON(w, http.StatusBadGateway, map[string]string{"error": err.Error()})
		return
	}
	s.writeBooking(w, booking)
}

func (s *Server) handleUnlinkSlot(w http.ResponseWriter, r *http.Request) {
	booking, err := s.opts.Bookings.UnlinkBookingSlot(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "slotID"))
	if err != nil {
		s.writeJSON(w, http.StatusBadGateway, map[string]string{"error": err.Error()})
		return
	}
	s.writeBooking(w, booking)
}

// writeBooking responds with the updated booking and its derived slot
// completeness.
func (s *Server) writeBooking(w http.ResponseWriter, b *model.Booking) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"booking": b,
		"slots":   derive.SummarizeSlots(b),
	})
}

func (s *Server) handleActiveAnnouncements(w http.ResponseWriter, _ *http.Request) {
	items := s.opts.ActiveAnnouncements()
	if items == nil {
		items = []derive.RenderedAnnouncement{}
	}
	s.writeJSON(w, http.StatusOK, items)
}

func (s *Server) handleBadge(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]int{"pending": s.opts.Badge.Value()})
}

func (s *Server) handleBadgeDecrement(w http.ResponseWriter, _ *http.Request) {
	s.opts.Badge.DecrementPending()
	s.writeJSON(w, http.StatusOK, map[string]int{"pending": s.opts.Badge.Value()})
}

func validResource(key string) bool {
	if key == model.ResourceDirectory {
		return true
	}
	for _, k := range model.SyncResources {
		if k == key {
			return true
		}
	}
	return false
}
