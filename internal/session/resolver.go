// Package session resolves and owns the client's identity: one authoritative
// member profile (or none), an optional admin view-as overlay, and the
// one-shot startup reconciliation between the server probe, the in-memory
// identity and the persisted identity cache.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/everhouse/clubsync/internal/api"
	"github.com/everhouse/clubsync/internal/model"
	"github.com/everhouse/clubsync/internal/store"
	"github.com/everhouse/clubsync/internal/util"
)

// Phase is the resolver's lifecycle state. Transitions are strictly
// Booting -> Resolving -> Ready; Ready is terminal for the process.
type Phase int

// Resolver phases.
const (
	PhaseBooting Phase = iota
	PhaseResolving
	PhaseReady
)

func (p Phase) String() string {
	switch p {
	case PhaseBooting:
		return "booting"
	case PhaseResolving:
		return "resolving"
	case PhaseReady:
		return "ready"
	}
	return "unknown"
}

// ErrNotAdmin is returned when a non-admin identity attempts view-as.
var ErrNotAdmin = errors.New("session: view-as requires an admin identity")

// SessionAPI is the slice of the server client the resolver needs.
type SessionAPI interface {
	ProbeSession(ctx context.Context) (*api.SessionInfo, error)
	Login(ctx context.Context, email string) (*model.MemberProfile, error)
	Logout(ctx context.Context) error
}

// IdentityCache is the persisted identity row, bridging restarts until the
// probe completes.
type IdentityCache interface {
	GetIdentity(ctx context.Context) (*model.MemberProfile, error)
	PutIdentity(ctx context.Context, profile *model.MemberProfile) error
	ClearIdentity(ctx context.Context) error
}

// Resolver reconciles the three identity sources into one authoritative
// identity and exposes it to the rest of the engine.
type Resolver struct {
	apiClient SessionAPI
	cache     IdentityCache
	logger    *slog.Logger

	// Bypass, when set, is installed directly and the probe is skipped.
	// Development/test use only.
	bypass *model.MemberProfile

	mu            sync.Mutex
	phase         Phase
	version       int64
	authoritative *model.MemberProfile
	overlay       *model.MemberProfile

	// Login-race latch: set before login's network call, consulted by the
	// probe's unauthenticated branch, cleared by whichever of login/probe
	// finishes second.
	loginInFlight  bool
	loginCompleted bool
	probeSettled   bool

	resolveOnce sync.Once

	listeners []func()
}

// NewResolver creates a Resolver. bypass may be nil.
func NewResolver(apiClient SessionAPI, cache IdentityCache, logger *slog.Logger, bypass *model.MemberProfile) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		apiClient: apiClient,
		cache:     cache,
		logger:    logger,
		bypass:    bypass,
		phase:     PhaseBooting,
	}
}

// Checked reports whether the one-shot resolution has completed. It never
// returns to false once true.
func (r *Resolver) Checked() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.phase == PhaseReady
}

// CurrentPhase returns the resolver's lifecycle phase.
func (r *Resolver) CurrentPhase() Phase {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.phase
}

// Version returns the monotonic session version, incremented on every
// explicit login.
func (r *Resolver) Version() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.version
}

// Identity returns the authoritative identity, or nil when logged out.
func (r *Resolver) Identity() *model.MemberProfile {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.authoritative
}

// Effective returns the identity the engine should act as: the view-as
// overlay when present, the authoritative identity otherwise.
func (r *Resolver) Effective() *model.MemberProfile {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.overlay != nil {
		return r.overlay
	}
	return r.authoritative
}

// ViewingAs reports whether an overlay identity is active.
func (r *Resolver) ViewingAs() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.overlay != nil
}

// OnChange registers a listener invoked after any identity or phase
// change. Listeners are called outside the resolver's lock.
func (r *Resolver) OnChange(fn func()) {
	r.mu.Lock()
	r.listeners = append(r.listeners, fn)
	r.mu.Unlock()
}

func (r *Resolver) notify() {
	r.mu.Lock()
	listeners := make([]func(), len(r.listeners))
	copy(listeners, r.listeners)
	r.mu.Unlock()

	for _, fn := range listeners {
		fn()
	}
}

// transition is the single place phase changes happen. Invalid transitions
// (in particular anything that would leave Ready) are rejected.
func (r *Resolver) transition(to Phase) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	valid := (r.phase == PhaseBooting && to == PhaseResolving) ||
		(r.phase == PhaseResolving && to == PhaseReady)
	if !valid {
		return fmt.Errorf("session: invalid phase transition %s -> %s", r.phase, to)
	}
	r.phase = to
	return nil
}

// Resolve performs the one-shot session resolution. Calling it again is a
// no-op. Every path, including probe failure, ends in PhaseReady.
func (r *Resolver) Resolve(ctx context.Context) {
	r.resolveOnce.Do(func() {
		_ = r.transition(PhaseResolving)
		r.resolve(ctx)
		_ = r.transition(PhaseReady)
		r.notify()
	})
}

func (r *Resolver) resolve(ctx context.Context) {
	defer func() {
		r.mu.Lock()
		r.probeSettled = true
		if r.loginCompleted {
			r.loginInFlight = false
		}
		r.mu.Unlock()
	}()

	if r.bypass != nil {
		r.logger.Info("session bypass identity installed", "email", r.bypass.Email)
		r.install(ctx, r.bypass, false)
		return
	}

	info, err := r.apiClient.ProbeSession(ctx)
	if err != nil {
		// Probe failure is non-fatal: fall back to the in-memory identity,
		// then the persisted cache, clearing neither.
		r.logger.Warn("session probe failed, falling back to cached identity", "error", err)
		r.mu.Lock()
		have := r.authoritative != nil
		r.mu.Unlock()
		if have {
			return
		}
		if cached, cacheErr := r.cache.GetIdentity(ctx); cacheErr == nil {
			r.mu.Lock()
			r.authoritative = cached
			r.mu.Unlock()
			r.logger.Info("restored identity from cache", "email", cached.Email)
		}
		return
	}

	if info.Authenticated && info.Member != nil {
		r.reconcileAuthenticated(ctx, info.Member)
		return
	}

	// Unauthenticated: a login that raced this probe wins; otherwise the
	// persisted identity is stale and must go.
	r.mu.Lock()
	raced := r.loginInFlight || r.loginCompleted
	r.mu.Unlock()
	if raced {
		r.logger.Info("probe returned unauthenticated but a login raced it; keeping login identity")
		return
	}

	r.mu.Lock()
	r.authoritative = nil
	r.mu.Unlock()
	if err := r.cache.ClearIdentity(ctx); err != nil && !errors.Is(err, store.ErrNotFound) {
		r.logger.Warn("failed to clear persisted identity", "error", err)
	}
	r.logger.Info("session resolved: logged out")
}

// reconcileAuthenticated installs the server's identity, purging any cached
// identity whose email disagrees. The server is always trusted; two
// identities are never merged.
func (r *Resolver) reconcileAuthenticated(ctx context.Context, member *model.MemberProfile) {
	stale := false

	r.mu.Lock()
	if r.authoritative != nil && !util.SameEmail(r.authoritative.Email, member.Email) {
		stale = true
	}
	r.mu.Unlock()

	if !stale {
		if cached, err := r.cache.GetIdentity(ctx); err == nil && !util.SameEmail(cached.Email, member.Email) {
			stale = true
		}
	}

	if stale {
		r.logger.Warn("cached identity email mismatch, purging stale identity",
			"server_email", util.CanonicalEmail(member.Email))
		if err := r.cache.ClearIdentity(ctx); err != nil {
			r.logger.Warn("failed to purge stale identity", "error", err)
		}
	}

	r.install(ctx, member, false)
	r.logger.Info("session resolved", "email", member.Email, "role", member.Role)
}

// install makes profile the authoritative identity and persists it.
func (r *Resolver) install(ctx context.Context, profile *model.MemberProfile, bumpVersion bool) {
	r.mu.Lock()
	r.authoritative = profile
	r.overlay = nil
	if bumpVersion {
		r.version++
	}
	r.mu.Unlock()

	if err := r.cache.PutIdentity(ctx, profile); err != nil {
		r.logger.Warn("failed to persist identity", "error", err)
	}
}

// Login performs an explicit login. It may race the startup probe; the
// latch ensures the probe's unauthenticated branch cannot clear the
// freshly logged-in identity.
func (r *Resolver) Login(ctx context.Context, email string) (*model.MemberProfile, error) {
	r.mu.Lock()
	r.loginInFlight = true
	r.mu.Unlock()

	member, err := r.apiClient.Login(ctx, email)

	// Only a login that succeeded may win the race against the probe. A
	// rejected login releases the latch so an unauthenticated probe still
	// clears any stale persisted identity.
	r.mu.Lock()
	if err == nil {
		r.loginCompleted = true
	}
	if r.probeSettled || err != nil {
		r.loginInFlight = false
	}
	r.mu.Unlock()

	if err != nil {
		return nil, err
	}

	r.install(ctx, member, true)
	r.notify()
	return member, nil
}

// Logout clears the identity everywhere and degrades all privileged
// behavior. The server call is best effort.
func (r *Resolver) Logout(ctx context.Context) {
	if err := r.apiClient.Logout(ctx); err != nil {
		r.logger.Warn("server logout failed", "error", err)
	}

	r.mu.Lock()
	r.authoritative = nil
	r.overlay = nil
	r.mu.Unlock()

	if err := r.cache.ClearIdentity(ctx); err != nil {
		r.logger.Warn("failed to clear persisted identity on logout", "error", err)
	}

	r.notify()
}

// ViewAs overlays another member's identity on top of an admin session.
// The authoritative identity is untouched and restorable via EndViewAs.
func (r *Resolver) ViewAs(profile *model.MemberProfile) error {
	r.mu.Lock()
	if r.authoritative == nil || r.authoritative.Role != model.RoleAdmin {
		r.mu.Unlock()
		return ErrNotAdmin
	}
	r.overlay = profile
	r.mu.Unlock()

	r.notify()
	return nil
}

// EndViewAs drops the overlay, restoring the authoritative identity.
func (r *Resolver) EndViewAs() {
	r.mu.Lock()
	changed := r.overlay != nil
	r.overlay = nil
	r.mu.Unlock()

	if changed {
		r.notify()
	}
}
