package entitlement

import (
	"context"
	"sync"
	"time"
)

// Snapshot is a point-in-time view of the container, safe to copy.
type Snapshot struct {
	State  State
	UserID string
	Tier   Tier
}

// Premium reports whether the snapshot grants premium access.
func (s Snapshot) Premium() bool {
	return s.State == StateLoggedIn && s.Tier == TierPremium
}

// Options tune the store. The zero value picks the defaults below.
type Options struct {
	// ConfirmTimeout bounds the authoritative profile read. On expiry the
	// token-claimed tier is kept. Default 8s; use a shorter value on
	// mobile-grade networks.
	ConfirmTimeout time.Duration

	// FocusDebounce coalesces repeated focus/visibility triggers.
	// Default 2s.
	FocusDebounce time.Duration

	// ManualDebounce coalesces manual refresh requests, longer than focus
	// to tolerate slow portal round-trips. Default 5s.
	ManualDebounce time.Duration

	// Now is the clock, overridable in tests. Default time.Now.
	Now func() time.Time

	// OnChange, when set, is invoked after every state change with the new
	// snapshot, outside the store's lock.
	OnChange func(Snapshot)
}

const (
	defaultConfirmTimeout = 8 * time.Second
	defaultFocusDebounce  = 2 * time.Second
	defaultManualDebounce = 5 * time.Second
)

// Store is the mutex-guarded entitlement state container. One instance per
// application session; all methods are safe for concurrent use.
type Store struct {
	sessions SessionSource
	profiles ProfileReader
	opts     Options

	mu        sync.Mutex
	state     State
	userID    string
	tier      Tier
	lastCheck time.Time
	gen       uint64
}

// NewStore creates an uninitialized store over the given sources.
func NewStore(sessions SessionSource, profiles ProfileReader, opts Options) *Store {
	if opts.ConfirmTimeout <= 0 {
		opts.ConfirmTimeout = defaultConfirmTimeout
	}
	if opts.FocusDebounce <= 0 {
		opts.FocusDebounce = defaultFocusDebounce
	}
	if opts.ManualDebounce <= 0 {
		opts.ManualDebounce = defaultManualDebounce
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Store{
		sessions: sessions,
		profiles: profiles,
		opts:     opts,
		state:    StateUninitialized,
		tier:     TierFree,
	}
}

// Snapshot returns the current state. Gate checks call this.
func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Store) snapshotLocked() Snapshot {
	return Snapshot{State: s.state, UserID: s.userID, Tier: s.tier}
}

// Init reads the persisted session at app start. With no session the store
// lands in logged_out; with one, the token tier is committed synchronously
// and the authoritative confirm runs in the background.
func (s *Store) Init(ctx context.Context) Snapshot {
	s.mu.Lock()
	s.state = StateLoading
	s.mu.Unlock()
	return s.adoptSession(ctx)
}

// SignedIn commits a fresh sign-in. Same two-phase sequence as Init.
func (s *Store) SignedIn(ctx context.Context) Snapshot {
	return s.adoptSession(ctx)
}

// TokenRefreshed re-derives the tier from a silently refreshed token and
// re-confirms it. Not debounced: refreshes are already gateway-paced.
func (s *Store) TokenRefreshed(ctx context.Context) Snapshot {
	return s.adoptSession(ctx)
}

// SignOut clears all cached state immediately.
func (s *Store) SignOut() Snapshot {
	s.mu.Lock()
	s.gen++ // orphan any in-flight confirm
	s.state = StateLoggedOut
	s.userID = ""
	s.tier = TierFree
	s.lastCheck = time.Time{}
	snap := s.snapshotLocked()
	s.mu.Unlock()
	s.notify(snap)
	return snap
}

// FocusRegained re-checks the session when the app regains focus or
// visibility, coalescing bursts of triggers into one re-check.
func (s *Store) FocusRegained(ctx context.Context) Snapshot {
	return s.debouncedRefresh(ctx, s.opts.FocusDebounce)
}

// ManualRefresh is the explicit re-check, e.g. after returning from the
// billing portal.
func (s *Store) ManualRefresh(ctx context.Context) Snapshot {
	return s.debouncedRefresh(ctx, s.opts.ManualDebounce)
}

func (s *Store) debouncedRefresh(ctx context.Context, window time.Duration) Snapshot {
	now := s.opts.Now()
	s.mu.Lock()
	if !s.lastCheck.IsZero() && now.Sub(s.lastCheck) < window {
		snap := s.snapshotLocked()
		s.mu.Unlock()
		return snap
	}
	s.lastCheck = now
	s.mu.Unlock()
	return s.adoptSession(ctx)
}

// adoptSession runs the two-phase update: read the session, commit its
// token tier synchronously, then confirm against the profile row without
// holding the lock.
func (s *Store) adoptSession(ctx context.Context) Snapshot {
	session, err := s.sessions.CurrentSession()
	if err != nil || session == nil {
		// No session, or the session store itself is broken: either way
		// nothing grants access.
		return s.SignOut()
	}

	s.mu.Lock()
	s.gen++
	gen := s.gen
	s.state = StateLoggedIn
	s.userID = session.UserID
	s.tier = ResolveTier(session.Tier, nil, false)
	s.lastCheck = s.opts.Now()
	snap := s.snapshotLocked()
	s.mu.Unlock()
	s.notify(snap)

	go s.confirm(ctx, gen, session.UserID, session.Tier)
	return snap
}

// confirm performs the bounded authoritative read. A result that lost the
// race to a newer trigger or a sign-out is discarded.
func (s *Store) confirm(ctx context.Context, gen uint64, userID string, claim Tier) {
	confirmCtx, cancel := context.WithTimeout(ctx, s.opts.ConfirmTimeout)
	defer cancel()

	var row *Tier
	timedOut := false
	if tier, err := s.profiles.TierByUserID(confirmCtx, userID); err == nil {
		row = &tier
	} else {
		timedOut = true
	}

	resolved := ResolveTier(claim, row, timedOut)

	s.mu.Lock()
	if s.gen != gen || s.state != StateLoggedIn || s.userID != userID {
		s.mu.Unlock()
		return
	}
	changed := s.tier != resolved
	s.tier = resolved
	snap := s.snapshotLocked()
	s.mu.Unlock()

	if changed {
		s.notify(snap)
	}
}

func (s *Store) notify(snap Snapshot) {
	if s.opts.OnChange != nil {
		s.opts.OnChange(snap)
	}
}
