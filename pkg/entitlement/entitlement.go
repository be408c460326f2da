// Package entitlement provides a client-side subscription state container:
// an in-memory, session-lifetime cache of the user's tier, seeded from the
// access token's claims and opportunistically confirmed against the
// authoritative profile row. It is the embeddable counterpart of the
// server's webhook reconciler, intended for app shells (gateways, BFFs,
// terminal clients) that gate premium content.
package entitlement

import "context"

// Tier is the UI-visible subscription tier.
type Tier string

const (
	TierFree    Tier = "free"
	TierPremium Tier = "premium"
)

// State is the lifecycle state of the container. LoggedIn persists while
// the tier oscillates between free and premium.
type State string

const (
	StateUninitialized State = "uninitialized"
	StateLoading       State = "loading"
	StateLoggedOut     State = "logged_out"
	StateLoggedIn      State = "logged_in"
)

// Session is a persisted auth session plus the tier its token claims carry.
type Session struct {
	UserID string
	Tier   Tier
}

// SessionSource reads the current persisted session. A nil session with a
// nil error means no one is signed in.
type SessionSource interface {
	CurrentSession() (*Session, error)
}

// ProfileReader reads the authoritative tier for a user.
type ProfileReader interface {
	TierByUserID(ctx context.Context, userID string) (Tier, error)
}

// ResolveTier merges the token-claimed tier with the confirmed row value.
// The row is authoritative when it arrived; on timeout or absence the claim
// wins, because a stale-but-correct tier beats a spurious downgrade caused
// by a transient read failure.
func ResolveTier(claim Tier, row *Tier, timedOut bool) Tier {
	if timedOut || row == nil {
		return claim
	}
	return *row
}
