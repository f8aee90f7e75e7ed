// Package guest manages anonymous identities keyed by a client-generated
// session token. Identities live for a fixed validity window and are
// either migrated into a permanent account or swept by Cleanup.
package guest

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"golang.org/x/sync/singleflight"

	"trailmap/api/internal/store"
	"trailmap/api/internal/util"
)

var (
	ErrMalformedSession = errors.New("guest: malformed session id")
	ErrNotFound         = errors.New("guest: identity not found")
	ErrExpired          = errors.New("guest: identity expired")
	ErrNotGuest         = errors.New("guest: identity is not a guest")
)

// Store is the persistence surface the manager needs.
type Store interface {
	GetGuestBySession(ctx context.Context, sessionID string) (store.Profile, error)
	GetProfileByID(ctx context.Context, profileID string) (store.Profile, error)
	CreateProfile(ctx context.Context, p store.Profile) error
	DeleteExpiredGuests(ctx context.Context, cutoff time.Time) (int64, error)
}

// Cache is the optional session-to-profile lookup cache (Redis in
// production, nil in tests).
type Cache interface {
	CacheGuestProfile(ctx context.Context, sessionID, profileID string, ttl time.Duration) error
	LookupGuestProfile(ctx context.Context, sessionID string) (string, error)
	ForgetGuestProfile(ctx context.Context, sessionID string) error
}

type Manager struct {
	store Store
	cache Cache
	ttl   time.Duration

	// inflight collapses concurrent creations for the same session id
	// into a single storage write; entries clear as soon as the shared
	// call settles, so a failed create can be retried.
	inflight singleflight.Group
}

func NewManager(s Store, cache Cache, ttl time.Duration) *Manager {
	if ttl <= 0 {
		ttl = 30 * 24 * time.Hour
	}
	return &Manager{store: s, cache: cache, ttl: ttl}
}

// TTL returns the guest validity window.
func (m *Manager) TTL() time.Duration {
	return m.ttl
}

type getOrCreateResult struct {
	profile store.Profile
	created bool
}

// GetOrCreate resolves sessionID to a guest identity, creating one on
// first use. Concurrent calls for the same uninitialized session share a
// single creation and all observe the same identity.
func (m *Manager) GetOrCreate(ctx context.Context, sessionID string) (store.Profile, bool, error) {
	if !ValidSessionID(sessionID) {
		return store.Profile{}, false, ErrMalformedSession
	}

	value, err, _ := m.inflight.Do(sessionID, func() (any, error) {
		existing, err := m.lookup(ctx, sessionID)
		if err == nil {
			if vErr := m.Validate(existing); vErr != nil {
				return nil, vErr
			}
			return getOrCreateResult{profile: existing}, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return nil, err
		}

		profile := store.Profile{
			ID:             util.NewID(util.PrefixProfile),
			DisplayName:    "Guest",
			IsGuest:        true,
			GuestSessionID: sessionID,
		}
		if err := m.store.CreateProfile(ctx, profile); err != nil {
			return nil, err
		}
		profile.CreatedAt = time.Now()
		m.cacheSession(ctx, sessionID, profile.ID, m.ttl)
		return getOrCreateResult{profile: profile, created: true}, nil
	})
	if err != nil {
		return store.Profile{}, false, err
	}
	result := value.(getOrCreateResult)
	return result.profile, result.created, nil
}

// LookupBySession resolves an existing guest identity without creating
// one. Callers can tell a miss (ErrNotFound) from a stale identity
// (ErrExpired): the former may be a typo, the latter means the client
// should mint a fresh session.
func (m *Manager) LookupBySession(ctx context.Context, sessionID string) (store.Profile, error) {
	if !ValidSessionID(sessionID) {
		return store.Profile{}, ErrMalformedSession
	}
	profile, err := m.lookup(ctx, sessionID)
	if err != nil {
		return store.Profile{}, err
	}
	if err := m.Validate(profile); err != nil {
		return store.Profile{}, err
	}
	return profile, nil
}

// Validate rejects identities that are not guests or whose validity
// window has elapsed, even when a client still presents them.
func (m *Manager) Validate(p store.Profile) error {
	if !p.IsGuest {
		return ErrNotGuest
	}
	if !p.CreatedAt.IsZero() && time.Since(p.CreatedAt) > m.ttl {
		return ErrExpired
	}
	return nil
}

// Cleanup sweeps guest identities whose validity window has elapsed and
// reports how many were removed. Safe to invoke repeatedly.
func (m *Manager) Cleanup(ctx context.Context) (int64, error) {
	return m.store.DeleteExpiredGuests(ctx, time.Now().Add(-m.ttl))
}

// ForgetSession drops the cache entry for a migrated session.
func (m *Manager) ForgetSession(ctx context.Context, sessionID string) {
	if m.cache == nil {
		return
	}
	_ = m.cache.ForgetGuestProfile(ctx, sessionID)
}

func (m *Manager) lookup(ctx context.Context, sessionID string) (store.Profile, error) {
	if m.cache != nil {
		if profileID, err := m.cache.LookupGuestProfile(ctx, sessionID); err == nil {
			profile, err := m.store.GetProfileByID(ctx, profileID)
			if err == nil && profile.IsGuest && profile.GuestSessionID == sessionID {
				return profile, nil
			}
			// Cache pointed at a migrated or deleted identity; fall
			// through to the authoritative lookup.
		}
	}

	profile, err := m.store.GetGuestBySession(ctx, sessionID)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Profile{}, ErrNotFound
	}
	if err != nil {
		return store.Profile{}, err
	}
	m.cacheSession(ctx, sessionID, profile.ID, m.ttl-time.Since(profile.CreatedAt))
	return profile, nil
}

func (m *Manager) cacheSession(ctx context.Context, sessionID, profileID string, ttl time.Duration) {
	if m.cache == nil || ttl <= 0 {
		return
	}
	_ = m.cache.CacheGuestProfile(ctx, sessionID, profileID, ttl)
}

// ValidSessionID accepts the opaque client-generated token format:
// 16 to 128 characters of URL-safe base64 alphabet.
func ValidSessionID(sessionID string) bool {
	if len(sessionID) < 16 || len(sessionID) > 128 {
		return false
	}
	for i := 0; i < len(sessionID); i++ {
		c := sessionID[i]
		switch {
		case 'a' <= c && c <= 'z':
		case 'A' <= c && c <= 'Z':
		case '0' <= c && c <= '9':
		case c == '-' || c == '_':
		default:
			return false
		}
	}
	return true
}
