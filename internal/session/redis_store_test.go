package session

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func setupTestRedis(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	s := miniredis.RunT(t)
	store, err := NewRedisStore("redis://" + s.Addr())
	if err != nil {
		t.Fatalf("failed to create redis store: %v", err)
	}
	return store, s
}

func TestNewRedisStore(t *testing.T) {
	s := miniredis.RunT(t)
	defer s.Close()

	store, err := NewRedisStore("redis://" + s.Addr())
	if err != nil {
		t.Fatalf("NewRedisStore failed: %v", err)
	}
	defer store.Close()

	if err := store.Ping(context.Background()); err != nil {
		t.Errorf("Ping failed: %v", err)
	}
}

func TestSaveAndLookupRefreshSession(t *testing.T) {
	store, s := setupTestRedis(t)
	defer store.Close()
	defer s.Close()

	ctx := context.Background()
	tokenHash := "test-token-hash"
	expiresAt := time.Now().Add(24 * time.Hour)

	err := store.SaveRefreshSession(ctx, tokenHash, TokenData{
		ProfileID:   "usr_123",
		DisplayName: "Avery",
		IsGuest:     false,
	}, expiresAt)
	if err != nil {
		t.Fatalf("SaveRefreshSession failed: %v", err)
	}

	data, err := store.LookupRefreshSession(ctx, tokenHash)
	if err != nil {
		t.Fatalf("LookupRefreshSession failed: %v", err)
	}
	if data.ProfileID != "usr_123" {
		t.Errorf("expected profile ID usr_123, got %s", data.ProfileID)
	}
	if data.DisplayName != "Avery" {
		t.Errorf("expected display name Avery, got %s", data.DisplayName)
	}
}

func TestLookupMissingRefreshSession(t *testing.T) {
	store, s := setupTestRedis(t)
	defer store.Close()
	defer s.Close()

	if _, err := store.LookupRefreshSession(context.Background(), "nope"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRevokeRefreshSession(t *testing.T) {
	store, s := setupTestRedis(t)
	defer store.Close()
	defer s.Close()

	ctx := context.Background()
	tokenHash := "revoke-me"
	if err := store.SaveRefreshSession(ctx, tokenHash, TokenData{ProfileID: "usr_1"}, time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("SaveRefreshSession failed: %v", err)
	}
	if err := store.RevokeRefreshSession(ctx, tokenHash); err != nil {
		t.Fatalf("RevokeRefreshSession failed: %v", err)
	}
	if _, err := store.LookupRefreshSession(ctx, tokenHash); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound after revoke, got %v", err)
	}
}

func TestRefreshSessionExpiry(t *testing.T) {
	store, s := setupTestRedis(t)
	defer store.Close()
	defer s.Close()

	ctx := context.Background()
	tokenHash := "short-lived"
	if err := store.SaveRefreshSession(ctx, tokenHash, TokenData{ProfileID: "usr_1"}, time.Now().Add(time.Minute)); err != nil {
		t.Fatalf("SaveRefreshSession failed: %v", err)
	}

	s.FastForward(2 * time.Minute)

	if _, err := store.LookupRefreshSession(ctx, tokenHash); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound after expiry, got %v", err)
	}
}

func TestGuestProfileCache(t *testing.T) {
	store, s := setupTestRedis(t)
	defer store.Close()
	defer s.Close()

	ctx := context.Background()
	if err := store.CacheGuestProfile(ctx, "sess-abc", "usr_guest", time.Hour); err != nil {
		t.Fatalf("CacheGuestProfile failed: %v", err)
	}

	profileID, err := store.LookupGuestProfile(ctx, "sess-abc")
	if err != nil {
		t.Fatalf("LookupGuestProfile failed: %v", err)
	}
	if profileID != "usr_guest" {
		t.Errorf("expected usr_guest, got %s", profileID)
	}

	if err := store.ForgetGuestProfile(ctx, "sess-abc"); err != nil {
		t.Fatalf("ForgetGuestProfile failed: %v", err)
	}
	if _, err := store.LookupGuestProfile(ctx, "sess-abc"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound after forget, got %v", err)
	}
}
