package guest

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"trailmap/api/internal/store"
)

type fakeStore struct {
	mu       sync.Mutex
	profiles map[string]store.Profile

	createGate    chan struct{}
	createCount   atomic.Int32
	deleteExpired func(context.Context, time.Time) (int64, error)
}

func newFakeStore() *fakeStore {
	return &fakeStore{profiles: map[string]store.Profile{}}
}

func (f *fakeStore) GetGuestBySession(_ context.Context, sessionID string) (store.Profile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.profiles {
		if p.IsGuest && p.GuestSessionID == sessionID {
			return p, nil
		}
	}
	return store.Profile{}, sql.ErrNoRows
}

func (f *fakeStore) GetProfileByID(_ context.Context, profileID string) (store.Profile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.profiles[profileID]
	if !ok {
		return store.Profile{}, sql.ErrNoRows
	}
	return p, nil
}

func (f *fakeStore) CreateProfile(_ context.Context, p store.Profile) error {
	if f.createGate != nil {
		<-f.createGate
	}
	f.createCount.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	p.CreatedAt = time.Now()
	f.profiles[p.ID] = p
	return nil
}

func (f *fakeStore) DeleteExpiredGuests(ctx context.Context, cutoff time.Time) (int64, error) {
	if f.deleteExpired != nil {
		return f.deleteExpired(ctx, cutoff)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	var removed int64
	for id, p := range f.profiles {
		if p.IsGuest && p.CreatedAt.Before(cutoff) {
			delete(f.profiles, id)
			removed++
		}
	}
	return removed, nil
}

const testSession = "abcdefgh12345678"

func TestGetOrCreateCreatesOnce(t *testing.T) {
	fs := newFakeStore()
	m := NewManager(fs, nil, 30*24*time.Hour)

	profile, created, err := m.GetOrCreate(context.Background(), testSession)
	if err != nil {
		t.Fatalf("GetOrCreate() error = %v", err)
	}
	if !created {
		t.Fatal("expected created = true on first call")
	}
	if !profile.IsGuest || profile.GuestSessionID != testSession {
		t.Fatalf("unexpected profile: %+v", profile)
	}

	again, created, err := m.GetOrCreate(context.Background(), testSession)
	if err != nil {
		t.Fatalf("GetOrCreate() second call error = %v", err)
	}
	if created {
		t.Fatal("expected created = false on second call")
	}
	if again.ID != profile.ID {
		t.Fatalf("expected same identity, got %s and %s", profile.ID, again.ID)
	}
	if got := fs.createCount.Load(); got != 1 {
		t.Fatalf("expected 1 create, got %d", got)
	}
}

func TestGetOrCreateCollapsesConcurrentCalls(t *testing.T) {
	fs := newFakeStore()
	fs.createGate = make(chan struct{})
	m := NewManager(fs, nil, 30*24*time.Hour)

	type result struct {
		id  string
		err error
	}
	results := make(chan result, 2)
	for i := 0; i < 2; i++ {
		go func() {
			p, _, err := m.GetOrCreate(context.Background(), testSession)
			results <- result{id: p.ID, err: err}
		}()
	}

	// Let both callers reach the in-flight group before the create
	// is allowed to finish.
	time.Sleep(50 * time.Millisecond)
	close(fs.createGate)

	first := <-results
	second := <-results
	if first.err != nil || second.err != nil {
		t.Fatalf("unexpected errors: %v, %v", first.err, second.err)
	}
	if first.id != second.id {
		t.Fatalf("concurrent calls resolved different identities: %s, %s", first.id, second.id)
	}
	if got := fs.createCount.Load(); got != 1 {
		t.Fatalf("expected exactly 1 create, got %d", got)
	}
}

func TestGetOrCreateRejectsMalformedSession(t *testing.T) {
	m := NewManager(newFakeStore(), nil, 30*24*time.Hour)
	for _, bad := range []string{"", "short", "has spaces here too!", "bad/slash/session1"} {
		if _, _, err := m.GetOrCreate(context.Background(), bad); !errors.Is(err, ErrMalformedSession) {
			t.Fatalf("GetOrCreate(%q) error = %v, want ErrMalformedSession", bad, err)
		}
	}
}

func TestValidateExpiryWindow(t *testing.T) {
	m := NewManager(newFakeStore(), nil, 30*24*time.Hour)

	fresh := store.Profile{IsGuest: true, CreatedAt: time.Now().Add(-29 * 24 * time.Hour)}
	if err := m.Validate(fresh); err != nil {
		t.Fatalf("Validate(29 days old) error = %v", err)
	}

	stale := store.Profile{IsGuest: true, CreatedAt: time.Now().Add(-31 * 24 * time.Hour)}
	if err := m.Validate(stale); !errors.Is(err, ErrExpired) {
		t.Fatalf("Validate(31 days old) error = %v, want ErrExpired", err)
	}

	member := store.Profile{IsGuest: false, CreatedAt: time.Now()}
	if err := m.Validate(member); !errors.Is(err, ErrNotGuest) {
		t.Fatalf("Validate(non-guest) error = %v, want ErrNotGuest", err)
	}
}

func TestLookupBySessionDistinguishesMissFromExpired(t *testing.T) {
	fs := newFakeStore()
	fs.profiles["usr_old"] = store.Profile{
		ID:             "usr_old",
		IsGuest:        true,
		GuestSessionID: "stale-session-0123",
		CreatedAt:      time.Now().Add(-31 * 24 * time.Hour),
	}
	m := NewManager(fs, nil, 30*24*time.Hour)

	if _, err := m.LookupBySession(context.Background(), "missing-session-01"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("lookup miss error = %v, want ErrNotFound", err)
	}
	if _, err := m.LookupBySession(context.Background(), "stale-session-0123"); !errors.Is(err, ErrExpired) {
		t.Fatalf("stale lookup error = %v, want ErrExpired", err)
	}
}

func TestCleanupIsIdempotent(t *testing.T) {
	fs := newFakeStore()
	fs.profiles["usr_old"] = store.Profile{
		ID:        "usr_old",
		IsGuest:   true,
		CreatedAt: time.Now().Add(-40 * 24 * time.Hour),
	}
	fs.profiles["usr_new"] = store.Profile{
		ID:        "usr_new",
		IsGuest:   true,
		CreatedAt: time.Now(),
	}
	m := NewManager(fs, nil, 30*24*time.Hour)

	removed, err := m.Cleanup(context.Background())
	if err != nil {
		t.Fatalf("Cleanup() error = %v", err)
	}
	if removed != 1 {
		t.Fatalf("Cleanup() removed = %d, want 1", removed)
	}

	removed, err = m.Cleanup(context.Background())
	if err != nil {
		t.Fatalf("Cleanup() second run error = %v", err)
	}
	if removed != 0 {
		t.Fatalf("Cleanup() second run removed = %d, want 0", removed)
	}
}
