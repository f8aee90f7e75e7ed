package app

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"trailmap/api/internal/store"
)

func shareFixtureStore(grant *store.ShareGrant) *fakeStore {
	fs := treeFixtureStore()
	fs.getShareByRoadmapFn = func(_ context.Context, _ string) (*store.ShareGrant, error) {
		return grant, nil
	}
	fs.getShareByTokenFn = func(ctx context.Context, token string) (store.ShareGrant, error) {
		if grant != nil && grant.ShareToken == token {
			return *grant, nil
		}
		return store.ShareGrant{}, sql.ErrNoRows
	}
	return fs
}

func TestUpsertShareRejectsBadRole(t *testing.T) {
	svc := newTestService(treeFixtureStore())
	_, err := svc.UpsertShare(context.Background(), ownerSession(), "rdm_1", ShareInput{DefaultRole: "admin"})
	if status := domainStatus(t, err); status != 422 {
		t.Fatalf("expected 422, got %d", status)
	}
}

func TestUpsertShareNormalizesInvitedEmails(t *testing.T) {
	var inserted store.ShareGrant
	fs := treeFixtureStore()
	fs.insertShareGrantFn = func(_ context.Context, g store.ShareGrant) error {
		inserted = g
		return nil
	}
	svc := newTestService(fs)

	view, err := svc.UpsertShare(context.Background(), ownerSession(), "rdm_1", ShareInput{
		DefaultRole: "viewer",
		InvitedEmails: []store.InvitedEmail{
			{Email: "  Dana@Example.COM ", Role: "editor"},
			{Email: "dana@example.com", Role: "viewer"},
		},
	})
	if err != nil {
		t.Fatalf("UpsertShare() error = %v", err)
	}
	if len(inserted.InvitedEmails) != 1 {
		t.Fatalf("expected duplicate invitee collapsed, got %v", inserted.InvitedEmails)
	}
	if inserted.InvitedEmails[0].Email != "dana@example.com" {
		t.Fatalf("expected lowercase email, got %s", inserted.InvitedEmails[0].Email)
	}
	if inserted.InvitedEmails[0].Role != "editor" {
		t.Fatalf("first occurrence wins, expected editor, got %s", inserted.InvitedEmails[0].Role)
	}
	if view.ShareToken == "" {
		t.Fatal("expected a share token on a fresh grant")
	}
}

func TestUpsertShareKeepsTokenOnUpdate(t *testing.T) {
	existing := store.ShareGrant{
		ID:          "shr_1",
		RoadmapID:   "rdm_1",
		ShareToken:  "stable-token",
		DefaultRole: "viewer",
		IsActive:    true,
	}
	var updated store.ShareGrant
	fs := shareFixtureStore(&existing)
	fs.updateShareGrantFn = func(_ context.Context, g store.ShareGrant) error {
		updated = g
		return nil
	}
	svc := newTestService(fs)

	view, err := svc.UpsertShare(context.Background(), ownerSession(), "rdm_1", ShareInput{DefaultRole: "commenter"})
	if err != nil {
		t.Fatalf("UpsertShare() error = %v", err)
	}
	if updated.ShareToken != "stable-token" {
		t.Fatalf("expected token to survive reconfiguration, got %s", updated.ShareToken)
	}
	if view.DefaultRole != "commenter" {
		t.Fatalf("expected default role commenter, got %s", view.DefaultRole)
	}
}

func TestRevokeShareWithoutGrantIsNotFound(t *testing.T) {
	svc := newTestService(treeFixtureStore())
	err := svc.RevokeShare(context.Background(), ownerSession(), "rdm_1")
	if status := domainStatus(t, err); status != 404 {
		t.Fatalf("expected 404, got %d", status)
	}
}

func TestResolveShareUnknownTokenIsNotFound(t *testing.T) {
	svc := newTestService(shareFixtureStore(nil))
	_, err := svc.ResolveShare(context.Background(), "nope", nil)
	if status := domainStatus(t, err); status != 404 {
		t.Fatalf("expected 404, got %d", status)
	}
}

func TestResolveShareExpiredIsGone(t *testing.T) {
	past := time.Now().Add(-time.Hour)
	grant := store.ShareGrant{
		RoadmapID:   "rdm_1",
		ShareToken:  "tok",
		DefaultRole: "viewer",
		ExpiresAt:   &past,
		IsActive:    true,
	}
	svc := newTestService(shareFixtureStore(&grant))

	_, err := svc.ResolveShare(context.Background(), "tok", nil)
	if status := domainStatus(t, err); status != 410 {
		t.Fatalf("expected 410, got %d", status)
	}
}

func TestResolveShareRoleResolution(t *testing.T) {
	grant := store.ShareGrant{
		RoadmapID:   "rdm_1",
		ShareToken:  "tok",
		DefaultRole: "viewer",
		InvitedEmails: []store.InvitedEmail{
			{Email: "dana@example.com", Role: "editor"},
		},
		IsActive: true,
	}
	svc := newTestService(shareFixtureStore(&grant))

	anon, err := svc.ResolveShare(context.Background(), "tok", nil)
	if err != nil {
		t.Fatalf("ResolveShare() error = %v", err)
	}
	if anon.CurrentUserRole != "viewer" {
		t.Fatalf("anonymous viewer gets default role, got %s", anon.CurrentUserRole)
	}

	invited := Session{ProfileID: "usr_dana", Email: "Dana@Example.com"}
	resolved, err := svc.ResolveShare(context.Background(), "tok", &invited)
	if err != nil {
		t.Fatalf("ResolveShare() error = %v", err)
	}
	if resolved.CurrentUserRole != "editor" {
		t.Fatalf("invited email overrides default role, got %s", resolved.CurrentUserRole)
	}

	owner := ownerSession()
	asOwner, err := svc.ResolveShare(context.Background(), "tok", &owner)
	if err != nil {
		t.Fatalf("ResolveShare() error = %v", err)
	}
	if asOwner.CurrentUserRole != "editor" {
		t.Fatalf("owner always edits, got %s", asOwner.CurrentUserRole)
	}
	if len(asOwner.Epics) != 2 {
		t.Fatalf("expected full tree in share payload, got %d epics", len(asOwner.Epics))
	}
}

func TestSharedWithMeEmptyForGuests(t *testing.T) {
	called := false
	fs := &fakeStore{
		listSharedForEmailFn: func(_ context.Context, _ string) ([]store.SharedRoadmap, error) {
			called = true
			return nil, nil
		},
	}
	svc := newTestService(fs)

	entries, err := svc.SharedWithMe(context.Background(), Session{ProfileID: "usr_guest", IsGuest: true})
	if err != nil {
		t.Fatalf("SharedWithMe() error = %v", err)
	}
	if called {
		t.Fatal("guest lookup must not hit the store")
	}
	if len(entries) != 0 {
		t.Fatalf("expected empty list, got %d", len(entries))
	}
}

func TestSharedWithMeLowercasesEmail(t *testing.T) {
	fs := &fakeStore{
		listSharedForEmailFn: func(_ context.Context, email string) ([]store.SharedRoadmap, error) {
			if email != "owner@example.com" {
				t.Fatalf("expected lowercased email, got %s", email)
			}
			return []store.SharedRoadmap{{
				Roadmap: ownedRoadmap("rdm_9"),
				Owner:   store.PublicProfile{ID: "usr_other", DisplayName: "Other"},
				Role:    "commenter",
			}}, nil
		},
	}
	svc := newTestService(fs)

	sess := ownerSession()
	sess.Email = "Owner@Example.COM"
	entries, err := svc.SharedWithMe(context.Background(), sess)
	if err != nil {
		t.Fatalf("SharedWithMe() error = %v", err)
	}
	if len(entries) != 1 || entries[0].Role != "commenter" {
		t.Fatalf("unexpected entries %+v", entries)
	}
}
