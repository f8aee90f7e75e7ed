package app

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"trailmap/api/internal/config"
	"trailmap/api/internal/guest"
	"trailmap/api/internal/store"
)

type fakeStore struct {
	getProfileByIDFn         func(context.Context, string) (store.Profile, error)
	getProfileByEmailFn      func(context.Context, string) (store.Profile, error)
	lookupRefreshFn          func(context.Context, string) (store.Profile, error)
	getGuestBySessionFn      func(context.Context, string) (store.Profile, error)
	clearGuestSessionFn      func(context.Context, string) error
	findProjectFn            func(context.Context, string, string) (*store.Project, error)
	insertProjectFn          func(context.Context, store.Project) error
	getRoadmapFn             func(context.Context, string) (store.Roadmap, error)
	listRoadmapsByOwnerFn    func(context.Context, string) ([]store.Roadmap, error)
	insertRoadmapFn          func(context.Context, store.Roadmap) error
	updateRoadmapFn          func(context.Context, string, string, string, string) error
	updateRoadmapOwnerFn     func(context.Context, string, string, *string) error
	deleteRoadmapFn          func(context.Context, string) error
	insertMilestoneFn        func(context.Context, store.Milestone, *int) (store.Milestone, error)
	getMilestoneFn           func(context.Context, string) (store.Milestone, error)
	listMilestonesFn         func(context.Context, string) ([]store.Milestone, error)
	getEpicFn                func(context.Context, string) (store.Epic, error)
	listEpicsFn              func(context.Context, string) ([]store.Epic, error)
	insertEpicFn             func(context.Context, store.Epic, *int) (store.Epic, error)
	getFeatureFn             func(context.Context, string) (store.Feature, error)
	listFeaturesFn           func(context.Context, []string) ([]store.Feature, error)
	getTaskFn                func(context.Context, string) (store.Task, error)
	listTasksFn              func(context.Context, []string) ([]store.Task, error)
	insertLinkFn             func(context.Context, string, string) (store.MilestoneFeatureLink, error)
	listLinksFn              func(context.Context, []string) ([]store.MilestoneFeatureLink, error)
	repositionFn             func(context.Context, store.OrderedKind, string, int) (bool, error)
	bulkRepositionFn         func(context.Context, store.OrderedKind, []store.PositionUpdate) error
	repositionLinkFn         func(context.Context, string, string, int) (bool, error)
	getShareByRoadmapFn      func(context.Context, string) (*store.ShareGrant, error)
	getShareByTokenFn        func(context.Context, string) (store.ShareGrant, error)
	insertShareGrantFn       func(context.Context, store.ShareGrant) error
	updateShareGrantFn       func(context.Context, store.ShareGrant) error
	deactivateShareGrantFn   func(context.Context, string) (bool, error)
	listSharedForEmailFn     func(context.Context, string) ([]store.SharedRoadmap, error)
	saveRefreshFn            func(context.Context, string, string, time.Time) error
	revokeRefreshFn          func(context.Context, string) error
}

func (f *fakeStore) GetProfileByID(ctx context.Context, id string) (store.Profile, error) {
	if f.getProfileByIDFn != nil {
		return f.getProfileByIDFn(ctx, id)
	}
	return store.Profile{ID: id, DisplayName: "Tester"}, nil
}
func (f *fakeStore) GetProfileByEmail(ctx context.Context, email string) (store.Profile, error) {
	if f.getProfileByEmailFn != nil {
		return f.getProfileByEmailFn(ctx, email)
	}
	return store.Profile{}, sql.ErrNoRows
}
func (f *fakeStore) SaveRefreshSession(ctx context.Context, hash, profileID string, expiresAt time.Time) error {
	if f.saveRefreshFn != nil {
		return f.saveRefreshFn(ctx, hash, profileID, expiresAt)
	}
	return nil
}
func (f *fakeStore) LookupRefreshSession(ctx context.Context, hash string) (store.Profile, error) {
	if f.lookupRefreshFn != nil {
		return f.lookupRefreshFn(ctx, hash)
	}
	return store.Profile{}, sql.ErrNoRows
}
func (f *fakeStore) RevokeRefreshSession(ctx context.Context, hash string) error {
	if f.revokeRefreshFn != nil {
		return f.revokeRefreshFn(ctx, hash)
	}
	return nil
}
func (f *fakeStore) GetGuestBySession(ctx context.Context, sessionID string) (store.Profile, error) {
	if f.getGuestBySessionFn != nil {
		return f.getGuestBySessionFn(ctx, sessionID)
	}
	return store.Profile{}, sql.ErrNoRows
}
func (f *fakeStore) ClearGuestSession(ctx context.Context, profileID string) error {
	if f.clearGuestSessionFn != nil {
		return f.clearGuestSessionFn(ctx, profileID)
	}
	return nil
}
func (f *fakeStore) FindProjectByOwnerAndName(ctx context.Context, ownerID, name string) (*store.Project, error) {
	if f.findProjectFn != nil {
		return f.findProjectFn(ctx, ownerID, name)
	}
	return nil, nil
}
func (f *fakeStore) InsertProject(ctx context.Context, p store.Project) error {
	if f.insertProjectFn != nil {
		return f.insertProjectFn(ctx, p)
	}
	return nil
}
func (f *fakeStore) GetRoadmap(ctx context.Context, id string) (store.Roadmap, error) {
	if f.getRoadmapFn != nil {
		return f.getRoadmapFn(ctx, id)
	}
	return store.Roadmap{}, sql.ErrNoRows
}
func (f *fakeStore) ListRoadmapsByOwner(ctx context.Context, ownerID string) ([]store.Roadmap, error) {
	if f.listRoadmapsByOwnerFn != nil {
		return f.listRoadmapsByOwnerFn(ctx, ownerID)
	}
	return nil, nil
}
func (f *fakeStore) InsertRoadmap(ctx context.Context, r store.Roadmap) error {
	if f.insertRoadmapFn != nil {
		return f.insertRoadmapFn(ctx, r)
	}
	return nil
}
func (f *fakeStore) UpdateRoadmap(ctx context.Context, id, name, description, status string) error {
	if f.updateRoadmapFn != nil {
		return f.updateRoadmapFn(ctx, id, name, description, status)
	}
	return nil
}
func (f *fakeStore) UpdateRoadmapOwner(ctx context.Context, id, ownerID string, projectID *string) error {
	if f.updateRoadmapOwnerFn != nil {
		return f.updateRoadmapOwnerFn(ctx, id, ownerID, projectID)
	}
	return nil
}
func (f *fakeStore) DeleteRoadmap(ctx context.Context, id string) error {
	if f.deleteRoadmapFn != nil {
		return f.deleteRoadmapFn(ctx, id)
	}
	return nil
}
func (f *fakeStore) InsertMilestone(ctx context.Context, m store.Milestone, pos *int) (store.Milestone, error) {
	if f.insertMilestoneFn != nil {
		return f.insertMilestoneFn(ctx, m, pos)
	}
	return m, nil
}
func (f *fakeStore) GetMilestone(ctx context.Context, id string) (store.Milestone, error) {
	if f.getMilestoneFn != nil {
		return f.getMilestoneFn(ctx, id)
	}
	return store.Milestone{}, sql.ErrNoRows
}
func (f *fakeStore) ListMilestonesByRoadmap(ctx context.Context, roadmapID string) ([]store.Milestone, error) {
	if f.listMilestonesFn != nil {
		return f.listMilestonesFn(ctx, roadmapID)
	}
	return nil, nil
}
func (f *fakeStore) UpdateMilestone(context.Context, store.Milestone) error { return nil }
func (f *fakeStore) DeleteMilestone(context.Context, string) error          { return nil }
func (f *fakeStore) InsertEpic(ctx context.Context, e store.Epic, pos *int) (store.Epic, error) {
	if f.insertEpicFn != nil {
		return f.insertEpicFn(ctx, e, pos)
	}
	return e, nil
}
func (f *fakeStore) GetEpic(ctx context.Context, id string) (store.Epic, error) {
	if f.getEpicFn != nil {
		return f.getEpicFn(ctx, id)
	}
	return store.Epic{}, sql.ErrNoRows
}
func (f *fakeStore) ListEpicsByRoadmap(ctx context.Context, roadmapID string) ([]store.Epic, error) {
	if f.listEpicsFn != nil {
		return f.listEpicsFn(ctx, roadmapID)
	}
	return nil, nil
}
func (f *fakeStore) UpdateEpic(context.Context, store.Epic) error { return nil }
func (f *fakeStore) DeleteEpic(context.Context, string) error     { return nil }
func (f *fakeStore) InsertFeature(ctx context.Context, ft store.Feature, pos *int) (store.Feature, error) {
	return ft, nil
}
func (f *fakeStore) GetFeature(ctx context.Context, id string) (store.Feature, error) {
	if f.getFeatureFn != nil {
		return f.getFeatureFn(ctx, id)
	}
	return store.Feature{}, sql.ErrNoRows
}
func (f *fakeStore) ListFeaturesByEpicIDs(ctx context.Context, epicIDs []string) ([]store.Feature, error) {
	if f.listFeaturesFn != nil {
		return f.listFeaturesFn(ctx, epicIDs)
	}
	return nil, nil
}
func (f *fakeStore) UpdateFeature(context.Context, store.Feature) error { return nil }
func (f *fakeStore) DeleteFeature(context.Context, string) error        { return nil }
func (f *fakeStore) InsertTask(ctx context.Context, t store.Task, pos *int) (store.Task, error) {
	return t, nil
}
func (f *fakeStore) GetTask(ctx context.Context, id string) (store.Task, error) {
	if f.getTaskFn != nil {
		return f.getTaskFn(ctx, id)
	}
	return store.Task{}, sql.ErrNoRows
}
func (f *fakeStore) ListTasksByFeatureIDs(ctx context.Context, featureIDs []string) ([]store.Task, error) {
	if f.listTasksFn != nil {
		return f.listTasksFn(ctx, featureIDs)
	}
	return nil, nil
}
func (f *fakeStore) UpdateTask(context.Context, store.Task) error { return nil }
func (f *fakeStore) DeleteTask(context.Context, string) error     { return nil }
func (f *fakeStore) InsertLink(ctx context.Context, milestoneID, featureID string) (store.MilestoneFeatureLink, error) {
	if f.insertLinkFn != nil {
		return f.insertLinkFn(ctx, milestoneID, featureID)
	}
	return store.MilestoneFeatureLink{MilestoneID: milestoneID, FeatureID: featureID}, nil
}
func (f *fakeStore) DeleteLink(context.Context, string, string) error { return nil }
func (f *fakeStore) ListLinksByMilestoneIDs(ctx context.Context, milestoneIDs []string) ([]store.MilestoneFeatureLink, error) {
	if f.listLinksFn != nil {
		return f.listLinksFn(ctx, milestoneIDs)
	}
	return nil, nil
}
func (f *fakeStore) Reposition(ctx context.Context, kind store.OrderedKind, itemID string, pos int) (bool, error) {
	if f.repositionFn != nil {
		return f.repositionFn(ctx, kind, itemID, pos)
	}
	return true, nil
}
func (f *fakeStore) BulkReposition(ctx context.Context, kind store.OrderedKind, updates []store.PositionUpdate) error {
	if f.bulkRepositionFn != nil {
		return f.bulkRepositionFn(ctx, kind, updates)
	}
	return nil
}
func (f *fakeStore) RepositionLink(ctx context.Context, milestoneID, featureID string, pos int) (bool, error) {
	if f.repositionLinkFn != nil {
		return f.repositionLinkFn(ctx, milestoneID, featureID, pos)
	}
	return true, nil
}
func (f *fakeStore) GetActiveShareByRoadmap(ctx context.Context, roadmapID string) (*store.ShareGrant, error) {
	if f.getShareByRoadmapFn != nil {
		return f.getShareByRoadmapFn(ctx, roadmapID)
	}
	return nil, nil
}
func (f *fakeStore) GetActiveShareByToken(ctx context.Context, token string) (store.ShareGrant, error) {
	if f.getShareByTokenFn != nil {
		return f.getShareByTokenFn(ctx, token)
	}
	return store.ShareGrant{}, sql.ErrNoRows
}
func (f *fakeStore) InsertShareGrant(ctx context.Context, g store.ShareGrant) error {
	if f.insertShareGrantFn != nil {
		return f.insertShareGrantFn(ctx, g)
	}
	return nil
}
func (f *fakeStore) UpdateShareGrant(ctx context.Context, g store.ShareGrant) error {
	if f.updateShareGrantFn != nil {
		return f.updateShareGrantFn(ctx, g)
	}
	return nil
}
func (f *fakeStore) DeactivateShareGrant(ctx context.Context, roadmapID string) (bool, error) {
	if f.deactivateShareGrantFn != nil {
		return f.deactivateShareGrantFn(ctx, roadmapID)
	}
	return false, nil
}
func (f *fakeStore) ListSharedRoadmapsForEmail(ctx context.Context, email string) ([]store.SharedRoadmap, error) {
	if f.listSharedForEmailFn != nil {
		return f.listSharedForEmailFn(ctx, email)
	}
	return nil, nil
}
func (f *fakeStore) Ping(context.Context) error { return nil }

type fakeGuests struct {
	getOrCreateFn   func(context.Context, string) (store.Profile, bool, error)
	lookupFn        func(context.Context, string) (store.Profile, error)
	validateFn      func(store.Profile) error
	cleanupFn       func(context.Context) (int64, error)
	forgetSessionFn func(context.Context, string)
}

func (f *fakeGuests) GetOrCreate(ctx context.Context, sessionID string) (store.Profile, bool, error) {
	if f.getOrCreateFn != nil {
		return f.getOrCreateFn(ctx, sessionID)
	}
	return store.Profile{ID: "usr_guest", DisplayName: "Guest", IsGuest: true}, true, nil
}
func (f *fakeGuests) LookupBySession(ctx context.Context, sessionID string) (store.Profile, error) {
	if f.lookupFn != nil {
		return f.lookupFn(ctx, sessionID)
	}
	return store.Profile{}, sql.ErrNoRows
}
func (f *fakeGuests) Validate(p store.Profile) error {
	if f.validateFn != nil {
		return f.validateFn(p)
	}
	return nil
}
func (f *fakeGuests) Cleanup(ctx context.Context) (int64, error) {
	if f.cleanupFn != nil {
		return f.cleanupFn(ctx)
	}
	return 0, nil
}
func (f *fakeGuests) ForgetSession(ctx context.Context, sessionID string) {
	if f.forgetSessionFn != nil {
		f.forgetSessionFn(ctx, sessionID)
	}
}

func newTestService(fs *fakeStore) *Service {
	return &Service{
		cfg: config.Config{
			TokenSecret:  "test-secret",
			AccessTTL:    time.Hour,
			RefreshTTL:   24 * time.Hour,
			ShareBaseURL: "https://trailmap.test",
		},
		store:  fs,
		guests: &fakeGuests{},
	}
}

func ownerSession() Session {
	return Session{ProfileID: "usr_owner", DisplayName: "Owner", Email: "owner@example.com"}
}

func ownedRoadmap(id string) store.Roadmap {
	return store.Roadmap{ID: id, OwnerID: "usr_owner", Name: "Q3 Launch", Status: "active"}
}

func domainStatus(t *testing.T, err error) int {
	t.Helper()
	var domainErr *DomainError
	if !errors.As(err, &domainErr) {
		t.Fatalf("expected DomainError, got %v", err)
	}
	return domainErr.Status
}

func TestCreateRoadmapRequiresName(t *testing.T) {
	svc := newTestService(&fakeStore{})
	_, err := svc.CreateRoadmap(context.Background(), ownerSession(), RoadmapInput{Name: "   "})
	if status := domainStatus(t, err); status != 422 {
		t.Fatalf("expected 422, got %d", status)
	}
}

func TestCreateRoadmapRejectsUnknownStatus(t *testing.T) {
	svc := newTestService(&fakeStore{})
	_, err := svc.CreateRoadmap(context.Background(), ownerSession(), RoadmapInput{Name: "Plan", Status: "bogus"})
	if status := domainStatus(t, err); status != 422 {
		t.Fatalf("expected 422, got %d", status)
	}
}

func TestCreateRoadmapDefaultsToDraft(t *testing.T) {
	var inserted store.Roadmap
	fs := &fakeStore{
		insertRoadmapFn: func(_ context.Context, r store.Roadmap) error {
			inserted = r
			return nil
		},
	}
	svc := newTestService(fs)

	roadmap, err := svc.CreateRoadmap(context.Background(), ownerSession(), RoadmapInput{Name: "Plan"})
	if err != nil {
		t.Fatalf("CreateRoadmap() error = %v", err)
	}
	if roadmap.Status != "draft" {
		t.Fatalf("expected status draft, got %s", roadmap.Status)
	}
	if inserted.OwnerID != "usr_owner" {
		t.Fatalf("expected owner usr_owner, got %s", inserted.OwnerID)
	}
	if inserted.Settings != "{}" {
		t.Fatalf("expected empty settings object, got %q", inserted.Settings)
	}
}

func TestUpdateRoadmapForbiddenForNonOwner(t *testing.T) {
	fs := &fakeStore{
		getRoadmapFn: func(_ context.Context, id string) (store.Roadmap, error) {
			return store.Roadmap{ID: id, OwnerID: "usr_other"}, nil
		},
	}
	svc := newTestService(fs)

	_, err := svc.UpdateRoadmap(context.Background(), ownerSession(), "rdm_1", RoadmapInput{Name: "New"})
	if status := domainStatus(t, err); status != 403 {
		t.Fatalf("expected 403, got %d", status)
	}
}

func TestRepositionRejectsNegativePosition(t *testing.T) {
	svc := newTestService(&fakeStore{})
	_, err := svc.Reposition(context.Background(), ownerSession(), "epic", "epc_1", -1)
	if status := domainStatus(t, err); status != 422 {
		t.Fatalf("expected 422, got %d", status)
	}
}

func TestRepositionRejectsUnknownEntity(t *testing.T) {
	svc := newTestService(&fakeStore{})
	_, err := svc.Reposition(context.Background(), ownerSession(), "widget", "wdg_1", 0)
	if status := domainStatus(t, err); status != 422 {
		t.Fatalf("expected 422, got %d", status)
	}
}

func TestRepositionTaskWalksUpToRoadmapOwner(t *testing.T) {
	fs := &fakeStore{
		getTaskFn: func(_ context.Context, id string) (store.Task, error) {
			return store.Task{ID: id, FeatureID: "fea_1"}, nil
		},
		getFeatureFn: func(_ context.Context, id string) (store.Feature, error) {
			return store.Feature{ID: id, EpicID: "epc_1", RoadmapID: "rdm_1"}, nil
		},
		getRoadmapFn: func(_ context.Context, id string) (store.Roadmap, error) {
			return store.Roadmap{ID: id, OwnerID: "usr_stranger"}, nil
		},
	}
	svc := newTestService(fs)

	_, err := svc.Reposition(context.Background(), ownerSession(), "task", "tsk_1", 2)
	if status := domainStatus(t, err); status != 403 {
		t.Fatalf("expected 403, got %d", status)
	}
}

func TestRepositionReportsUnmovedItem(t *testing.T) {
	fs := &fakeStore{
		getEpicFn: func(_ context.Context, id string) (store.Epic, error) {
			return store.Epic{ID: id, RoadmapID: "rdm_1"}, nil
		},
		getRoadmapFn: func(_ context.Context, id string) (store.Roadmap, error) {
			return ownedRoadmap(id), nil
		},
		repositionFn: func(_ context.Context, kind store.OrderedKind, _ string, _ int) (bool, error) {
			if kind.Table != "epics" {
				t.Fatalf("expected epics table, got %s", kind.Table)
			}
			return false, nil
		},
	}
	svc := newTestService(fs)

	result, err := svc.Reposition(context.Background(), ownerSession(), "epic", "epc_1", 3)
	if err != nil {
		t.Fatalf("Reposition() error = %v", err)
	}
	if result.Moved {
		t.Fatal("expected moved=false when position is unchanged")
	}
}

func TestBulkReorderRequiresUpdates(t *testing.T) {
	svc := newTestService(&fakeStore{})
	err := svc.BulkReorder(context.Background(), ownerSession(), "milestone", "rdm_1", nil)
	if status := domainStatus(t, err); status != 422 {
		t.Fatalf("expected 422, got %d", status)
	}
}

func TestBulkReorderResolvesFeatureScopeThroughEpic(t *testing.T) {
	applied := false
	fs := &fakeStore{
		getEpicFn: func(_ context.Context, id string) (store.Epic, error) {
			return store.Epic{ID: id, RoadmapID: "rdm_1"}, nil
		},
		getRoadmapFn: func(_ context.Context, id string) (store.Roadmap, error) {
			return ownedRoadmap(id), nil
		},
		bulkRepositionFn: func(_ context.Context, kind store.OrderedKind, updates []store.PositionUpdate) error {
			applied = true
			if kind.Table != "features" {
				t.Fatalf("expected features table, got %s", kind.Table)
			}
			if len(updates) != 2 {
				t.Fatalf("expected 2 updates, got %d", len(updates))
			}
			return nil
		},
	}
	svc := newTestService(fs)

	err := svc.BulkReorder(context.Background(), ownerSession(), "feature", "epc_1", []store.PositionUpdate{
		{ItemID: "fea_1", NewPosition: 1},
		{ItemID: "fea_2", NewPosition: 0},
	})
	if err != nil {
		t.Fatalf("BulkReorder() error = %v", err)
	}
	if !applied {
		t.Fatal("expected BulkReposition to be called")
	}
}

func TestLinkFeatureRejectsCrossRoadmap(t *testing.T) {
	fs := &fakeStore{
		getMilestoneFn: func(_ context.Context, id string) (store.Milestone, error) {
			return store.Milestone{ID: id, RoadmapID: "rdm_1"}, nil
		},
		getFeatureFn: func(_ context.Context, id string) (store.Feature, error) {
			return store.Feature{ID: id, RoadmapID: "rdm_2"}, nil
		},
	}
	svc := newTestService(fs)

	_, err := svc.LinkFeature(context.Background(), ownerSession(), "mst_1", "fea_1")
	if status := domainStatus(t, err); status != 422 {
		t.Fatalf("expected 422, got %d", status)
	}
}

func TestLinkFeatureDuplicateIsConflict(t *testing.T) {
	fs := &fakeStore{
		getMilestoneFn: func(_ context.Context, id string) (store.Milestone, error) {
			return store.Milestone{ID: id, RoadmapID: "rdm_1"}, nil
		},
		getFeatureFn: func(_ context.Context, id string) (store.Feature, error) {
			return store.Feature{ID: id, RoadmapID: "rdm_1"}, nil
		},
		getRoadmapFn: func(_ context.Context, id string) (store.Roadmap, error) {
			return ownedRoadmap(id), nil
		},
		insertLinkFn: func(_ context.Context, _, _ string) (store.MilestoneFeatureLink, error) {
			return store.MilestoneFeatureLink{}, &pgconn.PgError{Code: "23505"}
		},
	}
	svc := newTestService(fs)

	_, err := svc.LinkFeature(context.Background(), ownerSession(), "mst_1", "fea_1")
	if status := domainStatus(t, err); status != 409 {
		t.Fatalf("expected 409, got %d", status)
	}
}

func TestGuestPastWindowIsRejectedOnTokenCheck(t *testing.T) {
	fs := &fakeStore{
		getProfileByIDFn: func(_ context.Context, id string) (store.Profile, error) {
			return store.Profile{ID: id, DisplayName: "Guest", IsGuest: true}, nil
		},
	}
	svc := newTestService(fs)
	svc.guests = &fakeGuests{
		validateFn: func(store.Profile) error {
			return errors.New("guest: identity expired")
		},
	}

	guestSess, _, err := svc.GuestSession(context.Background(), "3f8a2c1d-9b4e-4f6a-8c2d-1e5f7a9b3c4e")
	if err != nil {
		t.Fatalf("GuestSession() error = %v", err)
	}
	if _, err := svc.SessionFromToken(context.Background(), guestSess.Token); err == nil {
		t.Fatal("expected expired guest token to be rejected")
	}
}

func TestGuestSessionExpiredIdentityIsGone(t *testing.T) {
	svc := newTestService(&fakeStore{})
	svc.guests = &fakeGuests{
		getOrCreateFn: func(context.Context, string) (store.Profile, bool, error) {
			return store.Profile{}, false, guest.ErrExpired
		},
	}

	_, _, err := svc.GuestSession(context.Background(), "3f8a2c1d-9b4e-4f6a-8c2d-1e5f7a9b3c4e")
	if status := domainStatus(t, err); status != 410 {
		t.Fatalf("expected 410, got %d", status)
	}
}

func TestGuestSessionBoundToAccountIsConflict(t *testing.T) {
	svc := newTestService(&fakeStore{})
	svc.guests = &fakeGuests{
		getOrCreateFn: func(context.Context, string) (store.Profile, bool, error) {
			return store.Profile{}, false, guest.ErrNotGuest
		},
	}

	_, _, err := svc.GuestSession(context.Background(), "3f8a2c1d-9b4e-4f6a-8c2d-1e5f7a9b3c4e")
	if status := domainStatus(t, err); status != 409 {
		t.Fatalf("expected 409, got %d", status)
	}
}
