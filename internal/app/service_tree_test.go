package app

import (
	"context"
	"testing"

	"trailmap/api/internal/store"
)

func treeFixtureStore() *fakeStore {
	return &fakeStore{
		getRoadmapFn: func(_ context.Context, id string) (store.Roadmap, error) {
			return ownedRoadmap(id), nil
		},
		listRoadmapsByOwnerFn: func(_ context.Context, ownerID string) ([]store.Roadmap, error) {
			return []store.Roadmap{ownedRoadmap("rdm_1")}, nil
		},
		listMilestonesFn: func(_ context.Context, roadmapID string) ([]store.Milestone, error) {
			return []store.Milestone{
				{ID: "mst_1", RoadmapID: roadmapID, Title: "Beta", Position: 0},
				{ID: "mst_2", RoadmapID: roadmapID, Title: "GA", Position: 1},
			}, nil
		},
		listLinksFn: func(_ context.Context, milestoneIDs []string) ([]store.MilestoneFeatureLink, error) {
			return []store.MilestoneFeatureLink{
				{MilestoneID: "mst_1", FeatureID: "fea_2", Position: 0},
				{MilestoneID: "mst_1", FeatureID: "fea_1", Position: 1},
			}, nil
		},
		listEpicsFn: func(_ context.Context, roadmapID string) ([]store.Epic, error) {
			return []store.Epic{
				{ID: "epc_1", RoadmapID: roadmapID, Title: "Onboarding", Position: 0},
				{ID: "epc_2", RoadmapID: roadmapID, Title: "Billing", Position: 1},
			}, nil
		},
		listFeaturesFn: func(_ context.Context, epicIDs []string) ([]store.Feature, error) {
			return []store.Feature{
				{ID: "fea_1", EpicID: "epc_1", RoadmapID: "rdm_1", Title: "Signup flow", Position: 0},
				{ID: "fea_2", EpicID: "epc_1", RoadmapID: "rdm_1", Title: "Invites", Position: 1},
			}, nil
		},
		listTasksFn: func(_ context.Context, featureIDs []string) ([]store.Task, error) {
			return []store.Task{
				{ID: "tsk_1", FeatureID: "fea_1", Title: "Design form", Position: 0},
				{ID: "tsk_2", FeatureID: "fea_1", Title: "Wire backend", Position: 1},
			}, nil
		},
	}
}

func TestFullTreeAssemblesAllLevels(t *testing.T) {
	svc := newTestService(treeFixtureStore())

	tree, err := svc.Full(context.Background(), ownerSession(), "rdm_1")
	if err != nil {
		t.Fatalf("Full() error = %v", err)
	}

	if len(tree.Milestones) != 2 {
		t.Fatalf("expected 2 milestones, got %d", len(tree.Milestones))
	}
	if len(tree.Epics) != 2 {
		t.Fatalf("expected 2 epics, got %d", len(tree.Epics))
	}
	if len(tree.Epics[0].Features) != 2 {
		t.Fatalf("expected 2 features under first epic, got %d", len(tree.Epics[0].Features))
	}
	if len(tree.Epics[0].Features[0].Tasks) != 2 {
		t.Fatalf("expected 2 tasks under first feature, got %d", len(tree.Epics[0].Features[0].Tasks))
	}
	if tree.Epics[1].Features == nil || len(tree.Epics[1].Features) != 0 {
		t.Fatalf("expected empty non-nil feature list for second epic, got %v", tree.Epics[1].Features)
	}
}

func TestFullTreeKeepsLinkOrderInFeatureIDs(t *testing.T) {
	svc := newTestService(treeFixtureStore())

	tree, err := svc.Full(context.Background(), ownerSession(), "rdm_1")
	if err != nil {
		t.Fatalf("Full() error = %v", err)
	}

	got := tree.Milestones[0].FeatureIDs
	if len(got) != 2 || got[0] != "fea_2" || got[1] != "fea_1" {
		t.Fatalf("expected featureIds [fea_2 fea_1], got %v", got)
	}
	if tree.Milestones[1].FeatureIDs == nil || len(tree.Milestones[1].FeatureIDs) != 0 {
		t.Fatalf("expected empty non-nil featureIds for unlinked milestone, got %v", tree.Milestones[1].FeatureIDs)
	}
}

func TestFullTreeMissingRoadmapIsNotFound(t *testing.T) {
	svc := newTestService(&fakeStore{})

	_, err := svc.Full(context.Background(), ownerSession(), "rdm_missing")
	if err == nil {
		t.Fatal("expected error for missing roadmap")
	}
}

func TestPreviewOmitsMilestones(t *testing.T) {
	milestonesListed := false
	fs := treeFixtureStore()
	inner := fs.listMilestonesFn
	fs.listMilestonesFn = func(ctx context.Context, roadmapID string) ([]store.Milestone, error) {
		milestonesListed = true
		return inner(ctx, roadmapID)
	}
	svc := newTestService(fs)

	previews, err := svc.Preview(context.Background(), ownerSession())
	if err != nil {
		t.Fatalf("Preview() error = %v", err)
	}
	if milestonesListed {
		t.Fatal("preview must not load milestones")
	}
	if len(previews) != 1 {
		t.Fatalf("expected 1 roadmap, got %d", len(previews))
	}
	if len(previews[0].Epics) != 2 {
		t.Fatalf("expected 2 epics, got %d", len(previews[0].Epics))
	}
	if len(previews[0].Epics[0].Features[0].Tasks) != 2 {
		t.Fatalf("expected 2 tasks in preview, got %d", len(previews[0].Epics[0].Features[0].Tasks))
	}
}

func TestPreviewEmptyForNewProfile(t *testing.T) {
	svc := newTestService(&fakeStore{})

	previews, err := svc.Preview(context.Background(), ownerSession())
	if err != nil {
		t.Fatalf("Preview() error = %v", err)
	}
	if len(previews) != 0 {
		t.Fatalf("expected no roadmaps, got %d", len(previews))
	}
}
