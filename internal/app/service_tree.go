package app

import (
	"context"
	"time"

	"trailmap/api/internal/store"
)

// Preview shapes: the roadmap list view. Trimmed to what the overview
// page renders; milestones are not loaded here.

type PreviewTask struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	Status   string `json:"status"`
	Position int    `json:"position"`
}

type PreviewFeature struct {
	ID       string        `json:"id"`
	Title    string        `json:"title"`
	Status   string        `json:"status"`
	Position int           `json:"position"`
	Tasks    []PreviewTask `json:"tasks"`
}

type PreviewEpic struct {
	ID       string           `json:"id"`
	Title    string           `json:"title"`
	Status   string           `json:"status"`
	Priority string           `json:"priority"`
	Position int              `json:"position"`
	Features []PreviewFeature `json:"features"`
}

type PreviewRoadmap struct {
	ID          string        `json:"id"`
	Name        string        `json:"name"`
	Description string        `json:"description"`
	Status      string        `json:"status"`
	UpdatedAt   time.Time     `json:"updatedAt"`
	Epics       []PreviewEpic `json:"epics"`
}

// Full shapes: everything the editor needs for one roadmap.

type TaskView struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Priority    string     `json:"priority"`
	Status      string     `json:"status"`
	Position    int        `json:"position"`
	DueDate     *time.Time `json:"dueDate"`
	CompletedAt *time.Time `json:"completedAt"`
}

type FeatureView struct {
	ID              string     `json:"id"`
	EpicID          string     `json:"epicId"`
	Title           string     `json:"title"`
	Status          string     `json:"status"`
	Position        int        `json:"position"`
	IsDeliverable   bool       `json:"isDeliverable"`
	EstimatedEffort int        `json:"estimatedEffort"`
	ActualEffort    int        `json:"actualEffort"`
	Tasks           []TaskView `json:"tasks"`
}

type EpicView struct {
	ID              string        `json:"id"`
	Title           string        `json:"title"`
	Priority        string        `json:"priority"`
	Status          string        `json:"status"`
	Position        int           `json:"position"`
	EstimatedEffort int           `json:"estimatedEffort"`
	ActualEffort    int           `json:"actualEffort"`
	StartDate       *time.Time    `json:"startDate"`
	EndDate         *time.Time    `json:"endDate"`
	Features        []FeatureView `json:"features"`
}

type MilestoneView struct {
	ID            string     `json:"id"`
	Title         string     `json:"title"`
	TargetDate    *time.Time `json:"targetDate"`
	CompletedDate *time.Time `json:"completedDate"`
	Status        string     `json:"status"`
	Position      int        `json:"position"`
	Color         string     `json:"color"`
	FeatureIDs    []string   `json:"featureIds"`
}

type RoadmapTree struct {
	ID          string          `json:"id"`
	OwnerID     string          `json:"ownerId"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Status      string          `json:"status"`
	CreatedAt   time.Time       `json:"createdAt"`
	UpdatedAt   time.Time       `json:"updatedAt"`
	Milestones  []MilestoneView `json:"milestones"`
	Epics       []EpicView      `json:"epics"`
}

// SharedRoadmapTree is a full tree annotated with the role the share
// grant gives the current viewer.
type SharedRoadmapTree struct {
	RoadmapTree
	Owner           store.PublicProfile `json:"owner"`
	CurrentUserRole string              `json:"currentUserRole"`
}

// Preview returns every roadmap the profile owns with its epic, feature
// and task skeleton. A profile with no roadmaps gets an empty list, not
// an error.
func (s *Service) Preview(ctx context.Context, sess Session) ([]PreviewRoadmap, error) {
	roadmaps, err := s.store.ListRoadmapsByOwner(ctx, sess.ProfileID)
	if err != nil {
		return nil, err
	}

	out := make([]PreviewRoadmap, 0, len(roadmaps))
	for _, r := range roadmaps {
		epics, features, tasks, err := s.loadSubtree(ctx, r.ID)
		if err != nil {
			return nil, err
		}

		tasksByFeature := map[string][]PreviewTask{}
		for _, t := range tasks {
			tasksByFeature[t.FeatureID] = append(tasksByFeature[t.FeatureID], PreviewTask{
				ID: t.ID, Title: t.Title, Status: t.Status, Position: t.Position,
			})
		}
		featuresByEpic := map[string][]PreviewFeature{}
		for _, f := range features {
			featuresByEpic[f.EpicID] = append(featuresByEpic[f.EpicID], PreviewFeature{
				ID: f.ID, Title: f.Title, Status: f.Status, Position: f.Position,
				Tasks: nonNilPreviewTasks(tasksByFeature[f.ID]),
			})
		}

		pr := PreviewRoadmap{
			ID:          r.ID,
			Name:        r.Name,
			Description: r.Description,
			Status:      r.Status,
			UpdatedAt:   r.UpdatedAt,
			Epics:       []PreviewEpic{},
		}
		for _, e := range epics {
			pr.Epics = append(pr.Epics, PreviewEpic{
				ID: e.ID, Title: e.Title, Status: e.Status, Priority: e.Priority, Position: e.Position,
				Features: nonNilPreviewFeatures(featuresByEpic[e.ID]),
			})
		}
		out = append(out, pr)
	}
	return out, nil
}

// Full returns one roadmap with milestones, epics, features and tasks.
// Callers handle authorization; this only assembles the tree.
func (s *Service) fullTree(ctx context.Context, roadmap store.Roadmap) (RoadmapTree, error) {
	tree := RoadmapTree{
		ID:          roadmap.ID,
		OwnerID:     roadmap.OwnerID,
		Name:        roadmap.Name,
		Description: roadmap.Description,
		Status:      roadmap.Status,
		CreatedAt:   roadmap.CreatedAt,
		UpdatedAt:   roadmap.UpdatedAt,
		Milestones:  []MilestoneView{},
		Epics:       []EpicView{},
	}

	milestones, err := s.store.ListMilestonesByRoadmap(ctx, roadmap.ID)
	if err != nil {
		return RoadmapTree{}, err
	}
	milestoneIDs := make([]string, 0, len(milestones))
	for _, m := range milestones {
		milestoneIDs = append(milestoneIDs, m.ID)
	}
	links, err := s.store.ListLinksByMilestoneIDs(ctx, milestoneIDs)
	if err != nil {
		return RoadmapTree{}, err
	}
	// Links arrive ordered by position per milestone; appending keeps
	// that order in the featureIds slice.
	linkedByMilestone := map[string][]string{}
	for _, l := range links {
		linkedByMilestone[l.MilestoneID] = append(linkedByMilestone[l.MilestoneID], l.FeatureID)
	}
	for _, m := range milestones {
		featureIDs := linkedByMilestone[m.ID]
		if featureIDs == nil {
			featureIDs = []string{}
		}
		tree.Milestones = append(tree.Milestones, MilestoneView{
			ID:            m.ID,
			Title:         m.Title,
			TargetDate:    m.TargetDate,
			CompletedDate: m.CompletedDate,
			Status:        m.Status,
			Position:      m.Position,
			Color:         m.Color,
			FeatureIDs:    featureIDs,
		})
	}

	epics, features, tasks, err := s.loadSubtree(ctx, roadmap.ID)
	if err != nil {
		return RoadmapTree{}, err
	}
	tasksByFeature := map[string][]TaskView{}
	for _, t := range tasks {
		tasksByFeature[t.FeatureID] = append(tasksByFeature[t.FeatureID], TaskView{
			ID:          t.ID,
			Title:       t.Title,
			Priority:    t.Priority,
			Status:      t.Status,
			Position:    t.Position,
			DueDate:     t.DueDate,
			CompletedAt: t.CompletedAt,
		})
	}
	featuresByEpic := map[string][]FeatureView{}
	for _, f := range features {
		tv := tasksByFeature[f.ID]
		if tv == nil {
			tv = []TaskView{}
		}
		featuresByEpic[f.EpicID] = append(featuresByEpic[f.EpicID], FeatureView{
			ID:              f.ID,
			EpicID:          f.EpicID,
			Title:           f.Title,
			Status:          f.Status,
			Position:        f.Position,
			IsDeliverable:   f.IsDeliverable,
			EstimatedEffort: f.EstimatedEffort,
			ActualEffort:    f.ActualEffort,
			Tasks:           tv,
		})
	}
	for _, e := range epics {
		fv := featuresByEpic[e.ID]
		if fv == nil {
			fv = []FeatureView{}
		}
		tree.Epics = append(tree.Epics, EpicView{
			ID:              e.ID,
			Title:           e.Title,
			Priority:        e.Priority,
			Status:          e.Status,
			Position:        e.Position,
			EstimatedEffort: e.EstimatedEffort,
			ActualEffort:    e.ActualEffort,
			StartDate:       e.StartDate,
			EndDate:         e.EndDate,
			Features:        fv,
		})
	}
	return tree, nil
}

// Full returns the complete tree for a roadmap the session owns.
func (s *Service) Full(ctx context.Context, sess Session, roadmapID string) (RoadmapTree, error) {
	roadmap, err := s.requireRoadmapOwner(ctx, sess, roadmapID)
	if err != nil {
		return RoadmapTree{}, err
	}
	return s.fullTree(ctx, roadmap)
}

// loadSubtree batch-loads the epic, feature and task rows under one
// roadmap. Each level comes back ordered by position.
func (s *Service) loadSubtree(ctx context.Context, roadmapID string) ([]store.Epic, []store.Feature, []store.Task, error) {
	epics, err := s.store.ListEpicsByRoadmap(ctx, roadmapID)
	if err != nil {
		return nil, nil, nil, err
	}
	epicIDs := make([]string, 0, len(epics))
	for _, e := range epics {
		epicIDs = append(epicIDs, e.ID)
	}
	features, err := s.store.ListFeaturesByEpicIDs(ctx, epicIDs)
	if err != nil {
		return nil, nil, nil, err
	}
	featureIDs := make([]string, 0, len(features))
	for _, f := range features {
		featureIDs = append(featureIDs, f.ID)
	}
	tasks, err := s.store.ListTasksByFeatureIDs(ctx, featureIDs)
	if err != nil {
		return nil, nil, nil, err
	}
	return epics, features, tasks, nil
}

func nonNilPreviewTasks(v []PreviewTask) []PreviewTask {
	if v == nil {
		return []PreviewTask{}
	}
	return v
}

func nonNilPreviewFeatures(v []PreviewFeature) []PreviewFeature {
	if v == nil {
		return []PreviewFeature{}
	}
	return v
}
