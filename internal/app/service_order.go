package app

import (
	"context"

	"trailmap/api/internal/store"
)

var orderedKinds = map[string]store.OrderedKind{
	"milestone": store.KindMilestone,
	"epic":      store.KindEpic,
	"feature":   store.KindFeature,
	"task":      store.KindTask,
}

type RepositionResult struct {
	Moved bool `json:"moved"`
}

// Reposition moves one item to a new slot within its sibling sequence.
// The entity string picks the table; ownership is checked by walking the
// item up to its roadmap.
func (s *Service) Reposition(ctx context.Context, sess Session, entity, itemID string, newPosition int) (RepositionResult, error) {
	kind, ok := orderedKinds[entity]
	if !ok {
		return RepositionResult{}, invalidArgument("unknown entity type")
	}
	if newPosition < 0 {
		return RepositionResult{}, invalidArgument("position must not be negative")
	}
	if err := s.authorizeItem(ctx, sess, entity, itemID); err != nil {
		return RepositionResult{}, err
	}

	moved, err := s.store.Reposition(ctx, kind, itemID, newPosition)
	if err != nil {
		return RepositionResult{}, err
	}
	return RepositionResult{Moved: moved}, nil
}

// BulkReorder applies a client-supplied position for every listed item in
// one transaction. Positions are taken as given; the client owns the
// resulting sequence.
func (s *Service) BulkReorder(ctx context.Context, sess Session, entity, scopeID string, updates []store.PositionUpdate) error {
	kind, ok := orderedKinds[entity]
	if !ok {
		return invalidArgument("unknown entity type")
	}
	if len(updates) == 0 {
		return invalidArgument("no position updates given")
	}
	for _, u := range updates {
		if u.ItemID == "" {
			return invalidArgument("itemId is required")
		}
		if u.NewPosition < 0 {
			return invalidArgument("position must not be negative")
		}
	}
	if err := s.authorizeScope(ctx, sess, entity, scopeID); err != nil {
		return err
	}
	return s.store.BulkReposition(ctx, kind, updates)
}

// RepositionLink moves a feature within a milestone's linked-feature list.
func (s *Service) RepositionLink(ctx context.Context, sess Session, milestoneID, featureID string, newPosition int) (RepositionResult, error) {
	if newPosition < 0 {
		return RepositionResult{}, invalidArgument("position must not be negative")
	}
	milestone, err := s.store.GetMilestone(ctx, milestoneID)
	if err != nil {
		return RepositionResult{}, err
	}
	if _, err := s.requireRoadmapOwner(ctx, sess, milestone.RoadmapID); err != nil {
		return RepositionResult{}, err
	}

	moved, err := s.store.RepositionLink(ctx, milestoneID, featureID, newPosition)
	if err != nil {
		return RepositionResult{}, err
	}
	return RepositionResult{Moved: moved}, nil
}

// authorizeItem resolves an ordered item to its roadmap and checks
// ownership.
func (s *Service) authorizeItem(ctx context.Context, sess Session, entity, itemID string) error {
	var roadmapID string
	switch entity {
	case "milestone":
		m, err := s.store.GetMilestone(ctx, itemID)
		if err != nil {
			return err
		}
		roadmapID = m.RoadmapID
	case "epic":
		e, err := s.store.GetEpic(ctx, itemID)
		if err != nil {
			return err
		}
		roadmapID = e.RoadmapID
	case "feature":
		f, err := s.store.GetFeature(ctx, itemID)
		if err != nil {
			return err
		}
		roadmapID = f.RoadmapID
	case "task":
		t, err := s.store.GetTask(ctx, itemID)
		if err != nil {
			return err
		}
		f, err := s.store.GetFeature(ctx, t.FeatureID)
		if err != nil {
			return err
		}
		roadmapID = f.RoadmapID
	default:
		return invalidArgument("unknown entity type")
	}
	_, err := s.requireRoadmapOwner(ctx, sess, roadmapID)
	return err
}

// authorizeScope checks ownership of the parent that scopes a bulk
// reorder: roadmap for milestones and epics, epic for features, feature
// for tasks.
func (s *Service) authorizeScope(ctx context.Context, sess Session, entity, scopeID string) error {
	var roadmapID string
	switch entity {
	case "milestone", "epic":
		roadmapID = scopeID
	case "feature":
		e, err := s.store.GetEpic(ctx, scopeID)
		if err != nil {
			return err
		}
		roadmapID = e.RoadmapID
	case "task":
		f, err := s.store.GetFeature(ctx, scopeID)
		if err != nil {
			return err
		}
		roadmapID = f.RoadmapID
	default:
		return invalidArgument("unknown entity type")
	}
	_, err := s.requireRoadmapOwner(ctx, sess, roadmapID)
	return err
}
