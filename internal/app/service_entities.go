package app

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"trailmap/api/internal/search"
	"trailmap/api/internal/store"
	"trailmap/api/internal/util"
)

var allowedRoadmapStatuses = map[string]struct{}{
	"draft":     {},
	"active":    {},
	"paused":    {},
	"completed": {},
	"archived":  {},
}

type RoadmapInput struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Status      string          `json:"status"`
	Settings    json.RawMessage `json:"settings"`
	Metadata    json.RawMessage `json:"metadata"`
}

type MilestoneInput struct {
	Title      string     `json:"title"`
	TargetDate *time.Time `json:"targetDate"`
	Status     string     `json:"status"`
	Color      string     `json:"color"`
	Position   *int       `json:"position"`
}

type EpicInput struct {
	Title           string     `json:"title"`
	Priority        string     `json:"priority"`
	Status          string     `json:"status"`
	EstimatedEffort int        `json:"estimatedEffort"`
	ActualEffort    int        `json:"actualEffort"`
	StartDate       *time.Time `json:"startDate"`
	EndDate         *time.Time `json:"endDate"`
	Position        *int       `json:"position"`
}

type FeatureInput struct {
	Title           string `json:"title"`
	Status          string `json:"status"`
	IsDeliverable   bool   `json:"isDeliverable"`
	EstimatedEffort int    `json:"estimatedEffort"`
	ActualEffort    int    `json:"actualEffort"`
	Position        *int   `json:"position"`
}

type TaskInput struct {
	Title       string     `json:"title"`
	Priority    string     `json:"priority"`
	Status      string     `json:"status"`
	DueDate     *time.Time `json:"dueDate"`
	CompletedAt *time.Time `json:"completedAt"`
	Position    *int       `json:"position"`
}

// requireRoadmapOwner loads a roadmap and checks the session owns it.
func (s *Service) requireRoadmapOwner(ctx context.Context, sess Session, roadmapID string) (store.Roadmap, error) {
	roadmap, err := s.store.GetRoadmap(ctx, roadmapID)
	if err != nil {
		return store.Roadmap{}, err
	}
	if roadmap.OwnerID != sess.ProfileID {
		return store.Roadmap{}, forbidden("only the roadmap owner may do this")
	}
	return roadmap, nil
}

func (s *Service) CreateRoadmap(ctx context.Context, sess Session, input RoadmapInput) (store.Roadmap, error) {
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return store.Roadmap{}, invalidArgument("name is required")
	}
	status := firstNonBlank(strings.TrimSpace(input.Status), "draft")
	if _, ok := allowedRoadmapStatuses[status]; !ok {
		return store.Roadmap{}, invalidArgument("invalid roadmap status")
	}

	roadmap := store.Roadmap{
		ID:          util.NewID(util.PrefixRoadmap),
		OwnerID:     sess.ProfileID,
		Name:        name,
		Description: strings.TrimSpace(input.Description),
		Status:      status,
		Settings:    rawJSONOrEmpty(input.Settings),
		Metadata:    rawJSONOrEmpty(input.Metadata),
	}
	if err := s.store.InsertRoadmap(ctx, roadmap); err != nil {
		return store.Roadmap{}, err
	}
	s.indexRoadmap(roadmap)
	return roadmap, nil
}

func (s *Service) UpdateRoadmap(ctx context.Context, sess Session, roadmapID string, input RoadmapInput) (store.Roadmap, error) {
	roadmap, err := s.requireRoadmapOwner(ctx, sess, roadmapID)
	if err != nil {
		return store.Roadmap{}, err
	}

	name := firstNonBlank(strings.TrimSpace(input.Name), roadmap.Name)
	description := roadmap.Description
	if input.Description != "" {
		description = strings.TrimSpace(input.Description)
	}
	status := firstNonBlank(strings.TrimSpace(input.Status), roadmap.Status)
	if _, ok := allowedRoadmapStatuses[status]; !ok {
		return store.Roadmap{}, invalidArgument("invalid roadmap status")
	}

	if err := s.store.UpdateRoadmap(ctx, roadmapID, name, description, status); err != nil {
		return store.Roadmap{}, err
	}
	roadmap.Name = name
	roadmap.Description = description
	roadmap.Status = status
	s.indexRoadmap(roadmap)
	return roadmap, nil
}

func (s *Service) DeleteRoadmap(ctx context.Context, sess Session, roadmapID string) error {
	if _, err := s.requireRoadmapOwner(ctx, sess, roadmapID); err != nil {
		return err
	}
	if err := s.store.DeleteRoadmap(ctx, roadmapID); err != nil {
		return err
	}
	if s.search != nil {
		s.search.DeleteRoadmap(roadmapID)
	}
	return nil
}

func (s *Service) CreateMilestone(ctx context.Context, sess Session, roadmapID string, input MilestoneInput) (store.Milestone, error) {
	if _, err := s.requireRoadmapOwner(ctx, sess, roadmapID); err != nil {
		return store.Milestone{}, err
	}
	title := strings.TrimSpace(input.Title)
	if title == "" {
		return store.Milestone{}, invalidArgument("title is required")
	}
	if input.Position != nil && *input.Position < 0 {
		return store.Milestone{}, invalidArgument("position must not be negative")
	}

	return s.store.InsertMilestone(ctx, store.Milestone{
		ID:         util.NewID(util.PrefixMilestone),
		RoadmapID:  roadmapID,
		Title:      title,
		TargetDate: input.TargetDate,
		Status:     firstNonBlank(input.Status, "planned"),
		Color:      input.Color,
	}, input.Position)
}

func (s *Service) UpdateMilestone(ctx context.Context, sess Session, milestoneID string, input MilestoneInput) (store.Milestone, error) {
	milestone, err := s.store.GetMilestone(ctx, milestoneID)
	if err != nil {
		return store.Milestone{}, err
	}
	if _, err := s.requireRoadmapOwner(ctx, sess, milestone.RoadmapID); err != nil {
		return store.Milestone{}, err
	}

	milestone.Title = firstNonBlank(strings.TrimSpace(input.Title), milestone.Title)
	milestone.Status = firstNonBlank(input.Status, milestone.Status)
	if input.TargetDate != nil {
		milestone.TargetDate = input.TargetDate
	}
	if input.Color != "" {
		milestone.Color = input.Color
	}
	if err := s.store.UpdateMilestone(ctx, milestone); err != nil {
		return store.Milestone{}, err
	}
	return milestone, nil
}

func (s *Service) DeleteMilestone(ctx context.Context, sess Session, milestoneID string) error {
	milestone, err := s.store.GetMilestone(ctx, milestoneID)
	if err != nil {
		return err
	}
	if _, err := s.requireRoadmapOwner(ctx, sess, milestone.RoadmapID); err != nil {
		return err
	}
	return s.store.DeleteMilestone(ctx, milestoneID)
}

func (s *Service) CreateEpic(ctx context.Context, sess Session, roadmapID string, input EpicInput) (store.Epic, error) {
	roadmap, err := s.requireRoadmapOwner(ctx, sess, roadmapID)
	if err != nil {
		return store.Epic{}, err
	}
	title := strings.TrimSpace(input.Title)
	if title == "" {
		return store.Epic{}, invalidArgument("title is required")
	}
	if input.Position != nil && *input.Position < 0 {
		return store.Epic{}, invalidArgument("position must not be negative")
	}

	epic, err := s.store.InsertEpic(ctx, store.Epic{
		ID:              util.NewID(util.PrefixEpic),
		RoadmapID:       roadmapID,
		Title:           title,
		Priority:        firstNonBlank(input.Priority, "medium"),
		Status:          firstNonBlank(input.Status, "planned"),
		EstimatedEffort: input.EstimatedEffort,
		ActualEffort:    input.ActualEffort,
		StartDate:       input.StartDate,
		EndDate:         input.EndDate,
	}, input.Position)
	if err != nil {
		return store.Epic{}, err
	}
	s.indexEpic(epic, roadmap.OwnerID)
	return epic, nil
}

func (s *Service) UpdateEpic(ctx context.Context, sess Session, epicID string, input EpicInput) (store.Epic, error) {
	epic, err := s.store.GetEpic(ctx, epicID)
	if err != nil {
		return store.Epic{}, err
	}
	roadmap, err := s.requireRoadmapOwner(ctx, sess, epic.RoadmapID)
	if err != nil {
		return store.Epic{}, err
	}

	epic.Title = firstNonBlank(strings.TrimSpace(input.Title), epic.Title)
	epic.Priority = firstNonBlank(input.Priority, epic.Priority)
	epic.Status = firstNonBlank(input.Status, epic.Status)
	if input.EstimatedEffort != 0 {
		epic.EstimatedEffort = input.EstimatedEffort
	}
	if input.ActualEffort != 0 {
		epic.ActualEffort = input.ActualEffort
	}
	if input.StartDate != nil {
		epic.StartDate = input.StartDate
	}
	if input.EndDate != nil {
		epic.EndDate = input.EndDate
	}
	if err := s.store.UpdateEpic(ctx, epic); err != nil {
		return store.Epic{}, err
	}
	s.indexEpic(epic, roadmap.OwnerID)
	return epic, nil
}

func (s *Service) DeleteEpic(ctx context.Context, sess Session, epicID string) error {
	epic, err := s.store.GetEpic(ctx, epicID)
	if err != nil {
		return err
	}
	if _, err := s.requireRoadmapOwner(ctx, sess, epic.RoadmapID); err != nil {
		return err
	}
	if err := s.store.DeleteEpic(ctx, epicID); err != nil {
		return err
	}
	if s.search != nil {
		s.search.DeleteEpic(epicID)
	}
	return nil
}

func (s *Service) CreateFeature(ctx context.Context, sess Session, epicID string, input FeatureInput) (store.Feature, error) {
	epic, err := s.store.GetEpic(ctx, epicID)
	if err != nil {
		return store.Feature{}, err
	}
	roadmap, err := s.requireRoadmapOwner(ctx, sess, epic.RoadmapID)
	if err != nil {
		return store.Feature{}, err
	}
	title := strings.TrimSpace(input.Title)
	if title == "" {
		return store.Feature{}, invalidArgument("title is required")
	}
	if input.Position != nil && *input.Position < 0 {
		return store.Feature{}, invalidArgument("position must not be negative")
	}

	feature, err := s.store.InsertFeature(ctx, store.Feature{
		ID:              util.NewID(util.PrefixFeature),
		EpicID:          epicID,
		Title:           title,
		Status:          firstNonBlank(input.Status, "planned"),
		IsDeliverable:   input.IsDeliverable,
		EstimatedEffort: input.EstimatedEffort,
		ActualEffort:    input.ActualEffort,
	}, input.Position)
	if err != nil {
		return store.Feature{}, err
	}
	s.indexFeature(feature, roadmap.OwnerID)
	return feature, nil
}

func (s *Service) UpdateFeature(ctx context.Context, sess Session, featureID string, input FeatureInput) (store.Feature, error) {
	feature, err := s.store.GetFeature(ctx, featureID)
	if err != nil {
		return store.Feature{}, err
	}
	roadmap, err := s.requireRoadmapOwner(ctx, sess, feature.RoadmapID)
	if err != nil {
		return store.Feature{}, err
	}

	feature.Title = firstNonBlank(strings.TrimSpace(input.Title), feature.Title)
	feature.Status = firstNonBlank(input.Status, feature.Status)
	feature.IsDeliverable = input.IsDeliverable
	if input.EstimatedEffort != 0 {
		feature.EstimatedEffort = input.EstimatedEffort
	}
	if input.ActualEffort != 0 {
		feature.ActualEffort = input.ActualEffort
	}
	if err := s.store.UpdateFeature(ctx, feature); err != nil {
		return store.Feature{}, err
	}
	s.indexFeature(feature, roadmap.OwnerID)
	return feature, nil
}

func (s *Service) DeleteFeature(ctx context.Context, sess Session, featureID string) error {
	feature, err := s.store.GetFeature(ctx, featureID)
	if err != nil {
		return err
	}
	if _, err := s.requireRoadmapOwner(ctx, sess, feature.RoadmapID); err != nil {
		return err
	}
	if err := s.store.DeleteFeature(ctx, featureID); err != nil {
		return err
	}
	if s.search != nil {
		s.search.DeleteFeature(featureID)
	}
	return nil
}

func (s *Service) CreateTask(ctx context.Context, sess Session, featureID string, input TaskInput) (store.Task, error) {
	feature, err := s.store.GetFeature(ctx, featureID)
	if err != nil {
		return store.Task{}, err
	}
	if _, err := s.requireRoadmapOwner(ctx, sess, feature.RoadmapID); err != nil {
		return store.Task{}, err
	}
	title := strings.TrimSpace(input.Title)
	if title == "" {
		return store.Task{}, invalidArgument("title is required")
	}
	if input.Position != nil && *input.Position < 0 {
		return store.Task{}, invalidArgument("position must not be negative")
	}

	return s.store.InsertTask(ctx, store.Task{
		ID:        util.NewID(util.PrefixTask),
		FeatureID: featureID,
		Title:     title,
		Priority:  firstNonBlank(input.Priority, "medium"),
		Status:    firstNonBlank(input.Status, "todo"),
		DueDate:   input.DueDate,
	}, input.Position)
}

func (s *Service) UpdateTask(ctx context.Context, sess Session, taskID string, input TaskInput) (store.Task, error) {
	task, err := s.store.GetTask(ctx, taskID)
	if err != nil {
		return store.Task{}, err
	}
	feature, err := s.store.GetFeature(ctx, task.FeatureID)
	if err != nil {
		return store.Task{}, err
	}
	if _, err := s.requireRoadmapOwner(ctx, sess, feature.RoadmapID); err != nil {
		return store.Task{}, err
	}

	task.Title = firstNonBlank(strings.TrimSpace(input.Title), task.Title)
	task.Priority = firstNonBlank(input.Priority, task.Priority)
	task.Status = firstNonBlank(input.Status, task.Status)
	if input.DueDate != nil {
		task.DueDate = input.DueDate
	}
	if input.CompletedAt != nil {
		task.CompletedAt = input.CompletedAt
	}
	if err := s.store.UpdateTask(ctx, task); err != nil {
		return store.Task{}, err
	}
	return task, nil
}

func (s *Service) DeleteTask(ctx context.Context, sess Session, taskID string) error {
	task, err := s.store.GetTask(ctx, taskID)
	if err != nil {
		return err
	}
	feature, err := s.store.GetFeature(ctx, task.FeatureID)
	if err != nil {
		return err
	}
	if _, err := s.requireRoadmapOwner(ctx, sess, feature.RoadmapID); err != nil {
		return err
	}
	return s.store.DeleteTask(ctx, taskID)
}

// LinkFeature attaches a feature to a milestone, appending it at the end
// of the milestone's linked-feature list.
func (s *Service) LinkFeature(ctx context.Context, sess Session, milestoneID, featureID string) (store.MilestoneFeatureLink, error) {
	milestone, err := s.store.GetMilestone(ctx, milestoneID)
	if err != nil {
		return store.MilestoneFeatureLink{}, err
	}
	feature, err := s.store.GetFeature(ctx, featureID)
	if err != nil {
		return store.MilestoneFeatureLink{}, err
	}
	if milestone.RoadmapID != feature.RoadmapID {
		return store.MilestoneFeatureLink{}, invalidArgument("milestone and feature belong to different roadmaps")
	}
	if _, err := s.requireRoadmapOwner(ctx, sess, milestone.RoadmapID); err != nil {
		return store.MilestoneFeatureLink{}, err
	}

	link, err := s.store.InsertLink(ctx, milestoneID, featureID)
	if err != nil {
		if isUniqueViolation(err) {
			return store.MilestoneFeatureLink{}, conflict("feature is already linked to this milestone")
		}
		return store.MilestoneFeatureLink{}, err
	}
	return link, nil
}

func (s *Service) UnlinkFeature(ctx context.Context, sess Session, milestoneID, featureID string) error {
	milestone, err := s.store.GetMilestone(ctx, milestoneID)
	if err != nil {
		return err
	}
	if _, err := s.requireRoadmapOwner(ctx, sess, milestone.RoadmapID); err != nil {
		return err
	}
	return s.store.DeleteLink(ctx, milestoneID, featureID)
}

func (s *Service) indexRoadmap(r store.Roadmap) {
	if s.search == nil {
		return
	}
	s.search.IndexRoadmap(search.RoadmapRecord{
		ID:          r.ID,
		Name:        r.Name,
		Description: r.Description,
		OwnerID:     r.OwnerID,
		Status:      r.Status,
	})
}

func (s *Service) indexEpic(e store.Epic, ownerID string) {
	if s.search == nil {
		return
	}
	s.search.IndexEpic(search.EpicRecord{
		ID:        e.ID,
		Title:     e.Title,
		RoadmapID: e.RoadmapID,
		OwnerID:   ownerID,
		Status:    e.Status,
		Priority:  e.Priority,
	})
}

func (s *Service) indexFeature(f store.Feature, ownerID string) {
	if s.search == nil {
		return
	}
	s.search.IndexFeature(search.FeatureRecord{
		ID:        f.ID,
		Title:     f.Title,
		EpicID:    f.EpicID,
		RoadmapID: f.RoadmapID,
		OwnerID:   ownerID,
		Status:    f.Status,
	})
}

func rawJSONOrEmpty(raw json.RawMessage) string {
	if len(raw) == 0 {
		return "{}"
	}
	return string(raw)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
