package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"trailmap/api/internal/store"
	"trailmap/api/internal/util"
)

// MigrationReport summarizes a guest-to-account migration. Success is
// false when any roadmap was left behind; Errors says which and why.
type MigrationReport struct {
	Success         bool     `json:"success"`
	MigratedCount   int      `json:"migratedCount"`
	ProjectsCreated int      `json:"projectsCreated"`
	Errors          []string `json:"errors,omitempty"`
}

// Migrate moves every roadmap owned by the guest behind guestSessionID to
// the profile targetID. Each roadmap is reassigned independently; a failure
// on one is recorded and the rest continue. An unknown or already-migrated
// session is not an error, it reports zero work done, which keeps the
// operation safe to retry.
func (s *Service) Migrate(ctx context.Context, guestSessionID, targetID string) (MigrationReport, error) {
	report := MigrationReport{Success: true}

	target, err := s.store.GetProfileByID(ctx, targetID)
	if err != nil {
		return report, fmt.Errorf("load target profile: %w", err)
	}
	if target.IsGuest {
		return report, invalidArgument("migration target must be a permanent account")
	}

	guestProfile, err := s.store.GetGuestBySession(ctx, guestSessionID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return report, nil
		}
		return report, fmt.Errorf("resolve guest session: %w", err)
	}

	roadmaps, err := s.store.ListRoadmapsByOwner(ctx, guestProfile.ID)
	if err != nil {
		return report, fmt.Errorf("list guest roadmaps: %w", err)
	}

	for _, roadmap := range roadmaps {
		projectID := roadmap.ProjectID
		if projectID == nil {
			id, created, err := s.ensureProject(ctx, target.ID, projectNameFor(roadmap))
			if err != nil {
				report.Errors = append(report.Errors, fmt.Sprintf("roadmap %s: %v", roadmap.ID, err))
				continue
			}
			projectID = &id
			if created {
				report.ProjectsCreated++
			}
		}
		if err := s.store.UpdateRoadmapOwner(ctx, roadmap.ID, target.ID, projectID); err != nil {
			report.Errors = append(report.Errors, fmt.Sprintf("roadmap %s: %v", roadmap.ID, err))
			continue
		}
		report.MigratedCount++

		roadmap.OwnerID = target.ID
		roadmap.ProjectID = projectID
		s.indexRoadmap(roadmap)
	}

	// The guest row stays but loses its session binding, so the same
	// session id cannot resurrect the old identity.
	if err := s.store.ClearGuestSession(ctx, guestProfile.ID); err != nil {
		report.Errors = append(report.Errors, fmt.Sprintf("clear guest session: %v", err))
	}
	if s.guests != nil {
		s.guests.ForgetSession(ctx, guestSessionID)
	}
	report.Success = len(report.Errors) == 0
	return report, nil
}

// ensureProject finds or creates a project with the given name under
// ownerID. The bool reports whether a new project row was written.
func (s *Service) ensureProject(ctx context.Context, ownerID, name string) (string, bool, error) {
	existing, err := s.store.FindProjectByOwnerAndName(ctx, ownerID, name)
	if err != nil {
		return "", false, fmt.Errorf("find project: %w", err)
	}
	if existing != nil {
		return existing.ID, false, nil
	}

	project := store.Project{
		ID:      util.NewID(util.PrefixProject),
		OwnerID: ownerID,
		Name:    name,
	}
	if err := s.store.InsertProject(ctx, project); err != nil {
		// A concurrent migration may have won the race; take its row.
		if isUniqueViolation(err) {
			if again, findErr := s.store.FindProjectByOwnerAndName(ctx, ownerID, name); findErr == nil && again != nil {
				return again.ID, false, nil
			}
		}
		return "", false, fmt.Errorf("create project: %w", err)
	}
	return project.ID, true, nil
}

func projectNameFor(r store.Roadmap) string {
	if name := strings.TrimSpace(r.Name); name != "" {
		return name
	}
	return "Migrated Roadmaps"
}
