package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

const shareColumns = `id, roadmap_id, created_by, COALESCE(invited_emails::text, '[]'),
	default_role, share_token, expires_at, is_active, created_at, updated_at`

func scanShareGrant(scan func(...any) error) (ShareGrant, error) {
	var g ShareGrant
	var invitedRaw string
	err := scan(
		&g.ID,
		&g.RoadmapID,
		&g.CreatedBy,
		&invitedRaw,
		&g.DefaultRole,
		&g.ShareToken,
		&g.ExpiresAt,
		&g.IsActive,
		&g.CreatedAt,
		&g.UpdatedAt,
	)
	if err != nil {
		return ShareGrant{}, err
	}
	if err := json.Unmarshal([]byte(invitedRaw), &g.InvitedEmails); err != nil {
		return ShareGrant{}, fmt.Errorf("unmarshal invited emails: %w", err)
	}
	return g, nil
}

// GetActiveShareByRoadmap returns the single active grant for a roadmap,
// or nil when none exists.
func (s *PostgresStore) GetActiveShareByRoadmap(ctx context.Context, roadmapID string) (*ShareGrant, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+shareColumns+` FROM share_grants
		WHERE roadmap_id=$1 AND is_active
	`, roadmapID)
	grant, err := scanShareGrant(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get active share: %w", err)
	}
	return &grant, nil
}

func (s *PostgresStore) GetActiveShareByToken(ctx context.Context, token string) (ShareGrant, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+shareColumns+` FROM share_grants
		WHERE share_token=$1 AND is_active
	`, token)
	return scanShareGrant(row.Scan)
}

func (s *PostgresStore) InsertShareGrant(ctx context.Context, g ShareGrant) error {
	invited, err := json.Marshal(g.InvitedEmails)
	if err != nil {
		return fmt.Errorf("marshal invited emails: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO share_grants (id, roadmap_id, created_by, invited_emails, default_role, share_token, expires_at, is_active)
		VALUES ($1, $2, $3, $4::jsonb, $5, $6, $7, TRUE)
	`, g.ID, g.RoadmapID, g.CreatedBy, string(invited), g.DefaultRole, g.ShareToken, g.ExpiresAt)
	if err != nil {
		return fmt.Errorf("insert share grant: %w", err)
	}
	return nil
}

// UpdateShareGrant rewrites the mutable fields of an active grant in
// place; the share token itself stays stable while the grant is active.
func (s *PostgresStore) UpdateShareGrant(ctx context.Context, g ShareGrant) error {
	invited, err := json.Marshal(g.InvitedEmails)
	if err != nil {
		return fmt.Errorf("marshal invited emails: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		UPDATE share_grants
		SET invited_emails=$2::jsonb, default_role=$3, expires_at=$4, updated_at=NOW()
		WHERE id=$1 AND is_active
	`, g.ID, string(invited), g.DefaultRole, g.ExpiresAt)
	if err != nil {
		return fmt.Errorf("update share grant: %w", err)
	}
	return nil
}

// DeactivateShareGrant marks a roadmap's active grant inactive. Returns
// false when the roadmap has no active grant.
func (s *PostgresStore) DeactivateShareGrant(ctx context.Context, roadmapID string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE share_grants SET is_active=FALSE, updated_at=NOW()
		WHERE roadmap_id=$1 AND is_active
	`, roadmapID)
	if err != nil {
		return false, fmt.Errorf("deactivate share grant: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("deactivate share grant rows: %w", err)
	}
	return affected > 0, nil
}

// ListSharedRoadmapsForEmail finds active grants that invite the given
// email, joined with the shared roadmap and its owner's public profile.
func (s *PostgresStore) ListSharedRoadmapsForEmail(ctx context.Context, email string) ([]SharedRoadmap, error) {
	needle, err := json.Marshal([]map[string]string{{"email": email}})
	if err != nil {
		return nil, fmt.Errorf("marshal email filter: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT r.id, r.owner_id, r.project_id, r.name, r.description, r.status,
			COALESCE(r.settings::text, '{}'), COALESCE(r.metadata::text, '{}'), r.created_at, r.updated_at,
			p.id, p.display_name, COALESCE(p.email, ''),
			COALESCE(g.invited_emails::text, '[]'), g.default_role, g.created_at
		FROM share_grants g
		JOIN roadmaps r ON r.id = g.roadmap_id
		JOIN profiles p ON p.id = r.owner_id
		WHERE g.is_active
		  AND (g.expires_at IS NULL OR g.expires_at > NOW())
		  AND g.invited_emails @> $1::jsonb
		ORDER BY g.created_at DESC
	`, string(needle))
	if err != nil {
		return nil, fmt.Errorf("list shared roadmaps: %w", err)
	}
	defer rows.Close()

	items := make([]SharedRoadmap, 0)
	for rows.Next() {
		var item SharedRoadmap
		var invitedRaw string
		var defaultRole string
		if err := rows.Scan(
			&item.Roadmap.ID,
			&item.Roadmap.OwnerID,
			&item.Roadmap.ProjectID,
			&item.Roadmap.Name,
			&item.Roadmap.Description,
			&item.Roadmap.Status,
			&item.Roadmap.Settings,
			&item.Roadmap.Metadata,
			&item.Roadmap.CreatedAt,
			&item.Roadmap.UpdatedAt,
			&item.Owner.ID,
			&item.Owner.DisplayName,
			&item.Owner.Email,
			&invitedRaw,
			&defaultRole,
			&item.SharedAt,
		); err != nil {
			return nil, fmt.Errorf("scan shared roadmap: %w", err)
		}
		var invited []InvitedEmail
		if err := json.Unmarshal([]byte(invitedRaw), &invited); err != nil {
			return nil, fmt.Errorf("unmarshal invited emails: %w", err)
		}
		item.Role = resolveInvitedRole(invited, email, defaultRole)
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate shared roadmaps: %w", err)
	}
	return items, nil
}

// RoleFor returns the role granted to the given email, falling back to
// the grant's default role.
func (g ShareGrant) RoleFor(email string) string {
	return resolveInvitedRole(g.InvitedEmails, email, g.DefaultRole)
}

func resolveInvitedRole(invited []InvitedEmail, email, defaultRole string) string {
	for _, entry := range invited {
		if strings.EqualFold(entry.Email, email) {
			return entry.Role
		}
	}
	return defaultRole
}
