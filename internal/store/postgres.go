package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

const profileColumns = `id, display_name, COALESCE(email, ''), password_hash, is_guest,
	COALESCE(guest_session_id, ''), is_email_verified, COALESCE(verification_token, ''),
	verification_expires_at, created_at, updated_at`

func scanProfile(row *sql.Row) (Profile, error) {
	var p Profile
	err := row.Scan(
		&p.ID,
		&p.DisplayName,
		&p.Email,
		&p.PasswordHash,
		&p.IsGuest,
		&p.GuestSessionID,
		&p.IsEmailVerified,
		&p.VerificationToken,
		&p.VerificationExpiresAt,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	return p, err
}

func (s *PostgresStore) GetProfileByID(ctx context.Context, profileID string) (Profile, error) {
	return scanProfile(s.db.QueryRowContext(ctx, `
		SELECT `+profileColumns+` FROM profiles WHERE id=$1
	`, profileID))
}

func (s *PostgresStore) GetProfileByEmail(ctx context.Context, email string) (Profile, error) {
	return scanProfile(s.db.QueryRowContext(ctx, `
		SELECT `+profileColumns+` FROM profiles WHERE LOWER(email)=LOWER($1)
	`, email))
}

func (s *PostgresStore) CreateProfile(ctx context.Context, p Profile) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO profiles (id, display_name, email, password_hash, is_guest, guest_session_id, is_email_verified, verification_token)
		VALUES ($1, $2, NULLIF($3, ''), $4, $5, NULLIF($6, ''), $7, NULLIF($8, ''))
	`, p.ID, p.DisplayName, p.Email, p.PasswordHash, p.IsGuest, p.GuestSessionID, p.IsEmailVerified, p.VerificationToken)
	if err != nil {
		return fmt.Errorf("create profile: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateProfileVerificationToken(ctx context.Context, profileID, token string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE profiles
		SET verification_token=$2, verification_expires_at=$3, updated_at=NOW()
		WHERE id=$1
	`, profileID, token, expiresAt)
	if err != nil {
		return fmt.Errorf("update verification token: %w", err)
	}
	return nil
}

func (s *PostgresStore) VerifyProfileEmail(ctx context.Context, token string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE profiles
		SET is_email_verified=TRUE, verification_token=NULL, verification_expires_at=NULL, updated_at=NOW()
		WHERE verification_token=$1
		  AND (verification_expires_at IS NULL OR verification_expires_at > NOW())
	`, token)
	if err != nil {
		return fmt.Errorf("verify email: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("verify email rows: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *PostgresStore) UpdateProfilePassword(ctx context.Context, profileID, passwordHash string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE profiles SET password_hash=$2, updated_at=NOW() WHERE id=$1
	`, profileID, passwordHash)
	if err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	return nil
}

func (s *PostgresStore) CreatePasswordReset(ctx context.Context, profileID, token string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO password_resets (token, profile_id, expires_at)
		VALUES ($1, $2, $3)
	`, token, profileID, expiresAt)
	if err != nil {
		return fmt.Errorf("create password reset: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetPasswordReset(ctx context.Context, token string) (string, error) {
	var profileID string
	err := s.db.QueryRowContext(ctx, `
		SELECT profile_id FROM password_resets
		WHERE token=$1 AND used_at IS NULL AND expires_at > NOW()
	`, token).Scan(&profileID)
	if err != nil {
		return "", err
	}
	return profileID, nil
}

func (s *PostgresStore) MarkPasswordResetUsed(ctx context.Context, token string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE password_resets SET used_at=NOW() WHERE token=$1`, token)
	if err != nil {
		return fmt.Errorf("mark password reset used: %w", err)
	}
	return nil
}

func (s *PostgresStore) SaveRefreshSession(ctx context.Context, tokenHash, profileID string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO refresh_sessions (token_hash, profile_id, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (token_hash) DO UPDATE SET profile_id=EXCLUDED.profile_id, expires_at=EXCLUDED.expires_at, revoked_at=NULL
	`, tokenHash, profileID, expiresAt)
	if err != nil {
		return fmt.Errorf("save refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) LookupRefreshSession(ctx context.Context, tokenHash string) (Profile, error) {
	return scanProfile(s.db.QueryRowContext(ctx, `
		SELECT p.id, p.display_name, COALESCE(p.email, ''), p.password_hash, p.is_guest,
			COALESCE(p.guest_session_id, ''), p.is_email_verified, COALESCE(p.verification_token, ''),
			p.verification_expires_at, p.created_at, p.updated_at
		FROM refresh_sessions rs
		JOIN profiles p ON p.id = rs.profile_id
		WHERE rs.token_hash = $1
			AND rs.revoked_at IS NULL
			AND rs.expires_at > NOW()
	`, tokenHash))
}

func (s *PostgresStore) RevokeRefreshSession(ctx context.Context, tokenHash string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE refresh_sessions SET revoked_at=NOW() WHERE token_hash=$1`, tokenHash)
	if err != nil {
		return fmt.Errorf("revoke refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) FindProjectByOwnerAndName(ctx context.Context, ownerID, name string) (*Project, error) {
	var p Project
	err := s.db.QueryRowContext(ctx, `
		SELECT id, owner_id, name, created_at FROM projects
		WHERE owner_id=$1 AND name=$2
		LIMIT 1
	`, ownerID, name).Scan(&p.ID, &p.OwnerID, &p.Name, &p.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find project: %w", err)
	}
	return &p, nil
}

func (s *PostgresStore) InsertProject(ctx context.Context, p Project) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO projects (id, owner_id, name) VALUES ($1, $2, $3)
	`, p.ID, p.OwnerID, p.Name)
	if err != nil {
		return fmt.Errorf("insert project: %w", err)
	}
	return nil
}

const roadmapColumns = `id, owner_id, project_id, name, description, status,
	COALESCE(settings::text, '{}'), COALESCE(metadata::text, '{}'), created_at, updated_at`

func scanRoadmapRow(scan func(...any) error) (Roadmap, error) {
	var r Roadmap
	err := scan(
		&r.ID,
		&r.OwnerID,
		&r.ProjectID,
		&r.Name,
		&r.Description,
		&r.Status,
		&r.Settings,
		&r.Metadata,
		&r.CreatedAt,
		&r.UpdatedAt,
	)
	return r, err
}

func (s *PostgresStore) GetRoadmap(ctx context.Context, roadmapID string) (Roadmap, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+roadmapColumns+` FROM roadmaps WHERE id=$1`, roadmapID)
	return scanRoadmapRow(row.Scan)
}

func (s *PostgresStore) ListRoadmapsByOwner(ctx context.Context, ownerID string) ([]Roadmap, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+roadmapColumns+` FROM roadmaps
		WHERE owner_id=$1
		ORDER BY created_at ASC
	`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list roadmaps: %w", err)
	}
	defer rows.Close()

	items := make([]Roadmap, 0)
	for rows.Next() {
		item, err := scanRoadmapRow(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan roadmap: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate roadmaps: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) InsertRoadmap(ctx context.Context, r Roadmap) error {
	settings := r.Settings
	if settings == "" {
		settings = "{}"
	}
	metadata := r.Metadata
	if metadata == "" {
		metadata = "{}"
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO roadmaps (id, owner_id, project_id, name, description, status, settings, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7::jsonb, $8::jsonb)
	`, r.ID, r.OwnerID, r.ProjectID, r.Name, r.Description, r.Status, settings, metadata)
	if err != nil {
		return fmt.Errorf("insert roadmap: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateRoadmap(ctx context.Context, roadmapID, name, description, status string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE roadmaps SET name=$2, description=$3, status=$4, updated_at=NOW()
		WHERE id=$1
	`, roadmapID, name, description, status)
	if err != nil {
		return fmt.Errorf("update roadmap: %w", err)
	}
	return nil
}

// UpdateRoadmapOwner reassigns a roadmap to a new owner and project, moving
// any share grants the previous owner created along with it so nothing keeps
// referencing a profile that may later be cleaned up.
func (s *PostgresStore) UpdateRoadmapOwner(ctx context.Context, roadmapID, ownerID string, projectID *string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin owner update tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		UPDATE roadmaps SET owner_id=$2, project_id=$3, updated_at=NOW()
		WHERE id=$1
	`, roadmapID, ownerID, projectID); err != nil {
		return fmt.Errorf("update roadmap owner: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE share_grants SET created_by=$2 WHERE roadmap_id=$1
	`, roadmapID, ownerID); err != nil {
		return fmt.Errorf("update share grant owner: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit owner update: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeleteRoadmap(ctx context.Context, roadmapID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM roadmaps WHERE id=$1`, roadmapID)
	if err != nil {
		return fmt.Errorf("delete roadmap: %w", err)
	}
	return nil
}

// Ping verifies the database connection is alive
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}
