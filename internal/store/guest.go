package store

import (
	"context"
	"fmt"
	"time"
)

func (s *PostgresStore) GetGuestBySession(ctx context.Context, sessionID string) (Profile, error) {
	return scanProfile(s.db.QueryRowContext(ctx, `
		SELECT `+profileColumns+` FROM profiles
		WHERE is_guest=TRUE AND guest_session_id=$1
	`, sessionID))
}

// ClearGuestSession soft-disables a guest identity after migration: the
// session marker is removed so the client token can never resolve to it
// again, but the row itself stays for audit.
func (s *PostgresStore) ClearGuestSession(ctx context.Context, profileID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE profiles SET guest_session_id=NULL, updated_at=NOW()
		WHERE id=$1 AND is_guest=TRUE
	`, profileID)
	if err != nil {
		return fmt.Errorf("clear guest session: %w", err)
	}
	return nil
}

// DeleteExpiredGuests removes every guest identity created before cutoff,
// including any roadmaps it still owns. An expired guest can no longer
// authenticate or migrate, so keeping its data only strands it; the
// roadmap delete cascades through the hierarchy via the schema FKs.
func (s *PostgresStore) DeleteExpiredGuests(ctx context.Context, cutoff time.Time) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin guest cleanup tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM refresh_sessions WHERE profile_id IN (
			SELECT id FROM profiles WHERE is_guest=TRUE AND created_at < $1
		)
	`, cutoff); err != nil {
		return 0, fmt.Errorf("delete expired guest sessions: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM roadmaps WHERE owner_id IN (
			SELECT id FROM profiles WHERE is_guest=TRUE AND created_at < $1
		)
	`, cutoff); err != nil {
		return 0, fmt.Errorf("delete expired guest roadmaps: %w", err)
	}

	result, err := tx.ExecContext(ctx, `
		DELETE FROM profiles WHERE is_guest=TRUE AND created_at < $1
	`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete expired guests: %w", err)
	}
	removed, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete expired guests rows: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit guest cleanup: %w", err)
	}
	return removed, nil
}
