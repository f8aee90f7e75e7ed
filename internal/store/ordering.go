package store

import (
	"context"
	"database/sql"
	"fmt"
)

// OrderedKind names one of the repositionable entity tables together with
// the column that scopes its contiguous position sequence. Values are
// package constants; table and column names never come from callers.
type OrderedKind struct {
	Table       string
	ScopeColumn string
}

var (
	KindMilestone = OrderedKind{Table: "milestones", ScopeColumn: "roadmap_id"}
	KindEpic      = OrderedKind{Table: "epics", ScopeColumn: "roadmap_id"}
	KindFeature   = OrderedKind{Table: "features", ScopeColumn: "epic_id"}
	KindTask      = OrderedKind{Table: "tasks", ScopeColumn: "feature_id"}
)

// Reposition moves an item to newPosition within its scope, shifting the
// items between the old and new slots by one. The range shift and the
// target set happen in one transaction so no reader ever observes a
// duplicate position. A newPosition past the end of the scope clamps to
// the last index so the sequence stays gap-free. Returns false without
// touching anything when the item already sits at newPosition.
func (s *PostgresStore) Reposition(ctx context.Context, kind OrderedKind, itemID string, newPosition int) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin reposition tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var scopeID string
	var oldPosition int
	err = tx.QueryRowContext(ctx, fmt.Sprintf(
		`SELECT %s, position FROM %s WHERE id=$1 FOR UPDATE`,
		kind.ScopeColumn, kind.Table,
	), itemID).Scan(&scopeID, &oldPosition)
	if err != nil {
		return false, err
	}

	var count int
	if err := tx.QueryRowContext(ctx, fmt.Sprintf(
		`SELECT COUNT(*) FROM %s WHERE %s=$1`,
		kind.Table, kind.ScopeColumn,
	), scopeID).Scan(&count); err != nil {
		return false, fmt.Errorf("count scope: %w", err)
	}
	if newPosition > count-1 {
		newPosition = count - 1
	}

	if newPosition == oldPosition {
		return false, tx.Commit()
	}

	if newPosition > oldPosition {
		_, err = tx.ExecContext(ctx, fmt.Sprintf(
			`UPDATE %s SET position = position - 1 WHERE %s=$1 AND position > $2 AND position <= $3`,
			kind.Table, kind.ScopeColumn,
		), scopeID, oldPosition, newPosition)
	} else {
		_, err = tx.ExecContext(ctx, fmt.Sprintf(
			`UPDATE %s SET position = position + 1 WHERE %s=$1 AND position >= $2 AND position < $3`,
			kind.Table, kind.ScopeColumn,
		), scopeID, newPosition, oldPosition)
	}
	if err != nil {
		return false, fmt.Errorf("shift positions: %w", err)
	}

	if _, err := tx.ExecContext(ctx, fmt.Sprintf(
		`UPDATE %s SET position=$2 WHERE id=$1`, kind.Table,
	), itemID, newPosition); err != nil {
		return false, fmt.Errorf("set position: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit reposition: %w", err)
	}
	return true, nil
}

// BulkReposition applies absolute positions directly, last writer wins per
// item. The caller is expected to supply a valid permutation for the
// scope; contiguity is not re-validated here.
func (s *PostgresStore) BulkReposition(ctx context.Context, kind OrderedKind, updates []PositionUpdate) error {
	if len(updates) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin bulk reposition tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	query := fmt.Sprintf(`UPDATE %s SET position=$2 WHERE id=$1`, kind.Table)
	for _, update := range updates {
		result, err := tx.ExecContext(ctx, query, update.ItemID, update.NewPosition)
		if err != nil {
			return fmt.Errorf("bulk set position %s: %w", update.ItemID, err)
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("bulk set position rows %s: %w", update.ItemID, err)
		}
		if affected == 0 {
			return sql.ErrNoRows
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit bulk reposition: %w", err)
	}
	return nil
}

// RepositionLink moves a feature within a milestone's linked-feature list.
func (s *PostgresStore) RepositionLink(ctx context.Context, milestoneID, featureID string, newPosition int) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin link reposition tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var oldPosition int
	err = tx.QueryRowContext(ctx, `
		SELECT position FROM milestone_features
		WHERE milestone_id=$1 AND feature_id=$2 FOR UPDATE
	`, milestoneID, featureID).Scan(&oldPosition)
	if err != nil {
		return false, err
	}

	var count int
	if err := tx.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM milestone_features WHERE milestone_id=$1
	`, milestoneID).Scan(&count); err != nil {
		return false, fmt.Errorf("count links: %w", err)
	}
	if newPosition > count-1 {
		newPosition = count - 1
	}

	if newPosition == oldPosition {
		return false, tx.Commit()
	}

	if newPosition > oldPosition {
		_, err = tx.ExecContext(ctx, `
			UPDATE milestone_features SET position = position - 1
			WHERE milestone_id=$1 AND position > $2 AND position <= $3
		`, milestoneID, oldPosition, newPosition)
	} else {
		_, err = tx.ExecContext(ctx, `
			UPDATE milestone_features SET position = position + 1
			WHERE milestone_id=$1 AND position >= $2 AND position < $3
		`, milestoneID, newPosition, oldPosition)
	}
	if err != nil {
		return false, fmt.Errorf("shift link positions: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE milestone_features SET position=$3
		WHERE milestone_id=$1 AND feature_id=$2
	`, milestoneID, featureID, newPosition); err != nil {
		return false, fmt.Errorf("set link position: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit link reposition: %w", err)
	}
	return true, nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// nextPosition computes the append slot for a scope. Two concurrent
// appends into the same scope can still compute the same slot; that race
// is inherited from the reference behavior and deliberately not patched
// here (see DESIGN.md).
func nextPosition(ctx context.Context, q execer, kind OrderedKind, scopeID string) (int, error) {
	var position int
	err := q.QueryRowContext(ctx, fmt.Sprintf(
		`SELECT COALESCE(MAX(position) + 1, 0) FROM %s WHERE %s=$1`,
		kind.Table, kind.ScopeColumn,
	), scopeID).Scan(&position)
	if err != nil {
		return 0, fmt.Errorf("next position: %w", err)
	}
	return position, nil
}

// closeGap decrements every position after a removed slot so the scope
// stays contiguous. Runs inside the caller's transaction.
func closeGap(ctx context.Context, q execer, kind OrderedKind, scopeID string, removed int) error {
	_, err := q.ExecContext(ctx, fmt.Sprintf(
		`UPDATE %s SET position = position - 1 WHERE %s=$1 AND position > $2`,
		kind.Table, kind.ScopeColumn,
	), scopeID, removed)
	if err != nil {
		return fmt.Errorf("close position gap: %w", err)
	}
	return nil
}
