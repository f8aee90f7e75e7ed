package store

import (
	"context"
	"fmt"
)

// Insert helpers append at the tail of the scope when no explicit position
// is supplied; an explicit position is written as-is. Position computation
// and the insert share one transaction.

func (s *PostgresStore) InsertMilestone(ctx context.Context, m Milestone, explicitPosition *int) (Milestone, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Milestone{}, fmt.Errorf("begin insert milestone tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if explicitPosition != nil {
		m.Position = *explicitPosition
	} else {
		m.Position, err = nextPosition(ctx, tx, KindMilestone, m.RoadmapID)
		if err != nil {
			return Milestone{}, err
		}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO milestones (id, roadmap_id, title, target_date, completed_date, status, position, color)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, m.ID, m.RoadmapID, m.Title, m.TargetDate, m.CompletedDate, m.Status, m.Position, m.Color)
	if err != nil {
		return Milestone{}, fmt.Errorf("insert milestone: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return Milestone{}, fmt.Errorf("commit insert milestone: %w", err)
	}
	return m, nil
}

func (s *PostgresStore) GetMilestone(ctx context.Context, milestoneID string) (Milestone, error) {
	var m Milestone
	err := s.db.QueryRowContext(ctx, `
		SELECT id, roadmap_id, title, target_date, completed_date, status, position, color
		FROM milestones WHERE id=$1
	`, milestoneID).Scan(&m.ID, &m.RoadmapID, &m.Title, &m.TargetDate, &m.CompletedDate, &m.Status, &m.Position, &m.Color)
	if err != nil {
		return Milestone{}, err
	}
	return m, nil
}

func (s *PostgresStore) ListMilestonesByRoadmap(ctx context.Context, roadmapID string) ([]Milestone, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, roadmap_id, title, target_date, completed_date, status, position, color
		FROM milestones
		WHERE roadmap_id=$1
		ORDER BY position ASC
	`, roadmapID)
	if err != nil {
		return nil, fmt.Errorf("list milestones: %w", err)
	}
	defer rows.Close()

	items := make([]Milestone, 0)
	for rows.Next() {
		var m Milestone
		if err := rows.Scan(&m.ID, &m.RoadmapID, &m.Title, &m.TargetDate, &m.CompletedDate, &m.Status, &m.Position, &m.Color); err != nil {
			return nil, fmt.Errorf("scan milestone: %w", err)
		}
		items = append(items, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate milestones: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) UpdateMilestone(ctx context.Context, m Milestone) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE milestones
		SET title=$2, target_date=$3, completed_date=$4, status=$5, color=$6
		WHERE id=$1
	`, m.ID, m.Title, m.TargetDate, m.CompletedDate, m.Status, m.Color)
	if err != nil {
		return fmt.Errorf("update milestone: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeleteMilestone(ctx context.Context, milestoneID string) error {
	return s.deleteOrdered(ctx, KindMilestone, milestoneID)
}

func (s *PostgresStore) InsertEpic(ctx context.Context, e Epic, explicitPosition *int) (Epic, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Epic{}, fmt.Errorf("begin insert epic tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if explicitPosition != nil {
		e.Position = *explicitPosition
	} else {
		e.Position, err = nextPosition(ctx, tx, KindEpic, e.RoadmapID)
		if err != nil {
			return Epic{}, err
		}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO epics (id, roadmap_id, title, priority, status, position, estimated_effort, actual_effort, start_date, end_date)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, e.ID, e.RoadmapID, e.Title, e.Priority, e.Status, e.Position, e.EstimatedEffort, e.ActualEffort, e.StartDate, e.EndDate)
	if err != nil {
		return Epic{}, fmt.Errorf("insert epic: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return Epic{}, fmt.Errorf("commit insert epic: %w", err)
	}
	return e, nil
}

func (s *PostgresStore) GetEpic(ctx context.Context, epicID string) (Epic, error) {
	var e Epic
	err := s.db.QueryRowContext(ctx, `
		SELECT id, roadmap_id, title, priority, status, position, estimated_effort, actual_effort, start_date, end_date
		FROM epics WHERE id=$1
	`, epicID).Scan(&e.ID, &e.RoadmapID, &e.Title, &e.Priority, &e.Status, &e.Position, &e.EstimatedEffort, &e.ActualEffort, &e.StartDate, &e.EndDate)
	if err != nil {
		return Epic{}, err
	}
	return e, nil
}

func (s *PostgresStore) ListEpicsByRoadmap(ctx context.Context, roadmapID string) ([]Epic, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, roadmap_id, title, priority, status, position, estimated_effort, actual_effort, start_date, end_date
		FROM epics
		WHERE roadmap_id=$1
		ORDER BY position ASC
	`, roadmapID)
	if err != nil {
		return nil, fmt.Errorf("list epics: %w", err)
	}
	defer rows.Close()

	items := make([]Epic, 0)
	for rows.Next() {
		var e Epic
		if err := rows.Scan(&e.ID, &e.RoadmapID, &e.Title, &e.Priority, &e.Status, &e.Position, &e.EstimatedEffort, &e.ActualEffort, &e.StartDate, &e.EndDate); err != nil {
			return nil, fmt.Errorf("scan epic: %w", err)
		}
		items = append(items, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate epics: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) UpdateEpic(ctx context.Context, e Epic) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE epics
		SET title=$2, priority=$3, status=$4, estimated_effort=$5, actual_effort=$6, start_date=$7, end_date=$8
		WHERE id=$1
	`, e.ID, e.Title, e.Priority, e.Status, e.EstimatedEffort, e.ActualEffort, e.StartDate, e.EndDate)
	if err != nil {
		return fmt.Errorf("update epic: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeleteEpic(ctx context.Context, epicID string) error {
	return s.deleteOrdered(ctx, KindEpic, epicID)
}

// InsertFeature copies the parent epic's roadmap id inside the insert
// statement itself, so the denormalized reference can never be written
// out of sync with the epic.
func (s *PostgresStore) InsertFeature(ctx context.Context, f Feature, explicitPosition *int) (Feature, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Feature{}, fmt.Errorf("begin insert feature tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if explicitPosition != nil {
		f.Position = *explicitPosition
	} else {
		f.Position, err = nextPosition(ctx, tx, KindFeature, f.EpicID)
		if err != nil {
			return Feature{}, err
		}
	}

	err = tx.QueryRowContext(ctx, `
		INSERT INTO features (id, epic_id, roadmap_id, title, status, position, is_deliverable, estimated_effort, actual_effort)
		SELECT $1, e.id, e.roadmap_id, $3, $4, $5, $6, $7, $8
		FROM epics e WHERE e.id=$2
		RETURNING roadmap_id
	`, f.ID, f.EpicID, f.Title, f.Status, f.Position, f.IsDeliverable, f.EstimatedEffort, f.ActualEffort).Scan(&f.RoadmapID)
	if err != nil {
		return Feature{}, fmt.Errorf("insert feature: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return Feature{}, fmt.Errorf("commit insert feature: %w", err)
	}
	return f, nil
}

func (s *PostgresStore) GetFeature(ctx context.Context, featureID string) (Feature, error) {
	var f Feature
	err := s.db.QueryRowContext(ctx, `
		SELECT id, epic_id, roadmap_id, title, status, position, is_deliverable, estimated_effort, actual_effort
		FROM features WHERE id=$1
	`, featureID).Scan(&f.ID, &f.EpicID, &f.RoadmapID, &f.Title, &f.Status, &f.Position, &f.IsDeliverable, &f.EstimatedEffort, &f.ActualEffort)
	if err != nil {
		return Feature{}, err
	}
	return f, nil
}

func (s *PostgresStore) ListFeaturesByEpicIDs(ctx context.Context, epicIDs []string) ([]Feature, error) {
	if len(epicIDs) == 0 {
		return []Feature{}, nil
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, epic_id, roadmap_id, title, status, position, is_deliverable, estimated_effort, actual_effort
		FROM features
		WHERE epic_id = ANY($1)
		ORDER BY epic_id ASC, position ASC
	`, epicIDs)
	if err != nil {
		return nil, fmt.Errorf("list features: %w", err)
	}
	defer rows.Close()

	items := make([]Feature, 0)
	for rows.Next() {
		var f Feature
		if err := rows.Scan(&f.ID, &f.EpicID, &f.RoadmapID, &f.Title, &f.Status, &f.Position, &f.IsDeliverable, &f.EstimatedEffort, &f.ActualEffort); err != nil {
			return nil, fmt.Errorf("scan feature: %w", err)
		}
		items = append(items, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate features: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) UpdateFeature(ctx context.Context, f Feature) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE features
		SET title=$2, status=$3, is_deliverable=$4, estimated_effort=$5, actual_effort=$6
		WHERE id=$1
	`, f.ID, f.Title, f.Status, f.IsDeliverable, f.EstimatedEffort, f.ActualEffort)
	if err != nil {
		return fmt.Errorf("update feature: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeleteFeature(ctx context.Context, featureID string) error {
	return s.deleteOrdered(ctx, KindFeature, featureID)
}

func (s *PostgresStore) InsertTask(ctx context.Context, t Task, explicitPosition *int) (Task, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Task{}, fmt.Errorf("begin insert task tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if explicitPosition != nil {
		t.Position = *explicitPosition
	} else {
		t.Position, err = nextPosition(ctx, tx, KindTask, t.FeatureID)
		if err != nil {
			return Task{}, err
		}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO tasks (id, feature_id, title, priority, status, position, due_date, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, t.ID, t.FeatureID, t.Title, t.Priority, t.Status, t.Position, t.DueDate, t.CompletedAt)
	if err != nil {
		return Task{}, fmt.Errorf("insert task: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return Task{}, fmt.Errorf("commit insert task: %w", err)
	}
	return t, nil
}

func (s *PostgresStore) GetTask(ctx context.Context, taskID string) (Task, error) {
	var t Task
	err := s.db.QueryRowContext(ctx, `
		SELECT id, feature_id, title, priority, status, position, due_date, completed_at
		FROM tasks WHERE id=$1
	`, taskID).Scan(&t.ID, &t.FeatureID, &t.Title, &t.Priority, &t.Status, &t.Position, &t.DueDate, &t.CompletedAt)
	if err != nil {
		return Task{}, err
	}
	return t, nil
}

func (s *PostgresStore) ListTasksByFeatureIDs(ctx context.Context, featureIDs []string) ([]Task, error) {
	if len(featureIDs) == 0 {
		return []Task{}, nil
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, feature_id, title, priority, status, position, due_date, completed_at
		FROM tasks
		WHERE feature_id = ANY($1)
		ORDER BY feature_id ASC, position ASC
	`, featureIDs)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	items := make([]Task, 0)
	for rows.Next() {
		var t Task
		if err := rows.Scan(&t.ID, &t.FeatureID, &t.Title, &t.Priority, &t.Status, &t.Position, &t.DueDate, &t.CompletedAt); err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		items = append(items, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tasks: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) UpdateTask(ctx context.Context, t Task) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE tasks
		SET title=$2, priority=$3, status=$4, due_date=$5, completed_at=$6
		WHERE id=$1
	`, t.ID, t.Title, t.Priority, t.Status, t.DueDate, t.CompletedAt)
	if err != nil {
		return fmt.Errorf("update task: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeleteTask(ctx context.Context, taskID string) error {
	return s.deleteOrdered(ctx, KindTask, taskID)
}

// deleteOrdered removes an item and closes the position gap it leaves, in
// one transaction, keeping the scope contiguous.
func (s *PostgresStore) deleteOrdered(ctx context.Context, kind OrderedKind, itemID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var scopeID string
	var position int
	err = tx.QueryRowContext(ctx, fmt.Sprintf(
		`SELECT %s, position FROM %s WHERE id=$1 FOR UPDATE`,
		kind.ScopeColumn, kind.Table,
	), itemID).Scan(&scopeID, &position)
	if err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, fmt.Sprintf(
		`DELETE FROM %s WHERE id=$1`, kind.Table,
	), itemID); err != nil {
		return fmt.Errorf("delete %s: %w", kind.Table, err)
	}

	if err := closeGap(ctx, tx, kind, scopeID, position); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit delete: %w", err)
	}
	return nil
}

func (s *PostgresStore) InsertLink(ctx context.Context, milestoneID, featureID string) (MilestoneFeatureLink, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return MilestoneFeatureLink{}, fmt.Errorf("begin insert link tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var position int
	err = tx.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(position) + 1, 0) FROM milestone_features WHERE milestone_id=$1
	`, milestoneID).Scan(&position)
	if err != nil {
		return MilestoneFeatureLink{}, fmt.Errorf("next link position: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO milestone_features (milestone_id, feature_id, position)
		VALUES ($1, $2, $3)
	`, milestoneID, featureID, position)
	if err != nil {
		return MilestoneFeatureLink{}, fmt.Errorf("insert link: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return MilestoneFeatureLink{}, fmt.Errorf("commit insert link: %w", err)
	}
	return MilestoneFeatureLink{MilestoneID: milestoneID, FeatureID: featureID, Position: position}, nil
}

func (s *PostgresStore) DeleteLink(ctx context.Context, milestoneID, featureID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete link tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var position int
	err = tx.QueryRowContext(ctx, `
		SELECT position FROM milestone_features
		WHERE milestone_id=$1 AND feature_id=$2 FOR UPDATE
	`, milestoneID, featureID).Scan(&position)
	if err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM milestone_features WHERE milestone_id=$1 AND feature_id=$2
	`, milestoneID, featureID); err != nil {
		return fmt.Errorf("delete link: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE milestone_features SET position = position - 1
		WHERE milestone_id=$1 AND position > $2
	`, milestoneID, position); err != nil {
		return fmt.Errorf("close link gap: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit delete link: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListLinksByMilestoneIDs(ctx context.Context, milestoneIDs []string) ([]MilestoneFeatureLink, error) {
	if len(milestoneIDs) == 0 {
		return []MilestoneFeatureLink{}, nil
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT milestone_id, feature_id, position
		FROM milestone_features
		WHERE milestone_id = ANY($1)
		ORDER BY milestone_id ASC, position ASC
	`, milestoneIDs)
	if err != nil {
		return nil, fmt.Errorf("list links: %w", err)
	}
	defer rows.Close()

	items := make([]MilestoneFeatureLink, 0)
	for rows.Next() {
		var l MilestoneFeatureLink
		if err := rows.Scan(&l.MilestoneID, &l.FeatureID, &l.Position); err != nil {
			return nil, fmt.Errorf("scan link: %w", err)
		}
		items = append(items, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate links: %w", err)
	}
	return items, nil
}
