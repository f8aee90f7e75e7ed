package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// PgFTS implements Searcher using PostgreSQL full-text search as a fallback.
type PgFTS struct {
	db *sql.DB
}

// NewPgFTS creates a PostgreSQL FTS searcher.
func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy always returns true. If Postgres is down the whole app is down.
func (p *PgFTS) Healthy() bool {
	return true
}

// Search executes a UNION ALL query across roadmaps, epics, and features
// using plainto_tsquery and ts_rank, with ts_headline for snippets.
func (p *PgFTS) Search(q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}

	tsQuery := "plainto_tsquery('english', $1)"
	args := []any{q.Text}
	argN := 2

	var subQueries []string

	// Roadmaps sub-query
	if q.FilterType == "" || q.FilterType == ResultRoadmap {
		rmWhere := "r.fts @@ " + tsQuery
		if q.FilterOwnerID != "" {
			rmWhere += fmt.Sprintf(" AND r.owner_id = $%d", argN)
			args = append(args, q.FilterOwnerID)
			argN++
		}
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'roadmap'::text AS type, r.id, r.name AS title,
				ts_headline('english', coalesce(r.description, ''), %s, 'MaxFragments=1,MaxWords=30') AS snippet,
				r.id AS roadmap_id, r.owner_id,
				ts_rank(r.fts, %s) AS rank
			FROM roadmaps r
			WHERE %s`, tsQuery, tsQuery, rmWhere))
	}

	// Epics sub-query
	if q.FilterType == "" || q.FilterType == ResultEpic {
		epWhere := "e.fts @@ " + tsQuery
		if q.FilterOwnerID != "" {
			epWhere += fmt.Sprintf(" AND r.owner_id = $%d", argN)
			args = append(args, q.FilterOwnerID)
			argN++
		}
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'epic'::text AS type, e.id, e.title,
				''::text AS snippet,
				e.roadmap_id, r.owner_id,
				ts_rank(e.fts, %s) AS rank
			FROM epics e
			JOIN roadmaps r ON r.id = e.roadmap_id
			WHERE %s`, tsQuery, epWhere))
	}

	// Features sub-query
	if q.FilterType == "" || q.FilterType == ResultFeature {
		ftWhere := "f.fts @@ " + tsQuery
		if q.FilterOwnerID != "" {
			ftWhere += fmt.Sprintf(" AND r.owner_id = $%d", argN)
			args = append(args, q.FilterOwnerID)
			argN++
		}
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'feature'::text AS type, f.id, f.title,
				''::text AS snippet,
				f.roadmap_id, r.owner_id,
				ts_rank(f.fts, %s) AS rank
			FROM features f
			JOIN roadmaps r ON r.id = f.roadmap_id
			WHERE %s`, tsQuery, ftWhere))
	}

	if len(subQueries) == 0 {
		return nil, 0, nil
	}

	countSQL := fmt.Sprintf("SELECT count(*) FROM (%s) sub",
		strings.Join(subQueries, " UNION ALL "))

	dataSQL := fmt.Sprintf(`SELECT type, id, title, snippet, roadmap_id, owner_id
		FROM (%s) sub
		ORDER BY rank DESC
		LIMIT %d OFFSET %d`,
		strings.Join(subQueries, " UNION ALL "),
		limit, offset)

	ctx := context.Background()

	var total int
	if err := p.db.QueryRowContext(ctx, countSQL, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("pgfts count: %w", err)
	}

	rows, err := p.db.QueryContext(ctx, dataSQL, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts query: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		var typ string
		if err := rows.Scan(&typ, &r.ID, &r.Title, &r.Snippet, &r.RoadmapID, &r.OwnerID); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		r.Type = ResultType(typ)
		results = append(results, r)
	}

	return results, total, rows.Err()
}

// LoadAllRecords returns all searchable records for full reindexing.
func (p *PgFTS) LoadAllRecords(ctx context.Context) ([]RoadmapRecord, []EpicRecord, []FeatureRecord, error) {
	rmRows, err := p.db.QueryContext(ctx, `
		SELECT id, name, description, owner_id, status
		FROM roadmaps
	`)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load roadmaps: %w", err)
	}
	defer rmRows.Close()

	roadmaps := make([]RoadmapRecord, 0)
	for rmRows.Next() {
		var r RoadmapRecord
		if err := rmRows.Scan(&r.ID, &r.Name, &r.Description, &r.OwnerID, &r.Status); err != nil {
			return nil, nil, nil, fmt.Errorf("scan roadmap: %w", err)
		}
		roadmaps = append(roadmaps, r)
	}
	if err := rmRows.Err(); err != nil {
		return nil, nil, nil, fmt.Errorf("iterate roadmaps: %w", err)
	}

	epRows, err := p.db.QueryContext(ctx, `
		SELECT e.id, e.title, e.roadmap_id, r.owner_id, e.status, e.priority
		FROM epics e
		JOIN roadmaps r ON r.id = e.roadmap_id
	`)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load epics: %w", err)
	}
	defer epRows.Close()

	epics := make([]EpicRecord, 0)
	for epRows.Next() {
		var e EpicRecord
		if err := epRows.Scan(&e.ID, &e.Title, &e.RoadmapID, &e.OwnerID, &e.Status, &e.Priority); err != nil {
			return nil, nil, nil, fmt.Errorf("scan epic: %w", err)
		}
		epics = append(epics, e)
	}
	if err := epRows.Err(); err != nil {
		return nil, nil, nil, fmt.Errorf("iterate epics: %w", err)
	}

	ftRows, err := p.db.QueryContext(ctx, `
		SELECT f.id, f.title, f.epic_id, f.roadmap_id, r.owner_id, f.status
		FROM features f
		JOIN roadmaps r ON r.id = f.roadmap_id
	`)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load features: %w", err)
	}
	defer ftRows.Close()

	features := make([]FeatureRecord, 0)
	for ftRows.Next() {
		var f FeatureRecord
		if err := ftRows.Scan(&f.ID, &f.Title, &f.EpicID, &f.RoadmapID, &f.OwnerID, &f.Status); err != nil {
			return nil, nil, nil, fmt.Errorf("scan feature: %w", err)
		}
		features = append(features, f)
	}
	if err := ftRows.Err(); err != nil {
		return nil, nil, nil, fmt.Errorf("iterate features: %w", err)
	}

	return roadmaps, epics, features, nil
}
