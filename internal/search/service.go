package search

import (
	"context"
	"log"
)

// Service is the facade that tries Meilisearch first and falls back to PG FTS.
type Service struct {
	meili *Meili
	pgfts *PgFTS
}

// NewService creates a search service. meili may be nil if Meilisearch is not configured.
func NewService(meili *Meili, pgfts *PgFTS) *Service {
	return &Service{meili: meili, pgfts: pgfts}
}

// Search tries Meilisearch if healthy, otherwise falls back to PG FTS.
func (s *Service) Search(q Query) Response {
	if s.meili != nil && s.meili.Healthy() {
		results, total, err := s.meili.Search(q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text}
		}
		log.Printf("search: meilisearch error, falling back to pgfts: %v", err)
	}

	results, total, err := s.pgfts.Search(q)
	if err != nil {
		log.Printf("search: pgfts error: %v", err)
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text}
}

// IndexRoadmap indexes a roadmap (fire-and-forget to Meilisearch).
func (s *Service) IndexRoadmap(r RoadmapRecord) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.IndexRoadmap(r); err != nil {
			log.Printf("search: index roadmap %s: %v", r.ID, err)
		}
	}()
}

// IndexEpic indexes an epic (fire-and-forget to Meilisearch).
func (s *Service) IndexEpic(e EpicRecord) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.IndexEpic(e); err != nil {
			log.Printf("search: index epic %s: %v", e.ID, err)
		}
	}()
}

// IndexFeature indexes a feature (fire-and-forget to Meilisearch).
func (s *Service) IndexFeature(f FeatureRecord) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.IndexFeature(f); err != nil {
			log.Printf("search: index feature %s: %v", f.ID, err)
		}
	}()
}

// DeleteRoadmap removes a roadmap from the search index (fire-and-forget).
func (s *Service) DeleteRoadmap(id string) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.DeleteRoadmap(id); err != nil {
			log.Printf("search: delete roadmap %s: %v", id, err)
		}
	}()
}

// DeleteEpic removes an epic from the search index (fire-and-forget).
func (s *Service) DeleteEpic(id string) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.DeleteEpic(id); err != nil {
			log.Printf("search: delete epic %s: %v", id, err)
		}
	}()
}

// DeleteFeature removes a feature from the search index (fire-and-forget).
func (s *Service) DeleteFeature(id string) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.DeleteFeature(id); err != nil {
			log.Printf("search: delete feature %s: %v", id, err)
		}
	}()
}

// ReindexAll pushes preloaded records to Meilisearch.
func (s *Service) ReindexAll(roadmaps []RoadmapRecord, epics []EpicRecord, features []FeatureRecord) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}

	if len(roadmaps) > 0 {
		if err := s.meili.IndexRoadmaps(roadmaps); err != nil {
			log.Printf("search: reindex roadmaps: %v", err)
		}
	}
	if len(epics) > 0 {
		if err := s.meili.IndexEpics(epics); err != nil {
			log.Printf("search: reindex epics: %v", err)
		}
	}
	if len(features) > 0 {
		if err := s.meili.IndexFeatures(features); err != nil {
			log.Printf("search: reindex features: %v", err)
		}
	}
}

// ReindexAllFromPG reindexes all searchable entities from PostgreSQL into Meilisearch.
func (s *Service) ReindexAllFromPG(ctx context.Context) {
	if s.meili == nil || !s.meili.Healthy() || s.pgfts == nil {
		return
	}
	roadmaps, epics, features, err := s.pgfts.LoadAllRecords(ctx)
	if err != nil {
		log.Printf("search: reindex load failed: %v", err)
		return
	}
	s.ReindexAll(roadmaps, epics, features)
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
