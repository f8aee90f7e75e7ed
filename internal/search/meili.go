package search

import (
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"sync/atomic"
	"time"

	meili "github.com/meilisearch/meilisearch-go"
)

const (
	idxRoadmaps = "trailmap_roadmaps"
	idxEpics    = "trailmap_epics"
	idxFeatures = "trailmap_features"
)

// Meili implements Searcher and Indexer via Meilisearch.
type Meili struct {
	client  meili.ServiceManager
	healthy atomic.Bool
	done    chan struct{}
}

// NewMeili creates a Meilisearch client and configures indexes.
// Returns a client that reports unhealthy if the initial connection fails;
// the health loop keeps retrying in the background.
func NewMeili(url, apiKey string) *Meili {
	client := meili.New(url, meili.WithAPIKey(apiKey))

	m := &Meili{
		client: client,
		done:   make(chan struct{}),
	}

	// Initial health check
	if _, err := client.Health(); err != nil {
		log.Printf("search: meilisearch unavailable at %s: %v", url, err)
		m.healthy.Store(false)
	} else {
		m.healthy.Store(true)
		m.configureIndexes()
	}

	go m.healthLoop()
	return m
}

func (m *Meili) configureIndexes() {
	indexes := []struct {
		uid        string
		primaryKey string
		filterable []string
		searchable []string
	}{
		{
			uid:        idxRoadmaps,
			primaryKey: "id",
			filterable: []string{"ownerId", "status"},
			searchable: []string{"name", "description"},
		},
		{
			uid:        idxEpics,
			primaryKey: "id",
			filterable: []string{"ownerId", "roadmapId", "status", "priority"},
			searchable: []string{"title"},
		},
		{
			uid:        idxFeatures,
			primaryKey: "id",
			filterable: []string{"ownerId", "roadmapId", "epicId", "status"},
			searchable: []string{"title"},
		},
	}

	for _, idx := range indexes {
		if _, err := m.client.CreateIndex(&meili.IndexConfig{
			Uid:        idx.uid,
			PrimaryKey: idx.primaryKey,
		}); err != nil {
			log.Printf("search: create index %s (may already exist): %v", idx.uid, err)
		}

		index := m.client.Index(idx.uid)
		filterableInterface := make([]interface{}, len(idx.filterable))
		for i, v := range idx.filterable {
			filterableInterface[i] = v
		}
		if _, err := index.UpdateFilterableAttributes(&filterableInterface); err != nil {
			log.Printf("search: update filterable attrs for %s: %v", idx.uid, err)
		}
		if _, err := index.UpdateSearchableAttributes(&idx.searchable); err != nil {
			log.Printf("search: update searchable attrs for %s: %v", idx.uid, err)
		}
	}
}

func (m *Meili) healthLoop() {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			_, err := m.client.Health()
			wasHealthy := m.healthy.Load()
			m.healthy.Store(err == nil)
			if err == nil && !wasHealthy {
				log.Println("search: meilisearch recovered, reconfiguring indexes")
				m.configureIndexes()
			}
		}
	}
}

// Close stops the background health monitor.
func (m *Meili) Close() {
	close(m.done)
}

// Healthy reports whether Meilisearch is reachable.
func (m *Meili) Healthy() bool {
	return m.healthy.Load()
}

// Search queries all three indexes (or a filtered subset) and merges results.
func (m *Meili) Search(q Query) ([]Result, int, error) {
	if !m.healthy.Load() {
		return nil, 0, fmt.Errorf("meilisearch unhealthy")
	}

	limit := int64(q.Limit)
	if limit == 0 {
		limit = 20
	}

	var queries []*meili.SearchRequest
	targetIndexes := []struct {
		uid  string
		rtyp ResultType
	}{
		{idxRoadmaps, ResultRoadmap},
		{idxEpics, ResultEpic},
		{idxFeatures, ResultFeature},
	}

	for _, ti := range targetIndexes {
		if q.FilterType != "" && q.FilterType != ti.rtyp {
			continue
		}
		sr := &meili.SearchRequest{
			IndexUID:              ti.uid,
			Limit:                 limit,
			Offset:                int64(q.Offset),
			AttributesToHighlight: []string{"*"},
			HighlightPreTag:       "<mark>",
			HighlightPostTag:      "</mark>",
			ShowRankingScore:      true,
		}

		if q.FilterOwnerID != "" {
			sr.Filter = []string{fmt.Sprintf("ownerId = %q", q.FilterOwnerID)}
		}
		queries = append(queries, sr)
	}

	if len(queries) == 0 {
		return nil, 0, nil
	}

	resp, err := m.client.MultiSearch(&meili.MultiSearchRequest{
		Queries: queries,
	})
	if err != nil {
		m.healthy.Store(false)
		return nil, 0, fmt.Errorf("meilisearch multi-search: %w", err)
	}

	var results []Result
	total := 0
	for _, sr := range resp.Results {
		total += int(sr.EstimatedTotalHits)
		rtyp := indexToResultType(sr.IndexUID)
		for _, hit := range sr.Hits {
			results = append(results, hitToResult(hit, rtyp))
		}
	}

	return results, total, nil
}

func indexToResultType(uid string) ResultType {
	switch uid {
	case idxRoadmaps:
		return ResultRoadmap
	case idxEpics:
		return ResultEpic
	case idxFeatures:
		return ResultFeature
	default:
		return ""
	}
}

func hitToResult(hit meili.Hit, rtyp ResultType) Result {
	r := Result{Type: rtyp}
	r.ID = decodeString(hit, "id")
	r.RoadmapID = decodeString(hit, "roadmapId")
	r.OwnerID = decodeString(hit, "ownerId")

	switch rtyp {
	case ResultRoadmap:
		r.Title = firstNonBlank(decodeFormattedString(hit, "name"), decodeString(hit, "name"))
		r.Snippet = firstNonBlank(decodeFormattedString(hit, "description"), decodeString(hit, "description"))
		r.RoadmapID = r.ID // roadmap's own ID
	case ResultEpic, ResultFeature:
		r.Title = firstNonBlank(decodeFormattedString(hit, "title"), decodeString(hit, "title"))
	}
	return r
}

func decodeString(hit meili.Hit, key string) string {
	raw, ok := hit[key]
	if !ok {
		return ""
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return ""
}

func decodeFormattedString(hit meili.Hit, key string) string {
	raw, ok := hit["_formatted"]
	if !ok {
		return ""
	}
	var formatted map[string]string
	if err := json.Unmarshal(raw, &formatted); err != nil {
		return ""
	}
	return strings.TrimSpace(formatted[key])
}

func firstNonBlank(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}

// IndexRoadmap adds or updates a roadmap in the search index.
func (m *Meili) IndexRoadmap(r RoadmapRecord) error {
	_, err := m.client.Index(idxRoadmaps).AddDocuments([]RoadmapRecord{r}, nil)
	return err
}

// IndexEpic adds or updates an epic in the search index.
func (m *Meili) IndexEpic(e EpicRecord) error {
	_, err := m.client.Index(idxEpics).AddDocuments([]EpicRecord{e}, nil)
	return err
}

// IndexFeature adds or updates a feature in the search index.
func (m *Meili) IndexFeature(f FeatureRecord) error {
	_, err := m.client.Index(idxFeatures).AddDocuments([]FeatureRecord{f}, nil)
	return err
}

// DeleteRoadmap removes a roadmap from the search index.
func (m *Meili) DeleteRoadmap(id string) error {
	_, err := m.client.Index(idxRoadmaps).DeleteDocument(id, nil)
	return err
}

// DeleteEpic removes an epic from the search index.
func (m *Meili) DeleteEpic(id string) error {
	_, err := m.client.Index(idxEpics).DeleteDocument(id, nil)
	return err
}

// DeleteFeature removes a feature from the search index.
func (m *Meili) DeleteFeature(id string) error {
	_, err := m.client.Index(idxFeatures).DeleteDocument(id, nil)
	return err
}

// IndexRoadmaps bulk-indexes roadmaps.
func (m *Meili) IndexRoadmaps(roadmaps []RoadmapRecord) error {
	if len(roadmaps) == 0 {
		return nil
	}
	_, err := m.client.Index(idxRoadmaps).AddDocuments(roadmaps, nil)
	return err
}

// IndexEpics bulk-indexes epics.
func (m *Meili) IndexEpics(epics []EpicRecord) error {
	if len(epics) == 0 {
		return nil
	}
	_, err := m.client.Index(idxEpics).AddDocuments(epics, nil)
	return err
}

// IndexFeatures bulk-indexes features.
func (m *Meili) IndexFeatures(features []FeatureRecord) error {
	if len(features) == 0 {
		return nil
	}
	_, err := m.client.Index(idxFeatures).AddDocuments(features, nil)
	return err
}
