package search

// ResultType identifies the kind of entity in a search result.
type ResultType string

const (
	ResultRoadmap ResultType = "roadmap"
	ResultEpic    ResultType = "epic"
	ResultFeature ResultType = "feature"
)

// Result is a single search hit returned to the caller.
type Result struct {
	Type      ResultType `json:"type"`
	ID        string     `json:"id"`
	Title     string     `json:"title"`
	Snippet   string     `json:"snippet"`
	RoadmapID string     `json:"roadmapId"`
	OwnerID   string     `json:"ownerId"`
}

// Query describes a search request.
type Query struct {
	Text          string
	FilterType    ResultType // empty = all types
	FilterOwnerID string
	Limit         int
	Offset        int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a full-text search.
type Searcher interface {
	Search(q Query) ([]Result, int, error)
	Healthy() bool
}

// Indexer can push entities into a search index.
type Indexer interface {
	IndexRoadmap(r RoadmapRecord) error
	IndexEpic(e EpicRecord) error
	IndexFeature(f FeatureRecord) error
	DeleteRoadmap(id string) error
	DeleteEpic(id string) error
	DeleteFeature(id string) error
}

// RoadmapRecord is the data we index for a roadmap.
type RoadmapRecord struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	OwnerID     string `json:"ownerId"`
	Status      string `json:"status"`
}

// EpicRecord is the data we index for an epic.
type EpicRecord struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	RoadmapID string `json:"roadmapId"`
	OwnerID   string `json:"ownerId"`
	Status    string `json:"status"`
	Priority  string `json:"priority"`
}

// FeatureRecord is the data we index for a feature.
type FeatureRecord struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	EpicID    string `json:"epicId"`
	RoadmapID string `json:"roadmapId"`
	OwnerID   string `json:"ownerId"`
	Status    string `json:"status"`
}
