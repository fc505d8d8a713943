package search

// Result is a single search hit returned to the caller.
type Result struct {
	ID         string `json:"id"`
	Slug       string `json:"slug"`
	Title      string `json:"title"`
	Snippet    string `json:"snippet"`
	Collection string `json:"collection"`
	SiteID     string `json:"siteId"`
}

// Query describes a search request.
type Query struct {
	Text             string
	FilterSiteID     string
	FilterCollection string
	Limit            int
	Offset           int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a full-text search over published content.
type Searcher interface {
	Search(q Query) ([]Result, int, error)
	Healthy() bool
}

// Indexer can push content into a search index.
type Indexer interface {
	IndexContent(rec ContentRecord) error
	DeleteContent(id string) error
}

// ContentRecord is the data we index for a published content item.
type ContentRecord struct {
	ID         string `json:"id"`
	Slug       string `json:"slug"`
	Title      string `json:"title"`
	Body       string `json:"body"`
	Collection string `json:"collection"`
	SiteID     string `json:"siteId"`
	Status     string `json:"status"`
}
