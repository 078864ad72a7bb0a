package search

// ResultType identifies the kind of entity in a search result.
type ResultType string

const (
	ResultSession ResultType = "session"
	ResultComment ResultType = "comment"
)

// Result is a single search hit.
type Result struct {
	Type      ResultType `json:"type"`
	ID        string     `json:"id"`
	Title     string     `json:"title"`
	Snippet   string     `json:"snippet"`
	SessionID string     `json:"sessionId"`
}

// Query describes a search request.
type Query struct {
	Text       string
	FilterType ResultType // empty = all types
	Limit      int
	Offset     int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// SessionRecord is the indexable projection of a session.
type SessionRecord struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Description  string `json:"description"`
	ArtifactType string `json:"artifactType"`
	Status       string `json:"status"`
}

// CommentRecord is the indexable projection of a comment.
type CommentRecord struct {
	ID        string `json:"id"`
	SessionID string `json:"sessionId"`
	Type      string `json:"type"`
	Content   string `json:"content"`
	Resolved  bool   `json:"resolved"`
}
