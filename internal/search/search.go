// Package search provides full-text search across statements, annotations,
// and comments, served by Meilisearch when available with a PostgreSQL FTS
// fallback.
package search

// ResultType identifies the kind of entity in a search result.
type ResultType string

const (
	ResultStatement  ResultType = "statement"
	ResultAnnotation ResultType = "annotation"
	ResultComment    ResultType = "comment"
)

// Result is a single search hit returned to the caller.
type Result struct {
	Type        ResultType `json:"type"`
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Snippet     string     `json:"snippet"`
	StatementID string     `json:"statementId"`
	DraftID     string     `json:"draftId,omitempty"`
}

// Query describes a search request.
type Query struct {
	Text              string
	FilterType        ResultType // empty = all types
	FilterStatementID string
	Limit             int
	Offset            int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher executes a full-text search.
type Searcher interface {
	Search(q Query) ([]Result, int, error)
	Healthy() bool
}

// StatementRecord is the data indexed for a statement's current draft.
type StatementRecord struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	Subtitle  string `json:"subtitle"`
	Body      string `json:"body"`
	Published bool   `json:"published"`
}

// AnnotationRecord is the data indexed for an annotation.
type AnnotationRecord struct {
	ID          string `json:"id"`
	Excerpt     string `json:"excerpt"`
	StatementID string `json:"statementId"`
	DraftID     string `json:"draftId"`
	UserName    string `json:"userName"`
}

// CommentRecord is the data indexed for one threaded comment.
type CommentRecord struct {
	ID           string `json:"id"`
	Body         string `json:"body"`
	StatementID  string `json:"statementId"`
	AnnotationID string `json:"annotationId"`
	UserName     string `json:"userName"`
}
