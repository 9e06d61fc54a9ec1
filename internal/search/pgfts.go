package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// PgFTS implements Searcher on PostgreSQL full-text search, used when
// Meilisearch is down or not configured.
type PgFTS struct {
	db *sql.DB
}

func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy always reports true: if Postgres is down the whole API is down.
func (p *PgFTS) Healthy() bool {
	return true
}

// Search runs a UNION ALL over drafts, annotations, and comments using
// plainto_tsquery with ts_rank ordering and ts_headline snippets. Statements
// match through their latest draft.
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

	if q.FilterType == "" || q.FilterType == ResultStatement {
		where := "d.fts @@ " + tsQuery + `
			AND d.version_number = (SELECT MAX(version_number) FROM drafts WHERE statement_id = d.statement_id)`
		if q.FilterStatementID != "" {
			where += fmt.Sprintf(" AND d.statement_id = $%d", argN)
			args = append(args, q.FilterStatementID)
			argN++
		}
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'statement'::text AS type, d.statement_id AS id, d.title,
				ts_headline('english', coalesce(d.subtitle, ''), %s, 'MaxFragments=1,MaxWords=30') AS snippet,
				d.statement_id, d.id AS draft_id,
				ts_rank(d.fts, %s) AS rank
			FROM drafts d
			WHERE %s`, tsQuery, tsQuery, where))
	}

	if q.FilterType == "" || q.FilterType == ResultAnnotation {
		where := "a.fts @@ " + tsQuery
		if q.FilterStatementID != "" {
			where += fmt.Sprintf(" AND d.statement_id = $%d", argN)
			args = append(args, q.FilterStatementID)
			argN++
		}
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'annotation'::text AS type, a.id, COALESCE(u.display_name, '') AS title,
				ts_headline('english', coalesce(a.excerpt, ''), %s, 'MaxFragments=1,MaxWords=30') AS snippet,
				d.statement_id, a.draft_id,
				ts_rank(a.fts, %s) AS rank
			FROM annotations a
			JOIN drafts d ON d.id = a.draft_id
			LEFT JOIN users u ON u.id = a.user_id
			WHERE %s`, tsQuery, tsQuery, where))
	}

	if q.FilterType == "" || q.FilterType == ResultComment {
		where := "c.fts @@ " + tsQuery
		if q.FilterStatementID != "" {
			where += fmt.Sprintf(" AND d.statement_id = $%d", argN)
			args = append(args, q.FilterStatementID)
			argN++
		}
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'comment'::text AS type, c.id, COALESCE(u.display_name, '') AS title,
				ts_headline('english', coalesce(c.content, ''), %s, 'MaxFragments=1,MaxWords=30') AS snippet,
				d.statement_id, a.draft_id,
				ts_rank(c.fts, %s) AS rank
			FROM comments c
			JOIN annotations a ON a.id = c.annotation_id
			JOIN drafts d ON d.id = a.draft_id
			LEFT JOIN users u ON u.id = c.user_id
			WHERE %s`, tsQuery, tsQuery, where))
	}

	if len(subQueries) == 0 {
		return nil, 0, nil
	}

	union := strings.Join(subQueries, " UNION ALL ")
	countSQL := fmt.Sprintf("SELECT count(*) FROM (%s) sub", union)
	dataSQL := fmt.Sprintf(`SELECT type, id, title, snippet, statement_id, draft_id
		FROM (%s) sub
		ORDER BY rank DESC
		LIMIT %d OFFSET %d`, union, limit, offset)

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
		if err := rows.Scan(&typ, &r.ID, &r.Title, &r.Snippet, &r.StatementID, &r.DraftID); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		r.Type = ResultType(typ)
		results = append(results, r)
	}
	return results, total, rows.Err()
}

// LoadAllRecords returns every searchable record, used to seed Meilisearch.
func (p *PgFTS) LoadAllRecords(ctx context.Context) ([]StatementRecord, []AnnotationRecord, []CommentRecord, error) {
	statementRows, err := p.db.QueryContext(ctx, `
		SELECT d.statement_id, d.title, d.subtitle, d.content, d.published_at IS NOT NULL
		FROM drafts d
		WHERE d.version_number = (SELECT MAX(version_number) FROM drafts WHERE statement_id = d.statement_id)
	`)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load statements: %w", err)
	}
	defer statementRows.Close()

	statements := make([]StatementRecord, 0)
	for statementRows.Next() {
		var record StatementRecord
		if err := statementRows.Scan(&record.ID, &record.Title, &record.Subtitle, &record.Body, &record.Published); err != nil {
			return nil, nil, nil, fmt.Errorf("scan statement: %w", err)
		}
		statements = append(statements, record)
	}
	if err := statementRows.Err(); err != nil {
		return nil, nil, nil, fmt.Errorf("iterate statements: %w", err)
	}

	annotationRows, err := p.db.QueryContext(ctx, `
		SELECT a.id, a.excerpt, d.statement_id, a.draft_id, COALESCE(u.display_name, '')
		FROM annotations a
		JOIN drafts d ON d.id = a.draft_id
		LEFT JOIN users u ON u.id = a.user_id
	`)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load annotations: %w", err)
	}
	defer annotationRows.Close()

	annotations := make([]AnnotationRecord, 0)
	for annotationRows.Next() {
		var record AnnotationRecord
		if err := annotationRows.Scan(&record.ID, &record.Excerpt, &record.StatementID, &record.DraftID, &record.UserName); err != nil {
			return nil, nil, nil, fmt.Errorf("scan annotation: %w", err)
		}
		annotations = append(annotations, record)
	}
	if err := annotationRows.Err(); err != nil {
		return nil, nil, nil, fmt.Errorf("iterate annotations: %w", err)
	}

	commentRows, err := p.db.QueryContext(ctx, `
		SELECT c.id, c.content, d.statement_id, c.annotation_id, COALESCE(u.display_name, '')
		FROM comments c
		JOIN annotations a ON a.id = c.annotation_id
		JOIN drafts d ON d.id = a.draft_id
		LEFT JOIN users u ON u.id = c.user_id
	`)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load comments: %w", err)
	}
	defer commentRows.Close()

	comments := make([]CommentRecord, 0)
	for commentRows.Next() {
		var record CommentRecord
		if err := commentRows.Scan(&record.ID, &record.Body, &record.StatementID, &record.AnnotationID, &record.UserName); err != nil {
			return nil, nil, nil, fmt.Errorf("scan comment: %w", err)
		}
		comments = append(comments, record)
	}
	if err := commentRows.Err(); err != nil {
		return nil, nil, nil, fmt.Errorf("iterate comments: %w", err)
	}

	return statements, annotations, comments, nil
}
