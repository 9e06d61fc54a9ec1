package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Users

func (s *PostgresStore) CreateUser(ctx context.Context, user User) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, display_name, email, password_hash, role, is_email_verified, verification_token)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, user.ID, user.DisplayName, user.Email, user.PasswordHash, user.Role, user.IsEmailVerified, user.VerificationToken)
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetUserByID(ctx context.Context, userID string) (User, error) {
	return s.scanUser(s.db.QueryRowContext(ctx, `
		SELECT id, display_name, email, password_hash, role, is_email_verified, COALESCE(verification_token, '')
		FROM users WHERE id = $1
	`, userID))
}

func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (User, error) {
	return s.scanUser(s.db.QueryRowContext(ctx, `
		SELECT id, display_name, email, password_hash, role, is_email_verified, COALESCE(verification_token, '')
		FROM users WHERE lower(email) = lower($1)
	`, email))
}

func (s *PostgresStore) scanUser(row *sql.Row) (User, error) {
	var user User
	err := row.Scan(&user.ID, &user.DisplayName, &user.Email, &user.PasswordHash,
		&user.Role, &user.IsEmailVerified, &user.VerificationToken)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) UpdateUserVerificationToken(ctx context.Context, userID, token string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE users SET verification_token=$2, verification_expires_at=$3, updated_at=NOW() WHERE id=$1
	`, userID, token, expiresAt)
	if err != nil {
		return fmt.Errorf("update verification token: %w", err)
	}
	return nil
}

func (s *PostgresStore) VerifyUserEmail(ctx context.Context, token string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE users
		SET is_email_verified=TRUE, verification_token=NULL, verification_expires_at=NULL, updated_at=NOW()
		WHERE verification_token=$1 AND (verification_expires_at IS NULL OR verification_expires_at > NOW())
	`, token)
	if err != nil {
		return fmt.Errorf("verify email: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("verify email rows: %w", err)
	}
	if affected == 0 {
		return errors.New("invalid or expired verification token")
	}
	return nil
}

func (s *PostgresStore) UpdateUserPassword(ctx context.Context, userID, passwordHash string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE users SET password_hash=$2, updated_at=NOW() WHERE id=$1`, userID, passwordHash)
	if err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	return nil
}

func (s *PostgresStore) CreatePasswordReset(ctx context.Context, userID, token string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO password_resets (token, user_id, expires_at) VALUES ($1, $2, $3)
	`, token, userID, expiresAt)
	if err != nil {
		return fmt.Errorf("create password reset: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetPasswordReset(ctx context.Context, token string) (string, error) {
	var userID string
	err := s.db.QueryRowContext(ctx, `
		SELECT user_id FROM password_resets
		WHERE token=$1 AND used_at IS NULL AND expires_at > NOW()
	`, token).Scan(&userID)
	if err != nil {
		return "", err
	}
	return userID, nil
}

func (s *PostgresStore) MarkPasswordResetUsed(ctx context.Context, token string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE password_resets SET used_at=NOW() WHERE token=$1`, token)
	if err != nil {
		return fmt.Errorf("mark password reset used: %w", err)
	}
	return nil
}

// Refresh sessions and token revocation (Postgres fallback when Redis is
// not configured).

func (s *PostgresStore) SaveRefreshSession(ctx context.Context, tokenHash string, user User, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO refresh_sessions (token_hash, user_id, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (token_hash) DO UPDATE SET user_id=EXCLUDED.user_id, expires_at=EXCLUDED.expires_at, revoked_at=NULL
	`, tokenHash, user.ID, expiresAt)
	if err != nil {
		return fmt.Errorf("save refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) LookupRefreshSession(ctx context.Context, tokenHash string) (User, error) {
	const query = `
		SELECT u.id, u.display_name, u.email, u.password_hash, u.role, u.is_email_verified, COALESCE(u.verification_token, '')
		FROM refresh_sessions rs
		JOIN users u ON u.id = rs.user_id
		WHERE rs.token_hash = $1 AND rs.revoked_at IS NULL AND rs.expires_at > NOW()
	`
	return s.scanUser(s.db.QueryRowContext(ctx, query, tokenHash))
}

func (s *PostgresStore) RevokeRefreshSession(ctx context.Context, tokenHash string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE refresh_sessions SET revoked_at=NOW() WHERE token_hash=$1`, tokenHash)
	if err != nil {
		return fmt.Errorf("revoke refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) RevokeAccessToken(ctx context.Context, jti string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO revoked_tokens (jti, expires_at) VALUES ($1, $2)
		ON CONFLICT (jti) DO NOTHING
	`, jti, expiresAt)
	if err != nil {
		return fmt.Errorf("revoke access token: %w", err)
	}
	return nil
}

func (s *PostgresStore) IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error) {
	var revoked bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM revoked_tokens WHERE jti=$1 AND expires_at > NOW())
	`, jti).Scan(&revoked)
	if err != nil {
		return false, fmt.Errorf("check revoked token: %w", err)
	}
	return revoked, nil
}

// Statements and drafts

func (s *PostgresStore) CreateStatement(ctx context.Context, statement Statement) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO statements (id, creator_id) VALUES ($1, $2)
	`, statement.ID, statement.CreatorID)
	if err != nil {
		return fmt.Errorf("insert statement: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetStatement(ctx context.Context, statementID string) (Statement, error) {
	var statement Statement
	err := s.db.QueryRowContext(ctx, `
		SELECT id, creator_id, created_at, updated_at FROM statements WHERE id=$1
	`, statementID).Scan(&statement.ID, &statement.CreatorID, &statement.CreatedAt, &statement.UpdatedAt)
	if err != nil {
		return Statement{}, err
	}
	return statement, nil
}

func (s *PostgresStore) ListStatements(ctx context.Context) ([]Statement, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, creator_id, created_at, updated_at FROM statements ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("list statements: %w", err)
	}
	defer rows.Close()

	var statements []Statement
	for rows.Next() {
		var statement Statement
		if err := rows.Scan(&statement.ID, &statement.CreatorID, &statement.CreatedAt, &statement.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan statement: %w", err)
		}
		statements = append(statements, statement)
	}
	return statements, rows.Err()
}

const draftColumns = `id, statement_id, version_number, title, subtitle, COALESCE(header_img, ''), content, published_at, creator_id, created_at, updated_at`

func (s *PostgresStore) InsertDraft(ctx context.Context, draft Draft) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO drafts (id, statement_id, version_number, title, subtitle, header_img, content, published_at, creator_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, draft.ID, draft.StatementID, draft.VersionNumber, draft.Title, draft.Subtitle,
		draft.HeaderImg, draft.Content, draft.PublishedAt, draft.CreatorID)
	if err != nil {
		return fmt.Errorf("insert draft: %w", err)
	}
	return nil
}

// UpdateDraft persists autosaved content onto an existing version. The
// update is absolute, so retrying with identical input is idempotent.
func (s *PostgresStore) UpdateDraft(ctx context.Context, draftID, title, subtitle, headerImg, content string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE drafts SET title=$2, subtitle=$3, header_img=$4, content=$5, updated_at=NOW() WHERE id=$1
	`, draftID, title, subtitle, headerImg, content)
	if err != nil {
		return fmt.Errorf("update draft: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update draft rows: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *PostgresStore) GetDraftByID(ctx context.Context, draftID string) (Draft, error) {
	return s.scanDraft(s.db.QueryRowContext(ctx,
		`SELECT `+draftColumns+` FROM drafts WHERE id=$1`, draftID))
}

func (s *PostgresStore) GetDraft(ctx context.Context, statementID string, versionNumber int) (Draft, error) {
	return s.scanDraft(s.db.QueryRowContext(ctx,
		`SELECT `+draftColumns+` FROM drafts WHERE statement_id=$1 AND version_number=$2`,
		statementID, versionNumber))
}

// LatestDraft returns the highest-numbered version regardless of publish
// state (the creator's edit-mode view).
func (s *PostgresStore) LatestDraft(ctx context.Context, statementID string) (Draft, error) {
	return s.scanDraft(s.db.QueryRowContext(ctx,
		`SELECT `+draftColumns+` FROM drafts WHERE statement_id=$1 ORDER BY version_number DESC LIMIT 1`,
		statementID))
}

// CurrentPublishedDraft returns the highest-numbered version with a non-null
// published_at (the reader view).
func (s *PostgresStore) CurrentPublishedDraft(ctx context.Context, statementID string) (Draft, error) {
	return s.scanDraft(s.db.QueryRowContext(ctx,
		`SELECT `+draftColumns+` FROM drafts
		 WHERE statement_id=$1 AND published_at IS NOT NULL
		 ORDER BY version_number DESC LIMIT 1`,
		statementID))
}

func (s *PostgresStore) ListDrafts(ctx context.Context, statementID string) ([]Draft, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+draftColumns+` FROM drafts WHERE statement_id=$1 ORDER BY version_number ASC`, statementID)
	if err != nil {
		return nil, fmt.Errorf("list drafts: %w", err)
	}
	defer rows.Close()

	var drafts []Draft
	for rows.Next() {
		draft, err := s.scanDraftRow(rows)
		if err != nil {
			return nil, err
		}
		drafts = append(drafts, draft)
	}
	return drafts, rows.Err()
}

func (s *PostgresStore) MaxVersionNumber(ctx context.Context, statementID string) (int, error) {
	var maxVersion int
	err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(version_number), 0) FROM drafts WHERE statement_id=$1`, statementID).Scan(&maxVersion)
	if err != nil {
		return 0, fmt.Errorf("max version: %w", err)
	}
	return maxVersion, nil
}

// SetPublishedAt toggles the publish flag on exactly the addressed version.
// Other versions keep their own independent publish state.
func (s *PostgresStore) SetPublishedAt(ctx context.Context, statementID string, versionNumber int, publishedAt *time.Time) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE drafts SET published_at=$3, updated_at=NOW() WHERE statement_id=$1 AND version_number=$2
	`, statementID, versionNumber, publishedAt)
	if err != nil {
		return fmt.Errorf("set published_at: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("set published_at rows: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *PostgresStore) scanDraft(row *sql.Row) (Draft, error) {
	return s.scanDraftRow(row)
}

func (s *PostgresStore) scanDraftRow(row rowScanner) (Draft, error) {
	var draft Draft
	err := row.Scan(&draft.ID, &draft.StatementID, &draft.VersionNumber, &draft.Title, &draft.Subtitle,
		&draft.HeaderImg, &draft.Content, &draft.PublishedAt, &draft.CreatorID, &draft.CreatedAt, &draft.UpdatedAt)
	if err != nil {
		return Draft{}, err
	}
	return draft, nil
}

// Annotations

func (s *PostgresStore) InsertAnnotation(ctx context.Context, annotation Annotation) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO annotations (id, draft_id, user_id, start_offset, end_offset, excerpt)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, annotation.ID, annotation.DraftID, annotation.UserID,
		annotation.StartOffset, annotation.EndOffset, annotation.Excerpt)
	if err != nil {
		return fmt.Errorf("insert annotation: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetAnnotation(ctx context.Context, annotationID string) (Annotation, error) {
	var annotation Annotation
	err := s.db.QueryRowContext(ctx, `
		SELECT id, draft_id, user_id, start_offset, end_offset, excerpt, created_at
		FROM annotations WHERE id=$1
	`, annotationID).Scan(&annotation.ID, &annotation.DraftID, &annotation.UserID,
		&annotation.StartOffset, &annotation.EndOffset, &annotation.Excerpt, &annotation.CreatedAt)
	if err != nil {
		return Annotation{}, err
	}
	return annotation, nil
}

func (s *PostgresStore) ListAnnotations(ctx context.Context, draftID string) ([]Annotation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, draft_id, user_id, start_offset, end_offset, excerpt, created_at
		FROM annotations WHERE draft_id=$1 ORDER BY created_at ASC
	`, draftID)
	if err != nil {
		return nil, fmt.Errorf("list annotations: %w", err)
	}
	defer rows.Close()

	var annotations []Annotation
	for rows.Next() {
		var annotation Annotation
		if err := rows.Scan(&annotation.ID, &annotation.DraftID, &annotation.UserID,
			&annotation.StartOffset, &annotation.EndOffset, &annotation.Excerpt, &annotation.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan annotation: %w", err)
		}
		annotations = append(annotations, annotation)
	}
	return annotations, rows.Err()
}

func (s *PostgresStore) DeleteAnnotation(ctx context.Context, annotationID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM annotations WHERE id=$1`, annotationID)
	if err != nil {
		return fmt.Errorf("delete annotation: %w", err)
	}
	return nil
}

// Comments

func (s *PostgresStore) InsertComment(ctx context.Context, comment Comment) error {
	var parentID any
	if comment.ParentID != "" {
		parentID = comment.ParentID
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO comments (id, annotation_id, parent_id, user_id, content)
		VALUES ($1, $2, $3, $4, $5)
	`, comment.ID, comment.AnnotationID, parentID, comment.UserID, comment.Content)
	if err != nil {
		return fmt.Errorf("insert comment: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetComment(ctx context.Context, commentID string) (Comment, error) {
	var comment Comment
	var parentID sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT c.id, c.annotation_id, c.parent_id, c.user_id, COALESCE(u.display_name, ''), c.content, c.created_at
		FROM comments c LEFT JOIN users u ON u.id = c.user_id
		WHERE c.id=$1
	`, commentID).Scan(&comment.ID, &comment.AnnotationID, &parentID,
		&comment.UserID, &comment.AuthorName, &comment.Content, &comment.CreatedAt)
	if err != nil {
		return Comment{}, err
	}
	comment.ParentID = parentID.String
	return comment, nil
}

func (s *PostgresStore) ListComments(ctx context.Context, annotationID string) ([]Comment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.id, c.annotation_id, c.parent_id, c.user_id, COALESCE(u.display_name, ''), c.content, c.created_at
		FROM comments c LEFT JOIN users u ON u.id = c.user_id
		WHERE c.annotation_id=$1 ORDER BY c.created_at ASC, c.id ASC
	`, annotationID)
	if err != nil {
		return nil, fmt.Errorf("list comments: %w", err)
	}
	defer rows.Close()
	return scanComments(rows)
}

// ListCommentsForDraft loads all comments across a draft's annotations.
func (s *PostgresStore) ListCommentsForDraft(ctx context.Context, draftID string) ([]Comment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.id, c.annotation_id, c.parent_id, c.user_id, COALESCE(u.display_name, ''), c.content, c.created_at
		FROM comments c
		JOIN annotations a ON a.id = c.annotation_id
		LEFT JOIN users u ON u.id = c.user_id
		WHERE a.draft_id=$1 ORDER BY c.created_at ASC, c.id ASC
	`, draftID)
	if err != nil {
		return nil, fmt.Errorf("list draft comments: %w", err)
	}
	defer rows.Close()
	return scanComments(rows)
}

func scanComments(rows *sql.Rows) ([]Comment, error) {
	var comments []Comment
	for rows.Next() {
		var comment Comment
		var parentID sql.NullString
		if err := rows.Scan(&comment.ID, &comment.AnnotationID, &parentID,
			&comment.UserID, &comment.AuthorName, &comment.Content, &comment.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan comment: %w", err)
		}
		comment.ParentID = parentID.String
		comments = append(comments, comment)
	}
	return comments, rows.Err()
}

// Citations

const citationColumns = `id, statement_id, title, author_names, url, year, month, day,
	issue, volume, page_start, page_end, publisher, title_publication, created_at, updated_at`

func (s *PostgresStore) InsertCitation(ctx context.Context, citation Citation) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO citations (id, statement_id, title, author_names, url, year, month, day,
			issue, volume, page_start, page_end, publisher, title_publication)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`, citation.ID, citation.StatementID, citation.Title, citation.AuthorNames, citation.URL,
		citation.Year, citation.Month, citation.Day, citation.Issue, citation.Volume,
		citation.PageStart, citation.PageEnd, citation.Publisher, citation.TitlePublication)
	if err != nil {
		return fmt.Errorf("insert citation: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateCitation(ctx context.Context, citation Citation) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE citations SET title=$2, author_names=$3, url=$4, year=$5, month=$6, day=$7,
			issue=$8, volume=$9, page_start=$10, page_end=$11, publisher=$12, title_publication=$13,
			updated_at=NOW()
		WHERE id=$1
	`, citation.ID, citation.Title, citation.AuthorNames, citation.URL,
		citation.Year, citation.Month, citation.Day, citation.Issue, citation.Volume,
		citation.PageStart, citation.PageEnd, citation.Publisher, citation.TitlePublication)
	if err != nil {
		return fmt.Errorf("update citation: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update citation rows: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *PostgresStore) DeleteCitation(ctx context.Context, citationID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM citations WHERE id=$1`, citationID)
	if err != nil {
		return fmt.Errorf("delete citation: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetCitation(ctx context.Context, citationID string) (Citation, error) {
	var citation Citation
	err := s.db.QueryRowContext(ctx,
		`SELECT `+citationColumns+` FROM citations WHERE id=$1`, citationID,
	).Scan(&citation.ID, &citation.StatementID, &citation.Title, &citation.AuthorNames, &citation.URL,
		&citation.Year, &citation.Month, &citation.Day, &citation.Issue, &citation.Volume,
		&citation.PageStart, &citation.PageEnd, &citation.Publisher, &citation.TitlePublication,
		&citation.CreatedAt, &citation.UpdatedAt)
	if err != nil {
		return Citation{}, err
	}
	return citation, nil
}

func (s *PostgresStore) ListCitations(ctx context.Context, statementID string) ([]Citation, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+citationColumns+` FROM citations WHERE statement_id=$1 ORDER BY created_at ASC`, statementID)
	if err != nil {
		return nil, fmt.Errorf("list citations: %w", err)
	}
	defer rows.Close()

	var citations []Citation
	for rows.Next() {
		var citation Citation
		if err := rows.Scan(&citation.ID, &citation.StatementID, &citation.Title, &citation.AuthorNames, &citation.URL,
			&citation.Year, &citation.Month, &citation.Day, &citation.Issue, &citation.Volume,
			&citation.PageStart, &citation.PageEnd, &citation.Publisher, &citation.TitlePublication,
			&citation.CreatedAt, &citation.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan citation: %w", err)
		}
		citations = append(citations, citation)
	}
	return citations, rows.Err()
}
