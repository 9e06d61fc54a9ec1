package store

import "time"

type User struct {
	ID                    string
	DisplayName           string
	Email                 string
	PasswordHash          string
	Role                  string
	IsEmailVerified       bool
	VerificationToken     string
	VerificationExpiresAt *time.Time
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// Statement is the logical long-form document a user authors. Its content
// lives in Drafts, one row per version.
type Statement struct {
	ID        string
	CreatorID string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Draft is one persisted version of a Statement. VersionNumber is monotonic,
// 1-based, and unique per statement. PublishedAt nil means draft-only; each
// version carries its own independent publish flag.
type Draft struct {
	ID            string
	StatementID   string
	VersionNumber int
	Title         string
	Subtitle      string
	HeaderImg     string
	Content       string
	PublishedAt   *time.Time
	CreatorID     string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Annotation anchors a user-created note to a span of one Draft's text.
// StartOffset/EndOffset are rune offsets into the plain-text projection at
// creation time; after edits the mark embedded in the draft content is
// authoritative and these are historical.
type Annotation struct {
	ID          string
	DraftID     string
	UserID      string
	StartOffset int
	EndOffset   int
	Excerpt     string
	CreatedAt   time.Time
}

// Comment is one threaded reply attached to an Annotation. ParentID, when
// set, references another comment bound to the same annotation.
type Comment struct {
	ID           string
	AnnotationID string
	ParentID     string
	UserID       string
	AuthorName   string
	Content      string
	CreatedAt    time.Time
}

// Citation is bibliographic metadata referenced by id from inline nodes in
// a Draft's content. Nodes carry only the id, never a denormalized copy.
type Citation struct {
	ID               string
	StatementID      string
	Title            string
	AuthorNames      string
	URL              string
	Year             int
	Month            int
	Day              int
	Issue            string
	Volume           string
	PageStart        int
	PageEnd          int
	Publisher        string
	TitlePublication string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// CommitInfo describes one commit in a statement's content archive.
type CommitInfo struct {
	Hash      string
	Message   string
	Author    string
	CreatedAt time.Time
}
