package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"marginalia/api/internal/archive"
	"marginalia/api/internal/autosave"
	"marginalia/api/internal/cite"
	"marginalia/api/internal/doc"
	"marginalia/api/internal/export"
	"marginalia/api/internal/rbac"
	"marginalia/api/internal/search"
	"marginalia/api/internal/store"
	"marginalia/api/internal/util"
)

// DraftContentInput is the editor payload; every autosave tick carries the
// full draft, not a diff.
type DraftContentInput struct {
	Title     string `json:"title"`
	Subtitle  string `json:"subtitle"`
	HeaderImg string `json:"headerImg"`
	Content   string `json:"content"`
}

const emptyContent = "<p></p>"

func (s *Service) CreateStatement(ctx context.Context, session Session, title, subtitle string) (map[string]any, error) {
	if !s.Can(session.Role, rbac.ActionWrite) {
		return nil, permissionDenied("Forbidden")
	}
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, validationError("title is required", nil)
	}

	statement := store.Statement{
		ID:        util.NewID("stm"),
		CreatorID: session.UserID,
	}
	if err := s.store.CreateStatement(ctx, statement); err != nil {
		return nil, persistenceFailure("Could not create the statement")
	}

	draft := store.Draft{
		ID:            util.NewID("drf"),
		StatementID:   statement.ID,
		VersionNumber: 1,
		Title:         title,
		Subtitle:      strings.TrimSpace(subtitle),
		Content:       emptyContent,
		CreatorID:     session.UserID,
	}
	if err := s.store.InsertDraft(ctx, draft); err != nil {
		return nil, persistenceFailure("Could not create the first draft")
	}

	if err := s.archive.EnsureRepo(statement.ID, archiveSnapshot(draft), session.UserName); err != nil {
		return nil, persistenceFailure("Could not initialise the statement archive")
	}
	if err := s.archive.TagVersion(statement.ID, 1); err != nil {
		return nil, persistenceFailure("Could not tag the first version")
	}

	s.indexDraft(statement.ID, draft)

	return map[string]any{
		"id":        statement.ID,
		"creatorId": statement.CreatorID,
		"draft":     draftPayload(draft),
	}, nil
}

func (s *Service) ListStatements(ctx context.Context) ([]map[string]any, error) {
	statements, err := s.store.ListStatements(ctx)
	if err != nil {
		return nil, err
	}

	items := make([]map[string]any, 0, len(statements))
	for _, statement := range statements {
		item := map[string]any{
			"id":        statement.ID,
			"creatorId": statement.CreatorID,
			"createdAt": statement.CreatedAt,
		}
		if latest, err := s.store.LatestDraft(ctx, statement.ID); err == nil {
			item["title"] = latest.Title
			item["latestVersion"] = latest.VersionNumber
		}
		if published, err := s.store.CurrentPublishedDraft(ctx, statement.ID); err == nil {
			item["publishedVersion"] = published.VersionNumber
		}
		items = append(items, item)
	}
	return items, nil
}

func (s *Service) GetStatement(ctx context.Context, statementID string) (map[string]any, error) {
	statement, err := s.store.GetStatement(ctx, statementID)
	if err != nil {
		return nil, err
	}
	drafts, err := s.store.ListDrafts(ctx, statementID)
	if err != nil {
		return nil, err
	}

	versions := make([]map[string]any, 0, len(drafts))
	for _, draft := range drafts {
		versions = append(versions, map[string]any{
			"id":          draft.ID,
			"version":     draft.VersionNumber,
			"title":       draft.Title,
			"publishedAt": draft.PublishedAt,
			"updatedAt":   draft.UpdatedAt,
		})
	}
	return map[string]any{
		"id":        statement.ID,
		"creatorId": statement.CreatorID,
		"createdAt": statement.CreatedAt,
		"versions":  versions,
	}, nil
}

func (s *Service) GetDraft(ctx context.Context, statementID string, version int) (map[string]any, error) {
	draft, err := s.store.GetDraft(ctx, statementID, version)
	if err != nil {
		return nil, err
	}
	return draftPayload(draft), nil
}

// EditDraft records an editor keystroke batch. The snapshot goes through the
// debounced autosave controller; persistence happens off the request path.
func (s *Service) EditDraft(ctx context.Context, session Session, statementID string, version int, input DraftContentInput) (map[string]any, error) {
	if !s.Can(session.Role, rbac.ActionWrite) {
		return nil, permissionDenied("Forbidden")
	}
	if _, err := s.requireCreator(ctx, session, statementID); err != nil {
		return nil, err
	}
	if strings.TrimSpace(input.Title) == "" {
		return nil, validationError("title is required", nil)
	}

	draft, err := s.store.GetDraft(ctx, statementID, version)
	if err != nil {
		return nil, err
	}
	if draft.PublishedAt != nil {
		return nil, validationError("published versions are immutable; save a new version instead", nil)
	}
	maxVersion, err := s.store.MaxVersionNumber(ctx, statementID)
	if err != nil {
		return nil, err
	}
	if version < maxVersion {
		return nil, validationError("superseded versions are immutable; edit the latest version instead", nil)
	}

	content := input.Content
	if strings.TrimSpace(content) == "" {
		content = emptyContent
	}
	// Normalise through the document model so stored content always
	// round-trips.
	content = doc.Serialize(doc.Parse(content))

	ctrl := s.editorFor(draft)
	ctrl.Edit(autosave.Snapshot{
		DraftID:     draft.ID,
		StatementID: statementID,
		Version:     version,
		Title:       strings.TrimSpace(input.Title),
		Subtitle:    strings.TrimSpace(input.Subtitle),
		HeaderImg:   strings.TrimSpace(input.HeaderImg),
		Content:     content,
		EditedAt:    time.Now(),
	})

	state, _ := ctrl.State()
	return map[string]any{"state": string(state)}, nil
}

// DraftState reports the autosave lifecycle of one draft.
func (s *Service) DraftState(ctx context.Context, statementID string, version int) (map[string]any, error) {
	draft, err := s.store.GetDraft(ctx, statementID, version)
	if err != nil {
		return nil, err
	}

	s.editorMu.Lock()
	ctrl := s.editors[draft.ID]
	s.editorMu.Unlock()

	if ctrl == nil {
		return map[string]any{"state": string(autosave.StateClean)}, nil
	}
	state, lastErr := ctrl.State()
	payload := map[string]any{"state": string(state)}
	if lastErr != nil {
		payload["error"] = lastErr.Error()
	}
	return payload, nil
}

// SaveDraftNow flushes the pending snapshot synchronously.
func (s *Service) SaveDraftNow(ctx context.Context, session Session, statementID string, version int) (map[string]any, error) {
	if _, err := s.requireCreator(ctx, session, statementID); err != nil {
		return nil, err
	}
	draft, err := s.store.GetDraft(ctx, statementID, version)
	if err != nil {
		return nil, err
	}

	if err := s.flushEditor(ctx, draft.ID); err != nil {
		return nil, persistenceFailure("Autosave could not persist the draft")
	}
	return map[string]any{"state": string(autosave.StateClean)}, nil
}

// SaveAsNewVersion freezes the latest draft content into version max+1. The
// new version starts unpublished regardless of the source version's state.
func (s *Service) SaveAsNewVersion(ctx context.Context, session Session, statementID string) (map[string]any, error) {
	if !s.Can(session.Role, rbac.ActionWrite) {
		return nil, permissionDenied("Forbidden")
	}
	statement, err := s.requireCreator(ctx, session, statementID)
	if err != nil {
		return nil, err
	}

	latest, err := s.store.LatestDraft(ctx, statementID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, notFound("Statement has no drafts")
		}
		return nil, err
	}
	if err := s.flushEditor(ctx, latest.ID); err != nil {
		return nil, persistenceFailure("Autosave could not persist the draft")
	}
	// Re-read: the flush may have advanced stored content.
	latest, err = s.store.GetDraftByID(ctx, latest.ID)
	if err != nil {
		return nil, err
	}

	maxVersion, err := s.store.MaxVersionNumber(ctx, statementID)
	if err != nil {
		return nil, err
	}
	// Saving twice without edits would freeze an identical copy.
	if maxVersion > 1 {
		if previous, err := s.store.GetDraft(ctx, statementID, maxVersion-1); err == nil &&
			previous.Title == latest.Title &&
			previous.Subtitle == latest.Subtitle &&
			previous.HeaderImg == latest.HeaderImg &&
			previous.Content == latest.Content {
			return nil, validationError("no changes since the last version", nil)
		}
	}
	next := store.Draft{
		ID:            util.NewID("drf"),
		StatementID:   statementID,
		VersionNumber: maxVersion + 1,
		Title:         latest.Title,
		Subtitle:      latest.Subtitle,
		HeaderImg:     latest.HeaderImg,
		Content:       latest.Content,
		CreatorID:     statement.CreatorID,
	}
	if err := s.store.InsertDraft(ctx, next); err != nil {
		return nil, persistenceFailure("Could not create the new version")
	}

	if _, err := s.archive.Commit(statementID, archiveSnapshot(next), session.UserName,
		fmt.Sprintf("save version %d", next.VersionNumber)); err != nil {
		return nil, persistenceFailure("Could not archive the new version")
	}
	if err := s.archive.TagVersion(statementID, next.VersionNumber); err != nil {
		return nil, persistenceFailure("Could not tag the new version")
	}

	s.indexDraft(statementID, next)
	return draftPayload(next), nil
}

// SetPublished flips the publish flag of exactly one version. Versions
// publish and unpublish independently of each other.
func (s *Service) SetPublished(ctx context.Context, session Session, statementID string, version int, publish bool) (map[string]any, error) {
	if !s.Can(session.Role, rbac.ActionPublish) {
		return nil, permissionDenied("Forbidden")
	}
	if _, err := s.requireCreator(ctx, session, statementID); err != nil {
		return nil, err
	}
	draft, err := s.store.GetDraft(ctx, statementID, version)
	if err != nil {
		return nil, err
	}

	var publishedAt *time.Time
	if publish {
		now := time.Now()
		publishedAt = &now
	}
	if err := s.store.SetPublishedAt(ctx, statementID, version, publishedAt); err != nil {
		return nil, persistenceFailure("Could not update the publish state")
	}

	s.views.Delete(statementID)
	draft.PublishedAt = publishedAt
	s.indexDraft(statementID, draft)

	return map[string]any{
		"statementId": statementID,
		"version":     version,
		"publishedAt": publishedAt,
	}, nil
}

// PublishedView renders the reader-facing page model for the current
// published version. Responses are cached briefly; publish, unpublish and
// saves of a published draft invalidate the entry.
func (s *Service) PublishedView(ctx context.Context, statementID string) (map[string]any, error) {
	if cached, ok := s.views.Get(statementID); ok {
		return cached.(map[string]any), nil
	}

	draft, err := s.store.CurrentPublishedDraft(ctx, statementID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, notFound("Statement has no published version")
		}
		return nil, err
	}
	registry, err := s.store.ListCitations(ctx, statementID)
	if err != nil {
		return nil, err
	}

	tree := doc.Parse(draft.Content)
	numbers := cite.Numbers(tree)
	footnotes := make([]map[string]any, 0)
	for _, fn := range cite.Footnotes(tree, registry) {
		footnotes = append(footnotes, map[string]any{
			"number":     fn.Number,
			"citationId": fn.Citation.ID,
			"text":       fn.Text,
		})
	}

	payload := map[string]any{
		"statementId": statementID,
		"version":     draft.VersionNumber,
		"title":       draft.Title,
		"subtitle":    draft.Subtitle,
		"headerImg":   draft.HeaderImg,
		"publishedAt": draft.PublishedAt,
		"html":        export.RenderDisplayHTML(tree, numbers),
		"footnotes":   footnotes,
	}
	s.views.SetDefault(statementID, payload)
	return payload, nil
}

func (s *Service) History(ctx context.Context, statementID string, limit int) (map[string]any, error) {
	if _, err := s.store.GetStatement(ctx, statementID); err != nil {
		return nil, err
	}
	commits, err := s.archive.History(statementID, limit)
	if err != nil {
		return nil, persistenceFailure("Could not read the statement archive")
	}

	items := make([]map[string]any, 0, len(commits))
	for _, commit := range commits {
		items = append(items, map[string]any{
			"hash":      commit.Hash,
			"message":   commit.Message,
			"author":    commit.Author,
			"createdAt": commit.CreatedAt,
		})
	}
	return map[string]any{"commits": items}, nil
}

func (s *Service) CompareVersions(ctx context.Context, statementID, fromRef, toRef string) (map[string]any, error) {
	if fromRef == "" || toRef == "" {
		return nil, validationError("from and to are required", nil)
	}
	if _, err := s.store.GetStatement(ctx, statementID); err != nil {
		return nil, err
	}

	changes, err := s.archive.Compare(statementID, fromRef, toRef)
	if err != nil {
		return nil, notFound("Unknown archive reference")
	}
	items := make([]map[string]any, 0, len(changes))
	for _, change := range changes {
		items = append(items, map[string]any{
			"field":  change.Field,
			"before": change.Before,
			"after":  change.After,
		})
	}
	return map[string]any{"from": fromRef, "to": toRef, "changes": items}, nil
}

func (s *Service) VersionByRef(ctx context.Context, statementID, ref string) (map[string]any, error) {
	if _, err := s.store.GetStatement(ctx, statementID); err != nil {
		return nil, err
	}
	snap, commit, err := s.archive.GetByRef(statementID, ref)
	if err != nil {
		return nil, notFound("Unknown archive reference")
	}
	return map[string]any{
		"ref":       ref,
		"hash":      commit.Hash,
		"author":    commit.Author,
		"createdAt": commit.CreatedAt,
		"title":     snap.Title,
		"subtitle":  snap.Subtitle,
		"headerImg": snap.HeaderImg,
		"version":   snap.Version,
		"content":   snap.Content,
	}, nil
}

// editorFor returns the draft's autosave controller, creating it on first
// edit.
func (s *Service) editorFor(draft store.Draft) *autosave.Controller {
	s.editorMu.Lock()
	defer s.editorMu.Unlock()

	if ctrl, ok := s.editors[draft.ID]; ok {
		return ctrl
	}
	ctrl := autosave.NewController(snapshotSaver{svc: s}, s.cfg.AutosaveWindow)
	s.editors[draft.ID] = ctrl
	return ctrl
}

func (s *Service) flushEditor(ctx context.Context, draftID string) error {
	s.editorMu.Lock()
	ctrl := s.editors[draftID]
	s.editorMu.Unlock()
	if ctrl == nil {
		return nil
	}
	return ctrl.Flush(ctx)
}

type snapshotSaver struct {
	svc *Service
}

func (p snapshotSaver) SaveDraft(ctx context.Context, snap autosave.Snapshot) error {
	return p.svc.persistSnapshot(ctx, snap)
}

// persistSnapshot is the single write path for draft content: it updates the
// row, prunes citations the edit stopped referencing, records an archive
// commit and refreshes the search index.
func (s *Service) persistSnapshot(ctx context.Context, snap autosave.Snapshot) error {
	previous, err := s.store.GetDraftByID(ctx, snap.DraftID)
	if err != nil {
		return err
	}

	if err := s.store.UpdateDraft(ctx, snap.DraftID, snap.Title, snap.Subtitle, snap.HeaderImg, snap.Content); err != nil {
		return err
	}

	before := cite.ReferencedIDs(doc.Parse(previous.Content))
	after := cite.ReferencedIDs(doc.Parse(snap.Content))
	for _, citationID := range cite.Removed(before, after) {
		if s.citationStillReferenced(ctx, snap.StatementID, snap.DraftID, citationID) {
			continue
		}
		_ = s.store.DeleteCitation(ctx, citationID)
	}

	author := s.draftAuthorName(ctx, previous.CreatorID)
	if _, err := s.archive.Commit(snap.StatementID, archive.Snapshot{
		Title:     snap.Title,
		Subtitle:  snap.Subtitle,
		HeaderImg: snap.HeaderImg,
		Version:   snap.Version,
		Content:   snap.Content,
	}, author, fmt.Sprintf("autosave v%d", snap.Version)); err != nil {
		return err
	}

	if previous.PublishedAt != nil {
		s.views.Delete(snap.StatementID)
	}

	updated := previous
	updated.Title = snap.Title
	updated.Subtitle = snap.Subtitle
	updated.HeaderImg = snap.HeaderImg
	updated.Content = snap.Content
	s.indexDraft(snap.StatementID, updated)
	return nil
}

// citationStillReferenced checks the statement's other drafts before a
// set-diff prune deletes a registry row.
func (s *Service) citationStillReferenced(ctx context.Context, statementID, editedDraftID, citationID string) bool {
	drafts, err := s.store.ListDrafts(ctx, statementID)
	if err != nil {
		return true
	}
	for _, draft := range drafts {
		if draft.ID == editedDraftID {
			continue
		}
		if _, ok := cite.ReferencedIDs(doc.Parse(draft.Content))[citationID]; ok {
			return true
		}
	}
	return false
}

func (s *Service) draftAuthorName(ctx context.Context, creatorID string) string {
	user, err := s.store.GetUserByID(ctx, creatorID)
	if err != nil || user.DisplayName == "" {
		return "marginalia"
	}
	return user.DisplayName
}

// indexDraft updates the statement's search document when the given draft
// is the latest version.
func (s *Service) indexDraft(statementID string, draft store.Draft) {
	if s.search == nil {
		return
	}
	maxVersion, err := s.store.MaxVersionNumber(context.Background(), statementID)
	if err == nil && draft.VersionNumber < maxVersion {
		return
	}
	s.search.IndexStatement(search.StatementRecord{
		ID:        statementID,
		Title:     draft.Title,
		Subtitle:  draft.Subtitle,
		Body:      doc.PlainText(doc.Parse(draft.Content)),
		Published: draft.PublishedAt != nil,
	})
}

func archiveSnapshot(draft store.Draft) archive.Snapshot {
	return archive.Snapshot{
		Title:     draft.Title,
		Subtitle:  draft.Subtitle,
		HeaderImg: draft.HeaderImg,
		Version:   draft.VersionNumber,
		Content:   draft.Content,
	}
}

func draftPayload(draft store.Draft) map[string]any {
	return map[string]any{
		"id":          draft.ID,
		"statementId": draft.StatementID,
		"version":     draft.VersionNumber,
		"title":       draft.Title,
		"subtitle":    draft.Subtitle,
		"headerImg":   draft.HeaderImg,
		"content":     draft.Content,
		"publishedAt": draft.PublishedAt,
		"updatedAt":   draft.UpdatedAt,
	}
}
