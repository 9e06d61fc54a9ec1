package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"marginalia/api/internal/annotate"
	"marginalia/api/internal/autosave"
	"marginalia/api/internal/cite"
	"marginalia/api/internal/doc"
	"marginalia/api/internal/rbac"
	"marginalia/api/internal/search"
	"marginalia/api/internal/store"
	"marginalia/api/internal/thread"
	"marginalia/api/internal/util"
)

type CitationInput struct {
	Title            string `json:"title"`
	AuthorNames      string `json:"authorNames"`
	URL              string `json:"url"`
	Year             int    `json:"year"`
	Month            int    `json:"month"`
	Day              int    `json:"day"`
	Issue            string `json:"issue"`
	Volume           string `json:"volume"`
	PageStart        int    `json:"pageStart"`
	PageEnd          int    `json:"pageEnd"`
	Publisher        string `json:"publisher"`
	TitlePublication string `json:"titlePublication"`
}

// CreateAnnotation anchors a note to [start, end) of the draft's plain-text
// projection and embeds the mark into the content, which is authoritative
// from then on.
func (s *Service) CreateAnnotation(ctx context.Context, session Session, statementID string, version, start, end int) (map[string]any, error) {
	if !s.Can(session.Role, rbac.ActionAnnotate) {
		return nil, permissionDenied("Forbidden")
	}
	statement, err := s.store.GetStatement(ctx, statementID)
	if err != nil {
		return nil, err
	}
	draft, err := s.store.GetDraft(ctx, statementID, version)
	if err != nil {
		return nil, err
	}
	// Offsets refer to the saved content, so settle any pending autosave
	// before anchoring.
	if err := s.flushEditor(ctx, draft.ID); err != nil {
		return nil, persistenceFailure("Autosave could not persist the draft")
	}
	draft, err = s.store.GetDraftByID(ctx, draft.ID)
	if err != nil {
		return nil, err
	}

	anchor := annotate.Anchor{
		ID:        util.NewID("ann"),
		UserID:    session.UserID,
		IsAuthor:  session.UserID == statement.CreatorID,
		CreatedAt: time.Now(),
	}
	tree, excerpt, err := annotate.Apply(doc.Parse(draft.Content), start, end, anchor)
	if err != nil {
		if errors.Is(err, annotate.ErrInvalidRange) {
			return nil, validationError(err.Error(), map[string]any{"start": start, "end": end})
		}
		return nil, err
	}

	if err := s.persistSnapshot(ctx, contentSnapshot(draft, doc.Serialize(tree))); err != nil {
		return nil, persistenceFailure("Could not save the annotated draft")
	}

	annotation := store.Annotation{
		ID:          anchor.ID,
		DraftID:     draft.ID,
		UserID:      session.UserID,
		StartOffset: start,
		EndOffset:   end,
		Excerpt:     excerpt,
	}
	if err := s.store.InsertAnnotation(ctx, annotation); err != nil {
		return nil, persistenceFailure("Could not save the annotation")
	}

	if s.search != nil {
		s.search.IndexAnnotation(search.AnnotationRecord{
			ID:          annotation.ID,
			Excerpt:     excerpt,
			StatementID: statementID,
			DraftID:     draft.ID,
			UserName:    session.UserName,
		})
	}

	return map[string]any{
		"id":       annotation.ID,
		"draftId":  draft.ID,
		"userId":   session.UserID,
		"isAuthor": anchor.IsAuthor,
		"start":    start,
		"end":      end,
		"excerpt":  excerpt,
	}, nil
}

// ListDraftAnnotations resolves every stored annotation against the current
// content. Marks win over stored offsets; annotations whose marks were
// edited away resolve as absent.
func (s *Service) ListDraftAnnotations(ctx context.Context, statementID string, version int) (map[string]any, error) {
	statement, err := s.store.GetStatement(ctx, statementID)
	if err != nil {
		return nil, err
	}
	draft, err := s.store.GetDraft(ctx, statementID, version)
	if err != nil {
		return nil, err
	}
	rows, err := s.store.ListAnnotations(ctx, draft.ID)
	if err != nil {
		return nil, err
	}

	tree := doc.Parse(draft.Content)
	author := make([]map[string]any, 0)
	readers := make([]map[string]any, 0)
	for _, row := range rows {
		item := map[string]any{
			"id":        row.ID,
			"userId":    row.UserID,
			"excerpt":   row.Excerpt,
			"createdAt": row.CreatedAt,
		}
		ranges := annotate.Locate(tree, row.ID)
		if len(ranges) > 0 {
			item["start"] = ranges[0].Start
			item["end"] = ranges[len(ranges)-1].End
			item["present"] = true
		} else {
			item["start"] = row.StartOffset
			item["end"] = row.EndOffset
			item["present"] = false
		}
		if annotate.IsAuthor(row.UserID, statement.CreatorID) {
			author = append(author, item)
		} else {
			readers = append(readers, item)
		}
	}
	return map[string]any{"author": author, "readers": readers}, nil
}

// DeleteAnnotation removes the annotation row and sweeps every instance of
// its mark out of the draft content.
func (s *Service) DeleteAnnotation(ctx context.Context, session Session, statementID string, version int, annotationID string) error {
	statement, err := s.store.GetStatement(ctx, statementID)
	if err != nil {
		return err
	}
	annotation, err := s.store.GetAnnotation(ctx, annotationID)
	if err != nil {
		return err
	}
	owner := annotation.UserID == session.UserID
	creator := statement.CreatorID == session.UserID
	if !owner && !creator && !s.Can(session.Role, rbac.ActionAdmin) {
		return permissionDenied("Only the annotation owner or statement creator can delete it")
	}

	draft, err := s.store.GetDraft(ctx, statementID, version)
	if err != nil {
		return err
	}
	if err := s.flushEditor(ctx, draft.ID); err != nil {
		return persistenceFailure("Autosave could not persist the draft")
	}
	draft, err = s.store.GetDraftByID(ctx, draft.ID)
	if err != nil {
		return err
	}

	tree, removed := annotate.Strip(doc.Parse(draft.Content), annotationID)
	if removed > 0 {
		if err := s.persistSnapshot(ctx, contentSnapshot(draft, doc.Serialize(tree))); err != nil {
			return persistenceFailure("Could not save the draft")
		}
	}

	comments, err := s.store.ListComments(ctx, annotationID)
	if err == nil && s.search != nil {
		for _, comment := range comments {
			s.search.DeleteComment(comment.ID)
		}
	}
	if err := s.store.DeleteAnnotation(ctx, annotationID); err != nil {
		return persistenceFailure("Could not delete the annotation")
	}
	if s.search != nil {
		s.search.DeleteAnnotation(annotationID)
	}
	return nil
}

// CreateComment appends one reply to an annotation's thread. A parent that
// does not exist, or that belongs to another annotation, degrades the reply
// to a root comment rather than rejecting it.
func (s *Service) CreateComment(ctx context.Context, session Session, annotationID, parentID, content string) (map[string]any, error) {
	if !s.Can(session.Role, rbac.ActionComment) {
		return nil, permissionDenied("Forbidden")
	}
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, validationError("content is required", nil)
	}
	annotation, err := s.store.GetAnnotation(ctx, annotationID)
	if err != nil {
		return nil, err
	}

	if parentID != "" {
		parent, err := s.store.GetComment(ctx, parentID)
		if err != nil || parent.AnnotationID != annotationID {
			parentID = ""
		}
	}

	comment := store.Comment{
		ID:           util.NewID("cmt"),
		AnnotationID: annotationID,
		ParentID:     parentID,
		UserID:       session.UserID,
		Content:      content,
	}
	if err := s.store.InsertComment(ctx, comment); err != nil {
		return nil, persistenceFailure("Could not save the comment")
	}

	if s.search != nil {
		draft, derr := s.store.GetDraftByID(ctx, annotation.DraftID)
		statementID := ""
		if derr == nil {
			statementID = draft.StatementID
		}
		s.search.IndexComment(search.CommentRecord{
			ID:           comment.ID,
			Body:         content,
			StatementID:  statementID,
			AnnotationID: annotationID,
			UserName:     session.UserName,
		})
	}

	return map[string]any{
		"id":           comment.ID,
		"annotationId": annotationID,
		"parentId":     parentID,
		"userId":       session.UserID,
		"content":      content,
	}, nil
}

// AnnotationThread returns the annotation's comments as a nested tree.
func (s *Service) AnnotationThread(ctx context.Context, annotationID string) (map[string]any, error) {
	if _, err := s.store.GetAnnotation(ctx, annotationID); err != nil {
		return nil, err
	}
	comments, err := s.store.ListComments(ctx, annotationID)
	if err != nil {
		return nil, err
	}
	roots := thread.Build(comments)
	payload := map[string]any{
		"annotationId": annotationID,
		"count":        len(comments),
		"comments":     threadPayload(roots),
	}
	if canonical := thread.CanonicalRoot(roots); canonical != nil {
		payload["canonicalRootId"] = canonical.Comment.ID
	}
	return payload, nil
}

func threadPayload(nodes []*thread.Node) []map[string]any {
	items := make([]map[string]any, 0, len(nodes))
	for _, node := range nodes {
		items = append(items, map[string]any{
			"id":         node.Comment.ID,
			"userId":     node.Comment.UserID,
			"authorName": node.Comment.AuthorName,
			"content":    node.Comment.Content,
			"createdAt":  node.Comment.CreatedAt,
			"replies":    threadPayload(node.Replies),
		})
	}
	return items
}

// CreateCitation registers bibliographic metadata and, when a version and
// selection are given, embeds the reference node at that position.
func (s *Service) CreateCitation(ctx context.Context, session Session, statementID string, version, start, end int, input CitationInput) (map[string]any, error) {
	if !s.Can(session.Role, rbac.ActionWrite) {
		return nil, permissionDenied("Forbidden")
	}
	if _, err := s.requireCreator(ctx, session, statementID); err != nil {
		return nil, err
	}
	if strings.TrimSpace(input.Title) == "" {
		return nil, validationError("title is required", nil)
	}

	citation := store.Citation{
		ID:               util.NewID("cit"),
		StatementID:      statementID,
		Title:            strings.TrimSpace(input.Title),
		AuthorNames:      strings.TrimSpace(input.AuthorNames),
		URL:              strings.TrimSpace(input.URL),
		Year:             input.Year,
		Month:            input.Month,
		Day:              input.Day,
		Issue:            input.Issue,
		Volume:           input.Volume,
		PageStart:        input.PageStart,
		PageEnd:          input.PageEnd,
		Publisher:        input.Publisher,
		TitlePublication: input.TitlePublication,
	}
	if err := s.store.InsertCitation(ctx, citation); err != nil {
		return nil, persistenceFailure("Could not save the citation")
	}

	payload := map[string]any{"id": citation.ID, "statementId": statementID, "title": citation.Title}
	if version <= 0 {
		return payload, nil
	}

	draft, err := s.store.GetDraft(ctx, statementID, version)
	if err != nil {
		return nil, err
	}
	if err := s.flushEditor(ctx, draft.ID); err != nil {
		return nil, persistenceFailure("Autosave could not persist the draft")
	}
	draft, err = s.store.GetDraftByID(ctx, draft.ID)
	if err != nil {
		return nil, err
	}

	tree, err := cite.InsertNode(doc.Parse(draft.Content), start, end, citation.ID)
	if err != nil {
		if errors.Is(err, cite.ErrInvalidSelection) {
			return nil, validationError(err.Error(), map[string]any{"start": start, "end": end})
		}
		return nil, err
	}
	if err := s.persistSnapshot(ctx, contentSnapshot(draft, doc.Serialize(tree))); err != nil {
		return nil, persistenceFailure("Could not save the draft")
	}

	payload["number"] = cite.Numbers(tree)[citation.ID]
	return payload, nil
}

func (s *Service) UpdateCitation(ctx context.Context, session Session, statementID, citationID string, input CitationInput) (map[string]any, error) {
	if _, err := s.requireCreator(ctx, session, statementID); err != nil {
		return nil, err
	}
	citation, err := s.store.GetCitation(ctx, citationID)
	if err != nil {
		return nil, err
	}
	if citation.StatementID != statementID {
		return nil, notFound("Citation does not belong to this statement")
	}
	if strings.TrimSpace(input.Title) == "" {
		return nil, validationError("title is required", nil)
	}

	citation.Title = strings.TrimSpace(input.Title)
	citation.AuthorNames = strings.TrimSpace(input.AuthorNames)
	citation.URL = strings.TrimSpace(input.URL)
	citation.Year = input.Year
	citation.Month = input.Month
	citation.Day = input.Day
	citation.Issue = input.Issue
	citation.Volume = input.Volume
	citation.PageStart = input.PageStart
	citation.PageEnd = input.PageEnd
	citation.Publisher = input.Publisher
	citation.TitlePublication = input.TitlePublication

	if err := s.store.UpdateCitation(ctx, citation); err != nil {
		return nil, persistenceFailure("Could not update the citation")
	}
	s.views.Delete(statementID)
	return map[string]any{"id": citation.ID, "title": citation.Title}, nil
}

// DeleteCitation removes the registry entry and cascade-removes every node
// still referencing it from the statement's drafts, so no version renders a
// dangling reference.
func (s *Service) DeleteCitation(ctx context.Context, session Session, statementID, citationID string) error {
	if _, err := s.requireCreator(ctx, session, statementID); err != nil {
		return err
	}
	citation, err := s.store.GetCitation(ctx, citationID)
	if err != nil {
		return err
	}
	if citation.StatementID != statementID {
		return notFound("Citation does not belong to this statement")
	}

	drafts, err := s.store.ListDrafts(ctx, statementID)
	if err != nil {
		return err
	}
	for _, draft := range drafts {
		if err := s.flushEditor(ctx, draft.ID); err != nil {
			return persistenceFailure("Autosave could not persist the draft")
		}
		draft, err = s.store.GetDraftByID(ctx, draft.ID)
		if err != nil {
			return err
		}
		tree, removed := cite.RemoveNodes(doc.Parse(draft.Content), citationID)
		if removed == 0 {
			continue
		}
		content := doc.Serialize(tree)
		if err := s.store.UpdateDraft(ctx, draft.ID, draft.Title, draft.Subtitle, draft.HeaderImg, content); err != nil {
			return persistenceFailure("Could not save the draft")
		}
		if _, err := s.archive.Commit(statementID, archiveSnapshot(withContent(draft, content)), session.UserName,
			fmt.Sprintf("remove citation v%d", draft.VersionNumber)); err != nil {
			return persistenceFailure("Could not archive the draft")
		}
	}

	if err := s.store.DeleteCitation(ctx, citationID); err != nil {
		return persistenceFailure("Could not delete the citation")
	}
	s.views.Delete(statementID)
	return nil
}

// ListStatementCitations returns the registry with document-order numbering
// and formatted footnotes for the requested version.
func (s *Service) ListStatementCitations(ctx context.Context, statementID string, version int) (map[string]any, error) {
	if _, err := s.store.GetStatement(ctx, statementID); err != nil {
		return nil, err
	}
	registry, err := s.store.ListCitations(ctx, statementID)
	if err != nil {
		return nil, err
	}

	items := make([]map[string]any, 0, len(registry))
	payload := map[string]any{}
	if version > 0 {
		draft, err := s.store.GetDraft(ctx, statementID, version)
		if err != nil {
			return nil, err
		}
		tree := doc.Parse(draft.Content)
		numbers := cite.Numbers(tree)
		for _, citation := range registry {
			item := citationPayload(citation)
			if number, ok := numbers[citation.ID]; ok {
				item["number"] = number
			}
			items = append(items, item)
		}
		footnotes := make([]map[string]any, 0)
		for _, fn := range cite.Footnotes(tree, registry) {
			footnotes = append(footnotes, map[string]any{
				"number":     fn.Number,
				"citationId": fn.Citation.ID,
				"text":       fn.Text,
			})
		}
		payload["footnotes"] = footnotes
	} else {
		for _, citation := range registry {
			items = append(items, citationPayload(citation))
		}
	}
	payload["citations"] = items
	return payload, nil
}

func citationPayload(c store.Citation) map[string]any {
	return map[string]any{
		"id":               c.ID,
		"title":            c.Title,
		"authorNames":      c.AuthorNames,
		"url":              c.URL,
		"year":             c.Year,
		"month":            c.Month,
		"day":              c.Day,
		"issue":            c.Issue,
		"volume":           c.Volume,
		"pageStart":        c.PageStart,
		"pageEnd":          c.PageEnd,
		"publisher":        c.Publisher,
		"titlePublication": c.TitlePublication,
	}
}

func withContent(draft store.Draft, content string) store.Draft {
	draft.Content = content
	return draft
}

func contentSnapshot(draft store.Draft, content string) autosave.Snapshot {
	return autosave.Snapshot{
		DraftID:     draft.ID,
		StatementID: draft.StatementID,
		Version:     draft.VersionNumber,
		Title:       draft.Title,
		Subtitle:    draft.Subtitle,
		HeaderImg:   draft.HeaderImg,
		Content:     content,
		EditedAt:    time.Now(),
	}
}
