package export

import (
	"context"
	"fmt"
	"html/template"

	"marginalia/api/internal/cite"
	"marginalia/api/internal/doc"
	"marginalia/api/internal/store"
	"marginalia/api/internal/thread"
)

// DataStore is the slice of storage export needs.
type DataStore interface {
	GetStatement(ctx context.Context, statementID string) (store.Statement, error)
	GetDraft(ctx context.Context, statementID string, versionNumber int) (store.Draft, error)
	CurrentPublishedDraft(ctx context.Context, statementID string) (store.Draft, error)
	GetUserByID(ctx context.Context, userID string) (store.User, error)
	ListCitations(ctx context.Context, statementID string) ([]store.Citation, error)
	ListAnnotations(ctx context.Context, draftID string) ([]store.Annotation, error)
	ListComments(ctx context.Context, annotationID string) ([]store.Comment, error)
}

type Service struct {
	store      DataStore
	pandocPath string
}

func NewService(store DataStore, pandocPath string) *Service {
	if pandocPath == "" {
		pandocPath = "pandoc"
	}
	return &Service{store: store, pandocPath: pandocPath}
}

// Export renders the requested draft and converts it to the target format.
func (s *Service) Export(ctx context.Context, req Request) (*Result, error) {
	statement, err := s.store.GetStatement(ctx, req.StatementID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrContentUnavailable, err)
	}

	var draft store.Draft
	if req.Version > 0 {
		draft, err = s.store.GetDraft(ctx, req.StatementID, req.Version)
	} else {
		draft, err = s.store.CurrentPublishedDraft(ctx, req.StatementID)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrContentUnavailable, err)
	}

	author := "Unknown"
	if user, err := s.store.GetUserByID(ctx, statement.CreatorID); err == nil {
		author = user.DisplayName
	}

	tree := doc.Parse(draft.Content)
	numbers := cite.Numbers(tree)

	registry, err := s.store.ListCitations(ctx, req.StatementID)
	if err != nil {
		return nil, fmt.Errorf("list citations: %w", err)
	}

	data := TemplateData{
		Title:       draft.Title,
		Subtitle:    draft.Subtitle,
		Author:      author,
		Version:     draft.VersionNumber,
		PublishedAt: draft.PublishedAt,
		ContentHTML: template.HTML(RenderDisplayHTML(tree, numbers)),
	}
	for _, note := range cite.Footnotes(tree, registry) {
		data.Footnotes = append(data.Footnotes, TemplateFootnote{Number: note.Number, Text: note.Text})
	}

	if req.IncludeComments {
		comments, err := s.loadComments(ctx, draft.ID)
		if err != nil {
			return nil, err
		}
		data.Comments = comments
	}

	page, err := RenderPage(data)
	if err != nil {
		return nil, fmt.Errorf("render page: %w", err)
	}

	switch req.Format {
	case FormatPDF:
		return exportPDF(page, draft.Title)
	case FormatDOCX:
		return exportDOCX(s.pandocPath, page, draft.Title)
	default:
		return nil, fmt.Errorf("unsupported format: %s", req.Format)
	}
}

func (s *Service) loadComments(ctx context.Context, draftID string) ([]TemplateComment, error) {
	annotations, err := s.store.ListAnnotations(ctx, draftID)
	if err != nil {
		return nil, fmt.Errorf("list annotations: %w", err)
	}

	var out []TemplateComment
	for _, annotation := range annotations {
		rows, err := s.store.ListComments(ctx, annotation.ID)
		if err != nil {
			return nil, fmt.Errorf("list comments: %w", err)
		}
		for _, root := range thread.Build(rows) {
			item := TemplateComment{
				Excerpt: annotation.Excerpt,
				Author:  root.Comment.AuthorName,
				Body:    root.Comment.Content,
			}
			appendReplies(&item, root.Replies)
			out = append(out, item)
		}
	}
	return out, nil
}

// appendReplies flattens the reply subtree; print output keeps one level of
// indentation regardless of depth.
func appendReplies(item *TemplateComment, replies []*thread.Node) {
	for _, reply := range replies {
		item.Replies = append(item.Replies, TemplateReply{
			Author: reply.Comment.AuthorName,
			Body:   reply.Comment.Content,
		})
		appendReplies(item, reply.Replies)
	}
}
