package search

import (
	"context"

	"github.com/rs/zerolog"
)

// Service tries Meilisearch first and falls back to PostgreSQL FTS. Index
// writes are fire-and-forget: search lag is acceptable, a failed draft save
// is not.
type Service struct {
	meili *Meili
	pgfts *PgFTS
	log   zerolog.Logger
}

// NewService creates the facade. meili may be nil when not configured.
func NewService(meili *Meili, pgfts *PgFTS, log zerolog.Logger) *Service {
	return &Service{meili: meili, pgfts: pgfts, log: log}
}

func (s *Service) Search(q Query) Response {
	if s.meili != nil && s.meili.Healthy() {
		results, total, err := s.meili.Search(q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text}
		}
		s.log.Warn().Err(err).Msg("meilisearch failed, falling back to pgfts")
	}

	results, total, err := s.pgfts.Search(q)
	if err != nil {
		s.log.Error().Err(err).Msg("pgfts search failed")
		return Response{Results: []Result{}, Query: q.Text}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text}
}

func (s *Service) IndexStatement(record StatementRecord) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.IndexStatement(record); err != nil {
			s.log.Warn().Err(err).Str("statement_id", record.ID).Msg("index statement")
		}
	}()
}

func (s *Service) IndexAnnotation(record AnnotationRecord) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.IndexAnnotation(record); err != nil {
			s.log.Warn().Err(err).Str("annotation_id", record.ID).Msg("index annotation")
		}
	}()
}

func (s *Service) IndexComment(record CommentRecord) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.IndexComment(record); err != nil {
			s.log.Warn().Err(err).Str("comment_id", record.ID).Msg("index comment")
		}
	}()
}

func (s *Service) DeleteAnnotation(id string) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.DeleteAnnotation(id); err != nil {
			s.log.Warn().Err(err).Str("annotation_id", id).Msg("delete annotation from index")
		}
	}()
}

func (s *Service) DeleteComment(id string) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.DeleteComment(id); err != nil {
			s.log.Warn().Err(err).Str("comment_id", id).Msg("delete comment from index")
		}
	}()
}

func (s *Service) DeleteStatement(id string) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.DeleteStatement(id); err != nil {
			s.log.Warn().Err(err).Str("statement_id", id).Msg("delete statement from index")
		}
	}()
}

// ReindexAllFromPG seeds Meilisearch from PostgreSQL, called at startup.
func (s *Service) ReindexAllFromPG(ctx context.Context) {
	if s.meili == nil || !s.meili.Healthy() || s.pgfts == nil {
		return
	}
	statements, annotations, comments, err := s.pgfts.LoadAllRecords(ctx)
	if err != nil {
		s.log.Error().Err(err).Msg("reindex load failed")
		return
	}
	if err := s.meili.IndexStatements(statements); err != nil {
		s.log.Warn().Err(err).Msg("reindex statements")
	}
	if err := s.meili.IndexAnnotations(annotations); err != nil {
		s.log.Warn().Err(err).Msg("reindex annotations")
	}
	if err := s.meili.IndexComments(comments); err != nil {
		s.log.Warn().Err(err).Msg("reindex comments")
	}
}

func nonNil(results []Result) []Result {
	if results == nil {
		return []Result{}
	}
	return results
}
