package app

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"

	"marginalia/api/internal/archive"
	"marginalia/api/internal/auth"
	"marginalia/api/internal/authpw"
	"marginalia/api/internal/autosave"
	"marginalia/api/internal/config"
	"marginalia/api/internal/email"
	"marginalia/api/internal/export"
	"marginalia/api/internal/media"
	"marginalia/api/internal/rbac"
	"marginalia/api/internal/search"
	"marginalia/api/internal/store"
	"marginalia/api/internal/util"
)

type Session struct {
	Token        string
	RefreshToken string
	UserID       string
	UserName     string
	Role         string
	JTI          string
	ExpiresAt    time.Time
}

// dataStore is the storage surface the service depends on. PostgresStore
// implements it; tests substitute a fake.
type dataStore interface {
	Ping(ctx context.Context) error

	GetUserByID(context.Context, string) (store.User, error)
	RevokeAccessToken(context.Context, string, time.Time) error
	IsAccessTokenRevoked(context.Context, string) (bool, error)

	CreateStatement(context.Context, store.Statement) error
	GetStatement(context.Context, string) (store.Statement, error)
	ListStatements(context.Context) ([]store.Statement, error)

	InsertDraft(context.Context, store.Draft) error
	UpdateDraft(ctx context.Context, draftID, title, subtitle, headerImg, content string) error
	GetDraftByID(context.Context, string) (store.Draft, error)
	GetDraft(ctx context.Context, statementID string, versionNumber int) (store.Draft, error)
	LatestDraft(context.Context, string) (store.Draft, error)
	CurrentPublishedDraft(context.Context, string) (store.Draft, error)
	ListDrafts(context.Context, string) ([]store.Draft, error)
	MaxVersionNumber(context.Context, string) (int, error)
	SetPublishedAt(ctx context.Context, statementID string, versionNumber int, publishedAt *time.Time) error

	InsertAnnotation(context.Context, store.Annotation) error
	GetAnnotation(context.Context, string) (store.Annotation, error)
	ListAnnotations(context.Context, string) ([]store.Annotation, error)
	DeleteAnnotation(context.Context, string) error

	InsertComment(context.Context, store.Comment) error
	GetComment(context.Context, string) (store.Comment, error)
	ListComments(context.Context, string) ([]store.Comment, error)
	ListCommentsForDraft(context.Context, string) ([]store.Comment, error)

	InsertCitation(context.Context, store.Citation) error
	UpdateCitation(context.Context, store.Citation) error
	DeleteCitation(context.Context, string) error
	GetCitation(context.Context, string) (store.Citation, error)
	ListCitations(context.Context, string) ([]store.Citation, error)
}

// sessionStore holds refresh sessions. Redis in production, Postgres as
// fallback when no Redis URL is configured.
type sessionStore interface {
	SaveRefreshSession(ctx context.Context, tokenHash string, user store.User, expiresAt time.Time) error
	LookupRefreshSession(ctx context.Context, tokenHash string) (store.User, error)
	RevokeRefreshSession(ctx context.Context, tokenHash string) error
}

type archiveStore interface {
	EnsureRepo(statementID string, initial archive.Snapshot, author string) error
	Commit(statementID string, snap archive.Snapshot, author, message string) (store.CommitInfo, error)
	TagVersion(statementID string, version int) error
	GetByRef(statementID, ref string) (archive.Snapshot, store.CommitInfo, error)
	History(statementID string, limit int) ([]store.CommitInfo, error)
	Compare(statementID, fromRef, toRef string) ([]archive.FieldChange, error)
}

type searchIndex interface {
	Search(search.Query) search.Response
	IndexStatement(search.StatementRecord)
	IndexAnnotation(search.AnnotationRecord)
	IndexComment(search.CommentRecord)
	DeleteStatement(string)
	DeleteAnnotation(string)
	DeleteComment(string)
}

type exporter interface {
	Export(ctx context.Context, req export.Request) (*export.Result, error)
}

type Service struct {
	cfg      config.Config
	store    dataStore
	sessions sessionStore
	archive  archiveStore
	search   searchIndex
	export   exporter
	email    *email.Service
	authpw   *authpw.Service
	media    *media.BlobStore

	// Rendered published views, keyed by statement id.
	views *cache.Cache

	editorMu sync.Mutex
	editors  map[string]*autosave.Controller
}

func New(
	cfg config.Config,
	dataStore *store.PostgresStore,
	sessions sessionStore,
	archiveSvc *archive.Service,
	searchSvc *search.Service,
	exportSvc *export.Service,
	emailSvc *email.Service,
	authSvc *authpw.Service,
	blobs *media.BlobStore,
) *Service {
	svc := &Service{
		cfg:      cfg,
		store:    dataStore,
		sessions: sessions,
		archive:  archiveSvc,
		email:    emailSvc,
		authpw:   authSvc,
		media:    blobs,
		views:    cache.New(2*time.Minute, 10*time.Minute),
		editors:  make(map[string]*autosave.Controller),
	}
	if searchSvc != nil {
		svc.search = searchSvc
	}
	if exportSvc != nil {
		svc.export = exportSvc
	}
	return svc
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *Service) Can(role string, action rbac.Action) bool {
	return rbac.Can(rbac.Normalize(role), action)
}

func (s *Service) AuthPasswordService() *authpw.Service {
	return s.authpw
}

func (s *Service) SMTPConfigured() bool {
	return s.email != nil && s.email.IsConfigured()
}

// Close flushes every live editor so pending snapshots are not lost on
// shutdown.
func (s *Service) Close(ctx context.Context) {
	s.editorMu.Lock()
	editors := make([]*autosave.Controller, 0, len(s.editors))
	for _, ctrl := range s.editors {
		editors = append(editors, ctrl)
	}
	s.editors = make(map[string]*autosave.Controller)
	s.editorMu.Unlock()

	for _, ctrl := range editors {
		_ = ctrl.Flush(ctx)
		ctrl.Close()
	}
}

func (s *Service) CreateSession(ctx context.Context, userID string) (Session, error) {
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	tokenHash := auth.HashToken(refreshToken)
	user, err := s.sessions.LookupRefreshSession(ctx, tokenHash)
	if err != nil {
		return Session{}, err
	}
	// Rotation: the presented token is spent whether or not issuing the
	// replacement succeeds.
	if err := s.sessions.RevokeRefreshSession(ctx, tokenHash); err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) issueSession(ctx context.Context, user store.User) (Session, error) {
	now := time.Now()
	expiresAt := now.Add(s.cfg.AccessTTL)
	jti := util.NewID("jti")

	token, err := auth.IssueToken([]byte(s.cfg.JWTSecret), auth.Claims{
		Sub:   user.ID,
		Name:  user.DisplayName,
		Email: user.Email,
		Role:  user.Role,
		JTI:   jti,
		Exp:   expiresAt.Unix(),
	})
	if err != nil {
		return Session{}, err
	}

	refresh, err := auth.NewRefreshToken()
	if err != nil {
		return Session{}, err
	}
	if err := s.sessions.SaveRefreshSession(ctx, auth.HashToken(refresh), user, now.Add(s.cfg.RefreshTTL)); err != nil {
		return Session{}, err
	}

	return Session{
		Token:        token,
		RefreshToken: refresh,
		UserID:       user.ID,
		UserName:     user.DisplayName,
		Role:         user.Role,
		JTI:          jti,
		ExpiresAt:    expiresAt,
	}, nil
}

func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return Session{}, err
	}
	revoked, err := s.store.IsAccessTokenRevoked(ctx, claims.JTI)
	if err != nil {
		return Session{}, err
	}
	if revoked {
		return Session{}, auth.ErrInvalidToken
	}

	user, err := s.store.GetUserByID(ctx, claims.Sub)
	if err != nil {
		return Session{}, err
	}

	return Session{
		Token:     token,
		UserID:    user.ID,
		UserName:  user.DisplayName,
		Role:      user.Role,
		JTI:       claims.JTI,
		ExpiresAt: time.Unix(claims.Exp, 0),
	}, nil
}

func (s *Service) Logout(ctx context.Context, session Session, refreshToken string) error {
	if session.JTI != "" {
		_ = s.store.RevokeAccessToken(ctx, session.JTI, session.ExpiresAt)
	}
	if refreshToken != "" {
		_ = s.sessions.RevokeRefreshSession(ctx, auth.HashToken(refreshToken))
	}
	return nil
}

// requireCreator loads the statement and enforces that only its creator (or
// an admin) may perform the mutation.
func (s *Service) requireCreator(ctx context.Context, session Session, statementID string) (store.Statement, error) {
	statement, err := s.store.GetStatement(ctx, statementID)
	if err != nil {
		return store.Statement{}, err
	}
	if statement.CreatorID != session.UserID && !s.Can(session.Role, rbac.ActionAdmin) {
		return store.Statement{}, permissionDenied("Only the statement creator can modify it")
	}
	return statement, nil
}

func (s *Service) Search(ctx context.Context, q, filterType, statementID string, limit, offset int) (map[string]any, error) {
	if q == "" {
		return nil, validationError("q is required", nil)
	}
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}

	if s.search == nil {
		return map[string]any{"results": []any{}, "total": 0}, nil
	}

	resp := s.search.Search(search.Query{
		Text:              q,
		FilterType:        search.ResultType(filterType),
		FilterStatementID: statementID,
		Limit:             limit,
		Offset:            offset,
	})

	results := make([]map[string]any, 0, len(resp.Results))
	for _, r := range resp.Results {
		results = append(results, map[string]any{
			"type":        string(r.Type),
			"id":          r.ID,
			"title":       r.Title,
			"snippet":     r.Snippet,
			"statementId": r.StatementID,
			"draftId":     r.DraftID,
		})
	}
	return map[string]any{
		"results": results,
		"total":   resp.Total,
		"query":   resp.Query,
	}, nil
}

func (s *Service) Export(ctx context.Context, session Session, req export.Request) (*export.Result, error) {
	if !s.Can(session.Role, rbac.ActionRead) {
		return nil, permissionDenied("Forbidden")
	}
	if s.export == nil {
		return nil, renderDegraded("Export is not configured")
	}
	result, err := s.export.Export(ctx, req)
	if err != nil {
		switch {
		case errors.Is(err, export.ErrContentUnavailable):
			return nil, notFound("Statement version not found")
		case errors.Is(err, export.ErrPDFDependencyMissing), errors.Is(err, export.ErrDOCXDependencyMissing):
			return nil, renderDegraded(err.Error())
		}
		return nil, err
	}
	return result, nil
}

func (s *Service) UploadHeaderImage(ctx context.Context, session Session, statementID, contentType string, body io.Reader, size int64) (map[string]any, error) {
	if !s.Can(session.Role, rbac.ActionWrite) {
		return nil, permissionDenied("Forbidden")
	}
	if _, err := s.requireCreator(ctx, session, statementID); err != nil {
		return nil, err
	}
	if s.media == nil {
		return nil, domainError(503, "MEDIA_UNAVAILABLE", "Object storage is not configured", nil)
	}

	key, err := s.media.PutHeaderImage(ctx, statementID, contentType, body, size)
	if err != nil {
		if errors.Is(err, media.ErrUnsupportedType) {
			return nil, validationError("unsupported image type", map[string]any{"contentType": contentType})
		}
		return nil, persistenceFailure("Could not store the image")
	}

	url, err := s.media.PresignedURL(ctx, key, 24*time.Hour)
	if err != nil {
		return nil, persistenceFailure("Could not sign the image URL")
	}
	return map[string]any{"key": key, "url": url}, nil
}
