package app

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"marginalia/api/internal/auth"
	"marginalia/api/internal/store"
	"marginalia/api/internal/util"
)

func testServer(t *testing.T, f *fakeStore) *HTTPServer {
	t.Helper()
	return NewHTTPServer(newTestService(f, &fakeArchive{}), "*", zerolog.Nop())
}

func issueTestToken(t *testing.T, userID string) string {
	t.Helper()
	token, err := auth.IssueToken([]byte("test-secret"), auth.Claims{
		Sub:  userID,
		Name: "Tester",
		Role: "author",
		JTI:  util.NewID("jti"),
		Exp:  time.Now().Add(time.Hour).Unix(),
	})
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	return token
}

func TestHealthEndpoint(t *testing.T) {
	server := testServer(t, &fakeStore{})
	recorder := httptest.NewRecorder()

	server.Handler().ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/api/health", nil))

	if recorder.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", recorder.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(recorder.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["ok"] != true {
		t.Fatalf("body = %v, want ok true", body)
	}
}

func TestStatementsRequireSession(t *testing.T) {
	server := testServer(t, &fakeStore{})
	recorder := httptest.NewRecorder()

	server.Handler().ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/api/statements", nil))

	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", recorder.Code)
	}
}

func TestPublishedViewIsPublic(t *testing.T) {
	now := time.Now()
	server := testServer(t, &fakeStore{
		currentPublishedFn: func(context.Context, string) (store.Draft, error) {
			return store.Draft{ID: "drf_1", StatementID: "stm_1", VersionNumber: 1, Title: "T",
				Content: "<p>published text</p>", PublishedAt: &now}, nil
		},
	})
	recorder := httptest.NewRecorder()

	// No Authorization header.
	server.Handler().ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/api/statements/stm_1/view", nil))

	if recorder.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body %s", recorder.Code, recorder.Body.String())
	}
	if !strings.Contains(recorder.Body.String(), "published text") {
		t.Fatalf("body %q is missing the rendered content", recorder.Body.String())
	}
}

func TestSearchRejectsEmptyQuery(t *testing.T) {
	server := testServer(t, &fakeStore{})
	token := issueTestToken(t, "usr_1")

	request := httptest.NewRequest(http.MethodGet, "/api/search?q=", nil)
	request.Header.Set("Authorization", "Bearer "+token)
	recorder := httptest.NewRecorder()

	server.Handler().ServeHTTP(recorder, request)

	if recorder.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422, body %s", recorder.Code, recorder.Body.String())
	}
}

func TestCreateStatementOverHTTP(t *testing.T) {
	var created store.Statement
	f := &fakeStore{
		getUserByIDFn: func(_ context.Context, userID string) (store.User, error) {
			return store.User{ID: userID, DisplayName: "Tester", Role: "author"}, nil
		},
		createStatementFn: func(_ context.Context, statement store.Statement) error {
			created = statement
			return nil
		},
	}
	server := testServer(t, f)
	token := issueTestToken(t, "usr_1")

	request := httptest.NewRequest(http.MethodPost, "/api/statements",
		strings.NewReader(`{"title":"On Margins","subtitle":"notes"}`))
	request.Header.Set("Authorization", "Bearer "+token)
	recorder := httptest.NewRecorder()

	server.Handler().ServeHTTP(recorder, request)

	if recorder.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201, body %s", recorder.Code, recorder.Body.String())
	}
	if created.CreatorID != "usr_1" {
		t.Fatalf("creator = %q, want the session user", created.CreatorID)
	}
}

func TestDraftVersionMustBePositive(t *testing.T) {
	server := testServer(t, &fakeStore{})
	token := issueTestToken(t, "usr_1")

	request := httptest.NewRequest(http.MethodGet, "/api/statements/stm_1/drafts/zero", nil)
	request.Header.Set("Authorization", "Bearer "+token)
	recorder := httptest.NewRecorder()

	server.Handler().ServeHTTP(recorder, request)

	if recorder.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422", recorder.Code)
	}
}

func TestUnknownRouteReturnsNotFound(t *testing.T) {
	server := testServer(t, &fakeStore{})
	token := issueTestToken(t, "usr_1")

	request := httptest.NewRequest(http.MethodGet, "/api/nonsense", nil)
	request.Header.Set("Authorization", "Bearer "+token)
	recorder := httptest.NewRecorder()

	server.Handler().ServeHTTP(recorder, request)

	if recorder.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", recorder.Code)
	}
}
