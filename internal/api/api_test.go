package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joescharf/issuetrack/internal/health"
	"github.com/joescharf/issuetrack/internal/issues"
	"github.com/joescharf/issuetrack/internal/llm"
	"github.com/joescharf/issuetrack/internal/logging"
	"github.com/joescharf/issuetrack/internal/models"
	"github.com/joescharf/issuetrack/internal/query"
	"github.com/joescharf/issuetrack/internal/store"
)

type testEnv struct {
	router http.Handler
	repo   *issues.Repository
	store  *store.SQLiteStore
}

func setupTestServer(t *testing.T, enricher Enricher, cfg Config) *testEnv {
	t.Helper()
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "test.db")

	s, err := store.NewSQLiteStore(dbPath)
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { _ = s.Close() })

	repo := issues.NewRepository(s)
	srv := NewServer(repo, health.NewChecker(s), enricher, logging.Discard(), cfg)
	return &testEnv{router: srv.Router(), repo: repo, store: s}
}

func (e *testEnv) do(method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, bytes.NewBufferString(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func TestRoot(t *testing.T) {
	env := setupTestServer(t, nil, Config{Version: "1.2.3"})

	w := env.do("GET", "/", "")
	assert.Equal(t, http.StatusOK, w.Code)

	info := decode[map[string]string](t, w)
	assert.Equal(t, "1.2.3", info["version"])
	assert.Equal(t, "/health", info["health_check"])
	assert.Equal(t, "SQLite", info["database"])

	assert.Equal(t, http.StatusNotFound, env.do("GET", "/nope", "").Code)
}

func TestHealth(t *testing.T) {
	env := setupTestServer(t, nil, Config{})
	env.do("POST", "/issues", `{"title":"a"}`)

	w := env.do("GET", "/health", "")
	assert.Equal(t, http.StatusOK, w.Code)

	body := decode[map[string]any](t, w)
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, "SQLite", body["database"])
	assert.EqualValues(t, 1, body["issues_count"])
	assert.NotEmpty(t, body["timestamp"])
}

func TestHealth_StoreDown(t *testing.T) {
	env := setupTestServer(t, nil, Config{})
	require.NoError(t, env.store.Close())

	w := env.do("GET", "/health", "")
	assert.Equal(t, http.StatusOK, w.Code)

	body := decode[map[string]any](t, w)
	assert.Equal(t, "unhealthy", body["status"])
	assert.Equal(t, "Database connection failed", body["message"])
	assert.NotContains(t, body, "issues_count")
	assert.NotContains(t, w.Body.String(), "closed")
}

func TestCreateIssue(t *testing.T) {
	env := setupTestServer(t, nil, Config{})

	w := env.do("POST", "/issues", `{"title":"Login fails","description":"500 on submit","assignee":"alice"}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	created := decode[models.Issue](t, w)
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, "Login fails", created.Title)
	assert.Equal(t, "500 on submit", created.DescriptionOr(""))
	assert.Equal(t, models.IssueStatusOpen, created.Status)
	assert.Equal(t, models.IssuePriorityMedium, created.Priority)
	assert.Equal(t, created.CreatedAt, created.UpdatedAt)
	assert.Equal(t, "/issues/"+created.ID, w.Header().Get("Location"))

	// Optional fields serialize as null when absent.
	w = env.do("POST", "/issues/", `{"title":"Bare"}`)
	require.Equal(t, http.StatusCreated, w.Code)
	raw := decode[map[string]any](t, w)
	assert.Contains(t, raw, "description")
	assert.Nil(t, raw["description"])
	assert.Nil(t, raw["assignee"])
}

func TestCreateIssue_Validation(t *testing.T) {
	env := setupTestServer(t, nil, Config{})

	tests := []struct {
		name  string
		body  string
		code  int
		field string
	}{
		{"empty title", `{"title":""}`, http.StatusUnprocessableEntity, "title"},
		{"missing title", `{}`, http.StatusUnprocessableEntity, "title"},
		{"long title", `{"title":"` + strings.Repeat("x", 201) + `"}`, http.StatusUnprocessableEntity, "title"},
		{"bad status", `{"title":"a","status":"archived"}`, http.StatusUnprocessableEntity, "status"},
		{"bad priority", `{"title":"a","priority":"urgent"}`, http.StatusUnprocessableEntity, "priority"},
		{"wrong type", `{"title":42}`, http.StatusUnprocessableEntity, "title"},
		{"malformed", `{"title":`, http.StatusBadRequest, ""},
		{"empty body", ``, http.StatusBadRequest, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do("POST", "/issues", tt.body)
			assert.Equal(t, tt.code, w.Code, w.Body.String())
			if tt.field == "" {
				return
			}
			body := decode[struct {
				Detail []models.FieldError `json:"detail"`
			}](t, w)
			require.NotEmpty(t, body.Detail)
			assert.Equal(t, tt.field, body.Detail[0].Field)
		})
	}

	// Nothing was written.
	w := env.do("GET", "/issues", "")
	assert.Equal(t, "0", w.Header().Get("X-Total-Count"))
}

func TestGetIssue(t *testing.T) {
	env := setupTestServer(t, nil, Config{})
	created := decode[models.Issue](t, env.do("POST", "/issues", `{"title":"a","priority":"high"}`))

	w := env.do("GET", "/issues/"+created.ID, "")
	assert.Equal(t, http.StatusOK, w.Code)
	got := decode[models.Issue](t, w)
	assert.Equal(t, created, got)

	for _, id := range []string{"01ARZ3NDEKTSV4RRFFQ69G5FAV", "not-an-id", "507f1f77bcf86cd799439011"} {
		w := env.do("GET", "/issues/"+id, "")
		assert.Equal(t, http.StatusNotFound, w.Code, id)
		assert.JSONEq(t, `{"detail":"Issue not found"}`, w.Body.String())
	}
}

func TestUpdateIssue(t *testing.T) {
	env := setupTestServer(t, nil, Config{})
	created := decode[models.Issue](t, env.do("POST", "/issues", `{"title":"a","assignee":"bob"}`))

	w := env.do("PUT", "/issues/"+created.ID, `{"status":"in_progress","assignee":null}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	updated := decode[models.Issue](t, w)
	assert.Equal(t, models.IssueStatusInProgress, updated.Status)
	assert.Equal(t, "bob", updated.AssigneeOr(""), "null leaves the field untouched")
	assert.Equal(t, "a", updated.Title)
	assert.False(t, updated.UpdatedAt.Before(created.UpdatedAt))

	w = env.do("PUT", "/issues/"+created.ID, `{}`)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, updated, decode[models.Issue](t, w))

	w = env.do("PUT", "/issues/"+created.ID, `{"title":"   "}`)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	w = env.do("PUT", "/issues/"+created.ID, `not json`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do("PUT", "/issues/01ARZ3NDEKTSV4RRFFQ69G5FAV", `{"title":"x"}`)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestDeleteIssue(t *testing.T) {
	env := setupTestServer(t, nil, Config{})
	created := decode[models.Issue](t, env.do("POST", "/issues", `{"title":"a"}`))

	w := env.do("DELETE", "/issues/"+created.ID, "")
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Empty(t, w.Body.String())

	w = env.do("DELETE", "/issues/"+created.ID, "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = env.do("DELETE", "/issues/garbage", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestListIssues(t *testing.T) {
	env := setupTestServer(t, nil, Config{})
	for _, body := range []string{
		`{"title":"Login broken","priority":"high"}`,
		`{"title":"Typo","description":"the LOGIN label","status":"closed"}`,
		`{"title":"Slow page","assignee":"carol"}`,
	} {
		require.Equal(t, http.StatusCreated, env.do("POST", "/issues", body).Code)
	}

	w := env.do("GET", "/issues", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "3", w.Header().Get("X-Total-Count"))
	assert.Equal(t, "1", w.Header().Get("X-Page"))
	assert.Equal(t, "10", w.Header().Get("X-Page-Size"))
	all := decode[[]models.Issue](t, w)
	require.Len(t, all, 3)
	assert.Equal(t, "Slow page", all[0].Title, "newest first by default")

	w = env.do("GET", "/issues/?search=login&sort_by=title&sort_order=asc", "")
	found := decode[[]models.Issue](t, w)
	require.Len(t, found, 2)
	assert.Equal(t, "Login broken", found[0].Title)
	assert.Equal(t, "Typo", found[1].Title)

	w = env.do("GET", "/issues?status=closed", "")
	assert.Len(t, decode[[]models.Issue](t, w), 1)

	w = env.do("GET", "/issues?assignee=carol&priority=medium", "")
	assert.Len(t, decode[[]models.Issue](t, w), 1)

	w = env.do("GET", "/issues?page=2&page_size=2", "")
	assert.Len(t, decode[[]models.Issue](t, w), 1)
	assert.Equal(t, "3", w.Header().Get("X-Total-Count"))

	w = env.do("GET", "/issues?page=5", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "[]\n", w.Body.String())

	w = env.do("GET", fmt.Sprintf("/issues?page=%d&page_size=100", query.MaxPage), "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "[]\n", w.Body.String(), "last valid page is past the end")
}

func TestListIssues_InvalidParams(t *testing.T) {
	env := setupTestServer(t, nil, Config{})
	for _, qs := range []string{
		"page=0",
		"page=9223372036854775807&page_size=100",
		"page_size=101",
		"page_size=abc",
		"sort_order=sideways",
		"sort_by=password",
	} {
		w := env.do("GET", "/issues?"+qs, "")
		assert.Equal(t, http.StatusUnprocessableEntity, w.Code, qs)
	}
}

func TestScenario(t *testing.T) {
	env := setupTestServer(t, nil, Config{})

	created := decode[models.Issue](t, env.do("POST", "/issues", `{"title":"A"}`))

	w := env.do("PUT", "/issues/"+created.ID, `{"status":"closed"}`)
	require.Equal(t, http.StatusOK, w.Code)
	updated := decode[models.Issue](t, w)
	assert.Equal(t, "A", updated.Title)
	assert.Equal(t, models.IssueStatusClosed, updated.Status)

	assert.Equal(t, http.StatusNoContent, env.do("DELETE", "/issues/"+created.ID, "").Code)
	assert.Equal(t, http.StatusNotFound, env.do("GET", "/issues/"+created.ID, "").Code)
}

func TestDebugDatabase(t *testing.T) {
	env := setupTestServer(t, nil, Config{})
	assert.Equal(t, http.StatusNotFound, env.do("GET", "/debug/database", "").Code)

	env = setupTestServer(t, nil, Config{Debug: true})
	for range 5 {
		env.do("POST", "/issues", `{"title":"x"}`)
	}
	w := env.do("GET", "/debug/database", "")
	assert.Equal(t, http.StatusOK, w.Code)
	body := decode[struct {
		Total   int64          `json:"total_issues"`
		Samples []models.Issue `json:"sample_issues"`
	}](t, w)
	assert.Equal(t, int64(5), body.Total)
	assert.Len(t, body.Samples, 3)
}

type fakeEnricher struct {
	suggestion *llm.Suggestion
	err        error
}

func (f fakeEnricher) Enrich(context.Context, *models.Issue) (*llm.Suggestion, error) {
	return f.suggestion, f.err
}

func TestEnrichIssue(t *testing.T) {
	env := setupTestServer(t, nil, Config{})
	created := decode[models.Issue](t, env.do("POST", "/issues", `{"title":"a"}`))
	assert.Equal(t, http.StatusServiceUnavailable, env.do("POST", "/issues/"+created.ID+"/enrich", "").Code)

	env = setupTestServer(t, fakeEnricher{suggestion: &llm.Suggestion{Description: "Clearer", Priority: "critical"}}, Config{})
	created = decode[models.Issue](t, env.do("POST", "/issues", `{"title":"a"}`))

	w := env.do("POST", "/issues/"+created.ID+"/enrich", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	enriched := decode[models.Issue](t, w)
	assert.Equal(t, "Clearer", enriched.DescriptionOr(""))
	assert.Equal(t, models.IssuePriorityCritical, enriched.Priority)

	assert.Equal(t, http.StatusNotFound, env.do("POST", "/issues/01ARZ3NDEKTSV4RRFFQ69G5FAV/enrich", "").Code)

	env = setupTestServer(t, fakeEnricher{err: errors.New("rate limited")}, Config{})
	created = decode[models.Issue](t, env.do("POST", "/issues", `{"title":"a"}`))
	w = env.do("POST", "/issues/"+created.ID+"/enrich", "")
	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.NotContains(t, w.Body.String(), "rate limited")
}

func TestStoreFailureIsGeneric(t *testing.T) {
	env := setupTestServer(t, nil, Config{})
	require.NoError(t, env.store.Close())

	w := env.do("POST", "/issues", `{"title":"a"}`)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.JSONEq(t, `{"detail":"Internal server error"}`, w.Body.String())

	w = env.do("GET", "/issues", "")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestCORS(t *testing.T) {
	env := setupTestServer(t, nil, Config{})

	w := env.do("OPTIONS", "/issues", "")
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, w.Header().Get("Access-Control-Expose-Headers"), "X-Total-Count")
}

func TestCORS_AllowList(t *testing.T) {
	env := setupTestServer(t, nil, Config{AllowedOrigins: []string{"http://localhost:4200"}})

	req := httptest.NewRequest("GET", "/issues", nil)
	req.Header.Set("Origin", "http://localhost:4200")
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	assert.Equal(t, "http://localhost:4200", w.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest("GET", "/issues", nil)
	req.Header.Set("Origin", "http://evil.example")
	w = httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}

func TestRequestID(t *testing.T) {
	env := setupTestServer(t, nil, Config{})

	w := env.do("GET", "/health", "")
	assert.Len(t, w.Header().Get(RequestIDHeader), 36)

	req := httptest.NewRequest("GET", "/health", nil)
	req.Header.Set(RequestIDHeader, "abc-123")
	w = httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	assert.Equal(t, "abc-123", w.Header().Get(RequestIDHeader))
}
