package cmd

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joescharf/issuetrack/internal/models"
	"github.com/joescharf/issuetrack/internal/query"
)

func seedCLIIssue(t *testing.T, title string) *models.Issue {
	t.Helper()
	repo, err := getRepository()
	require.NoError(t, err)
	issue, err := repo.Create(context.Background(), models.IssueInput{Title: title})
	require.NoError(t, err)
	return issue
}

func TestIssueAddRun(t *testing.T) {
	testEnv(t)

	err := issueAddRun(models.IssueInput{
		Title:    "Login broken",
		Priority: models.IssuePriorityHigh,
		Assignee: models.StringPtr("dana"),
	})
	require.NoError(t, err)
	assert.Contains(t, captured(t), "Created issue")

	repo, err := getRepository()
	require.NoError(t, err)
	list, err := repo.List(context.Background(), query.All())
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, models.IssuePriorityHigh, list[0].Priority)
	assert.Equal(t, models.IssueStatusOpen, list[0].Status)
}

func TestIssueAddRun_Invalid(t *testing.T) {
	testEnv(t)

	err := issueAddRun(models.IssueInput{Title: "x", Status: "archived"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status")
}

func TestIssueAddRun_DryRun(t *testing.T) {
	testEnv(t)
	dryRun = true
	ui.DryRun = true

	require.NoError(t, issueAddRun(models.IssueInput{Title: "Not saved"}))

	repo, err := getRepository()
	require.NoError(t, err)
	total, err := repo.Count(context.Background(), query.All())
	require.NoError(t, err)
	assert.Zero(t, total)
}

func TestIssueListRun(t *testing.T) {
	testEnv(t)
	seedCLIIssue(t, "Alpha")
	seedCLIIssue(t, "Beta")

	require.NoError(t, issueListRun(query.Params{SortBy: "title", SortOrder: "asc"}))
	out := captured(t)
	assert.Contains(t, out, "Alpha")
	assert.Contains(t, out, "Beta")
	assert.Contains(t, out, "2 of 2 issues")
}

func TestIssueListRun_Empty(t *testing.T) {
	testEnv(t)

	require.NoError(t, issueListRun(query.Params{Search: "nothing"}))
	assert.Contains(t, captured(t), "No issues found")
}

func TestIssueListRun_InvalidParams(t *testing.T) {
	testEnv(t)

	err := issueListRun(query.Params{SortBy: "secret", PageSize: 500})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sort_by")
	assert.Contains(t, err.Error(), "page_size")
}

func TestIssueShowRun(t *testing.T) {
	testEnv(t)
	issue := seedCLIIssue(t, "Show me")

	require.NoError(t, issueShowRun(issue.ID))
	out := captured(t)
	assert.Contains(t, out, issue.ID)
	assert.Contains(t, out, "Show me")

	err := issueShowRun("01ARZ3NDEKTSV4RRFFQ69G5FAV")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "issue not found")
}

func TestIssueUpdateRun(t *testing.T) {
	testEnv(t)
	issue := seedCLIIssue(t, "Original")

	st := models.IssueStatusResolved
	require.NoError(t, issueUpdateRun(issue.ID, models.IssuePatch{Status: &st}))

	repo, err := getRepository()
	require.NoError(t, err)
	got, err := repo.Get(context.Background(), issue.ID)
	require.NoError(t, err)
	assert.Equal(t, models.IssueStatusResolved, got.Status)
	assert.Equal(t, "Original", got.Title)
}

func TestIssueUpdateRun_Errors(t *testing.T) {
	testEnv(t)
	issue := seedCLIIssue(t, "Original")

	err := issueUpdateRun(issue.ID, models.IssuePatch{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no updates specified")

	err = issueUpdateRun("bogus", models.IssuePatch{Title: models.StringPtr("x")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "issue not found")
}

func TestIssueDeleteRun(t *testing.T) {
	testEnv(t)
	issue := seedCLIIssue(t, "Doomed")

	require.NoError(t, issueDeleteRun(issue.ID))

	err := issueDeleteRun(issue.ID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "issue not found")
}

func TestIssueEnrichRun_NoAPIKey(t *testing.T) {
	testEnv(t)
	t.Setenv("ANTHROPIC_API_KEY", "")

	err := issueEnrichRun("01ARZ3NDEKTSV4RRFFQ69G5FAV")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ANTHROPIC_API_KEY not set")
}

func TestStatusRun(t *testing.T) {
	testEnv(t)
	seedCLIIssue(t, "Counted")

	require.NoError(t, statusRun())
	out := captured(t)
	assert.Contains(t, out, "healthy")
	assert.Contains(t, out, "SQLite")
	assert.Contains(t, out, "Issues:    1")
}
