package store

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/joescharf/issuetrack/internal/ident"
	"github.com/joescharf/issuetrack/internal/models"
	"github.com/joescharf/issuetrack/internal/query"
)

func TestMongoFilter_Empty(t *testing.T) {
	f, err := mongoFilter(query.And{})
	require.NoError(t, err)
	assert.Equal(t, bson.D{}, f)
}

func TestMongoFilter_SearchAndEquals(t *testing.T) {
	f, err := mongoFilter(query.BuildFilter(query.Params{Search: "a.b*", Status: "open", Assignee: "alice"}))
	require.NoError(t, err)

	re := primitive.Regex{Pattern: `a\.b\*`, Options: "i"}
	want := bson.D{{Key: "$and", Value: bson.A{
		bson.D{{Key: "$or", Value: bson.A{
			bson.D{{Key: "title", Value: re}},
			bson.D{{Key: "description", Value: re}},
		}}},
		bson.D{{Key: "status", Value: "open"}},
		bson.D{{Key: "assignee", Value: "alice"}},
	}}}
	assert.Equal(t, want, f)
}

func TestMongoFilter_UnknownField(t *testing.T) {
	_, err := mongoFilter(query.And{Predicates: []query.Predicate{query.Equals{Field: "$where", Value: "1"}}})
	assert.ErrorContains(t, err, `unknown field "$where"`)
}

func TestMongoSort(t *testing.T) {
	s, err := mongoSort(query.Build(query.Params{}))
	require.NoError(t, err)
	assert.Equal(t, bson.D{{Key: "updated_at", Value: -1}, {Key: "_id", Value: -1}}, s)

	s, err = mongoSort(query.Build(query.Params{SortBy: "title", SortOrder: "asc"}))
	require.NoError(t, err)
	assert.Equal(t, bson.D{{Key: "title", Value: 1}, {Key: "_id", Value: 1}}, s)
}

func TestMongoSet(t *testing.T) {
	ts := time.Date(2024, 1, 1, 0, 0, 0, 0, time.FixedZone("X", 3600))
	set, err := mongoSet([]models.FieldChange{
		{Field: models.FieldTitle, Value: "new"},
		{Field: models.FieldUpdatedAt, Value: ts},
	})
	require.NoError(t, err)
	assert.Equal(t, bson.D{{Key: "title", Value: "new"}, {Key: "updated_at", Value: ts.UTC()}}, set)

	_, err = mongoSet([]models.FieldChange{{Field: models.FieldID, Value: "x"}})
	assert.Error(t, err)
}

func TestIssueDocument_RoundTrip(t *testing.T) {
	ts := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	in := &models.Issue{
		ID:          ident.Encode(ident.New()),
		Title:       "t",
		Description: models.StringPtr("d"),
		Status:      models.IssueStatusOpen,
		Priority:    models.IssuePriorityLow,
		CreatedAt:   ts,
		UpdatedAt:   ts,
	}
	raw, err := bson.Marshal(toDocument(in))
	require.NoError(t, err)

	var doc issueDocument
	require.NoError(t, bson.Unmarshal(raw, &doc))
	assert.Equal(t, in, doc.issue())

	var m bson.M
	require.NoError(t, bson.Unmarshal(raw, &m))
	assert.Equal(t, in.ID, m["_id"])
	assert.Nil(t, m["assignee"])
}

// newMongoTestStore connects to the server named by ISSUETRACK_TEST_MONGO_URI
// and uses a throwaway collection.
func newMongoTestStore(t *testing.T) *MongoStore {
	t.Helper()
	uri := os.Getenv("ISSUETRACK_TEST_MONGO_URI")
	if uri == "" {
		t.Skip("ISSUETRACK_TEST_MONGO_URI not set")
	}
	ctx := context.Background()
	s, err := NewMongoStore(ctx, uri, "issuetrack_test", "issues_"+ident.Encode(ident.New()))
	require.NoError(t, err)
	require.NoError(t, s.Migrate(ctx))
	t.Cleanup(func() {
		_ = s.coll.Drop(context.Background())
		_ = s.Close()
	})
	return s
}

func TestMongoStore_CRUD(t *testing.T) {
	s := newMongoTestStore(t)
	ctx := context.Background()

	issue := seed(t, s, "Login fails", 0, func(i *models.Issue) {
		i.Description = models.StringPtr("reset loops")
	})

	got, err := s.FindIssue(ctx, issue.ID)
	require.NoError(t, err)
	assert.Equal(t, issue, got)

	found, err := s.SetIssueFields(ctx, issue.ID, []models.FieldChange{
		{Field: models.FieldAssignee, Value: "bob"},
	})
	require.NoError(t, err)
	assert.True(t, found)

	got, err = s.FindIssue(ctx, issue.ID)
	require.NoError(t, err)
	assert.Equal(t, "bob", got.AssigneeOr(""))

	deleted, err := s.DeleteIssue(ctx, issue.ID)
	require.NoError(t, err)
	assert.True(t, deleted)

	_, err = s.FindIssue(ctx, issue.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMongoStore_ListAndCount(t *testing.T) {
	s := newMongoTestStore(t)
	ctx := context.Background()

	seed(t, s, "Crash on start", 0, nil)
	seed(t, s, "Typo", 1, func(i *models.Issue) { i.Description = models.StringPtr("not a CRASH") })
	seed(t, s, "Slow", 2, nil)

	q := query.Build(query.Params{Search: "crash"})
	got, err := s.FindIssues(ctx, q)
	require.NoError(t, err)
	assert.Equal(t, []string{"Typo", "Crash on start"}, titles(got))

	n, err := s.CountIssues(ctx, q.Filter)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}
