package store

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/joescharf/issuetrack/internal/models"
	"github.com/joescharf/issuetrack/internal/query"
)

const (
	connectTimeout    = 5 * time.Second
	disconnectTimeout = 5 * time.Second
)

// mongoFields maps document field names to BSON keys. Only these names are
// ever used as keys in filters, sorts or updates.
var mongoFields = map[string]string{
	models.FieldID:          "_id",
	models.FieldTitle:       "title",
	models.FieldDescription: "description",
	models.FieldStatus:      "status",
	models.FieldPriority:    "priority",
	models.FieldAssignee:    "assignee",
	models.FieldCreatedAt:   "created_at",
	models.FieldUpdatedAt:   "updated_at",
}

// issueDocument is the stored shape of an issue. The ULID string is the _id.
type issueDocument struct {
	ID          string    `bson:"_id"`
	Title       string    `bson:"title"`
	Description *string   `bson:"description"`
	Status      string    `bson:"status"`
	Priority    string    `bson:"priority"`
	Assignee    *string   `bson:"assignee"`
	CreatedAt   time.Time `bson:"created_at"`
	UpdatedAt   time.Time `bson:"updated_at"`
}

func toDocument(i *models.Issue) issueDocument {
	return issueDocument{
		ID:          i.ID,
		Title:       i.Title,
		Description: i.Description,
		Status:      string(i.Status),
		Priority:    string(i.Priority),
		Assignee:    i.Assignee,
		CreatedAt:   i.CreatedAt.UTC(),
		UpdatedAt:   i.UpdatedAt.UTC(),
	}
}

func (d issueDocument) issue() *models.Issue {
	return &models.Issue{
		ID:          d.ID,
		Title:       d.Title,
		Description: d.Description,
		Status:      models.IssueStatus(d.Status),
		Priority:    models.IssuePriority(d.Priority),
		Assignee:    d.Assignee,
		CreatedAt:   d.CreatedAt.UTC(),
		UpdatedAt:   d.UpdatedAt.UTC(),
	}
}

// MongoStore implements Store on a single MongoDB collection, one document
// per issue.
type MongoStore struct {
	client *mongo.Client
	coll   *mongo.Collection
}

// NewMongoStore connects to uri and verifies the server is reachable.
func NewMongoStore(ctx context.Context, uri, database, collection string) (*MongoStore, error) {
	opts := options.Client().
		ApplyURI(uri).
		SetServerSelectionTimeout(connectTimeout)

	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("connect mongodb: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	if err := client.Ping(pingCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongodb: %w", err)
	}

	return &MongoStore{
		client: client,
		coll:   client.Database(database).Collection(collection),
	}, nil
}

// Name identifies the backend in health reports.
func (s *MongoStore) Name() string { return "MongoDB" }

// Ping verifies the primary is reachable.
func (s *MongoStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, readpref.Primary())
}

// Migrate creates the secondary indexes used by listing. Creating an index
// that already exists is a no-op.
func (s *MongoStore) Migrate(ctx context.Context) error {
	var indexes []mongo.IndexModel
	for _, key := range []string{"status", "priority", "assignee", "created_at", "updated_at"} {
		indexes = append(indexes, mongo.IndexModel{
			Keys:    bson.D{{Key: key, Value: 1}},
			Options: options.Index().SetName("idx_issues_" + key),
		})
	}
	if _, err := s.coll.Indexes().CreateMany(ctx, indexes); err != nil {
		return fmt.Errorf("create indexes: %w", err)
	}
	return nil
}

// Close disconnects the client.
func (s *MongoStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), disconnectTimeout)
	defer cancel()
	return s.client.Disconnect(ctx)
}

func (s *MongoStore) InsertIssue(ctx context.Context, issue *models.Issue) error {
	if _, err := s.coll.InsertOne(ctx, toDocument(issue)); err != nil {
		return fmt.Errorf("insert issue: %w", err)
	}
	return nil
}

func (s *MongoStore) FindIssue(ctx context.Context, id string) (*models.Issue, error) {
	var doc issueDocument
	err := s.coll.FindOne(ctx, bson.D{{Key: "_id", Value: id}}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find issue: %w", err)
	}
	return doc.issue(), nil
}

func (s *MongoStore) FindIssues(ctx context.Context, q query.Query) ([]*models.Issue, error) {
	filter, err := mongoFilter(q.Filter)
	if err != nil {
		return nil, err
	}
	sort, err := mongoSort(q)
	if err != nil {
		return nil, err
	}

	opts := options.Find().SetSort(sort)
	if q.Skip > 0 {
		opts.SetSkip(q.Skip)
	}
	if q.Limit > 0 {
		opts.SetLimit(q.Limit)
	}

	cursor, err := s.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("find issues: %w", err)
	}

	var docs []issueDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode issues: %w", err)
	}

	issues := make([]*models.Issue, 0, len(docs))
	for _, d := range docs {
		issues = append(issues, d.issue())
	}
	return issues, nil
}

func (s *MongoStore) CountIssues(ctx context.Context, filter query.And) (int64, error) {
	f, err := mongoFilter(filter)
	if err != nil {
		return 0, err
	}
	n, err := s.coll.CountDocuments(ctx, f)
	if err != nil {
		return 0, fmt.Errorf("count issues: %w", err)
	}
	return n, nil
}

func (s *MongoStore) SetIssueFields(ctx context.Context, id string, changes []models.FieldChange) (bool, error) {
	byID := bson.D{{Key: "_id", Value: id}}
	if len(changes) == 0 {
		n, err := s.coll.CountDocuments(ctx, byID, options.Count().SetLimit(1))
		if err != nil {
			return false, fmt.Errorf("check issue: %w", err)
		}
		return n > 0, nil
	}

	set, err := mongoSet(changes)
	if err != nil {
		return false, err
	}
	result, err := s.coll.UpdateOne(ctx, byID, bson.D{{Key: "$set", Value: set}})
	if err != nil {
		return false, fmt.Errorf("update issue: %w", err)
	}
	return result.MatchedCount > 0, nil
}

func (s *MongoStore) DeleteIssue(ctx context.Context, id string) (bool, error) {
	result, err := s.coll.DeleteOne(ctx, bson.D{{Key: "_id", Value: id}})
	if err != nil {
		return false, fmt.Errorf("delete issue: %w", err)
	}
	return result.DeletedCount > 0, nil
}

// mongoFilter renders the predicate tree as a filter document. An empty
// conjunction renders as an empty document, which matches everything.
func mongoFilter(filter query.And) (bson.D, error) {
	if len(filter.Predicates) == 0 {
		return bson.D{}, nil
	}
	return mongoPredicate(filter)
}

func mongoPredicate(p query.Predicate) (bson.D, error) {
	switch pred := p.(type) {
	case query.Equals:
		key, err := mongoKey(pred.Field)
		if err != nil {
			return nil, err
		}
		return bson.D{{Key: key, Value: pred.Value}}, nil
	case query.Contains:
		key, err := mongoKey(pred.Field)
		if err != nil {
			return nil, err
		}
		// Search text is matched literally.
		re := primitive.Regex{Pattern: regexp.QuoteMeta(pred.Value), Options: "i"}
		return bson.D{{Key: key, Value: re}}, nil
	case query.And:
		return mongoJunction("$and", pred.Predicates)
	case query.Or:
		return mongoJunction("$or", pred.Predicates)
	default:
		return nil, fmt.Errorf("unsupported predicate type: %T", p)
	}
}

func mongoJunction(op string, preds []query.Predicate) (bson.D, error) {
	if len(preds) == 0 {
		if op == "$or" {
			// Nothing can satisfy an empty disjunction.
			return bson.D{{Key: "_id", Value: bson.D{{Key: "$exists", Value: false}}}}, nil
		}
		return bson.D{}, nil
	}
	parts := make(bson.A, 0, len(preds))
	for _, p := range preds {
		d, err := mongoPredicate(p)
		if err != nil {
			return nil, err
		}
		parts = append(parts, d)
	}
	return bson.D{{Key: op, Value: parts}}, nil
}

// mongoSort orders by the sort key with _id as a tiebreaker in the same direction.
func mongoSort(q query.Query) (bson.D, error) {
	key := q.SortKey
	if key == "" {
		key = query.DefaultSortBy
	}
	k, err := mongoKey(key)
	if err != nil {
		return nil, err
	}
	dir := q.SortDirection
	if dir != query.Ascending {
		dir = query.Descending
	}
	sort := bson.D{{Key: k, Value: dir}}
	if k != "_id" {
		sort = append(sort, bson.E{Key: "_id", Value: dir})
	}
	return sort, nil
}

func mongoSet(changes []models.FieldChange) (bson.D, error) {
	set := make(bson.D, 0, len(changes))
	for _, c := range changes {
		key, err := mongoKey(c.Field)
		if err != nil || key == "_id" {
			return nil, fmt.Errorf("set issue fields: unknown field %q", c.Field)
		}
		v := c.Value
		switch t := v.(type) {
		case time.Time:
			v = t.UTC()
		case *string:
			if t == nil {
				v = nil
			} else {
				v = *t
			}
		}
		set = append(set, bson.E{Key: key, Value: v})
	}
	return set, nil
}

func mongoKey(field string) (string, error) {
	key, ok := mongoFields[field]
	if !ok {
		return "", fmt.Errorf("unknown field %q", field)
	}
	return key, nil
}
