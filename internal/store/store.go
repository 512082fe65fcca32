package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/joescharf/issuetrack/internal/models"
	"github.com/joescharf/issuetrack/internal/query"
)

// ErrNotFound is returned when no document has the requested id.
var ErrNotFound = errors.New("not found")

// Driver names accepted by Open.
const (
	DriverMongo  = "mongo"
	DriverSQLite = "sqlite"
)

// Store defines document-level persistence for issues. Implementations
// must be safe for concurrent use.
type Store interface {
	InsertIssue(ctx context.Context, issue *models.Issue) error
	FindIssue(ctx context.Context, id string) (*models.Issue, error)
	FindIssues(ctx context.Context, q query.Query) ([]*models.Issue, error)
	CountIssues(ctx context.Context, filter query.And) (int64, error)
	// SetIssueFields assigns the given fields on one issue and reports
	// whether a document with that id existed.
	SetIssueFields(ctx context.Context, id string, changes []models.FieldChange) (bool, error)
	// DeleteIssue removes one issue and reports whether it existed.
	DeleteIssue(ctx context.Context, id string) (bool, error)

	// Lifecycle
	Name() string
	Ping(ctx context.Context) error
	Migrate(ctx context.Context) error
	Close() error
}

// Config selects and configures a backend.
type Config struct {
	Driver string

	MongoURI        string
	MongoDatabase   string
	MongoCollection string

	SQLitePath string
}

// Open connects to the configured backend and prepares its indexes.
func Open(ctx context.Context, cfg Config) (Store, error) {
	var (
		s   Store
		err error
	)
	switch cfg.Driver {
	case DriverMongo, "mongodb":
		s, err = NewMongoStore(ctx, cfg.MongoURI, cfg.MongoDatabase, cfg.MongoCollection)
	case DriverSQLite:
		s, err = NewSQLiteStore(cfg.SQLitePath)
	default:
		return nil, fmt.Errorf("unknown store driver %q (want %s or %s)", cfg.Driver, DriverMongo, DriverSQLite)
	}
	if err != nil {
		return nil, err
	}
	if err := s.Migrate(ctx); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("migrate %s store: %w", s.Name(), err)
	}
	return s, nil
}
