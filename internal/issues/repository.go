// Package issues implements issue lifecycle operations on top of a Store:
// identifier decoding, validation, timestamps and error classification.
package issues

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/joescharf/issuetrack/internal/ident"
	"github.com/joescharf/issuetrack/internal/models"
	"github.com/joescharf/issuetrack/internal/query"
	"github.com/joescharf/issuetrack/internal/store"
)

var (
	// ErrNotFound means no issue matches the id. A malformed id is reported
	// the same way.
	ErrNotFound = errors.New("issue not found")

	// ErrStoreUnavailable wraps any failure of the underlying store.
	ErrStoreUnavailable = errors.New("store unavailable")
)

// Repository is safe for concurrent use if its Store is.
type Repository struct {
	store store.Store
	now   func() time.Time
}

// Option configures a Repository.
type Option func(*Repository)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(r *Repository) { r.now = now }
}

// NewRepository returns a Repository backed by s.
func NewRepository(s store.Store, opts ...Option) *Repository {
	r := &Repository{store: s, now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// timestamp returns the current time at the precision the stores keep.
func (r *Repository) timestamp() time.Time {
	return r.now().UTC().Truncate(time.Millisecond)
}

// Create validates in, assigns an id and timestamps, and persists it.
func (r *Repository) Create(ctx context.Context, in models.IssueInput) (*models.Issue, error) {
	in.Normalize()
	if err := in.Validate(); err != nil {
		return nil, err
	}

	now := r.timestamp()
	issue := &models.Issue{
		ID:          ident.Encode(ident.New()),
		Title:       in.Title,
		Description: in.Description,
		Status:      in.Status,
		Priority:    in.Priority,
		Assignee:    in.Assignee,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := r.store.InsertIssue(ctx, issue); err != nil {
		return nil, unavailable(err)
	}
	return issue, nil
}

// Get returns the issue with the given id.
func (r *Repository) Get(ctx context.Context, id string) (*models.Issue, error) {
	key, err := decode(id)
	if err != nil {
		return nil, err
	}
	return r.find(ctx, key)
}

func (r *Repository) find(ctx context.Context, key string) (*models.Issue, error) {
	issue, err := r.store.FindIssue(ctx, key)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, unavailable(err)
	}
	return issue, nil
}

// List returns one page of issues matching q. An empty page is not an error.
func (r *Repository) List(ctx context.Context, q query.Query) ([]*models.Issue, error) {
	issues, err := r.store.FindIssues(ctx, q)
	if err != nil {
		return nil, unavailable(err)
	}
	return issues, nil
}

// Count returns how many issues match the filter of q, ignoring paging.
func (r *Repository) Count(ctx context.Context, q query.Query) (int64, error) {
	n, err := r.store.CountIssues(ctx, q.Filter)
	if err != nil {
		return 0, unavailable(err)
	}
	return n, nil
}

// Update applies the present fields of patch. When nothing differs from the
// stored record the record is returned unchanged and nothing is written.
func (r *Repository) Update(ctx context.Context, id string, patch models.IssuePatch) (*models.Issue, error) {
	key, err := decode(id)
	if err != nil {
		return nil, err
	}
	current, err := r.find(ctx, key)
	if err != nil {
		return nil, err
	}
	if err := patch.Validate(); err != nil {
		return nil, err
	}

	changes := patch.Diff(current)
	if len(changes) == 0 {
		return current, nil
	}

	updatedAt := r.timestamp()
	if updatedAt.Before(current.UpdatedAt) {
		updatedAt = current.UpdatedAt
	}
	changes = append(changes, models.FieldChange{Field: models.FieldUpdatedAt, Value: updatedAt})

	found, err := r.store.SetIssueFields(ctx, key, changes)
	if err != nil {
		return nil, unavailable(err)
	}
	if !found {
		return nil, ErrNotFound
	}
	return r.find(ctx, key)
}

// Delete removes the issue and reports whether it existed.
func (r *Repository) Delete(ctx context.Context, id string) (bool, error) {
	key, err := decode(id)
	if err != nil {
		return false, nil
	}
	deleted, err := r.store.DeleteIssue(ctx, key)
	if err != nil {
		return false, unavailable(err)
	}
	return deleted, nil
}

// decode canonicalizes id. Malformed ids are indistinguishable from missing ones.
func decode(id string) (string, error) {
	u, err := ident.Decode(id)
	if err != nil {
		return "", ErrNotFound
	}
	return ident.Encode(u), nil
}

func unavailable(err error) error {
	return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
}
