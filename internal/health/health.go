// Package health reports whether the issue store is reachable.
package health

import (
	"context"
	"time"

	"github.com/joescharf/issuetrack/internal/models"
	"github.com/joescharf/issuetrack/internal/query"
	"github.com/joescharf/issuetrack/internal/store"
)

// Report statuses.
const (
	StatusHealthy   = "healthy"
	StatusUnhealthy = "unhealthy"
)

// Report is the result of a health check. Counts are omitted when the store
// is unreachable.
type Report struct {
	Status      string           `json:"status"`
	Message     string           `json:"message"`
	Database    string           `json:"database"`
	IssuesCount *int64           `json:"issues_count,omitempty"`
	ByStatus    map[string]int64 `json:"by_status,omitempty"`
	Timestamp   time.Time        `json:"timestamp"`

	// Err is the underlying failure, for logging only.
	Err error `json:"-"`
}

// Healthy reports whether the store answered.
func (r *Report) Healthy() bool {
	return r.Status == StatusHealthy
}

// Checker probes a store.
type Checker struct {
	store   store.Store
	timeout time.Duration
	now     func() time.Time
}

// NewChecker returns a Checker for s.
func NewChecker(s store.Store) *Checker {
	return &Checker{store: s, timeout: 5 * time.Second, now: time.Now}
}

// Check pings the store and counts issues. It never returns an error; a
// failure is reported as an unhealthy Report.
func (c *Checker) Check(ctx context.Context) *Report {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	r := &Report{
		Database:  c.store.Name(),
		Timestamp: c.now().UTC(),
	}

	if err := c.store.Ping(ctx); err != nil {
		return unhealthy(r, err)
	}

	total, err := c.store.CountIssues(ctx, query.And{})
	if err != nil {
		return unhealthy(r, err)
	}

	byStatus := make(map[string]int64, len(models.IssueStatuses))
	for _, s := range models.IssueStatuses {
		n, err := c.store.CountIssues(ctx, query.BuildFilter(query.Params{Status: string(s)}))
		if err != nil {
			return unhealthy(r, err)
		}
		byStatus[string(s)] = n
	}

	r.Status = StatusHealthy
	r.Message = "API is running and database is connected"
	r.IssuesCount = &total
	r.ByStatus = byStatus
	return r
}

func unhealthy(r *Report, err error) *Report {
	r.Status = StatusUnhealthy
	r.Message = "Database connection failed"
	r.Err = err
	return r
}

// Database names the backend being checked.
func (c *Checker) Database() string {
	return c.store.Name()
}
