package store

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"modernc.org/sqlite"

	"github.com/joescharf/issuetrack/internal/models"
	"github.com/joescharf/issuetrack/internal/query"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// timeLayout is fixed width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000Z07:00"

const issueColumns = `id, title, description, status, priority, assignee, created_at, updated_at`

// sqliteColumns maps document field names to columns. Only these names are
// ever interpolated into SQL.
var sqliteColumns = map[string]string{
	models.FieldID:          "id",
	models.FieldTitle:       "title",
	models.FieldDescription: "description",
	models.FieldStatus:      "status",
	models.FieldPriority:    "priority",
	models.FieldAssignee:    "assignee",
	models.FieldCreatedAt:   "created_at",
	models.FieldUpdatedAt:   "updated_at",
}

func init() {
	// SQLite's lower() only folds ASCII; icontains matches the document
	// store's case-insensitive regex for any script.
	sqlite.MustRegisterDeterministicScalarFunction("icontains", 2, icontains)
}

func icontains(_ *sqlite.FunctionContext, args []driver.Value) (driver.Value, error) {
	haystack, ok1 := textArg(args[0])
	needle, ok2 := textArg(args[1])
	if !ok1 || !ok2 {
		return int64(0), nil
	}
	if strings.Contains(strings.ToLower(haystack), strings.ToLower(needle)) {
		return int64(1), nil
	}
	return int64(0), nil
}

func textArg(v driver.Value) (string, bool) {
	switch t := v.(type) {
	case string:
		return t, true
	case []byte:
		return string(t), true
	default:
		return "", false
	}
}

// SQLiteStore implements Store using modernc.org/sqlite (pure Go, no CGO).
// Each issue is one row of the issues table.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at the given path.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	// Ensure parent directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// SQLite only supports one concurrent writer. A single connection
	// serializes access and avoids "database is locked" under concurrent requests.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Name identifies the backend in health reports.
func (s *SQLiteStore) Name() string { return "SQLite" }

// Ping verifies the database is reachable.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Migrate runs all embedded SQL migration files in order.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		filename TEXT PRIMARY KEY,
		applied_at DATETIME NOT NULL DEFAULT (datetime('now'))
	)`)
	if err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()

		var count int
		err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM schema_migrations WHERE filename = ?", name).Scan(&count)
		if err != nil {
			return fmt.Errorf("check migration %s: %w", name, err)
		}
		if count > 0 {
			continue
		}

		data, err := migrationsFS.ReadFile("migrations/" + name)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}

		if _, err := s.db.ExecContext(ctx, string(data)); err != nil {
			return fmt.Errorf("apply migration %s: %w", name, err)
		}

		if _, err := s.db.ExecContext(ctx, "INSERT INTO schema_migrations (filename) VALUES (?)", name); err != nil {
			return fmt.Errorf("record migration %s: %w", name, err)
		}
	}

	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) InsertIssue(ctx context.Context, issue *models.Issue) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO issues (`+issueColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		issue.ID, issue.Title, nullable(issue.Description),
		string(issue.Status), string(issue.Priority), nullable(issue.Assignee),
		formatTime(issue.CreatedAt), formatTime(issue.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert issue: %w", err)
	}
	return nil
}

func (s *SQLiteStore) FindIssue(ctx context.Context, id string) (*models.Issue, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+issueColumns+` FROM issues WHERE id = ?`, id)
	issue, err := scanIssue(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find issue: %w", err)
	}
	return issue, nil
}

func (s *SQLiteStore) FindIssues(ctx context.Context, q query.Query) ([]*models.Issue, error) {
	where, args, err := compileFilter(q.Filter)
	if err != nil {
		return nil, err
	}
	order, err := compileOrder(q)
	if err != nil {
		return nil, err
	}

	stmt := `SELECT ` + issueColumns + ` FROM issues` + where + order
	switch {
	case q.Limit > 0:
		stmt += " LIMIT ? OFFSET ?"
		args = append(args, q.Limit, q.Skip)
	case q.Skip > 0:
		stmt += " LIMIT -1 OFFSET ?"
		args = append(args, q.Skip)
	}

	rows, err := s.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("find issues: %w", err)
	}
	defer func() { _ = rows.Close() }()

	issues := []*models.Issue{}
	for rows.Next() {
		issue, err := scanIssue(rows)
		if err != nil {
			return nil, fmt.Errorf("scan issue: %w", err)
		}
		issues = append(issues, issue)
	}
	return issues, rows.Err()
}

func (s *SQLiteStore) CountIssues(ctx context.Context, filter query.And) (int64, error) {
	where, args, err := compileFilter(filter)
	if err != nil {
		return 0, err
	}
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM issues`+where, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count issues: %w", err)
	}
	return n, nil
}

func (s *SQLiteStore) SetIssueFields(ctx context.Context, id string, changes []models.FieldChange) (bool, error) {
	if len(changes) == 0 {
		var exists int
		err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM issues WHERE id = ?", id).Scan(&exists)
		if err != nil {
			return false, fmt.Errorf("check issue: %w", err)
		}
		return exists > 0, nil
	}

	sets := make([]string, 0, len(changes))
	args := make([]any, 0, len(changes)+1)
	for _, c := range changes {
		col, ok := sqliteColumns[c.Field]
		if !ok || col == "id" {
			return false, fmt.Errorf("set issue fields: unknown field %q", c.Field)
		}
		sets = append(sets, col+" = ?")
		args = append(args, sqliteValue(c.Value))
	}
	args = append(args, id)

	result, err := s.db.ExecContext(ctx,
		"UPDATE issues SET "+strings.Join(sets, ", ")+" WHERE id = ?", args...)
	if err != nil {
		return false, fmt.Errorf("update issue: %w", err)
	}
	n, _ := result.RowsAffected()
	return n > 0, nil
}

func (s *SQLiteStore) DeleteIssue(ctx context.Context, id string) (bool, error) {
	result, err := s.db.ExecContext(ctx, "DELETE FROM issues WHERE id = ?", id)
	if err != nil {
		return false, fmt.Errorf("delete issue: %w", err)
	}
	n, _ := result.RowsAffected()
	return n > 0, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanIssue(row rowScanner) (*models.Issue, error) {
	issue := &models.Issue{}
	var status, priority, createdAt, updatedAt string
	var description, assignee sql.NullString

	if err := row.Scan(&issue.ID, &issue.Title, &description, &status, &priority, &assignee, &createdAt, &updatedAt); err != nil {
		return nil, err
	}

	issue.Status = models.IssueStatus(status)
	issue.Priority = models.IssuePriority(priority)
	if description.Valid {
		issue.Description = &description.String
	}
	if assignee.Valid {
		issue.Assignee = &assignee.String
	}

	var err error
	if issue.CreatedAt, err = time.Parse(timeLayout, createdAt); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	if issue.UpdatedAt, err = time.Parse(timeLayout, updatedAt); err != nil {
		return nil, fmt.Errorf("parse updated_at: %w", err)
	}
	return issue, nil
}

// compileFilter renders the predicate tree as a WHERE clause. Values are
// always bound as parameters.
func compileFilter(filter query.And) (string, []any, error) {
	if len(filter.Predicates) == 0 {
		return "", nil, nil
	}
	clause, args, err := compilePredicate(filter)
	if err != nil {
		return "", nil, err
	}
	return " WHERE " + clause, args, nil
}

func compilePredicate(p query.Predicate) (string, []any, error) {
	switch pred := p.(type) {
	case query.Equals:
		col, err := column(pred.Field)
		if err != nil {
			return "", nil, err
		}
		return col + " = ?", []any{pred.Value}, nil
	case query.Contains:
		col, err := column(pred.Field)
		if err != nil {
			return "", nil, err
		}
		return "icontains(" + col + ", ?)", []any{pred.Value}, nil
	case query.And:
		return compileJunction(pred.Predicates, " AND ", "1 = 1")
	case query.Or:
		return compileJunction(pred.Predicates, " OR ", "1 = 0")
	default:
		return "", nil, fmt.Errorf("unsupported predicate type: %T", p)
	}
}

func compileJunction(preds []query.Predicate, sep, empty string) (string, []any, error) {
	if len(preds) == 0 {
		return empty, nil, nil
	}
	parts := make([]string, 0, len(preds))
	var args []any
	for _, p := range preds {
		clause, a, err := compilePredicate(p)
		if err != nil {
			return "", nil, err
		}
		parts = append(parts, clause)
		args = append(args, a...)
	}
	return "(" + strings.Join(parts, sep) + ")", args, nil
}

func compileOrder(q query.Query) (string, error) {
	key := q.SortKey
	if key == "" {
		key = query.DefaultSortBy
	}
	col, err := column(key)
	if err != nil {
		return "", err
	}
	dir := "DESC"
	if q.SortDirection == query.Ascending {
		dir = "ASC"
	}
	return fmt.Sprintf(" ORDER BY %s %s, id %s", col, dir, dir), nil
}

func column(field string) (string, error) {
	col, ok := sqliteColumns[field]
	if !ok {
		return "", fmt.Errorf("unknown field %q", field)
	}
	return col, nil
}

func sqliteValue(v any) any {
	switch t := v.(type) {
	case time.Time:
		return formatTime(t)
	case *string:
		return nullable(t)
	default:
		return v
	}
}

func nullable(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}
