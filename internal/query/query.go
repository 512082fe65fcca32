// Package query translates listing parameters into a store-neutral query:
// a predicate tree plus sort, skip and limit. Stores render the predicate
// tree into their own dialect.
package query

import (
	"math"

	"github.com/joescharf/issuetrack/internal/models"
)

// Pagination and sorting defaults.
const (
	DefaultPage      = 1
	DefaultPageSize  = 10
	MaxPageSize      = 100
	DefaultSortBy    = models.FieldUpdatedAt
	DefaultSortOrder = "desc"
)

// MaxPage is the largest page whose skip, (page-1)*page_size, fits in an int.
const MaxPage = math.MaxInt/MaxPageSize + 1

// Sort directions.
const (
	Ascending  = 1
	Descending = -1
)

// SortableFields are the fields a listing may be ordered by.
var SortableFields = []string{
	models.FieldCreatedAt,
	models.FieldUpdatedAt,
	models.FieldTitle,
	models.FieldStatus,
	models.FieldPriority,
	models.FieldAssignee,
}

// Predicate is a node of a filter tree.
type Predicate interface {
	predicate()
}

// Equals matches documents whose Field equals Value exactly.
type Equals struct {
	Field string
	Value string
}

// Contains matches documents whose Field contains Value, ignoring case.
// Value is literal text, not a pattern.
type Contains struct {
	Field string
	Value string
}

// And matches when every predicate matches. An empty And matches everything.
type And struct {
	Predicates []Predicate
}

// Or matches when any predicate matches.
type Or struct {
	Predicates []Predicate
}

func (Equals) predicate()   {}
func (Contains) predicate() {}
func (And) predicate()      {}
func (Or) predicate()       {}

// Query is a fully resolved listing request.
type Query struct {
	Filter        And
	SortKey       string
	SortDirection int
	Skip          int64
	Limit         int64
}

// Params are the optional listing parameters. Zero values mean "use the default".
type Params struct {
	Search    string
	Status    string
	Priority  string
	Assignee  string
	SortBy    string
	SortOrder string
	Page      int
	PageSize  int
}

// WithDefaults returns p with defaults applied to unset fields.
func (p Params) WithDefaults() Params {
	if p.SortBy == "" {
		p.SortBy = DefaultSortBy
	}
	if p.SortOrder == "" {
		p.SortOrder = DefaultSortOrder
	}
	if p.Page == 0 {
		p.Page = DefaultPage
	}
	if p.PageSize == 0 {
		p.PageSize = DefaultPageSize
	}
	return p
}

// Build turns validated params into a Query.
func Build(p Params) Query {
	p = p.WithDefaults()
	return Query{
		Filter:        BuildFilter(p),
		SortKey:       p.SortBy,
		SortDirection: direction(p.SortOrder),
		Skip:          int64(p.Page-1) * int64(p.PageSize),
		Limit:         int64(p.PageSize),
	}
}

// BuildFilter returns the conjunction of the active filter clauses in p.
func BuildFilter(p Params) And {
	var preds []Predicate
	if p.Search != "" {
		preds = append(preds, Or{Predicates: []Predicate{
			Contains{Field: models.FieldTitle, Value: p.Search},
			Contains{Field: models.FieldDescription, Value: p.Search},
		}})
	}
	if p.Status != "" {
		preds = append(preds, Equals{Field: models.FieldStatus, Value: p.Status})
	}
	if p.Priority != "" {
		preds = append(preds, Equals{Field: models.FieldPriority, Value: p.Priority})
	}
	if p.Assignee != "" {
		preds = append(preds, Equals{Field: models.FieldAssignee, Value: p.Assignee})
	}
	return And{Predicates: preds}
}

func direction(order string) int {
	if order == "asc" {
		return Ascending
	}
	return Descending
}

// All returns a query matching every issue with default ordering and no limit.
func All() Query {
	return Query{SortKey: DefaultSortBy, SortDirection: Descending}
}
