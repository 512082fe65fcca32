package query

import (
	"fmt"
	"net/url"
	"slices"
	"strconv"
	"strings"

	"github.com/joescharf/issuetrack/internal/models"
)

// Validate checks params after defaults are applied. Boundary layers call it
// before Build.
func (p Params) Validate() error {
	p = p.WithDefaults()
	verr := &models.ValidationError{}
	if p.Page < 1 || p.Page > MaxPage {
		verr.Fields = append(verr.Fields, models.FieldError{
			Field:   "page",
			Message: fmt.Sprintf("must be between 1 and %d", MaxPage),
		})
	}
	if p.PageSize < 1 || p.PageSize > MaxPageSize {
		verr.Fields = append(verr.Fields, models.FieldError{
			Field:   "page_size",
			Message: fmt.Sprintf("must be between 1 and %d", MaxPageSize),
		})
	}
	if p.SortOrder != "asc" && p.SortOrder != "desc" {
		verr.Fields = append(verr.Fields, models.FieldError{Field: "sort_order", Message: "must be asc or desc"})
	}
	if !slices.Contains(SortableFields, p.SortBy) {
		verr.Fields = append(verr.Fields, models.FieldError{
			Field:   "sort_by",
			Message: "must be one of " + strings.Join(SortableFields, ", "),
		})
	}
	if len(verr.Fields) > 0 {
		return verr
	}
	return nil
}

// ParseValues reads params from URL query values. Explicit page values are
// range checked here because a zero would otherwise fall back to the default.
func ParseValues(v url.Values) (Params, error) {
	p := Params{
		Search:    v.Get("search"),
		Status:    v.Get("status"),
		Priority:  v.Get("priority"),
		Assignee:  v.Get("assignee"),
		SortBy:    v.Get("sort_by"),
		SortOrder: strings.ToLower(v.Get("sort_order")),
	}
	verr := &models.ValidationError{}
	p.Page = parseInt(v, "page", DefaultPage, 1, MaxPage, verr)
	p.PageSize = parseInt(v, "page_size", DefaultPageSize, 1, MaxPageSize, verr)
	if len(verr.Fields) > 0 {
		return p, verr
	}
	return p, nil
}

// parseInt reads an integer in [lo, hi]; hi <= 0 means unbounded.
func parseInt(v url.Values, key string, def, lo, hi int, verr *models.ValidationError) int {
	raw := v.Get(key)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		verr.Fields = append(verr.Fields, models.FieldError{Field: key, Message: "must be an integer"})
		return def
	}
	if n < lo || (hi > 0 && n > hi) {
		msg := fmt.Sprintf("must be >= %d", lo)
		if hi > 0 {
			msg = fmt.Sprintf("must be between %d and %d", lo, hi)
		}
		verr.Fields = append(verr.Fields, models.FieldError{Field: key, Message: msg})
		return def
	}
	return n
}
