package models

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// FieldError describes a single invalid field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError collects every invalid field in a payload.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		parts[i] = f.Field + ": " + f.Message
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

func (e *ValidationError) add(field, format string, a ...any) {
	e.Fields = append(e.Fields, FieldError{Field: field, Message: fmt.Sprintf(format, a...)})
}

func (e *ValidationError) orNil() error {
	if len(e.Fields) == 0 {
		return nil
	}
	return e
}

// IssueInput is the payload for creating an issue.
type IssueInput struct {
	Title       string        `json:"title"`
	Description *string       `json:"description"`
	Status      IssueStatus   `json:"status"`
	Priority    IssuePriority `json:"priority"`
	Assignee    *string       `json:"assignee"`
}

// Normalize fills in the default status and priority.
func (in *IssueInput) Normalize() {
	if in.Status == "" {
		in.Status = IssueStatusOpen
	}
	if in.Priority == "" {
		in.Priority = IssuePriorityMedium
	}
}

// Validate checks the payload after Normalize.
func (in *IssueInput) Validate() error {
	verr := &ValidationError{}
	checkTitle(verr, in.Title)
	if in.Description != nil {
		checkLen(verr, FieldDescription, *in.Description, MaxDescriptionLen)
	}
	if !in.Status.Valid() {
		verr.add(FieldStatus, "must be one of %s", joinStatuses())
	}
	if !in.Priority.Valid() {
		verr.add(FieldPriority, "must be one of %s", joinPriorities())
	}
	if in.Assignee != nil {
		checkLen(verr, FieldAssignee, *in.Assignee, MaxAssigneeLen)
	}
	return verr.orNil()
}

// IssuePatch is a partial update. A nil field is left untouched; JSON null
// decodes to nil as well, so a field cannot be cleared through a patch.
type IssuePatch struct {
	Title       *string        `json:"title"`
	Description *string        `json:"description"`
	Status      *IssueStatus   `json:"status"`
	Priority    *IssuePriority `json:"priority"`
	Assignee    *string        `json:"assignee"`
}

// Empty reports whether no field is present.
func (p *IssuePatch) Empty() bool {
	return p.Title == nil && p.Description == nil && p.Status == nil &&
		p.Priority == nil && p.Assignee == nil
}

// Validate checks only the fields that are present.
func (p *IssuePatch) Validate() error {
	verr := &ValidationError{}
	if p.Title != nil {
		checkTitle(verr, *p.Title)
	}
	if p.Description != nil {
		checkLen(verr, FieldDescription, *p.Description, MaxDescriptionLen)
	}
	if p.Status != nil && !p.Status.Valid() {
		verr.add(FieldStatus, "must be one of %s", joinStatuses())
	}
	if p.Priority != nil && !p.Priority.Valid() {
		verr.add(FieldPriority, "must be one of %s", joinPriorities())
	}
	if p.Assignee != nil {
		checkLen(verr, FieldAssignee, *p.Assignee, MaxAssigneeLen)
	}
	return verr.orNil()
}

// FieldChange is a single field assignment on a stored issue.
type FieldChange struct {
	Field string
	Value any
}

// Diff returns the present fields whose value differs from current, in a
// stable order. Values are plain strings.
func (p *IssuePatch) Diff(current *Issue) []FieldChange {
	var changes []FieldChange
	if p.Title != nil && *p.Title != current.Title {
		changes = append(changes, FieldChange{FieldTitle, *p.Title})
	}
	if p.Description != nil && (current.Description == nil || *p.Description != *current.Description) {
		changes = append(changes, FieldChange{FieldDescription, *p.Description})
	}
	if p.Status != nil && *p.Status != current.Status {
		changes = append(changes, FieldChange{FieldStatus, string(*p.Status)})
	}
	if p.Priority != nil && *p.Priority != current.Priority {
		changes = append(changes, FieldChange{FieldPriority, string(*p.Priority)})
	}
	if p.Assignee != nil && (current.Assignee == nil || *p.Assignee != *current.Assignee) {
		changes = append(changes, FieldChange{FieldAssignee, *p.Assignee})
	}
	return changes
}

func checkTitle(verr *ValidationError, title string) {
	if strings.TrimSpace(title) == "" {
		verr.add(FieldTitle, "must not be empty")
		return
	}
	checkLen(verr, FieldTitle, title, MaxTitleLen)
}

func checkLen(verr *ValidationError, field, value string, limit int) {
	if n := utf8.RuneCountInString(value); n > limit {
		verr.add(field, "must be at most %d characters (got %d)", limit, n)
	}
}

func joinStatuses() string {
	s := make([]string, len(IssueStatuses))
	for i, v := range IssueStatuses {
		s[i] = string(v)
	}
	return strings.Join(s, ", ")
}

func joinPriorities() string {
	s := make([]string, len(IssuePriorities))
	for i, v := range IssuePriorities {
		s[i] = string(v)
	}
	return strings.Join(s, ", ")
}
