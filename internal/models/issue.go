package models

import (
	"time"
)

// IssueStatus represents the state of an issue.
type IssueStatus string

const (
	IssueStatusOpen       IssueStatus = "open"
	IssueStatusInProgress IssueStatus = "in_progress"
	IssueStatusResolved   IssueStatus = "resolved"
	IssueStatusClosed     IssueStatus = "closed"
)

// IssueStatuses lists every valid status in lifecycle order.
var IssueStatuses = []IssueStatus{
	IssueStatusOpen,
	IssueStatusInProgress,
	IssueStatusResolved,
	IssueStatusClosed,
}

// Valid reports whether s is a defined status.
func (s IssueStatus) Valid() bool {
	for _, v := range IssueStatuses {
		if s == v {
			return true
		}
	}
	return false
}

// IssuePriority represents the urgency of an issue.
type IssuePriority string

const (
	IssuePriorityLow      IssuePriority = "low"
	IssuePriorityMedium   IssuePriority = "medium"
	IssuePriorityHigh     IssuePriority = "high"
	IssuePriorityCritical IssuePriority = "critical"
)

// IssuePriorities lists every valid priority from lowest to highest.
var IssuePriorities = []IssuePriority{
	IssuePriorityLow,
	IssuePriorityMedium,
	IssuePriorityHigh,
	IssuePriorityCritical,
}

// Valid reports whether p is a defined priority.
func (p IssuePriority) Valid() bool {
	for _, v := range IssuePriorities {
		if p == v {
			return true
		}
	}
	return false
}

// Field names as they appear on the wire and in stored documents.
const (
	FieldID          = "id"
	FieldTitle       = "title"
	FieldDescription = "description"
	FieldStatus      = "status"
	FieldPriority    = "priority"
	FieldAssignee    = "assignee"
	FieldCreatedAt   = "created_at"
	FieldUpdatedAt   = "updated_at"
)

// Length limits, counted in runes.
const (
	MaxTitleLen       = 200
	MaxDescriptionLen = 1000
	MaxAssigneeLen    = 100
)

// Issue represents a tracked issue.
type Issue struct {
	ID          string        `json:"id"`
	Title       string        `json:"title"`
	Description *string       `json:"description"`
	Status      IssueStatus   `json:"status"`
	Priority    IssuePriority `json:"priority"`
	Assignee    *string       `json:"assignee"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
}

// DescriptionOr returns the description, or def when unset.
func (i *Issue) DescriptionOr(def string) string {
	if i.Description == nil {
		return def
	}
	return *i.Description
}

// AssigneeOr returns the assignee, or def when unset.
func (i *Issue) AssigneeOr(def string) string {
	if i.Assignee == nil {
		return def
	}
	return *i.Assignee
}

// StringPtr returns a pointer to s.
func StringPtr(s string) *string {
	return &s
}
