package domain

import (
	"strings"
	"time"
	"unicode/utf8"
)

// Status enumerates the task lifecycle states.
type Status string

const (
	StatusPending    Status = "Pending"
	StatusInProgress Status = "In Progress"
	StatusCompleted  Status = "Completed"
)

// Statuses lists every state in reporting order.
var Statuses = []Status{StatusPending, StatusInProgress, StatusCompleted}

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusInProgress, StatusCompleted:
		return true
	}
	return false
}

// Priority enumerates task priorities.
type Priority string

const (
	PriorityLow    Priority = "Low"
	PriorityMedium Priority = "Medium"
	PriorityHigh   Priority = "High"
)

// Priorities lists every priority in reporting order.
var Priorities = []Priority{PriorityLow, PriorityMedium, PriorityHigh}

func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh:
		return true
	}
	return false
}

// Rank orders priorities for sorting. Higher is more urgent.
func (p Priority) Rank() int {
	switch p {
	case PriorityHigh:
		return 3
	case PriorityMedium:
		return 2
	case PriorityLow:
		return 1
	}
	return 0
}

const (
	maxTitleLen       = 200
	maxDescriptionLen = 1000
)

// StatusChange is a single immutable entry in a task's status history.
type StatusChange struct {
	Status    Status    `json:"status"`
	ChangedAt time.Time `json:"changedAt"`
	ChangedBy string    `json:"changedBy"`
}

// Task is the persisted task document.
type Task struct {
	ID            string         `json:"id"`
	Title         string         `json:"title"`
	Description   string         `json:"description,omitempty"`
	DueDate       time.Time      `json:"dueDate"`
	Priority      Priority       `json:"priority"`
	Status        Status         `json:"status"`
	AssignedTo    []string       `json:"assignedTo"`
	CreatedBy     string         `json:"createdBy"`
	StatusHistory []StatusChange `json:"statusHistory"`
	IsDeleted     bool           `json:"isDeleted"`
	CreatedAt     time.Time      `json:"createdAt"`
	UpdatedAt     time.Time      `json:"updatedAt"`
}

// IsAssignee reports whether the given user id appears in AssignedTo.
func (t *Task) IsAssignee(userID string) bool {
	for _, id := range t.AssignedTo {
		if id == userID {
			return true
		}
	}
	return false
}

// Overdue reports whether the task is past due and not yet completed.
func (t *Task) Overdue(now time.Time) bool {
	return t.Status != StatusCompleted && t.DueDate.Before(now)
}

// TaskDraft is the input for creating a task.
type TaskDraft struct {
	Title       string
	Description string
	DueDate     time.Time
	Priority    Priority
	AssignedTo  []string
}

// Validate normalizes the draft and reports every rejected field.
func (d *TaskDraft) Validate() error {
	ve := &ValidationError{}
	d.Title = strings.TrimSpace(d.Title)
	d.Description = strings.TrimSpace(d.Description)
	if d.Title == "" {
		ve.Add("title", "title is required")
	} else if utf8.RuneCountInString(d.Title) > maxTitleLen {
		ve.Add("title", "title cannot exceed 200 characters")
	}
	if utf8.RuneCountInString(d.Description) > maxDescriptionLen {
		ve.Add("description", "description cannot exceed 1000 characters")
	}
	if d.DueDate.IsZero() {
		ve.Add("dueDate", "due date is required")
	}
	if d.Priority == "" {
		d.Priority = PriorityMedium
	} else if !d.Priority.Valid() {
		ve.Add("priority", "invalid priority")
	}
	if len(d.AssignedTo) == 0 {
		ve.Add("assignedTo", "at least one assignee is required")
	} else {
		d.AssignedTo = dedupe(d.AssignedTo)
		for _, id := range d.AssignedTo {
			if strings.TrimSpace(id) == "" {
				ve.Add("assignedTo", "invalid user id")
				break
			}
		}
	}
	return ve.ErrOrNil()
}

// TaskPatch carries partial field updates for a task. Nil fields are left
// untouched. Status and status history are never reachable through a patch.
type TaskPatch struct {
	Title       *string
	Description *string
	DueDate     *time.Time
	Priority    *Priority
	AssignedTo  []string
}

// Validate normalizes the patch and reports every rejected field.
func (p *TaskPatch) Validate() error {
	ve := &ValidationError{}
	if p.Title != nil {
		trimmed := strings.TrimSpace(*p.Title)
		p.Title = &trimmed
		if trimmed == "" {
			ve.Add("title", "title cannot be empty")
		} else if utf8.RuneCountInString(trimmed) > maxTitleLen {
			ve.Add("title", "title cannot exceed 200 characters")
		}
	}
	if p.Description != nil {
		trimmed := strings.TrimSpace(*p.Description)
		p.Description = &trimmed
		if utf8.RuneCountInString(trimmed) > maxDescriptionLen {
			ve.Add("description", "description cannot exceed 1000 characters")
		}
	}
	if p.DueDate != nil && p.DueDate.IsZero() {
		ve.Add("dueDate", "invalid due date")
	}
	if p.Priority != nil && !p.Priority.Valid() {
		ve.Add("priority", "invalid priority")
	}
	if p.AssignedTo != nil {
		if len(p.AssignedTo) == 0 {
			ve.Add("assignedTo", "at least one assignee is required")
		} else {
			p.AssignedTo = dedupe(p.AssignedTo)
			for _, id := range p.AssignedTo {
				if strings.TrimSpace(id) == "" {
					ve.Add("assignedTo", "invalid user id")
					break
				}
			}
		}
	}
	return ve.ErrOrNil()
}

// Empty reports whether the patch changes nothing.
func (p *TaskPatch) Empty() bool {
	return p.Title == nil && p.Description == nil && p.DueDate == nil &&
		p.Priority == nil && p.AssignedTo == nil
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := ids[:0]
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
