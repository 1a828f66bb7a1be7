package domain

import (
	"context"
	"errors"
	"time"

	log "github.com/sirupsen/logrus"
)

// SortOrder enumerates the supported list orderings.
type SortOrder string

const (
	SortLatest   SortOrder = "latest"
	SortDueDate  SortOrder = "dueDate"
	SortPriority SortOrder = "priority"
)

func (s SortOrder) Valid() bool {
	switch s {
	case SortLatest, SortDueDate, SortPriority:
		return true
	}
	return false
}

const (
	defaultPageLimit = 10
	maxPageLimit     = 100
)

// TaskQuery is the store-level query for a task page. Scope is always applied
// before pagination so that totals are correct for the caller's visibility.
type TaskQuery struct {
	Scope     Scope
	Priority  Priority
	Status    Status
	DueAfter  *time.Time
	DueBefore *time.Time
	Page      int
	Limit     int
	Sort      SortOrder
}

// TaskStore is the document store contract for tasks. Get returns the task
// together with its concurrency tag; (nil, "", nil) means absent. Update must
// be atomic with respect to the tag and fail with ErrConcurrencyConflict when
// the stored document has moved on.
type TaskStore interface {
	GetTask(ctx context.Context, id string) (*Task, string, error)
	InsertTask(ctx context.Context, t Task) error
	UpdateTask(ctx context.Context, t Task, etag string) error
	ListTasks(ctx context.Context, q TaskQuery) ([]Task, int, error)
	ListAllTasks(ctx context.Context, scope Scope) ([]Task, error)
}

// UserStore is the identity store contract consumed by the task core.
// FindUserByEmail matches active users only; a soft-deleted record must
// never satisfy the lookup.
type UserStore interface {
	GetUser(ctx context.Context, id string) (*User, error)
	ListUsers(ctx context.Context) ([]User, error)
	FindUserByEmail(ctx context.Context, email string) (*User, error)
	InsertUser(ctx context.Context, u User) error
	UpdateUser(ctx context.Context, u User) error
}

// StatusChangeView is a history entry with its author resolved.
type StatusChangeView struct {
	Status    Status    `json:"status"`
	ChangedAt time.Time `json:"changedAt"`
	ChangedBy UserRef   `json:"changedBy"`
}

// TaskView is the API projection of a task with user references resolved.
type TaskView struct {
	ID            string             `json:"id"`
	Title         string             `json:"title"`
	Description   string             `json:"description,omitempty"`
	DueDate       time.Time          `json:"dueDate"`
	Priority      Priority           `json:"priority"`
	Status        Status             `json:"status"`
	AssignedTo    []UserRef          `json:"assignedTo"`
	CreatedBy     UserRef            `json:"createdBy"`
	StatusHistory []StatusChangeView `json:"statusHistory"`
	CreatedAt     time.Time          `json:"createdAt"`
	UpdatedAt     time.Time          `json:"updatedAt"`
}

// Pagination reports the page window returned by List.
type Pagination struct {
	Page  int `json:"page"`
	Limit int `json:"limit"`
	Total int `json:"total"`
	Pages int `json:"pages"`
}

// TaskPage is a page of resolved tasks.
type TaskPage struct {
	Tasks      []TaskView `json:"tasks"`
	Pagination Pagination `json:"pagination"`
}

// ListOptions are the caller-facing filters for List.
type ListOptions struct {
	Priority  Priority
	Status    Status
	DueAfter  *time.Time
	DueBefore *time.Time
	Page      int
	Limit     int
	Sort      SortOrder
}

// TaskService implements the task lifecycle: validation, authorization,
// status history bookkeeping and reference resolution. It is stateless
// between calls; all state lives in the stores.
type TaskService struct {
	tasks  TaskStore
	users  UserStore
	events EventPublisher
}

// NewTaskService wires a lifecycle engine over the given stores. events may
// be nil when no queue is configured.
func NewTaskService(tasks TaskStore, users UserStore, events EventPublisher) *TaskService {
	return &TaskService{tasks: tasks, users: users, events: events}
}

// Create validates the draft, enforces the self-assignment rule, seeds the
// status history and persists the new task.
func (s *TaskService) Create(ctx context.Context, actor Actor, draft TaskDraft) (*TaskView, error) {
	if err := draft.Validate(); err != nil {
		return nil, err
	}
	if err := CheckAssignees(actor, draft.AssignedTo); err != nil {
		return nil, err
	}
	if err := s.checkAssigneesExist(ctx, draft.AssignedTo); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	t := Task{
		ID:          newID(),
		Title:       draft.Title,
		Description: draft.Description,
		DueDate:     draft.DueDate,
		Priority:    draft.Priority,
		Status:      StatusPending,
		AssignedTo:  draft.AssignedTo,
		CreatedBy:   actor.ID,
		StatusHistory: []StatusChange{
			{Status: StatusPending, ChangedAt: now, ChangedBy: actor.ID},
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.tasks.InsertTask(ctx, t); err != nil {
		return nil, err
	}
	s.publish(ctx, TaskEvent{Type: EventTaskCreated, TaskID: t.ID, ActorID: actor.ID, Status: t.Status, At: now})
	return s.resolve(ctx, &t)
}

// Get fetches a single non-deleted task, gated by the authorization policy.
func (s *TaskService) Get(ctx context.Context, actor Actor, id string) (*TaskView, error) {
	t, _, err := s.fetch(ctx, id)
	if err != nil {
		return nil, err
	}
	if !CanAccess(actor, t, OpRead) {
		return nil, &ForbiddenError{Reason: "not authorized to access this task"}
	}
	return s.resolve(ctx, t)
}

// List returns a page of tasks visible to the actor. The visibility scope is
// part of the store query, not applied after the fact, so totals stay correct
// under pagination.
func (s *TaskService) List(ctx context.Context, actor Actor, opts ListOptions) (*TaskPage, error) {
	if opts.Page < 1 {
		opts.Page = 1
	}
	if opts.Limit < 1 {
		opts.Limit = defaultPageLimit
	}
	if opts.Limit > maxPageLimit {
		return nil, NewValidationError("limit", "limit must be between 1 and 100")
	}
	if opts.Sort == "" {
		opts.Sort = SortLatest
	} else if !opts.Sort.Valid() {
		return nil, NewValidationError("sortBy", "invalid sort order")
	}
	if opts.Priority != "" && !opts.Priority.Valid() {
		return nil, NewValidationError("priority", "invalid priority")
	}
	if opts.Status != "" && !opts.Status.Valid() {
		return nil, NewValidationError("status", "invalid status")
	}

	q := TaskQuery{
		Scope:     VisibilityScope(actor),
		Priority:  opts.Priority,
		Status:    opts.Status,
		DueAfter:  opts.DueAfter,
		DueBefore: opts.DueBefore,
		Page:      opts.Page,
		Limit:     opts.Limit,
		Sort:      opts.Sort,
	}
	tasks, total, err := s.tasks.ListTasks(ctx, q)
	if err != nil {
		return nil, err
	}

	page := &TaskPage{
		Tasks: make([]TaskView, 0, len(tasks)),
		Pagination: Pagination{
			Page:  opts.Page,
			Limit: opts.Limit,
			Total: total,
			Pages: (total + opts.Limit - 1) / opts.Limit,
		},
	}
	refs, err := s.refsFor(ctx, tasks)
	if err != nil {
		return nil, err
	}
	for i := range tasks {
		page.Tasks = append(page.Tasks, viewOf(&tasks[i], refs))
	}
	return page, nil
}

// Update applies a partial field update. Status and history are unreachable
// through this path. Reassignment re-runs the same existence and
// self-assignment checks as creation.
func (s *TaskService) Update(ctx context.Context, actor Actor, id string, patch TaskPatch) (*TaskView, error) {
	if patch.Empty() {
		return nil, NewValidationError("body", "no fields to update")
	}
	if err := patch.Validate(); err != nil {
		return nil, err
	}
	if patch.AssignedTo != nil {
		if err := s.checkAssigneesExist(ctx, patch.AssignedTo); err != nil {
			return nil, err
		}
	}

	for {
		t, etag, err := s.fetch(ctx, id)
		if err != nil {
			return nil, err
		}
		if !CanAccess(actor, t, OpUpdate) {
			return nil, &ForbiddenError{Reason: "not authorized to update this task"}
		}
		if patch.AssignedTo != nil {
			if !CanAccess(actor, t, OpReassign) {
				return nil, &ForbiddenError{Reason: "not authorized to update this task"}
			}
			if err := CheckAssignees(actor, patch.AssignedTo); err != nil {
				return nil, err
			}
		}

		if patch.Title != nil {
			t.Title = *patch.Title
		}
		if patch.Description != nil {
			t.Description = *patch.Description
		}
		if patch.DueDate != nil {
			t.DueDate = *patch.DueDate
		}
		if patch.Priority != nil {
			t.Priority = *patch.Priority
		}
		if patch.AssignedTo != nil {
			t.AssignedTo = patch.AssignedTo
		}
		t.UpdatedAt = time.Now().UTC()

		if err := s.tasks.UpdateTask(ctx, *t, etag); err != nil {
			if errors.Is(err, ErrConcurrencyConflict) {
				continue
			}
			return nil, err
		}
		return s.resolve(ctx, t)
	}
}

// ChangeStatus transitions the task to newStatus and appends one history
// entry. A transition to the current status is a no-op that leaves both the
// task and its history untouched. Any pair of distinct states is a legal
// transition; completed tasks can be reopened.
func (s *TaskService) ChangeStatus(ctx context.Context, actor Actor, id string, newStatus Status) (*TaskView, error) {
	if !newStatus.Valid() {
		return nil, NewValidationError("status", "invalid status")
	}

	for {
		t, etag, err := s.fetch(ctx, id)
		if err != nil {
			return nil, err
		}
		if !CanAccess(actor, t, OpChangeStatus) {
			return nil, &ForbiddenError{Reason: "not authorized to update this task"}
		}
		if t.Status == newStatus {
			return s.resolve(ctx, t)
		}

		now := time.Now().UTC()
		t.Status = newStatus
		t.StatusHistory = append(t.StatusHistory, StatusChange{
			Status:    newStatus,
			ChangedAt: now,
			ChangedBy: actor.ID,
		})
		t.UpdatedAt = now

		if err := s.tasks.UpdateTask(ctx, *t, etag); err != nil {
			if errors.Is(err, ErrConcurrencyConflict) {
				continue
			}
			return nil, err
		}
		s.publish(ctx, TaskEvent{Type: EventTaskStatusChanged, TaskID: t.ID, ActorID: actor.ID, Status: newStatus, At: now})
		return s.resolve(ctx, t)
	}
}

// Delete soft-deletes the task: the record keeps its history but disappears
// from every read path and from analytics.
func (s *TaskService) Delete(ctx context.Context, actor Actor, id string) error {
	for {
		t, etag, err := s.fetch(ctx, id)
		if err != nil {
			return err
		}
		if !CanAccess(actor, t, OpDelete) {
			return &ForbiddenError{Reason: "not authorized to delete this task"}
		}

		now := time.Now().UTC()
		t.IsDeleted = true
		t.UpdatedAt = now

		if err := s.tasks.UpdateTask(ctx, *t, etag); err != nil {
			if errors.Is(err, ErrConcurrencyConflict) {
				continue
			}
			return err
		}
		s.publish(ctx, TaskEvent{Type: EventTaskDeleted, TaskID: t.ID, ActorID: actor.ID, At: now})
		return nil
	}
}

func (s *TaskService) fetch(ctx context.Context, id string) (*Task, string, error) {
	t, etag, err := s.tasks.GetTask(ctx, id)
	if err != nil {
		return nil, "", err
	}
	if t == nil || t.IsDeleted {
		return nil, "", &NotFoundError{Resource: "task"}
	}
	return t, etag, nil
}

func (s *TaskService) checkAssigneesExist(ctx context.Context, ids []string) error {
	for _, id := range ids {
		u, err := s.users.GetUser(ctx, id)
		if err != nil {
			return err
		}
		if u == nil || u.IsDeleted {
			return &NotFoundError{Resource: "assigned user"}
		}
	}
	return nil
}

func (s *TaskService) resolve(ctx context.Context, t *Task) (*TaskView, error) {
	refs, err := s.refsFor(ctx, []Task{*t})
	if err != nil {
		return nil, err
	}
	v := viewOf(t, refs)
	return &v, nil
}

// refsFor resolves every user id referenced by the given tasks to a display
// projection. Users deleted after being referenced still render as bare ids
// so that history stays intact.
func (s *TaskService) refsFor(ctx context.Context, tasks []Task) (map[string]UserRef, error) {
	refs := make(map[string]UserRef)
	want := func(id string) {
		if id != "" {
			refs[id] = UserRef{ID: id}
		}
	}
	for i := range tasks {
		want(tasks[i].CreatedBy)
		for _, id := range tasks[i].AssignedTo {
			want(id)
		}
		for _, h := range tasks[i].StatusHistory {
			want(h.ChangedBy)
		}
	}
	for id := range refs {
		u, err := s.users.GetUser(ctx, id)
		if err != nil {
			return nil, err
		}
		if u != nil {
			refs[id] = u.Ref()
		}
	}
	return refs, nil
}

func viewOf(t *Task, refs map[string]UserRef) TaskView {
	v := TaskView{
		ID:            t.ID,
		Title:         t.Title,
		Description:   t.Description,
		DueDate:       t.DueDate,
		Priority:      t.Priority,
		Status:        t.Status,
		AssignedTo:    make([]UserRef, 0, len(t.AssignedTo)),
		CreatedBy:     refs[t.CreatedBy],
		StatusHistory: make([]StatusChangeView, 0, len(t.StatusHistory)),
		CreatedAt:     t.CreatedAt,
		UpdatedAt:     t.UpdatedAt,
	}
	for _, id := range t.AssignedTo {
		v.AssignedTo = append(v.AssignedTo, refs[id])
	}
	for _, h := range t.StatusHistory {
		v.StatusHistory = append(v.StatusHistory, StatusChangeView{
			Status:    h.Status,
			ChangedAt: h.ChangedAt,
			ChangedBy: refs[h.ChangedBy],
		})
	}
	return v
}

func (s *TaskService) publish(ctx context.Context, ev TaskEvent) {
	if s.events == nil {
		return
	}
	if err := s.events.PublishTaskEvent(ctx, ev); err != nil {
		log.WithFields(log.Fields{"task": ev.TaskID, "event": ev.Type}).Warnf("publish task event: %v", err)
	}
}
