package storage

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"

	"taskflow-api/domain"
)

const (
	taskPartition = "task"
	userPartition = "user"

	timeLayout = time.RFC3339Nano
)

// Storage provides the task and identity document stores on Azure Tables.
// Tasks live under a single logical partition keyed by id; single-entity
// updates are atomic through ETag preconditions.
type Storage struct {
	taskTable *aztables.Client
	userTable *aztables.Client
}

// New creates a Storage instance from the given connection string.
func New(connStr, tasksTable, usersTable string) (*Storage, error) {
	opts := aztables.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    3,
				TryTimeout:    time.Minute * 3,
				RetryDelay:    time.Second * 1,
				MaxRetryDelay: time.Second * 15,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
	svc, err := aztables.NewServiceClientFromConnectionString(connStr, &opts)
	if err != nil {
		return nil, err
	}
	return &Storage{
		taskTable: svc.NewClient(tasksTable),
		userTable: svc.NewClient(usersTable),
	}, nil
}

type taskEntity struct {
	aztables.Entity
	Title         string `json:"Title"`
	Description   string `json:"Description,omitempty"`
	DueDate       string `json:"DueDate"`
	Priority      string `json:"Priority"`
	Status        string `json:"Status"`
	AssignedTo    string `json:"AssignedTo"`
	CreatedBy     string `json:"CreatedBy"`
	StatusHistory string `json:"StatusHistory"`
	IsDeleted     bool   `json:"IsDeleted"`
	CreatedAt     string `json:"CreatedAt"`
	UpdatedAt     string `json:"UpdatedAt"`
}

func encodeTask(t domain.Task) (*taskEntity, error) {
	assigned, err := json.Marshal(t.AssignedTo)
	if err != nil {
		return nil, err
	}
	history, err := json.Marshal(t.StatusHistory)
	if err != nil {
		return nil, err
	}
	return &taskEntity{
		Entity:        aztables.Entity{PartitionKey: taskPartition, RowKey: t.ID},
		Title:         t.Title,
		Description:   t.Description,
		DueDate:       t.DueDate.UTC().Format(timeLayout),
		Priority:      string(t.Priority),
		Status:        string(t.Status),
		AssignedTo:    string(assigned),
		CreatedBy:     t.CreatedBy,
		StatusHistory: string(history),
		IsDeleted:     t.IsDeleted,
		CreatedAt:     t.CreatedAt.UTC().Format(timeLayout),
		UpdatedAt:     t.UpdatedAt.UTC().Format(timeLayout),
	}, nil
}

func decodeTask(data []byte) (*domain.Task, error) {
	var ent taskEntity
	if err := json.Unmarshal(data, &ent); err != nil {
		return nil, err
	}
	t := domain.Task{
		ID:          ent.RowKey,
		Title:       ent.Title,
		Description: ent.Description,
		Priority:    domain.Priority(ent.Priority),
		Status:      domain.Status(ent.Status),
		CreatedBy:   ent.CreatedBy,
		IsDeleted:   ent.IsDeleted,
	}
	if err := json.Unmarshal([]byte(ent.AssignedTo), &t.AssignedTo); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(ent.StatusHistory), &t.StatusHistory); err != nil {
		return nil, err
	}
	var err error
	if t.DueDate, err = time.Parse(timeLayout, ent.DueDate); err != nil {
		return nil, err
	}
	if t.CreatedAt, err = time.Parse(timeLayout, ent.CreatedAt); err != nil {
		return nil, err
	}
	if t.UpdatedAt, err = time.Parse(timeLayout, ent.UpdatedAt); err != nil {
		return nil, err
	}
	return &t, nil
}

// GetTask fetches a task and its concurrency tag. Absent tasks return
// (nil, "", nil).
func (s *Storage) GetTask(ctx context.Context, id string) (*domain.Task, string, error) {
	resp, err := s.taskTable.GetEntity(ctx, taskPartition, id, nil)
	if err != nil {
		if isStatus(err, http.StatusNotFound) {
			return nil, "", nil
		}
		return nil, "", err
	}
	t, err := decodeTask(resp.Value)
	if err != nil {
		return nil, "", err
	}
	return t, string(resp.ETag), nil
}

// InsertTask persists a new task document.
func (s *Storage) InsertTask(ctx context.Context, t domain.Task) error {
	ent, err := encodeTask(t)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(ent)
	if err != nil {
		return err
	}
	_, err = s.taskTable.AddEntity(ctx, payload, nil)
	return err
}

// UpdateTask replaces the task document, guarded by the caller's tag. A
// concurrent writer surfaces as ErrConcurrencyConflict so callers can
// re-read and retry without losing history appends.
func (s *Storage) UpdateTask(ctx context.Context, t domain.Task, etag string) error {
	ent, err := encodeTask(t)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(ent)
	if err != nil {
		return err
	}
	match := azcore.ETag(etag)
	_, err = s.taskTable.UpdateEntity(ctx, payload, &aztables.UpdateEntityOptions{
		IfMatch:    &match,
		UpdateMode: aztables.UpdateModeReplace,
	})
	if err != nil {
		if isStatus(err, http.StatusPreconditionFailed) {
			return domain.ErrConcurrencyConflict
		}
		return err
	}
	return nil
}

// ListTasks scans the visible tasks matching the query and returns one page
// plus the total match count. The scope and filters are applied during the
// scan, before pagination, so totals stay correct for the caller.
func (s *Storage) ListTasks(ctx context.Context, q domain.TaskQuery) ([]domain.Task, int, error) {
	tasks, err := s.scanTasks(ctx, q.Scope, taskFilter(q))
	if err != nil {
		return nil, 0, err
	}
	matched := tasks[:0]
	for i := range tasks {
		if matchesRange(&tasks[i], q.DueAfter, q.DueBefore) {
			matched = append(matched, tasks[i])
		}
	}
	sortTasks(matched, q.Sort)
	page := pageOf(matched, q.Page, q.Limit)
	return page, len(matched), nil
}

// ListAllTasks returns every task in the scope, used by analytics.
func (s *Storage) ListAllTasks(ctx context.Context, scope domain.Scope) ([]domain.Task, error) {
	return s.scanTasks(ctx, scope, baseTaskFilter())
}

func (s *Storage) scanTasks(ctx context.Context, scope domain.Scope, filter string) ([]domain.Task, error) {
	pager := s.taskTable.NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: &filter})
	var tasks []domain.Task
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, raw := range resp.Entities {
			t, err := decodeTask(raw)
			if err != nil {
				return nil, err
			}
			// Assignee membership lives in a JSON property the table
			// cannot filter on, so the scope check happens in the scan.
			if !scope.Matches(t) {
				continue
			}
			tasks = append(tasks, *t)
		}
	}
	return tasks, nil
}

func baseTaskFilter() string {
	return "PartitionKey eq '" + taskPartition + "' and IsDeleted eq false"
}

func taskFilter(q domain.TaskQuery) string {
	var b strings.Builder
	b.WriteString(baseTaskFilter())
	if q.Priority != "" {
		b.WriteString(" and Priority eq '" + escapeOData(string(q.Priority)) + "'")
	}
	if q.Status != "" {
		b.WriteString(" and Status eq '" + escapeOData(string(q.Status)) + "'")
	}
	return b.String()
}

func matchesRange(t *domain.Task, after, before *time.Time) bool {
	if after != nil && t.DueDate.Before(*after) {
		return false
	}
	if before != nil && t.DueDate.After(*before) {
		return false
	}
	return true
}

// sortTasks orders the slice for the requested ordering. Creation order
// (newest first) is both the default and the tie-break for the other sorts.
func sortTasks(tasks []domain.Task, order domain.SortOrder) {
	sort.SliceStable(tasks, func(i, j int) bool {
		return tasks[i].CreatedAt.After(tasks[j].CreatedAt)
	})
	switch order {
	case domain.SortDueDate:
		sort.SliceStable(tasks, func(i, j int) bool {
			return tasks[i].DueDate.Before(tasks[j].DueDate)
		})
	case domain.SortPriority:
		sort.SliceStable(tasks, func(i, j int) bool {
			return tasks[i].Priority.Rank() > tasks[j].Priority.Rank()
		})
	}
}

func pageOf(tasks []domain.Task, page, limit int) []domain.Task {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = len(tasks)
	}
	start := (page - 1) * limit
	if start >= len(tasks) {
		return nil
	}
	end := start + limit
	if end > len(tasks) {
		end = len(tasks)
	}
	return tasks[start:end]
}

type userEntity struct {
	aztables.Entity
	Name         string `json:"Name"`
	Email        string `json:"Email"`
	PasswordHash string `json:"PasswordHash"`
	Role         string `json:"Role"`
	IsDeleted    bool   `json:"IsDeleted"`
	CreatedAt    string `json:"CreatedAt"`
}

func encodeUser(u domain.User) *userEntity {
	return &userEntity{
		Entity:       aztables.Entity{PartitionKey: userPartition, RowKey: u.ID},
		Name:         u.Name,
		Email:        u.Email,
		PasswordHash: u.PasswordHash,
		Role:         string(u.Role),
		IsDeleted:    u.IsDeleted,
		CreatedAt:    u.CreatedAt.UTC().Format(timeLayout),
	}
}

func decodeUser(data []byte) (*domain.User, error) {
	var ent userEntity
	if err := json.Unmarshal(data, &ent); err != nil {
		return nil, err
	}
	u := domain.User{
		ID:           ent.RowKey,
		Name:         ent.Name,
		Email:        ent.Email,
		PasswordHash: ent.PasswordHash,
		Role:         domain.Role(ent.Role),
		IsDeleted:    ent.IsDeleted,
	}
	if ent.CreatedAt != "" {
		created, err := time.Parse(timeLayout, ent.CreatedAt)
		if err != nil {
			return nil, err
		}
		u.CreatedAt = created
	}
	return &u, nil
}

// GetUser fetches a single user; absent users return (nil, nil).
func (s *Storage) GetUser(ctx context.Context, id string) (*domain.User, error) {
	resp, err := s.userTable.GetEntity(ctx, userPartition, id, nil)
	if err != nil {
		if isStatus(err, http.StatusNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return decodeUser(resp.Value)
}

// ListUsers returns every user record, including soft-deleted ones; callers
// filter by their own rules.
func (s *Storage) ListUsers(ctx context.Context) ([]domain.User, error) {
	filter := "PartitionKey eq '" + userPartition + "'"
	pager := s.userTable.NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: &filter})
	var users []domain.User
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, raw := range resp.Entities {
			u, err := decodeUser(raw)
			if err != nil {
				return nil, err
			}
			users = append(users, *u)
		}
	}
	return users, nil
}

// FindUserByEmail returns the first active user with the given email.
// Soft-deleted records never match; their email is free for reuse and must
// not mask an active holder of the same address.
func (s *Storage) FindUserByEmail(ctx context.Context, email string) (*domain.User, error) {
	filter := userEmailFilter(email)
	pager := s.userTable.NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: &filter})
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		if len(resp.Entities) > 0 {
			return decodeUser(resp.Entities[0])
		}
	}
	return nil, nil
}

// InsertUser persists a new user record.
func (s *Storage) InsertUser(ctx context.Context, u domain.User) error {
	payload, err := json.Marshal(encodeUser(u))
	if err != nil {
		return err
	}
	_, err = s.userTable.AddEntity(ctx, payload, nil)
	return err
}

// UpdateUser replaces the user record.
func (s *Storage) UpdateUser(ctx context.Context, u domain.User) error {
	payload, err := json.Marshal(encodeUser(u))
	if err != nil {
		return err
	}
	_, err = s.userTable.UpsertEntity(ctx, payload, &aztables.UpsertEntityOptions{
		UpdateMode: aztables.UpdateModeReplace,
	})
	return err
}

func userEmailFilter(email string) string {
	return "PartitionKey eq '" + userPartition + "' and Email eq '" + escapeOData(email) + "' and IsDeleted eq false"
}

func isStatus(err error, status int) bool {
	var respErr *azcore.ResponseError
	return errors.As(err, &respErr) && respErr.StatusCode == status
}

func escapeOData(v string) string {
	return strings.ReplaceAll(v, "'", "''")
}
