package domain

import (
	"context"
	"sort"
	"strconv"
	"sync"
)

type fakeTaskStore struct {
	mu        sync.Mutex
	tasks     map[string]Task
	etags     map[string]int
	conflicts int // number of updates to reject with ErrConcurrencyConflict
	inserts   int
	updates   int
}

func newFakeTaskStore() *fakeTaskStore {
	return &fakeTaskStore{tasks: map[string]Task{}, etags: map[string]int{}}
}

func (f *fakeTaskStore) GetTask(ctx context.Context, id string) (*Task, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tasks[id]
	if !ok {
		return nil, "", nil
	}
	cp := cloneTask(t)
	return &cp, strconv.Itoa(f.etags[id]), nil
}

func (f *fakeTaskStore) InsertTask(ctx context.Context, t Task) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tasks[t.ID] = cloneTask(t)
	f.etags[t.ID] = 1
	f.inserts++
	return nil
}

func (f *fakeTaskStore) UpdateTask(ctx context.Context, t Task, etag string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.conflicts > 0 {
		f.conflicts--
		f.etags[t.ID]++
		return ErrConcurrencyConflict
	}
	if etag != strconv.Itoa(f.etags[t.ID]) {
		return ErrConcurrencyConflict
	}
	f.tasks[t.ID] = cloneTask(t)
	f.etags[t.ID]++
	f.updates++
	return nil
}

func (f *fakeTaskStore) ListTasks(ctx context.Context, q TaskQuery) ([]Task, int, error) {
	all, err := f.ListAllTasks(ctx, q.Scope)
	if err != nil {
		return nil, 0, err
	}
	filtered := all[:0]
	for _, t := range all {
		if q.Priority != "" && t.Priority != q.Priority {
			continue
		}
		if q.Status != "" && t.Status != q.Status {
			continue
		}
		if q.DueAfter != nil && t.DueDate.Before(*q.DueAfter) {
			continue
		}
		if q.DueBefore != nil && t.DueDate.After(*q.DueBefore) {
			continue
		}
		filtered = append(filtered, t)
	}
	sort.SliceStable(filtered, func(i, j int) bool {
		return filtered[i].CreatedAt.After(filtered[j].CreatedAt)
	})
	switch q.Sort {
	case SortDueDate:
		sort.SliceStable(filtered, func(i, j int) bool {
			return filtered[i].DueDate.Before(filtered[j].DueDate)
		})
	case SortPriority:
		sort.SliceStable(filtered, func(i, j int) bool {
			return filtered[i].Priority.Rank() > filtered[j].Priority.Rank()
		})
	}
	total := len(filtered)
	start := (q.Page - 1) * q.Limit
	if start >= total {
		return nil, total, nil
	}
	end := start + q.Limit
	if end > total {
		end = total
	}
	return filtered[start:end], total, nil
}

func (f *fakeTaskStore) ListAllTasks(ctx context.Context, scope Scope) ([]Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ids := make([]string, 0, len(f.tasks))
	for id := range f.tasks {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out := make([]Task, 0, len(ids))
	for _, id := range ids {
		t := f.tasks[id]
		if !scope.Matches(&t) {
			continue
		}
		out = append(out, cloneTask(t))
	}
	return out, nil
}

func cloneTask(t Task) Task {
	t.AssignedTo = append([]string(nil), t.AssignedTo...)
	t.StatusHistory = append([]StatusChange(nil), t.StatusHistory...)
	return t
}

type fakeUserStore struct {
	mu    sync.Mutex
	users map[string]User
}

func newFakeUserStore(users ...User) *fakeUserStore {
	f := &fakeUserStore{users: map[string]User{}}
	for _, u := range users {
		f.users[u.ID] = u
	}
	return f
}

func (f *fakeUserStore) GetUser(ctx context.Context, id string) (*User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return nil, nil
	}
	return &u, nil
}

func (f *fakeUserStore) ListUsers(ctx context.Context) ([]User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ids := make([]string, 0, len(f.users))
	for id := range f.users {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out := make([]User, 0, len(ids))
	for _, id := range ids {
		out = append(out, f.users[id])
	}
	return out, nil
}

func (f *fakeUserStore) FindUserByEmail(ctx context.Context, email string) (*User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.users {
		if u.Email == email && !u.IsDeleted {
			cp := u
			return &cp, nil
		}
	}
	return nil, nil
}

func (f *fakeUserStore) InsertUser(ctx context.Context, u User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.users[u.ID] = u
	return nil
}

func (f *fakeUserStore) UpdateUser(ctx context.Context, u User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.users[u.ID] = u
	return nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []TaskEvent
}

func (p *recordingPublisher) PublishTaskEvent(ctx context.Context, ev TaskEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

func (p *recordingPublisher) Events() []TaskEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]TaskEvent, len(p.events))
	copy(out, p.events)
	return out
}
