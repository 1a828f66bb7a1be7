package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"taskflow-api/domain"
)

type mockTasks struct {
	createFn       func(ctx context.Context, actor domain.Actor, draft domain.TaskDraft) (*domain.TaskView, error)
	getFn          func(ctx context.Context, actor domain.Actor, id string) (*domain.TaskView, error)
	listFn         func(ctx context.Context, actor domain.Actor, opts domain.ListOptions) (*domain.TaskPage, error)
	updateFn       func(ctx context.Context, actor domain.Actor, id string, patch domain.TaskPatch) (*domain.TaskView, error)
	changeStatusFn func(ctx context.Context, actor domain.Actor, id string, status domain.Status) (*domain.TaskView, error)
	deleteFn       func(ctx context.Context, actor domain.Actor, id string) error
}

func (m *mockTasks) Create(ctx context.Context, actor domain.Actor, draft domain.TaskDraft) (*domain.TaskView, error) {
	if m.createFn == nil {
		return nil, errors.New("unexpected Create call")
	}
	return m.createFn(ctx, actor, draft)
}

func (m *mockTasks) Get(ctx context.Context, actor domain.Actor, id string) (*domain.TaskView, error) {
	if m.getFn == nil {
		return nil, errors.New("unexpected Get call")
	}
	return m.getFn(ctx, actor, id)
}

func (m *mockTasks) List(ctx context.Context, actor domain.Actor, opts domain.ListOptions) (*domain.TaskPage, error) {
	if m.listFn == nil {
		return nil, errors.New("unexpected List call")
	}
	return m.listFn(ctx, actor, opts)
}

func (m *mockTasks) Update(ctx context.Context, actor domain.Actor, id string, patch domain.TaskPatch) (*domain.TaskView, error) {
	if m.updateFn == nil {
		return nil, errors.New("unexpected Update call")
	}
	return m.updateFn(ctx, actor, id, patch)
}

func (m *mockTasks) ChangeStatus(ctx context.Context, actor domain.Actor, id string, status domain.Status) (*domain.TaskView, error) {
	if m.changeStatusFn == nil {
		return nil, errors.New("unexpected ChangeStatus call")
	}
	return m.changeStatusFn(ctx, actor, id, status)
}

func (m *mockTasks) Delete(ctx context.Context, actor domain.Actor, id string) error {
	if m.deleteFn == nil {
		return errors.New("unexpected Delete call")
	}
	return m.deleteFn(ctx, actor, id)
}

type mockUsers struct {
	listFn   func(ctx context.Context, actor domain.Actor) ([]domain.UserView, error)
	createFn func(ctx context.Context, actor domain.Actor, draft domain.UserDraft) (*domain.UserView, error)
	deleteFn func(ctx context.Context, actor domain.Actor, id string) error
}

func (m *mockUsers) List(ctx context.Context, actor domain.Actor) ([]domain.UserView, error) {
	if m.listFn == nil {
		return nil, errors.New("unexpected List call")
	}
	return m.listFn(ctx, actor)
}

func (m *mockUsers) Create(ctx context.Context, actor domain.Actor, draft domain.UserDraft) (*domain.UserView, error) {
	if m.createFn == nil {
		return nil, errors.New("unexpected Create call")
	}
	return m.createFn(ctx, actor, draft)
}

func (m *mockUsers) Delete(ctx context.Context, actor domain.Actor, id string) error {
	if m.deleteFn == nil {
		return errors.New("unexpected Delete call")
	}
	return m.deleteFn(ctx, actor, id)
}

type mockAnalytics struct {
	statsFn func(ctx context.Context, actor domain.Actor) (*domain.DashboardStats, error)
}

func (m *mockAnalytics) DashboardStats(ctx context.Context, actor domain.Actor) (*domain.DashboardStats, error) {
	if m.statsFn == nil {
		return nil, errors.New("unexpected DashboardStats call")
	}
	return m.statsFn(ctx, actor)
}

type mockAuth struct {
	actor domain.Actor
	err   error
}

func (m mockAuth) ActorFromAuthHeader(string) (domain.Actor, error) {
	return m.actor, m.err
}

func quietLogger() *log.Logger {
	logger := log.New()
	logger.SetOutput(io.Discard)
	return logger
}

func newTestServer(tasks Tasks, users Users, analytics Analytics, auth Authenticator) *echo.Echo {
	e := echo.New()
	e.Logger.SetOutput(io.Discard)
	if tasks == nil {
		tasks = &mockTasks{}
	}
	if users == nil {
		users = &mockUsers{}
	}
	if analytics == nil {
		analytics = &mockAnalytics{}
	}
	Register(e, tasks, users, analytics, auth, quietLogger())
	return e
}

func perform(e *echo.Echo, method, target, body string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	req.Header.Set(echo.HeaderAuthorization, "Bearer a.b.c")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

type responseEnvelope struct {
	Success bool                `json:"success"`
	Data    json.RawMessage     `json:"data"`
	Message string              `json:"message"`
	Errors  []domain.FieldError `json:"errors"`
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) responseEnvelope {
	t.Helper()
	var env responseEnvelope
	if err := sonic.ConfigStd.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode envelope: %v (body: %s)", err, rec.Body.String())
	}
	return env
}

var testActor = domain.Actor{ID: "u-alice", Role: domain.RoleUser}

func sampleView(id string) *domain.TaskView {
	return &domain.TaskView{
		ID:       id,
		Title:    "Rotate API keys",
		DueDate:  time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC),
		Priority: domain.PriorityHigh,
		Status:   domain.StatusPending,
	}
}

func TestCreateTaskCreated(t *testing.T) {
	var gotDraft domain.TaskDraft
	tasks := &mockTasks{
		createFn: func(ctx context.Context, actor domain.Actor, draft domain.TaskDraft) (*domain.TaskView, error) {
			if actor != testActor {
				t.Fatalf("unexpected actor: %#v", actor)
			}
			gotDraft = draft
			return sampleView("t-1"), nil
		},
	}
	e := newTestServer(tasks, nil, nil, mockAuth{actor: testActor})

	body := `{"title":"Rotate API keys","dueDate":"2026-05-01T00:00:00Z","priority":"High","assignedTo":["u-alice"]}`
	rec := perform(e, http.MethodPost, "/api/tasks", body)

	if rec.Code != http.StatusCreated {
		t.Fatalf("unexpected status: %d (%s)", rec.Code, rec.Body.String())
	}
	env := decodeEnvelope(t, rec)
	if !env.Success {
		t.Fatalf("expected success envelope: %s", rec.Body.String())
	}
	if gotDraft.Title != "Rotate API keys" || gotDraft.Priority != domain.PriorityHigh {
		t.Fatalf("draft not passed through: %#v", gotDraft)
	}
	if len(gotDraft.AssignedTo) != 1 || gotDraft.AssignedTo[0] != "u-alice" {
		t.Fatalf("assignees not passed through: %#v", gotDraft.AssignedTo)
	}
}

func TestCreateTaskRejectsUnknownFields(t *testing.T) {
	e := newTestServer(&mockTasks{}, nil, nil, mockAuth{actor: testActor})

	rec := perform(e, http.MethodPost, "/api/tasks", `{"title":"x","bogus":true}`)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("unexpected status: %d", rec.Code)
	}
	env := decodeEnvelope(t, rec)
	if env.Success || env.Message != "invalid request body" {
		t.Fatalf("unexpected envelope: %s", rec.Body.String())
	}
}

func TestCreateTaskValidationErrorsInEnvelope(t *testing.T) {
	tasks := &mockTasks{
		createFn: func(ctx context.Context, actor domain.Actor, draft domain.TaskDraft) (*domain.TaskView, error) {
			return nil, domain.NewValidationError("title", "title is required")
		},
	}
	e := newTestServer(tasks, nil, nil, mockAuth{actor: testActor})

	rec := perform(e, http.MethodPost, "/api/tasks", `{"title":""}`)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("unexpected status: %d", rec.Code)
	}
	env := decodeEnvelope(t, rec)
	if len(env.Errors) != 1 || env.Errors[0].Field != "title" {
		t.Fatalf("expected field errors, got: %s", rec.Body.String())
	}
}

func TestGetTaskNotFound(t *testing.T) {
	tasks := &mockTasks{
		getFn: func(ctx context.Context, actor domain.Actor, id string) (*domain.TaskView, error) {
			return nil, &domain.NotFoundError{Resource: "task"}
		},
	}
	e := newTestServer(tasks, nil, nil, mockAuth{actor: testActor})

	rec := perform(e, http.MethodGet, "/api/tasks/t-404", "")

	if rec.Code != http.StatusNotFound {
		t.Fatalf("unexpected status: %d", rec.Code)
	}
	env := decodeEnvelope(t, rec)
	if env.Success || env.Message != "task not found" {
		t.Fatalf("unexpected envelope: %s", rec.Body.String())
	}
}

func TestListTasksParsesQuery(t *testing.T) {
	var gotOpts domain.ListOptions
	tasks := &mockTasks{
		listFn: func(ctx context.Context, actor domain.Actor, opts domain.ListOptions) (*domain.TaskPage, error) {
			gotOpts = opts
			return &domain.TaskPage{
				Tasks:      []domain.TaskView{*sampleView("t-1")},
				Pagination: domain.Pagination{Page: 2, Limit: 5, Total: 11, Pages: 3},
			}, nil
		},
	}
	e := newTestServer(tasks, nil, nil, mockAuth{actor: testActor})

	rec := perform(e, http.MethodGet,
		"/api/tasks?page=2&limit=5&sortBy=priority&priority=High&status=Pending&startDate=2026-04-01&endDate=2026-04-30T23:59:59Z", "")

	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d (%s)", rec.Code, rec.Body.String())
	}
	if gotOpts.Page != 2 || gotOpts.Limit != 5 {
		t.Fatalf("pagination not parsed: %#v", gotOpts)
	}
	if gotOpts.Sort != domain.SortPriority || gotOpts.Priority != domain.PriorityHigh || gotOpts.Status != domain.StatusPending {
		t.Fatalf("filters not parsed: %#v", gotOpts)
	}
	if gotOpts.DueAfter == nil || !gotOpts.DueAfter.Equal(time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("startDate not parsed: %#v", gotOpts.DueAfter)
	}
	if gotOpts.DueBefore == nil {
		t.Fatalf("endDate not parsed")
	}
}

func TestListTasksRejectsBadPagination(t *testing.T) {
	e := newTestServer(&mockTasks{}, nil, nil, mockAuth{actor: testActor})

	for _, target := range []string{
		"/api/tasks?page=abc",
		"/api/tasks?page=0",
		"/api/tasks?limit=-3",
		"/api/tasks?startDate=yesterday",
	} {
		rec := perform(e, http.MethodGet, target, "")
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("%s: unexpected status %d", target, rec.Code)
		}
	}
}

func TestListTasksUnauthorized(t *testing.T) {
	e := newTestServer(&mockTasks{}, nil, nil, mockAuth{err: errors.New("missing authorization header")})

	rec := perform(e, http.MethodGet, "/api/tasks", "")

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("unexpected status: %d", rec.Code)
	}
}

func TestUpdateTaskForbidden(t *testing.T) {
	tasks := &mockTasks{
		updateFn: func(ctx context.Context, actor domain.Actor, id string, patch domain.TaskPatch) (*domain.TaskView, error) {
			return nil, &domain.ForbiddenError{Reason: "not authorized to update this task"}
		},
	}
	e := newTestServer(tasks, nil, nil, mockAuth{actor: testActor})

	rec := perform(e, http.MethodPut, "/api/tasks/t-1", `{"title":"New title"}`)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("unexpected status: %d", rec.Code)
	}
	env := decodeEnvelope(t, rec)
	if env.Message != "not authorized to update this task" {
		t.Fatalf("unexpected envelope: %s", rec.Body.String())
	}
}

func TestUpdateTaskPartialPatch(t *testing.T) {
	var gotPatch domain.TaskPatch
	tasks := &mockTasks{
		updateFn: func(ctx context.Context, actor domain.Actor, id string, patch domain.TaskPatch) (*domain.TaskView, error) {
			gotPatch = patch
			return sampleView(id), nil
		},
	}
	e := newTestServer(tasks, nil, nil, mockAuth{actor: testActor})

	rec := perform(e, http.MethodPut, "/api/tasks/t-1", `{"priority":"Low"}`)

	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", rec.Code)
	}
	if gotPatch.Priority == nil || *gotPatch.Priority != domain.PriorityLow {
		t.Fatalf("priority not patched: %#v", gotPatch)
	}
	if gotPatch.Title != nil || gotPatch.Description != nil || gotPatch.DueDate != nil || gotPatch.AssignedTo != nil {
		t.Fatalf("absent fields must stay nil: %#v", gotPatch)
	}
}

func TestChangeTaskStatus(t *testing.T) {
	tasks := &mockTasks{
		changeStatusFn: func(ctx context.Context, actor domain.Actor, id string, status domain.Status) (*domain.TaskView, error) {
			if id != "t-1" || status != domain.StatusCompleted {
				t.Fatalf("unexpected call: %s %s", id, status)
			}
			view := sampleView(id)
			view.Status = status
			return view, nil
		},
	}
	e := newTestServer(tasks, nil, nil, mockAuth{actor: testActor})

	rec := perform(e, http.MethodPatch, "/api/tasks/t-1/status", `{"status":"Completed"}`)

	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d (%s)", rec.Code, rec.Body.String())
	}
}

func TestDeleteTask(t *testing.T) {
	var deleted string
	tasks := &mockTasks{
		deleteFn: func(ctx context.Context, actor domain.Actor, id string) error {
			deleted = id
			return nil
		},
	}
	e := newTestServer(tasks, nil, nil, mockAuth{actor: testActor})

	rec := perform(e, http.MethodDelete, "/api/tasks/t-1", "")

	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", rec.Code)
	}
	if deleted != "t-1" {
		t.Fatalf("unexpected id: %s", deleted)
	}
	env := decodeEnvelope(t, rec)
	if !env.Success || env.Message != "task deleted" {
		t.Fatalf("unexpected envelope: %s", rec.Body.String())
	}
}

func TestInternalErrorsAreOpaque(t *testing.T) {
	tasks := &mockTasks{
		getFn: func(ctx context.Context, actor domain.Actor, id string) (*domain.TaskView, error) {
			return nil, errors.New("aztables: connection string contains secret")
		},
	}
	e := newTestServer(tasks, nil, nil, mockAuth{actor: testActor})

	rec := perform(e, http.MethodGet, "/api/tasks/t-1", "")

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("unexpected status: %d", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "secret") {
		t.Fatalf("internal detail leaked: %s", rec.Body.String())
	}
	env := decodeEnvelope(t, rec)
	if env.Message != "internal server error" {
		t.Fatalf("unexpected envelope: %s", rec.Body.String())
	}
}

func TestHealthz(t *testing.T) {
	e := newTestServer(nil, nil, nil, mockAuth{actor: testActor})

	rec := perform(e, http.MethodGet, "/healthz", "")

	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", rec.Code)
	}
}
