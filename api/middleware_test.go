package api

import (
	"bytes"
	"compress/gzip"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"

	"taskflow-api/domain"
)

func TestRequestBodyMiddlewareDecompressesBody(t *testing.T) {
	var buf bytes.Buffer
	gw := gzip.NewWriter(&buf)
	body := `{"status":"Completed"}`
	if _, err := gw.Write([]byte(body)); err != nil {
		t.Fatalf("compress body: %v", err)
	}
	if err := gw.Close(); err != nil {
		t.Fatalf("close gzip writer: %v", err)
	}

	var gotStatus domain.Status
	tasks := &mockTasks{
		changeStatusFn: func(ctx context.Context, actor domain.Actor, id string, status domain.Status) (*domain.TaskView, error) {
			gotStatus = status
			return sampleView(id), nil
		},
	}
	e := newTestServer(tasks, nil, nil, mockAuth{actor: testActor})
	e.Use(RequestBodyMiddleware())

	req := httptest.NewRequest(http.MethodPatch, "/api/tasks/t-1/status", &buf)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	req.Header.Set(echo.HeaderContentEncoding, "gzip")
	req.Header.Set(echo.HeaderAuthorization, "Bearer a.b.c")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d (%s)", rec.Code, rec.Body.String())
	}
	if gotStatus != domain.StatusCompleted {
		t.Fatalf("unexpected decoded status: %s", gotStatus)
	}
}

func TestRequestBodyMiddlewareRejectsBadGzipPayload(t *testing.T) {
	e := newTestServer(&mockTasks{}, nil, nil, mockAuth{actor: testActor})
	e.Use(RequestBodyMiddleware())

	req := httptest.NewRequest(http.MethodPatch, "/api/tasks/t-1/status", bytes.NewBufferString("not gzip"))
	req.Header.Set(echo.HeaderContentEncoding, "gzip")
	req.Header.Set(echo.HeaderAuthorization, "Bearer a.b.c")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("unexpected status: %d", rec.Code)
	}
}

func TestRequestBodyMiddlewarePassesPlainBodies(t *testing.T) {
	tasks := &mockTasks{
		changeStatusFn: func(ctx context.Context, actor domain.Actor, id string, status domain.Status) (*domain.TaskView, error) {
			return sampleView(id), nil
		},
	}
	e := newTestServer(tasks, nil, nil, mockAuth{actor: testActor})
	e.Use(RequestBodyMiddleware())

	rec := perform(e, http.MethodPatch, "/api/tasks/t-1/status", `{"status":"Completed"}`)

	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d (%s)", rec.Code, rec.Body.String())
	}
}

func TestRequestBodyMiddlewareRejectsDeclaredOversizedBody(t *testing.T) {
	e := newTestServer(&mockTasks{}, nil, nil, mockAuth{actor: testActor})
	e.Use(RequestBodyMiddleware())

	body := `{"title":"` + strings.Repeat("x", requestBodyMaxSize) + `"}`
	req := httptest.NewRequest(http.MethodPost, "/api/tasks", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	req.Header.Set(echo.HeaderAuthorization, "Bearer a.b.c")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("unexpected status: %d", rec.Code)
	}
}

func TestRequestBodyMiddlewareCapsStreamedBody(t *testing.T) {
	// No Content-Length, so the cap has to trip while the decoder reads.
	e := newTestServer(&mockTasks{}, nil, nil, mockAuth{actor: testActor})
	e.Use(RequestBodyMiddleware())

	var buf bytes.Buffer
	gw := gzip.NewWriter(&buf)
	payload := `{"title":"` + strings.Repeat("x", requestBodyMaxSize) + `"}`
	if _, err := gw.Write([]byte(payload)); err != nil {
		t.Fatalf("compress body: %v", err)
	}
	if err := gw.Close(); err != nil {
		t.Fatalf("close gzip writer: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/tasks", &buf)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	req.Header.Set(echo.HeaderContentEncoding, "gzip")
	req.Header.Set(echo.HeaderAuthorization, "Bearer a.b.c")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("unexpected status: %d (%s)", rec.Code, rec.Body.String())
	}
}
