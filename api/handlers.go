package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"taskflow-api/domain"
)

// Register wires up all API routes on the provided Echo instance.
func Register(e *echo.Echo, tasks Tasks, users Users, analytics Analytics, auth Authenticator, logger *log.Logger) {
	e.GET("/api/tasks", listTasks(tasks, auth, logger))
	e.POST("/api/tasks", createTask(tasks, auth))
	e.GET("/api/tasks/:id", getTask(tasks, auth))
	e.PUT("/api/tasks/:id", updateTask(tasks, auth))
	e.PATCH("/api/tasks/:id/status", changeTaskStatus(tasks, auth))
	e.DELETE("/api/tasks/:id", deleteTask(tasks, auth))

	e.GET("/api/users", listUsers(users, auth))
	e.POST("/api/users", createUser(users, auth))
	e.DELETE("/api/users/:id", deleteUser(users, auth))

	e.GET("/api/analytics/dashboard-stats", dashboardStats(analytics, auth))
	e.GET("/healthz", healthz())
}

func healthz() echo.HandlerFunc {
	return func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	}
}

// actorFrom authenticates the request; a nil error means the actor is set.
func actorFrom(c echo.Context, auth Authenticator) (domain.Actor, error) {
	return auth.ActorFromAuthHeader(c.Request().Header.Get(echo.HeaderAuthorization))
}

func unauthorized(c echo.Context, err error) error {
	return c.JSON(http.StatusUnauthorized, envelope{Message: err.Error()})
}

// writeError maps domain errors onto the response envelope. Unexpected
// errors are logged and surface as an opaque 500.
func writeError(c echo.Context, err error) error {
	var ve *domain.ValidationError
	var fe *domain.ForbiddenError
	var nf *domain.NotFoundError
	switch {
	case errors.As(err, &ve):
		return c.JSON(http.StatusBadRequest, envelope{Message: "validation failed", Errors: ve.Fields})
	case errors.As(err, &fe):
		return c.JSON(http.StatusForbidden, envelope{Message: fe.Reason})
	case errors.As(err, &nf):
		return c.JSON(http.StatusNotFound, envelope{Message: nf.Error()})
	default:
		c.Logger().Error(err)
		return c.JSON(http.StatusInternalServerError, envelope{Message: "internal server error"})
	}
}

// decodeBody parses a JSON request body, rejecting unknown fields. Size
// limits are enforced by RequestBodyMiddleware before the body reaches us.
func decodeBody(c echo.Context, dst any) error {
	dec := sonic.ConfigStd.NewDecoder(c.Request().Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

type createTaskRequest struct {
	Title       string          `json:"title"`
	Description string          `json:"description"`
	DueDate     time.Time       `json:"dueDate"`
	Priority    domain.Priority `json:"priority"`
	AssignedTo  []string        `json:"assignedTo"`
}

func createTask(tasks Tasks, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		actor, err := actorFrom(c, auth)
		if err != nil {
			return unauthorized(c, err)
		}
		var req createTaskRequest
		if err := decodeBody(c, &req); err != nil {
			return c.JSON(http.StatusBadRequest, envelope{Message: "invalid request body"})
		}
		view, err := tasks.Create(c.Request().Context(), actor, domain.TaskDraft{
			Title:       req.Title,
			Description: req.Description,
			DueDate:     req.DueDate,
			Priority:    req.Priority,
			AssignedTo:  req.AssignedTo,
		})
		if err != nil {
			return writeError(c, err)
		}
		return c.JSON(http.StatusCreated, ok(view))
	}
}

func getTask(tasks Tasks, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		actor, err := actorFrom(c, auth)
		if err != nil {
			return unauthorized(c, err)
		}
		view, err := tasks.Get(c.Request().Context(), actor, c.Param("id"))
		if err != nil {
			return writeError(c, err)
		}
		return c.JSON(http.StatusOK, ok(view))
	}
}

func listTasks(tasks Tasks, auth Authenticator, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) (err error) {
		ctx := c.Request().Context()
		metrics, spanCtx := newTaskRequestMetrics(ctx, logger)
		if spanCtx != nil {
			c.SetRequest(c.Request().WithContext(spanCtx))
			ctx = spanCtx
		}
		defer func() {
			metrics.Log(c.Response().Status, err)
		}()

		authStart := time.Now()
		actor, authErr := actorFrom(c, auth)
		metrics.ObserveAuth(time.Since(authStart))
		if authErr != nil {
			metrics.SetErrorStage("auth")
			err = unauthorized(c, authErr)
			return err
		}

		opts, optsErr := listOptionsFromQuery(c)
		if optsErr != nil {
			metrics.SetErrorStage("invalid_query")
			err = writeError(c, optsErr)
			return err
		}
		metrics.SetFiltersProvided(opts.Priority != "" || opts.Status != "" ||
			opts.DueAfter != nil || opts.DueBefore != nil)

		fetchStart := time.Now()
		page, listErr := tasks.List(ctx, actor, opts)
		metrics.ObserveFetch(time.Since(fetchStart))
		if listErr != nil {
			var ve *domain.ValidationError
			if errors.As(listErr, &ve) {
				metrics.SetErrorStage("invalid_query")
			} else {
				metrics.SetErrorStage("storage")
			}
			err = writeError(c, listErr)
			return err
		}
		metrics.SetTasksReturned(len(page.Tasks))
		metrics.SetTotalMatched(page.Pagination.Total)

		encodeStart := time.Now()
		err = c.JSON(http.StatusOK, ok(page))
		metrics.ObserveEncode(time.Since(encodeStart))
		if err != nil {
			metrics.SetErrorStage("encode_response")
		}
		return err
	}
}

// listOptionsFromQuery parses pagination, filter and sort parameters. Enum
// and range validation beyond basic parsing is left to the lifecycle service.
func listOptionsFromQuery(c echo.Context) (domain.ListOptions, error) {
	opts := domain.ListOptions{
		Priority: domain.Priority(strings.TrimSpace(c.QueryParam("priority"))),
		Status:   domain.Status(strings.TrimSpace(c.QueryParam("status"))),
		Sort:     domain.SortOrder(strings.TrimSpace(c.QueryParam("sortBy"))),
	}
	var err error
	if opts.Page, err = positiveIntParam(c, "page"); err != nil {
		return opts, err
	}
	if opts.Limit, err = positiveIntParam(c, "limit"); err != nil {
		return opts, err
	}
	if opts.DueAfter, err = dateParam(c, "startDate"); err != nil {
		return opts, err
	}
	if opts.DueBefore, err = dateParam(c, "endDate"); err != nil {
		return opts, err
	}
	return opts, nil
}

func positiveIntParam(c echo.Context, name string) (int, error) {
	raw := strings.TrimSpace(c.QueryParam(name))
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, domain.NewValidationError(name, "must be a positive integer")
	}
	return n, nil
}

func dateParam(c echo.Context, name string) (*time.Time, error) {
	raw := strings.TrimSpace(c.QueryParam(name))
	if raw == "" {
		return nil, nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, raw); err == nil {
			return &t, nil
		}
	}
	return nil, domain.NewValidationError(name, "invalid date")
}

type updateTaskRequest struct {
	Title       *string          `json:"title"`
	Description *string          `json:"description"`
	DueDate     *time.Time       `json:"dueDate"`
	Priority    *domain.Priority `json:"priority"`
	AssignedTo  []string         `json:"assignedTo"`
}

func updateTask(tasks Tasks, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		actor, err := actorFrom(c, auth)
		if err != nil {
			return unauthorized(c, err)
		}
		var req updateTaskRequest
		if err := decodeBody(c, &req); err != nil {
			return c.JSON(http.StatusBadRequest, envelope{Message: "invalid request body"})
		}
		view, err := tasks.Update(c.Request().Context(), actor, c.Param("id"), domain.TaskPatch{
			Title:       req.Title,
			Description: req.Description,
			DueDate:     req.DueDate,
			Priority:    req.Priority,
			AssignedTo:  req.AssignedTo,
		})
		if err != nil {
			return writeError(c, err)
		}
		return c.JSON(http.StatusOK, ok(view))
	}
}

type statusRequest struct {
	Status domain.Status `json:"status"`
}

func changeTaskStatus(tasks Tasks, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		actor, err := actorFrom(c, auth)
		if err != nil {
			return unauthorized(c, err)
		}
		var req statusRequest
		if err := decodeBody(c, &req); err != nil {
			return c.JSON(http.StatusBadRequest, envelope{Message: "invalid request body"})
		}
		view, err := tasks.ChangeStatus(c.Request().Context(), actor, c.Param("id"), req.Status)
		if err != nil {
			return writeError(c, err)
		}
		return c.JSON(http.StatusOK, ok(view))
	}
}

func deleteTask(tasks Tasks, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		actor, err := actorFrom(c, auth)
		if err != nil {
			return unauthorized(c, err)
		}
		if err := tasks.Delete(c.Request().Context(), actor, c.Param("id")); err != nil {
			return writeError(c, err)
		}
		return c.JSON(http.StatusOK, okMessage("task deleted"))
	}
}
