package api

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	tracerName       = "taskflow-api/api"
	tasksSpanName    = "tasks.list"
	tasksRoute       = "/api/tasks"
	tasksEventName   = "tasks.request.metrics"
	tasksEventDomain = "taskflow"

	severityInfo        = "INFO"
	severityInfoNumber  = 9
	severityErrorText   = "ERROR"
	severityErrorNumber = 17
)

// taskRequestMetrics collects per-request timings for the task list route and
// emits them both as a span and as a structured observability log record.
type taskRequestMetrics struct {
	logger *log.Logger
	span   trace.Span
	start  time.Time

	authDuration   time.Duration
	fetchDuration  time.Duration
	encodeDuration time.Duration

	filtersProvided bool
	tasksReturned   int
	totalMatched    int
	errorStage      string
}

// newTaskRequestMetrics opens the request span and returns the span-carrying
// context for downstream calls.
func newTaskRequestMetrics(ctx context.Context, logger *log.Logger) (*taskRequestMetrics, context.Context) {
	spanCtx, span := otel.Tracer(tracerName).Start(ctx, tasksSpanName,
		trace.WithAttributes(attribute.String("http.route", tasksRoute)))
	return &taskRequestMetrics{
		logger: logger,
		span:   span,
		start:  time.Now(),
	}, spanCtx
}

func (m *taskRequestMetrics) ObserveAuth(duration time.Duration) {
	if duration <= 0 {
		return
	}
	m.authDuration = duration
}

func (m *taskRequestMetrics) ObserveFetch(duration time.Duration) {
	if duration <= 0 {
		return
	}
	m.fetchDuration = duration
}

func (m *taskRequestMetrics) ObserveEncode(duration time.Duration) {
	if duration <= 0 {
		return
	}
	m.encodeDuration = duration
}

func (m *taskRequestMetrics) SetFiltersProvided(provided bool) {
	m.filtersProvided = provided
}

func (m *taskRequestMetrics) SetTasksReturned(count int) {
	if count < 0 {
		count = 0
	}
	m.tasksReturned = count
}

func (m *taskRequestMetrics) SetTotalMatched(count int) {
	if count < 0 {
		count = 0
	}
	m.totalMatched = count
}

func (m *taskRequestMetrics) SetErrorStage(stage string) {
	if stage == "" {
		return
	}
	m.errorStage = stage
}

// Log finalizes the span and writes the observability event. It must be
// called exactly once per request.
func (m *taskRequestMetrics) Log(status int, err error) {
	if m == nil {
		return
	}

	totalMillis := durationToMillis(time.Since(m.start))
	spanAttrs := []attribute.KeyValue{
		attribute.String("http.route", tasksRoute),
		attribute.Int("http.status_code", status),
		attribute.Float64("taskflow.tasks.total_ms", totalMillis),
		attribute.Bool("taskflow.tasks.filters_provided", m.filtersProvided),
		attribute.Int("taskflow.tasks.tasks_returned", m.tasksReturned),
		attribute.Int("taskflow.tasks.total_matched", m.totalMatched),
	}
	attrMap := map[string]any{
		"http.route":                      tasksRoute,
		"http.status_code":                status,
		"taskflow.tasks.total_ms":         totalMillis,
		"taskflow.tasks.filters_provided": m.filtersProvided,
		"taskflow.tasks.tasks_returned":   m.tasksReturned,
		"taskflow.tasks.total_matched":    m.totalMatched,
	}
	if m.authDuration > 0 {
		millis := durationToMillis(m.authDuration)
		spanAttrs = append(spanAttrs, attribute.Float64("taskflow.tasks.auth_ms", millis))
		attrMap["taskflow.tasks.auth_ms"] = millis
	}
	if m.fetchDuration > 0 {
		millis := durationToMillis(m.fetchDuration)
		spanAttrs = append(spanAttrs, attribute.Float64("taskflow.tasks.fetch_ms", millis))
		attrMap["taskflow.tasks.fetch_ms"] = millis
	}
	if m.encodeDuration > 0 {
		millis := durationToMillis(m.encodeDuration)
		spanAttrs = append(spanAttrs, attribute.Float64("taskflow.tasks.encode_ms", millis))
		attrMap["taskflow.tasks.encode_ms"] = millis
	}
	if m.errorStage != "" {
		spanAttrs = append(spanAttrs, attribute.String("taskflow.tasks.error_stage", m.errorStage))
		attrMap["taskflow.tasks.error_stage"] = m.errorStage
	}

	if m.span != nil {
		m.span.SetAttributes(spanAttrs...)
		m.span.AddEvent("observability.event", trace.WithAttributes(spanAttrs...))
		if err != nil {
			m.span.RecordError(err)
			m.span.SetStatus(codes.Error, err.Error())
		} else {
			m.span.SetStatus(codes.Ok, "")
		}
		m.span.End()
	}

	if m.logger == nil {
		return
	}

	fields := log.Fields{
		"event.name":      tasksEventName,
		"event.domain":    tasksEventDomain,
		"attributes":      attrMap,
		"severity_text":   severityInfo,
		"severity_number": severityInfoNumber,
	}
	if err != nil {
		fields["severity_text"] = severityErrorText
		fields["severity_number"] = severityErrorNumber
		fields["error"] = err.Error()
	}
	if m.span != nil {
		if sc := m.span.SpanContext(); sc.HasTraceID() {
			fields["trace_id"] = sc.TraceID().String()
		}
	}

	entry := m.logger.WithFields(fields)
	if err != nil {
		entry.Error("observability.event")
		return
	}
	entry.Info("observability.event")
}

func durationToMillis(d time.Duration) float64 {
	if d <= 0 {
		return 0
	}
	return float64(d) / float64(time.Millisecond)
}
