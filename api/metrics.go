package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	tracerName         = "prism-board/api"
	requestSpanName    = "api.request"
	requestEventName   = "board.request"
	requestEventDomain = "prism-board"
	observabilityEvent = "observability.event"
	metricsContextKey  = "request-metrics"
)

type requestMetrics struct {
	logger     *log.Logger
	span       trace.Span
	start      time.Time
	route      string
	method     string
	kind       string
	board      string
	replayed   bool
	events     int
	errorStage string
}

func newRequestMetrics(ctx context.Context, logger *log.Logger, method, route string) (*requestMetrics, context.Context) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, requestSpanName, trace.WithAttributes(
		attribute.String("http.route", route),
		attribute.String("http.method", method),
	))
	return &requestMetrics{logger: logger, span: span, start: time.Now(), route: route, method: method}, ctx
}

// The setters accept a nil receiver so handlers work without ObserveRequests.

func (m *requestMetrics) SetKind(kind string) {
	if m != nil {
		m.kind = kind
	}
}

func (m *requestMetrics) SetBoard(board string) {
	if m != nil {
		m.board = board
	}
}

func (m *requestMetrics) SetReplayed() {
	if m != nil {
		m.replayed = true
	}
}

func (m *requestMetrics) AddEvents(n int) {
	if m != nil {
		m.events += n
	}
}

func (m *requestMetrics) SetErrorStage(stage string) {
	if m == nil || stage == "" {
		return
	}
	m.errorStage = stage
}

func severityForStatus(status int, err error) (string, int) {
	switch {
	case err != nil || status >= 500:
		return "ERROR", 17
	case status >= 400:
		return "WARN", 13
	}
	return "INFO", 9
}

// Log ends the span and writes one observability event.
func (m *requestMetrics) Log(status int, err error) {
	if m == nil {
		return
	}
	totalMs := durationToMillis(time.Since(m.start))
	attrs := []attribute.KeyValue{
		attribute.String("http.route", m.route),
		attribute.String("http.method", m.method),
		attribute.Int("http.status_code", status),
		attribute.Float64("board.request.total_ms", totalMs),
		attribute.Bool("board.request.replayed", m.replayed),
		attribute.Int("board.request.events", m.events),
	}
	if m.kind != "" {
		attrs = append(attrs, attribute.String("board.kind", m.kind))
	}
	if m.board != "" {
		attrs = append(attrs, attribute.String("board.id", m.board))
	}
	if m.errorStage != "" {
		attrs = append(attrs, attribute.String("board.request.error_stage", m.errorStage))
	}

	severity, number := severityForStatus(status, err)
	eventAttrs := append([]attribute.KeyValue{
		attribute.String("event.name", requestEventName),
		attribute.String("event.domain", requestEventDomain),
		attribute.String("severity_text", severity),
	}, attrs...)
	if err != nil {
		eventAttrs = append(eventAttrs, attribute.String("error.message", err.Error()))
	}
	m.span.SetAttributes(attrs...)
	m.span.AddEvent(observabilityEvent, trace.WithAttributes(eventAttrs...))
	if err != nil || status >= 500 {
		msg := http.StatusText(status)
		if err != nil {
			msg = err.Error()
		}
		m.span.SetStatus(codes.Error, msg)
	} else {
		m.span.SetStatus(codes.Ok, "")
	}
	sc := m.span.SpanContext()
	m.span.End()

	if m.logger == nil {
		return
	}
	logged := make(map[string]any, len(attrs))
	for _, kv := range attrs {
		logged[string(kv.Key)] = kv.Value.AsInterface()
	}
	fields := log.Fields{
		"event.name":      requestEventName,
		"event.domain":    requestEventDomain,
		"severity_text":   severity,
		"severity_number": number,
		"attributes":      logged,
	}
	if sc.HasTraceID() {
		fields["trace_id"] = sc.TraceID().String()
		fields["span_id"] = sc.SpanID().String()
	}
	entry := m.logger.WithFields(fields)
	if err != nil {
		entry = entry.WithError(err)
	}
	switch severity {
	case "ERROR":
		entry.Error(observabilityEvent)
	case "WARN":
		entry.Warn(observabilityEvent)
	default:
		entry.Info(observabilityEvent)
	}
}

// ObserveRequests records a span and an observability event for every request.
func ObserveRequests(logger *log.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			m, ctx := newRequestMetrics(c.Request().Context(), logger, c.Request().Method, c.Path())
			c.SetRequest(c.Request().WithContext(ctx))
			c.Set(metricsContextKey, m)

			err := next(c)
			status := c.Response().Status
			var he *echo.HTTPError
			if errors.As(err, &he) {
				status = he.Code
			} else if err != nil && !c.Response().Committed {
				status = http.StatusInternalServerError
			}
			m.Log(status, err)
			return err
		}
	}
}

func metricsFrom(c echo.Context) *requestMetrics {
	m, _ := c.Get(metricsContextKey).(*requestMetrics)
	return m
}

func durationToMillis(d time.Duration) float64 {
	if d <= 0 {
		return 0
	}
	return float64(d) / float64(time.Millisecond)
}
