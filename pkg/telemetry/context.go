package telemetry

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel/trace"
)

// Telemetry groups the logger, tracer, metrics and event publisher that
// every orchestrator component receives.
type Telemetry struct {
	Logger  *Logger
	Tracer  *Tracer
	Metrics *Metrics
	Events  *EventPublisher
	Config  *Config
}

// NewTelemetry validates cfg and builds every component. Lifecycle events are
// mirrored to the log through an "events" component logger.
func NewTelemetry(cfg *Config) (*Telemetry, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	tel := &Telemetry{Config: cfg}

	var err error
	if tel.Logger, err = NewLogger(cfg.Logging); err != nil {
		return nil, err
	}
	if tel.Tracer, err = NewTracer(cfg.Tracing, cfg.ServiceName, cfg.ServiceVersion, cfg.Environment); err != nil {
		return nil, err
	}
	if tel.Metrics, err = NewMetrics(cfg.Metrics); err != nil {
		return nil, err
	}
	if tel.Events, err = NewEventPublisher(cfg.Events); err != nil {
		return nil, err
	}
	tel.Events.Subscribe(LogSubscriber(tel.Logger.NewComponentLogger("events")), nil)
	return tel, nil
}

// NewNopTelemetry returns telemetry that records nothing.
func NewNopTelemetry() *Telemetry {
	cfg := DefaultConfig()
	cfg.Tracing.Enabled = false
	cfg.Metrics.Enabled = false
	cfg.Events.Enabled = false

	tracer, _ := NewTracer(cfg.Tracing, cfg.ServiceName, cfg.ServiceVersion, cfg.Environment)
	metrics, _ := NewMetrics(cfg.Metrics)
	events, _ := NewEventPublisher(cfg.Events)
	return &Telemetry{
		Logger:  NewNopLogger(),
		Tracer:  tracer,
		Metrics: metrics,
		Events:  events,
		Config:  cfg,
	}
}

// WithContext attaches the process logger to ctx.
func (t *Telemetry) WithContext(ctx context.Context) context.Context {
	return t.Logger.WithContext(ctx)
}

// Shutdown drains the event publisher before stopping the tracer.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	if err := t.Events.Shutdown(ctx); err != nil {
		return err
	}
	return t.Tracer.Shutdown(ctx)
}

// InstrumentedContext is one traced orchestrator operation. Ctx carries the
// span and a logger tagged with the job key.
type InstrumentedContext struct {
	Ctx    context.Context
	Span   trace.Span
	Logger *Logger

	metrics *Metrics
}

// StartJobOperation opens a span for operation on jobKey.
func (t *Telemetry) StartJobOperation(ctx context.Context, operation, jobKey string) *InstrumentedContext {
	ctx, span := t.Tracer.StartJobSpan(ctx, operation, jobKey)

	logger := t.Logger.WithField("operation", operation).WithJob(jobKey)
	if sc := span.SpanContext(); sc.IsValid() {
		logger = logger.WithFields(map[string]interface{}{
			"trace_id": sc.TraceID().String(),
			"span_id":  sc.SpanID().String(),
		})
	}
	return &InstrumentedContext{
		Ctx:     logger.WithContext(ctx),
		Span:    span,
		Logger:  logger,
		metrics: t.Metrics,
	}
}

// classified matches deployment errors without importing that package.
type classified interface {
	error
	ErrorClass() string
	ErrorCode() string
}

// End closes the span. Classified errors are also counted by code.
func (ic *InstrumentedContext) End(err error) {
	defer ic.Span.End()
	if err == nil {
		RecordSuccess(ic.Span)
		return
	}
	var ce classified
	if errors.As(err, &ce) {
		ic.metrics.RecordError(ce.ErrorClass(), ce.ErrorCode())
		ic.Span.SetAttributes(AttrErrorCode.String(ce.ErrorCode()))
	}
	RecordError(ic.Span, err)
}
