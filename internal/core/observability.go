package core

import (
	"context"
	"fmt"
	"time"

	"bibstat/pkg/domain"

	"go.uber.org/zap"
)

// Logger is the structured logging surface used by the service.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

type zapLogger struct {
	s *zap.SugaredLogger
}

// NewZapLogger adapts a zap logger to Logger.
func NewZapLogger(l *zap.Logger) Logger {
	if l == nil {
		return noopLogger{}
	}
	return zapLogger{s: l.Sugar()}
}

func (l zapLogger) Debug(msg string, kv ...any) { l.s.Debugw(msg, kv...) }
func (l zapLogger) Info(msg string, kv ...any)  { l.s.Infow(msg, kv...) }
func (l zapLogger) Warn(msg string, kv ...any)  { l.s.Warnw(msg, kv...) }
func (l zapLogger) Error(msg string, kv ...any) { l.s.Errorw(msg, kv...) }

// BuildZapLogger constructs a production or development zap logger at level.
func BuildZapLogger(level string, development bool) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	if development {
		cfg = zap.NewDevelopmentConfig()
	}
	if level != "" {
		lvl, err := zap.ParseAtomicLevel(level)
		if err != nil {
			return nil, fmt.Errorf("parse log level: %w", err)
		}
		cfg.Level = lvl
	}
	return cfg.Build()
}

// AuditStatus reports the outcome of an audited operation.
type AuditStatus string

const (
	AuditStatusSuccess AuditStatus = "success"
	AuditStatusError   AuditStatus = "error"
)

// AuditEntry describes one completed service operation.
type AuditEntry struct {
	Operation string
	Entity    domain.EntityType
	Action    domain.Action
	EntityID  string
	Actor     string
	Status    AuditStatus
	Error     string
	Duration  time.Duration
	Timestamp time.Time
}

// AuditRecorder receives audit entries for mutating operations.
type AuditRecorder interface {
	Record(ctx context.Context, entry AuditEntry)
}

// MetricsRecorder observes operation latency and outcome.
type MetricsRecorder interface {
	Observe(ctx context.Context, operation string, success bool, duration time.Duration)
}

// Tracer starts a span per service operation.
type Tracer interface {
	Start(ctx context.Context, operation string) (context.Context, TraceSpan)
}

// TraceSpan is ended exactly once with the operation error, if any.
type TraceSpan interface {
	End(err error)
}

// Clock supplies wall time to the service.
type Clock interface {
	Now() time.Time
}

// ClockFunc adapts a function to Clock.
type ClockFunc func() time.Time

// Now implements Clock.
func (f ClockFunc) Now() time.Time { return f() }

type noopAuditRecorder struct{}

func (noopAuditRecorder) Record(context.Context, AuditEntry) {}

type noopMetricsRecorder struct{}

func (noopMetricsRecorder) Observe(context.Context, string, bool, time.Duration) {}

type noopTracer struct{}

func (noopTracer) Start(ctx context.Context, _ string) (context.Context, TraceSpan) {
	return ctx, noopSpan{}
}

type noopSpan struct{}

func (noopSpan) End(error) {}

// LoggingAuditRecorder writes audit entries to a Logger.
type LoggingAuditRecorder struct {
	Logger Logger
}

// Record implements AuditRecorder.
func (r LoggingAuditRecorder) Record(_ context.Context, entry AuditEntry) {
	if r.Logger == nil {
		return
	}
	kv := []any{
		"operation", entry.Operation,
		"entity", entry.Entity,
		"action", entry.Action,
		"entity_id", entry.EntityID,
		"actor", entry.Actor,
		"duration", entry.Duration,
	}
	if entry.Status == AuditStatusError {
		r.Logger.Warn("audit", append(kv, "error", entry.Error)...)
		return
	}
	r.Logger.Info("audit", kv...)
}

type operationInfo struct {
	entity domain.EntityType
	action domain.Action
}

// auditedOperations maps mutating operations to the entity they touch.
// Read operations are traced and measured but never audited.
var auditedOperations = map[string]operationInfo{
	"create_variable":       {domain.EntityVariable, domain.ActionCreate},
	"update_variable":       {domain.EntityVariable, domain.ActionUpdate},
	"replace_siblings":      {domain.EntityVariable, domain.ActionUpdate},
	"delete_variable":       {domain.EntityVariable, domain.ActionDelete},
	"create_survey":         {domain.EntitySurvey, domain.ActionCreate},
	"update_survey":         {domain.EntitySurvey, domain.ActionUpdate},
	"update_survey_notes":   {domain.EntitySurvey, domain.ActionUpdate},
	"record_answers":        {domain.EntitySurvey, domain.ActionUpdate},
	"select_libraries":      {domain.EntitySurvey, domain.ActionUpdate},
	"apply_imported_values": {domain.EntitySurvey, domain.ActionUpdate},
	"open_survey":           {domain.EntitySurvey, domain.ActionUpdate},
	"submit_survey":         {domain.EntitySurvey, domain.ActionUpdate},
	"set_survey_status":     {domain.EntitySurvey, domain.ActionUpdate},
	"delete_survey":         {domain.EntitySurvey, domain.ActionDelete},
	"publish_survey":        {domain.EntityOpenData, domain.ActionUpdate},
	"unpublish_survey":      {domain.EntityOpenData, domain.ActionUpdate},
	"export_dataset":        {domain.EntityOpenData, domain.ActionCreate},
}
