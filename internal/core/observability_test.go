package core_test

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"bibstat/internal/core"
	"bibstat/pkg/domain"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestAuditRecordsMutationsOnly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	v := createVariable(t, f, domain.Variable{Key: "Folk1"})
	if _, err := f.svc.GetVariable(ctx, v.ID); err != nil {
		t.Fatalf("get: %v", err)
	}
	if _, err := f.svc.DeleteVariable(ctx, "missing", "admin"); err == nil {
		t.Fatalf("expected delete of missing variable to fail")
	}

	f.audit.mu.Lock()
	entries := append([]core.AuditEntry(nil), f.audit.entries...)
	f.audit.mu.Unlock()
	if len(entries) != 2 {
		t.Fatalf("expected two audit entries, got %+v", entries)
	}
	created := entries[0]
	if created.Operation != "create_variable" || created.Entity != domain.EntityVariable || created.Action != domain.ActionCreate {
		t.Fatalf("unexpected create entry %+v", created)
	}
	if created.EntityID != v.ID || created.Actor != "admin" || created.Status != core.AuditStatusSuccess {
		t.Fatalf("unexpected create entry %+v", created)
	}
	failed := entries[1]
	if failed.Status != core.AuditStatusError || failed.Error == "" || failed.EntityID != "missing" {
		t.Fatalf("unexpected failure entry %+v", failed)
	}
}

func TestPrometheusMetricsRecorder(t *testing.T) {
	reg := prometheus.NewRegistry()
	f := newFixture(t, core.WithMetricsRecorder(core.NewPrometheusMetricsRecorder(reg)))
	ctx := context.Background()
	createVariable(t, f, domain.Variable{Key: "Folk1"})
	if _, err := f.svc.GetVariable(ctx, "missing"); err == nil {
		t.Fatalf("expected not found")
	}

	expected := `
# HELP bibstat_service_operations_total Service operations by outcome.
# TYPE bibstat_service_operations_total counter
bibstat_service_operations_total{operation="create_variable",status="success"} 1
bibstat_service_operations_total{operation="get_variable",status="error"} 1
`
	if err := testutil.GatherAndCompare(reg, strings.NewReader(expected), "bibstat_service_operations_total"); err != nil {
		t.Fatalf("metrics mismatch: %v", err)
	}
	if n, err := testutil.GatherAndCount(reg, "bibstat_service_operation_duration_seconds"); err != nil || n != 2 {
		t.Fatalf("expected two latency series, got %d (%v)", n, err)
	}
}

func TestExpvarAndMultiMetrics(t *testing.T) {
	expvarRec := core.NewExpvarMetricsRecorder("")
	reg := prometheus.NewRegistry()
	f := newFixture(t, core.WithMetricsRecorder(core.MultiMetricsRecorder{expvarRec, core.NewPrometheusMetricsRecorder(reg)}))
	createVariable(t, f, domain.Variable{Key: "Folk1"})

	snap := expvarRec.Snapshot()
	if snap.Outcomes["create_variable"][core.AuditStatusSuccess] != 1 {
		t.Fatalf("expected one success, got %+v", snap.Outcomes)
	}
	if n, err := testutil.GatherAndCount(reg, "bibstat_service_operations_total"); err != nil || n != 1 {
		t.Fatalf("expected one prometheus series, got %d (%v)", n, err)
	}
}

func TestOTelTracerRecordsSpans(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	f := newFixture(t, core.WithTracer(core.NewOTelTracer(tp)))
	ctx := context.Background()

	createVariable(t, f, domain.Variable{Key: "Folk1"})
	if _, err := f.svc.GetSurvey(ctx, "missing"); err == nil {
		t.Fatalf("expected not found")
	}

	spans := recorder.Ended()
	if len(spans) != 2 {
		t.Fatalf("expected two spans, got %d", len(spans))
	}
	if spans[0].Name() != "create_variable" || spans[0].Status().Code != codes.Ok {
		t.Fatalf("unexpected first span %s %+v", spans[0].Name(), spans[0].Status())
	}
	if spans[1].Name() != "get_survey" || spans[1].Status().Code != codes.Error {
		t.Fatalf("unexpected second span %s %+v", spans[1].Name(), spans[1].Status())
	}
	if len(spans[1].Events()) == 0 {
		t.Fatalf("expected the error to be recorded as an event")
	}
}

func TestJSONTracer(t *testing.T) {
	var buf bytes.Buffer
	tracer := core.NewJSONTracer(&buf)
	f := newFixture(t, core.WithTracer(tracer))
	createVariable(t, f, domain.Variable{Key: "Folk1"})

	entries := tracer.Entries()
	if len(entries) != 1 || entries[0].Operation != "create_variable" || entries[0].Status != "success" {
		t.Fatalf("unexpected entries %+v", entries)
	}
	var decoded core.JSONTraceEntry
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("decode trace line: %v", err)
	}
	if decoded.Operation != "create_variable" {
		t.Fatalf("unexpected trace line %+v", decoded)
	}
}

func TestZapLoggerReportsFailures(t *testing.T) {
	obsCore, logs := observer.New(zap.DebugLevel)
	logger := core.NewZapLogger(zap.New(obsCore))
	f := newFixture(t, core.WithLogger(logger), core.WithAuditRecorder(core.LoggingAuditRecorder{Logger: logger}))
	ctx := context.Background()

	if _, _, err := f.svc.CreateVariable(ctx, domain.Variable{Key: "", Type: domain.VariableTypeInteger}, "admin"); err == nil {
		t.Fatalf("expected validation error")
	}
	failures := logs.FilterMessage("operation failed").All()
	if len(failures) != 1 {
		t.Fatalf("expected one failure log, got %d", len(failures))
	}
	fields := failures[0].ContextMap()
	if fields["operation"] != "create_variable" || fields["actor"] != "admin" {
		t.Fatalf("unexpected failure fields %+v", fields)
	}
	if n := logs.FilterMessage("audit").FilterField(zap.String("operation", "create_variable")).Len(); n != 1 {
		t.Fatalf("expected one audit log line, got %d", n)
	}
}

func TestBuildZapLogger(t *testing.T) {
	if _, err := core.BuildZapLogger("verbose", false); err == nil {
		t.Fatalf("expected invalid level to fail")
	}
	logger, err := core.BuildZapLogger("debug", true)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if !logger.Core().Enabled(zap.DebugLevel) {
		t.Fatalf("expected debug level enabled")
	}
}
