package main

import (
	"context"
	"io"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"taskledger/internal/config"
	"taskledger/internal/core"
)

// exporters holds the metrics and trace sinks chosen by configuration. flush
// reports what was collected once the command finishes.
type exporters struct {
	metrics core.MetricsRecorder
	tracer  core.Tracer
	flushes []func(context.Context)
}

func (e *exporters) flush(ctx context.Context) {
	for _, f := range e.flushes {
		f(ctx)
	}
}

func newExporters(cfg config.Config, logger *slog.Logger, stderr io.Writer) (*exporters, error) {
	exp := &exporters{}
	switch cfg.Metrics {
	case config.MetricsExpvar:
		rec := core.NewExpvarMetricsRecorder("")
		exp.metrics = rec
		exp.flushes = append(exp.flushes, func(context.Context) {
			snap := rec.Snapshot()
			logger.Debug("expvar metrics", "name", rec.Name(), "results", snap.Results, "durations_ms", snap.DurationsMS)
		})
	case config.MetricsPrometheus:
		reg := prometheus.NewRegistry()
		rec, err := core.NewPrometheusMetricsRecorder(reg)
		if err != nil {
			return nil, err
		}
		exp.metrics = rec
		exp.flushes = append(exp.flushes, func(context.Context) {
			families, err := reg.Gather()
			if err != nil {
				logger.Warn("gather metrics", "error", err)
				return
			}
			for _, mf := range families {
				logger.Debug("prometheus metrics", "family", mf.GetName(), "series", len(mf.GetMetric()))
			}
		})
	}

	switch cfg.Tracing {
	case config.TracingJSON:
		exp.tracer = core.NewJSONTracer(stderr)
	case config.TracingOTel:
		provider := sdktrace.NewTracerProvider(sdktrace.WithSyncer(logSpanExporter{logger: logger}))
		exp.tracer = core.NewOTelTracer(provider)
		exp.flushes = append(exp.flushes, func(ctx context.Context) {
			if err := provider.Shutdown(ctx); err != nil {
				logger.Warn("shutdown tracer provider", "error", err)
			}
		})
	}
	return exp, nil
}

// logSpanExporter writes finished spans to the process logger.
type logSpanExporter struct {
	logger *slog.Logger
}

func (e logSpanExporter) ExportSpans(_ context.Context, spans []sdktrace.ReadOnlySpan) error {
	for _, s := range spans {
		e.logger.Info("span",
			"name", s.Name(),
			"trace_id", s.SpanContext().TraceID().String(),
			"status", s.Status().Code.String(),
			"duration", s.EndTime().Sub(s.StartTime()),
		)
	}
	return nil
}

func (logSpanExporter) Shutdown(context.Context) error { return nil }
