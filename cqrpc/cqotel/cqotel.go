// © Copyright 2026, Gridpoint Labs
// SPDX-License-Identifier: Apache-2.0

// Package cqotel provides OpenTelemetry instrumentation for cqrpc servers.
// It implements the [cqrpc.DispatchHook] interface to add distributed
// tracing and metrics to RPC dispatch.
//
// Usage:
//
//	server := cqrpc.NewServer()
//	// ... register methods ...
//	cqotel.InstrumentServer(server, cqotel.DefaultConfig())
package cqotel

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gridpoint-labs/routeguide/cqrpc"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "cqrpc"

// Config configures OpenTelemetry instrumentation for a cqrpc server.
type Config struct {
	// TracerProvider supplies the tracer. Defaults to otel.GetTracerProvider().
	TracerProvider trace.TracerProvider
	// MeterProvider supplies the meter. Defaults to otel.GetMeterProvider().
	MeterProvider metric.MeterProvider
	// EnableTracing enables span creation. Default true.
	EnableTracing bool
	// EnableMetrics enables counter and histogram recording. Default true.
	EnableMetrics bool
	// RecordExceptions calls RecordError on the span for failed dispatches.
	// Default true.
	RecordExceptions bool
	// ServiceName is the rpc.service attribute value.
	// Defaults to Server.ServiceName() or "CqRpcServer".
	ServiceName string
	// CustomAttributes are added to every span.
	CustomAttributes []attribute.KeyValue
}

// DefaultConfig returns a Config with sensible defaults.
// TracerProvider and MeterProvider are resolved from the global OTel SDK
// at instrumentation time.
func DefaultConfig() Config {
	return Config{
		EnableTracing:    true,
		EnableMetrics:    true,
		RecordExceptions: true,
	}
}

// InstrumentServer attaches OpenTelemetry instrumentation to a cqrpc
// server. The hook is installed via [cqrpc.Server.SetDispatchHook].
func InstrumentServer(server *cqrpc.Server, cfg Config) {
	if cfg.TracerProvider == nil {
		cfg.TracerProvider = otel.GetTracerProvider()
	}
	if cfg.MeterProvider == nil {
		cfg.MeterProvider = otel.GetMeterProvider()
	}
	if cfg.ServiceName == "" {
		if sn := server.ServiceName(); sn != "" {
			cfg.ServiceName = sn
		} else {
			cfg.ServiceName = "CqRpcServer"
		}
	}

	hook := &otelHook{
		cfg:    cfg,
		tracer: cfg.TracerProvider.Tracer(instrumentationName),
	}

	if cfg.EnableMetrics {
		meter := cfg.MeterProvider.Meter(instrumentationName)
		hook.requestCounter, _ = meter.Int64Counter("rpc.server.requests",
			metric.WithUnit("{request}"),
			metric.WithDescription("Number of RPC requests"),
		)
		hook.durationHistogram, _ = meter.Float64Histogram("rpc.server.duration",
			metric.WithUnit("s"),
			metric.WithDescription("Duration of RPC requests"),
		)
	}

	server.SetDispatchHook(hook)
}

// otelHook implements cqrpc.DispatchHook with OpenTelemetry tracing and
// metrics.
type otelHook struct {
	cfg               Config
	tracer            trace.Tracer
	requestCounter    metric.Int64Counter
	durationHistogram metric.Float64Histogram
}

// spanToken is the HookToken returned by OnDispatchStart.
type spanToken struct {
	span      trace.Span
	startTime time.Time
}

// OnDispatchStart starts a server span for the dispatched call.
func (h *otelHook) OnDispatchStart(ctx context.Context, info cqrpc.DispatchInfo) (context.Context, cqrpc.HookToken) {
	if !h.cfg.EnableTracing {
		return ctx, &spanToken{startTime: time.Now()}
	}

	spanName := fmt.Sprintf("cqrpc/%s", info.Method)

	attrs := []attribute.KeyValue{
		attribute.String("rpc.system", "cqrpc"),
		attribute.String("rpc.service", h.cfg.ServiceName),
		attribute.String("rpc.method", info.Method),
		attribute.String("rpc.cqrpc.method_type", info.MethodType),
	}
	attrs = append(attrs, h.cfg.CustomAttributes...)
	if info.Peer != "" {
		attrs = append(attrs, attribute.String("net.peer.address", info.Peer))
	}

	ctx, span := h.tracer.Start(ctx, spanName,
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(attrs...),
	)

	return ctx, &spanToken{span: span, startTime: time.Now()}
}

// OnDispatchEnd records metrics, sets the span status, and ends the span.
func (h *otelHook) OnDispatchEnd(ctx context.Context, token cqrpc.HookToken, info cqrpc.DispatchInfo, err error) {
	st, ok := token.(*spanToken)
	if !ok {
		return
	}

	duration := time.Since(st.startTime)

	status := "ok"
	if err != nil {
		status = "error"
	}

	if h.cfg.EnableMetrics {
		metricAttrs := metric.WithAttributes(
			attribute.String("rpc.system", "cqrpc"),
			attribute.String("rpc.service", h.cfg.ServiceName),
			attribute.String("rpc.method", info.Method),
			attribute.String("rpc.cqrpc.method_type", info.MethodType),
			attribute.String("status", status),
		)
		if h.requestCounter != nil {
			h.requestCounter.Add(ctx, 1, metricAttrs)
		}
		if h.durationHistogram != nil {
			h.durationHistogram.Record(ctx, duration.Seconds(), metricAttrs)
		}
	}

	if st.span != nil && st.span.IsRecording() {
		if err != nil {
			st.span.SetStatus(codes.Error, err.Error())
			if h.cfg.RecordExceptions {
				st.span.RecordError(err)
			}
			errCode := "unknown"
			var se *cqrpc.StatusError
			if errors.As(err, &se) {
				errCode = se.Status().Code().String()
			}
			st.span.SetAttributes(attribute.String("rpc.cqrpc.status_code", errCode))
		} else {
			st.span.SetStatus(codes.Ok, "")
		}

		st.span.End()
	}
}
