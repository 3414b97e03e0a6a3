package otel

import (
	"context"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// CommandInstruments publishes metrics and traces for lifecycle commands
// handled by the daemon.
type CommandInstruments struct {
	meterEnabled bool
	traceEnabled bool

	counterCommands metric.Int64Counter
	counterErrors   metric.Int64Counter
	histDuration    metric.Int64Histogram

	tracer trace.Tracer
}

// CommandInfo identifies one command for labeling.
type CommandInfo struct {
	// Action is the lifecycle verb (start, stop, restart, reset, reauth).
	Action string
	// Origin says which surface issued it (http, websocket).
	Origin string
}

// CommandHandle tracks one in-flight command.
type CommandHandle struct {
	ctx   context.Context
	span  trace.Span
	start time.Time
	attrs []attribute.KeyValue
}

func newCommandInstruments(p *Provider) *CommandInstruments {
	if p == nil {
		return nil
	}

	inst := &CommandInstruments{
		meterEnabled: p.meterProvider != nil,
		traceEnabled: p.tracerProvider != nil,
	}
	if p.meterProvider != nil {
		inst.counterCommands, _ = p.meter.Int64Counter(
			"launcher.commands_total",
			metric.WithDescription("Number of lifecycle commands handled by the daemon"),
		)
		inst.counterErrors, _ = p.meter.Int64Counter(
			"launcher.command_errors_total",
			metric.WithDescription("Number of lifecycle commands that ended in error"),
		)
		inst.histDuration, _ = p.meter.Int64Histogram(
			"launcher.command.duration",
			metric.WithDescription("Duration of lifecycle commands in milliseconds"),
		)
	}
	if p.tracerProvider != nil {
		inst.tracer = p.tracer
	}
	return inst
}

// Start returns a command handle and a context carrying the active span when
// tracing is enabled.
func (i *CommandInstruments) Start(parent context.Context, info CommandInfo) (*CommandHandle, context.Context) {
	if i == nil {
		return nil, parent
	}

	h := &CommandHandle{
		ctx:   parent,
		start: time.Now(),
		attrs: buildCommandAttributes(info),
	}

	if i.traceEnabled && i.tracer != nil {
		ctx, span := i.tracer.Start(parent, spanNameFor(info.Action), trace.WithAttributes(h.attrs...))
		h.ctx = ctx
		h.span = span
	}
	return h, h.ctx
}

// Finish records metrics and closes the span with the command's outcome.
func (i *CommandInstruments) Finish(h *CommandHandle, err error) {
	if i == nil || h == nil {
		return
	}
	elapsed := time.Since(h.start)
	attrs := append([]attribute.KeyValue{}, h.attrs...)
	outcome := "ok"
	errText := ""
	if err != nil {
		outcome = "error"
		errText = err.Error()
		attrs = append(attrs, attribute.String("error.message", errText))
	}
	attrs = append(attrs, attribute.String("outcome", outcome))

	if i.meterEnabled {
		i.counterCommands.Add(h.ctx, 1, metric.WithAttributes(attrs...))
		if err != nil {
			i.counterErrors.Add(h.ctx, 1, metric.WithAttributes(attrs...))
		}
		i.histDuration.Record(h.ctx, elapsed.Milliseconds(), metric.WithAttributes(attrs...))
	}

	if h.span != nil {
		h.span.SetAttributes(attrs...)
		if err != nil {
			h.span.SetStatus(codes.Error, errText)
		}
		h.span.End()
	}
}

func buildCommandAttributes(info CommandInfo) []attribute.KeyValue {
	attrs := []attribute.KeyValue{}
	if info.Action != "" {
		attrs = append(attrs, attribute.String("launcher.action", info.Action))
	}
	if info.Origin != "" {
		attrs = append(attrs, attribute.String("launcher.origin", info.Origin))
	}
	return attrs
}

func spanNameFor(action string) string {
	action = strings.TrimSpace(action)
	if action == "" {
		return "launcher.command"
	}
	return "launcher." + action
}
