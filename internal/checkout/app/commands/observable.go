package commands

import (
	"context"
	"log/slog"
	"time"

	"github.com/dejobratic/checkout/internal/checkout/metrics"
	"github.com/dejobratic/checkout/internal/telemetry"
)

// ObservableHandler wraps a Handler with a span, command metrics and structured logs.
type ObservableHandler[C Command, R any] struct {
	handler Handler[C, R]
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewObservableHandler wraps handler. A nil logger falls back to slog.Default and nil metrics
// disables recording.
func NewObservableHandler[C Command, R any](handler Handler[C, R], logger *slog.Logger, metrics *metrics.Metrics) *ObservableHandler[C, R] {
	if logger == nil {
		logger = slog.Default()
	}
	return &ObservableHandler[C, R]{
		handler: handler,
		logger:  logger,
		metrics: metrics,
	}
}

func (o *ObservableHandler[C, R]) Handle(ctx context.Context, cmd C) (R, error) {
	name := cmd.Name()
	ctx, span := telemetry.StartSpan(ctx, name+".Handle")
	defer span.End()

	attrs := cmd.Attributes()
	telemetry.AddSpanAttributes(span, attrs...)

	logArgs := make([]any, 0, len(attrs))
	for _, a := range attrs {
		logArgs = append(logArgs, slog.Any(string(a.Key), a.Value.AsInterface()))
	}

	start := time.Now()
	var err error
	defer func() {
		if o.metrics != nil {
			o.metrics.RecordCommand(ctx, name, time.Since(start).Seconds(), err)
		}
	}()

	o.logger.DebugContext(ctx, "handling command", append([]any{"command", name}, logArgs...)...)

	var result R
	result, err = o.handler.Handle(ctx, cmd)
	if err != nil {
		telemetry.RecordSpanError(span, err)
		outcome := metrics.Outcome(err)
		level := slog.LevelWarn
		if outcome == metrics.OutcomeInternal {
			level = slog.LevelError
		}
		o.logger.Log(ctx, level, "command failed",
			append([]any{"command", name, "error", err, "outcome", outcome}, logArgs...)...,
		)
		return result, err
	}

	o.logger.InfoContext(ctx, "command succeeded", append([]any{"command", name}, logArgs...)...)
	telemetry.SetSpanSuccess(span)

	return result, nil
}
