package adapters

import (
	"context"
	"time"

	"github.com/dejobratic/checkout/internal/checkout/ports"
	"github.com/dejobratic/checkout/internal/database"
	"github.com/dejobratic/checkout/internal/telemetry"
	"go.opentelemetry.io/otel/attribute"
)

// ObservableUnitOfWork traces each unit of work and records how long its transaction stayed open.
type ObservableUnitOfWork struct {
	uow     ports.UnitOfWork
	metrics *database.Metrics
}

func NewObservableUnitOfWork(uow ports.UnitOfWork, metrics *database.Metrics) *ObservableUnitOfWork {
	return &ObservableUnitOfWork{
		uow:     uow,
		metrics: metrics,
	}
}

func (u *ObservableUnitOfWork) Do(ctx context.Context, fn func(ctx context.Context, tx ports.Tx) error) error {
	ctx, span := telemetry.StartSpan(ctx, "UnitOfWork.Do")
	defer span.End()

	telemetry.AddSpanAttributes(span, attribute.String("operation", "transaction"))

	start := time.Now()
	err := u.uow.Do(ctx, fn)
	duration := time.Since(start).Seconds()

	u.metrics.RecordQuery(ctx, "transaction", duration, err)

	if err != nil {
		telemetry.RecordSpanError(span, err)
		telemetry.AddSpanAttributes(span, attribute.Bool("transaction.rolled_back", true))
		return err
	}

	telemetry.SetSpanSuccess(span)
	return nil
}
