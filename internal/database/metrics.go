package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

type Metrics struct {
	queryDuration metric.Float64Histogram
}

func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}

	var err error

	m.queryDuration, err = meter.Float64Histogram(
		"db_query_duration_seconds",
		metric.WithDescription("Database transaction duration"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("create db_query_duration histogram: %w", err)
	}

	return m, nil
}

// RecordQuery records how long an operation held its connection and whether it committed.
func (m *Metrics) RecordQuery(ctx context.Context, operation string, durationSeconds float64, err error) {
	outcome := "commit"
	if err != nil {
		outcome = "rollback"
	}
	m.queryDuration.Record(ctx, durationSeconds, metric.WithAttributes(
		attribute.String("operation", operation),
		attribute.String("outcome", outcome),
	))
}

// PoolStats is the subset of pgxpool statistics exported as gauges.
type PoolStats interface {
	Stat() *pgxpool.Stat
}

// ObservePool exports connection pool gauges, read at collection time.
func ObservePool(meter metric.Meter, pool PoolStats) error {
	acquired, err := meter.Int64ObservableGauge("db_pool_acquired_connections",
		metric.WithDescription("Connections currently checked out of the pool"))
	if err != nil {
		return fmt.Errorf("create db_pool_acquired_connections gauge: %w", err)
	}
	idle, err := meter.Int64ObservableGauge("db_pool_idle_connections",
		metric.WithDescription("Idle connections held by the pool"))
	if err != nil {
		return fmt.Errorf("create db_pool_idle_connections gauge: %w", err)
	}
	total, err := meter.Int64ObservableGauge("db_pool_total_connections",
		metric.WithDescription("Connections open in the pool"))
	if err != nil {
		return fmt.Errorf("create db_pool_total_connections gauge: %w", err)
	}

	_, err = meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		stat := pool.Stat()
		o.ObserveInt64(acquired, int64(stat.AcquiredConns()))
		o.ObserveInt64(idle, int64(stat.IdleConns()))
		o.ObserveInt64(total, int64(stat.TotalConns()))
		return nil
	}, acquired, idle, total)
	if err != nil {
		return fmt.Errorf("register pool callback: %w", err)
	}

	return nil
}
