package database

import (
	"context"
	"time"
)

const healthTimeout = 2 * time.Second

type Pinger interface {
	Ping(ctx context.Context) error
}

// CheckHealth pings the database, giving up after a short timeout.
func CheckHealth(ctx context.Context, db Pinger) error {
	ctx, cancel := context.WithTimeout(ctx, healthTimeout)
	defer cancel()

	return db.Ping(ctx)
}

// Readiness adapts CheckHealth to a readiness probe.
func Readiness(db Pinger) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		return CheckHealth(ctx, db)
	}
}
