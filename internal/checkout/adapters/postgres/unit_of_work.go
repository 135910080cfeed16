package postgres

import (
	"context"
	"errors"

	"github.com/dejobratic/checkout/internal/checkout/ports"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const uniqueViolation = "23505"

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// UnitOfWork runs each unit in a read-committed transaction. Row locks taken with
// SELECT ... FOR UPDATE are held until the transaction ends.
type UnitOfWork struct {
	pool *pgxpool.Pool
}

func NewUnitOfWork(pool *pgxpool.Pool) *UnitOfWork {
	return &UnitOfWork{pool: pool}
}

func (u *UnitOfWork) Do(ctx context.Context, fn func(ctx context.Context, tx ports.Tx) error) error {
	return pgx.BeginTxFunc(ctx, u.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		return fn(ctx, repositories{q: tx})
	})
}

type repositories struct {
	q querier
}

func (r repositories) Carts() ports.CartRepository       { return &CartRepository{q: r.q} }
func (r repositories) Orders() ports.OrderRepository     { return &OrderRepository{q: r.q} }
func (r repositories) Payments() ports.PaymentRepository { return &PaymentRepository{q: r.q} }
func (r repositories) Catalog() ports.Catalog            { return &Catalog{q: r.q} }
func (r repositories) Outbox() ports.Outbox              { return &Outbox{q: r.q} }

// mapError translates driver errors into the port sentinels.
func mapError(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ports.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return ports.ErrConflict
	}
	return err
}
