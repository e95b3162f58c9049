package crdb

import (
	"context"
	_ "embed"
	"math"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/robertarktes/event-ticketing/internal/domain"
	"github.com/robertarktes/event-ticketing/internal/observability"
	"github.com/robertarktes/event-ticketing/internal/retry"
)

const (
	SerializationFailureCode = "40001"
	UniqueViolationCode      = "23505"
	CheckViolationCode       = "23514"
)

//go:embed schema.sql
var schema string

type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Migrate applies the schema. Every statement is idempotent.
func (r *Repository) Migrate(ctx context.Context) error {
	if _, err := r.pool.Exec(ctx, schema); err != nil {
		return errors.Wrap(err, "apply schema")
	}
	return nil
}

func (r *Repository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

func (r *Repository) WithTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	start := time.Now()
	defer func() { observability.DBTxDuration.Observe(time.Since(start).Seconds()) }()

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return mapError(err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, "SET TRANSACTION ISOLATION LEVEL SERIALIZABLE")
	if err != nil {
		return mapError(err)
	}

	if err := fn(tx); err != nil {
		return mapError(err)
	}
	return mapError(tx.Commit(ctx))
}

// retryTx reruns a transaction that lost a serialization conflict.
func (r *Repository) retryTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	return retry.Do(ctx, retry.DefaultPolicy(), nil, func(ctx context.Context) error {
		return r.WithTx(ctx, fn)
	})
}

// mapError turns driver failures into domain categories.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case SerializationFailureCode:
			return errors.Wrap(domain.ErrSerializationFailure, pgErr.Message)
		case UniqueViolationCode:
			return errors.Wrapf(domain.ErrConflict, "unique violation on %s", pgErr.ConstraintName)
		case CheckViolationCode:
			return errors.Wrapf(domain.ErrInvalidInput, "check violation on %s", pgErr.ConstraintName)
		}
	}
	return err
}

type scanner interface {
	Scan(dest ...any) error
}

func (r *Repository) exists(ctx context.Context, query string, args ...any) (bool, error) {
	var ok bool
	err := r.pool.QueryRow(ctx, query, args...).Scan(&ok)
	return ok, mapError(err)
}

// pageArgs returns LIMIT and OFFSET for p. A zero limit means all rows.
func pageArgs(p domain.Page) (limit, offset int) {
	limit = p.Limit
	if limit <= 0 {
		limit = math.MaxInt32
	}
	return limit, max(p.Offset, 0)
}
