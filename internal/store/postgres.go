package store

import (
	"context"
	_ "embed"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"

	"github.com/PratikDhanave/incident-bot/internal/models"
)

// schemaSQL is embedded so the service can self-bootstrap its coordination table.
//
//go:embed schema.sql
var schemaSQL string

// undefinedTable is the SQLSTATE for a missing relation.
const undefinedTable = "42P01"

// PostgresStore is the coordination table on Postgres.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a connection pool and fails fast if DB is unreachable.
func NewPostgresStore(ctx context.Context, dbURL string) (*PostgresStore, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		return nil, wrapUnavailable(err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, wrapUnavailable(err)
	}

	return &PostgresStore{pool: pool}, nil
}

// EnsureSchema applies schema.sql. Safe to run multiple times.
func (p *PostgresStore) EnsureSchema(ctx context.Context) error {
	_, err := p.pool.Exec(ctx, schemaSQL)
	return errors.Wrap(err, "apply coordination schema")
}

func (p *PostgresStore) Ping(ctx context.Context) error {
	return classifyPostgres(p.pool.Ping(ctx))
}

func (p *PostgresStore) Close() error {
	p.pool.Close()
	return nil
}

func (p *PostgresStore) Get(ctx context.Context, key string) (models.Record, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	var rec models.Record
	var kind string
	err := p.pool.QueryRow(ctx, `
		SELECT pk, kind, status, owner, created_at, updated_at, expiration_time
		FROM coordination_records
		WHERE pk = $1
	`, key).Scan(&rec.Key, &kind, &rec.Status, &rec.Owner, &rec.CreatedAt, &rec.UpdatedAt, &rec.ExpirationTime)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Record{}, ErrNotFound
	}
	if err != nil {
		return models.Record{}, classifyPostgres(err)
	}
	rec.Kind = models.RecordKind(kind)
	return rec, nil
}

// PutIfAbsentOrExpired relies on ON CONFLICT ... DO UPDATE ... WHERE, which
// Postgres evaluates under the row lock. RETURNING yields a row only when the
// insert or the guarded update happened.
func (p *PostgresStore) PutIfAbsentOrExpired(ctx context.Context, rec models.Record, now time.Time) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	var one int
	err := p.pool.QueryRow(ctx, `
		INSERT INTO coordination_records(pk, kind, status, owner, created_at, updated_at, expiration_time)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		ON CONFLICT (pk) DO UPDATE SET
			kind = EXCLUDED.kind,
			status = EXCLUDED.status,
			owner = EXCLUDED.owner,
			created_at = EXCLUDED.created_at,
			updated_at = EXCLUDED.updated_at,
			expiration_time = EXCLUDED.expiration_time
		WHERE coordination_records.expiration_time <= $8
		RETURNING 1
	`, rec.Key, string(rec.Kind), rec.Status, rec.Owner, rec.CreatedAt, rec.UpdatedAt, rec.ExpirationTime, now.Unix()).Scan(&one)

	if err == nil {
		return nil
	}
	// A live row makes the guarded update a no-op, so RETURNING is empty.
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrConflict
	}
	return classifyPostgres(err)
}

func (p *PostgresStore) Put(ctx context.Context, rec models.Record) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	_, err := p.pool.Exec(ctx, `
		INSERT INTO coordination_records(pk, kind, status, owner, created_at, updated_at, expiration_time)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		ON CONFLICT (pk) DO UPDATE SET
			kind = EXCLUDED.kind,
			status = EXCLUDED.status,
			owner = EXCLUDED.owner,
			created_at = EXCLUDED.created_at,
			updated_at = EXCLUDED.updated_at,
			expiration_time = EXCLUDED.expiration_time
	`, rec.Key, string(rec.Kind), rec.Status, rec.Owner, rec.CreatedAt, rec.UpdatedAt, rec.ExpirationTime)
	return classifyPostgres(err)
}

func (p *PostgresStore) Delete(ctx context.Context, key string) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	_, err := p.pool.Exec(ctx, `DELETE FROM coordination_records WHERE pk = $1`, key)
	return classifyPostgres(err)
}

// classifyPostgres maps a missing table to ErrTableMissing, other server
// errors through unchanged, and everything else (dial, timeout) to
// ErrUnavailable.
func classifyPostgres(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if pgErr.Code == undefinedTable {
			return errors.Wrap(ErrTableMissing, pgErr.Message)
		}
		return errors.Wrap(err, "postgres")
	}
	return wrapUnavailable(err)
}
