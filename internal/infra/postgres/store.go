// Package postgres implements port.Store with a direct pgx connection to
// the Supabase database. It is selected with DATA_BACKEND=postgres and
// reads/writes the same tables PostgREST exposes.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/gestor-ciclista/gestor-api/internal/domain"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("postgres")

// DB is the subset of pgxpool.Pool used by the store (pgxmock implements it too).
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
}

// Store is the pgx-backed persistence adapter.
type Store struct {
	db     DB
	logger *zap.Logger
}

// Connect opens a pool and verifies the connection.
func Connect(ctx context.Context, dsn string, maxConns int32, logger *zap.Logger) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	logger.Info("postgres: connected", zap.Int32("max_conns", cfg.MaxConns))
	return pool, nil
}

// NewStore wraps a pool (or mock) in the store.
func NewStore(db DB, logger *zap.Logger) *Store {
	return &Store{db: db, logger: logger}
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

// writeError maps constraint violations on insert/update to domain errors.
func writeError(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505": // unique_violation
			return &domain.ErrConflict{Message: "Registo já existe"}
		case "23503": // foreign_key_violation
			return &domain.ErrValidation{Field: pgErr.ColumnName, Message: "Referência inexistente"}
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}

// columnSpec describes how an updatable column is written.
type columnSpec struct {
	cast     string // e.g. "::date"
	nullable bool   // "" is written as NULL
}

// buildUpdate renders "col = $n" assignments for the allowed columns of
// updates, in a stable order. Args start at $2 ($1 is the row id).
func buildUpdate(updates map[string]any, allowed map[string]columnSpec) (string, []any, error) {
	keys := make([]string, 0, len(updates))
	for k := range updates {
		if _, ok := allowed[k]; !ok {
			return "", nil, fmt.Errorf("column %q is not updatable", k)
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	sets := make([]string, 0, len(keys)+1)
	args := make([]any, 0, len(keys))
	for i, k := range keys {
		col := allowed[k]
		v := updates[k]
		if str, ok := v.(string); ok && col.nullable && str == "" {
			v = nil
		}
		args = append(args, v)
		sets = append(sets, fmt.Sprintf("%s = $%d%s", k, i+2, col.cast))
	}
	sets = append(sets, "updated_at = now()")
	return strings.Join(sets, ", "), args, nil
}

// pageBounds converts a 1-based page into limit/offset.
func pageBounds(page, pageSize int) (int, int) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}
	return pageSize, (page - 1) * pageSize
}
