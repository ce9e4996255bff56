package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/gestor-ciclista/gestor-api/internal/domain"

	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel/attribute"
)

const auditColumns = `id::text, timestamp, COALESCE(user_email, ''), action, COALESCE(details, ''),
	changes, COALESCE(entity_type, ''), COALESCE(entity_id, '')`

func scanAuditLog(row pgx.Row) (*domain.AuditLog, error) {
	var (
		l       domain.AuditLog
		changes []byte
	)
	if err := row.Scan(&l.ID, &l.Timestamp, &l.UserEmail, &l.Action, &l.Details,
		&changes, &l.EntityType, &l.EntityID); err != nil {
		return nil, err
	}
	if len(changes) > 0 && string(changes) != "null" {
		if err := json.Unmarshal(changes, &l.Changes); err != nil {
			return nil, fmt.Errorf("decode changes: %w", err)
		}
	}
	return &l, nil
}

func (s *Store) queryAuditLogs(ctx context.Context, sql string, args ...any) ([]domain.AuditLog, error) {
	rows, err := s.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.AuditLog, 0)
	for rows.Next() {
		l, err := scanAuditLog(rows)
		if err != nil {
			return nil, fmt.Errorf("scan audit log: %w", err)
		}
		out = append(out, *l)
	}
	return out, rows.Err()
}

func (s *Store) InsertAuditLog(ctx context.Context, l *domain.AuditLog) error {
	ctx, span := tracer.Start(ctx, "Postgres.InsertAuditLog")
	defer span.End()
	span.SetAttributes(attribute.String("audit.action", l.Action))

	var changes []byte
	if len(l.Changes) > 0 {
		b, err := json.Marshal(l.Changes)
		if err != nil {
			return fmt.Errorf("encode changes: %w", err)
		}
		changes = b
	}

	_, err := s.db.Exec(ctx, `
		INSERT INTO audit_logs (timestamp, user_email, action, details, changes, entity_type, entity_id)
		VALUES ($1, $2, $3, $4, $5::jsonb, NULLIF($6, ''), NULLIF($7, ''))`,
		l.Timestamp, l.UserEmail, l.Action, l.Details, changes, l.EntityType, l.EntityID)
	if err != nil {
		return fmt.Errorf("insert audit log: %w", err)
	}
	return nil
}

func (s *Store) ListAuditLogs(ctx context.Context, filter domain.AuditFilter) ([]domain.AuditLog, int, error) {
	ctx, span := tracer.Start(ctx, "Postgres.ListAuditLogs")
	defer span.End()

	const where = `WHERE ($1 = '' OR action ILIKE '%' || $1 || '%')
	AND ($2 = '' OR user_email = $2)
	AND ($3::timestamptz IS NULL OR timestamp >= $3)
	AND ($4::timestamptz IS NULL OR timestamp <= $4)`
	args := []any{filter.Action, filter.UserEmail, filter.From, filter.To}

	var total int
	if err := s.db.QueryRow(ctx, `SELECT count(*) FROM audit_logs `+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count audit logs: %w", err)
	}

	limit, offset := pageBounds(filter.Page, filter.PageSize)
	out, err := s.queryAuditLogs(ctx,
		`SELECT `+auditColumns+` FROM audit_logs `+where+` ORDER BY timestamp DESC LIMIT $5 OFFSET $6`,
		append(args, limit, offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("list audit logs: %w", err)
	}
	return out, total, nil
}

func (s *Store) SearchAuditLogs(ctx context.Context, ref domain.EntityRef, limit int) ([]domain.AuditLog, error) {
	ctx, span := tracer.Start(ctx, "Postgres.SearchAuditLogs")
	defer span.End()
	span.SetAttributes(attribute.String("entity.type", ref.Type), attribute.String("entity.id", ref.ID))

	out, err := s.queryAuditLogs(ctx, `
		SELECT `+auditColumns+` FROM audit_logs
		WHERE details ILIKE '%' || $2 || '%'
			OR action ILIKE '%' || $2 || '%'
			OR (entity_type = $1 AND entity_id = $2)
			OR ($3 <> '' AND details ILIKE '%' || $3 || '%')
		ORDER BY timestamp DESC
		LIMIT $4`,
		ref.Type, ref.ID, ref.Name, limit)
	if err != nil {
		return nil, fmt.Errorf("search audit logs: %w", err)
	}
	return out, nil
}
