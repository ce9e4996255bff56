package supabase

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/gestor-ciclista/gestor-api/internal/domain"
)

// ============================================================
// Audit logs: append + filtered reads via PostgREST
// ============================================================

const tableAuditLogs = "audit_logs"

func (c *Client) InsertAuditLog(ctx context.Context, log *domain.AuditLog) error {
	ctx, span := tracer.Start(ctx, "Supabase.InsertAuditLog")
	defer span.End()

	row := map[string]any{
		"timestamp":   log.Timestamp.UTC().Format(time.RFC3339Nano),
		"user_email":  log.UserEmail,
		"action":      log.Action,
		"details":     log.Details,
		"entity_type": nullable(log.EntityType),
		"entity_id":   nullable(log.EntityID),
	}
	if len(log.Changes) > 0 {
		row["changes"] = log.Changes
	}
	return c.writeRows(ctx, http.MethodPost, tableAuditLogs, nil, row, nil, map[string]string{"Prefer": "return=minimal"})
}

func (c *Client) ListAuditLogs(ctx context.Context, filter domain.AuditFilter) ([]domain.AuditLog, int, error) {
	ctx, span := tracer.Start(ctx, "Supabase.ListAuditLogs")
	defer span.End()

	q := url.Values{"select": {"*"}, "order": {"timestamp.desc"}}
	if filter.Action != "" {
		q.Set("action", "ilike."+ilikePattern(filter.Action))
	}
	if filter.UserEmail != "" {
		q.Set("user_email", "eq."+filter.UserEmail)
	}
	if filter.From != nil {
		q.Add("timestamp", "gte."+filter.From.UTC().Format(time.RFC3339))
	}
	if filter.To != nil {
		q.Add("timestamp", "lte."+filter.To.UTC().Format(time.RFC3339))
	}
	pageQuery(q, filter.Page, filter.PageSize)

	var rows []domain.AuditLog
	total, err := c.selectRows(ctx, tableAuditLogs, q, true, &rows)
	if err != nil {
		return nil, 0, err
	}
	return rows, total, nil
}

func (c *Client) SearchAuditLogs(ctx context.Context, ref domain.EntityRef, limit int) ([]domain.AuditLog, error) {
	ctx, span := tracer.Start(ctx, "Supabase.SearchAuditLogs")
	defer span.End()

	id := quoteValue(ilikePattern(ref.ID))
	conds := []string{
		"details.ilike." + id,
		"action.ilike." + id,
		fmt.Sprintf("and(entity_type.eq.%s,entity_id.eq.%s)", quoteValue(ref.Type), quoteValue(ref.ID)),
	}
	if ref.Name != "" {
		conds = append(conds, "details.ilike."+quoteValue(ilikePattern(ref.Name)))
	}

	q := url.Values{
		"select": {"*"},
		"order":  {"timestamp.desc"},
		"limit":  {strconv.Itoa(limit)},
	}
	q.Set("or", "("+joinConds(conds)+")")

	var rows []domain.AuditLog
	if _, err := c.selectRows(ctx, tableAuditLogs, q, false, &rows); err != nil {
		return nil, err
	}
	return rows, nil
}
