package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/gestor-ciclista/gestor-api/internal/domain"

	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel/attribute"
)

const invoiceColumns = `id::text, ciclista_id::text, numero, COALESCE(description, ''), amount::float8,
	to_char(issue_date, 'YYYY-MM-DD'), COALESCE(to_char(due_date, 'YYYY-MM-DD'), ''), paid_at,
	status, COALESCE(payment_method, ''), COALESCE(notes, ''), created_at, updated_at`

var invoiceUpdatable = map[string]columnSpec{
	"ciclista_id":    {cast: "::uuid"},
	"numero":         {},
	"description":    {nullable: true},
	"amount":         {},
	"issue_date":     {cast: "::date"},
	"due_date":       {nullable: true, cast: "::date"},
	"paid_at":        {},
	"status":         {},
	"payment_method": {nullable: true},
	"notes":          {nullable: true},
}

func scanInvoice(row pgx.Row) (*domain.Invoice, error) {
	var (
		inv    domain.Invoice
		status string
		method string
	)
	err := row.Scan(
		&inv.ID, &inv.CiclistaID, &inv.Numero, &inv.Description, &inv.Amount,
		&inv.IssueDate, &inv.DueDate, &inv.PaidAt, &status, &method, &inv.Notes,
		&inv.CreatedAt, &inv.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	inv.Status = domain.InvoiceStatus(status)
	inv.PaymentMethod = domain.PaymentMethod(method)
	return &inv, nil
}

func (s *Store) queryInvoices(ctx context.Context, sql string, args ...any) ([]domain.Invoice, error) {
	rows, err := s.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.Invoice, 0)
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, fmt.Errorf("scan invoice: %w", err)
		}
		out = append(out, *inv)
	}
	return out, rows.Err()
}

func (s *Store) ListInvoices(ctx context.Context, filter domain.InvoiceFilter) ([]domain.Invoice, int, error) {
	ctx, span := tracer.Start(ctx, "Postgres.ListInvoices")
	defer span.End()

	const where = `WHERE ($1 = '' OR ciclista_id::text = $1) AND ($2 = '' OR status = $2)`

	var total int
	if err := s.db.QueryRow(ctx, `SELECT count(*) FROM invoices `+where,
		filter.CiclistaID, string(filter.Status)).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count invoices: %w", err)
	}

	limit, offset := pageBounds(filter.Page, filter.PageSize)
	out, err := s.queryInvoices(ctx,
		`SELECT `+invoiceColumns+` FROM invoices `+where+` ORDER BY issue_date DESC, created_at DESC LIMIT $3 OFFSET $4`,
		filter.CiclistaID, string(filter.Status), limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list invoices: %w", err)
	}
	return out, total, nil
}

func (s *Store) ListAllInvoices(ctx context.Context) ([]domain.Invoice, error) {
	ctx, span := tracer.Start(ctx, "Postgres.ListAllInvoices")
	defer span.End()

	out, err := s.queryInvoices(ctx, `SELECT `+invoiceColumns+` FROM invoices`)
	if err != nil {
		return nil, fmt.Errorf("list all invoices: %w", err)
	}
	return out, nil
}

func (s *Store) GetInvoice(ctx context.Context, id string) (*domain.Invoice, error) {
	ctx, span := tracer.Start(ctx, "Postgres.GetInvoice")
	defer span.End()
	span.SetAttributes(attribute.String("invoice.id", id))

	inv, err := scanInvoice(s.db.QueryRow(ctx, `SELECT `+invoiceColumns+` FROM invoices WHERE id::text = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &domain.ErrNotFound{Resource: "invoice", ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("get invoice: %w", err)
	}
	return inv, nil
}

func (s *Store) CreateInvoice(ctx context.Context, in *domain.Invoice) (*domain.Invoice, error) {
	ctx, span := tracer.Start(ctx, "Postgres.CreateInvoice")
	defer span.End()
	span.SetAttributes(attribute.String("ciclista.id", in.CiclistaID))

	inv, err := scanInvoice(s.db.QueryRow(ctx, `
		INSERT INTO invoices (ciclista_id, numero, description, amount, issue_date, due_date,
			paid_at, status, payment_method, notes)
		VALUES ($1::uuid, $2, NULLIF($3, ''), $4, $5::date, NULLIF($6, '')::date, $7, $8,
			NULLIF($9, ''), NULLIF($10, ''))
		RETURNING `+invoiceColumns,
		in.CiclistaID, in.Numero, in.Description, in.Amount, in.IssueDate, in.DueDate,
		in.PaidAt, string(in.Status), string(in.PaymentMethod), in.Notes,
	))
	if err != nil {
		return nil, writeError("insert invoice", err)
	}
	return inv, nil
}

func (s *Store) UpdateInvoice(ctx context.Context, id string, updates map[string]any) (*domain.Invoice, error) {
	ctx, span := tracer.Start(ctx, "Postgres.UpdateInvoice")
	defer span.End()
	span.SetAttributes(attribute.String("invoice.id", id))

	set, args, err := buildUpdate(updates, invoiceUpdatable)
	if err != nil {
		return nil, &domain.ErrValidation{Field: "updates", Message: err.Error()}
	}
	inv, err := scanInvoice(s.db.QueryRow(ctx,
		`UPDATE invoices SET `+set+` WHERE id::text = $1 RETURNING `+invoiceColumns,
		append([]any{id}, args...)...))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &domain.ErrNotFound{Resource: "invoice", ID: id}
	}
	if err != nil {
		return nil, writeError("update invoice", err)
	}
	return inv, nil
}

func (s *Store) DeleteInvoice(ctx context.Context, id string) error {
	ctx, span := tracer.Start(ctx, "Postgres.DeleteInvoice")
	defer span.End()
	span.SetAttributes(attribute.String("invoice.id", id))

	tag, err := s.db.Exec(ctx, `DELETE FROM invoices WHERE id::text = $1`, id)
	if err != nil {
		return fmt.Errorf("delete invoice: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return &domain.ErrNotFound{Resource: "invoice", ID: id}
	}
	return nil
}

func (s *Store) MaxInvoiceSeq(ctx context.Context, year int) (int, error) {
	ctx, span := tracer.Start(ctx, "Postgres.MaxInvoiceSeq")
	defer span.End()

	var n int
	err := s.db.QueryRow(ctx,
		`SELECT coalesce(max(substring(numero FROM '^FT[0-9]{4}/0*([1-9][0-9]{0,8})$')::int), 0)
		FROM invoices WHERE numero LIKE $1`, domain.InvoiceNumberPrefix(year)+"%").Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("max invoice seq: %w", err)
	}
	return n, nil
}

func (s *Store) ListPendingDueBefore(ctx context.Context, day string) ([]domain.Invoice, error) {
	ctx, span := tracer.Start(ctx, "Postgres.ListPendingDueBefore")
	defer span.End()

	out, err := s.queryInvoices(ctx,
		`SELECT `+invoiceColumns+` FROM invoices
		WHERE status = 'pending' AND due_date < $1::date ORDER BY due_date`, day)
	if err != nil {
		return nil, fmt.Errorf("list pending invoices: %w", err)
	}
	return out, nil
}
