package supabase

import (
	"context"
	"fmt"
	"net/url"

	"github.com/gestor-ciclista/gestor-api/internal/domain"

	"go.opentelemetry.io/otel/attribute"
)

// ============================================================
// Invoices: CRUD via PostgREST
// ============================================================

const tableInvoices = "invoices"

func invoiceRow(inv *domain.Invoice) map[string]any {
	row := map[string]any{
		"ciclista_id":    inv.CiclistaID,
		"numero":         inv.Numero,
		"description":    nullable(inv.Description),
		"amount":         inv.Amount,
		"issue_date":     inv.IssueDate,
		"due_date":       nullable(inv.DueDate),
		"status":         string(inv.Status),
		"payment_method": nullable(string(inv.PaymentMethod)),
		"notes":          nullable(inv.Notes),
	}
	if inv.PaidAt != nil {
		row["paid_at"] = inv.PaidAt
	}
	return row
}

func (c *Client) ListInvoices(ctx context.Context, filter domain.InvoiceFilter) ([]domain.Invoice, int, error) {
	ctx, span := tracer.Start(ctx, "Supabase.ListInvoices")
	defer span.End()

	q := url.Values{"select": {"*"}, "order": {"issue_date.desc,created_at.desc"}}
	if filter.CiclistaID != "" {
		q.Set("ciclista_id", "eq."+filter.CiclistaID)
	}
	if filter.Status != "" {
		q.Set("status", "eq."+string(filter.Status))
	}
	pageQuery(q, filter.Page, filter.PageSize)

	var rows []domain.Invoice
	total, err := c.selectRows(ctx, tableInvoices, q, true, &rows)
	if err != nil {
		return nil, 0, err
	}
	return rows, total, nil
}

func (c *Client) ListAllInvoices(ctx context.Context) ([]domain.Invoice, error) {
	ctx, span := tracer.Start(ctx, "Supabase.ListAllInvoices")
	defer span.End()

	q := url.Values{"select": {"id,ciclista_id,amount,status,due_date,issue_date"}}
	return selectAll[domain.Invoice](ctx, c, tableInvoices, q)
}

func (c *Client) GetInvoice(ctx context.Context, id string) (*domain.Invoice, error) {
	ctx, span := tracer.Start(ctx, "Supabase.GetInvoice")
	defer span.End()
	span.SetAttributes(attribute.String("invoice.id", id))

	var rows []domain.Invoice
	q := url.Values{"select": {"*"}, "id": {"eq." + id}, "limit": {"1"}}
	if _, err := c.selectRows(ctx, tableInvoices, q, false, &rows); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, &domain.ErrNotFound{Resource: "invoice", ID: id}
	}
	return &rows[0], nil
}

func (c *Client) CreateInvoice(ctx context.Context, inv *domain.Invoice) (*domain.Invoice, error) {
	ctx, span := tracer.Start(ctx, "Supabase.CreateInvoice")
	defer span.End()
	span.SetAttributes(attribute.String("ciclista.id", inv.CiclistaID))

	var rows []domain.Invoice
	if err := c.insertRow(ctx, tableInvoices, invoiceRow(inv), &rows); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("no result from invoices insert")
	}
	return &rows[0], nil
}

func (c *Client) UpdateInvoice(ctx context.Context, id string, updates map[string]any) (*domain.Invoice, error) {
	ctx, span := tracer.Start(ctx, "Supabase.UpdateInvoice")
	defer span.End()
	span.SetAttributes(attribute.String("invoice.id", id))

	var rows []domain.Invoice
	if err := c.updateRows(ctx, tableInvoices, url.Values{"id": {"eq." + id}}, nullableMap(updates), &rows); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, &domain.ErrNotFound{Resource: "invoice", ID: id}
	}
	return &rows[0], nil
}

func (c *Client) DeleteInvoice(ctx context.Context, id string) error {
	ctx, span := tracer.Start(ctx, "Supabase.DeleteInvoice")
	defer span.End()
	span.SetAttributes(attribute.String("invoice.id", id))

	return c.deleteRows(ctx, tableInvoices, url.Values{"id": {"eq." + id}})
}

func (c *Client) MaxInvoiceSeq(ctx context.Context, year int) (int, error) {
	ctx, span := tracer.Start(ctx, "Supabase.MaxInvoiceSeq")
	defer span.End()

	// numero.desc would put FT2026/9999 above FT2026/10000.
	q := url.Values{
		"select": {"id,numero"},
		"numero": {"like." + domain.InvoiceNumberPrefix(year) + "*"},
	}
	rows, err := selectAll[domain.Invoice](ctx, c, tableInvoices, q)
	if err != nil {
		return 0, err
	}
	highest := 0
	for _, r := range rows {
		if seq, ok := domain.InvoiceSeq(r.Numero, year); ok && seq > highest {
			highest = seq
		}
	}
	return highest, nil
}

func (c *Client) ListPendingDueBefore(ctx context.Context, day string) ([]domain.Invoice, error) {
	ctx, span := tracer.Start(ctx, "Supabase.ListPendingDueBefore")
	defer span.End()

	q := url.Values{
		"select":   {"*"},
		"status":   {"eq." + string(domain.InvoicePending)},
		"due_date": {"lt." + day},
		"order":    {"due_date.asc"},
	}
	return selectAll[domain.Invoice](ctx, c, tableInvoices, q)
}
