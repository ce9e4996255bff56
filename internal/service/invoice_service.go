package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gestor-ciclista/gestor-api/internal/domain"
	"github.com/gestor-ciclista/gestor-api/internal/infra/observability"
	"github.com/gestor-ciclista/gestor-api/internal/port"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

var invoiceTracer = otel.Tracer("service/invoices")

const numberingAttempts = 3

// InvoiceService manages invoices and their status machine.
type InvoiceService struct {
	store   port.Store
	audit   Auditor
	metrics *observability.Metrics
	logger  *zap.Logger
	now     func() time.Time
}

func NewInvoiceService(store port.Store, audit Auditor, metrics *observability.Metrics, logger *zap.Logger) *InvoiceService {
	return &InvoiceService{
		store:   store,
		audit:   audit,
		metrics: metrics,
		logger:  logger,
		now:     time.Now,
	}
}

func (s *InvoiceService) List(ctx context.Context, filter domain.InvoiceFilter) (*domain.ListResponse[domain.Invoice], error) {
	ctx, span := invoiceTracer.Start(ctx, "InvoiceService.List")
	defer span.End()

	if filter.Status != "" && !filter.Status.Valid() {
		return nil, &domain.ErrValidation{Field: "status", Message: fmt.Sprintf("Estado desconhecido: %s", filter.Status)}
	}
	filter.Page, filter.PageSize = normalizePage(filter.Page, filter.PageSize)

	rows, total, err := s.store.ListInvoices(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("list invoices: %w", err)
	}
	resp := domain.NewListResponse(rows, total, filter.Page, filter.PageSize)
	return &resp, nil
}

func (s *InvoiceService) Get(ctx context.Context, id string) (*domain.Invoice, error) {
	ctx, span := invoiceTracer.Start(ctx, "InvoiceService.Get")
	defer span.End()
	span.SetAttributes(attribute.String("invoice.id", id))

	return s.store.GetInvoice(ctx, id)
}

// Create inserts a pending invoice. An empty numero is assigned as the
// next FT<year>/<seq> of the issue year.
func (s *InvoiceService) Create(ctx context.Context, actor *domain.Principal, in *domain.InvoiceInput) (*domain.Invoice, error) {
	ctx, span := invoiceTracer.Start(ctx, "InvoiceService.Create")
	defer span.End()

	inv := &domain.Invoice{Status: domain.InvoicePending}
	in.Apply(inv)
	if inv.IssueDate == "" {
		inv.IssueDate = s.now().Format(domain.DateLayout)
	}
	if err := inv.Validate(); err != nil {
		return nil, err
	}

	owner, err := s.store.GetCiclista(ctx, inv.CiclistaID)
	var nf *domain.ErrNotFound
	if errors.As(err, &nf) {
		return nil, &domain.ErrValidation{Field: "ciclista_id", Message: "Ciclista não encontrado"}
	}
	if err != nil {
		return nil, fmt.Errorf("get ciclista: %w", err)
	}

	created, err := s.insertNumbered(ctx, inv)
	if err != nil {
		return nil, err
	}
	s.metrics.IncrMutation(domain.EntityInvoice, "create")

	s.audit.Record(domain.AuditLog{
		UserEmail:  actor.Actor(),
		Action:     domain.ActionFaturaCriada,
		Details:    fmt.Sprintf("Fatura %s de %.2f€ para %q (ID: %s)", created.Numero, created.Amount, owner.Nome, created.ID),
		EntityType: domain.EntityInvoice,
		EntityID:   created.ID,
	})
	return created, nil
}

// insertNumbered stores inv, assigning the next FT<year>/NNNN number when
// none was given. A concurrent create taking the same number is retried.
func (s *InvoiceService) insertNumbered(ctx context.Context, inv *domain.Invoice) (*domain.Invoice, error) {
	if inv.Numero != "" {
		created, err := s.store.CreateInvoice(ctx, inv)
		if err != nil {
			return nil, fmt.Errorf("create invoice: %w", err)
		}
		return created, nil
	}

	issued, _ := time.Parse(domain.DateLayout, inv.IssueDate)
	var lastErr error
	for attempt := 0; attempt < numberingAttempts; attempt++ {
		seq, err := s.store.MaxInvoiceSeq(ctx, issued.Year())
		if err != nil {
			return nil, fmt.Errorf("max invoice seq: %w", err)
		}
		inv.Numero = domain.InvoiceNumber(issued.Year(), seq+1)

		created, err := s.store.CreateInvoice(ctx, inv)
		if err == nil {
			return created, nil
		}
		var ce *domain.ErrConflict
		if !errors.As(err, &ce) {
			return nil, fmt.Errorf("create invoice: %w", err)
		}
		s.logger.Warn("invoice number taken, retrying",
			zap.String("numero", inv.Numero), zap.Int("attempt", attempt+1))
		lastErr = err
	}
	return nil, fmt.Errorf("create invoice: %w", lastErr)
}

func (s *InvoiceService) Update(ctx context.Context, actor *domain.Principal, id string, in *domain.InvoiceInput) (*domain.Invoice, error) {
	ctx, span := invoiceTracer.Start(ctx, "InvoiceService.Update")
	defer span.End()
	span.SetAttributes(attribute.String("invoice.id", id))

	current, err := s.store.GetInvoice(ctx, id)
	if err != nil {
		return nil, err
	}
	if current.Status == domain.InvoiceRefunded {
		return nil, &domain.ErrConflict{Message: "Fatura reembolsada não pode ser alterada"}
	}

	next := *current
	in.Apply(&next)
	if err := next.Validate(); err != nil {
		return nil, err
	}
	if next.CiclistaID != current.CiclistaID {
		if _, err := s.store.GetCiclista(ctx, next.CiclistaID); err != nil {
			return nil, &domain.ErrValidation{Field: "ciclista_id", Message: "Ciclista não encontrado"}
		}
	}

	changes, err := Diff(current, &next)
	if err != nil {
		return nil, err
	}
	if len(changes) == 0 {
		return current, nil
	}

	updated, err := s.store.UpdateInvoice(ctx, id, changesToUpdates(changes))
	if err != nil {
		return nil, fmt.Errorf("update invoice: %w", err)
	}
	s.metrics.IncrMutation(domain.EntityInvoice, "update")

	s.audit.Record(domain.AuditLog{
		UserEmail:  actor.Actor(),
		Action:     domain.ActionFaturaAtualizada,
		Details:    fmt.Sprintf("Fatura %s atualizada (ID: %s)", updated.Numero, updated.ID),
		Changes:    changes,
		EntityType: domain.EntityInvoice,
		EntityID:   updated.ID,
	})
	return updated, nil
}

func (s *InvoiceService) Delete(ctx context.Context, actor *domain.Principal, id string) error {
	ctx, span := invoiceTracer.Start(ctx, "InvoiceService.Delete")
	defer span.End()
	span.SetAttributes(attribute.String("invoice.id", id))

	current, err := s.store.GetInvoice(ctx, id)
	if err != nil {
		return err
	}
	if err := s.store.DeleteInvoice(ctx, id); err != nil {
		return fmt.Errorf("delete invoice: %w", err)
	}
	s.metrics.IncrMutation(domain.EntityInvoice, "delete")

	s.audit.Record(domain.AuditLog{
		UserEmail:  actor.Actor(),
		Action:     domain.ActionFaturaEliminada,
		Details:    fmt.Sprintf("Fatura %s eliminada (ID: %s)", current.Numero, current.ID),
		EntityType: domain.EntityInvoice,
		EntityID:   current.ID,
	})
	return nil
}

// MarkPaid settles a pending or overdue invoice.
func (s *InvoiceService) MarkPaid(ctx context.Context, actor *domain.Principal, id string, req *domain.InvoicePaymentRequest) (*domain.Invoice, error) {
	ctx, span := invoiceTracer.Start(ctx, "InvoiceService.MarkPaid")
	defer span.End()
	span.SetAttributes(attribute.String("invoice.id", id))

	current, err := s.store.GetInvoice(ctx, id)
	if err != nil {
		return nil, err
	}

	method := req.PaymentMethod
	if method == "" {
		method = current.PaymentMethod
	}
	if !method.Valid() {
		return nil, &domain.ErrValidation{Field: "payment_method", Message: "Método de pagamento inválido"}
	}
	paidAt := s.now().UTC()
	if req.PaidAt != nil {
		paidAt = req.PaidAt.UTC()
	}

	return s.transition(ctx, actor, current, domain.InvoicePaid, map[string]any{
		"paid_at":        paidAt,
		"payment_method": string(method),
	}, domain.ActionFaturaPaga)
}

// Refund reverses a paid invoice.
func (s *InvoiceService) Refund(ctx context.Context, actor *domain.Principal, id string) (*domain.Invoice, error) {
	ctx, span := invoiceTracer.Start(ctx, "InvoiceService.Refund")
	defer span.End()
	span.SetAttributes(attribute.String("invoice.id", id))

	current, err := s.store.GetInvoice(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.transition(ctx, actor, current, domain.InvoiceRefunded, nil, domain.ActionFaturaReembolsada)
}

func (s *InvoiceService) transition(ctx context.Context, actor *domain.Principal, current *domain.Invoice, next domain.InvoiceStatus, extra map[string]any, action string) (*domain.Invoice, error) {
	if !current.Status.CanTransition(next) {
		return nil, &domain.ErrConflict{
			Message: fmt.Sprintf("Transição de estado inválida: %s → %s", current.Status, next),
		}
	}

	updates := map[string]any{"status": string(next)}
	for k, v := range extra {
		updates[k] = v
	}
	updated, err := s.store.UpdateInvoice(ctx, current.ID, updates)
	if err != nil {
		return nil, fmt.Errorf("update invoice status: %w", err)
	}
	s.metrics.IncrMutation(domain.EntityInvoice, string(next))

	s.audit.Record(domain.AuditLog{
		UserEmail: actor.Actor(),
		Action:    action,
		Details:   fmt.Sprintf("Fatura %s (ID: %s)", current.Numero, current.ID),
		Changes: []domain.FieldChange{
			{Field: "status", OldValue: string(current.Status), NewValue: string(next)},
		},
		EntityType: domain.EntityInvoice,
		EntityID:   current.ID,
	})
	return updated, nil
}

// SweepOverdue marks every pending invoice due before today as overdue
// and returns how many were changed. Failures on single invoices are
// logged and skipped.
func (s *InvoiceService) SweepOverdue(ctx context.Context, actor *domain.Principal) (int, error) {
	ctx, span := invoiceTracer.Start(ctx, "InvoiceService.SweepOverdue")
	defer span.End()

	now := s.now().UTC()
	today := now.Format(domain.DateLayout)
	pending, err := s.store.ListPendingDueBefore(ctx, today)
	if err != nil {
		return 0, fmt.Errorf("list pending invoices: %w", err)
	}

	marked := 0
	for i := range pending {
		if ctx.Err() != nil {
			break
		}
		if !pending[i].IsOverdue(now) {
			continue
		}
		if _, err := s.transition(ctx, actor, &pending[i], domain.InvoiceOverdue, nil, domain.ActionFaturaVencida); err != nil {
			s.logger.Warn("overdue sweep: invoice not updated",
				zap.String("invoice_id", pending[i].ID), zap.Error(err))
			continue
		}
		marked++
	}

	s.metrics.AddOverdue(marked)
	span.SetAttributes(attribute.Int("invoices.marked", marked))
	return marked, nil
}

func (s *InvoiceService) Summary(ctx context.Context) (*domain.InvoiceSummary, error) {
	ctx, span := invoiceTracer.Start(ctx, "InvoiceService.Summary")
	defer span.End()

	invoices, err := s.store.ListAllInvoices(ctx)
	if err != nil {
		return nil, fmt.Errorf("list invoices: %w", err)
	}
	return domain.SummarizeInvoices(invoices), nil
}

// RunOverdueSweeper sweeps once at start and then every interval until
// ctx is cancelled.
func RunOverdueSweeper(ctx context.Context, svc *InvoiceService, interval time.Duration, logger *zap.Logger) {
	if interval <= 0 {
		logger.Info("overdue sweeper disabled")
		return
	}

	sweep := func() {
		n, err := svc.SweepOverdue(ctx, nil)
		if err != nil {
			logger.Error("overdue sweep failed", zap.Error(err))
			return
		}
		if n > 0 {
			logger.Info("overdue sweep", zap.Int("marked", n))
		}
	}

	sweep()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			logger.Info("overdue sweeper stopped")
			return
		case <-ticker.C:
			sweep()
		}
	}
}
