// Package service holds the business rules of the cycling club manager:
// member records, invoices, roles, avatars and the audit trail.
package service

import (
	"context"
	"fmt"
	"time"

	"github.com/gestor-ciclista/gestor-api/internal/domain"
	"github.com/gestor-ciclista/gestor-api/internal/infra/observability"
	"github.com/gestor-ciclista/gestor-api/internal/port"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var ciclistaTracer = otel.Tracer("service/ciclistas")

// detailInvoiceLimit caps the invoices returned with a member detail.
const detailInvoiceLimit = 100

// CiclistaService manages club members.
type CiclistaService struct {
	store   port.Store
	storage port.ObjectStorage
	audit   Auditor
	trail   *AuditService
	metrics *observability.Metrics
	logger  *zap.Logger
	now     func() time.Time
}

func NewCiclistaService(store port.Store, storage port.ObjectStorage, audit Auditor, trail *AuditService, metrics *observability.Metrics, logger *zap.Logger) *CiclistaService {
	return &CiclistaService{
		store:   store,
		storage: storage,
		audit:   audit,
		trail:   trail,
		metrics: metrics,
		logger:  logger,
		now:     time.Now,
	}
}

func (s *CiclistaService) List(ctx context.Context, filter domain.CiclistaFilter) (*domain.ListResponse[domain.Ciclista], error) {
	ctx, span := ciclistaTracer.Start(ctx, "CiclistaService.List")
	defer span.End()

	start := time.Now()
	defer func() { s.metrics.RecordRequestDuration("ciclistas.list", time.Since(start)) }()

	filter.Page, filter.PageSize = normalizePage(filter.Page, filter.PageSize)
	rows, total, err := s.store.ListCiclistas(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("list ciclistas: %w", err)
	}
	resp := domain.NewListResponse(rows, total, filter.Page, filter.PageSize)
	return &resp, nil
}

func (s *CiclistaService) Get(ctx context.Context, id string) (*domain.Ciclista, error) {
	ctx, span := ciclistaTracer.Start(ctx, "CiclistaService.Get")
	defer span.End()
	span.SetAttributes(attribute.String("ciclista.id", id))

	return s.store.GetCiclista(ctx, id)
}

func (s *CiclistaService) Create(ctx context.Context, actor *domain.Principal, in *domain.CiclistaInput) (*domain.Ciclista, error) {
	ctx, span := ciclistaTracer.Start(ctx, "CiclistaService.Create")
	defer span.End()

	c := &domain.Ciclista{Ativo: true}
	in.Apply(c)
	if err := c.Validate(s.now()); err != nil {
		return nil, err
	}

	created, err := s.store.CreateCiclista(ctx, c)
	if err != nil {
		return nil, fmt.Errorf("create ciclista: %w", err)
	}
	s.metrics.IncrMutation(domain.EntityCiclista, "create")

	s.audit.Record(domain.AuditLog{
		UserEmail:  actor.Actor(),
		Action:     domain.ActionCiclistaCriado,
		Details:    fmt.Sprintf("Ciclista %q criado (ID: %s)", created.Nome, created.ID),
		EntityType: domain.EntityCiclista,
		EntityID:   created.ID,
	})

	s.logger.Info("ciclista created", zap.String("ciclista_id", created.ID), zap.String("actor", actor.Actor()))
	return created, nil
}

// Update patches the changed fields only. An input that changes nothing
// returns the current record without writing or auditing.
func (s *CiclistaService) Update(ctx context.Context, actor *domain.Principal, id string, in *domain.CiclistaInput) (*domain.Ciclista, error) {
	ctx, span := ciclistaTracer.Start(ctx, "CiclistaService.Update")
	defer span.End()
	span.SetAttributes(attribute.String("ciclista.id", id))

	current, err := s.store.GetCiclista(ctx, id)
	if err != nil {
		return nil, err
	}

	next := *current
	in.Apply(&next)
	if err := next.Validate(s.now()); err != nil {
		return nil, err
	}

	changes, err := Diff(current, &next)
	if err != nil {
		return nil, err
	}
	if len(changes) == 0 {
		return current, nil
	}

	updated, err := s.store.UpdateCiclista(ctx, id, changesToUpdates(changes))
	if err != nil {
		return nil, fmt.Errorf("update ciclista: %w", err)
	}
	s.metrics.IncrMutation(domain.EntityCiclista, "update")

	s.audit.Record(domain.AuditLog{
		UserEmail:  actor.Actor(),
		Action:     domain.ActionCiclistaAtualizado,
		Details:    fmt.Sprintf("Ciclista %q atualizado (ID: %s)", updated.Nome, updated.ID),
		Changes:    changes,
		EntityType: domain.EntityCiclista,
		EntityID:   updated.ID,
	})
	return updated, nil
}

// Delete removes the member row and its photo object.
func (s *CiclistaService) Delete(ctx context.Context, actor *domain.Principal, id string) error {
	ctx, span := ciclistaTracer.Start(ctx, "CiclistaService.Delete")
	defer span.End()
	span.SetAttributes(attribute.String("ciclista.id", id))

	current, err := s.store.GetCiclista(ctx, id)
	if err != nil {
		return err
	}

	if current.FotoURL != "" {
		if path, ok := s.storage.ObjectPath(current.FotoURL); ok {
			if err := s.storage.RemoveObject(ctx, path); err != nil {
				s.logger.Warn("ciclista delete: photo not removed",
					zap.String("ciclista_id", id), zap.String("path", path), zap.Error(err))
			}
		}
	}

	if err := s.store.DeleteCiclista(ctx, id); err != nil {
		return fmt.Errorf("delete ciclista: %w", err)
	}
	s.metrics.IncrMutation(domain.EntityCiclista, "delete")

	s.audit.Record(domain.AuditLog{
		UserEmail:  actor.Actor(),
		Action:     domain.ActionCiclistaEliminado,
		Details:    fmt.Sprintf("Ciclista %q eliminado (ID: %s)", current.Nome, current.ID),
		EntityType: domain.EntityCiclista,
		EntityID:   current.ID,
	})
	return nil
}

// Detail loads a member with its invoices and audit trail in parallel.
func (s *CiclistaService) Detail(ctx context.Context, id string) (*domain.CiclistaDetail, error) {
	ctx, span := ciclistaTracer.Start(ctx, "CiclistaService.Detail")
	defer span.End()
	span.SetAttributes(attribute.String("ciclista.id", id))

	c, err := s.store.GetCiclista(ctx, id)
	if err != nil {
		return nil, err
	}

	detail := &domain.CiclistaDetail{Ciclista: c}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		invoices, _, err := s.store.ListInvoices(gctx, domain.InvoiceFilter{
			CiclistaID: id, Page: 1, PageSize: detailInvoiceLimit,
		})
		if err != nil {
			return fmt.Errorf("list invoices: %w", err)
		}
		detail.Invoices = invoices
		return nil
	})
	g.Go(func() error {
		logs, err := s.trail.ForEntity(gctx, domain.EntityRef{Type: domain.EntityCiclista, ID: id, Name: c.Nome})
		if err != nil {
			return err
		}
		detail.AuditLogs = logs
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return detail, nil
}

// AuditTrail returns the audit rows of one member.
func (s *CiclistaService) AuditTrail(ctx context.Context, id string) ([]domain.AuditLog, error) {
	ctx, span := ciclistaTracer.Start(ctx, "CiclistaService.AuditTrail")
	defer span.End()

	c, err := s.store.GetCiclista(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.trail.ForEntity(ctx, domain.EntityRef{Type: domain.EntityCiclista, ID: c.ID, Name: c.Nome})
}
