package service

import (
	"context"
	"fmt"

	"github.com/gestor-ciclista/gestor-api/internal/domain"
	"github.com/gestor-ciclista/gestor-api/internal/port"

	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var dashboardTracer = otel.Tracer("service/dashboard")

const recentActivityLimit = 10

// DashboardService builds the home screen overview.
type DashboardService struct {
	store  port.Store
	logger *zap.Logger
}

func NewDashboardService(store port.Store, logger *zap.Logger) *DashboardService {
	return &DashboardService{store: store, logger: logger}
}

// Overview fetches member counts, invoice totals and recent activity in parallel.
func (s *DashboardService) Overview(ctx context.Context) (*domain.Overview, error) {
	ctx, span := dashboardTracer.Start(ctx, "DashboardService.Overview")
	defer span.End()

	out := &domain.Overview{}
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		total, ativos, err := s.store.CountCiclistas(gctx)
		if err != nil {
			return fmt.Errorf("count ciclistas: %w", err)
		}
		out.CiclistasTotal, out.CiclistasAtivos = total, ativos
		return nil
	})
	g.Go(func() error {
		invoices, err := s.store.ListAllInvoices(gctx)
		if err != nil {
			return fmt.Errorf("list invoices: %w", err)
		}
		out.Invoices = domain.SummarizeInvoices(invoices)
		return nil
	})
	g.Go(func() error {
		logs, _, err := s.store.ListAuditLogs(gctx, domain.AuditFilter{Page: 1, PageSize: recentActivityLimit})
		if err != nil {
			return fmt.Errorf("list audit logs: %w", err)
		}
		out.RecentActivity = logs
		return nil
	})

	if err := g.Wait(); err != nil {
		s.logger.Error("dashboard overview failed", zap.Error(err))
		return nil, err
	}
	if out.RecentActivity == nil {
		out.RecentActivity = []domain.AuditLog{}
	}
	return out, nil
}
