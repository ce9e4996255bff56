package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/gestor-ciclista/gestor-api/internal/domain"

	"go.uber.org/zap"
)

// ImportLegacyClients copies rows of the legacy clients table into
// ciclistas. A client is skipped when a member with the same NIF or email
// already exists (or was imported earlier in the same run), or when it
// does not pass member validation. One audit row is written per run.
func (s *CiclistaService) ImportLegacyClients(ctx context.Context, actor *domain.Principal) (*domain.ImportResult, error) {
	ctx, span := ciclistaTracer.Start(ctx, "CiclistaService.ImportLegacyClients")
	defer span.End()

	clients, err := s.store.ListLegacyClients(ctx)
	if err != nil {
		return nil, fmt.Errorf("list legacy clients: %w", err)
	}

	res := &domain.ImportResult{}
	seen := make(map[string]bool)
	for _, lc := range clients {
		c := legacyToCiclista(lc)
		nifKey, emailKey := "nif:"+c.NIF, "email:"+strings.ToLower(c.Email)
		if (c.NIF != "" && seen[nifKey]) || (c.Email != "" && seen[emailKey]) {
			res.Skipped++
			continue
		}

		if err := c.Validate(s.now()); err != nil {
			s.logger.Info("legacy import: client skipped", zap.String("client_id", lc.ID), zap.Error(err))
			res.Skipped++
			continue
		}

		existing, err := s.store.FindCiclistaByNIFOrEmail(ctx, c.NIF, c.Email)
		if err != nil {
			return nil, fmt.Errorf("find ciclista: %w", err)
		}
		if existing != nil {
			res.Skipped++
			continue
		}

		if _, err := s.store.CreateCiclista(ctx, c); err != nil {
			return nil, fmt.Errorf("import client %s: %w", lc.ID, err)
		}
		if c.NIF != "" {
			seen[nifKey] = true
		}
		if c.Email != "" {
			seen[emailKey] = true
		}
		res.Imported++
	}

	if res.Imported > 0 {
		s.metrics.IncrMutation(domain.EntityCiclista, "import")
	}
	s.audit.Record(domain.AuditLog{
		UserEmail:  actor.Actor(),
		Action:     domain.ActionClientesImportados,
		Details:    fmt.Sprintf("%d clientes importados, %d ignorados", res.Imported, res.Skipped),
		EntityType: domain.EntityCiclista,
	})

	s.logger.Info("legacy import finished",
		zap.Int("imported", res.Imported),
		zap.Int("skipped", res.Skipped),
		zap.String("actor", actor.Actor()),
	)
	return res, nil
}

func legacyToCiclista(lc domain.LegacyClient) *domain.Ciclista {
	return &domain.Ciclista{
		Nome:     strings.TrimSpace(lc.Name),
		Email:    strings.TrimSpace(lc.Email),
		Telefone: strings.TrimSpace(lc.Phone),
		Morada:   strings.TrimSpace(lc.Address),
		NIF:      strings.TrimSpace(lc.NIF),
		Ativo:    true,
	}
}
