package supabase

import (
	"context"
	"net/url"

	"github.com/gestor-ciclista/gestor-api/internal/domain"

	"go.opentelemetry.io/otel/attribute"
)

// ============================================================
// Profiles (roles) and legacy clients
// ============================================================

const (
	tableProfiles = "profiles"
	tableClients  = "clients"
)

func (c *Client) GetProfile(ctx context.Context, userID string) (*domain.Profile, error) {
	ctx, span := tracer.Start(ctx, "Supabase.GetProfile")
	defer span.End()
	span.SetAttributes(attribute.String("user.id", userID))

	var rows []domain.Profile
	q := url.Values{"select": {"*"}, "id": {"eq." + userID}, "limit": {"1"}}
	if _, err := c.selectRows(ctx, tableProfiles, q, false, &rows); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return &rows[0], nil
}

func (c *Client) ListProfiles(ctx context.Context) ([]domain.Profile, error) {
	ctx, span := tracer.Start(ctx, "Supabase.ListProfiles")
	defer span.End()

	return selectAll[domain.Profile](ctx, c, tableProfiles, url.Values{"select": {"*"}})
}

func (c *Client) UpsertProfile(ctx context.Context, p *domain.Profile) error {
	ctx, span := tracer.Start(ctx, "Supabase.UpsertProfile")
	defer span.End()
	span.SetAttributes(attribute.String("user.id", p.ID))

	return c.upsertRow(ctx, tableProfiles, map[string]any{
		"id":    p.ID,
		"email": p.Email,
		"role":  string(p.Role),
	})
}

func (c *Client) UpdateProfileRole(ctx context.Context, userID string, role domain.Role) error {
	ctx, span := tracer.Start(ctx, "Supabase.UpdateProfileRole")
	defer span.End()
	span.SetAttributes(attribute.String("user.id", userID), attribute.String("role", string(role)))

	var rows []domain.Profile
	if err := c.updateRows(ctx, tableProfiles, url.Values{"id": {"eq." + userID}}, map[string]any{"role": string(role)}, &rows); err != nil {
		return err
	}
	if len(rows) == 0 {
		return &domain.ErrNotFound{Resource: "profile", ID: userID}
	}
	return nil
}

func (c *Client) CountAdmins(ctx context.Context) (int, error) {
	ctx, span := tracer.Start(ctx, "Supabase.CountAdmins")
	defer span.End()

	var rows []map[string]any
	q := url.Values{"select": {"id"}, "role": {"eq." + string(domain.RoleAdmin)}, "limit": {"1"}}
	return c.selectRows(ctx, tableProfiles, q, true, &rows)
}

func (c *Client) ListLegacyClients(ctx context.Context) ([]domain.LegacyClient, error) {
	ctx, span := tracer.Start(ctx, "Supabase.ListLegacyClients")
	defer span.End()

	q := url.Values{"select": {"*"}, "order": {"created_at.asc"}}
	return selectAll[domain.LegacyClient](ctx, c, tableClients, q)
}
