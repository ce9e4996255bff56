package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/gestor-ciclista/gestor-api/internal/domain"

	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel/attribute"
)

const profileColumns = `id::text, COALESCE(email, ''), COALESCE(role, 'user'), created_at`

func scanProfile(row pgx.Row) (*domain.Profile, error) {
	var (
		p    domain.Profile
		role string
	)
	if err := row.Scan(&p.ID, &p.Email, &role, &p.CreatedAt); err != nil {
		return nil, err
	}
	p.Role = domain.Role(role)
	return &p, nil
}

func (s *Store) GetProfile(ctx context.Context, userID string) (*domain.Profile, error) {
	ctx, span := tracer.Start(ctx, "Postgres.GetProfile")
	defer span.End()
	span.SetAttributes(attribute.String("user.id", userID))

	p, err := scanProfile(s.db.QueryRow(ctx, `SELECT `+profileColumns+` FROM profiles WHERE id::text = $1`, userID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get profile: %w", err)
	}
	return p, nil
}

func (s *Store) ListProfiles(ctx context.Context) ([]domain.Profile, error) {
	ctx, span := tracer.Start(ctx, "Postgres.ListProfiles")
	defer span.End()

	rows, err := s.db.Query(ctx, `SELECT `+profileColumns+` FROM profiles`)
	if err != nil {
		return nil, fmt.Errorf("list profiles: %w", err)
	}
	defer rows.Close()

	out := make([]domain.Profile, 0)
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, fmt.Errorf("scan profile: %w", err)
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

func (s *Store) UpsertProfile(ctx context.Context, p *domain.Profile) error {
	ctx, span := tracer.Start(ctx, "Postgres.UpsertProfile")
	defer span.End()
	span.SetAttributes(attribute.String("user.id", p.ID))

	_, err := s.db.Exec(ctx, `
		INSERT INTO profiles (id, email, role) VALUES ($1::uuid, $2, $3)
		ON CONFLICT (id) DO UPDATE SET email = EXCLUDED.email, role = EXCLUDED.role`,
		p.ID, p.Email, string(p.Role))
	if err != nil {
		return fmt.Errorf("upsert profile: %w", err)
	}
	return nil
}

func (s *Store) UpdateProfileRole(ctx context.Context, userID string, role domain.Role) error {
	ctx, span := tracer.Start(ctx, "Postgres.UpdateProfileRole")
	defer span.End()
	span.SetAttributes(attribute.String("user.id", userID), attribute.String("user.role", string(role)))

	tag, err := s.db.Exec(ctx, `UPDATE profiles SET role = $2 WHERE id::text = $1`, userID, string(role))
	if err != nil {
		return fmt.Errorf("update profile role: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return &domain.ErrNotFound{Resource: "profile", ID: userID}
	}
	return nil
}

func (s *Store) CountAdmins(ctx context.Context) (int, error) {
	ctx, span := tracer.Start(ctx, "Postgres.CountAdmins")
	defer span.End()

	var n int
	if err := s.db.QueryRow(ctx, `SELECT count(*) FROM profiles WHERE role = 'admin'`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count admins: %w", err)
	}
	return n, nil
}

func (s *Store) ListLegacyClients(ctx context.Context) ([]domain.LegacyClient, error) {
	ctx, span := tracer.Start(ctx, "Postgres.ListLegacyClients")
	defer span.End()

	rows, err := s.db.Query(ctx, `
		SELECT id::text, COALESCE(name, ''), COALESCE(email, ''), COALESCE(phone, ''),
			COALESCE(address, ''), COALESCE(nif, ''), created_at
		FROM clients ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("list legacy clients: %w", err)
	}
	defer rows.Close()

	out := make([]domain.LegacyClient, 0)
	for rows.Next() {
		var c domain.LegacyClient
		if err := rows.Scan(&c.ID, &c.Name, &c.Email, &c.Phone, &c.Address, &c.NIF, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan legacy client: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
