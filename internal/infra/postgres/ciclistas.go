package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/gestor-ciclista/gestor-api/internal/domain"

	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel/attribute"
)

const ciclistaColumns = `id::text, nome, COALESCE(email, ''), COALESCE(telefone, ''),
	COALESCE(to_char(data_nascimento, 'YYYY-MM-DD'), ''), COALESCE(morada, ''),
	COALESCE(codigo_postal, ''), COALESCE(localidade, ''), COALESCE(nif, ''),
	COALESCE(numero_socio, ''), COALESCE(tipo_bicicleta, ''), COALESCE(marca_bicicleta, ''),
	COALESCE(modelo_bicicleta, ''), COALESCE(numero_quadro, ''), COALESCE(foto_url, ''),
	COALESCE(observacoes, ''), ativo, created_at, updated_at`

var ciclistaUpdatable = map[string]columnSpec{
	"nome":             {},
	"email":            {nullable: true},
	"telefone":         {nullable: true},
	"data_nascimento":  {nullable: true, cast: "::date"},
	"morada":           {nullable: true},
	"codigo_postal":    {nullable: true},
	"localidade":       {nullable: true},
	"nif":              {nullable: true},
	"numero_socio":     {nullable: true},
	"tipo_bicicleta":   {nullable: true},
	"marca_bicicleta":  {nullable: true},
	"modelo_bicicleta": {nullable: true},
	"numero_quadro":    {nullable: true},
	"foto_url":         {nullable: true},
	"observacoes":      {nullable: true},
	"ativo":            {},
}

func scanCiclista(row pgx.Row) (*domain.Ciclista, error) {
	var c domain.Ciclista
	err := row.Scan(
		&c.ID, &c.Nome, &c.Email, &c.Telefone, &c.DataNascimento, &c.Morada,
		&c.CodigoPostal, &c.Localidade, &c.NIF, &c.NumeroSocio, &c.TipoBicicleta,
		&c.MarcaBicicleta, &c.ModeloBicicleta, &c.NumeroQuadro, &c.FotoURL,
		&c.Observacoes, &c.Ativo, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *Store) ListCiclistas(ctx context.Context, filter domain.CiclistaFilter) ([]domain.Ciclista, int, error) {
	ctx, span := tracer.Start(ctx, "Postgres.ListCiclistas")
	defer span.End()

	const where = `WHERE ($1 = '' OR nome ILIKE '%' || $1 || '%' OR email ILIKE '%' || $1 || '%' OR nif ILIKE '%' || $1 || '%')
	AND ($2::boolean IS NULL OR ativo = $2)`

	var total int
	if err := s.db.QueryRow(ctx, `SELECT count(*) FROM ciclistas `+where, filter.Search, filter.Ativo).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count ciclistas: %w", err)
	}

	limit, offset := pageBounds(filter.Page, filter.PageSize)
	rows, err := s.db.Query(ctx,
		`SELECT `+ciclistaColumns+` FROM ciclistas `+where+` ORDER BY nome LIMIT $3 OFFSET $4`,
		filter.Search, filter.Ativo, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list ciclistas: %w", err)
	}
	defer rows.Close()

	out := make([]domain.Ciclista, 0)
	for rows.Next() {
		c, err := scanCiclista(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan ciclista: %w", err)
		}
		out = append(out, *c)
	}
	return out, total, rows.Err()
}

func (s *Store) GetCiclista(ctx context.Context, id string) (*domain.Ciclista, error) {
	ctx, span := tracer.Start(ctx, "Postgres.GetCiclista")
	defer span.End()
	span.SetAttributes(attribute.String("ciclista.id", id))

	c, err := scanCiclista(s.db.QueryRow(ctx, `SELECT `+ciclistaColumns+` FROM ciclistas WHERE id::text = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &domain.ErrNotFound{Resource: "ciclista", ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("get ciclista: %w", err)
	}
	return c, nil
}

func (s *Store) CreateCiclista(ctx context.Context, in *domain.Ciclista) (*domain.Ciclista, error) {
	ctx, span := tracer.Start(ctx, "Postgres.CreateCiclista")
	defer span.End()

	c, err := scanCiclista(s.db.QueryRow(ctx, `
		INSERT INTO ciclistas (nome, email, telefone, data_nascimento, morada, codigo_postal, localidade,
			nif, numero_socio, tipo_bicicleta, marca_bicicleta, modelo_bicicleta, numero_quadro,
			foto_url, observacoes, ativo)
		VALUES ($1, NULLIF($2, ''), NULLIF($3, ''), NULLIF($4, '')::date, NULLIF($5, ''), NULLIF($6, ''),
			NULLIF($7, ''), NULLIF($8, ''), NULLIF($9, ''), NULLIF($10, ''), NULLIF($11, ''),
			NULLIF($12, ''), NULLIF($13, ''), NULLIF($14, ''), NULLIF($15, ''), $16)
		RETURNING `+ciclistaColumns,
		in.Nome, in.Email, in.Telefone, in.DataNascimento, in.Morada, in.CodigoPostal, in.Localidade,
		in.NIF, in.NumeroSocio, in.TipoBicicleta, in.MarcaBicicleta, in.ModeloBicicleta, in.NumeroQuadro,
		in.FotoURL, in.Observacoes, in.Ativo,
	))
	if err != nil {
		return nil, writeError("insert ciclista", err)
	}
	return c, nil
}

func (s *Store) UpdateCiclista(ctx context.Context, id string, updates map[string]any) (*domain.Ciclista, error) {
	ctx, span := tracer.Start(ctx, "Postgres.UpdateCiclista")
	defer span.End()
	span.SetAttributes(attribute.String("ciclista.id", id))

	set, args, err := buildUpdate(updates, ciclistaUpdatable)
	if err != nil {
		return nil, &domain.ErrValidation{Field: "updates", Message: err.Error()}
	}
	c, err := scanCiclista(s.db.QueryRow(ctx,
		`UPDATE ciclistas SET `+set+` WHERE id::text = $1 RETURNING `+ciclistaColumns,
		append([]any{id}, args...)...))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &domain.ErrNotFound{Resource: "ciclista", ID: id}
	}
	if err != nil {
		return nil, writeError("update ciclista", err)
	}
	return c, nil
}

func (s *Store) DeleteCiclista(ctx context.Context, id string) error {
	ctx, span := tracer.Start(ctx, "Postgres.DeleteCiclista")
	defer span.End()
	span.SetAttributes(attribute.String("ciclista.id", id))

	tag, err := s.db.Exec(ctx, `DELETE FROM ciclistas WHERE id::text = $1`, id)
	if err != nil {
		return fmt.Errorf("delete ciclista: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return &domain.ErrNotFound{Resource: "ciclista", ID: id}
	}
	return nil
}

func (s *Store) FindCiclistaByNIFOrEmail(ctx context.Context, nif, email string) (*domain.Ciclista, error) {
	ctx, span := tracer.Start(ctx, "Postgres.FindCiclistaByNIFOrEmail")
	defer span.End()

	if nif == "" && email == "" {
		return nil, nil
	}
	c, err := scanCiclista(s.db.QueryRow(ctx,
		`SELECT `+ciclistaColumns+` FROM ciclistas
		WHERE ($1 <> '' AND nif = $1) OR ($2 <> '' AND lower(email) = lower($2))
		LIMIT 1`, nif, email))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find ciclista: %w", err)
	}
	return c, nil
}

func (s *Store) CountCiclistas(ctx context.Context) (int, int, error) {
	ctx, span := tracer.Start(ctx, "Postgres.CountCiclistas")
	defer span.End()

	var total, ativos int
	err := s.db.QueryRow(ctx, `SELECT count(*), count(*) FILTER (WHERE ativo) FROM ciclistas`).Scan(&total, &ativos)
	if err != nil {
		return 0, 0, fmt.Errorf("count ciclistas: %w", err)
	}
	return total, ativos, nil
}
