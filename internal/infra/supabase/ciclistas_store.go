package supabase

import (
	"context"
	"fmt"
	"net/url"
	"strconv"

	"github.com/gestor-ciclista/gestor-api/internal/domain"

	"go.opentelemetry.io/otel/attribute"
)

// ============================================================
// Ciclistas: CRUD via PostgREST
// ============================================================

const tableCiclistas = "ciclistas"

func ciclistaRow(c *domain.Ciclista) map[string]any {
	return map[string]any{
		"nome":             c.Nome,
		"email":            nullable(c.Email),
		"telefone":         nullable(c.Telefone),
		"data_nascimento":  nullable(c.DataNascimento),
		"morada":           nullable(c.Morada),
		"codigo_postal":    nullable(c.CodigoPostal),
		"localidade":       nullable(c.Localidade),
		"nif":              nullable(c.NIF),
		"numero_socio":     nullable(c.NumeroSocio),
		"tipo_bicicleta":   nullable(c.TipoBicicleta),
		"marca_bicicleta":  nullable(c.MarcaBicicleta),
		"modelo_bicicleta": nullable(c.ModeloBicicleta),
		"numero_quadro":    nullable(c.NumeroQuadro),
		"foto_url":         nullable(c.FotoURL),
		"observacoes":      nullable(c.Observacoes),
		"ativo":            c.Ativo,
	}
}

func (c *Client) ListCiclistas(ctx context.Context, filter domain.CiclistaFilter) ([]domain.Ciclista, int, error) {
	ctx, span := tracer.Start(ctx, "Supabase.ListCiclistas")
	defer span.End()

	q := url.Values{"select": {"*"}, "order": {"nome.asc"}}
	if filter.Search != "" {
		term := quoteValue(ilikePattern(filter.Search))
		q.Set("or", fmt.Sprintf("(nome.ilike.%s,email.ilike.%s,nif.ilike.%s)", term, term, term))
	}
	if filter.Ativo != nil {
		q.Set("ativo", "eq."+strconv.FormatBool(*filter.Ativo))
	}
	pageQuery(q, filter.Page, filter.PageSize)

	var rows []domain.Ciclista
	total, err := c.selectRows(ctx, tableCiclistas, q, true, &rows)
	if err != nil {
		return nil, 0, err
	}
	return rows, total, nil
}

func (c *Client) GetCiclista(ctx context.Context, id string) (*domain.Ciclista, error) {
	ctx, span := tracer.Start(ctx, "Supabase.GetCiclista")
	defer span.End()
	span.SetAttributes(attribute.String("ciclista.id", id))

	var rows []domain.Ciclista
	q := url.Values{"select": {"*"}, "id": {"eq." + id}, "limit": {"1"}}
	if _, err := c.selectRows(ctx, tableCiclistas, q, false, &rows); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, &domain.ErrNotFound{Resource: "ciclista", ID: id}
	}
	return &rows[0], nil
}

func (c *Client) CreateCiclista(ctx context.Context, ciclista *domain.Ciclista) (*domain.Ciclista, error) {
	ctx, span := tracer.Start(ctx, "Supabase.CreateCiclista")
	defer span.End()

	var rows []domain.Ciclista
	if err := c.insertRow(ctx, tableCiclistas, ciclistaRow(ciclista), &rows); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("no result from ciclistas insert")
	}
	return &rows[0], nil
}

func (c *Client) UpdateCiclista(ctx context.Context, id string, updates map[string]any) (*domain.Ciclista, error) {
	ctx, span := tracer.Start(ctx, "Supabase.UpdateCiclista")
	defer span.End()
	span.SetAttributes(attribute.String("ciclista.id", id))

	var rows []domain.Ciclista
	if err := c.updateRows(ctx, tableCiclistas, url.Values{"id": {"eq." + id}}, nullableMap(updates), &rows); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, &domain.ErrNotFound{Resource: "ciclista", ID: id}
	}
	return &rows[0], nil
}

func (c *Client) DeleteCiclista(ctx context.Context, id string) error {
	ctx, span := tracer.Start(ctx, "Supabase.DeleteCiclista")
	defer span.End()
	span.SetAttributes(attribute.String("ciclista.id", id))

	return c.deleteRows(ctx, tableCiclistas, url.Values{"id": {"eq." + id}})
}

func (c *Client) FindCiclistaByNIFOrEmail(ctx context.Context, nif, email string) (*domain.Ciclista, error) {
	ctx, span := tracer.Start(ctx, "Supabase.FindCiclistaByNIFOrEmail")
	defer span.End()

	var conds []string
	if nif != "" {
		conds = append(conds, "nif.eq."+quoteValue(nif))
	}
	if email != "" {
		conds = append(conds, "email.ilike."+quoteValue(email))
	}
	if len(conds) == 0 {
		return nil, nil
	}

	q := url.Values{"select": {"*"}, "limit": {"1"}}
	q.Set("or", "("+joinConds(conds)+")")

	var rows []domain.Ciclista
	if _, err := c.selectRows(ctx, tableCiclistas, q, false, &rows); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return &rows[0], nil
}

func (c *Client) CountCiclistas(ctx context.Context) (int, int, error) {
	ctx, span := tracer.Start(ctx, "Supabase.CountCiclistas")
	defer span.End()

	var rows []map[string]any
	total, err := c.selectRows(ctx, tableCiclistas, url.Values{"select": {"id"}, "limit": {"1"}}, true, &rows)
	if err != nil {
		return 0, 0, err
	}
	ativos, err := c.selectRows(ctx, tableCiclistas, url.Values{"select": {"id"}, "ativo": {"eq.true"}, "limit": {"1"}}, true, &rows)
	if err != nil {
		return 0, 0, err
	}
	return total, ativos, nil
}
