// Package domain defines the core entities of the cycling club manager.
// These models are independent of the persistence backend and represent
// the canonical data structures used throughout the API.
package domain

import (
	"net/mail"
	"regexp"
	"strings"
	"time"
)

// EntityCiclista is the audit entity type for club members.
const EntityCiclista = "ciclista"

// ============================================================
// Ciclista (club member)
// ============================================================

// Ciclista is a club member record.
type Ciclista struct {
	ID              string    `json:"id"`
	Nome            string    `json:"nome"`
	Email           string    `json:"email,omitempty"`
	Telefone        string    `json:"telefone,omitempty"`
	DataNascimento  string    `json:"data_nascimento,omitempty"` // YYYY-MM-DD
	Morada          string    `json:"morada,omitempty"`
	CodigoPostal    string    `json:"codigo_postal,omitempty"`
	Localidade      string    `json:"localidade,omitempty"`
	NIF             string    `json:"nif,omitempty"`
	NumeroSocio     string    `json:"numero_socio,omitempty"`
	TipoBicicleta   string    `json:"tipo_bicicleta,omitempty"`
	MarcaBicicleta  string    `json:"marca_bicicleta,omitempty"`
	ModeloBicicleta string    `json:"modelo_bicicleta,omitempty"`
	NumeroQuadro    string    `json:"numero_quadro,omitempty"`
	FotoURL         string    `json:"foto_url,omitempty"`
	Observacoes     string    `json:"observacoes,omitempty"`
	Ativo           bool      `json:"ativo"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// CiclistaInput is the body for POST/PUT /v1/ciclistas.
// Pointer fields distinguish "absent" from "cleared" on updates.
type CiclistaInput struct {
	Nome            *string `json:"nome"`
	Email           *string `json:"email"`
	Telefone        *string `json:"telefone"`
	DataNascimento  *string `json:"data_nascimento"`
	Morada          *string `json:"morada"`
	CodigoPostal    *string `json:"codigo_postal"`
	Localidade      *string `json:"localidade"`
	NIF             *string `json:"nif"`
	NumeroSocio     *string `json:"numero_socio"`
	TipoBicicleta   *string `json:"tipo_bicicleta"`
	MarcaBicicleta  *string `json:"marca_bicicleta"`
	ModeloBicicleta *string `json:"modelo_bicicleta"`
	NumeroQuadro    *string `json:"numero_quadro"`
	Observacoes     *string `json:"observacoes"`
	Ativo           *bool   `json:"ativo"`
}

// CiclistaFilter narrows GET /v1/ciclistas.
type CiclistaFilter struct {
	Search   string
	Ativo    *bool
	Page     int
	PageSize int
}

// CiclistaDetail aggregates a member with its invoices and audit trail.
type CiclistaDetail struct {
	Ciclista  *Ciclista  `json:"ciclista"`
	Invoices  []Invoice  `json:"invoices"`
	AuditLogs []AuditLog `json:"audit_logs"`
}

var (
	nifRegex          = regexp.MustCompile(`^[0-9]{9}$`)
	codigoPostalRegex = regexp.MustCompile(`^[0-9]{4}-[0-9]{3}$`)
)

// ValidEmail reports whether s is a bare address. Display-name forms such as
// "Bob <bob@x.com>" parse as RFC 5322 but are rejected.
func ValidEmail(s string) bool {
	s = strings.TrimSpace(s)
	addr, err := mail.ParseAddress(s)
	return err == nil && addr.Address == s
}

// Apply copies the fields present in the input onto c.
func (in *CiclistaInput) Apply(c *Ciclista) {
	set := func(dst *string, src *string) {
		if src != nil {
			*dst = strings.TrimSpace(*src)
		}
	}
	set(&c.Nome, in.Nome)
	set(&c.Email, in.Email)
	set(&c.Telefone, in.Telefone)
	set(&c.DataNascimento, in.DataNascimento)
	set(&c.Morada, in.Morada)
	set(&c.CodigoPostal, in.CodigoPostal)
	set(&c.Localidade, in.Localidade)
	set(&c.NIF, in.NIF)
	set(&c.NumeroSocio, in.NumeroSocio)
	set(&c.TipoBicicleta, in.TipoBicicleta)
	set(&c.MarcaBicicleta, in.MarcaBicicleta)
	set(&c.ModeloBicicleta, in.ModeloBicicleta)
	set(&c.NumeroQuadro, in.NumeroQuadro)
	set(&c.Observacoes, in.Observacoes)
	if in.Ativo != nil {
		c.Ativo = *in.Ativo
	}
}

// Validate enforces the same rules as the member form.
func (c *Ciclista) Validate(now time.Time) error {
	if len([]rune(strings.TrimSpace(c.Nome))) < 3 {
		return &ErrValidation{Field: "nome", Message: "Nome deve ter pelo menos 3 caracteres"}
	}
	if c.Email != "" {
		if !ValidEmail(c.Email) {
			return &ErrValidation{Field: "email", Message: "Email inválido"}
		}
	}
	if c.NIF != "" && !nifRegex.MatchString(c.NIF) {
		return &ErrValidation{Field: "nif", Message: "NIF deve ter 9 dígitos"}
	}
	if c.CodigoPostal != "" && !codigoPostalRegex.MatchString(c.CodigoPostal) {
		return &ErrValidation{Field: "codigo_postal", Message: "Código postal deve ter o formato 0000-000"}
	}
	if c.DataNascimento != "" {
		d, err := time.Parse(DateLayout, c.DataNascimento)
		if err != nil {
			return &ErrValidation{Field: "data_nascimento", Message: "Data de nascimento inválida"}
		}
		if d.After(now) {
			return &ErrValidation{Field: "data_nascimento", Message: "Data de nascimento não pode ser no futuro"}
		}
	}
	return nil
}

// DateLayout is the wire format of date-only columns.
const DateLayout = "2006-01-02"
