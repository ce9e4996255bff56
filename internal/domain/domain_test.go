package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func strPtr(s string) *string { return &s }

func TestValidEmail(t *testing.T) {
	assert.True(t, ValidEmail("ana@clube.pt"))
	assert.True(t, ValidEmail("  ana@clube.pt "))
	assert.False(t, ValidEmail("Bob <bob@x.com>"))
	assert.False(t, ValidEmail(`"Bob" <bob@x.com>`))
	assert.False(t, ValidEmail("ana"))
	assert.False(t, ValidEmail(""))
}

func TestCiclistaValidate(t *testing.T) {
	now := time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)
	valid := Ciclista{Nome: "Ana", Email: "ana@clube.pt", NIF: "123456789", CodigoPostal: "4000-123", DataNascimento: "1990-01-31"}
	require.NoError(t, valid.Validate(now))

	tests := []struct {
		name  string
		mut   func(c *Ciclista)
		field string
	}{
		{"short name", func(c *Ciclista) { c.Nome = "Al" }, "nome"},
		{"bad email", func(c *Ciclista) { c.Email = "not-an-email" }, "email"},
		{"email with display name", func(c *Ciclista) { c.Email = "Bob <bob@x.com>" }, "email"},
		{"email with angle brackets", func(c *Ciclista) { c.Email = "<bob@x.com>" }, "email"},
		{"short nif", func(c *Ciclista) { c.NIF = "12345" }, "nif"},
		{"bad postal code", func(c *Ciclista) { c.CodigoPostal = "4000123" }, "codigo_postal"},
		{"unparseable birth date", func(c *Ciclista) { c.DataNascimento = "31/01/1990" }, "data_nascimento"},
		{"future birth date", func(c *Ciclista) { c.DataNascimento = "2027-01-01" }, "data_nascimento"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid
			tt.mut(&c)
			err := c.Validate(now)
			var ve *ErrValidation
			require.ErrorAs(t, err, &ve)
			assert.Equal(t, tt.field, ve.Field)
		})
	}
}

func TestCiclistaInputApply(t *testing.T) {
	ativo := false
	c := Ciclista{Nome: "Ana", Email: "ana@clube.pt", Ativo: true}
	in := CiclistaInput{Nome: strPtr("  Ana Maria "), Email: strPtr(""), Ativo: &ativo}
	in.Apply(&c)

	assert.Equal(t, "Ana Maria", c.Nome)
	assert.Empty(t, c.Email)
	assert.False(t, c.Ativo)
}

func TestInvoiceTransitions(t *testing.T) {
	assert.True(t, InvoicePending.CanTransition(InvoicePaid))
	assert.True(t, InvoicePending.CanTransition(InvoiceOverdue))
	assert.True(t, InvoiceOverdue.CanTransition(InvoicePaid))
	assert.True(t, InvoicePaid.CanTransition(InvoiceRefunded))

	assert.False(t, InvoicePending.CanTransition(InvoiceRefunded))
	assert.False(t, InvoicePaid.CanTransition(InvoicePending))
	assert.False(t, InvoiceRefunded.CanTransition(InvoicePaid))
	assert.False(t, InvoiceOverdue.CanTransition(InvoiceRefunded))
}

func TestInvoiceValidate(t *testing.T) {
	inv := Invoice{CiclistaID: "c-1", Amount: 25, IssueDate: "2026-01-10", DueDate: "2026-02-10"}
	require.NoError(t, inv.Validate())

	bad := inv
	bad.DueDate = "2026-01-01"
	assert.Error(t, bad.Validate())

	bad = inv
	bad.Amount = 0
	assert.Error(t, bad.Validate())

	bad = inv
	bad.PaymentMethod = "cheque"
	assert.Error(t, bad.Validate())
}

func TestInvoiceIsOverdue(t *testing.T) {
	now := time.Date(2026, 3, 10, 15, 0, 0, 0, time.UTC)
	inv := Invoice{Status: InvoicePending, DueDate: "2026-03-09"}
	assert.True(t, inv.IsOverdue(now))

	inv.DueDate = "2026-03-10"
	assert.False(t, inv.IsOverdue(now))

	inv.DueDate = "2026-03-01"
	inv.Status = InvoicePaid
	assert.False(t, inv.IsOverdue(now))
}

func TestInvoiceNumber(t *testing.T) {
	assert.Equal(t, "FT2026/0007", InvoiceNumber(2026, 7))
}

func TestInvoiceSeq(t *testing.T) {
	tests := []struct {
		numero string
		seq    int
		ok     bool
	}{
		{"FT2026/0007", 7, true},
		{"FT2026/12345", 12345, true},
		{"FT2025/0007", 0, false},
		{"FT2026/", 0, false},
		{"FT2026/A12", 0, false},
		{"FT2026/+12", 0, false},
		{"FT2026/-3", 0, false},
		{"manual-1", 0, false},
	}
	for _, tt := range tests {
		seq, ok := InvoiceSeq(tt.numero, 2026)
		assert.Equal(t, tt.ok, ok, tt.numero)
		assert.Equal(t, tt.seq, seq, tt.numero)
	}
}

func TestSummarizeInvoices(t *testing.T) {
	s := SummarizeInvoices([]Invoice{
		{Amount: 10, Status: InvoicePaid},
		{Amount: 15, Status: InvoicePaid},
		{Amount: 30, Status: InvoicePending},
	})
	assert.Equal(t, 3, s.Count)
	assert.Equal(t, 55.0, s.TotalAmount)
	assert.Equal(t, StatusTotal{Count: 2, Amount: 25}, s.ByStatus[InvoicePaid])
}

func TestAuditLogMatches(t *testing.T) {
	ref := EntityRef{Type: EntityCiclista, ID: "7f1c", Name: "João Pereira"}

	tests := []struct {
		name string
		log  AuditLog
		want bool
	}{
		{"id in details", AuditLog{Action: "Registo alterado", Details: "Alterado (ID: 7f1c)"}, true},
		{"id in action", AuditLog{Action: "Eliminado 7f1c", Details: "-"}, true},
		{"entity columns", AuditLog{Action: "Foto atualizada", EntityType: EntityCiclista, EntityID: "7f1c"}, true},
		{"other entity columns", AuditLog{Action: "Foto atualizada", EntityType: EntityCiclista, EntityID: "9999"}, false},
		{"quoted name", AuditLog{Action: "Ciclista atualizado", Details: `Ciclista " joão pereira " atualizado`}, true},
		{"quoted name wrong type", AuditLog{Action: "Fatura criada", Details: `Fatura para "João Pereira"`}, false},
		{"unrelated", AuditLog{Action: "Ciclista criado", Details: `Ciclista "Rui" criado`}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.log.Matches(ref))
		})
	}
}

func TestNewListResponse(t *testing.T) {
	r := NewListResponse[Ciclista](nil, 45, 2, 20)
	assert.NotNil(t, r.Data)
	assert.True(t, r.HasMore)

	r = NewListResponse[Ciclista](nil, 40, 2, 20)
	assert.False(t, r.HasMore)
}
