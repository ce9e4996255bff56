package domain

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// EntityInvoice is the audit entity type for invoices.
const EntityInvoice = "fatura"

// ============================================================
// Invoices (faturas)
// ============================================================

// InvoiceStatus is the lifecycle state of an invoice.
type InvoiceStatus string

const (
	InvoicePending  InvoiceStatus = "pending"
	InvoicePaid     InvoiceStatus = "paid"
	InvoiceOverdue  InvoiceStatus = "overdue"
	InvoiceRefunded InvoiceStatus = "refunded"
)

// Valid reports whether s is one of the known statuses.
func (s InvoiceStatus) Valid() bool {
	switch s {
	case InvoicePending, InvoicePaid, InvoiceOverdue, InvoiceRefunded:
		return true
	}
	return false
}

// invoiceTransitions lists the allowed status changes.
var invoiceTransitions = map[InvoiceStatus][]InvoiceStatus{
	InvoicePending: {InvoicePaid, InvoiceOverdue},
	InvoiceOverdue: {InvoicePaid},
	InvoicePaid:    {InvoiceRefunded},
}

// CanTransition reports whether an invoice may move from s to next.
func (s InvoiceStatus) CanTransition(next InvoiceStatus) bool {
	for _, allowed := range invoiceTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// PaymentMethod is how an invoice was (or will be) settled.
type PaymentMethod string

const (
	PaymentCash         PaymentMethod = "cash"
	PaymentBankTransfer PaymentMethod = "bank_transfer"
	PaymentCard         PaymentMethod = "card"
	PaymentMBWay        PaymentMethod = "mbway"
	PaymentMultibanco   PaymentMethod = "multibanco"
	PaymentOther        PaymentMethod = "other"
)

// Valid reports whether m is one of the known methods.
func (m PaymentMethod) Valid() bool {
	switch m {
	case PaymentCash, PaymentBankTransfer, PaymentCard, PaymentMBWay, PaymentMultibanco, PaymentOther:
		return true
	}
	return false
}

// Invoice is a billing record linked to a ciclista.
type Invoice struct {
	ID            string        `json:"id"`
	CiclistaID    string        `json:"ciclista_id"`
	Numero        string        `json:"numero"`
	Description   string        `json:"description,omitempty"`
	Amount        float64       `json:"amount"`
	IssueDate     string        `json:"issue_date"`
	DueDate       string        `json:"due_date,omitempty"`
	PaidAt        *time.Time    `json:"paid_at,omitempty"`
	Status        InvoiceStatus `json:"status"`
	PaymentMethod PaymentMethod `json:"payment_method,omitempty"`
	Notes         string        `json:"notes,omitempty"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
}

// InvoiceInput is the body for POST/PUT /v1/invoices.
type InvoiceInput struct {
	CiclistaID    *string        `json:"ciclista_id"`
	Numero        *string        `json:"numero"`
	Description   *string        `json:"description"`
	Amount        *float64       `json:"amount"`
	IssueDate     *string        `json:"issue_date"`
	DueDate       *string        `json:"due_date"`
	PaymentMethod *PaymentMethod `json:"payment_method"`
	Notes         *string        `json:"notes"`
}

// InvoicePaymentRequest is the body for POST /v1/invoices/{id}/pay.
type InvoicePaymentRequest struct {
	PaymentMethod PaymentMethod `json:"payment_method"`
	PaidAt        *time.Time    `json:"paid_at,omitempty"`
}

// InvoiceFilter narrows GET /v1/invoices.
type InvoiceFilter struct {
	CiclistaID string
	Status     InvoiceStatus
	Page       int
	PageSize   int
}

// InvoiceSummary is returned by GET /v1/invoices/summary.
type InvoiceSummary struct {
	Count       int                           `json:"count"`
	TotalAmount float64                       `json:"total_amount"`
	ByStatus    map[InvoiceStatus]StatusTotal `json:"by_status"`
}

// StatusTotal is a count/amount pair for one invoice status.
type StatusTotal struct {
	Count  int     `json:"count"`
	Amount float64 `json:"amount"`
}

// SummarizeInvoices folds a list of invoices into per-status totals.
func SummarizeInvoices(invoices []Invoice) *InvoiceSummary {
	s := &InvoiceSummary{ByStatus: make(map[InvoiceStatus]StatusTotal)}
	for _, inv := range invoices {
		s.Count++
		s.TotalAmount += inv.Amount
		t := s.ByStatus[inv.Status]
		t.Count++
		t.Amount += inv.Amount
		s.ByStatus[inv.Status] = t
	}
	return s
}

// Apply copies the fields present in the input onto inv.
func (in *InvoiceInput) Apply(inv *Invoice) {
	set := func(dst *string, src *string) {
		if src != nil {
			*dst = strings.TrimSpace(*src)
		}
	}
	set(&inv.CiclistaID, in.CiclistaID)
	set(&inv.Numero, in.Numero)
	set(&inv.Description, in.Description)
	set(&inv.IssueDate, in.IssueDate)
	set(&inv.DueDate, in.DueDate)
	set(&inv.Notes, in.Notes)
	if in.Amount != nil {
		inv.Amount = *in.Amount
	}
	if in.PaymentMethod != nil {
		inv.PaymentMethod = *in.PaymentMethod
	}
}

// Validate enforces the invoice form rules.
func (inv *Invoice) Validate() error {
	if inv.CiclistaID == "" {
		return &ErrValidation{Field: "ciclista_id", Message: "Ciclista é obrigatório"}
	}
	if inv.Amount <= 0 {
		return &ErrValidation{Field: "amount", Message: "Valor deve ser maior que zero"}
	}
	issue, err := time.Parse(DateLayout, inv.IssueDate)
	if err != nil {
		return &ErrValidation{Field: "issue_date", Message: "Data de emissão inválida"}
	}
	if inv.DueDate != "" {
		due, err := time.Parse(DateLayout, inv.DueDate)
		if err != nil {
			return &ErrValidation{Field: "due_date", Message: "Data de vencimento inválida"}
		}
		if due.Before(issue) {
			return &ErrValidation{Field: "due_date", Message: "Data de vencimento anterior à emissão"}
		}
	}
	if inv.Status != "" && !inv.Status.Valid() {
		return &ErrValidation{Field: "status", Message: fmt.Sprintf("Estado desconhecido: %s", inv.Status)}
	}
	if inv.PaymentMethod != "" && !inv.PaymentMethod.Valid() {
		return &ErrValidation{Field: "payment_method", Message: fmt.Sprintf("Método de pagamento desconhecido: %s", inv.PaymentMethod)}
	}
	return nil
}

// IsOverdue reports whether a pending invoice is past its due date on day now.
func (inv *Invoice) IsOverdue(now time.Time) bool {
	if inv.Status != InvoicePending || inv.DueDate == "" {
		return false
	}
	due, err := time.Parse(DateLayout, inv.DueDate)
	if err != nil {
		return false
	}
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	return due.Before(today)
}

// InvoiceNumber formats the sequential invoice number for a year.
func InvoiceNumber(year, seq int) string {
	return fmt.Sprintf("FT%d/%04d", year, seq)
}

// InvoiceNumberPrefix is the part of InvoiceNumber shared by a whole year.
func InvoiceNumberPrefix(year int) string {
	return fmt.Sprintf("FT%d/", year)
}

// InvoiceSeq extracts the sequence from a number issued for year.
// Hand-typed numbers that do not follow the pattern report false.
func InvoiceSeq(numero string, year int) (int, bool) {
	rest, ok := strings.CutPrefix(numero, InvoiceNumberPrefix(year))
	if !ok || rest == "" {
		return 0, false
	}
	seq, err := strconv.Atoi(rest)
	if err != nil || seq <= 0 || strings.HasPrefix(rest, "+") {
		return 0, false
	}
	return seq, true
}
