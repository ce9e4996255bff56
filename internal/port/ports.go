// Package port defines the interfaces (ports) for external dependencies.
// Following hexagonal architecture, these ports decouple the service layer
// from the Supabase REST adapter, the direct Postgres adapter and the
// object storage backends.
package port

import (
	"context"

	"github.com/gestor-ciclista/gestor-api/internal/domain"
)

// Cache provides generic caching with TTL.
type Cache[T any] interface {
	Get(key string) (T, bool)
	Set(key string, value T)
	Delete(key string)
}

// CiclistaStore persists club members (table ciclistas).
type CiclistaStore interface {
	ListCiclistas(ctx context.Context, filter domain.CiclistaFilter) ([]domain.Ciclista, int, error)
	GetCiclista(ctx context.Context, id string) (*domain.Ciclista, error)
	CreateCiclista(ctx context.Context, c *domain.Ciclista) (*domain.Ciclista, error)
	UpdateCiclista(ctx context.Context, id string, updates map[string]any) (*domain.Ciclista, error)
	DeleteCiclista(ctx context.Context, id string) error
	// FindCiclistaByNIFOrEmail returns nil, nil when no member matches.
	FindCiclistaByNIFOrEmail(ctx context.Context, nif, email string) (*domain.Ciclista, error)
	CountCiclistas(ctx context.Context) (total, ativos int, err error)
}

// InvoiceStore persists invoices (table invoices).
type InvoiceStore interface {
	ListInvoices(ctx context.Context, filter domain.InvoiceFilter) ([]domain.Invoice, int, error)
	ListAllInvoices(ctx context.Context) ([]domain.Invoice, error)
	GetInvoice(ctx context.Context, id string) (*domain.Invoice, error)
	CreateInvoice(ctx context.Context, inv *domain.Invoice) (*domain.Invoice, error)
	UpdateInvoice(ctx context.Context, id string, updates map[string]any) (*domain.Invoice, error)
	DeleteInvoice(ctx context.Context, id string) error
	// MaxInvoiceSeq returns the highest sequence among the year's
	// FT<year>/NNNN numbers, or 0 when none exist.
	MaxInvoiceSeq(ctx context.Context, year int) (int, error)
	// ListPendingDueBefore returns pending invoices whose due_date < day (YYYY-MM-DD).
	ListPendingDueBefore(ctx context.Context, day string) ([]domain.Invoice, error)
}

// AuditStore persists audit rows (table audit_logs).
type AuditStore interface {
	InsertAuditLog(ctx context.Context, log *domain.AuditLog) error
	ListAuditLogs(ctx context.Context, filter domain.AuditFilter) ([]domain.AuditLog, int, error)
	// SearchAuditLogs returns candidate rows that may belong to ref: rows
	// mentioning its ID or name, or tagged with its entity columns. The
	// caller applies the exact matching rules.
	SearchAuditLogs(ctx context.Context, ref domain.EntityRef, limit int) ([]domain.AuditLog, error)
}

// ProfileStore persists user roles (table profiles).
type ProfileStore interface {
	// GetProfile returns nil, nil when the user has no profile row.
	GetProfile(ctx context.Context, userID string) (*domain.Profile, error)
	ListProfiles(ctx context.Context) ([]domain.Profile, error)
	UpsertProfile(ctx context.Context, p *domain.Profile) error
	UpdateProfileRole(ctx context.Context, userID string, role domain.Role) error
	CountAdmins(ctx context.Context) (int, error)
}

// LegacyClientStore reads the legacy clients table.
type LegacyClientStore interface {
	ListLegacyClients(ctx context.Context) ([]domain.LegacyClient, error)
}

// Store is the full persistence surface. Both the Supabase REST adapter
// and the direct Postgres adapter implement it.
type Store interface {
	CiclistaStore
	InvoiceStore
	AuditStore
	ProfileStore
	LegacyClientStore
	Ping(ctx context.Context) error
}

// AuthGateway talks to Supabase Auth (GoTrue).
type AuthGateway interface {
	SignIn(ctx context.Context, email, password string) (*domain.Session, error)
	SignUp(ctx context.Context, email, password string) (*domain.Session, error)
	RefreshSession(ctx context.Context, refreshToken string) (*domain.Session, error)
	SignOut(ctx context.Context, accessToken string) error
	ListAuthUsers(ctx context.Context) ([]domain.AuthUser, error)
}

// ObjectStorage stores avatar images.
type ObjectStorage interface {
	// PutObject uploads data at path (relative to the bucket) and returns its public URL.
	PutObject(ctx context.Context, path, contentType string, data []byte) (string, error)
	RemoveObject(ctx context.Context, path string) error
	// ObjectPath extracts the bucket-relative path from a public URL.
	ObjectPath(publicURL string) (string, bool)
}
