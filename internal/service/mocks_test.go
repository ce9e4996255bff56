package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gestor-ciclista/gestor-api/internal/domain"
	"github.com/gestor-ciclista/gestor-api/internal/infra/cache"
	"github.com/gestor-ciclista/gestor-api/internal/infra/observability"

	"go.uber.org/zap"
)

// --- Store ---

type memStore struct {
	mu        sync.Mutex
	seq       int
	ciclistas map[string]*domain.Ciclista
	invoices  map[string]*domain.Invoice
	audits    []domain.AuditLog
	profiles  map[string]*domain.Profile
	legacy    []domain.LegacyClient
	updates   []map[string]any
	failWith  error
}

func newMemStore() *memStore {
	return &memStore{
		ciclistas: map[string]*domain.Ciclista{},
		invoices:  map[string]*domain.Invoice{},
		profiles:  map[string]*domain.Profile{},
	}
}

func (m *memStore) nextID(prefix string) string {
	m.seq++
	return fmt.Sprintf("%s-%d", prefix, m.seq)
}

// patch applies column updates through the JSON form of the record.
func patch[T any](current *T, updates map[string]any) (*T, error) {
	raw, err := json.Marshal(current)
	if err != nil {
		return nil, err
	}
	fields := map[string]any{}
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, err
	}
	for k, v := range updates {
		fields[k] = v
	}
	raw, err = json.Marshal(fields)
	if err != nil {
		return nil, err
	}
	var out T
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (m *memStore) ListCiclistas(_ context.Context, f domain.CiclistaFilter) ([]domain.Ciclista, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Ciclista
	for _, c := range m.ciclistas {
		if f.Search != "" && !strings.Contains(strings.ToLower(c.Nome), strings.ToLower(f.Search)) {
			continue
		}
		if f.Ativo != nil && c.Ativo != *f.Ativo {
			continue
		}
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Nome < out[j].Nome })
	return out, len(out), nil
}

func (m *memStore) GetCiclista(_ context.Context, id string) (*domain.Ciclista, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return nil, m.failWith
	}
	c, ok := m.ciclistas[id]
	if !ok {
		return nil, &domain.ErrNotFound{Resource: "ciclista", ID: id}
	}
	cp := *c
	return &cp, nil
}

func (m *memStore) CreateCiclista(_ context.Context, c *domain.Ciclista) (*domain.Ciclista, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *c
	cp.ID = m.nextID("c")
	cp.CreatedAt = time.Now()
	cp.UpdatedAt = cp.CreatedAt
	m.ciclistas[cp.ID] = &cp
	out := cp
	return &out, nil
}

func (m *memStore) UpdateCiclista(_ context.Context, id string, updates map[string]any) (*domain.Ciclista, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.ciclistas[id]
	if !ok {
		return nil, &domain.ErrNotFound{Resource: "ciclista", ID: id}
	}
	m.updates = append(m.updates, updates)
	next, err := patch(c, updates)
	if err != nil {
		return nil, err
	}
	m.ciclistas[id] = next
	out := *next
	return &out, nil
}

func (m *memStore) DeleteCiclista(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.ciclistas[id]; !ok {
		return &domain.ErrNotFound{Resource: "ciclista", ID: id}
	}
	delete(m.ciclistas, id)
	return nil
}

func (m *memStore) FindCiclistaByNIFOrEmail(_ context.Context, nif, email string) (*domain.Ciclista, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.ciclistas {
		if (nif != "" && c.NIF == nif) || (email != "" && strings.EqualFold(c.Email, email)) {
			cp := *c
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *memStore) CountCiclistas(_ context.Context) (int, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ativos := 0
	for _, c := range m.ciclistas {
		if c.Ativo {
			ativos++
		}
	}
	return len(m.ciclistas), ativos, nil
}

func (m *memStore) ListInvoices(_ context.Context, f domain.InvoiceFilter) ([]domain.Invoice, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Invoice
	for _, inv := range m.invoices {
		if f.CiclistaID != "" && inv.CiclistaID != f.CiclistaID {
			continue
		}
		if f.Status != "" && inv.Status != f.Status {
			continue
		}
		out = append(out, *inv)
	}
	return out, len(out), nil
}

func (m *memStore) ListAllInvoices(ctx context.Context) ([]domain.Invoice, error) {
	out, _, err := m.ListInvoices(ctx, domain.InvoiceFilter{})
	return out, err
}

func (m *memStore) GetInvoice(_ context.Context, id string) (*domain.Invoice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inv, ok := m.invoices[id]
	if !ok {
		return nil, &domain.ErrNotFound{Resource: "invoice", ID: id}
	}
	cp := *inv
	return &cp, nil
}

func (m *memStore) CreateInvoice(_ context.Context, inv *domain.Invoice) (*domain.Invoice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, other := range m.invoices {
		if inv.Numero != "" && other.Numero == inv.Numero {
			return nil, &domain.ErrConflict{Message: "Registo já existe"}
		}
	}
	cp := *inv
	cp.ID = m.nextID("f")
	m.invoices[cp.ID] = &cp
	out := cp
	return &out, nil
}

func (m *memStore) UpdateInvoice(_ context.Context, id string, updates map[string]any) (*domain.Invoice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inv, ok := m.invoices[id]
	if !ok {
		return nil, &domain.ErrNotFound{Resource: "invoice", ID: id}
	}
	m.updates = append(m.updates, updates)
	next, err := patch(inv, updates)
	if err != nil {
		return nil, err
	}
	m.invoices[id] = next
	out := *next
	return &out, nil
}

func (m *memStore) DeleteInvoice(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.invoices, id)
	return nil
}

func (m *memStore) MaxInvoiceSeq(_ context.Context, year int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	highest := 0
	for _, inv := range m.invoices {
		if seq, ok := domain.InvoiceSeq(inv.Numero, year); ok && seq > highest {
			highest = seq
		}
	}
	return highest, nil
}

func (m *memStore) ListPendingDueBefore(_ context.Context, day string) ([]domain.Invoice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Invoice
	for _, inv := range m.invoices {
		if inv.Status == domain.InvoicePending && inv.DueDate != "" && inv.DueDate < day {
			out = append(out, *inv)
		}
	}
	return out, nil
}

func (m *memStore) InsertAuditLog(_ context.Context, l *domain.AuditLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.audits = append(m.audits, *l)
	return nil
}

func (m *memStore) ListAuditLogs(_ context.Context, f domain.AuditFilter) ([]domain.AuditLog, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := append([]domain.AuditLog(nil), m.audits...)
	if f.PageSize > 0 && len(out) > f.PageSize {
		out = out[:f.PageSize]
	}
	return out, len(m.audits), nil
}

func (m *memStore) SearchAuditLogs(_ context.Context, _ domain.EntityRef, _ int) ([]domain.AuditLog, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.AuditLog(nil), m.audits...), nil
}

func (m *memStore) GetProfile(_ context.Context, id string) (*domain.Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return nil, m.failWith
	}
	p, ok := m.profiles[id]
	if !ok {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}

func (m *memStore) ListProfiles(_ context.Context) ([]domain.Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Profile
	for _, p := range m.profiles {
		out = append(out, *p)
	}
	return out, nil
}

func (m *memStore) UpsertProfile(_ context.Context, p *domain.Profile) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *p
	m.profiles[p.ID] = &cp
	return nil
}

func (m *memStore) UpdateProfileRole(_ context.Context, id string, role domain.Role) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.profiles[id]
	if !ok {
		return &domain.ErrNotFound{Resource: "profile", ID: id}
	}
	p.Role = role
	return nil
}

func (m *memStore) CountAdmins(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, p := range m.profiles {
		if p.Role == domain.RoleAdmin {
			n++
		}
	}
	return n, nil
}

func (m *memStore) ListLegacyClients(_ context.Context) ([]domain.LegacyClient, error) {
	return m.legacy, nil
}

func (m *memStore) Ping(_ context.Context) error { return m.failWith }

// --- Auditor ---

type recordingAuditor struct {
	mu      sync.Mutex
	entries []domain.AuditLog
}

func (r *recordingAuditor) Record(e domain.AuditLog) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, e)
}

func (r *recordingAuditor) actions() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.entries))
	for i, e := range r.entries {
		out[i] = e.Action
	}
	return out
}

// --- Object storage ---

type memStorage struct {
	objects map[string][]byte
	removed []string
	putErr  error
}

func newMemStorage() *memStorage {
	return &memStorage{objects: map[string][]byte{}}
}

const storageBase = "https://proj.supabase.co/storage/v1/object/public/avatars/"

func (s *memStorage) PutObject(_ context.Context, path, _ string, data []byte) (string, error) {
	if s.putErr != nil {
		return "", s.putErr
	}
	s.objects[path] = data
	return storageBase + path, nil
}

func (s *memStorage) RemoveObject(_ context.Context, path string) error {
	delete(s.objects, path)
	s.removed = append(s.removed, path)
	return nil
}

func (s *memStorage) ObjectPath(url string) (string, bool) {
	if !strings.HasPrefix(url, storageBase) {
		return "", false
	}
	return strings.TrimPrefix(url, storageBase), true
}

// --- Auth gateway ---

type fakeGateway struct {
	users   []domain.AuthUser
	session *domain.Session
	err     error
}

func (g *fakeGateway) SignIn(_ context.Context, _, _ string) (*domain.Session, error) {
	return g.session, g.err
}

func (g *fakeGateway) SignUp(_ context.Context, _, _ string) (*domain.Session, error) {
	return g.session, g.err
}

func (g *fakeGateway) RefreshSession(_ context.Context, _ string) (*domain.Session, error) {
	return g.session, g.err
}

func (g *fakeGateway) SignOut(_ context.Context, _ string) error { return g.err }

func (g *fakeGateway) ListAuthUsers(_ context.Context) ([]domain.AuthUser, error) {
	return g.users, g.err
}

// --- helpers ---

var (
	fixedNow = time.Date(2026, 3, 15, 9, 30, 0, 0, time.UTC)
	admin    = &domain.Principal{UserID: "u-admin", Email: "admin@clube.pt", Role: domain.RoleAdmin}
)

func testMetrics() *observability.Metrics { return observability.NewMetrics() }

func newRoleCache() *cache.InMemory[domain.Role] { return cache.New[domain.Role](time.Minute) }

func strp(s string) *string { return &s }

func nop() *zap.Logger { return zap.NewNop() }
