package service

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"sync"
	"time"

	"github.com/gestor-ciclista/gestor-api/internal/domain"
	"github.com/gestor-ciclista/gestor-api/internal/infra/observability"
	"github.com/gestor-ciclista/gestor-api/internal/port"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

var auditTracer = otel.Tracer("service/audit")

const (
	auditWriteTimeout = 5 * time.Second
	auditSearchLimit  = 500
)

// Auditor records audit rows. Record never blocks and never fails the caller.
type Auditor interface {
	Record(entry domain.AuditLog)
}

// ============================================================
// Dispatcher: async audit writer
// ============================================================

// Dispatcher queues audit rows and writes them from a single worker.
// Rows are dropped (and counted) when the queue is full.
type Dispatcher struct {
	store   port.AuditStore
	queue   chan domain.AuditLog
	metrics *observability.Metrics
	logger  *zap.Logger
	now     func() time.Time

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

// NewDispatcher creates a dispatcher with a queue of size entries.
// Call Start to launch the worker.
func NewDispatcher(store port.AuditStore, size int, metrics *observability.Metrics, logger *zap.Logger) *Dispatcher {
	if size < 1 {
		size = 1
	}
	return &Dispatcher{
		store:   store,
		queue:   make(chan domain.AuditLog, size),
		metrics: metrics,
		logger:  logger,
		now:     time.Now,
		done:    make(chan struct{}),
	}
}

// Start launches the worker goroutine.
func (d *Dispatcher) Start() {
	go d.run()
}

func (d *Dispatcher) Record(entry domain.AuditLog) {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = d.now().UTC()
	}
	if entry.UserEmail == "" {
		entry.UserEmail = domain.SystemActor
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		d.drop(entry, "dispatcher closed")
		return
	}

	select {
	case d.queue <- entry:
	default:
		d.drop(entry, "queue full")
	}
}

func (d *Dispatcher) drop(entry domain.AuditLog, reason string) {
	d.metrics.IncrAudit("dropped")
	d.logger.Warn("audit: row dropped",
		zap.String("reason", reason),
		zap.String("action", entry.Action),
		zap.String("entity_id", entry.EntityID),
	)
}

func (d *Dispatcher) run() {
	defer close(d.done)
	for entry := range d.queue {
		d.write(entry)
	}
}

func (d *Dispatcher) write(entry domain.AuditLog) {
	ctx, cancel := context.WithTimeout(context.Background(), auditWriteTimeout)
	defer cancel()

	if err := d.store.InsertAuditLog(ctx, &entry); err != nil {
		d.metrics.IncrAudit("failed")
		d.logger.Error("audit: write failed",
			zap.String("action", entry.Action),
			zap.String("user_email", entry.UserEmail),
			zap.Error(err),
		)
		return
	}
	d.metrics.IncrAudit("written")
}

// Close stops accepting rows and waits until the queue is drained or ctx ends.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()

	select {
	case <-d.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("audit drain: %w", ctx.Err())
	}
}

// ============================================================
// AuditService: reads
// ============================================================

// AuditService lists audit rows and resolves an entity's trail.
type AuditService struct {
	store  port.AuditStore
	logger *zap.Logger
}

func NewAuditService(store port.AuditStore, logger *zap.Logger) *AuditService {
	return &AuditService{store: store, logger: logger}
}

// List returns a page of audit rows, newest first.
func (s *AuditService) List(ctx context.Context, filter domain.AuditFilter) (*domain.ListResponse[domain.AuditLog], error) {
	ctx, span := auditTracer.Start(ctx, "AuditService.List")
	defer span.End()

	filter.Page, filter.PageSize = normalizePage(filter.Page, filter.PageSize)
	if filter.From != nil && filter.To != nil && filter.To.Before(*filter.From) {
		return nil, &domain.ErrValidation{Field: "to", Message: "Data final anterior à data inicial"}
	}

	rows, total, err := s.store.ListAuditLogs(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("list audit logs: %w", err)
	}
	resp := domain.NewListResponse(rows, total, filter.Page, filter.PageSize)
	return &resp, nil
}

// ForEntity returns the rows belonging to ref, newest first.
func (s *AuditService) ForEntity(ctx context.Context, ref domain.EntityRef) ([]domain.AuditLog, error) {
	ctx, span := auditTracer.Start(ctx, "AuditService.ForEntity")
	defer span.End()
	span.SetAttributes(attribute.String("entity.type", ref.Type), attribute.String("entity.id", ref.ID))

	candidates, err := s.store.SearchAuditLogs(ctx, ref, auditSearchLimit)
	if err != nil {
		return nil, fmt.Errorf("search audit logs: %w", err)
	}

	out := make([]domain.AuditLog, 0, len(candidates))
	for i := range candidates {
		if candidates[i].Matches(ref) {
			out = append(out, candidates[i])
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.After(out[j].Timestamp)
	})
	return out, nil
}

// ============================================================
// Diff
// ============================================================

// diffIgnored are bookkeeping columns never reported as changes.
var diffIgnored = map[string]bool{
	"id":         true,
	"created_at": true,
	"updated_at": true,
}

// Diff compares the JSON form of two records and returns the changed
// fields, sorted by name. A field absent on one side compares as null.
func Diff(before, after any) ([]domain.FieldChange, error) {
	a, err := toFieldMap(before)
	if err != nil {
		return nil, err
	}
	b, err := toFieldMap(after)
	if err != nil {
		return nil, err
	}

	keys := make(map[string]struct{}, len(a)+len(b))
	for k := range a {
		keys[k] = struct{}{}
	}
	for k := range b {
		keys[k] = struct{}{}
	}

	var changes []domain.FieldChange
	for k := range keys {
		if diffIgnored[k] {
			continue
		}
		if !reflect.DeepEqual(a[k], b[k]) {
			changes = append(changes, domain.FieldChange{Field: k, OldValue: a[k], NewValue: b[k]})
		}
	}
	sort.Slice(changes, func(i, j int) bool { return changes[i].Field < changes[j].Field })
	return changes, nil
}

func toFieldMap(v any) (map[string]any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("diff encode: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("diff decode: %w", err)
	}
	return m, nil
}

// changesToUpdates turns a diff into a column patch.
func changesToUpdates(changes []domain.FieldChange) map[string]any {
	updates := make(map[string]any, len(changes))
	for _, c := range changes {
		updates[c.Field] = c.NewValue
	}
	return updates
}

// normalizePage applies the default and maximum page sizes.
func normalizePage(page, pageSize int) (int, int) {
	if page < 1 {
		page = 1
	}
	switch {
	case pageSize < 1:
		pageSize = 20
	case pageSize > 100:
		pageSize = 100
	}
	return page, pageSize
}
