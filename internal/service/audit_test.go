package service

import (
	"context"
	"testing"
	"time"

	"github.com/gestor-ciclista/gestor-api/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type blockingAuditStore struct {
	*memStore
	release chan struct{}
}

func (b *blockingAuditStore) InsertAuditLog(ctx context.Context, l *domain.AuditLog) error {
	<-b.release
	return b.memStore.InsertAuditLog(ctx, l)
}

func TestDispatcher_WritesAndDrains(t *testing.T) {
	store := newMemStore()
	d := NewDispatcher(store, 10, testMetrics(), nop())
	d.now = func() time.Time { return fixedNow }
	d.Start()

	d.Record(domain.AuditLog{Action: domain.ActionCiclistaCriado, UserEmail: "a@clube.pt"})
	d.Record(domain.AuditLog{Action: domain.ActionFaturaVencida})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, d.Close(ctx))

	require.Len(t, store.audits, 2)
	assert.Equal(t, fixedNow, store.audits[0].Timestamp)
	assert.Equal(t, domain.SystemActor, store.audits[1].UserEmail)

	// recording after close is dropped, not a panic
	d.Record(domain.AuditLog{Action: "late"})
	assert.Len(t, store.audits, 2)
}

func TestDispatcher_DropsWhenFull(t *testing.T) {
	store := &blockingAuditStore{memStore: newMemStore(), release: make(chan struct{})}
	metrics := testMetrics()
	d := NewDispatcher(store, 1, metrics, nop())
	d.Start()

	for i := 0; i < 5; i++ {
		d.Record(domain.AuditLog{Action: "x"})
	}
	close(store.release)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, d.Close(ctx))

	written := len(store.audits)
	assert.GreaterOrEqual(t, written, 1)
	assert.LessOrEqual(t, written, 2)
	assert.Equal(t, float64(5-written), metrics.AuditDropped())
}

func TestAuditServiceList_BadRange(t *testing.T) {
	svc := NewAuditService(newMemStore(), nop())
	from, to := fixedNow, fixedNow.Add(-time.Hour)

	_, err := svc.List(context.Background(), domain.AuditFilter{From: &from, To: &to})
	var ve *domain.ErrValidation
	assert.ErrorAs(t, err, &ve)
}

func TestAuditServiceList_Pages(t *testing.T) {
	store := newMemStore()
	store.audits = make([]domain.AuditLog, 30)
	svc := NewAuditService(store, nop())

	resp, err := svc.List(context.Background(), domain.AuditFilter{PageSize: 500})
	require.NoError(t, err)
	assert.Equal(t, 1, resp.Page)
	assert.Equal(t, 100, resp.PageSize)
	assert.Equal(t, 30, resp.Total)
	assert.False(t, resp.HasMore)
}

func TestDiff(t *testing.T) {
	before := &domain.Ciclista{ID: "c-1", Nome: "Rui", Email: "rui@clube.pt", Ativo: true, UpdatedAt: fixedNow}
	after := &domain.Ciclista{ID: "c-1", Nome: "Rui Costa", Ativo: true, UpdatedAt: fixedNow.Add(time.Hour)}

	changes, err := Diff(before, after)
	require.NoError(t, err)
	assert.Equal(t, []domain.FieldChange{
		{Field: "email", OldValue: "rui@clube.pt", NewValue: nil},
		{Field: "nome", OldValue: "Rui", NewValue: "Rui Costa"},
	}, changes)

	changes, err = Diff(before, before)
	require.NoError(t, err)
	assert.Empty(t, changes)
}
