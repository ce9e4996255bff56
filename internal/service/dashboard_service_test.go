package service

import (
	"context"
	"testing"

	"github.com/gestor-ciclista/gestor-api/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDashboardOverview(t *testing.T) {
	store := newMemStore()
	store.ciclistas["c-1"] = &domain.Ciclista{ID: "c-1", Ativo: true}
	store.ciclistas["c-2"] = &domain.Ciclista{ID: "c-2"}
	store.invoices["f-1"] = &domain.Invoice{ID: "f-1", Status: domain.InvoicePending, Amount: 12.5}
	for i := 0; i < 15; i++ {
		store.audits = append(store.audits, domain.AuditLog{Action: "x"})
	}

	o, err := NewDashboardService(store, nop()).Overview(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, o.CiclistasTotal)
	assert.Equal(t, 1, o.CiclistasAtivos)
	assert.Equal(t, 12.5, o.Invoices.TotalAmount)
	assert.Len(t, o.RecentActivity, recentActivityLimit)
}

func TestDashboardOverview_EmptyActivity(t *testing.T) {
	o, err := NewDashboardService(newMemStore(), nop()).Overview(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, o.RecentActivity)
	assert.Equal(t, 0, o.Invoices.Count)
}
