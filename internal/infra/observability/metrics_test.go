package observability_test

import (
	"testing"
	"time"

	"github.com/gestor-ciclista/gestor-api/internal/infra/observability"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMetrics_Twice(t *testing.T) {
	// private registries must not collide
	observability.NewMetrics()
	observability.NewMetrics()
}

func TestMetrics_AuditDropped(t *testing.T) {
	m := observability.NewMetrics()
	m.IncrAudit("written")
	m.IncrAudit("dropped")
	m.IncrAudit("dropped")

	assert.Equal(t, 2.0, m.AuditDropped())
}

func TestMetrics_Gather(t *testing.T) {
	m := observability.NewMetrics()
	m.IncrMutation("ciclista", "create")
	m.AddOverdue(3)
	m.SetBreakerState("supabase", gobreaker.StateOpen)
	m.RecordRequestDuration("ciclistas.list", 15*time.Millisecond)

	n, err := testutil.GatherAndCount(m.Registry,
		"gestor_mutations_total",
		"gestor_invoices_marked_overdue_total",
		"gestor_circuit_breaker_state",
		"gestor_operation_duration_seconds",
	)
	require.NoError(t, err)
	assert.Equal(t, 4, n)
}
