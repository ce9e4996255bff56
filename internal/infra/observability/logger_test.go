package observability_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gestor-ciclista/gestor-api/internal/infra/observability"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestNewLogger_Levels(t *testing.T) {
	assert.True(t, observability.NewLogger("debug").Core().Enabled(zapcore.DebugLevel))
	assert.False(t, observability.NewLogger("warn").Core().Enabled(zapcore.InfoLevel))
	assert.True(t, observability.NewLogger("bogus").Core().Enabled(zapcore.InfoLevel))
}

func TestZapLoggerMiddleware(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	metrics := observability.NewMetrics()

	r := chi.NewRouter()
	r.Use(observability.ZapLoggerMiddleware(zap.New(core), metrics))
	r.Get("/v1/ciclistas/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/ciclistas/abc", nil))

	entries := logs.All()
	require.Len(t, entries, 1)
	assert.Equal(t, zapcore.WarnLevel, entries[0].Level)
	fields := entries[0].ContextMap()
	assert.Equal(t, "/v1/ciclistas/{id}", fields["route"])
	assert.EqualValues(t, http.StatusNotFound, fields["status"])

	n, err := testutil.GatherAndCount(metrics.Registry, "gestor_http_request_duration_seconds")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
