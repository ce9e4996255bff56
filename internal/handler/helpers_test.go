package handler

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/gestor-ciclista/gestor-api/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestHandleServiceError(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{&domain.ErrNotFound{Resource: "ciclista", ID: "x"}, http.StatusNotFound},
		{&domain.ErrCircuitOpen{Service: "supabase"}, http.StatusServiceUnavailable},
		{&domain.ErrTimeout{Operation: "supabase/ciclistas"}, http.StatusGatewayTimeout},
		{&domain.ErrValidation{Field: "nif", Message: "NIF deve ter 9 dígitos"}, http.StatusBadRequest},
		{&domain.ErrForbidden{Action: "delete"}, http.StatusForbidden},
		{&domain.ErrUnauthorized{}, http.StatusUnauthorized},
		{&domain.ErrConflict{Message: "Transição inválida"}, http.StatusConflict},
		{&domain.ErrPayloadTooLarge{Limit: 10}, http.StatusRequestEntityTooLarge},
		{&domain.ErrUnsupportedMedia{MediaType: "application/pdf"}, http.StatusUnsupportedMediaType},
		{&domain.ErrExternalService{Service: "supabase", Err: errors.New("eof")}, http.StatusBadGateway},
		{fmt.Errorf("update: %w", &domain.ErrConflict{Message: "x"}), http.StatusConflict},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%T", tt.err), func(t *testing.T) {
			rec := httptest.NewRecorder()
			handleServiceError(rec, tt.err, zap.NewNop())
			assert.Equal(t, tt.want, rec.Code)
			assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
		})
	}
}

func TestParsePagination(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/?page=3&page_size=500", nil)
	page, size := parsePagination(r)
	assert.Equal(t, 3, page)
	assert.Equal(t, 20, size)
}

func TestParseTimeQuery(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/?from=2026-03-01&to="+url.QueryEscape("2026-03-02T10:00:00Z"), nil)

	from, err := parseTimeQuery(r, "from")
	require.NoError(t, err)
	assert.Equal(t, "2026-03-01T00:00:00Z", from.Format("2006-01-02T15:04:05Z07:00"))

	to, err := parseTimeQuery(r, "to")
	require.NoError(t, err)
	assert.Equal(t, 10, to.Hour())

	missing, err := parseTimeQuery(r, "until")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestParseCrop(t *testing.T) {
	form := func(v url.Values) *http.Request {
		return httptest.NewRequest(http.MethodGet, "/?"+v.Encode(), nil)
	}

	crop, err := parseCrop(form(url.Values{}))
	require.NoError(t, err)
	assert.Nil(t, crop)

	crop, err = parseCrop(form(url.Values{"crop_x": {"1.6"}, "crop_y": {"2"}, "crop_width": {"30"}, "crop_height": {"30"}}))
	require.NoError(t, err)
	assert.Equal(t, &domain.CropRect{X: 1, Y: 2, Width: 30, Height: 30}, crop)

	_, err = parseCrop(form(url.Values{"crop_x": {"1"}}))
	var ve *domain.ErrValidation
	assert.ErrorAs(t, err, &ve)
}
