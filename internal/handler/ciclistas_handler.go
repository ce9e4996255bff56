package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gestor-ciclista/gestor-api/internal/domain"
	"github.com/gestor-ciclista/gestor-api/internal/service"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// ============================================================
// Ciclistas
// ============================================================

func listCiclistasHandler(svc *service.CiclistaService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/ciclistas")
		defer span.End()

		page, pageSize := parsePagination(r)
		search := r.URL.Query().Get("search")
		if search == "" {
			search = r.URL.Query().Get("q")
		}

		resp, err := svc.List(ctx, domain.CiclistaFilter{
			Search:   strings.TrimSpace(search),
			Ativo:    parseBoolQuery(r, "ativo"),
			Page:     page,
			PageSize: pageSize,
		})
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func getCiclistaHandler(svc *service.CiclistaService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/ciclistas/{id}")
		defer span.End()

		id := chi.URLParam(r, "id")
		span.SetAttributes(attribute.String("ciclista.id", id))

		c, err := svc.Get(ctx, id)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, c)
	}
}

func createCiclistaHandler(svc *service.CiclistaService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/ciclistas")
		defer span.End()

		var in domain.CiclistaInput
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		c, err := svc.Create(ctx, PrincipalFromContext(ctx), &in)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusCreated, c)
	}
}

func updateCiclistaHandler(svc *service.CiclistaService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "PUT /v1/ciclistas/{id}")
		defer span.End()

		id := chi.URLParam(r, "id")
		span.SetAttributes(attribute.String("ciclista.id", id))

		var in domain.CiclistaInput
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		c, err := svc.Update(ctx, PrincipalFromContext(ctx), id, &in)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, c)
	}
}

func deleteCiclistaHandler(svc *service.CiclistaService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "DELETE /v1/ciclistas/{id}")
		defer span.End()

		id := chi.URLParam(r, "id")
		span.SetAttributes(attribute.String("ciclista.id", id))

		if err := svc.Delete(ctx, PrincipalFromContext(ctx), id); err != nil {
			handleServiceError(w, err, logger)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func ciclistaDetailHandler(svc *service.CiclistaService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/ciclistas/{id}/detail")
		defer span.End()

		id := chi.URLParam(r, "id")
		span.SetAttributes(attribute.String("ciclista.id", id))

		detail, err := svc.Detail(ctx, id)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, detail)
	}
}

func ciclistaAuditHandler(svc *service.CiclistaService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/ciclistas/{id}/audit-logs")
		defer span.End()

		id := chi.URLParam(r, "id")
		span.SetAttributes(attribute.String("ciclista.id", id))

		logs, err := svc.AuditTrail(ctx, id)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		if logs == nil {
			logs = []domain.AuditLog{}
		}
		writeJSON(w, http.StatusOK, logs)
	}
}

// ============================================================
// Fotografia (avatar)
// ============================================================

// multipartOverhead is headroom over the file limit for boundaries and crop fields.
const multipartOverhead = 64 << 10

func uploadPhotoHandler(svc *service.AvatarService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/ciclistas/{id}/photo")
		defer span.End()

		id := chi.URLParam(r, "id")
		span.SetAttributes(attribute.String("ciclista.id", id))

		limit := svc.MaxBytes()
		if r.ContentLength > limit+multipartOverhead {
			handleServiceError(w, &domain.ErrPayloadTooLarge{Limit: limit}, logger)
			return
		}
		r.Body = http.MaxBytesReader(w, r.Body, limit+multipartOverhead)
		if err := r.ParseMultipartForm(limit); err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				handleServiceError(w, &domain.ErrPayloadTooLarge{Limit: limit}, logger)
				return
			}
			writeError(w, http.StatusBadRequest, "invalid multipart form")
			return
		}
		defer r.MultipartForm.RemoveAll()

		file, _, err := r.FormFile("file")
		if err != nil {
			writeError(w, http.StatusBadRequest, "campo 'file' em falta")
			return
		}
		defer file.Close()

		data, err := io.ReadAll(io.LimitReader(file, limit+1))
		if err != nil {
			writeError(w, http.StatusBadRequest, "failed to read upload")
			return
		}

		crop, err := parseCrop(r)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}

		c, err := svc.Upload(ctx, PrincipalFromContext(ctx), id, data, crop)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, c)
	}
}

func deletePhotoHandler(svc *service.AvatarService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "DELETE /v1/ciclistas/{id}/photo")
		defer span.End()

		id := chi.URLParam(r, "id")
		span.SetAttributes(attribute.String("ciclista.id", id))

		c, err := svc.Delete(ctx, PrincipalFromContext(ctx), id)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, c)
	}
}

// parseCrop reads the crop area either as a JSON "crop" field or as
// crop_x/crop_y/crop_width/crop_height. No crop fields means nil.
func parseCrop(r *http.Request) (*domain.CropRect, error) {
	if raw := r.FormValue("crop"); raw != "" {
		var c domain.CropRect
		if err := json.Unmarshal([]byte(raw), &c); err != nil {
			return nil, &domain.ErrValidation{Field: "crop", Message: "Área de recorte inválida"}
		}
		return &c, nil
	}

	names := []string{"crop_x", "crop_y", "crop_width", "crop_height"}
	vals := make([]int, len(names))
	present := 0
	for i, name := range names {
		v := strings.TrimSpace(r.FormValue(name))
		if v == "" {
			continue
		}
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return nil, &domain.ErrValidation{Field: name, Message: "Área de recorte inválida"}
		}
		vals[i] = int(f)
		present++
	}
	switch present {
	case 0:
		return nil, nil
	case len(names):
		return &domain.CropRect{X: vals[0], Y: vals[1], Width: vals[2], Height: vals[3]}, nil
	default:
		return nil, &domain.ErrValidation{Field: "crop", Message: "Área de recorte incompleta"}
	}
}
