package handler

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/gestor-ciclista/gestor-api/internal/domain"
	"github.com/gestor-ciclista/gestor-api/internal/service"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// ============================================================
// Administração: utilizadores, auditoria, importação
// ============================================================

// userIDFromRequest reads {id} from the path or, on the /api aliases,
// userId from the JSON body.
func userIDFromRequest(r *http.Request) (string, bool) {
	if id := chi.URLParam(r, "id"); id != "" {
		return id, true
	}
	var body struct {
		UserID string `json:"userId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		return "", false
	}
	id := strings.TrimSpace(body.UserID)
	return id, id != ""
}

func listUsersHandler(svc *service.UserService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/admin/users")
		defer span.End()

		users, err := svc.List(ctx)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		if users == nil {
			users = []domain.UserWithRole{}
		}
		writeJSON(w, http.StatusOK, users)
	}
}

func promoteUserHandler(svc *service.UserService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/admin/users/{id}/promote")
		defer span.End()

		userID, ok := userIDFromRequest(r)
		if !ok {
			writeError(w, http.StatusBadRequest, "userId is required")
			return
		}
		span.SetAttributes(attribute.String("user.id", userID))

		if err := svc.Promote(ctx, PrincipalFromContext(ctx), userID); err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, domain.SuccessResponse{Message: "Utilizador promovido a administrador", ID: userID})
	}
}

func demoteUserHandler(svc *service.UserService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/admin/users/{id}/demote")
		defer span.End()

		userID, ok := userIDFromRequest(r)
		if !ok {
			writeError(w, http.StatusBadRequest, "userId is required")
			return
		}
		span.SetAttributes(attribute.String("user.id", userID))

		if err := svc.Demote(ctx, PrincipalFromContext(ctx), userID); err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, domain.SuccessResponse{Message: "Utilizador despromovido", ID: userID})
	}
}

func listAuditLogsHandler(svc *service.AuditService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/admin/audit-logs")
		defer span.End()

		from, err := parseTimeQuery(r, "from")
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		to, err := parseTimeQuery(r, "to")
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		page, pageSize := parsePagination(r)

		resp, err := svc.List(ctx, domain.AuditFilter{
			Action:    strings.TrimSpace(r.URL.Query().Get("action")),
			UserEmail: strings.TrimSpace(r.URL.Query().Get("user_email")),
			From:      from,
			To:        to,
			Page:      page,
			PageSize:  pageSize,
		})
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func importLegacyClientsHandler(svc *service.CiclistaService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/admin/legacy-clients/import")
		defer span.End()

		result, err := svc.ImportLegacyClients(ctx, PrincipalFromContext(ctx))
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		span.SetAttributes(attribute.Int("import.imported", result.Imported), attribute.Int("import.skipped", result.Skipped))
		writeJSON(w, http.StatusOK, result)
	}
}

func dashboardHandler(svc *service.DashboardService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/dashboard")
		defer span.End()

		overview, err := svc.Overview(ctx)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, overview)
	}
}
