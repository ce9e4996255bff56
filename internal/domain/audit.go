package domain

import (
	"regexp"
	"strings"
	"time"
)

// ============================================================
// Audit log
// ============================================================

// Audit action labels written by this service. Storage keeps the label
// as free text, so older rows may carry any other wording.
const (
	ActionCiclistaCriado         = "Ciclista criado"
	ActionCiclistaAtualizado     = "Ciclista atualizado"
	ActionCiclistaEliminado      = "Ciclista eliminado"
	ActionFotoAtualizada         = "Foto atualizada"
	ActionFotoRemovida           = "Foto removida"
	ActionFaturaCriada           = "Fatura criada"
	ActionFaturaAtualizada       = "Fatura atualizada"
	ActionFaturaEliminada        = "Fatura eliminada"
	ActionFaturaPaga             = "Fatura paga"
	ActionFaturaReembolsada      = "Fatura reembolsada"
	ActionFaturaVencida          = "Fatura vencida"
	ActionUtilizadorPromovido    = "Utilizador promovido a admin"
	ActionUtilizadorDespromovido = "Utilizador despromovido"
	ActionClientesImportados     = "Clientes legados importados"
)

// SystemActor is recorded when no authenticated user triggered the change.
const SystemActor = "sistema"

// FieldChange is one field-level difference recorded with an audit row.
type FieldChange struct {
	Field    string `json:"field"`
	OldValue any    `json:"old_value"`
	NewValue any    `json:"new_value"`
}

// AuditLog is a free-text activity record.
type AuditLog struct {
	ID         string        `json:"id,omitempty"`
	Timestamp  time.Time     `json:"timestamp"`
	UserEmail  string        `json:"user_email"`
	Action     string        `json:"action"`
	Details    string        `json:"details"`
	Changes    []FieldChange `json:"changes,omitempty"`
	EntityType string        `json:"entity_type,omitempty"`
	EntityID   string        `json:"entity_id,omitempty"`
}

// AuditFilter narrows GET /v1/admin/audit-logs.
type AuditFilter struct {
	Action    string
	UserEmail string
	From      *time.Time
	To        *time.Time
	Page      int
	PageSize  int
}

// EntityRef identifies the record whose audit trail is requested.
type EntityRef struct {
	Type string
	ID   string
	Name string
}

var quotedName = regexp.MustCompile(`"([^"]+)"`)

// Matches reports whether the row belongs to ref. Rows are matched, in
// order, by the entity ID appearing in details or action, by the
// entity_type/entity_id columns, or by a quoted name in details equal to
// ref.Name when the action mentions the entity type.
func (l *AuditLog) Matches(ref EntityRef) bool {
	if ref.ID != "" && (strings.Contains(l.Details, ref.ID) || strings.Contains(l.Action, ref.ID)) {
		return true
	}
	if l.EntityID != "" && l.EntityType == ref.Type && l.EntityID == ref.ID {
		return true
	}
	name := strings.TrimSpace(ref.Name)
	if name == "" || ref.Type == "" {
		return false
	}
	if !strings.Contains(strings.ToLower(l.Action), strings.ToLower(ref.Type)) {
		return false
	}
	for _, m := range quotedName.FindAllStringSubmatch(l.Details, -1) {
		if strings.EqualFold(strings.TrimSpace(m[1]), name) {
			return true
		}
	}
	return false
}
