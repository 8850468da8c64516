package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/conduitcrm/messaging-engine/internal/routing"
	"github.com/conduitcrm/messaging-engine/internal/tenancy"
	"github.com/conduitcrm/messaging-engine/pkg/logging"
)

type ruleStore interface {
	ListActive(ctx context.Context, tenantID string) ([]routing.Rule, error)
	Create(ctx context.Context, rule routing.Rule) (uuid.UUID, error)
	SetActive(ctx context.Context, tenantID string, id uuid.UUID, active bool) error
}

// AdminRulesHandler manages a tenant's routing rules.
type AdminRulesHandler struct {
	store  ruleStore
	logger *logging.Logger
}

func NewAdminRulesHandler(store ruleStore, logger *logging.Logger) *AdminRulesHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &AdminRulesHandler{store: store, logger: logger}
}

type ruleBody struct {
	Name          string             `json:"name"`
	PriorityOrder int                `json:"priority_order"`
	Conditions    routing.Conditions `json:"conditions"`
	Actions       routing.Actions    `json:"actions"`
}

type ruleResponse struct {
	ID            string             `json:"id"`
	Name          string             `json:"name"`
	PriorityOrder int                `json:"priority_order"`
	Conditions    routing.Conditions `json:"conditions"`
	Actions       routing.Actions    `json:"actions"`
	IsActive      bool               `json:"is_active"`
}

// List handles GET /admin/rules.
func (h *AdminRulesHandler) List(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := tenancy.TenantIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusForbidden, "tenant scope required")
		return
	}
	rules, err := h.store.ListActive(r.Context(), tenantID)
	if err != nil {
		h.logger.Error("list rules failed", "tenant_id", tenantID, "error", err)
		writeError(w, http.StatusInternalServerError, "list rules failed")
		return
	}
	out := make([]ruleResponse, 0, len(rules))
	for _, rule := range rules {
		out = append(out, ruleResponse{
			ID:            rule.ID.String(),
			Name:          rule.Name,
			PriorityOrder: rule.PriorityOrder,
			Conditions:    rule.Conditions,
			Actions:       rule.Actions,
			IsActive:      rule.IsActive,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"rules": out})
}

// Create handles POST /admin/rules. Validation rejects unknown condition or
// action variants before anything is stored.
func (h *AdminRulesHandler) Create(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := tenancy.TenantIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusForbidden, "tenant scope required")
		return
	}
	var body ruleBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	rule := routing.Rule{
		TenantID:      tenantID,
		Name:          body.Name,
		PriorityOrder: body.PriorityOrder,
		Conditions:    body.Conditions,
		Actions:       body.Actions,
		IsActive:      true,
	}
	id, err := h.store.Create(r.Context(), rule)
	if err != nil {
		if rule.Validate() != nil {
			writeError(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
		h.logger.Error("create rule failed", "tenant_id", tenantID, "error", err)
		writeError(w, http.StatusInternalServerError, "create rule failed")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": id.String()})
}

// SetActive handles PATCH /admin/rules/{ruleID}/active.
func (h *AdminRulesHandler) SetActive(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := tenancy.TenantIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusForbidden, "tenant scope required")
		return
	}
	ruleID, err := uuid.Parse(chi.URLParam(r, "ruleID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid rule id")
		return
	}
	var body struct {
		Active *bool `json:"active"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Active == nil {
		writeError(w, http.StatusBadRequest, "body must carry {\"active\": bool}")
		return
	}
	if err := h.store.SetActive(r.Context(), tenantID, ruleID, *body.Active); err != nil {
		h.logger.Error("set rule active failed", "tenant_id", tenantID, "rule_id", ruleID, "error", err)
		writeError(w, http.StatusInternalServerError, "update failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"active": *body.Active})
}
