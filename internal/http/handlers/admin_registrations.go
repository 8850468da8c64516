package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/conduitcrm/messaging-engine/internal/messaging"
	"github.com/conduitcrm/messaging-engine/internal/tenancy"
	"github.com/conduitcrm/messaging-engine/pkg/logging"
)

type registrationStore interface {
	Upsert(ctx context.Context, rec messaging.ChannelRegistration) error
	SetStatus(ctx context.Context, tenantID, provider, receivingAddress, status string) error
}

// AdminRegistrationsHandler manages a tenant's channel registrations.
type AdminRegistrationsHandler struct {
	store  registrationStore
	logger *logging.Logger
}

func NewAdminRegistrationsHandler(store registrationStore, logger *logging.Logger) *AdminRegistrationsHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &AdminRegistrationsHandler{store: store, logger: logger}
}

type registrationBody struct {
	Provider          string `json:"provider"`
	ReceivingAddress  string `json:"receiving_address"`
	ProviderAccountID string `json:"provider_account_id"`
	AccessToken       string `json:"access_token"`
	Status            string `json:"status,omitempty"`
}

// Upsert handles PUT /admin/registrations. Reconnecting a previously
// disconnected address reactivates the same row.
func (h *AdminRegistrationsHandler) Upsert(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := tenancy.TenantIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusForbidden, "tenant scope required")
		return
	}
	var body registrationBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if body.Provider == "" {
		body.Provider = messaging.ProviderWhatsApp
	}
	if messaging.NormalizeAddress(body.ReceivingAddress) == "" {
		writeError(w, http.StatusUnprocessableEntity, "receiving_address required")
		return
	}
	switch body.Status {
	case "", messaging.RegistrationActive, messaging.RegistrationPending, messaging.RegistrationInactive:
	default:
		writeError(w, http.StatusUnprocessableEntity, "unknown status")
		return
	}

	err := h.store.Upsert(r.Context(), messaging.ChannelRegistration{
		TenantID:          tenantID,
		Provider:          body.Provider,
		ReceivingAddress:  body.ReceivingAddress,
		ProviderAccountID: body.ProviderAccountID,
		AccessToken:       body.AccessToken,
		Status:            body.Status,
	})
	if err != nil {
		h.logger.Error("upsert registration failed", "tenant_id", tenantID, "error", err)
		writeError(w, http.StatusInternalServerError, "upsert failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"receiving_address": messaging.NormalizeAddress(body.ReceivingAddress),
	})
}

type statusBody struct {
	Provider         string `json:"provider"`
	ReceivingAddress string `json:"receiving_address"`
	Status           string `json:"status"`
}

// SetStatus handles POST /admin/registrations/status, used to activate or
// disconnect a channel. Registrations are never deleted.
func (h *AdminRegistrationsHandler) SetStatus(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := tenancy.TenantIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusForbidden, "tenant scope required")
		return
	}
	var body statusBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if body.Provider == "" {
		body.Provider = messaging.ProviderWhatsApp
	}
	switch strings.TrimSpace(body.Status) {
	case messaging.RegistrationActive, messaging.RegistrationPending, messaging.RegistrationInactive:
	default:
		writeError(w, http.StatusUnprocessableEntity, "unknown status")
		return
	}

	err := h.store.SetStatus(r.Context(), tenantID, body.Provider, body.ReceivingAddress, body.Status)
	if err != nil {
		if errors.Is(err, messaging.ErrNoRegistrationFound) {
			writeError(w, http.StatusNotFound, "registration not found")
			return
		}
		h.logger.Error("set registration status failed", "tenant_id", tenantID, "error", err)
		writeError(w, http.StatusInternalServerError, "update failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": body.Status})
}
