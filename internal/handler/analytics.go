package handler

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/gatekeeperhq/gatekeeper/internal/store"
)

// tenantFromURL parses and validates the tenantID path parameter, checking
// the tenant exists so analytics endpoints 404 instead of returning empty
// reports for typo'd IDs.
func (h *AdminHandler) tenantFromURL(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	tenantID, err := uuid.Parse(chi.URLParam(r, "tenantID"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "Invalid tenant ID")
		return uuid.Nil, false
	}
	if _, err := h.store.GetTenant(r.Context(), tenantID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, r, http.StatusNotFound, "Tenant not found")
			return uuid.Nil, false
		}
		writeError(w, r, http.StatusInternalServerError, "Failed to load tenant")
		return uuid.Nil, false
	}
	return tenantID, true
}

// UsageSummary serves totals, status breakdown, and rejection counts for a
// tenant. Window defaults to the trailing 24 hours.
func (h *AdminHandler) UsageSummary(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := h.tenantFromURL(w, r)
	if !ok {
		return
	}

	sum, err := h.aggregator.Summary(r.Context(), tenantID,
		queryTime(r, "from_ts"), queryTime(r, "to_ts"))
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "Failed to compute summary")
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

// TopEndpoints serves the tenant's busiest endpoints by volume.
func (h *AdminHandler) TopEndpoints(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := h.tenantFromURL(w, r)
	if !ok {
		return
	}

	rows, err := h.aggregator.TopEndpoints(r.Context(), tenantID,
		queryInt(r, "limit", 10), queryTime(r, "from_ts"), queryTime(r, "to_ts"))
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "Failed to compute top endpoints")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"endpoints": rows})
}

// UsageByKey serves per-key volume and error rates for a tenant.
func (h *AdminHandler) UsageByKey(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := h.tenantFromURL(w, r)
	if !ok {
		return
	}

	rows, err := h.aggregator.ByKey(r.Context(), tenantID,
		queryTime(r, "from_ts"), queryTime(r, "to_ts"))
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "Failed to compute usage by key")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"keys": rows})
}
