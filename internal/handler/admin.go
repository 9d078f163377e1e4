package handler

import (
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/gatekeeperhq/gatekeeper/internal/blocklist"
	"github.com/gatekeeperhq/gatekeeper/internal/keys"
	"github.com/gatekeeperhq/gatekeeper/internal/service"
	"github.com/gatekeeperhq/gatekeeper/internal/store"
	"github.com/gatekeeperhq/gatekeeper/internal/usage"
)

// Defaults applied when key creation does not specify limits.
const (
	defaultKeyRateLimit  = 10
	defaultKeyRateWindow = 60
)

// AdminHandler serves the operator surface: sessions, tenant and key CRUD,
// manual blocks, and usage analytics. The admission pipeline never calls any
// of this; it only reads the records these endpoints write.
type AdminHandler struct {
	store      *store.Store
	adminAuth  *service.AdminAuth
	blocks     blocklist.List
	aggregator *usage.Aggregator
}

// NewAdminHandler creates the admin surface handler.
func NewAdminHandler(s *store.Store, adminAuth *service.AdminAuth, blocks blocklist.List, aggregator *usage.Aggregator) *AdminHandler {
	return &AdminHandler{store: s, adminAuth: adminAuth, blocks: blocks, aggregator: aggregator}
}

// ---------------------------------------------------------------------------
// Sessions
// ---------------------------------------------------------------------------

// Login issues an operator session token.
func (h *AdminHandler) Login(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := readJSON(r, &body); err != nil {
		writeError(w, r, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	if body.Email == "" || body.Password == "" {
		writeError(w, r, http.StatusBadRequest, "Email and password are required")
		return
	}

	token, err := h.adminAuth.Login(r.Context(), body.Email, body.Password)
	if err != nil {
		if errors.Is(err, service.ErrInvalidLogin) {
			writeError(w, r, http.StatusUnauthorized, "Invalid email or password")
			return
		}
		writeError(w, r, http.StatusInternalServerError, "Login failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"token": token})
}

// Logout is stateless: tokens expire on their own. Kept so clients have a
// uniform session API.
func (h *AdminHandler) Logout(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ---------------------------------------------------------------------------
// Tenants
// ---------------------------------------------------------------------------

// CreateTenant registers a new tenant.
func (h *AdminHandler) CreateTenant(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name string `json:"name"`
	}
	if err := readJSON(r, &body); err != nil {
		writeError(w, r, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	if body.Name == "" || len(body.Name) > 200 {
		writeError(w, r, http.StatusBadRequest, "Tenant name must be 1-200 characters")
		return
	}

	tenant, err := h.store.CreateTenant(r.Context(), body.Name)
	if err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			writeError(w, r, http.StatusConflict, "Tenant name already exists")
			return
		}
		writeError(w, r, http.StatusInternalServerError, "Failed to create tenant")
		return
	}

	writeJSON(w, http.StatusCreated, tenant)
}

// ListTenants returns all tenants.
func (h *AdminHandler) ListTenants(w http.ResponseWriter, r *http.Request) {
	tenants, err := h.store.ListTenants(r.Context())
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "Failed to list tenants")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"tenants": tenants})
}

// ---------------------------------------------------------------------------
// API keys
// ---------------------------------------------------------------------------

// CreateKey mints a new API key for a tenant. The raw key appears in this
// response and nowhere else, ever.
func (h *AdminHandler) CreateKey(w http.ResponseWriter, r *http.Request) {
	tenantID, err := uuid.Parse(chi.URLParam(r, "tenantID"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "Invalid tenant ID")
		return
	}

	var body struct {
		RateLimit  int `json:"rate_limit"`
		RateWindow int `json:"rate_window"`
	}
	// Body is optional; defaults apply.
	readJSON(r, &body)
	if body.RateLimit <= 0 {
		body.RateLimit = defaultKeyRateLimit
	}
	if body.RateWindow <= 0 {
		body.RateWindow = defaultKeyRateWindow
	}

	if _, err := h.store.GetTenant(r.Context(), tenantID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, r, http.StatusNotFound, "Tenant not found")
			return
		}
		writeError(w, r, http.StatusInternalServerError, "Failed to load tenant")
		return
	}

	raw, err := keys.Generate()
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "Failed to generate key")
		return
	}

	key, err := h.store.CreateAPIKey(r.Context(), tenantID, keys.Hash(raw), keys.Prefix(raw),
		body.RateLimit, body.RateWindow)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "Failed to create key")
		return
	}

	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"key_id":      key.ID,
		"tenant_id":   key.TenantID,
		"key_prefix":  key.KeyPrefix,
		"rate_limit":  key.RateLimit,
		"rate_window": key.RateWindow,
		"api_key":     raw, // shown once, not retrievable again
	})
}

// ListKeys returns a tenant's keys, hashes excluded.
func (h *AdminHandler) ListKeys(w http.ResponseWriter, r *http.Request) {
	tenantID, err := uuid.Parse(chi.URLParam(r, "tenantID"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "Invalid tenant ID")
		return
	}

	list, err := h.store.ListAPIKeys(r.Context(), tenantID)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "Failed to list keys")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"keys": list})
}

// RevokeKey revokes a key. Idempotent: revoking twice reports
// already_revoked.
func (h *AdminHandler) RevokeKey(w http.ResponseWriter, r *http.Request) {
	keyID, err := uuid.Parse(chi.URLParam(r, "keyID"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "Invalid key ID")
		return
	}

	already, err := h.store.RevokeAPIKey(r.Context(), keyID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, r, http.StatusNotFound, "Key not found")
			return
		}
		writeError(w, r, http.StatusInternalServerError, "Failed to revoke key")
		return
	}

	status := "revoked"
	if already {
		status = "already_revoked"
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": status, "key_id": keyID.String()})
}

// ---------------------------------------------------------------------------
// Manual blocks
// ---------------------------------------------------------------------------

// BlockIP manually blocks an IP. Operator blocks overwrite any automatic
// entry and may target loopback addresses.
func (h *AdminHandler) BlockIP(w http.ResponseWriter, r *http.Request) {
	var body struct {
		IP         string `json:"ip"`
		TTLSeconds int    `json:"ttl_seconds"`
		ReasonCode string `json:"reason_code"`
		Reason     string `json:"reason"`
	}
	if err := readJSON(r, &body); err != nil {
		writeError(w, r, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	if net.ParseIP(body.IP) == nil {
		writeError(w, r, http.StatusBadRequest, "Invalid IP address")
		return
	}
	if body.TTLSeconds <= 0 {
		writeError(w, r, http.StatusBadRequest, "ttl_seconds must be positive")
		return
	}
	if body.ReasonCode == "" {
		body.ReasonCode = blocklist.ReasonManual
	}

	ttl := time.Duration(body.TTLSeconds) * time.Second
	if err := h.blocks.Block(r.Context(), body.IP, ttl, body.ReasonCode, body.Reason); err != nil {
		writeError(w, r, http.StatusInternalServerError, "Failed to block IP")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "blocked", "ip": body.IP})
}

// UnblockIP removes a block. Unblocking an unblocked IP succeeds.
func (h *AdminHandler) UnblockIP(w http.ResponseWriter, r *http.Request) {
	ip := chi.URLParam(r, "ip")
	if net.ParseIP(ip) == nil {
		writeError(w, r, http.StatusBadRequest, "Invalid IP address")
		return
	}

	if err := h.blocks.Unblock(r.Context(), ip); err != nil {
		writeError(w, r, http.StatusInternalServerError, "Failed to unblock IP")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "unblocked", "ip": ip})
}
