package handler

import (
	"net/http"

	"github.com/gatekeeperhq/gatekeeper/internal/server/middleware"
)

// Protected is the demo downstream handler behind the admission pipeline.
// Real deployments mount their own handlers (or a reverse proxy) in its
// place; this one just echoes the resolved identity.
func Protected(w http.ResponseWriter, r *http.Request) {
	resp := map[string]interface{}{
		"ok":         true,
		"request_id": middleware.GetRequestID(r.Context()),
	}
	if id := middleware.GetIdentity(r.Context()); id != nil {
		resp["tenant_id"] = id.TenantID.String()
		resp["api_key_id"] = id.KeyID.String()
	}
	writeJSON(w, http.StatusOK, resp)
}
