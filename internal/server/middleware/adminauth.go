package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/gatekeeperhq/gatekeeper/internal/model"
	"github.com/gatekeeperhq/gatekeeper/internal/service"
)

type contextKeyAdmin string

// AdminKey is the context key for the authenticated operator.
const AdminKey contextKeyAdmin = "admin_principal"

// AdminAuth guards the admin surface with bearer session tokens.
func AdminAuth(auth *service.AdminAuth) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if !strings.HasPrefix(header, "Bearer ") {
				writeAdminAuthError(w, r)
				return
			}

			principal, err := auth.ValidateToken(strings.TrimPrefix(header, "Bearer "))
			if err != nil {
				writeAdminAuthError(w, r)
				return
			}

			ctx := context.WithValue(r.Context(), AdminKey, principal)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetAdmin extracts the authenticated operator from the context, or nil.
func GetAdmin(ctx context.Context) *service.AdminPrincipal {
	if p, ok := ctx.Value(AdminKey).(*service.AdminPrincipal); ok {
		return p
	}
	return nil
}

func writeAdminAuthError(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	json.NewEncoder(w).Encode(model.ErrorResponse{
		Error: model.ErrorDetail{
			Code:      http.StatusUnauthorized,
			Message:   "Admin authentication required",
			RequestID: GetRequestID(r.Context()),
		},
	})
}
