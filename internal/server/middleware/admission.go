package middleware

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gatekeeperhq/gatekeeper/internal/model"
	"github.com/gatekeeperhq/gatekeeper/internal/pipeline"
	"github.com/gatekeeperhq/gatekeeper/internal/service"
)

type contextKeyIdentity string

// IdentityKey is the context key for the authenticated caller identity.
const IdentityKey contextKeyIdentity = "identity"

// Admission wraps protected routes with the admission pipeline. Rejections
// are terminated here with a generic body; admitted requests continue to the
// downstream handler with the identity on the context. A usage record is
// written for every request, including rejections and requests whose
// downstream handler panics or whose client goes away.
func Admission(p *pipeline.Pipeline) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			req := pipeline.Request{
				RequestID:  GetRequestID(r.Context()),
				ClientIP:   clientIP(r),
				Method:     r.Method,
				Endpoint:   r.URL.Path,
				UserAgent:  r.UserAgent(),
				Credential: extractCredential(r),
			}

			verdict := p.Admit(r.Context(), req)

			if verdict.Decision != nil {
				w.Header().Set("X-RateLimit-Limit", strconv.Itoa(verdict.Decision.Limit))
				w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(verdict.Decision.Remaining))
				w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(verdict.Decision.Reset, 10))
			}

			if verdict.Outcome != pipeline.OutcomeForwarded {
				if verdict.RetryAfter > 0 {
					w.Header().Set("Retry-After", strconv.Itoa(verdict.RetryAfter))
				}
				writeVerdict(w, verdict, req.RequestID)
				p.Record(req, verdict.Identity, verdict.Status, time.Since(start))
				return
			}

			ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			// Record whatever status is known even if the handler panics;
			// consumed quota is not refunded either way.
			defer func() {
				p.Record(req, verdict.Identity, ww.status, time.Since(start))
			}()

			ctx := r.Context()
			if verdict.Identity != nil {
				ctx = context.WithValue(ctx, IdentityKey, verdict.Identity)
			}
			next.ServeHTTP(ww, r.WithContext(ctx))
		})
	}
}

// GetIdentity extracts the authenticated identity from the context. Returns
// nil for anonymous requests.
func GetIdentity(ctx context.Context) *service.Identity {
	if id, ok := ctx.Value(IdentityKey).(*service.Identity); ok {
		return id
	}
	return nil
}

// extractCredential pulls the raw API key from either the Authorization
// bearer scheme or the X-API-Key header.
func extractCredential(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
	}
	return r.Header.Get("X-API-Key")
}

// clientIP returns the remote address without the port. RealIP middleware
// upstream has already resolved X-Forwarded-For when configured.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func writeVerdict(w http.ResponseWriter, v pipeline.Verdict, requestID string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(v.Status)
	json.NewEncoder(w).Encode(model.ErrorResponse{
		Error: model.ErrorDetail{
			Code:      v.Status,
			Message:   v.Message,
			RequestID: requestID,
		},
	})
}
