package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

// Headers set by the upstream gateway after authentication.
const (
	headerTenant = "X-Tenant-ID"
	headerActor  = "X-Actor-ID"
	headerRole   = "X-Actor-Role"
)

type callerKey struct{}

// caller identifies who is making a request and for which tenant.
type caller struct {
	TenantID string
	ActorID  string
	Role     string
}

func callerFrom(ctx context.Context) caller {
	c, _ := ctx.Value(callerKey{}).(caller)
	return c
}

// requireTenant rejects requests without a tenant header and stores the
// caller in the request context.
func requireTenant(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c := caller{
			TenantID: strings.TrimSpace(r.Header.Get(headerTenant)),
			ActorID:  strings.TrimSpace(r.Header.Get(headerActor)),
			Role:     strings.TrimSpace(r.Header.Get(headerRole)),
		}
		if c.TenantID == "" {
			writeError(w, http.StatusBadRequest, "missing_tenant", headerTenant+" header is required")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), callerKey{}, c)))
	})
}

// requestLogger writes one access log line per request.
func requestLogger(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			defer func() {
				log.Info("request",
					zap.String("request_id", middleware.GetReqID(r.Context())),
					zap.String("method", r.Method),
					zap.String("path", r.URL.Path),
					zap.Int("status", ww.Status()),
					zap.Int("bytes", ww.BytesWritten()),
					zap.Duration("duration", time.Since(start)),
					zap.String("tenant_id", r.Header.Get(headerTenant)),
				)
			}()
			next.ServeHTTP(ww, r)
		})
	}
}
