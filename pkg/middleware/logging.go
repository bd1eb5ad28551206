package middleware

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/utafrali/stockledger/pkg/logger"
)

const (
	headerCorrelationID = "X-Correlation-ID"
	headerTenantID      = "X-Tenant-ID"
)

// RequestLogging assigns a correlation ID, stores a request-scoped logger in
// the context and logs one line per request. Mount it after Tracing so the
// scoped logger carries trace_id and span_id.
func RequestLogging(base *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			correlationID := r.Header.Get(headerCorrelationID)
			if correlationID == "" {
				correlationID = uuid.New().String()
			}
			w.Header().Set(headerCorrelationID, correlationID)

			ctx := logger.WithCorrelationID(r.Context(), correlationID)
			if tenant := r.Header.Get(headerTenantID); tenant != "" {
				ctx = logger.WithTenantID(ctx, tenant)
			}
			scoped := logger.WithContext(ctx, base)
			ctx = logger.NewContext(ctx, scoped)

			rec := newStatusRecorder(w)
			next.ServeHTTP(rec, r.WithContext(ctx))

			scoped.InfoContext(ctx, "http request",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", rec.status),
				slog.Duration("duration", time.Since(start)),
				slog.Int("bytes", rec.bytes),
				slog.String("remote_addr", r.RemoteAddr),
			)
		})
	}
}
