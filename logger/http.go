package logger

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

type ctxKey struct{}

// HTTPMiddleware logs one line per request and stores a request-scoped
// logger in the context. It expects chi's RequestID middleware to run first.
func HTTPMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			reqLogger := logger.With(
				zap.String("request_id", middleware.GetReqID(r.Context())),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
			)
			r = r.WithContext(context.WithValue(r.Context(), ctxKey{}, reqLogger))

			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			fields := []zap.Field{
				zap.Int("status", status),
				zap.Duration("latency", time.Since(start)),
				zap.String("client_ip", r.RemoteAddr),
				zap.Int("body_size", ww.BytesWritten()),
			}
			if q := r.URL.RawQuery; q != "" {
				fields = append(fields, zap.String("query", q))
			}

			msg := "HTTP Request"
			switch {
			case status >= 500:
				reqLogger.Error(msg, fields...)
			case status >= 400:
				reqLogger.Warn(msg, fields...)
			default:
				reqLogger.Info(msg, fields...)
			}
		})
	}
}

// FromContext returns the request logger, or fallback when none is set.
func FromContext(ctx context.Context, fallback *zap.Logger) *zap.Logger {
	if l, ok := ctx.Value(ctxKey{}).(*zap.Logger); ok {
		return l
	}
	return fallback
}
