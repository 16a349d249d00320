package middleware

import (
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"
)

// Logger derives a request logger carrying the request and trace IDs, stores
// it in the context for zerolog.Ctx, and logs one line when the request ends.
// Server errors log at error level and client errors at warn.
func Logger(log zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			fields := log.With().Str("request_id", GetRequestID(r.Context()))
			if sc := trace.SpanContextFromContext(r.Context()); sc.IsValid() {
				fields = fields.
					Str("trace_id", sc.TraceID().String()).
					Str("span_id", sc.SpanID().String())
			}
			reqLog := fields.Logger()
			r = r.WithContext(reqLog.WithContext(r.Context()))

			rec := newStatusRecorder(w)
			next.ServeHTTP(rec, r)

			level := zerolog.InfoLevel
			switch {
			case rec.statusCode >= http.StatusInternalServerError:
				level = zerolog.ErrorLevel
			case rec.statusCode >= http.StatusBadRequest:
				level = zerolog.WarnLevel
			}

			reqLog.WithLevel(level).
				Str("method", r.Method).
				Str("route", routePattern(r)).
				Str("path", r.URL.Path).
				Int("status", rec.statusCode).
				Int64("bytes", rec.written).
				Dur("duration", time.Since(start)).
				Str("remote_addr", r.RemoteAddr).
				Str("user_agent", r.UserAgent()).
				Msg("request completed")
		})
	}
}
