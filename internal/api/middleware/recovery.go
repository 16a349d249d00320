package middleware

import (
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/rs/zerolog"

	"github.com/opentaqwa/opentaqwa/internal/api/models"
)

// Recovery turns a handler panic into a 500 problem. When the response has
// already started, as with an open event stream, the connection is only
// logged and closed. http.ErrAbortHandler passes through untouched.
func Recovery(log zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rw := newStatusRecorder(w)
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler {
					panic(rec)
				}

				requestID := GetRequestID(r.Context())
				err, ok := rec.(error)
				if !ok {
					err = fmt.Errorf("%v", rec)
				}
				log.Error().
					Err(err).
					Str("request_id", requestID).
					Str("method", r.Method).
					Str("path", r.URL.Path).
					Bool("response_started", rw.wroteHeader).
					Bytes("stack", debug.Stack()).
					Msg("panic recovered")

				if rw.wroteHeader {
					panic(http.ErrAbortHandler)
				}
				problem := models.NewProblem(models.ProblemTypeInternal, requestID, "an unexpected error occurred")
				problem.Instance = r.URL.Path
				problem.Write(rw)
			}()

			next.ServeHTTP(rw, r)
		})
	}
}
