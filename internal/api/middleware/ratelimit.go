package middleware

import (
	"fmt"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/httprate"
	"github.com/rs/zerolog"

	"github.com/opentaqwa/opentaqwa/internal/api/models"
)

// Policy is a per-client request budget. An event stream counts once, when it is opened.
type Policy struct {
	Name   string
	Limit  int
	Window time.Duration
}

var (
	// RefreshPolicy guards manual refreshes, which bump the engine generation.
	RefreshPolicy = Policy{Name: "refresh", Limit: 6, Window: time.Minute}

	// TimingsPolicy guards ad-hoc lookups, each of which calls the timings provider.
	TimingsPolicy = Policy{Name: "timings", Limit: 30, Window: time.Minute}

	// ReadPolicy guards reads of the live schedule.
	ReadPolicy = Policy{Name: "read", Limit: 100, Window: time.Minute}
)

// retryAfter is the window in whole seconds. httprate does not expose when
// the current window resets, so the full window is the upper bound.
func (p Policy) retryAfter() string {
	return strconv.Itoa(int(math.Ceil(p.Window.Seconds())))
}

// Throttle limits each client IP, as resolved by chi's RealIP, to the policy budget.
func Throttle(p Policy, log zerolog.Logger) func(http.Handler) http.Handler {
	retryAfter := p.retryAfter()
	detail := fmt.Sprintf("Rate limit exceeded: at most %d %s requests per %s seconds.", p.Limit, p.Name, retryAfter)

	return httprate.Limit(
		p.Limit,
		p.Window,
		httprate.WithKeyFuncs(httprate.KeyByRealIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			requestID := GetRequestID(r.Context())
			log.Warn().
				Str("request_id", requestID).
				Str("policy", p.Name).
				Str("remote_addr", r.RemoteAddr).
				Msg("request throttled")

			w.Header().Set("Retry-After", retryAfter)
			problem := models.NewProblem(models.ProblemTypeTooManyRequests, requestID, detail)
			problem.Instance = r.URL.Path
			problem.Write(w)
		}),
	)
}
