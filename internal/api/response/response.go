// Package response writes JSON bodies and problem responses for the schedule API.
package response

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/opentaqwa/opentaqwa/internal/api/middleware"
	"github.com/opentaqwa/opentaqwa/internal/api/models"
)

// JSON writes data as JSON with the given status code. A nil data writes no body.
func JSON(w http.ResponseWriter, r *http.Request, status int, data any) {
	if id := middleware.GetRequestID(r.Context()); id != "" {
		w.Header().Set(middleware.HeaderRequestID, id)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		_ = json.NewEncoder(w).Encode(data)
	}
}

// Accepted writes a 202 Accepted response.
func Accepted(w http.ResponseWriter, r *http.Request, data any) {
	JSON(w, r, http.StatusAccepted, data)
}

// Problem writes a problem of type t for the current request.
func Problem(w http.ResponseWriter, r *http.Request, t models.ProblemType, detail string) {
	write(w, r, models.NewProblem(t, middleware.GetRequestID(r.Context()), detail))
}

// Error maps err to a problem and writes it. Unavailable problems carry
// Retry-After: retryAfter seconds when it is positive.
func Error(w http.ResponseWriter, r *http.Request, err error, retryAfter int) {
	p := models.FromError(err, middleware.GetRequestID(r.Context()))
	if p.Status == http.StatusServiceUnavailable {
		setRetryAfter(w, retryAfter)
	}
	write(w, r, p)
}

// BadRequest writes a 400 validation problem listing the invalid fields.
func BadRequest(w http.ResponseWriter, r *http.Request, detail string, fields []models.FieldError) {
	write(w, r, models.NewProblem(models.ProblemTypeValidation, middleware.GetRequestID(r.Context()), detail).
		WithErrors(fields...))
}

// ServiceUnavailable writes a 503 problem. retryAfter, when positive, is
// sent as Retry-After in seconds.
func ServiceUnavailable(w http.ResponseWriter, r *http.Request, detail string, retryAfter int) {
	setRetryAfter(w, retryAfter)
	Problem(w, r, models.ProblemTypeUnavailable, detail)
}

func setRetryAfter(w http.ResponseWriter, seconds int) {
	if seconds > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(seconds))
	}
}

func write(w http.ResponseWriter, r *http.Request, p *models.Problem) {
	p.Instance = r.URL.Path
	p.Write(w)
}
