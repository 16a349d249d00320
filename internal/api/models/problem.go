package models

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/opentaqwa/opentaqwa/internal/engine"
	"github.com/opentaqwa/opentaqwa/internal/location"
	"github.com/opentaqwa/opentaqwa/internal/prayer"
	"github.com/opentaqwa/opentaqwa/internal/provider/resilience"
)

// ProblemType is the URI identifying a kind of problem.
type ProblemType string

const (
	ProblemTypeValidation      ProblemType = "https://opentaqwa.org/problems/validation-error"
	ProblemTypeNotFound        ProblemType = "https://opentaqwa.org/problems/not-found"
	ProblemTypeTooManyRequests ProblemType = "https://opentaqwa.org/problems/too-many-requests"
	ProblemTypeTLSRequired     ProblemType = "https://opentaqwa.org/problems/tls-required"
	ProblemTypeInternal        ProblemType = "https://opentaqwa.org/problems/internal-error"
	ProblemTypeUpstream        ProblemType = "https://opentaqwa.org/problems/upstream-error"
	ProblemTypeUnavailable     ProblemType = "https://opentaqwa.org/problems/service-unavailable"
)

var problemKinds = map[ProblemType]struct {
	title  string
	status int
}{
	ProblemTypeValidation:      {"Validation error", http.StatusBadRequest},
	ProblemTypeNotFound:        {"Not found", http.StatusNotFound},
	ProblemTypeTooManyRequests: {"Too many requests", http.StatusTooManyRequests},
	ProblemTypeTLSRequired:     {"TLS required", http.StatusForbidden},
	ProblemTypeInternal:        {"Internal server error", http.StatusInternalServerError},
	ProblemTypeUpstream:        {"Upstream error", http.StatusBadGateway},
	ProblemTypeUnavailable:     {"Service unavailable", http.StatusServiceUnavailable},
}

// Problem is an RFC 7807 error body, served as application/problem+json.
type Problem struct {
	Type     ProblemType `json:"type"`
	Title    string      `json:"title"`
	Status   int         `json:"status"`
	Detail   string      `json:"detail,omitempty"`
	Instance string      `json:"instance,omitempty"`

	// TraceID is the request ID, echoed in X-Request-Id.
	TraceID string `json:"traceId"`

	Errors []FieldError `json:"errors,omitempty"`
}

// FieldError describes one invalid query or body field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// NewProblem creates a problem of type t. Title and status follow from the
// type; unknown types are reported as internal errors.
func NewProblem(t ProblemType, traceID, detail string) *Problem {
	kind, ok := problemKinds[t]
	if !ok {
		t, kind = ProblemTypeInternal, problemKinds[ProblemTypeInternal]
	}
	return &Problem{
		Type:    t,
		Title:   kind.title,
		Status:  kind.status,
		Detail:  detail,
		TraceID: traceID,
	}
}

// WithErrors attaches field errors.
func (p *Problem) WithErrors(errs ...FieldError) *Problem {
	p.Errors = append(p.Errors, errs...)
	return p
}

// Write sends the problem with its status code.
func (p *Problem) Write(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/problem+json")
	if p.TraceID != "" {
		w.Header().Set("X-Request-Id", p.TraceID)
	}
	w.WriteHeader(p.Status)
	_ = json.NewEncoder(w).Encode(p)
}

// User-facing details for pipeline failures.
const (
	DetailMalformedTimings = "Received malformed prayer times"
	DetailFetchFailed      = "Failed to load prayer times"
	DetailProviderDown     = "Prayer time provider is temporarily unavailable"
	DetailNotLoaded        = "Prayer schedule is not loaded yet"
)

// FromError maps a schedule pipeline error to the problem shown to clients.
func FromError(err error, traceID string) *Problem {
	switch {
	case errors.Is(err, location.ErrInvalidCoordinates):
		return NewProblem(ProblemTypeValidation, traceID, "coordinate out of range").WithErrors(
			FieldError{Field: "lat", Message: "must be between -90 and 90", Code: "OUT_OF_RANGE"},
			FieldError{Field: "lon", Message: "must be between -180 and 180", Code: "OUT_OF_RANGE"},
		)
	case errors.Is(err, prayer.ErrMalformedTiming):
		return NewProblem(ProblemTypeUpstream, traceID, DetailMalformedTimings)
	case errors.Is(err, resilience.ErrCircuitOpen):
		return NewProblem(ProblemTypeUnavailable, traceID, DetailProviderDown)
	case errors.Is(err, prayer.ErrScheduleFetch), errors.Is(err, context.DeadlineExceeded):
		return NewProblem(ProblemTypeUpstream, traceID, DetailFetchFailed)
	case errors.Is(err, engine.ErrNoSchedule):
		return NewProblem(ProblemTypeUnavailable, traceID, DetailNotLoaded)
	default:
		return NewProblem(ProblemTypeInternal, traceID, "an unexpected error occurred")
	}
}
