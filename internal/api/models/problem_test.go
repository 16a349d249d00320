package models_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opentaqwa/opentaqwa/internal/api/models"
	"github.com/opentaqwa/opentaqwa/internal/engine"
	"github.com/opentaqwa/opentaqwa/internal/location"
	"github.com/opentaqwa/opentaqwa/internal/prayer"
	"github.com/opentaqwa/opentaqwa/internal/provider/resilience"
)

func TestNewProblem(t *testing.T) {
	tests := []struct {
		problemType models.ProblemType
		wantTitle   string
		wantCode    int
	}{
		{models.ProblemTypeValidation, "Validation error", http.StatusBadRequest},
		{models.ProblemTypeNotFound, "Not found", http.StatusNotFound},
		{models.ProblemTypeTLSRequired, "TLS required", http.StatusForbidden},
		{models.ProblemTypeTooManyRequests, "Too many requests", http.StatusTooManyRequests},
		{models.ProblemTypeInternal, "Internal server error", http.StatusInternalServerError},
		{models.ProblemTypeUpstream, "Upstream error", http.StatusBadGateway},
		{models.ProblemTypeUnavailable, "Service unavailable", http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.wantTitle, func(t *testing.T) {
			p := models.NewProblem(tt.problemType, "gw-1", "detail")
			assert.Equal(t, tt.problemType, p.Type)
			assert.Equal(t, tt.wantTitle, p.Title)
			assert.Equal(t, tt.wantCode, p.Status)
			assert.Equal(t, "gw-1", p.TraceID)
			assert.Equal(t, "detail", p.Detail)
		})
	}
}

func TestNewProblem_UnknownTypeIsInternal(t *testing.T) {
	p := models.NewProblem("https://example.com/teapot", "", "short and stout")
	assert.Equal(t, models.ProblemTypeInternal, p.Type)
	assert.Equal(t, http.StatusInternalServerError, p.Status)
}

func TestProblem_Write(t *testing.T) {
	p := models.NewProblem(models.ProblemTypeValidation, "gw-1", "invalid query").
		WithErrors(models.FieldError{Field: "date", Message: "must be YYYY-MM-DD"})
	p.Instance = "/v1/timings"

	w := httptest.NewRecorder()
	p.Write(w)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "application/problem+json", w.Header().Get("Content-Type"))
	assert.Equal(t, "gw-1", w.Header().Get("X-Request-Id"))

	var result models.Problem
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))

	assert.Equal(t, models.ProblemTypeValidation, result.Type)
	assert.Equal(t, "Validation error", result.Title)
	assert.Equal(t, "invalid query", result.Detail)
	assert.Equal(t, "/v1/timings", result.Instance)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, "date", result.Errors[0].Field)
}

func TestProblem_WriteWithoutTraceID(t *testing.T) {
	w := httptest.NewRecorder()
	models.NewProblem(models.ProblemTypeInternal, "", "boom").Write(w)

	assert.Empty(t, w.Header().Get("X-Request-Id"))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestFromError(t *testing.T) {
	fetchErr := &prayer.FetchError{Provider: "aladhan", Err: errors.New("connection refused")}

	tests := []struct {
		name       string
		err        error
		wantType   models.ProblemType
		wantDetail string
	}{
		{"invalid coordinates", fmt.Errorf("lookup: %w", location.ErrInvalidCoordinates), models.ProblemTypeValidation, "coordinate out of range"},
		{"malformed timing", &prayer.MalformedTimingError{Prayer: prayer.Isha, Reason: "missing"}, models.ProblemTypeUpstream, models.DetailMalformedTimings},
		{"fetch failure", fetchErr, models.ProblemTypeUpstream, models.DetailFetchFailed},
		{"circuit open", &prayer.FetchError{Provider: "aladhan", Err: fmt.Errorf("executing request: %w", resilience.ErrCircuitOpen)}, models.ProblemTypeUnavailable, models.DetailProviderDown},
		{"deadline", context.DeadlineExceeded, models.ProblemTypeUpstream, models.DetailFetchFailed},
		{"no schedule", engine.ErrNoSchedule, models.ProblemTypeUnavailable, models.DetailNotLoaded},
		{"unknown", errors.New("boom"), models.ProblemTypeInternal, "an unexpected error occurred"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := models.FromError(tt.err, "gw-1")
			assert.Equal(t, tt.wantType, p.Type)
			assert.Equal(t, tt.wantDetail, p.Detail)
			assert.Equal(t, "gw-1", p.TraceID)
		})
	}
}

func TestFromError_InvalidCoordinatesListsFields(t *testing.T) {
	p := models.FromError(location.ErrInvalidCoordinates, "")

	require.Len(t, p.Errors, 2)
	assert.Equal(t, "lat", p.Errors[0].Field)
	assert.Equal(t, "lon", p.Errors[1].Field)
	assert.Equal(t, "OUT_OF_RANGE", p.Errors[0].Code)
}

func TestTimestamp_JSON(t *testing.T) {
	ts := models.Timestamp(time.Date(2024, 3, 10, 15, 30, 0, 0, time.UTC))

	data, err := json.Marshal(ts)
	require.NoError(t, err)
	assert.Equal(t, `"2024-03-10T15:30:00Z"`, string(data))

	var back models.Timestamp
	require.NoError(t, json.Unmarshal(data, &back))
	assert.True(t, ts.Time().Equal(back.Time()))

	assert.Nil(t, models.TimestampPtr(time.Time{}))
	assert.NotNil(t, models.TimestampPtr(ts.Time()))
}
