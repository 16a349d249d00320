// Package aladhan implements prayer.Provider against the AlAdhan timings API.
package aladhan

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/rs/zerolog"

	"github.com/opentaqwa/opentaqwa/internal/prayer"
	"github.com/opentaqwa/opentaqwa/internal/provider/resilience"
)

const (
	// ProviderName identifies this timing provider.
	ProviderName = "aladhan"

	// DefaultBaseURL is the AlAdhan API base URL.
	DefaultBaseURL = "https://api.aladhan.com/v1"
)

// ErrBadResponse is returned when the API answers with a non-OK payload.
var ErrBadResponse = errors.New("aladhan returned an error payload")

// ClientConfig holds configuration for the AlAdhan client.
type ClientConfig struct {
	// BaseURL is the API base URL (optional, defaults to the public API).
	BaseURL string

	// Method is the calculation method id (optional). When empty the API
	// picks the authority nearest to the coordinate.
	Method string

	// HTTPClient is the HTTP client to use (optional).
	// If nil, uses a resilient client with defaults.
	HTTPClient *resilience.Client

	// Logger for client operations.
	Logger zerolog.Logger
}

// Client is an AlAdhan API client.
type Client struct {
	baseURL    string
	method     string
	httpClient *resilience.Client
	logger     zerolog.Logger
}

// NewClient creates a new AlAdhan client.
func NewClient(cfg ClientConfig) *Client {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = resilience.NewClient(resilience.Defaults(ProviderName))
	}

	return &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		method:     cfg.Method,
		httpClient: httpClient,
		logger:     cfg.Logger,
	}
}

// Name returns the provider name.
func (c *Client) Name() string {
	return ProviderName
}

// GetTimingsByCoordinates fetches the five daily timings for date at a
// coordinate. The day's zone is taken from meta.timezone.
func (c *Client) GetTimingsByCoordinates(ctx context.Context, lat, lon float64, date time.Time) (prayer.Day, error) {
	query := url.Values{}
	query.Set("latitude", strconv.FormatFloat(lat, 'f', 6, 64))
	query.Set("longitude", strconv.FormatFloat(lon, 'f', 6, 64))
	if c.method != "" {
		query.Set("method", c.method)
	}

	endpoint := fmt.Sprintf("%s/timings/%s?%s", c.baseURL, date.Format("02-01-2006"), query.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, http.NoBody)
	if err != nil {
		return prayer.Day{}, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return prayer.Day{}, fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return prayer.Day{}, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	var body timingsResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return prayer.Day{}, fmt.Errorf("decoding response: %w", err)
	}
	if body.Code != http.StatusOK {
		return prayer.Day{}, fmt.Errorf("%w: code %d, status %q", ErrBadResponse, body.Code, body.Status)
	}

	t := body.Data.Timings
	raw := prayer.RawTiming{}
	for id, value := range map[prayer.ID]string{
		prayer.Fajr:    t.Fajr,
		prayer.Dhuhr:   t.Dhuhr,
		prayer.Asr:     t.Asr,
		prayer.Maghrib: t.Maghrib,
		prayer.Isha:    t.Isha,
	} {
		if value != "" {
			raw[id] = stripZone(value)
		}
	}

	day := prayer.Day{Timings: raw}
	if name := body.Data.Meta.Timezone; name != "" {
		zone, err := time.LoadLocation(name)
		if err != nil {
			c.logger.Warn().Err(err).Str("timezone", name).Msg("ignoring unknown timezone")
		} else {
			day.Zone = zone
		}
	}

	c.logger.Debug().
		Str("date", body.Data.Date.Gregorian.Date).
		Str("timezone", body.Data.Meta.Timezone).
		Msg("fetched prayer timings")

	return day, nil
}

// stripZone removes a trailing zone annotation such as " (BST)".
func stripZone(value string) string {
	if i := strings.Index(value, " "); i >= 0 {
		value = value[:i]
	}
	return strings.TrimSpace(value)
}

// AlAdhan API response structures.

type timingsResponse struct {
	Code   int    `json:"code"`
	Status string `json:"status"`
	Data   struct {
		Timings struct {
			Fajr    string `json:"Fajr"`
			Sunrise string `json:"Sunrise"`
			Dhuhr   string `json:"Dhuhr"`
			Asr     string `json:"Asr"`
			Maghrib string `json:"Maghrib"`
			Isha    string `json:"Isha"`
		} `json:"timings"`
		Date struct {
			Readable  string `json:"readable"`
			Gregorian struct {
				Date string `json:"date"`
			} `json:"gregorian"`
		} `json:"date"`
		Meta struct {
			Timezone string `json:"timezone"`
		} `json:"meta"`
	} `json:"data"`
}
