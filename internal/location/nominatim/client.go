// Package nominatim implements reverse geocoding against the OpenStreetMap Nominatim API.
package nominatim

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/opentaqwa/opentaqwa/internal/location"
	"github.com/opentaqwa/opentaqwa/internal/provider/resilience"
)

const (
	// ProviderName identifies this geocoding provider.
	ProviderName = "nominatim"

	// DefaultBaseURL is the public Nominatim instance.
	DefaultBaseURL = "https://nominatim.openstreetmap.org"

	// DefaultUserAgent is sent when no user agent is configured; the public
	// instance rejects anonymous clients.
	DefaultUserAgent = "opentaqwa/1.0"
)

// ErrNoAddress is returned when the response carries no usable address.
var ErrNoAddress = errors.New("no address for coordinate")

// ClientConfig holds configuration for the Nominatim client.
type ClientConfig struct {
	// BaseURL is the API base URL (optional, defaults to the public instance).
	BaseURL string

	// Language is sent as accept-language (optional, defaults to "en").
	Language string

	// HTTPClient is the HTTP client to use (optional).
	// If nil, uses a resilient client without retries; the resolver
	// degrades on the first failure instead.
	HTTPClient *resilience.Client

	// Logger for client operations.
	Logger zerolog.Logger
}

// Client is a Nominatim reverse geocoding client.
type Client struct {
	baseURL    string
	language   string
	httpClient *resilience.Client
	logger     zerolog.Logger
}

// NewClient creates a new Nominatim client.
func NewClient(cfg ClientConfig) *Client {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	language := cfg.Language
	if language == "" {
		language = "en"
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		clientCfg := resilience.Defaults(ProviderName)
		clientCfg.Retry = resilience.NoRetry()
		clientCfg.UserAgent = DefaultUserAgent
		httpClient = resilience.NewClient(clientCfg)
	}

	return &Client{
		baseURL:    baseURL,
		language:   language,
		httpClient: httpClient,
		logger:     cfg.Logger,
	}
}

// Name returns the provider name.
func (c *Client) Name() string {
	return ProviderName
}

// ReverseGeocode resolves a coordinate to a city and country.
func (c *Client) ReverseGeocode(ctx context.Context, coord location.Coordinate) (location.PlaceName, error) {
	query := url.Values{}
	query.Set("format", "jsonv2")
	query.Set("lat", strconv.FormatFloat(coord.Lat, 'f', 6, 64))
	query.Set("lon", strconv.FormatFloat(coord.Lon, 'f', 6, 64))
	query.Set("zoom", "10")
	query.Set("accept-language", c.language)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/reverse?"+query.Encode(), http.NoBody)
	if err != nil {
		return location.PlaceName{}, fmt.Errorf("creating request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return location.PlaceName{}, fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return location.PlaceName{}, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	var body reverseResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return location.PlaceName{}, fmt.Errorf("decoding response: %w", err)
	}
	if body.Error != "" {
		return location.PlaceName{}, fmt.Errorf("%w: %s", ErrNoAddress, body.Error)
	}

	place, ok := body.Address.toPlaceName()
	if !ok {
		return location.PlaceName{}, ErrNoAddress
	}

	c.logger.Debug().
		Str("city", place.City).
		Str("country", place.Country).
		Msg("reverse geocoded coordinate")

	return place, nil
}

// toPlaceName picks the most specific settlement name available.
func (a address) toPlaceName() (location.PlaceName, bool) {
	for _, city := range []string{a.City, a.Town, a.Village, a.Municipality, a.County, a.State} {
		if city != "" {
			return location.PlaceName{City: city, Country: a.Country}, true
		}
	}
	if a.Country != "" {
		return location.PlaceName{City: a.Country, Country: a.Country}, true
	}
	return location.PlaceName{}, false
}

// Nominatim API response structures.

type reverseResponse struct {
	DisplayName string  `json:"display_name"`
	Address     address `json:"address"`
	Error       string  `json:"error"`
}

type address struct {
	City         string `json:"city"`
	Town         string `json:"town"`
	Village      string `json:"village"`
	Municipality string `json:"municipality"`
	County       string `json:"county"`
	State        string `json:"state"`
	Country      string `json:"country"`
	CountryCode  string `json:"country_code"`
}
