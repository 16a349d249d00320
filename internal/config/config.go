// Package config loads process configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"github.com/opentaqwa/opentaqwa/internal/location"
)

// Config holds configuration shared by all binaries.
type Config struct {
	Env  string
	Port string

	// RequireTLS rejects plain HTTP requests on the API.
	RequireTLS bool

	Telemetry TelemetryConfig
	Location  LocationConfig
	Aladhan   AladhanConfig
	Nominatim NominatimConfig
	Engine    EngineConfig
	MQTT      MQTTConfig
	PubSub    PubSubConfig
	Worker    WorkerConfig
}

// TelemetryConfig holds OpenTelemetry settings.
type TelemetryConfig struct {
	Enabled      bool
	OTLPEndpoint string
	SampleRatio  float64
}

// LocationConfig holds the configured device position.
type LocationConfig struct {
	// Coordinate is nil when no position is configured; the resolver then
	// behaves as if permission was denied.
	Coordinate *location.Coordinate

	// TimeZone is the IANA zone prayer instants are computed in.
	TimeZone string

	GeocodeTimeout time.Duration
}

// AladhanConfig holds the prayer timing provider settings.
type AladhanConfig struct {
	BaseURL string
	Method  string
	Timeout time.Duration
}

// NominatimConfig holds the reverse geocoder settings.
type NominatimConfig struct {
	BaseURL   string
	UserAgent string
}

// EngineConfig holds countdown timer periods.
type EngineConfig struct {
	TickInterval   time.Duration
	ResyncInterval time.Duration
}

// MQTTConfig holds the display broadcast settings. Disabled when BrokerURL is empty.
type MQTTConfig struct {
	BrokerURL   string
	ClientID    string
	Username    string
	Password    string
	TopicPrefix string
}

// Enabled reports whether a broker is configured.
func (c MQTTConfig) Enabled() bool {
	return c.BrokerURL != ""
}

// PubSubConfig holds the refresh trigger subscription. Disabled when ProjectID is empty.
type PubSubConfig struct {
	ProjectID      string
	SubscriptionID string
}

// Enabled reports whether a subscription is configured.
func (c PubSubConfig) Enabled() bool {
	return c.ProjectID != "" && c.SubscriptionID != ""
}

// WorkerConfig holds worker-only settings.
type WorkerConfig struct {
	// SweepConfigPath is a YAML file listing sites to publish. Sweeps are disabled when empty.
	SweepConfigPath string
}

// Load reads a .env file when present and then the environment.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("loading .env: %w", err)
	}
	return FromEnv()
}

// FromEnv builds the configuration from environment variables with defaults.
func FromEnv() (Config, error) {
	var errs []error

	duration := func(key, def string) time.Duration {
		d, err := time.ParseDuration(getEnvOrDefault(key, def))
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", key, err))
		}
		return d
	}

	cfg := Config{
		Env:  getEnvOrDefault("APP_ENV", "development"),
		Port: getEnvOrDefault("APP_PORT", "8080"),

		RequireTLS: os.Getenv("REQUIRE_TLS") == "true",
		Telemetry: TelemetryConfig{
			Enabled:      os.Getenv("OTEL_ENABLED") == "true",
			OTLPEndpoint: getEnvOrDefault("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
		},
		Location: LocationConfig{
			TimeZone:       getEnvOrDefault("LOCATION_TZ", "Local"),
			GeocodeTimeout: duration("GEOCODE_TIMEOUT", "10s"),
		},
		Aladhan: AladhanConfig{
			BaseURL: getEnvOrDefault("ALADHAN_BASE_URL", "https://api.aladhan.com/v1"),
			Method:  os.Getenv("ALADHAN_METHOD"),
			Timeout: duration("FETCH_TIMEOUT", "10s"),
		},
		Nominatim: NominatimConfig{
			BaseURL:   getEnvOrDefault("NOMINATIM_BASE_URL", "https://nominatim.openstreetmap.org"),
			UserAgent: getEnvOrDefault("NOMINATIM_USER_AGENT", "opentaqwa/1.0"),
		},
		Engine: EngineConfig{
			TickInterval:   duration("TICK_INTERVAL", "1s"),
			ResyncInterval: duration("RESYNC_INTERVAL", "1m"),
		},
		MQTT: MQTTConfig{
			BrokerURL:   os.Getenv("MQTT_BROKER_URL"),
			ClientID:    getEnvOrDefault("MQTT_CLIENT_ID", "opentaqwa"),
			Username:    os.Getenv("MQTT_USERNAME"),
			Password:    os.Getenv("MQTT_PASSWORD"),
			TopicPrefix: getEnvOrDefault("MQTT_TOPIC_PREFIX", "opentaqwa"),
		},
		PubSub: PubSubConfig{
			ProjectID:      os.Getenv("PUBSUB_PROJECT_ID"),
			SubscriptionID: getEnvOrDefault("PUBSUB_SUBSCRIPTION", "schedule-refresh"),
		},
		Worker: WorkerConfig{
			SweepConfigPath: os.Getenv("WORKER_SWEEP_CONFIG"),
		},
	}

	ratio, err := strconv.ParseFloat(getEnvOrDefault("OTEL_SAMPLE_RATIO", "1"), 64)
	if err != nil {
		errs = append(errs, fmt.Errorf("OTEL_SAMPLE_RATIO: %w", err))
	}
	cfg.Telemetry.SampleRatio = ratio

	coord, err := coordinateFromEnv()
	if err != nil {
		errs = append(errs, err)
	}
	cfg.Location.Coordinate = coord

	if _, err := cfg.Location.Zone(); err != nil {
		errs = append(errs, fmt.Errorf("LOCATION_TZ: %w", err))
	}

	if err := errors.Join(errs...); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Zone resolves the configured time zone.
func (c LocationConfig) Zone() (*time.Location, error) {
	return time.LoadLocation(c.TimeZone)
}

func coordinateFromEnv() (*location.Coordinate, error) {
	latStr, lonStr := os.Getenv("LOCATION_LAT"), os.Getenv("LOCATION_LON")
	if latStr == "" && lonStr == "" {
		return nil, nil
	}

	lat, err := strconv.ParseFloat(latStr, 64)
	if err != nil {
		return nil, fmt.Errorf("LOCATION_LAT: %w", err)
	}
	lon, err := strconv.ParseFloat(lonStr, 64)
	if err != nil {
		return nil, fmt.Errorf("LOCATION_LON: %w", err)
	}

	coord := location.Coordinate{Lat: lat, Lon: lon}
	if err := coord.Validate(); err != nil {
		return nil, err
	}
	return &coord, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
