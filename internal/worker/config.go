// Package worker runs background prayer schedule jobs triggered over Pub/Sub.
package worker

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/opentaqwa/opentaqwa/internal/location"
)

// Site is a display location whose schedule is published by the sweep job.
type Site struct {
	// Name is the human-readable name of the site.
	Name string `yaml:"name"`

	// Coordinate is the position the schedule is computed for.
	Coordinate location.Coordinate `yaml:"coordinate"`
}

// Slug returns a topic-safe identifier for the site.
func (s Site) Slug() string {
	slug := strings.Trim(nonSlug.ReplaceAllString(strings.ToLower(s.Name), "-"), "-")
	if slug == "" {
		return "site"
	}
	return slug
}

var nonSlug = regexp.MustCompile(`[^a-z0-9]+`)

// SweepConfig holds configuration for the schedule sweep job.
type SweepConfig struct {
	// Sites are the locations to publish schedules for.
	Sites []Site `yaml:"sites"`

	// Concurrency is the number of sites fetched at once.
	// Default: 3
	Concurrency int `yaml:"concurrency"`

	// Timeout bounds the work for each site.
	// Default: 30 seconds
	Timeout time.Duration `yaml:"timeout"`
}

// DefaultSweepConfig returns the default sweep configuration with no sites.
func DefaultSweepConfig() SweepConfig {
	return SweepConfig{
		Concurrency: 3,
		Timeout:     30 * time.Second,
	}
}

// LoadSweepConfig reads a YAML sweep configuration. Missing fields keep their defaults.
func LoadSweepConfig(path string) (SweepConfig, error) {
	cfg := DefaultSweepConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("reading sweep config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing sweep config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks site names and coordinates.
func (c SweepConfig) Validate() error {
	var errs []error
	seen := make(map[string]bool, len(c.Sites))
	for i, site := range c.Sites {
		if site.Name == "" {
			errs = append(errs, fmt.Errorf("site %d: missing name", i))
			continue
		}
		if seen[site.Slug()] {
			errs = append(errs, fmt.Errorf("site %q: duplicate name", site.Name))
		}
		seen[site.Slug()] = true
		if err := site.Coordinate.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("site %q: %w", site.Name, err))
		}
	}
	if c.Concurrency < 0 {
		errs = append(errs, errors.New("concurrency must not be negative"))
	}
	return errors.Join(errs...)
}

// TotalSites returns the number of sites to sweep.
func (c SweepConfig) TotalSites() int {
	return len(c.Sites)
}
